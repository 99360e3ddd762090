// Command spider runs product searches from the command line and writes
// the records as CSV or JSON Lines.
package main

func main() {
	Execute()
}
