package parser

import (
	"math"
	"regexp"
	"strconv"
	"strings"
)

var (
	numberPattern = regexp.MustCompile(`\d[\d.,]*`)
	// abbreviatedRe matches counts like "1.2K" or "3M" but not "17 More".
	abbreviatedRe   = regexp.MustCompile(`(\d[\d.,]*)\s?([KkMm])\b`)
	currencyCodeRe  = regexp.MustCompile(`\b([A-Z]{3})\b`)
	currencySymbols = []struct {
		symbol string
		code   string
	}{
		{"US$", "USD"},
		{"$", "USD"},
		{"€", "EUR"},
		{"£", "GBP"},
		{"₹", "INR"},
		{"Rs.", "INR"},
		{"Rs", "INR"},
		{"¥", "JPY"},
	}
	knownCurrencyCodes = map[string]bool{
		"USD": true, "EUR": true, "GBP": true, "INR": true, "JPY": true,
		"CAD": true, "AUD": true, "CHF": true, "MXN": true,
	}
)

// CleanText collapses runs of whitespace and trims the result.
func CleanText(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// ParsePrice reads an amount and, when recognizable, an ISO currency code
// from a price label such as "$1,299.99", "1.299,00 €" or "Rs. 499".
func ParsePrice(s string) (float64, string, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, "", false
	}

	number := numberPattern.FindString(s)
	if number == "" {
		return 0, "", false
	}
	amount, ok := parseDecimal(number)
	if !ok || amount < 0 {
		return 0, "", false
	}
	return amount, detectCurrency(s), true
}

// ParseRating reads a star rating like "4.5 out of 5 stars" or "4,5 von 5".
func ParseRating(s string) (float64, bool) {
	number := numberPattern.FindString(s)
	if number == "" {
		return 0, false
	}
	number = strings.Replace(strings.TrimRight(number, ".,"), ",", ".", 1)
	v, err := strconv.ParseFloat(number, 64)
	if err != nil || v < 0 || v > 5 {
		return 0, false
	}
	return v, true
}

// ParseCount reads an integer count with optional thousands separators,
// e.g. "(1,234)" or "2.345 ratings". A K or M suffix scales the number,
// so "(1.2K)" is 1200.
func ParseCount(s string) (int, bool) {
	if m := abbreviatedRe.FindStringSubmatch(s); m != nil {
		return parseAbbreviated(m[1], m[2])
	}

	number := numberPattern.FindString(s)
	if number == "" {
		return 0, false
	}
	digits := strings.NewReplacer(",", "", ".", "").Replace(number)
	n, err := strconv.Atoi(digits)
	if err != nil {
		return 0, false
	}
	return n, true
}

func parseAbbreviated(number, suffix string) (int, bool) {
	v, ok := parseDecimal(number)
	if !ok {
		return 0, false
	}
	if strings.EqualFold(suffix, "k") {
		v *= 1e3
	} else {
		v *= 1e6
	}
	v = math.Round(v)
	if v < 0 || v >= math.MaxInt {
		return 0, false
	}
	return int(v), true
}

func detectCurrency(s string) string {
	for _, cs := range currencySymbols {
		if strings.Contains(s, cs.symbol) {
			return cs.code
		}
	}
	if m := currencyCodeRe.FindStringSubmatch(s); len(m) > 1 && knownCurrencyCodes[m[1]] {
		return m[1]
	}
	return ""
}

// parseDecimal normalizes US and European number formats.
func parseDecimal(number string) (float64, bool) {
	number = strings.TrimRight(number, ".,")
	if number == "" {
		return 0, false
	}

	lastComma := strings.LastIndex(number, ",")
	lastDot := strings.LastIndex(number, ".")

	switch {
	case lastComma >= 0 && lastDot >= 0:
		if lastComma > lastDot {
			number = strings.ReplaceAll(number, ".", "")
			number = strings.Replace(number, ",", ".", 1)
		} else {
			number = strings.ReplaceAll(number, ",", "")
		}
	case lastComma >= 0:
		if strings.Count(number, ",") == 1 && len(number)-lastComma-1 <= 2 {
			number = strings.Replace(number, ",", ".", 1)
		} else {
			number = strings.ReplaceAll(number, ",", "")
		}
	case lastDot >= 0:
		if strings.Count(number, ".") > 1 || len(number)-lastDot-1 == 3 {
			number = strings.ReplaceAll(number, ".", "")
		}
	}

	v, err := strconv.ParseFloat(number, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}
