package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/maltedev/search-spider/internal/sources"
)

// NewSourcesCmd lists the registered sources.
func NewSourcesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sources",
		Short: "List the sources a search can run against",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			for _, name := range sources.Names() {
				fmt.Fprintln(cmd.OutOrStdout(), name)
			}
			return nil
		},
	}
}
