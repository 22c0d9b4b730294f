package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/emilycares/moxy-go/internal/catalogpkg"
)

// routesCommand implements `moxyd routes`: a dry-run listing of the
// catalog's method/pattern/resource triples, with no listener started
// (SPEC_FULL.md §5 "--dry-run route listing").
func routesCommand() *cobra.Command {
	var catalogPath string

	cmd := &cobra.Command{
		Use:   "routes",
		Short: "List the catalog's routes without starting the listener",
		RunE: func(cmd *cobra.Command, args []string) error {
			catalog, err := catalogpkg.Load(catalogPath)
			if err != nil {
				return err
			}
			for _, r := range catalog.Snapshot().Routes {
				resource := "-"
				if r.Resource != nil {
					resource = *r.Resource
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%s\n", r.Method, r.Path, resource)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&catalogPath, "catalog", "./moxy.json", "path to the catalog file")
	return cmd
}
