package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create the catalog schema and blob bucket",
	Long: `Creates the catalog schema (Postgres, SQLite) or collection (Qdrant) and
the blob bucket. Safe to run repeatedly. Fails if an existing catalog was
created with a different embedding dimension.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.Catalog.Health(cmd.Context()); err != nil {
			return fmt.Errorf("catalog health check failed: %w", err)
		}
		if err := a.Provision(cmd.Context()); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Catalog %s ready (dimension %d)\n",
			a.Config.Catalog.Backend, a.Catalog.Dimension())
		return nil
	},
}
