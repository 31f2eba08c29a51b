package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ocelot-io/ocelot/internal/cli"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create ocelot's tables in the database",
	Long:  `Create ocelot's tuple, sequence, resource, grant, and cache tables. Idempotent.`,
	Example: `  # Apply schema to database
  ocelot migrate --db postgres://localhost/mydb`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		store, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer store.Close()

		if err := store.Migrate(ctx); err != nil {
			return cli.GeneralError("migration failed", err)
		}

		if !quiet {
			fmt.Println("Schema applied successfully.")
		}
		return nil
	},
}
