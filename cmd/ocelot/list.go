package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ocelot-io/ocelot"
	"github.com/ocelot-io/ocelot/internal/cli"
)

var listZone string

var listCmd = &cobra.Command{
	Use:   "list <subject> <permission> <resource-type>",
	Short: "List resources a subject can access",
	Long: `List every resource of the given type the subject holds the permission
on in the zone, one key per line. Served from a materialized bitmap
when one is fresh, otherwise derived from the store.`,
	Example: `  # Every file alice can view
  ocelot list user:alice viewer file --zone acme`,
	Args: cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		subject, err := ocelot.ParseObject(args[0])
		if err != nil {
			return cli.GeneralError("subject", err)
		}

		log, err := newLogger()
		if err != nil {
			return err
		}
		store, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer store.Close()

		keys, err := newEngine(store, log).ListPermitted(ctx,
			subject, ocelot.Relation(args[1]), ocelot.ObjectType(args[2]), listZone)
		if err != nil {
			return cli.GeneralError("list failed", err)
		}
		for _, key := range keys {
			fmt.Println(key)
		}
		return nil
	},
}

func init() {
	listCmd.Flags().StringVar(&listZone, "zone", "", "zone to list in (default: configured default zone)")
}
