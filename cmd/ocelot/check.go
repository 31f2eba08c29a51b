package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ocelot-io/ocelot"
	"github.com/ocelot-io/ocelot/internal/cli"
)

var (
	checkZone  string
	checkToken string
)

var checkCmd = &cobra.Command{
	Use:   "check <subject> <permission> <object>",
	Short: "Decide whether a subject holds a permission on an object",
	Long: `Decide whether a subject holds a permission on an object.

Subjects and objects use the type:id form, e.g. user:alice or
file:/docs/report.pdf. Exits 0 when allowed, 3 when denied.`,
	Example: `  # Plain check
  ocelot check user:alice viewer file:/docs/report.pdf --zone acme

  # Snapshot-pinned check
  ocelot check user:alice viewer file:/docs/report.pdf --zone acme --at v42`,
	Args: cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		subject, err := ocelot.ParseObject(args[0])
		if err != nil {
			return cli.GeneralError("subject", err)
		}
		object, err := ocelot.ParseObject(args[2])
		if err != nil {
			return cli.GeneralError("object", err)
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

		engine := newEngine(store, log)
		allowed, err := engine.Check(ctx, ocelot.CheckRequest{
			Subject:          subject,
			Permission:       ocelot.Relation(args[1]),
			Object:           object,
			ZoneID:           checkZone,
			ConsistencyToken: checkToken,
		})
		if err != nil {
			return cli.GeneralError("check failed", err)
		}

		if allowed {
			if !quiet {
				fmt.Println("allowed")
			}
			return nil
		}
		if !quiet {
			fmt.Println("denied")
		}
		store.Close()
		os.Exit(cli.ExitDenied)
		return nil
	},
}

func init() {
	f := checkCmd.Flags()
	f.StringVar(&checkZone, "zone", "", "zone to check in (default: configured default zone)")
	f.StringVar(&checkToken, "at", "", "consistency token pinning the check to a revision (e.g. v42)")
}
