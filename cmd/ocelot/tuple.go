package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/ocelot-io/ocelot"
	"github.com/ocelot-io/ocelot/internal/cli"
)

var (
	writeZone        string
	writeSubjectZone string
	writeObjectZone  string
	writeSubjectRel  string
	writeExpiresIn   time.Duration

	revokeZone       string
	revokeSubjectRel string
)

var writeCmd = &cobra.Command{
	Use:   "write <subject> <relation> <object>",
	Short: "Write a relation tuple",
	Long: `Write a relation tuple granting the subject the relation on the object.

With --subject-relation the tuple is a userset reference: it grants the
relation to everyone holding that relation on the subject, e.g. every
member of a group.`,
	Example: `  # Grant alice viewer on a file
  ocelot write user:alice viewer file:/docs/report.pdf --zone acme

  # Grant every member of a group editor on a folder
  ocelot write group:eng editor folder:/src --zone acme --subject-relation member

  # Temporary access
  ocelot write user:bob viewer file:/docs/report.pdf --zone acme --expires-in 24h`,
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

		req := ocelot.WriteTupleRequest{
			Subject:         subject,
			SubjectRelation: ocelot.Relation(writeSubjectRel),
			Relation:        ocelot.Relation(args[1]),
			Object:          object,
			ZoneID:          writeZone,
			SubjectZoneID:   writeSubjectZone,
			ObjectZoneID:    writeObjectZone,
		}
		if writeExpiresIn > 0 {
			t := time.Now().Add(writeExpiresIn)
			req.ExpiresAt = &t
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

		zone, err := newEngine(store, log).WriteTuple(ctx, req)
		if err != nil {
			return cli.GeneralError("write failed", err)
		}
		if !quiet {
			fmt.Printf("Wrote %s %s %s in zone %s\n", subject, args[1], object, zone)
		}
		return nil
	},
}

var revokeCmd = &cobra.Command{
	Use:   "revoke <subject> <relation> <object>",
	Short: "Revoke a relation tuple",
	Example: `  # Revoke alice's viewer on a file
  ocelot revoke user:alice viewer file:/docs/report.pdf --zone acme`,
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

		err = newEngine(store, log).RevokeTuple(ctx, ocelot.TupleKey{
			Subject:         subject,
			SubjectRelation: ocelot.Relation(revokeSubjectRel),
			Relation:        ocelot.Relation(args[1]),
			Object:          object,
			ZoneID:          revokeZone,
		})
		if err != nil {
			return cli.GeneralError("revoke failed", err)
		}
		if !quiet {
			fmt.Printf("Revoked %s %s %s\n", subject, args[1], object)
		}
		return nil
	},
}

func init() {
	wf := writeCmd.Flags()
	wf.StringVar(&writeZone, "zone", "", "zone to write in (default: configured default zone)")
	wf.StringVar(&writeSubjectZone, "subject-zone", "", "subject's zone, for cross-zone shares")
	wf.StringVar(&writeObjectZone, "object-zone", "", "object's zone, for cross-zone shares")
	wf.StringVar(&writeSubjectRel, "subject-relation", "", "make this a userset tuple over the subject's relation")
	wf.DurationVar(&writeExpiresIn, "expires-in", 0, "expire the tuple after this duration")

	rf := revokeCmd.Flags()
	rf.StringVar(&revokeZone, "zone", "", "zone the tuple lives in")
	rf.StringVar(&revokeSubjectRel, "subject-relation", "", "userset relation of the tuple being revoked")
}
