package main

import (
	"context"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ocelot-io/ocelot"
	"github.com/ocelot-io/ocelot/internal/cli"
	"github.com/ocelot-io/ocelot/pkg/pgstore"
)

var (
	// Global state set during PersistentPreRunE
	cfg        *cli.Config
	configPath string

	// Persistent flags
	cfgFile string
	dbURL   string
	verbose int
	quiet   bool
)

var rootCmd = &cobra.Command{
	Use:   "ocelot",
	Short: "Zone-isolated permission engine",
	Long: `ocelot - Zone-isolated permission engine

Ocelot answers "can this subject do this to this object" over relation
tuples stored in PostgreSQL, with per-zone revision tracking, directory
grants, and materialized bitmap acceleration.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Skip config loading for help/completion/version commands
		if cmd.Name() == "help" || cmd.Name() == "completion" || cmd.Name() == "version" {
			return nil
		}

		var err error
		cfg, configPath, err = cli.LoadConfig(cfgFile)
		if err != nil {
			return cli.ConfigError("loading configuration", err)
		}

		return nil
	},
	SilenceUsage:  true, // Don't show usage on errors
	SilenceErrors: true, // We handle errors ourselves
}

// Command group IDs
const (
	groupAccess  = "access"
	groupGrants  = "grants"
	groupAdmin   = "admin"
	groupUtility = "utility"
)

func init() {
	// Persistent flags (available to all commands)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: auto-discover ocelot.yaml)")
	rootCmd.PersistentFlags().StringVar(&dbURL, "db", "", "database URL")
	rootCmd.PersistentFlags().CountVarP(&verbose, "verbose", "v", "increase verbosity (can be repeated)")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "suppress non-error output")

	// Define command groups
	rootCmd.AddGroup(
		&cobra.Group{ID: groupAccess, Title: "Access:"},
		&cobra.Group{ID: groupGrants, Title: "Directory Grants:"},
		&cobra.Group{ID: groupAdmin, Title: "Admin:"},
		&cobra.Group{ID: groupUtility, Title: "Utility:"},
	)

	// Access commands
	checkCmd.GroupID = groupAccess
	writeCmd.GroupID = groupAccess
	revokeCmd.GroupID = groupAccess
	listCmd.GroupID = groupAccess
	rootCmd.AddCommand(checkCmd)
	rootCmd.AddCommand(writeCmd)
	rootCmd.AddCommand(revokeCmd)
	rootCmd.AddCommand(listCmd)

	// Grant commands
	grantCmd.GroupID = groupGrants
	rootCmd.AddCommand(grantCmd)

	// Admin commands
	migrateCmd.GroupID = groupAdmin
	workerCmd.GroupID = groupAdmin
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(workerCmd)

	// Utility commands
	versionCmd.GroupID = groupUtility
	rootCmd.AddCommand(versionCmd)
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		cli.ExitWithError(err)
	}
}

// resolveDSN gets the database DSN from flag or config.
func resolveDSN() (string, error) {
	if dbURL != "" {
		return dbURL, nil
	}

	dsn, err := cfg.DSN()
	if err != nil {
		return "", cli.ConfigError("database configuration", err)
	}
	if dsn == "" {
		return "", cli.ConfigError("database URL is required (use --db or set in config)", nil)
	}
	return dsn, nil
}

// openStore connects to the configured database.
func openStore(ctx context.Context) (*pgstore.Store, error) {
	dsn, err := resolveDSN()
	if err != nil {
		return nil, err
	}
	store, err := pgstore.New(ctx, dsn)
	if err != nil {
		return nil, cli.DBConnectError("connecting to database", err)
	}
	return store, nil
}

// newLogger builds the CLI logger: silent by default, development
// output with -v.
func newLogger() (*zap.Logger, error) {
	if verbose == 0 {
		return zap.NewNop(), nil
	}
	zcfg := zap.NewDevelopmentConfig()
	if verbose == 1 {
		zcfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	} else {
		zcfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	}
	return zcfg.Build()
}

// newEngine wires an engine over the store with both cache tiers on
// the database-backed cache table.
func newEngine(store *pgstore.Store, log *zap.Logger) *ocelot.Engine {
	kv := store.Cache()
	return ocelot.NewEngine(store,
		ocelot.WithConfig(cfg.EngineOptions()),
		ocelot.WithCheckCache(kv),
		ocelot.WithTigerCache(kv),
		ocelot.WithLogger(log),
	)
}
