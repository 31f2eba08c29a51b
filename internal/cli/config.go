package cli

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/ocelot-io/ocelot"
)

const (
	maxWalkDepth = 25
)

// Config represents the ocelot configuration from ocelot.yaml.
type Config struct {
	// Database configuration
	Database DatabaseConfig `mapstructure:"database"`

	// Engine configuration
	Engine EngineConfig `mapstructure:"engine"`

	// Expansion worker configuration
	Worker WorkerConfig `mapstructure:"worker"`
}

// DatabaseConfig holds database connection settings.
type DatabaseConfig struct {
	URL      string `mapstructure:"url"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Name     string `mapstructure:"name"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	SSLMode  string `mapstructure:"sslmode"`
}

// EngineConfig holds permission engine settings.
type EngineConfig struct {
	DefaultZone          string        `mapstructure:"default_zone"`
	EnforceZoneIsolation bool          `mapstructure:"enforce_zone_isolation"`
	CrossZoneRelations   []string      `mapstructure:"cross_zone_relations"`
	GrantTTL             time.Duration `mapstructure:"grant_ttl"`
	DenyTTL              time.Duration `mapstructure:"deny_ttl"`
	TigerTTL             time.Duration `mapstructure:"tiger_ttl"`
	MaxDepth             int           `mapstructure:"max_depth"`
}

// WorkerConfig holds directory grant expansion settings.
type WorkerConfig struct {
	BatchSize    int           `mapstructure:"batch_size"`
	Concurrency  int           `mapstructure:"concurrency"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
}

// LoadConfig discovers and loads configuration with proper precedence:
// flags > env > config file > defaults.
//
// Returns the loaded config, the path to the config file (empty if none found),
// and any error encountered.
func LoadConfig(explicitConfigPath string) (*Config, string, error) {
	v := viper.New()

	// 1. Set defaults first (lowest precedence)
	setDefaults(v)

	// 2. Set up environment variable binding
	v.SetEnvPrefix("OCELOT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// 3. Find and load config file
	configPath, err := findConfigFile(explicitConfigPath)
	if err != nil {
		return nil, "", err
	}

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, configPath, fmt.Errorf("reading config file: %w", err)
		}
	}

	// 4. Unmarshal into Config struct
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, configPath, fmt.Errorf("unmarshaling config: %w", err)
	}

	return &cfg, configPath, nil
}

func setDefaults(v *viper.Viper) {
	def := ocelot.DefaultConfig()

	// Database defaults
	v.SetDefault("database.url", "")
	v.SetDefault("database.host", "")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.name", "")
	v.SetDefault("database.user", "")
	v.SetDefault("database.password", "")
	v.SetDefault("database.sslmode", "prefer")

	// Engine defaults
	v.SetDefault("engine.default_zone", def.DefaultZone)
	v.SetDefault("engine.enforce_zone_isolation", def.EnforceZoneIsolation)
	crossZone := make([]string, 0, len(def.CrossZoneRelations))
	for _, r := range def.CrossZoneRelations {
		crossZone = append(crossZone, string(r))
	}
	v.SetDefault("engine.cross_zone_relations", crossZone)
	v.SetDefault("engine.grant_ttl", def.GrantTTL)
	v.SetDefault("engine.deny_ttl", def.DenyTTL)
	v.SetDefault("engine.tiger_ttl", def.TigerTTL)
	v.SetDefault("engine.max_depth", def.MaxDepth)

	// Worker defaults
	v.SetDefault("worker.batch_size", def.ExpandBatchSize)
	v.SetDefault("worker.concurrency", def.ExpandConcurrency)
	v.SetDefault("worker.poll_interval", def.ExpandPollInterval)
}

// findConfigFile finds the config file to use.
// If explicitPath is provided, it validates the file exists.
// Otherwise, it walks up from cwd looking for ocelot.yaml or ocelot.yml,
// stopping at a .git directory or after maxWalkDepth levels.
func findConfigFile(explicitPath string) (string, error) {
	if explicitPath != "" {
		if _, err := os.Stat(explicitPath); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicitPath)
		}
		return explicitPath, nil
	}

	// Auto-discovery: walk up to .git or maxWalkDepth
	cwd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("getting cwd: %w", err)
	}

	dir := cwd
	for i := 0; i < maxWalkDepth; i++ {
		// Try ocelot.yaml then ocelot.yml
		for _, name := range []string{"ocelot.yaml", "ocelot.yml"} {
			path := filepath.Join(dir, name)
			if _, err := os.Stat(path); err == nil {
				return path, nil
			}
		}

		// Check for repo boundary (.git file or directory)
		gitPath := filepath.Join(dir, ".git")
		if _, err := os.Stat(gitPath); err == nil {
			break // Stop at repo root
		}

		// Move up
		parent := filepath.Dir(dir)
		if parent == dir {
			break // Reached filesystem root
		}
		dir = parent
	}

	return "", nil // No config found, use defaults
}

// DSN returns the database connection string.
// If database.url is set, it's returned directly.
// Otherwise, builds a DSN from discrete fields.
func (c *Config) DSN() (string, error) {
	db := c.Database

	if db.URL != "" {
		return db.URL, nil
	}

	// Build DSN from discrete fields
	if db.Host == "" {
		return "", fmt.Errorf("database.host is required when database.url is not set")
	}
	if db.Name == "" {
		return "", fmt.Errorf("database.name is required when database.url is not set")
	}
	if db.User == "" {
		return "", fmt.Errorf("database.user is required when database.url is not set")
	}

	// Build postgres:// URL
	u := &url.URL{
		Scheme: "postgres",
		Host:   fmt.Sprintf("%s:%d", db.Host, db.Port),
		Path:   "/" + db.Name,
	}

	if db.Password != "" {
		u.User = url.UserPassword(db.User, db.Password)
	} else {
		u.User = url.User(db.User)
	}

	if db.SSLMode != "" {
		q := u.Query()
		q.Set("sslmode", db.SSLMode)
		u.RawQuery = q.Encode()
	}

	return u.String(), nil
}

// EngineOptions translates the file configuration into the engine's
// runtime configuration.
func (c *Config) EngineOptions() ocelot.Config {
	crossZone := make([]ocelot.Relation, 0, len(c.Engine.CrossZoneRelations))
	for _, r := range c.Engine.CrossZoneRelations {
		crossZone = append(crossZone, ocelot.Relation(r))
	}
	return ocelot.Config{
		DefaultZone:          c.Engine.DefaultZone,
		EnforceZoneIsolation: c.Engine.EnforceZoneIsolation,
		CrossZoneRelations:   crossZone,
		GrantTTL:             c.Engine.GrantTTL,
		DenyTTL:              c.Engine.DenyTTL,
		TigerTTL:             c.Engine.TigerTTL,
		MaxDepth:             c.Engine.MaxDepth,
		ExpandBatchSize:      c.Worker.BatchSize,
		ExpandConcurrency:    c.Worker.Concurrency,
		ExpandPollInterval:   c.Worker.PollInterval,
	}
}
