package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// envPrefix namespaces every environment override.
const envPrefix = "CARDMARKET_"

// Config represents the application configuration.
type Config struct {
	Database       DatabaseConfig       `yaml:"database"`
	Server         ServerConfig         `yaml:"server"`
	Catalog        CatalogConfig        `yaml:"catalog"`
	Importer       ImporterConfig       `yaml:"importer"`
	Discord        DiscordConfig        `yaml:"discord"`
	Telemetry      TelemetryConfig      `yaml:"telemetry"`
	LeaderElection LeaderElectionConfig `yaml:"leader_election"`
}

// DatabaseConfig holds database connection settings.
type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	DBName   string `yaml:"dbname"`
	SSLMode  string `yaml:"sslmode"`
	Driver   string `yaml:"driver"` // "sqlx", "ent" or "memory"
	// Migrate applies the embedded schema on startup.
	Migrate bool `yaml:"migrate"`
}

// DSN returns the Postgres connection string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.DBName, d.SSLMode,
	)
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// CatalogConfig bounds catalog queries.
type CatalogConfig struct {
	DefaultLimit int `yaml:"default_limit"`
	MaxLimit     int `yaml:"max_limit"`
}

// ImporterConfig controls the bulk card import job.
type ImporterConfig struct {
	Enabled   bool          `yaml:"enabled"`
	SourceURL string        `yaml:"source_url"`
	Interval  time.Duration `yaml:"interval"` // 0 runs once
	MaxCards  int           `yaml:"max_cards"` // 0 imports everything
	// ImageTemplate, when set, is formatted with the new card id to build the
	// stored image reference (e.g. "/assets/%d.jpg").
	ImageTemplate string        `yaml:"image_template"`
	Timeout       time.Duration `yaml:"timeout"`
}

// DiscordConfig holds Discord bot and webhook settings.
type DiscordConfig struct {
	Token      string `yaml:"token"`
	GuildID    string `yaml:"guild_id"`
	WebhookURL string `yaml:"webhook_url"`
}

// TelemetryConfig holds OpenTelemetry settings.
type TelemetryConfig struct {
	ServiceName    string `yaml:"service_name"`
	ServiceVersion string `yaml:"service_version"`
	OTLPEndpoint   string `yaml:"otlp_endpoint"`
	Insecure       bool   `yaml:"insecure"`
}

// LeaderElectionConfig holds Kubernetes leader election settings.
type LeaderElectionConfig struct {
	Enabled        bool          `yaml:"enabled"`
	LeaseName      string        `yaml:"lease_name"`
	LeaseNamespace string        `yaml:"lease_namespace"`
	LeaseDuration  time.Duration `yaml:"lease_duration"`
	RenewDeadline  time.Duration `yaml:"renew_deadline"`
	RetryPeriod    time.Duration `yaml:"retry_period"`
}

// Defaults returns the configuration used before the file is applied.
func Defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 15 * time.Second,
		},
		Database: DatabaseConfig{
			Host:    "localhost",
			Port:    5432,
			SSLMode: "disable",
			Driver:  "sqlx",
		},
		Catalog: CatalogConfig{
			DefaultLimit: 10,
			MaxLimit:     100,
		},
		Importer: ImporterConfig{
			SourceURL: "https://db.ygoprodeck.com/api/v7/cardinfo.php",
			Timeout:   2 * time.Minute,
		},
		Telemetry: TelemetryConfig{
			ServiceName:    "cardmarket",
			ServiceVersion: "0.1.0",
		},
		LeaderElection: LeaderElectionConfig{
			Enabled:        false,
			LeaseName:      "cardmarket-leader",
			LeaseNamespace: "default",
			LeaseDuration:  15 * time.Second,
			RenewDeadline:  10 * time.Second,
			RetryPeriod:    2 * time.Second,
		},
	}
}

// Load reads a YAML configuration file from the given path, then applies
// CARDMARKET_* overrides from the environment and an optional .env file next
// to the working directory.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := Defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	// A missing .env is the normal case outside local development.
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("loading .env: %w", err)
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, fmt.Errorf("applying environment: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// applyEnv overrides secrets and connection settings from the environment.
func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := map[string]*string{
		"DATABASE_HOST":       &c.Database.Host,
		"DATABASE_USER":       &c.Database.User,
		"DATABASE_PASSWORD":   &c.Database.Password,
		"DATABASE_NAME":       &c.Database.DBName,
		"DATABASE_DRIVER":     &c.Database.Driver,
		"DISCORD_TOKEN":       &c.Discord.Token,
		"DISCORD_WEBHOOK_URL": &c.Discord.WebhookURL,
		"OTLP_ENDPOINT":       &c.Telemetry.OTLPEndpoint,
	}
	for key, dst := range str {
		if v, ok := lookup(envPrefix + key); ok {
			*dst = v
		}
	}

	ints := map[string]*int{
		"DATABASE_PORT": &c.Database.Port,
		"SERVER_PORT":   &c.Server.Port,
	}
	for key, dst := range ints {
		v, ok := lookup(envPrefix + key)
		if !ok {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s%s: %w", envPrefix, key, err)
		}
		*dst = n
	}
	return nil
}

// validate checks configuration invariants.
func (c *Config) validate() error {
	switch c.Database.Driver {
	case "sqlx", "ent", "memory":
		// valid
	default:
		return fmt.Errorf("unsupported database driver %q: must be \"sqlx\", \"ent\" or \"memory\"", c.Database.Driver)
	}
	if c.Catalog.DefaultLimit < 1 {
		return fmt.Errorf("catalog.default_limit must be positive, got %d", c.Catalog.DefaultLimit)
	}
	if c.Catalog.MaxLimit < c.Catalog.DefaultLimit {
		return fmt.Errorf("catalog.max_limit (%d) must be >= default_limit (%d)", c.Catalog.MaxLimit, c.Catalog.DefaultLimit)
	}
	if c.Importer.Enabled && c.Importer.SourceURL == "" {
		return errors.New("importer.source_url is required when the importer is enabled")
	}
	if c.Importer.Interval < 0 {
		return fmt.Errorf("importer.interval must not be negative, got %s", c.Importer.Interval)
	}
	return nil
}
