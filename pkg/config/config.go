// Package config loads and validates the triagoor configuration from a
// YAML file with TRIAGOOR_* environment variable overrides.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	// envPrefix is the prefix for environment variable overrides,
	// e.g. TRIAGOOR_GLOBAL_LOG_LEVEL.
	envPrefix = "TRIAGOOR"

	// DefaultLogLevel is the default logging level.
	DefaultLogLevel = "info"

	// DefaultPatternsPath is the default pattern store document path.
	DefaultPatternsPath = "./triage/failure-patterns.json"

	// DefaultReportDir is the default directory for report artifacts.
	DefaultReportDir = "./triage"

	// DefaultPublishConcurrency bounds parallel tracker publishes.
	DefaultPublishConcurrency = 4

	// DefaultSettleBudgetPerRecord is the per-record share of the
	// bounded wait for outstanding publish operations at exit.
	DefaultSettleBudgetPerRecord = 10 * time.Second

	// DefaultTrackerTimeout is the per-request tracker HTTP timeout.
	DefaultTrackerTimeout = 15 * time.Second

	// DefaultTrackerRequestsPerMinute rate-limits tracker calls.
	DefaultTrackerRequestsPerMinute = 60

	// DefaultAPIListen is the default API server listen address.
	DefaultAPIListen = ":8088"
)

// Config is the root configuration for triagoor.
type Config struct {
	Global GlobalConfig `yaml:"global" mapstructure:"global"`
	Engine EngineConfig `yaml:"engine" mapstructure:"engine"`
	API    APIConfig    `yaml:"api,omitempty" mapstructure:"api"`
}

// GlobalConfig contains global application settings.
type GlobalConfig struct {
	LogLevel string `yaml:"log_level" mapstructure:"log_level"`
}

// EngineConfig contains the failure intelligence engine settings.
type EngineConfig struct {
	Metadata  MetadataConfig     `yaml:"metadata,omitempty" mapstructure:"metadata"`
	Snapshots SnapshotsConfig    `yaml:"snapshots,omitempty" mapstructure:"snapshots"`
	Patterns  PatternStoreConfig `yaml:"patterns" mapstructure:"patterns"`
	Publish   PublishConfig      `yaml:"publish" mapstructure:"publish"`
	Tracker   TrackerConfig      `yaml:"tracker,omitempty" mapstructure:"tracker"`
	Report    ReportConfig       `yaml:"report" mapstructure:"report"`
	Upload    UploadConfig       `yaml:"upload,omitempty" mapstructure:"upload"`
}

// MetadataConfig identifies the run in tracker comments and artifacts.
type MetadataConfig struct {
	Branch   string            `yaml:"branch,omitempty" mapstructure:"branch"`
	Revision string            `yaml:"revision,omitempty" mapstructure:"revision"`
	Labels   map[string]string `yaml:"labels,omitempty" mapstructure:"labels"`
}

// SnapshotsConfig points at the two read-only advisory documents.
type SnapshotsConfig struct {
	StabilityPath  string `yaml:"stability_path,omitempty" mapstructure:"stability_path"`
	VisualDiffPath string `yaml:"visual_diff_path,omitempty" mapstructure:"visual_diff_path"`
}

// PatternStoreConfig selects and configures the pattern store backend.
type PatternStoreConfig struct {
	// Backend is "file" (shared JSON document, last-writer-wins) or
	// "db" (sqlite/postgres, serialized record updates).
	Backend  string         `yaml:"backend" mapstructure:"backend"`
	Path     string         `yaml:"path,omitempty" mapstructure:"path"`
	Database DatabaseConfig `yaml:"database,omitempty" mapstructure:"database"`
}

// DatabaseConfig contains database connection settings.
type DatabaseConfig struct {
	Driver   string                 `yaml:"driver" mapstructure:"driver"`
	SQLite   SQLiteDatabaseConfig   `yaml:"sqlite,omitempty" mapstructure:"sqlite"`
	Postgres PostgresDatabaseConfig `yaml:"postgres,omitempty" mapstructure:"postgres"`
}

// SQLiteDatabaseConfig contains SQLite settings.
type SQLiteDatabaseConfig struct {
	Path string `yaml:"path" mapstructure:"path"`
}

// PostgresDatabaseConfig contains PostgreSQL settings.
type PostgresDatabaseConfig struct {
	Host     string `yaml:"host" mapstructure:"host"`
	Port     int    `yaml:"port" mapstructure:"port"`
	User     string `yaml:"user" mapstructure:"user"`
	Password string `yaml:"password,omitempty" mapstructure:"password"`
	Database string `yaml:"database" mapstructure:"database"`
	SSLMode  string `yaml:"ssl_mode,omitempty" mapstructure:"ssl_mode"`
}

// PublishConfig controls tracker publication behavior.
type PublishConfig struct {
	Enabled     bool `yaml:"enabled" mapstructure:"enabled"`
	Concurrency int  `yaml:"concurrency,omitempty" mapstructure:"concurrency"`

	// SettleBudgetPerRecord bounds how long the process waits for
	// outstanding publish operations at exit: the total budget is this
	// value multiplied by the number of publish candidates.
	SettleBudgetPerRecord time.Duration `yaml:"settle_budget_per_record,omitempty" mapstructure:"settle_budget_per_record"`
}

// TrackerConfig contains external issue tracker settings.
type TrackerConfig struct {
	BaseURL           string        `yaml:"base_url" mapstructure:"base_url"`
	ProjectKey        string        `yaml:"project_key" mapstructure:"project_key"`
	Component         string        `yaml:"component,omitempty" mapstructure:"component"`
	Username          string        `yaml:"username,omitempty" mapstructure:"username"`
	APIToken          string        `yaml:"api_token,omitempty" mapstructure:"api_token"`
	RequestTimeout    time.Duration `yaml:"request_timeout,omitempty" mapstructure:"request_timeout"`
	RequestsPerMinute int           `yaml:"requests_per_minute,omitempty" mapstructure:"requests_per_minute"`
}

// ReportConfig contains local report artifact settings.
type ReportConfig struct {
	Dir string `yaml:"dir" mapstructure:"dir"`
}

// UploadConfig contains remote artifact upload settings.
type UploadConfig struct {
	S3 *S3UploadConfig `yaml:"s3,omitempty" mapstructure:"s3"`
}

// S3UploadConfig contains S3-compatible storage settings for uploading
// report artifacts.
type S3UploadConfig struct {
	Enabled         bool   `yaml:"enabled" mapstructure:"enabled"`
	EndpointURL     string `yaml:"endpoint_url,omitempty" mapstructure:"endpoint_url"`
	Region          string `yaml:"region,omitempty" mapstructure:"region"`
	Bucket          string `yaml:"bucket" mapstructure:"bucket"`
	Prefix          string `yaml:"prefix,omitempty" mapstructure:"prefix"`
	AccessKeyID     string `yaml:"access_key_id,omitempty" mapstructure:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key,omitempty" mapstructure:"secret_access_key"`
	ForcePathStyle  bool   `yaml:"force_path_style" mapstructure:"force_path_style"`
}

// APIConfig contains the read-only HTTP API settings.
type APIConfig struct {
	Listen      string          `yaml:"listen" mapstructure:"listen"`
	CORSOrigins []string        `yaml:"cors_origins,omitempty" mapstructure:"cors_origins"`
	RateLimit   RateLimitConfig `yaml:"rate_limit,omitempty" mapstructure:"rate_limit"`
}

// RateLimitConfig contains per-IP rate limiting settings.
type RateLimitConfig struct {
	Enabled           bool `yaml:"enabled" mapstructure:"enabled"`
	RequestsPerMinute int  `yaml:"requests_per_minute,omitempty" mapstructure:"requests_per_minute"`
}

// Load reads a configuration file and applies TRIAGOOR_* environment
// variable overrides.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg.applyDefaults()

	return &cfg, nil
}

// setDefaults registers defaults with viper so that environment
// overrides resolve even for keys absent from the config file.
func setDefaults(v *viper.Viper) {
	v.SetDefault("global.log_level", DefaultLogLevel)
	v.SetDefault("engine.patterns.backend", "file")
	v.SetDefault("engine.patterns.path", DefaultPatternsPath)
	v.SetDefault("engine.publish.enabled", false)
	v.SetDefault("engine.publish.concurrency", DefaultPublishConcurrency)
	v.SetDefault("engine.publish.settle_budget_per_record", DefaultSettleBudgetPerRecord)
	v.SetDefault("engine.report.dir", DefaultReportDir)
	v.SetDefault("engine.tracker.request_timeout", DefaultTrackerTimeout)
	v.SetDefault("engine.tracker.requests_per_minute", DefaultTrackerRequestsPerMinute)
	v.SetDefault("api.listen", DefaultAPIListen)
}

// applyDefaults sets default values for options that viper defaults
// cannot express (nested optional blocks and zero-value corrections).
func (c *Config) applyDefaults() {
	if c.Global.LogLevel == "" {
		c.Global.LogLevel = DefaultLogLevel
	}

	if c.Engine.Patterns.Backend == "" {
		c.Engine.Patterns.Backend = "file"
	}

	if c.Engine.Patterns.Backend == "file" && c.Engine.Patterns.Path == "" {
		c.Engine.Patterns.Path = DefaultPatternsPath
	}

	if c.Engine.Patterns.Backend == "db" && c.Engine.Patterns.Database.Driver == "" {
		c.Engine.Patterns.Database.Driver = "sqlite"
	}

	if c.Engine.Publish.Concurrency <= 0 {
		c.Engine.Publish.Concurrency = DefaultPublishConcurrency
	}

	if c.Engine.Publish.SettleBudgetPerRecord <= 0 {
		c.Engine.Publish.SettleBudgetPerRecord = DefaultSettleBudgetPerRecord
	}

	if c.Engine.Tracker.RequestTimeout <= 0 {
		c.Engine.Tracker.RequestTimeout = DefaultTrackerTimeout
	}

	if c.Engine.Tracker.RequestsPerMinute <= 0 {
		c.Engine.Tracker.RequestsPerMinute = DefaultTrackerRequestsPerMinute
	}

	if c.Engine.Report.Dir == "" {
		c.Engine.Report.Dir = DefaultReportDir
	}

	if c.API.Listen == "" {
		c.API.Listen = DefaultAPIListen
	}
}

// validBackends is the set of supported pattern store backends.
var validBackends = map[string]struct{}{
	"file": {},
	"db":   {},
}

// validDrivers is the set of supported database drivers.
var validDrivers = map[string]struct{}{
	"sqlite":   {},
	"postgres": {},
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if _, ok := validBackends[c.Engine.Patterns.Backend]; !ok {
		return fmt.Errorf("unknown pattern store backend %q", c.Engine.Patterns.Backend)
	}

	if c.Engine.Patterns.Backend == "db" {
		db := c.Engine.Patterns.Database
		if _, ok := validDrivers[db.Driver]; !ok {
			return fmt.Errorf("unknown database driver %q", db.Driver)
		}

		if db.Driver == "sqlite" && db.SQLite.Path == "" {
			return fmt.Errorf("sqlite path is required for the sqlite driver")
		}

		if db.Driver == "postgres" && db.Postgres.Host == "" {
			return fmt.Errorf("postgres host is required for the postgres driver")
		}
	}

	if c.Engine.Publish.Enabled {
		if c.Engine.Tracker.BaseURL == "" {
			return fmt.Errorf("tracker base_url is required when publishing is enabled")
		}

		if c.Engine.Tracker.ProjectKey == "" {
			return fmt.Errorf("tracker project_key is required when publishing is enabled")
		}
	}

	if s3 := c.Engine.Upload.S3; s3 != nil && s3.Enabled && s3.Bucket == "" {
		return fmt.Errorf("s3 bucket is required when upload is enabled")
	}

	return nil
}
