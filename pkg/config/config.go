// Package config loads the static, process-lifetime bootstrap configuration:
// database location, listener ports, logging, and shutdown behavior. This is
// distinct from pkg/dynconfig, which holds the live, store-backed settings an
// administrator can change at runtime.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// DatabaseType selects the embedded SQL backend.
type DatabaseType string

const (
	DatabaseTypeSQLite   DatabaseType = "sqlite"
	DatabaseTypePostgres DatabaseType = "postgres"
)

type DatabaseConfig struct {
	Type DatabaseType `mapstructure:"type" yaml:"type"`

	// SQLitePath is the database file path when Type is sqlite.
	SQLitePath string `mapstructure:"sqlite_path" yaml:"sqlite_path"`

	// Postgres fields are used when Type is postgres.
	Host         string `mapstructure:"host" yaml:"host"`
	Port         int    `mapstructure:"port" yaml:"port"`
	Database     string `mapstructure:"database" yaml:"database"`
	User         string `mapstructure:"user" yaml:"user"`
	Password     string `mapstructure:"password" yaml:"password,omitempty"`
	SSLMode      string `mapstructure:"sslmode" yaml:"sslmode"`
	MaxOpenConns int    `mapstructure:"max_open_conns" yaml:"max_open_conns"`
	MaxIdleConns int    `mapstructure:"max_idle_conns" yaml:"max_idle_conns"`
}

func (c *DatabaseConfig) applyDefaults() {
	if c.Type == "" {
		c.Type = DatabaseTypeSQLite
	}
	if c.Type == DatabaseTypeSQLite && c.SQLitePath == "" {
		c.SQLitePath = "/var/lib/mgmtd/mgmtd.db"
	}
	if c.Type == DatabaseTypePostgres {
		if c.Port == 0 {
			c.Port = 5432
		}
		if c.SSLMode == "" {
			c.SSLMode = "disable"
		}
		if c.MaxOpenConns == 0 {
			c.MaxOpenConns = 25
		}
		if c.MaxIdleConns == 0 {
			c.MaxIdleConns = 5
		}
	}
}

type LoggingConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`   // debug, info, warn, error
	Format string `mapstructure:"format" yaml:"format"` // text, json
}

// Config is the static bootstrap configuration loaded once at process start.
type Config struct {
	// ServiceAddr is the TCP/UDP address for the legacy wire protocol.
	ServiceAddr string `mapstructure:"service_addr" yaml:"service_addr"`

	// AdminAddr is the HTTP address for the administrative RPC surface.
	AdminAddr string `mapstructure:"admin_addr" yaml:"admin_addr"`

	// AuthFile, if set, points at a file containing the shared
	// authentication secret used to derive the 64-bit channel secret.
	AuthFile string `mapstructure:"auth_file" yaml:"auth_file,omitempty"`

	// FilesystemUUID is returned to registering nodes as a fingerprint.
	FilesystemUUID string `mapstructure:"filesystem_uuid" yaml:"filesystem_uuid"`

	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`

	Database DatabaseConfig `mapstructure:"database" yaml:"database"`
	Logging  LoggingConfig  `mapstructure:"logging" yaml:"logging"`
}

func (c *Config) applyDefaults() {
	if c.ServiceAddr == "" {
		c.ServiceAddr = "127.0.0.1:8008"
	}
	if c.AdminAddr == "" {
		c.AdminAddr = "127.0.0.1:8010"
	}
	if c.ShutdownTimeout == 0 {
		c.ShutdownTimeout = 10 * time.Second
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
	c.Database.applyDefaults()
}

func (c *Config) validate() error {
	switch c.Database.Type {
	case DatabaseTypeSQLite:
		if c.Database.SQLitePath == "" {
			return fmt.Errorf("database.sqlite_path is required")
		}
	case DatabaseTypePostgres:
		if c.Database.Host == "" || c.Database.Database == "" || c.Database.User == "" {
			return fmt.Errorf("database.host, database.database and database.user are required for postgres")
		}
	default:
		return fmt.Errorf("unsupported database type %q", c.Database.Type)
	}
	return nil
}

// Load reads configuration from an optional YAML file, environment
// variables prefixed MGMTD_, and built-in defaults, in that precedence
// order (env overrides file, file overrides defaults).
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	v.SetEnvPrefix("MGMTD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// Unmarshal only sees keys viper already knows, so bind each key to
	// its MGMTD_ variable explicitly.
	for _, key := range []string{
		"service_addr", "admin_addr", "auth_file", "filesystem_uuid", "shutdown_timeout",
		"database.type", "database.sqlite_path", "database.host", "database.port",
		"database.database", "database.user", "database.password", "database.sslmode",
		"database.max_open_conns", "database.max_idle_conns",
		"logging.level", "logging.format",
	} {
		_ = v.BindEnv(key)
	}

	var cfg Config
	decodeHook := mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	)
	if err := v.Unmarshal(&cfg, viper.DecodeHook(decodeHook)); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}

	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// MustLoad is Load but panics on error, for use in tests and tools where
// the caller has no sensible recovery path.
func MustLoad(path string) *Config {
	c, err := Load(path)
	if err != nil {
		panic(err)
	}
	return c
}

// SaveConfig writes cfg to path in YAML form, using the struct's yaml
// tags rather than viper (which has no symmetric writer). Used by the
// "init" CLI subcommand to write a defaulted bootstrap config.
func SaveConfig(cfg *Config, path string) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating config directory: %w", err)
		}
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}

	// 0600: the database password, when set, lives in this file.
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	return nil
}
