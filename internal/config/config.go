// Package config loads offsync settings from an optional config file, the
// environment and a .env file.
//
// Precedence, highest first: OFFSYNC_* environment variables (a .env file in
// the working directory is loaded into the environment without overriding
// it), the config file, then defaults. Nested keys map to env names with "."
// replaced by "_", e.g. sync.max_retries is OFFSYNC_SYNC_MAX_RETRIES.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/mschirtzinger/offsync/internal/storage"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "OFFSYNC"

// Config is the full offsync configuration.
type Config struct {
	DataDir   string          `mapstructure:"data_dir" yaml:"data_dir"`
	UserID    string          `mapstructure:"user_id" yaml:"user_id"`
	Storage   StorageConfig   `mapstructure:"storage" yaml:"storage"`
	Remote    RemoteConfig    `mapstructure:"remote" yaml:"remote"`
	Network   NetworkConfig   `mapstructure:"network" yaml:"network"`
	Sync      SyncConfig      `mapstructure:"sync" yaml:"sync"`
	Daemon    DaemonConfig    `mapstructure:"daemon" yaml:"daemon"`
	Dashboard DashboardConfig `mapstructure:"dashboard" yaml:"dashboard"`
	Log       LogConfig       `mapstructure:"log" yaml:"log"`

	// File is the config file that was read, empty when none was found.
	File string `mapstructure:"-" yaml:"-"`
}

type StorageConfig struct {
	Backend string `mapstructure:"backend" yaml:"backend"`
}

// RemoteConfig selects the remote record store. An empty DSN uses a local
// sqlite file in the data directory.
type RemoteConfig struct {
	DSN     string        `mapstructure:"dsn" yaml:"dsn"`
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

// NetworkConfig configures the connectivity probe. An empty ProbeURL skips
// the HTTP probe and treats the network as reachable.
type NetworkConfig struct {
	ProbeURL string        `mapstructure:"probe_url" yaml:"probe_url"`
	Timeout  time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

type SyncConfig struct {
	MaxRetries  int           `mapstructure:"max_retries" yaml:"max_retries"`
	RetryBase   time.Duration `mapstructure:"retry_base" yaml:"retry_base"`
	RetryJitter float64       `mapstructure:"retry_jitter" yaml:"retry_jitter"`
}

type DaemonConfig struct {
	ConnectivityInterval time.Duration `mapstructure:"connectivity_interval" yaml:"connectivity_interval"`
	SyncInterval         time.Duration `mapstructure:"sync_interval" yaml:"sync_interval"`
	Watch                bool          `mapstructure:"watch" yaml:"watch"`
	Debounce             time.Duration `mapstructure:"debounce" yaml:"debounce"`
}

type DashboardConfig struct {
	Port int `mapstructure:"port" yaml:"port"`
}

// LogConfig selects log destinations. With File empty logs go to stderr
// only; with File set they are rotated by size, and Stderr keeps a copy on
// the terminal.
type LogConfig struct {
	File       string `mapstructure:"file" yaml:"file"`
	Stderr     bool   `mapstructure:"stderr" yaml:"stderr"`
	MaxSizeMB  int    `mapstructure:"max_size_mb" yaml:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days" yaml:"max_age_days"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("data_dir", defaultDataDir())
	v.SetDefault("user_id", "")
	v.SetDefault("storage.backend", storage.BackendSQLite)
	v.SetDefault("remote.dsn", "")
	v.SetDefault("remote.timeout", 15*time.Second)
	v.SetDefault("network.probe_url", "")
	v.SetDefault("network.timeout", 5*time.Second)
	v.SetDefault("sync.max_retries", 3)
	v.SetDefault("sync.retry_base", 2*time.Second)
	v.SetDefault("sync.retry_jitter", 0.0)
	v.SetDefault("daemon.connectivity_interval", 30*time.Second)
	v.SetDefault("daemon.sync_interval", 60*time.Second)
	v.SetDefault("daemon.watch", true)
	v.SetDefault("daemon.debounce", 500*time.Millisecond)
	v.SetDefault("dashboard.port", 8080)
	v.SetDefault("log.file", "")
	v.SetDefault("log.stderr", true)
	v.SetDefault("log.max_size_mb", 10)
	v.SetDefault("log.max_backups", 3)
	v.SetDefault("log.max_age_days", 28)
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".offsync"
	}
	return filepath.Join(home, ".offsync")
}

// Load reads the configuration. When path is empty an offsync.yaml (or
// .toml, .json) in the working directory is used if present; a missing
// explicit path is an error.
func Load(path string) (*Config, error) {
	if err := loadDotEnv(".env"); err != nil {
		return nil, err
	}

	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	} else {
		v.SetConfigName("offsync")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("failed to read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	cfg.File = v.ConfigFileUsed()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func loadDotEnv(path string) error {
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	return nil
}

// Validate rejects settings the components cannot run with.
func (c *Config) Validate() error {
	var problems []string

	if c.DataDir == "" {
		problems = append(problems, "data_dir must be set")
	}
	switch c.Storage.Backend {
	case storage.BackendSQLite, storage.BackendBadger, storage.BackendMemory:
	default:
		problems = append(problems, fmt.Sprintf("storage.backend %q is not one of sqlite, badger, memory", c.Storage.Backend))
	}
	if c.Sync.MaxRetries < 1 {
		problems = append(problems, "sync.max_retries must be at least 1")
	}
	if c.Sync.RetryJitter < 0 || c.Sync.RetryJitter > 1 {
		problems = append(problems, "sync.retry_jitter must be between 0 and 1")
	}
	for name, d := range map[string]time.Duration{
		"remote.timeout":               c.Remote.Timeout,
		"network.timeout":              c.Network.Timeout,
		"sync.retry_base":              c.Sync.RetryBase,
		"daemon.connectivity_interval": c.Daemon.ConnectivityInterval,
		"daemon.sync_interval":         c.Daemon.SyncInterval,
		"daemon.debounce":              c.Daemon.Debounce,
	} {
		if d <= 0 {
			problems = append(problems, fmt.Sprintf("%s must be positive", name))
		}
	}
	if c.Dashboard.Port < 0 || c.Dashboard.Port > 65535 {
		problems = append(problems, fmt.Sprintf("dashboard.port %d out of range", c.Dashboard.Port))
	}

	if len(problems) > 0 {
		slices.Sort(problems)
		return fmt.Errorf("invalid config: %s", strings.Join(problems, "; "))
	}
	return nil
}

// RemoteDSN returns the remote DSN, defaulting to remote.db in the data
// directory.
func (c *Config) RemoteDSN() string {
	if c.Remote.DSN != "" {
		return c.Remote.DSN
	}
	return filepath.Join(c.DataDir, "remote.db")
}

// RequireUser returns an error when no user is configured.
func (c *Config) RequireUser() error {
	if c.UserID == "" {
		return fmt.Errorf("user_id is not configured (set %s_USER_ID or user_id in the config file)", EnvPrefix)
	}
	return nil
}
