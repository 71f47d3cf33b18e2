// Package config loads nootle settings from a config file, NOOTLE_*
// environment variables and command-line flags, in increasing order of
// precedence.
//
// The config file is nootle.toml (or nootle.yaml) in the nootle home
// directory, which is $NOOTLE_HOME or ~/.nootle. Keys are dotted paths:
//
//	db.path               SQLite file (default <home>/nootle.db)
//	relay.url             relay the sync commands dial
//	relay.listen          address `nootle relay serve` binds
//	sync.receive_timeout  how long a session waits for the peer's snapshot
//	sync.connect_timeout  how long a session waits for the peer to answer
//	inbox.dir             directory watched by `nootle inbox watch`
//	inbox.debounce        quiet period before an inbox file is merged
//	log.file              log to a rotating file instead of stderr
//	log.max_size_mb, log.max_backups, log.max_age_days
//
// The environment variable for a key is NOOTLE_ followed by the key in
// upper case with dots replaced by underscores, e.g. NOOTLE_RELAY_URL.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix is the prefix of environment overrides.
const EnvPrefix = "NOOTLE"

// FileName is the config file name without extension.
const FileName = "nootle"

// Config holds all settings.
type Config struct {
	// Home is the directory holding the config file, database and inbox
	Home string `mapstructure:"-"`

	// File is the config file that was read (empty if none)
	File string `mapstructure:"-"`

	DB    DBConfig    `mapstructure:"db"`
	Relay RelayConfig `mapstructure:"relay"`
	Sync  SyncConfig  `mapstructure:"sync"`
	Inbox InboxConfig `mapstructure:"inbox"`
	Log   LogConfig   `mapstructure:"log"`
}

// DBConfig configures the record store.
type DBConfig struct {
	Path string `mapstructure:"path"`
}

// RelayConfig configures the rendezvous relay.
type RelayConfig struct {
	URL    string `mapstructure:"url"`
	Listen string `mapstructure:"listen"`
}

// SyncConfig configures peer sessions.
type SyncConfig struct {
	ReceiveTimeout time.Duration `mapstructure:"receive_timeout"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
}

// InboxConfig configures the inbox daemon.
type InboxConfig struct {
	Dir      string        `mapstructure:"dir"`
	Debounce time.Duration `mapstructure:"debounce"`
}

// LogConfig configures log output. An empty File logs to stderr.
type LogConfig struct {
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
}

// Home returns the nootle home directory: $NOOTLE_HOME if set, otherwise
// ~/.nootle.
func Home() (string, error) {
	if home := os.Getenv(EnvPrefix + "_HOME"); home != "" {
		return filepath.Abs(home)
	}
	userHome, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to find home directory: %w", err)
	}
	return filepath.Join(userHome, ".nootle"), nil
}

// Default returns the built-in settings for a home directory.
func Default(home string) *Config {
	return &Config{
		Home: home,
		DB: DBConfig{
			Path: filepath.Join(home, "nootle.db"),
		},
		Relay: RelayConfig{
			URL:    "ws://localhost:8787",
			Listen: ":8787",
		},
		Sync: SyncConfig{
			ReceiveTimeout: 60 * time.Second,
			ConnectTimeout: 15 * time.Second,
		},
		Inbox: InboxConfig{
			Dir:      filepath.Join(home, "inbox"),
			Debounce: 250 * time.Millisecond,
		},
		Log: LogConfig{
			MaxSizeMB:  10,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
	}
}

// NewViper returns a viper instance with nootle's defaults and environment
// bindings. Callers may bind flags to it before calling Load.
func NewViper(home string) *viper.Viper {
	v := viper.New()

	d := Default(home)
	v.SetDefault("db.path", d.DB.Path)
	v.SetDefault("relay.url", d.Relay.URL)
	v.SetDefault("relay.listen", d.Relay.Listen)
	v.SetDefault("sync.receive_timeout", d.Sync.ReceiveTimeout)
	v.SetDefault("sync.connect_timeout", d.Sync.ConnectTimeout)
	v.SetDefault("inbox.dir", d.Inbox.Dir)
	v.SetDefault("inbox.debounce", d.Inbox.Debounce)
	v.SetDefault("log.file", d.Log.File)
	v.SetDefault("log.max_size_mb", d.Log.MaxSizeMB)
	v.SetDefault("log.max_backups", d.Log.MaxBackups)
	v.SetDefault("log.max_age_days", d.Log.MaxAgeDays)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetConfigName(FileName)
	v.AddConfigPath(home)
	return v
}

// Load reads the config file (if any) and returns the merged settings.
// When file is non-empty it must exist; otherwise a missing nootle.toml or
// nootle.yaml in home is not an error.
func Load(v *viper.Viper, home, file string) (*Config, error) {
	if file != "" {
		v.SetConfigFile(file)
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if file != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	cfg.Home = home
	cfg.File = v.ConfigFileUsed()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks settings that would otherwise fail later in confusing
// ways.
func (c *Config) Validate() error {
	if c.DB.Path == "" {
		return fmt.Errorf("db.path cannot be empty")
	}
	if c.Sync.ReceiveTimeout <= 0 {
		return fmt.Errorf("sync.receive_timeout must be positive, got %s", c.Sync.ReceiveTimeout)
	}
	if c.Sync.ConnectTimeout <= 0 {
		return fmt.Errorf("sync.connect_timeout must be positive, got %s", c.Sync.ConnectTimeout)
	}
	if c.Inbox.Debounce < 0 {
		return fmt.Errorf("inbox.debounce cannot be negative, got %s", c.Inbox.Debounce)
	}
	return nil
}
