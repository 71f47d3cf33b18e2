package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// section is one table of the generated config file.
type section struct {
	name    string
	comment string
	values  map[string]any
}

// DefaultPath returns where `nootle config init` writes the config file.
func DefaultPath(home string) string {
	return filepath.Join(home, FileName+".toml")
}

// Encode renders c as a commented TOML document. Durations are written as
// strings such as "60s".
func Encode(c *Config) ([]byte, error) {
	sections := []section{
		{
			name:    "db",
			comment: "Local record store",
			values:  map[string]any{"path": c.DB.Path},
		},
		{
			name:    "relay",
			comment: "Rendezvous relay used by `nootle sync` (url) and `nootle relay serve` (listen)",
			values:  map[string]any{"url": c.Relay.URL, "listen": c.Relay.Listen},
		},
		{
			name:    "sync",
			comment: "Peer session timeouts",
			values: map[string]any{
				"receive_timeout": c.Sync.ReceiveTimeout.String(),
				"connect_timeout": c.Sync.ConnectTimeout.String(),
			},
		},
		{
			name:    "inbox",
			comment: "Directory watched by `nootle inbox watch`",
			values: map[string]any{
				"dir":      c.Inbox.Dir,
				"debounce": c.Inbox.Debounce.String(),
			},
		},
		{
			name:    "log",
			comment: "Set file to log to a rotating file instead of stderr",
			values: map[string]any{
				"file":         c.Log.File,
				"max_size_mb":  c.Log.MaxSizeMB,
				"max_backups":  c.Log.MaxBackups,
				"max_age_days": c.Log.MaxAgeDays,
			},
		},
	}

	var buf bytes.Buffer
	buf.WriteString("# nootle configuration\n")
	buf.WriteString("# Every key can be overridden with a NOOTLE_ environment variable,\n")
	buf.WriteString("# e.g. NOOTLE_RELAY_URL.\n")

	for _, s := range sections {
		fmt.Fprintf(&buf, "\n# %s\n", s.comment)
		if err := toml.NewEncoder(&buf).Encode(map[string]any{s.name: s.values}); err != nil {
			return nil, fmt.Errorf("failed to encode %s section: %w", s.name, err)
		}
	}
	return buf.Bytes(), nil
}

// WriteDefault writes the default configuration for home to path. It
// refuses to overwrite an existing file unless force is set.
func WriteDefault(path, home string, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config file already exists: %s", path)
		}
	}

	data, err := Encode(Default(home))
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}
