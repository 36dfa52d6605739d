package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/lazypower/lore/internal/governance"
	"github.com/lazypower/lore/internal/retrieval"
)

// Config holds all lore configuration.
type Config struct {
	Server      ServerConfig      `toml:"server"`
	Database    DatabaseConfig    `toml:"database"`
	Log         LogConfig         `toml:"log"`
	Retrieval   retrieval.Config  `toml:"retrieval"`
	Governance  governance.Config `toml:"governance"`
	Maintenance MaintenanceConfig `toml:"maintenance"`
}

type ServerConfig struct {
	Bind string `toml:"bind"`
	Port int    `toml:"port"`
}

type DatabaseConfig struct {
	Path string `toml:"path"`
}

type LogConfig struct {
	Level  string `toml:"level"`  // debug, info, warn, error
	Format string `toml:"format"` // "json" or "console"
}

type MaintenanceConfig struct {
	AutoDeprecate bool     `toml:"auto_deprecate"`
	Interval      Duration `toml:"interval"` // e.g. "24h"
}

// Duration is a time.Duration that decodes from a TOML string such as "6h".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Default returns a Config with sensible defaults.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Bind: "127.0.0.1",
			Port: 37780,
		},
		Database: DatabaseConfig{
			Path: "", // resolved at runtime via store.DefaultDBPath()
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Retrieval:  retrieval.DefaultConfig(),
		Governance: governance.DefaultConfig(),
		Maintenance: MaintenanceConfig{
			AutoDeprecate: false,
			Interval:      Duration{24 * time.Hour},
		},
	}
}

// DefaultPath returns ~/.lore/config.toml.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".lore", "config.toml"), nil
}

// Load reads the TOML file at path over the defaults. A missing file is not
// an error. LORE_DB overrides the database path.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return cfg, fmt.Errorf("load config %s: %w", path, err)
		}
	}
	if db := os.Getenv("LORE_DB"); db != "" {
		cfg.Database.Path = db
	}
	return cfg, nil
}

// LoadDefault loads LORE_CONFIG, or ~/.lore/config.toml when unset.
func LoadDefault() (Config, error) {
	path := os.Getenv("LORE_CONFIG")
	if path == "" {
		var err error
		if path, err = DefaultPath(); err != nil {
			path = ""
		}
	}
	return Load(path)
}

// ListenAddr returns the bind:port address string.
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.Bind, c.Server.Port)
}
