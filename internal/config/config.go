package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"storedump/internal/logging"
	"storedump/internal/store"
	"storedump/internal/tagged"
)

// Backends accepted by Database.Backend.
const (
	BackendBolt   = "bolt"
	BackendBadger = "badger"
	BackendMemory = "memory"
)

type Config struct {
	Database DatabaseConfig `toml:"database" yaml:"database"`
	Log      LogConfig      `toml:"log" yaml:"log"`
	Export   ExportConfig   `toml:"export" yaml:"export"`
	Stores   []StoreConfig  `toml:"stores" yaml:"stores"`
}

type DatabaseConfig struct {
	Backend string `toml:"backend" yaml:"backend"`
	Path    string `toml:"path" yaml:"path"`
}

type LogConfig struct {
	Level  string `toml:"level" yaml:"level"`
	Format string `toml:"format" yaml:"format"`
}

type ExportConfig struct {
	Binary string `toml:"binary" yaml:"binary"`
	Indent bool   `toml:"indent" yaml:"indent"`
}

// StoreConfig declares an object store created by `storedump init`.
type StoreConfig struct {
	Name          string `toml:"name" yaml:"name"`
	KeyPath       string `toml:"key_path" yaml:"key_path"`
	AutoIncrement bool   `toml:"auto_increment" yaml:"auto_increment"`
}

// Schema converts the declaration to a store schema.
func (s StoreConfig) Schema() store.Schema {
	return store.Schema{Name: s.Name, KeyPath: s.KeyPath, AutoIncrement: s.AutoIncrement}
}

// Defaults returns a Config with sane defaults.
func Defaults() *Config {
	return &Config{
		Database: DatabaseConfig{
			Backend: BackendBolt,
			Path:    "~/.storedump/data.db",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Export: ExportConfig{
			Binary: tagged.FormatSentinel.String(),
		},
	}
}

// Load reads a TOML (or, by extension, YAML) config file over the defaults.
// If path is empty, ~/.storedump/config.toml is used when it exists.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path == "" {
		path = expandHome("~/.storedump/config.toml")
		if _, err := os.Stat(path); os.IsNotExist(err) {
			return cfg, nil
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config: %w", err)
		}
	default:
		if _, err := toml.Decode(string(data), cfg); err != nil {
			return nil, fmt.Errorf("parsing config: %w", err)
		}
	}

	return cfg, nil
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []error

	switch c.Database.Backend {
	case BackendBolt, BackendBadger:
		if c.Database.Path == "" {
			errs = append(errs, fmt.Errorf("database.path: required for backend %q", c.Database.Backend))
		}
	case BackendMemory:
	default:
		errs = append(errs, fmt.Errorf("database.backend: unknown backend %q", c.Database.Backend))
	}

	if !logging.ValidLevel(c.Log.Level) {
		errs = append(errs, fmt.Errorf("log.level: unknown level %q", c.Log.Level))
	}
	switch strings.ToLower(c.Log.Format) {
	case "", "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format: unknown format %q", c.Log.Format))
	}

	if _, err := tagged.ParseFormat(c.Export.Binary); err != nil {
		errs = append(errs, fmt.Errorf("export.binary: %w", err))
	}

	seen := make(map[string]struct{}, len(c.Stores))
	for i, s := range c.Stores {
		if err := s.Schema().Validate(); err != nil {
			errs = append(errs, fmt.Errorf("stores[%d]: %w", i, err))
			continue
		}
		if _, dup := seen[s.Name]; dup {
			errs = append(errs, fmt.Errorf("stores[%d]: duplicate store %q", i, s.Name))
		}
		seen[s.Name] = struct{}{}
		if s.AutoIncrement && s.KeyPath == "" {
			errs = append(errs, fmt.Errorf("stores[%d]: auto_increment requires key_path", i))
		}
	}

	return errors.Join(errs...)
}

// ExpandHome resolves a leading ~/ to the user's home directory.
func ExpandHome(path string) string {
	return expandHome(path)
}

func expandHome(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
