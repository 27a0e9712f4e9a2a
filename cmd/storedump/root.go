package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"storedump/internal/config"
	"storedump/internal/logging"
	"storedump/internal/store"
	badgerstore "storedump/internal/store/badger"
	boltstore "storedump/internal/store/bolt"
	"storedump/internal/store/memory"
)

type rootOptions struct {
	configPath string
	dbPath     string
	backend    string
	logLevel   string
	logFormat  string

	cfg *config.Config
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:           "storedump",
		Short:         "Export, import and clear a local object-store database",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return opts.load()
		},
	}

	f := cmd.PersistentFlags()
	f.StringVar(&opts.configPath, "config", "", "path to config file (TOML, or YAML by extension)")
	f.StringVar(&opts.dbPath, "db", "", "database path (overrides config)")
	f.StringVar(&opts.backend, "backend", "", "storage backend: bolt, badger or memory (overrides config); memory starts empty on every run and refuses init, import and clear; badger holds about 400k records per import")
	f.StringVar(&opts.logLevel, "log-level", "", "log level: debug, info, warn, error (overrides config)")
	f.StringVar(&opts.logFormat, "log-format", "", "log format: text or json (overrides config)")

	cmd.AddCommand(
		newInitCmd(opts),
		newStoresCmd(opts),
		newExportCmd(opts),
		newImportCmd(opts),
		newClearCmd(opts),
	)
	return cmd
}

// load reads the config file and applies flag overrides.
func (o *rootOptions) load() error {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return err
	}

	// CLI flags override config file values
	if o.dbPath != "" {
		cfg.Database.Path = o.dbPath
	}
	if o.backend != "" {
		cfg.Database.Backend = o.backend
	}
	if o.logLevel != "" {
		cfg.Log.Level = o.logLevel
	}
	if o.logFormat != "" {
		cfg.Log.Format = o.logFormat
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	cfg.Database.Path = config.ExpandHome(cfg.Database.Path)

	logging.Init(cfg.Log.Level, cfg.Log.Format)
	o.cfg = cfg
	return nil
}

// errEphemeral rejects commands whose effect would vanish with the process.
var errEphemeral = errors.New("memory backend does not persist between runs")

// openWritableDB is openDB for commands that change the database.
func (o *rootOptions) openWritableDB(command string) (store.DB, error) {
	if o.cfg.Database.Backend == config.BackendMemory {
		return nil, fmt.Errorf("%s: %w", command, errEphemeral)
	}
	return o.openDB()
}

// openDB opens the configured database. The caller closes it.
func (o *rootOptions) openDB() (store.DB, error) {
	switch o.cfg.Database.Backend {
	case config.BackendBolt:
		db, err := boltstore.Open(o.cfg.Database.Path)
		if err != nil {
			return nil, fmt.Errorf("opening bolt database: %w", err)
		}
		return db, nil
	case config.BackendBadger:
		db, err := badgerstore.Open(o.cfg.Database.Path)
		if err != nil {
			return nil, fmt.Errorf("opening badger database: %w", err)
		}
		return db, nil
	case config.BackendMemory:
		return memory.New(), nil
	}
	return nil, fmt.Errorf("unknown backend %q", o.cfg.Database.Backend)
}
