package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"storedump/internal/config"
	"storedump/internal/dump"
	"storedump/internal/logging"
	"storedump/internal/store"
	"storedump/internal/tagged"
)

var logger = logging.For("cli")

func newInitCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create the stores declared in the config file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := ensureDir(opts.cfg.Database.Path, opts.cfg.Database.Backend); err != nil {
				return err
			}
			db, err := opts.openWritableDB("init")
			if err != nil {
				return err
			}
			defer db.Close()

			created := 0
			for _, sc := range opts.cfg.Stores {
				err := db.CreateStore(sc.Schema())
				if errors.Is(err, store.ErrStoreExists) {
					logger.Debug("store exists", "store", sc.Name)
					continue
				}
				if err != nil {
					return fmt.Errorf("creating store %q: %w", sc.Name, err)
				}
				created++
			}
			logger.Info("stores initialized", "declared", len(opts.cfg.Stores), "created", created)
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "created %d of %d stores\n", created, len(opts.cfg.Stores))
			return nil
		},
	}
}

func newStoresCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "stores",
		Short: "List stores with their key paths and record counts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			db, err := opts.openDB()
			if err != nil {
				return err
			}
			defer db.Close()

			names, err := db.StoreNames()
			if err != nil {
				return err
			}
			if len(names) == 0 {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), "Stores: (none)")
				return nil
			}
			tx, err := db.Begin(names, store.ReadOnly)
			if err != nil {
				return err
			}
			defer func() { _ = tx.Rollback() }()

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			_, _ = fmt.Fprintln(w, "NAME\tKEY PATH\tAUTO\tRECORDS")
			for _, name := range names {
				s, err := db.Schema(name)
				if err != nil {
					return err
				}
				n, err := tx.Count(name)
				if err != nil {
					return err
				}
				keyPath := s.KeyPath
				if keyPath == "" {
					keyPath = "-"
				}
				_, _ = fmt.Fprintf(w, "%s\t%s\t%t\t%d\n", name, keyPath, s.AutoIncrement, n)
			}
			return w.Flush()
		},
	}
}

func newExportCmd(opts *rootOptions) *cobra.Command {
	var (
		output string
		indent bool
		binary string
	)
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write every store to a JSON document",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			format, err := binaryFormat(cmd, binary, opts.cfg.Export.Binary)
			if err != nil {
				return err
			}
			db, err := opts.openDB()
			if err != nil {
				return err
			}
			defer db.Close()

			toFile := output != "" && output != "-"
			dopts := []dump.Option{dump.WithFormat(format)}
			pretty := opts.cfg.Export.Indent
			if cmd.Flags().Changed("indent") {
				pretty = indent
			} else if !toFile && isTerminal(cmd.OutOrStdout()) {
				pretty = true
			}
			if pretty {
				dopts = append(dopts, dump.WithIndent("  "))
			}

			text, err := dump.Export(cmd.Context(), db, dopts...)
			if err != nil {
				return err
			}
			text = append(text, '\n')
			if toFile {
				return writeFileAtomic(output, text)
			}
			if _, err := cmd.OutOrStdout().Write(text); err != nil {
				return fmt.Errorf("writing output: %w", err)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "output file (default stdout)")
	cmd.Flags().BoolVar(&indent, "indent", false, "pretty-print the document (default on for terminals)")
	cmd.Flags().StringVar(&binary, "binary", "", "byte buffer format: sentinel or marker (overrides config)")
	return cmd
}

func newImportCmd(opts *rootOptions) *cobra.Command {
	var (
		input  string
		binary string
	)
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Add the records of a JSON document to their stores",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			format, err := binaryFormat(cmd, binary, opts.cfg.Export.Binary)
			if err != nil {
				return err
			}

			var in io.Reader = cmd.InOrStdin()
			if input != "" && input != "-" {
				f, err := os.Open(input)
				if err != nil {
					return fmt.Errorf("opening input: %w", err)
				}
				defer f.Close()
				in = f
			}
			text, err := io.ReadAll(in)
			if err != nil {
				return fmt.Errorf("reading input: %w", err)
			}

			db, err := opts.openWritableDB("import")
			if err != nil {
				return err
			}
			defer db.Close()

			return dump.Import(cmd.Context(), db, text, dump.WithFormat(format))
		},
	}
	cmd.Flags().StringVarP(&input, "input", "i", "", "input file (default stdin)")
	cmd.Flags().StringVar(&binary, "binary", "", "byte buffer format: sentinel or marker (overrides config)")
	return cmd
}

func newClearCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Remove every record from every store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			db, err := opts.openWritableDB("clear")
			if err != nil {
				return err
			}
			defer db.Close()
			return dump.Clear(cmd.Context(), db)
		},
	}
}

func binaryFormat(cmd *cobra.Command, flag, configured string) (tagged.Format, error) {
	if cmd.Flags().Changed("binary") {
		return tagged.ParseFormat(flag)
	}
	return tagged.ParseFormat(configured)
}

// writeFileAtomic replaces path with data. The previous file, if any, is left
// untouched unless the new content was fully written.
func writeFileAtomic(path string, data []byte) (err error) {
	f, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("creating output: %w", err)
	}
	tmp := f.Name()
	defer func() {
		if err != nil {
			_ = os.Remove(tmp)
		}
	}()

	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return fmt.Errorf("writing output: %w", err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return fmt.Errorf("syncing output: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("closing output: %w", err)
	}
	if err := os.Chmod(tmp, 0644); err != nil {
		return fmt.Errorf("setting output mode: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("replacing output: %w", err)
	}
	return nil
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// ensureDir creates the parent directory of a bolt file or the badger
// directory itself.
func ensureDir(path, backend string) error {
	dir := path
	switch backend {
	case config.BackendBolt:
		dir = filepath.Dir(path)
	case config.BackendBadger:
	default:
		return nil
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("creating data dir: %w", err)
	}
	return nil
}
