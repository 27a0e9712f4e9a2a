package dump

import (
	"context"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"storedump/internal/store"
)

// Import parses text and adds its records to the matching stores. Existing
// records are kept; a record whose key already exists fails the whole
// import with a *RecordError wrapping store.ErrKeyExists, and nothing is
// written.
//
// Stores of the database that the document omits (or lists empty) are left
// alone. A document store the database lacks fails with ErrUnknownStore.
// Malformed text fails with a *ParseError before any transaction starts.
func Import(ctx context.Context, db store.DB, text []byte, opts ...Option) error {
	o := newOptions(opts)
	log := logger.With("op", uuid.NewString())

	doc, err := decodeDocument(text, o.format)
	if err != nil {
		log.Warn("import failed", "err", err)
		return err
	}

	names, err := db.StoreNames()
	if err != nil {
		return fmt.Errorf("listing stores: %w", err)
	}
	if err := checkDocumentStores(doc, names); err != nil {
		log.Warn("import failed", "err", err)
		return err
	}

	comp := newCompletion()
	total := 0
	for name, recs := range doc {
		comp.expect(name, len(recs))
		total += len(recs)
	}
	log.Debug("import started", "stores", len(doc), "records", total, "binary", o.format.String())
	if comp.done() {
		log.Info("imported", "stores", len(doc), "records", 0)
		return nil
	}

	tx, err := db.Begin(names, store.ReadWrite)
	if err != nil {
		log.Warn("import failed", "err", err)
		return fmt.Errorf("beginning import: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	g, gctx := errgroup.WithContext(ctx)
	for _, name := range names {
		name := name
		recs := doc[name]
		if len(recs) == 0 {
			continue
		}
		g.Go(func() error {
			for i, rec := range recs {
				if err := gctx.Err(); err != nil {
					return err
				}
				if err := tx.Add(name, rec); err != nil {
					return &RecordError{Store: name, Index: i, Err: err}
				}
				storeDone, _, err := comp.step(name)
				if err != nil {
					return err
				}
				if storeDone {
					log.Debug("store imported", "store", name, "records", len(recs))
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		log.Warn("import failed", "err", err)
		return err
	}
	if !comp.done() {
		return fmt.Errorf("import incomplete, pending stores %v", comp.pending())
	}
	if err := tx.Commit(); err != nil {
		log.Warn("import failed", "err", err)
		return fmt.Errorf("committing import: %w", err)
	}
	log.Info("imported", "stores", len(doc), "records", total)
	return nil
}

func checkDocumentStores(doc map[string][]any, names []string) error {
	declared := make(map[string]struct{}, len(names))
	for _, name := range names {
		declared[name] = struct{}{}
	}
	var unknown []string
	for name := range doc {
		if _, ok := declared[name]; !ok {
			unknown = append(unknown, name)
		}
	}
	if len(unknown) == 0 {
		return nil
	}
	sort.Strings(unknown)
	return fmt.Errorf("%w: %q", ErrUnknownStore, unknown)
}
