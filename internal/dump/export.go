package dump

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"storedump/internal/store"
)

// Export reads every record of every store into one document and returns
// its JSON text. A database without stores exports as {}.
func Export(ctx context.Context, db store.DB, opts ...Option) ([]byte, error) {
	o := newOptions(opts)
	log := logger.With("op", uuid.NewString())

	names, err := db.StoreNames()
	if err != nil {
		return nil, fmt.Errorf("listing stores: %w", err)
	}
	log.Debug("export started", "stores", len(names), "binary", o.format.String())
	if len(names) == 0 {
		return encodeDocument(map[string][]any{}, o)
	}

	tx, err := db.Begin(names, store.ReadOnly)
	if err != nil {
		log.Warn("export failed", "err", err)
		return nil, fmt.Errorf("beginning export: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var (
		mu      sync.Mutex
		doc     = make(map[string][]any, len(names))
		records int
	)
	comp := newCompletion()
	for _, name := range names {
		comp.expect(name, 1)
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, name := range names {
		name := name
		g.Go(func() error {
			recs, err := readStore(gctx, tx, name)
			if err != nil {
				return fmt.Errorf("reading store %q: %w", name, err)
			}
			mu.Lock()
			if _, dup := doc[name]; dup {
				mu.Unlock()
				return fmt.Errorf("store %q read twice", name)
			}
			doc[name] = recs
			records += len(recs)
			mu.Unlock()
			_, _, err = comp.step(name)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		log.Warn("export failed", "err", err)
		return nil, err
	}
	if !comp.done() {
		return nil, fmt.Errorf("export incomplete, pending stores %v", comp.pending())
	}

	text, err := encodeDocument(doc, o)
	if err != nil {
		log.Warn("export failed", "err", err)
		return nil, err
	}
	log.Info("exported", "stores", len(names), "records", records, "bytes", len(text))
	return text, nil
}

// readStore drains a forward cursor over one store. The result is never nil
// so that empty stores serialize as [].
func readStore(ctx context.Context, tx store.Tx, name string) ([]any, error) {
	cur, err := tx.Cursor(name)
	if err != nil {
		return nil, err
	}
	defer func() { _ = cur.Close() }()

	recs := []any{}
	for cur.Next() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		recs = append(recs, cur.Value())
	}
	if err := cur.Err(); err != nil {
		return nil, err
	}
	return recs, ctx.Err()
}
