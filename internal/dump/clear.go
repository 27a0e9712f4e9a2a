package dump

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"storedump/internal/store"
)

// Clear removes every record from every store in one transaction.
func Clear(ctx context.Context, db store.DB) error {
	log := logger.With("op", uuid.NewString())

	names, err := db.StoreNames()
	if err != nil {
		return fmt.Errorf("listing stores: %w", err)
	}
	if len(names) == 0 {
		log.Info("cleared", "stores", 0)
		return nil
	}

	tx, err := db.Begin(names, store.ReadWrite)
	if err != nil {
		log.Warn("clear failed", "err", err)
		return fmt.Errorf("beginning clear: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	comp := newCompletion()
	for _, name := range names {
		comp.expect(name, 1)
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, name := range names {
		name := name
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			if err := tx.Clear(name); err != nil {
				return fmt.Errorf("clearing store %q: %w", name, err)
			}
			_, _, err := comp.step(name)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		log.Warn("clear failed", "err", err)
		return err
	}
	if !comp.done() {
		return fmt.Errorf("clear incomplete, pending stores %v", comp.pending())
	}
	if err := tx.Commit(); err != nil {
		log.Warn("clear failed", "err", err)
		return fmt.Errorf("committing clear: %w", err)
	}
	log.Info("cleared", "stores", len(names))
	return nil
}
