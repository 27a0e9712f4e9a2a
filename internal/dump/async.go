package dump

import (
	"context"

	"storedump/internal/store"
)

// ExportAsync runs Export in a new goroutine and calls done exactly once,
// with either the document text or an error (never both).
func ExportAsync(ctx context.Context, db store.DB, done func(text []byte, err error), opts ...Option) {
	go func() {
		text, err := Export(ctx, db, opts...)
		if err != nil {
			text = nil
		}
		done(text, err)
	}()
}

// ImportAsync runs Import in a new goroutine and calls done exactly once.
func ImportAsync(ctx context.Context, db store.DB, text []byte, done func(err error), opts ...Option) {
	go func() {
		done(Import(ctx, db, text, opts...))
	}()
}

// ClearAsync runs Clear in a new goroutine and calls done exactly once.
func ClearAsync(ctx context.Context, db store.DB, done func(err error)) {
	go func() {
		done(Clear(ctx, db))
	}()
}
