package store

import (
	"errors"
	"fmt"
)

var (
	ErrStoreNotFound = errors.New("store not found")
	ErrStoreExists   = errors.New("store already exists")
	ErrInvalidSchema = errors.New("invalid store schema")
	ErrNotInScope    = errors.New("store not in transaction scope")
	ErrReadOnly      = errors.New("transaction is read-only")
	ErrTxDone        = errors.New("transaction already committed or rolled back")
	ErrKeyExists     = errors.New("key already exists in store")
	ErrMissingKey    = errors.New("record has no value at key path")
	ErrInvalidKey    = errors.New("invalid key value")
)

// Mode selects whether a transaction may write.
type Mode int

const (
	ReadOnly Mode = iota
	ReadWrite
)

func (m Mode) String() string {
	if m == ReadWrite {
		return "readwrite"
	}
	return "readonly"
}

// Schema describes how a store derives record keys.
// With an empty KeyPath keys are generated from a per-store sequence.
// With a KeyPath the key is read from the record; if AutoIncrement is also
// set, records lacking the key get a generated one injected at KeyPath.
type Schema struct {
	Name          string `json:"name"`
	KeyPath       string `json:"key_path,omitempty"`
	AutoIncrement bool   `json:"auto_increment,omitempty"`
}

// Validate checks that the schema can be created.
func (s Schema) Validate() error {
	if s.Name == "" {
		return fmt.Errorf("%w: empty store name", ErrInvalidSchema)
	}
	return nil
}

// DB is a named collection of object stores. The initial implementation uses
// bbolt; Badger and an in-memory btree engine satisfy the same contract.
type DB interface {
	// StoreNames returns every store name once, sorted.
	StoreNames() ([]string, error)
	CreateStore(s Schema) error
	DeleteStore(name string) error
	Schema(name string) (Schema, error)
	// Begin opens a transaction over the named stores. Unknown names fail
	// with ErrStoreNotFound.
	Begin(stores []string, mode Mode) (Tx, error)
	Close() error
}

// Tx is a transaction scoped to a set of stores. Implementations are safe for
// use by several goroutines; operations on its stores are serialized.
type Tx interface {
	// Cursor iterates the records of a store in key order.
	Cursor(store string) (Cursor, error)
	// Add inserts a record. A record whose key already exists fails with
	// ErrKeyExists and leaves the store unchanged.
	Add(store string, value any) error
	// Clear removes every record of a store.
	Clear(store string) error
	Count(store string) (int, error)
	Commit() error
	// Rollback discards the transaction. It is a no-op after Commit.
	Rollback() error
}

// Cursor is a forward iterator over one store.
//
//	for cur.Next() {
//		v := cur.Value()
//	}
//	if err := cur.Err(); err != nil { ... }
type Cursor interface {
	Next() bool
	Value() any
	Err() error
	Close() error
}

// Scope tracks the stores and mode a transaction was opened with.
// Engines embed it to share argument checks.
type Scope struct {
	Mode   Mode
	stores map[string]struct{}
	done   bool
}

// NewScope returns a Scope over stores.
func NewScope(stores []string, mode Mode) Scope {
	s := Scope{Mode: mode, stores: make(map[string]struct{}, len(stores))}
	for _, name := range stores {
		s.stores[name] = struct{}{}
	}
	return s
}

// Check validates that the transaction is open, store is in scope and, if
// write is set, that the transaction may write.
func (s *Scope) Check(store string, write bool) error {
	if s.done {
		return ErrTxDone
	}
	if _, ok := s.stores[store]; !ok {
		return fmt.Errorf("%w: %q", ErrNotInScope, store)
	}
	if write && s.Mode != ReadWrite {
		return ErrReadOnly
	}
	return nil
}

// Finish marks the transaction done. It reports false if it already was.
func (s *Scope) Finish() bool {
	if s.done {
		return false
	}
	s.done = true
	return true
}

// Done reports whether the transaction was committed or rolled back.
func (s *Scope) Done() bool {
	return s.done
}

// Stores returns the names in scope.
func (s *Scope) Stores() []string {
	out := make([]string, 0, len(s.stores))
	for name := range s.stores {
		out = append(out, name)
	}
	return out
}

// CheckNames fails with ErrStoreNotFound for the first name not in known.
func CheckNames(names []string, known func(string) bool) error {
	for _, name := range names {
		if !known(name) {
			return fmt.Errorf("%w: %q", ErrStoreNotFound, name)
		}
	}
	return nil
}
