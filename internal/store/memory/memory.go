package memory

import (
	"bytes"
	"fmt"
	"sort"
	"sync"

	"github.com/google/btree"

	"storedump/internal/record"
	"storedump/internal/store"
)

const (
	// The approximate number of items and children per B-tree node.
	bTreeDegree = 32
)

// item is a btree entry with an encoded key and a marshaled record.
type item struct {
	key   []byte
	value []byte
}

func less(a, b item) bool {
	return bytes.Compare(a.key, b.key) < 0
}

// objectStore is one store's tree, schema and key generator.
type objectStore struct {
	schema store.Schema
	tree   *btree.BTreeG[item]
	seq    uint64
}

func newObjectStore(s store.Schema) *objectStore {
	return &objectStore{schema: s, tree: btree.NewG(bTreeDegree, less)}
}

// clone makes a copy-on-write copy; writes to either side do not affect the other.
func (o *objectStore) clone() *objectStore {
	return &objectStore{schema: o.schema, tree: o.tree.Clone(), seq: o.seq}
}

func (o *objectStore) Next() (uint64, error) {
	o.seq++
	return o.seq, nil
}

func (o *objectStore) Observe(n uint64) error {
	if n > o.seq {
		o.seq = n
	}
	return nil
}

// DB is an in-memory database keeping one B-tree per store.
//
// Transactions work on copy-on-write clones of the trees they span. A
// read-write transaction installs its clones on Commit; only one read-write
// transaction runs at a time.
type DB struct {
	mu     sync.Mutex // guards stores and tree cloning
	writer sync.Mutex // held by the open read-write transaction
	stores map[string]*objectStore
}

var _ store.DB = (*DB)(nil)

// New creates an empty in-memory database.
func New() *DB {
	return &DB{stores: make(map[string]*objectStore)}
}

// Close is a noop; the contents are dropped with the DB.
func (db *DB) Close() error {
	return nil
}

func (db *DB) StoreNames() ([]string, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	names := make([]string, 0, len(db.stores))
	for name := range db.stores {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (db *DB) CreateStore(s store.Schema) error {
	if err := s.Validate(); err != nil {
		return err
	}
	db.mu.Lock()
	defer db.mu.Unlock()
	if _, ok := db.stores[s.Name]; ok {
		return fmt.Errorf("%w: %q", store.ErrStoreExists, s.Name)
	}
	db.stores[s.Name] = newObjectStore(s)
	return nil
}

func (db *DB) DeleteStore(name string) error {
	db.writer.Lock()
	defer db.writer.Unlock()
	db.mu.Lock()
	defer db.mu.Unlock()
	if _, ok := db.stores[name]; !ok {
		return fmt.Errorf("%w: %q", store.ErrStoreNotFound, name)
	}
	delete(db.stores, name)
	return nil
}

func (db *DB) Schema(name string) (store.Schema, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	o, ok := db.stores[name]
	if !ok {
		return store.Schema{}, fmt.Errorf("%w: %q", store.ErrStoreNotFound, name)
	}
	return o.schema, nil
}

func (db *DB) Begin(stores []string, mode store.Mode) (store.Tx, error) {
	if mode == store.ReadWrite {
		db.writer.Lock()
	}
	db.mu.Lock()
	defer db.mu.Unlock()

	err := store.CheckNames(stores, func(name string) bool {
		_, ok := db.stores[name]
		return ok
	})
	if err != nil {
		if mode == store.ReadWrite {
			db.writer.Unlock()
		}
		return nil, err
	}

	t := &tx{
		Scope:  store.NewScope(stores, mode),
		db:     db,
		stores: make(map[string]*objectStore, len(stores)),
	}
	for _, name := range stores {
		t.stores[name] = db.stores[name].clone()
	}
	return t, nil
}

type tx struct {
	mu sync.Mutex
	store.Scope
	db     *DB
	stores map[string]*objectStore
}

func (t *tx) Cursor(name string) (store.Cursor, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.Check(name, false); err != nil {
		return nil, err
	}
	return &cursor{tx: t, name: name}, nil
}

func (t *tx) Add(name string, value any) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.Check(name, true); err != nil {
		return err
	}
	o := t.stores[name]
	key, rec, err := store.Prepare(o.schema, value, o)
	if err != nil {
		return err
	}
	if o.tree.Has(item{key: key}) {
		return store.ErrKeyExists
	}
	data, err := record.Marshal(rec)
	if err != nil {
		return err
	}
	o.tree.ReplaceOrInsert(item{key: key, value: data})
	return nil
}

func (t *tx) Clear(name string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.Check(name, true); err != nil {
		return err
	}
	t.stores[name].tree = btree.NewG(bTreeDegree, less)
	return nil
}

func (t *tx) Count(name string) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.Check(name, false); err != nil {
		return 0, err
	}
	return t.stores[name].tree.Len(), nil
}

func (t *tx) Commit() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.Finish() {
		return store.ErrTxDone
	}
	if t.Mode != store.ReadWrite {
		return nil
	}
	defer t.db.writer.Unlock()
	t.db.mu.Lock()
	defer t.db.mu.Unlock()
	for name, o := range t.stores {
		t.db.stores[name] = o
	}
	return nil
}

func (t *tx) Rollback() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.Finish() {
		return nil
	}
	if t.Mode == store.ReadWrite {
		t.db.writer.Unlock()
	}
	return nil
}

// cursor walks a tree in key order, resuming after the last key it returned.
type cursor struct {
	tx      *tx
	name    string
	last    []byte
	started bool
	value   any
	err     error
	done    bool
}

func (c *cursor) Next() bool {
	if c.done || c.err != nil {
		return false
	}
	c.tx.mu.Lock()
	defer c.tx.mu.Unlock()
	if c.tx.Done() {
		c.err = store.ErrTxDone
		return false
	}

	var next item
	found := false
	visit := func(it item) bool {
		if c.started && bytes.Equal(it.key, c.last) {
			return true
		}
		next, found = it, true
		return false
	}
	tree := c.tx.stores[c.name].tree
	if c.started {
		tree.AscendGreaterOrEqual(item{key: c.last}, visit)
	} else {
		tree.Ascend(visit)
	}
	if !found {
		c.done = true
		c.value = nil
		return false
	}

	v, err := record.Unmarshal(next.value)
	if err != nil {
		c.err = fmt.Errorf("decoding record: %w", err)
		return false
	}
	c.last, c.started, c.value = next.key, true, v
	return true
}

func (c *cursor) Value() any { return c.value }

func (c *cursor) Err() error { return c.err }

func (c *cursor) Close() error {
	c.done = true
	return nil
}
