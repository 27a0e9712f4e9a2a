package bolt

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	bolt "go.etcd.io/bbolt"

	"storedump/internal/record"
	"storedump/internal/store"
)

// metaBucket maps store name to its JSON-encoded schema.
var metaBucket = []byte("__storedump_meta")

// DB implements store.DB using bbolt (embedded B+ tree), one bucket per store.
type DB struct {
	db *bolt.DB
}

var _ store.DB = (*DB)(nil)

// Open creates or opens a bbolt database at the given path.
func Open(path string) (*DB, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening bolt db: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(metaBucket)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("creating meta bucket: %w", err)
	}
	return &DB{db: db}, nil
}

func (d *DB) Close() error {
	return d.db.Close()
}

func (d *DB) StoreNames() ([]string, error) {
	var names []string
	err := d.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(metaBucket).ForEach(func(k, _ []byte) error {
			names = append(names, string(k))
			return nil
		})
	})
	return names, err
}

func (d *DB) CreateStore(s store.Schema) error {
	if err := s.Validate(); err != nil {
		return err
	}
	if s.Name == string(metaBucket) {
		return fmt.Errorf("%w: reserved name %q", store.ErrInvalidSchema, s.Name)
	}
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("encoding schema: %w", err)
	}
	return d.db.Update(func(tx *bolt.Tx) error {
		meta := tx.Bucket(metaBucket)
		if meta.Get([]byte(s.Name)) != nil {
			return fmt.Errorf("%w: %q", store.ErrStoreExists, s.Name)
		}
		if _, err := tx.CreateBucketIfNotExists([]byte(s.Name)); err != nil {
			return fmt.Errorf("creating bucket: %w", err)
		}
		return meta.Put([]byte(s.Name), data)
	})
}

func (d *DB) DeleteStore(name string) error {
	return d.db.Update(func(tx *bolt.Tx) error {
		meta := tx.Bucket(metaBucket)
		if meta.Get([]byte(name)) == nil {
			return fmt.Errorf("%w: %q", store.ErrStoreNotFound, name)
		}
		if err := tx.DeleteBucket([]byte(name)); err != nil {
			return fmt.Errorf("deleting bucket: %w", err)
		}
		return meta.Delete([]byte(name))
	})
}

func (d *DB) Schema(name string) (store.Schema, error) {
	var s store.Schema
	err := d.db.View(func(tx *bolt.Tx) error {
		var err error
		s, err = loadSchema(tx, name)
		return err
	})
	return s, err
}

func loadSchema(tx *bolt.Tx, name string) (store.Schema, error) {
	data := tx.Bucket(metaBucket).Get([]byte(name))
	if data == nil {
		return store.Schema{}, fmt.Errorf("%w: %q", store.ErrStoreNotFound, name)
	}
	var s store.Schema
	if err := json.Unmarshal(data, &s); err != nil {
		return store.Schema{}, fmt.Errorf("decoding schema %q: %w", name, err)
	}
	return s, nil
}

func (d *DB) Begin(stores []string, mode store.Mode) (store.Tx, error) {
	btx, err := d.db.Begin(mode == store.ReadWrite)
	if err != nil {
		return nil, fmt.Errorf("beginning bolt tx: %w", err)
	}
	t := &tx{
		Scope:   store.NewScope(stores, mode),
		btx:     btx,
		schemas: make(map[string]store.Schema, len(stores)),
	}
	for _, name := range stores {
		s, err := loadSchema(btx, name)
		if err != nil {
			_ = btx.Rollback()
			return nil, err
		}
		t.schemas[name] = s
	}
	return t, nil
}

// tx serializes access to the underlying bolt.Tx, which is not safe for
// concurrent use.
type tx struct {
	mu sync.Mutex
	store.Scope
	btx     *bolt.Tx
	schemas map[string]store.Schema
}

// bucketSeq adapts a bucket's sequence to store.Sequence.
type bucketSeq struct {
	b *bolt.Bucket
}

func (s bucketSeq) Next() (uint64, error) {
	return s.b.NextSequence()
}

func (s bucketSeq) Observe(n uint64) error {
	if n > s.b.Sequence() {
		return s.b.SetSequence(n)
	}
	return nil
}

func (t *tx) bucket(name string) (*bolt.Bucket, error) {
	b := t.btx.Bucket([]byte(name))
	if b == nil {
		return nil, fmt.Errorf("%w: %q", store.ErrStoreNotFound, name)
	}
	return b, nil
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
	b, err := t.bucket(name)
	if err != nil {
		return err
	}
	key, rec, err := store.Prepare(t.schemas[name], value, bucketSeq{b})
	if err != nil {
		return err
	}
	if b.Get(key) != nil {
		return store.ErrKeyExists
	}
	data, err := record.Marshal(rec)
	if err != nil {
		return err
	}
	return b.Put(key, data)
}

// Clear recreates the bucket, keeping its sequence.
func (t *tx) Clear(name string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.Check(name, true); err != nil {
		return err
	}
	b, err := t.bucket(name)
	if err != nil {
		return err
	}
	seq := b.Sequence()
	if err := t.btx.DeleteBucket([]byte(name)); err != nil {
		return fmt.Errorf("deleting bucket: %w", err)
	}
	b, err = t.btx.CreateBucket([]byte(name))
	if err != nil {
		return fmt.Errorf("creating bucket: %w", err)
	}
	return b.SetSequence(seq)
}

func (t *tx) Count(name string) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.Check(name, false); err != nil {
		return 0, err
	}
	b, err := t.bucket(name)
	if err != nil {
		return 0, err
	}
	n := 0
	c := b.Cursor()
	for k, _ := c.First(); k != nil; k, _ = c.Next() {
		n++
	}
	return n, nil
}

func (t *tx) Commit() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.Finish() {
		return store.ErrTxDone
	}
	if t.Mode != store.ReadWrite {
		return t.btx.Rollback()
	}
	if err := t.btx.Commit(); err != nil {
		return fmt.Errorf("committing bolt tx: %w", err)
	}
	return nil
}

func (t *tx) Rollback() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.Finish() {
		return nil
	}
	return t.btx.Rollback()
}

// cursor re-seeks on every step: bolt cursors are invalidated by writes to
// their bucket, and other goroutines may write through the same tx.
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
	b, err := c.tx.bucket(c.name)
	if err != nil {
		c.err = err
		return false
	}

	bc := b.Cursor()
	var k, v []byte
	if !c.started {
		k, v = bc.First()
	} else {
		k, v = bc.Seek(c.last)
		if k != nil && bytes.Equal(k, c.last) {
			k, v = bc.Next()
		}
	}
	if k == nil {
		c.done = true
		c.value = nil
		return false
	}

	rec, err := record.Unmarshal(v)
	if err != nil {
		c.err = fmt.Errorf("decoding record %x in %q: %w", k, c.name, err)
		return false
	}
	c.last = append(c.last[:0], k...)
	c.started, c.value = true, rec
	return true
}

func (c *cursor) Value() any { return c.value }

func (c *cursor) Err() error { return c.err }

func (c *cursor) Close() error {
	c.done = true
	return nil
}
