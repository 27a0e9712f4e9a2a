package badger

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/dgraph-io/badger/v4"

	"storedump/internal/logging"
	"storedump/internal/record"
	"storedump/internal/store"
)

// Key layout inside the single badger keyspace:
//
//	m/<store>            JSON schema
//	q/<store>            key generator, 8 bytes big-endian
//	d/<store>\x00<key>   marshaled record
var (
	metaPrefix = []byte("m/")
	seqPrefix  = []byte("q/")
	dataPrefix = []byte("d/")
)

var logger = logging.For("badger")

func metaKey(name string) []byte {
	return append(append([]byte{}, metaPrefix...), name...)
}

func seqKey(name string) []byte {
	return append(append([]byte{}, seqPrefix...), name...)
}

func storePrefix(name string) []byte {
	p := append(append([]byte{}, dataPrefix...), name...)
	return append(p, 0)
}

// DB implements store.DB on Badger, giving each store its own key prefix.
type DB struct {
	db *badger.DB
}

var _ store.DB = (*DB)(nil)

// memTableSize bounds a single transaction: Badger accepts roughly 15% of it
// in pending writes, about 400k small records at 256 MiB.
const memTableSize = 256 << 20

// Open creates or opens a Badger database in dir.
func Open(dir string) (*DB, error) {
	return OpenWithOptions(badger.DefaultOptions(dir).WithMemTableSize(memTableSize))
}

// OpenInMemory opens a Badger database that keeps everything in memory.
func OpenInMemory() (*DB, error) {
	return OpenWithOptions(badger.DefaultOptions("").WithInMemory(true).WithMemTableSize(memTableSize))
}

// OpenWithOptions opens Badger with opts, routing its logs to slog.
func OpenWithOptions(opts badger.Options) (*DB, error) {
	db, err := badger.Open(opts.WithLogger(badgerLogger{}))
	if err != nil {
		return nil, fmt.Errorf("opening badger db: %w", err)
	}
	return &DB{db: db}, nil
}

func (d *DB) Close() error {
	return d.db.Close()
}

func translateError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, badger.ErrConflict):
		return fmt.Errorf("badger: transaction conflict: %w", err)
	case errors.Is(err, badger.ErrTxnTooBig):
		return fmt.Errorf("badger: transaction too big: %w", err)
	}
	return fmt.Errorf("badger: %w", err)
}

func (d *DB) StoreNames() ([]string, error) {
	var names []string
	err := d.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = metaPrefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.ValidForPrefix(metaPrefix); it.Next() {
			names = append(names, string(it.Item().Key()[len(metaPrefix):]))
		}
		return nil
	})
	return names, translateError(err)
}

func (d *DB) CreateStore(s store.Schema) error {
	if err := s.Validate(); err != nil {
		return err
	}
	if strings.IndexByte(s.Name, 0) >= 0 {
		return fmt.Errorf("%w: store name contains NUL", store.ErrInvalidSchema)
	}
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("encoding schema: %w", err)
	}
	err = d.db.Update(func(txn *badger.Txn) error {
		_, err := txn.Get(metaKey(s.Name))
		switch {
		case err == nil:
			return fmt.Errorf("%w: %q", store.ErrStoreExists, s.Name)
		case !errors.Is(err, badger.ErrKeyNotFound):
			return err
		}
		return txn.Set(metaKey(s.Name), data)
	})
	if errors.Is(err, store.ErrStoreExists) {
		return err
	}
	return translateError(err)
}

func (d *DB) DeleteStore(name string) error {
	err := d.db.Update(func(txn *badger.Txn) error {
		if _, err := loadSchema(txn, name); err != nil {
			return err
		}
		keys, err := collectKeys(txn, storePrefix(name))
		if err != nil {
			return err
		}
		for _, k := range keys {
			if err := txn.Delete(k); err != nil {
				return err
			}
		}
		if err := txn.Delete(seqKey(name)); err != nil {
			return err
		}
		return txn.Delete(metaKey(name))
	})
	if errors.Is(err, store.ErrStoreNotFound) {
		return err
	}
	return translateError(err)
}

func (d *DB) Schema(name string) (store.Schema, error) {
	var s store.Schema
	err := d.db.View(func(txn *badger.Txn) error {
		var err error
		s, err = loadSchema(txn, name)
		return err
	})
	return s, err
}

func loadSchema(txn *badger.Txn, name string) (store.Schema, error) {
	item, err := txn.Get(metaKey(name))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return store.Schema{}, fmt.Errorf("%w: %q", store.ErrStoreNotFound, name)
	}
	if err != nil {
		return store.Schema{}, translateError(err)
	}
	var s store.Schema
	err = item.Value(func(val []byte) error {
		return json.Unmarshal(val, &s)
	})
	if err != nil {
		return store.Schema{}, fmt.Errorf("decoding schema %q: %w", name, err)
	}
	return s, nil
}

// collectKeys returns copies of every key under prefix.
func collectKeys(txn *badger.Txn, prefix []byte) ([][]byte, error) {
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = false
	opts.Prefix = prefix
	it := txn.NewIterator(opts)
	defer it.Close()
	var keys [][]byte
	for it.Rewind(); it.ValidForPrefix(prefix); it.Next() {
		keys = append(keys, it.Item().KeyCopy(nil))
	}
	return keys, nil
}

func (d *DB) Begin(stores []string, mode store.Mode) (store.Tx, error) {
	txn := d.db.NewTransaction(mode == store.ReadWrite)
	t := &tx{
		Scope:   store.NewScope(stores, mode),
		txn:     txn,
		schemas: make(map[string]store.Schema, len(stores)),
	}
	for _, name := range stores {
		s, err := loadSchema(txn, name)
		if err != nil {
			txn.Discard()
			return nil, err
		}
		t.schemas[name] = s
	}
	return t, nil
}

// tx serializes access to the badger.Txn, which is not safe for concurrent
// use and allows a single open iterator in read-write mode.
type tx struct {
	mu sync.Mutex
	store.Scope
	txn     *badger.Txn
	schemas map[string]store.Schema
}

// txnSeq keeps a store's key generator inside the transaction.
type txnSeq struct {
	txn  *badger.Txn
	name string
}

func (s txnSeq) current() (uint64, error) {
	item, err := s.txn.Get(seqKey(s.name))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	var n uint64
	err = item.Value(func(val []byte) error {
		if len(val) != 8 {
			return fmt.Errorf("bad sequence value for %q", s.name)
		}
		n = binary.BigEndian.Uint64(val)
		return nil
	})
	return n, err
}

func (s txnSeq) set(n uint64) error {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], n)
	return s.txn.Set(seqKey(s.name), buf[:])
}

func (s txnSeq) Next() (uint64, error) {
	n, err := s.current()
	if err != nil {
		return 0, err
	}
	n++
	return n, s.set(n)
}

func (s txnSeq) Observe(n uint64) error {
	cur, err := s.current()
	if err != nil || n <= cur {
		return err
	}
	return s.set(n)
}

func (t *tx) Cursor(name string) (store.Cursor, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.Check(name, false); err != nil {
		return nil, err
	}
	return &cursor{tx: t, name: name, prefix: storePrefix(name)}, nil
}

func (t *tx) Add(name string, value any) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.Check(name, true); err != nil {
		return err
	}
	key, rec, err := store.Prepare(t.schemas[name], value, txnSeq{txn: t.txn, name: name})
	if err != nil {
		return err
	}
	full := append(storePrefix(name), key...)
	_, err = t.txn.Get(full)
	if err == nil {
		return store.ErrKeyExists
	}
	if !errors.Is(err, badger.ErrKeyNotFound) {
		return translateError(err)
	}
	data, err := record.Marshal(rec)
	if err != nil {
		return err
	}
	return translateError(t.txn.Set(full, data))
}

func (t *tx) Clear(name string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.Check(name, true); err != nil {
		return err
	}
	keys, err := collectKeys(t.txn, storePrefix(name))
	if err != nil {
		return translateError(err)
	}
	for _, k := range keys {
		if err := t.txn.Delete(k); err != nil {
			return translateError(err)
		}
	}
	return nil
}

func (t *tx) Count(name string) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.Check(name, false); err != nil {
		return 0, err
	}
	keys, err := collectKeys(t.txn, storePrefix(name))
	return len(keys), translateError(err)
}

func (t *tx) Commit() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.Finish() {
		return store.ErrTxDone
	}
	if t.Mode != store.ReadWrite {
		t.txn.Discard()
		return nil
	}
	return translateError(t.txn.Commit())
}

func (t *tx) Rollback() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.Finish() {
		t.txn.Discard()
	}
	return nil
}

// cursor opens a short-lived iterator per step, since a read-write badger
// transaction allows only one open iterator at a time.
type cursor struct {
	tx      *tx
	name    string
	prefix  []byte
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

	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = false
	opts.Prefix = c.prefix
	it := c.tx.txn.NewIterator(opts)
	defer it.Close()

	if c.started {
		it.Seek(c.last)
		if it.ValidForPrefix(c.prefix) && bytes.Equal(it.Item().Key(), c.last) {
			it.Next()
		}
	} else {
		it.Rewind()
	}
	if !it.ValidForPrefix(c.prefix) {
		c.done = true
		c.value = nil
		return false
	}

	item := it.Item()
	data, err := item.ValueCopy(nil)
	if err != nil {
		c.err = translateError(err)
		return false
	}
	rec, err := record.Unmarshal(data)
	if err != nil {
		c.err = fmt.Errorf("decoding record in %q: %w", c.name, err)
		return false
	}
	c.last = item.KeyCopy(c.last[:0])
	c.started, c.value = true, rec
	return true
}

func (c *cursor) Value() any { return c.value }

func (c *cursor) Err() error { return c.err }

func (c *cursor) Close() error {
	c.done = true
	return nil
}

// badgerLogger forwards badger's printf-style logs to slog.
type badgerLogger struct{}

func (badgerLogger) Errorf(format string, args ...any) {
	logger.Error(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (badgerLogger) Warningf(format string, args ...any) {
	logger.Warn(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (badgerLogger) Infof(format string, args ...any) {
	logger.Debug(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (badgerLogger) Debugf(format string, args ...any) {
	logger.Debug(strings.TrimSpace(fmt.Sprintf(format, args...)))
}
