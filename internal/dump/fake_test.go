package dump

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"storedump/internal/store"
	"storedump/internal/store/memory"
	"storedump/internal/store/storetest"
)

var errInjected = errors.New("injected failure")

// fakeDB wraps the in-memory engine. Gated stores block every Cursor, Add
// and Clear call until the test hands out a token, and report on ack once
// the call (or, for cursors, the whole iteration) has finished. This lets a
// test dictate the order in which stores complete.
type fakeDB struct {
	store.DB

	gates map[string]chan struct{}
	acks  map[string]chan struct{}

	beginErr  error
	cursorErr map[string]error
	addErr    map[string]error
	clearErr  map[string]error
	commitErr error

	begins    atomic.Int32
	commits   atomic.Int32
	rollbacks atomic.Int32
}

func newFakeDB() *fakeDB {
	return &fakeDB{
		DB:        memory.New(),
		cursorErr: make(map[string]error),
		addErr:    make(map[string]error),
		clearErr:  make(map[string]error),
	}
}

// gate makes every operation on the named stores wait for release.
func (f *fakeDB) gate(names ...string) {
	f.gates = make(map[string]chan struct{}, len(names))
	f.acks = make(map[string]chan struct{}, len(names))
	for _, name := range names {
		f.gates[name] = make(chan struct{})
		f.acks[name] = make(chan struct{}, 64)
	}
}

// release lets one gated call on each store in order proceed, waiting for
// that call to finish before moving on.
func (f *fakeDB) release(t *testing.T, order ...string) {
	t.Helper()
	for _, name := range order {
		select {
		case f.gates[name] <- struct{}{}:
		case <-time.After(5 * time.Second):
			t.Fatalf("store %q never asked for a token", name)
		}
		select {
		case <-f.acks[name]:
		case <-time.After(5 * time.Second):
			t.Fatalf("store %q never finished", name)
		}
	}
}

func (f *fakeDB) wait(name string) {
	if g, ok := f.gates[name]; ok {
		<-g
	}
}

func (f *fakeDB) ack(name string) {
	if a, ok := f.acks[name]; ok {
		a <- struct{}{}
	}
}

func (f *fakeDB) Begin(stores []string, mode store.Mode) (store.Tx, error) {
	f.begins.Add(1)
	if f.beginErr != nil {
		return nil, f.beginErr
	}
	tx, err := f.DB.Begin(stores, mode)
	if err != nil {
		return nil, err
	}
	return &fakeTx{Tx: tx, db: f}, nil
}

type fakeTx struct {
	store.Tx
	db   *fakeDB
	once sync.Once
}

func (t *fakeTx) Cursor(name string) (store.Cursor, error) {
	t.db.wait(name)
	if err := t.db.cursorErr[name]; err != nil {
		t.db.ack(name)
		return nil, err
	}
	cur, err := t.Tx.Cursor(name)
	if err != nil {
		t.db.ack(name)
		return nil, err
	}
	return &fakeCursor{Cursor: cur, db: t.db, name: name}, nil
}

func (t *fakeTx) Add(name string, value any) error {
	t.db.wait(name)
	defer t.db.ack(name)
	if err := t.db.addErr[name]; err != nil {
		return err
	}
	return t.Tx.Add(name, value)
}

func (t *fakeTx) Clear(name string) error {
	t.db.wait(name)
	defer t.db.ack(name)
	if err := t.db.clearErr[name]; err != nil {
		return err
	}
	return t.Tx.Clear(name)
}

func (t *fakeTx) Commit() error {
	if t.db.commitErr != nil {
		return t.db.commitErr
	}
	err := t.Tx.Commit()
	if err == nil {
		t.db.commits.Add(1)
	}
	return err
}

func (t *fakeTx) Rollback() error {
	err := t.Tx.Rollback()
	t.once.Do(func() { t.db.rollbacks.Add(1) })
	return err
}

type fakeCursor struct {
	store.Cursor
	db   *fakeDB
	name string
	done bool
}

func (c *fakeCursor) Next() bool {
	ok := c.Cursor.Next()
	if !ok && !c.done {
		c.done = true
		c.db.ack(c.name)
	}
	return ok
}

// fill seeds the wrapped engine directly so setup does not touch counters.
func (f *fakeDB) fill(t *testing.T, s store.Schema, records ...any) {
	t.Helper()
	storetest.Fill(t, f.DB, s, records...)
}
