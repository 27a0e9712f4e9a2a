// Package storetest holds the conformance tests every store engine runs.
package storetest

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"storedump/internal/record"
	"storedump/internal/store"
)

// Opener returns a fresh, empty database. It registers its own cleanup.
type Opener func(t *testing.T) store.DB

// Run executes the whole suite against databases produced by open.
func Run(t *testing.T, open Opener) {
	t.Run("Stores", func(t *testing.T) { testStores(t, open(t)) })
	t.Run("BeginUnknownStore", func(t *testing.T) { testBeginUnknownStore(t, open(t)) })
	t.Run("AddAndIterate", func(t *testing.T) { testAddAndIterate(t, open(t)) })
	t.Run("Rollback", func(t *testing.T) { testRollback(t, open(t)) })
	t.Run("DuplicateKey", func(t *testing.T) { testDuplicateKey(t, open(t)) })
	t.Run("ScopeAndMode", func(t *testing.T) { testScopeAndMode(t, open(t)) })
	t.Run("Clear", func(t *testing.T) { testClear(t, open(t)) })
	t.Run("Binary", func(t *testing.T) { testBinary(t, open(t)) })
	t.Run("AutoIncrement", func(t *testing.T) { testAutoIncrement(t, open(t)) })
	t.Run("ConcurrentAdd", func(t *testing.T) { testConcurrentAdd(t, open(t)) })
	t.Run("ConcurrentCursors", func(t *testing.T) { testConcurrentCursors(t, open(t)) })
}

// Fill creates a store with schema s and adds records in one transaction.
func Fill(t *testing.T, db store.DB, s store.Schema, records ...any) {
	t.Helper()
	require.NoError(t, db.CreateStore(s))
	if len(records) == 0 {
		return
	}
	tx, err := db.Begin([]string{s.Name}, store.ReadWrite)
	require.NoError(t, err)
	for _, r := range records {
		require.NoError(t, tx.Add(s.Name, r))
	}
	require.NoError(t, tx.Commit())
}

// ReadAll returns the records of a store in iteration order.
func ReadAll(t *testing.T, db store.DB, name string) []any {
	t.Helper()
	tx, err := db.Begin([]string{name}, store.ReadOnly)
	require.NoError(t, err)
	defer func() { _ = tx.Rollback() }()
	return readTx(t, tx, name)
}

func readTx(t *testing.T, tx store.Tx, name string) []any {
	t.Helper()
	cur, err := tx.Cursor(name)
	require.NoError(t, err)
	defer func() { _ = cur.Close() }()
	out := []any{}
	for cur.Next() {
		out = append(out, cur.Value())
	}
	require.NoError(t, cur.Err())
	return out
}

func requireRecords(t *testing.T, want, got []any) {
	t.Helper()
	require.Len(t, got, len(want))
	for i := range want {
		require.Truef(t, record.Equal(want[i], got[i]), "record %d: got %#v, want %#v", i, got[i], want[i])
	}
}

func testStores(t *testing.T, db store.DB) {
	names, err := db.StoreNames()
	require.NoError(t, err)
	require.Empty(t, names)

	require.NoError(t, db.CreateStore(store.Schema{Name: "b", KeyPath: "id"}))
	require.NoError(t, db.CreateStore(store.Schema{Name: "a"}))
	require.ErrorIs(t, db.CreateStore(store.Schema{Name: "a"}), store.ErrStoreExists)
	require.ErrorIs(t, db.CreateStore(store.Schema{}), store.ErrInvalidSchema)

	names, err = db.StoreNames()
	require.NoError(t, err)
	require.Equal(t, []string{"a", "b"}, names)

	s, err := db.Schema("b")
	require.NoError(t, err)
	require.Equal(t, store.Schema{Name: "b", KeyPath: "id"}, s)
	_, err = db.Schema("zz")
	require.ErrorIs(t, err, store.ErrStoreNotFound)

	require.NoError(t, db.DeleteStore("a"))
	require.ErrorIs(t, db.DeleteStore("a"), store.ErrStoreNotFound)
	names, err = db.StoreNames()
	require.NoError(t, err)
	require.Equal(t, []string{"b"}, names)
}

func testBeginUnknownStore(t *testing.T, db store.DB) {
	require.NoError(t, db.CreateStore(store.Schema{Name: "a"}))
	_, err := db.Begin([]string{"a", "missing"}, store.ReadOnly)
	require.ErrorIs(t, err, store.ErrStoreNotFound)
	_, err = db.Begin([]string{"missing"}, store.ReadWrite)
	require.ErrorIs(t, err, store.ErrStoreNotFound)
}

func testAddAndIterate(t *testing.T, db store.DB) {
	recs := []any{
		map[string]any{"id": 3.0, "v": "c"},
		map[string]any{"id": 1.0, "v": "a"},
		map[string]any{"id": 2.0, "v": "b", "nested": map[string]any{"list": []any{1.0, "x", nil}}},
	}
	Fill(t, db, store.Schema{Name: "s", KeyPath: "id"}, recs...)

	got := ReadAll(t, db, "s")
	requireRecords(t, []any{recs[1], recs[2], recs[0]}, got)

	tx, err := db.Begin([]string{"s"}, store.ReadOnly)
	require.NoError(t, err)
	n, err := tx.Count("s")
	require.NoError(t, err)
	require.Equal(t, 3, n)
	require.NoError(t, tx.Commit())
	require.NoError(t, tx.Rollback(), "Rollback after Commit is a no-op")
}

func testRollback(t *testing.T, db store.DB) {
	Fill(t, db, store.Schema{Name: "s", KeyPath: "id"}, map[string]any{"id": "keep"})

	tx, err := db.Begin([]string{"s"}, store.ReadWrite)
	require.NoError(t, err)
	require.NoError(t, tx.Add("s", map[string]any{"id": "drop"}))
	require.NoError(t, tx.Clear("s"))
	require.NoError(t, tx.Rollback())
	require.ErrorIs(t, tx.Commit(), store.ErrTxDone)

	requireRecords(t, []any{map[string]any{"id": "keep"}}, ReadAll(t, db, "s"))
}

func testDuplicateKey(t *testing.T, db store.DB) {
	Fill(t, db, store.Schema{Name: "s", KeyPath: "id"}, map[string]any{"id": 1.0, "v": "old"})

	tx, err := db.Begin([]string{"s"}, store.ReadWrite)
	require.NoError(t, err)
	require.NoError(t, tx.Add("s", map[string]any{"id": 2.0}))
	err = tx.Add("s", map[string]any{"id": 1.0, "v": "new"})
	require.ErrorIs(t, err, store.ErrKeyExists)
	err = tx.Add("s", map[string]any{"id": 2.0})
	require.ErrorIs(t, err, store.ErrKeyExists)
	require.ErrorIs(t, tx.Add("s", map[string]any{"v": "no key"}), store.ErrMissingKey)
	got := readTx(t, tx, "s")
	require.NoError(t, tx.Commit())

	requireRecords(t, []any{map[string]any{"id": 1.0, "v": "old"}, map[string]any{"id": 2.0}}, got)
}

func testScopeAndMode(t *testing.T, db store.DB) {
	require.NoError(t, db.CreateStore(store.Schema{Name: "a"}))
	require.NoError(t, db.CreateStore(store.Schema{Name: "b"}))

	ro, err := db.Begin([]string{"a"}, store.ReadOnly)
	require.NoError(t, err)
	require.ErrorIs(t, ro.Add("a", "x"), store.ErrReadOnly)
	require.ErrorIs(t, ro.Clear("a"), store.ErrReadOnly)
	_, err = ro.Cursor("b")
	require.ErrorIs(t, err, store.ErrNotInScope)
	require.NoError(t, ro.Rollback())
	_, err = ro.Cursor("a")
	require.ErrorIs(t, err, store.ErrTxDone)

	rw, err := db.Begin([]string{"a"}, store.ReadWrite)
	require.NoError(t, err)
	require.ErrorIs(t, rw.Add("b", "x"), store.ErrNotInScope)
	require.NoError(t, rw.Commit())
	require.ErrorIs(t, rw.Add("a", "x"), store.ErrTxDone)
}

func testClear(t *testing.T, db store.DB) {
	Fill(t, db, store.Schema{Name: "a"}, "x", "y", "z")
	Fill(t, db, store.Schema{Name: "b"}, "keep")

	tx, err := db.Begin([]string{"a", "b"}, store.ReadWrite)
	require.NoError(t, err)
	require.NoError(t, tx.Clear("a"))
	n, err := tx.Count("a")
	require.NoError(t, err)
	require.Zero(t, n)
	require.NoError(t, tx.Commit())

	require.Empty(t, ReadAll(t, db, "a"))
	requireRecords(t, []any{"keep"}, ReadAll(t, db, "b"))

	// Generated keys keep increasing after a clear.
	tx, err = db.Begin([]string{"a"}, store.ReadWrite)
	require.NoError(t, err)
	require.NoError(t, tx.Add("a", "after"))
	require.NoError(t, tx.Commit())
	requireRecords(t, []any{"after"}, ReadAll(t, db, "a"))
}

func testBinary(t *testing.T, db store.DB) {
	all := make([]byte, 256)
	for i := range all {
		all[i] = byte(i)
	}
	rec := map[string]any{"id": 2.0, "buf": []byte{0, 255, 16}, "all": all, "empty": []byte{}}
	Fill(t, db, store.Schema{Name: "s", KeyPath: "id"}, rec)
	requireRecords(t, []any{rec}, ReadAll(t, db, "s"))
}

func testAutoIncrement(t *testing.T, db store.DB) {
	Fill(t, db, store.Schema{Name: "log"}, "first", "second", "third")
	requireRecords(t, []any{"first", "second", "third"}, ReadAll(t, db, "log"))

	Fill(t, db, store.Schema{Name: "items", KeyPath: "id", AutoIncrement: true},
		map[string]any{"v": "a"},
		map[string]any{"id": 5.0, "v": "b"},
		map[string]any{"v": "c"},
	)
	requireRecords(t, []any{
		map[string]any{"id": 1.0, "v": "a"},
		map[string]any{"id": 5.0, "v": "b"},
		map[string]any{"id": 6.0, "v": "c"},
	}, ReadAll(t, db, "items"))
}

func testConcurrentAdd(t *testing.T, db store.DB) {
	const stores, perStore = 4, 25
	var names []string
	for i := 0; i < stores; i++ {
		name := fmt.Sprintf("s%d", i)
		names = append(names, name)
		require.NoError(t, db.CreateStore(store.Schema{Name: name, KeyPath: "id"}))
	}

	tx, err := db.Begin(names, store.ReadWrite)
	require.NoError(t, err)
	var wg sync.WaitGroup
	errs := make(chan error, stores*perStore)
	for _, name := range names {
		name := name
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perStore; j++ {
				errs <- tx.Add(name, map[string]any{"id": float64(j)})
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}
	require.NoError(t, tx.Commit())

	for _, name := range names {
		require.Len(t, ReadAll(t, db, name), perStore)
	}
}

func testConcurrentCursors(t *testing.T, db store.DB) {
	Fill(t, db, store.Schema{Name: "a"}, 1.0, 2.0, 3.0)
	Fill(t, db, store.Schema{Name: "b"}, "x", "y")

	tx, err := db.Begin([]string{"a", "b"}, store.ReadOnly)
	require.NoError(t, err)
	defer func() { _ = tx.Rollback() }()

	ca, err := tx.Cursor("a")
	require.NoError(t, err)
	cb, err := tx.Cursor("b")
	require.NoError(t, err)

	var gotA, gotB []any
	for {
		na, nb := ca.Next(), cb.Next()
		if na {
			gotA = append(gotA, ca.Value())
		}
		if nb {
			gotB = append(gotB, cb.Value())
		}
		if !na && !nb {
			break
		}
	}
	require.NoError(t, ca.Err())
	require.NoError(t, cb.Err())
	require.NoError(t, ca.Close())
	require.NoError(t, cb.Close())
	requireRecords(t, []any{1.0, 2.0, 3.0}, gotA)
	requireRecords(t, []any{"x", "y"}, gotB)
}
