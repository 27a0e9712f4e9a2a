package store

import (
	"bytes"
	"math"
	"sort"
	"testing"

	"github.com/stretchr/testify/require"
)

type testSeq struct {
	next uint64
}

func (s *testSeq) Next() (uint64, error) {
	s.next++
	return s.next, nil
}

func (s *testSeq) Observe(n uint64) error {
	if n > s.next {
		s.next = n
	}
	return nil
}

func TestEncodeKeyOrder(t *testing.T) {
	ordered := []any{
		math.Inf(-1), -100.5, -1.0, 0.0, 0.25, 1.0, 2.0, 1e9, math.Inf(1),
		"", "a", "ab", "b",
		[]byte{}, []byte{0}, []byte{1, 2},
	}
	var encoded [][]byte
	for _, k := range ordered {
		b, err := EncodeKey(k)
		require.NoError(t, err)
		encoded = append(encoded, b)
	}
	require.True(t, sort.SliceIsSorted(encoded, func(i, j int) bool {
		return bytes.Compare(encoded[i], encoded[j]) < 0
	}))
}

func TestEncodeKeyNegativeZero(t *testing.T) {
	a, err := EncodeKey(0.0)
	require.NoError(t, err)
	b, err := EncodeKey(math.Copysign(0, -1))
	require.NoError(t, err)
	require.Equal(t, a, b)
}

func TestEncodeKeyInvalid(t *testing.T) {
	for _, k := range []any{nil, true, math.NaN(), []any{1.0}, map[string]any{}} {
		_, err := EncodeKey(k)
		require.ErrorIs(t, err, ErrInvalidKey, "key %#v", k)
	}
}

func TestPrepareOutOfLine(t *testing.T) {
	seq := &testSeq{}
	k1, rec, err := Prepare(Schema{Name: "s"}, map[string]any{"v": 1}, seq)
	require.NoError(t, err)
	require.Equal(t, map[string]any{"v": 1.0}, rec)
	k2, _, err := Prepare(Schema{Name: "s"}, "scalar", seq)
	require.NoError(t, err)
	require.Negative(t, bytes.Compare(k1, k2))
}

func TestPrepareInline(t *testing.T) {
	s := Schema{Name: "s", KeyPath: "id"}
	key, _, err := Prepare(s, map[string]any{"id": "abc"}, &testSeq{})
	require.NoError(t, err)
	want, _ := EncodeKey("abc")
	require.Equal(t, want, key)

	_, _, err = Prepare(s, map[string]any{"other": 1}, &testSeq{})
	require.ErrorIs(t, err, ErrMissingKey)

	_, _, err = Prepare(s, map[string]any{"id": true}, &testSeq{})
	require.ErrorIs(t, err, ErrInvalidKey)
}

func TestPrepareAutoIncrementInjects(t *testing.T) {
	s := Schema{Name: "s", KeyPath: "meta.id", AutoIncrement: true}
	seq := &testSeq{}
	_, rec, err := Prepare(s, map[string]any{"v": "x"}, seq)
	require.NoError(t, err)
	require.Equal(t, map[string]any{"v": "x", "meta": map[string]any{"id": 1.0}}, rec)
}

func TestPrepareAutoIncrementObserves(t *testing.T) {
	s := Schema{Name: "s", KeyPath: "id", AutoIncrement: true}
	seq := &testSeq{}
	_, _, err := Prepare(s, map[string]any{"id": 10}, seq)
	require.NoError(t, err)
	_, rec, err := Prepare(s, map[string]any{}, seq)
	require.NoError(t, err)
	require.Equal(t, map[string]any{"id": 11.0}, rec)
}

func TestScope(t *testing.T) {
	sc := NewScope([]string{"a", "b"}, ReadOnly)
	require.NoError(t, sc.Check("a", false))
	require.ErrorIs(t, sc.Check("a", true), ErrReadOnly)
	require.ErrorIs(t, sc.Check("c", false), ErrNotInScope)
	require.ElementsMatch(t, []string{"a", "b"}, sc.Stores())
	require.True(t, sc.Finish())
	require.False(t, sc.Finish())
	require.True(t, sc.Done())
	require.ErrorIs(t, sc.Check("a", false), ErrTxDone)
}

func TestSchemaValidate(t *testing.T) {
	require.ErrorIs(t, Schema{}.Validate(), ErrInvalidSchema)
	require.NoError(t, Schema{Name: "x"}.Validate())
}
