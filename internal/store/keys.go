package store

import (
	"encoding/binary"
	"fmt"
	"math"

	"storedump/internal/record"
)

// Key type tags. Numbers sort before strings, strings before byte buffers.
const (
	keyNumber byte = 0x10
	keyString byte = 0x20
	keyBytes  byte = 0x30
)

// EncodeKey returns an order-preserving byte encoding of a key value.
// Valid keys are non-NaN numbers, strings and byte buffers.
func EncodeKey(k any) ([]byte, error) {
	switch t := k.(type) {
	case float64:
		if math.IsNaN(t) {
			return nil, fmt.Errorf("%w: NaN", ErrInvalidKey)
		}
		if t == 0 {
			t = 0 // fold -0
		}
		bits := math.Float64bits(t)
		if bits&(1<<63) != 0 {
			bits = ^bits
		} else {
			bits |= 1 << 63
		}
		out := make([]byte, 9)
		out[0] = keyNumber
		binary.BigEndian.PutUint64(out[1:], bits)
		return out, nil
	case string:
		return append([]byte{keyString}, t...), nil
	case []byte:
		return append([]byte{keyBytes}, t...), nil
	}
	return nil, fmt.Errorf("%w: %T", ErrInvalidKey, k)
}

// Sequence is a store's key generator.
type Sequence interface {
	// Next returns the next generated key number, starting at 1.
	Next() (uint64, error)
	// Observe moves the generator past an explicitly supplied key.
	Observe(n uint64) error
}

// Prepare normalizes value and derives its storage key under s.
func Prepare(s Schema, value any, seq Sequence) (key []byte, rec any, err error) {
	rec, err = record.Normalize(value)
	if err != nil {
		return nil, nil, err
	}

	if s.KeyPath == "" {
		n, err := seq.Next()
		if err != nil {
			return nil, nil, err
		}
		key, err = EncodeKey(float64(n))
		return key, rec, err
	}

	k, ok := record.Lookup(rec, s.KeyPath)
	if !ok || k == nil {
		if !s.AutoIncrement {
			return nil, nil, fmt.Errorf("%w: %q", ErrMissingKey, s.KeyPath)
		}
		n, err := seq.Next()
		if err != nil {
			return nil, nil, err
		}
		k = float64(n)
		if err := record.Inject(rec, s.KeyPath, k); err != nil {
			return nil, nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
		}
	} else if f, isNum := k.(float64); isNum && s.AutoIncrement && f >= 1 && f == math.Trunc(f) && f < 1<<53 {
		if err := seq.Observe(uint64(f)); err != nil {
			return nil, nil, err
		}
	}

	key, err = EncodeKey(k)
	if err != nil {
		return nil, nil, err
	}
	return key, rec, nil
}
