// Package tagged carries raw byte buffers through JSON, which has no binary type.
//
// A byte buffer is written as a string made of the sentinel followed by one
// character per byte, each character's code point equal to the byte value
// (U+0000..U+00FF). In JSON text this is exactly one UTF-16 code unit per byte.
// Any string that starts with the sentinel is read back as a byte buffer, so a
// plain string value that happens to begin with the sentinel does not survive
// a round trip. That ambiguity is part of the format.
package tagged

import (
	"reflect"
	"strings"
	"unicode/utf8"
)

// Sentinel prefixes every encoded byte buffer.
const Sentinel = "@ab:"

var byteType = reflect.TypeOf(byte(0))

// IsBinary reports whether v is a byte buffer: a []byte, or any value whose
// underlying kind is a slice or array of bytes (named byte types, [N]byte).
func IsBinary(v any) bool {
	switch v.(type) {
	case nil:
		return false
	case []byte:
		return true
	}
	t := reflect.TypeOf(v)
	switch t.Kind() {
	case reflect.Slice, reflect.Array:
		return t.Elem() == byteType
	}
	return false
}

// Bytes returns the content of a value for which IsBinary is true.
func Bytes(v any) []byte {
	if b, ok := v.([]byte); ok {
		return b
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice:
		return rv.Bytes()
	case reflect.Array:
		out := make([]byte, rv.Len())
		reflect.Copy(reflect.ValueOf(out), rv)
		return out
	}
	return nil
}

// Encode maps each byte to the character with the same code point.
// The sentinel is not added.
func Encode(b []byte) string {
	var sb strings.Builder
	sb.Grow(len(b) * 2)
	for _, c := range b {
		sb.WriteRune(rune(c))
	}
	return sb.String()
}

// Decode is the inverse of Encode. Characters above U+00FF are truncated to
// their low byte.
func Decode(body string) []byte {
	out := make([]byte, 0, utf8.RuneCountInString(body))
	for _, r := range body {
		out = append(out, byte(r))
	}
	return out
}

// IsTagged reports whether s carries an encoded byte buffer.
func IsTagged(s string) bool {
	return strings.HasPrefix(s, Sentinel)
}

// EncodeTagged returns Sentinel followed by Encode(b).
func EncodeTagged(b []byte) string {
	return Sentinel + Encode(b)
}
