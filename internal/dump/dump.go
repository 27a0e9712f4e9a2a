// Package dump exports every store of a database to one JSON document,
// imports such a document back, and clears all stores.
//
// Each operation runs inside a single transaction spanning every store of
// the database. Work is fanned out with one goroutine per store and joined
// on a completion tracker; the first failure cancels the rest and the
// transaction is rolled back, so an operation either fully succeeds or
// reports exactly one error.
//
// The document is a JSON object mapping store name to the array of that
// store's records in iteration order:
//
//	{"a":[{"id":1,"v":"x"}],"b":[]}
//
// Byte buffers inside records are written as tagged strings (see package
// tagged) or, with WithFormat(tagged.FormatMarker), as marker objects.
package dump

import (
	"errors"
	"fmt"

	"storedump/internal/logging"
	"storedump/internal/tagged"
)

var logger = logging.For("dump")

// ErrUnknownStore is returned by Import when the document names a store the
// database does not have.
var ErrUnknownStore = errors.New("document references unknown store")

// ParseError reports import text that is not a valid document.
type ParseError struct {
	Err error
}

func (e *ParseError) Error() string {
	return "parsing import document: " + e.Err.Error()
}

func (e *ParseError) Unwrap() error { return e.Err }

// RecordError identifies the record whose insertion failed an import.
type RecordError struct {
	Store string
	Index int
	Err   error
}

func (e *RecordError) Error() string {
	return fmt.Sprintf("store %q record %d: %v", e.Store, e.Index, e.Err)
}

func (e *RecordError) Unwrap() error { return e.Err }

type options struct {
	format tagged.Format
	indent string
}

// Option configures Export and Import.
type Option func(*options)

// WithFormat selects how byte buffers are represented. Import must use the
// format the document was exported with.
func WithFormat(f tagged.Format) Option {
	return func(o *options) { o.format = f }
}

// WithIndent pretty-prints the exported document. Ignored by Import.
func WithIndent(indent string) Option {
	return func(o *options) { o.indent = indent }
}

func newOptions(opts []Option) options {
	o := options{format: tagged.FormatSentinel}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
