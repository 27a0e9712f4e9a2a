package dump

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"storedump/internal/tagged"
)

// encodeDocument serializes doc, replacing byte buffers per o.format.
// Empty stores serialize as [] and HTML characters are not escaped.
func encodeDocument(doc map[string][]any, o options) ([]byte, error) {
	out := make(map[string][]any, len(doc))
	for name, recs := range doc {
		vals := make([]any, len(recs))
		for i, r := range recs {
			vals[i] = o.format.Tag(r)
		}
		out[name] = vals
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if o.indent != "" {
		enc.SetIndent("", o.indent)
	}
	if err := enc.Encode(out); err != nil {
		return nil, fmt.Errorf("encoding document: %w", err)
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

// decodeDocument parses import text and restores byte buffers per f.
// A store whose value is null is treated as empty.
func decodeDocument(text []byte, f tagged.Format) (map[string][]any, error) {
	var doc map[string][]any
	if err := json.Unmarshal(text, &doc); err != nil {
		var syn *json.SyntaxError
		if errors.As(err, &syn) {
			return nil, &ParseError{Err: fmt.Errorf("offset %d: %w", syn.Offset, err)}
		}
		return nil, &ParseError{Err: err}
	}
	if doc == nil {
		return nil, &ParseError{Err: errors.New("document is not an object")}
	}
	for name, recs := range doc {
		if recs == nil {
			doc[name] = []any{}
			continue
		}
		for i, r := range recs {
			recs[i] = f.Untag(r)
		}
	}
	return doc, nil
}
