package tagged

import (
	"encoding/base64"
	"fmt"
	"strings"
)

// Format selects how byte buffers appear in JSON.
type Format int

const (
	// FormatSentinel writes byte buffers as sentinel-prefixed strings.
	FormatSentinel Format = iota
	// FormatMarker writes byte buffers as {"$type":"bytes","data":"<base64>"}.
	FormatMarker
)

// Marker object keys used by FormatMarker.
const (
	MarkerTypeKey  = "$type"
	MarkerDataKey  = "data"
	MarkerTypeName = "bytes"
)

// ParseFormat accepts "sentinel" (or "") and "marker".
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "sentinel":
		return FormatSentinel, nil
	case "marker":
		return FormatMarker, nil
	}
	return 0, fmt.Errorf("unknown binary format %q", s)
}

func (f Format) String() string {
	switch f {
	case FormatSentinel:
		return "sentinel"
	case FormatMarker:
		return "marker"
	}
	return fmt.Sprintf("Format(%d)", int(f))
}

// Tag returns a copy of v in which every byte buffer is replaced by its JSON
// stand-in. Maps and slices are copied; other leaves are returned as is.
func (f Format) Tag(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = f.Tag(e)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = f.Tag(e)
		}
		return out
	}
	if !IsBinary(v) {
		return v
	}
	b := Bytes(v)
	if f == FormatMarker {
		return map[string]any{
			MarkerTypeKey: MarkerTypeName,
			MarkerDataKey: base64.StdEncoding.EncodeToString(b),
		}
	}
	return EncodeTagged(b)
}

// Untag reverses Tag on a tree produced by encoding/json. Values are
// rewritten in place where possible.
func (f Format) Untag(v any) any {
	switch t := v.(type) {
	case string:
		if f == FormatSentinel && IsTagged(t) {
			return Decode(t[len(Sentinel):])
		}
		return t
	case map[string]any:
		if f == FormatMarker {
			if b, ok := markerBytes(t); ok {
				return b
			}
		}
		for k, e := range t {
			t[k] = f.Untag(e)
		}
		return t
	case []any:
		for i, e := range t {
			t[i] = f.Untag(e)
		}
		return t
	}
	return v
}

func markerBytes(m map[string]any) ([]byte, bool) {
	if len(m) != 2 || m[MarkerTypeKey] != MarkerTypeName {
		return nil, false
	}
	data, ok := m[MarkerDataKey].(string)
	if !ok {
		return nil, false
	}
	b, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return nil, false
	}
	return b, true
}
