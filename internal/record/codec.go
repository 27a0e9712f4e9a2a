package record

import (
	"errors"
	"fmt"
	"math"

	"google.golang.org/protobuf/encoding/protowire"
)

// Wire layout, compatible with this message set:
//
//	message Value {
//	  oneof kind {
//	    NullValue null_value = 1;
//	    bool bool_value = 2;
//	    double number_value = 3;
//	    string string_value = 4;
//	    bytes bytes_value = 5;
//	    ListValue list_value = 6;
//	    Struct struct_value = 7;
//	  }
//	}
//	message ListValue { repeated Value values = 1; }
//	message Struct { repeated Entry entries = 1; }
//	message Entry { string key = 1; Value value = 2; }
//
// Struct entries are written in key order so equal values encode identically.
const (
	fieldNull   protowire.Number = 1
	fieldBool   protowire.Number = 2
	fieldNumber protowire.Number = 3
	fieldString protowire.Number = 4
	fieldBytes  protowire.Number = 5
	fieldList   protowire.Number = 6
	fieldStruct protowire.Number = 7

	fieldItem     protowire.Number = 1
	fieldEntryKey protowire.Number = 1
	fieldEntryVal protowire.Number = 2
)

// maxDepth bounds nesting on decode.
const maxDepth = 256

var ErrCorrupt = errors.New("corrupt record encoding")

// Marshal encodes a normalized value.
func Marshal(v any) ([]byte, error) {
	return appendValue(nil, v)
}

func appendValue(b []byte, v any) ([]byte, error) {
	switch t := v.(type) {
	case nil:
		b = protowire.AppendTag(b, fieldNull, protowire.VarintType)
		return protowire.AppendVarint(b, 0), nil
	case bool:
		b = protowire.AppendTag(b, fieldBool, protowire.VarintType)
		return protowire.AppendVarint(b, protowire.EncodeBool(t)), nil
	case float64:
		b = protowire.AppendTag(b, fieldNumber, protowire.Fixed64Type)
		return protowire.AppendFixed64(b, math.Float64bits(t)), nil
	case string:
		b = protowire.AppendTag(b, fieldString, protowire.BytesType)
		return protowire.AppendString(b, t), nil
	case []byte:
		b = protowire.AppendTag(b, fieldBytes, protowire.BytesType)
		return protowire.AppendBytes(b, t), nil
	case []any:
		var list []byte
		for i, e := range t {
			item, err := appendValue(nil, e)
			if err != nil {
				return nil, fmt.Errorf("index %d: %w", i, err)
			}
			list = protowire.AppendTag(list, fieldItem, protowire.BytesType)
			list = protowire.AppendBytes(list, item)
		}
		b = protowire.AppendTag(b, fieldList, protowire.BytesType)
		return protowire.AppendBytes(b, list), nil
	case map[string]any:
		var st []byte
		for _, k := range sortedKeys(t) {
			val, err := appendValue(nil, t[k])
			if err != nil {
				return nil, fmt.Errorf("field %q: %w", k, err)
			}
			var entry []byte
			entry = protowire.AppendTag(entry, fieldEntryKey, protowire.BytesType)
			entry = protowire.AppendString(entry, k)
			entry = protowire.AppendTag(entry, fieldEntryVal, protowire.BytesType)
			entry = protowire.AppendBytes(entry, val)
			st = protowire.AppendTag(st, fieldItem, protowire.BytesType)
			st = protowire.AppendBytes(st, entry)
		}
		b = protowire.AppendTag(b, fieldStruct, protowire.BytesType)
		return protowire.AppendBytes(b, st), nil
	}
	return nil, fmt.Errorf("%w: %T", ErrUnsupported, v)
}

// Unmarshal decodes a value written by Marshal. Byte buffers in the result
// never alias data.
func Unmarshal(data []byte) (any, error) {
	return consumeValue(data, 0)
}

func consumeValue(b []byte, depth int) (any, error) {
	if depth > maxDepth {
		return nil, fmt.Errorf("%w: nesting too deep", ErrCorrupt)
	}
	var out any
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, corrupt(n)
		}
		b = b[n:]
		switch {
		case num == fieldNull && typ == protowire.VarintType:
			_, n = protowire.ConsumeVarint(b)
			out = nil
		case num == fieldBool && typ == protowire.VarintType:
			var x uint64
			x, n = protowire.ConsumeVarint(b)
			out = protowire.DecodeBool(x)
		case num == fieldNumber && typ == protowire.Fixed64Type:
			var x uint64
			x, n = protowire.ConsumeFixed64(b)
			out = math.Float64frombits(x)
		case num == fieldString && typ == protowire.BytesType:
			var x []byte
			x, n = protowire.ConsumeBytes(b)
			out = string(x)
		case num == fieldBytes && typ == protowire.BytesType:
			var x []byte
			x, n = protowire.ConsumeBytes(b)
			out = append([]byte{}, x...)
		case num == fieldList && typ == protowire.BytesType:
			var x []byte
			x, n = protowire.ConsumeBytes(b)
			if n >= 0 {
				list, err := consumeList(x, depth+1)
				if err != nil {
					return nil, err
				}
				out = list
			}
		case num == fieldStruct && typ == protowire.BytesType:
			var x []byte
			x, n = protowire.ConsumeBytes(b)
			if n >= 0 {
				st, err := consumeStruct(x, depth+1)
				if err != nil {
					return nil, err
				}
				out = st
			}
		default:
			n = protowire.ConsumeFieldValue(num, typ, b)
		}
		if n < 0 {
			return nil, corrupt(n)
		}
		b = b[n:]
	}
	return out, nil
}

func consumeList(b []byte, depth int) ([]any, error) {
	list := []any{}
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, corrupt(n)
		}
		b = b[n:]
		if num != fieldItem || typ != protowire.BytesType {
			if n = protowire.ConsumeFieldValue(num, typ, b); n < 0 {
				return nil, corrupt(n)
			}
			b = b[n:]
			continue
		}
		item, n := protowire.ConsumeBytes(b)
		if n < 0 {
			return nil, corrupt(n)
		}
		v, err := consumeValue(item, depth)
		if err != nil {
			return nil, err
		}
		list = append(list, v)
		b = b[n:]
	}
	return list, nil
}

func consumeStruct(b []byte, depth int) (map[string]any, error) {
	st := make(map[string]any)
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, corrupt(n)
		}
		b = b[n:]
		if num != fieldItem || typ != protowire.BytesType {
			if n = protowire.ConsumeFieldValue(num, typ, b); n < 0 {
				return nil, corrupt(n)
			}
			b = b[n:]
			continue
		}
		entry, n := protowire.ConsumeBytes(b)
		if n < 0 {
			return nil, corrupt(n)
		}
		k, v, err := consumeEntry(entry, depth)
		if err != nil {
			return nil, err
		}
		st[k] = v
		b = b[n:]
	}
	return st, nil
}

func consumeEntry(b []byte, depth int) (string, any, error) {
	var key string
	var val any
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return "", nil, corrupt(n)
		}
		b = b[n:]
		switch {
		case num == fieldEntryKey && typ == protowire.BytesType:
			var x []byte
			x, n = protowire.ConsumeBytes(b)
			key = string(x)
		case num == fieldEntryVal && typ == protowire.BytesType:
			var x []byte
			x, n = protowire.ConsumeBytes(b)
			if n >= 0 {
				v, err := consumeValue(x, depth)
				if err != nil {
					return "", nil, err
				}
				val = v
			}
		default:
			n = protowire.ConsumeFieldValue(num, typ, b)
		}
		if n < 0 {
			return "", nil, corrupt(n)
		}
		b = b[n:]
	}
	return key, val, nil
}

func corrupt(n int) error {
	return fmt.Errorf("%w: %v", ErrCorrupt, protowire.ParseError(n))
}
