package tagged

import (
	"bytes"
	"encoding/json"
	"testing"
)

func TestEncodeDecodeEveryByte(t *testing.T) {
	for i := 0; i < 256; i++ {
		in := []byte{byte(i)}
		enc := Encode(in)
		if got := []rune(enc); len(got) != 1 || got[0] != rune(i) {
			t.Fatalf("Encode(%d) = %q", i, enc)
		}
		if out := Decode(enc); !bytes.Equal(out, in) {
			t.Fatalf("Decode(Encode(%d)) = %v", i, out)
		}
	}
}

func TestEncodeDecodeLengths(t *testing.T) {
	long := make([]byte, 300)
	for i := range long {
		long[i] = byte(i * 7)
	}
	all := make([]byte, 256)
	for i := range all {
		all[i] = byte(i)
	}
	for _, in := range [][]byte{{}, {42}, long, all} {
		out := Decode(Encode(in))
		if !bytes.Equal(out, in) {
			t.Fatalf("round trip of %d bytes changed content", len(in))
		}
		if len(out) != len(in) {
			t.Fatalf("round trip length: got %d, want %d", len(out), len(in))
		}
	}
}

func TestDecodeTruncatesWideRunes(t *testing.T) {
	got := Decode("ŁA")
	if !bytes.Equal(got, []byte{0x41, 'A'}) {
		t.Fatalf("Decode: got %v", got)
	}
}

func TestEncodedJSONIsOneCodeUnitPerByte(t *testing.T) {
	data, err := json.Marshal(EncodeTagged([]byte{0, 255, 16}))
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != `"@ab:\u0000ÿ\u0010"` {
		t.Fatalf("json: got %s", data)
	}
}

type blob []byte

func TestIsBinary(t *testing.T) {
	tests := []struct {
		v    any
		want bool
	}{
		{[]byte("x"), true},
		{[]byte{}, true},
		{blob("x"), true},
		{[4]byte{1, 2, 3, 4}, true},
		{"bytes", false},
		{[]int{1}, false},
		{[]any{byte(1)}, false},
		{nil, false},
		{3.5, false},
		{map[string]any{}, false},
	}
	for _, tt := range tests {
		if got := IsBinary(tt.v); got != tt.want {
			t.Errorf("IsBinary(%#v) = %v, want %v", tt.v, got, tt.want)
		}
	}
}

func TestBytesFromArray(t *testing.T) {
	if got := Bytes([3]byte{1, 2, 3}); !bytes.Equal(got, []byte{1, 2, 3}) {
		t.Fatalf("Bytes: got %v", got)
	}
	if got := Bytes(blob{9}); !bytes.Equal(got, []byte{9}) {
		t.Fatalf("Bytes: got %v", got)
	}
}

func TestParseFormat(t *testing.T) {
	for in, want := range map[string]Format{"": FormatSentinel, "sentinel": FormatSentinel, " Marker ": FormatMarker} {
		got, err := ParseFormat(in)
		if err != nil || got != want {
			t.Errorf("ParseFormat(%q) = %v, %v", in, got, err)
		}
	}
	if _, err := ParseFormat("base64"); err == nil {
		t.Error("expected error for unknown format")
	}
}

func TestTagSentinel(t *testing.T) {
	in := map[string]any{
		"id":   2.0,
		"buf":  []byte{0, 255, 16},
		"list": []any{[]byte{1}, "s"},
	}
	out := FormatSentinel.Tag(in).(map[string]any)
	if out["buf"] != Sentinel+"\u0000ÿ\u0010" {
		t.Fatalf("buf: got %q", out["buf"])
	}
	if out["list"].([]any)[0] != Sentinel+"\u0001" {
		t.Fatalf("list[0]: got %q", out["list"].([]any)[0])
	}
	// input untouched
	if _, ok := in["buf"].([]byte); !ok {
		t.Fatal("Tag must not modify its input")
	}
}

func TestUntagSentinelRoundTrip(t *testing.T) {
	in := map[string]any{"buf": []byte{0, 255, 16}, "s": "plain"}
	data, err := json.Marshal(FormatSentinel.Tag(in))
	if err != nil {
		t.Fatal(err)
	}
	var parsed any
	if err := json.Unmarshal(data, &parsed); err != nil {
		t.Fatal(err)
	}
	out := FormatSentinel.Untag(parsed).(map[string]any)
	if !bytes.Equal(out["buf"].([]byte), []byte{0, 255, 16}) {
		t.Fatalf("buf: got %v", out["buf"])
	}
	if out["s"] != "plain" {
		t.Fatalf("s: got %v", out["s"])
	}
}

func TestUntagSentinelCollision(t *testing.T) {
	// A plain string that starts with the sentinel is read back as bytes.
	out := FormatSentinel.Untag(Sentinel + "hi")
	b, ok := out.([]byte)
	if !ok {
		t.Fatalf("expected []byte, got %T", out)
	}
	if !bytes.Equal(b, []byte("hi")) {
		t.Fatalf("got %v", b)
	}
}

func TestMarkerRoundTrip(t *testing.T) {
	in := []any{map[string]any{"buf": []byte{0, 255, 16}}, Sentinel + "kept"}
	data, err := json.Marshal(FormatMarker.Tag(in))
	if err != nil {
		t.Fatal(err)
	}
	want := `[{"buf":{"$type":"bytes","data":"AP8Q"}},"@ab:kept"]`
	if string(data) != want {
		t.Fatalf("json: got %s, want %s", data, want)
	}
	var parsed any
	if err := json.Unmarshal(data, &parsed); err != nil {
		t.Fatal(err)
	}
	out := FormatMarker.Untag(parsed).([]any)
	if !bytes.Equal(out[0].(map[string]any)["buf"].([]byte), []byte{0, 255, 16}) {
		t.Fatalf("buf: got %v", out[0])
	}
	if out[1] != Sentinel+"kept" {
		t.Fatalf("marker format must leave sentinel strings alone, got %v", out[1])
	}
}

func TestMarkerIgnoresLookalikes(t *testing.T) {
	in := map[string]any{"$type": "bytes", "data": "not base64!", "x": 1.0}
	out := FormatMarker.Untag(in)
	if _, ok := out.(map[string]any); !ok {
		t.Fatalf("expected map, got %T", out)
	}
	bad := map[string]any{"$type": "bytes", "data": "%%%"}
	if _, ok := FormatMarker.Untag(bad).(map[string]any); !ok {
		t.Fatal("invalid base64 must not decode")
	}
}
