package encoding

import (
	"encoding/base64"
	"encoding/binary"
	"testing"
)

func TestRLE_RoundTrip(t *testing.T) {
	in := make([]uint32, 0, 200)
	in = append(in, 1, 1, 1, 2, 2, 3)
	for i := 0; i < 50; i++ {
		in = append(in, 0xFFFFFFFF)
	}
	in = append(in, 9, 10, 10, 10)

	enc := EncodeRLE(in)
	out, err := DecodeRLE(enc, 0)
	if err != nil {
		t.Fatalf("DecodeRLE: %v", err)
	}
	if len(out) != len(in) {
		t.Fatalf("len mismatch: got %d want %d", len(out), len(in))
	}
	for i := range in {
		if out[i] != in[i] {
			t.Fatalf("mismatch at %d: got %d want %d", i, out[i], in[i])
		}
	}
}

func TestRLE_Empty(t *testing.T) {
	out, err := DecodeRLE(EncodeRLE(nil), 0)
	if err != nil || len(out) != 0 {
		t.Fatalf("got %v,%v want empty", out, err)
	}
}

func TestRLE_RejectsMalformed(t *testing.T) {
	pairs := func(vals ...uint64) string {
		var b []byte
		for _, v := range vals {
			b = binary.AppendUvarint(b, v)
		}
		return base64.StdEncoding.EncodeToString(b)
	}
	cases := map[string]string{
		"not base64": "!!!",
		"truncated":  base64.StdEncoding.EncodeToString([]byte{0x80}),
		"no run":     pairs(5),
		"zero run":   pairs(5, 0),
		"wide value": pairs(1<<33, 1),
		"over limit": pairs(1, 9),
	}
	for name, s := range cases {
		if _, err := DecodeRLE(s, 8); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}
