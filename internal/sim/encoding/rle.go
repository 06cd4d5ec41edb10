package encoding

import (
	"bytes"
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"math"
)

// EncodeRLE encodes a dense voxel array into base64(varint pairs).
// The pairs are (value, run_len) repeated.
func EncodeRLE(vals []uint32) string {
	var buf bytes.Buffer
	var tmp [binary.MaxVarintLen64]byte

	i := 0
	for i < len(vals) {
		v := vals[i]
		run := 1
		for j := i + 1; j < len(vals) && vals[j] == v && run < 1<<31; j++ {
			run++
		}

		n := binary.PutUvarint(tmp[:], uint64(v))
		buf.Write(tmp[:n])
		n = binary.PutUvarint(tmp[:], uint64(run))
		buf.Write(tmp[:n])

		i += run
	}

	return base64.StdEncoding.EncodeToString(buf.Bytes())
}

// DecodeRLE reverses EncodeRLE. limit caps the decoded length (0 = no cap).
func DecodeRLE(b64 string, limit int) ([]uint32, error) {
	raw, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return nil, err
	}
	var out []uint32
	for i := 0; i < len(raw); {
		v, n := binary.Uvarint(raw[i:])
		if n <= 0 {
			return nil, fmt.Errorf("bad varint at %d", i)
		}
		i += n
		run, n := binary.Uvarint(raw[i:])
		if n <= 0 {
			return nil, fmt.Errorf("bad varint at %d", i)
		}
		i += n
		if v > math.MaxUint32 {
			return nil, fmt.Errorf("value too large: %d", v)
		}
		if run == 0 {
			return nil, fmt.Errorf("zero run at %d", i)
		}
		if limit > 0 && uint64(len(out))+run > uint64(limit) {
			return nil, fmt.Errorf("decoded length exceeds %d", limit)
		}
		for k := uint64(0); k < run; k++ {
			out = append(out, uint32(v))
		}
	}
	return out, nil
}
