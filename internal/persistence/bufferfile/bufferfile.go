// Package bufferfile stores exported GPU buffers as .svo.zst files: a zstd
// stream holding one JSON header line followed by the little-endian words.
package bufferfile

import (
	"bufio"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/klauspost/compress/zstd"

	"voxelmarch.ai/internal/sim/octree"
)

const (
	Version = 1
	Ext     = ".svo.zst"
)

var ErrCorrupt = errors.New("corrupt buffer file")

type Header struct {
	Version   int    `json:"version"`
	LogExtent int    `json:"log_extent"`
	Nodes     int    `json:"nodes"`
	Revision  uint64 `json:"revision"`
	SHA256    string `json:"sha256"` // of the word bytes
}

// Words is the buffer length the header promises.
func (h Header) Words() int { return octree.HeaderWords + octree.RecordWords*h.Nodes }

// Write stores words at path, replacing any existing file only once the new
// one is complete. level is a zstd encoder level (1 fastest .. 4 best).
// The returned header has Nodes, LogExtent and SHA256 filled in.
func Write(path string, revision uint64, words []uint32, level int) (Header, error) {
	var h Header
	if len(words) < octree.HeaderWords+octree.RecordWords || (len(words)-octree.HeaderWords)%octree.RecordWords != 0 {
		return h, fmt.Errorf("bufferfile: bad buffer length %d", len(words))
	}
	raw := octree.EncodeGPUBytes(words)
	sum := sha256.Sum256(raw)
	h = Header{
		Version:   Version,
		LogExtent: int(words[0]),
		Nodes:     (len(words) - octree.HeaderWords) / octree.RecordWords,
		Revision:  revision,
		SHA256:    hex.EncodeToString(sum[:]),
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return h, err
	}
	tmp := path + ".tmp"
	if err := writeFile(tmp, h, raw, level); err != nil {
		_ = os.Remove(tmp)
		return h, err
	}
	return h, os.Rename(tmp, path)
}

func writeFile(path string, h Header, raw []byte, level int) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.EncoderLevel(level)))
	if err != nil {
		return err
	}
	bw := bufio.NewWriterSize(enc, 256*1024)

	hb, err := json.Marshal(h)
	if err != nil {
		enc.Close()
		return err
	}
	hb = append(hb, '\n')
	if _, err := bw.Write(hb); err != nil {
		enc.Close()
		return err
	}
	if _, err := bw.Write(raw); err != nil {
		enc.Close()
		return err
	}
	if err := bw.Flush(); err != nil {
		enc.Close()
		return err
	}
	if err := enc.Close(); err != nil {
		return err
	}
	return f.Sync()
}

func open(path string) (*os.File, *zstd.Decoder, *bufio.Reader, Header, error) {
	var h Header
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, nil, h, err
	}
	dec, err := zstd.NewReader(f)
	if err != nil {
		f.Close()
		return nil, nil, nil, h, err
	}
	br := bufio.NewReaderSize(dec, 256*1024)
	line, err := br.ReadBytes('\n')
	if err != nil {
		dec.Close()
		f.Close()
		return nil, nil, nil, h, fmt.Errorf("%w: header: %v", ErrCorrupt, err)
	}
	if err := json.Unmarshal(line, &h); err != nil {
		dec.Close()
		f.Close()
		return nil, nil, nil, h, fmt.Errorf("%w: header: %v", ErrCorrupt, err)
	}
	if h.Version != Version {
		dec.Close()
		f.Close()
		return nil, nil, nil, h, fmt.Errorf("%w: unsupported version %d", ErrCorrupt, h.Version)
	}
	return f, dec, br, h, nil
}

// ReadHeader decodes only the header line.
func ReadHeader(path string) (Header, error) {
	f, dec, _, h, err := open(path)
	if err != nil {
		return h, err
	}
	dec.Close()
	f.Close()
	return h, nil
}

// Read returns the header and the words, checking length and digest.
func Read(path string) (Header, []uint32, error) {
	f, dec, br, h, err := open(path)
	if err != nil {
		return h, nil, err
	}
	defer f.Close()
	defer dec.Close()

	if h.Nodes < 1 {
		return h, nil, fmt.Errorf("%w: %d nodes", ErrCorrupt, h.Nodes)
	}
	raw, err := io.ReadAll(br)
	if err != nil {
		return h, nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if len(raw) != 4*h.Words() {
		return h, nil, fmt.Errorf("%w: %d bytes, header says %d", ErrCorrupt, len(raw), 4*h.Words())
	}
	sum := sha256.Sum256(raw)
	if hex.EncodeToString(sum[:]) != h.SHA256 {
		return h, nil, fmt.Errorf("%w: digest mismatch", ErrCorrupt)
	}
	words, err := octree.DecodeGPUBytes(raw)
	if err != nil {
		return h, nil, err
	}
	if int(words[0]) != h.LogExtent {
		return h, nil, fmt.Errorf("%w: log extent %d, header says %d", ErrCorrupt, words[0], h.LogExtent)
	}
	return h, words, nil
}

// PathFor names the export of a revision so that names sort by revision.
func PathFor(dir string, revision uint64) string {
	return filepath.Join(dir, fmt.Sprintf("%012d%s", revision, Ext))
}

// List returns the buffer files in dir, oldest revision first.
func List(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), Ext) {
			continue
		}
		out = append(out, filepath.Join(dir, e.Name()))
	}
	sort.Strings(out)
	return out, nil
}

// Prune deletes all but the newest keep files in dir and returns the
// removed paths. keep <= 0 keeps everything.
func Prune(dir string, keep int) ([]string, error) {
	if keep <= 0 {
		return nil, nil
	}
	files, err := List(dir)
	if err != nil || len(files) <= keep {
		return nil, err
	}
	drop := files[:len(files)-keep]
	for _, p := range drop {
		if err := os.Remove(p); err != nil {
			return nil, err
		}
	}
	return drop, nil
}
