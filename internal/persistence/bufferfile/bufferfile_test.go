package bufferfile

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/zstd"

	"voxelmarch.ai/internal/sim/octree"
)

func sampleWords(t *testing.T) []uint32 {
	t.Helper()
	tr := octree.New()
	tr.Paint(octree.Coord{1, 0, 0}, octree.Coord{3, 2, 2}, 5)
	tr.Set(octree.Coord{0, 3, 0}, 9)
	tr.Shrink()
	words, err := tr.GPUBuffer()
	if err != nil {
		t.Fatalf("GPUBuffer: %v", err)
	}
	return words
}

func TestWriteRead_RoundTrip(t *testing.T) {
	words := sampleWords(t)
	path := PathFor(filepath.Join(t.TempDir(), "exports"), 42)

	h, err := Write(path, 42, words, 2)
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if h.Revision != 42 || h.Words() != len(words) || h.LogExtent != int(words[0]) {
		t.Fatalf("header=%+v", h)
	}

	gotH, got, err := Read(path)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if gotH != h {
		t.Fatalf("header=%+v want %+v", gotH, h)
	}
	for i := range words {
		if got[i] != words[i] {
			t.Fatalf("word %d=%d want %d", i, got[i], words[i])
		}
	}
	onlyH, err := ReadHeader(path)
	if err != nil || onlyH != h {
		t.Fatalf("ReadHeader=%+v err=%v", onlyH, err)
	}
	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Fatalf("temp file left behind: %v", err)
	}
}

func TestWrite_RejectsRaggedBuffer(t *testing.T) {
	if _, err := Write(filepath.Join(t.TempDir(), "x"+Ext), 1, []uint32{0, 0, 0, 0, 1}, 1); err == nil {
		t.Fatalf("expected error")
	}
}

func TestRead_DetectsTampering(t *testing.T) {
	words := sampleWords(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "a"+Ext)
	h, err := Write(path, 1, words, 1)
	if err != nil {
		t.Fatalf("Write: %v", err)
	}

	// Same header, one payload word changed.
	bad := make([]uint32, len(words))
	copy(bad, words)
	bad[len(bad)-12] ^= 1
	badPath := filepath.Join(dir, "b"+Ext)
	if err := writeFile(badPath, h, octree.EncodeGPUBytes(bad), 1); err != nil {
		t.Fatalf("writeFile: %v", err)
	}
	if _, _, err := Read(badPath); !errors.Is(err, ErrCorrupt) {
		t.Fatalf("err=%v want ErrCorrupt", err)
	}

	short := filepath.Join(dir, "c"+Ext)
	if err := writeFile(short, h, octree.EncodeGPUBytes(words[:len(words)-12]), 1); err != nil {
		t.Fatalf("writeFile: %v", err)
	}
	if _, _, err := Read(short); !errors.Is(err, ErrCorrupt) {
		t.Fatalf("err=%v want ErrCorrupt", err)
	}

	plain := filepath.Join(dir, "d"+Ext)
	f, _ := os.Create(plain)
	enc, _ := zstd.NewWriter(f)
	_, _ = enc.Write([]byte("no header"))
	_ = enc.Close()
	_ = f.Close()
	if _, err := ReadHeader(plain); !errors.Is(err, ErrCorrupt) {
		t.Fatalf("err=%v want ErrCorrupt", err)
	}
}

func TestPrune_KeepsNewest(t *testing.T) {
	words := sampleWords(t)
	dir := t.TempDir()
	for _, rev := range []uint64{3, 10, 1, 200} {
		if _, err := Write(PathFor(dir, rev), rev, words, 1); err != nil {
			t.Fatalf("Write: %v", err)
		}
	}
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	removed, err := Prune(dir, 2)
	if err != nil {
		t.Fatalf("Prune: %v", err)
	}
	if len(removed) != 2 || removed[0] != PathFor(dir, 1) || removed[1] != PathFor(dir, 3) {
		t.Fatalf("removed=%v", removed)
	}
	left, _ := List(dir)
	if len(left) != 2 || left[1] != PathFor(dir, 200) {
		t.Fatalf("left=%v", left)
	}
	if files, err := List(filepath.Join(dir, "missing")); err != nil || files != nil {
		t.Fatalf("List(missing)=%v,%v", files, err)
	}
}
