package archive

import (
	"os"
	"path/filepath"
	"testing"

	"voxelmarch.ai/internal/persistence/bufferfile"
	"voxelmarch.ai/internal/sim/octree"
)

func TestDue(t *testing.T) {
	cases := []struct {
		prev, rev uint64
		every     int
		want      bool
	}{
		{0, 99, 100, false},
		{0, 100, 100, true},
		{99, 150, 100, true},
		{100, 199, 100, false},
		{150, 420, 100, true},
		{0, 1000, 0, false},
	}
	for _, c := range cases {
		if got := Due(c.prev, c.rev, c.every); got != c.want {
			t.Fatalf("Due(%d,%d,%d)=%v want %v", c.prev, c.rev, c.every, got, c.want)
		}
	}
}

func TestArchiveExport_CopiesAndSurvivesPrune(t *testing.T) {
	dataDir := t.TempDir()
	exportsDir := filepath.Join(dataDir, "exports")
	tr, err := octree.FromVoxels([]octree.Voxel{1, 2, 3, 4, 5, 6, 7, 8})
	if err != nil {
		t.Fatalf("FromVoxels: %v", err)
	}
	words, err := tr.GPUBuffer()
	if err != nil {
		t.Fatalf("GPUBuffer: %v", err)
	}
	src := bufferfile.PathFor(exportsDir, 256)
	h, err := bufferfile.Write(src, 256, words, 1)
	if err != nil {
		t.Fatalf("Write: %v", err)
	}

	dst, err := ArchiveExport(dataDir, src, h, 128)
	if err != nil {
		t.Fatalf("ArchiveExport: %v", err)
	}
	if filepath.Dir(dst) != Dir(dataDir, 256) {
		t.Fatalf("dst=%s", dst)
	}
	meta, err := ReadMeta(filepath.Dir(dst))
	if err != nil {
		t.Fatalf("ReadMeta: %v", err)
	}
	if meta.Revision != 256 || meta.Milestone != 2 || meta.SHA256 != h.SHA256 || meta.Export != filepath.Base(src) {
		t.Fatalf("meta=%+v", meta)
	}

	if err := os.Remove(src); err != nil {
		t.Fatalf("remove: %v", err)
	}
	got, back, err := bufferfile.Read(dst)
	if err != nil {
		t.Fatalf("Read archived: %v", err)
	}
	if got.Revision != 256 || len(back) != len(words) {
		t.Fatalf("archived header=%+v len=%d", got, len(back))
	}
}
