package script

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"voxelmarch.ai/internal/sim/encoding"
	"voxelmarch.ai/internal/sim/octree"
)

func TestParse_YAMLPaintAndClear(t *testing.T) {
	s, err := Parse([]byte(`
version: 1
name: demo
ops:
  - paint: {offset: [0, 0, 0], extent: [4, 4, 4], value: 3}
  - paint: {offset: [1, 1, 1], extent: [1, 1, 1], value: 4294967295}
`))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if s.Name != "demo" || len(s.Ops) != 2 || s.Ops[0].Paint == nil {
		t.Fatalf("unexpected script: %+v", s)
	}
	tr, err := Apply(octree.New(), s)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if tr.LogExtent() != 2 || tr.Get(octree.Coord{0, 0, 0}) != 3 || tr.Get(octree.Coord{1, 1, 1}) != octree.Empty {
		t.Fatalf("unexpected tree: log=%d", tr.LogExtent())
	}
	if err := tr.Check(); err != nil {
		t.Fatalf("Check: %v", err)
	}
}

func TestParse_JSONVolume(t *testing.T) {
	rle := encoding.EncodeRLE([]uint32{1, 2, 3, 4, 5, 6, 7, 8})
	s, err := Parse([]byte(`{"version":1,"ops":[{"volume":{"rle":"` + rle + `"}}]}`))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	tr, err := Apply(octree.New(), s)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if tr.Len() != 9 || tr.Get(octree.Coord{1, 1, 1}) != 8 {
		t.Fatalf("unexpected tree: len=%d", tr.Len())
	}
}

func TestParse_GenerateOverlaysDefaults(t *testing.T) {
	s, err := Parse([]byte("ops:\n  - generate: {seed: 5, log_extent: 3, stone: 9}\n"))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	p := s.Ops[0].Generate
	if p == nil || p.Seed != 5 || p.LogExtent != 3 || p.Stone != 9 || p.CellSize != 8 || p.Dirt != 2 {
		t.Fatalf("unexpected params: %+v", p)
	}
	tr, err := Apply(octree.New(), s)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if tr.LogExtent() != 3 || tr.Get(octree.Coord{0, 0, 0}) == octree.Empty {
		t.Fatalf("expected ground at origin, log=%d", tr.LogExtent())
	}
}

func TestParse_ClearResetsTree(t *testing.T) {
	s, err := Parse([]byte("ops:\n  - paint: {offset: [0,0,0], extent: [8,8,8], value: 1}\n  - clear: true\n"))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	tr, err := Apply(octree.New(), s)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if tr.Len() != 1 || tr.LogExtent() != 0 || tr.Get(octree.Coord{0, 0, 0}) != octree.Empty {
		t.Fatalf("clear did not reset: len=%d log=%d", tr.Len(), tr.LogExtent())
	}
}

func TestParse_RejectsSchemaViolations(t *testing.T) {
	cases := map[string]string{
		"no ops":        "version: 1\n",
		"bad version":   "version: 2\nops: []\n",
		"two kinds":     "ops:\n  - {clear: true, volume: {rle: ''}}\n",
		"short offset":  "ops:\n  - paint: {offset: [0,0], extent: [1,1,1], value: 1}\n",
		"negative":      "ops:\n  - paint: {offset: [0,0,0], extent: [1,1,1], value: -1}\n",
		"unknown op":    "ops:\n  - explode: {}\n",
		"deep generate": "ops:\n  - generate: {seed: 1, log_extent: 9}\n",
		"not yaml":      "ops: [\n",
		"extra field":   "ops: []\nowner: me\n",
	}
	for name, src := range cases {
		if _, err := Parse([]byte(src)); !errors.Is(err, ErrInvalid) {
			t.Fatalf("%s: err=%v want ErrInvalid", name, err)
		}
	}
}

func TestApply_ReportsFailingOp(t *testing.T) {
	s, err := Parse([]byte("ops:\n  - clear: true\n  - volume: {rle: '!!'}\n"))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if _, err := Apply(octree.New(), s); err == nil {
		t.Fatalf("expected error for bad rle")
	}
}

func TestApply_RejectsPaintPastMaxDomain(t *testing.T) {
	s, err := Parse([]byte("ops:\n  - paint: {offset: [0,0,0], extent: [4611686018427387905,1,1], value: 1}\n"))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	tr, err := Apply(octree.New(), s)
	if !errors.Is(err, ErrInvalid) {
		t.Fatalf("err=%v want ErrInvalid", err)
	}
	if tr.LogExtent() != 0 {
		t.Fatalf("log extent=%d", tr.LogExtent())
	}
}

func TestLoad_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scene.yaml")
	if err := os.WriteFile(path, []byte("ops:\n  - paint: {offset: [2,0,0], extent: [1,1,1], value: 7}\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	s, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	tr, _ := Apply(octree.New(), s)
	if tr.Get(octree.Coord{2, 0, 0}) != 7 {
		t.Fatalf("paint not applied")
	}
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); !os.IsNotExist(err) {
		t.Fatalf("missing file err=%v", err)
	}
}

func TestLoad_DemoScene(t *testing.T) {
	s, err := Load(filepath.Join("..", "..", "..", "configs", "scenes", "demo.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	tr, err := Apply(octree.New(), s)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if tr.LogExtent() != 5 || tr.Get(octree.Coord{14, 20, 14}) != 7 || tr.Get(octree.Coord{9, 22, 9}) != octree.Empty {
		t.Fatalf("demo scene: log_extent=%d", tr.LogExtent())
	}
}
