package gen

import (
	"testing"

	"github.com/golang/geo/r3"

	"voxelmarch.ai/internal/sim/octree"
)

func TestGenerate_Deterministic(t *testing.T) {
	a, err := Generate(Defaults(7, 4))
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	b, err := Generate(Defaults(7, 4))
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if len(a) != 1<<12 {
		t.Fatalf("len=%d want %d", len(a), 1<<12)
	}
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("mismatch at %d: %d vs %d", i, a[i], b[i])
		}
	}
	c, _ := Generate(Defaults(8, 4))
	same := true
	for i := range a {
		if a[i] != c[i] {
			same = false
			break
		}
	}
	if same {
		t.Fatalf("different seeds produced identical volumes")
	}
}

func TestGenerate_LayersAreOrdered(t *testing.T) {
	p := Defaults(3, 4)
	vals, err := Generate(p)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	side := 16
	for z := 0; z < side; z++ {
		for x := 0; x < side; x++ {
			seenAir := false
			for y := 0; y < side; y++ {
				v := vals[x+y*side+z*side*side]
				if v == octree.Empty {
					seenAir = true
					continue
				}
				if seenAir {
					t.Fatalf("solid voxel %d above air at (%d,%d,%d)", v, x, y, z)
				}
			}
		}
	}
}

func TestGenerate_FeedsOctree(t *testing.T) {
	vals, err := Generate(Defaults(11, 5))
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	tr, err := octree.FromVoxels(vals)
	if err != nil {
		t.Fatalf("FromVoxels: %v", err)
	}
	if tr.LogExtent() != 5 {
		t.Fatalf("log extent=%d want 5", tr.LogExtent())
	}
	if err := tr.Check(); err != nil {
		t.Fatalf("Check: %v", err)
	}
	if tr.Len() >= len(vals) {
		t.Fatalf("terrain did not compress: %d nodes for %d voxels", tr.Len(), len(vals))
	}
}

func TestGenerate_SpheresOnly(t *testing.T) {
	p := Params{
		LogExtent: 4,
		CellSize:  4,
		Spheres:   []Sphere{{Center: r3.Vector{X: 8, Y: 8, Z: 8}, Radius: 3, Value: 7}},
	}
	vals, err := Generate(p)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	at := func(x, y, z int) octree.Voxel { return vals[x+y*16+z*256] }
	if at(8, 8, 8) != 7 || at(11, 8, 8) != 7 || at(8, 5, 8) != 7 {
		t.Fatalf("sphere not painted")
	}
	if at(12, 8, 8) != octree.Empty || at(0, 0, 0) != octree.Empty || at(11, 11, 8) != octree.Empty {
		t.Fatalf("voxel outside sphere painted")
	}
}

func TestParams_Validate(t *testing.T) {
	bad := []Params{
		{LogExtent: -1, CellSize: 1},
		{LogExtent: MaxLogExtent + 1, CellSize: 1},
		{LogExtent: 2},
		{LogExtent: 2, CellSize: 1, Spheres: []Sphere{{Radius: -1}}},
	}
	for i, p := range bad {
		if err := p.Validate(); err == nil {
			t.Fatalf("case %d: expected error", i)
		}
	}
	if err := Defaults(1, 3).Validate(); err != nil {
		t.Fatalf("defaults invalid: %v", err)
	}
}

func TestInCluster_ZeroProbability(t *testing.T) {
	for x := 0; x < 32; x++ {
		if InCluster(1, x, x, x, 8, 2, 0) {
			t.Fatalf("cluster hit with zero probability")
		}
	}
}

func TestFloorDivMod(t *testing.T) {
	if FloorDiv(-1, 8) != -1 || Mod(-1, 8) != 7 || FloorDiv(9, 8) != 1 || Mod(9, 8) != 1 {
		t.Fatalf("unexpected floor div/mod")
	}
}
