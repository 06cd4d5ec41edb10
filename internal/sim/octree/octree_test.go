package octree

import (
	"math"
	"math/rand"
	"testing"
)

// refVolume is a dense reference for random paint sequences.
type refVolume struct {
	side int
	vals map[Coord]Voxel
}

func (r *refVolume) paint(offset, extent Coord, v Voxel) {
	for z := offset[2]; z < offset[2]+extent[2]; z++ {
		for y := offset[1]; y < offset[1]+extent[1]; y++ {
			for x := offset[0]; x < offset[0]+extent[0]; x++ {
				r.vals[Coord{x, y, z}] = v
			}
		}
	}
}

func (r *refVolume) get(c Coord) Voxel {
	if v, ok := r.vals[c]; ok {
		return v
	}
	return Empty
}

func forEachCoord(side int, fn func(c Coord)) {
	for z := 0; z < side; z++ {
		for y := 0; y < side; y++ {
			for x := 0; x < side; x++ {
				fn(Coord{x, y, z})
			}
		}
	}
}

func minLogExtent(need int) int {
	l := 0
	for 1<<l < need {
		l++
	}
	return l
}

func TestNew_IsSingleEmptyLeaf(t *testing.T) {
	tr := New()
	if tr.LogExtent() != 0 || tr.Len() != 1 || tr.Root() != 0 {
		t.Fatalf("unexpected empty tree: log=%d len=%d root=%d", tr.LogExtent(), tr.Len(), tr.Root())
	}
	if got := tr.Get(Coord{0, 0, 0}); got != Empty {
		t.Fatalf("Get(0,0,0)=%d want Empty", got)
	}
	if err := tr.Check(); err != nil {
		t.Fatalf("Check: %v", err)
	}
}

func TestPaint_GrowsEmptyTree(t *testing.T) {
	tr := New()
	tr.Paint(Coord{0, 0, 0}, Coord{2, 2, 2}, 5)
	if tr.LogExtent() < 1 {
		t.Fatalf("log extent=%d want >=1", tr.LogExtent())
	}
	if a, b := tr.Get(Coord{0, 0, 0}), tr.Get(Coord{1, 1, 1}); a != 5 || b != 5 {
		t.Fatalf("got %d,%d want 5,5", a, b)
	}
	// The whole domain is covered, so the root collapses into one leaf.
	if n, _ := tr.Node(tr.Root()); !n.IsLeaf() || n.Value() != 5 {
		t.Fatalf("root not collapsed: %+v", n)
	}
	if err := tr.Check(); err != nil {
		t.Fatalf("Check: %v", err)
	}
}

func TestPaint_ZeroExtentIsNoop(t *testing.T) {
	tr := New()
	tr.Paint(Coord{100, 0, 0}, Coord{0, 4, 4}, 3)
	tr.Paint(Coord{0, 0, 0}, Coord{4, -1, 4}, 3)
	if tr.LogExtent() != 0 || tr.Len() != 1 {
		t.Fatalf("zero-extent paint mutated tree: log=%d len=%d", tr.LogExtent(), tr.Len())
	}
}

func TestPaint_ClipsNegativeOffsets(t *testing.T) {
	tr := New()
	tr.Paint(Coord{-2, -2, -2}, Coord{3, 3, 3}, 9)
	if tr.LogExtent() != 0 {
		t.Fatalf("log extent=%d want 0", tr.LogExtent())
	}
	if got := tr.Get(Coord{0, 0, 0}); got != 9 {
		t.Fatalf("Get=%d want 9", got)
	}
	tr.Paint(Coord{-5, 0, 0}, Coord{5, 1, 1}, 1)
	if got := tr.Get(Coord{0, 0, 0}); got != 9 {
		t.Fatalf("fully clipped paint changed value: %d", got)
	}
}

func TestPaint_IgnoresBoxesPastMaxDomain(t *testing.T) {
	tr := New()
	tr.Paint(Coord{0, 0, 0}, Coord{1<<62 + 1, 1, 1}, 1)
	tr.Paint(Coord{1 << 40, 0, 0}, Coord{1, 1, 1}, 1)
	tr.Paint(Coord{math.MaxInt - 1, 0, 0}, Coord{math.MaxInt, 1, 1}, 1)
	if tr.LogExtent() != 0 || tr.Len() != 1 || tr.Get(Coord{0, 0, 0}) != Empty {
		t.Fatalf("oversized paint mutated tree: log=%d len=%d", tr.LogExtent(), tr.Len())
	}

	// The largest domain still paints, and a whole-domain box is one leaf.
	side := 1 << MaxLogExtent
	tr.Set(Coord{side - 1, side - 1, side - 1}, 4)
	if tr.LogExtent() != MaxLogExtent || tr.Get(Coord{side - 1, side - 1, side - 1}) != 4 {
		t.Fatalf("max corner: log=%d", tr.LogExtent())
	}
	tr.Paint(Coord{-3, -3, -3}, Coord{side + 3, side + 3, side + 3}, 6)
	if tr.Len()-len(tr.free) != 1 || tr.Get(Coord{side / 2, 0, 7}) != 6 {
		t.Fatalf("whole-domain paint: live=%d", tr.Len()-len(tr.free))
	}
}

func TestBounds(t *testing.T) {
	const big = 1<<31 - 1
	cases := []struct {
		off, ext Coord
		voxels   int64
		need     int
		fits     bool
	}{
		{Coord{0, 0, 0}, Coord{1, 1, 1}, 1, 0, true},
		{Coord{0, 0, 0}, Coord{4, 4, 4}, 64, 2, true},
		{Coord{3, 0, 0}, Coord{2, 1, 1}, 2, 3, true},
		{Coord{-2, 0, 0}, Coord{3, 1, 1}, 1, 0, true},
		{Coord{-2, 0, 0}, Coord{2, 1, 1}, 0, 0, true},
		{Coord{0, 0, 0}, Coord{1, math.MinInt, 1}, 0, 0, true},
		{Coord{0, 0, 0}, Coord{big, big, 1 << 21}, math.MaxInt64, 31, true},
		{Coord{0, 0, 0}, Coord{1 << 31, 1, 1}, 1 << 31, 31, true},
		{Coord{0, 0, 0}, Coord{1<<31 + 1, 1, 1}, 1<<31 + 1, 32, false},
		{Coord{1 << 31, 0, 0}, Coord{1, 1, 1}, 1, 32, false},
	}
	for _, tc := range cases {
		voxels, need, fits := Bounds(tc.off, tc.ext)
		if voxels != tc.voxels || need != tc.need || fits != tc.fits {
			t.Fatalf("Bounds(%v,%v)=%d,%d,%v want %d,%d,%v", tc.off, tc.ext, voxels, need, fits, tc.voxels, tc.need, tc.fits)
		}
	}
}

func TestPaint_EmptyGrowthKeepsTreeCollapsed(t *testing.T) {
	tr := New()
	tr.Paint(Coord{6, 6, 6}, Coord{1, 1, 1}, 2)
	if tr.LogExtent() != 3 {
		t.Fatalf("log extent=%d want 3", tr.LogExtent())
	}
	if err := tr.Check(); err != nil {
		t.Fatalf("Check: %v", err)
	}
	// One branch per level down to the voxel, 8 children each.
	if got := tr.Compact().Len(); got != 1+8*3 {
		t.Fatalf("compacted nodes=%d want %d", got, 1+8*3)
	}
}

func TestPaint_GrowthPreservesValues(t *testing.T) {
	tr := New()
	tr.Paint(Coord{0, 0, 0}, Coord{1, 2, 3}, 4)
	before := tr.LogExtent()
	ref := &refVolume{vals: map[Coord]Voxel{}}
	ref.paint(Coord{0, 0, 0}, Coord{1, 2, 3}, 4)

	tr.Paint(Coord{9, 1, 0}, Coord{1, 1, 1}, 7)
	ref.paint(Coord{9, 1, 0}, Coord{1, 1, 1}, 7)
	if tr.LogExtent() != 4 || before != 2 {
		t.Fatalf("log extent before=%d after=%d want 2,4", before, tr.LogExtent())
	}
	forEachCoord(tr.Side(), func(c Coord) {
		if got, want := tr.Get(c), ref.get(c); got != want {
			t.Fatalf("Get(%v)=%d want %d", c, got, want)
		}
	})
}

func TestPaint_MatchesDenseReference(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	tr := New()
	ref := &refVolume{vals: map[Coord]Voxel{}}
	need := 1
	for step := 0; step < 200; step++ {
		var off, ext Coord
		for a := 0; a < 3; a++ {
			off[a] = rng.Intn(10)
			ext[a] = rng.Intn(5)
		}
		v := Voxel(rng.Intn(3))
		if rng.Intn(6) == 0 {
			v = Empty
		}
		tr.Paint(off, ext, v)
		if ext[0] > 0 && ext[1] > 0 && ext[2] > 0 {
			ref.paint(off, ext, v)
			for a := 0; a < 3; a++ {
				need = max(need, off[a]+ext[a])
			}
		}
		if got, want := tr.LogExtent(), minLogExtent(need); got != want {
			t.Fatalf("step %d: log extent=%d want %d", step, got, want)
		}
		if err := tr.Check(); err != nil {
			t.Fatalf("step %d: Check: %v", step, err)
		}
		if step%20 != 19 {
			continue
		}
		forEachCoord(tr.Side(), func(c Coord) {
			if got, want := tr.Get(c), ref.get(c); got != want {
				t.Fatalf("step %d: Get(%v)=%d want %d", step, c, got, want)
			}
		})
	}
}

func TestPaint_OverwriteWholeDomainCollapses(t *testing.T) {
	tr := New()
	tr.Paint(Coord{0, 0, 0}, Coord{8, 8, 8}, 1)
	tr.Paint(Coord{1, 2, 3}, Coord{2, 2, 2}, 2)
	tr.Paint(Coord{0, 0, 0}, Coord{8, 8, 8}, 3)
	if err := tr.Check(); err != nil {
		t.Fatalf("Check: %v", err)
	}
	c := tr.Compact()
	if c.Len() != 1 || c.Get(Coord{2, 3, 4}) != 3 {
		t.Fatalf("expected single leaf of 3, got len=%d", c.Len())
	}
}

func TestSample_OutOfDomainIsEmpty(t *testing.T) {
	tr := New()
	tr.Paint(Coord{0, 0, 0}, Coord{4, 4, 4}, 1)
	for _, c := range []Coord{{4, 0, 0}, {0, 4, 0}, {0, 0, 4}, {-1, 0, 0}, {100, 100, 100}} {
		if got := tr.Sample(c, 0); got != Empty {
			t.Fatalf("Sample(%v)=%d want Empty", c, got)
		}
	}
}

func TestSample_CoarseReturnsFirstLeafDescendant(t *testing.T) {
	tr := New()
	tr.Paint(Coord{0, 0, 0}, Coord{4, 4, 4}, 1)
	tr.Set(Coord{0, 0, 0}, 5)
	tr.Set(Coord{3, 3, 3}, 6)

	if got := tr.Sample(Coord{3, 3, 3}, 2); got != 5 {
		t.Fatalf("root cutoff: got %d want 5", got)
	}
	if got := tr.Sample(Coord{3, 3, 3}, 1); got != 1 {
		t.Fatalf("level-1 cutoff octant 7: got %d want 1", got)
	}
	if got := tr.Sample(Coord{3, 3, 3}, 0); got != 6 {
		t.Fatalf("full resolution: got %d want 6", got)
	}
	if got := tr.Sample(Coord{2, 2, 2}, 0); got != 1 {
		t.Fatalf("neighbour: got %d want 1", got)
	}
}

func TestArena_ReusesFreedSlots(t *testing.T) {
	tr := New()
	tr.split(tr.root)
	if tr.Len() != 9 {
		t.Fatalf("len=%d want 9", tr.Len())
	}
	if !tr.tryMerge(tr.root) {
		t.Fatalf("expected merge of uniform children")
	}
	if len(tr.free) != 8 {
		t.Fatalf("free=%d want 8", len(tr.free))
	}
	id := tr.allocLeaf(3)
	if int(id) >= 9 || len(tr.free) != 7 {
		t.Fatalf("allocLeaf did not reuse a slot: id=%d free=%d", id, len(tr.free))
	}
	tr.freeNode(Nil)
	tr.freeNode(id)
	if len(tr.free) != 8 {
		t.Fatalf("free=%d want 8", len(tr.free))
	}
}

func TestArena_TryMergeKeepsMixedBranch(t *testing.T) {
	tr := New()
	tr.split(tr.root)
	tr.nodes[tr.nodes[tr.root].children[5]].value = 2
	if tr.tryMerge(tr.root) {
		t.Fatalf("merged a branch with mixed children")
	}
	if tr.tryMerge(tr.nodes[tr.root].children[0]) {
		t.Fatalf("merged a leaf")
	}
}

func TestArena_SplitPanicsOnBranch(t *testing.T) {
	tr := New()
	tr.split(tr.root)
	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic")
		}
	}()
	tr.split(tr.root)
}

func TestCompact_IsIdempotent(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	tr := New()
	for i := 0; i < 50; i++ {
		tr.Paint(Coord{rng.Intn(12), rng.Intn(12), rng.Intn(12)}, Coord{1 + rng.Intn(3), 1 + rng.Intn(3), 1 + rng.Intn(3)}, Voxel(rng.Intn(4)))
	}
	once := tr.Compact()
	twice := once.Compact()
	if once.Len() != twice.Len() || once.LogExtent() != twice.LogExtent() {
		t.Fatalf("shape mismatch: %d/%d vs %d/%d", once.Len(), once.LogExtent(), twice.Len(), twice.LogExtent())
	}
	for i := range once.nodes {
		if once.nodes[i] != twice.nodes[i] {
			t.Fatalf("node %d differs: %+v vs %+v", i, once.nodes[i], twice.nodes[i])
		}
	}
	if !once.Compacted() || once.Check() != nil {
		t.Fatalf("compacted tree fails invariants: %v", once.Check())
	}
	forEachCoord(tr.Side(), func(c Coord) {
		if tr.Get(c) != once.Get(c) {
			t.Fatalf("Get(%v) changed by compaction", c)
		}
	})
}

// mergedTree paints a voxel and paints it back, so the merge leaves freed
// slots behind. Growth alone reuses its own freed slots and stays compacted.
func mergedTree() *Octree {
	tr := New()
	tr.Paint(Coord{0, 0, 0}, Coord{4, 4, 4}, 1)
	tr.Set(Coord{0, 0, 0}, 2)
	tr.Set(Coord{3, 0, 0}, 5)
	tr.Set(Coord{0, 0, 0}, 1)
	return tr
}

func TestShrink_InPlace(t *testing.T) {
	tr := mergedTree()
	if tr.Compacted() || len(tr.free) == 0 {
		t.Fatalf("expected free slots after merge: free=%d root=%d", len(tr.free), tr.Root())
	}
	tr.Shrink()
	if !tr.Compacted() || len(tr.free) != 0 || tr.Root() != 0 {
		t.Fatalf("Shrink did not compact")
	}
	if tr.Get(Coord{3, 0, 0}) != 5 || tr.Get(Coord{0, 0, 0}) != 1 || tr.Get(Coord{3, 3, 3}) != 1 {
		t.Fatalf("values lost by Shrink")
	}
	if err := tr.Check(); err != nil {
		t.Fatalf("Check: %v", err)
	}
}

func TestPaint_GrowthStaysCompacted(t *testing.T) {
	tr := New()
	tr.Set(Coord{2, 0, 0}, 1)
	if !tr.Compacted() {
		t.Fatalf("growth left free slots: free=%d root=%d", len(tr.free), tr.Root())
	}
}

func TestClone_IsIndependent(t *testing.T) {
	tr := New()
	tr.Set(Coord{1, 1, 1}, 4)
	c := tr.Clone()
	tr.Set(Coord{1, 1, 1}, 8)
	if c.Get(Coord{1, 1, 1}) != 4 {
		t.Fatalf("clone observed later write")
	}
}

func TestStats_CountsKinds(t *testing.T) {
	tr := New()
	tr.Set(Coord{1, 0, 0}, 3)
	tr.Shrink()
	s := tr.Stats()
	if s.Nodes != 9 || s.Branches != 1 || s.Leaves != 8 || s.EmptyLeaves != 7 || s.Free != 0 || s.LogExtent != 1 {
		t.Fatalf("unexpected stats: %+v", s)
	}
}
