package octree

import (
	"errors"
	"math/rand"
	"testing"
)

func TestFromVoxels_OctantOrder(t *testing.T) {
	in := []Voxel{1, 2, 3, 4, 5, 6, 7, 8}
	tr, err := FromVoxels(in)
	if err != nil {
		t.Fatalf("FromVoxels: %v", err)
	}
	if tr.LogExtent() != 1 {
		t.Fatalf("log extent=%d want 1", tr.LogExtent())
	}
	forEachCoord(2, func(c Coord) {
		i := int(Interleave3(uint32(c[0]), uint32(c[1]), uint32(c[2])))
		if got := tr.Get(c); got != in[i] {
			t.Fatalf("Get(%v)=%d want %d", c, got, in[i])
		}
	})
	if tr.Len() != 9 || !tr.Compacted() {
		t.Fatalf("len=%d compacted=%v", tr.Len(), tr.Compacted())
	}
}

func TestFromVoxels_RejectsNonCubeLengths(t *testing.T) {
	for _, n := range []int{0, 2, 7, 9, 63, 65, 100} {
		_, err := FromVoxels(make([]Voxel, n))
		if !errors.Is(err, ErrInvalidSize) {
			t.Fatalf("len %d: err=%v want ErrInvalidSize", n, err)
		}
	}
}

func TestFromVoxels_SingleVoxel(t *testing.T) {
	tr, err := FromVoxels([]Voxel{42})
	if err != nil {
		t.Fatalf("FromVoxels: %v", err)
	}
	if tr.LogExtent() != 0 || tr.Len() != 1 || tr.Get(Coord{0, 0, 0}) != 42 {
		t.Fatalf("unexpected tree: log=%d len=%d", tr.LogExtent(), tr.Len())
	}
}

func TestFromVoxels_UniformCollapsesToOneNode(t *testing.T) {
	for n := 0; n <= 3; n++ {
		in := make([]Voxel, 1<<(3*n))
		for i := range in {
			in[i] = 11
		}
		tr, err := FromVoxels(in)
		if err != nil {
			t.Fatalf("n=%d: %v", n, err)
		}
		if tr.Len() != 1 || tr.LogExtent() != n {
			t.Fatalf("n=%d: len=%d log=%d", n, tr.Len(), tr.LogExtent())
		}
	}
}

func TestFromVoxels_DenseRoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	const n = 3
	side := 1 << n
	in := make([]Voxel, side*side*side)
	for i := range in {
		// Mostly air with blobs so merging actually happens.
		if rng.Intn(4) == 0 {
			in[i] = Voxel(rng.Intn(2))
		} else {
			in[i] = Empty
		}
	}
	for z := 0; z < 4; z++ {
		for y := 0; y < 4; y++ {
			for x := 0; x < 4; x++ {
				in[x+y*side+z*side*side] = 9
			}
		}
	}
	tr, err := FromVoxels(in)
	if err != nil {
		t.Fatalf("FromVoxels: %v", err)
	}
	if err := tr.Check(); err != nil {
		t.Fatalf("Check: %v", err)
	}
	forEachCoord(side, func(c Coord) {
		if got, want := tr.Get(c), in[c[0]+c[1]*side+c[2]*side*side]; got != want {
			t.Fatalf("Get(%v)=%d want %d", c, got, want)
		}
	})
	out := tr.Dense()
	for i := range in {
		if out[i] != in[i] {
			t.Fatalf("Dense()[%d]=%d want %d", i, out[i], in[i])
		}
	}
	// The 4x4x4 block of 9s is one aligned octant.
	if n, _ := tr.Node(tr.nodes[0].children[0]); !n.IsLeaf() || n.Value() != 9 {
		t.Fatalf("octant 0 not merged: %+v", n)
	}
}

func TestInterleave3_MatchesBitLoop(t *testing.T) {
	naive := func(x, y, z uint32) uint64 {
		var m uint64
		for i := 0; i < 21; i++ {
			m |= uint64((x>>i)&1) << (3 * i)
			m |= uint64((y>>i)&1) << (3*i + 1)
			m |= uint64((z>>i)&1) << (3*i + 2)
		}
		return m
	}
	rng := rand.New(rand.NewSource(1))
	for i := 0; i < 1000; i++ {
		x, y, z := rng.Uint32()&0x1fffff, rng.Uint32()&0x1fffff, rng.Uint32()&0x1fffff
		m := Interleave3(x, y, z)
		if want := naive(x, y, z); m != want {
			t.Fatalf("Interleave3(%d,%d,%d)=%x want %x", x, y, z, m, want)
		}
		gx, gy, gz := Deinterleave3(m)
		if gx != x || gy != y || gz != z {
			t.Fatalf("Deinterleave3(%x)=%d,%d,%d want %d,%d,%d", m, gx, gy, gz, x, y, z)
		}
	}
}
