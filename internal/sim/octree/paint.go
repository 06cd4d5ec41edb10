package octree

import (
	"math"
	"math/bits"
)

// Paint writes v to every voxel of the box [offset, offset+extent). The tree
// grows until the box fits. Parts of the box at negative coordinates are
// dropped, and a box with no volume is a no-op. A box reaching past
// 2^MaxLogExtent on any axis is ignored; use Bounds to detect it.
func (t *Octree) Paint(offset, extent Coord, v Voxel) {
	offset, extent, ok := clipBox(offset, extent)
	if !ok {
		return
	}
	need, fits := boxLogExtent(offset, extent)
	if !fits {
		return
	}
	for t.logExtent < need {
		t.grow()
	}
	t.paintInto(t.root, offset, extent, t.logExtent, v)
}

// Bounds describes what Paint would do with a box: the number of voxels it
// writes (saturating at math.MaxInt64) and the log extent the tree grows
// to. fits is false when Paint would ignore the box for reaching past
// 2^MaxLogExtent. An empty box reports 0 voxels.
func Bounds(offset, extent Coord) (voxels int64, need int, fits bool) {
	offset, extent, ok := clipBox(offset, extent)
	if !ok {
		return 0, 0, true
	}
	voxels = 1
	for _, e := range extent {
		n := int64(e)
		if voxels > math.MaxInt64/n {
			voxels = math.MaxInt64
		} else {
			voxels *= n
		}
	}
	need, fits = boxLogExtent(offset, extent)
	return voxels, need, fits
}

// boxLogExtent takes a clipped, non-empty box.
func boxLogExtent(offset, extent Coord) (int, bool) {
	const limit = 1 << MaxLogExtent
	hi := 1
	for i := range offset {
		if offset[i] >= limit || extent[i] > limit-offset[i] {
			return MaxLogExtent + 1, false
		}
		hi = max(hi, offset[i]+extent[i])
	}
	return bits.Len(uint(hi - 1)), true
}

// Set writes a single voxel.
func (t *Octree) Set(c Coord, v Voxel) {
	t.Paint(c, Coord{1, 1, 1}, v)
}

func clipBox(offset, extent Coord) (Coord, Coord, bool) {
	for i := range offset {
		if extent[i] <= 0 {
			return offset, extent, false
		}
		if offset[i] < 0 {
			extent[i] += offset[i]
			offset[i] = 0
			if extent[i] <= 0 {
				return offset, extent, false
			}
		}
	}
	return offset, extent, true
}

// grow doubles the domain: the old root becomes octant 0 of a new branch
// whose other octants are Empty. An Empty root stays a single leaf.
func (t *Octree) grow() {
	var children [8]NodeID
	children[0] = t.root
	for i := 1; i < 8; i++ {
		children[i] = t.allocLeaf(Empty)
	}
	root := t.allocLeaf(Empty)
	t.nodes[root] = branchNode(children)
	t.tryMerge(root)
	t.root = root
	t.logExtent++
}

// paintInto writes v over the box, given in the local frame of id whose
// side is 2^level. The box is non-empty and lies inside the node.
func (t *Octree) paintInto(id NodeID, offset, extent Coord, level int, v Voxel) {
	side := 1 << level
	if offset == (Coord{}) && extent == (Coord{side, side, side}) {
		t.collapse(id, v)
		return
	}
	if n := t.nodes[id]; n.kind == kindLeaf {
		if n.value == v {
			return
		}
		t.split(id)
	}
	half := side >> 1
	for i := 0; i < 8; i++ {
		childOffset, childExtent, ok := octantBox(i, half, offset, extent)
		if !ok {
			continue
		}
		t.paintInto(t.nodes[id].children[i], childOffset, childExtent, level-1, v)
	}
	t.tryMerge(id)
}

// octantBox intersects the box with octant i of a node of side 2*half and
// returns it in the octant's local frame.
func octantBox(i, half int, offset, extent Coord) (Coord, Coord, bool) {
	var o, e Coord
	for a := 0; a < 3; a++ {
		lo, hi := offset[a], offset[a]+extent[a]
		if i&(1<<a) != 0 {
			lo -= half
			hi -= half
		}
		lo = max(lo, 0)
		hi = min(hi, half)
		if hi <= lo {
			return o, e, false
		}
		o[a], e[a] = lo, hi-lo
	}
	return o, e, true
}
