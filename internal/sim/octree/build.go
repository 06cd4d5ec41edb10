package octree

import "fmt"

// FromVoxels builds a compacted tree from a dense cube of 8^n voxels. The
// voxel at flat index i sits at x = i mod 2^n, y = (i >> n) mod 2^n and
// z = i >> 2n.
func FromVoxels(values []Voxel) (*Octree, error) {
	logExtent := 0
	for 1<<(3*logExtent) < len(values) {
		logExtent++
	}
	leaves := 1 << (3 * logExtent)
	if leaves != len(values) {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidSize, len(values))
	}

	// Complete tree in breadth-first order: node k has children 8k+1..8k+8
	// and the deepest level starts at leafOff.
	total := 0
	for i := 0; i <= logExtent; i++ {
		total += 1 << (3 * i)
	}
	leafOff := total - leaves

	t := &Octree{nodes: make([]Node, total), logExtent: logExtent}
	mask := 1<<logExtent - 1
	for i, v := range values {
		x := uint32(i & mask)
		y := uint32((i >> logExtent) & mask)
		z := uint32(i >> (2 * logExtent))
		t.nodes[leafOff+int(Interleave3(x, y, z))] = leafNode(v)
	}
	for k := leafOff - 1; k >= 0; k-- {
		var children [8]NodeID
		for c := range children {
			children[c] = NodeID(8*k + 1 + c)
		}
		t.nodes[k] = branchNode(children)
		t.tryMerge(NodeID(k))
	}
	return t.Compact(), nil
}

// Dense expands the tree into the flat layout FromVoxels accepts.
func (t *Octree) Dense() []Voxel {
	side := t.Side()
	out := make([]Voxel, side*side*side)
	t.denseInto(out, t.root, Coord{}, t.logExtent)
	return out
}

func (t *Octree) denseInto(out []Voxel, id NodeID, origin Coord, level int) {
	n := t.nodes[id]
	if n.kind == kindBranch {
		half := 1 << (level - 1)
		for i, c := range n.children {
			t.denseInto(out, c, childOrigin(origin, i, half), level-1)
		}
		return
	}
	side := t.Side()
	e := 1 << level
	for z := origin[2]; z < origin[2]+e; z++ {
		for y := origin[1]; y < origin[1]+e; y++ {
			row := (z*side + y) * side
			for x := origin[0]; x < origin[0]+e; x++ {
				out[row+x] = n.value
			}
		}
	}
}

func childOrigin(origin Coord, i, half int) Coord {
	for a := 0; a < 3; a++ {
		if i&(1<<a) != 0 {
			origin[a] += half
		}
	}
	return origin
}
