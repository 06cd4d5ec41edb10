package octree

import "github.com/golang/geo/r3"

// Box is an axis-aligned cube of side Side at Offset.
type Box struct {
	Offset Coord
	Side   int
	Value  Voxel
}

// DebugBoxes lists every non-empty leaf, depth first in octant order.
func (t *Octree) DebugBoxes() []Box {
	var acc []Box
	t.debugBoxes(&acc, t.root, Coord{}, t.logExtent)
	return acc
}

func (t *Octree) debugBoxes(acc *[]Box, id NodeID, offset Coord, level int) {
	n := t.nodes[id]
	if n.kind != kindBranch {
		if n.value != Empty {
			*acc = append(*acc, Box{Offset: offset, Side: 1 << level, Value: n.value})
		}
		return
	}
	half := 1 << (level - 1)
	for i, c := range n.children {
		t.debugBoxes(acc, c, childOrigin(offset, i, half), level-1)
	}
}

// boxFaces are the 12 triangles of a cube over its corners, where corner k
// sits at +side on axis a when bit a of k is set.
var boxFaces = [36]int{
	0, 2, 3, 3, 1, 0, // -z
	4, 5, 7, 7, 6, 4, // +z
	0, 1, 5, 5, 4, 0, // -y
	2, 6, 7, 7, 3, 2, // +y
	0, 4, 6, 6, 2, 0, // -x
	1, 3, 7, 7, 5, 1, // +x
}

// DebugMesh triangulates DebugBoxes into an indexed mesh. Corners shared by
// neighbouring boxes are emitted once.
func (t *Octree) DebugMesh() (indices []uint32, vertices []r3.Vector) {
	indexOf := map[Coord]uint32{}
	vertex := func(c Coord) uint32 {
		if i, ok := indexOf[c]; ok {
			return i
		}
		i := uint32(len(vertices))
		indexOf[c] = i
		vertices = append(vertices, r3.Vector{X: float64(c[0]), Y: float64(c[1]), Z: float64(c[2])})
		return i
	}
	for _, b := range t.DebugBoxes() {
		var corners [8]uint32
		for k := range corners {
			corners[k] = vertex(childOrigin(b.Offset, k, b.Side))
		}
		for _, k := range boxFaces {
			indices = append(indices, corners[k])
		}
	}
	return indices, vertices
}
