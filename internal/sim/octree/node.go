package octree

import "math"

// Voxel is the content of one unit cell (a material id). Empty marks air.
type Voxel uint32

// NodeID addresses a slot in the node arena.
type NodeID uint32

const (
	Empty Voxel  = math.MaxUint32
	Nil   NodeID = math.MaxUint32
)

// Coord is an integer position (or extent) on the x, y and z axes.
type Coord [3]int

type nodeKind uint8

const (
	kindFree nodeKind = iota
	kindLeaf
	kindBranch
)

// Node is either a leaf carrying a Voxel or a branch carrying 8 children.
// Octant i of a branch covers the half selected by bit 0 (x), bit 1 (y)
// and bit 2 (z) of i.
type Node struct {
	kind     nodeKind
	value    Voxel
	children [8]NodeID
}

var nilChildren = [8]NodeID{Nil, Nil, Nil, Nil, Nil, Nil, Nil, Nil}

func leafNode(v Voxel) Node {
	return Node{kind: kindLeaf, value: v, children: nilChildren}
}

func branchNode(children [8]NodeID) Node {
	return Node{kind: kindBranch, children: children}
}

func freeSlot() Node {
	return Node{kind: kindFree, children: nilChildren}
}

func (n Node) IsLeaf() bool   { return n.kind == kindLeaf }
func (n Node) IsBranch() bool { return n.kind == kindBranch }

// Value is the leaf value. Branches report Empty.
func (n Node) Value() Voxel {
	if n.kind != kindLeaf {
		return Empty
	}
	return n.value
}

// Children is all Nil for leaves.
func (n Node) Children() [8]NodeID { return n.children }

// octant selects the child of a node whose children have side 2^level.
func octant(c Coord, level int) int {
	return (c[0]>>level)&1 | ((c[1]>>level)&1)<<1 | ((c[2]>>level)&1)<<2
}
