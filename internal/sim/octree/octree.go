// Package octree implements a sparse voxel octree over a cubic integer
// domain of side 2^LogExtent. Nodes live in an index-addressed arena with a
// free list; homogeneous branches are collapsed into leaves on every write,
// and a compacted tree serializes into the flat word buffer walked by the
// ray-marching shader.
//
// An Octree is single-writer: callers must not mutate it from more than one
// goroutine at a time.
package octree

import "errors"

// MaxLogExtent is the deepest domain a tree can grow to: 2^31 voxels per
// axis, the range of the shader's 32-bit coordinates.
const MaxLogExtent = 31

var (
	ErrInvalidSize   = errors.New("octree: voxel count is not a power of 8")
	ErrNotCompacted  = errors.New("octree: tree must be compacted before serialization")
	ErrCorruptBuffer = errors.New("octree: corrupt gpu buffer")
)

type Octree struct {
	nodes     []Node
	free      []NodeID
	root      NodeID
	logExtent int
}

// New returns an empty tree: a single Empty leaf with LogExtent 0.
func New() *Octree {
	return &Octree{nodes: []Node{leafNode(Empty)}}
}

func (t *Octree) LogExtent() int { return t.logExtent }

// Side is the domain side length in voxels.
func (t *Octree) Side() int { return 1 << t.logExtent }

// Len is the arena size, free slots included.
func (t *Octree) Len() int { return len(t.nodes) }

func (t *Octree) Root() NodeID { return t.root }

// Node returns the arena slot id. ok is false for out-of-range and free slots.
func (t *Octree) Node(id NodeID) (Node, bool) {
	if int(id) >= len(t.nodes) || t.nodes[id].kind == kindFree {
		return Node{}, false
	}
	return t.nodes[id], true
}

// Compacted reports whether the arena is in the zero-based, hole-free form
// that GPUBuffer requires.
func (t *Octree) Compacted() bool {
	return len(t.free) == 0 && t.root == 0
}

func (t *Octree) Clone() *Octree {
	c := &Octree{
		nodes:     make([]Node, len(t.nodes)),
		root:      t.root,
		logExtent: t.logExtent,
	}
	copy(c.nodes, t.nodes)
	if len(t.free) > 0 {
		c.free = make([]NodeID, len(t.free))
		copy(c.free, t.free)
	}
	return c
}

// Stats counts arena slots by kind. EmptyLeaves is the subset of Leaves
// holding Empty.
type Stats struct {
	LogExtent   int `json:"log_extent"`
	Nodes       int `json:"nodes"`
	Leaves      int `json:"leaves"`
	Branches    int `json:"branches"`
	Free        int `json:"free"`
	EmptyLeaves int `json:"empty_leaves"`
}

func (t *Octree) Stats() Stats {
	s := Stats{LogExtent: t.logExtent, Nodes: len(t.nodes), Free: len(t.free)}
	for _, n := range t.nodes {
		switch n.kind {
		case kindLeaf:
			s.Leaves++
			if n.value == Empty {
				s.EmptyLeaves++
			}
		case kindBranch:
			s.Branches++
		}
	}
	return s
}
