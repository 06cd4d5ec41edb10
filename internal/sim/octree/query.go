package octree

// Get returns the voxel at c, or Empty when c lies outside the domain.
func (t *Octree) Get(c Coord) Voxel {
	return t.Sample(c, 0)
}

// Sample descends towards c and stops at the first leaf, or at the first
// node whose side is at most 2^minLogExtent. A branch hit at that cutoff
// reports the value of its first leaf descendant along octant 0.
func (t *Octree) Sample(c Coord, minLogExtent int) Voxel {
	side := t.Side()
	for _, v := range c {
		if v < 0 || v >= side {
			return Empty
		}
	}
	id := t.root
	level := t.logExtent
	for {
		n := &t.nodes[id]
		if n.kind == kindLeaf {
			return n.value
		}
		if level <= minLogExtent {
			return t.firstLeaf(id)
		}
		level--
		id = n.children[octant(c, level)]
	}
}

func (t *Octree) firstLeaf(id NodeID) Voxel {
	for t.nodes[id].kind == kindBranch {
		id = t.nodes[id].children[0]
	}
	return t.nodes[id].value
}
