package octree

// Compact returns a copy holding exactly the nodes reachable from the root,
// renumbered in breadth-first order (children in octant order) so the root
// is 0 and the free list is empty. The receiver is not modified.
func (t *Octree) Compact() *Octree {
	remap := make([]NodeID, len(t.nodes))
	for i := range remap {
		remap[i] = Nil
	}
	order := make([]NodeID, 0, len(t.nodes)-len(t.free))
	order = append(order, t.root)
	remap[t.root] = 0
	for head := 0; head < len(order); head++ {
		n := &t.nodes[order[head]]
		if n.kind != kindBranch {
			continue
		}
		for _, c := range n.children {
			remap[c] = NodeID(len(order))
			order = append(order, c)
		}
	}

	nodes := make([]Node, len(order))
	for i, old := range order {
		n := t.nodes[old]
		if n.kind == kindBranch {
			for c := range n.children {
				n.children[c] = remap[n.children[c]]
			}
		}
		nodes[i] = n
	}
	return &Octree{nodes: nodes, logExtent: t.logExtent}
}

// Shrink compacts the tree in place.
func (t *Octree) Shrink() {
	*t = *t.Compact()
}
