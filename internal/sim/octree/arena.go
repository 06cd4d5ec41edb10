package octree

import "fmt"

// allocLeaf reuses the most recently freed slot, or appends a new one.
func (t *Octree) allocLeaf(v Voxel) NodeID {
	if n := len(t.free); n > 0 {
		id := t.free[n-1]
		t.free = t.free[:n-1]
		t.nodes[id] = leafNode(v)
		return id
	}
	t.nodes = append(t.nodes, leafNode(v))
	return NodeID(len(t.nodes) - 1)
}

// freeNode releases id and its whole subtree.
func (t *Octree) freeNode(id NodeID) {
	if id == Nil {
		return
	}
	t.dropChildren(id)
	t.nodes[id] = freeSlot()
	t.free = append(t.free, id)
}

func (t *Octree) dropChildren(id NodeID) {
	n := t.nodes[id]
	if n.kind != kindBranch {
		return
	}
	for _, c := range n.children {
		t.freeNode(c)
	}
	t.nodes[id].children = nilChildren
}

// collapse turns id into a leaf holding v, releasing any children.
func (t *Octree) collapse(id NodeID, v Voxel) {
	t.dropChildren(id)
	t.nodes[id] = leafNode(v)
}

// split refines a leaf into a branch of 8 leaves with the same value.
func (t *Octree) split(id NodeID) {
	n := t.nodes[id]
	if n.kind != kindLeaf {
		panic(fmt.Sprintf("octree: split of non-leaf node %d", id))
	}
	var children [8]NodeID
	for i := range children {
		children[i] = t.allocLeaf(n.value)
	}
	t.nodes[id] = branchNode(children)
}

// tryMerge collapses a branch whose children are 8 leaves of one value.
func (t *Octree) tryMerge(id NodeID) bool {
	n := t.nodes[id]
	if n.kind != kindBranch {
		return false
	}
	first := t.nodes[n.children[0]]
	if first.kind != kindLeaf {
		return false
	}
	for _, c := range n.children[1:] {
		child := t.nodes[c]
		if child.kind != kindLeaf || child.value != first.value {
			return false
		}
	}
	t.collapse(id, first.value)
	return true
}
