package octree

import "fmt"

// Check verifies the structural invariants: every slot is either reachable
// from the root exactly once or on the free list, branches have 8 live
// children and never 8 leaves of one value, and no branch sits at the unit
// level.
func (t *Octree) Check() error {
	if int(t.root) >= len(t.nodes) {
		return fmt.Errorf("root %d out of range", t.root)
	}
	state := make([]uint8, len(t.nodes)) // 1 reachable, 2 free
	for _, id := range t.free {
		if int(id) >= len(t.nodes) {
			return fmt.Errorf("free slot %d out of range", id)
		}
		if state[id] != 0 {
			return fmt.Errorf("free slot %d listed twice", id)
		}
		if t.nodes[id].kind != kindFree {
			return fmt.Errorf("free slot %d is in use", id)
		}
		state[id] = 2
	}
	if err := t.checkNode(state, t.root, t.logExtent); err != nil {
		return err
	}
	for id, s := range state {
		if s == 0 {
			return fmt.Errorf("slot %d is neither reachable nor free", id)
		}
	}
	return nil
}

func (t *Octree) checkNode(state []uint8, id NodeID, level int) error {
	if int(id) >= len(t.nodes) {
		return fmt.Errorf("child %d out of range", id)
	}
	if state[id] != 0 {
		return fmt.Errorf("slot %d reached twice or freed", id)
	}
	state[id] = 1
	n := t.nodes[id]
	switch n.kind {
	case kindLeaf:
		return nil
	case kindBranch:
	default:
		return fmt.Errorf("slot %d is free but reachable", id)
	}
	if level == 0 {
		return fmt.Errorf("branch %d at unit level", id)
	}
	uniform := true
	for _, c := range n.children {
		if c == Nil {
			return fmt.Errorf("branch %d has nil child", id)
		}
		if err := t.checkNode(state, c, level-1); err != nil {
			return err
		}
		child := t.nodes[c]
		if child.kind != kindLeaf || child.value != t.nodes[n.children[0]].value {
			uniform = false
		}
	}
	if uniform {
		return fmt.Errorf("branch %d has 8 leaves of value %d", id, t.nodes[n.children[0]].value)
	}
	return nil
}
