package octree

import (
	"encoding/binary"
	"fmt"
)

// GPU buffer layout, in 32-bit words:
//
//	header: [log_extent, 0, 0, 0]
//	node:   [value, child0..child7, 0, 0, 0]
//
// Branches store value 0; leaves store NilWord in every child slot.
const (
	HeaderWords = 4
	RecordWords = 12
	NilWord     = uint32(Nil)
)

// GPUBuffer serializes a compacted tree.
func (t *Octree) GPUBuffer() ([]uint32, error) {
	if !t.Compacted() {
		return nil, ErrNotCompacted
	}
	out := make([]uint32, HeaderWords+RecordWords*len(t.nodes))
	out[0] = uint32(t.logExtent)
	for i, n := range t.nodes {
		rec := out[HeaderWords+RecordWords*i : HeaderWords+RecordWords*(i+1)]
		switch n.kind {
		case kindBranch:
			for c, id := range n.children {
				rec[1+c] = uint32(id)
			}
		default:
			rec[0] = uint32(n.value)
			for c := 0; c < 8; c++ {
				rec[1+c] = NilWord
			}
		}
	}
	return out, nil
}

// EncodeGPUBytes lays the words out little-endian, as uploaded to the device.
func EncodeGPUBytes(words []uint32) []byte {
	out := make([]byte, 4*len(words))
	for i, w := range words {
		binary.LittleEndian.PutUint32(out[4*i:], w)
	}
	return out
}

func DecodeGPUBytes(b []byte) ([]uint32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("%w: %d bytes is not a whole number of words", ErrCorruptBuffer, len(b))
	}
	out := make([]uint32, len(b)/4)
	for i := range out {
		out[i] = binary.LittleEndian.Uint32(b[4*i:])
	}
	return out, nil
}

// GPUTree is a read-only view of a serialized buffer that walks it the way
// the shader does.
type GPUTree struct {
	LogExtent int
	words     []uint32
}

// DecodeGPUBuffer validates the buffer: every node is reached exactly once
// from node 0, children always follow their parent, and no branch sits
// below the unit level.
func DecodeGPUBuffer(words []uint32) (*GPUTree, error) {
	if len(words) < HeaderWords+RecordWords || (len(words)-HeaderWords)%RecordWords != 0 {
		return nil, fmt.Errorf("%w: bad length %d", ErrCorruptBuffer, len(words))
	}
	logExtent := int(words[0])
	if logExtent > MaxLogExtent {
		return nil, fmt.Errorf("%w: log extent %d", ErrCorruptBuffer, logExtent)
	}
	g := &GPUTree{LogExtent: logExtent, words: words}
	count := g.NodeCount()

	level := make([]int, count)
	seen := make([]bool, count)
	level[0] = logExtent
	seen[0] = true
	for i := 0; i < count; i++ {
		if !seen[i] {
			return nil, fmt.Errorf("%w: node %d unreachable", ErrCorruptBuffer, i)
		}
		rec := g.record(i)
		if rec[1] == NilWord {
			for c := 2; c <= 8; c++ {
				if rec[c] != NilWord {
					return nil, fmt.Errorf("%w: leaf %d has child %d", ErrCorruptBuffer, i, c-1)
				}
			}
			continue
		}
		if level[i] == 0 {
			return nil, fmt.Errorf("%w: branch %d below unit level", ErrCorruptBuffer, i)
		}
		for c := 1; c <= 8; c++ {
			child := int(rec[c])
			if rec[c] == NilWord || child <= i || child >= count || seen[child] {
				return nil, fmt.Errorf("%w: branch %d has bad child %d", ErrCorruptBuffer, i, rec[c])
			}
			seen[child] = true
			level[child] = level[i] - 1
		}
	}
	return g, nil
}

func (g *GPUTree) NodeCount() int {
	return (len(g.words) - HeaderWords) / RecordWords
}

func (g *GPUTree) record(i int) []uint32 {
	off := HeaderWords + RecordWords*i
	return g.words[off : off+RecordWords]
}

// Sample returns the voxel at c, or Empty outside the domain.
func (g *GPUTree) Sample(c Coord) Voxel {
	side := 1 << g.LogExtent
	for _, v := range c {
		if v < 0 || v >= side {
			return Empty
		}
	}
	node := 0
	level := g.LogExtent
	for {
		rec := g.record(node)
		if rec[1] == NilWord {
			return Voxel(rec[0])
		}
		level--
		node = int(rec[1+octant(c, level)])
	}
}

// Octree rebuilds an editable tree from the buffer. The result is compacted
// and must satisfy Check, so buffers holding mergeable branches are
// rejected.
func (g *GPUTree) Octree() (*Octree, error) {
	count := g.NodeCount()
	t := &Octree{nodes: make([]Node, count), logExtent: g.LogExtent}
	for i := 0; i < count; i++ {
		rec := g.record(i)
		if rec[1] == NilWord {
			t.nodes[i] = leafNode(Voxel(rec[0]))
			continue
		}
		var children [8]NodeID
		for c := range children {
			children[c] = NodeID(rec[c+1])
		}
		t.nodes[i] = branchNode(children)
	}
	if err := t.Check(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptBuffer, err)
	}
	return t, nil
}
