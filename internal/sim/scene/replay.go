package scene

import (
	"errors"
	"fmt"

	"voxelmarch.ai/internal/sim/octree"
)

var (
	// ErrUnreplayable marks a logged edit that carries no payload (replace).
	ErrUnreplayable = errors.New("edit cannot be replayed")
	ErrRevisionGap  = errors.New("revision gap in edit log")
)

// ReplayEdits re-applies logged paints newer than rev to t, in order, and
// returns the last revision applied. Entries at or below rev are skipped.
// Replay stops at the first gap, replace or mismatch; t then holds every
// edit before it and the returned revision says how far it got.
func ReplayEdits(t *octree.Octree, rev uint64, edits []EditEntry) (uint64, error) {
	for _, e := range edits {
		if e.Revision <= rev {
			continue
		}
		if e.Revision != rev+1 {
			return rev, fmt.Errorf("%w: at %d, next logged is %d", ErrRevisionGap, rev, e.Revision)
		}
		if e.Kind != "paint" || e.Offset == nil || e.Extent == nil || e.Value == nil {
			return rev, fmt.Errorf("%w: revision %d kind %q", ErrUnreplayable, e.Revision, e.Kind)
		}
		t.Paint(*e.Offset, *e.Extent, *e.Value)
		if t.LogExtent() != e.LogExtent {
			return rev, fmt.Errorf("revision %d: log extent %d, logged %d", e.Revision, t.LogExtent(), e.LogExtent)
		}
		rev = e.Revision
	}
	return rev, nil
}
