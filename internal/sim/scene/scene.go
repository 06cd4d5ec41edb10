// Package scene owns the live octree. A single goroutine (Run) applies every
// edit and answers every query, so the tree needs no locking; other
// goroutines talk to it through the request methods below.
package scene

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync/atomic"

	"voxelmarch.ai/internal/sim/octree"
	"voxelmarch.ai/internal/sim/tuning"
)

var (
	ErrTooLarge    = errors.New("paint volume exceeds limit")
	ErrOutOfBounds = errors.New("edit exceeds max log extent")
	ErrStopped     = errors.New("scene stopped")
)

type Config struct {
	MaxLogExtent    int
	MaxPaintVoxels  int64
	CheckInvariants bool
}

func ConfigFromTuning(t tuning.Tuning) Config {
	return Config{
		MaxLogExtent:    t.MaxLogExtent,
		MaxPaintVoxels:  t.MaxPaintVoxels,
		CheckInvariants: t.CheckInvariants,
	}
}

type PaintOp struct {
	Offset octree.Coord `json:"offset"`
	Extent octree.Coord `json:"extent"`
	Value  octree.Voxel `json:"value"`
	Actor  string       `json:"actor,omitempty"`
}

// Update is pushed to subscribers after each accepted edit. Replaces counts
// replace edits since the scene started, so a subscriber that missed
// intermediate updates can still tell that one happened.
type Update struct {
	Revision  uint64 `json:"revision"`
	LogExtent int    `json:"log_extent"`
	Nodes     int    `json:"nodes"`
	Replaces  uint64 `json:"replaces"`
}

type Export struct {
	Revision uint64
	Words    []uint32
	Stats    octree.Stats
}

type EditEntry struct {
	Revision  uint64        `json:"revision"`
	Kind      string        `json:"kind"` // "paint" or "replace"
	Actor     string        `json:"actor,omitempty"`
	Offset    *octree.Coord `json:"offset,omitempty"`
	Extent    *octree.Coord `json:"extent,omitempty"`
	Value     *octree.Voxel `json:"value,omitempty"`
	LogExtent int           `json:"log_extent"`
	Nodes     int           `json:"nodes"`
}

// EditLogger is implemented in internal/persistence/log.
type EditLogger interface {
	WriteEdit(entry EditEntry) error
}

type Scene struct {
	cfg    Config
	logger *log.Logger

	tree     *octree.Octree
	revision atomic.Uint64
	replaces uint64 // loop goroutine only
	subs     map[string]chan Update

	editLogger EditLogger
	checkTree  func(*octree.Octree) error

	paint   chan paintReq
	sample  chan sampleReq
	replace chan replaceReq
	export  chan exportReq
	stats   chan chan octree.Stats
	sub     chan subReq
	unsub   chan unsubReq
	stop    chan struct{}
	done    chan struct{}
}

type paintReq struct {
	op   PaintOp
	resp chan error
}

type sampleReq struct {
	c      octree.Coord
	minLog int
	resp   chan SampleResult
}

type SampleResult struct {
	Value    octree.Voxel `json:"value"`
	Revision uint64       `json:"revision"`
}

type replaceReq struct {
	tree  *octree.Octree
	actor string
	resp  chan error
}

type exportReq struct {
	resp chan exportResp
}

type exportResp struct {
	export Export
	err    error
}

type subReq struct {
	id   string
	ch   chan Update
	resp chan struct{}
}

type unsubReq struct {
	id   string
	resp chan struct{}
}

func New(cfg Config, logger *log.Logger) *Scene {
	if logger == nil {
		logger = log.New(log.Writer(), "[scene] ", log.LstdFlags)
	}
	return &Scene{
		cfg:       cfg,
		logger:    logger,
		tree:      octree.New(),
		checkTree: (*octree.Octree).Check,
		subs:      map[string]chan Update{},
		paint:     make(chan paintReq, 256),
		sample:    make(chan sampleReq, 256),
		replace:   make(chan replaceReq, 8),
		export:    make(chan exportReq, 8),
		stats:     make(chan chan octree.Stats, 8),
		sub:       make(chan subReq, 64),
		unsub:     make(chan unsubReq, 64),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
}

func (s *Scene) SetEditLogger(l EditLogger) { s.editLogger = l }

// Restore installs a tree and revision, e.g. from the newest export. It
// must be called before Run.
func (s *Scene) Restore(t *octree.Octree, revision uint64) {
	s.tree = t
	s.revision.Store(revision)
}

// Revision may be read from any goroutine.
func (s *Scene) Revision() uint64 { return s.revision.Load() }

// Run serves requests until ctx is cancelled or Stop is called.
func (s *Scene) Run(ctx context.Context) error {
	defer close(s.done)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.stop:
			return nil
		case req := <-s.paint:
			req.resp <- s.handlePaint(req.op)
		case req := <-s.sample:
			req.resp <- SampleResult{Value: s.tree.Sample(req.c, req.minLog), Revision: s.revision.Load()}
		case req := <-s.replace:
			req.resp <- s.handleReplace(req.tree, req.actor)
		case req := <-s.export:
			req.resp <- s.handleExport()
		case resp := <-s.stats:
			resp <- s.tree.Stats()
		case req := <-s.sub:
			s.subs[req.id] = req.ch
			pushLatest(req.ch, s.update())
			req.resp <- struct{}{}
		case req := <-s.unsub:
			delete(s.subs, req.id)
			req.resp <- struct{}{}
		}
	}
}

func (s *Scene) Stop() { close(s.stop) }

func (s *Scene) handlePaint(op PaintOp) error {
	vol, need := paintBounds(op.Offset, op.Extent)
	if vol == 0 {
		return nil
	}
	if s.cfg.MaxPaintVoxels > 0 && vol > s.cfg.MaxPaintVoxels {
		return fmt.Errorf("%w: %d voxels > %d", ErrTooLarge, vol, s.cfg.MaxPaintVoxels)
	}
	if limit := min(s.cfg.MaxLogExtent, octree.MaxLogExtent); need > limit {
		return fmt.Errorf("%w: needs %d > %d", ErrOutOfBounds, need, limit)
	}
	s.tree.Paint(op.Offset, op.Extent, op.Value)
	off, ext, v := op.Offset, op.Extent, op.Value
	// Commit before checking: the revision and edit log must describe the
	// live tree even when the check fails.
	s.commit(EditEntry{Kind: "paint", Actor: op.Actor, Offset: &off, Extent: &ext, Value: &v})
	return s.check(s.tree)
}

func (s *Scene) handleReplace(t *octree.Octree, actor string) error {
	if t == nil {
		return errors.New("nil tree")
	}
	if t.LogExtent() > s.cfg.MaxLogExtent {
		return fmt.Errorf("%w: log extent %d > %d", ErrOutOfBounds, t.LogExtent(), s.cfg.MaxLogExtent)
	}
	if err := s.check(t); err != nil {
		return err
	}
	s.tree = t
	s.replaces++
	s.commit(EditEntry{Kind: "replace", Actor: actor})
	return nil
}

func (s *Scene) handleExport() exportResp {
	s.tree.Shrink()
	words, err := s.tree.GPUBuffer()
	if err != nil {
		return exportResp{err: err}
	}
	return exportResp{export: Export{Revision: s.revision.Load(), Words: words, Stats: s.tree.Stats()}}
}

func (s *Scene) check(t *octree.Octree) error {
	if !s.cfg.CheckInvariants {
		return nil
	}
	if err := s.checkTree(t); err != nil {
		s.logger.Printf("invariant violation: %v", err)
		return fmt.Errorf("octree invariant: %w", err)
	}
	return nil
}

func (s *Scene) commit(e EditEntry) {
	rev := s.revision.Add(1)
	e.Revision = rev
	e.LogExtent = s.tree.LogExtent()
	e.Nodes = s.tree.Len()
	if s.editLogger != nil {
		if err := s.editLogger.WriteEdit(e); err != nil {
			s.logger.Printf("edit log: %v", err)
		}
	}
	u := s.update()
	for _, ch := range s.subs {
		pushLatest(ch, u)
	}
}

func (s *Scene) update() Update {
	return Update{Revision: s.revision.Load(), LogExtent: s.tree.LogExtent(), Nodes: s.tree.Len(), Replaces: s.replaces}
}

// pushLatest never blocks the loop: a slow subscriber only sees the newest
// update. Only the loop goroutine sends, so the drain-then-send is safe.
func pushLatest(ch chan Update, u Update) {
	select {
	case ch <- u:
		return
	default:
	}
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- u:
	default:
	}
}

// paintBounds returns the clipped voxel count of a box, saturated, and the
// log extent a tree needs to contain it. Boxes past the octree's largest
// domain report octree.MaxLogExtent+1.
func paintBounds(offset, extent octree.Coord) (int64, int) {
	vol, need, _ := octree.Bounds(offset, extent)
	return vol, need
}
