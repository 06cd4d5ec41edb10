package scene

import (
	"context"

	"voxelmarch.ai/internal/sim/octree"
)

// roundTrip sends req to the loop and waits for its answer on resp.
func roundTrip[R, T any](ctx context.Context, s *Scene, in chan R, req R, resp chan T) (T, error) {
	var zero T
	select {
	case in <- req:
	case <-ctx.Done():
		return zero, ctx.Err()
	case <-s.done:
		return zero, ErrStopped
	}
	select {
	case v := <-resp:
		return v, nil
	case <-ctx.Done():
		return zero, ctx.Err()
	case <-s.done:
		return zero, ErrStopped
	}
}

// Paint writes v into the box, growing the tree if needed. Non-positive
// extents and fully negative boxes are no-ops.
func (s *Scene) Paint(ctx context.Context, op PaintOp) error {
	resp := make(chan error, 1)
	err, cerr := roundTrip(ctx, s, s.paint, paintReq{op: op, resp: resp}, resp)
	if cerr != nil {
		return cerr
	}
	return err
}

func (s *Scene) Sample(ctx context.Context, c octree.Coord, minLogExtent int) (SampleResult, error) {
	resp := make(chan SampleResult, 1)
	return roundTrip(ctx, s, s.sample, sampleReq{c: c, minLog: minLogExtent, resp: resp}, resp)
}

// Replace swaps in a whole new tree. The scene takes ownership of t.
func (s *Scene) Replace(ctx context.Context, t *octree.Octree, actor string) error {
	resp := make(chan error, 1)
	err, cerr := roundTrip(ctx, s, s.replace, replaceReq{tree: t, actor: actor, resp: resp}, resp)
	if cerr != nil {
		return cerr
	}
	return err
}

// Export compacts the live tree and returns its GPU buffer.
func (s *Scene) Export(ctx context.Context) (Export, error) {
	resp := make(chan exportResp, 1)
	r, err := roundTrip(ctx, s, s.export, exportReq{resp: resp}, resp)
	if err != nil {
		return Export{}, err
	}
	return r.export, r.err
}

func (s *Scene) Stats(ctx context.Context) (octree.Stats, error) {
	resp := make(chan octree.Stats, 1)
	return roundTrip(ctx, s, s.stats, resp, resp)
}

// Subscribe registers ch for updates; the current state is pushed at once.
// ch should have capacity 1. Registering an id again replaces its channel.
func (s *Scene) Subscribe(ctx context.Context, id string, ch chan Update) error {
	resp := make(chan struct{}, 1)
	_, err := roundTrip(ctx, s, s.sub, subReq{id: id, ch: ch, resp: resp}, resp)
	return err
}

// Unsubscribe returns once no further updates will be sent for id.
func (s *Scene) Unsubscribe(ctx context.Context, id string) error {
	resp := make(chan struct{}, 1)
	_, err := roundTrip(ctx, s, s.unsub, unsubReq{id: id, resp: resp}, resp)
	return err
}
