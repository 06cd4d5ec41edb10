package main

import (
	"context"
	"io"
	"log"
	"path/filepath"
	"testing"

	"voxelmarch.ai/internal/persistence/bufferfile"
	persistlog "voxelmarch.ai/internal/persistence/log"
	"voxelmarch.ai/internal/sim/octree"
	"voxelmarch.ai/internal/sim/scene"
	"voxelmarch.ai/internal/sim/tuning"
)

// record runs steps against a live scene with an edit log, exporting after
// the steps whose index is in exportAfter.
func record(t *testing.T, dir string, steps []func(ctx context.Context, sc *scene.Scene) error, exportAfter map[int]bool) {
	t.Helper()
	sc := scene.New(scene.ConfigFromTuning(tuning.Defaults()), log.New(io.Discard, "", 0))
	elog := persistlog.NewEditLogger(dir, persistlog.Options{})
	sc.SetEditLogger(elog)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = sc.Run(ctx)
		close(done)
	}()
	defer func() {
		cancel()
		<-done
		if err := elog.Close(); err != nil {
			t.Fatalf("Close: %v", err)
		}
	}()

	for i, step := range steps {
		if err := step(ctx, sc); err != nil {
			t.Fatalf("step %d: %v", i, err)
		}
		if !exportAfter[i] {
			continue
		}
		ex, err := sc.Export(ctx)
		if err != nil {
			t.Fatalf("Export: %v", err)
		}
		if _, err := bufferfile.Write(bufferfile.PathFor(filepath.Join(dir, "exports"), ex.Revision), ex.Revision, ex.Words, 1); err != nil {
			t.Fatalf("Write: %v", err)
		}
	}
}

func paintStep(off, ext octree.Coord, v octree.Voxel) func(context.Context, *scene.Scene) error {
	return func(ctx context.Context, sc *scene.Scene) error {
		return sc.Paint(ctx, scene.PaintOp{Offset: off, Extent: ext, Value: v})
	}
}

func TestVerify_ChecksEveryExport(t *testing.T) {
	dir := t.TempDir()
	steps := []func(context.Context, *scene.Scene) error{
		paintStep(octree.Coord{0, 0, 0}, octree.Coord{2, 2, 2}, 1),
		paintStep(octree.Coord{3, 1, 0}, octree.Coord{2, 1, 1}, 2),
		paintStep(octree.Coord{0, 0, 0}, octree.Coord{1, 1, 1}, octree.Empty),
		paintStep(octree.Coord{6, 6, 6}, octree.Coord{2, 2, 2}, 3),
		paintStep(octree.Coord{4, 0, 0}, octree.Coord{4, 4, 4}, 3),
	}
	record(t, dir, steps, map[int]bool{1: true, 3: true, 4: true})

	tr, rep, err := verify(dir, "empty", 0)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if rep.Rev != 5 || rep.Edits != 5 || rep.Checked != 3 || rep.Stopped != "" {
		t.Fatalf("report=%+v", rep)
	}
	if tr.Get(octree.Coord{1, 1, 1}) != 1 || tr.Get(octree.Coord{0, 0, 0}) != octree.Empty || tr.Get(octree.Coord{5, 3, 3}) != 3 {
		t.Fatalf("unexpected replayed values")
	}

	oldest, _ := bufferfile.List(filepath.Join(dir, "exports"))
	_, rep, err = verify(dir, oldest[0], 4)
	if err != nil || rep.FromRev != 2 || rep.Rev != 4 || rep.Edits != 2 || rep.Checked != 1 {
		t.Fatalf("report=%+v err=%v", rep, err)
	}
}

func TestVerify_ReseedsAtExportedReplace(t *testing.T) {
	dir := t.TempDir()
	replacement, err := octree.FromVoxels([]octree.Voxel{1, 2, 3, 4, 5, 6, 7, 8})
	if err != nil {
		t.Fatalf("FromVoxels: %v", err)
	}
	steps := []func(context.Context, *scene.Scene) error{
		paintStep(octree.Coord{0, 0, 0}, octree.Coord{1, 1, 1}, 9),
		func(ctx context.Context, sc *scene.Scene) error { return sc.Replace(ctx, replacement, "loader") },
		paintStep(octree.Coord{1, 1, 1}, octree.Coord{1, 1, 1}, 6),
		func(ctx context.Context, sc *scene.Scene) error { return sc.Replace(ctx, octree.New(), "loader") },
	}
	record(t, dir, steps, map[int]bool{1: true, 2: true})

	tr, rep, err := verify(dir, "empty", 0)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if rep.Rev != 3 || rep.Reseeded != 1 || rep.Checked != 2 || rep.Stopped == "" {
		t.Fatalf("report=%+v", rep)
	}
	if tr.Get(octree.Coord{1, 1, 1}) != 6 || tr.Get(octree.Coord{1, 0, 0}) != 2 {
		t.Fatalf("unexpected replayed values")
	}
}
