package main

import (
	"context"
	"log"
	"os"
	"path/filepath"
	"sync"

	"github.com/dustin/go-humanize"

	"voxelmarch.ai/internal/persistence/archive"
	"voxelmarch.ai/internal/persistence/bufferfile"
	"voxelmarch.ai/internal/sim/scene"
)

type exportRecorder interface {
	RecordExport(path string, h bufferfile.Header) string
}

// exporter writes the scene's GPU buffer to <data>/exports every `every`
// revisions, records it in the index and hands it to the mirror. Exports
// that cross a multiple of archiveEvery are also archived under dataDir.
type exporter struct {
	sc           *scene.Scene
	dir          string
	dataDir      string
	every        uint64
	archiveEvery int
	level        int
	keep         int
	index        exportRecorder
	enqueue      func(path string)
	logger       *log.Logger

	replaces uint64 // run goroutine only

	mu   sync.Mutex
	last uint64
}

type exportResult struct {
	Path     string `json:"path"`
	Revision uint64 `json:"revision"`
	Nodes    int    `json:"nodes"`
	Bytes    int64  `json:"bytes"`
	Fresh    bool   `json:"fresh"`
}

func (e *exporter) run(ctx context.Context) {
	updates := make(chan scene.Update, 1)
	if err := e.sc.Subscribe(ctx, "exporter", updates); err != nil {
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case u := <-updates:
			// Replaces cannot be replayed from the edit log, so they are
			// exported right away.
			replaced := u.Replaces != e.replaces
			e.replaces = u.Replaces
			due := e.every > 0 && u.Revision >= e.lastRevision()+e.every
			if !replaced && !due {
				continue
			}
			if _, err := e.exportNow(ctx); err != nil {
				e.logger.Printf("export: %v", err)
			}
		}
	}
}

func (e *exporter) lastRevision() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.last
}

// exportNow writes the current revision unless it is already on disk.
func (e *exporter) exportNow(ctx context.Context) (exportResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	ex, err := e.sc.Export(ctx)
	if err != nil {
		return exportResult{}, err
	}
	path := bufferfile.PathFor(e.dir, ex.Revision)
	res := exportResult{Path: path, Revision: ex.Revision, Nodes: ex.Stats.Leaves + ex.Stats.Branches}
	if ex.Revision == e.last {
		if fi, err := os.Stat(path); err == nil {
			res.Bytes = fi.Size()
			return res, nil
		}
	}

	h, err := bufferfile.Write(path, ex.Revision, ex.Words, e.level)
	if err != nil {
		return res, err
	}
	prev := e.last
	e.last = ex.Revision
	res.Fresh = true
	res.Nodes = h.Nodes
	if fi, err := os.Stat(path); err == nil {
		res.Bytes = fi.Size()
	}
	e.logger.Printf("export rev=%d nodes=%s size=%s file=%s",
		h.Revision, humanize.Comma(int64(h.Nodes)), humanize.Bytes(uint64(res.Bytes)), filepath.Base(path))

	if e.index != nil {
		e.index.RecordExport(path, h)
	}
	if e.enqueue != nil {
		e.enqueue(path)
	}
	if e.dataDir != "" && archive.Due(prev, h.Revision, e.archiveEvery) {
		if dst, err := archive.ArchiveExport(e.dataDir, path, h, e.archiveEvery); err != nil {
			e.logger.Printf("archive export: %v", err)
		} else {
			e.logger.Printf("archived rev=%d to %s", h.Revision, filepath.Dir(dst))
			if e.enqueue != nil {
				e.enqueue(dst)
				e.enqueue(filepath.Join(filepath.Dir(dst), "meta.json"))
			}
		}
	}
	removed, err := bufferfile.Prune(e.dir, e.keep)
	if err != nil {
		e.logger.Printf("prune exports: %v", err)
	}
	for _, p := range removed {
		e.logger.Printf("pruned %s", filepath.Base(p))
	}
	return res, nil
}
