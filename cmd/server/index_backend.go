package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"voxelmarch.ai/internal/persistence/bufferfile"
	"voxelmarch.ai/internal/persistence/indexdb"
	"voxelmarch.ai/internal/sim/scene"
	"voxelmarch.ai/internal/sim/tuning"
)

type runtimeIndex interface {
	scene.EditLogger
	Close() error
	Dropped() uint64
	UpsertTuning(tune tuning.Tuning) error
	RecordExport(path string, h bufferfile.Header) string
}

func openRuntimeIndex(dataDir string, disableDB bool) (runtimeIndex, error) {
	if disableDB {
		return nil, nil
	}

	backend := strings.ToLower(strings.TrimSpace(os.Getenv("VM_INDEX_BACKEND")))
	if backend == "" {
		backend = "sqlite"
	}

	switch backend {
	case "none", "off", "disabled":
		return nil, nil
	case "sqlite":
		idx, err := indexdb.OpenSQLite(filepath.Join(dataDir, "index", "scene.sqlite"))
		if err != nil {
			return nil, err
		}
		return idx, nil
	default:
		return nil, fmt.Errorf("unsupported VM_INDEX_BACKEND: %s", backend)
	}
}

// multiEditLogger fans one edit out to the JSONL log and the index.
type multiEditLogger struct {
	a scene.EditLogger
	b scene.EditLogger
}

func (m multiEditLogger) WriteEdit(e scene.EditEntry) error {
	if m.a != nil {
		_ = m.a.WriteEdit(e)
	}
	if m.b != nil {
		_ = m.b.WriteEdit(e)
	}
	return nil
}
