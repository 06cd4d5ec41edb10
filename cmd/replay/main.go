package main

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"voxelmarch.ai/internal/persistence/bufferfile"
	persistlog "voxelmarch.ai/internal/persistence/log"
	"voxelmarch.ai/internal/sim/octree"
	"voxelmarch.ai/internal/sim/scene"
)

func main() {
	var (
		dataDir = flag.String("data", "./data", "runtime data directory")
		from    = flag.String("from", "", "export to start from (default: oldest export; \"empty\" for an empty scene at revision 0)")
		toRev   = flag.Uint64("to_rev", 0, "stop after this revision (inclusive, optional)")
		out     = flag.String("out", "", "write the replayed scene as an export (optional)")
		level   = flag.Int("level", 2, "zstd level for -out")
	)
	flag.Parse()

	start := *from
	if start == "" {
		files, err := bufferfile.List(filepath.Join(*dataDir, "exports"))
		if err != nil {
			fmt.Fprintln(os.Stderr, "list exports:", err)
			os.Exit(1)
		}
		if len(files) == 0 {
			start = "empty"
		} else {
			start = files[0]
		}
	}

	t, rep, err := verify(*dataDir, start, *toRev)
	if err != nil {
		fmt.Fprintln(os.Stderr, "replay:", err)
		os.Exit(1)
	}
	fmt.Printf("replay ok: from rev=%d to rev=%d edits=%d exports_checked=%d reseeded=%d\n",
		rep.FromRev, rep.Rev, rep.Edits, rep.Checked, rep.Reseeded)
	if rep.Stopped != "" {
		fmt.Printf("stopped early: %s\n", rep.Stopped)
	}

	if *out != "" {
		t.Shrink()
		words, err := t.GPUBuffer()
		if err != nil {
			fmt.Fprintln(os.Stderr, "gpu buffer:", err)
			os.Exit(1)
		}
		if _, err := bufferfile.Write(*out, rep.Rev, words, *level); err != nil {
			fmt.Fprintln(os.Stderr, "write:", err)
			os.Exit(1)
		}
		fmt.Printf("wrote %s\n", *out)
	}
}

type report struct {
	FromRev  uint64
	Rev      uint64
	Edits    int
	Checked  int
	Reseeded int
	Stopped  string
}

// verify replays the edit log from start and checks the replayed scene
// against every export it passes. A replace cannot be replayed; if an
// export exists at its revision, replay reseeds from it and continues.
func verify(dataDir, start string, toRev uint64) (*octree.Octree, report, error) {
	var rep report
	exports := map[uint64]bufferfile.Header{}
	paths := map[uint64]string{}
	files, err := bufferfile.List(filepath.Join(dataDir, "exports"))
	if err != nil {
		return nil, rep, err
	}
	for _, p := range files {
		h, err := bufferfile.ReadHeader(p)
		if err != nil {
			return nil, rep, err
		}
		exports[h.Revision] = h
		paths[h.Revision] = p
	}

	t := octree.New()
	if start != "empty" {
		var h bufferfile.Header
		t, h, err = load(start)
		if err != nil {
			return nil, rep, err
		}
		rep.FromRev = h.Revision
	}
	rep.Rev = rep.FromRev

	logs, err := persistlog.EditFiles(dataDir)
	if err != nil {
		return nil, rep, err
	}
	for _, path := range logs {
		entries, readErr := persistlog.ReadEdits(path)
		for _, e := range entries {
			if e.Revision <= rep.Rev {
				continue
			}
			if toRev != 0 && e.Revision > toRev {
				return t, rep, nil
			}
			if _, err := scene.ReplayEdits(t, rep.Rev, []scene.EditEntry{e}); err != nil {
				p, ok := paths[e.Revision]
				if !errors.Is(err, scene.ErrUnreplayable) || !ok {
					rep.Stopped = err.Error()
					return t, rep, nil
				}
				if t, _, err = load(p); err != nil {
					return nil, rep, err
				}
				rep.Reseeded++
			}
			rep.Rev = e.Revision
			rep.Edits++

			if h, ok := exports[rep.Rev]; ok {
				got, err := digest(t)
				if err != nil {
					return nil, rep, err
				}
				if got != h.SHA256 {
					return nil, rep, fmt.Errorf("digest mismatch at rev %d: got=%s want=%s", rep.Rev, got, h.SHA256)
				}
				rep.Checked++
			}
		}
		if readErr != nil {
			rep.Stopped = readErr.Error()
			return t, rep, nil
		}
	}
	return t, rep, nil
}

func load(path string) (*octree.Octree, bufferfile.Header, error) {
	h, words, err := bufferfile.Read(path)
	if err != nil {
		return nil, h, err
	}
	g, err := octree.DecodeGPUBuffer(words)
	if err != nil {
		return nil, h, err
	}
	t, err := g.Octree()
	return t, h, err
}

// digest hashes the compacted GPU buffer the same way export headers do.
func digest(t *octree.Octree) (string, error) {
	words, err := t.Compact().GPUBuffer()
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(octree.EncodeGPUBytes(words))
	return hex.EncodeToString(sum[:]), nil
}
