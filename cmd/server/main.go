package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"

	"voxelmarch.ai/internal/persistence/bufferfile"
	persistlog "voxelmarch.ai/internal/persistence/log"
	"voxelmarch.ai/internal/sim/octree"
	"voxelmarch.ai/internal/sim/scene"
	"voxelmarch.ai/internal/sim/script"
	"voxelmarch.ai/internal/sim/tuning"
	"voxelmarch.ai/internal/transport/ws"
)

func main() {
	var (
		addr       = flag.String("addr", ":8080", "http listen address")
		dataDir    = flag.String("data", "./data", "runtime data directory")
		tuningPath = flag.String("tuning", "./configs/tuning.yaml", "path to tuning.yaml")
		scriptPath = flag.String("script", "", "scene script applied when starting fresh (optional)")
		disableDB  = flag.Bool("disable_db", false, "disable the sqlite index (edits + export metadata)")

		exportPath = flag.String("export", "", "path to an export to resume from (optional)")
		loadLatest = flag.Bool("load_latest_export", true, "resume from the newest export in the data dir (when -export is empty)")
		replay     = flag.Bool("replay_edits", true, "re-apply logged paints newer than the resumed export")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[server] ", log.LstdFlags|log.Lmicroseconds)

	exportsDir := filepath.Join(*dataDir, "exports")
	_ = os.MkdirAll(exportsDir, 0o755)

	tune, err := tuning.Load(*tuningPath)
	if err != nil {
		if !os.IsNotExist(err) {
			logger.Fatalf("load tuning: %v", err)
		}
		logger.Printf("tuning not found (%s); using defaults", *tuningPath)
		tune = tuning.Defaults()
	}

	idx, err := openRuntimeIndex(*dataDir, *disableDB)
	if err != nil {
		logger.Fatalf("open index backend: %v", err)
	}
	if idx != nil {
		defer idx.Close()
		if err := idx.UpsertTuning(tune); err != nil {
			logger.Printf("index backend: upsert tuning: %v", err)
		}
	}

	mirrorRT, err := buildMirrorRuntime(*dataDir, logger)
	if err != nil {
		logger.Fatalf("init mirror: %v", err)
	}
	defer mirrorRT.Close()

	sc := scene.New(scene.ConfigFromTuning(tune), log.New(os.Stdout, "[scene] ", log.LstdFlags|log.Lmicroseconds))

	resumeFrom := strings.TrimSpace(*exportPath)
	if resumeFrom == "" && *loadLatest {
		resumeFrom = latestExport(exportsDir)
	}
	var startRev uint64
	switch {
	case resumeFrom != "":
		t, h, err := resumeTree(resumeFrom)
		if err != nil {
			logger.Fatalf("resume: %v", err)
		}
		if h.LogExtent > tune.MaxLogExtent {
			logger.Fatalf("resume: export log extent %d exceeds max_log_extent %d", h.LogExtent, tune.MaxLogExtent)
		}
		rev := h.Revision
		if *replay {
			rev = replayTail(*dataDir, t, h.Revision, logger)
		}
		sc.Restore(t, rev)
		startRev = h.Revision
		logger.Printf("resumed from export=%s rev=%d nodes=%s replayed=%d", filepath.Base(resumeFrom), h.Revision, humanize.Comma(int64(h.Nodes)), rev-h.Revision)
	case strings.TrimSpace(*scriptPath) != "":
		s, err := script.Load(*scriptPath)
		if err != nil {
			logger.Fatalf("load script: %v", err)
		}
		t, err := script.Apply(octree.New(), s)
		if err != nil {
			logger.Fatalf("apply script: %v", err)
		}
		if t.LogExtent() > tune.MaxLogExtent {
			logger.Fatalf("script builds log extent %d, max_log_extent is %d", t.LogExtent(), tune.MaxLogExtent)
		}
		sc.Restore(t, 0)
		logger.Printf("built scene from script=%s name=%q log_extent=%d", filepath.Base(*scriptPath), s.Name, t.LogExtent())
	default:
		t := octree.New()
		var rev uint64
		if *replay {
			rev = replayTail(*dataDir, t, 0, logger)
		}
		sc.Restore(t, rev)
		logger.Printf("starting from an empty scene, replayed=%d", rev)
	}

	if tune.EditLog {
		editLog := persistlog.NewEditLogger(*dataDir, persistlog.Options{OnClose: mirrorRT.Enqueue})
		defer editLog.Close()
		sc.SetEditLogger(multiEditLogger{a: editLog, b: indexEditLogger(idx)})
	} else if idx != nil {
		sc.SetEditLogger(idx)
	}

	// The scene outlives the HTTP server so that a final export can run
	// after the last client has gone.
	sceneCtx, stopScene := context.WithCancel(context.Background())
	defer stopScene()
	go func() {
		if err := sc.Run(sceneCtx); err != nil && err != context.Canceled {
			logger.Printf("scene stopped: %v", err)
		}
	}()

	ctx, cancel := signalContext()
	defer cancel()

	exp := &exporter{
		sc:           sc,
		dir:          exportsDir,
		dataDir:      *dataDir,
		every:        uint64(tune.ExportEveryEdits),
		archiveEvery: tune.ArchiveEveryEdits,
		level:        tune.ExportZstdLevel,
		keep:         tune.KeepExports,
		enqueue:      mirrorRT.Enqueue,
		logger:       logger,
		last:         startRev,
	}
	if idx != nil {
		exp.index = idx
	}
	go exp.run(ctx)
	if sc.Revision() != startRev {
		// Pin the replayed state so the next start does not depend on the log.
		go func() {
			if _, err := exp.exportNow(ctx); err != nil {
				logger.Printf("export after replay: %v", err)
			}
		}()
	}

	wsSrv := ws.NewServer(sc, tune, log.New(os.Stdout, "[ws] ", log.LstdFlags|log.Lmicroseconds))
	enableAdmin := envBool("VM_ENABLE_ADMIN_HTTP", defaultEnableAdminHTTP())
	enablePprof := envBool("VM_ENABLE_PPROF_HTTP", false)
	if !enableAdmin {
		logger.Printf("admin endpoints disabled (VM_ENABLE_ADMIN_HTTP=false)")
	}
	mux := newMux(httpDeps{
		sc:          sc,
		ws:          wsSrv,
		exp:         exp,
		idx:         idx,
		mirror:      mirrorRT,
		enableAdmin: enableAdmin,
		enablePprof: enablePprof,
	})

	srv := &http.Server{
		Addr:              *addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel2()
		_ = srv.Shutdown(ctx2)
	}()

	logger.Printf("listening on %s", *addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatalf("ListenAndServe: %v", err)
	}

	finalCtx, finalCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer finalCancel()
	if _, err := exp.exportNow(finalCtx); err != nil {
		logger.Printf("final export: %v", err)
	}
}

func indexEditLogger(idx runtimeIndex) scene.EditLogger {
	if idx == nil {
		return nil
	}
	return idx
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ch
		cancel()
	}()
	return ctx, cancel
}

// latestExport returns the newest export file in dir, or "".
func latestExport(dir string) string {
	files, err := bufferfile.List(dir)
	if err != nil || len(files) == 0 {
		return ""
	}
	return files[len(files)-1]
}

// replayTail applies the logged paints after rev to t and returns the
// revision reached. A log that cannot be fully replayed is logged and the
// scene continues from the last good revision.
func replayTail(dataDir string, t *octree.Octree, rev uint64, logger *log.Logger) uint64 {
	files, err := persistlog.EditFiles(dataDir)
	if err != nil {
		logger.Printf("replay: %v", err)
		return rev
	}
	for _, f := range files {
		entries, err := persistlog.ReadEdits(f)
		next, rerr := scene.ReplayEdits(t, rev, entries)
		rev = next
		if rerr != nil {
			logger.Printf("replay stopped at rev=%d: %v", rev, rerr)
			return rev
		}
		if err != nil {
			// A corrupt file; keep what decoded.
			logger.Printf("replay: %v", err)
			return rev
		}
	}
	return rev
}

// resumeTree rebuilds an editable tree from an export file.
func resumeTree(path string) (*octree.Octree, bufferfile.Header, error) {
	h, words, err := bufferfile.Read(path)
	if err != nil {
		return nil, h, err
	}
	g, err := octree.DecodeGPUBuffer(words)
	if err != nil {
		return nil, h, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	t, err := g.Octree()
	if err != nil {
		return nil, h, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	return t, h, nil
}
