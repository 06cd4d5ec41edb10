package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/http/pprof"
	"os"
	"strconv"
	"strings"
	"time"

	"voxelmarch.ai/internal/sim/octree"
	"voxelmarch.ai/internal/sim/scene"
	"voxelmarch.ai/internal/transport/ws"
)

type httpDeps struct {
	sc     *scene.Scene
	ws     *ws.Server
	exp    *exporter
	idx    runtimeIndex
	mirror *mirrorRuntime

	enableAdmin bool
	enablePprof bool
}

func newMux(d httpDeps) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(200)
		_, _ = rw.Write([]byte("ok"))
	})
	mux.HandleFunc("/metrics", func(rw http.ResponseWriter, r *http.Request) {
		st, err := d.sc.Stats(r.Context())
		if err != nil {
			http.Error(rw, err.Error(), http.StatusServiceUnavailable)
			return
		}
		rw.Header().Set("Content-Type", "text/plain; version=0.0.4")
		var clients int64
		if d.ws != nil {
			clients = d.ws.Clients()
		}
		writeSceneMetrics(rw, d.sc.Revision(), st, clients)
		if d.idx != nil {
			fmt.Fprintf(rw, "# HELP voxelmarch_index_dropped_total Index writes dropped because the queue was full.\n")
			fmt.Fprintf(rw, "# TYPE voxelmarch_index_dropped_total counter\n")
			fmt.Fprintf(rw, "voxelmarch_index_dropped_total %d\n", d.idx.Dropped())
		}
		writeMirrorMetrics(rw, d.mirror)
	})

	// Compacted buffer of the live scene, for renderers that poll.
	mux.HandleFunc("/v1/export", func(rw http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			rw.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		ex, err := d.sc.Export(r.Context())
		if err != nil {
			http.Error(rw, err.Error(), http.StatusServiceUnavailable)
			return
		}
		raw := octree.EncodeGPUBytes(ex.Words)
		rw.Header().Set("Content-Type", "application/octet-stream")
		rw.Header().Set("Content-Length", strconv.Itoa(len(raw)))
		rw.Header().Set("X-Scene-Revision", strconv.FormatUint(ex.Revision, 10))
		_, _ = rw.Write(raw)
	})

	if d.enableAdmin {
		mux.HandleFunc("/admin/v1/state", func(rw http.ResponseWriter, r *http.Request) {
			if !isLoopbackRemote(r.RemoteAddr) {
				http.Error(rw, "forbidden", http.StatusForbidden)
				return
			}
			st, err := d.sc.Stats(r.Context())
			if err != nil {
				http.Error(rw, err.Error(), http.StatusServiceUnavailable)
				return
			}
			rw.Header().Set("Content-Type", "application/json")
			resp := struct {
				Revision uint64       `json:"revision"`
				Stats    octree.Stats `json:"stats"`
			}{
				Revision: d.sc.Revision(),
				Stats:    st,
			}
			_ = json.NewEncoder(rw).Encode(resp)
		})
		mux.HandleFunc("/admin/v1/export", func(rw http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodPost {
				rw.WriteHeader(http.StatusMethodNotAllowed)
				return
			}
			if !isLoopbackRemote(r.RemoteAddr) {
				http.Error(rw, "forbidden", http.StatusForbidden)
				return
			}
			ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
			defer cancel()
			res, err := d.exp.exportNow(ctx)
			rw.Header().Set("Content-Type", "application/json")
			if err != nil {
				rw.WriteHeader(http.StatusServiceUnavailable)
				_ = json.NewEncoder(rw).Encode(map[string]any{"ok": false, "error": err.Error()})
				return
			}
			_ = json.NewEncoder(rw).Encode(map[string]any{"ok": true, "export": res})
		})
	}
	if d.enablePprof {
		mux.HandleFunc("/debug/pprof/", pprof.Index)
		mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
		mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	}
	if d.ws != nil {
		mux.HandleFunc("/v1/ws", d.ws.Handler())
	}
	return mux
}

func writeSceneMetrics(rw http.ResponseWriter, revision uint64, st octree.Stats, clients int64) {
	// Minimal Prometheus exposition format.
	fmt.Fprintf(rw, "# HELP voxelmarch_scene_revision Current scene revision.\n")
	fmt.Fprintf(rw, "# TYPE voxelmarch_scene_revision gauge\n")
	fmt.Fprintf(rw, "voxelmarch_scene_revision %d\n", revision)

	fmt.Fprintf(rw, "# HELP voxelmarch_scene_log_extent Log2 of the scene side length.\n")
	fmt.Fprintf(rw, "# TYPE voxelmarch_scene_log_extent gauge\n")
	fmt.Fprintf(rw, "voxelmarch_scene_log_extent %d\n", st.LogExtent)

	fmt.Fprintf(rw, "# HELP voxelmarch_scene_nodes Arena slots by state.\n")
	fmt.Fprintf(rw, "# TYPE voxelmarch_scene_nodes gauge\n")
	fmt.Fprintf(rw, "voxelmarch_scene_nodes{state=%q} %d\n", "leaf", st.Leaves)
	fmt.Fprintf(rw, "voxelmarch_scene_nodes{state=%q} %d\n", "branch", st.Branches)
	fmt.Fprintf(rw, "voxelmarch_scene_nodes{state=%q} %d\n", "free", st.Free)

	fmt.Fprintf(rw, "# HELP voxelmarch_scene_empty_leaves Leaves holding the empty value.\n")
	fmt.Fprintf(rw, "# TYPE voxelmarch_scene_empty_leaves gauge\n")
	fmt.Fprintf(rw, "voxelmarch_scene_empty_leaves %d\n", st.EmptyLeaves)

	fmt.Fprintf(rw, "# HELP voxelmarch_ws_clients Current number of connected clients.\n")
	fmt.Fprintf(rw, "# TYPE voxelmarch_ws_clients gauge\n")
	fmt.Fprintf(rw, "voxelmarch_ws_clients %d\n", clients)
}

func writeMirrorMetrics(rw http.ResponseWriter, m *mirrorRuntime) {
	s, ok := m.Stats()
	if !ok {
		return
	}
	fmt.Fprintf(rw, "# HELP voxelmarch_mirror_files_total Mirror files by outcome.\n")
	fmt.Fprintf(rw, "# TYPE voxelmarch_mirror_files_total counter\n")
	fmt.Fprintf(rw, "voxelmarch_mirror_files_total{outcome=%q} %d\n", "queued", s.Queued)
	fmt.Fprintf(rw, "voxelmarch_mirror_files_total{outcome=%q} %d\n", "dropped", s.Dropped)
	fmt.Fprintf(rw, "voxelmarch_mirror_files_total{outcome=%q} %d\n", "uploaded", s.Uploaded)
	fmt.Fprintf(rw, "voxelmarch_mirror_files_total{outcome=%q} %d\n", "failed", s.Failed)
}

func isLoopbackRemote(remoteAddr string) bool {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	host = strings.TrimPrefix(host, "[")
	host = strings.TrimSuffix(host, "]")
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

func defaultEnableAdminHTTP() bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv("DEPLOY_ENV"))) {
	case "staging", "production":
		return false
	default:
		return true
	}
}
