package main

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"

	"voxelmarch.ai/internal/persistence/mirror"
)

// mirrorRuntime is nil-safe: a disabled mirror ignores every call.
type mirrorRuntime struct {
	m *mirror.Mirror
}

func buildMirrorRuntime(dataDir string, logger *log.Logger) (*mirrorRuntime, error) {
	if !envBool("VM_MIRROR", false) {
		return nil, nil
	}

	cfg := mirror.Config{
		Endpoint:        os.Getenv("VM_MIRROR_ENDPOINT"),
		Bucket:          os.Getenv("VM_MIRROR_BUCKET"),
		Region:          strings.TrimSpace(os.Getenv("VM_MIRROR_REGION")),
		AccessKeyID:     os.Getenv("VM_MIRROR_ACCESS_KEY_ID"),
		SecretAccessKey: os.Getenv("VM_MIRROR_SECRET_ACCESS_KEY"),
	}
	client, err := mirror.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("VM_MIRROR=true: %w", err)
	}
	prefix := strings.TrimSpace(os.Getenv("VM_MIRROR_PREFIX"))
	workers := envInt("VM_MIRROR_WORKERS", 2)
	return &mirrorRuntime{m: mirror.New(client, dataDir, prefix, workers, logger)}, nil
}

func (r *mirrorRuntime) Enqueue(localPath string) {
	if r == nil {
		return
	}
	r.m.Enqueue(localPath)
}

func (r *mirrorRuntime) Close() {
	if r == nil {
		return
	}
	r.m.Close()
}

func (r *mirrorRuntime) Stats() (mirror.Stats, bool) {
	if r == nil {
		return mirror.Stats{}, false
	}
	return r.m.Stats(), true
}

func envBool(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func envInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}
