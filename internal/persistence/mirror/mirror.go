package mirror

import (
	"context"
	"fmt"
	"log"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Uploader is the part of Client the mirror needs.
type Uploader interface {
	PutFile(ctx context.Context, key, localPath string) error
}

type Stats struct {
	Queued   uint64 `json:"queued"`
	Dropped  uint64 `json:"dropped"`
	Uploaded uint64 `json:"uploaded"`
	Failed   uint64 `json:"failed"`
}

// Mirror uploads files found under dataDir with a fixed pool of workers.
// Object keys are the slash path relative to dataDir, under prefix.
type Mirror struct {
	up      Uploader
	dataDir string
	prefix  string
	logger  *log.Logger

	jobs    chan string
	wg      sync.WaitGroup
	backoff time.Duration

	queued   atomic.Uint64
	dropped  atomic.Uint64
	uploaded atomic.Uint64
	failed   atomic.Uint64
}

func New(up Uploader, dataDir, prefix string, workers int, logger *log.Logger) *Mirror {
	if workers <= 0 {
		workers = 1
	}
	m := &Mirror{
		up:      up,
		dataDir: dataDir,
		prefix:  strings.Trim(strings.ReplaceAll(prefix, "\\", "/"), "/"),
		logger:  logger,
		jobs:    make(chan string, 256),
		backoff: 200 * time.Millisecond,
	}
	for i := 0; i < workers; i++ {
		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			for p := range m.jobs {
				m.upload(p)
			}
		}()
	}
	return m
}

// Enqueue never blocks; files are dropped when the queue is full.
func (m *Mirror) Enqueue(localPath string) {
	if m == nil {
		return
	}
	select {
	case m.jobs <- localPath:
		m.queued.Add(1)
	default:
		m.dropped.Add(1)
		m.printf("mirror drop %s: queue full", localPath)
	}
}

// Close waits for queued uploads to finish.
func (m *Mirror) Close() {
	if m == nil {
		return
	}
	close(m.jobs)
	m.wg.Wait()
}

func (m *Mirror) Stats() Stats {
	if m == nil {
		return Stats{}
	}
	return Stats{
		Queued:   m.queued.Load(),
		Dropped:  m.dropped.Load(),
		Uploaded: m.uploaded.Load(),
		Failed:   m.failed.Load(),
	}
}

func (m *Mirror) upload(localPath string) {
	key, err := m.objectKey(localPath)
	if err != nil {
		m.failed.Add(1)
		m.printf("mirror skip %s: %v", localPath, err)
		return
	}
	const attempts = 4
	for i := 1; i <= attempts; i++ {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		err = m.up.PutFile(ctx, key, localPath)
		cancel()
		if err == nil {
			m.uploaded.Add(1)
			m.printf("mirror uploaded %s", key)
			return
		}
		if i < attempts {
			time.Sleep(time.Duration(i*i) * m.backoff)
		}
	}
	m.failed.Add(1)
	m.printf("mirror upload %s failed: %v", key, err)
}

func (m *Mirror) objectKey(localPath string) (string, error) {
	base, err := filepath.Abs(m.dataDir)
	if err != nil {
		return "", err
	}
	abs, err := filepath.Abs(localPath)
	if err != nil {
		return "", err
	}
	rel, err := filepath.Rel(base, abs)
	if err != nil {
		return "", err
	}
	rel = filepath.ToSlash(rel)
	if rel == "." || rel == ".." || strings.HasPrefix(rel, "../") {
		return "", fmt.Errorf("outside data dir %s", base)
	}
	if m.prefix != "" {
		rel = path.Join(m.prefix, rel)
	}
	return rel, nil
}

func (m *Mirror) printf(format string, args ...any) {
	if m.logger != nil {
		m.logger.Printf(format, args...)
	}
}
