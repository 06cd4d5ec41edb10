package log

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"

	"voxelmarch.ai/internal/sim/scene"
)

// JSONLZstdWriter appends JSON lines to hourly zstd files named
// <prefix>-YYYY-MM-DD-HH.jsonl.zst under baseDir. A writer never reopens an
// existing file: if the hour's file is already there (a restart, or a crash
// that left its frame unterminated) it starts the next part,
// <prefix>-YYYY-MM-DD-HH.N.jsonl.zst.
type JSONLZstdWriter struct {
	baseDir string
	prefix  string
	now     func() time.Time
	onClose func(path string)

	mu      sync.Mutex
	curHour string
	curPath string
	f       *os.File
	enc     *zstd.Encoder
	w       *bufio.Writer
}

// Options tune a writer. OnClose, if set, receives the path of every file
// the writer finishes (on rotation and on Close).
type Options struct {
	OnClose func(path string)
}

func NewJSONLZstdWriter(baseDir, prefix string, opts Options) *JSONLZstdWriter {
	return &JSONLZstdWriter{
		baseDir: baseDir,
		prefix:  prefix,
		now:     time.Now,
		onClose: opts.OnClose,
	}
}

func (w *JSONLZstdWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closeLocked()
}

// Write appends v as one line and flushes it through the encoder, so the
// file holds every written line even if the process dies before Close.
func (w *JSONLZstdWriter) Write(v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	hour := w.now().UTC().Format("2006-01-02-15")
	if hour != w.curHour || w.w == nil {
		if err := w.rotateLocked(hour); err != nil {
			return err
		}
	}
	if _, err := w.w.Write(b); err != nil {
		return err
	}
	if err := w.w.WriteByte('\n'); err != nil {
		return err
	}
	if err := w.w.Flush(); err != nil {
		return err
	}
	return w.enc.Flush()
}

func (w *JSONLZstdWriter) rotateLocked(hour string) error {
	if err := w.closeLocked(); err != nil {
		return err
	}
	if err := os.MkdirAll(w.baseDir, 0o755); err != nil {
		return err
	}
	var (
		path string
		f    *os.File
		err  error
	)
	for part := 0; ; part++ {
		path = w.pathFor(hour, part)
		f, err = os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0o644)
		if !errors.Is(err, os.ErrExist) {
			break
		}
	}
	if err != nil {
		return err
	}
	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		_ = f.Close()
		return err
	}
	w.f = f
	w.enc = enc
	w.w = bufio.NewWriterSize(enc, 64*1024)
	w.curHour = hour
	w.curPath = path
	return nil
}

func (w *JSONLZstdWriter) closeLocked() error {
	var errs []error
	if w.w != nil {
		errs = append(errs, w.w.Flush())
	}
	if w.enc != nil {
		errs = append(errs, w.enc.Close())
		w.enc = nil
	}
	if w.f != nil {
		errs = append(errs, w.f.Close())
		w.f = nil
		if w.onClose != nil {
			w.onClose(w.curPath)
		}
	}
	w.w = nil
	w.curHour = ""
	w.curPath = ""
	return errors.Join(errs...)
}

func (w *JSONLZstdWriter) pathFor(hour string, part int) string {
	if part == 0 {
		return filepath.Join(w.baseDir, fmt.Sprintf("%s-%s.jsonl.zst", w.prefix, hour))
	}
	return filepath.Join(w.baseDir, fmt.Sprintf("%s-%s.%d.jsonl.zst", w.prefix, hour, part))
}

// EditLogger writes one JSONL entry per applied scene edit.
type EditLogger struct{ w *JSONLZstdWriter }

func NewEditLogger(dataDir string, opts Options) *EditLogger {
	return &EditLogger{w: NewJSONLZstdWriter(filepath.Join(dataDir, "edits"), "edits", opts)}
}

func (l *EditLogger) WriteEdit(e scene.EditEntry) error { return l.w.Write(e) }
func (l *EditLogger) Close() error                       { return l.w.Close() }

// ReadEdits decodes every entry of one edit log file. A file whose writer
// died before Close ends in an unterminated frame; the entries flushed
// before that are returned without error.
func ReadEdits(path string) ([]scene.EditEntry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	dec, err := zstd.NewReader(f)
	if err != nil {
		return nil, err
	}
	defer dec.Close()

	var out []scene.EditEntry
	jd := json.NewDecoder(dec)
	for {
		var e scene.EditEntry
		if err := jd.Decode(&e); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return out, nil
			}
			return out, fmt.Errorf("%s: entry %d: %w", filepath.Base(path), len(out), err)
		}
		out = append(out, e)
	}
}

// EditFiles lists the edit log files under dataDir, oldest first: by hour,
// then by part.
func EditFiles(dataDir string) ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(dataDir, "edits", "edits-*.jsonl.zst"))
	if err != nil {
		return nil, err
	}
	sort.Slice(matches, func(i, j int) bool {
		hi, pi := editFileOrder(matches[i])
		hj, pj := editFileOrder(matches[j])
		if hi != hj {
			return hi < hj
		}
		return pi < pj
	})
	return matches, nil
}

func editFileOrder(path string) (string, int) {
	base := strings.TrimSuffix(strings.TrimPrefix(filepath.Base(path), "edits-"), ".jsonl.zst")
	hour, part, ok := strings.Cut(base, ".")
	if !ok {
		return hour, 0
	}
	n, _ := strconv.Atoi(part)
	return hour, n
}

// IsEditFile reports whether name looks like an edit log file.
func IsEditFile(name string) bool {
	base := filepath.Base(name)
	return strings.HasPrefix(base, "edits-") && strings.HasSuffix(base, ".jsonl.zst")
}
