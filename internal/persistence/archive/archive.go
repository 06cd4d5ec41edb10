package archive

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"voxelmarch.ai/internal/persistence/bufferfile"
)

type Meta struct {
	Revision  uint64 `json:"revision"`
	Milestone uint64 `json:"milestone"`
	LogExtent int    `json:"log_extent"`
	Nodes     int    `json:"nodes"`
	SHA256    string `json:"sha256"`
	Export    string `json:"export"`
	CreatedAt string `json:"created_at"`
}

// Due reports whether moving from revision prev to rev crosses a multiple
// of every. every <= 0 disables archiving.
func Due(prev, rev uint64, every int) bool {
	if every <= 0 {
		return false
	}
	e := uint64(every)
	return rev/e > prev/e
}

// ArchiveExport copies an export into `dataDir/archives/rev_<NNNNNNNNNNNN>/`
// next to a meta.json, out of reach of export pruning. It returns the
// archived export path.
func ArchiveExport(dataDir, exportPath string, h bufferfile.Header, every int) (string, error) {
	dir := Dir(dataDir, h.Revision)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	dst := filepath.Join(dir, filepath.Base(exportPath))
	if err := copyFile(exportPath, dst); err != nil {
		return "", err
	}

	var milestone uint64
	if every > 0 {
		milestone = h.Revision / uint64(every)
	}
	meta := Meta{
		Revision:  h.Revision,
		Milestone: milestone,
		LogExtent: h.LogExtent,
		Nodes:     h.Nodes,
		SHA256:    h.SHA256,
		Export:    filepath.Base(dst),
		CreatedAt: time.Now().UTC().Format(time.RFC3339Nano),
	}
	if b, err := json.MarshalIndent(meta, "", "  "); err == nil {
		_ = os.WriteFile(filepath.Join(dir, "meta.json"), b, 0o644)
	}
	return dst, nil
}

func Dir(dataDir string, revision uint64) string {
	return filepath.Join(dataDir, "archives", fmt.Sprintf("rev_%012d", revision))
}

// ReadMeta loads the meta.json of an archive directory.
func ReadMeta(dir string) (Meta, error) {
	var m Meta
	b, err := os.ReadFile(filepath.Join(dir, "meta.json"))
	if err != nil {
		return m, err
	}
	err = json.Unmarshal(b, &m)
	return m, err
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer func() { _ = out.Close() }()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Close()
}
