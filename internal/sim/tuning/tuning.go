package tuning

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"voxelmarch.ai/internal/sim/octree"
)

type Tuning struct {
	ProtocolVersion string `yaml:"protocol_version"`

	// Paints that would grow the tree past MaxLogExtent are rejected.
	MaxLogExtent   int   `yaml:"max_log_extent"`
	MaxPaintVoxels int64 `yaml:"max_paint_voxels"`

	ExportEveryEdits int `yaml:"export_every_edits"`
	ExportZstdLevel  int `yaml:"export_zstd_level"`
	KeepExports      int `yaml:"keep_exports"`

	// Exports crossing a multiple of this are also copied to archives/.
	ArchiveEveryEdits int `yaml:"archive_every_edits"`

	EditLog         bool `yaml:"edit_log"`
	CheckInvariants bool `yaml:"check_invariants"`

	WS WSLimits `yaml:"ws"`
}

type WSLimits struct {
	ReadBufferBytes  int `yaml:"read_buffer_bytes"`
	WriteBufferBytes int `yaml:"write_buffer_bytes"`
	MaxMessageBytes  int `yaml:"max_message_bytes"`
	ReadTimeoutMs    int `yaml:"read_timeout_ms"`
	WriteTimeoutMs   int `yaml:"write_timeout_ms"`
	SendQueue        int `yaml:"send_queue"`
}

func Defaults() Tuning {
	return Tuning{
		ProtocolVersion:   "1.0",
		MaxLogExtent:      16,
		MaxPaintVoxels:    1 << 30,
		ExportEveryEdits:  64,
		ExportZstdLevel:   2,
		KeepExports:       8,
		ArchiveEveryEdits: 4096,
		EditLog:           true,
		WS: WSLimits{
			ReadBufferBytes:  64 * 1024,
			WriteBufferBytes: 64 * 1024,
			MaxMessageBytes:  8 << 20,
			ReadTimeoutMs:    60_000,
			WriteTimeoutMs:   5_000,
			SendQueue:        16,
		},
	}
}

// Load reads a tuning file. Keys missing from the file keep their defaults.
func Load(path string) (Tuning, error) {
	t := Defaults()
	raw, err := os.ReadFile(path)
	if err != nil {
		return t, err
	}
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	if err := t.Validate(); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	return t, nil
}

func (t Tuning) Validate() error {
	if t.MaxLogExtent < 0 || t.MaxLogExtent > octree.MaxLogExtent {
		return fmt.Errorf("max_log_extent %d out of range [0,%d]", t.MaxLogExtent, octree.MaxLogExtent)
	}
	if t.MaxPaintVoxels <= 0 {
		return fmt.Errorf("max_paint_voxels must be positive")
	}
	if t.ExportEveryEdits < 0 || t.ArchiveEveryEdits < 0 {
		return fmt.Errorf("export_every_edits and archive_every_edits must not be negative")
	}
	if t.ExportZstdLevel < 1 || t.ExportZstdLevel > 4 {
		return fmt.Errorf("export_zstd_level %d out of range [1,4]", t.ExportZstdLevel)
	}
	if t.WS.SendQueue <= 0 || t.WS.MaxMessageBytes <= 0 {
		return fmt.Errorf("ws.send_queue and ws.max_message_bytes must be positive")
	}
	return nil
}
