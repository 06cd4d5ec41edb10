// Package script loads scene scripts: ordered lists of edits that build an
// octree. Scripts are YAML (or JSON, which YAML accepts) and are validated
// against an embedded JSON schema before decoding.
package script

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"

	"voxelmarch.ai/internal/sim/encoding"
	"voxelmarch.ai/internal/sim/gen"
	"voxelmarch.ai/internal/sim/octree"
)

var ErrInvalid = errors.New("invalid script")

//go:embed script.schema.json
var schemaSource string

var schema = jsonschema.MustCompileString("script.schema.json", schemaSource)

// MaxVolumeVoxels caps inline dense volumes (128^3).
const MaxVolumeVoxels = 1 << 21

type Script struct {
	Version int    `json:"version"`
	Name    string `json:"name,omitempty"`
	Ops     []Op   `json:"ops"`
}

// Op holds exactly one of its fields.
type Op struct {
	Paint    *PaintOp    `json:"paint,omitempty"`
	Volume   *VolumeOp   `json:"volume,omitempty"`
	Generate *gen.Params `json:"generate,omitempty"`
	Clear    bool        `json:"clear,omitempty"`
}

type PaintOp struct {
	Offset octree.Coord `json:"offset"`
	Extent octree.Coord `json:"extent"`
	Value  octree.Voxel `json:"value"`
}

type VolumeOp struct {
	RLE string `json:"rle"`
}

// UnmarshalJSON fills generate ops on top of gen.Defaults.
func (o *Op) UnmarshalJSON(b []byte) error {
	var raw struct {
		Paint    *PaintOp        `json:"paint"`
		Volume   *VolumeOp       `json:"volume"`
		Generate json.RawMessage `json:"generate"`
		Clear    bool            `json:"clear"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	*o = Op{Paint: raw.Paint, Volume: raw.Volume, Clear: raw.Clear}
	if len(raw.Generate) > 0 {
		p := gen.Defaults(0, 0)
		if err := json.Unmarshal(raw.Generate, &p); err != nil {
			return err
		}
		o.Generate = &p
	}
	return nil
}

func Parse(data []byte) (Script, error) {
	var s Script
	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return s, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	js, err := json.Marshal(doc)
	if err != nil {
		return s, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	dec := json.NewDecoder(bytes.NewReader(js))
	dec.UseNumber()
	var generic any
	if err := dec.Decode(&generic); err != nil {
		return s, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if err := schema.Validate(generic); err != nil {
		return s, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if err := json.Unmarshal(js, &s); err != nil {
		return s, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	return s, nil
}

func Load(path string) (Script, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Script{}, err
	}
	s, err := Parse(raw)
	if err != nil {
		return s, fmt.Errorf("%s: %w", path, err)
	}
	return s, nil
}

// Apply runs the ops in order, starting from t. Volume, generate and clear
// ops replace the tree, so the returned tree may not be t.
func Apply(t *octree.Octree, s Script) (*octree.Octree, error) {
	for i, op := range s.Ops {
		next, err := ApplyOp(t, op)
		if err != nil {
			return t, fmt.Errorf("op %d: %w", i, err)
		}
		t = next
	}
	return t, nil
}

func ApplyOp(t *octree.Octree, op Op) (*octree.Octree, error) {
	switch {
	case op.Paint != nil:
		if _, need, fits := octree.Bounds(op.Paint.Offset, op.Paint.Extent); !fits {
			return t, fmt.Errorf("%w: paint needs log extent %d > %d", ErrInvalid, need, octree.MaxLogExtent)
		}
		t.Paint(op.Paint.Offset, op.Paint.Extent, op.Paint.Value)
		return t, nil
	case op.Volume != nil:
		vals, err := encoding.DecodeRLE(op.Volume.RLE, MaxVolumeVoxels)
		if err != nil {
			return t, fmt.Errorf("volume: %w", err)
		}
		return FromValues(vals)
	case op.Generate != nil:
		vals, err := gen.Generate(*op.Generate)
		if err != nil {
			return t, fmt.Errorf("generate: %w", err)
		}
		return octree.FromVoxels(vals)
	case op.Clear:
		return octree.New(), nil
	}
	return t, fmt.Errorf("%w: empty op", ErrInvalid)
}

// FromValues builds a tree from a dense array of raw values.
func FromValues(vals []uint32) (*octree.Octree, error) {
	vox := make([]octree.Voxel, len(vals))
	for i, v := range vals {
		vox[i] = octree.Voxel(v)
	}
	return octree.FromVoxels(vox)
}
