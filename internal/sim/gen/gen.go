// Package gen produces deterministic dense voxel volumes for demos, tests
// and benchmarks. Output is laid out in octree.FromVoxels order.
package gen

import (
	"fmt"

	"github.com/golang/geo/r3"

	"voxelmarch.ai/internal/sim/octree"
)

// MaxLogExtent caps generated volumes at 128^3 voxels.
const MaxLogExtent = 7

type Sphere struct {
	Center r3.Vector    `yaml:"center" json:"center"`
	Radius float64      `yaml:"radius" json:"radius"`
	Value  octree.Voxel `yaml:"value" json:"value"`
}

type Params struct {
	Seed      int64 `yaml:"seed" json:"seed"`
	LogExtent int   `yaml:"log_extent" json:"log_extent"`

	// Terrain height field, in permille of the side.
	GroundPermille int `yaml:"ground_permille" json:"ground_permille"`
	ReliefPermille int `yaml:"relief_permille" json:"relief_permille"`
	CellSize       int `yaml:"cell_size" json:"cell_size"`

	OreGrid         int `yaml:"ore_grid" json:"ore_grid"`
	OreRadius       int `yaml:"ore_radius" json:"ore_radius"`
	OreProbPermille int `yaml:"ore_prob_permille" json:"ore_prob_permille"`

	Stone octree.Voxel `yaml:"stone" json:"stone"`
	Dirt  octree.Voxel `yaml:"dirt" json:"dirt"`
	Grass octree.Voxel `yaml:"grass" json:"grass"`
	Ore   octree.Voxel `yaml:"ore" json:"ore"`

	Spheres []Sphere `yaml:"spheres,omitempty" json:"spheres,omitempty"`
}

func Defaults(seed int64, logExtent int) Params {
	return Params{
		Seed:            seed,
		LogExtent:       logExtent,
		GroundPermille:  400,
		ReliefPermille:  150,
		CellSize:        8,
		OreGrid:         8,
		OreRadius:       1,
		OreProbPermille: 250,
		Stone:           1,
		Dirt:            2,
		Grass:           3,
		Ore:             4,
	}
}

func (p Params) Validate() error {
	if p.LogExtent < 0 || p.LogExtent > MaxLogExtent {
		return fmt.Errorf("log_extent %d out of range [0,%d]", p.LogExtent, MaxLogExtent)
	}
	if p.CellSize <= 0 {
		return fmt.Errorf("cell_size must be positive, got %d", p.CellSize)
	}
	for _, s := range p.Spheres {
		if s.Radius < 0 {
			return fmt.Errorf("sphere radius must not be negative, got %v", s.Radius)
		}
	}
	return nil
}

// Generate fills a 2^LogExtent cube: stone below a hashed height field,
// two dirt layers and grass on top, ore clusters inside the stone, and the
// configured spheres painted last. Everything else is octree.Empty.
func Generate(p Params) ([]octree.Voxel, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	side := 1 << p.LogExtent
	out := make([]octree.Voxel, side*side*side)
	oreProb := uint64(ClampPermille(p.OreProbPermille))

	for z := 0; z < side; z++ {
		for x := 0; x < side; x++ {
			h := p.heightAt(x, z, side)
			for y := 0; y < side; y++ {
				v := octree.Empty
				switch {
				case y < h-3:
					v = p.Stone
					if InCluster(p.Seed+101, x, y, z, p.OreGrid, p.OreRadius, oreProb) {
						v = p.Ore
					}
				case y < h-1:
					v = p.Dirt
				case y < h:
					v = p.Grass
				}
				out[x+y*side+z*side*side] = v
			}
		}
	}

	for _, s := range p.Spheres {
		paintSphere(out, side, s)
	}
	return out, nil
}

// heightAt bilinearly interpolates hashed lattice values (permille) and
// maps them onto [0, side].
func (p Params) heightAt(x, z, side int) int {
	cell := p.CellSize
	gx, fx := FloorDiv(x, cell), Mod(x, cell)
	gz, fz := FloorDiv(z, cell), Mod(z, cell)
	lattice := func(ix, iz int) int {
		return int(Hash2(p.Seed, ix, iz) % 1001)
	}
	v0 := lattice(gx, gz)*(cell-fx) + lattice(gx+1, gz)*fx
	v1 := lattice(gx, gz+1)*(cell-fx) + lattice(gx+1, gz+1)*fx
	v := (v0*(cell-fz) + v1*fz) / (cell * cell)

	h := side*ClampPermille(p.GroundPermille)/1000 + (v-500)*side*ClampPermille(p.ReliefPermille)/500000
	return max(0, min(side, h))
}

func paintSphere(out []octree.Voxel, side int, s Sphere) {
	lo := func(c float64) int { return max(0, int(c-s.Radius)) }
	hi := func(c float64) int { return min(side-1, int(c+s.Radius)) }
	r2 := s.Radius * s.Radius
	for z := lo(s.Center.Z); z <= hi(s.Center.Z); z++ {
		for y := lo(s.Center.Y); y <= hi(s.Center.Y); y++ {
			for x := lo(s.Center.X); x <= hi(s.Center.X); x++ {
				d := r3.Vector{X: float64(x), Y: float64(y), Z: float64(z)}.Sub(s.Center)
				if d.Norm2() <= r2 {
					out[x+y*side+z*side*side] = s.Value
				}
			}
		}
	}
}
