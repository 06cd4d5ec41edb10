package main

import (
	"bufio"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/golang/geo/r3"

	"voxelmarch.ai/internal/persistence/archive"
	"voxelmarch.ai/internal/persistence/bufferfile"
	"voxelmarch.ai/internal/sim/gen"
	"voxelmarch.ai/internal/sim/octree"
	"voxelmarch.ai/internal/sim/script"
)

func main() {
	if len(os.Args) >= 2 {
		switch os.Args[1] {
		case "build":
			buildCmd(os.Args[2:])
			return
		case "gen":
			genCmd(os.Args[2:])
			return
		case "inspect":
			inspectCmd(os.Args[2:])
			return
		case "sample":
			sampleCmd(os.Args[2:])
			return
		case "mesh":
			meshCmd(os.Args[2:])
			return
		case "archives":
			archivesCmd(os.Args[2:])
			return
		case "db":
			dbCmd(os.Args[2:])
			return
		case "state":
			stateCmd(os.Args[2:])
			return
		case "export":
			exportCmd(os.Args[2:])
			return
		}
	}
	listCmd(os.Args[1:])
}

func fail(code int, args ...any) {
	fmt.Fprintln(os.Stderr, args...)
	os.Exit(code)
}

func listCmd(args []string) {
	fs := flag.NewFlagSet("list", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	_ = fs.Parse(args)

	files, err := bufferfile.List(filepath.Join(*dataDir, "exports"))
	if err != nil {
		fail(1, "list:", err)
	}
	for _, p := range files {
		h, err := bufferfile.ReadHeader(p)
		if err != nil {
			fmt.Printf("%s\tunreadable: %v\n", filepath.Base(p), err)
			continue
		}
		var size int64
		var age string
		if fi, err := os.Stat(p); err == nil {
			size = fi.Size()
			age = humanize.Time(fi.ModTime())
		}
		fmt.Printf("%s\trev=%d\tlog_extent=%d\tnodes=%s\t%s\t%s\n",
			filepath.Base(p), h.Revision, h.LogExtent, humanize.Comma(int64(h.Nodes)), humanize.Bytes(uint64(size)), age)
	}
}

func archivesCmd(args []string) {
	fs := flag.NewFlagSet("archives", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	_ = fs.Parse(args)

	metas, err := listArchives(*dataDir)
	if err != nil {
		fail(1, "archives:", err)
	}
	for _, m := range metas {
		fmt.Printf("milestone=%d\trev=%d\tlog_extent=%d\tnodes=%s\tsha256=%.12s\t%s\n",
			m.Milestone, m.Revision, m.LogExtent, humanize.Comma(int64(m.Nodes)), m.SHA256, m.CreatedAt)
	}
}

// listArchives reads every archive meta under dataDir, oldest first.
// Directories without a readable meta.json are skipped.
func listArchives(dataDir string) ([]archive.Meta, error) {
	entries, err := os.ReadDir(filepath.Join(dataDir, "archives"))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var out []archive.Meta
	for _, e := range entries {
		if !e.IsDir() || !strings.HasPrefix(e.Name(), "rev_") {
			continue
		}
		m, err := archive.ReadMeta(filepath.Join(dataDir, "archives", e.Name()))
		if err != nil {
			continue
		}
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Revision < out[j].Revision })
	return out, nil
}

func buildCmd(args []string) {
	fs := flag.NewFlagSet("build", flag.ExitOnError)
	scriptPath := fs.String("script", "", "scene script (yaml or json)")
	out := fs.String("out", "", "output .svo.zst path")
	level := fs.Int("level", 2, "zstd level (1 fastest .. 4 best)")
	_ = fs.Parse(args)

	if strings.TrimSpace(*scriptPath) == "" || strings.TrimSpace(*out) == "" {
		fail(2, "missing -script or -out")
	}
	s, err := script.Load(*scriptPath)
	if err != nil {
		fail(1, "load script:", err)
	}
	t, err := script.Apply(octree.New(), s)
	if err != nil {
		fail(1, "apply script:", err)
	}
	writeTree(t, *out, *level)
}

func genCmd(args []string) {
	fs := flag.NewFlagSet("gen", flag.ExitOnError)
	seed := fs.Int64("seed", 1337, "generator seed")
	logExtent := fs.Int("log_extent", 5, "log2 of the volume side (max 7)")
	out := fs.String("out", "", "output .svo.zst path")
	level := fs.Int("level", 2, "zstd level (1 fastest .. 4 best)")
	_ = fs.Parse(args)

	if strings.TrimSpace(*out) == "" {
		fail(2, "missing -out")
	}
	vals, err := gen.Generate(gen.Defaults(*seed, *logExtent))
	if err != nil {
		fail(1, "generate:", err)
	}
	t, err := octree.FromVoxels(vals)
	if err != nil {
		fail(1, "build:", err)
	}
	writeTree(t, *out, *level)
}

func writeTree(t *octree.Octree, out string, level int) {
	t.Shrink()
	words, err := t.GPUBuffer()
	if err != nil {
		fail(1, "gpu buffer:", err)
	}
	h, err := bufferfile.Write(out, 0, words, level)
	if err != nil {
		fail(1, "write:", err)
	}
	fmt.Printf("wrote %s log_extent=%d nodes=%s raw=%s\n",
		out, h.LogExtent, humanize.Comma(int64(h.Nodes)), humanize.Bytes(uint64(4*len(words))))
}

func readTree(path string) (bufferfile.Header, *octree.GPUTree) {
	if strings.TrimSpace(path) == "" {
		fail(2, "missing -in")
	}
	h, words, err := bufferfile.Read(path)
	if err != nil {
		fail(1, "read:", err)
	}
	g, err := octree.DecodeGPUBuffer(words)
	if err != nil {
		fail(1, "decode:", err)
	}
	return h, g
}

func inspectCmd(args []string) {
	fs := flag.NewFlagSet("inspect", flag.ExitOnError)
	in := fs.String("in", "", "input .svo.zst path")
	top := fs.Int("top", 10, "values to list in the histogram")
	_ = fs.Parse(args)

	h, g := readTree(*in)
	t, err := g.Octree()
	if err != nil {
		fail(1, "rebuild:", err)
	}
	var size int64
	if fi, err := os.Stat(*in); err == nil {
		size = fi.Size()
	}
	st := t.Stats()
	side := uint64(t.Side())
	raw := uint64(4 * h.Words())
	fmt.Printf("file=%s version=%d revision=%d sha256=%s\n", filepath.Base(*in), h.Version, h.Revision, h.SHA256)
	fmt.Printf("log_extent=%d side=%d voxels=%s\n", h.LogExtent, side, humanize.Comma(int64(side*side*side)))
	fmt.Printf("nodes=%s leaves=%s branches=%s empty_leaves=%s\n",
		humanize.Comma(int64(h.Nodes)), humanize.Comma(int64(st.Leaves)), humanize.Comma(int64(st.Branches)), humanize.Comma(int64(st.EmptyLeaves)))
	fmt.Printf("size=%s raw=%s ratio=%.2f\n", humanize.Bytes(uint64(size)), humanize.Bytes(raw), float64(raw)/float64(max(size, 1)))

	for _, b := range histogram(t, *top) {
		fmt.Printf("value=%d voxels=%s\n", b.Value, humanize.Comma(b.Voxels))
	}
}

type valueCount struct {
	Value  octree.Voxel
	Voxels int64
}

// histogram sums the non-empty volume per value, largest first.
func histogram(t *octree.Octree, top int) []valueCount {
	sums := map[octree.Voxel]int64{}
	for _, b := range t.DebugBoxes() {
		s := int64(b.Side)
		sums[b.Value] += s * s * s
	}
	out := make([]valueCount, 0, len(sums))
	for v, n := range sums {
		out = append(out, valueCount{Value: v, Voxels: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Voxels != out[j].Voxels {
			return out[i].Voxels > out[j].Voxels
		}
		return out[i].Value < out[j].Value
	})
	if top > 0 && len(out) > top {
		out = out[:top]
	}
	return out
}

func sampleCmd(args []string) {
	fs := flag.NewFlagSet("sample", flag.ExitOnError)
	in := fs.String("in", "", "input .svo.zst path")
	at := fs.String("at", "", "voxel coordinate x,y,z")
	minLog := fs.Int("min_log", 0, "stop descending at this log extent")
	_ = fs.Parse(args)

	c, err := parseVec3(*at)
	if err != nil {
		fail(2, "bad -at:", err)
	}
	_, g := readTree(*in)
	if *minLog == 0 {
		fmt.Println(g.Sample(c))
		return
	}
	t, err := g.Octree()
	if err != nil {
		fail(1, "rebuild:", err)
	}
	fmt.Println(t.Sample(c, *minLog))
}

func meshCmd(args []string) {
	fs := flag.NewFlagSet("mesh", flag.ExitOnError)
	in := fs.String("in", "", "input .svo.zst path")
	out := fs.String("out", "", "output .obj path (default stdout)")
	_ = fs.Parse(args)

	_, g := readTree(*in)
	t, err := g.Octree()
	if err != nil {
		fail(1, "rebuild:", err)
	}
	indices, vertices := t.DebugMesh()

	var w io.Writer = os.Stdout
	if *out != "" {
		f, err := os.Create(*out)
		if err != nil {
			fail(1, "create:", err)
		}
		defer f.Close()
		w = f
	}
	bw := bufio.NewWriter(w)
	if err := writeOBJ(bw, indices, vertices); err != nil {
		fail(1, "write:", err)
	}
	if err := bw.Flush(); err != nil {
		fail(1, "write:", err)
	}
	if *out != "" {
		fmt.Fprintf(os.Stderr, "wrote %s vertices=%s triangles=%s\n", *out,
			humanize.Comma(int64(len(vertices))), humanize.Comma(int64(len(indices)/3)))
	}
}

// writeOBJ emits a Wavefront OBJ; OBJ indices are 1-based.
func writeOBJ(w io.Writer, indices []uint32, vertices []r3.Vector) error {
	for _, v := range vertices {
		if _, err := fmt.Fprintf(w, "v %g %g %g\n", v.X, v.Y, v.Z); err != nil {
			return err
		}
	}
	for i := 0; i+2 < len(indices); i += 3 {
		if _, err := fmt.Fprintf(w, "f %d %d %d\n", indices[i]+1, indices[i+1]+1, indices[i+2]+1); err != nil {
			return err
		}
	}
	return nil
}

func parseVec3(s string) (octree.Coord, error) {
	var v octree.Coord
	parts := strings.Split(strings.TrimSpace(s), ",")
	if len(parts) != 3 {
		return v, fmt.Errorf("expected x,y,z")
	}
	for i := 0; i < 3; i++ {
		n, err := strconv.Atoi(strings.TrimSpace(parts[i]))
		if err != nil {
			return v, err
		}
		v[i] = n
	}
	return v, nil
}
