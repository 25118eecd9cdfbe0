package graph

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	json "github.com/goccy/go-json"

	"hexatlas/pkg/npy"
	osmparser "hexatlas/pkg/osm"
)

// Meta is the graph cache metadata record.
type Meta struct {
	Extract        string `json:"extract"`
	Mode           string `json:"mode"`
	ExtractMtime   int64  `json:"extract_mtime"`
	CacheCreated   int64  `json:"cache_created"`
	HierarchicalH3 bool   `json:"hierarchical_h3"`
	Resolutions    []int  `json:"resolutions"`
}

// Cache holds the memory mappings backing a loaded CSR. Closing it
// invalidates every array of the CSR it was returned with.
type Cache struct {
	Dir    string
	arrays []*npy.Array
}

// Close unmaps all arrays.
func (c *Cache) Close() error {
	var first error
	for _, a := range c.arrays {
		if err := a.Close(); err != nil && first == nil {
			first = err
		}
	}
	c.arrays = nil
	return first
}

// CacheDir derives the cache directory for an extract+mode, deterministically.
func CacheDir(root, extractPath string, mode osmparser.Mode) string {
	base := filepath.Base(extractPath)
	if i := strings.IndexByte(base, '.'); i > 0 {
		base = base[:i]
	}
	return filepath.Join(root, fmt.Sprintf("%s_%s.npycache", base, mode))
}

// Save persists the CSR as a directory of .npy arrays plus meta.json.
// Array writes are individually atomic; meta.json is written last so a
// partially written cache never validates.
func Save(dir string, g *CSR, meta Meta) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("mkdir cache: %w", err)
	}

	writes := []struct {
		name string
		fn   func(string) error
	}{
		{"node_ids.npy", func(p string) error { return npy.WriteInt64(p, g.NodeOSMID) }},
		{"indptr.npy", func(p string) error { return npy.WriteInt64(p, g.Indptr) }},
		{"indices.npy", func(p string) error { return npy.WriteInt32(p, g.Indices) }},
		{"w_sec.npy", func(p string) error { return npy.WriteUint16(p, g.Weights) }},
		{"lats.npy", func(p string) error { return npy.WriteFloat32(p, g.Lats) }},
		{"lons.npy", func(p string) error { return npy.WriteFloat32(p, g.Lons) }},
	}
	for _, w := range writes {
		if err := w.fn(filepath.Join(dir, w.name)); err != nil {
			return fmt.Errorf("write %s: %w", w.name, err)
		}
	}
	for _, r := range g.Resolutions {
		name := fmt.Sprintf("h3_r%d.npy", r)
		if err := npy.WriteUint64(filepath.Join(dir, name), g.H3[r]); err != nil {
			return fmt.Errorf("write %s: %w", name, err)
		}
	}

	raw, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("marshal meta: %w", err)
	}
	metaPath := filepath.Join(dir, "meta.json")
	tmp := metaPath + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return fmt.Errorf("write meta: %w", err)
	}
	return os.Rename(tmp, metaPath)
}

// ReadMeta loads and parses meta.json from a cache directory.
func ReadMeta(dir string) (Meta, error) {
	var m Meta
	raw, err := os.ReadFile(filepath.Join(dir, "meta.json"))
	if err != nil {
		return m, err
	}
	if err := json.Unmarshal(raw, &m); err != nil {
		return m, fmt.Errorf("parse meta.json: %w", err)
	}
	return m, nil
}

// Load maps a validated cache directory into a CSR. The caller owns the
// returned Cache and must keep it alive while the CSR is in use.
func Load(dir string, resolutions []int) (*CSR, *Cache, error) {
	c := &Cache{Dir: dir}
	open := func(name string) (*npy.Array, error) {
		a, err := npy.Open(filepath.Join(dir, name))
		if err != nil {
			return nil, err
		}
		c.arrays = append(c.arrays, a)
		return a, nil
	}
	fail := func(err error) (*CSR, *Cache, error) {
		c.Close()
		return nil, nil, err
	}

	g := &CSR{H3: map[int][]uint64{}}

	a, err := open("node_ids.npy")
	if err != nil {
		return fail(err)
	}
	if g.NodeOSMID, err = a.Int64(); err != nil {
		return fail(err)
	}
	g.NumNodes = int32(a.Len())

	if a, err = open("indptr.npy"); err != nil {
		return fail(err)
	}
	if g.Indptr, err = a.Int64(); err != nil {
		return fail(err)
	}
	if a, err = open("indices.npy"); err != nil {
		return fail(err)
	}
	if g.Indices, err = a.Int32(); err != nil {
		return fail(err)
	}
	if a, err = open("w_sec.npy"); err != nil {
		return fail(err)
	}
	if g.Weights, err = a.Uint16(); err != nil {
		return fail(err)
	}
	if a, err = open("lats.npy"); err != nil {
		return fail(err)
	}
	if g.Lats, err = a.Float32(); err != nil {
		return fail(err)
	}
	if a, err = open("lons.npy"); err != nil {
		return fail(err)
	}
	if g.Lons, err = a.Float32(); err != nil {
		return fail(err)
	}

	for _, r := range resolutions {
		if a, err = open(fmt.Sprintf("h3_r%d.npy", r)); err != nil {
			return fail(err)
		}
		col, err := a.Uint64()
		if err != nil {
			return fail(err)
		}
		g.H3[r] = col
		g.Resolutions = append(g.Resolutions, r)
	}

	if len(g.Indptr) != int(g.NumNodes)+1 {
		return fail(fmt.Errorf("indptr length %d != N+1 (%d)", len(g.Indptr), g.NumNodes+1))
	}
	if int64(len(g.Indices)) != g.Indptr[g.NumNodes] {
		return fail(fmt.Errorf("indices length %d != indptr[N] (%d)", len(g.Indices), g.Indptr[g.NumNodes]))
	}

	return g, c, nil
}

// validCache reports whether dir holds a cache built from the extract in its
// current state, with every requested H3 column present.
func validCache(dir string, extractMtime int64, resolutions []int) bool {
	m, err := ReadMeta(dir)
	if err != nil {
		return false
	}
	if !m.HierarchicalH3 || m.ExtractMtime != extractMtime {
		return false
	}
	for _, r := range resolutions {
		if _, err := os.Stat(filepath.Join(dir, fmt.Sprintf("h3_r%d.npy", r))); err != nil {
			return false
		}
	}
	return true
}

// LoadOrBuild returns the cached CSR for (extract, mode), rebuilding it when
// the cache is missing, stale, or invalid. A missing extract is fatal; a
// corrupt cache is rebuilt silently.
func LoadOrBuild(ctx context.Context, extractPath string, mode osmparser.Mode, resolutions []int, cacheRoot string) (*CSR, *Cache, error) {
	info, err := os.Stat(extractPath)
	if err != nil {
		return nil, nil, fmt.Errorf("extract: %w", err)
	}
	mtime := info.ModTime().Unix()
	dir := CacheDir(cacheRoot, extractPath, mode)

	if validCache(dir, mtime, resolutions) {
		g, c, err := Load(dir, resolutions)
		if err == nil {
			slog.Info("graph cache loaded", "dir", dir, "nodes", g.NumNodes, "edges", g.NumEdges())
			return g, c, nil
		}
		slog.Warn("graph cache unreadable, rebuilding", "dir", dir, "err", err)
	}

	f, err := os.Open(extractPath)
	if err != nil {
		return nil, nil, fmt.Errorf("open extract: %w", err)
	}
	defer f.Close()

	parsed, err := osmparser.Parse(ctx, f, mode)
	if err != nil {
		return nil, nil, fmt.Errorf("parse extract: %w", err)
	}
	g, err := Build(parsed)
	if err != nil {
		return nil, nil, fmt.Errorf("build graph: %w", err)
	}
	g.ComputeH3(resolutions)

	meta := Meta{
		Extract:        filepath.Base(extractPath),
		Mode:           mode.String(),
		ExtractMtime:   mtime,
		CacheCreated:   time.Now().Unix(),
		HierarchicalH3: true,
		Resolutions:    g.Resolutions,
	}
	if err := Save(dir, g, meta); err != nil {
		return nil, nil, fmt.Errorf("save cache: %w", err)
	}
	slog.Info("graph cache built", "dir", dir, "nodes", g.NumNodes, "edges", g.NumEdges())
	return g, nil, nil
}
