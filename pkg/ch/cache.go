package ch

import (
	"log/slog"
	"path/filepath"
	"sync"

	"hexatlas/pkg/graph"
)

// loaded is the process-wide hierarchy cache, keyed by file path. Entries
// are built or read at first request and never mutated afterwards.
var loaded sync.Map

// CachePath returns the hierarchy file inside a graph cache directory, so
// the CH is keyed by the same (extract, mode) identity as the graph.
func CachePath(graphCacheDir string) string {
	return filepath.Join(graphCacheDir, "ch_rev.bin")
}

// LoadOrBuild returns the contraction hierarchy for the reverse of g,
// reading the binary cache when present and valid, contracting and
// persisting otherwise. Results are cached process-wide by path.
func LoadOrBuild(path string, g *graph.CSR) (*CH, error) {
	if v, ok := loaded.Load(path); ok {
		return v.(*CH), nil
	}

	if c, err := ReadBinary(path); err == nil {
		if c.NumNodes == g.NumNodes {
			actual, _ := loaded.LoadOrStore(path, c)
			return actual.(*CH), nil
		}
		slog.Warn("ch cache node count mismatch, rebuilding", "path", path, "cached", c.NumNodes, "graph", g.NumNodes)
	} else {
		slog.Info("ch cache miss, contracting", "path", path, "err", err)
	}

	c := Contract(g.Transpose())
	if err := WriteBinary(path, c); err != nil {
		return nil, err
	}
	actual, _ := loaded.LoadOrStore(path, c)
	return actual.(*CH), nil
}
