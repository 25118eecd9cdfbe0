package anchors

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/parquet-go/parquet-go"
)

// WriteSites persists the site table. The write is atomic (.tmp + rename).
func WriteSites(path string, sites []Site) error {
	return writeParquet(path, sites)
}

// WriteMap persists the POI→anchor mapping sidecar.
func WriteMap(path string, rows []MapRow) error {
	return writeParquet(path, rows)
}

// LoadSites reads a site table and checks the anchor_int_id contiguity
// invariant: ids must be exactly [0, N) in row order.
func LoadSites(path string) ([]Site, error) {
	sites, err := parquet.ReadFile[Site](path)
	if err != nil {
		return nil, fmt.Errorf("read sites %s: %w", path, err)
	}
	for i, s := range sites {
		if s.AnchorIntID != uint32(i) {
			return nil, fmt.Errorf("sites %s: anchor_int_id %d at row %d, want %d", path, s.AnchorIntID, i, i)
		}
	}
	return sites, nil
}

// LoadPOIs reads the canonical POI table.
func LoadPOIs(path string) ([]POI, error) {
	pois, err := parquet.ReadFile[POI](path)
	if err != nil {
		return nil, fmt.Errorf("read pois %s: %w", path, err)
	}
	return pois, nil
}

func writeParquet[T any](path string, rows []T) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("mkdir: %w", err)
	}
	tmp := path + ".tmp"
	if err := parquet.WriteFile(tmp, rows); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("write %s: %w", tmp, err)
	}
	return os.Rename(tmp, path)
}
