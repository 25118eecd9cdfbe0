package danchor

import (
	"fmt"
	"hash/fnv"
	"os"
	"path/filepath"

	"github.com/parquet-go/parquet-go"

	"hexatlas/pkg/graph"
	"hexatlas/pkg/qa"
)

// maxP95Seconds is the validation budget: the 95th percentile of reachable
// seconds in a shard must not exceed two hours. Outliers are almost always
// a misconfigured cutoff.
const maxP95Seconds = 7200

// CategoryRow is one row of a category shard.
type CategoryRow struct {
	AnchorID   uint32  `parquet:"anchor_id"`
	CategoryID uint32  `parquet:"category_id"`
	Mode       uint8   `parquet:"mode"`
	Seconds    *uint16 `parquet:"seconds_u16,optional"` // null encodes UNREACH
	SnapshotTS string  `parquet:"snapshot_ts"`
}

// BrandRow is one row of a brand shard.
type BrandRow struct {
	AnchorID   uint32  `parquet:"anchor_id"`
	BrandID    string  `parquet:"brand_id"`
	Mode       uint8   `parquet:"mode"`
	Seconds    *uint16 `parquet:"seconds_u16,optional"`
	SnapshotTS string  `parquet:"snapshot_ts"`
}

// CategoryID maps a category label to its partition value: FNV-1a over the
// ASCII-lowercased label. The taxonomy service owns authoritative ids; the
// engine only needs a deterministic value.
func CategoryID(label string) uint32 {
	h := fnv.New32a()
	h.Write([]byte(asciiLower(label)))
	return h.Sum32()
}

// CategoryShardPath returns the hive-partitioned output file for a category.
func CategoryShardPath(dir string, mode uint8, label string) string {
	return filepath.Join(dir,
		fmt.Sprintf("mode=%d", mode),
		fmt.Sprintf("category_id=%d", CategoryID(label)),
		"part-000.parquet")
}

// BrandShardPath returns the hive-partitioned output file for a brand.
func BrandShardPath(dir string, mode uint8, brandID string) string {
	return filepath.Join(dir,
		fmt.Sprintf("mode=%d", mode),
		fmt.Sprintf("brand_id=%s", asciiLower(brandID)),
		"part-000.parquet")
}

// secondsPtr converts a raw kernel time to the nullable column value.
func secondsPtr(s uint16) *uint16 {
	if s >= graph.Unreach {
		return nil
	}
	v := s
	return &v
}

// CategoryRows materializes a result as category shard rows, in anchor_id
// order.
func (c *Context) CategoryRows(r Result, label, snapshotTS string) []CategoryRow {
	catID := CategoryID(label)
	rows := make([]CategoryRow, len(r.Positions))
	for i, pos := range r.Positions {
		rows[i] = CategoryRow{
			AnchorID:   c.Proj.IDs[pos],
			CategoryID: catID,
			Mode:       uint8(c.Mode),
			Seconds:    secondsPtr(r.Seconds[i]),
			SnapshotTS: snapshotTS,
		}
	}
	return rows
}

// BrandRows materializes a result as brand shard rows, in anchor_id order.
func (c *Context) BrandRows(r Result, brandID, snapshotTS string) []BrandRow {
	lower := asciiLower(brandID)
	rows := make([]BrandRow, len(r.Positions))
	for i, pos := range r.Positions {
		rows[i] = BrandRow{
			AnchorID:   c.Proj.IDs[pos],
			BrandID:    lower,
			Mode:       uint8(c.Mode),
			Seconds:    secondsPtr(r.Seconds[i]),
			SnapshotTS: snapshotTS,
		}
	}
	return rows
}

// ValidateSeconds enforces the shard budget on raw kernel times.
func ValidateSeconds(seconds []uint16) (qa.Summary, error) {
	s := qa.Summarize(seconds)
	if s.P95 > maxP95Seconds {
		return s, fmt.Errorf("shard p95 %ds exceeds budget %ds", s.P95, maxP95Seconds)
	}
	return s, nil
}

// WriteShard writes rows atomically to the hive-partitioned path. An empty
// rows slice still produces a well-typed parquet file.
func WriteShard[T any](path string, rows []T) error {
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

// ReadCategoryShard loads a category shard.
func ReadCategoryShard(path string) ([]CategoryRow, error) {
	rows, err := parquet.ReadFile[CategoryRow](path)
	if err != nil {
		return nil, fmt.Errorf("read shard %s: %w", path, err)
	}
	return rows, nil
}

// ReadBrandShard loads a brand shard.
func ReadBrandShard(path string) ([]BrandRow, error) {
	rows, err := parquet.ReadFile[BrandRow](path)
	if err != nil {
		return nil, fmt.Errorf("read shard %s: %w", path, err)
	}
	return rows, nil
}
