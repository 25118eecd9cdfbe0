package danchor

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/paulmach/osm"
	"github.com/stretchr/testify/require"

	"hexatlas/pkg/anchors"
	"hexatlas/pkg/graph"
	osmparser "hexatlas/pkg/osm"
)

// testContext builds the A→B(10), B→C(30), A→C(100) graph plus a
// disconnected island node X, with anchors at A (grocery), C (hospital),
// and X (grocery, unreachable island).
func testContext(t *testing.T) *Context {
	t.Helper()
	result := &osmparser.ParseResult{
		Edges: []osmparser.RawEdge{
			{FromNodeID: 1, ToNodeID: 2, Seconds: 10},
			{FromNodeID: 2, ToNodeID: 3, Seconds: 30},
			{FromNodeID: 1, ToNodeID: 3, Seconds: 100},
			{FromNodeID: 7, ToNodeID: 8, Seconds: 5},
			{FromNodeID: 8, ToNodeID: 7, Seconds: 5},
		},
		NodeLat: map[osm.NodeID]float64{1: 42.36, 2: 42.37, 3: 42.38, 7: 45.0, 8: 45.001},
		NodeLon: map[osm.NodeID]float64{1: -71.06, 2: -71.07, 3: -71.08, 7: -70.0, 8: -70.001},
	}
	g, err := graph.Build(result)
	require.NoError(t, err)
	// Indices by ascending OSM id: A=0, B=1, C=2, X=3 (osm 7), 4 (osm 8).

	sites := []anchors.Site{
		{AnchorIntID: 0, NodeIndex: 0, Categories: []string{"grocery"}},
		{AnchorIntID: 1, NodeIndex: 2, Categories: []string{"hospital"}, Brands: []string{"mercy"}},
		{AnchorIntID: 2, NodeIndex: 3, Categories: []string{"grocery"}},
	}
	proj := anchors.Project(g, sites, false)
	return NewContext(g, osmparser.Drive, proj)
}

func TestComputeCategory(t *testing.T) {
	ctx := testContext(t)

	sources := ctx.sourcesForCategory("hospital")
	require.Equal(t, []int32{2}, sources)

	res := ctx.Compute(sources, 3600, 3600, 1)

	// Only anchors in C's component are candidates: anchor 0 (node A) and
	// anchor 1 (node C). The island anchor 2 is excluded.
	require.Len(t, res.Positions, 2)
	rows := ctx.CategoryRows(res, "hospital", "2026-08-01")
	require.Len(t, rows, 2)

	require.Equal(t, uint32(0), rows[0].AnchorID)
	require.NotNil(t, rows[0].Seconds)
	require.Equal(t, uint16(40), *rows[0].Seconds, "A reaches the hospital via B")

	require.Equal(t, uint32(1), rows[1].AnchorID)
	require.Equal(t, uint16(0), *rows[1].Seconds, "the hospital anchor reaches itself at 0s")

	for _, r := range rows {
		require.Equal(t, CategoryID("hospital"), r.CategoryID)
		require.Equal(t, uint8(0), r.Mode)
	}
}

func TestCaseInsensitiveLabelMatch(t *testing.T) {
	ctx := testContext(t)
	require.Equal(t, ctx.sourcesForCategory("hospital"), ctx.sourcesForCategory("HOSPITAL"))
	require.Equal(t, ctx.sourcesForBrand("mercy"), ctx.sourcesForBrand("Mercy"))
}

func TestEmptyCategoryEmitsEmptyShard(t *testing.T) {
	ctx := testContext(t)

	res := ctx.Compute(ctx.sourcesForCategory("stadium"), 3600, 3600, 1)
	require.Empty(t, res.Positions)

	path := filepath.Join(t.TempDir(), "mode=0", "category_id=1", "part-000.parquet")
	require.NoError(t, WriteShard(path, ctx.CategoryRows(res, "stadium", "2026-08-01")))

	rows, err := ReadCategoryShard(path)
	require.NoError(t, err)
	require.Empty(t, rows)
}

func TestUnreachableEncodesNull(t *testing.T) {
	ctx := testContext(t)

	// Brand "mercy" lives at C; reachable from A (40s) and C (0s). Cutoff
	// 20s makes A's anchor unreachable → null seconds.
	res := ctx.Compute(ctx.sourcesForBrand("mercy"), 20, 20, 1)
	rows := ctx.BrandRows(res, "mercy", "2026-08-01")
	require.Len(t, rows, 2)
	require.Nil(t, rows[0].Seconds, "anchor 0 beyond cutoff encodes null")
	require.NotNil(t, rows[1].Seconds)
}

func TestRunWritesHiveLayout(t *testing.T) {
	ctx := testContext(t)
	dir := t.TempDir()

	err := Run(ctx, []Task{
		{Kind: "category", Label: "hospital"},
		{Kind: "brand", Label: "mercy"},
	}, RunOptions{
		OutDir:          dir,
		SnapshotTS:      "2026-08-01",
		PrimaryCutoffS:  3600,
		OverflowCutoffS: 3600,
		MaxWorkers:      2,
	})
	require.NoError(t, err)

	catPath := CategoryShardPath(dir, 0, "hospital")
	require.FileExists(t, catPath)
	require.FileExists(t, BrandShardPath(dir, 0, "mercy"))

	// No stray .tmp files after rename.
	err = filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		require.NoError(t, err)
		require.NotContains(t, path, ".tmp")
		return nil
	})
	require.NoError(t, err)
}

func TestRunIdempotent(t *testing.T) {
	ctx := testContext(t)
	dir := t.TempDir()
	opt := RunOptions{
		OutDir: dir, SnapshotTS: "2026-08-01",
		PrimaryCutoffS: 3600, OverflowCutoffS: 3600, MaxWorkers: 1,
	}
	tasks := []Task{{Kind: "category", Label: "hospital"}}

	require.NoError(t, Run(ctx, tasks, opt))
	first, err := ReadCategoryShard(CategoryShardPath(dir, 0, "hospital"))
	require.NoError(t, err)

	require.NoError(t, Run(ctx, tasks, opt))
	second, err := ReadCategoryShard(CategoryShardPath(dir, 0, "hospital"))
	require.NoError(t, err)
	require.Equal(t, first, second)
}

func TestValidateSecondsBudget(t *testing.T) {
	ok := make([]uint16, 100)
	for i := range ok {
		ok[i] = uint16(i * 10)
	}
	_, err := ValidateSeconds(ok)
	require.NoError(t, err)

	bad := make([]uint16, 100)
	for i := range bad {
		bad[i] = 60000
	}
	_, err = ValidateSeconds(bad)
	require.Error(t, err)
}

func TestCategoryIDDeterministic(t *testing.T) {
	require.Equal(t, CategoryID("Hospital"), CategoryID("hospital"))
	require.NotEqual(t, CategoryID("hospital"), CategoryID("grocery"))
}
