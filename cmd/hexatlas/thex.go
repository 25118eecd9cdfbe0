package main

import (
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"hexatlas/pkg/anchors"
	"hexatlas/pkg/graph"
	"hexatlas/pkg/kbest"
	osmparser "hexatlas/pkg/osm"
	"hexatlas/pkg/thex"
)

func newTHexCmd() *cobra.Command {
	var (
		pbfPath        string
		poisPath       string
		anchorsPath    string
		modeName       string
		resolutions    []int
		cutoffMin      int
		overflowMin    int
		kBest          int
		outTimes       string
		cacheDir       string
		threads        int
		borrow         bool
		remapMissing   bool
	)

	cmd := &cobra.Command{
		Use:   "t-hex",
		Short: "precompute per-hex K-best anchor travel times",
		RunE: func(cmd *cobra.Command, args []string) error {
			mode, err := osmparser.ParseMode(modeName)
			if err != nil {
				return inputError{err: err}
			}
			if kBest < 1 || kBest > thex.MaxSlots {
				return inputErrf("k-best %d out of range [1,%d]", kBest, thex.MaxSlots)
			}
			if _, err := os.Stat(pbfPath); err != nil {
				return inputErrf("pbf: %v", err)
			}

			g, cache, err := graph.LoadOrBuild(cmd.Context(), pbfPath, mode, resolutions, cacheDir)
			if err != nil {
				return err
			}
			if cache != nil {
				defer cache.Close()
			}

			sites, err := loadOrBuildSites(g, anchorsPath, poisPath, mode)
			if err != nil {
				return err
			}
			proj := anchors.Project(g, sites, remapMissing)
			if len(proj.Nodes) == 0 {
				return anchors.ErrEmptyAnchorSet
			}

			res := kbest.Compute(g, proj.Nodes, kBest, kbest.Options{
				PrimaryCutoffS:  cutoffMin * 60,
				OverflowCutoffS: overflowMin * 60,
				Threads:         threads,
			})

			snapshotTS := time.Now().Format("2006-01-02")
			var wideRows []thex.WideRow
			var longRows []thex.LongRow
			for _, r := range g.Resolutions {
				hexRows := thex.Aggregate(g, res, proj.IDs, r, kBest, borrow)
				for _, hr := range hexRows {
					wideRows = append(wideRows, hr.Wide(mode.String(), snapshotTS))
					longRows = append(longRows, hr.Long(mode.String(), snapshotTS)...)
				}
				thex.Summarize(hexRows).Log("t-hex res " + strconv.Itoa(r))
			}

			if err := thex.WriteWide(outTimes, wideRows); err != nil {
				return err
			}
			longPath := sidecarPath(outTimes, ".long")
			if err := thex.WriteLong(longPath, longRows); err != nil {
				return err
			}
			if _, err := thex.WriteAnchorIndex(outTimes, sites); err != nil {
				return err
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&pbfPath, "pbf", "", "OSM extract (.osm.pbf)")
	cmd.Flags().StringVar(&poisPath, "pois", "", "canonical POI parquet (used when --anchors is absent)")
	cmd.Flags().StringVar(&anchorsPath, "anchors", "", "anchor site parquet (skips snapping)")
	cmd.Flags().StringVar(&modeName, "mode", "drive", "travel mode: drive or walk")
	cmd.Flags().IntSliceVar(&resolutions, "res", []int{7, 8}, "H3 resolutions")
	cmd.Flags().IntVar(&cutoffMin, "cutoff", 30, "primary cutoff minutes")
	cmd.Flags().IntVar(&overflowMin, "overflow-cutoff", 90, "overflow cutoff minutes")
	cmd.Flags().IntVar(&kBest, "k-best", 20, "anchors kept per hex")
	cmd.Flags().StringVar(&outTimes, "out-times", "", "output T_hex parquet (wide form)")
	cmd.Flags().StringVar(&cacheDir, "cache-dir", "data/osm/cache_csr", "graph cache root")
	cmd.Flags().IntVar(&threads, "threads", 1, "kernel source partitions")
	cmd.Flags().BoolVar(&borrow, "borrow-neighbors", true, "fill sparse hexes from k-ring neighbors")
	cmd.Flags().BoolVar(&remapMissing, "remap-missing-anchors", false, "re-snap anchors whose node left the graph")
	for _, f := range []string{"pbf", "out-times"} {
		cobra.CheckErr(cmd.MarkFlagRequired(f))
	}
	return cmd
}

// loadOrBuildSites prefers a prebuilt site table; without one it snaps the
// POI table directly.
func loadOrBuildSites(g *graph.CSR, anchorsPath, poisPath string, mode osmparser.Mode) ([]anchors.Site, error) {
	if anchorsPath != "" {
		return anchors.LoadSites(anchorsPath)
	}
	if poisPath == "" {
		return nil, inputErrf("either --anchors or --pois is required")
	}
	pois, err := anchors.LoadPOIs(poisPath)
	if err != nil {
		return nil, inputError{err: err}
	}
	sites, _, err := anchors.BuildSites(g, pois, mode)
	return sites, err
}

func sidecarPath(path, suffix string) string {
	ext := filepath.Ext(path)
	return path[:len(path)-len(ext)] + suffix + ext
}
