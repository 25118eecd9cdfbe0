package main

import (
	"os"
	"time"

	json "github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"hexatlas/pkg/anchors"
	"hexatlas/pkg/ch"
	"hexatlas/pkg/graph"
	osmparser "hexatlas/pkg/osm"
	"hexatlas/pkg/query"
)

func newCustomCmd() *cobra.Command {
	var (
		pbfPath     string
		anchorsPath string
		modeName    string
		lon, lat    float64
		cutoffMin   int
		overflowMin int
		cacheDir    string
	)

	cmd := &cobra.Command{
		Use:   "custom",
		Short: "one-off custom-origin D_anchor query (prints JSON)",
		RunE: func(cmd *cobra.Command, args []string) error {
			mode, err := osmparser.ParseMode(modeName)
			if err != nil {
				return inputError{err: err}
			}
			if _, err := os.Stat(pbfPath); err != nil {
				return inputErrf("pbf: %v", err)
			}

			g, cache, err := graph.LoadOrBuild(cmd.Context(), pbfPath, mode, nil, cacheDir)
			if err != nil {
				return err
			}
			if cache != nil {
				defer cache.Close()
			}

			sites, err := anchors.LoadSites(anchorsPath)
			if err != nil {
				return inputError{err: err}
			}
			proj := anchors.Project(g, sites, false)
			if len(proj.Nodes) == 0 {
				return anchors.ErrEmptyAnchorSet
			}

			hierarchy, err := ch.LoadOrBuild(ch.CachePath(graph.CacheDir(cacheDir, pbfPath, mode)), g)
			if err != nil {
				return err
			}

			engine := query.NewEngine(g, hierarchy, proj)

			start := time.Now()
			result, err := engine.CustomDAnchor(lon, lat, cutoffMin, overflowMin)
			if err != nil {
				return err
			}
			elapsed := time.Since(start)

			out := struct {
				ElapsedMS int64             `json:"elapsed_ms"`
				Anchors   map[uint32]uint16 `json:"anchors"`
			}{ElapsedMS: elapsed.Milliseconds(), Anchors: result}
			enc := json.NewEncoder(os.Stdout)
			return enc.Encode(out)
		},
	}

	cmd.Flags().StringVar(&pbfPath, "pbf", "", "OSM extract (.osm.pbf)")
	cmd.Flags().StringVar(&anchorsPath, "anchors", "", "anchor site parquet")
	cmd.Flags().StringVar(&modeName, "mode", "drive", "travel mode: drive or walk")
	cmd.Flags().Float64Var(&lon, "lon", 0, "origin longitude")
	cmd.Flags().Float64Var(&lat, "lat", 0, "origin latitude")
	cmd.Flags().IntVar(&cutoffMin, "cutoff", 30, "primary cutoff minutes")
	cmd.Flags().IntVar(&overflowMin, "overflow-cutoff", 90, "overflow cutoff minutes")
	cmd.Flags().StringVar(&cacheDir, "cache-dir", "data/osm/cache_csr", "graph cache root")
	for _, f := range []string{"pbf", "anchors", "lon", "lat"} {
		cobra.CheckErr(cmd.MarkFlagRequired(f))
	}
	return cmd
}
