package main

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"hexatlas/pkg/anchors"
	"hexatlas/pkg/graph"
	osmparser "hexatlas/pkg/osm"
)

func newBuildAnchorsCmd() *cobra.Command {
	var (
		state    string
		modeName string
		poisPath string
		pbfPath  string
		outSites string
		outMap   string
		cacheDir string
	)

	cmd := &cobra.Command{
		Use:   "build-anchors",
		Short: "snap POIs to graph nodes and emit the anchor site table",
		RunE: func(cmd *cobra.Command, args []string) error {
			mode, err := osmparser.ParseMode(modeName)
			if err != nil {
				return inputError{err: err}
			}
			if _, err := os.Stat(poisPath); err != nil {
				return inputErrf("pois: %v", err)
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

			pois, err := anchors.LoadPOIs(poisPath)
			if err != nil {
				return inputError{err: err}
			}

			sites, mapRows, err := anchors.BuildSites(g, pois, mode)
			if err != nil {
				return err
			}
			if err := anchors.WriteSites(outSites, sites); err != nil {
				return err
			}
			if outMap != "" {
				if err := anchors.WriteMap(outMap, mapRows); err != nil {
					return err
				}
			}

			slog.Info("build-anchors",
				"state", state, "mode", mode.String(),
				"rows", len(sites), "pois_in", len(pois), "mapped", len(mapRows))
			return nil
		},
	}

	cmd.Flags().StringVar(&state, "state", envDefault("TS_STATE", ""), "state slug")
	cmd.Flags().StringVar(&modeName, "mode", "drive", "travel mode: drive or walk")
	cmd.Flags().StringVar(&poisPath, "pois", "", "canonical POI parquet")
	cmd.Flags().StringVar(&pbfPath, "pbf", "", "OSM extract (.osm.pbf)")
	cmd.Flags().StringVar(&outSites, "out-sites", "", "output anchor site parquet")
	cmd.Flags().StringVar(&outMap, "out-map", "", "output POI→anchor map parquet")
	cmd.Flags().StringVar(&cacheDir, "cache-dir", "data/osm/cache_csr", "graph cache root")
	for _, f := range []string{"pois", "pbf", "out-sites"} {
		cobra.CheckErr(cmd.MarkFlagRequired(f))
	}
	return cmd
}
