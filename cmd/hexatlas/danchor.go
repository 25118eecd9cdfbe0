package main

import (
	"bufio"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"hexatlas/pkg/anchors"
	"hexatlas/pkg/danchor"
	"hexatlas/pkg/graph"
	osmparser "hexatlas/pkg/osm"
)

// danchorFlags are the options shared by the category and brand variants.
type danchorFlags struct {
	pbfPath       string
	anchorsPath   string
	modeName      string
	cutoffMin     int
	overflowMin   int
	outDir        string
	allowlistPath string
	maxWorkers    int
	kernelThreads int
}

func (f *danchorFlags) register(cmd *cobra.Command, outDirEnv string) {
	cmd.Flags().StringVar(&f.pbfPath, "pbf", "", "OSM extract (.osm.pbf)")
	cmd.Flags().StringVar(&f.anchorsPath, "anchors", "", "anchor site parquet")
	cmd.Flags().StringVar(&f.modeName, "mode", "drive", "travel mode: drive or walk")
	cmd.Flags().IntVar(&f.cutoffMin, "cutoff", 30, "primary cutoff minutes")
	cmd.Flags().IntVar(&f.overflowMin, "overflow-cutoff", 90, "overflow cutoff minutes")
	cmd.Flags().StringVar(&f.outDir, "out-dir", envDefault(outDirEnv, ""), "output directory (hive layout)")
	cmd.Flags().StringVar(&f.allowlistPath, "allowlist", "", "file of allowed labels, one per line")
	cmd.Flags().IntVar(&f.maxWorkers, "max-workers", runtime.NumCPU(), "worker pool bound")
	cmd.Flags().IntVar(&f.kernelThreads, "threads", 1, "kernel source partitions per shard")
	for _, name := range []string{"pbf", "anchors", "out-dir"} {
		cobra.CheckErr(cmd.MarkFlagRequired(name))
	}
}

// run computes one shard per label after allowlist filtering.
func (f *danchorFlags) run(cmd *cobra.Command, kind string, labels []string) error {
	mode, err := osmparser.ParseMode(f.modeName)
	if err != nil {
		return inputError{err: err}
	}
	if _, err := os.Stat(f.pbfPath); err != nil {
		return inputErrf("pbf: %v", err)
	}

	allowed, err := loadAllowlist(f.allowlistPath)
	if err != nil {
		return inputError{err: err}
	}

	var tasks []danchor.Task
	for _, label := range labels {
		if allowed != nil {
			if _, ok := allowed[strings.ToLower(label)]; !ok {
				continue
			}
		}
		tasks = append(tasks, danchor.Task{Kind: kind, Label: label})
	}
	if len(tasks) == 0 {
		return nil
	}

	g, cache, err := graph.LoadOrBuild(cmd.Context(), f.pbfPath, mode, nil, "data/osm/cache_csr")
	if err != nil {
		return err
	}
	if cache != nil {
		defer cache.Close()
	}

	sites, err := anchors.LoadSites(f.anchorsPath)
	if err != nil {
		return inputError{err: err}
	}
	proj := anchors.Project(g, sites, false)
	if len(proj.Nodes) == 0 {
		return anchors.ErrEmptyAnchorSet
	}

	dctx := danchor.NewContext(g, mode, proj)
	return danchor.Run(dctx, tasks, danchor.RunOptions{
		OutDir:          f.outDir,
		SnapshotTS:      time.Now().Format("2006-01-02"),
		PrimaryCutoffS:  f.cutoffMin * 60,
		OverflowCutoffS: f.overflowMin * 60,
		KernelThreads:   f.kernelThreads,
		MaxWorkers:      f.maxWorkers,
	})
}

func newDAnchorCategoryCmd() *cobra.Command {
	var flags danchorFlags
	var categories []string
	cmd := &cobra.Command{
		Use:   "d-anchor-category",
		Short: "compute anchor→nearest-category shards",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(categories) == 0 {
				return inputErrf("--category is required")
			}
			return flags.run(cmd, "category", categories)
		},
	}
	flags.register(cmd, "TS_DANCHOR_CATEGORY_DIR")
	cmd.Flags().StringArrayVar(&categories, "category", nil, "category label (repeatable)")
	return cmd
}

func newDAnchorBrandCmd() *cobra.Command {
	var flags danchorFlags
	var brands []string
	cmd := &cobra.Command{
		Use:   "d-anchor-brand",
		Short: "compute anchor→nearest-brand shards",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(brands) == 0 {
				return inputErrf("--brand is required")
			}
			return flags.run(cmd, "brand", brands)
		},
	}
	flags.register(cmd, "TS_DANCHOR_BRAND_DIR")
	cmd.Flags().StringArrayVar(&brands, "brand", nil, "brand id (repeatable)")
	return cmd
}

// loadAllowlist reads one label per line; nil means no restriction.
func loadAllowlist(path string) (map[string]struct{}, error) {
	if path == "" {
		return nil, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	out := map[string]struct{}{}
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		out[strings.ToLower(line)] = struct{}{}
	}
	return out, sc.Err()
}
