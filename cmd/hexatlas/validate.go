package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	h3 "github.com/uber/h3-go/v4"

	"hexatlas/pkg/anchors"
	"hexatlas/pkg/danchor"
	"hexatlas/pkg/graph"
	"hexatlas/pkg/qa"
	"hexatlas/pkg/thex"
)

// maxUnreachFrac is the sentinel-ratio budget for a well-formed shard.
const maxUnreachFrac = 0.01

func newValidateTHexCmd() *cobra.Command {
	var inPath string
	cmd := &cobra.Command{
		Use:   "validate-thex",
		Short: "check a T_hex artifact against its invariants",
		RunE: func(cmd *cobra.Command, args []string) error {
			rows, err := thex.ReadWide(inPath)
			if err != nil {
				return inputError{err: err}
			}
			if err := validateTHexRows(rows); err != nil {
				return inputError{err: err}
			}
			fmt.Printf("ok: %d rows\n", len(rows))
			return nil
		},
	}
	cmd.Flags().StringVar(&inPath, "in", "", "T_hex wide parquet")
	cobra.CheckErr(cmd.MarkFlagRequired("in"))
	return cmd
}

func validateTHexRows(rows []thex.WideRow) error {
	// minChild[(parent, anchor)] supports the parent-vs-child check.
	type key struct {
		hex uint64
		id  int32
	}
	minChild := map[key]uint16{}
	parentTime := map[key]uint16{}

	for _, r := range rows {
		seen := map[int32]struct{}{}
		occupied := 0
		prev := uint16(0)
		for i := range thex.MaxSlots {
			id, secs, _ := r.Slot(i)
			if id < 0 {
				continue
			}
			occupied++
			if secs >= graph.Unreach {
				return fmt.Errorf("hex %x slot %d: occupied slot carries sentinel", r.H3ID, i)
			}
			if i > 0 && secs < prev {
				return fmt.Errorf("hex %x slot %d: seconds not monotone (%d < %d)", r.H3ID, i, secs, prev)
			}
			prev = secs
			if _, dup := seen[id]; dup {
				return fmt.Errorf("hex %x: duplicate anchor %d", r.H3ID, id)
			}
			seen[id] = struct{}{}

			switch r.Res {
			case 8:
				parent := uint64(h3.Cell(r.H3ID).Parent(7))
				k := key{parent, id}
				if cur, ok := minChild[k]; !ok || secs < cur {
					minChild[k] = secs
				}
			case 7:
				parentTime[key{r.H3ID, id}] = secs
			}
		}
		if int(r.K) != occupied {
			return fmt.Errorf("hex %x: k=%d but %d occupied slots", r.H3ID, r.K, occupied)
		}
	}

	// Parent must not beat the best of its children for the same anchor.
	for k, pt := range parentTime {
		if ct, ok := minChild[k]; ok && pt < ct {
			return fmt.Errorf("hex %x anchor %d: r7 time %d beats min r8 child %d", k.hex, k.id, pt, ct)
		}
	}
	return nil
}

func newValidateDAnchorCmd() *cobra.Command {
	var dir string
	var anchorsPath string
	cmd := &cobra.Command{
		Use:   "validate-danchor",
		Short: "check D_anchor shards against their invariants",
		RunE: func(cmd *cobra.Command, args []string) error {
			sites, err := anchors.LoadSites(anchorsPath)
			if err != nil {
				return inputError{err: err}
			}
			numAnchors := uint32(len(sites))

			shards, err := findShards(dir)
			if err != nil {
				return inputError{err: err}
			}
			if len(shards) == 0 {
				return inputErrf("no shards under %s", dir)
			}

			for _, path := range shards {
				if err := validateShard(path, numAnchors); err != nil {
					return inputError{err: fmt.Errorf("%s: %w", path, err)}
				}
			}
			fmt.Printf("ok: %d shards\n", len(shards))
			return nil
		},
	}
	cmd.Flags().StringVar(&dir, "dir", "", "D_anchor output root")
	cmd.Flags().StringVar(&anchorsPath, "anchors", "", "anchor site parquet")
	for _, f := range []string{"dir", "anchors"} {
		cobra.CheckErr(cmd.MarkFlagRequired(f))
	}
	return cmd
}

func findShards(dir string) ([]string, error) {
	var out []string
	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && strings.HasSuffix(path, ".parquet") {
			out = append(out, path)
		}
		return nil
	})
	return out, err
}

// validateShard checks no-orphans, the P95 budget, and the sentinel ratio.
// Category and brand shards share everything the checks need.
func validateShard(path string, numAnchors uint32) error {
	type shardRow struct {
		anchorID uint32
		seconds  *uint16
	}
	var rows []shardRow

	if strings.Contains(path, "category_id=") {
		cat, err := danchor.ReadCategoryShard(path)
		if err != nil {
			return err
		}
		for _, r := range cat {
			rows = append(rows, shardRow{r.AnchorID, r.Seconds})
		}
	} else {
		br, err := danchor.ReadBrandShard(path)
		if err != nil {
			return err
		}
		for _, r := range br {
			rows = append(rows, shardRow{r.AnchorID, r.Seconds})
		}
	}

	seconds := make([]uint16, 0, len(rows))
	seen := map[uint32]struct{}{}
	for _, r := range rows {
		if r.anchorID >= numAnchors {
			return fmt.Errorf("orphan anchor_id %d (table has %d)", r.anchorID, numAnchors)
		}
		if _, dup := seen[r.anchorID]; dup {
			return fmt.Errorf("duplicate anchor_id %d", r.anchorID)
		}
		seen[r.anchorID] = struct{}{}
		if r.seconds == nil {
			seconds = append(seconds, graph.Unreach)
		} else {
			seconds = append(seconds, *r.seconds)
		}
	}

	if len(seconds) == 0 {
		return nil // empty well-typed shard is legal
	}
	s := qa.Summarize(seconds)
	if _, err := danchor.ValidateSeconds(seconds); err != nil {
		return err
	}
	if s.UnreachFrac >= maxUnreachFrac {
		return fmt.Errorf("unreachable fraction %.3f over budget %.2f", s.UnreachFrac, maxUnreachFrac)
	}
	return nil
}
