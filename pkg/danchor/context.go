// Package danchor computes anchor→nearest-target travel times, one shard
// per (mode, category-or-brand), via a 1-best multi-source search on the
// reverse graph seeded at the target's anchor nodes.
package danchor

import (
	"sort"

	"hexatlas/pkg/anchors"
	"hexatlas/pkg/graph"
	"hexatlas/pkg/kbest"
	osmparser "hexatlas/pkg/osm"
)

// Context is the precomputed graph data shared by every target task:
// reverse CSR, component labels, and the anchor projection. Read-only after
// construction; workers must not mutate it.
type Context struct {
	Graph *graph.CSR
	Rev   *graph.CSR
	Mode  osmparser.Mode
	Proj  *anchors.Projection

	CompID []int32
	// compAnchors maps a component to positions into the projection arrays
	// of anchors living in it.
	compAnchors map[int32][]int32
}

// NewContext builds the shared context once: the CSR transpose and the
// component labelling are the expensive parts and are reused across all
// targets.
func NewContext(g *graph.CSR, mode osmparser.Mode, proj *anchors.Projection) *Context {
	ctx := &Context{
		Graph:       g,
		Rev:         g.Transpose(),
		Mode:        mode,
		Proj:        proj,
		CompID:      graph.ComponentIDs(g),
		compAnchors: map[int32][]int32{},
	}
	for pos, node := range proj.Nodes {
		comp := ctx.CompID[node]
		ctx.compAnchors[comp] = append(ctx.compAnchors[comp], int32(pos))
	}
	return ctx
}

// matchLabel is the alias comparison rule: raw byte equality after ASCII
// lowercasing. No Unicode folding.
func matchLabel(have, want string) bool {
	return asciiLower(have) == asciiLower(want)
}

func asciiLower(s string) string {
	lower := true
	for i := 0; i < len(s); i++ {
		if s[i] >= 'A' && s[i] <= 'Z' {
			lower = false
			break
		}
	}
	if lower {
		return s
	}
	b := []byte(s)
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			b[i] = c + ('a' - 'A')
		}
	}
	return string(b)
}

// sourcesForCategory returns the node indices of anchors carrying the
// category label.
func (c *Context) sourcesForCategory(label string) []int32 {
	var nodes []int32
	for pos, site := range c.Proj.Sites {
		for _, cat := range site.Categories {
			if matchLabel(cat, label) {
				nodes = append(nodes, c.Proj.Nodes[pos])
				break
			}
		}
	}
	return nodes
}

// sourcesForBrand returns the node indices of anchors carrying the brand id.
func (c *Context) sourcesForBrand(brandID string) []int32 {
	var nodes []int32
	for pos, site := range c.Proj.Sites {
		for _, b := range site.Brands {
			if matchLabel(b, brandID) {
				nodes = append(nodes, c.Proj.Nodes[pos])
				break
			}
		}
	}
	return nodes
}

// candidateAnchors returns the projection positions of anchors in any
// component containing a source, sorted by anchor id for deterministic
// output. Restricting to these components skips sentinel-filling anchors
// that could never reach the target.
func (c *Context) candidateAnchors(sources []int32) []int32 {
	compSeen := map[int32]struct{}{}
	var positions []int32
	for _, s := range sources {
		comp := c.CompID[s]
		if _, ok := compSeen[comp]; ok {
			continue
		}
		compSeen[comp] = struct{}{}
		positions = append(positions, c.compAnchors[comp]...)
	}
	// Positions are appended per component; restore global anchor-id order.
	sortInt32(positions)
	return positions
}

// Result is one target's computed times, aligned with Positions.
type Result struct {
	// Positions index into the context's projection arrays.
	Positions []int32
	// Seconds per position; graph.Unreach encodes no path within cutoff.
	Seconds []uint16
}

// Compute runs the 1-best reverse search for one target's source nodes.
// A target with no sources yields an empty result (an empty, well-typed
// shard downstream).
func (c *Context) Compute(sources []int32, primaryS, overflowS, threads int) Result {
	if len(sources) == 0 {
		return Result{}
	}

	positions := c.candidateAnchors(sources)
	res := kbest.Compute(c.Rev, sources, 1, kbest.Options{
		PrimaryCutoffS:  primaryS,
		OverflowCutoffS: overflowS,
		Threads:         threads,
	})

	out := Result{
		Positions: positions,
		Seconds:   make([]uint16, len(positions)),
	}
	for i, pos := range positions {
		node := c.Proj.Nodes[pos]
		_, secs := res.Label(node, 0)
		out.Seconds[i] = secs
	}
	return out
}

func sortInt32(s []int32) {
	sort.Slice(s, func(i, j int) bool { return s[i] < s[j] })
}
