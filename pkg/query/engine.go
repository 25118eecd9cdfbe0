// Package query answers custom-origin accessibility queries: given an
// arbitrary point, the travel seconds from every anchor to it, via the
// reverse-graph contraction hierarchy.
package query

import (
	"errors"

	"github.com/paulmach/orb"
	"github.com/tidwall/rtree"

	"hexatlas/pkg/anchors"
	"hexatlas/pkg/ch"
	"hexatlas/pkg/geo"
	"hexatlas/pkg/graph"
)

// ErrNoNodes is returned when the graph has no nodes to snap to.
var ErrNoNodes = errors.New("graph has no nodes")

// prefilter parameters: a generous straight-line bound on how far any road
// travel can reach in the allotted minutes.
const (
	prefilterSpeedMPerMin = 1500.0
	prefilterPadFactor    = 1.4
)

// Engine serves custom-origin queries for one (graph, mode). It is
// initialized once and read-only afterwards; safe for concurrent use.
type Engine struct {
	g    *graph.CSR
	ch   *ch.CH
	proj *anchors.Projection

	snapper *anchors.Snapper
	planar  geo.Projection
	idx     rtree.RTreeG[int32] // anchor positions by projected location
}

// NewEngine indexes the anchor projection for prefiltering and node
// snapping.
func NewEngine(g *graph.CSR, hierarchy *ch.CH, proj *anchors.Projection) *Engine {
	e := &Engine{
		g:       g,
		ch:      hierarchy,
		proj:    proj,
		snapper: anchors.NewSnapper(g),
	}

	lat0 := 0.0
	if len(proj.Nodes) > 0 {
		var sum float64
		for _, n := range proj.Nodes {
			sum += float64(g.Lats[n])
		}
		lat0 = sum / float64(len(proj.Nodes))
	}
	e.planar = geo.NewProjection(lat0)

	for pos, node := range proj.Nodes {
		x, y := e.planar.Project(float64(g.Lats[node]), float64(g.Lons[node]))
		e.idx.Insert([2]float64{x, y}, [2]float64{x, y}, int32(pos))
	}
	return e
}

// prefilterPositions returns the projection positions of anchors within the
// minutes-based planar radius of the point.
func (e *Engine) prefilterPositions(lat, lon float64, minutes float64) []int32 {
	if minutes <= 0 {
		return nil
	}
	radius := minutes * prefilterSpeedMPerMin * prefilterPadFactor
	x, y := e.planar.Project(lat, lon)
	pt := orb.Point{x, y}

	var out []int32
	e.idx.Search(
		[2]float64{pt[0] - radius, pt[1] - radius},
		[2]float64{pt[0] + radius, pt[1] + radius},
		func(min, _ [2]float64, pos int32) bool {
			dx, dy := min[0]-pt[0], min[1]-pt[1]
			if dx*dx+dy*dy <= radius*radius {
				out = append(out, pos)
			}
			return true
		},
	)
	return out
}

// CustomDAnchor computes {anchor_int_id → seconds} for a custom origin.
// Anchors outside the overflow-cutoff prefilter radius, or unreachable
// within limit seconds, carry the Unreach sentinel. This is the in-process
// contract the serving layer calls.
func (e *Engine) CustomDAnchor(lon, lat float64, cutoffMin, overflowMin int) (map[uint32]uint16, error) {
	if e.g.NumNodes == 0 {
		return nil, ErrNoNodes
	}

	out := make(map[uint32]uint16, len(e.proj.IDs))
	for _, id := range e.proj.IDs {
		out[id] = graph.Unreach
	}

	minutes := float64(max(cutoffMin, overflowMin))
	positions := e.prefilterPositions(lat, lon, minutes)
	if len(positions) == 0 {
		return out, nil
	}

	cands := e.snapper.Nearest(lat, lon, 1)
	if len(cands) == 0 {
		return nil, ErrNoNodes
	}
	origin := cands[0].Node

	subset := make([]int32, len(positions))
	for i, pos := range positions {
		subset[i] = e.proj.Nodes[pos]
	}

	limitS := uint32(minutes) * 60
	times := e.ch.QuerySubset(origin, subset, limitS)

	for i, pos := range positions {
		out[e.proj.IDs[pos]] = clampSeconds(times[i])
	}
	return out, nil
}

// clampSeconds converts a PHAST u32 to the stored u16: values at or beyond
// the sentinel become Unreach, the rest fit [0, 65534] by construction.
func clampSeconds(v uint32) uint16 {
	if v >= uint32(graph.Unreach) {
		return graph.Unreach
	}
	return uint16(v)
}
