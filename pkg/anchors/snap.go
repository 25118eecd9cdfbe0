package anchors

import (
	"math"

	"github.com/tidwall/rtree"

	"hexatlas/pkg/geo"
	"hexatlas/pkg/graph"
)

// snapCandidates is how many nearest nodes are inspected per POI before
// picking one.
const snapCandidates = 10

// distanceBandFactor bounds the candidate window: nodes farther than this
// multiple of the nearest distance are never preferred over it.
const distanceBandFactor = 2.0

// Snapper finds the nearest usable graph nodes for a point. Node
// coordinates are indexed in an equirectangular planar projection so tree
// distances are meters.
type Snapper struct {
	g    *graph.CSR
	proj geo.Projection
	tree rtree.RTreeG[int32]
}

// NewSnapper indexes all graph nodes.
func NewSnapper(g *graph.CSR) *Snapper {
	lat0 := 0.0
	if g.NumNodes > 0 {
		var sum float64
		for _, l := range g.Lats {
			sum += float64(l)
		}
		lat0 = sum / float64(g.NumNodes)
	}
	s := &Snapper{g: g, proj: geo.NewProjection(lat0)}
	for i := int32(0); i < g.NumNodes; i++ {
		x, y := s.proj.Project(float64(g.Lats[i]), float64(g.Lons[i]))
		s.tree.Insert([2]float64{x, y}, [2]float64{x, y}, i)
	}
	return s
}

// Candidate is one nearby node with its planar distance in meters.
type Candidate struct {
	Node int32
	Dist float64
}

// Nearest returns up to k nearest nodes to the point, closest first.
func (s *Snapper) Nearest(lat, lon float64, k int) []Candidate {
	x, y := s.proj.Project(lat, lon)
	target := [2]float64{x, y}

	out := make([]Candidate, 0, k)
	s.tree.Nearby(
		rtree.BoxDist[float64, int32](target, target, nil),
		func(min, _ [2]float64, node int32, dist float64) bool {
			out = append(out, Candidate{Node: node, Dist: math.Sqrt(dist)})
			return len(out) < k
		},
	)
	return out
}

// SnapConnected snaps a point to a graph node within radiusM. Among
// candidates within twice the nearest distance it prefers a node with
// out-degree ≥ 2 over a leaf, which keeps anchors off dead-end service
// driveways. Returns ok=false when the nearest node is beyond the radius.
func (s *Snapper) SnapConnected(lat, lon, radiusM float64) (node int32, dist float64, ok bool) {
	cands := s.Nearest(lat, lon, snapCandidates)
	if len(cands) == 0 || cands[0].Dist > radiusM {
		return 0, 0, false
	}

	band := cands[0].Dist * distanceBandFactor
	for _, c := range cands {
		if c.Dist > band {
			break
		}
		if s.g.OutDegree(c.Node) >= 2 {
			return c.Node, c.Dist, true
		}
	}
	return cands[0].Node, cands[0].Dist, true
}
