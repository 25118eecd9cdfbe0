package graph

import (
	"sort"

	h3 "github.com/uber/h3-go/v4"
)

// ComputeH3 fills one H3 column per requested resolution. Only the finest
// resolution is geocoded; coarser columns are parents of it, so the
// hierarchical invariant (parent(r8) == r7) holds by construction.
func (g *CSR) ComputeH3(resolutions []int) {
	if len(resolutions) == 0 {
		return
	}
	res := append([]int(nil), resolutions...)
	sort.Ints(res)
	finest := res[len(res)-1]

	cols := make(map[int][]uint64, len(res))
	for _, r := range res {
		cols[r] = make([]uint64, g.NumNodes)
	}

	for i := int32(0); i < g.NumNodes; i++ {
		cell := h3.LatLngToCell(h3.NewLatLng(float64(g.Lats[i]), float64(g.Lons[i])), finest)
		cols[finest][i] = uint64(cell)
		for _, r := range res[:len(res)-1] {
			cols[r][i] = uint64(cell.Parent(r))
		}
	}

	g.Resolutions = res
	g.H3 = cols
}
