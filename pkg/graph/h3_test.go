package graph

import (
	"testing"

	h3 "github.com/uber/h3-go/v4"
)

func TestComputeH3Hierarchical(t *testing.T) {
	g := cacheTestGraph(t)

	// The builder geocodes only the finest resolution; every coarser column
	// must be the exact parent of it.
	for i := int32(0); i < g.NumNodes; i++ {
		r8 := h3.Cell(g.H3[8][i])
		if uint64(r8.Parent(7)) != g.H3[7][i] {
			t.Fatalf("node %d: parent(r8) != r7 column", i)
		}
		if r8.Resolution() != 8 {
			t.Fatalf("node %d: wrong resolution %d", i, r8.Resolution())
		}
	}
}
