package graph

import (
	"fmt"
	"sort"

	"github.com/paulmach/osm"

	osmparser "hexatlas/pkg/osm"
)

// Build creates a CSR graph from parsed OSM edges. Node indices are dense
// integers assigned by ascending OSM node ID, so rebuilding from the same
// extract yields identical arrays.
func Build(result *osmparser.ParseResult) (*CSR, error) {
	edges := result.Edges
	if len(edges) == 0 {
		return &CSR{Indptr: []int64{0}, H3: map[int][]uint64{}}, nil
	}

	// Step 1: collect unique node IDs referenced by edges, sorted.
	nodeSet := make(map[osm.NodeID]struct{}, len(edges))
	for i := range edges {
		nodeSet[edges[i].FromNodeID] = struct{}{}
		nodeSet[edges[i].ToNodeID] = struct{}{}
	}
	nodeIDs := make([]osm.NodeID, 0, len(nodeSet))
	for id := range nodeSet {
		nodeIDs = append(nodeIDs, id)
	}
	sort.Slice(nodeIDs, func(i, j int) bool { return nodeIDs[i] < nodeIDs[j] })

	idxOf := make(map[osm.NodeID]int32, len(nodeIDs))
	for i, id := range nodeIDs {
		idxOf[id] = int32(i)
	}
	numNodes := int32(len(nodeIDs))

	// Step 2: compact edge list with remapped indices, sorted by source.
	type compactEdge struct {
		from, to int32
		weight   uint16
	}
	compact := make([]compactEdge, len(edges))
	for i, e := range edges {
		if e.Seconds == 0 {
			return nil, fmt.Errorf("zero-weight edge %d→%d", e.FromNodeID, e.ToNodeID)
		}
		compact[i] = compactEdge{from: idxOf[e.FromNodeID], to: idxOf[e.ToNodeID], weight: e.Seconds}
	}
	sort.Slice(compact, func(i, j int) bool {
		if compact[i].from != compact[j].from {
			return compact[i].from < compact[j].from
		}
		return compact[i].to < compact[j].to
	})

	// Step 3: CSR arrays via counting + prefix sum.
	numEdges := int64(len(compact))
	indptr := make([]int64, numNodes+1)
	indices := make([]int32, numEdges)
	weights := make([]uint16, numEdges)

	for _, e := range compact {
		indptr[e.from+1]++
	}
	for i := int32(1); i <= numNodes; i++ {
		indptr[i] += indptr[i-1]
	}
	for i, e := range compact {
		indices[i] = e.to
		weights[i] = e.weight
	}

	// Step 4: node attributes.
	osmIDs := make([]int64, numNodes)
	lats := make([]float32, numNodes)
	lons := make([]float32, numNodes)
	for i, id := range nodeIDs {
		osmIDs[i] = int64(id)
		lats[i] = float32(result.NodeLat[id])
		lons[i] = float32(result.NodeLon[id])
	}

	return &CSR{
		NumNodes:  numNodes,
		Indptr:    indptr,
		Indices:   indices,
		Weights:   weights,
		NodeOSMID: osmIDs,
		Lats:      lats,
		Lons:      lons,
		H3:        map[int][]uint64{},
	}, nil
}
