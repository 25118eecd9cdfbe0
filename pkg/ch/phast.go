package ch

import (
	"sync"
)

// Unreachable is the PHAST query sentinel for nodes beyond the limit.
const Unreachable = maxUint32

// queryState is reusable per-query PHAST state: a distance array with a
// touched list for O(touched) reset, plus the upward-search queue.
type queryState struct {
	dist    []uint32
	touched []int32
	queue   minQueue
}

func newQueryState(n int32) *queryState {
	dist := make([]uint32, n)
	for i := range dist {
		dist[i] = Unreachable
	}
	return &queryState{
		dist:  dist,
		queue: minQueue{keys: make([]uint64, 0, 256)},
	}
}

func (qs *queryState) reset() {
	for _, n := range qs.touched {
		qs.dist[n] = Unreachable
	}
	qs.touched = qs.touched[:0]
	qs.queue.Reset()
}

func (qs *queryState) touch(node int32, d uint32) {
	if qs.dist[node] == Unreachable {
		qs.touched = append(qs.touched, node)
	}
	qs.dist[node] = d
}

var qsPool sync.Pool

func (c *CH) getState() *queryState {
	if v := qsPool.Get(); v != nil {
		qs := v.(*queryState)
		if int32(len(qs.dist)) == c.NumNodes {
			return qs
		}
	}
	return newQueryState(c.NumNodes)
}

// QuerySubset returns the travel seconds from the origin to every node of
// subset, Unreachable (0xFFFFFFFF) past limitS. Since the hierarchy is
// built over the reverse graph, "origin to t" here is t→origin on the
// forward graph: exactly the anchor→custom-point leg.
//
// The query is PHAST-shaped: a bounded upward Dijkstra from the origin,
// then one linear downward sweep in descending rank order.
func (c *CH) QuerySubset(origin int32, subset []int32, limitS uint32) []uint32 {
	qs := c.getState()
	defer func() {
		qs.reset()
		qsPool.Put(qs)
	}()

	// Upward Dijkstra from the origin, bounded by limitS.
	qs.touch(origin, 0)
	qs.queue.Push(0, origin)
	for qs.queue.Len() > 0 {
		d, u := qs.queue.Pop()
		if d > qs.dist[u] {
			continue
		}
		start, end := c.UpFirstOut[u], c.UpFirstOut[u+1]
		for e := start; e < end; e++ {
			v := c.UpHead[e]
			nd := d + c.UpWeight[e]
			if nd > limitS {
				continue
			}
			if nd < qs.dist[v] {
				qs.touch(v, nd)
				qs.queue.Push(nd, v)
			}
		}
	}

	// Downward sweep: process nodes in descending rank, so every node's
	// distance is final before its downward edges relax.
	for _, u := range c.SweepOrder() {
		du := qs.dist[u]
		if du == Unreachable || du > limitS {
			continue
		}
		start, end := c.DownFirstOut[u], c.DownFirstOut[u+1]
		for e := start; e < end; e++ {
			v := c.DownHead[e]
			nd := du + c.DownWeight[e]
			if nd > limitS {
				continue
			}
			if nd < qs.dist[v] {
				qs.touch(v, nd)
			}
		}
	}

	out := make([]uint32, len(subset))
	for i, t := range subset {
		out[i] = qs.dist[t]
	}
	return out
}
