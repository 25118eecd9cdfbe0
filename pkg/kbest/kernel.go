// Package kbest implements the K-best multi-source label-setting kernel:
// for every node of a CSR graph, the K closest sources and the travel time
// to each, found with a coarse-grained bucket queue (Dial's algorithm) over
// whole seconds.
package kbest

import (
	"fmt"
	"sync"

	"hexatlas/pkg/graph"
)

// NoSource marks an unused label slot.
const NoSource int32 = -1

// Result holds N×K label arrays, row-major. Slot i of node u is
// (BestSource[u*K+i], TimeS[u*K+i]); unused slots carry (-1, 65535).
// BestSource values are positions into the deduplicated source slice
// passed to Compute.
type Result struct {
	K          int
	NumNodes   int32
	BestSource []int32
	TimeS      []uint16
}

// Label returns slot i of node u.
func (r *Result) Label(u int32, i int) (srcIdx int32, seconds uint16) {
	off := int(u)*r.K + i
	return r.BestSource[off], r.TimeS[off]
}

// Filled returns the number of occupied slots of node u.
func (r *Result) Filled(u int32) int {
	off := int(u) * r.K
	n := 0
	for i := range r.K {
		if r.BestSource[off+i] != NoSource {
			n++
		}
	}
	return n
}

// Options bound and parallelize a kernel run.
type Options struct {
	// PrimaryCutoffS is the radius in seconds inside which labels always
	// compete for a node's top-K.
	PrimaryCutoffS int
	// OverflowCutoffS extends the search for nodes still short of K labels.
	// Must be >= PrimaryCutoffS; no relaxation happens beyond it.
	OverflowCutoffS int
	// Threads partitions the sources into independent passes merged at the
	// end. 1 (or 0) runs a single pass over all sources.
	Threads int
}

// Compute runs the kernel. Sources are node indices into g; duplicates are
// treated as one (the first occurrence keeps its position). An empty source
// set yields all-sentinel arrays. Malformed inputs — an out-of-range source
// or a zero-weight edge — are programmer error and panic.
func Compute(g *graph.CSR, sources []int32, k int, opt Options) *Result {
	if k <= 0 {
		panic("kbest: k must be positive")
	}
	if opt.OverflowCutoffS < opt.PrimaryCutoffS {
		opt.OverflowCutoffS = opt.PrimaryCutoffS
	}
	for _, s := range sources {
		if s < 0 || s >= g.NumNodes {
			panic(fmt.Sprintf("kbest: source %d out of range [0,%d)", s, g.NumNodes))
		}
	}

	res := newResult(g.NumNodes, k)
	if len(sources) == 0 {
		return res
	}

	// Deduplicate, keeping first-occurrence order so BestSource positions
	// are stable for the caller.
	seen := make(map[int32]struct{}, len(sources))
	dedup := make([]int32, 0, len(sources))
	for _, s := range sources {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		dedup = append(dedup, s)
	}

	threads := opt.Threads
	if threads <= 1 || len(dedup) == 1 {
		pass := newPassState(g.NumNodes, k)
		pass.run(g, dedup, 0, opt)
		res.BestSource = pass.bestSrc
		res.TimeS = pass.timeS
		return res
	}
	if threads > len(dedup) {
		threads = len(dedup)
	}

	// Partition sources into equal chunks; each pass is fully independent
	// (sources are disjoint, state is private), so no locking is needed.
	passes := make([]*passState, threads)
	chunk := (len(dedup) + threads - 1) / threads
	var wg sync.WaitGroup
	for t := range threads {
		lo := t * chunk
		hi := min(lo+chunk, len(dedup))
		if lo >= hi {
			continue
		}
		wg.Add(1)
		go func(t, lo, hi int) {
			defer wg.Done()
			pass := newPassState(g.NumNodes, k)
			pass.run(g, dedup[lo:hi], int32(lo), opt)
			passes[t] = pass
		}(t, lo, hi)
	}
	wg.Wait()

	mergePasses(res, passes)
	return res
}

func newResult(n int32, k int) *Result {
	res := &Result{
		K:          k,
		NumNodes:   n,
		BestSource: make([]int32, int(n)*k),
		TimeS:      make([]uint16, int(n)*k),
	}
	for i := range res.BestSource {
		res.BestSource[i] = NoSource
		res.TimeS[i] = graph.Unreach
	}
	return res
}

// passState is the per-pass working set: the N×K label arrays, a fill
// counter per node, and the bucket queue.
type passState struct {
	k       int
	bestSrc []int32
	timeS   []uint16
	filled  []uint8
	buckets [][]entry
}

// entry is a pending (node, source) label; its distance is the bucket index.
type entry struct {
	node int32
	src  int32 // position in the deduplicated source slice
}

func newPassState(n int32, k int) *passState {
	ps := &passState{
		k:       k,
		bestSrc: make([]int32, int(n)*k),
		timeS:   make([]uint16, int(n)*k),
		filled:  make([]uint8, n),
	}
	for i := range ps.bestSrc {
		ps.bestSrc[i] = NoSource
		ps.timeS[i] = graph.Unreach
	}
	return ps
}

// run executes one label-setting pass over the sources, whose positions
// start at srcBase in the global deduplicated slice.
func (ps *passState) run(g *graph.CSR, sources []int32, srcBase int32, opt Options) {
	overflow := opt.OverflowCutoffS
	if overflow > int(graph.MaxSeconds) {
		overflow = int(graph.MaxSeconds)
	}
	primary := min(opt.PrimaryCutoffS, overflow)

	ps.buckets = make([][]entry, overflow+1)
	for i, s := range sources {
		ps.buckets[0] = append(ps.buckets[0], entry{node: s, src: srcBase + int32(i)})
	}

	for d := 0; d <= overflow; d++ {
		// Buckets may grow while being drained: a relaxed edge of weight 0
		// is forbidden, so appends always target strictly later buckets.
		for bi := 0; bi < len(ps.buckets[d]); bi++ {
			e := ps.buckets[d][bi]
			if !ps.settle(e.node, e.src, uint16(d), primary) {
				continue
			}
			start, end := g.OutEdges(e.node)
			for ei := start; ei < end; ei++ {
				w := g.Weights[ei]
				if w == 0 {
					panic(fmt.Sprintf("kbest: zero-weight edge at csr offset %d", ei))
				}
				nd := d + int(w)
				if nd > overflow {
					continue
				}
				ps.buckets[nd] = append(ps.buckets[nd], entry{node: g.Indices[ei], src: e.src})
			}
		}
		ps.buckets[d] = nil
	}
	ps.buckets = nil
}

// settle inserts label (d, src) into node u's top-K if it qualifies and
// reports whether neighbors should be relaxed. Labels beyond the primary
// cutoff only fill nodes still short of K; a full node accepts a label only
// when it strictly beats the worst slot. Per-source uniqueness is kept by
// replacement with the smaller time.
func (ps *passState) settle(u, src int32, d uint16, primary int) bool {
	off := int(u) * ps.k
	n := int(ps.filled[u])

	// Existing label from the same source: replace only on improvement.
	for i := range n {
		if ps.bestSrc[off+i] != src {
			continue
		}
		if ps.timeS[off+i] <= d {
			return false // stale
		}
		// Remove, then fall through to sorted re-insertion.
		copy(ps.bestSrc[off+i:off+n-1], ps.bestSrc[off+i+1:off+n])
		copy(ps.timeS[off+i:off+n-1], ps.timeS[off+i+1:off+n])
		n--
		ps.insertAt(off, n, src, d)
		ps.filled[u] = uint8(n + 1)
		return true
	}

	if n < ps.k {
		ps.insertAt(off, n, src, d)
		ps.filled[u] = uint8(n + 1)
		return true
	}

	// Full node: only primary-radius labels that strictly beat the worst
	// slot may displace it.
	if int(d) > primary || d >= ps.timeS[off+n-1] {
		return false
	}
	n--
	ps.insertAt(off, n, src, d)
	ps.filled[u] = uint8(n + 1)
	return true
}

// insertAt places (d, src) into the sorted prefix of length n (insertion
// sort over at most K slots; ties break on source position for determinism).
func (ps *passState) insertAt(off, n int, src int32, d uint16) {
	i := n
	for i > 0 && (ps.timeS[off+i-1] > d || (ps.timeS[off+i-1] == d && ps.bestSrc[off+i-1] > src)) {
		ps.bestSrc[off+i] = ps.bestSrc[off+i-1]
		ps.timeS[off+i] = ps.timeS[off+i-1]
		i--
	}
	ps.bestSrc[off+i] = src
	ps.timeS[off+i] = d
}

// mergePasses reduces per-pass labels into the true global top-K per node.
// Sources are disjoint across passes, so uniqueness needs no dedup here;
// the reduction is a K-way sorted merge, single-threaded by design.
func mergePasses(res *Result, passes []*passState) {
	k := res.K
	cursors := make([]int, len(passes))
	for u := int32(0); u < res.NumNodes; u++ {
		off := int(u) * k
		for i := range cursors {
			cursors[i] = 0
		}
		for slot := range k {
			bestPass := -1
			var bestTime uint16 = graph.Unreach
			var bestSrc int32
			for pi, ps := range passes {
				if ps == nil || cursors[pi] >= k {
					continue
				}
				poff := off + cursors[pi]
				s := ps.bestSrc[poff]
				if s == NoSource {
					continue
				}
				t := ps.timeS[poff]
				if bestPass < 0 || t < bestTime || (t == bestTime && s < bestSrc) {
					bestPass = pi
					bestTime = t
					bestSrc = s
				}
			}
			if bestPass < 0 {
				break
			}
			res.BestSource[off+slot] = bestSrc
			res.TimeS[off+slot] = bestTime
			cursors[bestPass]++
		}
	}
}
