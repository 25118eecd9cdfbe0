// Package ch builds a contraction hierarchy over the reverse road graph and
// answers PHAST-style one-to-many queries: seconds from every anchor to a
// single origin, in tens of milliseconds.
package ch

import (
	"container/heap"
	"log/slog"
	"sort"

	"hexatlas/pkg/graph"
)

// maxShortcutsPerNode is the limit on shortcuts a single contraction can
// create. Nodes exceeding this form an uncontracted "core" at the top of
// the hierarchy.
const maxShortcutsPerNode = 1000

const maxUint32 = ^uint32(0)

// CH is the preprocessed hierarchy: node ranks plus the upward and downward
// CSR overlays with shortcut middle nodes for unpacking.
type CH struct {
	NumNodes int32
	Rank     []int32

	// Upward graph: edges u→v with rank[u] < rank[v].
	UpFirstOut []int64
	UpHead     []int32
	UpWeight   []uint32
	UpMiddle   []int32 // -1 original, else contracted middle node

	// Downward graph: edges u→v with rank[u] > rank[v].
	DownFirstOut []int64
	DownHead     []int32
	DownWeight   []uint32
	DownMiddle   []int32

	// Nodes in descending rank order, the PHAST sweep order.
	byRankDesc []int32
}

// SweepOrder returns nodes in descending rank order, computing it on first use.
func (c *CH) SweepOrder() []int32 {
	if c.byRankDesc == nil {
		order := make([]int32, c.NumNodes)
		for i := range order {
			order[i] = int32(i)
		}
		sort.Slice(order, func(i, j int) bool { return c.Rank[order[i]] > c.Rank[order[j]] })
		c.byRankDesc = order
	}
	return c.byRankDesc
}

// adjEntry represents an edge in the mutable adjacency list.
type adjEntry struct {
	to     int32
	weight uint32
	middle int32 // -1 for original edges, else the contracted node ID
}

// Contract performs contraction hierarchies preprocessing on the given
// graph. For the accessibility engine the input is the reverse CSR, so that
// one PHAST sweep from an origin yields anchor→origin seconds on the
// forward graph.
func Contract(g *graph.CSR) *CH {
	n := g.NumNodes
	if n == 0 {
		return &CH{UpFirstOut: []int64{0}, DownFirstOut: []int64{0}}
	}

	// Build mutable forward and reverse adjacency lists from the CSR graph.
	outAdj := make([][]adjEntry, n)
	inAdj := make([][]adjEntry, n)

	for u := int32(0); u < n; u++ {
		start, end := g.OutEdges(u)
		for e := start; e < end; e++ {
			v := g.Indices[e]
			w := uint32(g.Weights[e])
			outAdj[u] = append(outAdj[u], adjEntry{to: v, weight: w, middle: -1})
			inAdj[v] = append(inAdj[v], adjEntry{to: u, weight: w, middle: -1})
		}
	}

	contracted := make([]bool, n)
	rank := make([]int32, n)
	contractedNeighbors := make([]int, n)
	level := make([]int, n)

	// Initialize priority queue with all nodes.
	pq := make(priorityQueue, n)
	for i := int32(0); i < n; i++ {
		pq[i] = &pqEntry{
			node:     i,
			priority: computePriority(outAdj, inAdj, i, contracted, contractedNeighbors[i], level[i]),
			index:    int(i),
		}
	}
	heap.Init(&pq)

	// Pre-allocate reusable witness search scratch.
	ss := newSearchState(n)

	slog.Info("starting contraction", "nodes", n)

	var totalShortcuts int
	order := int32(0)

	for pq.Len() > 0 {
		entry := heap.Pop(&pq).(*pqEntry)
		node := entry.node

		if contracted[node] {
			continue
		}

		// Lazy update: recompute priority and re-insert if it worsened.
		newPriority := computePriority(outAdj, inAdj, node, contracted, contractedNeighbors[node], level[node])
		if newPriority > entry.priority && pq.Len() > 0 && newPriority > pq[0].priority {
			entry.priority = newPriority
			heap.Push(&pq, entry)
			continue
		}

		shortcuts := findShortcuts(ss, outAdj, inAdj, node, contracted)

		// If contracting this node would produce too many shortcuts, stop
		// entirely. Remaining nodes form a "core" at the top of the
		// hierarchy with original edges preserved.
		if len(shortcuts) > maxShortcutsPerNode {
			slog.Warn("stopping contraction at dense node",
				"node", node, "shortcuts", len(shortcuts), "remaining", n-order)
			break
		}

		contracted[node] = true
		rank[node] = order
		order++
		totalShortcuts += len(shortcuts)

		for _, sc := range shortcuts {
			outAdj[sc.from] = append(outAdj[sc.from], adjEntry{to: sc.to, weight: sc.weight, middle: node})
			inAdj[sc.to] = append(inAdj[sc.to], adjEntry{to: sc.from, weight: sc.weight, middle: node})
		}

		// Update neighbors' contracted neighbor count and level.
		for _, e := range outAdj[node] {
			if !contracted[e.to] {
				contractedNeighbors[e.to]++
				if level[node]+1 > level[e.to] {
					level[e.to] = level[node] + 1
				}
			}
		}
		for _, e := range inAdj[node] {
			if !contracted[e.to] {
				contractedNeighbors[e.to]++
				if level[node]+1 > level[e.to] {
					level[e.to] = level[node] + 1
				}
			}
		}
	}

	// Assign ranks to remaining uncontracted core nodes.
	coreSize := int32(0)
	for i := int32(0); i < n; i++ {
		if !contracted[i] {
			contracted[i] = true
			rank[i] = order
			order++
			coreSize++
		}
	}

	slog.Info("contraction complete",
		"shortcuts", totalShortcuts,
		"shortcut_ratio", float64(totalShortcuts)/float64(max(g.NumEdges(), 1)),
		"core_nodes", coreSize)

	return buildOverlay(n, outAdj, rank)
}

// shortcut represents a shortcut edge to be added.
type shortcut struct {
	from, to int32
	weight   uint32
}

// witnessBudget bounds how many nodes one witness search may settle; past
// it the search gives up and the shortcut is added conservatively.
const witnessBudget = 500

// searchState is the reusable witness-search scratch: a distance array and
// target marks reset through a touched list, plus the packed-key queue.
type searchState struct {
	dist     []uint32
	isTarget []bool
	touched  []int32
	queue    minQueue
}

func newSearchState(n int32) *searchState {
	dist := make([]uint32, n)
	for i := range dist {
		dist[i] = maxUint32
	}
	return &searchState{
		dist:     dist,
		isTarget: make([]bool, n),
	}
}

func (ss *searchState) reset() {
	for _, n := range ss.touched {
		ss.dist[n] = maxUint32
		ss.isTarget[n] = false
	}
	ss.touched = ss.touched[:0]
	ss.queue.Reset()
}

func (ss *searchState) touch(node int32, dist uint32) {
	if ss.dist[node] == maxUint32 && !ss.isTarget[node] {
		ss.touched = append(ss.touched, node)
	}
	ss.dist[node] = dist
}

// findShortcuts determines which shortcuts are needed when contracting a
// node: one bounded witness search per incoming neighbor, shared across all
// of its outgoing targets.
func findShortcuts(ss *searchState, outAdj, inAdj [][]adjEntry, node int32, contracted []bool) []shortcut {
	var incoming []adjEntry
	for _, e := range inAdj[node] {
		if !contracted[e.to] {
			incoming = append(incoming, e)
		}
	}

	var outgoing []adjEntry
	for _, e := range outAdj[node] {
		if !contracted[e.to] {
			outgoing = append(outgoing, e)
		}
	}

	if len(incoming) == 0 || len(outgoing) == 0 {
		return nil
	}

	var shortcuts []shortcut
	for _, in := range incoming {
		shortcuts = witnessGaps(ss, outAdj, in, outgoing, node, contracted, shortcuts)
	}
	return shortcuts
}

// witnessGaps appends a shortcut in.to→out.to for every outgoing target the
// witness search cannot match at the shortcut's weight. The search runs
// from in.to with the contracted node removed and stops as soon as every
// target has settled, the weight bound is passed, or the settle budget runs
// out — whichever comes first.
func witnessGaps(ss *searchState, outAdj [][]adjEntry, in adjEntry, outgoing []adjEntry, excluded int32, contracted []bool, shortcuts []shortcut) []shortcut {
	ss.reset()

	// Mark targets and find the weight bound for this batch.
	var maxOut uint32
	targetsLeft := 0
	for _, out := range outgoing {
		if out.to == in.to {
			continue // a shortcut back to the source is a self-loop
		}
		if !ss.isTarget[out.to] {
			ss.isTarget[out.to] = true
			ss.touched = append(ss.touched, out.to)
			targetsLeft++
		}
		if out.weight > maxOut {
			maxOut = out.weight
		}
	}
	if targetsLeft == 0 {
		return shortcuts
	}
	maxWeight := in.weight + maxOut

	ss.touch(in.to, 0)
	ss.queue.Push(0, in.to)

	settled := 0
	for ss.queue.Len() > 0 && targetsLeft > 0 && settled < witnessBudget {
		d, u := ss.queue.Pop()
		if d > ss.dist[u] {
			continue // stale key
		}
		if d > maxWeight {
			break // keys only grow from here
		}
		settled++
		if ss.isTarget[u] {
			targetsLeft--
		}

		for _, e := range outAdj[u] {
			if e.to == excluded || contracted[e.to] {
				continue
			}
			nd := d + e.weight
			if nd <= maxWeight && nd < ss.dist[e.to] {
				ss.touch(e.to, nd)
				ss.queue.Push(nd, e.to)
			}
		}
	}

	for _, out := range outgoing {
		if out.to == in.to {
			continue
		}
		scWeight := in.weight + out.weight
		// A witness path at least as good as the shortcut makes it
		// unnecessary.
		if ss.dist[out.to] > scWeight {
			shortcuts = append(shortcuts, shortcut{from: in.to, to: out.to, weight: scWeight})
		}
	}
	return shortcuts
}

// computePriority returns the priority for a node (lower = contract first):
// edge difference plus contracted-neighbor and depth terms.
func computePriority(outAdj, inAdj [][]adjEntry, node int32, contracted []bool, contractedNeighbors, level int) int {
	activeIn := 0
	for _, e := range inAdj[node] {
		if !contracted[e.to] {
			activeIn++
		}
	}
	activeOut := 0
	for _, e := range outAdj[node] {
		if !contracted[e.to] {
			activeOut++
		}
	}

	// Worst-case shortcut count stands in for the true edge difference;
	// ordering only needs a consistent heuristic, not an exact count.
	edgeDifference := activeIn*activeOut - (activeIn + activeOut)

	return edgeDifference + 2*contractedNeighbors + level
}

// buildOverlay splits the contracted adjacency into upward and downward CSR
// graphs by rank.
func buildOverlay(n int32, outAdj [][]adjEntry, rank []int32) *CH {
	type csrEdge struct {
		from, to int32
		weight   uint32
		middle   int32
	}

	var upEdges, downEdges []csrEdge
	for u := int32(0); u < n; u++ {
		for _, e := range outAdj[u] {
			if rank[u] < rank[e.to] {
				upEdges = append(upEdges, csrEdge{from: u, to: e.to, weight: e.weight, middle: e.middle})
			} else {
				downEdges = append(downEdges, csrEdge{from: u, to: e.to, weight: e.weight, middle: e.middle})
			}
		}
	}

	slog.Info("overlay built", "up_edges", len(upEdges), "down_edges", len(downEdges))

	buildCSR := func(edges []csrEdge) (firstOut []int64, head []int32, weight []uint32, middle []int32) {
		firstOut = make([]int64, n+1)
		head = make([]int32, len(edges))
		weight = make([]uint32, len(edges))
		middle = make([]int32, len(edges))

		for _, e := range edges {
			firstOut[e.from+1]++
		}
		for i := int32(1); i <= n; i++ {
			firstOut[i] += firstOut[i-1]
		}

		pos := make([]int64, n)
		copy(pos, firstOut[:n])
		for _, e := range edges {
			idx := pos[e.from]
			head[idx] = e.to
			weight[idx] = e.weight
			middle[idx] = e.middle
			pos[e.from]++
		}
		return
	}

	ch := &CH{NumNodes: n, Rank: rank}
	ch.UpFirstOut, ch.UpHead, ch.UpWeight, ch.UpMiddle = buildCSR(upEdges)
	ch.DownFirstOut, ch.DownHead, ch.DownWeight, ch.DownMiddle = buildCSR(downEdges)
	return ch
}

// Priority queue implementation for contraction ordering.

type pqEntry struct {
	node     int32
	priority int
	index    int
}

type priorityQueue []*pqEntry

func (pq priorityQueue) Len() int           { return len(pq) }
func (pq priorityQueue) Less(i, j int) bool { return pq[i].priority < pq[j].priority }
func (pq priorityQueue) Swap(i, j int) {
	pq[i], pq[j] = pq[j], pq[i]
	pq[i].index = i
	pq[j].index = j
}

func (pq *priorityQueue) Push(x any) {
	entry := x.(*pqEntry)
	entry.index = len(*pq)
	*pq = append(*pq, entry)
}

func (pq *priorityQueue) Pop() any {
	old := *pq
	n := len(old)
	entry := old[n-1]
	old[n-1] = nil
	entry.index = -1
	*pq = old[:n-1]
	return entry
}
