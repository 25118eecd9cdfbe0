package ch

import (
	"math/rand"
	"sort"
	"testing"
)

func TestMinQueueOrdering(t *testing.T) {
	var q minQueue
	rng := rand.New(rand.NewSource(7))

	dists := make([]uint32, 200)
	for i := range dists {
		dists[i] = uint32(rng.Intn(5000))
		q.Push(dists[i], int32(i))
	}
	sort.Slice(dists, func(i, j int) bool { return dists[i] < dists[j] })

	for i, want := range dists {
		got, _ := q.Pop()
		if got != want {
			t.Fatalf("pop %d: dist %d, want %d", i, got, want)
		}
	}
	if q.Len() != 0 {
		t.Fatalf("queue not drained: %d left", q.Len())
	}
}

func TestMinQueueTieBreaksByNode(t *testing.T) {
	var q minQueue
	q.Push(10, 9)
	q.Push(10, 2)
	q.Push(10, 5)

	for _, want := range []int32{2, 5, 9} {
		_, node := q.Pop()
		if node != want {
			t.Fatalf("node %d, want %d (equal distances pop in node order)", node, want)
		}
	}
}

func TestMinQueueKeyPacking(t *testing.T) {
	d, n := unpackKey(packKey(maxUint32-1, 123456))
	if d != maxUint32-1 || n != 123456 {
		t.Fatalf("round trip = (%d, %d)", d, n)
	}
}
