// Package thex aggregates node-level K-best anchor labels into per-hex
// K-best rows at each H3 resolution, with optional neighbor borrowing for
// sparse cells.
package thex

import (
	"sort"

	h3 "github.com/uber/h3-go/v4"

	"hexatlas/pkg/graph"
	"hexatlas/pkg/kbest"
)

// MaxSlots is the wide-form slot count fixed by the tile contract.
const MaxSlots = 20

// Slot is one occupied entry of a hex row.
type Slot struct {
	AnchorID int32
	Seconds  uint16
	Borrowed bool
}

// HexRow is the per-hex K-best result at one resolution. Slots are sorted
// ascending by (seconds, anchor id) and hold at most K entries.
type HexRow struct {
	H3    uint64
	Res   int
	Slots []Slot
}

// K returns the number of occupied slots.
func (r HexRow) K() int { return len(r.Slots) }

// Prov returns the provenance byte: bit i set iff slot i was borrowed.
// Only slots 0–7 have a bit; borrowing in later slots is not recorded.
func (r HexRow) Prov() uint8 {
	var p uint8
	for i, s := range r.Slots {
		if s.Borrowed && i < 8 {
			p |= 1 << i
		}
	}
	return p
}

type candidate struct {
	seconds  uint16
	anchorID int32
	borrowed bool
}

// Aggregate reduces kernel output into per-hex rows for one resolution.
// anchorIDs maps the kernel's source positions to anchor_int_ids (the
// sources passed to the kernel were the projection's node list, in order).
// With borrow set, hexes short of K pull candidates from their k-ring-1
// neighbors; borrowed slots are flagged in provenance.
func Aggregate(g *graph.CSR, res *kbest.Result, anchorIDs []uint32, resolution, k int, borrow bool) []HexRow {
	col := g.H3[resolution]
	if col == nil || k <= 0 {
		return nil
	}

	// Bucket raw labels by hex.
	pairs := map[uint64][]candidate{}
	for u := int32(0); u < res.NumNodes; u++ {
		hex := col[u]
		var bucket []candidate
		existing, ok := pairs[hex]
		if ok {
			bucket = existing
		}
		for i := range res.K {
			src, secs := res.Label(u, i)
			if src == kbest.NoSource {
				break
			}
			bucket = append(bucket, candidate{seconds: secs, anchorID: int32(anchorIDs[src])})
		}
		if len(bucket) > 0 || ok {
			pairs[hex] = bucket
		}
	}

	// Borrowing also fills hexes that have no road node of their own but
	// sit next to covered ones, so pre-seed their buckets.
	if borrow {
		for _, hex := range coveredHexes(pairs) {
			for _, nb := range neighborCells(hex) {
				if _, ok := pairs[nb]; !ok {
					pairs[nb] = nil
				}
			}
		}
	}

	rows := make([]HexRow, 0, len(pairs))
	for hex, own := range pairs {
		cands := own
		if borrow && countDistinctAnchors(own) < k {
			for _, nb := range neighborCells(hex) {
				for _, c := range pairs[nb] {
					cands = append(cands, candidate{seconds: c.seconds, anchorID: c.anchorID, borrowed: true})
				}
			}
		}
		slots := reduceTopK(cands, k)
		if len(slots) == 0 {
			continue
		}
		rows = append(rows, HexRow{H3: hex, Res: resolution, Slots: slots})
	}

	sort.Slice(rows, func(i, j int) bool { return rows[i].H3 < rows[j].H3 })
	return rows
}

func coveredHexes(pairs map[uint64][]candidate) []uint64 {
	out := make([]uint64, 0, len(pairs))
	for hex, cands := range pairs {
		if len(cands) > 0 {
			out = append(out, hex)
		}
	}
	return out
}

func countDistinctAnchors(cands []candidate) int {
	seen := map[int32]struct{}{}
	for _, c := range cands {
		seen[c.anchorID] = struct{}{}
	}
	return len(seen)
}

func neighborCells(hex uint64) []uint64 {
	disk := h3.Cell(hex).GridDisk(1)
	out := make([]uint64, 0, len(disk))
	for _, c := range disk {
		if uint64(c) != hex {
			out = append(out, uint64(c))
		}
	}
	return out
}

// reduceTopK keeps the per-anchor minimum, then the K best by
// (seconds, anchor id). Ties between an owned and a borrowed candidate with
// identical seconds and anchor prefer the owned one, so provenance never
// claims a borrow that changed nothing.
func reduceTopK(cands []candidate, k int) []Slot {
	if len(cands) == 0 {
		return nil
	}

	best := map[int32]candidate{}
	for _, c := range cands {
		prev, ok := best[c.anchorID]
		switch {
		case !ok, c.seconds < prev.seconds:
			best[c.anchorID] = c
		case c.seconds == prev.seconds && prev.borrowed && !c.borrowed:
			best[c.anchorID] = c
		}
	}

	ordered := make([]candidate, 0, len(best))
	for _, c := range best {
		ordered = append(ordered, c)
	}
	sort.Slice(ordered, func(i, j int) bool {
		if ordered[i].seconds != ordered[j].seconds {
			return ordered[i].seconds < ordered[j].seconds
		}
		return ordered[i].anchorID < ordered[j].anchorID
	})
	if len(ordered) > k {
		ordered = ordered[:k]
	}

	slots := make([]Slot, len(ordered))
	for i, c := range ordered {
		slots[i] = Slot{AnchorID: c.anchorID, Seconds: c.seconds, Borrowed: c.borrowed}
	}
	return slots
}
