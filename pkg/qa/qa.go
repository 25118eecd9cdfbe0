// Package qa computes the per-stage quality summaries every pipeline stage
// prints on exit and the validators re-check from artifacts.
package qa

import (
	"log/slog"
	"sort"

	"hexatlas/pkg/graph"
)

// Summary is the one-line stage report: row count, p50/p95 of reachable
// seconds, and the unreachable fraction.
type Summary struct {
	Rows        int
	P50         uint16
	P95         uint16
	UnreachFrac float64
}

// Summarize computes a Summary over raw seconds values. Sentinels (Unreach,
// NoData) count toward the unreachable fraction and are excluded from the
// percentiles.
func Summarize(seconds []uint16) Summary {
	s := Summary{Rows: len(seconds)}
	reachable := make([]uint16, 0, len(seconds))
	unreach := 0
	for _, v := range seconds {
		if v >= graph.NoData {
			unreach++
			continue
		}
		reachable = append(reachable, v)
	}
	if s.Rows > 0 {
		s.UnreachFrac = float64(unreach) / float64(s.Rows)
	}
	if len(reachable) > 0 {
		sort.Slice(reachable, func(i, j int) bool { return reachable[i] < reachable[j] })
		s.P50 = Quantile(reachable, 0.50)
		s.P95 = Quantile(reachable, 0.95)
	}
	return s
}

// Quantile returns the q-quantile of sorted values: the element at index
// floor(q·(n−1)), clamped to the slice.
func Quantile(sorted []uint16, q float64) uint16 {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(q * float64(len(sorted)-1))
	if idx < 0 {
		idx = 0
	}
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

// Log emits the structured one-line exit summary for a stage.
func (s Summary) Log(stage string) {
	slog.Info(stage,
		"rows", s.Rows,
		"p50_s", s.P50,
		"p95_s", s.P95,
		"unreach_frac", s.UnreachFrac,
	)
}
