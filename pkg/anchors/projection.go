package anchors

import (
	"log/slog"

	"hexatlas/pkg/graph"
)

// Projection maps an anchor table onto a specific CSR graph. Sites whose
// node vanished from the graph are either re-snapped (remapMissing) or
// dropped; the projection arrays are parallel and cover surviving sites only.
type Projection struct {
	Sites []Site
	Nodes []int32  // graph node index per surviving site
	IDs   []uint32 // anchor_int_id per surviving site
}

// coverageWarnPct is the guardrail below which anchor presence in the graph
// is suspicious (wrong extract, wrong mode).
const coverageWarnPct = 80.0

// Project validates each site's node against the graph. A site survives if
// its recorded node index is in range; otherwise, with remapMissing, it is
// re-snapped to the single nearest graph node, with no distance limit.
func Project(g *graph.CSR, sites []Site, remapMissing bool) *Projection {
	p := &Projection{}
	var snapper *Snapper

	missing := 0
	for _, s := range sites {
		node := s.NodeIndex
		if node < 0 || node >= g.NumNodes {
			missing++
			if !remapMissing {
				continue
			}
			if snapper == nil {
				snapper = NewSnapper(g)
			}
			cands := snapper.Nearest(float64(s.Lat), float64(s.Lon), 1)
			if len(cands) == 0 {
				continue
			}
			node = cands[0].Node
		}
		p.Sites = append(p.Sites, s)
		p.Nodes = append(p.Nodes, node)
		p.IDs = append(p.IDs, s.AnchorIntID)
	}

	if len(sites) > 0 {
		pct := 100.0 * float64(len(sites)-missing) / float64(len(sites))
		if pct < coverageWarnPct {
			slog.Warn("low anchor presence in graph", "present_pct", pct, "missing", missing, "remapped", remapMissing)
		}
	}
	warnStranded(g, p)
	return p
}

// warnStranded flags anchors that landed outside the largest road component:
// they survive projection but most searches from them sentinel-fill, which
// usually means a broken extract or the wrong mode.
func warnStranded(g *graph.CSR, p *Projection) {
	if len(p.Nodes) == 0 {
		return
	}
	mask := graph.LargestComponent(g)
	inMain := 0
	for _, node := range p.Nodes {
		if mask[node] {
			inMain++
		}
	}
	pct := 100.0 * float64(inMain) / float64(len(p.Nodes))
	if pct < coverageWarnPct {
		slog.Warn("anchors stranded off the main road component",
			"in_main_pct", pct, "stranded", len(p.Nodes)-inMain)
	}
}
