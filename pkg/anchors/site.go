// Package anchors chooses graph nodes that stand in for POIs and gives them
// a stable dense integer labelling used by every downstream artifact.
package anchors

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/google/uuid"

	"hexatlas/pkg/graph"
	osmparser "hexatlas/pkg/osm"
)

// ErrEmptyAnchorSet is returned when no POI survived snapping. Downstream
// stages cannot run without anchors.
var ErrEmptyAnchorSet = errors.New("anchor set is empty")

// POI is one row of the canonical POI table.
type POI struct {
	ID          string  `parquet:"poi_id"`
	BrandID     *string `parquet:"brand_id,optional"`
	Category    *string `parquet:"category,optional"`
	Subcat      *string `parquet:"subcat,optional"`
	TraumaLevel *string `parquet:"trauma_level,optional"`
	Lat         float64 `parquet:"lat"`
	Lon         float64 `parquet:"lon"`
}

// Site is an anchor site: one graph node standing in for one or more POIs.
type Site struct {
	AnchorIntID uint32   `parquet:"anchor_int_id"`
	NodeIndex   int32    `parquet:"node_index"`
	Lon         float32  `parquet:"lon"`
	Lat         float32  `parquet:"lat"`
	SiteID      string   `parquet:"site_id"`
	POIIDs      []string `parquet:"poi_ids,list"`
	Brands      []string `parquet:"brands,list"`
	Categories  []string `parquet:"categories,list"`
}

// MapRow links a POI to the site that absorbed it.
type MapRow struct {
	POIID       string `parquet:"poi_id"`
	AnchorIntID uint32 `parquet:"anchor_int_id"`
	SnapDistM   float32 `parquet:"snap_dist_m"`
}

// trauma aliases: a level-1 trauma center is reachable both under its
// specific label and the generic hospital label.
var traumaAliases = map[string]string{
	"trauma_level_1_adult":     "trauma_level_1_adult",
	"trauma_level_1_pediatric": "trauma_level_1_pediatric",
	"adult":                    "trauma_level_1_adult",
	"pediatric":                "trauma_level_1_pediatric",
	"peds":                     "trauma_level_1_pediatric",
}

// expandCategories returns the category labels a POI contributes to its site.
func expandCategories(p POI) []string {
	set := map[string]struct{}{}
	add := func(s string) {
		s = strings.ToLower(strings.TrimSpace(s))
		if s != "" {
			set[s] = struct{}{}
		}
	}
	if p.Category != nil {
		add(*p.Category)
	}
	if p.Subcat != nil {
		sub := strings.ToLower(strings.TrimSpace(*p.Subcat))
		if alias, ok := traumaAliases[sub]; ok {
			add(alias)
			add("hospital")
		} else {
			add(sub)
		}
	}
	if p.TraumaLevel != nil {
		if alias, ok := traumaAliases[strings.ToLower(strings.TrimSpace(*p.TraumaLevel))]; ok {
			add(alias)
			add("hospital")
		}
	}
	out := make([]string, 0, len(set))
	for s := range set {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// BuildSites snaps POIs to graph nodes, groups co-located POIs into sites,
// and assigns dense anchor_int_ids ordered by each site's uuid5 string.
// POIs beyond the mode's snap radius are dropped with a log line.
func BuildSites(g *graph.CSR, pois []POI, mode osmparser.Mode) ([]Site, []MapRow, error) {
	snapper := NewSnapper(g)
	radius := mode.SnapRadiusMeters()

	type acc struct {
		poiIDs     []string
		brands     map[string]struct{}
		categories map[string]struct{}
		dists      map[string]float32
	}
	byNode := map[int32]*acc{}

	dropped := 0
	for _, p := range pois {
		node, dist, ok := snapper.SnapConnected(p.Lat, p.Lon, radius)
		if !ok {
			dropped++
			continue
		}
		a := byNode[node]
		if a == nil {
			a = &acc{
				brands:     map[string]struct{}{},
				categories: map[string]struct{}{},
				dists:      map[string]float32{},
			}
			byNode[node] = a
		}
		a.poiIDs = append(a.poiIDs, p.ID)
		a.dists[p.ID] = float32(dist)
		if p.BrandID != nil && *p.BrandID != "" {
			a.brands[strings.ToLower(*p.BrandID)] = struct{}{}
		}
		for _, c := range expandCategories(p) {
			a.categories[c] = struct{}{}
		}
	}
	if dropped > 0 {
		slog.Info("dropped POIs beyond snap radius", "count", dropped, "radius_m", radius)
	}
	if len(byNode) == 0 {
		return nil, nil, ErrEmptyAnchorSet
	}

	sites := make([]Site, 0, len(byNode))
	for node, a := range byNode {
		sites = append(sites, Site{
			NodeIndex:  node,
			Lon:        g.Lons[node],
			Lat:        g.Lats[node],
			SiteID:     SiteID(mode, g.NodeOSMID[node]),
			POIIDs:     sortedCopy(a.poiIDs),
			Brands:     setToSorted(a.brands),
			Categories: setToSorted(a.categories),
		})
	}

	// Stable labelling: sort by uuid string, number from zero.
	sort.Slice(sites, func(i, j int) bool { return sites[i].SiteID < sites[j].SiteID })
	for i := range sites {
		sites[i].AnchorIntID = uint32(i)
	}

	var mapRows []MapRow
	for _, s := range sites {
		a := byNode[s.NodeIndex]
		for _, pid := range s.POIIDs {
			mapRows = append(mapRows, MapRow{POIID: pid, AnchorIntID: s.AnchorIntID, SnapDistM: a.dists[pid]})
		}
	}

	slog.Info("anchor sites built", "sites", len(sites), "pois", len(pois), "dropped", dropped)
	return sites, mapRows, nil
}

// SiteID derives the stable uuid5 identifier of a site from its mode and
// OSM node ID.
func SiteID(mode osmparser.Mode, osmNodeID int64) string {
	return uuid.NewSHA1(uuid.NameSpaceDNS, fmt.Appendf(nil, "%s|%d", mode, osmNodeID)).String()
}

func sortedCopy(s []string) []string {
	out := append([]string(nil), s...)
	sort.Strings(out)
	return out
}

func setToSorted(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for s := range m {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}
