package osm

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/paulmach/osm"
	"github.com/paulmach/osm/osmpbf"

	"hexatlas/pkg/geo"
)

// RawEdge is a directed edge parsed from OSM data, weighted in travel seconds.
type RawEdge struct {
	FromNodeID osm.NodeID
	ToNodeID   osm.NodeID
	Seconds    uint16
}

// ParseResult holds the output of parsing an OSM PBF file.
type ParseResult struct {
	Edges   []RawEdge
	NodeLat map[osm.NodeID]float64
	NodeLon map[osm.NodeID]float64
}

// carHighways lists highway tag values accessible by car.
var carHighways = map[string]bool{
	"motorway":       true,
	"motorway_link":  true,
	"trunk":          true,
	"trunk_link":     true,
	"primary":        true,
	"primary_link":   true,
	"secondary":      true,
	"secondary_link": true,
	"tertiary":       true,
	"tertiary_link":  true,
	"unclassified":   true,
	"residential":    true,
	"living_street":  true,
	"service":        true,
}

// walkHighways lists highway tag values usable on foot. Everything drivable
// except motorways, plus dedicated pedestrian infrastructure.
var walkHighways = map[string]bool{
	"trunk":          true,
	"trunk_link":     true,
	"primary":        true,
	"primary_link":   true,
	"secondary":      true,
	"secondary_link": true,
	"tertiary":       true,
	"tertiary_link":  true,
	"unclassified":   true,
	"residential":    true,
	"living_street":  true,
	"service":        true,
	"footway":        true,
	"path":           true,
	"pedestrian":     true,
	"steps":          true,
	"track":          true,
	"cycleway":       true,
}

// accessDenied reports whether an access-style tag value (scalar or
// semicolon list) contains "private" or "no".
func accessDenied(value string) bool {
	for tok := range strings.SplitSeq(value, ";") {
		switch strings.TrimSpace(strings.ToLower(tok)) {
		case "private", "no":
			return true
		}
	}
	return false
}

// usable returns true if the way is routable for the mode.
func usable(tags osm.Tags, mode Mode) bool {
	hw := tags.Find("highway")
	if mode == Walk {
		if !walkHighways[hw] {
			return false
		}
	} else if !carHighways[hw] {
		return false
	}

	// Skip area highways (pedestrian plazas map poorly to segments).
	if tags.Find("area") == "yes" {
		return false
	}

	if access := tags.Find("access"); access != "" && accessDenied(access) {
		return false
	}
	if mode == Drive {
		if mv := tags.Find("motor_vehicle"); mv != "" && accessDenied(mv) {
			return false
		}
	} else if foot := tags.Find("foot"); foot != "" && accessDenied(foot) {
		return false
	}

	return true
}

// directionFlags returns (forward, backward) based on highway type and
// oneway tags. Oneway never applies to walking.
func directionFlags(tags osm.Tags, mode Mode) (forward, backward bool) {
	forward = true
	backward = true
	if mode == Walk {
		return forward, backward
	}

	hw := tags.Find("highway")

	// Implied oneway for motorways and roundabouts.
	if hw == "motorway" || hw == "motorway_link" || tags.Find("junction") == "roundabout" {
		backward = false
	}

	switch tags.Find("oneway") {
	case "yes", "true", "1":
		forward = true
		backward = false
	case "-1", "reverse":
		forward = false
		backward = true
	case "no":
		forward = true
		backward = true
	case "reversible":
		// Time-dependent — skip entirely.
		forward = false
		backward = false
	}

	return forward, backward
}

// wayInfo holds parsed way data collected during Pass 1.
type wayInfo struct {
	NodeIDs  []osm.NodeID
	Highway  string
	Maxspeed string
	Forward  bool
	Backward bool
}

// Parse reads an OSM PBF file and returns directed, travel-time-weighted
// edges for the mode. The reader is consumed twice (seeks back to start for
// the second pass), so it must implement io.ReadSeeker.
func Parse(ctx context.Context, rs io.ReadSeeker, mode Mode) (*ParseResult, error) {
	// Pass 1: Scan ways to collect referenced node IDs and way info.
	referencedNodes := make(map[osm.NodeID]struct{})
	var ways []wayInfo

	scanner := osmpbf.New(ctx, rs, 1)
	scanner.SkipNodes = true
	scanner.SkipRelations = true

	for scanner.Scan() {
		w, ok := scanner.Object().(*osm.Way)
		if !ok {
			continue
		}

		if !usable(w.Tags, mode) {
			continue
		}
		if len(w.Nodes) < 2 {
			continue
		}

		fwd, bwd := directionFlags(w.Tags, mode)
		if !fwd && !bwd {
			continue
		}

		nodeIDs := make([]osm.NodeID, len(w.Nodes))
		for i, wn := range w.Nodes {
			nodeIDs[i] = wn.ID
			referencedNodes[wn.ID] = struct{}{}
		}

		ways = append(ways, wayInfo{
			NodeIDs:  nodeIDs,
			Highway:  w.Tags.Find("highway"),
			Maxspeed: w.Tags.Find("maxspeed"),
			Forward:  fwd,
			Backward: bwd,
		})
	}
	if err := scanner.Err(); err != nil {
		scanner.Close()
		return nil, fmt.Errorf("pass 1 (ways): %w", err)
	}
	scanner.Close()

	slog.Info("pbf pass 1 complete", "ways", len(ways), "referenced_nodes", len(referencedNodes))

	// Pass 2: Scan nodes to collect coordinates for referenced nodes only.
	if _, err := rs.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("seek for pass 2: %w", err)
	}

	nodeLat := make(map[osm.NodeID]float64, len(referencedNodes))
	nodeLon := make(map[osm.NodeID]float64, len(referencedNodes))

	scanner = osmpbf.New(ctx, rs, 1)
	scanner.SkipWays = true
	scanner.SkipRelations = true

	for scanner.Scan() {
		n, ok := scanner.Object().(*osm.Node)
		if !ok {
			continue
		}
		if _, needed := referencedNodes[n.ID]; !needed {
			continue
		}
		nodeLat[n.ID] = n.Lat
		nodeLon[n.ID] = n.Lon
	}
	if err := scanner.Err(); err != nil {
		scanner.Close()
		return nil, fmt.Errorf("pass 2 (nodes): %w", err)
	}
	scanner.Close()

	slog.Info("pbf pass 2 complete", "node_coords", len(nodeLat))

	// Build edges from ways.
	var edges []RawEdge
	var skippedEdges int

	for _, w := range ways {
		for i := 0; i < len(w.NodeIDs)-1; i++ {
			fromID := w.NodeIDs[i]
			toID := w.NodeIDs[i+1]

			fromLat, fromOk := nodeLat[fromID]
			fromLon := nodeLon[fromID]
			toLat, toOk := nodeLat[toID]
			toLon := nodeLon[toID]

			if !fromOk || !toOk {
				skippedEdges++
				continue
			}

			dist := geo.Haversine(fromLat, fromLon, toLat, toLon)
			secs := travelSeconds(dist, mode, w.Highway, w.Maxspeed)

			if w.Forward {
				edges = append(edges, RawEdge{FromNodeID: fromID, ToNodeID: toID, Seconds: secs})
			}
			if w.Backward {
				edges = append(edges, RawEdge{FromNodeID: toID, ToNodeID: fromID, Seconds: secs})
			}
		}
	}

	if skippedEdges > 0 {
		slog.Warn("skipped edges with missing node coordinates", "count", skippedEdges)
	}
	slog.Info("built directed edges", "count", len(edges), "mode", mode.String())

	return &ParseResult{
		Edges:   edges,
		NodeLat: nodeLat,
		NodeLon: nodeLon,
	}, nil
}
