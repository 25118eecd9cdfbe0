package geo

import (
	"math"
	"testing"
)

func TestHaversine(t *testing.T) {
	tests := []struct {
		name             string
		lat1, lon1       float64
		lat2, lon2       float64
		wantMeters       float64
		tolerancePercent float64
	}{
		{
			name: "Boston to Worcester",
			lat1: 42.3601, lon1: -71.0589,
			lat2: 42.2626, lon2: -71.8023,
			wantMeters:       62_300, // ~62 km great-circle
			tolerancePercent: 1,
		},
		{
			name: "Same point",
			lat1: 42.3601, lon1: -71.0589,
			lat2: 42.3601, lon2: -71.0589,
			wantMeters:       0,
			tolerancePercent: 0,
		},
		{
			name: "London to Paris",
			lat1: 51.5074, lon1: -0.1278,
			lat2: 48.8566, lon2: 2.3522,
			wantMeters:       343_500,
			tolerancePercent: 1,
		},
		{
			name: "Short distance (~100m)",
			lat1: 42.3601, lon1: -71.0589,
			lat2: 42.3610, lon2: -71.0589,
			wantMeters:       100,
			tolerancePercent: 5,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Haversine(tt.lat1, tt.lon1, tt.lat2, tt.lon2)
			if tt.wantMeters == 0 {
				if got != 0 {
					t.Errorf("expected 0, got %f", got)
				}
				return
			}
			diff := math.Abs(got-tt.wantMeters) / tt.wantMeters * 100
			if diff > tt.tolerancePercent {
				t.Errorf("Haversine = %f m, want ~%f m (diff %.1f%%)", got, tt.wantMeters, diff)
			}
		})
	}
}

func TestEquirectangularMatchesHaversineAtShortRange(t *testing.T) {
	lat, lon := 42.36, -71.06
	for _, d := range []float64{0.001, 0.005, 0.01} {
		h := Haversine(lat, lon, lat+d, lon+d)
		e := EquirectangularDist(lat, lon, lat+d, lon+d)
		if math.Abs(h-e)/h > 0.01 {
			t.Errorf("d=%v: haversine=%.1f equirect=%.1f diverge >1%%", d, h, e)
		}
	}
}

func TestProjectionDistance(t *testing.T) {
	p := NewProjection(42.36)
	x1, y1 := p.Project(42.3601, -71.0589)
	x2, y2 := p.Project(42.3610, -71.0589)
	dist := math.Hypot(x2-x1, y2-y1)
	want := Haversine(42.3601, -71.0589, 42.3610, -71.0589)
	if math.Abs(dist-want)/want > 0.02 {
		t.Errorf("projected dist = %.1f, haversine = %.1f", dist, want)
	}
}
