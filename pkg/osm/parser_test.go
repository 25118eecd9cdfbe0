package osm

import (
	"testing"

	"github.com/paulmach/osm"
)

func tags(kv ...string) osm.Tags {
	var t osm.Tags
	for i := 0; i < len(kv); i += 2 {
		t = append(t, osm.Tag{Key: kv[i], Value: kv[i+1]})
	}
	return t
}

func TestUsableDrive(t *testing.T) {
	tests := []struct {
		name string
		tags osm.Tags
		want bool
	}{
		{"residential", tags("highway", "residential"), true},
		{"motorway", tags("highway", "motorway"), true},
		{"footway", tags("highway", "footway"), false},
		{"private access", tags("highway", "residential", "access", "private"), false},
		{"no access", tags("highway", "service", "access", "no"), false},
		{"access list with private", tags("highway", "service", "access", "yes;private"), false},
		{"motor_vehicle no", tags("highway", "residential", "motor_vehicle", "no"), false},
		{"area", tags("highway", "residential", "area", "yes"), false},
		{"no highway tag", tags("building", "yes"), false},
	}
	for _, tt := range tests {
		if got := usable(tt.tags, Drive); got != tt.want {
			t.Errorf("%s: usable = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestUsableWalk(t *testing.T) {
	tests := []struct {
		name string
		tags osm.Tags
		want bool
	}{
		{"footway", tags("highway", "footway"), true},
		{"steps", tags("highway", "steps"), true},
		{"residential", tags("highway", "residential"), true},
		{"motorway", tags("highway", "motorway"), false},
		{"foot no", tags("highway", "path", "foot", "no"), false},
		{"private", tags("highway", "footway", "access", "private"), false},
	}
	for _, tt := range tests {
		if got := usable(tt.tags, Walk); got != tt.want {
			t.Errorf("%s: usable = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestDirectionFlags(t *testing.T) {
	tests := []struct {
		name     string
		tags     osm.Tags
		mode     Mode
		fwd, bwd bool
	}{
		{"default bidirectional", tags("highway", "residential"), Drive, true, true},
		{"oneway yes", tags("highway", "residential", "oneway", "yes"), Drive, true, false},
		{"oneway -1", tags("highway", "residential", "oneway", "-1"), Drive, false, true},
		{"motorway implied", tags("highway", "motorway"), Drive, true, false},
		{"roundabout implied", tags("highway", "residential", "junction", "roundabout"), Drive, true, false},
		{"reversible skipped", tags("highway", "residential", "oneway", "reversible"), Drive, false, false},
		{"oneway ignored on foot", tags("highway", "residential", "oneway", "yes"), Walk, true, true},
	}
	for _, tt := range tests {
		fwd, bwd := directionFlags(tt.tags, tt.mode)
		if fwd != tt.fwd || bwd != tt.bwd {
			t.Errorf("%s: got (%v,%v), want (%v,%v)", tt.name, fwd, bwd, tt.fwd, tt.bwd)
		}
	}
}

func TestAccessDenied(t *testing.T) {
	if !accessDenied("private") || !accessDenied("no") || !accessDenied("yes; private") {
		t.Error("expected denial")
	}
	if accessDenied("yes") || accessDenied("destination") {
		t.Error("unexpected denial")
	}
}
