package geo

import (
	"math"
	"testing"
)

func TestDistanceKmZero(t *testing.T) {
	if d := DistanceKm(-37.80, 145.00, -37.80, 145.00); d != 0 {
		t.Errorf("identical points: expected 0, got %v", d)
	}
}

func TestDistanceKmKnownPairs(t *testing.T) {
	cases := []struct {
		name                   string
		lat1, lon1, lat2, lon2 float64
		wantKm                 float64
		tol                    float64
	}{
		// One degree of latitude is ~111.2 km everywhere.
		{"one degree latitude", -37.0, 145.0, -38.0, 145.0, 111.2, 0.5},
		// Melbourne CBD to Melbourne Airport, ~19.3 km.
		{"melbourne cbd to airport", -37.8136, 144.9631, -37.6690, 144.8410, 19.3, 0.5},
		// A hotspot-scale separation, ~100 m.
		{"hotspot scale", -37.8000, 145.0000, -37.8009, 145.0000, 0.1, 0.01},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			d := DistanceKm(c.lat1, c.lon1, c.lat2, c.lon2)
			if math.Abs(d-c.wantKm) > c.tol {
				t.Errorf("expected ~%v km, got %v", c.wantKm, d)
			}
		})
	}
}

func TestDistanceKmSymmetric(t *testing.T) {
	a := DistanceKm(-37.80, 145.00, -36.50, 143.20)
	b := DistanceKm(-36.50, 143.20, -37.80, 145.00)
	if math.Abs(a-b) > 1e-9 {
		t.Errorf("distance not symmetric: %v vs %v", a, b)
	}
}
