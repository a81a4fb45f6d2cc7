package model

import (
	"testing"
)

// =============================================================================
// Route Geometry Tests
// =============================================================================

// TestRouteGeometry_GeoJSONOrder verifies polyline pairs are read as
// [lon,lat]: a [[1,0]]-style equator route must come back with latitude 0,
// not a meridian.
func TestRouteGeometry_GeoJSONOrder(t *testing.T) {
	e := &Entity{
		ID:   "r1",
		Type: EntityRoute,
		Metadata: map[string]any{
			"routeGeometry": []any{
				[]any{0.0, 0.0},
				[]any{1.0, 0.0},
			},
		},
	}

	coords, corridorKm, ok := e.RouteGeometry()
	if !ok {
		t.Fatal("expected usable geometry")
	}
	if len(coords) != 2 {
		t.Fatalf("expected 2 points, got %d", len(coords))
	}
	if coords[1].Lat != 0 || coords[1].Lon != 1 {
		t.Errorf("pairs must decode lon-first: got lat=%v lon=%v", coords[1].Lat, coords[1].Lon)
	}
	if corridorKm != 1.0 {
		t.Errorf("expected default corridor 1.0, got %v", corridorKm)
	}
}

// TestRouteGeometry_CorridorOverride verifies a positive corridorKm wins
// over the default and non-positive values fall back.
func TestRouteGeometry_CorridorOverride(t *testing.T) {
	e := &Entity{
		ID:   "r1",
		Type: EntityRoute,
		Metadata: map[string]any{
			"routeGeometry": []any{[]any{10.0, 50.0}, []any{11.0, 50.5}},
			"corridorKm":    5.0,
		},
	}
	if _, corridorKm, ok := e.RouteGeometry(); !ok || corridorKm != 5.0 {
		t.Errorf("expected corridor 5.0, got %v (ok=%v)", corridorKm, ok)
	}

	e.Metadata["corridorKm"] = -2.0
	if _, corridorKm, ok := e.RouteGeometry(); !ok || corridorKm != 1.0 {
		t.Errorf("non-positive corridor should default to 1.0, got %v (ok=%v)", corridorKm, ok)
	}
}

// TestRouteGeometry_Degenerate verifies missing, malformed and too-short
// geometries are rejected.
func TestRouteGeometry_Degenerate(t *testing.T) {
	cases := []struct {
		name     string
		metadata map[string]any
	}{
		{"no metadata", nil},
		{"missing key", map[string]any{}},
		{"not an array", map[string]any{"routeGeometry": "oops"}},
		{"single point", map[string]any{"routeGeometry": []any{[]any{1.0, 2.0}}}},
		{"short pairs", map[string]any{"routeGeometry": []any{[]any{1.0}, []any{2.0}}}},
	}
	for _, tc := range cases {
		e := &Entity{ID: "r1", Type: EntityRoute, Metadata: tc.metadata}
		if _, _, ok := e.RouteGeometry(); ok {
			t.Errorf("%s: expected no geometry", tc.name)
		}
	}
}
