package scoring

import (
	"strings"
	"testing"
	"time"

	"github.com/dtrinh/signalforge/internal/model"
)

func baseEvidence() *model.EvidenceItem {
	return &model.EvidenceItem{
		ID:         "e1",
		TenantID:   "t1",
		SourceType: model.SourceRSS,
	}
}

func facility(id string, lat, lon float64) *model.Entity {
	return &model.Entity{
		ID:       id,
		TenantID: "t1",
		Type:     model.EntityFacility,
		Metadata: map[string]any{
			"geo": map[string]any{"lat": lat, "lon": lon},
		},
	}
}

// route builds a route entity from GeoJSON-ordered [lon,lat] pairs.
func route(id string, corridorKm float64, coords ...[2]float64) *model.Entity {
	geometry := make([]any, 0, len(coords))
	for _, c := range coords {
		geometry = append(geometry, []any{c[0], c[1]})
	}
	return &model.Entity{
		ID:       id,
		TenantID: "t1",
		Type:     model.EntityRoute,
		Metadata: map[string]any{
			"routeGeometry": geometry,
			"corridorKm":    corridorKm,
		},
	}
}

// =============================================================================
// Factor Tests
// =============================================================================

// TestScore_RecencyBuckets verifies the age-based point tiers.
func TestScore_RecencyBuckets(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	cases := []struct {
		name   string
		age    time.Duration
		points int
	}{
		{"within 6h", 3 * time.Hour, 30},
		{"within 24h", 12 * time.Hour, 20},
		{"within 72h", 48 * time.Hour, 10},
		{"older", 100 * time.Hour, 0},
	}

	for _, tc := range cases {
		ev := baseEvidence()
		ev.SourceType = "" // isolate recency
		ev.FetchedAt = now.Add(-tc.age)

		result := Score(Input{Evidence: ev, Now: now})
		if result.Score != tc.points {
			t.Errorf("%s: expected %d points, got %d (%v)", tc.name, tc.points, result.Score, result.Reasons)
		}
	}
}

// TestScore_SourceTypePoints verifies webhook vs manual/rss bonuses.
func TestScore_SourceTypePoints(t *testing.T) {
	for sourceType, points := range map[model.SourceType]int{
		model.SourceWebhook: 15,
		model.SourceManual:  10,
		model.SourceRSS:     10,
	} {
		ev := baseEvidence()
		ev.SourceType = sourceType

		result := Score(Input{Evidence: ev, Now: time.Now()})
		if result.Score != points {
			t.Errorf("%s: expected %d points, got %d", sourceType, points, result.Score)
		}
	}
}

// TestScore_TrustedHost verifies the .cisa.gov source bonus.
func TestScore_TrustedHost(t *testing.T) {
	ev := baseEvidence()
	ev.SourceType = ""
	ev.SourceURI = "https://alerts.cisa.gov/advisory/1"

	result := Score(Input{Evidence: ev, Now: time.Now()})
	if result.Score != 10 {
		t.Errorf("expected 10 points for trusted host, got %d", result.Score)
	}
}

// TestScore_TagBonuses verifies tag points, including the shared
// exploitation/exploited bonus counting once.
func TestScore_TagBonuses(t *testing.T) {
	ev := baseEvidence()
	ev.SourceType = ""
	ev.Tags = []string{"exploitation", "exploited", "ransomware"}

	result := Score(Input{Evidence: ev, Now: time.Now()})
	if result.Score != 35 {
		t.Errorf("expected 20+15=35 points, got %d (%v)", result.Score, result.Reasons)
	}
}

// TestScore_FacilityProximityTiers verifies the 50km/200km buckets.
func TestScore_FacilityProximityTiers(t *testing.T) {
	point := model.GeoPoint{Lat: 0, Lon: 0}

	cases := []struct {
		name   string
		lat    float64
		points int
	}{
		{"near", 0.2, 30},  // ~22km: facility tier 20 + linked entity 10
		{"mid", 1.0, 20},   // ~111km: facility tier 10 + linked entity 10
		{"far", 3.0, 10},   // ~333km: no facility tier, linked entity 10
	}

	for _, tc := range cases {
		ev := baseEvidence()
		ev.SourceType = ""

		result := Score(Input{
			Evidence:      ev,
			Entities:      []*model.Entity{facility("f1", tc.lat, 0)},
			EvidencePoint: &point,
			Now:           time.Now(),
		})
		if result.Score != tc.points {
			t.Errorf("%s: expected %d points, got %d (%v)", tc.name, tc.points, result.Score, result.Reasons)
		}
	}
}

// TestScore_RouteCorridorBands verifies the 1x/4x corridor tiers for a
// corridorKm=5 route: 3km inside corridor, 8km in the reduced band, 25km
// outside both.
func TestScore_RouteCorridorBands(t *testing.T) {
	// Route along the equator; evidence points offset north by ~3/8/25km.
	r := route("r1", 5, [2]float64{0, 0}, [2]float64{1, 0})

	cases := []struct {
		name   string
		latDeg float64
		points int
	}{
		{"inside corridor", 3.0 / 111.0, 30}, // corridor 20 + linked 10
		{"reduced band", 8.0 / 111.0, 20},    // band 10 + linked 10
		{"outside", 25.0 / 111.0, 10},        // linked 10 only
	}

	for _, tc := range cases {
		ev := baseEvidence()
		ev.SourceType = ""
		point := model.GeoPoint{Lat: tc.latDeg, Lon: 0.5}

		result := Score(Input{
			Evidence:      ev,
			Entities:      []*model.Entity{r},
			EvidencePoint: &point,
			Now:           time.Now(),
		})
		if result.Score != tc.points {
			t.Errorf("%s: expected %d points, got %d (%v)", tc.name, tc.points, result.Score, result.Reasons)
		}
	}
}

// =============================================================================
// Aggregate Tests
// =============================================================================

// TestScore_CISAAdvisoryScenario replays the reference scenario: fresh rss
// evidence from alerts.cisa.gov tagged cisa+critical, no linked entities.
// Expected: 30+10+10+30+10 = 90, severity 5.
func TestScore_CISAAdvisoryScenario(t *testing.T) {
	now := time.Now().UTC()
	ev := &model.EvidenceItem{
		ID:         "e1",
		TenantID:   "t1",
		SourceType: model.SourceRSS,
		SourceURI:  "https://alerts.cisa.gov/x",
		Tags:       []string{"cisa", "critical"},
		FetchedAt:  now,
	}

	result := Score(Input{Evidence: ev, Now: now})

	if result.Score != 90 {
		t.Errorf("expected score 90, got %d (%v)", result.Score, result.Reasons)
	}
	if result.Severity != 5 {
		t.Errorf("expected severity 5, got %d", result.Severity)
	}
	if len(result.Reasons) != 5 {
		t.Errorf("expected 5 reasons, got %v", result.Reasons)
	}
	for _, want := range []string{"+30", "+10", "+10", "+30", "+10"} {
		found := false
		for _, r := range result.Reasons {
			if strings.Contains(r, want) {
				found = true
				break
			}
		}
		if !found {
			t.Errorf("expected a reason with %s, got %v", want, result.Reasons)
		}
	}
}

// TestScore_Monotone verifies adding independent positive factors never
// lowers the score.
func TestScore_Monotone(t *testing.T) {
	now := time.Now().UTC()
	ev := baseEvidence()
	ev.FetchedAt = now

	prev := Score(Input{Evidence: ev, Now: now}).Score

	ev.Tags = append(ev.Tags, "medium")
	next := Score(Input{Evidence: ev, Now: now}).Score
	if next < prev {
		t.Errorf("adding a tag lowered score: %d -> %d", prev, next)
	}
	prev = next

	ev.Tags = append(ev.Tags, "ransomware")
	next = Score(Input{Evidence: ev, Now: now}).Score
	if next < prev {
		t.Errorf("adding a tag lowered score: %d -> %d", prev, next)
	}
}

// TestScore_ClampedAt100 verifies stacking every factor clamps at 100.
func TestScore_ClampedAt100(t *testing.T) {
	now := time.Now().UTC()
	point := model.GeoPoint{Lat: 0, Lon: 0}
	ev := &model.EvidenceItem{
		ID:         "e1",
		TenantID:   "t1",
		SourceType: model.SourceWebhook,
		SourceURI:  "https://www.cisa.gov/alert",
		Tags:       []string{"critical", "high", "medium", "cisa", "ransomware", "exploited"},
		FetchedAt:  now,
	}

	result := Score(Input{
		Evidence:      ev,
		Entities:      []*model.Entity{facility("f1", 0.1, 0)},
		EvidencePoint: &point,
		Now:           now,
	})

	if result.Score != 100 {
		t.Errorf("expected clamp at 100, got %d", result.Score)
	}
	if result.Severity != 5 {
		t.Errorf("expected severity 5, got %d", result.Severity)
	}
}

// TestSeverityForScore verifies the exact severity breakpoints.
func TestSeverityForScore(t *testing.T) {
	cases := map[int]int{
		0: 1, 19: 1,
		20: 2, 39: 2,
		40: 3, 59: 3,
		60: 4, 79: 4,
		80: 5, 100: 5,
	}
	for score, severity := range cases {
		if got := SeverityForScore(score); got != severity {
			t.Errorf("score %d: expected severity %d, got %d", score, severity, got)
		}
	}
}
