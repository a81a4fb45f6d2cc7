// Package scoring turns evidence attributes and nearby tenant assets into a
// numeric score, a severity class and a human-readable rationale trail.
// Scoring is a pure function: every factor is independent and additive, so
// adding a positive factor can never lower the result.
package scoring

import (
	"fmt"
	"math"
	"net/url"
	"strings"
	"time"

	"github.com/dtrinh/signalforge/internal/geo"
	"github.com/dtrinh/signalforge/internal/model"
)

// Input carries everything the scorer evaluates. Geometry lookups happen in
// the caller; the scorer itself only compares distances against thresholds.
type Input struct {
	Evidence *model.EvidenceItem
	Entities []*model.Entity

	// EvidencePoint is the geo point enrichment attached to the evidence,
	// when present.
	EvidencePoint *model.GeoPoint

	// Now anchors recency buckets; injectable for tests.
	Now time.Time
}

// Result is the scorer output.
type Result struct {
	Score    int
	Severity int
	Reasons  []string
}

// Distance buckets for facility proximity, in km.
const (
	facilityNearKm = 50.0
	facilityFarKm  = 200.0
)

// Score evaluates the additive factor table and clamps to [0,100].
func Score(in Input) Result {
	var total int
	var reasons []string

	addPoints := func(points int, format string, args ...any) {
		total += points
		reasons = append(reasons, fmt.Sprintf(format+" (+%d)", append(args, points)...))
	}

	ev := in.Evidence

	// Recency.
	now := in.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}
	if !ev.FetchedAt.IsZero() {
		age := now.Sub(ev.FetchedAt)
		switch {
		case age <= 6*time.Hour:
			addPoints(30, "fetched within 6h")
		case age <= 24*time.Hour:
			addPoints(20, "fetched within 24h")
		case age <= 72*time.Hour:
			addPoints(10, "fetched within 72h")
		}
	}

	// Source type.
	switch ev.SourceType {
	case model.SourceWebhook:
		addPoints(15, "webhook source")
	case model.SourceManual, model.SourceRSS:
		addPoints(10, "%s source", ev.SourceType)
	}

	// Trusted host.
	if host := sourceHost(ev.SourceURI); strings.HasSuffix(host, ".cisa.gov") {
		addPoints(10, "trusted source host %s", host)
	}

	// Tag bonuses.
	for _, bonus := range tagBonuses {
		if hasAnyTag(ev, bonus.tags) {
			addPoints(bonus.points, "tag %s", bonus.tags[0])
		}
	}

	// Geo proximity: nearest facility, or route corridor bands.
	if in.EvidencePoint != nil {
		scoreGeo(addPoints, *in.EvidencePoint, in.Entities)
	}

	// Linked-entity bonus.
	if len(in.Entities) > 0 {
		addPoints(10, "%d linked entities", len(in.Entities))
	}

	if total > 100 {
		total = 100
	}
	if total < 0 {
		total = 0
	}

	return Result{
		Score:    total,
		Severity: SeverityForScore(total),
		Reasons:  reasons,
	}
}

// SeverityForScore maps a clamped score to the 1-5 severity scale.
func SeverityForScore(score int) int {
	switch {
	case score >= 80:
		return 5
	case score >= 60:
		return 4
	case score >= 40:
		return 3
	case score >= 20:
		return 2
	default:
		return 1
	}
}

var tagBonuses = []struct {
	tags   []string
	points int
}{
	{[]string{"critical"}, 30},
	{[]string{"high"}, 20},
	{[]string{"medium"}, 10},
	{[]string{"cisa"}, 10},
	{[]string{"ransomware"}, 15},
	{[]string{"exploitation", "exploited"}, 20},
}

func hasAnyTag(ev *model.EvidenceItem, tags []string) bool {
	for _, t := range tags {
		if ev.HasTag(t) {
			return true
		}
	}
	return false
}

func sourceHost(sourceURI string) string {
	if sourceURI == "" {
		return ""
	}
	u, err := url.Parse(sourceURI)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}

// scoreGeo awards the facility proximity bucket from the nearest linked
// facility, and the route corridor band from the nearest linked route.
// Facility tiers: ≤50km +20, ≤200km +10. Route tiers mirror them relative
// to each route's corridor width: within 1× +20, within 4× +10.
func scoreGeo(addPoints func(int, string, ...any), point model.GeoPoint, entities []*model.Entity) {
	nearestFacility := math.Inf(1)
	haveFacility := false

	bestRoutePoints := 0
	var bestRouteDistance, bestRouteCorridor float64

	for _, ent := range entities {
		switch ent.Type {
		case model.EntityFacility:
			loc, ok := ent.Geo()
			if !ok {
				continue
			}
			if d := geo.HaversineKm(point, loc); d < nearestFacility {
				nearestFacility = d
				haveFacility = true
			}
		case model.EntityRoute:
			coords, corridorKm, ok := ent.RouteGeometry()
			if !ok {
				continue
			}
			d, seg := geo.PointToPolylineDistanceKm(point, coords)
			if seg < 0 {
				continue
			}
			points := 0
			switch {
			case d <= corridorKm:
				points = 20
			case d <= 4*corridorKm:
				points = 10
			}
			if points > bestRoutePoints {
				bestRoutePoints = points
				bestRouteDistance = d
				bestRouteCorridor = corridorKm
			}
		}
	}

	if haveFacility {
		switch {
		case nearestFacility <= facilityNearKm:
			addPoints(20, "facility within %.0fkm", nearestFacility)
		case nearestFacility <= facilityFarKm:
			addPoints(10, "facility within %.0fkm", nearestFacility)
		}
	}

	if bestRoutePoints > 0 {
		addPoints(bestRoutePoints, "route corridor %.0fkm at %.0fkm", bestRouteCorridor, bestRouteDistance)
	}
}
