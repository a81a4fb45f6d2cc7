// Package model defines the shared data types for the evidence enrichment
// and signal detection pipeline. All records are scoped by tenant.
package model

import (
	"time"

	json "github.com/goccy/go-json"
)

// SourceType identifies how an evidence item entered the platform.
type SourceType string

const (
	SourceManual  SourceType = "manual"
	SourceRSS     SourceType = "rss"
	SourceWebhook SourceType = "webhook"
)

// EvidenceItem is one ingested piece of OSINT evidence. The ingestion
// subsystem owns these rows; the pipeline reads the core fields and writes
// only into Metadata["enrichment"].
type EvidenceItem struct {
	ID          string         `json:"id"`
	TenantID    string         `json:"tenant_id"`
	FetchedAt   time.Time      `json:"fetched_at"`
	SourceType  SourceType     `json:"source_type"`
	SourceURI   string         `json:"source_uri,omitempty"`
	Title       string         `json:"title,omitempty"`
	Summary     string         `json:"summary,omitempty"`
	ContentText string         `json:"content_text,omitempty"`
	Tags        []string       `json:"tags,omitempty"`
	ContentHash string         `json:"content_hash,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// HasTag reports whether the evidence carries the given tag (case-insensitive
// matching is the caller's concern; tags are stored lowercase by ingestion).
func (e *EvidenceItem) HasTag(tag string) bool {
	for _, t := range e.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// IndicatorKind classifies an extracted indicator.
type IndicatorKind string

const (
	IndicatorURL    IndicatorKind = "url"
	IndicatorDomain IndicatorKind = "domain"
	IndicatorIP     IndicatorKind = "ip"
	IndicatorEmail  IndicatorKind = "email"
	IndicatorHash   IndicatorKind = "hash"
	IndicatorCVE    IndicatorKind = "cve"
)

// Indicator is one artifact extracted from evidence text. The pipeline owns
// the full indicator set for an evidence item and replaces it on each
// enrichment run. Unique per (evidence_id, kind, normalized_value).
type Indicator struct {
	TenantID        string        `json:"tenant_id"`
	EvidenceID      string        `json:"evidence_id"`
	Kind            IndicatorKind `json:"kind"`
	Value           string        `json:"value"`
	NormalizedValue string        `json:"normalized_value"`
	Source          string        `json:"source"`
}

// EntityType classifies a tenant asset.
type EntityType string

const (
	EntityFacility EntityType = "FACILITY"
	EntityRoute    EntityType = "ROUTE"
)

// GeoPoint is a WGS84 coordinate pair.
type GeoPoint struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Entity is a tenant-defined asset: a facility with a point location, or a
// route with a polyline geometry and corridor width. Read-only to the
// pipeline.
type Entity struct {
	ID       string         `json:"id"`
	TenantID string         `json:"tenant_id"`
	Type     EntityType     `json:"type"`
	Name     string         `json:"name,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Geo returns the facility point from entity metadata, if present.
func (e *Entity) Geo() (GeoPoint, bool) {
	return geoFromMetadata(e.Metadata)
}

// RouteGeometry returns the route polyline plus the corridor width in km.
// Geometry is stored GeoJSON-style: an array of [lon,lat] pairs. ok is
// false when the entity carries no usable geometry.
func (e *Entity) RouteGeometry() (coords []GeoPoint, corridorKm float64, ok bool) {
	raw, found := e.Metadata["routeGeometry"]
	if !found {
		return nil, 0, false
	}
	pairs, found := raw.([]any)
	if !found {
		return nil, 0, false
	}
	for _, p := range pairs {
		pair, isPair := p.([]any)
		if !isPair || len(pair) < 2 {
			continue
		}
		lon, lonOK := toFloat(pair[0])
		lat, latOK := toFloat(pair[1])
		if !latOK || !lonOK {
			continue
		}
		coords = append(coords, GeoPoint{Lat: lat, Lon: lon})
	}
	if len(coords) < 2 {
		return nil, 0, false
	}
	corridorKm = 1.0
	if v, found := e.Metadata["corridorKm"]; found {
		if f, isNum := toFloat(v); isNum && f > 0 {
			corridorKm = f
		}
	}
	return coords, corridorKm, true
}

// GeoFromMetadata extracts a geo:{lat,lon} point from a metadata map.
// Used for both entity metadata and evidence metadata (enrichment may have
// geo-tagged the evidence).
func GeoFromMetadata(metadata map[string]any) (GeoPoint, bool) {
	return geoFromMetadata(metadata)
}

func geoFromMetadata(metadata map[string]any) (GeoPoint, bool) {
	raw, found := metadata["geo"]
	if !found {
		return GeoPoint{}, false
	}
	obj, isMap := raw.(map[string]any)
	if !isMap {
		return GeoPoint{}, false
	}
	lat, latOK := toFloat(obj["lat"])
	lon, lonOK := toFloat(obj["lon"])
	if !latOK || !lonOK {
		return GeoPoint{}, false
	}
	return GeoPoint{Lat: lat, Lon: lon}, true
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

// SignalStatus is the lifecycle state of a signal. The pipeline only ever
// creates signals in StatusOpen; later transitions belong to the triage UI.
type SignalStatus string

const (
	StatusOpen SignalStatus = "open"
)

// Signal is a scored, severity-classified alert derived from one evidence
// item. Created at most once per (tenant, evidence); write-once.
type Signal struct {
	ID        string       `json:"id"`
	TenantID  string       `json:"tenant_id"`
	Kind      string       `json:"kind"`
	Title     string       `json:"title"`
	Severity  int          `json:"severity"`
	Score     int          `json:"score"`
	Status    SignalStatus `json:"status"`
	Rationale []string     `json:"rationale"`
	CreatedAt time.Time    `json:"created_at"`
}

// SignalEvidenceLink ties a signal to the evidence item it was derived from.
type SignalEvidenceLink struct {
	TenantID   string `json:"tenant_id"`
	SignalID   string `json:"signal_id"`
	EvidenceID string `json:"evidence_id"`
}

// SignalEntityLink ties a signal to a tenant asset that contributed to it.
type SignalEntityLink struct {
	TenantID string `json:"tenant_id"`
	SignalID string `json:"signal_id"`
	EntityID string `json:"entity_id"`
}

// EvidenceEntityLink is an externally-owned association between evidence and
// a tenant asset; read-only to the pipeline.
type EvidenceEntityLink struct {
	TenantID   string `json:"tenant_id"`
	EvidenceID string `json:"evidence_id"`
	EntityID   string `json:"entity_id"`
}

// AuditEvent is one append-only audit record.
type AuditEvent struct {
	ID         string         `json:"id"`
	TenantID   string         `json:"tenant_id"`
	Action     string         `json:"action"`
	ActorID    string         `json:"actor_id,omitempty"`
	TargetType string         `json:"target_type"`
	TargetID   string         `json:"target_id"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}
