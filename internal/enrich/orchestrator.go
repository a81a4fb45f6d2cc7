// Package enrich runs the per-evidence enrichment workflow: cooldown check,
// safe fetch of the source URI, corpus assembly, indicator extraction, and
// persistence of enrichment metadata plus the replaced indicator set.
package enrich

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/dtrinh/signalforge/internal/audit"
	"github.com/dtrinh/signalforge/internal/extract"
	"github.com/dtrinh/signalforge/internal/fetch"
	"github.com/dtrinh/signalforge/internal/model"
	"github.com/dtrinh/signalforge/internal/observability"
	"github.com/dtrinh/signalforge/internal/sanitize"
)

// Cooldown is the minimum interval between enrichment runs for one evidence
// item unless forced.
const Cooldown = 10 * time.Minute

// Store is the slice of the platform store enrichment needs.
type Store interface {
	GetEvidence(ctx context.Context, tenantID, evidenceID string) (*model.EvidenceItem, error)
	MergeEvidenceEnrichment(ctx context.Context, tenantID, evidenceID string, enrichment map[string]any) error
	ReplaceIndicators(ctx context.Context, tenantID, evidenceID string, indicators []model.Indicator) error
}

// SourceFetcher performs the policy-checked outbound fetch.
type SourceFetcher interface {
	Fetch(ctx context.Context, rawURL string, opts fetch.Options) fetch.Outcome
}

// Options modifies one enrichment run.
type Options struct {
	Force       bool
	ActorUserID string
}

// Orchestrator drives the enrichment workflow.
type Orchestrator struct {
	store     Store
	fetcher   SourceFetcher
	fetchOpts fetch.Options
	audit     *audit.Recorder
	logger    *zap.Logger
	metrics   *observability.Metrics
	now       func() time.Time
}

// OrchestratorOption customizes an Orchestrator.
type OrchestratorOption func(*Orchestrator)

// WithMetrics attaches pipeline metrics.
func WithMetrics(m *observability.Metrics) OrchestratorOption {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithClock overrides the time source (tests).
func WithClock(now func() time.Time) OrchestratorOption {
	return func(o *Orchestrator) { o.now = now }
}

// WithFetchOptions overrides the default fetch budget.
func WithFetchOptions(opts fetch.Options) OrchestratorOption {
	return func(o *Orchestrator) { o.fetchOpts = opts }
}

// New creates an Orchestrator.
func New(store Store, fetcher SourceFetcher, recorder *audit.Recorder, logger *zap.Logger, opts ...OrchestratorOption) *Orchestrator {
	o := &Orchestrator{
		store:     store,
		fetcher:   fetcher,
		fetchOpts: fetch.DefaultOptions(),
		audit:     recorder,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Enrich runs the workflow for one evidence item. Absent evidence and a
// still-cooling item are silent no-ops; store failures propagate.
func (o *Orchestrator) Enrich(ctx context.Context, tenantID, evidenceID string, opts Options) error {
	logger := o.logger.With(
		zap.String("tenant", tenantID),
		zap.String("evidence", evidenceID),
	)

	ev, err := o.store.GetEvidence(ctx, tenantID, evidenceID)
	if err != nil {
		return err
	}
	if ev == nil {
		logger.Debug("evidence absent, skipping enrichment")
		return nil
	}

	if !opts.Force && o.withinCooldown(ev) {
		logger.Debug("enrichment cooldown active, skipping")
		return nil
	}

	enrichment := map[string]any{
		"lastRunAt": o.now().Format(time.RFC3339),
	}

	var snapshot, snapshotTitle string
	if isHTTP(ev.SourceURI) {
		// Wall clock, not the injectable one: this measures real latency.
		start := time.Now()
		outcome := o.fetcher.Fetch(ctx, ev.SourceURI, o.fetchOpts)
		o.metrics.ObserveFetch(outcome.OK, time.Since(start))

		enrichment["fetch"] = fetchRecord(outcome)
		if outcome.OK {
			snapshot = outcome.BodyText
			snapshotTitle = outcome.ExtractedTitle
		} else {
			logger.Info("source fetch failed", zap.String("reason", outcome.Error))
		}
	}

	corpus := buildCorpus(ev, snapshot, snapshotTitle)

	var indicators []model.Indicator
	for _, entry := range corpus {
		indicators = append(indicators, extract.Extract(entry.text, entry.provenance, tenantID, evidenceID)...)
	}
	indicators = dedupe(indicators)

	excerpts := sanitize.BuildExcerpts(sanitize.ExcerptInput{
		Title:    ev.Title,
		Summary:  ev.Summary,
		Content:  ev.ContentText,
		Snapshot: snapshot,
	})

	enrichment["excerpts"] = map[string]any{
		"llm":      excerpts.LLM,
		"snapshot": excerpts.Snapshot,
	}
	enrichment["indicators"] = map[string]any{
		"total":  len(indicators),
		"byKind": extract.CountByKind(indicators),
	}

	if err := o.store.MergeEvidenceEnrichment(ctx, tenantID, evidenceID, enrichment); err != nil {
		return err
	}
	if err := o.store.ReplaceIndicators(ctx, tenantID, evidenceID, indicators); err != nil {
		return err
	}

	o.metrics.CountEnrichment(indicators)
	logger.Info("evidence enriched", zap.Int("indicators", len(indicators)))

	o.audit.Record(ctx, model.AuditEvent{
		TenantID:   tenantID,
		Action:     "evidence.enriched",
		ActorID:    opts.ActorUserID,
		TargetType: "evidence",
		TargetID:   evidenceID,
		Metadata: map[string]any{
			"indicators": len(indicators),
			"forced":     opts.Force,
		},
	})

	return nil
}

// withinCooldown reads enrichment.lastRunAt from evidence metadata.
func (o *Orchestrator) withinCooldown(ev *model.EvidenceItem) bool {
	prior, found := ev.Metadata["enrichment"]
	if !found {
		return false
	}
	obj, isMap := prior.(map[string]any)
	if !isMap {
		return false
	}
	raw, isString := obj["lastRunAt"].(string)
	if !isString {
		return false
	}
	lastRun, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return false
	}
	return o.now().Sub(lastRun) < Cooldown
}

type corpusEntry struct {
	text       string
	provenance string
}

// buildCorpus assembles the text fields extraction runs over, each tagged
// with its field name as provenance.
func buildCorpus(ev *model.EvidenceItem, snapshot, snapshotTitle string) []corpusEntry {
	var corpus []corpusEntry
	add := func(text, provenance string) {
		if strings.TrimSpace(text) != "" {
			corpus = append(corpus, corpusEntry{text: text, provenance: provenance})
		}
	}
	add(ev.SourceURI, "sourceUri")
	add(ev.Title, "title")
	add(ev.Summary, "summary")
	add(ev.ContentText, "contentText")
	add(snapshotTitle, "fetchedTitle")
	add(snapshot, "fetchedSnapshot")
	return corpus
}

// dedupe drops repeats across corpus entries; within one entry extraction
// already de-duplicates. First provenance wins.
func dedupe(indicators []model.Indicator) []model.Indicator {
	seen := make(map[string]bool, len(indicators))
	var out []model.Indicator
	for _, ind := range indicators {
		key := string(ind.Kind) + "|" + ind.NormalizedValue
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, ind)
	}
	return out
}

// fetchRecord converts an outcome to the structured metadata stored under
// enrichment.fetch. Body text is deliberately excluded; the bounded excerpt
// carries the safe rendition.
func fetchRecord(outcome fetch.Outcome) map[string]any {
	record := map[string]any{
		"ok": outcome.OK,
	}
	if outcome.FinalURL != "" {
		record["finalUrl"] = outcome.FinalURL
	}
	if outcome.Status != 0 {
		record["status"] = outcome.Status
	}
	if outcome.OK {
		record["contentType"] = outcome.ContentType
		record["contentLength"] = outcome.ContentLength
		record["sha256"] = outcome.SHA256
		if outcome.ExtractedTitle != "" {
			record["extractedTitle"] = outcome.ExtractedTitle
		}
	} else {
		record["error"] = outcome.Error
	}
	return record
}

func isHTTP(uri string) bool {
	return strings.HasPrefix(uri, "http://") || strings.HasPrefix(uri, "https://")
}
