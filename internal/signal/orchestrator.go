// Package signal runs the per-evidence signal evaluation workflow: it loads
// the evidence and its linked tenant assets, scores them, and raises at most
// one signal per evidence item.
package signal

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/dtrinh/signalforge/internal/audit"
	"github.com/dtrinh/signalforge/internal/model"
	"github.com/dtrinh/signalforge/internal/observability"
	"github.com/dtrinh/signalforge/internal/scoring"
)

// MinScore is the elevation threshold: evidence scoring below it is tracked
// but raises no signal.
const MinScore = 20

// Store is the slice of the platform store signal evaluation needs.
type Store interface {
	GetEvidence(ctx context.Context, tenantID, evidenceID string) (*model.EvidenceItem, error)
	ListEvidenceEntityLinks(ctx context.Context, tenantID, evidenceID string) ([]string, error)
	GetEntities(ctx context.Context, tenantID string, ids []string) ([]*model.Entity, error)
	HasSignalEvidenceLink(ctx context.Context, tenantID, evidenceID string) (bool, error)
	CreateSignal(ctx context.Context, sig *model.Signal, evidenceID string, entityIDs []string) error
}

// Orchestrator drives signal evaluation.
type Orchestrator struct {
	store   Store
	audit   *audit.Recorder
	logger  *zap.Logger
	metrics *observability.Metrics
}

// OrchestratorOption customizes an Orchestrator.
type OrchestratorOption func(*Orchestrator)

// WithMetrics attaches pipeline metrics.
func WithMetrics(m *observability.Metrics) OrchestratorOption {
	return func(o *Orchestrator) { o.metrics = m }
}

// New creates an Orchestrator.
func New(store Store, recorder *audit.Recorder, logger *zap.Logger, opts ...OrchestratorOption) *Orchestrator {
	o := &Orchestrator{
		store:  store,
		audit:  recorder,
		logger: logger,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Evaluate scores one evidence item and conditionally raises a signal.
// Absent evidence, an existing signal, and not-yet-migrated signal tables
// are silent no-ops; other store errors propagate.
func (o *Orchestrator) Evaluate(ctx context.Context, tenantID, evidenceID string) error {
	logger := o.logger.With(
		zap.String("tenant", tenantID),
		zap.String("evidence", evidenceID),
	)

	exists, err := o.store.HasSignalEvidenceLink(ctx, tenantID, evidenceID)
	if err != nil {
		if isMissingTableErr(err) {
			logger.Debug("signal tables not migrated, skipping evaluation")
			o.metrics.CountEvaluation("skipped")
			return nil
		}
		return err
	}
	if exists {
		logger.Debug("signal already exists, skipping evaluation")
		o.metrics.CountEvaluation("duplicate")
		return nil
	}

	ev, err := o.store.GetEvidence(ctx, tenantID, evidenceID)
	if err != nil {
		return err
	}
	if ev == nil {
		logger.Debug("evidence absent, skipping evaluation")
		o.metrics.CountEvaluation("missing")
		return nil
	}

	entityIDs, err := o.store.ListEvidenceEntityLinks(ctx, tenantID, evidenceID)
	if err != nil {
		return err
	}
	entities, err := o.store.GetEntities(ctx, tenantID, entityIDs)
	if err != nil {
		return err
	}

	var evidencePoint *model.GeoPoint
	if point, ok := model.GeoFromMetadata(ev.Metadata); ok {
		evidencePoint = &point
	}

	result := scoring.Score(scoring.Input{
		Evidence:      ev,
		Entities:      entities,
		EvidencePoint: evidencePoint,
	})

	if result.Score < MinScore {
		logger.Debug("score below threshold, no signal",
			zap.Int("score", result.Score))
		o.metrics.CountEvaluation("below_threshold")
		return nil
	}

	sig := &model.Signal{
		ID:        uuid.NewString(),
		TenantID:  tenantID,
		Kind:      "osint.evidence",
		Title:     signalTitle(ev),
		Severity:  result.Severity,
		Score:     result.Score,
		Status:    model.StatusOpen,
		Rationale: result.Reasons,
		CreatedAt: time.Now().UTC(),
	}

	linkedIDs := make([]string, 0, len(entities))
	for _, ent := range entities {
		linkedIDs = append(linkedIDs, ent.ID)
	}

	if err := o.store.CreateSignal(ctx, sig, evidenceID, linkedIDs); err != nil {
		if isMissingTableErr(err) {
			logger.Debug("signal tables not migrated, dropping signal")
			o.metrics.CountEvaluation("skipped")
			return nil
		}
		return err
	}

	o.metrics.CountEvaluation("created")
	o.metrics.CountSignal(result.Severity)
	logger.Info("signal created",
		zap.String("signal", sig.ID),
		zap.Int("score", result.Score),
		zap.Int("severity", result.Severity))

	o.audit.Record(ctx, model.AuditEvent{
		TenantID:   tenantID,
		Action:     "signal.created",
		TargetType: "signal",
		TargetID:   sig.ID,
		Metadata: map[string]any{
			"evidenceId": evidenceID,
			"score":      result.Score,
			"severity":   result.Severity,
			"reasons":    result.Reasons,
		},
	})

	return nil
}

// signalTitle derives a display title for the signal from the evidence.
func signalTitle(ev *model.EvidenceItem) string {
	title := strings.TrimSpace(ev.Title)
	if title == "" {
		title = strings.TrimSpace(ev.Summary)
	}
	if title == "" {
		title = "OSINT evidence " + ev.ID
	}
	const maxTitle = 200
	if len(title) > maxTitle {
		title = title[:maxTitle]
	}
	return title
}

// isMissingTableErr classifies errors caused by not-yet-migrated signal
// tables: the Postgres undefined_table code, or a message carrying the
// standard "does not exist" phrasing from other backends.
func isMissingTableErr(err error) bool {
	if err == nil {
		return false
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && string(pqErr.Code) == "42P01" {
		return true
	}
	return strings.Contains(err.Error(), "does not exist")
}
