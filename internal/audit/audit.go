// Package audit records pipeline actions best-effort: a failed audit write
// is logged and swallowed, never failing the operation that produced it.
// The wrapper keeps that non-fatal contract visible at every call site.
package audit

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/dtrinh/signalforge/internal/model"
)

// Writer persists audit events.
type Writer interface {
	InsertAuditEvent(ctx context.Context, event model.AuditEvent) error
}

// Recorder wraps a Writer with the best-effort contract.
type Recorder struct {
	writer    Writer
	logger    *zap.Logger
	onFailure func()
}

// Option customizes a Recorder.
type Option func(*Recorder)

// WithFailureHook registers a callback invoked on each failed write,
// typically a metrics increment.
func WithFailureHook(hook func()) Option {
	return func(r *Recorder) { r.onFailure = hook }
}

// NewRecorder creates a Recorder. A nil writer disables persistence (every
// record becomes a log line only).
func NewRecorder(writer Writer, logger *zap.Logger, opts ...Option) *Recorder {
	r := &Recorder{writer: writer, logger: logger}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Record appends one audit event, filling in id and timestamp. Failures are
// logged and swallowed.
func (r *Recorder) Record(ctx context.Context, event model.AuditEvent) {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}

	if r.writer == nil {
		r.logger.Info("audit event (no writer)",
			zap.String("tenant", event.TenantID),
			zap.String("action", event.Action),
			zap.String("target", event.TargetID))
		return
	}

	if err := r.writer.InsertAuditEvent(ctx, event); err != nil {
		r.logger.Warn("audit write failed",
			zap.String("tenant", event.TenantID),
			zap.String("action", event.Action),
			zap.String("target", event.TargetID),
			zap.Error(err))
		if r.onFailure != nil {
			r.onFailure()
		}
	}
}
