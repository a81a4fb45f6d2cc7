package jobs

import (
	"context"
	"errors"
	"testing"

	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"github.com/dtrinh/signalforge/internal/enrich"
)

type fakeEnricher struct {
	calls []EnrichJob
	err   error
}

func (f *fakeEnricher) Enrich(ctx context.Context, tenantID, evidenceID string, opts enrich.Options) error {
	f.calls = append(f.calls, EnrichJob{
		TenantID:    tenantID,
		EvidenceID:  evidenceID,
		ActorUserID: opts.ActorUserID,
		Force:       opts.Force,
	})
	return f.err
}

type fakeEvaluator struct {
	calls []SignalJob
	err   error
}

func (f *fakeEvaluator) Evaluate(ctx context.Context, tenantID, evidenceID string) error {
	f.calls = append(f.calls, SignalJob{TenantID: tenantID, EvidenceID: evidenceID})
	return f.err
}

func testSpan() (context.Context, trace.Span) {
	return noop.NewTracerProvider().Tracer("test").Start(context.Background(), "job")
}

// =============================================================================
// Dispatch Tests
// =============================================================================

// TestDispatch_SignalJob verifies signal payloads reach the evaluator.
func TestDispatch_SignalJob(t *testing.T) {
	eval := &fakeEvaluator{}
	q := New(nil, DefaultConfig(), nil, eval, zap.NewNop())

	ctx, span := testSpan()

	payload := `{"tenantId":"t1","evidenceId":"e1"}`
	if err := q.dispatch(ctx, KindSignal, payload, span); err != nil {
		t.Fatalf("dispatch failed: %v", err)
	}
	if len(eval.calls) != 1 || eval.calls[0].TenantID != "t1" || eval.calls[0].EvidenceID != "e1" {
		t.Errorf("evaluator not invoked correctly: %+v", eval.calls)
	}
}

// TestDispatch_EnrichJobCarriesOptions verifies actor and force flags survive
// the payload round trip.
func TestDispatch_EnrichJobCarriesOptions(t *testing.T) {
	enricher := &fakeEnricher{}
	q := New(nil, DefaultConfig(), enricher, &fakeEvaluator{}, zap.NewNop())

	ctx, span := testSpan()

	payload := `{"tenantId":"t1","evidenceId":"e1","actorUserId":"u1","force":true}`
	// Enqueueing the follow-up signal job hits redis; a nil client panics, so
	// the enricher error path is used to stop before the chain.
	enricher.err = errors.New("halt")
	if err := q.dispatch(ctx, KindEnrich, payload, span); err == nil {
		t.Fatal("expected enricher error to propagate")
	}
	if len(enricher.calls) != 1 {
		t.Fatalf("expected one enrich call, got %d", len(enricher.calls))
	}
	got := enricher.calls[0]
	if got.ActorUserID != "u1" || !got.Force {
		t.Errorf("options lost in transit: %+v", got)
	}
}

// TestDispatch_MalformedPayload verifies undecodable payloads error without
// invoking handlers.
func TestDispatch_MalformedPayload(t *testing.T) {
	enricher := &fakeEnricher{}
	q := New(nil, DefaultConfig(), enricher, &fakeEvaluator{}, zap.NewNop())

	ctx, span := testSpan()

	if err := q.dispatch(ctx, KindEnrich, "{not json", span); err == nil {
		t.Fatal("expected decode error")
	}
	if len(enricher.calls) != 0 {
		t.Error("handler should not run on decode failure")
	}
}

// TestDispatch_UnknownKind verifies unrecognized kinds are rejected.
func TestDispatch_UnknownKind(t *testing.T) {
	q := New(nil, DefaultConfig(), &fakeEnricher{}, &fakeEvaluator{}, zap.NewNop())

	ctx, span := testSpan()

	if err := q.dispatch(ctx, "reticulate", "{}", span); err == nil {
		t.Fatal("expected unknown-kind error")
	}
}

// TestEnqueueValidation verifies identifier checks happen before any queue
// interaction.
func TestEnqueueValidation(t *testing.T) {
	q := New(nil, DefaultConfig(), nil, nil, zap.NewNop())

	if err := q.EnqueueEnrich(context.Background(), EnrichJob{TenantID: "t1"}); err == nil {
		t.Error("expected validation error for missing evidenceId")
	}
	if err := q.EnqueueSignal(context.Background(), SignalJob{EvidenceID: "e1"}); err == nil {
		t.Error("expected validation error for missing tenantId")
	}
}
