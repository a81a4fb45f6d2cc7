// Package jobs provides the redis-backed work queue connecting evidence
// ingestion to the enrichment and signal pipelines. Producers push JSON
// payloads with LPUSH; the consumer pool drains them with BRPOP so a job is
// delivered to exactly one worker.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	json "github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"github.com/dtrinh/signalforge/internal/enrich"
	"github.com/dtrinh/signalforge/internal/observability"
)

// Job kinds, used as queue discriminators and metric labels.
const (
	KindEnrich = "enrich"
	KindSignal = "signal"
)

// EnrichJob asks the pipeline to enrich one evidence item.
type EnrichJob struct {
	TenantID    string `json:"tenantId"`
	EvidenceID  string `json:"evidenceId"`
	ActorUserID string `json:"actorUserId,omitempty"`
	Force       bool   `json:"force,omitempty"`
}

// SignalJob asks the pipeline to run signal evaluation for one evidence item.
type SignalJob struct {
	TenantID   string `json:"tenantId"`
	EvidenceID string `json:"evidenceId"`
}

// Enricher runs the enrichment workflow.
type Enricher interface {
	Enrich(ctx context.Context, tenantID, evidenceID string, opts enrich.Options) error
}

// Evaluator runs the signal evaluation workflow.
type Evaluator interface {
	Evaluate(ctx context.Context, tenantID, evidenceID string) error
}

// Config holds queue names and worker settings.
type Config struct {
	EnrichQueue string
	SignalQueue string
	Concurrency int
	JobTimeout  time.Duration
	PollTimeout time.Duration
}

// DefaultConfig returns queue defaults.
func DefaultConfig() Config {
	return Config{
		EnrichQueue: "signalforge:jobs:enrich",
		SignalQueue: "signalforge:jobs:signal",
		Concurrency: 4,
		JobTimeout:  60 * time.Second,
		PollTimeout: 5 * time.Second,
	}
}

// Queue produces and consumes pipeline jobs.
type Queue struct {
	redis    *redis.Client
	config   Config
	logger   *zap.Logger
	metrics  *observability.Metrics
	tracer   trace.Tracer
	enricher Enricher
	eval     Evaluator
}

// Option customizes a Queue.
type Option func(*Queue)

// WithMetrics attaches pipeline metrics.
func WithMetrics(m *observability.Metrics) Option {
	return func(q *Queue) { q.metrics = m }
}

// WithTracer attaches a tracer for per-job spans.
func WithTracer(tracer trace.Tracer) Option {
	return func(q *Queue) { q.tracer = tracer }
}

// New creates a Queue. The enricher and evaluator may be nil on
// producer-only instances.
func New(redisClient *redis.Client, cfg Config, enricher Enricher, eval Evaluator, logger *zap.Logger, opts ...Option) *Queue {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = 60 * time.Second
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = 5 * time.Second
	}
	q := &Queue{
		redis:    redisClient,
		config:   cfg,
		logger:   logger,
		tracer:   noop.NewTracerProvider().Tracer("jobs"),
		enricher: enricher,
		eval:     eval,
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// EnqueueEnrich pushes an enrichment job.
func (q *Queue) EnqueueEnrich(ctx context.Context, job EnrichJob) error {
	if job.TenantID == "" || job.EvidenceID == "" {
		return errors.New("tenantId and evidenceId are required")
	}
	return q.push(ctx, q.config.EnrichQueue, job)
}

// EnqueueSignal pushes a signal evaluation job.
func (q *Queue) EnqueueSignal(ctx context.Context, job SignalJob) error {
	if job.TenantID == "" || job.EvidenceID == "" {
		return errors.New("tenantId and evidenceId are required")
	}
	return q.push(ctx, q.config.SignalQueue, job)
}

func (q *Queue) push(ctx context.Context, queue string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshaling job: %w", err)
	}
	if err := q.redis.LPush(ctx, queue, data).Err(); err != nil {
		return fmt.Errorf("enqueueing job: %w", err)
	}
	return nil
}

// Run starts the worker pool and blocks until ctx is cancelled.
func (q *Queue) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for i := 0; i < q.config.Concurrency; i++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			q.consume(ctx, worker)
		}(i)
	}
	wg.Wait()
}

func (q *Queue) consume(ctx context.Context, worker int) {
	logger := q.logger.With(zap.Int("worker", worker))
	queues := []string{q.config.EnrichQueue, q.config.SignalQueue}

	for {
		if ctx.Err() != nil {
			return
		}

		result, err := q.redis.BRPop(ctx, q.config.PollTimeout, queues...).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			if ctx.Err() != nil {
				return
			}
			logger.Warn("queue poll failed", zap.Error(err))
			// Avoid a tight loop while redis is unreachable.
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}
		if len(result) != 2 {
			continue
		}

		queue, payload := result[0], result[1]
		switch queue {
		case q.config.EnrichQueue:
			q.handle(ctx, logger, KindEnrich, payload)
		case q.config.SignalQueue:
			q.handle(ctx, logger, KindSignal, payload)
		}
	}
}

// handle dispatches one payload. Job failures are logged and counted; the
// consumer keeps draining.
func (q *Queue) handle(ctx context.Context, logger *zap.Logger, kind, payload string) {
	jobCtx, cancel := context.WithTimeout(ctx, q.config.JobTimeout)
	defer cancel()

	jobCtx, span := q.tracer.Start(jobCtx, "jobs."+kind)
	defer span.End()

	start := time.Now()
	err := q.dispatch(jobCtx, kind, payload, span)
	status := "ok"
	if err != nil {
		status = "error"
		logger.Error("job failed",
			zap.String("kind", kind),
			zap.Error(err))
	}
	q.metrics.CountJob(kind, status, time.Since(start))
}

func (q *Queue) dispatch(ctx context.Context, kind, payload string, span trace.Span) error {
	switch kind {
	case KindEnrich:
		var job EnrichJob
		if err := json.Unmarshal([]byte(payload), &job); err != nil {
			return fmt.Errorf("decoding enrich job: %w", err)
		}
		span.SetAttributes(
			attribute.String("tenant.id", job.TenantID),
			attribute.String("evidence.id", job.EvidenceID),
		)
		if q.enricher == nil {
			return errors.New("no enricher configured")
		}
		if err := q.enricher.Enrich(ctx, job.TenantID, job.EvidenceID, enrich.Options{
			Force:       job.Force,
			ActorUserID: job.ActorUserID,
		}); err != nil {
			return err
		}
		// Fresh enrichment feeds straight into evaluation.
		return q.EnqueueSignal(ctx, SignalJob{TenantID: job.TenantID, EvidenceID: job.EvidenceID})

	case KindSignal:
		var job SignalJob
		if err := json.Unmarshal([]byte(payload), &job); err != nil {
			return fmt.Errorf("decoding signal job: %w", err)
		}
		span.SetAttributes(
			attribute.String("tenant.id", job.TenantID),
			attribute.String("evidence.id", job.EvidenceID),
		)
		if q.eval == nil {
			return errors.New("no evaluator configured")
		}
		return q.eval.Evaluate(ctx, job.TenantID, job.EvidenceID)

	default:
		return fmt.Errorf("unknown job kind %q", kind)
	}
}
