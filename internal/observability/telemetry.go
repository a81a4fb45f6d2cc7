// Package observability provides logging, metrics, and tracing for the
// pipeline worker.
package observability

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/dtrinh/signalforge/internal/model"
)

// Telemetry provides unified observability for the worker.
type Telemetry struct {
	logger       *zap.Logger
	tracer       trace.Tracer
	metrics      *Metrics
	registry     *prometheus.Registry
	config       Config
	shutdownOnce sync.Once
	shutdownFns  []func(context.Context) error
}

// Config configures telemetry.
type Config struct {
	ServiceName    string `yaml:"service_name"`
	ServiceVersion string `yaml:"service_version"`
	Environment    string `yaml:"environment"`

	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"` // json, console

	TracingEnabled bool    `yaml:"tracing_enabled"`
	OTLPEndpoint   string  `yaml:"otlp_endpoint"`
	SamplingRate   float64 `yaml:"sampling_rate"`
}

// Metrics holds the pipeline's Prometheus metrics. The helper methods are
// nil-safe so components can run without metrics in tests.
type Metrics struct {
	EvidenceEnriched    prometheus.Counter
	IndicatorsExtracted *prometheus.CounterVec
	FetchesTotal        *prometheus.CounterVec
	FetchDuration       prometheus.Histogram
	SignalsCreated      *prometheus.CounterVec
	SignalEvaluations   *prometheus.CounterVec
	JobsProcessed       *prometheus.CounterVec
	JobDuration         *prometheus.HistogramVec
	AuditWriteFailures  prometheus.Counter
}

// New creates a Telemetry instance.
func New(cfg Config) (*Telemetry, error) {
	t := &Telemetry{
		config:   cfg,
		registry: prometheus.NewRegistry(),
	}

	logger, err := t.initLogger()
	if err != nil {
		return nil, err
	}
	t.logger = logger

	if cfg.TracingEnabled {
		if err := t.initTracer(); err != nil {
			logger.Warn("failed to initialize tracer", zap.Error(err))
		}
	}
	t.tracer = otel.Tracer(cfg.ServiceName)

	t.metrics = NewMetrics(t.registry)

	return t, nil
}

func (t *Telemetry) initLogger() (*zap.Logger, error) {
	var config zap.Config

	if t.config.LogFormat == "console" {
		config = zap.NewDevelopmentConfig()
		config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		config = zap.NewProductionConfig()
		config.EncoderConfig.TimeKey = "timestamp"
		config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}

	switch t.config.LogLevel {
	case "debug":
		config.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	case "warn":
		config.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	case "error":
		config.Level = zap.NewAtomicLevelAt(zap.ErrorLevel)
	default:
		config.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}

	config.InitialFields = map[string]interface{}{
		"service":     t.config.ServiceName,
		"version":     t.config.ServiceVersion,
		"environment": t.config.Environment,
	}

	return config.Build()
}

func (t *Telemetry) initTracer() error {
	ctx := context.Background()

	exporter, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(t.config.OTLPEndpoint),
		otlptracegrpc.WithInsecure(),
	)
	if err != nil {
		return err
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(t.config.ServiceName),
			semconv.ServiceVersion(t.config.ServiceVersion),
		),
	)
	if err != nil {
		return err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.TraceIDRatioBased(t.config.SamplingRate)),
	)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	t.shutdownFns = append(t.shutdownFns, tp.Shutdown)

	return nil
}

// NewMetrics registers the pipeline metrics against the given registerer.
// Tests pass a fresh prometheus.NewRegistry to avoid duplicate registration.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	const namespace = "signalforge"
	factory := promauto.With(reg)

	return &Metrics{
		EvidenceEnriched: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "evidence_enriched_total",
			Help:      "Evidence items enriched",
		}),
		IndicatorsExtracted: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "indicators_extracted_total",
			Help:      "Indicators extracted by kind",
		}, []string{"kind"}),
		FetchesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fetches_total",
			Help:      "Outbound source fetches by outcome",
		}, []string{"outcome"}),
		FetchDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "fetch_duration_seconds",
			Help:      "Outbound fetch duration",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10),
		}),
		SignalsCreated: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "signals_created_total",
			Help:      "Signals created by severity",
		}, []string{"severity"}),
		SignalEvaluations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "signal_evaluations_total",
			Help:      "Signal evaluations by outcome",
		}, []string{"outcome"}),
		JobsProcessed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_processed_total",
			Help:      "Queue jobs processed by kind and status",
		}, []string{"kind", "status"}),
		JobDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "job_duration_seconds",
			Help:      "Job handling duration by kind",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
		}, []string{"kind"}),
		AuditWriteFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audit_write_failures_total",
			Help:      "Best-effort audit writes that failed",
		}),
	}
}

// ObserveFetch records one outbound fetch.
func (m *Metrics) ObserveFetch(ok bool, duration time.Duration) {
	if m == nil {
		return
	}
	outcome := "failure"
	if ok {
		outcome = "success"
	}
	m.FetchesTotal.WithLabelValues(outcome).Inc()
	m.FetchDuration.Observe(duration.Seconds())
}

// CountEnrichment records one completed enrichment and its indicator kinds.
func (m *Metrics) CountEnrichment(indicators []model.Indicator) {
	if m == nil {
		return
	}
	m.EvidenceEnriched.Inc()
	for _, ind := range indicators {
		m.IndicatorsExtracted.WithLabelValues(string(ind.Kind)).Inc()
	}
}

// CountSignal records one created signal.
func (m *Metrics) CountSignal(severity int) {
	if m == nil {
		return
	}
	m.SignalsCreated.WithLabelValues(severityLabel(severity)).Inc()
}

// CountEvaluation records one signal evaluation outcome.
func (m *Metrics) CountEvaluation(outcome string) {
	if m == nil {
		return
	}
	m.SignalEvaluations.WithLabelValues(outcome).Inc()
}

// CountJob records one processed job.
func (m *Metrics) CountJob(kind, status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.JobsProcessed.WithLabelValues(kind, status).Inc()
	m.JobDuration.WithLabelValues(kind).Observe(duration.Seconds())
}

// CountAuditFailure records one failed best-effort audit write.
func (m *Metrics) CountAuditFailure() {
	if m == nil {
		return
	}
	m.AuditWriteFailures.Inc()
}

func severityLabel(severity int) string {
	switch severity {
	case 1:
		return "1"
	case 2:
		return "2"
	case 3:
		return "3"
	case 4:
		return "4"
	case 5:
		return "5"
	default:
		return "unknown"
	}
}

// Logger returns the logger.
func (t *Telemetry) Logger() *zap.Logger {
	return t.logger
}

// Tracer returns the tracer.
func (t *Telemetry) Tracer() trace.Tracer {
	return t.tracer
}

// PipelineMetrics returns the pipeline metrics.
func (t *Telemetry) PipelineMetrics() *Metrics {
	return t.metrics
}

// MetricsHandler serves the Prometheus scrape endpoint.
func (t *Telemetry) MetricsHandler() http.Handler {
	return promhttp.HandlerFor(t.registry, promhttp.HandlerOpts{})
}

// Shutdown flushes traces and the logger.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	var err error
	t.shutdownOnce.Do(func() {
		for _, fn := range t.shutdownFns {
			if e := fn(ctx); e != nil {
				err = e
			}
		}
		_ = t.logger.Sync()
	})
	return err
}
