// Package main provides the entry point for the SignalForge worker: the
// process that drains enrichment and signal-evaluation jobs and exposes the
// admin API for health, metrics and manual job submission.
package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	json "github.com/goccy/go-json"
	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/dtrinh/signalforge/internal/audit"
	"github.com/dtrinh/signalforge/internal/config"
	"github.com/dtrinh/signalforge/internal/enrich"
	"github.com/dtrinh/signalforge/internal/fetch"
	"github.com/dtrinh/signalforge/internal/jobs"
	"github.com/dtrinh/signalforge/internal/observability"
	sig "github.com/dtrinh/signalforge/internal/signal"
	"github.com/dtrinh/signalforge/internal/store"
)

// Version information (injected at build time via ldflags)
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildTime = "unknown"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "Path to config file")
	showVersion := flag.Bool("version", false, "Show version information")
	flag.Parse()

	if *showVersion {
		fmt.Printf("SignalForge %s (commit: %s, built: %s)\n", Version, GitCommit, BuildTime)
		os.Exit(0)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	cfg.Telemetry.ServiceVersion = Version

	telemetry, err := observability.New(cfg.Telemetry)
	if err != nil {
		fmt.Fprintf(os.Stderr, "telemetry: %v\n", err)
		os.Exit(1)
	}
	logger := telemetry.Logger()
	metrics := telemetry.PipelineMetrics()

	logger.Info("starting signalforge worker",
		zap.String("version", Version),
		zap.String("config", *configPath))

	dsn, err := cfg.Postgres.DSN()
	if err != nil {
		logger.Fatal("database config", zap.Error(err))
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		logger.Fatal("opening database", zap.Error(err))
	}
	db.SetMaxOpenConns(cfg.Postgres.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Postgres.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.Postgres.ConnMaxLifetime)
	defer db.Close()

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password(),
		DB:       cfg.Redis.DB,
		PoolSize: cfg.Redis.PoolSize,
	})
	defer redisClient.Close()

	pg := store.New(db)
	recorder := audit.NewRecorder(pg, logger,
		audit.WithFailureHook(metrics.CountAuditFailure))

	fetchOpts := []fetch.Option{}
	if cfg.Fetch.HostLimiter.Enabled {
		fetchOpts = append(fetchOpts,
			fetch.WithLimiter(fetch.NewHostLimiter(redisClient, cfg.Fetch.HostLimiter, logger)))
	}
	fetcher := fetch.New(logger, fetchOpts...)

	enricher := enrich.New(pg, fetcher, recorder, logger,
		enrich.WithMetrics(metrics),
		enrich.WithFetchOptions(cfg.Fetch.Options()))
	evaluator := sig.New(pg, recorder, logger,
		sig.WithMetrics(metrics))

	queue := jobs.New(redisClient, jobs.Config{
		EnrichQueue: cfg.Queue.EnrichQueue,
		SignalQueue: cfg.Queue.SignalQueue,
		Concurrency: cfg.Queue.Concurrency,
		JobTimeout:  cfg.Queue.JobTimeout,
		PollTimeout: cfg.Queue.PollTimeout,
	}, enricher, evaluator, logger,
		jobs.WithMetrics(metrics),
		jobs.WithTracer(telemetry.Tracer()))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	consumerDone := make(chan struct{})
	go func() {
		defer close(consumerDone)
		queue.Run(ctx)
	}()

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/health", handleHealth)
	r.Get("/ready", handleReady(db, redisClient))
	r.Method(http.MethodGet, "/metrics", telemetry.MetricsHandler())

	r.Route("/api/v1/jobs", func(r chi.Router) {
		r.Post("/enrich", handleEnqueueEnrich(queue, logger))
		r.Post("/signal", handleEnqueueSignal(queue, logger))
	})

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("admin server listening", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	received := <-sigChan
	logger.Info("shutting down", zap.String("signal", received.String()))
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("server shutdown", zap.Error(err))
	}
	select {
	case <-consumerDone:
	case <-shutdownCtx.Done():
		logger.Warn("consumer did not drain in time")
	}
	if err := telemetry.Shutdown(shutdownCtx); err != nil {
		logger.Warn("telemetry shutdown", zap.Error(err))
	}

	logger.Info("worker stopped")
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy", "version": Version})
}

// handleReady checks the worker's backing stores.
func handleReady(db *sql.DB, redisClient *redis.Client) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		if err := db.PingContext(ctx); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded", "database": err.Error()})
			return
		}
		if err := redisClient.Ping(ctx).Err(); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded", "redis": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	}
}

func handleEnqueueEnrich(queue *jobs.Queue, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var job jobs.EnrichJob
		if err := json.NewDecoder(r.Body).Decode(&job); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
			return
		}
		if err := queue.EnqueueEnrich(r.Context(), job); err != nil {
			logger.Warn("enqueue enrich failed", zap.Error(err))
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "queued"})
	}
}

func handleEnqueueSignal(queue *jobs.Queue, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var job jobs.SignalJob
		if err := json.NewDecoder(r.Body).Decode(&job); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
			return
		}
		if err := queue.EnqueueSignal(r.Context(), job); err != nil {
			logger.Warn("enqueue signal failed", zap.Error(err))
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "queued"})
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
