// Package server builds the application's dependency graph and runs it.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/storage"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/site-audit/internal/api"
	"github.com/JakeFAU/site-audit/internal/audit"
	"github.com/JakeFAU/site-audit/internal/clock/system"
	"github.com/JakeFAU/site-audit/internal/config"
	"github.com/JakeFAU/site-audit/internal/dispatcher"
	"github.com/JakeFAU/site-audit/internal/hash/sha256"
	"github.com/JakeFAU/site-audit/internal/id/uuid"
	"github.com/JakeFAU/site-audit/internal/logging"
	"github.com/JakeFAU/site-audit/internal/metrics"
	"github.com/JakeFAU/site-audit/internal/pipeline"
	"github.com/JakeFAU/site-audit/internal/policy/ratelimit"
	"github.com/JakeFAU/site-audit/internal/progress"
	progresssinks "github.com/JakeFAU/site-audit/internal/progress/sinks"
	"github.com/JakeFAU/site-audit/internal/provider/openpagerank"
	"github.com/JakeFAU/site-audit/internal/provider/pagespeed"
	"github.com/JakeFAU/site-audit/internal/provider/serp"
	gcppublisher "github.com/JakeFAU/site-audit/internal/publisher/pubsub"
	queueMemory "github.com/JakeFAU/site-audit/internal/queue/memory"
	queuePubSub "github.com/JakeFAU/site-audit/internal/queue/pubsub"
	"github.com/JakeFAU/site-audit/internal/service"
	gcsstorage "github.com/JakeFAU/site-audit/internal/storage/gcs"
	localstorage "github.com/JakeFAU/site-audit/internal/storage/local"
	memoryStorage "github.com/JakeFAU/site-audit/internal/storage/memory"
	pgstore "github.com/JakeFAU/site-audit/internal/storage/postgres"
	"github.com/JakeFAU/site-audit/internal/telemetry"
	"github.com/JakeFAU/site-audit/internal/worker"
)

// Mode selects which parts of the graph Run starts.
type Mode int

const (
	// ModeServe runs the HTTP API and the in-process worker pool.
	ModeServe Mode = iota
	// ModeWorker runs only the worker pool plus health and metrics endpoints.
	ModeWorker
)

const shutdownTimeout = 10 * time.Second

// progressRegisterer receives the progress sink collectors.
var progressRegisterer prometheus.Registerer = prometheus.DefaultRegisterer

// App contains the application's dependencies.
type App struct {
	cfg    config.Config
	mode   Mode
	logger *zap.Logger

	store        audit.Store
	pgStore      *pgstore.AuditStore
	queue        audit.Queue
	closeQueue   func()
	dispatch     *dispatcher.Dispatcher
	processor    *pipeline.Processor
	progressHub  *progress.Hub
	pubsubClient *pubsub.Client
	publisher    *gcppublisher.Publisher
	storage      *storage.Client
	handler      http.Handler
	tracer       *sdktrace.TracerProvider
}

// Build creates the application's dependencies.
func Build(ctx context.Context, cfg config.Config, mode Mode) (*App, error) {
	logger, err := logging.New(logging.Options{
		Development: cfg.Logging.Development,
		Level:       cfg.Logging.Level,
		Service:     cfg.Telemetry.ServiceName,
	})
	if err != nil {
		return nil, fmt.Errorf("logger init failed: %w", err)
	}
	zap.ReplaceGlobals(logger)

	app := &App{cfg: cfg, mode: mode, logger: logger}
	if err := app.build(ctx); err != nil {
		closeCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		app.closeInfrastructure(closeCtx)
		return nil, err
	}
	return app, nil
}

func (a *App) build(ctx context.Context) error {
	if a.mode == ModeWorker && a.cfg.Worker.Queue != config.BackendPubSub {
		return errors.New("worker mode requires worker.queue=pubsub: an in-memory queue only receives jobs submitted in-process")
	}
	tp, err := telemetryProvider(ctx, a.cfg)
	if err != nil {
		return err
	}
	a.tracer = tp
	metrics.Init()

	a.logger.Info("building application dependencies",
		zap.Int("port", a.cfg.Server.Port),
		zap.String("store", a.cfg.Storage.Backend),
		zap.String("queue", a.cfg.Worker.Queue),
		zap.String("archive", a.cfg.Storage.Archive),
		zap.Bool("fallback_enabled", a.cfg.Providers.FallbackEnabled),
	)
	clock := system.New()

	if err := a.setupStore(ctx, clock); err != nil {
		return err
	}
	if a.cfg.UsesPubSub() {
		a.pubsubClient, err = pubsub.NewClient(ctx, a.cfg.PubSub.ProjectID)
		if err != nil {
			return fmt.Errorf("pubsub client init failed: %w", err)
		}
	}
	a.setupQueue()
	blobs, err := a.setupArchive(ctx)
	if err != nil {
		return err
	}
	var publisher audit.Publisher
	if a.cfg.PubSub.NotifyTopic != "" {
		a.publisher = gcppublisher.New(a.pubsubClient.Topic(a.cfg.PubSub.NotifyTopic))
		publisher = a.publisher
		a.logger.Info("notification publisher initialized", zap.String("topic", a.cfg.PubSub.NotifyTopic))
	}
	emitter, err := a.setupProgress()
	if err != nil {
		return err
	}

	a.processor, err = pipeline.New(pipeline.Config{
		FallbackEnabled: a.cfg.Providers.FallbackEnabled,
		Retries:         a.cfg.Providers.Retries,
		Backoff:         a.cfg.Providers.Backoff(),
		ArchivePrefix:   a.cfg.Storage.Prefix,
	}, pipeline.Deps{
		Store:        a.store,
		PageSpeed:    a.pageSpeedProvider(),
		OpenPageRank: a.openPageRankProvider(),
		Serp:         a.serpProvider(),
		Limiter:      a.limiter(),
		Blobs:        blobs,
		Hasher:       sha256.NewShort(16),
		Publisher:    publisher,
		Emitter:      emitter,
		Clock:        clock,
		Logger:       a.logger,
	})
	if err != nil {
		return fmt.Errorf("pipeline init failed: %w", err)
	}

	a.dispatch = dispatcher.NewPool(a.queue, a.processor, a.cfg.Worker.Concurrency, workerConfig(a.cfg), a.logger.Named("worker"))
	a.logger.Info("worker pool configured",
		zap.Int("concurrency", a.dispatch.Size()),
		zap.Duration("job_timeout", a.cfg.Worker.JobTimeout()),
		zap.Int("retries", a.cfg.Providers.Retries),
		zap.Duration("backoff", a.cfg.Providers.Backoff()),
	)

	if a.mode == ModeWorker {
		a.handler = a.workerHandler()
		return nil
	}
	svc := service.New(a.store, a.dispatch, uuid.New(), clock, a.logger)
	a.handler = api.NewServer(svc, a.processor, api.Config{
		AuthEnabled:     a.cfg.Auth.Enabled,
		APIKey:          a.cfg.Auth.APIKey,
		RequestTimeout:  a.cfg.Server.RequestTimeout(),
		Providers:       a.providerHealth(),
		FallbackEnabled: a.cfg.Providers.FallbackEnabled,
	}, a.logger, a.readinessChecks()...).Handler()
	return nil
}

func telemetryProvider(ctx context.Context, cfg config.Config) (*sdktrace.TracerProvider, error) {
	tp, err := telemetry.InitTracerProvider(ctx, cfg.Telemetry.ServiceName, cfg.Telemetry.SampleRatio)
	if err != nil {
		return nil, fmt.Errorf("tracer init failed: %w", err)
	}
	return tp, nil
}

func (a *App) setupStore(ctx context.Context, clock audit.Clock) error {
	if a.cfg.Storage.Backend != config.BackendPostgres {
		a.logger.Warn("using in-memory audit store; records are lost on restart")
		a.store = memoryStorage.NewAuditStore(clock)
		return nil
	}
	store, err := pgstore.NewAuditStore(ctx, pgstore.Config{
		DSN:             a.cfg.DB.DSN,
		Table:           a.cfg.DB.Table,
		MaxConns:        a.cfg.DB.MaxConns,
		MinConns:        a.cfg.DB.MinConns,
		MaxConnLifetime: a.cfg.DB.MaxConnLifetime(),
	}, clock)
	if err != nil {
		return fmt.Errorf("audit store init failed: %w", err)
	}
	a.pgStore = store
	a.store = store
	if a.cfg.DB.AutoMigrate {
		if err := store.EnsureSchema(ctx); err != nil {
			return fmt.Errorf("audit schema init failed: %w", err)
		}
	}
	a.logger.Info("postgres audit store initialized", zap.String("table", a.cfg.DB.Table))
	return nil
}

func (a *App) setupQueue() {
	if a.cfg.Worker.Queue == config.BackendPubSub {
		q := queuePubSub.New(
			a.pubsubClient.Topic(a.cfg.PubSub.JobsTopic),
			a.pubsubClient.Subscription(a.cfg.PubSub.JobsSubscription),
			a.logger.Named("queue"),
		)
		a.queue, a.closeQueue = q, q.Close
		a.logger.Info("using Pub/Sub job queue",
			zap.String("topic", a.cfg.PubSub.JobsTopic),
			zap.String("subscription", a.cfg.PubSub.JobsSubscription),
		)
		return
	}
	q := queueMemory.NewQueue(a.cfg.Worker.QueueDepth, a.cfg.Worker.MaxAttempts)
	q.OnDrop = func(item audit.QueueItem, err error) {
		a.logger.Error("audit dropped after max delivery attempts",
			zap.String("audit_id", item.AuditID),
			zap.Int("attempt", item.Attempt),
			zap.Error(err),
		)
	}
	a.queue, a.closeQueue = q, q.Close
	a.logger.Info("using in-memory job queue", zap.Int("depth", a.cfg.Worker.QueueDepth))
}

func (a *App) setupArchive(ctx context.Context) (audit.BlobStore, error) {
	switch a.cfg.Storage.Archive {
	case config.BackendGCS:
		var err error
		a.storage, err = storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("gcs client init failed: %w", err)
		}
		blobs, err := gcsstorage.New(a.storage, gcsstorage.Config{
			Bucket:       a.cfg.Storage.GCSBucket,
			CacheControl: a.cfg.Storage.CacheControl,
		})
		if err != nil {
			return nil, fmt.Errorf("gcs blob store init failed: %w", err)
		}
		a.logger.Info("using GCS archive", zap.String("bucket", a.cfg.Storage.GCSBucket))
		return blobs, nil
	case config.BackendLocal:
		blobs, err := localstorage.New(localstorage.Config{BaseDir: a.cfg.Storage.LocalDir})
		if err != nil {
			return nil, fmt.Errorf("local blob store init failed: %w", err)
		}
		a.logger.Info("using local archive", zap.String("path", a.cfg.Storage.LocalDir))
		return blobs, nil
	case config.BackendNone:
		a.logger.Info("provider archive disabled")
		return nil, nil
	default:
		a.logger.Warn("using in-memory archive; provider bundles are held until restart, use for development only")
		return memoryStorage.NewBlobStore(), nil
	}
}

func (a *App) setupProgress() (progress.Emitter, error) {
	promSink, err := progresssinks.NewPrometheusSink(progressRegisterer)
	if err != nil {
		return nil, fmt.Errorf("progress prometheus sink init failed: %w", err)
	}
	hubCfg := progress.Config{
		BufferSize:     a.cfg.Progress.BufferSize,
		MaxBatchEvents: a.cfg.Progress.MaxBatchEvents,
		MaxBatchWait:   a.cfg.Progress.MaxBatchWait(),
		Logger:         a.logger.Named("progress_hub"),
	}
	a.progressHub = progress.NewHub(hubCfg,
		progresssinks.NewLogSink(a.logger.Named("progress_log")),
		promSink,
	)
	a.logger.Debug("progress hub initialized",
		zap.Int("buffer_size", hubCfg.BufferSize),
		zap.Int("max_batch_events", hubCfg.MaxBatchEvents),
		zap.Duration("max_batch_wait", hubCfg.MaxBatchWait),
	)
	return a.progressHub, nil
}

func (a *App) limiter() *ratelimit.Limiter {
	p := a.cfg.Providers
	return ratelimit.New(ratelimit.Config{
		DefaultBurst: p.RateLimitBurst,
		PerKey: map[string]float64{
			string(audit.ProviderPageSpeed):    p.PageSpeed.RPS,
			string(audit.ProviderOpenPageRank): p.OpenPageRank.RPS,
			string(audit.ProviderSerp):         p.Serp.RPS,
		},
	})
}

func (a *App) pageSpeedProvider() *pagespeed.Client {
	c := a.cfg.Providers.PageSpeed
	return pagespeed.New(pagespeed.Config{
		APIKey:   c.APIKey,
		BaseURL:  c.BaseURL,
		Timeout:  c.Timeout(),
		Strategy: c.Strategy,
	}, pagespeed.WithLogger(a.logger.Named("pagespeed")))
}

func (a *App) openPageRankProvider() *openpagerank.Client {
	c := a.cfg.Providers.OpenPageRank
	return openpagerank.New(openpagerank.Config{
		APIKey:  c.APIKey,
		BaseURL: c.BaseURL,
		Timeout: c.Timeout(),
	}, openpagerank.WithLogger(a.logger.Named("openpagerank")))
}

func (a *App) serpProvider() *serp.Client {
	c := a.cfg.Providers.Serp
	return serp.New(serp.Config{
		APIKey:   c.APIKey,
		BaseURL:  c.BaseURL,
		Timeout:  c.Timeout(),
		Language: c.Language,
		Country:  c.Country,
	}, serp.WithLogger(a.logger.Named("serp")))
}

func (a *App) providerHealth() map[string]bool {
	p := a.cfg.Providers
	return map[string]bool{
		string(audit.ProviderPageSpeed):    p.PageSpeed.APIKey != "",
		string(audit.ProviderOpenPageRank): p.OpenPageRank.APIKey != "",
		string(audit.ProviderSerp):         p.Serp.APIKey != "",
	}
}

func (a *App) readinessChecks() []api.ReadinessCheck {
	if a.pgStore == nil {
		return nil
	}
	return []api.ReadinessCheck{a.pgStore.Ping}
}

func workerConfig(cfg config.Config) worker.Config {
	return worker.Config{JobTimeout: cfg.Worker.JobTimeout()}
}

// workerHandler serves probes and metrics for worker-only processes.
func (a *App) workerHandler() http.Handler {
	r := chi.NewRouter()
	r.Use(metrics.Middleware)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	r.Method(http.MethodGet, "/metrics", metrics.Handler())
	return r
}

// Handler exposes the HTTP surface for tests.
func (a *App) Handler() http.Handler {
	return a.handler
}

// Run starts the application and blocks until the context is canceled.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		a.logger.Info("dispatcher started")
		a.dispatch.Run(ctx)
		a.logger.Info("dispatcher stopped")
	}()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("http server error", zap.Error(err))
			serveErr <- err
			stop()
		}
	}()

	<-ctx.Done()
	a.logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}
	if a.closeQueue != nil {
		a.closeQueue()
	}
	wg.Wait()

	closeErr := a.Close(shutdownCtx)
	select {
	case err := <-serveErr:
		return errors.Join(fmt.Errorf("http server: %w", err), closeErr)
	default:
		return closeErr
	}
}

// Close gracefully shuts down the application.
func (a *App) Close(ctx context.Context) error {
	if a.closeQueue != nil {
		a.closeQueue()
	}
	a.closeInfrastructure(ctx)
	a.closeObservability(ctx)
	a.logger.Info("shutdown complete")
	return nil
}

func (a *App) closeInfrastructure(ctx context.Context) {
	if a.progressHub != nil {
		if err := a.progressHub.Close(ctx); err != nil {
			a.logger.Warn("progress hub close failed", zap.Error(err))
		}
	}
	if a.publisher != nil {
		a.publisher.Stop()
	}
	if a.pubsubClient != nil {
		if err := a.pubsubClient.Close(); err != nil {
			a.logger.Warn("pubsub client close failed", zap.Error(err))
		}
	}
	if a.storage != nil {
		if err := a.storage.Close(); err != nil {
			a.logger.Warn("gcs client close failed", zap.Error(err))
		}
	}
	if a.pgStore != nil {
		a.pgStore.Close()
	}
}

func (a *App) closeObservability(ctx context.Context) {
	if a.tracer != nil {
		if err := a.tracer.Shutdown(ctx); err != nil {
			a.logger.Warn("tracer shutdown failed", zap.Error(err))
		}
	}
	_ = a.logger.Sync() //nolint:errcheck // stderr sync fails on some platforms
}
