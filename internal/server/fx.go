// Package server provides the core application server and dependency injection.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	goredis "github.com/redis/go-redis/v9"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/site-crawler/internal/api"
	"github.com/JakeFAU/site-crawler/internal/clock"
	"github.com/JakeFAU/site-crawler/internal/config"
	"github.com/JakeFAU/site-crawler/internal/content"
	"github.com/JakeFAU/site-crawler/internal/coordinator"
	"github.com/JakeFAU/site-crawler/internal/crawler"
	collyfetcher "github.com/JakeFAU/site-crawler/internal/fetcher/colly"
	headlessfetcher "github.com/JakeFAU/site-crawler/internal/fetcher/headless"
	"github.com/JakeFAU/site-crawler/internal/governor"
	"github.com/JakeFAU/site-crawler/internal/hash/sha256"
	"github.com/JakeFAU/site-crawler/internal/id/uuid"
	"github.com/JakeFAU/site-crawler/internal/logging"
	"github.com/JakeFAU/site-crawler/internal/progress"
	progresssinks "github.com/JakeFAU/site-crawler/internal/progress/sinks"
	gcppublisher "github.com/JakeFAU/site-crawler/internal/publisher/pubsub"
	queueMemory "github.com/JakeFAU/site-crawler/internal/queue/memory"
	"github.com/JakeFAU/site-crawler/internal/resultstore"
	gcsstorage "github.com/JakeFAU/site-crawler/internal/storage/gcs"
	localstorage "github.com/JakeFAU/site-crawler/internal/storage/local"
	memoryStorage "github.com/JakeFAU/site-crawler/internal/storage/memory"
	pgstore "github.com/JakeFAU/site-crawler/internal/storage/postgres"
	redisstore "github.com/JakeFAU/site-crawler/internal/storage/redis"
	"github.com/JakeFAU/site-crawler/internal/store"
	"github.com/JakeFAU/site-crawler/internal/telemetry"
)

// App contains the application's dependencies.
type App struct {
	cfg    *config.Config
	logger *zap.Logger

	coordinator *coordinator.Coordinator
	apiServer   *api.Server
	progressHub *progress.Hub
	queue       *queueMemory.Queue

	pg          *pgstore.Store
	redis       goredis.UniversalClient
	gcs         *gcsstorage.BlobStore
	publisher   *gcppublisher.Publisher
	headless    *headlessfetcher.Fetcher
	tracer      *sdktrace.TracerProvider
	runnerCount int
}

// Build creates the application's dependencies. On error everything built so
// far is released.
func Build(ctx context.Context, cfg *config.Config) (_ *App, err error) {
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return nil, fmt.Errorf("logger init failed: %w", err)
	}
	zap.ReplaceGlobals(logger)

	app := &App{cfg: cfg, logger: logger, runnerCount: cfg.Crawler.MaxJobs}
	defer func() {
		if err != nil {
			app.closeInfrastructure(context.WithoutCancel(ctx))
		}
	}()
	logger.Info("building application dependencies",
		zap.Int("port", cfg.Server.Port),
		zap.String("store_backend", cfg.Store.Backend),
		zap.String("jobs_backend", cfg.Jobs.Backend),
		zap.String("storage_backend", cfg.Storage.Backend),
	)

	app.tracer, err = telemetry.InitTracerProvider(ctx, cfg.Telemetry, logger.Named("trace"))
	if err != nil {
		return nil, fmt.Errorf("tracer init failed: %w", err)
	}

	if err = setupDatabase(ctx, app); err != nil {
		return nil, err
	}
	results, snapshots, err := setupResults(ctx, app)
	if err != nil {
		return nil, err
	}
	jobs, err := setupJobs(ctx, app)
	if err != nil {
		return nil, err
	}
	blobStore, err := setupStorage(ctx, app)
	if err != nil {
		return nil, err
	}
	if err = setupProgress(ctx, app); err != nil {
		return nil, err
	}
	fetcher, sitemaps, err := setupFetchers(app)
	if err != nil {
		return nil, err
	}
	processor, err := content.New(content.Config{
		Blobs:    blobStore,
		Hasher:   sha256.New(),
		Prefix:   cfg.Storage.Prefix,
		StoreRaw: cfg.Storage.StoreRaw,
		Logger:   logger,
	})
	if err != nil {
		return nil, fmt.Errorf("content processor init failed: %w", err)
	}

	gov := governor.New(governor.Config{
		Sampler:          governor.ProcSampler{},
		PollInterval:     cfg.Governor.PollInterval,
		AdmissionTimeout: cfg.Governor.AdmissionTimeout,
		Throttle: governor.ThrottleConfig{
			UserAgents:       cfg.Governor.UserAgents,
			JitterFraction:   cfg.Governor.JitterFraction,
			FailureThreshold: cfg.Governor.FailureThreshold,
			FailureWindow:    cfg.Governor.FailureWindow,
			BackoffBase:      cfg.Governor.BackoffBase,
			MaxBackoff:       cfg.Governor.MaxBackoff,
		},
		Logger: logger,
	})

	app.queue = queueMemory.NewQueue(cfg.Coordinator.QueueDepth)
	app.coordinator, err = coordinator.New(coordinator.Config{
		Jobs:           jobs,
		Metrics:        snapshots,
		Results:        results,
		Frontier:       frontierRepository(app),
		Blobs:          blobStore,
		Fetcher:        fetcher,
		Processor:      processor,
		Sitemaps:       sitemaps,
		Gate:           gov,
		Throttle:       gov,
		Queue:          app.queue,
		IDs:            uuid.New(),
		Clock:          clock.System{},
		Progress:       app.progressHub,
		Retry:          crawler.NewExponentialRetryPolicy(cfg.Executor.RetryAttempts, cfg.Executor.RetryBase, cfg.Executor.RetryMax),
		Tracer:         telemetry.Tracer(),
		FetchTimeout:   cfg.Coordinator.FetchTimeout,
		CoolDown:       cfg.Coordinator.CoolDown,
		MaxPauseCycles: cfg.Coordinator.MaxPauseCycles,
		Runners:        cfg.Crawler.MaxJobs,
		Logger:         logger,
	})
	if err != nil {
		return nil, fmt.Errorf("coordinator init failed: %w", err)
	}

	app.apiServer = api.NewServer(api.Options{
		Jobs:           app.coordinator,
		Events:         app.progressHub,
		Defaults:       cfg.Crawler.Defaults,
		Ready:          app.ready,
		AuthToken:      authToken(cfg.Auth),
		RequestTimeout: cfg.Server.RequestTimeout,
		Logger:         logger,
	})
	return app, nil
}

func authToken(cfg config.AuthConfig) string {
	if !cfg.Enabled {
		return ""
	}
	return cfg.Token
}

func setupDatabase(ctx context.Context, app *App) error {
	if !app.cfg.UsesPostgres() {
		return nil
	}
	db := app.cfg.Database
	var err error
	app.pg, err = pgstore.New(ctx, pgstore.Config{
		DSN: db.DSN,
		Tables: pgstore.Tables{
			Results:  db.ResultsTable,
			Jobs:     db.JobsTable,
			Metrics:  db.MetricsTable,
			Frontier: db.FrontierTable,
		},
		MaxConns:        db.MaxConns,
		MinConns:        db.MinConns,
		MaxConnLifetime: db.MaxConnLifetime,
	})
	if err != nil {
		return fmt.Errorf("postgres init failed: %w", err)
	}
	if err := app.pg.EnsureSchema(ctx); err != nil {
		return fmt.Errorf("postgres schema init failed: %w", err)
	}
	app.logger.Info("postgres store initialized",
		zap.String("results_table", db.ResultsTable),
		zap.String("jobs_table", db.JobsTable),
		zap.String("metrics_table", db.MetricsTable),
		zap.String("frontier_table", db.FrontierTable),
	)
	return nil
}

func setupResults(ctx context.Context, app *App) (*resultstore.Store, store.MetricsRepository, error) {
	var backend store.ResultBackend
	var snapshots store.MetricsRepository
	if app.cfg.Store.Backend == "postgres" {
		backend, snapshots = app.pg, app.pg
	} else {
		app.logger.Info("using in-memory result store")
		backend, snapshots = memoryStorage.NewResultStore(), memoryStorage.NewMetricsStore()
	}
	results, err := resultstore.New(resultstore.Config{
		Backend:     backend,
		MaxAttempts: app.cfg.Store.MaxAttempts,
		BaseBackoff: app.cfg.Store.BaseBackoff,
		Logger:      app.logger,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("result store init failed: %w", err)
	}
	if err := results.Init(ctx); err != nil {
		return nil, nil, fmt.Errorf("result cache load failed: %w", err)
	}
	stats := results.Stats()
	app.logger.Info("result cache loaded",
		zap.Int("success_count", stats.SuccessCount),
		zap.Int("failure_count", stats.FailureCount),
	)
	return results, snapshots, nil
}

// frontierRepository keeps discovered URL lists next to the results.
func frontierRepository(app *App) store.FrontierRepository {
	if app.cfg.Store.Backend == "postgres" {
		return app.pg
	}
	return memoryStorage.NewFrontierStore()
}

func setupJobs(ctx context.Context, app *App) (store.JobRepository, error) {
	switch app.cfg.Jobs.Backend {
	case "postgres":
		return app.pg, nil
	case "redis":
		rc := app.cfg.Redis
		app.redis = goredis.NewUniversalClient(&goredis.UniversalOptions{
			Addrs:    []string{rc.Addr},
			Password: rc.Password,
			DB:       rc.DB,
		})
		jobs, err := redisstore.NewJobStore(app.redis, redisstore.Config{Prefix: rc.Prefix, TTL: rc.TTL})
		if err != nil {
			return nil, fmt.Errorf("redis job store init failed: %w", err)
		}
		if err := jobs.Ping(ctx); err != nil {
			return nil, fmt.Errorf("redis ping failed: %w", err)
		}
		app.logger.Info("redis job store initialized", zap.String("addr", rc.Addr))
		return jobs, nil
	default:
		app.logger.Info("using in-memory job store")
		return memoryStorage.NewJobStore(), nil
	}
}

// blobBackend is a blob store that can also read back what it wrote.
type blobBackend interface {
	crawler.BlobStore
	crawler.BlobReader
}

func setupStorage(ctx context.Context, app *App) (blobBackend, error) {
	sc := app.cfg.Storage
	switch sc.Backend {
	case "gcs":
		var err error
		app.gcs, err = gcsstorage.Open(ctx, gcsstorage.Config{Bucket: sc.Bucket, Prefix: sc.Prefix})
		if err != nil {
			return nil, fmt.Errorf("gcs blob store init failed: %w", err)
		}
		app.logger.Info("using GCS storage backend", zap.String("bucket", sc.Bucket))
		return app.gcs, nil
	case "local":
		blobs, err := localstorage.New(localstorage.Config{BaseDir: sc.BaseDir})
		if err != nil {
			return nil, fmt.Errorf("local blob store init failed: %w", err)
		}
		app.logger.Info("using local storage backend", zap.String("path", sc.BaseDir))
		return blobs, nil
	default:
		app.logger.Info("using in-memory storage backend")
		return memoryStorage.NewBlobStore(), nil
	}
}

func setupProgress(ctx context.Context, app *App) error {
	pc := app.cfg.Progress
	var sinkList []progress.Sink
	if pc.LogEvents {
		sinkList = append(sinkList, progresssinks.NewLogSink(app.logger.Named("progress_log")))
	}
	if pc.Prometheus {
		sink, err := progresssinks.NewPrometheusSink(prometheus.DefaultRegisterer)
		if err != nil {
			return fmt.Errorf("prometheus progress sink init failed: %w", err)
		}
		sinkList = append(sinkList, sink)
	}
	if app.cfg.PubSub.Enabled {
		var err error
		app.publisher, err = gcppublisher.Open(ctx, app.cfg.PubSub.ProjectID)
		if err != nil {
			return fmt.Errorf("pubsub client init failed: %w", err)
		}
		sink, err := progresssinks.NewPublishSink(app.publisher, app.cfg.PubSub.Topic, app.logger.Named("progress_publish"))
		if err != nil {
			return fmt.Errorf("publish sink init failed: %w", err)
		}
		sinkList = append(sinkList, sink)
		app.logger.Info("Pub/Sub notifications enabled",
			zap.String("project", app.cfg.PubSub.ProjectID),
			zap.String("topic", app.cfg.PubSub.Topic),
		)
	}
	hubCfg := progress.Config{
		BufferSize:     pc.BufferSize,
		MaxBatchEvents: pc.MaxBatchEvents,
		MaxBatchWait:   pc.MaxBatchWait,
		SinkTimeout:    pc.SinkTimeout,
		BaseContext:    context.WithoutCancel(ctx),
		Logger:         app.logger.Named("progress_hub"),
	}
	app.progressHub = progress.NewHub(hubCfg, sinkList...)
	app.logger.Info("progress hub initialized",
		zap.Int("sinks", len(sinkList)),
		zap.Int("buffer_size", hubCfg.BufferSize),
		zap.Duration("max_batch_wait", hubCfg.MaxBatchWait),
	)
	return nil
}

func setupFetchers(app *App) (crawler.Fetcher, *collyfetcher.Fetcher, error) {
	fc := app.cfg.Fetcher
	static := collyfetcher.New(collyfetcher.Config{
		DefaultUserAgent: fc.UserAgent,
		RespectRobots:    fc.RespectRobots,
		Timeout:          fc.Timeout,
		MaxBodySize:      fc.MaxBodySize,
	})
	app.logger.Info("using colly fetcher", zap.String("user_agent", fc.UserAgent), zap.Bool("respect_robots", fc.RespectRobots))

	var browser crawler.Fetcher = headlessfetcher.NewNoop()
	if fc.Headless.Enabled {
		var err error
		app.headless, err = headlessfetcher.NewChromedp(headlessfetcher.Config{
			MaxParallel:       fc.Headless.MaxParallel,
			DefaultUserAgent:  fc.UserAgent,
			NavigationTimeout: fc.Headless.NavTimeout,
			Settle:            fc.Headless.Settle,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("headless fetcher init failed: %w", err)
		}
		browser = app.headless
		app.logger.Info("using headless fetcher", zap.Int("max_parallel", fc.Headless.MaxParallel))
	}
	sw := headlessfetcher.Switch{Static: static, Browser: browser}
	if fc.Headless.Enabled && fc.Headless.AutoPromote {
		sw.Promote = headlessfetcher.NewShellDetector(fc.Headless.PromoteMinText).ShouldPromote
	}
	return sw, static, nil
}

// ready pings the external stores in use.
func (a *App) ready(ctx context.Context) error {
	if a.pg != nil {
		if err := a.pg.Ping(ctx); err != nil {
			return fmt.Errorf("postgres: %w", err)
		}
	}
	if a.redis != nil {
		if err := a.redis.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis: %w", err)
		}
	}
	return nil
}

// Coordinator exposes the job coordinator.
func (a *App) Coordinator() *coordinator.Coordinator {
	return a.coordinator
}

// Logger returns the application logger.
func (a *App) Logger() *zap.Logger {
	return a.logger
}

// Run serves the HTTP API and drives jobs until ctx is canceled or a signal
// arrives. Jobs interrupted by shutdown stay PAUSED and are picked up by the
// next process through Recover.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	runnersDone := a.startRunners(ctx, true)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.apiServer.Handler(),
		ReadHeaderTimeout: a.cfg.Server.ReadHeaderTimeout,
	}
	go func() {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	a.logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}
	<-runnersDone
	return a.Close(shutdownCtx)
}

// RunJob submits one job, drives it in the foreground and returns its final
// status. Cancelling ctx cancels the job. Unfinished jobs of other processes
// are left in the store for the server to recover.
func (a *App) RunJob(ctx context.Context, seed string, settings crawler.Settings) (coordinator.StatusView, error) {
	runCtx, stopRunners := context.WithCancel(context.WithoutCancel(ctx))
	runnersDone := a.startRunners(runCtx, false)
	defer func() {
		stopRunners()
		<-runnersDone
	}()

	jobID, err := a.coordinator.Submit(ctx, seed, settings)
	if err != nil {
		return coordinator.StatusView{}, fmt.Errorf("submit job: %w", err)
	}
	a.logger.Info("job submitted", zap.String("job_id", jobID), zap.String("seed_url", seed))

	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()
	cancelled := false
	for {
		select {
		case <-ctx.Done():
			if !cancelled {
				cancelled = true
				if err := a.coordinator.Cancel(context.WithoutCancel(ctx), jobID); err != nil && !errors.Is(err, crawler.ErrJobFinished) {
					return coordinator.StatusView{}, fmt.Errorf("cancel job: %w", err)
				}
			}
			ctx = context.WithoutCancel(ctx)
		case <-ticker.C:
		}
		view, err := a.coordinator.Status(context.WithoutCancel(ctx), jobID)
		if err != nil {
			return coordinator.StatusView{}, fmt.Errorf("job status: %w", err)
		}
		if view.Status.Terminal() {
			return view, nil
		}
	}
}

func (a *App) startRunners(ctx context.Context, recoverJobs bool) <-chan struct{} {
	if recoverJobs {
		if n, err := a.coordinator.Recover(ctx); err != nil {
			a.logger.Error("job recovery failed", zap.Error(err))
		} else if n > 0 {
			a.logger.Info("recovered unfinished jobs", zap.Int("jobs", n))
		}
	}
	done := make(chan struct{})
	go func() {
		defer close(done)
		a.logger.Info("job runners started", zap.Int("runners", a.runnerCount))
		a.coordinator.Run(ctx)
	}()
	return done
}

// Close gracefully shuts down the application.
func (a *App) Close(ctx context.Context) error {
	if a.coordinator != nil {
		a.coordinator.Close()
	}
	if a.queue != nil {
		a.queue.Close()
	}
	a.closeInfrastructure(ctx)
	a.closeObservability(ctx)
	a.logger.Info("shutdown complete")
	return nil
}

//nolint:gocognit // Shutdown logic is linear but extensive, ignoring complexity check
func (a *App) closeInfrastructure(ctx context.Context) {
	if a.progressHub != nil {
		if err := a.progressHub.Close(ctx); err != nil {
			a.logger.Warn("progress hub close failed", zap.Error(err))
		}
		a.progressHub = nil
	}
	if a.publisher != nil {
		if err := a.publisher.Close(); err != nil {
			a.logger.Warn("pubsub client close failed", zap.Error(err))
		}
		a.publisher = nil
	}
	if a.headless != nil {
		a.headless.Close()
		a.headless = nil
	}
	if a.gcs != nil {
		if err := a.gcs.Close(); err != nil {
			a.logger.Warn("gcs client close failed", zap.Error(err))
		}
		a.gcs = nil
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.logger.Warn("redis client close failed", zap.Error(err))
		}
		a.redis = nil
	}
	if a.pg != nil {
		a.pg.Close()
		a.pg = nil
	}
}

func (a *App) closeObservability(ctx context.Context) {
	if a.tracer != nil {
		if err := a.tracer.Shutdown(ctx); err != nil {
			a.logger.Warn("tracer shutdown failed", zap.Error(err))
		}
	}
	// Sync returns EINVAL for stderr on some platforms.
	_ = a.logger.Sync()
}
