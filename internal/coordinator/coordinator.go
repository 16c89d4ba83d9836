// Package coordinator owns the lifecycle of crawl jobs. It accepts submissions,
// runs each job through discovery and batched crawling on a pool of runners,
// persists progress and per-batch metrics, and exposes status, cancellation and
// results to the API layer.
//
// Every state change goes through the transition table in state.go. Runtime
// failures never surface from the API methods; they are recorded on the job.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/site-crawler/internal/clock"
	"github.com/JakeFAU/site-crawler/internal/crawler"
	"github.com/JakeFAU/site-crawler/internal/executor"
	"github.com/JakeFAU/site-crawler/internal/frontier"
	"github.com/JakeFAU/site-crawler/internal/id/uuid"
	"github.com/JakeFAU/site-crawler/internal/metrics"
	"github.com/JakeFAU/site-crawler/internal/progress"
	"github.com/JakeFAU/site-crawler/internal/resultstore"
	"github.com/JakeFAU/site-crawler/internal/storage/memory"
	"github.com/JakeFAU/site-crawler/internal/store"
	"github.com/JakeFAU/site-crawler/internal/telemetry"
)

// Results is the slice of the result store the coordinator uses.
type Results interface {
	Save(ctx context.Context, results []crawler.CrawlResult) error
	Get(ctx context.Context, url string) (crawler.CrawlResult, error)
	ListByJob(ctx context.Context, jobID string) ([]crawler.CrawlResult, error)
	Succeeded(url string) bool
	Stats() resultstore.Stats
}

// Config wires a Coordinator. Jobs, Metrics, Results, Fetcher and Queue are required.
type Config struct {
	Jobs      store.JobRepository
	Metrics   store.MetricsRepository
	Results   Results
	Frontier  store.FrontierRepository
	Blobs     crawler.BlobReader
	Fetcher   crawler.Fetcher
	Processor crawler.ContentProcessor
	Sitemaps  frontier.SitemapSource
	Gate      executor.Gate
	Throttle  executor.Throttle
	Queue     crawler.Queue
	IDs       crawler.IDGenerator
	Clock     crawler.Clock
	Progress  progress.Emitter
	Retry     *crawler.ExponentialRetryPolicy
	Tracer    trace.Tracer

	FetchTimeout time.Duration
	// CoolDown is the wait between a pause and the automatic resume.
	CoolDown time.Duration
	// MaxPauseCycles is how many pauses a job may take; the next one fails it.
	MaxPauseCycles int
	// Runners is the number of jobs driven concurrently.
	Runners int
	Logger  *zap.Logger
}

// StatusView is what get-status returns.
type StatusView struct {
	JobID    string                   `json:"job_id"`
	Status   crawler.JobStatus        `json:"status"`
	Progress float64                  `json:"progress"`
	Error    string                   `json:"error,omitempty"`
	Job      crawler.CrawlJob         `json:"job"`
	Metrics  *crawler.MetricsSnapshot `json:"metrics,omitempty"`
}

// PageContent is the stored text of one crawled page.
type PageContent struct {
	URL        string
	ContentRef string
	Data       []byte
}

// Coordinator drives crawl jobs. It is safe for concurrent use.
type Coordinator struct {
	cfg    Config
	logger *zap.Logger
	tracer trace.Tracer

	baseCtx    context.Context
	baseCancel context.CancelFunc

	mu     sync.Mutex
	states map[string]*jobState
}

// jobState is the in-process bookkeeping for a job that has not finished.
// cancel, cancelRequested and timer are guarded by Coordinator.mu; the rest
// belongs to whichever runner currently drives the job.
type jobState struct {
	cancel          context.CancelFunc
	cancelRequested bool
	timer           *time.Timer

	frontier     *frontier.Manager
	lastSnapshot time.Time
	succeeded    int
	failed       int
}

// New validates cfg and fills defaults.
func New(cfg Config) (*Coordinator, error) {
	switch {
	case cfg.Jobs == nil:
		return nil, errors.New("coordinator: job repository is required")
	case cfg.Metrics == nil:
		return nil, errors.New("coordinator: metrics repository is required")
	case cfg.Results == nil:
		return nil, errors.New("coordinator: result store is required")
	case cfg.Fetcher == nil:
		return nil, errors.New("coordinator: fetcher is required")
	case cfg.Queue == nil:
		return nil, errors.New("coordinator: queue is required")
	}
	if cfg.Frontier == nil {
		cfg.Frontier = memory.NewFrontierStore()
	}
	if cfg.IDs == nil {
		cfg.IDs = uuid.New()
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.System{}
	}
	if cfg.Retry == nil {
		cfg.Retry = crawler.NewExponentialRetryPolicy(2, 500*time.Millisecond, 5*time.Second)
	}
	if cfg.Tracer == nil {
		cfg.Tracer = telemetry.Tracer()
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = 30 * time.Second
	}
	if cfg.CoolDown <= 0 {
		cfg.CoolDown = 30 * time.Second
	}
	if cfg.MaxPauseCycles < 0 {
		cfg.MaxPauseCycles = 0
	}
	if cfg.Runners <= 0 {
		cfg.Runners = 1
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	baseCtx, baseCancel := context.WithCancel(context.Background())
	return &Coordinator{
		cfg:        cfg,
		logger:     cfg.Logger.With(zap.String("component", "coordinator")),
		tracer:     cfg.Tracer,
		baseCtx:    baseCtx,
		baseCancel: baseCancel,
		states:     make(map[string]*jobState),
	}, nil
}

// Submit validates the request, stores a PENDING job and queues it for a runner.
func (c *Coordinator) Submit(ctx context.Context, seed string, settings crawler.Settings) (string, error) {
	seed = strings.TrimSpace(seed)
	if seed == "" {
		return "", fmt.Errorf("%w: seed_url is required", crawler.ErrInvalidSettings)
	}
	if err := settings.Validate(); err != nil {
		return "", err
	}
	id, err := c.cfg.IDs.NewID()
	if err != nil {
		return "", fmt.Errorf("generate job id: %w", err)
	}
	now := c.now()
	job := crawler.CrawlJob{
		ID:        id,
		SeedURL:   seed,
		Status:    crawler.JobStatusPending,
		Settings:  settings,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := c.cfg.Jobs.CreateJob(ctx, job); err != nil {
		return "", fmt.Errorf("create job: %w", err)
	}
	if err := c.cfg.Queue.Enqueue(ctx, crawler.QueueItem{JobID: id, Attempt: 1, Enqueued: now}); err != nil {
		c.abandon(job, fmt.Errorf("enqueue: %w", err))
		return "", fmt.Errorf("enqueue job: %w", err)
	}
	c.logger.Info("job submitted",
		zap.String("job_id", id),
		zap.String("seed_url", seed),
		zap.Int("max_depth", settings.MaxDepth),
		zap.Int("batch_size", settings.BatchSize),
	)
	return id, nil
}

// abandon records a job that was created but could never be queued.
func (c *Coordinator) abandon(job crawler.CrawlJob, cause error) {
	job.LastError = cause.Error()
	if err := advance(&job, crawler.JobStatusFailed, c.now()); err != nil {
		return
	}
	if err := c.cfg.Jobs.UpdateJob(context.WithoutCancel(c.baseCtx), job); err != nil {
		c.logger.Error("record unqueued job", zap.String("job_id", job.ID), zap.Error(err))
	}
}

// Status reports a job's state, progress and latest metrics snapshot.
func (c *Coordinator) Status(ctx context.Context, jobID string) (StatusView, error) {
	job, err := c.cfg.Jobs.GetJob(ctx, jobID)
	if err != nil {
		return StatusView{}, fmt.Errorf("get job %s: %w", jobID, err)
	}
	view := StatusView{
		JobID:    job.ID,
		Status:   job.Status,
		Progress: job.ProgressValue(),
		Error:    job.LastError,
		Job:      job,
	}
	snapshots, err := c.cfg.Metrics.ListSnapshots(ctx, jobID)
	if err != nil {
		c.logger.Warn("load metrics snapshots", zap.String("job_id", jobID), zap.Error(err))
		return view, nil
	}
	if n := len(snapshots); n > 0 {
		view.Metrics = &snapshots[n-1]
	}
	return view, nil
}

// Cancel requests cooperative cancellation. A running job stops after its
// in-flight batch; a pending or paused job is cancelled at once. Cancelling a
// finished job returns crawler.ErrJobFinished.
func (c *Coordinator) Cancel(ctx context.Context, jobID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if st, ok := c.states[jobID]; ok && st.cancel != nil {
		if !st.cancelRequested {
			st.cancelRequested = true
			st.cancel()
			c.logger.Info("cancellation requested", zap.String("job_id", jobID))
		}
		return nil
	}

	job, err := c.cfg.Jobs.GetJob(ctx, jobID)
	if err != nil {
		return fmt.Errorf("get job %s: %w", jobID, err)
	}
	if job.Status.Terminal() {
		return fmt.Errorf("cancel %s (%s): %w", jobID, job.Status, crawler.ErrJobFinished)
	}
	if st, ok := c.states[jobID]; ok && st.timer != nil {
		st.timer.Stop()
	}
	if err := advance(&job, crawler.JobStatusCancelled, c.now()); err != nil {
		return err
	}
	if err := c.cfg.Jobs.UpdateJob(context.WithoutCancel(ctx), job); err != nil {
		return fmt.Errorf("update job %s: %w", jobID, err)
	}
	delete(c.states, jobID)
	c.emit(progress.Event{JobID: jobID, Stage: progress.StageJobCancelled, Processed: job.Progress.Processed, Total: job.Progress.Total})
	c.logger.Info("job cancelled", zap.String("job_id", jobID))
	return nil
}

// ListResults returns the result rows last written by jobID.
func (c *Coordinator) ListResults(ctx context.Context, jobID string) ([]crawler.CrawlResult, error) {
	if _, err := c.cfg.Jobs.GetJob(ctx, jobID); err != nil {
		return nil, fmt.Errorf("get job %s: %w", jobID, err)
	}
	results, err := c.cfg.Results.ListByJob(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("list results for %s: %w", jobID, err)
	}
	return results, nil
}

// ListJobs returns jobs newest first, optionally filtered by status.
func (c *Coordinator) ListJobs(ctx context.Context, status *crawler.JobStatus, limit, offset int) ([]crawler.CrawlJob, error) {
	jobs, err := c.cfg.Jobs.ListJobs(ctx, status, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	return jobs, nil
}

// Snapshots returns a job's metrics series in time order.
func (c *Coordinator) Snapshots(ctx context.Context, jobID string) ([]crawler.MetricsSnapshot, error) {
	if _, err := c.cfg.Jobs.GetJob(ctx, jobID); err != nil {
		return nil, fmt.Errorf("get job %s: %w", jobID, err)
	}
	snapshots, err := c.cfg.Metrics.ListSnapshots(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("list snapshots for %s: %w", jobID, err)
	}
	return snapshots, nil
}

// Discovered returns the URLs the job's discovery produced, in discovery order.
// It is empty until discovery has finished.
func (c *Coordinator) Discovered(ctx context.Context, jobID string) ([]crawler.DiscoveredURL, error) {
	if _, err := c.cfg.Jobs.GetJob(ctx, jobID); err != nil {
		return nil, fmt.Errorf("get job %s: %w", jobID, err)
	}
	urls, err := c.cfg.Frontier.ListFrontier(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("list frontier for %s: %w", jobID, err)
	}
	return urls, nil
}

// Content loads the page text stored for rawURL when jobID wrote its current
// result. Pages that failed, were written by another job, or had no content
// stored report store.ErrNotFound.
func (c *Coordinator) Content(ctx context.Context, jobID, rawURL string) (PageContent, error) {
	if _, err := c.cfg.Jobs.GetJob(ctx, jobID); err != nil {
		return PageContent{}, fmt.Errorf("get job %s: %w", jobID, err)
	}
	if normalized, err := crawler.NormalizeURL(rawURL); err == nil {
		rawURL = normalized
	}
	result, err := c.cfg.Results.Get(ctx, rawURL)
	if err != nil {
		return PageContent{}, fmt.Errorf("get result %s: %w", rawURL, err)
	}
	if result.JobID != jobID || result.ContentRef == "" || c.cfg.Blobs == nil {
		return PageContent{}, fmt.Errorf("no content for %s in job %s: %w", rawURL, jobID, store.ErrNotFound)
	}
	data, err := c.cfg.Blobs.GetObject(ctx, result.ContentRef)
	if err != nil {
		return PageContent{}, fmt.Errorf("read content %s: %w", result.ContentRef, err)
	}
	return PageContent{URL: result.URL, ContentRef: result.ContentRef, Data: data}, nil
}

// ResultStats summarizes the result store mirror.
func (c *Coordinator) ResultStats() resultstore.Stats {
	return c.cfg.Results.Stats()
}

// Run starts the runner pool and blocks until ctx is done and every runner
// has returned. Jobs interrupted by ctx are left PAUSED for Recover.
func (c *Coordinator) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for i := range c.cfg.Runners {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.runner(ctx, i)
		}()
	}
	<-ctx.Done()
	wg.Wait()
}

func (c *Coordinator) runner(ctx context.Context, n int) {
	logger := c.logger.With(zap.Int("runner", n))
	for {
		item, err := c.cfg.Queue.Dequeue(ctx)
		if err != nil {
			logger.Debug("runner stopping", zap.Error(err))
			return
		}
		c.execute(ctx, item)
	}
}

// Recover re-queues jobs left unfinished by a previous process. Jobs caught
// mid-run are moved to PAUSED first. Call it before Run.
func (c *Coordinator) Recover(ctx context.Context) (int, error) {
	jobs, err := c.cfg.Jobs.ListJobs(ctx, nil, 0, 0)
	if err != nil {
		return 0, fmt.Errorf("list jobs: %w", err)
	}
	recovered := 0
	for _, job := range jobs {
		if job.Status.Terminal() {
			continue
		}
		if job.Status == crawler.JobStatusDiscovering || job.Status == crawler.JobStatusCrawling {
			job.LastError = "interrupted: recovered after restart"
			if err := advance(&job, crawler.JobStatusPaused, c.now()); err != nil {
				return recovered, err
			}
			if err := c.cfg.Jobs.UpdateJob(ctx, job); err != nil {
				return recovered, fmt.Errorf("update job %s: %w", job.ID, err)
			}
		}
		item := crawler.QueueItem{
			JobID:    job.ID,
			Attempt:  job.PauseCycles + 1,
			Resume:   job.Status == crawler.JobStatusPaused,
			Enqueued: c.now(),
		}
		if err := c.cfg.Queue.Enqueue(ctx, item); err != nil {
			return recovered, fmt.Errorf("enqueue job %s: %w", job.ID, err)
		}
		recovered++
	}
	if recovered > 0 {
		c.logger.Info("recovered unfinished jobs", zap.Int("count", recovered))
	}
	return recovered, nil
}

// Close stops pending resume timers. Runners stop with the context given to Run.
func (c *Coordinator) Close() {
	c.baseCancel()
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, st := range c.states {
		if st.timer != nil {
			st.timer.Stop()
		}
	}
}

// claim registers a runner for the job unless it is finished or already driven.
func (c *Coordinator) claim(ctx context.Context, jobID string, cancel context.CancelFunc) (crawler.CrawlJob, *jobState, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	job, err := c.cfg.Jobs.GetJob(ctx, jobID)
	if err != nil {
		c.logger.Error("load queued job", zap.String("job_id", jobID), zap.Error(err))
		return crawler.CrawlJob{}, nil, false
	}
	if job.Status.Terminal() {
		delete(c.states, jobID)
		c.logger.Debug("skipping finished job", zap.String("job_id", jobID), zap.String("status", string(job.Status)))
		return crawler.CrawlJob{}, nil, false
	}
	st, ok := c.states[jobID]
	if !ok {
		st = &jobState{}
		c.states[jobID] = st
	}
	if st.cancel != nil {
		c.logger.Warn("job already running", zap.String("job_id", jobID))
		return crawler.CrawlJob{}, nil, false
	}
	st.cancel = cancel
	st.timer = nil
	return job, st, true
}

// release unregisters the runner. A cancellation that raced with a pause is
// applied here; otherwise a paused job gets its resume timer.
func (c *Coordinator) release(r *jobRun, resume bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	st := r.st
	st.cancel = nil
	if st.cancelRequested && !r.job.Status.Terminal() {
		r.finishCancelled(context.WithoutCancel(c.baseCtx))
	}
	if r.job.Status.Terminal() {
		delete(c.states, r.job.ID)
		return
	}
	if resume {
		item := crawler.QueueItem{JobID: r.job.ID, Attempt: r.job.PauseCycles + 1, Resume: true}
		st.timer = time.AfterFunc(c.cfg.CoolDown, func() { c.resume(item) })
		r.logger.Info("resume scheduled", zap.Duration("cool_down", c.cfg.CoolDown), zap.Int("pause_cycles", r.job.PauseCycles))
	}
}

func (c *Coordinator) resume(item crawler.QueueItem) {
	item.Enqueued = c.now()
	if err := c.cfg.Queue.Enqueue(c.baseCtx, item); err != nil {
		c.logger.Warn("resume enqueue failed", zap.String("job_id", item.JobID), zap.Error(err))
	}
}

func (c *Coordinator) cancelRequested(jobID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	st, ok := c.states[jobID]
	return ok && st.cancelRequested
}

func (c *Coordinator) execute(ctx context.Context, item crawler.QueueItem) {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	job, st, ok := c.claim(runCtx, item.JobID, cancel)
	if !ok {
		return
	}
	metrics.IncActiveRunners()
	defer metrics.DecActiveRunners()

	r := &jobRun{
		c:      c,
		job:    job,
		st:     st,
		logger: c.logger.With(zap.String("job_id", job.ID)),
	}
	resume := r.drive(runCtx, item)
	c.release(r, resume)
}

func (c *Coordinator) emit(evt progress.Event) {
	if c.cfg.Progress == nil {
		return
	}
	if evt.TS.IsZero() {
		evt.TS = c.now()
	}
	c.cfg.Progress.Emit(evt)
}

func (c *Coordinator) now() time.Time {
	return c.cfg.Clock.Now().UTC()
}
