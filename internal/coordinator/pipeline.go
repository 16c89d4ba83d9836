package coordinator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/site-crawler/internal/crawler"
	"github.com/JakeFAU/site-crawler/internal/executor"
	"github.com/JakeFAU/site-crawler/internal/frontier"
	"github.com/JakeFAU/site-crawler/internal/progress"
	"github.com/JakeFAU/site-crawler/internal/store"
	"github.com/JakeFAU/site-crawler/internal/telemetry"
)

// jobRun is one runner's pass over a job: from dequeue until the job finishes,
// pauses or is interrupted.
type jobRun struct {
	c      *Coordinator
	job    crawler.CrawlJob
	st     *jobState
	exec   *executor.Executor
	logger *zap.Logger
}

// drive runs the job and records how it ended. It reports whether a resume
// should be scheduled.
func (r *jobRun) drive(ctx context.Context, item crawler.QueueItem) bool {
	ctx, span := r.c.tracer.Start(ctx, "crawl.job", trace.WithAttributes(
		attribute.String("job_id", r.job.ID),
		attribute.String("seed_url", r.job.SeedURL),
		attribute.Int("attempt", item.Attempt),
		attribute.Bool("resume", item.Resume),
	))
	defer span.End()
	r.logger = r.logger.With(telemetry.LogFields(ctx)...)

	started := time.Now()
	err := r.run(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return r.settle(context.WithoutCancel(ctx), err, time.Since(started))
}

func (r *jobRun) run(ctx context.Context) error {
	switch r.job.Status {
	case crawler.JobStatusPending:
		r.c.emit(progress.Event{JobID: r.job.ID, Stage: progress.StageJobStart})
		if err := r.transition(ctx, crawler.JobStatusDiscovering); err != nil {
			return err
		}
	case crawler.JobStatusPaused:
		r.c.emit(progress.Event{JobID: r.job.ID, Stage: progress.StageJobResumed, Processed: r.job.Progress.Processed, Total: r.job.Progress.Total})
		if err := r.transition(ctx, crawler.JobStatusCrawling); err != nil {
			return err
		}
	}

	fresh := r.st.frontier == nil
	if fresh {
		if err := r.discover(ctx); err != nil {
			return err
		}
	}
	if err := r.buildExecutor(); err != nil {
		return err
	}
	if fresh {
		if err := r.persistHarvest(ctx); err != nil {
			return err
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	urls := r.st.frontier.Unprocessed()
	stats := r.st.frontier.Stats()
	batchSize := r.job.Settings.BatchSize
	r.job.Progress.Total = stats.Discovered
	r.job.Progress.Processed = stats.Discovered - len(urls)
	r.job.TotalBatches = r.job.CurrentBatch + (len(urls)+batchSize-1)/batchSize
	if r.job.Status == crawler.JobStatusCrawling {
		r.job.UpdatedAt = r.c.now()
		if err := r.persist(ctx); err != nil {
			return err
		}
	} else if err := r.transition(ctx, crawler.JobStatusCrawling); err != nil {
		return err
	}
	r.logger.Info("crawl started",
		zap.Int("discovered", stats.Discovered),
		zap.Int("skipped", stats.Skipped),
		zap.Int("remaining", len(urls)),
		zap.Int("total_batches", r.job.TotalBatches),
	)
	return r.crawl(ctx, urls)
}

func (r *jobRun) discover(ctx context.Context) error {
	ctx, span := r.c.tracer.Start(ctx, "crawl.discover")
	defer span.End()

	fr, err := frontier.New(frontier.Config{
		JobID:        r.job.ID,
		Settings:     r.job.Settings,
		Fetcher:      r.c.cfg.Fetcher,
		Throttle:     r.c.cfg.Throttle,
		Cache:        r.c.cfg.Results,
		Sitemaps:     r.c.cfg.Sitemaps,
		FetchTimeout: r.c.cfg.FetchTimeout,
		Logger:       r.c.cfg.Logger,
	})
	if err != nil {
		return err
	}
	entries, err := fr.Discover(ctx, r.job.SeedURL, r.job.Settings.MaxDepth)
	if err != nil {
		span.RecordError(err)
		return err
	}
	r.st.frontier = fr
	if err := r.c.cfg.Frontier.SaveFrontier(context.WithoutCancel(ctx), r.job.ID, entries); err != nil {
		r.logger.Warn("frontier not persisted", zap.Error(err))
	}
	span.SetAttributes(attribute.Int("discovered", len(entries)))
	r.c.emit(progress.Event{JobID: r.job.ID, Stage: progress.StageDiscovered, Total: len(entries)})
	r.logger.Info("discovery finished", zap.Int("discovered", len(entries)), zap.Int("max_depth", r.job.Settings.MaxDepth))
	return nil
}

func (r *jobRun) buildExecutor() error {
	exec, err := executor.New(executor.Config{
		JobID:        r.job.ID,
		Settings:     r.job.Settings,
		Fetcher:      r.c.cfg.Fetcher,
		Processor:    r.c.cfg.Processor,
		Gate:         r.c.cfg.Gate,
		Throttle:     r.c.cfg.Throttle,
		Retry:        r.c.cfg.Retry,
		FetchTimeout: r.c.cfg.FetchTimeout,
		Clock:        r.c.cfg.Clock,
		Lookup:       r.st.frontier.Entry,
		Logger:       r.c.cfg.Logger,
	})
	if err != nil {
		return err
	}
	r.exec = exec
	return nil
}

// persistHarvest stores the pages already fetched during discovery so they are
// not fetched a second time by the batches.
func (r *jobRun) persistHarvest(ctx context.Context) error {
	ctx = context.WithoutCancel(ctx)
	var (
		results []crawler.CrawlResult
		urls    []string
	)
	for _, h := range r.st.frontier.Harvested() {
		if r.st.frontier.Cached(h.Entry.URL) {
			continue
		}
		outcome := r.exec.Finalize(ctx, h.Entry.URL, h.Response)
		results = append(results, outcome.Result(r.job.ID, r.c.now()))
		urls = append(urls, h.Entry.URL)
	}
	if len(results) == 0 {
		return nil
	}
	if err := r.c.cfg.Results.Save(ctx, results); err != nil {
		return err
	}
	r.st.frontier.MarkProcessed(urls...)
	for _, res := range results {
		if res.Success {
			r.st.succeeded++
		} else {
			r.st.failed++
		}
		r.emitFetch(res)
	}
	r.logger.Debug("discovery pages stored", zap.Int("count", len(results)))
	return nil
}

func (r *jobRun) crawl(ctx context.Context, urls []string) error {
	offset := r.job.CurrentBatch
	for res, err := range r.exec.Process(ctx, urls, r.job.Settings.BatchSize, r.job.Settings.MaxConcurrent) {
		if err != nil {
			return err
		}
		if err := r.updateProgress(ctx, offset, res); err != nil {
			return err
		}
		if r.c.cancelRequested(r.job.ID) {
			return context.Canceled
		}
	}
	return nil
}

// updateProgress persists one finished batch: its results, a metrics snapshot
// and the advanced job record. It runs to completion even if ctx is cancelled.
func (r *jobRun) updateProgress(ctx context.Context, offset int, res executor.BatchResult) error {
	ctx = context.WithoutCancel(ctx)
	now := r.c.now()
	index := offset + res.Batch.Index
	ctx, span := r.c.tracer.Start(ctx, "crawl.batch",
		trace.WithTimestamp(now.Add(-res.Elapsed)),
		trace.WithAttributes(
			attribute.String("job_id", r.job.ID),
			attribute.Int("batch", index),
			attribute.Int("urls", len(res.Batch.URLs)),
			attribute.Int("succeeded", res.Succeeded),
			attribute.Int("failed", res.Failed),
		),
	)
	defer span.End(trace.WithTimestamp(now))

	if err := r.c.cfg.Results.Save(ctx, res.Results); err != nil {
		span.RecordError(err)
		return err
	}
	r.st.frontier.MarkProcessed(res.Batch.URLs...)
	r.st.succeeded += res.Succeeded
	r.st.failed += res.Failed

	r.job.Progress.Processed = min(r.job.Progress.Processed+len(res.Batch.URLs), r.job.Progress.Total)
	r.job.CurrentBatch = index + 1
	r.job.UpdatedAt = now

	var rate float64
	if secs := res.Elapsed.Seconds(); secs > 0 {
		rate = float64(len(res.Batch.URLs)) / secs
	}
	snapshot := crawler.MetricsSnapshot{
		JobID:          r.job.ID,
		Timestamp:      now,
		Processed:      r.job.Progress.Processed,
		Succeeded:      r.st.succeeded,
		Failed:         r.st.failed,
		Skipped:        r.st.frontier.Stats().Skipped,
		MemoryUsageMB:  res.MemoryMB,
		ElapsedBatches: index + 1,
		URLsPerSecond:  rate,
		BatchDuration:  res.Elapsed,
	}
	if err := r.appendSnapshot(ctx, snapshot); err != nil {
		span.RecordError(err)
		return err
	}
	if err := r.persist(ctx); err != nil {
		span.RecordError(err)
		return err
	}

	r.c.emit(progress.Event{
		JobID:     r.job.ID,
		Stage:     progress.StageBatchDone,
		Batch:     index,
		Processed: r.job.Progress.Processed,
		Total:     r.job.Progress.Total,
		Succeeded: res.Succeeded,
		Failed:    res.Failed,
		MemoryMB:  res.MemoryMB,
		Dur:       res.Elapsed,
	})
	for _, result := range res.Results {
		r.emitFetch(result)
	}
	r.logger.Info("batch persisted",
		zap.Int("batch", index),
		zap.Int("total_batches", r.job.TotalBatches),
		zap.Int("processed", r.job.Progress.Processed),
		zap.Int("total", r.job.Progress.Total),
		zap.Float64("memory_mb", res.MemoryMB),
		zap.Duration("elapsed", res.Elapsed),
	)
	return nil
}

// appendSnapshot writes the snapshot with a timestamp strictly after the
// previous one for this job.
func (r *jobRun) appendSnapshot(ctx context.Context, snapshot crawler.MetricsSnapshot) error {
	ts := snapshot.Timestamp.Truncate(time.Microsecond)
	if !ts.After(r.st.lastSnapshot) {
		ts = r.st.lastSnapshot.Add(time.Microsecond)
	}
	for attempt := 1; ; attempt++ {
		snapshot.Timestamp = ts
		err := r.c.cfg.Metrics.AppendSnapshot(ctx, snapshot)
		if err == nil {
			r.st.lastSnapshot = ts
			return nil
		}
		if !errors.Is(err, store.ErrConflict) || attempt == 2 {
			return &crawler.StoreError{Op: "append snapshot", Attempts: attempt, Err: err}
		}
		ts = ts.Add(time.Microsecond)
	}
}

func (r *jobRun) emitFetch(res crawler.CrawlResult) {
	r.c.emit(progress.Event{
		JobID:       r.job.ID,
		Stage:       progress.StageFetchDone,
		Site:        crawler.Hostname(res.URL),
		URL:         res.URL,
		StatusClass: progress.ClassifyStatus(res.StatusCode),
		Bytes:       res.SizeBytes,
		Dur:         time.Duration(res.ElapsedMS) * time.Millisecond,
		Note:        res.ErrorMessage,
	})
}

// settle maps the run's outcome onto the lifecycle. It reports whether a
// resume should be scheduled.
func (r *jobRun) settle(ctx context.Context, err error, runtime time.Duration) bool {
	switch {
	case err == nil:
		r.job.Progress.Processed = r.job.Progress.Total
		r.job.LastError = ""
		if terr := r.transition(ctx, crawler.JobStatusCompleted); terr != nil {
			r.fail(ctx, terr)
			return false
		}
		r.c.emit(progress.Event{
			JobID:     r.job.ID,
			Stage:     progress.StageJobDone,
			Processed: r.job.Progress.Processed,
			Total:     r.job.Progress.Total,
			Succeeded: r.st.succeeded,
			Failed:    r.st.failed,
			Dur:       runtime,
		})
		r.logger.Info("job completed",
			zap.Int("succeeded", r.st.succeeded),
			zap.Int("failed", r.st.failed),
			zap.Duration("runtime", runtime),
		)
		return false

	case errors.Is(err, crawler.ErrResourceExhausted):
		r.job.PauseCycles++
		if r.job.PauseCycles > r.c.cfg.MaxPauseCycles {
			r.fail(ctx, fmt.Errorf("paused %d times: %w", r.job.PauseCycles, err))
			return false
		}
		r.job.LastError = err.Error()
		if terr := r.transition(ctx, crawler.JobStatusPaused); terr != nil {
			r.fail(ctx, terr)
			return false
		}
		r.c.emit(progress.Event{
			JobID:     r.job.ID,
			Stage:     progress.StageJobPaused,
			Processed: r.job.Progress.Processed,
			Total:     r.job.Progress.Total,
			Note:      err.Error(),
		})
		r.logger.Warn("job paused", zap.Int("pause_cycles", r.job.PauseCycles), zap.Error(err))
		return true

	case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		if r.c.cancelRequested(r.job.ID) {
			r.finishCancelled(ctx)
			return false
		}
		// Shutdown: leave the job for Recover.
		r.job.LastError = "interrupted: " + err.Error()
		if CanTransition(r.job.Status, crawler.JobStatusPaused) {
			if terr := r.transition(ctx, crawler.JobStatusPaused); terr != nil {
				r.logger.Error("record interrupted job", zap.Error(terr))
			}
		}
		r.logger.Info("job interrupted", zap.String("status", string(r.job.Status)))
		return false

	default:
		r.fail(ctx, err)
		return false
	}
}

func (r *jobRun) fail(ctx context.Context, cause error) {
	r.job.LastError = cause.Error()
	if err := r.transition(ctx, crawler.JobStatusFailed); err != nil {
		r.logger.Error("record job failure", zap.Error(err))
	}
	r.c.emit(progress.Event{
		JobID:     r.job.ID,
		Stage:     progress.StageJobError,
		Processed: r.job.Progress.Processed,
		Total:     r.job.Progress.Total,
		Note:      cause.Error(),
	})
	r.logger.Error("job failed", zap.Error(cause))
}

// finishCancelled must not take Coordinator.mu; release calls it with the lock held.
func (r *jobRun) finishCancelled(ctx context.Context) {
	if err := r.transition(ctx, crawler.JobStatusCancelled); err != nil {
		r.logger.Error("record cancellation", zap.Error(err))
		return
	}
	r.c.emit(progress.Event{
		JobID:     r.job.ID,
		Stage:     progress.StageJobCancelled,
		Processed: r.job.Progress.Processed,
		Total:     r.job.Progress.Total,
	})
	r.logger.Info("job cancelled", zap.Int("processed", r.job.Progress.Processed))
}

func (r *jobRun) transition(ctx context.Context, to crawler.JobStatus) error {
	from := r.job.Status
	if err := advance(&r.job, to, r.c.now()); err != nil {
		return err
	}
	if err := r.persist(ctx); err != nil {
		return err
	}
	r.logger.Debug("job transition", zap.String("from", string(from)), zap.String("to", string(to)))
	return nil
}

func (r *jobRun) persist(ctx context.Context) error {
	if err := r.c.cfg.Jobs.UpdateJob(context.WithoutCancel(ctx), r.job); err != nil {
		return &crawler.StoreError{Op: "update job", Attempts: 1, Err: err}
	}
	return nil
}
