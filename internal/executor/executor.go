// Package executor runs a job's URL list as a sequence of batches. Batches run
// strictly one after another; the fetches inside a batch run in parallel up to
// a concurrency limit. Each batch waits on the memory gate before admission and
// each fetch waits on the throttle before dispatch.
package executor

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/JakeFAU/site-crawler/internal/crawler"
)

// Gate is the memory gate consulted before each batch.
type Gate interface {
	Await(ctx context.Context, thresholdMB int) (float64, error)
}

// Throttle is consulted before each fetch and told how it went.
type Throttle interface {
	Wait(ctx context.Context, rawURL string, rps float64) (crawler.Identity, error)
	ReportSuccess(rawURL string)
	ReportFailure(rawURL string)
}

// Config wires an Executor. Fetcher is required; the rest is optional.
type Config struct {
	JobID        string
	Settings     crawler.Settings
	Fetcher      crawler.Fetcher
	Processor    crawler.ContentProcessor
	Gate         Gate
	Throttle     Throttle
	Retry        *crawler.ExponentialRetryPolicy
	FetchTimeout time.Duration
	Clock        crawler.Clock
	// Lookup supplies frontier metadata (depth, parent) for result rows.
	Lookup func(rawURL string) (crawler.DiscoveredURL, bool)
	Logger *zap.Logger
}

// BatchResult is what Process yields per batch.
type BatchResult struct {
	Batch     crawler.Batch
	Results   []crawler.CrawlResult
	Succeeded int
	Failed    int
	Elapsed   time.Duration
	MemoryMB  float64
}

// Metrics are cumulative since the executor was built.
type Metrics struct {
	Succeeded          int             `json:"succeeded"`
	Failed             int             `json:"failed"`
	Retried            int             `json:"retried"`
	Batches            int             `json:"batches"`
	ElapsedPerBatch    []time.Duration `json:"elapsed_per_batch_ns"`
	LastMemorySampleMB float64         `json:"last_memory_sample_mb"`
}

// Executor processes batches for one job run.
type Executor struct {
	cfg     Config
	logger  *zap.Logger
	retried atomic.Int64

	mu      sync.Mutex
	metrics Metrics
}

// New validates cfg and fills defaults.
func New(cfg Config) (*Executor, error) {
	if cfg.Fetcher == nil {
		return nil, errors.New("executor: fetcher is required")
	}
	if cfg.Gate == nil {
		cfg.Gate = openGate{}
	}
	if cfg.Throttle == nil {
		cfg.Throttle = noThrottle{}
	}
	if cfg.Retry == nil {
		cfg.Retry = crawler.NewExponentialRetryPolicy(2, 0, 0)
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = 30 * time.Second
	}
	if cfg.Clock == nil {
		cfg.Clock = wallClock{}
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Executor{
		cfg:    cfg,
		logger: cfg.Logger.With(zap.String("component", "executor"), zap.String("job_id", cfg.JobID)),
	}, nil
}

// Partition splits urls into contiguous batches of size; the last may be shorter.
func Partition(urls []string, size int) []crawler.Batch {
	if size <= 0 {
		return nil
	}
	batches := make([]crawler.Batch, 0, (len(urls)+size-1)/size)
	for start := 0; start < len(urls); start += size {
		end := min(start+size, len(urls))
		batches = append(batches, crawler.Batch{Index: len(batches), URLs: urls[start:end]})
	}
	return batches
}

// Process returns a pull-based sequence of batch results. A batch is only
// admitted when the consumer asks for it, so stopping the iteration stops the work.
//
// ctx is checked before each batch. Cancelling it never interrupts a batch in
// flight: fetches run on a context detached from ctx and bounded by FetchTimeout.
// When ctx is done or the memory gate times out (crawler.ErrResourceExhausted),
// the sequence yields the error with the batch that was not run and ends.
func (e *Executor) Process(ctx context.Context, urls []string, batchSize, maxConcurrent int) iter.Seq2[BatchResult, error] {
	return func(yield func(BatchResult, error) bool) {
		if batchSize <= 0 || maxConcurrent <= 0 {
			yield(BatchResult{}, fmt.Errorf("%w: batch_size and max_concurrent must be > 0", crawler.ErrInvalidSettings))
			return
		}
		for index, start := 0, 0; start < len(urls); index, start = index+1, start+batchSize {
			batch := crawler.Batch{Index: index, URLs: urls[start:min(start+batchSize, len(urls))]}
			if err := ctx.Err(); err != nil {
				yield(BatchResult{Batch: batch}, err)
				return
			}
			mb, err := e.cfg.Gate.Await(ctx, e.cfg.Settings.MemoryThresholdMB)
			if err != nil {
				yield(BatchResult{Batch: batch, MemoryMB: mb}, err)
				return
			}
			result := e.runBatch(context.WithoutCancel(ctx), batch, maxConcurrent)
			result.MemoryMB = mb
			e.record(result)
			if !yield(result, nil) {
				return
			}
		}
	}
}

func (e *Executor) runBatch(ctx context.Context, batch crawler.Batch, maxConcurrent int) BatchResult {
	start := time.Now()
	sem := semaphore.NewWeighted(int64(maxConcurrent))
	results := make([]crawler.CrawlResult, len(batch.URLs))
	var g errgroup.Group
	for i, rawURL := range batch.URLs {
		// ctx is detached from cancellation, so Acquire only fails on programmer error.
		if err := sem.Acquire(ctx, 1); err != nil {
			results[i] = crawler.Failed(rawURL, crawler.ClassifyFetchError(rawURL, err)).Result(e.cfg.JobID, e.cfg.Clock.Now())
			continue
		}
		g.Go(func() error {
			defer sem.Release(1)
			outcome := e.FetchOne(ctx, rawURL)
			results[i] = outcome.Result(e.cfg.JobID, e.cfg.Clock.Now())
			return nil
		})
	}
	_ = g.Wait()

	out := BatchResult{Batch: batch, Results: results, Elapsed: time.Since(start)}
	for _, r := range results {
		if r.Success {
			out.Succeeded++
		} else {
			out.Failed++
		}
	}
	e.logger.Debug("batch finished",
		zap.Int("batch", batch.Index),
		zap.Int("succeeded", out.Succeeded),
		zap.Int("failed", out.Failed),
		zap.Duration("elapsed", out.Elapsed),
	)
	return out
}

// FetchOne fetches rawURL with throttling, one retry for transient failures,
// and content processing. It never panics and never returns an error: every
// failure is carried in the returned Outcome.
func (e *Executor) FetchOne(ctx context.Context, rawURL string) crawler.Outcome {
	var out crawler.Outcome
	attempts := 0
	for {
		attempts++
		out = e.attempt(ctx, rawURL)
		if out.OK() || !e.cfg.Retry.ShouldRetry(out.Err, attempts) {
			break
		}
		e.retried.Add(1)
		delay := e.cfg.Retry.Backoff(attempts)
		e.logger.Debug("retrying fetch", zap.String("url", rawURL), zap.Int("attempt", attempts), zap.Duration("backoff", delay), zap.Error(out.Err))
		if err := crawler.Sleep(ctx, delay); err != nil {
			break
		}
	}
	out.Attempts = attempts
	e.annotate(&out)
	return out
}

// Finalize turns a response fetched elsewhere (during discovery) into an Outcome
// by running it through the content processor. Error statuses become failures.
func (e *Executor) Finalize(ctx context.Context, rawURL string, resp crawler.FetchResponse) crawler.Outcome {
	var out crawler.Outcome
	if resp.StatusCode >= 400 {
		out = crawler.Failed(rawURL, &crawler.FetchError{Kind: crawler.FetchErrStatus, URL: rawURL, StatusCode: resp.StatusCode})
	} else {
		out = e.finish(ctx, rawURL, resp)
	}
	e.annotate(&out)
	return out
}

func (e *Executor) annotate(out *crawler.Outcome) {
	if e.cfg.Lookup == nil {
		return
	}
	if entry, ok := e.cfg.Lookup(out.URL); ok {
		out.Depth = entry.Depth
		out.ParentURL = entry.ParentURL
	}
}

func (e *Executor) attempt(ctx context.Context, rawURL string) (out crawler.Outcome) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("fetch panicked", zap.String("url", rawURL), zap.Any("panic", r))
			out = crawler.Failed(rawURL, &crawler.FetchError{Kind: crawler.FetchErrPanic, URL: rawURL, Err: fmt.Errorf("panic: %v", r)})
		}
	}()

	identity, err := e.cfg.Throttle.Wait(ctx, rawURL, e.cfg.Settings.RequestsPerSecond)
	if err != nil {
		return crawler.Failed(rawURL, crawler.ClassifyFetchError(rawURL, err))
	}
	fetchCtx, cancel := context.WithTimeout(ctx, e.cfg.FetchTimeout)
	defer cancel()
	resp, err := e.cfg.Fetcher.Fetch(fetchCtx, crawler.FetchRequest{
		JobID:     e.cfg.JobID,
		URL:       rawURL,
		UserAgent: identity.UserAgent,
		Timeout:   e.cfg.FetchTimeout,
		Headless:  e.cfg.Settings.Headless,
	})
	if err == nil && resp.StatusCode >= 400 {
		err = &crawler.FetchError{Kind: crawler.FetchErrStatus, URL: rawURL, StatusCode: resp.StatusCode}
	}
	if err != nil {
		e.cfg.Throttle.ReportFailure(rawURL)
		return crawler.Failed(rawURL, crawler.ClassifyFetchError(rawURL, err))
	}
	e.cfg.Throttle.ReportSuccess(rawURL)
	return e.finish(ctx, rawURL, resp)
}

func (e *Executor) finish(ctx context.Context, rawURL string, resp crawler.FetchResponse) crawler.Outcome {
	var content crawler.Content
	if e.cfg.Processor != nil {
		var err error
		content, err = e.cfg.Processor.Process(ctx, e.cfg.JobID, resp)
		if err != nil {
			return crawler.Failed(rawURL, &crawler.FetchError{Kind: crawler.FetchErrRender, URL: rawURL, Err: fmt.Errorf("process content: %w", err)})
		}
	}
	return crawler.Succeeded(rawURL, crawler.Page{Response: resp, Content: content})
}

func (e *Executor) record(res BatchResult) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.metrics.Succeeded += res.Succeeded
	e.metrics.Failed += res.Failed
	e.metrics.Batches++
	e.metrics.ElapsedPerBatch = append(e.metrics.ElapsedPerBatch, res.Elapsed)
	e.metrics.LastMemorySampleMB = res.MemoryMB
}

// Metrics returns a copy of the cumulative counters.
func (e *Executor) Metrics() Metrics {
	e.mu.Lock()
	defer e.mu.Unlock()
	m := e.metrics
	m.ElapsedPerBatch = append([]time.Duration(nil), e.metrics.ElapsedPerBatch...)
	m.Retried = int(e.retried.Load())
	return m
}

type openGate struct{}

func (openGate) Await(context.Context, int) (float64, error) { return 0, nil }

type noThrottle struct{}

func (noThrottle) Wait(context.Context, string, float64) (crawler.Identity, error) {
	return crawler.Identity{}, nil
}
func (noThrottle) ReportSuccess(string) {}
func (noThrottle) ReportFailure(string) {}

type wallClock struct{}

func (wallClock) Now() time.Time { return time.Now().UTC() }
