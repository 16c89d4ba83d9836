// Package resultstore is the durable record of per-URL crawl outcomes. It wraps
// a store.ResultBackend with an in-memory mirror of which URLs are cached,
// per-URL write serialization, bounded retry, and a pending buffer that is
// flushed ahead of the next write when the backend stays unavailable.
package resultstore

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"slices"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/site-crawler/internal/crawler"
	"github.com/JakeFAU/site-crawler/internal/metrics"
	"github.com/JakeFAU/site-crawler/internal/store"
)

const stripeCount = 64

// Config wires a Store.
type Config struct {
	Backend store.ResultBackend
	// MaxAttempts bounds backend calls per Save. Defaults to 3.
	MaxAttempts int
	// BaseBackoff is the first retry delay; it doubles per attempt. Defaults to 200ms.
	BaseBackoff time.Duration
	Logger      *zap.Logger
}

// Stats summarizes the mirror.
type Stats struct {
	SuccessCount int `json:"success_count"`
	FailureCount int `json:"failure_count"`
	TotalCached  int `json:"total_cached"`
}

// Store is safe for concurrent use.
type Store struct {
	backend store.ResultBackend
	retry   *crawler.ExponentialRetryPolicy
	logger  *zap.Logger
	stripes [stripeCount]sync.Mutex

	initMu      sync.Mutex
	initialized bool

	mu      sync.RWMutex
	mirror  map[string]store.ResultKey
	pending []crawler.CrawlResult
}

// New builds a Store. Call Init before use; Save initializes lazily if needed.
func New(cfg Config) (*Store, error) {
	if cfg.Backend == nil {
		return nil, errors.New("resultstore: backend is required")
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.BaseBackoff <= 0 {
		cfg.BaseBackoff = 200 * time.Millisecond
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Store{
		backend: cfg.Backend,
		retry:   crawler.NewExponentialRetryPolicy(cfg.MaxAttempts, cfg.BaseBackoff, 32*cfg.BaseBackoff),
		logger:  cfg.Logger.With(zap.String("component", "resultstore")),
		mirror:  make(map[string]store.ResultKey),
	}, nil
}

// Init ensures the schema exists and rebuilds the mirror from the backend.
// It runs once; a failed Init may be retried.
func (s *Store) Init(ctx context.Context) error {
	s.initMu.Lock()
	defer s.initMu.Unlock()
	if s.initialized {
		return nil
	}
	if err := s.backend.EnsureSchema(ctx); err != nil {
		return &crawler.StoreError{Op: "ensure schema", Attempts: 1, Err: err}
	}
	keys, err := s.backend.LoadResultKeys(ctx)
	if err != nil {
		return &crawler.StoreError{Op: "load cache", Attempts: 1, Err: err}
	}
	s.mu.Lock()
	for url, key := range keys {
		s.merge(url, key)
	}
	s.mu.Unlock()
	s.initialized = true
	s.logger.Info("result cache loaded", zap.Int("urls", len(keys)))
	return nil
}

// Save upserts results. Rows buffered by an earlier failed Save are written
// first in the same call. Within one call, duplicate URLs collapse to the row
// with the latest FetchedAt. When every attempt fails the rows stay pending and
// a *crawler.StoreError is returned.
func (s *Store) Save(ctx context.Context, results []crawler.CrawlResult) error {
	if err := s.Init(ctx); err != nil {
		return err
	}

	s.mu.Lock()
	rows := collapse(append(s.pending, results...))
	s.pending = nil
	s.mu.Unlock()
	if len(rows) == 0 {
		return nil
	}

	unlock := s.lockKeys(rows)
	defer unlock()

	var err error
	attempts := 0
	for attempts < s.retry.MaxAttempts() {
		attempts++
		if err = s.backend.UpsertResults(ctx, rows); err == nil {
			break
		}
		if attempts == s.retry.MaxAttempts() || ctx.Err() != nil {
			break
		}
		metrics.ObserveStoreRetry("upsert")
		delay := s.retry.Backoff(attempts)
		s.logger.Warn("upsert failed, retrying", zap.Int("attempt", attempts), zap.Duration("backoff", delay), zap.Error(err))
		if sleepErr := crawler.Sleep(ctx, delay); sleepErr != nil {
			break
		}
	}
	if err != nil {
		s.mu.Lock()
		s.pending = collapse(append(rows, s.pending...))
		s.mu.Unlock()
		s.logger.Error("upsert failed, results buffered", zap.Int("rows", len(rows)), zap.Int("attempts", attempts), zap.Error(err))
		return &crawler.StoreError{Op: "upsert", Attempts: attempts, Err: err}
	}

	s.mu.Lock()
	for _, r := range rows {
		s.merge(r.URL, store.ResultKey{Success: r.Success, FetchedAt: r.FetchedAt})
	}
	s.mu.Unlock()
	return nil
}

// Get returns the stored row for url or store.ErrNotFound.
func (s *Store) Get(ctx context.Context, url string) (crawler.CrawlResult, error) {
	r, err := s.backend.GetResult(ctx, url)
	if err != nil {
		return crawler.CrawlResult{}, fmt.Errorf("get result %s: %w", url, err)
	}
	return r, nil
}

// ListByJob returns the rows last written by jobID.
func (s *Store) ListByJob(ctx context.Context, jobID string) ([]crawler.CrawlResult, error) {
	rows, err := s.backend.ListResultsByJob(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("list results for job %s: %w", jobID, err)
	}
	return rows, nil
}

// CachedURLs returns a copy of the set of URLs known to the backend.
func (s *Store) CachedURLs() map[string]struct{} {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]struct{}, len(s.mirror))
	for url := range s.mirror {
		out[url] = struct{}{}
	}
	return out
}

// Succeeded reports whether the latest stored row for url is a success.
func (s *Store) Succeeded(url string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.mirror[url].Success
}

// Stats counts mirror entries by outcome.
func (s *Store) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st := Stats{TotalCached: len(s.mirror)}
	for _, key := range s.mirror {
		if key.Success {
			st.SuccessCount++
		} else {
			st.FailureCount++
		}
	}
	return st
}

// Pending returns a copy of rows buffered after a failed Save.
func (s *Store) Pending() []crawler.CrawlResult {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.pending)
}

// merge must be called with mu held.
func (s *Store) merge(url string, key store.ResultKey) {
	if cur, ok := s.mirror[url]; ok && cur.FetchedAt.After(key.FetchedAt) {
		return
	}
	s.mirror[url] = key
}

// lockKeys locks the stripes covering rows in ascending order and returns the unlock func.
func (s *Store) lockKeys(rows []crawler.CrawlResult) func() {
	idx := make([]int, 0, len(rows))
	for _, r := range rows {
		idx = append(idx, stripe(r.URL))
	}
	slices.Sort(idx)
	idx = slices.Compact(idx)
	for _, i := range idx {
		s.stripes[i].Lock()
	}
	return func() {
		for _, i := range slices.Backward(idx) {
			s.stripes[i].Unlock()
		}
	}
}

func stripe(url string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(url))
	return int(h.Sum32() % stripeCount)
}

// collapse keeps the latest row per URL, in first-seen order.
func collapse(rows []crawler.CrawlResult) []crawler.CrawlResult {
	pos := make(map[string]int, len(rows))
	out := make([]crawler.CrawlResult, 0, len(rows))
	for _, r := range rows {
		if i, ok := pos[r.URL]; ok {
			if !out[i].FetchedAt.After(r.FetchedAt) {
				out[i] = r
			}
			continue
		}
		pos[r.URL] = len(out)
		out = append(out, r)
	}
	return out
}
