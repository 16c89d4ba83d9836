package memory

import (
	"context"
	"slices"
	"strings"
	"sync"

	"github.com/JakeFAU/site-crawler/internal/crawler"
	"github.com/JakeFAU/site-crawler/internal/store"
)

var _ store.ResultBackend = (*ResultStore)(nil)

// ResultStore keeps crawl results in a map keyed by URL.
type ResultStore struct {
	mu   sync.RWMutex
	rows map[string]crawler.CrawlResult
}

// NewResultStore constructs an empty ResultStore.
func NewResultStore() *ResultStore {
	return &ResultStore{rows: make(map[string]crawler.CrawlResult)}
}

// EnsureSchema is a no-op for the in-memory backend.
func (s *ResultStore) EnsureSchema(context.Context) error { return nil }

// UpsertResults applies all rows under one lock; an older row never replaces a newer one.
func (s *ResultStore) UpsertResults(_ context.Context, results []crawler.CrawlResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range results {
		if cur, ok := s.rows[r.URL]; ok && cur.FetchedAt.After(r.FetchedAt) {
			continue
		}
		s.rows[r.URL] = r
	}
	return nil
}

// GetResult returns the row for url.
func (s *ResultStore) GetResult(_ context.Context, url string) (crawler.CrawlResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.rows[url]
	if !ok {
		return crawler.CrawlResult{}, store.ErrNotFound
	}
	return r, nil
}

// ListResultsByJob returns rows last written by jobID ordered by URL.
func (s *ResultStore) ListResultsByJob(_ context.Context, jobID string) ([]crawler.CrawlResult, error) {
	s.mu.RLock()
	out := make([]crawler.CrawlResult, 0)
	for _, r := range s.rows {
		if r.JobID == jobID {
			out = append(out, r)
		}
	}
	s.mu.RUnlock()
	slices.SortFunc(out, func(a, b crawler.CrawlResult) int { return strings.Compare(a.URL, b.URL) })
	return out, nil
}

// LoadResultKeys returns the success flag and fetch time of every row.
func (s *ResultStore) LoadResultKeys(context.Context) (map[string]store.ResultKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make(map[string]store.ResultKey, len(s.rows))
	for url, r := range s.rows {
		keys[url] = store.ResultKey{Success: r.Success, FetchedAt: r.FetchedAt}
	}
	return keys, nil
}

// Len reports the number of stored rows.
func (s *ResultStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.rows)
}
