package memory

import (
	"context"
	"slices"
	"sync"

	"github.com/JakeFAU/site-crawler/internal/crawler"
	"github.com/JakeFAU/site-crawler/internal/store"
)

var _ store.JobRepository = (*JobStore)(nil)

// JobStore provides an in-memory job repository for development/testing.
type JobStore struct {
	mu   sync.RWMutex
	jobs map[string]crawler.CrawlJob
}

// NewJobStore constructs a JobStore.
func NewJobStore() *JobStore {
	return &JobStore{jobs: make(map[string]crawler.CrawlJob)}
}

// CreateJob stores a new job.
func (s *JobStore) CreateJob(_ context.Context, job crawler.CrawlJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[job.ID]; exists {
		return store.ErrConflict
	}
	s.jobs[job.ID] = cloneJob(job)
	return nil
}

// UpdateJob replaces an existing job.
func (s *JobStore) UpdateJob(_ context.Context, job crawler.CrawlJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[job.ID]; !exists {
		return store.ErrNotFound
	}
	s.jobs[job.ID] = cloneJob(job)
	return nil
}

// GetJob fetches a job by ID.
func (s *JobStore) GetJob(_ context.Context, jobID string) (crawler.CrawlJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return crawler.CrawlJob{}, store.ErrNotFound
	}
	return cloneJob(job), nil
}

// ListJobs returns jobs newest first.
func (s *JobStore) ListJobs(_ context.Context, status *crawler.JobStatus, limit, offset int) ([]crawler.CrawlJob, error) {
	s.mu.RLock()
	out := make([]crawler.CrawlJob, 0, len(s.jobs))
	for _, job := range s.jobs {
		if status != nil && job.Status != *status {
			continue
		}
		out = append(out, cloneJob(job))
	}
	s.mu.RUnlock()

	slices.SortFunc(out, func(a, b crawler.CrawlJob) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		switch {
		case a.ID > b.ID:
			return -1
		case a.ID < b.ID:
			return 1
		}
		return 0
	})
	return page(out, limit, offset), nil
}

func cloneJob(job crawler.CrawlJob) crawler.CrawlJob {
	job.Settings.ExcludePatterns = slices.Clone(job.Settings.ExcludePatterns)
	if job.CompletedAt != nil {
		ts := *job.CompletedAt
		job.CompletedAt = &ts
	}
	return job
}

func page[T any](items []T, limit, offset int) []T {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(items) {
		return []T{}
	}
	items = items[offset:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}
