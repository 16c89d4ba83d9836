package store

import (
	"context"
	"errors"
	"time"

	"github.com/JakeFAU/site-crawler/internal/crawler"
)

var (
	// ErrNotFound signals that the requested record does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrConflict signals that a record with the same key already exists.
	ErrConflict = errors.New("record already exists")
)

// ResultKey is the mirror entry kept for every persisted result row.
type ResultKey struct {
	Success   bool
	FetchedAt time.Time
}

// ResultBackend persists crawl results keyed by URL.
type ResultBackend interface {
	// EnsureSchema creates the backing tables if needed. It must be idempotent.
	EnsureSchema(ctx context.Context) error
	// UpsertResults writes all rows atomically. For an existing URL the row with
	// the later FetchedAt wins; ties go to the incoming row.
	UpsertResults(ctx context.Context, results []crawler.CrawlResult) error
	// GetResult loads one row or returns ErrNotFound.
	GetResult(ctx context.Context, url string) (crawler.CrawlResult, error)
	// ListResultsByJob returns the rows last written by jobID, ordered by URL.
	ListResultsByJob(ctx context.Context, jobID string) ([]crawler.CrawlResult, error)
	// LoadResultKeys returns every persisted URL with its success flag.
	LoadResultKeys(ctx context.Context) (map[string]ResultKey, error)
}

// JobRepository persists crawl job metadata.
type JobRepository interface {
	// CreateJob inserts a new job or returns ErrConflict.
	CreateJob(ctx context.Context, job crawler.CrawlJob) error
	// UpdateJob replaces the stored job or returns ErrNotFound.
	UpdateJob(ctx context.Context, job crawler.CrawlJob) error
	// GetJob loads a single job or returns ErrNotFound.
	GetJob(ctx context.Context, jobID string) (crawler.CrawlJob, error)
	// ListJobs returns jobs newest first, filtered by optional status plus limit/offset.
	ListJobs(ctx context.Context, status *crawler.JobStatus, limit, offset int) ([]crawler.CrawlJob, error)
}

// MetricsRepository persists the append-only per-batch metrics series.
type MetricsRepository interface {
	AppendSnapshot(ctx context.Context, snapshot crawler.MetricsSnapshot) error
	// ListSnapshots returns a job's snapshots in timestamp order.
	ListSnapshots(ctx context.Context, jobID string) ([]crawler.MetricsSnapshot, error)
}

// FrontierRepository keeps the ordered URL list a job discovered, so the set a
// job crawled can be inspected after the in-memory frontier is gone.
type FrontierRepository interface {
	// SaveFrontier replaces the job's stored list.
	SaveFrontier(ctx context.Context, jobID string, urls []crawler.DiscoveredURL) error
	// ListFrontier returns the list in discovery order; unknown jobs yield an empty slice.
	ListFrontier(ctx context.Context, jobID string) ([]crawler.DiscoveredURL, error)
}
