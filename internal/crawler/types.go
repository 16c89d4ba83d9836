package crawler

import (
	"net/http"
	"time"
)

// JobStatus represents the lifecycle state of a crawl job.
type JobStatus string

// Job status values persisted in the job repository.
const (
	JobStatusPending     JobStatus = "PENDING"
	JobStatusDiscovering JobStatus = "DISCOVERING"
	JobStatusCrawling    JobStatus = "CRAWLING"
	JobStatusPaused      JobStatus = "PAUSED"
	JobStatusCompleted   JobStatus = "COMPLETED"
	JobStatusFailed      JobStatus = "FAILED"
	JobStatusCancelled   JobStatus = "CANCELLED"
)

// Terminal reports whether no further transitions are allowed out of s.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	default:
		return false
	}
}

// Progress counts the URLs a job run has to process and how many are done.
type Progress struct {
	Processed int `json:"processed"`
	Total     int `json:"total"`
}

// Fraction returns Processed/Total in [0, 1].
func (p Progress) Fraction() float64 {
	if p.Total <= 0 {
		return 0
	}
	f := float64(p.Processed) / float64(p.Total)
	if f > 1 {
		return 1
	}
	return f
}

// CrawlJob is the metadata persisted for each submitted crawl.
type CrawlJob struct {
	ID           string     `json:"job_id"`
	SeedURL      string     `json:"seed_url"`
	Status       JobStatus  `json:"status"`
	Settings     Settings   `json:"settings"`
	Progress     Progress   `json:"progress"`
	CurrentBatch int        `json:"current_batch_index"`
	TotalBatches int        `json:"total_batches"`
	PauseCycles  int        `json:"pause_cycles"`
	LastError    string     `json:"last_error,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
}

// ProgressValue is the externally reported progress. A completed job always reports 1.
func (j CrawlJob) ProgressValue() float64 {
	if j.Status == JobStatusCompleted {
		return 1
	}
	return j.Progress.Fraction()
}

// DiscoveredURL is one admitted frontier entry.
type DiscoveredURL struct {
	URL          string `json:"url"`
	Depth        int    `json:"depth"`
	OriginDomain string `json:"origin_domain"`
	ParentURL    string `json:"parent_url,omitempty"`
}

// CrawlResult is the latest fetch outcome for a URL. URL is the primary key.
type CrawlResult struct {
	URL          string    `json:"url"`
	JobID        string    `json:"job_id"`
	Success      bool      `json:"success"`
	ContentRef   string    `json:"content_ref,omitempty"`
	ErrorMessage string    `json:"error_message,omitempty"`
	FetchedAt    time.Time `json:"fetched_at"`
	SizeBytes    int64     `json:"size_bytes,omitempty"`
	StatusCode   int       `json:"status_code,omitempty"`
	ElapsedMS    int64     `json:"elapsed_ms"`
	ParentURL    string    `json:"parent_url,omitempty"`
	Depth        int       `json:"depth"`
}

// MetricsSnapshot is appended once per completed batch and never updated.
type MetricsSnapshot struct {
	JobID          string        `json:"job_id"`
	Timestamp      time.Time     `json:"timestamp"`
	Processed      int           `json:"processed"`
	Succeeded      int           `json:"succeeded"`
	Failed         int           `json:"failed"`
	Skipped        int           `json:"skipped"`
	MemoryUsageMB  float64       `json:"memory_usage_mb"`
	ElapsedBatches int           `json:"elapsed_batches"`
	URLsPerSecond  float64       `json:"urls_per_second"`
	BatchDuration  time.Duration `json:"batch_duration_ns"`
}

// Batch is a contiguous slice of the work list. It is never persisted.
type Batch struct {
	Index int
	URLs  []string
}

// Identity is the client fingerprint chosen by the throttle for one fetch.
type Identity struct {
	UserAgent string
}

// FetchRequest captures everything needed to fetch a URL.
type FetchRequest struct {
	JobID     string
	URL       string
	UserAgent string
	Timeout   time.Duration
	Headless  bool
}

// FetchResponse is the result returned by a Fetcher implementation.
type FetchResponse struct {
	URL        string
	StatusCode int
	Headers    http.Header
	Body       []byte
	Links      []string
	MediaRefs  []string
	Duration   time.Duration
	Headless   bool
}

// Content is what the content processor derives from a fetched page.
type Content struct {
	Title string   `json:"title,omitempty"`
	Text  string   `json:"text"`
	Media []string `json:"media,omitempty"`
	Links []string `json:"links,omitempty"`
	Ref   string   `json:"content_ref,omitempty"`
}
