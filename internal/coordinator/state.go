package coordinator

import (
	"errors"
	"fmt"
	"time"

	"github.com/JakeFAU/site-crawler/internal/crawler"
)

// ErrInvalidTransition is returned when a job is asked to move along an edge
// the lifecycle does not allow.
var ErrInvalidTransition = errors.New("invalid job transition")

var transitions = map[crawler.JobStatus][]crawler.JobStatus{
	crawler.JobStatusPending:     {crawler.JobStatusDiscovering, crawler.JobStatusCancelled, crawler.JobStatusFailed},
	crawler.JobStatusDiscovering: {crawler.JobStatusCrawling, crawler.JobStatusPaused, crawler.JobStatusFailed, crawler.JobStatusCancelled},
	crawler.JobStatusCrawling:    {crawler.JobStatusPaused, crawler.JobStatusCompleted, crawler.JobStatusFailed, crawler.JobStatusCancelled},
	crawler.JobStatusPaused:      {crawler.JobStatusCrawling, crawler.JobStatusFailed, crawler.JobStatusCancelled},
}

// CanTransition reports whether from -> to is a lifecycle edge.
func CanTransition(from, to crawler.JobStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// advance moves job to status `to`, stamping UpdatedAt and, for terminal
// states, CompletedAt.
func advance(job *crawler.CrawlJob, to crawler.JobStatus, now time.Time) error {
	if !CanTransition(job.Status, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, job.Status, to)
	}
	job.Status = to
	job.UpdatedAt = now
	if to.Terminal() {
		completed := now
		job.CompletedAt = &completed
	}
	return nil
}
