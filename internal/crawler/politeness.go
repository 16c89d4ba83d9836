package crawler

import (
	"context"
	"sync"
	"time"
)

// VisitSet provides thread-safe seen-URL tracking to prevent re-enqueueing.
type VisitSet struct {
	seen sync.Map
}

// NewVisitSet constructs an empty VisitSet.
func NewVisitSet() *VisitSet {
	return &VisitSet{}
}

// MarkIfNew stores the URL if it has not been seen before and returns true.
func (t *VisitSet) MarkIfNew(url string) bool {
	if url == "" {
		return false
	}
	_, loaded := t.seen.LoadOrStore(url, struct{}{})
	return !loaded
}

// Seen reports whether url was marked.
func (t *VisitSet) Seen(url string) bool {
	_, ok := t.seen.Load(url)
	return ok
}

// Sleep waits for delay or until ctx is done, whichever comes first.
func Sleep(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
