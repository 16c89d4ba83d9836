package memory

import (
	"context"
	"slices"
	"sync"

	"github.com/JakeFAU/site-crawler/internal/crawler"
	"github.com/JakeFAU/site-crawler/internal/store"
)

var _ store.MetricsRepository = (*MetricsStore)(nil)

// MetricsStore keeps per-job metrics snapshots in insertion order.
type MetricsStore struct {
	mu        sync.RWMutex
	snapshots map[string][]crawler.MetricsSnapshot
}

// NewMetricsStore constructs an empty MetricsStore.
func NewMetricsStore() *MetricsStore {
	return &MetricsStore{snapshots: make(map[string][]crawler.MetricsSnapshot)}
}

// AppendSnapshot records a snapshot. A duplicate (job, timestamp) pair is rejected.
func (s *MetricsStore) AppendSnapshot(_ context.Context, snapshot crawler.MetricsSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.snapshots[snapshot.JobID] {
		if existing.Timestamp.Equal(snapshot.Timestamp) {
			return store.ErrConflict
		}
	}
	s.snapshots[snapshot.JobID] = append(s.snapshots[snapshot.JobID], snapshot)
	return nil
}

// ListSnapshots returns a copy of the job's snapshots ordered by timestamp.
func (s *MetricsStore) ListSnapshots(_ context.Context, jobID string) ([]crawler.MetricsSnapshot, error) {
	s.mu.RLock()
	out := slices.Clone(s.snapshots[jobID])
	s.mu.RUnlock()
	if out == nil {
		out = []crawler.MetricsSnapshot{}
	}
	slices.SortStableFunc(out, func(a, b crawler.MetricsSnapshot) int { return a.Timestamp.Compare(b.Timestamp) })
	return out, nil
}
