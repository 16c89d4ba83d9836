package memory

import (
	"context"
	"slices"
	"sync"

	"github.com/JakeFAU/site-crawler/internal/crawler"
	"github.com/JakeFAU/site-crawler/internal/store"
)

var _ store.FrontierRepository = (*FrontierStore)(nil)

// FrontierStore keeps each job's discovered URL list.
type FrontierStore struct {
	mu   sync.RWMutex
	urls map[string][]crawler.DiscoveredURL
}

// NewFrontierStore constructs an empty FrontierStore.
func NewFrontierStore() *FrontierStore {
	return &FrontierStore{urls: make(map[string][]crawler.DiscoveredURL)}
}

// SaveFrontier replaces the job's list with a copy of urls.
func (s *FrontierStore) SaveFrontier(_ context.Context, jobID string, urls []crawler.DiscoveredURL) error {
	s.mu.Lock()
	s.urls[jobID] = slices.Clone(urls)
	s.mu.Unlock()
	return nil
}

// ListFrontier returns a copy of the job's list.
func (s *FrontierStore) ListFrontier(_ context.Context, jobID string) ([]crawler.DiscoveredURL, error) {
	s.mu.RLock()
	out := slices.Clone(s.urls[jobID])
	s.mu.RUnlock()
	if out == nil {
		out = []crawler.DiscoveredURL{}
	}
	return out, nil
}
