// Package memory provides in-memory implementations of the storage contracts
// for development and tests: content blobs, crawl results, jobs and metrics.
package memory

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/JakeFAU/site-crawler/internal/store"
)

// BlobStore stores artifacts in-memory and returns pseudo URIs.
type BlobStore struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// NewBlobStore creates a new in-memory blob store.
func NewBlobStore() *BlobStore {
	return &BlobStore{data: make(map[string][]byte)}
}

// PutObject persists a copy of data and returns a memory:// URI.
func (s *BlobStore) PutObject(_ context.Context, path string, _ string, data []byte) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[path] = append([]byte(nil), data...)
	return fmt.Sprintf("memory://%s", path), nil
}

// Object returns the stored bytes for path.
func (s *BlobStore) Object(path string) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.data[path]
	if !ok {
		return nil, false
	}
	return append([]byte(nil), data...), true
}

// GetObject resolves a memory:// URI returned by PutObject.
func (s *BlobStore) GetObject(_ context.Context, ref string) ([]byte, error) {
	path, ok := strings.CutPrefix(ref, "memory://")
	if !ok {
		return nil, fmt.Errorf("not a memory blob %q: %w", ref, store.ErrNotFound)
	}
	data, ok := s.Object(path)
	if !ok {
		return nil, fmt.Errorf("blob %s: %w", ref, store.ErrNotFound)
	}
	return data, nil
}
