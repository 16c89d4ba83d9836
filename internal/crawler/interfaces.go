package crawler

import (
	"context"
	"time"
)

// Fetcher fetches a URL and returns the body plus extracted links and media.
type Fetcher interface {
	Fetch(ctx context.Context, request FetchRequest) (FetchResponse, error)
}

// ContentProcessor turns raw fetch output into normalized content and a content reference.
type ContentProcessor interface {
	Process(ctx context.Context, jobID string, response FetchResponse) (Content, error)
}

// BlobStore writes raw artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data []byte) (string, error)
}

// BlobReader loads an artifact by the URI PutObject returned.
type BlobReader interface {
	GetObject(ctx context.Context, ref string) ([]byte, error)
}

// Publisher pushes job notifications to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Queue provides enqueue/dequeue semantics for crawl jobs.
type Queue interface {
	Enqueue(ctx context.Context, item QueueItem) error
	Dequeue(ctx context.Context) (QueueItem, error)
}

// Hasher computes digests used to address stored content.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces job IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}

// QueueItem wraps a job ready to run. Resume is set when the item was
// re-enqueued after a pause.
type QueueItem struct {
	JobID    string
	Attempt  int
	Resume   bool
	Enqueued time.Time
}
