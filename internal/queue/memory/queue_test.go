package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/site-crawler/internal/crawler"
)

func TestQueueEnqueueDequeue(t *testing.T) {
	t.Parallel()

	q := NewQueue(1)
	result := make(chan crawler.QueueItem, 1)
	go func() {
		item, err := q.Dequeue(context.Background())
		if err == nil {
			result <- item
		}
	}()

	require.NoError(t, q.Enqueue(context.Background(), crawler.QueueItem{JobID: "job-1", Resume: true}))
	select {
	case got := <-result:
		require.Equal(t, "job-1", got.JobID)
		require.True(t, got.Resume)
	case <-time.After(time.Second):
		t.Fatal("dequeue did not return job")
	}
}

func TestQueueCancelationErrors(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewQueue(1).Dequeue(ctx)
	require.ErrorIs(t, err, context.Canceled)

	full := NewQueue(1)
	require.NoError(t, full.Enqueue(context.Background(), crawler.QueueItem{JobID: "primed"}))
	require.Equal(t, 1, full.Len())
	require.ErrorIs(t, full.Enqueue(ctx, crawler.QueueItem{}), context.Canceled)
}

func TestQueueClose(t *testing.T) {
	t.Parallel()

	q := NewQueue(1)
	require.NoError(t, q.Enqueue(context.Background(), crawler.QueueItem{JobID: "buffered"}))

	blocked := make(chan error, 1)
	go func() { blocked <- q.Enqueue(context.Background(), crawler.QueueItem{JobID: "late"}) }()
	time.Sleep(10 * time.Millisecond)
	q.Close()
	q.Close()

	select {
	case err := <-blocked:
		require.ErrorIs(t, err, ErrClosed)
	case <-time.After(time.Second):
		t.Fatal("blocked producer was not released")
	}

	item, err := q.Dequeue(context.Background())
	require.NoError(t, err)
	require.Equal(t, "buffered", item.JobID)
	_, err = q.Dequeue(context.Background())
	require.ErrorIs(t, err, ErrClosed)
	require.ErrorIs(t, q.Enqueue(context.Background(), crawler.QueueItem{}), ErrClosed)
}
