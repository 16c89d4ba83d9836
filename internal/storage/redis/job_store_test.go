package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/site-crawler/internal/crawler"
	"github.com/JakeFAU/site-crawler/internal/store"
)

func newTestStore(t *testing.T, ttl time.Duration) (*JobStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	s, err := NewJobStore(client, Config{Prefix: "test:", TTL: ttl})
	require.NoError(t, err)
	return s, mr
}

var created = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func TestJobStoreRoundTrip(t *testing.T) {
	t.Parallel()

	s, mr := newTestStore(t, 0)
	ctx := context.Background()
	job := crawler.CrawlJob{
		ID:        "job-1",
		SeedURL:   "https://docs.example.com",
		Status:    crawler.JobStatusPending,
		Settings:  crawler.DefaultSettings(),
		CreatedAt: created,
		UpdatedAt: created,
	}

	require.NoError(t, s.CreateJob(ctx, job))
	require.True(t, mr.Exists("test:job:job-1"))
	require.ErrorIs(t, s.CreateJob(ctx, job), store.ErrConflict)

	job.Status = crawler.JobStatusCompleted
	job.Progress = crawler.Progress{Processed: 2, Total: 2}
	require.NoError(t, s.UpdateJob(ctx, job))

	got, err := s.GetJob(ctx, job.ID)
	require.NoError(t, err)
	require.Equal(t, job, got)

	_, err = s.GetJob(ctx, "missing")
	require.ErrorIs(t, err, store.ErrNotFound)
	require.ErrorIs(t, s.UpdateJob(ctx, crawler.CrawlJob{ID: "missing"}), store.ErrNotFound)
	require.NoError(t, s.Ping(ctx))
}

func TestJobStoreListJobs(t *testing.T) {
	t.Parallel()

	s, _ := newTestStore(t, 0)
	ctx := context.Background()
	statuses := []crawler.JobStatus{crawler.JobStatusCompleted, crawler.JobStatusFailed, crawler.JobStatusCompleted}
	for i, status := range statuses {
		require.NoError(t, s.CreateJob(ctx, crawler.CrawlJob{
			ID:        string(rune('a' + i)),
			Status:    status,
			CreatedAt: created.Add(time.Duration(i) * time.Minute),
		}))
	}

	all, err := s.ListJobs(ctx, nil, 0, 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	require.Equal(t, "c", all[0].ID)
	require.Equal(t, "a", all[2].ID)

	completed := crawler.JobStatusCompleted
	done, err := s.ListJobs(ctx, &completed, 1, 1)
	require.NoError(t, err)
	require.Len(t, done, 1)
	require.Equal(t, "a", done[0].ID)
}

func TestJobStorePrunesExpiredJobs(t *testing.T) {
	t.Parallel()

	s, mr := newTestStore(t, time.Minute)
	ctx := context.Background()
	require.NoError(t, s.CreateJob(ctx, crawler.CrawlJob{ID: "old", Status: crawler.JobStatusCompleted, CreatedAt: created}))
	require.Equal(t, time.Minute, mr.TTL("test:job:old"))

	mr.FastForward(2 * time.Minute)
	jobs, err := s.ListJobs(ctx, nil, 0, 0)
	require.NoError(t, err)
	require.Empty(t, jobs)

	remaining, err := s.client.ZCard(ctx, "test:jobs").Result()
	require.NoError(t, err)
	require.Zero(t, remaining, "expired ids are pruned from the index")
}

func TestJobStoreKeepsActiveJobsPastTTL(t *testing.T) {
	t.Parallel()

	s, mr := newTestStore(t, time.Minute)
	ctx := context.Background()
	job := crawler.CrawlJob{ID: "long", Status: crawler.JobStatusPending, CreatedAt: created}
	require.NoError(t, s.CreateJob(ctx, job))
	require.Zero(t, mr.TTL("test:job:long"))

	job.Status = crawler.JobStatusCrawling
	require.NoError(t, s.UpdateJob(ctx, job))
	mr.FastForward(2 * time.Hour)
	got, err := s.GetJob(ctx, "long")
	require.NoError(t, err)
	require.Equal(t, crawler.JobStatusCrawling, got.Status)

	job.Status = crawler.JobStatusPaused
	require.NoError(t, s.UpdateJob(ctx, job))
	mr.FastForward(2 * time.Hour)
	jobs, err := s.ListJobs(ctx, nil, 0, 0)
	require.NoError(t, err)
	require.Len(t, jobs, 1, "a paused job waiting to resume is not pruned")

	job.Status = crawler.JobStatusCompleted
	require.NoError(t, s.UpdateJob(ctx, job))
	require.Equal(t, time.Minute, mr.TTL("test:job:long"))
	mr.FastForward(2 * time.Minute)
	_, err = s.GetJob(ctx, "long")
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestNewJobStoreRequiresClient(t *testing.T) {
	t.Parallel()

	_, err := NewJobStore(nil, Config{})
	require.Error(t, err)
}
