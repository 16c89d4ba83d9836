package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/site-crawler/internal/crawler"
	"github.com/JakeFAU/site-crawler/internal/store"
)

func TestResultStoreUpsertIsIdempotent(t *testing.T) {
	t.Parallel()

	results := NewResultStore()
	ctx := context.Background()
	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	row := crawler.CrawlResult{URL: "https://docs.example.com/a", JobID: "job-1", Success: true, FetchedAt: t0}

	require.NoError(t, results.UpsertResults(ctx, []crawler.CrawlResult{row}))
	require.NoError(t, results.UpsertResults(ctx, []crawler.CrawlResult{row}))
	require.Equal(t, 1, results.Len())

	got, err := results.GetResult(ctx, row.URL)
	require.NoError(t, err)
	require.Equal(t, row, got)
}

func TestResultStoreLaterFetchWins(t *testing.T) {
	t.Parallel()

	results := NewResultStore()
	ctx := context.Background()
	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	url := "https://docs.example.com/a"

	newer := crawler.CrawlResult{URL: url, JobID: "job-2", Success: false, ErrorMessage: "boom", FetchedAt: t0.Add(time.Minute)}
	older := crawler.CrawlResult{URL: url, JobID: "job-1", Success: true, FetchedAt: t0}
	require.NoError(t, results.UpsertResults(ctx, []crawler.CrawlResult{newer}))
	require.NoError(t, results.UpsertResults(ctx, []crawler.CrawlResult{older}))

	got, err := results.GetResult(ctx, url)
	require.NoError(t, err)
	require.Equal(t, "job-2", got.JobID)

	keys, err := results.LoadResultKeys(ctx)
	require.NoError(t, err)
	require.Equal(t, store.ResultKey{Success: false, FetchedAt: newer.FetchedAt}, keys[url])

	byJob, err := results.ListResultsByJob(ctx, "job-1")
	require.NoError(t, err)
	require.Empty(t, byJob)

	_, err = results.GetResult(ctx, "https://docs.example.com/missing")
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestMetricsStoreOrdersSnapshots(t *testing.T) {
	t.Parallel()

	metrics := NewMetricsStore()
	ctx := context.Background()
	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, metrics.AppendSnapshot(ctx, crawler.MetricsSnapshot{JobID: "j", Timestamp: t0.Add(time.Second), Processed: 2}))
	require.NoError(t, metrics.AppendSnapshot(ctx, crawler.MetricsSnapshot{JobID: "j", Timestamp: t0, Processed: 1}))
	require.ErrorIs(t, metrics.AppendSnapshot(ctx, crawler.MetricsSnapshot{JobID: "j", Timestamp: t0}), store.ErrConflict)

	got, err := metrics.ListSnapshots(ctx, "j")
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, 1, got[0].Processed)
	require.Equal(t, 2, got[1].Processed)

	none, err := metrics.ListSnapshots(ctx, "other")
	require.NoError(t, err)
	require.Empty(t, none)
}
