package sinks

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/site-crawler/internal/progress"
)

func TestPrometheusSinkRecordsMetrics(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	sink, err := NewPrometheusSink(reg)
	require.NoError(t, err)

	now := time.Now()
	batch := []progress.Event{
		{JobID: "job-1", TS: now, Stage: progress.StageJobStart},
		{JobID: "job-1", TS: now, Stage: progress.StageFetchDone, Site: "docs.example.com", Bytes: 1024, StatusClass: progress.Status2xx, Dur: 200 * time.Millisecond},
		{JobID: "job-1", TS: now, Stage: progress.StageBatchDone, Succeeded: 2, Failed: 1, Dur: time.Second},
		{JobID: "job-1", TS: now, Stage: progress.StageJobDone, Dur: 15 * time.Second},
		{JobID: "job-2", TS: now, Stage: progress.StageJobStart},
		{JobID: "job-2", TS: now, Stage: progress.StageJobPaused},
	}
	require.NoError(t, sink.Consume(context.Background(), batch))

	require.InDelta(t, 2.0, testutil.ToFloat64(sink.jobsStarted), 1e-9)
	require.InDelta(t, 1.0, testutil.ToFloat64(sink.jobsFinished.WithLabelValues("completed")), 1e-9)
	require.InDelta(t, 0.0, testutil.ToFloat64(sink.jobsRunning), 1e-9)
	require.InDelta(t, 1.0, testutil.ToFloat64(sink.jobsPaused), 1e-9)
	require.InDelta(t, 1.0, testutil.ToFloat64(sink.batches), 1e-9)
	require.InDelta(t, 2.0, testutil.ToFloat64(sink.batchPages.WithLabelValues("succeeded")), 1e-9)
	require.InDelta(t, 1.0, testutil.ToFloat64(sink.batchPages.WithLabelValues("failed")), 1e-9)
	require.InDelta(t, 1.0, testutil.ToFloat64(sink.fetchRequests.WithLabelValues("docs.example.com", "2xx")), 1e-9)
	require.InDelta(t, 1024.0, testutil.ToFloat64(sink.fetchBytes.WithLabelValues("docs.example.com")), 1e-9)
	require.Equal(t, 1, testutil.CollectAndCount(sink.fetchDuration, "crawler_fetch_duration_seconds"))
}

func TestPrometheusSinkResumeMarksRunningWithoutNewStart(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	sink, err := NewPrometheusSink(reg)
	require.NoError(t, err)

	now := time.Now()
	require.NoError(t, sink.Consume(context.Background(), []progress.Event{
		{JobID: "job-1", TS: now, Stage: progress.StageJobStart},
		{JobID: "job-1", TS: now, Stage: progress.StageJobPaused},
		{JobID: "job-1", TS: now, Stage: progress.StageJobResumed},
	}))
	require.InDelta(t, 1.0, testutil.ToFloat64(sink.jobsStarted), 1e-9)
	require.InDelta(t, 1.0, testutil.ToFloat64(sink.jobsRunning), 1e-9)

	require.NoError(t, sink.Consume(context.Background(), []progress.Event{
		{JobID: "job-1", TS: now, Stage: progress.StageJobCancelled},
	}))
	require.InDelta(t, 0.0, testutil.ToFloat64(sink.jobsRunning), 1e-9)
	require.InDelta(t, 1.0, testutil.ToFloat64(sink.jobsFinished.WithLabelValues("cancelled")), 1e-9)
}

func TestPrometheusSinkRejectsDuplicateRegistration(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	_, err := NewPrometheusSink(reg)
	require.NoError(t, err)
	_, err = NewPrometheusSink(reg)
	require.Error(t, err)
}
