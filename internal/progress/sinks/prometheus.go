package sinks

import (
	"context"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/JakeFAU/site-crawler/internal/progress"
)

// PrometheusSink exports crawl progress via Prometheus: job lifecycle counts,
// batch throughput and per-site fetch results.
type PrometheusSink struct {
	jobsStarted   prometheus.Counter
	jobsFinished  *prometheus.CounterVec
	jobsRunning   prometheus.Gauge
	jobsPaused    prometheus.Counter
	jobRuntime    *prometheus.HistogramVec
	batches       prometheus.Counter
	batchDuration prometheus.Histogram
	batchPages    *prometheus.CounterVec

	fetchRequests *prometheus.CounterVec
	fetchBytes    *prometheus.CounterVec
	fetchDuration *prometheus.HistogramVec

	tracker *jobTracker
}

// NewPrometheusSink registers the collectors against the provided registry.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		jobsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "crawler_jobs_started_total",
			Help: "Job runs picked up by a runner, including resumes.",
		}),
		jobsFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "crawler_jobs_finished_total",
			Help: "Jobs reaching a terminal state partitioned by result.",
		}, []string{"result"}),
		jobsRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "crawler_jobs_running",
			Help: "Jobs currently discovering or crawling.",
		}),
		jobsPaused: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "crawler_jobs_paused_total",
			Help: "Times a job was paused by memory pressure.",
		}),
		jobRuntime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "crawler_job_runtime_seconds",
			Help:    "Wall time per finished job run.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200},
		}, []string{"result"}),
		batches: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "crawler_batches_total",
			Help: "Completed batches across all jobs.",
		}),
		batchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "crawler_batch_duration_seconds",
			Help:    "Wall time per batch.",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		}),
		batchPages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "crawler_batch_pages_total",
			Help: "Pages processed in batches partitioned by outcome.",
		}, []string{"outcome"}),
		fetchRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "crawler_fetch_requests_total",
			Help: "Fetch completions partitioned by site and status class.",
		}, []string{"site", "status_class"}),
		fetchBytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "crawler_fetch_bytes_total",
			Help: "Bytes downloaded per site.",
		}, []string{"site"}),
		fetchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "crawler_fetch_duration_seconds",
			Help:    "Fetch duration partitioned by site and status class.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10},
		}, []string{"site", "status_class"}),
		tracker: newJobTracker(),
	}
	for _, collector := range []prometheus.Collector{
		s.jobsStarted, s.jobsFinished, s.jobsRunning, s.jobsPaused, s.jobRuntime,
		s.batches, s.batchDuration, s.batchPages,
		s.fetchRequests, s.fetchBytes, s.fetchDuration,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the collectors from batch. It is safe for concurrent use.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		switch evt.Stage {
		case progress.StageJobStart:
			s.jobsStarted.Inc()
			if s.tracker.start(evt.JobID) {
				s.jobsRunning.Inc()
			}
		case progress.StageJobResumed:
			if s.tracker.start(evt.JobID) {
				s.jobsRunning.Inc()
			}
		case progress.StageJobPaused:
			s.jobsPaused.Inc()
			s.stopped(evt.JobID)
		case progress.StageJobDone:
			s.finish(evt, "completed")
		case progress.StageJobError:
			s.finish(evt, "failed")
		case progress.StageJobCancelled:
			s.finish(evt, "cancelled")
		case progress.StageBatchDone:
			s.batches.Inc()
			if evt.Dur > 0 {
				s.batchDuration.Observe(evt.Dur.Seconds())
			}
			s.batchPages.WithLabelValues("succeeded").Add(float64(evt.Succeeded))
			s.batchPages.WithLabelValues("failed").Add(float64(evt.Failed))
		case progress.StageFetchDone:
			s.observeFetch(evt)
		}
	}
	return nil
}

func (s *PrometheusSink) finish(evt progress.Event, result string) {
	s.jobsFinished.WithLabelValues(result).Inc()
	if evt.Dur > 0 {
		s.jobRuntime.WithLabelValues(result).Observe(evt.Dur.Seconds())
	}
	s.stopped(evt.JobID)
}

func (s *PrometheusSink) stopped(jobID string) {
	if s.tracker.complete(jobID) {
		s.jobsRunning.Dec()
	}
}

func (s *PrometheusSink) observeFetch(evt progress.Event) {
	site := evt.Site
	if site == "" {
		site = "unknown"
	}
	statusClass := string(evt.StatusClass)
	if statusClass == "" {
		statusClass = string(progress.StatusOther)
	}
	s.fetchRequests.WithLabelValues(site, statusClass).Inc()
	if evt.Bytes > 0 {
		s.fetchBytes.WithLabelValues(site).Add(float64(evt.Bytes))
	}
	if evt.Dur > 0 {
		s.fetchDuration.WithLabelValues(site, statusClass).Observe(evt.Dur.Seconds())
	}
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}

type jobTracker struct {
	mu      sync.Mutex
	running map[string]struct{}
}

func newJobTracker() *jobTracker {
	return &jobTracker{running: make(map[string]struct{})}
}

func (t *jobTracker) start(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; ok {
		return false
	}
	t.running[id] = struct{}{}
	return true
}

func (t *jobTracker) complete(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; !ok {
		return false
	}
	delete(t.running, id)
	return true
}
