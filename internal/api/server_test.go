package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/JakeFAU/site-crawler/internal/content"
	"github.com/JakeFAU/site-crawler/internal/coordinator"
	"github.com/JakeFAU/site-crawler/internal/crawler"
	"github.com/JakeFAU/site-crawler/internal/progress"
	queuemem "github.com/JakeFAU/site-crawler/internal/queue/memory"
	"github.com/JakeFAU/site-crawler/internal/resultstore"
	"github.com/JakeFAU/site-crawler/internal/storage/memory"
	"github.com/JakeFAU/site-crawler/internal/store"
)

func TestServer_SubmitJob_MergesDefaults(t *testing.T) {
	t.Parallel()

	jobs := newFakeJobs()
	server := newTestServer(t, jobs)

	body := `{"seed_url":"https://docs.example.com/","settings":{"max_depth":1,"exclude_patterns":["/private/"]}}`
	rec := serve(server, http.MethodPost, "/v1/jobs", body)

	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Contains(t, rec.Body.String(), "job-1")
	submitted := jobs.lastSubmitted()
	require.Equal(t, "https://docs.example.com/", submitted.seed)
	require.Equal(t, 1, submitted.settings.MaxDepth)
	require.Equal(t, crawler.DefaultSettings().BatchSize, submitted.settings.BatchSize)
	require.Equal(t, []string{"/private/"}, submitted.settings.ExcludePatterns)
}

func TestServer_SubmitJob_BadRequests(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		body string
	}{
		{name: "invalid json", body: `{`},
		{name: "missing seed", body: `{"settings":{}}`},
		{name: "unknown setting", body: `{"seed_url":"https://a.example","settings":{"bogus":1}}`},
		{name: "rejected settings", body: `{"seed_url":"https://a.example","settings":{"batch_size":0}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			rec := serve(newTestServer(t, newFakeJobs()), http.MethodPost, "/v1/jobs", tt.body)
			require.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestServer_GetStatus(t *testing.T) {
	t.Parallel()

	jobs := newFakeJobs()
	jobs.put(crawler.CrawlJob{ID: "job-a", Status: crawler.JobStatusCrawling, Progress: crawler.Progress{Processed: 1, Total: 4}})
	server := newTestServer(t, jobs)

	rec := serve(server, http.MethodGet, "/v1/jobs/job-a/status", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var view coordinator.StatusView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	require.Equal(t, crawler.JobStatusCrawling, view.Status)
	require.InDelta(t, 0.25, view.Progress, 1e-9)

	rec = serve(server, http.MethodGet, "/v1/jobs/job-a", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"job_id":"job-a"`)
}

func TestServer_UnknownJobIs404(t *testing.T) {
	t.Parallel()

	server := newTestServer(t, newFakeJobs())
	for _, path := range []string{
		"/v1/jobs/missing", "/v1/jobs/missing/status", "/v1/jobs/missing/results",
		"/v1/jobs/missing/metrics", "/v1/jobs/missing/discovered", "/v1/jobs/missing/content?url=https://a.example/",
	} {
		rec := serve(server, http.MethodGet, path, "")
		require.Equal(t, http.StatusNotFound, rec.Code, path)
	}
	rec := serve(server, http.MethodPost, "/v1/jobs/missing/cancel", "")
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_CancelFinishedJobConflicts(t *testing.T) {
	t.Parallel()

	jobs := newFakeJobs()
	jobs.put(crawler.CrawlJob{ID: "done", Status: crawler.JobStatusCompleted})
	jobs.put(crawler.CrawlJob{ID: "live", Status: crawler.JobStatusCrawling})
	server := newTestServer(t, jobs)

	rec := serve(server, http.MethodPost, "/v1/jobs/done/cancel", "")
	require.Equal(t, http.StatusConflict, rec.Code)

	rec = serve(server, http.MethodPost, "/v1/jobs/live/cancel", "")
	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Equal(t, []string{"live"}, jobs.cancelled())
}

func TestServer_ListJobs(t *testing.T) {
	t.Parallel()

	jobs := newFakeJobs()
	jobs.put(crawler.CrawlJob{ID: "a", Status: crawler.JobStatusPaused})
	jobs.put(crawler.CrawlJob{ID: "b", Status: crawler.JobStatusCompleted})
	server := newTestServer(t, jobs)

	rec := serve(server, http.MethodGet, "/v1/jobs?status=paused&limit=10", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var resp listJobsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Jobs, 1)
	require.Equal(t, "a", resp.Jobs[0].ID)
	require.Equal(t, 10, resp.Limit)

	for _, query := range []string{"?status=sleeping", "?limit=0", "?offset=-1"} {
		rec = serve(server, http.MethodGet, "/v1/jobs"+query, "")
		require.Equal(t, http.StatusBadRequest, rec.Code, query)
	}
}

func TestServer_StoreErrorIs500(t *testing.T) {
	t.Parallel()

	jobs := newFakeJobs()
	jobs.put(crawler.CrawlJob{ID: "job"})
	jobs.listErr = &crawler.StoreError{Op: "list results", Err: errors.New("boom")}
	server := newTestServer(t, jobs)

	rec := serve(server, http.MethodGet, "/v1/jobs/job/results", "")
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.NotContains(t, rec.Body.String(), "boom")
}

func TestServer_Discovered(t *testing.T) {
	t.Parallel()

	jobs := newFakeJobs()
	jobs.put(crawler.CrawlJob{ID: "job-a", Status: crawler.JobStatusCompleted})
	jobs.put(crawler.CrawlJob{ID: "job-b", Status: crawler.JobStatusPending})
	jobs.discovered["job-a"] = []crawler.DiscoveredURL{
		{URL: "https://docs.example.com/", OriginDomain: "docs.example.com"},
		{URL: "https://docs.example.com/a", Depth: 1, OriginDomain: "docs.example.com", ParentURL: "https://docs.example.com/"},
	}
	server := newTestServer(t, jobs)

	rec := serve(server, http.MethodGet, "/v1/jobs/job-a/discovered", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		JobID string                  `json:"job_id"`
		Count int                     `json:"count"`
		URLs  []crawler.DiscoveredURL `json:"urls"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, 2, resp.Count)
	require.Equal(t, jobs.discovered["job-a"], resp.URLs)

	rec = serve(server, http.MethodGet, "/v1/jobs/job-b/discovered", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"job_id":"job-b","count":0,"urls":[]}`, rec.Body.String())
}

func TestServer_Content(t *testing.T) {
	t.Parallel()

	jobs := newFakeJobs()
	jobs.put(crawler.CrawlJob{ID: "job-a", Status: crawler.JobStatusCompleted})
	jobs.pages["job-a https://docs.example.com/a"] = coordinator.PageContent{
		URL: "https://docs.example.com/a", ContentRef: "memory://content/job-a/ab/abc.txt", Data: []byte("page a text"),
	}
	server := newTestServer(t, jobs)

	rec := serve(server, http.MethodGet, "/v1/jobs/job-a/content?url="+url.QueryEscape("https://docs.example.com/a"), "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "text/plain; charset=utf-8", rec.Header().Get("Content-Type"))
	require.Equal(t, "memory://content/job-a/ab/abc.txt", rec.Header().Get("X-Content-Ref"))
	require.Equal(t, "page a text", rec.Body.String())

	rec = serve(server, http.MethodGet, "/v1/jobs/job-a/content?url="+url.QueryEscape("https://docs.example.com/b"), "")
	require.Equal(t, http.StatusNotFound, rec.Code)
	require.Contains(t, rec.Body.String(), "content not found")

	rec = serve(server, http.MethodGet, "/v1/jobs/job-a/content", "")
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_ResultStats(t *testing.T) {
	t.Parallel()

	jobs := newFakeJobs()
	jobs.stats = resultstore.Stats{SuccessCount: 3, FailureCount: 1, TotalCached: 4}
	rec := serve(newTestServer(t, jobs), http.MethodGet, "/v1/results/stats", "")

	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"success_count":3,"failure_count":1,"total_cached":4}`, rec.Body.String())
}

func TestServer_BearerAuth(t *testing.T) {
	t.Parallel()

	server := NewServer(Options{Jobs: newFakeJobs(), AuthToken: "secret", Logger: zaptest.NewLogger(t)})

	rec := serve(server, http.MethodGet, "/v1/results/stats", "")
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/v1/results/stats", nil)
	req.Header.Set("Authorization", "Basic c2VjcmV0")
	rec = httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/v1/results/stats", nil)
	req.Header.Set("Authorization", "Bearer secret")
	rec = httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	// Probes stay open.
	rec = serve(server, http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestServer_Readyz(t *testing.T) {
	t.Parallel()

	ready := errors.New("pool closed")
	server := NewServer(Options{
		Jobs:   newFakeJobs(),
		Ready:  func(context.Context) error { return ready },
		Logger: zaptest.NewLogger(t),
	})
	rec := serve(server, http.MethodGet, "/readyz", "")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestServer_MetricsEndpoint(t *testing.T) {
	t.Parallel()

	server := newTestServer(t, newFakeJobs())
	serve(server, http.MethodGet, "/healthz", "")
	rec := serve(server, http.MethodGet, "/metrics", "")

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "http_requests_total")
}

func TestRequestIDMiddlewareSetsHeader(t *testing.T) {
	t.Parallel()

	server := newTestServer(t, newFakeJobs())
	rec := serve(server, http.MethodGet, "/healthz", "")
	require.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-ID", "upstream-id")
	rec = httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)
	require.Equal(t, "upstream-id", rec.Header().Get("X-Request-ID"))
}

func TestServer_StreamEvents(t *testing.T) {
	t.Parallel()

	jobs := newFakeJobs()
	jobs.put(crawler.CrawlJob{ID: "job-s", Status: crawler.JobStatusCrawling})
	events := &fakeSubscriber{ch: make(chan progress.Event, 8), subscribed: make(chan struct{})}
	server := NewServer(Options{Jobs: jobs, Events: events, Logger: zaptest.NewLogger(t)})
	ts := httptest.NewServer(server.Handler())
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/v1/jobs/job-s/events", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	<-events.subscribed
	now := time.Now()
	events.ch <- progress.Event{JobID: "other", TS: now, Stage: progress.StageJobStart}
	events.ch <- progress.Event{JobID: "job-s", TS: now, Stage: progress.StageBatchDone, Batch: 0, Processed: 2, Total: 4}
	events.ch <- progress.Event{JobID: "job-s", TS: now, Stage: progress.StageJobDone, Processed: 4, Total: 4}

	var names []string
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		if name, ok := strings.CutPrefix(scanner.Text(), "event: "); ok {
			names = append(names, name)
		}
	}
	require.Equal(t, []string{"BATCH_DONE", "JOB_DONE"}, names)
}

func TestServer_StreamEventsForFinishedJob(t *testing.T) {
	t.Parallel()

	jobs := newFakeJobs()
	jobs.put(crawler.CrawlJob{ID: "job-f", Status: crawler.JobStatusFailed, LastError: "seed unreachable"})
	server := NewServer(Options{Jobs: jobs, Events: &fakeSubscriber{}, Logger: zaptest.NewLogger(t)})

	rec := serve(server, http.MethodGet, "/v1/jobs/job-f/events", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "event: status")
	require.Contains(t, rec.Body.String(), "seed unreachable")
}

func TestServer_StreamEventsJobFinishingWhileSubscribing(t *testing.T) {
	t.Parallel()

	jobs := newFakeJobs()
	jobs.put(crawler.CrawlJob{ID: "job-r", Status: crawler.JobStatusCrawling})
	events := &fakeSubscriber{
		ch: make(chan progress.Event),
		onSubscribe: func() {
			jobs.put(crawler.CrawlJob{ID: "job-r", Status: crawler.JobStatusCompleted})
		},
	}
	server := NewServer(Options{Jobs: jobs, Events: events, Logger: zaptest.NewLogger(t)})

	done := make(chan *httptest.ResponseRecorder, 1)
	go func() { done <- serve(server, http.MethodGet, "/v1/jobs/job-r/events", "") }()
	select {
	case rec := <-done:
		require.Equal(t, http.StatusOK, rec.Code)
		require.Contains(t, rec.Body.String(), "event: status")
		require.Contains(t, rec.Body.String(), string(crawler.JobStatusCompleted))
	case <-time.After(5 * time.Second):
		t.Fatal("event stream kept waiting on a finished job")
	}
}

func TestServer_EndToEndWithCoordinator(t *testing.T) {
	t.Parallel()

	jobs := memory.NewJobStore()
	results, err := resultstore.New(resultstore.Config{Backend: memory.NewResultStore(), MaxAttempts: 1})
	require.NoError(t, err)
	require.NoError(t, results.Init(context.Background()))
	blobs := memory.NewBlobStore()
	processor, err := content.New(content.Config{Blobs: blobs})
	require.NoError(t, err)
	coord, err := coordinator.New(coordinator.Config{
		Jobs:      jobs,
		Metrics:   memory.NewMetricsStore(),
		Results:   results,
		Blobs:     blobs,
		Processor: processor,
		Fetcher: staticSite{
			"https://docs.example.com/":  {"/a"},
			"https://docs.example.com/a": nil,
		},
		Queue:  queuemem.NewQueue(4),
		Retry:  crawler.NewExponentialRetryPolicy(1, time.Millisecond, time.Millisecond),
		Logger: zaptest.NewLogger(t),
	})
	require.NoError(t, err)
	t.Cleanup(coord.Close)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		coord.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	defaults := crawler.DefaultSettings()
	defaults.MaxDepth = 1
	server := NewServer(Options{Jobs: coord, Defaults: defaults, Logger: zaptest.NewLogger(t)})

	rec := serve(server, http.MethodPost, "/v1/jobs", `{"seed_url":"https://docs.example.com/","settings":{"requests_per_second":1000}}`)
	require.Equal(t, http.StatusAccepted, rec.Code)
	var submitted map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &submitted))
	jobID := submitted["job_id"]
	require.NotEmpty(t, jobID)

	require.Eventually(t, func() bool {
		rec := serve(server, http.MethodGet, "/v1/jobs/"+jobID+"/status", "")
		var view coordinator.StatusView
		if err := json.Unmarshal(rec.Body.Bytes(), &view); err != nil {
			return false
		}
		return view.Status == crawler.JobStatusCompleted
	}, 5*time.Second, 10*time.Millisecond)

	rec = serve(server, http.MethodGet, "/v1/jobs/"+jobID+"/results", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "https://docs.example.com/a")

	rec = serve(server, http.MethodGet, "/v1/jobs/"+jobID+"/discovered", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"count":2`)

	rec = serve(server, http.MethodGet, "/v1/jobs/"+jobID+"/content?url="+url.QueryEscape("https://docs.example.com/a"), "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "ok", rec.Body.String())

	rec = serve(server, http.MethodPost, "/v1/jobs/"+jobID+"/cancel", "")
	require.Equal(t, http.StatusConflict, rec.Code)
}

func TestResponseWriterHijackBehavior(t *testing.T) {
	t.Parallel()

	rw := &responseWriter{ResponseWriter: httptest.NewRecorder()}
	_, _, err := rw.Hijack()
	require.EqualError(t, err, "hijacker not supported")

	h := &hijackableRecorder{ResponseRecorder: httptest.NewRecorder()}
	rw = &responseWriter{ResponseWriter: h}
	conn, buf, err := rw.Hijack()
	require.NoError(t, err)
	require.NotNil(t, buf)
	require.NoError(t, conn.Close())
	require.NoError(t, h.CloseClient())
}

// --- helpers/fakes ---

func newTestServer(t *testing.T, jobs Jobs) *Server {
	t.Helper()
	return NewServer(Options{
		Jobs:     jobs,
		Defaults: crawler.DefaultSettings(),
		Logger:   zaptest.NewLogger(t),
	})
}

func serve(s *Server, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

type submission struct {
	seed     string
	settings crawler.Settings
}

type fakeJobs struct {
	mu          sync.Mutex
	jobs        map[string]crawler.CrawlJob
	order       []string
	submissions []submission
	cancels     []string
	listErr     error
	stats       resultstore.Stats
	discovered  map[string][]crawler.DiscoveredURL
	pages       map[string]coordinator.PageContent
}

func newFakeJobs() *fakeJobs {
	return &fakeJobs{
		jobs:       make(map[string]crawler.CrawlJob),
		discovered: make(map[string][]crawler.DiscoveredURL),
		pages:      make(map[string]coordinator.PageContent),
	}
}

func (f *fakeJobs) put(job crawler.CrawlJob) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.jobs[job.ID] = job
	f.order = append(f.order, job.ID)
}

func (f *fakeJobs) Submit(_ context.Context, seed string, settings crawler.Settings) (string, error) {
	if err := settings.Validate(); err != nil {
		return "", err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submissions = append(f.submissions, submission{seed: seed, settings: settings})
	return fmt.Sprintf("job-%d", len(f.submissions)), nil
}

func (f *fakeJobs) lastSubmitted() submission {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.submissions[len(f.submissions)-1]
}

func (f *fakeJobs) get(jobID string) (crawler.CrawlJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	job, ok := f.jobs[jobID]
	if !ok {
		return crawler.CrawlJob{}, fmt.Errorf("get job %s: %w", jobID, store.ErrNotFound)
	}
	return job, nil
}

func (f *fakeJobs) Status(_ context.Context, jobID string) (coordinator.StatusView, error) {
	job, err := f.get(jobID)
	if err != nil {
		return coordinator.StatusView{}, err
	}
	return coordinator.StatusView{JobID: job.ID, Status: job.Status, Progress: job.ProgressValue(), Error: job.LastError, Job: job}, nil
}

func (f *fakeJobs) Cancel(_ context.Context, jobID string) error {
	job, err := f.get(jobID)
	if err != nil {
		return err
	}
	if job.Status.Terminal() {
		return fmt.Errorf("cancel %s: %w", jobID, crawler.ErrJobFinished)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancels = append(f.cancels, jobID)
	return nil
}

func (f *fakeJobs) cancelled() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.cancels...)
}

func (f *fakeJobs) ListJobs(_ context.Context, status *crawler.JobStatus, limit, offset int) ([]crawler.CrawlJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []crawler.CrawlJob
	for _, id := range f.order {
		job := f.jobs[id]
		if status != nil && job.Status != *status {
			continue
		}
		out = append(out, job)
	}
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	return out[:min(limit, len(out))], nil
}

func (f *fakeJobs) ListResults(_ context.Context, jobID string) ([]crawler.CrawlResult, error) {
	if _, err := f.get(jobID); err != nil {
		return nil, err
	}
	if f.listErr != nil {
		return nil, f.listErr
	}
	return nil, nil
}

func (f *fakeJobs) Snapshots(_ context.Context, jobID string) ([]crawler.MetricsSnapshot, error) {
	if _, err := f.get(jobID); err != nil {
		return nil, err
	}
	return nil, nil
}

func (f *fakeJobs) Discovered(_ context.Context, jobID string) ([]crawler.DiscoveredURL, error) {
	if _, err := f.get(jobID); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.discovered[jobID], nil
}

func (f *fakeJobs) Content(_ context.Context, jobID, pageURL string) (coordinator.PageContent, error) {
	if _, err := f.get(jobID); err != nil {
		return coordinator.PageContent{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	page, ok := f.pages[jobID+" "+pageURL]
	if !ok {
		return coordinator.PageContent{}, fmt.Errorf("content %s: %w", pageURL, store.ErrNotFound)
	}
	return page, nil
}

func (f *fakeJobs) ResultStats() resultstore.Stats {
	return f.stats
}

type fakeSubscriber struct {
	ch          chan progress.Event
	subscribed  chan struct{}
	onSubscribe func()
}

func (f *fakeSubscriber) Subscribe(int) (<-chan progress.Event, func()) {
	if f.onSubscribe != nil {
		f.onSubscribe()
	}
	if f.subscribed != nil {
		close(f.subscribed)
	}
	return f.ch, func() {}
}

// staticSite serves a fixed link graph.
type staticSite map[string][]string

func (s staticSite) Fetch(_ context.Context, req crawler.FetchRequest) (crawler.FetchResponse, error) {
	links, ok := s[req.URL]
	if !ok {
		return crawler.FetchResponse{URL: req.URL, StatusCode: http.StatusNotFound}, nil
	}
	return crawler.FetchResponse{
		URL:        req.URL,
		StatusCode: http.StatusOK,
		Body:       []byte("<html><body>ok</body></html>"),
		Links:      links,
	}, nil
}

type hijackableRecorder struct {
	*httptest.ResponseRecorder
	client net.Conn
}

func (h *hijackableRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	server, client := net.Pipe()
	h.client = client
	return server, bufio.NewReadWriter(bufio.NewReader(client), bufio.NewWriter(client)), nil
}

func (h *hijackableRecorder) CloseClient() error {
	if h.client != nil {
		if err := h.client.Close(); err != nil {
			return fmt.Errorf("close hijacker client: %w", err)
		}
	}
	return nil
}
