package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/site-crawler/internal/crawler"
	"github.com/JakeFAU/site-crawler/internal/store"
)

const (
	defaultJobsLimit = 50
	maxJobsLimit     = 500
)

type submitRequest struct {
	SeedURL  string          `json:"seed_url"`
	Settings json.RawMessage `json:"settings,omitempty"`
}

type listJobsResponse struct {
	Jobs   []crawler.CrawlJob `json:"jobs"`
	Limit  int                `json:"limit"`
	Offset int                `json:"offset"`
}

func (s *Server) submitJob(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if strings.TrimSpace(req.SeedURL) == "" {
		writeError(w, http.StatusBadRequest, "seed_url is required")
		return
	}
	settings, err := s.mergeSettings(req.Settings)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	jobID, err := s.opts.Jobs.Submit(r.Context(), req.SeedURL, settings)
	if err != nil {
		s.fail(w, "submit job", err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"job_id": jobID, "status": string(crawler.JobStatusPending)})
}

// mergeSettings overlays a partial settings document onto the defaults.
func (s *Server) mergeSettings(raw json.RawMessage) (crawler.Settings, error) {
	settings := s.opts.Defaults
	settings.ExcludePatterns = slices.Clone(settings.ExcludePatterns)
	if len(bytes.TrimSpace(raw)) == 0 {
		return settings, nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&settings); err != nil {
		return crawler.Settings{}, errors.New("invalid settings: " + err.Error())
	}
	return settings, nil
}

func (s *Server) listJobs(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := parseLimitOffset(r, defaultJobsLimit, maxJobsLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var filter *crawler.JobStatus
	if raw := r.URL.Query().Get("status"); raw != "" {
		status, err := parseStatus(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		filter = &status
	}
	jobs, err := s.opts.Jobs.ListJobs(r.Context(), filter, limit, offset)
	if err != nil {
		s.fail(w, "list jobs", err)
		return
	}
	if jobs == nil {
		jobs = []crawler.CrawlJob{}
	}
	writeJSON(w, http.StatusOK, listJobsResponse{Jobs: jobs, Limit: limit, Offset: offset})
}

func (s *Server) getJob(w http.ResponseWriter, r *http.Request) {
	view, err := s.opts.Jobs.Status(r.Context(), chi.URLParam(r, "job_id"))
	if err != nil {
		s.fail(w, "get job", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"job": view.Job})
}

func (s *Server) getJobStatus(w http.ResponseWriter, r *http.Request) {
	view, err := s.opts.Jobs.Status(r.Context(), chi.URLParam(r, "job_id"))
	if err != nil {
		s.fail(w, "get job status", err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) cancelJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	if err := s.opts.Jobs.Cancel(r.Context(), jobID); err != nil {
		s.fail(w, "cancel job", err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"job_id": jobID, "status": "cancel_requested"})
}

func (s *Server) listResults(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	results, err := s.opts.Jobs.ListResults(r.Context(), jobID)
	if err != nil {
		s.fail(w, "list results", err)
		return
	}
	if results == nil {
		results = []crawler.CrawlResult{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"job_id": jobID, "results": results})
}

func (s *Server) listSnapshots(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	snapshots, err := s.opts.Jobs.Snapshots(r.Context(), jobID)
	if err != nil {
		s.fail(w, "list metrics", err)
		return
	}
	if snapshots == nil {
		snapshots = []crawler.MetricsSnapshot{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"job_id": jobID, "snapshots": snapshots})
}

func (s *Server) listDiscovered(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	urls, err := s.opts.Jobs.Discovered(r.Context(), jobID)
	if err != nil {
		s.fail(w, "list discovered", err)
		return
	}
	if urls == nil {
		urls = []crawler.DiscoveredURL{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"job_id": jobID, "count": len(urls), "urls": urls})
}

// getContent returns the stored text of one page as plain text.
func (s *Server) getContent(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	pageURL := strings.TrimSpace(r.URL.Query().Get("url"))
	if pageURL == "" {
		writeError(w, http.StatusBadRequest, "url query parameter is required")
		return
	}
	page, err := s.opts.Jobs.Content(r.Context(), jobID, pageURL)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "content not found")
		return
	}
	if err != nil {
		s.fail(w, "get content", err)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("X-Content-Ref", page.ContentRef)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(page.Data)
}

func (s *Server) resultStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.opts.Jobs.ResultStats())
}

// fail maps domain errors onto HTTP statuses.
func (s *Server) fail(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, crawler.ErrInvalidSettings):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "job not found")
	case errors.Is(err, crawler.ErrJobFinished):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusGatewayTimeout, "request timed out")
	default:
		s.logger.Error(op+" failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, op+" failed")
	}
}

func parseLimitOffset(r *http.Request, def, maxLimit int) (int, int, error) {
	q := r.URL.Query()
	limit := def
	if limStr := q.Get("limit"); limStr != "" {
		val, err := strconv.Atoi(limStr)
		if err != nil || val <= 0 {
			return 0, 0, errors.New("invalid limit")
		}
		if val > maxLimit {
			val = maxLimit
		}
		limit = val
	}
	offset := 0
	if offStr := q.Get("offset"); offStr != "" {
		val, err := strconv.Atoi(offStr)
		if err != nil || val < 0 {
			return 0, 0, errors.New("invalid offset")
		}
		offset = val
	}
	return limit, offset, nil
}

func parseStatus(input string) (crawler.JobStatus, error) {
	status := crawler.JobStatus(strings.ToUpper(strings.TrimSpace(input)))
	switch status {
	case crawler.JobStatusPending, crawler.JobStatusDiscovering, crawler.JobStatusCrawling,
		crawler.JobStatusPaused, crawler.JobStatusCompleted, crawler.JobStatusFailed, crawler.JobStatusCancelled:
		return status, nil
	case "CANCELED":
		return crawler.JobStatusCancelled, nil
	default:
		return "", errors.New("invalid status")
	}
}

// streamEvents writes a job's progress events as server-sent events until the
// job reaches a final stage or the client goes away.
func (s *Server) streamEvents(w http.ResponseWriter, r *http.Request) {
	if s.opts.Events == nil {
		writeError(w, http.StatusServiceUnavailable, "event stream unavailable")
		return
	}
	jobID := chi.URLParam(r, "job_id")
	// Subscribe before reading the status so a job finishing in between
	// still reports its final event.
	events, unsubscribe := s.opts.Events.Subscribe(256)
	defer unsubscribe()
	view, err := s.opts.Jobs.Status(r.Context(), jobID)
	if err != nil {
		s.fail(w, "stream events", err)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()
	if view.Status.Terminal() {
		writeEvent(w, "status", view)
		flusher.Flush()
		return
	}

	keepalive := time.NewTicker(15 * time.Second)
	defer keepalive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-keepalive.C:
			if _, err := w.Write([]byte(": keepalive\n\n")); err != nil {
				return
			}
			flusher.Flush()
		case evt, ok := <-events:
			if !ok {
				return
			}
			if evt.JobID != jobID {
				continue
			}
			writeEvent(w, string(evt.Stage), evt)
			flusher.Flush()
			if evt.Stage.Final() {
				return
			}
		}
	}
}

func writeEvent(w http.ResponseWriter, name string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		zap.L().Error("encode event failed", zap.Error(err))
		return
	}
	var buf bytes.Buffer
	buf.WriteString("event: ")
	buf.WriteString(name)
	buf.WriteString("\ndata: ")
	buf.Write(data)
	buf.WriteString("\n\n")
	_, _ = w.Write(buf.Bytes())
}
