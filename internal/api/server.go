// Package api exposes the HTTP interface for the crawler service.
package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/site-crawler/internal/coordinator"
	"github.com/JakeFAU/site-crawler/internal/crawler"
	"github.com/JakeFAU/site-crawler/internal/metrics"
	"github.com/JakeFAU/site-crawler/internal/progress"
	"github.com/JakeFAU/site-crawler/internal/resultstore"
)

// Jobs is the slice of the coordinator the HTTP layer drives.
type Jobs interface {
	Submit(ctx context.Context, seed string, settings crawler.Settings) (string, error)
	Status(ctx context.Context, jobID string) (coordinator.StatusView, error)
	Cancel(ctx context.Context, jobID string) error
	ListJobs(ctx context.Context, status *crawler.JobStatus, limit, offset int) ([]crawler.CrawlJob, error)
	ListResults(ctx context.Context, jobID string) ([]crawler.CrawlResult, error)
	Snapshots(ctx context.Context, jobID string) ([]crawler.MetricsSnapshot, error)
	Discovered(ctx context.Context, jobID string) ([]crawler.DiscoveredURL, error)
	Content(ctx context.Context, jobID, url string) (coordinator.PageContent, error)
	ResultStats() resultstore.Stats
}

// Subscriber streams live progress events.
type Subscriber interface {
	Subscribe(buffer int) (<-chan progress.Event, func())
}

// Options configures a Server. Jobs is required.
type Options struct {
	Jobs   Jobs
	Events Subscriber
	// Defaults fill any setting a submission leaves out.
	Defaults crawler.Settings
	// Ready reports whether downstream dependencies are reachable.
	Ready          func(ctx context.Context) error
	AuthToken      string
	RequestTimeout time.Duration
	Logger         *zap.Logger
}

// Server wires HTTP handlers to the coordinator.
type Server struct {
	router chi.Router
	opts   Options
	logger *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 60 * time.Second
	}
	s := &Server{
		opts:   opts,
		logger: opts.Logger.With(zap.String("component", "api")),
	}
	metrics.Init()

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)
	r.Use(metrics.Middleware)

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Handle("/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		if opts.AuthToken != "" {
			r.Use(bearerAuthMiddleware(opts.AuthToken))
		}
		timeout := timeoutMiddleware(opts.RequestTimeout)
		r.With(timeout).Get("/results/stats", s.resultStats)
		r.Route("/jobs", func(r chi.Router) {
			r.With(timeout).Post("/", s.submitJob)
			r.With(timeout).Get("/", s.listJobs)
			r.Route("/{job_id}", func(r chi.Router) {
				// Event streams outlive the request timeout.
				r.Get("/events", s.streamEvents)
				r.Group(func(r chi.Router) {
					r.Use(timeout)
					r.Get("/", s.getJob)
					r.Get("/status", s.getJobStatus)
					r.Post("/cancel", s.cancelJob)
					r.Get("/results", s.listResults)
					r.Get("/metrics", s.listSnapshots)
					r.Get("/discovered", s.listDiscovered)
					r.Get("/content", s.getContent)
				})
			})
		})
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	if s.opts.Ready != nil {
		if err := s.opts.Ready(r.Context()); err != nil {
			s.logger.Warn("readiness check failed", zap.Error(err))
			writeError(w, http.StatusServiceUnavailable, "not ready")
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get("X-Request-ID")
		if reqID == "" {
			reqID = uuid.NewString()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)
		s.logger.Info("request completed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.status),
			zap.Int64("duration_ms", time.Since(start).Milliseconds()),
			zap.String("request_id", requestID(r.Context())),
		)
	})
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("panic recovered", zap.Any("error", rec), zap.String("path", r.URL.Path))
				writeError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	if err != nil {
		return n, fmt.Errorf("write response: %w", err)
	}
	return n, nil
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := rw.ResponseWriter.(http.Hijacker); ok {
		conn, buf, err := h.Hijack()
		if err != nil {
			return nil, nil, fmt.Errorf("hijack connection: %w", err)
		}
		return conn, buf, nil
	}
	return nil, nil, errors.New("hijacker not supported")
}

type requestIDKey struct{}

func requestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

// bearerAuthMiddleware accepts "Authorization: Bearer <token>" or X-API-Key.
func bearerAuthMiddleware(expected string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("X-API-Key")
			if auth := r.Header.Get("Authorization"); auth != "" {
				token, ok := strings.CutPrefix(auth, "Bearer ")
				if !ok {
					writeError(w, http.StatusUnauthorized, "unauthorized")
					return
				}
				key = token
			}
			if key != expected {
				writeError(w, http.StatusUnauthorized, "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
