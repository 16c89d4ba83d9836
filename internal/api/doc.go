// Package api hosts the HTTP server, middleware, and REST handlers for operator
// access. Notable routes:
//   - GET /healthz / readyz for Kubernetes probes.
//   - GET /metrics for Prometheus scraping.
//   - POST /v1/jobs to submit a seed URL with optional settings overrides.
//   - GET /v1/jobs/{job_id}/status, /results and /metrics for job state,
//     result rows and the per-batch metrics series.
//   - GET /v1/jobs/{job_id}/discovered for the URLs discovery produced.
//   - GET /v1/jobs/{job_id}/content?url= for a page's stored text.
//   - POST /v1/jobs/{job_id}/cancel for cooperative cancellation.
//   - GET /v1/jobs/{job_id}/events as a server-sent event stream of progress.
package api
