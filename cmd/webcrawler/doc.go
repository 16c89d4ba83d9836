// Command webcrawler runs the site crawl engine.
//
// Architecture overview:
//   - HTTP API: internal/api.Server exposes health, metrics, and job management endpoints on chi. Submissions
//     merge their settings over config.Crawler.Defaults and go to the coordinator, which persists a PENDING job
//     and enqueues it.
//   - Coordinator: a fixed pool of runners (config.Crawler.MaxJobs) takes jobs off the in-memory queue and drives
//     each through DISCOVERING and CRAWLING. Discovery is a breadth-first walk from the seed bounded by max_depth;
//     crawling runs the discovered URLs in batches through the executor.
//   - Resource governor: each batch waits for resident memory to drop below the job's threshold. A wait past the
//     admission timeout pauses the job; it resumes after a cool-down and fails after too many pauses. Each fetch
//     waits on a per-domain throttle that rotates user agents and backs off failing domains.
//   - Persistence: result rows go to the result store (memory or Postgres) after every batch, along with the job
//     record and a metrics snapshot. Page text and raw bodies go to the blob store (memory, local, or GCS). Job
//     records can live in Postgres or Redis instead.
//   - Progress: lifecycle, batch, and fetch events flow through a batching hub to log, Prometheus, and Pub/Sub sinks
//     and to the API's server-sent event stream.
//
// Operational notes:
//   - Cancellation is cooperative: the batch in flight finishes and is persisted before the job is CANCELLED.
//   - On SIGTERM running jobs are left PAUSED; the next start recovers them and skips URLs that already succeeded.
//   - Configure with a YAML file (--config) and CRAWLER_* env vars, e.g. CRAWLER_SERVER_PORT,
//     CRAWLER_STORE_BACKEND=postgres, CRAWLER_DATABASE_DSN, CRAWLER_JOBS_BACKEND=redis, CRAWLER_STORAGE_BACKEND=gcs.
//
// Usage:
//
//	webcrawler serve --config config.yaml
//	webcrawler crawl https://docs.example.com/ --max-depth 2
package main
