package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/site-crawler/internal/crawler"
	"github.com/JakeFAU/site-crawler/internal/store"
)

const jobColumns = `job_id, status, seed_url, settings, processed, total, current_batch,
	total_batches, pause_cycles, COALESCE(error, ''), created_at, updated_at, completed_at`

// CreateJob inserts a new job row.
func (s *Store) CreateJob(ctx context.Context, job crawler.CrawlJob) error {
	settings, err := json.Marshal(job.Settings)
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}
	query := fmt.Sprintf(`
INSERT INTO %s (
	job_id, status, seed_url, settings, progress, processed, total,
	current_batch, total_batches, pause_cycles, error, created_at, updated_at, completed_at
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,NULLIF($11,''),$12,$13,$14
)
ON CONFLICT (job_id) DO NOTHING`, s.jobs)
	tag, err := s.pool.Exec(ctx, query,
		job.ID,
		string(job.Status),
		job.SeedURL,
		settings,
		job.ProgressValue(),
		job.Progress.Processed,
		job.Progress.Total,
		job.CurrentBatch,
		job.TotalBatches,
		job.PauseCycles,
		job.LastError,
		job.CreatedAt.UTC(),
		job.UpdatedAt.UTC(),
		job.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrConflict
	}
	return nil
}

// UpdateJob overwrites the mutable columns of an existing job.
func (s *Store) UpdateJob(ctx context.Context, job crawler.CrawlJob) error {
	query := fmt.Sprintf(`
UPDATE %s SET
	status = $2,
	progress = $3,
	processed = $4,
	total = $5,
	current_batch = $6,
	total_batches = $7,
	pause_cycles = $8,
	error = NULLIF($9,''),
	updated_at = $10,
	completed_at = $11
WHERE job_id = $1`, s.jobs)
	tag, err := s.pool.Exec(ctx, query,
		job.ID,
		string(job.Status),
		job.ProgressValue(),
		job.Progress.Processed,
		job.Progress.Total,
		job.CurrentBatch,
		job.TotalBatches,
		job.PauseCycles,
		job.LastError,
		job.UpdatedAt.UTC(),
		job.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("update job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

// GetJob loads a job by ID.
func (s *Store) GetJob(ctx context.Context, jobID string) (crawler.CrawlJob, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE job_id = $1`, jobColumns, s.jobs)
	job, err := scanJob(s.pool.QueryRow(ctx, query, jobID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return crawler.CrawlJob{}, store.ErrNotFound
		}
		return crawler.CrawlJob{}, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

// ListJobs returns jobs newest first. A non-positive limit means no limit.
func (s *Store) ListJobs(ctx context.Context, status *crawler.JobStatus, limit, offset int) ([]crawler.CrawlJob, error) {
	var statusArg, limitArg any
	if status != nil {
		statusArg = string(*status)
	}
	if limit > 0 {
		limitArg = limit
	}
	query := fmt.Sprintf(`
SELECT %s FROM %s
WHERE ($1::text IS NULL OR status = $1)
ORDER BY created_at DESC, job_id DESC
LIMIT $2 OFFSET $3`, jobColumns, s.jobs)
	rows, err := s.pool.Query(ctx, query, statusArg, limitArg, max(offset, 0))
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	out := make([]crawler.CrawlJob, 0)
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		out = append(out, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate jobs: %w", err)
	}
	return out, nil
}

func scanJob(row pgx.Row) (crawler.CrawlJob, error) {
	var (
		job         crawler.CrawlJob
		status      string
		settings    []byte
		completedAt *time.Time
	)
	if err := row.Scan(
		&job.ID,
		&status,
		&job.SeedURL,
		&settings,
		&job.Progress.Processed,
		&job.Progress.Total,
		&job.CurrentBatch,
		&job.TotalBatches,
		&job.PauseCycles,
		&job.LastError,
		&job.CreatedAt,
		&job.UpdatedAt,
		&completedAt,
	); err != nil {
		return crawler.CrawlJob{}, err
	}
	if len(settings) > 0 {
		if err := json.Unmarshal(settings, &job.Settings); err != nil {
			return crawler.CrawlJob{}, fmt.Errorf("decode settings: %w", err)
		}
	}
	job.Status = crawler.JobStatus(status)
	job.CreatedAt = job.CreatedAt.UTC()
	job.UpdatedAt = job.UpdatedAt.UTC()
	if completedAt != nil {
		ts := completedAt.UTC()
		job.CompletedAt = &ts
	}
	return job, nil
}
