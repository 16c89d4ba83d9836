package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/site-crawler/internal/crawler"
	"github.com/JakeFAU/site-crawler/internal/store"
)

const resultColumns = `url, job_id, success, COALESCE(content_ref, ''), COALESCE(error_message, ''),
	fetched_at, size_bytes, status_code, elapsed_ms, COALESCE(parent_url, ''), depth`

// UpsertResults writes all rows in one transaction. An existing row is only
// replaced when the incoming fetched_at is not older.
func (s *Store) UpsertResults(ctx context.Context, results []crawler.CrawlResult) error {
	if len(results) == 0 {
		return nil
	}
	query := fmt.Sprintf(`
INSERT INTO %[1]s (
	url,
	job_id,
	success,
	content_ref,
	error_message,
	fetched_at,
	size_bytes,
	status_code,
	elapsed_ms,
	parent_url,
	depth
) VALUES (
	$1,$2,$3,NULLIF($4,''),NULLIF($5,''),$6,$7,$8,$9,NULLIF($10,''),$11
)
ON CONFLICT (url) DO UPDATE SET
	job_id = EXCLUDED.job_id,
	success = EXCLUDED.success,
	content_ref = EXCLUDED.content_ref,
	error_message = EXCLUDED.error_message,
	fetched_at = EXCLUDED.fetched_at,
	size_bytes = EXCLUDED.size_bytes,
	status_code = EXCLUDED.status_code,
	elapsed_ms = EXCLUDED.elapsed_ms,
	parent_url = EXCLUDED.parent_url,
	depth = EXCLUDED.depth
WHERE %[1]s.fetched_at <= EXCLUDED.fetched_at`, s.results)

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin upsert: %w", err)
	}
	defer rollback(ctx, tx)
	for _, r := range results {
		if _, err := tx.Exec(ctx, query,
			r.URL,
			r.JobID,
			r.Success,
			r.ContentRef,
			r.ErrorMessage,
			r.FetchedAt.UTC(),
			r.SizeBytes,
			r.StatusCode,
			r.ElapsedMS,
			r.ParentURL,
			r.Depth,
		); err != nil {
			return fmt.Errorf("upsert result %s: %w", r.URL, err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit upsert: %w", err)
	}
	return nil
}

// GetResult loads one row.
func (s *Store) GetResult(ctx context.Context, url string) (crawler.CrawlResult, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE url = $1`, resultColumns, s.results)
	r, err := scanResult(s.pool.QueryRow(ctx, query, url))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return crawler.CrawlResult{}, store.ErrNotFound
		}
		return crawler.CrawlResult{}, fmt.Errorf("get result: %w", err)
	}
	return r, nil
}

// ListResultsByJob returns rows last written by jobID ordered by URL.
func (s *Store) ListResultsByJob(ctx context.Context, jobID string) ([]crawler.CrawlResult, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE job_id = $1 ORDER BY url`, resultColumns, s.results)
	rows, err := s.pool.Query(ctx, query, jobID)
	if err != nil {
		return nil, fmt.Errorf("list results: %w", err)
	}
	defer rows.Close()

	out := make([]crawler.CrawlResult, 0)
	for rows.Next() {
		r, err := scanResult(rows)
		if err != nil {
			return nil, fmt.Errorf("scan result: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate results: %w", err)
	}
	return out, nil
}

// LoadResultKeys returns every persisted URL with its success flag.
func (s *Store) LoadResultKeys(ctx context.Context) (map[string]store.ResultKey, error) {
	rows, err := s.pool.Query(ctx, fmt.Sprintf(`SELECT url, success, fetched_at FROM %s`, s.results))
	if err != nil {
		return nil, fmt.Errorf("load result keys: %w", err)
	}
	defer rows.Close()

	keys := make(map[string]store.ResultKey)
	for rows.Next() {
		var (
			url       string
			success   bool
			fetchedAt time.Time
		)
		if err := rows.Scan(&url, &success, &fetchedAt); err != nil {
			return nil, fmt.Errorf("scan result key: %w", err)
		}
		keys[url] = store.ResultKey{Success: success, FetchedAt: fetchedAt.UTC()}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate result keys: %w", err)
	}
	return keys, nil
}

func scanResult(row pgx.Row) (crawler.CrawlResult, error) {
	var r crawler.CrawlResult
	err := row.Scan(
		&r.URL,
		&r.JobID,
		&r.Success,
		&r.ContentRef,
		&r.ErrorMessage,
		&r.FetchedAt,
		&r.SizeBytes,
		&r.StatusCode,
		&r.ElapsedMS,
		&r.ParentURL,
		&r.Depth,
	)
	r.FetchedAt = r.FetchedAt.UTC()
	return r, err
}
