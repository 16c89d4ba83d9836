package postgres

import (
	"context"
	"fmt"

	"github.com/JakeFAU/site-crawler/internal/crawler"
)

// SaveFrontier replaces the job's discovered URL list in one transaction.
func (s *Store) SaveFrontier(ctx context.Context, jobID string, urls []crawler.DiscoveredURL) error {
	insert := fmt.Sprintf(`INSERT INTO %s (job_id, position, url, depth, origin_domain, parent_url)
VALUES ($1,$2,$3,$4,$5,$6)
ON CONFLICT (job_id, url) DO NOTHING`, s.frontier)

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin frontier save: %w", err)
	}
	defer rollback(ctx, tx)
	if _, err := tx.Exec(ctx, fmt.Sprintf(`DELETE FROM %s WHERE job_id = $1`, s.frontier), jobID); err != nil {
		return fmt.Errorf("clear frontier %s: %w", jobID, err)
	}
	for i, u := range urls {
		if _, err := tx.Exec(ctx, insert, jobID, i, u.URL, u.Depth, u.OriginDomain, u.ParentURL); err != nil {
			return fmt.Errorf("insert frontier url %s: %w", u.URL, err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit frontier save: %w", err)
	}
	return nil
}

// ListFrontier returns the job's discovered URLs in discovery order.
func (s *Store) ListFrontier(ctx context.Context, jobID string) ([]crawler.DiscoveredURL, error) {
	query := fmt.Sprintf(`SELECT url, depth, origin_domain, COALESCE(parent_url, '')
FROM %s WHERE job_id = $1 ORDER BY position`, s.frontier)
	rows, err := s.pool.Query(ctx, query, jobID)
	if err != nil {
		return nil, fmt.Errorf("list frontier: %w", err)
	}
	defer rows.Close()

	out := make([]crawler.DiscoveredURL, 0)
	for rows.Next() {
		var u crawler.DiscoveredURL
		if err := rows.Scan(&u.URL, &u.Depth, &u.OriginDomain, &u.ParentURL); err != nil {
			return nil, fmt.Errorf("scan frontier url: %w", err)
		}
		out = append(out, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate frontier: %w", err)
	}
	return out, nil
}
