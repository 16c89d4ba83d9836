package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/JakeFAU/site-crawler/internal/crawler"
	"github.com/JakeFAU/site-crawler/internal/store"
)

// AppendSnapshot inserts one metrics row keyed by (job_id, ts).
func (s *Store) AppendSnapshot(ctx context.Context, snapshot crawler.MetricsSnapshot) error {
	payload, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	query := fmt.Sprintf(`INSERT INTO %s (job_id, ts, metrics) VALUES ($1,$2,$3)`, s.metrics)
	if _, err := s.pool.Exec(ctx, query, snapshot.JobID, snapshot.Timestamp.UTC(), payload); err != nil {
		if isUniqueViolation(err) {
			return store.ErrConflict
		}
		return fmt.Errorf("insert snapshot: %w", err)
	}
	return nil
}

// ListSnapshots returns a job's snapshots in timestamp order.
func (s *Store) ListSnapshots(ctx context.Context, jobID string) ([]crawler.MetricsSnapshot, error) {
	query := fmt.Sprintf(`SELECT metrics FROM %s WHERE job_id = $1 ORDER BY ts`, s.metrics)
	rows, err := s.pool.Query(ctx, query, jobID)
	if err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}
	defer rows.Close()

	out := make([]crawler.MetricsSnapshot, 0)
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scan snapshot: %w", err)
		}
		var snap crawler.MetricsSnapshot
		if err := json.Unmarshal(payload, &snap); err != nil {
			return nil, fmt.Errorf("decode snapshot: %w", err)
		}
		out = append(out, snap)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate snapshots: %w", err)
	}
	return out, nil
}
