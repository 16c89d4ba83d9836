// Package redis keeps crawl job metadata in Redis for deployments that run
// several API replicas against one job view.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/JakeFAU/site-crawler/internal/crawler"
	"github.com/JakeFAU/site-crawler/internal/store"
)

const defaultPrefix = "crawler:"

var _ store.JobRepository = (*JobStore)(nil)

// Config controls key naming and retention.
type Config struct {
	// Prefix namespaces every key. Defaults to "crawler:".
	Prefix string
	// TTL expires finished job records; zero keeps them forever. Jobs that
	// have not reached a terminal status never expire.
	TTL time.Duration
}

// JobStore stores each job as JSON under <prefix>job:<id> and indexes ids in a
// sorted set scored by creation time.
type JobStore struct {
	client goredis.UniversalClient
	prefix string
	ttl    time.Duration
}

// NewJobStore wraps an existing client.
func NewJobStore(client goredis.UniversalClient, cfg Config) (*JobStore, error) {
	if client == nil {
		return nil, errors.New("redis client is required")
	}
	prefix := cfg.Prefix
	if prefix == "" {
		prefix = defaultPrefix
	}
	return &JobStore{client: client, prefix: prefix, ttl: cfg.TTL}, nil
}

func (s *JobStore) jobKey(id string) string { return s.prefix + "job:" + id }
func (s *JobStore) indexKey() string        { return s.prefix + "jobs" }

// expiration returns the retention for a record in job's status. Zero clears
// any expiry left from an earlier write.
func (s *JobStore) expiration(job crawler.CrawlJob) time.Duration {
	if !job.Status.Terminal() {
		return 0
	}
	return s.ttl
}

// CreateJob writes the job if no job with the same ID exists.
func (s *JobStore) CreateJob(ctx context.Context, job crawler.CrawlJob) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	ok, err := s.client.SetNX(ctx, s.jobKey(job.ID), data, s.expiration(job)).Result()
	if err != nil {
		return fmt.Errorf("create job: %w", err)
	}
	if !ok {
		return store.ErrConflict
	}
	if err := s.client.ZAdd(ctx, s.indexKey(), goredis.Z{
		Score:  float64(job.CreatedAt.UnixMilli()),
		Member: job.ID,
	}).Err(); err != nil {
		return fmt.Errorf("index job: %w", err)
	}
	return nil
}

// UpdateJob overwrites an existing job. The TTL starts once the job is terminal.
func (s *JobStore) UpdateJob(ctx context.Context, job crawler.CrawlJob) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	ok, err := s.client.SetXX(ctx, s.jobKey(job.ID), data, s.expiration(job)).Result()
	if err != nil {
		return fmt.Errorf("update job: %w", err)
	}
	if !ok {
		return store.ErrNotFound
	}
	return nil
}

// GetJob loads a job by ID.
func (s *JobStore) GetJob(ctx context.Context, jobID string) (crawler.CrawlJob, error) {
	data, err := s.client.Get(ctx, s.jobKey(jobID)).Bytes()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return crawler.CrawlJob{}, store.ErrNotFound
		}
		return crawler.CrawlJob{}, fmt.Errorf("get job: %w", err)
	}
	var job crawler.CrawlJob
	if err := json.Unmarshal(data, &job); err != nil {
		return crawler.CrawlJob{}, fmt.Errorf("decode job %s: %w", jobID, err)
	}
	return job, nil
}

// ListJobs returns jobs newest first. Index entries whose record has expired
// are pruned as a side effect.
func (s *JobStore) ListJobs(ctx context.Context, status *crawler.JobStatus, limit, offset int) ([]crawler.CrawlJob, error) {
	ids, err := s.client.ZRevRange(ctx, s.indexKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("list job ids: %w", err)
	}
	out := make([]crawler.CrawlJob, 0)
	if len(ids) == 0 {
		return out, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.jobKey(id)
	}
	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("load jobs: %w", err)
	}

	var expired []any
	skipped := 0
	for i, v := range values {
		raw, ok := v.(string)
		if !ok {
			expired = append(expired, ids[i])
			continue
		}
		var job crawler.CrawlJob
		if err := json.Unmarshal([]byte(raw), &job); err != nil {
			return nil, fmt.Errorf("decode job %s: %w", ids[i], err)
		}
		if status != nil && job.Status != *status {
			continue
		}
		if skipped < offset {
			skipped++
			continue
		}
		if limit > 0 && len(out) >= limit {
			continue
		}
		out = append(out, job)
	}
	if len(expired) > 0 {
		if err := s.client.ZRem(ctx, s.indexKey(), expired...).Err(); err != nil {
			return nil, fmt.Errorf("prune job index: %w", err)
		}
	}
	return out, nil
}

// Ping checks connectivity.
func (s *JobStore) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}
	return nil
}
