package sinks

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/site-crawler/internal/crawler"
	"github.com/JakeFAU/site-crawler/internal/progress"
)

// Notification is the payload published when a job stops running.
type Notification struct {
	JobID     string `json:"job_id"`
	Stage     string `json:"stage"`
	Processed int    `json:"processed"`
	Total     int    `json:"total"`
	Note      string `json:"note,omitempty"`
	At        string `json:"at"`
}

// PublishSink forwards job-ending events (completed, failed, cancelled,
// paused) to a topic. Batch and fetch events are not published.
type PublishSink struct {
	publisher crawler.Publisher
	topic     string
	logger    *zap.Logger
}

// NewPublishSink builds a sink for topic.
func NewPublishSink(publisher crawler.Publisher, topic string, logger *zap.Logger) (*PublishSink, error) {
	if publisher == nil {
		return nil, fmt.Errorf("publisher is required")
	}
	if topic == "" {
		return nil, fmt.Errorf("topic is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PublishSink{publisher: publisher, topic: topic, logger: logger}, nil
}

// Consume publishes one notification per job-ending event and returns the
// first publish error after attempting all of them.
func (s *PublishSink) Consume(ctx context.Context, batch []progress.Event) error {
	var firstErr error
	for _, evt := range batch {
		if !evt.Stage.Final() && evt.Stage != progress.StageJobPaused {
			continue
		}
		id, err := s.publisher.Publish(ctx, s.topic, Notification{
			JobID:     evt.JobID,
			Stage:     string(evt.Stage),
			Processed: evt.Processed,
			Total:     evt.Total,
			Note:      evt.Note,
			At:        evt.TS.UTC().Format("2006-01-02T15:04:05.000Z07:00"),
		})
		if err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("publish %s for job %s: %w", evt.Stage, evt.JobID, err)
			}
			continue
		}
		s.logger.Debug("job notification published", zap.String("job_id", evt.JobID), zap.String("message_id", id))
	}
	return firstErr
}

// Close implements the Sink interface; it performs no action.
func (s *PublishSink) Close(context.Context) error {
	return nil
}
