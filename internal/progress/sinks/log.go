package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/site-crawler/internal/progress"
)

// LogSink writes job and batch milestones as structured logs. Per-fetch events
// are logged at debug.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink wires a Zap logger to the sink interface.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger.With(zap.String("component", "progress"))}
}

// Consume logs each event in the batch.
func (s *LogSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		fields := []zap.Field{
			zap.String("job_id", evt.JobID),
			zap.String("stage", string(evt.Stage)),
		}
		switch evt.Stage {
		case progress.StageFetchDone:
			s.logger.Debug("fetch done", append(fields,
				zap.String("url", evt.URL),
				zap.String("status_class", string(evt.StatusClass)),
				zap.Int64("bytes", evt.Bytes),
				zap.Duration("dur", evt.Dur),
			)...)
		case progress.StageBatchDone:
			s.logger.Info("batch done", append(fields,
				zap.Int("batch", evt.Batch),
				zap.Int("processed", evt.Processed),
				zap.Int("total", evt.Total),
				zap.Int("succeeded", evt.Succeeded),
				zap.Int("failed", evt.Failed),
				zap.Float64("memory_mb", evt.MemoryMB),
				zap.Duration("dur", evt.Dur),
			)...)
		case progress.StageJobError, progress.StageJobPaused:
			s.logger.Warn("job progress", append(fields, zap.String("note", evt.Note))...)
		default:
			s.logger.Info("job progress", append(fields,
				zap.Int("processed", evt.Processed),
				zap.Int("total", evt.Total),
				zap.Duration("dur", evt.Dur),
			)...)
		}
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *LogSink) Close(context.Context) error {
	return nil
}
