package progress

import (
	"errors"
	"fmt"
	"time"
)

// Stage denotes the milestone represented by an Event.
type Stage string

// Supported progress stages.
const (
	StageJobStart     Stage = "JOB_START"
	StageDiscovered   Stage = "DISCOVERED"
	StageBatchDone    Stage = "BATCH_DONE"
	StageFetchDone    Stage = "FETCH_DONE"
	StageJobPaused    Stage = "JOB_PAUSED"
	StageJobResumed   Stage = "JOB_RESUMED"
	StageJobDone      Stage = "JOB_DONE"
	StageJobError     Stage = "JOB_ERROR"
	StageJobCancelled Stage = "JOB_CANCELLED"
)

// Final reports whether the stage ends a job.
func (s Stage) Final() bool {
	return s == StageJobDone || s == StageJobError || s == StageJobCancelled
}

// StatusClass is a coarse HTTP response grouping.
type StatusClass string

// Supported HTTP status classes tracked for fetch completions.
const (
	Status2xx   StatusClass = "2xx"
	Status3xx   StatusClass = "3xx"
	Status4xx   StatusClass = "4xx"
	Status5xx   StatusClass = "5xx"
	StatusOther StatusClass = "other"
)

// Event captures a single step of crawl progress.
type Event struct {
	JobID string    `json:"job_id"`
	TS    time.Time `json:"ts"`
	Stage Stage     `json:"stage"`
	// Site scopes fetch events to a host label.
	Site        string      `json:"site,omitempty"`
	URL         string      `json:"url,omitempty"`
	StatusClass StatusClass `json:"status_class,omitempty"`
	Bytes       int64       `json:"bytes,omitempty"`
	// Batch is the zero-based batch index for batch events.
	Batch     int     `json:"batch,omitempty"`
	Processed int     `json:"processed,omitempty"`
	Total     int     `json:"total,omitempty"`
	Succeeded int     `json:"succeeded,omitempty"`
	Failed    int     `json:"failed,omitempty"`
	MemoryMB  float64 `json:"memory_mb,omitempty"`
	// Dur is the fetch latency, batch wall time, or job runtime.
	Dur time.Duration `json:"dur_ns,omitempty"`
	// Note carries low-volume context such as the failure reason.
	Note string `json:"note,omitempty"`
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.JobID == "" {
		return errors.New("job id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageJobStart, StageDiscovered, StageJobPaused, StageJobResumed, StageJobDone, StageJobError, StageJobCancelled:
	case StageBatchDone:
		if e.Batch < 0 {
			return errors.New("batch index must be >= 0")
		}
	case StageFetchDone:
		if e.Site == "" {
			return errors.New("fetch done requires site")
		}
		if e.StatusClass == "" {
			return errors.New("fetch done requires status class")
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}

// ClassifyStatus groups HTTP status codes for fetch events.
func ClassifyStatus(code int) StatusClass {
	switch {
	case code >= 200 && code < 300:
		return Status2xx
	case code >= 300 && code < 400:
		return Status3xx
	case code >= 400 && code < 500:
		return Status4xx
	case code >= 500 && code < 600:
		return Status5xx
	default:
		return StatusOther
	}
}
