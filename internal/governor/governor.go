// Package governor bounds the resources used by in-flight crawl work: a memory
// gate consulted before each batch and a throttle consulted before each fetch.
// One Governor is built per process and shared by every job.
package governor

import (
	"time"

	"go.uber.org/zap"
)

// Config collects the process-wide governor knobs.
type Config struct {
	Sampler          MemorySampler
	PollInterval     time.Duration
	AdmissionTimeout time.Duration
	Throttle         ThrottleConfig
	Logger           *zap.Logger
}

// Governor pairs the memory gate with the throttle.
type Governor struct {
	*MemoryGate
	*Throttle
}

// New builds a Governor.
func New(cfg Config) *Governor {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("component", "governor"))
	if cfg.Throttle.Logger == nil {
		cfg.Throttle.Logger = logger
	}
	return &Governor{
		MemoryGate: NewMemoryGate(cfg.Sampler, cfg.PollInterval, cfg.AdmissionTimeout, logger),
		Throttle:   NewThrottle(cfg.Throttle),
	}
}
