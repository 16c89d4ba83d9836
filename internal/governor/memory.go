package governor

import (
	"context"
	"runtime"
	"sync"
	"time"

	"github.com/prometheus/procfs"
	"go.uber.org/zap"

	"github.com/JakeFAU/site-crawler/internal/crawler"
	"github.com/JakeFAU/site-crawler/internal/metrics"
)

const bytesPerMB = 1024 * 1024

// MemorySampler reports the current resident memory of the process in MB.
type MemorySampler interface {
	ResidentMB() (float64, error)
}

// ProcSampler reads RSS from /proc and falls back to the Go runtime's view
// of obtained memory where /proc is unavailable.
type ProcSampler struct{}

// ResidentMB implements MemorySampler.
func (ProcSampler) ResidentMB() (float64, error) {
	if proc, err := procfs.Self(); err == nil {
		if stat, err := proc.Stat(); err == nil {
			return float64(stat.ResidentMemory()) / bytesPerMB, nil
		}
	}
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	return float64(ms.Sys) / bytesPerMB, nil
}

// MemoryGate blocks batch admission while resident memory is over a ceiling.
type MemoryGate struct {
	sampler          MemorySampler
	pollInterval     time.Duration
	admissionTimeout time.Duration
	logger           *zap.Logger

	mu   sync.Mutex
	last float64
}

// NewMemoryGate builds a gate. Zero durations fall back to a 500ms poll and a 30s timeout.
func NewMemoryGate(sampler MemorySampler, pollInterval, admissionTimeout time.Duration, logger *zap.Logger) *MemoryGate {
	if sampler == nil {
		sampler = ProcSampler{}
	}
	if pollInterval <= 0 {
		pollInterval = 500 * time.Millisecond
	}
	if admissionTimeout <= 0 {
		admissionTimeout = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MemoryGate{
		sampler:          sampler,
		pollInterval:     pollInterval,
		admissionTimeout: admissionTimeout,
		logger:           logger,
	}
}

// UnderThreshold samples memory once and compares it to thresholdMB.
// A failed sample counts as under threshold so a broken sampler cannot wedge every job.
func (g *MemoryGate) UnderThreshold(thresholdMB int) (bool, float64) {
	mb, err := g.sampler.ResidentMB()
	if err != nil {
		g.logger.Warn("memory sample failed", zap.Error(err))
		return true, g.LastSampleMB()
	}
	g.mu.Lock()
	g.last = mb
	g.mu.Unlock()
	metrics.ObserveMemorySample(mb)
	return mb < float64(thresholdMB), mb
}

// Await polls until memory is under thresholdMB, the admission timeout elapses
// (crawler.ErrResourceExhausted), or ctx is done. It returns the last sample.
func (g *MemoryGate) Await(ctx context.Context, thresholdMB int) (float64, error) {
	start := time.Now()
	deadline := start.Add(g.admissionTimeout)
	for {
		ok, mb := g.UnderThreshold(thresholdMB)
		if ok {
			metrics.ObserveGateWait(true, time.Since(start))
			return mb, nil
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			metrics.ObserveGateWait(false, time.Since(start))
			g.logger.Warn("memory gate admission timed out",
				zap.Float64("resident_mb", mb),
				zap.Int("threshold_mb", thresholdMB),
				zap.Duration("waited", time.Since(start)),
			)
			return mb, crawler.ErrResourceExhausted
		}
		if err := crawler.Sleep(ctx, min(g.pollInterval, remaining)); err != nil {
			return mb, err
		}
	}
}

// LastSampleMB returns the most recent successful sample.
func (g *MemoryGate) LastSampleMB() float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.last
}
