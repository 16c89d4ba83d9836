package governor

import (
	"context"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/site-crawler/internal/crawler"
	"github.com/JakeFAU/site-crawler/internal/metrics"
	"github.com/JakeFAU/site-crawler/internal/policy/ratelimit"
)

// DefaultUserAgents is the rotation pool used when none is configured.
var DefaultUserAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 14_4) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.4 Safari/605.1.15",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:125.0) Gecko/20100101 Firefox/125.0",
}

// ThrottleConfig tunes the throttle. Zero values take the defaults noted per field.
type ThrottleConfig struct {
	UserAgents       []string
	JitterFraction   float64       // 0.5: delay drawn from [0.5, 1.5] / rate
	FailureThreshold int           // 2 failures within the window start backoff
	FailureWindow    time.Duration // 30s
	BackoffBase      time.Duration // 1s
	MaxBackoff       time.Duration // 60s
	Logger           *zap.Logger
}

// Throttle spaces fetches per domain, rotates identities, and backs off
// domains that keep failing.
type Throttle struct {
	cfg     ThrottleConfig
	limiter *ratelimit.Limiter
	agents  []string
	next    atomic.Uint64

	// Seams for tests.
	sleep  func(context.Context, time.Duration) error
	now    func() time.Time
	jitter func(time.Duration) time.Duration

	mu      sync.Mutex
	domains map[string]*domainState
}

type domainState struct {
	failures []time.Time
	until    time.Time
	level    int
}

// NewThrottle builds a Throttle.
func NewThrottle(cfg ThrottleConfig) *Throttle {
	if len(cfg.UserAgents) == 0 {
		cfg.UserAgents = DefaultUserAgents
	}
	if cfg.JitterFraction <= 0 || cfg.JitterFraction >= 1 {
		cfg.JitterFraction = 0.5
	}
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 2
	}
	if cfg.FailureWindow <= 0 {
		cfg.FailureWindow = 30 * time.Second
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = time.Second
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = time.Minute
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Throttle{
		cfg:     cfg,
		limiter: ratelimit.New(ratelimit.Config{DefaultBurst: 1}),
		agents:  append([]string(nil), cfg.UserAgents...),
		sleep:   crawler.Sleep,
		now:     time.Now,
		jitter:  crawler.RandomDuration,
		domains: make(map[string]*domainState),
	}
}

// Wait delays the caller before a fetch of rawURL at the given requests-per-second
// target and returns the identity to use for it.
func (t *Throttle) Wait(ctx context.Context, rawURL string, rps float64) (crawler.Identity, error) {
	domain := crawler.Hostname(rawURL)
	delay := t.jitterDelay(rps) + t.Backoff(domain)
	if err := t.sleep(ctx, delay); err != nil {
		return crawler.Identity{}, err
	}
	if err := t.limiter.Wait(ctx, rawURL, rps); err != nil {
		return crawler.Identity{}, err
	}
	return crawler.Identity{UserAgent: t.nextAgent()}, nil
}

func (t *Throttle) jitterDelay(rps float64) time.Duration {
	if rps <= 0 || math.IsInf(rps, 1) {
		return 0
	}
	interval := time.Duration(float64(time.Second) / rps)
	low := time.Duration(float64(interval) * (1 - t.cfg.JitterFraction))
	span := time.Duration(float64(interval) * 2 * t.cfg.JitterFraction)
	return low + t.jitter(span)
}

func (t *Throttle) nextAgent() string {
	n := t.next.Add(1) - 1
	return t.agents[n%uint64(len(t.agents))]
}

// Backoff returns the remaining backoff delay for domain.
func (t *Throttle) Backoff(domain string) time.Duration {
	if domain == "" {
		return 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	state, ok := t.domains[domain]
	if !ok {
		return 0
	}
	if remaining := state.until.Sub(t.now()); remaining > 0 {
		return remaining
	}
	return 0
}

// ReportFailure records a failed fetch. Once FailureThreshold failures fall inside
// FailureWindow the domain backs off for BackoffBase * 2^(failures-threshold), capped.
func (t *Throttle) ReportFailure(rawURL string) {
	domain := crawler.Hostname(rawURL)
	if domain == "" {
		return
	}
	now := t.now()
	t.mu.Lock()
	state, ok := t.domains[domain]
	if !ok {
		state = &domainState{}
		t.domains[domain] = state
	}
	cutoff := now.Add(-t.cfg.FailureWindow)
	kept := state.failures[:0]
	for _, at := range state.failures {
		if at.After(cutoff) {
			kept = append(kept, at)
		}
	}
	state.failures = append(kept, now)
	if len(state.failures) < t.cfg.FailureThreshold {
		t.mu.Unlock()
		return
	}
	state.level = len(state.failures) - t.cfg.FailureThreshold
	delay := t.cfg.BackoffBase * time.Duration(1<<min(state.level, 30))
	if delay > t.cfg.MaxBackoff || delay <= 0 {
		delay = t.cfg.MaxBackoff
	}
	state.until = now.Add(delay)
	recent := len(state.failures)
	t.mu.Unlock()

	metrics.ObserveDomainBackoff(domain)
	t.cfg.Logger.Info("domain backing off",
		zap.String("domain", domain),
		zap.Int("recent_failures", recent),
		zap.Duration("delay", delay),
	)
}

// ReportSuccess clears the domain's failure history.
func (t *Throttle) ReportSuccess(rawURL string) {
	domain := crawler.Hostname(rawURL)
	if domain == "" {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.domains, domain)
}
