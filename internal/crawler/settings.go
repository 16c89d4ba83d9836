package crawler

import (
	"fmt"
	"regexp"
)

const (
	// TestModeURLCap is the total URL cap applied when TestMode is set.
	TestModeURLCap = 5
	// QuickModeURLCap is the total URL cap applied when QuickMode is set.
	QuickModeURLCap = 100
)

// Settings are the per-job knobs accepted by the job API.
type Settings struct {
	MaxConcurrent     int      `json:"max_concurrent" mapstructure:"max_concurrent"`
	BatchSize         int      `json:"batch_size" mapstructure:"batch_size"`
	RequestsPerSecond float64  `json:"requests_per_second" mapstructure:"requests_per_second"`
	MemoryThresholdMB int      `json:"memory_threshold_mb" mapstructure:"memory_threshold_mb"`
	MaxDepth          int      `json:"max_depth" mapstructure:"max_depth"`
	TestMode          bool     `json:"test_mode" mapstructure:"test_mode"`
	QuickMode         bool     `json:"quick_mode" mapstructure:"quick_mode"`
	MaxURLs           int      `json:"max_urls" mapstructure:"max_urls"`
	IncludeSubdomains bool     `json:"include_subdomains" mapstructure:"include_subdomains"`
	ExcludePatterns   []string `json:"exclude_patterns,omitempty" mapstructure:"exclude_patterns"`
	UseSitemap        bool     `json:"use_sitemap" mapstructure:"use_sitemap"`
	ForceRefresh      bool     `json:"force_refresh" mapstructure:"force_refresh"`
	Headless          bool     `json:"headless" mapstructure:"headless"`
}

// DefaultSettings returns the documented defaults.
func DefaultSettings() Settings {
	return Settings{
		MaxConcurrent:     5,
		BatchSize:         10,
		RequestsPerSecond: 2.0,
		MemoryThresholdMB: 1000,
		MaxDepth:          3,
	}
}

// Validate rejects out-of-range values. Returned errors wrap ErrInvalidSettings.
func (s Settings) Validate() error {
	switch {
	case s.MaxConcurrent <= 0:
		return fmt.Errorf("%w: max_concurrent must be > 0", ErrInvalidSettings)
	case s.BatchSize <= 0:
		return fmt.Errorf("%w: batch_size must be > 0", ErrInvalidSettings)
	case s.RequestsPerSecond <= 0:
		return fmt.Errorf("%w: requests_per_second must be > 0", ErrInvalidSettings)
	case s.MemoryThresholdMB <= 0:
		return fmt.Errorf("%w: memory_threshold_mb must be > 0", ErrInvalidSettings)
	case s.MaxDepth < 0:
		return fmt.Errorf("%w: max_depth must be >= 0", ErrInvalidSettings)
	case s.MaxURLs < 0:
		return fmt.Errorf("%w: max_urls must be >= 0", ErrInvalidSettings)
	}
	if _, err := s.CompileExclusions(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidSettings, err)
	}
	return nil
}

// URLCap returns the tightest configured limit on discovered URLs, or 0 for none.
func (s Settings) URLCap() int {
	limit := s.MaxURLs
	tighten := func(n int) {
		if limit == 0 || n < limit {
			limit = n
		}
	}
	if s.QuickMode {
		tighten(QuickModeURLCap)
	}
	if s.TestMode {
		tighten(TestModeURLCap)
	}
	return limit
}

// CompileExclusions compiles ExcludePatterns.
func (s Settings) CompileExclusions() ([]*regexp.Regexp, error) {
	out := make([]*regexp.Regexp, 0, len(s.ExcludePatterns))
	for _, pattern := range s.ExcludePatterns {
		re, err := regexp.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("exclude pattern %q: %w", pattern, err)
		}
		out = append(out, re)
	}
	return out, nil
}
