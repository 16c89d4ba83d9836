// Package frontier discovers, normalizes and deduplicates the URLs of one crawl
// job and tracks which of them still need fetching.
package frontier

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/site-crawler/internal/crawler"
)

// Throttle is the slice of the resource governor the frontier needs before each fetch.
type Throttle interface {
	Wait(ctx context.Context, rawURL string, rps float64) (crawler.Identity, error)
	ReportSuccess(rawURL string)
	ReportFailure(rawURL string)
}

// CacheView answers whether a URL already has a successful stored result.
type CacheView interface {
	Succeeded(url string) bool
}

// SitemapSource lists the page URLs advertised by a sitemap and the sitemaps
// a site names in its robots.txt.
type SitemapSource interface {
	SitemapURLs(ctx context.Context, sitemapURL string) ([]string, error)
	RobotsSitemaps(ctx context.Context, siteRoot string) ([]string, error)
}

// sitemapPaths are tried in order when robots.txt names no sitemap.
var sitemapPaths = []string{
	"/sitemap.xml",
	"/sitemap_index.xml",
	"/sitemap-index.xml",
	"/sitemaps/sitemap.xml",
	"/sitemap/sitemap.xml",
}

// Config wires the manager's collaborators. Fetcher is required.
type Config struct {
	JobID        string
	Settings     crawler.Settings
	Fetcher      crawler.Fetcher
	Throttle     Throttle
	Cache        CacheView
	Sitemaps     SitemapSource
	FetchTimeout time.Duration
	Logger       *zap.Logger
}

// Stats summarizes the current frontier.
type Stats struct {
	Discovered int            `json:"discovered_count"`
	Processed  int            `json:"processed_count"`
	Skipped    int            `json:"skipped_count"`
	ByDomain   map[string]int `json:"by_domain"`
}

// Harvest is a page fetched successfully while expanding the frontier.
type Harvest struct {
	Entry    crawler.DiscoveredURL
	Response crawler.FetchResponse
}

// Manager owns the frontier of a single job. It is safe for concurrent use.
type Manager struct {
	cfg        Config
	logger     *zap.Logger
	exclusions []*regexp.Regexp

	mu        sync.Mutex
	seen      *crawler.VisitSet
	order     []crawler.DiscoveredURL
	index     map[string]int
	processed map[string]struct{}
	harvested []Harvest
	seedHost  string
}

// New validates cfg and returns an empty Manager.
func New(cfg Config) (*Manager, error) {
	if cfg.Fetcher == nil {
		return nil, errors.New("frontier: fetcher is required")
	}
	exclusions, err := cfg.Settings.CompileExclusions()
	if err != nil {
		return nil, fmt.Errorf("frontier: %w", err)
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = 30 * time.Second
	}
	m := &Manager{
		cfg:        cfg,
		logger:     cfg.Logger.With(zap.String("component", "frontier"), zap.String("job_id", cfg.JobID)),
		exclusions: exclusions,
	}
	m.reset()
	return m, nil
}

func (m *Manager) reset() {
	m.seen = crawler.NewVisitSet()
	m.order = nil
	m.index = make(map[string]int)
	m.processed = make(map[string]struct{})
	m.harvested = nil
}

// Discover runs a breadth-first traversal from seed down to maxDepth (the seed is depth 0)
// and returns the admitted URLs in discovery order. Calling it again starts a fresh pass.
// Context cancellation is checked between page fetches; the URLs admitted so far are
// returned alongside ctx.Err().
func (m *Manager) Discover(ctx context.Context, seed string, maxDepth int) ([]crawler.DiscoveredURL, error) {
	seedURL, err := crawler.NormalizeURL(seed)
	if err != nil {
		return nil, &crawler.DiscoveryError{Seed: seed, Err: err}
	}
	if maxDepth < 0 {
		maxDepth = 0
	}

	m.mu.Lock()
	m.reset()
	m.seedHost = crawler.Hostname(seedURL)
	m.mu.Unlock()

	m.admit(crawler.DiscoveredURL{URL: seedURL, Depth: 0, OriginDomain: m.seedHost})
	if maxDepth == 0 {
		return m.Entries(), nil
	}

	var fromSitemap []crawler.DiscoveredURL
	if m.cfg.Settings.UseSitemap {
		fromSitemap = m.seedFromSitemap(ctx, seedURL)
	}

	level := []crawler.DiscoveredURL{{URL: seedURL, Depth: 0, OriginDomain: m.seedHost}}
	for depth := 0; depth < maxDepth && len(level) > 0; depth++ {
		var next []crawler.DiscoveredURL
		if depth == 0 {
			next = append(next, fromSitemap...)
		}
		for _, page := range level {
			if err := ctx.Err(); err != nil {
				return m.Entries(), err
			}
			if m.full() {
				return m.Entries(), nil
			}
			resp, err := m.fetch(ctx, page.URL)
			if err != nil {
				if ctxErr := ctx.Err(); ctxErr != nil {
					return m.Entries(), ctxErr
				}
				if page.URL == seedURL {
					return nil, &crawler.DiscoveryError{Seed: seedURL, Err: err}
				}
				m.logger.Warn("discovery fetch failed", zap.String("url", page.URL), zap.Error(err))
				continue
			}
			m.mu.Lock()
			m.harvested = append(m.harvested, Harvest{Entry: m.order[m.index[page.URL]], Response: resp})
			m.mu.Unlock()

			base := resp.URL
			if base == "" {
				base = page.URL
			}
			for _, link := range resp.Links {
				entry, ok := m.candidate(base, link, page)
				if !ok {
					continue
				}
				if m.admit(entry) {
					next = append(next, entry)
				}
			}
		}
		level = next
	}
	return m.Entries(), nil
}

func (m *Manager) seedFromSitemap(ctx context.Context, seedURL string) []crawler.DiscoveredURL {
	if m.cfg.Sitemaps == nil {
		return nil
	}
	u, err := url.Parse(seedURL)
	if err != nil {
		return nil
	}
	root := u.Scheme + "://" + u.Host

	// Sitemaps listed in robots.txt are authoritative; the well-known paths are
	// only tried until one of them answers.
	listed, err := m.cfg.Sitemaps.RobotsSitemaps(ctx, root)
	if err != nil {
		m.logger.Debug("robots.txt unavailable", zap.String("site", root), zap.Error(err))
	}
	candidates, fallback := listed, len(listed) == 0
	if fallback {
		for _, p := range sitemapPaths {
			candidates = append(candidates, root+p)
		}
	}

	seedEntry := crawler.DiscoveredURL{URL: seedURL, Depth: 0, OriginDomain: m.seedHost}
	seen := make(map[string]struct{}, len(candidates))
	var admitted []crawler.DiscoveredURL
	listedCount := 0
	for _, sitemapURL := range candidates {
		if _, dup := seen[sitemapURL]; dup {
			continue
		}
		seen[sitemapURL] = struct{}{}
		if ctx.Err() != nil || m.full() {
			break
		}
		locs, err := m.cfg.Sitemaps.SitemapURLs(ctx, sitemapURL)
		if err != nil {
			m.logger.Debug("sitemap unavailable", zap.String("url", sitemapURL), zap.Error(err))
			continue
		}
		listedCount += len(locs)
		for _, loc := range locs {
			if entry, ok := m.candidate(seedURL, loc, seedEntry); ok && m.admit(entry) {
				admitted = append(admitted, entry)
			}
		}
		if fallback {
			break
		}
	}
	m.logger.Debug("sitemap seeded frontier", zap.Int("admitted", len(admitted)), zap.Int("listed", listedCount))
	return admitted
}

// candidate normalizes link relative to base and applies the scope and exclusion rules.
func (m *Manager) candidate(base, link string, parent crawler.DiscoveredURL) (crawler.DiscoveredURL, bool) {
	normalized, err := crawler.ResolveURL(base, link)
	if err != nil {
		m.logger.Debug("skipping malformed url", zap.String("link", link), zap.String("page", base), zap.Error(err))
		return crawler.DiscoveredURL{}, false
	}
	host := crawler.Hostname(normalized)
	if !m.inScope(host) {
		return crawler.DiscoveredURL{}, false
	}
	for _, re := range m.exclusions {
		if re.MatchString(normalized) {
			m.logger.Debug("url excluded", zap.String("url", normalized), zap.String("pattern", re.String()))
			return crawler.DiscoveredURL{}, false
		}
	}
	return crawler.DiscoveredURL{
		URL:          normalized,
		Depth:        parent.Depth + 1,
		OriginDomain: host,
		ParentURL:    parent.URL,
	}, true
}

func (m *Manager) inScope(host string) bool {
	if host == "" {
		return false
	}
	if host == m.seedHost {
		return true
	}
	return m.cfg.Settings.IncludeSubdomains && strings.HasSuffix(host, "."+m.seedHost)
}

// admit records entry unless it was seen before or the URL cap is reached.
func (m *Manager) admit(entry crawler.DiscoveredURL) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if limit := m.cfg.Settings.URLCap(); limit > 0 && len(m.order) >= limit {
		return false
	}
	if !m.seen.MarkIfNew(entry.URL) {
		return false
	}
	m.index[entry.URL] = len(m.order)
	m.order = append(m.order, entry)
	return true
}

func (m *Manager) full() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	limit := m.cfg.Settings.URLCap()
	return limit > 0 && len(m.order) >= limit
}

func (m *Manager) fetch(ctx context.Context, rawURL string) (crawler.FetchResponse, error) {
	req := crawler.FetchRequest{
		JobID:    m.cfg.JobID,
		URL:      rawURL,
		Timeout:  m.cfg.FetchTimeout,
		Headless: m.cfg.Settings.Headless,
	}
	if m.cfg.Throttle != nil {
		identity, err := m.cfg.Throttle.Wait(ctx, rawURL, m.cfg.Settings.RequestsPerSecond)
		if err != nil {
			return crawler.FetchResponse{}, err
		}
		req.UserAgent = identity.UserAgent
	}
	fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.cfg.FetchTimeout)
	defer cancel()
	resp, err := m.cfg.Fetcher.Fetch(fetchCtx, req)
	if err == nil && resp.StatusCode >= 400 {
		err = &crawler.FetchError{Kind: crawler.FetchErrStatus, URL: rawURL, StatusCode: resp.StatusCode}
	}
	if m.cfg.Throttle != nil {
		if err != nil {
			m.cfg.Throttle.ReportFailure(rawURL)
		} else {
			m.cfg.Throttle.ReportSuccess(rawURL)
		}
	}
	return resp, err
}

// Entries returns every admitted URL in discovery order.
func (m *Manager) Entries() []crawler.DiscoveredURL {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]crawler.DiscoveredURL, len(m.order))
	copy(out, m.order)
	return out
}

// Entry looks up an admitted URL.
func (m *Manager) Entry(rawURL string) (crawler.DiscoveredURL, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	i, ok := m.index[rawURL]
	if !ok {
		return crawler.DiscoveredURL{}, false
	}
	return m.order[i], true
}

// Harvested returns the pages fetched while expanding the frontier, in fetch order.
func (m *Manager) Harvested() []Harvest {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Harvest, len(m.harvested))
	copy(out, m.harvested)
	return out
}

// Unprocessed returns the URLs still to fetch, in discovery order. URLs with a
// successful stored result are left out unless the job forces a refresh.
func (m *Manager) Unprocessed() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.order))
	for _, entry := range m.order {
		if _, done := m.processed[entry.URL]; done {
			continue
		}
		if m.cachedLocked(entry.URL) {
			continue
		}
		out = append(out, entry.URL)
	}
	return out
}

// Cached reports whether rawURL will be skipped because it already succeeded.
func (m *Manager) Cached(rawURL string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cachedLocked(rawURL)
}

func (m *Manager) cachedLocked(rawURL string) bool {
	return !m.cfg.Settings.ForceRefresh && m.cfg.Cache != nil && m.cfg.Cache.Succeeded(rawURL)
}

// MarkProcessed records that urls were fetched, successfully or not.
// Unknown URLs are ignored.
func (m *Manager) MarkProcessed(urls ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range urls {
		if _, ok := m.index[u]; ok {
			m.processed[u] = struct{}{}
		}
	}
}

// Stats reports discovered, processed and skipped counts plus discovered URLs per host.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	stats := Stats{
		Discovered: len(m.order),
		Processed:  len(m.processed),
		ByDomain:   make(map[string]int),
	}
	for _, entry := range m.order {
		stats.ByDomain[entry.OriginDomain]++
		if _, done := m.processed[entry.URL]; !done && m.cachedLocked(entry.URL) {
			stats.Skipped++
		}
	}
	return stats
}
