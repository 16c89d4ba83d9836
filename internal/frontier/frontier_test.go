package frontier

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/site-crawler/internal/crawler"
)

type fakeFetcher struct {
	mu    sync.Mutex
	pages map[string][]string
	fail  map[string]error
	calls []string
}

func (f *fakeFetcher) Fetch(_ context.Context, req crawler.FetchRequest) (crawler.FetchResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, req.URL)
	if err, ok := f.fail[req.URL]; ok {
		return crawler.FetchResponse{}, err
	}
	links, ok := f.pages[req.URL]
	if !ok {
		return crawler.FetchResponse{}, &crawler.FetchError{Kind: crawler.FetchErrStatus, URL: req.URL, StatusCode: 404}
	}
	return crawler.FetchResponse{URL: req.URL, StatusCode: 200, Body: []byte("<html></html>"), Links: links}, nil
}

func (f *fakeFetcher) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

type fakeCache map[string]bool

func (c fakeCache) Succeeded(url string) bool { return c[url] }

type fakeSitemaps struct {
	mu     sync.Mutex
	docs   map[string][]string
	robots []string
	read   []string
}

func (s *fakeSitemaps) SitemapURLs(_ context.Context, sitemapURL string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.read = append(s.read, sitemapURL)
	locs, ok := s.docs[sitemapURL]
	if !ok {
		return nil, errors.New("sitemap status 404")
	}
	return locs, nil
}

func (s *fakeSitemaps) RobotsSitemaps(context.Context, string) ([]string, error) { return s.robots, nil }

func (s *fakeSitemaps) Read() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.read...)
}

func newManager(t *testing.T, fetcher crawler.Fetcher, mutate func(*Config)) *Manager {
	t.Helper()
	cfg := Config{JobID: "job-1", Settings: crawler.DefaultSettings(), Fetcher: fetcher}
	if mutate != nil {
		mutate(&cfg)
	}
	m, err := New(cfg)
	require.NoError(t, err)
	return m
}

func urlsOf(entries []crawler.DiscoveredURL) []string {
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.URL)
	}
	return out
}

func TestDiscoverDedupesLinkVariants(t *testing.T) {
	t.Parallel()

	fetcher := &fakeFetcher{pages: map[string][]string{
		"https://docs.example.com/": {"/a", "/b", "/a#frag", "/a/", "//docs.example.com/a", "HTTPS://DOCS.EXAMPLE.COM:443/b", "https://docs.example.com//a"},
	}}
	m := newManager(t, fetcher, func(c *Config) { c.Settings.MaxDepth = 1 })

	entries, err := m.Discover(context.Background(), "https://docs.example.com", 1)
	require.NoError(t, err)
	require.Equal(t, []string{
		"https://docs.example.com/",
		"https://docs.example.com/a",
		"https://docs.example.com/b",
	}, urlsOf(entries))

	require.Equal(t, 1, entries[1].Depth)
	require.Equal(t, "https://docs.example.com/", entries[1].ParentURL)
	require.Equal(t, "docs.example.com", entries[1].OriginDomain)

	// Leaves at max depth are never expanded.
	require.Equal(t, []string{"https://docs.example.com/"}, fetcher.Calls())

	harvested := m.Harvested()
	require.Len(t, harvested, 1)
	require.Equal(t, "https://docs.example.com/", harvested[0].Entry.URL)
}

func TestDiscoverDepthZeroReturnsSeedOnly(t *testing.T) {
	t.Parallel()

	fetcher := &fakeFetcher{}
	m := newManager(t, fetcher, nil)

	entries, err := m.Discover(context.Background(), "HTTPS://Docs.Example.com:443/guide/", 0)
	require.NoError(t, err)
	require.Equal(t, []string{"https://docs.example.com/guide"}, urlsOf(entries))
	require.Empty(t, fetcher.Calls())
}

func TestDiscoverBreadthFirstAcrossLevels(t *testing.T) {
	t.Parallel()

	fetcher := &fakeFetcher{pages: map[string][]string{
		"https://example.org/":    {"/one", "/two"},
		"https://example.org/one": {"/one/deep", "/two"},
		"https://example.org/two": {"/two/deep", "/"},
	}}
	m := newManager(t, fetcher, nil)

	entries, err := m.Discover(context.Background(), "https://example.org/", 2)
	require.NoError(t, err)
	require.Equal(t, []string{
		"https://example.org/",
		"https://example.org/one",
		"https://example.org/two",
		"https://example.org/one/deep",
		"https://example.org/two/deep",
	}, urlsOf(entries))
	require.Equal(t, 2, entries[4].Depth)
}

func TestDiscoverUnreachableSeed(t *testing.T) {
	t.Parallel()

	fetcher := &fakeFetcher{fail: map[string]error{"https://example.org/": errors.New("connection refused")}}
	m := newManager(t, fetcher, nil)

	_, err := m.Discover(context.Background(), "https://example.org", 2)
	var discoveryErr *crawler.DiscoveryError
	require.ErrorAs(t, err, &discoveryErr)
	require.Equal(t, "https://example.org/", discoveryErr.Seed)
}

type statusFetcher int

func (s statusFetcher) Fetch(_ context.Context, req crawler.FetchRequest) (crawler.FetchResponse, error) {
	return crawler.FetchResponse{URL: req.URL, StatusCode: int(s)}, nil
}

func TestDiscoverErrorStatusSeed(t *testing.T) {
	t.Parallel()

	m := newManager(t, statusFetcher(503), nil)
	_, err := m.Discover(context.Background(), "https://example.org", 1)
	var discoveryErr *crawler.DiscoveryError
	require.ErrorAs(t, err, &discoveryErr)
	var fetchErr *crawler.FetchError
	require.ErrorAs(t, err, &fetchErr)
	require.Equal(t, 503, fetchErr.StatusCode)
	require.Empty(t, m.Harvested())
}

func TestDiscoverMalformedSeed(t *testing.T) {
	t.Parallel()

	m := newManager(t, &fakeFetcher{}, nil)
	_, err := m.Discover(context.Background(), "ftp://example.org", 1)
	var discoveryErr *crawler.DiscoveryError
	require.ErrorAs(t, err, &discoveryErr)
}

func TestDiscoverSkipsBrokenPagesAndLinks(t *testing.T) {
	t.Parallel()

	fetcher := &fakeFetcher{
		pages: map[string][]string{
			"https://example.org/":   {"/ok", "/broken", "mailto:me@example.org", "http://%zz", "javascript:void(0)"},
			"https://example.org/ok": {"/leaf"},
		},
		fail: map[string]error{"https://example.org/broken": errors.New("reset")},
	}
	m := newManager(t, fetcher, nil)

	entries, err := m.Discover(context.Background(), "https://example.org/", 2)
	require.NoError(t, err)
	require.Equal(t, []string{
		"https://example.org/",
		"https://example.org/ok",
		"https://example.org/broken",
		"https://example.org/leaf",
	}, urlsOf(entries))
}

func TestDiscoverDomainScope(t *testing.T) {
	t.Parallel()

	links := map[string][]string{
		"https://example.org/": {"https://blog.example.org/post", "https://other.org/x", "https://notexample.org/y", "/local"},
	}

	exact := newManager(t, &fakeFetcher{pages: links}, nil)
	entries, err := exact.Discover(context.Background(), "https://example.org/", 1)
	require.NoError(t, err)
	require.Equal(t, []string{"https://example.org/", "https://example.org/local"}, urlsOf(entries))

	wide := newManager(t, &fakeFetcher{pages: links}, func(c *Config) { c.Settings.IncludeSubdomains = true })
	entries, err = wide.Discover(context.Background(), "https://example.org/", 1)
	require.NoError(t, err)
	require.Equal(t, []string{"https://example.org/", "https://blog.example.org/post", "https://example.org/local"}, urlsOf(entries))
}

func TestDiscoverExclusionsAndCap(t *testing.T) {
	t.Parallel()

	fetcher := &fakeFetcher{pages: map[string][]string{
		"https://example.org/": {"/a", "/login", "/b", "/c", "/d", "/e", "/f", "/g"},
	}}
	m := newManager(t, fetcher, func(c *Config) {
		c.Settings.ExcludePatterns = []string{`/login$`}
		c.Settings.TestMode = true
	})

	entries, err := m.Discover(context.Background(), "https://example.org/", 1)
	require.NoError(t, err)
	require.Len(t, entries, crawler.TestModeURLCap)
	require.NotContains(t, urlsOf(entries), "https://example.org/login")
}

func TestDiscoverSitemapSeeding(t *testing.T) {
	t.Parallel()

	fetcher := &fakeFetcher{pages: map[string][]string{"https://example.org/": {"/a"}}}
	m := newManager(t, fetcher, func(c *Config) {
		c.Settings.UseSitemap = true
		c.Sitemaps = &fakeSitemaps{docs: map[string][]string{
			"https://example.org/sitemap.xml": {"https://example.org/from-sitemap", "https://elsewhere.org/x", "/a"},
		}}
	})

	entries, err := m.Discover(context.Background(), "https://example.org/", 1)
	require.NoError(t, err)
	require.Equal(t, []string{"https://example.org/", "https://example.org/from-sitemap", "https://example.org/a"}, urlsOf(entries))
}

func TestDiscoverTriesWellKnownSitemaps(t *testing.T) {
	t.Parallel()

	sitemaps := &fakeSitemaps{docs: map[string][]string{
		"https://example.org/sitemap_index.xml": {"https://example.org/indexed"},
		"https://example.org/sitemap-index.xml": {"https://example.org/never-read"},
	}}
	fetcher := &fakeFetcher{pages: map[string][]string{"https://example.org/": nil}}
	m := newManager(t, fetcher, func(c *Config) {
		c.Settings.UseSitemap = true
		c.Sitemaps = sitemaps
	})

	entries, err := m.Discover(context.Background(), "https://example.org/", 1)
	require.NoError(t, err)
	require.Equal(t, []string{"https://example.org/", "https://example.org/indexed"}, urlsOf(entries))
	require.Equal(t, []string{"https://example.org/sitemap.xml", "https://example.org/sitemap_index.xml"}, sitemaps.Read())
}

func TestDiscoverUsesRobotsSitemaps(t *testing.T) {
	t.Parallel()

	sitemaps := &fakeSitemaps{
		robots: []string{"https://example.org/maps/pages.xml", "https://example.org/maps/posts.xml", "https://example.org/maps/pages.xml"},
		docs: map[string][]string{
			"https://example.org/maps/pages.xml": {"/about"},
			"https://example.org/maps/posts.xml": {"/posts/1", "/about"},
			"https://example.org/sitemap.xml":    {"/unlisted"},
		},
	}
	fetcher := &fakeFetcher{pages: map[string][]string{"https://example.org/": nil}}
	m := newManager(t, fetcher, func(c *Config) {
		c.Settings.UseSitemap = true
		c.Sitemaps = sitemaps
	})

	entries, err := m.Discover(context.Background(), "https://example.org/", 1)
	require.NoError(t, err)
	require.Equal(t, []string{"https://example.org/", "https://example.org/about", "https://example.org/posts/1"}, urlsOf(entries))
	require.Equal(t, []string{"https://example.org/maps/pages.xml", "https://example.org/maps/posts.xml"}, sitemaps.Read())
}

func TestDiscoverHonorsCancellation(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	fetcher := &fakeFetcher{pages: map[string][]string{"https://example.org/": {"/a"}}}
	m := newManager(t, fetcher, nil)

	entries, err := m.Discover(ctx, "https://example.org/", 1)
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, []string{"https://example.org/"}, urlsOf(entries))
	require.Empty(t, fetcher.Calls())
}

func TestUnprocessedAndResume(t *testing.T) {
	t.Parallel()

	fetcher := &fakeFetcher{pages: map[string][]string{"https://example.org/": {"/a", "/b", "/c"}}}
	cache := fakeCache{"https://example.org/a": true}
	m := newManager(t, fetcher, func(c *Config) { c.Cache = cache })

	_, err := m.Discover(context.Background(), "https://example.org/", 1)
	require.NoError(t, err)
	require.Equal(t, []string{"https://example.org/", "https://example.org/b", "https://example.org/c"}, m.Unprocessed())
	require.True(t, m.Cached("https://example.org/a"))

	m.MarkProcessed("https://example.org/", "https://example.org/b", "https://unknown.org/")
	require.Equal(t, []string{"https://example.org/c"}, m.Unprocessed())

	stats := m.Stats()
	require.Equal(t, 4, stats.Discovered)
	require.Equal(t, 2, stats.Processed)
	require.Equal(t, 1, stats.Skipped)
	require.Equal(t, map[string]int{"example.org": 4}, stats.ByDomain)

	forced := newManager(t, fetcher, func(c *Config) {
		c.Cache = cache
		c.Settings.ForceRefresh = true
	})
	_, err = forced.Discover(context.Background(), "https://example.org/", 1)
	require.NoError(t, err)
	require.Contains(t, forced.Unprocessed(), "https://example.org/a")
}

func TestNewRequiresFetcher(t *testing.T) {
	t.Parallel()

	_, err := New(Config{Settings: crawler.DefaultSettings()})
	require.Error(t, err)
}
