// Package collyfetcher implements crawler.Fetcher using gocolly. Besides the
// body it collects raw anchor hrefs for discovery and absolute media URLs.
package collyfetcher

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gocolly/colly/v2"
	"github.com/temoto/robotstxt"

	"github.com/JakeFAU/site-crawler/internal/crawler"
)

const (
	defaultTimeout  = 15 * time.Second
	maxSitemapDepth = 3
	maxSitemapDocs  = 50
)

// Config controls collector behavior.
type Config struct {
	// DefaultUserAgent is used when the request carries no identity.
	DefaultUserAgent string
	RespectRobots    bool
	Timeout          time.Duration
	// MaxBodySize caps response bodies in bytes; zero keeps colly's default.
	MaxBodySize int
}

// Fetcher implements crawler.Fetcher using the Colly collector.
type Fetcher struct {
	cfg       Config
	transport http.RoundTripper
}

type collectorHooks interface {
	OnRequest(colly.RequestCallback)
	OnResponse(colly.ResponseCallback)
	OnHTML(string, colly.HTMLCallback)
	OnError(colly.ErrorCallback)
}

// New builds a Fetcher. All collectors share one pooled transport.
func New(cfg Config) *Fetcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	return &Fetcher{cfg: cfg, transport: newHTTPTransport()}
}

// Fetch executes a single HTTP GET. Responses with an error status are
// returned as-is so callers can classify them.
func (f *Fetcher) Fetch(ctx context.Context, request crawler.FetchRequest) (crawler.FetchResponse, error) {
	var (
		result   crawler.FetchResponse
		fetchErr error
	)
	start := time.Now()
	collector := f.buildCollector(ctx, request)
	configureCollectorHooks(collector, start, &result, &fetchErr)

	if err := runCollector(ctx, collector, request.URL, &fetchErr); err != nil {
		return crawler.FetchResponse{}, err
	}
	if result.StatusCode == 0 {
		return crawler.FetchResponse{}, fmt.Errorf("colly fetch %s: no response", request.URL)
	}
	return result, nil
}

// SitemapURLs fetches a sitemap and returns its page <loc> entries. Sitemap
// indexes are followed up to maxSitemapDepth levels and maxSitemapDocs documents;
// nested sitemaps that fail are skipped.
func (f *Fetcher) SitemapURLs(ctx context.Context, sitemapURL string) ([]string, error) {
	pages, nested, err := f.readSitemap(ctx, sitemapURL)
	if err != nil {
		return nil, err
	}
	visited := map[string]struct{}{sitemapURL: {}}
	for depth := 1; depth <= maxSitemapDepth && len(nested) > 0; depth++ {
		var next []string
		for _, loc := range nested {
			if _, ok := visited[loc]; ok || len(visited) >= maxSitemapDocs {
				continue
			}
			visited[loc] = struct{}{}
			childPages, childNested, err := f.readSitemap(ctx, loc)
			if err != nil {
				if ctx.Err() != nil {
					return nil, err
				}
				continue
			}
			pages = append(pages, childPages...)
			next = append(next, childNested...)
		}
		nested = next
	}
	return pages, nil
}

// readSitemap returns the page and nested sitemap locations of one document.
func (f *Fetcher) readSitemap(ctx context.Context, sitemapURL string) (pages, nested []string, err error) {
	collector := f.buildCollector(ctx, crawler.FetchRequest{URL: sitemapURL})
	var (
		status   int
		fetchErr error
	)
	collector.OnResponse(func(r *colly.Response) { status = r.StatusCode })
	collector.OnXML("//urlset/url/loc", func(e *colly.XMLElement) {
		if loc := strings.TrimSpace(e.Text); loc != "" {
			pages = append(pages, loc)
		}
	})
	collector.OnXML("//sitemapindex/sitemap/loc", func(e *colly.XMLElement) {
		if loc := strings.TrimSpace(e.Text); loc != "" {
			nested = append(nested, loc)
		}
	})
	collector.OnError(func(_ *colly.Response, err error) { fetchErr = err })

	if err := runCollector(ctx, collector, sitemapURL, &fetchErr); err != nil {
		return nil, nil, err
	}
	if status >= http.StatusBadRequest {
		return nil, nil, fmt.Errorf("sitemap %s: status %d", sitemapURL, status)
	}
	return pages, nested, nil
}

// RobotsSitemaps returns the Sitemap: entries of siteRoot's robots.txt. A
// missing robots.txt yields no entries and no error.
func (f *Fetcher) RobotsSitemaps(ctx context.Context, siteRoot string) ([]string, error) {
	robotsURL := strings.TrimSuffix(siteRoot, "/") + "/robots.txt"
	collector := f.buildCollector(ctx, crawler.FetchRequest{URL: robotsURL})
	var (
		status   int
		body     []byte
		fetchErr error
	)
	collector.OnResponse(func(r *colly.Response) {
		status = r.StatusCode
		body = append([]byte(nil), r.Body...)
	})
	collector.OnError(func(_ *colly.Response, err error) { fetchErr = err })

	if err := runCollector(ctx, collector, robotsURL, &fetchErr); err != nil {
		return nil, err
	}
	data, err := robotstxt.FromStatusAndBytes(status, body)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", robotsURL, err)
	}
	return data.Sitemaps, nil
}

func (f *Fetcher) buildCollector(ctx context.Context, request crawler.FetchRequest) *colly.Collector {
	collector := colly.NewCollector(colly.AllowURLRevisit(), colly.StdlibContext(ctx))
	switch {
	case request.UserAgent != "":
		collector.UserAgent = request.UserAgent
	case f.cfg.DefaultUserAgent != "":
		collector.UserAgent = f.cfg.DefaultUserAgent
	}
	collector.IgnoreRobotsTxt = !f.cfg.RespectRobots
	collector.ParseHTTPErrorResponse = true
	if f.cfg.MaxBodySize > 0 {
		collector.MaxBodySize = f.cfg.MaxBodySize
	}
	timeout := f.cfg.Timeout
	if request.Timeout > 0 {
		timeout = request.Timeout
	}
	collector.WithTransport(f.transport)
	collector.SetRequestTimeout(timeout)
	return collector
}

func configureCollectorHooks(
	hooks collectorHooks,
	start time.Time,
	result *crawler.FetchResponse,
	fetchErr *error,
) {
	hooks.OnRequest(func(r *colly.Request) {
		r.Headers.Set("Accept", "text/html,application/xhtml+xml;q=0.9,*/*;q=0.8")
	})

	hooks.OnResponse(func(r *colly.Response) {
		*result = crawler.FetchResponse{
			URL:        r.Request.URL.String(),
			StatusCode: r.StatusCode,
			Headers:    cloneHeader(r.Headers),
			Body:       append([]byte(nil), r.Body...),
			Duration:   time.Since(start),
			Headless:   false,
		}
	})

	hooks.OnHTML("a[href]", func(e *colly.HTMLElement) {
		if href := strings.TrimSpace(e.Attr("href")); href != "" {
			result.Links = append(result.Links, href)
		}
	})

	hooks.OnHTML("img[src], video[src], source[src]", func(e *colly.HTMLElement) {
		if src := e.Request.AbsoluteURL(e.Attr("src")); src != "" {
			result.MediaRefs = append(result.MediaRefs, src)
		}
	})

	hooks.OnError(func(_ *colly.Response, err error) {
		*fetchErr = err
	})
}

func runCollector(ctx context.Context, collector *colly.Collector, url string, fetchErr *error) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()

	select {
	case <-ctx.Done():
		// The collector's requests are bound to ctx, so Visit returns promptly.
		<-done
		return fmt.Errorf("colly fetch canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return fmt.Errorf("colly fetch canceled: %w", ctxErr)
			}
			return fmt.Errorf("colly visit failed: %w", err)
		}
		if *fetchErr != nil {
			return fmt.Errorf("colly response failed: %w", *fetchErr)
		}
		return nil
	}
}

func cloneHeader(h *http.Header) http.Header {
	if h == nil {
		return http.Header{}
	}
	return h.Clone()
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   10,
		IdleConnTimeout:       90 * time.Second,
	}
}
