// Package content turns fetched pages into normalized text and stores that text
// in a blob store addressed by its SHA-256 digest.
package content

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"mime"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/JakeFAU/site-crawler/internal/crawler"
	"github.com/JakeFAU/site-crawler/internal/hash/sha256"
)

const (
	textContentType  = "text/plain; charset=utf-8"
	nonTextSelectors = "script, style, noscript, template, svg"
)

// Config wires a Processor. Blobs is required.
type Config struct {
	Blobs  crawler.BlobStore
	Hasher crawler.Hasher
	// Prefix is the object key prefix; the job id is appended to it.
	Prefix string
	// StoreRaw also writes the unmodified body next to the text.
	StoreRaw bool
	Logger   *zap.Logger
}

// Processor implements crawler.ContentProcessor.
type Processor struct {
	cfg    Config
	logger *zap.Logger
}

// New validates cfg.
func New(cfg Config) (*Processor, error) {
	if cfg.Blobs == nil {
		return nil, errors.New("content: blob store is required")
	}
	if cfg.Hasher == nil {
		cfg.Hasher = sha256.New()
	}
	if cfg.Prefix == "" {
		cfg.Prefix = "content"
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Processor{cfg: cfg, logger: cfg.Logger.With(zap.String("component", "content"))}, nil
}

// Process extracts content from response and stores its text. The returned
// Content.Ref is the URI of the stored text.
func (p *Processor) Process(ctx context.Context, jobID string, response crawler.FetchResponse) (crawler.Content, error) {
	var (
		out crawler.Content
		err error
	)
	if isHTML(response) {
		out, err = Extract(response)
		if err != nil {
			return crawler.Content{}, err
		}
	} else {
		out.Text = strings.TrimSpace(string(response.Body))
		out.Media = dedupe(response.MediaRefs)
	}

	digest, err := p.cfg.Hasher.Hash([]byte(out.Text))
	if err != nil {
		return crawler.Content{}, fmt.Errorf("hash content: %w", err)
	}
	prefix := p.cfg.Prefix + "/" + jobID
	ref, err := p.cfg.Blobs.PutObject(ctx, sha256.ObjectPath(prefix, digest, ".txt"), textContentType, []byte(out.Text))
	if err != nil {
		return crawler.Content{}, fmt.Errorf("store content: %w", err)
	}
	out.Ref = ref

	if p.cfg.StoreRaw && len(response.Body) > 0 {
		rawDigest, err := p.cfg.Hasher.Hash(response.Body)
		if err != nil {
			return crawler.Content{}, fmt.Errorf("hash body: %w", err)
		}
		if _, err := p.cfg.Blobs.PutObject(ctx, sha256.ObjectPath(prefix, rawDigest, ".raw"), contentType(response), response.Body); err != nil {
			return crawler.Content{}, fmt.Errorf("store raw body: %w", err)
		}
	}
	p.logger.Debug("content stored",
		zap.String("job_id", jobID),
		zap.String("url", response.URL),
		zap.String("ref", ref),
		zap.Int("text_bytes", len(out.Text)),
	)
	return out, nil
}

// Extract parses an HTML response into title, normalized text, and absolute
// media and link URLs. Media already found by the fetcher is merged in.
func Extract(response crawler.FetchResponse) (crawler.Content, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(response.Body))
	if err != nil {
		return crawler.Content{}, fmt.Errorf("parse html: %w", err)
	}

	var out crawler.Content
	out.Title = NormalizeText(doc.Find("title").First().Text())
	if out.Title == "" {
		if og, ok := doc.Find("meta[property='og:title']").Attr("content"); ok {
			out.Title = NormalizeText(og)
		}
	}

	media := append([]string(nil), response.MediaRefs...)
	doc.Find("img[src], video[src], source[src], audio[src]").Each(func(_ int, s *goquery.Selection) {
		if src, ok := s.Attr("src"); ok {
			if abs, err := crawler.ResolveURL(response.URL, src); err == nil {
				media = append(media, abs)
			}
		}
	})
	out.Media = dedupe(media)

	var links []string
	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		if abs, err := crawler.ResolveURL(response.URL, href); err == nil {
			links = append(links, abs)
		}
	})
	out.Links = dedupe(links)

	root := doc.Find("body").First()
	if root.Length() == 0 {
		root = doc.Selection
	}
	root.Find(nonTextSelectors).Remove()
	out.Text = NormalizeText(root.Text())
	return out, nil
}

// NormalizeText collapses all runs of whitespace to single spaces.
func NormalizeText(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func isHTML(response crawler.FetchResponse) bool {
	ct := contentType(response)
	if ct == "" {
		return bytes.Contains(bytes.ToLower(response.Body[:min(len(response.Body), 512)]), []byte("<html"))
	}
	mediaType, _, err := mime.ParseMediaType(ct)
	if err != nil {
		return strings.Contains(ct, "html")
	}
	return mediaType == "text/html" || mediaType == "application/xhtml+xml"
}

func contentType(response crawler.FetchResponse) string {
	if response.Headers == nil {
		return ""
	}
	return response.Headers.Get("Content-Type")
}

func dedupe(items []string) []string {
	if len(items) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(items))
	out := make([]string, 0, len(items))
	for _, item := range items {
		if _, ok := seen[item]; ok || item == "" {
			continue
		}
		seen[item] = struct{}{}
		out = append(out, item)
	}
	return out
}
