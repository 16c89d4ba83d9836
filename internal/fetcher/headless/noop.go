package headless

import (
	"context"
	"errors"

	"github.com/JakeFAU/site-crawler/internal/crawler"
)

// ErrUnavailable is returned when a job asks for rendering but no browser is configured.
var ErrUnavailable = errors.New("headless fetcher not configured")

// Noop implements Fetcher but always fails with ErrUnavailable.
type Noop struct{}

// NewNoop creates a new Noop fetcher.
func NewNoop() *Noop {
	return &Noop{}
}

// Fetch always fails.
func (Noop) Fetch(_ context.Context, request crawler.FetchRequest) (crawler.FetchResponse, error) {
	return crawler.FetchResponse{}, &crawler.FetchError{Kind: crawler.FetchErrRender, URL: request.URL, Err: ErrUnavailable}
}

// Switch routes requests flagged Headless to the browser fetcher and the rest
// to the static one. With Promote set, static responses it flags are fetched
// again through the browser.
type Switch struct {
	Static  crawler.Fetcher
	Browser crawler.Fetcher
	Promote func(crawler.FetchResponse) bool
}

// Fetch dispatches on request.Headless.
func (s Switch) Fetch(ctx context.Context, request crawler.FetchRequest) (crawler.FetchResponse, error) {
	if request.Headless {
		if s.Browser == nil {
			return Noop{}.Fetch(ctx, request)
		}
		return s.Browser.Fetch(ctx, request)
	}
	resp, err := s.Static.Fetch(ctx, request)
	if err != nil || s.Promote == nil || s.Browser == nil || !s.Promote(resp) {
		return resp, err
	}
	request.Headless = true
	rendered, rerr := s.Browser.Fetch(ctx, request)
	if rerr != nil {
		// Keep the static copy; a failed render shouldn't lose the page.
		return resp, nil
	}
	return rendered, nil
}
