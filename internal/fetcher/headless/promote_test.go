package headless

import (
	"context"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/site-crawler/internal/crawler"
)

func ok(body string) crawler.FetchResponse {
	return crawler.FetchResponse{StatusCode: http.StatusOK, Body: []byte(body)}
}

func TestShellDetector_EmptyBody(t *testing.T) {
	t.Parallel()

	require.True(t, NewShellDetector(0).ShouldPromote(ok("  ")))
}

func TestShellDetector_AppRoot(t *testing.T) {
	t.Parallel()

	d := NewShellDetector(100)
	require.True(t, d.ShouldPromote(ok(`<html><body><div id="__next"></div></body></html>`)))
	require.True(t, d.ShouldPromote(ok(`<html><body><div id="root">Loading</div></body></html>`)))
}

func TestShellDetector_ScriptHeavy(t *testing.T) {
	t.Parallel()

	body := `<html><body><p>hi</p><script>` + strings.Repeat("var a=1;", 40) + `</script></body></html>`
	require.True(t, NewShellDetector(100).ShouldPromote(ok(body)))
}

func TestShellDetector_ContentPageStaysStatic(t *testing.T) {
	t.Parallel()

	text := strings.Repeat("Plenty of server rendered words. ", 20)
	body := `<html><body><div id="root"><p>` + text + `</p></div><script>var a=1;</script></body></html>`
	require.False(t, NewShellDetector(100).ShouldPromote(ok(body)))
}

func TestShellDetector_IgnoresErrorsAndRenderedPages(t *testing.T) {
	t.Parallel()

	d := NewShellDetector(100)
	require.False(t, d.ShouldPromote(crawler.FetchResponse{StatusCode: http.StatusNotFound}))
	resp := ok("")
	resp.Headless = true
	require.False(t, d.ShouldPromote(resp))
}

type failingFetcher struct{}

func (failingFetcher) Fetch(_ context.Context, request crawler.FetchRequest) (crawler.FetchResponse, error) {
	return crawler.FetchResponse{}, &crawler.FetchError{Kind: crawler.FetchErrRender, URL: request.URL, Err: ErrUnavailable}
}

func TestSwitchPromotesShells(t *testing.T) {
	t.Parallel()

	always := func(crawler.FetchResponse) bool { return true }
	sw := Switch{Static: namedFetcher("static"), Browser: namedFetcher("browser"), Promote: always}
	resp, err := sw.Fetch(context.Background(), crawler.FetchRequest{URL: "https://example.com"})
	require.NoError(t, err)
	require.Equal(t, "browser", string(resp.Body))

	sw.Browser = failingFetcher{}
	resp, err = sw.Fetch(context.Background(), crawler.FetchRequest{URL: "https://example.com"})
	require.NoError(t, err)
	require.Equal(t, "static", string(resp.Body), "render failure falls back to the static copy")

	sw.Promote = func(crawler.FetchResponse) bool { return false }
	sw.Browser = namedFetcher("browser")
	resp, err = sw.Fetch(context.Background(), crawler.FetchRequest{URL: "https://example.com"})
	require.NoError(t, err)
	require.Equal(t, "static", string(resp.Body))
}
