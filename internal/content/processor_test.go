package content

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/site-crawler/internal/crawler"
	"github.com/JakeFAU/site-crawler/internal/hash/sha256"
	"github.com/JakeFAU/site-crawler/internal/storage/memory"
)

const docPage = `<!doctype html>
<html><head><title>  Getting   Started </title><style>body{color:red}</style></head>
<body>
  <nav><a href="/guide#intro">Guide</a> <a href="mailto:team@example.com">Mail</a></nav>
  <h1>Welcome</h1>
  <p>Install the
     tool, then run it.</p>
  <script>console.log("hidden")</script>
  <img src="img/logo.png"><img src="https://cdn.example.com/a.png">
  <a href="/guide">Guide again</a>
</body></html>`

func htmlResponse(body string) crawler.FetchResponse {
	return crawler.FetchResponse{
		URL:        "https://docs.example.com/start/",
		StatusCode: http.StatusOK,
		Headers:    http.Header{"Content-Type": {"text/html; charset=utf-8"}},
		Body:       []byte(body),
		MediaRefs:  []string{"https://cdn.example.com/a.png"},
	}
}

func TestExtract(t *testing.T) {
	t.Parallel()

	got, err := Extract(htmlResponse(docPage))
	require.NoError(t, err)
	require.Equal(t, "Getting Started", got.Title)
	require.Equal(t, "Guide Mail Welcome Install the tool, then run it. Guide again", got.Text)
	require.Equal(t, []string{"https://cdn.example.com/a.png", "https://docs.example.com/start/img/logo.png"}, got.Media)
	require.Equal(t, []string{"https://docs.example.com/guide"}, got.Links)
}

func TestProcessStoresTextByDigest(t *testing.T) {
	t.Parallel()

	blobs := memory.NewBlobStore()
	p, err := New(Config{Blobs: blobs, StoreRaw: true})
	require.NoError(t, err)

	resp := htmlResponse(docPage)
	got, err := p.Process(context.Background(), "job-1", resp)
	require.NoError(t, err)

	digest, err := sha256.New().Hash([]byte(got.Text))
	require.NoError(t, err)
	path := sha256.ObjectPath("content/job-1", digest, ".txt")
	require.Equal(t, "memory://"+path, got.Ref)

	stored, ok := blobs.Object(path)
	require.True(t, ok)
	require.Equal(t, got.Text, string(stored))

	rawDigest, err := sha256.New().Hash(resp.Body)
	require.NoError(t, err)
	raw, ok := blobs.Object(sha256.ObjectPath("content/job-1", rawDigest, ".raw"))
	require.True(t, ok)
	require.Equal(t, docPage, string(raw))
}

func TestProcessSameTextSameRef(t *testing.T) {
	t.Parallel()

	p, err := New(Config{Blobs: memory.NewBlobStore()})
	require.NoError(t, err)

	a, err := p.Process(context.Background(), "job-1", htmlResponse("<html><body><p>same   text</p></body></html>"))
	require.NoError(t, err)
	b, err := p.Process(context.Background(), "job-1", htmlResponse("<html><body>same text</body></html>"))
	require.NoError(t, err)
	require.Equal(t, a.Ref, b.Ref)
}

func TestProcessNonHTML(t *testing.T) {
	t.Parallel()

	p, err := New(Config{Blobs: memory.NewBlobStore()})
	require.NoError(t, err)

	got, err := p.Process(context.Background(), "job-1", crawler.FetchResponse{
		URL:     "https://docs.example.com/robots.txt",
		Headers: http.Header{"Content-Type": {"text/plain"}},
		Body:    []byte("  User-agent: *\n"),
	})
	require.NoError(t, err)
	require.Equal(t, "User-agent: *", got.Text)
	require.Empty(t, got.Links)
	require.NotEmpty(t, got.Ref)
}

type failingBlobs struct{}

func (failingBlobs) PutObject(context.Context, string, string, []byte) (string, error) {
	return "", errors.New("bucket unavailable")
}

func TestProcessPropagatesStoreFailure(t *testing.T) {
	t.Parallel()

	p, err := New(Config{Blobs: failingBlobs{}})
	require.NoError(t, err)
	_, err = p.Process(context.Background(), "job-1", htmlResponse(docPage))
	require.ErrorContains(t, err, "bucket unavailable")
}

func TestNewRequiresBlobStore(t *testing.T) {
	t.Parallel()

	_, err := New(Config{})
	require.Error(t, err)
}

func TestIsHTMLSniffsWithoutContentType(t *testing.T) {
	t.Parallel()

	require.True(t, isHTML(crawler.FetchResponse{Body: []byte("<!doctype html><HTML><body>x</body></HTML>")}))
	require.False(t, isHTML(crawler.FetchResponse{Body: []byte(`{"a":1}`)}))
	require.True(t, isHTML(crawler.FetchResponse{Headers: http.Header{"Content-Type": {"application/xhtml+xml"}}}))
}
