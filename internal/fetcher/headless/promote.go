package headless

import (
	"bytes"
	"net/http"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/site-crawler/internal/crawler"
)

const defaultMinText = 256

// appRoots are mount points client-side frameworks render into.
var appRoots = []string{"#__next", "#root", "#app", "[data-reactroot]", "[ng-version]"}

// ShellDetector flags static responses that are client-rendered shells and
// need a browser to produce their content.
type ShellDetector struct {
	// MinText is the visible text length below which a page counts as empty.
	MinText int
	// ScriptShare is the percentage of body bytes inside <script> tags at or
	// above which a short page is promoted.
	ScriptShare int
}

// NewShellDetector returns a detector; zero values pick defaults.
func NewShellDetector(minText int) ShellDetector {
	if minText <= 0 {
		minText = defaultMinText
	}
	return ShellDetector{MinText: minText, ScriptShare: 25}
}

// ShouldPromote reports whether resp should be fetched again headless.
func (d ShellDetector) ShouldPromote(resp crawler.FetchResponse) bool {
	if resp.StatusCode != http.StatusOK || resp.Headless {
		return false
	}
	if len(bytes.TrimSpace(resp.Body)) == 0 {
		return true
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(resp.Body))
	if err != nil {
		return false
	}

	scriptBytes := 0
	doc.Find("script").Each(func(_ int, s *goquery.Selection) {
		scriptBytes += len(s.Text())
	})
	doc.Find("script, style, noscript").Remove()
	visible := len(strings.Join(strings.Fields(doc.Find("body").Text()), " "))
	if visible >= d.MinText {
		return false
	}
	for _, sel := range appRoots {
		if doc.Find(sel).Length() > 0 {
			return true
		}
	}
	return scriptBytes*100/len(resp.Body) >= d.ScriptShare
}
