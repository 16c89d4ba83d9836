package crawler

import "time"

// Page is the success arm of Outcome.
type Page struct {
	Response FetchResponse
	Content  Content
}

// Outcome is the tagged result of fetching one URL: exactly one of Page or Err is set.
type Outcome struct {
	URL       string
	ParentURL string
	Depth     int
	Attempts  int
	Page      *Page
	Err       *FetchError
}

// Succeeded builds a success outcome.
func Succeeded(url string, page Page) Outcome {
	return Outcome{URL: url, Page: &page, Attempts: 1}
}

// Failed builds a failure outcome.
func Failed(url string, err *FetchError) Outcome {
	return Outcome{URL: url, Err: err, Attempts: 1}
}

// OK reports whether the outcome carries a page.
func (o Outcome) OK() bool { return o.Page != nil && o.Err == nil }

// Result converts the outcome into the row persisted by the result store.
func (o Outcome) Result(jobID string, fetchedAt time.Time) CrawlResult {
	res := CrawlResult{
		URL:       o.URL,
		JobID:     jobID,
		FetchedAt: fetchedAt.UTC(),
		ParentURL: o.ParentURL,
		Depth:     o.Depth,
	}
	if o.OK() {
		res.Success = true
		res.ContentRef = o.Page.Content.Ref
		res.SizeBytes = int64(len(o.Page.Response.Body))
		res.StatusCode = o.Page.Response.StatusCode
		res.ElapsedMS = o.Page.Response.Duration.Milliseconds()
		return res
	}
	if o.Err != nil {
		res.ErrorMessage = o.Err.Error()
		res.StatusCode = o.Err.StatusCode
	} else {
		res.ErrorMessage = "fetch produced no result"
	}
	return res
}
