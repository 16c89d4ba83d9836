package crawler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"syscall"
)

var (
	// ErrInvalidSettings is wrapped by Settings.Validate failures.
	ErrInvalidSettings = errors.New("invalid settings")
	// ErrResourceExhausted is returned when the memory gate does not open before its admission timeout.
	ErrResourceExhausted = errors.New("resource exhausted: memory threshold not cleared before admission timeout")
	// ErrJobFinished is returned when an operation targets a job in a terminal state.
	ErrJobFinished = errors.New("job already finished")
)

// DiscoveryError reports an unreachable or malformed seed. It is fatal for the job.
type DiscoveryError struct {
	Seed string
	Err  error
}

func (e *DiscoveryError) Error() string {
	return fmt.Sprintf("discover %s: %v", e.Seed, e.Err)
}

func (e *DiscoveryError) Unwrap() error { return e.Err }

// StoreError is surfaced once the result store has exhausted its retry budget.
type StoreError struct {
	Op       string
	Attempts int
	Err      error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store %s failed after %d attempt(s): %v", e.Op, e.Attempts, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

// FetchErrorKind classifies a per-URL fetch failure.
type FetchErrorKind string

// Fetch failure kinds.
const (
	FetchErrTimeout   FetchErrorKind = "timeout"
	FetchErrTransport FetchErrorKind = "transport"
	FetchErrRender    FetchErrorKind = "render"
	FetchErrStatus    FetchErrorKind = "status"
	FetchErrPanic     FetchErrorKind = "panic"
)

// FetchError is the failure arm of Outcome.
type FetchError struct {
	Kind       FetchErrorKind
	URL        string
	StatusCode int
	// Reset marks transport errors caused by a dropped connection.
	Reset bool
	Err   error
}

func (e *FetchError) Error() string {
	if e.Kind == FetchErrStatus {
		return fmt.Sprintf("fetch %s: %s %d", e.URL, e.Kind, e.StatusCode)
	}
	return fmt.Sprintf("fetch %s: %s: %v", e.URL, e.Kind, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// Transient reports whether one more attempt may succeed.
func (e *FetchError) Transient() bool {
	return e.Kind == FetchErrTimeout || (e.Kind == FetchErrTransport && e.Reset)
}

// ClassifyFetchError maps an arbitrary fetcher error onto a FetchError.
func ClassifyFetchError(rawURL string, err error) *FetchError {
	if err == nil {
		return nil
	}
	var fe *FetchError
	if errors.As(err, &fe) {
		if fe.URL == "" {
			fe.URL = rawURL
		}
		return fe
	}
	out := &FetchError{Kind: FetchErrTransport, URL: rawURL, Err: err}
	var netErr net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		out.Kind = FetchErrTimeout
	case errors.As(err, &netErr) && netErr.Timeout():
		out.Kind = FetchErrTimeout
	case errors.Is(err, syscall.ECONNRESET), errors.Is(err, io.ErrUnexpectedEOF), errors.Is(err, syscall.EPIPE):
		out.Reset = true
	}
	return out
}
