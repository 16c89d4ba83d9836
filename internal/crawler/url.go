package crawler

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"regexp"
	"strings"
)

var (
	duplicateSlashes = regexp.MustCompile(`/{2,}`)

	errEmptyURL    = errors.New("empty url")
	errUnsupported = errors.New("unsupported scheme")
	errMissingHost = errors.New("missing host")
)

// NormalizeURL standardizes an absolute URL so equivalent spellings compare equal.
func NormalizeURL(rawURL string) (string, error) {
	return ResolveURL("", rawURL)
}

// ResolveURL resolves ref against base (which may be empty) and normalizes the result.
// It lowercases the scheme and host, removes default ports, strips fragments,
// collapses duplicate slashes and drops a single trailing slash unless the path is root.
// The query string is kept verbatim.
func ResolveURL(base, ref string) (string, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return "", errEmptyURL
	}
	u, err := url.Parse(ref)
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}
	if base != "" {
		b, err := url.Parse(base)
		if err != nil {
			return "", fmt.Errorf("parse base url: %w", err)
		}
		u = b.ResolveReference(u)
	}

	u.Scheme = strings.ToLower(u.Scheme)
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("%w %q", errUnsupported, u.Scheme)
	}
	host := strings.ToLower(u.Hostname())
	if host == "" {
		return "", errMissingHost
	}
	port := u.Port()
	if (u.Scheme == "http" && port == "80") || (u.Scheme == "https" && port == "443") {
		port = ""
	}
	switch {
	case port != "":
		u.Host = net.JoinHostPort(host, port)
	case strings.Contains(host, ":"):
		u.Host = "[" + host + "]"
	default:
		u.Host = host
	}

	u.Fragment = ""
	u.RawFragment = ""

	p := duplicateSlashes.ReplaceAllString(u.EscapedPath(), "/")
	if p == "" {
		p = "/"
	}
	if len(p) > 1 && strings.HasSuffix(p, "/") {
		p = p[:len(p)-1]
	}
	decoded, err := url.PathUnescape(p)
	if err != nil {
		return "", fmt.Errorf("unescape path: %w", err)
	}
	u.Path = decoded
	u.RawPath = p

	return u.String(), nil
}

// Hostname returns the lowercased host of rawURL, or "" when it does not parse.
func Hostname(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}
