// Package scrape provides the fetch capability used by the scheduler.
// The pipeline only depends on the Fetcher interface; the HTTP implementation
// here is the default, swap in a browser-rendering client for hardened sites.
package scrape

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
)

// ErrorKind classifies a failed fetch.
type ErrorKind string

const (
	KindTimeout     ErrorKind = "timeout"
	KindUnreachable ErrorKind = "unreachable"
	KindOther       ErrorKind = "other"
)

// Error is a classified fetch failure.
type Error struct {
	Kind ErrorKind
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("fetch %s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Kind extracts the classification from an error, defaulting to KindOther.
func Kind(err error) ErrorKind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return KindOther
}

// Fetcher retrieves the content behind one address. Implementations must
// respect ctx cancellation; the scheduler derives a per-location timeout.
type Fetcher interface {
	Fetch(ctx context.Context, address string) (string, error)
}

// HTTPFetcher fetches over plain HTTP(S), optionally through a proxy
// (a local Tor SOCKS endpoint for hidden services).
type HTTPFetcher struct {
	client    *http.Client
	userAgent string
}

// NewHTTPFetcher creates a fetcher. proxyURL may be empty. The client itself
// carries no timeout; deadlines come from the caller's context.
func NewHTTPFetcher(proxyURL, userAgent string) (*HTTPFetcher, error) {
	transport := &http.Transport{}
	if strings.TrimSpace(proxyURL) != "" {
		pu, err := url.Parse(proxyURL)
		if err != nil {
			return nil, fmt.Errorf("invalid proxy url: %w", err)
		}
		transport.Proxy = http.ProxyURL(pu)
	}
	if userAgent == "" {
		userAgent = "Mozilla/5.0 (compatible; leaklook/1.0)"
	}
	return &HTTPFetcher{
		client:    &http.Client{Transport: transport},
		userAgent: userAgent,
	}, nil
}

func (f *HTTPFetcher) Fetch(ctx context.Context, address string) (string, error) {
	if _, err := url.ParseRequestURI(address); err != nil {
		return "", &Error{Kind: KindOther, Err: fmt.Errorf("invalid url: %w", err)}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, address, http.NoBody)
	if err != nil {
		return "", &Error{Kind: KindOther, Err: err}
	}
	req.Header.Set("User-Agent", f.userAgent)
	resp, err := f.client.Do(req)
	if err != nil {
		return "", classify(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", &Error{Kind: KindUnreachable, Err: fmt.Errorf("status %d", resp.StatusCode)}
	}
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", classify(err)
	}
	return string(b), nil
}

func classify(err error) *Error {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return &Error{Kind: KindTimeout, Err: err}
	case isTimeout(err):
		return &Error{Kind: KindTimeout, Err: err}
	case isUnreachable(err):
		return &Error{Kind: KindUnreachable, Err: err}
	default:
		return &Error{Kind: KindOther, Err: err}
	}
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

func isUnreachable(err error) bool {
	var oe *net.OpError
	if errors.As(err, &oe) {
		return true
	}
	var de *net.DNSError
	return errors.As(err, &de)
}
