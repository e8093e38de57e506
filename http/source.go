// Package http provides an upstream binary cache reached over HTTP.
//
// A [Source] serves two roles: it returns metadata text for a key such as
// "<hash>.narinfo", and it downloads archives such as "nar/<file>.nar.xz" to a
// local destination. Every request is bounded by a timeout so a stalled
// transfer can never wedge a worker pool waiting on it.
package http

import (
	"context"
	"errors"
	"fmt"
	"io"
	nethttp "net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/renameio"
	"golang.org/x/time/rate"
)

// DefaultTimeout bounds a single request including reading its body.
const DefaultTimeout = 15 * time.Minute

var (
	// ErrNotFound is returned when the upstream has no object for a key.
	ErrNotFound = errors.New("http: not found")

	// ErrTruncated is returned when a transfer ends before Content-Length bytes.
	ErrTruncated = errors.New("http: truncated transfer")

	// ErrUnsupportedScheme is returned for locators that are not http or https.
	ErrUnsupportedScheme = errors.New("http: unsupported scheme")

	// ErrEmptyBody is returned when a metadata request succeeds with no content.
	ErrEmptyBody = errors.New("http: empty response body")
)

// StatusError is returned for non-2xx responses.
type StatusError struct {
	URL    string
	Code   int
	Status string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("GET %s: %s", e.URL, e.Status)
}

// Unwrap maps 404 responses to ErrNotFound.
func (e *StatusError) Unwrap() error {
	if e.Code == nethttp.StatusNotFound {
		return ErrNotFound
	}
	return nil
}

// Source is an upstream binary cache reached over HTTP(S).
type Source struct {
	base    *url.URL
	client  *nethttp.Client
	headers nethttp.Header
	timeout time.Duration
	limiter *rate.Limiter
}

// Option configures a Source.
type Option func(*Source)

// WithClient sets the HTTP client used for requests.
func WithClient(client *nethttp.Client) Option {
	return func(s *Source) {
		s.client = client
	}
}

// WithHeaders sets additional headers on each request.
func WithHeaders(headers nethttp.Header) Option {
	return func(s *Source) {
		if headers == nil {
			return
		}
		s.headers = headers.Clone()
	}
}

// WithHeader sets a single header on each request.
func WithHeader(key, value string) Option {
	return func(s *Source) {
		if s.headers == nil {
			s.headers = make(nethttp.Header)
		}
		s.headers.Set(key, value)
	}
}

// WithUserAgent sets the User-Agent header.
func WithUserAgent(ua string) Option {
	return WithHeader("User-Agent", ua)
}

// WithTimeout bounds each request. Non-positive values keep the default.
func WithTimeout(d time.Duration) Option {
	return func(s *Source) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// WithRateLimit limits the request rate against the upstream.
// A non-positive rps disables limiting.
func WithRateLimit(rps float64, burst int) Option {
	return func(s *Source) {
		if rps <= 0 {
			s.limiter = nil
			return
		}
		if burst < 1 {
			burst = 1
		}
		s.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// NewSource creates a Source rooted at baseURL, for example
// "https://cache.nixos.org".
func NewSource(baseURL string, opts ...Option) (*Source, error) {
	u, err := url.Parse(strings.TrimSuffix(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("http: parse base url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedScheme, baseURL)
	}
	s := &Source{
		base:    u,
		client:  nethttp.DefaultClient,
		timeout: DefaultTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.client == nil {
		s.client = nethttp.DefaultClient
	}
	return s, nil
}

// URL resolves a key or locator against the base URL. Absolute http(s)
// locators are returned unchanged.
func (s *Source) URL(name string) (string, error) {
	if u, err := url.Parse(name); err == nil && u.IsAbs() {
		if u.Scheme != "http" && u.Scheme != "https" {
			return "", fmt.Errorf("%w: %q", ErrUnsupportedScheme, name)
		}
		return u.String(), nil
	}
	return s.base.String() + "/" + strings.TrimPrefix(name, "/"), nil
}

// FetchMetadata returns the text stored under name, or "" if the upstream
// has no such key. A successful response without content is an error, so
// callers retry it instead of taking it for a miss.
func (s *Source) FetchMetadata(ctx context.Context, name string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	resp, err := s.get(ctx, name)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return "", nil
		}
		return "", err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("http: read %s: %w", name, err)
	}
	if resp.ContentLength >= 0 && int64(len(data)) != resp.ContentLength {
		return "", fmt.Errorf("%w: %s: got %d of %d bytes", ErrTruncated, name, len(data), resp.ContentLength)
	}
	if len(data) == 0 {
		return "", fmt.Errorf("%w: %s", ErrEmptyBody, name)
	}
	return string(data), nil
}

// Download retrieves name into dest. The body is streamed into a temporary
// file next to dest which replaces dest only after the full body arrived, so
// a failed transfer never leaves a partial file behind.
func (s *Source) Download(ctx context.Context, name, dest string) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	resp, err := s.get(ctx, name)
	if err != nil {
		return err
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return err
	}
	tmp, err := renameio.TempFile(filepath.Dir(dest), dest)
	if err != nil {
		return err
	}
	defer tmp.Cleanup() //nolint:errcheck // no-op after CloseAtomicallyReplace

	n, err := io.Copy(tmp, resp.Body)
	if err != nil {
		return fmt.Errorf("http: download %s: %w", name, err)
	}
	if resp.ContentLength >= 0 && n != resp.ContentLength {
		return fmt.Errorf("%w: %s: got %d of %d bytes", ErrTruncated, name, n, resp.ContentLength)
	}
	return tmp.CloseAtomicallyReplace()
}

func (s *Source) get(ctx context.Context, name string) (*nethttp.Response, error) {
	target, err := s.URL(name)
	if err != nil {
		return nil, err
	}
	if s.limiter != nil {
		if err := s.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}
	req, err := nethttp.NewRequestWithContext(ctx, nethttp.MethodGet, target, nil)
	if err != nil {
		return nil, err
	}
	for key, values := range s.headers {
		for _, value := range values {
			req.Header.Add(key, value)
		}
	}
	if req.Header.Get("Accept-Encoding") == "" {
		req.Header.Set("Accept-Encoding", "identity")
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
		return nil, &StatusError{URL: target, Code: resp.StatusCode, Status: resp.Status}
	}
	return resp, nil
}
