package narmirror

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/meigma/narmirror/cache"
	"github.com/meigma/narmirror/fetch"
	"github.com/meigma/narmirror/nixhash"
)

// DefaultUpstream is the cache mirrored when no upstream is configured.
const DefaultUpstream = "https://cache.nixos.org"

// Upstream is a binary cache to mirror from. It returns metadata text for
// names such as "<hash>.narinfo" ("" when it has none) and downloads
// archives such as "nar/<file>.nar.xz".
//
// [github.com/meigma/narmirror/http.Source] and
// [github.com/meigma/narmirror/s3.Client] implement Upstream.
type Upstream interface {
	FetchMetadata(ctx context.Context, name string) (string, error)
	Download(ctx context.Context, name, dest string) error
}

// Mirror mirrors releases of an upstream binary cache into a local store.
type Mirror struct {
	store    *cache.Store
	upstream Upstream
	fetcher  *fetch.Fetcher

	concurrency   int
	tries         int
	retryInterval time.Duration
	digester      nixhash.Digester
	logger        *slog.Logger

	printOnly bool
	output    io.Writer
	cacheInfo map[string]string

	keep   []string
	dryRun bool
}

// New creates a Mirror whose flat store lives in cacheDir. The directory is
// created if needed.
//
// Without [WithUpstream] or [WithUpstreamURL] the mirror reads from
// [DefaultUpstream].
func New(cacheDir string, opts ...Option) (*Mirror, error) {
	if cacheDir == "" {
		return nil, errors.New("narmirror: cache directory is required")
	}
	m := &Mirror{
		concurrency:   fetch.DefaultConcurrency,
		tries:         fetch.DefaultTries,
		retryInterval: fetch.DefaultRetryInterval,
		output:        os.Stdout,
	}
	for _, opt := range opts {
		if err := opt(m); err != nil {
			return nil, err
		}
	}

	if m.upstream == nil {
		if err := WithUpstreamURL(DefaultUpstream)(m); err != nil {
			return nil, err
		}
	}

	store, err := cache.New(cacheDir, cache.WithLogger(m.logger))
	if err != nil {
		return nil, err
	}
	m.store = store

	m.fetcher = fetch.New(m.upstream,
		fetch.WithConcurrency(m.concurrency),
		fetch.WithTries(m.tries),
		fetch.WithRetryInterval(m.retryInterval),
		fetch.WithDigester(m.digester),
		fetch.WithLogger(m.logger),
	)
	return m, nil
}

// Store returns the flat store.
func (m *Mirror) Store() *cache.Store {
	return m.store
}

// Fetcher returns the verified fetcher downloading from the upstream.
func (m *Mirror) Fetcher() *fetch.Fetcher {
	return m.fetcher
}

// metadata returns the metadata source used for resolution: the store first,
// then the upstream with retries.
func (m *Mirror) metadata() *fetch.Metadata {
	return m.fetcher.Metadata(m.upstream, m.store.Root())
}

func (m *Mirror) log() *slog.Logger {
	if m.logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return m.logger
}
