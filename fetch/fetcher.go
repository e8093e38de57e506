// Package fetch retrieves content-addressed files with integrity checks.
//
// A [Fetcher] downloads one item at a time through a [Downloader], verifies
// the result against the item's declared digest and retries transient
// failures with a linear hold-off. Whatever happens, the destination either
// holds a verified file or does not exist when Fetch returns.
//
// [Fetcher.FetchAll] runs a fixed-size pool of workers over a batch of items
// and collects failures into a [Report] instead of stopping at the first one.
package fetch

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/meigma/narmirror/narinfo"
	"github.com/meigma/narmirror/nixhash"
)

// DefaultConcurrency is the default number of pool workers.
const DefaultConcurrency = 8

// Downloader retrieves the object named by a locator into dest.
//
// Implementations must not leave a partial file at dest when they fail.
type Downloader interface {
	Download(ctx context.Context, locator, dest string) error
}

// DownloaderFunc adapts a function to the Downloader interface.
type DownloaderFunc func(ctx context.Context, locator, dest string) error

// Download implements Downloader.
func (f DownloaderFunc) Download(ctx context.Context, locator, dest string) error {
	return f(ctx, locator, dest)
}

// Item is one file to retrieve.
type Item struct {
	// Locator is passed to the Downloader, for example "nar/<file>.nar.xz"
	// or an absolute URL.
	Locator string

	// Dest is the final path of the verified file.
	Dest string

	// Hash is the declared digest the file must match.
	Hash narinfo.Hash

	// Label is a human-readable name used in logs and failure reports.
	Label string
}

// Fetcher downloads and verifies items.
type Fetcher struct {
	downloader  Downloader
	digester    nixhash.Digester
	retrier     Retrier
	concurrency int
	logger      *slog.Logger
}

// Option configures a Fetcher.
type Option func(*Fetcher)

// WithDigester sets the digest utility used for verification.
// Defaults to the in-process [nixhash.Local].
func WithDigester(d nixhash.Digester) Option {
	return func(f *Fetcher) {
		if d != nil {
			f.digester = d
		}
	}
}

// WithTries sets the try budget per item. Values below 1 are treated as 1.
func WithTries(n int) Option {
	return func(f *Fetcher) {
		f.retrier.Tries = max(n, 1)
	}
}

// WithRetryInterval sets the base hold-off between attempts.
func WithRetryInterval(d time.Duration) Option {
	return func(f *Fetcher) {
		if d >= 0 {
			f.retrier.Interval = d
		}
	}
}

// WithConcurrency sets the number of workers used by FetchAll.
func WithConcurrency(n int) Option {
	return func(f *Fetcher) {
		if n > 0 {
			f.concurrency = n
		}
	}
}

// WithLogger sets the logger for retry and give-up events.
func WithLogger(logger *slog.Logger) Option {
	return func(f *Fetcher) {
		f.logger = logger
	}
}

// New creates a Fetcher that downloads through d.
func New(d Downloader, opts ...Option) *Fetcher {
	f := &Fetcher{
		downloader:  d,
		digester:    nixhash.Local{},
		retrier:     Retrier{Tries: DefaultTries, Interval: DefaultRetryInterval},
		concurrency: DefaultConcurrency,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

func (f *Fetcher) log() *slog.Logger {
	if f.logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return f.logger
}

// Fetch retrieves a single item. It returns false without doing anything if
// the destination already exists. On failure the destination is removed and
// the returned error wraps ErrGaveUp.
func (f *Fetcher) Fetch(ctx context.Context, item Item) (bool, error) {
	if exists(item.Dest) {
		return false, nil
	}

	retrier := f.retrier
	retrier.Notify = func(err error, wait time.Duration) {
		f.log().Warn("retrying download",
			"locator", item.Locator,
			"wait", wait,
			"error", err)
	}
	err := retrier.Do(ctx, func(int) error {
		return f.attempt(ctx, item)
	})
	if err != nil {
		_ = os.Remove(item.Dest)
		f.log().Warn("giving up", "locator", item.Locator, "label", item.Label, "error", err)
		return false, fmt.Errorf("%w: %s: %w", ErrGaveUp, item.Locator, err)
	}
	return true, nil
}

// attempt performs one download and verification.
func (f *Fetcher) attempt(ctx context.Context, item Item) error {
	if err := f.downloader.Download(ctx, item.Locator, item.Dest); err != nil {
		_ = os.Remove(item.Dest)
		return err
	}
	ok, err := nixhash.Verify(ctx, f.digester, item.Dest, item.Hash)
	if err != nil {
		_ = os.Remove(item.Dest)
		return err
	}
	if !ok {
		_ = os.Remove(item.Dest)
		f.log().Warn("hash verification failed", "dest", item.Dest, "want", item.Hash.String())
		return fmt.Errorf("%w: %s", ErrHashMismatch, item.Dest)
	}
	return nil
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
