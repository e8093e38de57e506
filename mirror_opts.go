package narmirror

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	mirrorhttp "github.com/meigma/narmirror/http"
	"github.com/meigma/narmirror/nixhash"
)

// Option configures a Mirror.
type Option func(*Mirror) error

// --- Upstream Options ---

// WithUpstream sets the upstream cache.
func WithUpstream(u Upstream) Option {
	return func(m *Mirror) error {
		if u == nil {
			return errors.New("narmirror: nil upstream")
		}
		m.upstream = u
		return nil
	}
}

// WithUpstreamURL reads from the binary cache served at baseURL over HTTP(S).
func WithUpstreamURL(baseURL string, opts ...mirrorhttp.Option) Option {
	return func(m *Mirror) error {
		src, err := mirrorhttp.NewSource(baseURL, opts...)
		if err != nil {
			return fmt.Errorf("narmirror: upstream: %w", err)
		}
		m.upstream = src
		return nil
	}
}

// --- Fetch Options ---

// WithConcurrency sets the number of concurrent metadata and archive
// downloads. Defaults to [fetch.DefaultConcurrency].
func WithConcurrency(n int) Option {
	return func(m *Mirror) error {
		if n < 1 {
			return fmt.Errorf("narmirror: concurrency must be at least 1, got %d", n)
		}
		m.concurrency = n
		return nil
	}
}

// WithTries sets the try budget per download. Defaults to [fetch.DefaultTries].
func WithTries(n int) Option {
	return func(m *Mirror) error {
		if n < 1 {
			return fmt.Errorf("narmirror: tries must be at least 1, got %d", n)
		}
		m.tries = n
		return nil
	}
}

// WithRetryInterval sets the base hold-off between attempts. The n-th retry
// waits n times this interval. Defaults to [fetch.DefaultRetryInterval].
func WithRetryInterval(d time.Duration) Option {
	return func(m *Mirror) error {
		if d < 0 {
			return fmt.Errorf("narmirror: negative retry interval %s", d)
		}
		m.retryInterval = d
		return nil
	}
}

// WithDigester sets the digest utility used to verify downloads.
// Defaults to the in-process [nixhash.Local].
func WithDigester(d nixhash.Digester) Option {
	return func(m *Mirror) error {
		m.digester = d
		return nil
	}
}

// WithLogger sets the logger for all components of the mirror.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Mirror) error {
		m.logger = logger
		return nil
	}
}

// --- Update Options ---

// WithPrintOnly makes Update stop after resolving and persisting metadata and
// print one "URL,FileHash" line per archive instead of downloading.
func WithPrintOnly(enabled bool) Option {
	return func(m *Mirror) error {
		m.printOnly = enabled
		return nil
	}
}

// WithOutput sets where print-only output goes. Defaults to os.Stdout.
func WithOutput(w io.Writer) Option {
	return func(m *Mirror) error {
		if w != nil {
			m.output = w
		}
		return nil
	}
}

// WithCacheInfo sets the fields written as "nix-cache-info" into every
// published release. A nil map writes no file.
func WithCacheInfo(fields map[string]string) Option {
	return func(m *Mirror) error {
		m.cacheInfo = fields
		return nil
	}
}

// --- Garbage Collection Options ---

// WithKeep adds store-relative names that garbage collection never deletes.
func WithKeep(names ...string) Option {
	return func(m *Mirror) error {
		m.keep = append(m.keep, names...)
		return nil
	}
}

// WithDryRun makes garbage collection report garbage without deleting it.
func WithDryRun(enabled bool) Option {
	return func(m *Mirror) error {
		m.dryRun = enabled
		return nil
	}
}
