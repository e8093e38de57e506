package fetch

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/meigma/narmirror/storepath"
)

// MetadataSource returns the metadata text stored under a name such as
// "<hash>.narinfo", or "" if the source has nothing for it.
type MetadataSource interface {
	FetchMetadata(ctx context.Context, name string) (string, error)
}

// Metadata is a MetadataSource that consults a local directory first and
// falls back to an upstream source, retrying transient upstream errors with
// the fetcher's try budget and hold-off.
type Metadata struct {
	upstream MetadataSource
	localDir string
	fetcher  *Fetcher
}

// Metadata wraps upstream with a local fallback directory. An empty localDir
// disables the fallback.
func (f *Fetcher) Metadata(upstream MetadataSource, localDir string) *Metadata {
	return &Metadata{upstream: upstream, localDir: localDir, fetcher: f}
}

// FetchMetadata implements MetadataSource.
func (m *Metadata) FetchMetadata(ctx context.Context, name string) (string, error) {
	if name == "" || filepath.Base(name) != name {
		return "", fmt.Errorf("%w: metadata name %q", storepath.ErrMalformed, name)
	}
	if m.localDir != "" {
		data, err := os.ReadFile(filepath.Join(m.localDir, name)) //nolint:gosec // name is a single path element
		switch {
		case err == nil && len(data) > 0:
			return string(data), nil
		case err != nil && !errors.Is(err, os.ErrNotExist):
			return "", fmt.Errorf("fetch: read local metadata: %w", err)
		}
	}

	retrier := m.fetcher.retrier
	retrier.Notify = func(err error, wait time.Duration) {
		m.fetcher.log().Warn("retrying metadata", "name", name, "wait", wait, "error", err)
	}
	var text string
	err := retrier.Do(ctx, func(int) error {
		var err error
		text, err = m.upstream.FetchMetadata(ctx, name)
		return err
	})
	if err != nil {
		return "", fmt.Errorf("fetch: metadata %s: %w", name, err)
	}
	return text, nil
}
