package tarball

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/meigma/narmirror/fetch"
)

// ErrUnknownMirror is returned for mirror:// URLs naming no configured mirror.
var ErrUnknownMirror = errors.New("tarball: unknown mirror")

// Mirrors expands mirror://<name>/<path> locators. Each mirror name maps to
// base URLs tried in order.
type Mirrors map[string][]string

// Expand returns the candidate URLs for locator. Locators that are not
// mirror:// URLs are returned unchanged.
func (m Mirrors) Expand(locator string) ([]string, error) {
	rest, ok := strings.CutPrefix(locator, "mirror://")
	if !ok {
		return []string{locator}, nil
	}
	name, path, _ := strings.Cut(rest, "/")
	bases := m[name]
	if len(bases) == 0 {
		return nil, fetch.Permanent(fmt.Errorf("%w: %q", ErrUnknownMirror, name))
	}
	urls := make([]string, len(bases))
	for i, base := range bases {
		urls[i] = strings.TrimSuffix(base, "/") + "/" + path
	}
	return urls, nil
}

// Downloader wraps d so that mirror:// locators are tried against every
// configured base URL until one succeeds.
func (m Mirrors) Downloader(d fetch.Downloader) fetch.Downloader {
	return fetch.DownloaderFunc(func(ctx context.Context, locator, dest string) error {
		urls, err := m.Expand(locator)
		if err != nil {
			return err
		}
		var errs []error
		for _, u := range urls {
			err := d.Download(ctx, u, dest)
			if err == nil {
				return nil
			}
			errs = append(errs, err)
		}
		return errors.Join(errs...)
	})
}
