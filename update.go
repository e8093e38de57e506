package narmirror

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/meigma/narmirror/cache"
	"github.com/meigma/narmirror/closure"
	"github.com/meigma/narmirror/fetch"
	"github.com/meigma/narmirror/storepath"
)

// Release directory layout.
const (
	// StorePathsFile lists the root store paths of a release, one per line.
	StorePathsFile = "store-paths"

	// ReleaseCacheDir is the subdirectory of a release that receives the
	// symlink projection of its closure.
	ReleaseCacheDir = "binary_cache"
)

// UpdateResult describes one Update run.
type UpdateResult struct {
	// Closure is the resolved closure of the roots.
	Closure closure.Set

	// Unresolved lists the paths whose metadata could not be fetched. They
	// are part of Closure with empty records.
	Unresolved []closure.Failure

	// Persisted counts metadata files newly written to the store.
	Persisted int

	// Report holds per-archive download outcomes plus one failure per
	// unresolved path. It is nil in print-only mode.
	Report *fetch.Report

	// Publication counts the links of the release. It is zero in print-only
	// mode or when publication failed.
	Publication cache.Publication
}

// Update mirrors the closure of roots and publishes it into releaseDir.
//
// The run resolves the closure through the store and the upstream, persists
// every metadata record, downloads the missing archives, links the closure
// into releaseDir and writes nix-cache-info when configured. Metadata and
// download failures are collected in the result's Report and do not stop the
// run, but a closure whose archives are not all in the store cannot be
// published: Update then returns the partial result together with
// [ErrMissingTarget].
func (m *Mirror) Update(ctx context.Context, releaseDir string, roots []storepath.Identifier) (*UpdateResult, error) {
	resolver := closure.New(m.metadata(),
		closure.WithConcurrency(m.concurrency),
		closure.WithLogger(m.logger),
	)
	set, unresolved, err := resolver.Resolve(ctx, roots)
	if err != nil {
		return nil, fmt.Errorf("narmirror: resolve: %w", err)
	}
	m.log().Info("closure resolved", "roots", len(roots), "paths", len(set), "unresolved", len(unresolved))

	res := &UpdateResult{Closure: set, Unresolved: unresolved}
	res.Persisted, err = m.store.PersistAll(set)
	if err != nil {
		return res, fmt.Errorf("narmirror: persist: %w", err)
	}

	if m.printOnly {
		return res, PrintArchives(m.output, set)
	}

	res.Report = m.store.FetchMissing(ctx, m.fetcher, set)
	if err := ctx.Err(); err != nil {
		return res, err
	}
	for _, f := range unresolved {
		res.Report.Fail(fetch.Item{Locator: f.ID.MetadataName(), Label: f.ID.String()}, f.Err)
	}
	if res.Report.Failed() {
		m.log().Warn("some files could not be fetched", "failed", len(res.Report.Failures))
	}

	res.Publication, err = m.store.PublishRelease(releaseDir, set)
	if err != nil {
		return res, fmt.Errorf("narmirror: publish %s: %w", releaseDir, err)
	}
	if m.cacheInfo != nil {
		if err := cache.WriteCacheInfo(releaseDir, m.cacheInfo); err != nil {
			return res, fmt.Errorf("narmirror: %w", err)
		}
	}
	return res, nil
}

// UpdateRelease runs Update for a release directory laid out as
// "<dir>/store-paths" plus "<dir>/binary_cache".
func (m *Mirror) UpdateRelease(ctx context.Context, dir string) (*UpdateResult, error) {
	roots, err := ReadStorePathsFile(filepath.Join(dir, StorePathsFile))
	if err != nil {
		return nil, err
	}
	return m.Update(ctx, filepath.Join(dir, ReleaseCacheDir), roots)
}

// ReadStorePaths parses a whitespace-separated list of store paths.
func ReadStorePaths(r io.Reader) ([]storepath.Identifier, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	return storepath.ParseList(string(data))
}

// ReadStorePathsFile parses the store paths listed in a file.
func ReadStorePathsFile(path string) ([]storepath.Identifier, error) {
	f, err := os.Open(path) //nolint:gosec // path is chosen by the caller
	if err != nil {
		return nil, fmt.Errorf("narmirror: %w", err)
	}
	defer f.Close()

	roots, err := ReadStorePaths(f)
	if err != nil {
		return nil, fmt.Errorf("narmirror: %s: %w", path, err)
	}
	return roots, nil
}

// PrintArchives writes one "URL,FileHash" line per archive of set.
func PrintArchives(w io.Writer, set closure.Set) error {
	for _, a := range cache.Archives(set) {
		if _, err := fmt.Fprintf(w, "%s,%s\n", a.URL, a.FileHash); err != nil {
			return err
		}
	}
	return nil
}
