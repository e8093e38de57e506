// Package tarball mirrors fixed-output source tarballs.
//
// Each tarball is downloaded through a [fetch.Fetcher], verified against its
// declared hash, stored once as sha512/<base16> and made reachable through
// symlinks named by its other digests, its file name and the revision that
// requested it:
//
//	md5/<base16>
//	sha1/<base16>
//	sha256/<base16>, sha256/<base32>
//	sha512/<base16> (the file), sha512/<base32>
//	by-name/<name>
//	revisions/<revision>/<sha512 base16>
//	revisions/<revision>/log
package tarball

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/renameio"

	"github.com/meigma/narmirror/fetch"
	"github.com/meigma/narmirror/narinfo"
	"github.com/meigma/narmirror/nixhash"
)

const (
	byNameDir    = "by-name"
	revisionsDir = "revisions"
	logFile      = "log"
	tmpDir       = ".tmp"
)

// ErrUnsupportedScheme is recorded for entries whose URL scheme cannot be
// mirrored.
var ErrUnsupportedScheme = errors.New("tarball: unsupported url scheme")

var validSchemes = []string{"http:", "https:", "ftp:", "mirror:"}

// Entry is one tarball to mirror.
type Entry struct {
	URL  string `json:"url"`
	Name string `json:"name"`
	Hash string `json:"hash"`
	Type string `json:"type"`
}

// LoadEntries decodes a JSON array of entries.
func LoadEntries(r io.Reader) ([]Entry, error) {
	var entries []Entry
	if err := json.NewDecoder(r).Decode(&entries); err != nil {
		return nil, fmt.Errorf("tarball: decode entries: %w", err)
	}
	return entries, nil
}

// Mirror is a tarball mirror rooted at a directory.
type Mirror struct {
	root     string
	fetcher  *fetch.Fetcher
	digester nixhash.Digester
	logger   *slog.Logger
}

// Option configures a Mirror.
type Option func(*Mirror)

// WithDigester sets the digest utility used to name mirrored files.
func WithDigester(d nixhash.Digester) Option {
	return func(m *Mirror) {
		if d != nil {
			m.digester = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Mirror) {
		m.logger = logger
	}
}

// New creates a Mirror rooted at root that downloads through f.
func New(root string, f *fetch.Fetcher, opts ...Option) *Mirror {
	m := &Mirror{root: root, fetcher: f, digester: nixhash.Local{}}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Mirror) log() *slog.Logger {
	if m.logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return m.logger
}

// Run mirrors entries for revision. Entries with an unsupported scheme and
// entries that fail to download are reported, not fatal; the failure summary
// is written to revisions/<revision>/log. Filesystem errors while placing a
// verified file abort the run.
func (m *Mirror) Run(ctx context.Context, revision string, entries []Entry) (*fetch.Report, error) {
	if revision == "" || filepath.Base(revision) != revision {
		return nil, fmt.Errorf("tarball: invalid revision %q", revision)
	}
	dirs := []string{
		nixhash.MD5, nixhash.SHA1, nixhash.SHA256, nixhash.SHA512,
		byNameDir, filepath.Join(revisionsDir, revision), tmpDir,
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(filepath.Join(m.root, dir), 0o755); err != nil {
			return nil, err
		}
	}

	report := &fetch.Report{}
	var items []fetch.Item
	for i, e := range entries {
		item := fetch.Item{
			Locator: e.URL,
			Dest:    filepath.Join(m.root, tmpDir, fmt.Sprintf("%d-%s", i, filepath.Base(e.Name))),
			Hash:    narinfo.Hash{Algorithm: e.Type, Encoded: e.Hash},
			Label:   e.Name,
		}
		switch {
		case !hasValidScheme(e.URL):
			m.log().Warn("url is not in the supported url schemes", "url", e.URL)
			report.Fail(item, fmt.Errorf("%w: %s", ErrUnsupportedScheme, e.URL))
		case m.present(e.Hash) || m.present(e.Name):
			m.log().Debug("already mirrored", "url", e.URL)
			report.Skipped++
		default:
			items = append(items, item)
		}
	}

	fetched := m.fetcher.FetchAll(ctx, items)
	failed := make(map[string]bool, len(fetched.Failures))
	for _, f := range fetched.Failures {
		failed[f.Item.Dest] = true
	}
	report.Merge(fetched)

	for _, item := range items {
		if failed[item.Dest] {
			continue
		}
		if err := m.place(ctx, item.Dest, item.Label, revision); err != nil {
			return report, err
		}
	}

	logPath := filepath.Join(m.root, revisionsDir, revision, logFile)
	var b strings.Builder
	if err := report.WriteLog(&b); err != nil {
		return report, err
	}
	if err := renameio.WriteFile(logPath, []byte(b.String()), 0o644); err != nil {
		return report, fmt.Errorf("tarball: write log: %w", err)
	}
	return report, nil
}

func hasValidScheme(url string) bool {
	for _, scheme := range validSchemes {
		if strings.HasPrefix(url, scheme) {
			return true
		}
	}
	return false
}

// present reports whether value already names a mirrored file.
func (m *Mirror) present(value string) bool {
	if value == "" || filepath.Base(value) != value {
		return false
	}
	for _, dir := range []string{nixhash.MD5, nixhash.SHA1, nixhash.SHA256, nixhash.SHA512, byNameDir} {
		if _, err := os.Lstat(filepath.Join(m.root, dir, value)); err == nil {
			return true
		}
	}
	return false
}
