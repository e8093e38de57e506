// Package cache manages the on-disk binary cache and its release projections.
//
// A [Store] is a flat, content-addressed directory: metadata files live at
// the root as "<hash>.narinfo" and archives live under "nar/". A release is a
// separate directory containing only relative symlinks into the store, laid
// out the same way. Every symlink target exists before the link is created,
// so a published release never holds a dangling reference.
package cache

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/google/renameio"

	"github.com/meigma/narmirror/closure"
	"github.com/meigma/narmirror/narinfo"
	"github.com/meigma/narmirror/storepath"
)

const (
	// ArchiveDir is the subdirectory holding archives.
	ArchiveDir = "nar"

	// CacheInfoFile is the name of the cache-level configuration record.
	CacheInfoFile = "nix-cache-info"

	defaultDirPerm  = 0o755
	defaultFilePerm = 0o644
)

var (
	// ErrMissingTarget is returned when a release would link to a store entry
	// that does not exist. It means an earlier fetch failed to persist the
	// entry, and the release must not be published.
	ErrMissingTarget = errors.New("cache: link target missing from store")

	// ErrNoArchive is returned for records without an archive URL.
	ErrNoArchive = errors.New("cache: record has no archive")
)

// Store is a flat binary cache rooted at a directory.
type Store struct {
	root   string
	logger *slog.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger for persist and publish events.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

// New opens the store rooted at root, creating it and its archive directory
// if needed.
func New(root string, opts ...Option) (*Store, error) {
	if root == "" {
		return nil, errors.New("cache: root is empty")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	s := &Store{root: abs}
	for _, opt := range opts {
		opt(s)
	}
	if err := os.MkdirAll(filepath.Join(abs, ArchiveDir), defaultDirPerm); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) log() *slog.Logger {
	if s.logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return s.logger
}

// Root returns the absolute store root.
func (s *Store) Root() string {
	return s.root
}

// MetadataName returns the store-relative name of id's metadata file.
func MetadataName(id storepath.Identifier) string {
	return id.MetadataName()
}

// ArchiveName returns the store-relative name of the record's archive, for
// example "nar/<file>.nar.xz", or "" if the record has no URL.
func ArchiveName(r *narinfo.Record) string {
	if r == nil || r.URL == "" {
		return ""
	}
	return path.Join(ArchiveDir, path.Base(r.URL))
}

// Path returns the absolute path of a store-relative name.
func (s *Store) Path(name string) string {
	return filepath.Join(s.root, filepath.FromSlash(name))
}

// Exists reports whether the store-relative name is present as a regular file.
func (s *Store) Exists(name string) bool {
	return isFile(s.Path(name))
}

// HasMetadata reports whether the metadata file of id is in the store.
func (s *Store) HasMetadata(id storepath.Identifier) bool {
	return s.Exists(MetadataName(id))
}

// HasArchive reports whether the archive of r is in the store.
func (s *Store) HasArchive(r *narinfo.Record) bool {
	name := ArchiveName(r)
	return name != "" && s.Exists(name)
}

// Persist writes the canonical form of the entry's record under its
// metadata name unless the file already exists. It reports whether a file
// was written.
func (s *Store) Persist(e closure.Entry) (bool, error) {
	name := MetadataName(e.ID)
	if name == "" {
		return false, fmt.Errorf("cache: persist: %w: empty identifier", storepath.ErrMalformed)
	}
	if s.Exists(name) {
		return false, nil
	}
	if err := renameio.WriteFile(s.Path(name), []byte(e.Record.String()), defaultFilePerm); err != nil {
		return false, fmt.Errorf("cache: persist %s: %w", name, err)
	}
	return true, nil
}

// PersistAll persists every entry of set. Entries with empty records are not
// written; their absence surfaces as ErrMissingTarget when the set is
// published.
func (s *Store) PersistAll(set closure.Set) (int, error) {
	written := 0
	for _, e := range set {
		if e.Record == nil || e.Record.IsEmpty() {
			s.log().Warn("not persisting empty metadata", "path", e.ID.String())
			continue
		}
		ok, err := s.Persist(e)
		if err != nil {
			return written, err
		}
		if ok {
			written++
		}
	}
	return written, nil
}

// WriteCacheInfo writes the cache-level configuration record into dir. The
// fields are serialized verbatim as sorted "Key: Value" lines.
func WriteCacheInfo(dir string, fields map[string]string) error {
	if err := os.MkdirAll(dir, defaultDirPerm); err != nil {
		return err
	}
	data := []byte(narinfo.FormatFields(fields))
	if err := renameio.WriteFile(filepath.Join(dir, CacheInfoFile), data, defaultFilePerm); err != nil {
		return fmt.Errorf("cache: write %s: %w", CacheInfoFile, err)
	}
	return nil
}

func isFile(p string) bool {
	info, err := os.Stat(p)
	return err == nil && info.Mode().IsRegular()
}

// isMetadataName and isArchiveName select the names that count as store
// entries when listing a directory.
func isMetadataName(name string) bool {
	return strings.Contains(name, storepath.MetadataExt)
}

func isArchiveName(name string) bool {
	return strings.Contains(name, ".nar")
}
