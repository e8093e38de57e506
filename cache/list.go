package cache

import (
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"
)

// Entries lists the store-relative names of all metadata files and archives
// in the store.
func (s *Store) Entries() ([]string, error) {
	return listNames(s.root, func(e os.DirEntry) bool { return e.Type().IsRegular() })
}

// Links lists the store-relative names a release directory links to.
// Releases contain only symlinks; anything else is ignored.
func Links(releaseDir string) ([]string, error) {
	return listNames(releaseDir, func(e os.DirEntry) bool { return e.Type()&os.ModeSymlink != 0 })
}

func listNames(dir string, keep func(os.DirEntry) bool) ([]string, error) {
	var names []string

	top, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	for _, e := range top {
		if keep(e) && isMetadataName(e.Name()) {
			names = append(names, e.Name())
		}
	}

	nars, err := os.ReadDir(filepath.Join(dir, ArchiveDir))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	for _, e := range nars {
		if keep(e) && isArchiveName(e.Name()) {
			names = append(names, path.Join(ArchiveDir, e.Name()))
		}
	}

	sort.Strings(names)
	return names, nil
}

// ReleaseFiles lists the slash-separated relative names of every regular
// file reachable from dir, following symlinks. It is the set of files a
// publisher has to upload for a release.
func ReleaseFiles(dir string) ([]string, error) {
	var names []string
	err := filepath.WalkDir(dir, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		info, err := os.Stat(p)
		if err != nil {
			return err
		}
		if !info.Mode().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(dir, p)
		if err != nil {
			return err
		}
		names = append(names, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("cache: list release files: %w", err)
	}
	sort.Strings(names)
	return names, nil
}
