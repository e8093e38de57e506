package cache

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/renameio"

	"github.com/meigma/narmirror/closure"
)

// Publication counts the links of a published release.
type Publication struct {
	Metadata int
	Archives int
	Created  int
}

// PublishRelease projects set into releaseDir: one symlink per metadata file
// at the top level and one per archive under "nar/", each pointing at the
// store entry through a relative path.
//
// Every target must already exist in the store. The first missing target
// aborts publication with ErrMissingTarget; links created before it are left
// in place. Existing links are kept, so publishing the same set again is a
// no-op.
func (s *Store) PublishRelease(releaseDir string, set closure.Set) (Publication, error) {
	var pub Publication
	dir, err := filepath.Abs(releaseDir)
	if err != nil {
		return pub, err
	}
	if err := os.MkdirAll(filepath.Join(dir, ArchiveDir), defaultDirPerm); err != nil {
		return pub, err
	}

	for _, e := range set {
		created, err := s.link(dir, MetadataName(e.ID))
		if err != nil {
			return pub, err
		}
		pub.Metadata++
		if created {
			pub.Created++
		}
	}
	for _, a := range Archives(set) {
		created, err := s.link(dir, a.Name)
		if err != nil {
			return pub, err
		}
		pub.Archives++
		if created {
			pub.Created++
		}
	}

	s.log().Info("release published",
		"dir", dir,
		"metadata", pub.Metadata,
		"archives", pub.Archives,
		"created", pub.Created)
	return pub, nil
}

// link creates releaseDir/name -> <store>/name unless the link already
// resolves to a file.
func (s *Store) link(releaseDir, name string) (bool, error) {
	target := s.Path(name)
	if !isFile(target) {
		return false, fmt.Errorf("%w: %s", ErrMissingTarget, name)
	}
	linkPath := filepath.Join(releaseDir, filepath.FromSlash(name))
	if isFile(linkPath) {
		return false, nil
	}
	rel, err := filepath.Rel(filepath.Dir(linkPath), target)
	if err != nil {
		return false, err
	}
	if err := renameio.Symlink(rel, linkPath); err != nil {
		return false, fmt.Errorf("cache: link %s: %w", name, err)
	}
	return true, nil
}
