package tarball

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/renameio"

	"github.com/meigma/narmirror/nixhash"
)

// place moves a verified download to sha512/<base16> and creates the links
// naming it.
func (m *Mirror) place(ctx context.Context, path, name, revision string) error {
	digest := func(algorithm, encoding string) (string, error) {
		return m.digester.Digest(ctx, path, algorithm, encoding)
	}

	type link struct {
		dir, name string
	}
	var links []link
	for _, d := range []struct{ algorithm, encoding string }{
		{nixhash.MD5, nixhash.Base16},
		{nixhash.SHA1, nixhash.Base16},
		{nixhash.SHA256, nixhash.Base16},
		{nixhash.SHA256, nixhash.Base32},
		{nixhash.SHA512, nixhash.Base32},
	} {
		sum, err := digest(d.algorithm, d.encoding)
		if err != nil {
			return fmt.Errorf("tarball: %s: %w", name, err)
		}
		links = append(links, link{dir: d.algorithm, name: sum})
	}
	primary, err := digest(nixhash.SHA512, nixhash.Base16)
	if err != nil {
		return fmt.Errorf("tarball: %s: %w", name, err)
	}
	links = append(links,
		link{dir: byNameDir, name: filepath.Base(name)},
		link{dir: filepath.Join(revisionsDir, revision), name: primary},
	)

	target := filepath.Join(m.root, nixhash.SHA512, primary)
	if _, err := os.Stat(target); err == nil {
		_ = os.Remove(path)
	} else if err := os.Rename(path, target); err != nil {
		return fmt.Errorf("tarball: %s: %w", name, err)
	}

	for _, l := range links {
		linkPath := filepath.Join(m.root, l.dir, l.name)
		if _, err := os.Lstat(linkPath); err == nil {
			continue
		}
		rel, err := filepath.Rel(filepath.Dir(linkPath), target)
		if err != nil {
			return err
		}
		if err := renameio.Symlink(rel, linkPath); err != nil {
			return fmt.Errorf("tarball: link %s: %w", l.name, err)
		}
	}
	m.log().Info("mirrored", "name", name, "sha512", primary)
	return nil
}
