package narmirror

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/meigma/narmirror/cache"
	"github.com/meigma/narmirror/fetch"
	"github.com/meigma/narmirror/internal/decompress"
	"github.com/meigma/narmirror/narinfo"
	"github.com/meigma/narmirror/storepath"
)

// Extract writes the decompressed archive of a single store path to dest.
//
// The metadata is looked up in the store, then upstream. An archive already
// in the store is used as is; otherwise it is downloaded and verified into a
// temporary directory that is removed afterwards. The store is not modified.
func (m *Mirror) Extract(ctx context.Context, id storepath.Identifier, dest string) error {
	if id.IsZero() {
		return fmt.Errorf("%w: empty store path", ErrMalformed)
	}
	text, err := m.metadata().FetchMetadata(ctx, id.MetadataName())
	if err != nil {
		return fmt.Errorf("narmirror: extract %s: %w", id, err)
	}
	if text == "" {
		return fmt.Errorf("%w: %s", ErrNoMetadata, id)
	}
	record := narinfo.Parse(text)
	if record.URL == "" {
		return fmt.Errorf("narmirror: extract %s: %w", id, cache.ErrNoArchive)
	}

	src := m.store.Path(cache.ArchiveName(record))
	if !m.store.HasArchive(record) {
		hash, err := record.Hash()
		if err != nil {
			return fmt.Errorf("narmirror: extract %s: FileHash: %w", id, err)
		}
		tmp, err := os.MkdirTemp("", "narmirror-extract-")
		if err != nil {
			return err
		}
		defer os.RemoveAll(tmp)

		src = filepath.Join(tmp, record.ArchiveName())
		_, err = m.fetcher.Fetch(ctx, fetch.Item{
			Locator: record.URL,
			Dest:    src,
			Hash:    hash,
			Label:   id.String(),
		})
		if err != nil {
			return fmt.Errorf("narmirror: extract %s: %w", id, err)
		}
	}

	if err := decompress.File(src, dest, record.Compression); err != nil {
		return fmt.Errorf("narmirror: extract %s: %w", id, err)
	}
	m.log().Info("extracted", "path", id.String(), "dest", dest, "compression", record.Compression)
	return nil
}
