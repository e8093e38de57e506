// Package decompress opens archives according to a metadata Compression field.
package decompress

import (
	"compress/bzip2"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/google/renameio"
	"github.com/klauspost/compress/zstd"
	"github.com/ulikunitz/xz"
)

// Compression names as they appear in metadata records.
const (
	None  = "none"
	Zstd  = "zstd"
	XZ    = "xz"
	Bzip2 = "bzip2"
)

// ErrUnsupported is returned for compression names this package cannot read.
var ErrUnsupported = errors.New("decompress: unsupported compression")

// defaultMaxDecoderMemory bounds the zstd window a stream may request.
const defaultMaxDecoderMemory = 1 << 30

// NewReader returns a reader producing the decompressed content of r.
// An empty compression name is treated as "none".
func NewReader(r io.Reader, compression string) (io.ReadCloser, error) {
	switch compression {
	case "", None:
		return io.NopCloser(r), nil
	case Zstd:
		dec, err := zstd.NewReader(r,
			zstd.WithDecoderConcurrency(1),
			zstd.WithDecoderMaxMemory(defaultMaxDecoderMemory),
		)
		if err != nil {
			return nil, fmt.Errorf("decompress: zstd: %w", err)
		}
		return dec.IOReadCloser(), nil
	case XZ:
		xr, err := xz.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("decompress: xz: %w", err)
		}
		return io.NopCloser(xr), nil
	case Bzip2:
		return io.NopCloser(bzip2.NewReader(r)), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupported, compression)
	}
}

// File decompresses src into dest. dest is replaced atomically once the whole
// stream was decoded.
func File(src, dest, compression string) error {
	in, err := os.Open(src) //nolint:gosec // path is chosen by the caller
	if err != nil {
		return err
	}
	defer in.Close()

	r, err := NewReader(in, compression)
	if err != nil {
		return err
	}
	defer r.Close()

	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return err
	}
	out, err := renameio.TempFile(filepath.Dir(dest), dest)
	if err != nil {
		return err
	}
	defer out.Cleanup() //nolint:errcheck // no-op after CloseAtomicallyReplace

	if _, err := io.Copy(out, r); err != nil {
		return fmt.Errorf("decompress: %s: %w", src, err)
	}
	return out.CloseAtomicallyReplace()
}
