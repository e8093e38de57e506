// Package nixhash computes and verifies file digests the way binary cache
// metadata declares them.
//
// Metadata carries digests as "algorithm:encoded" where the encoding is
// usually Nix base32, sometimes base16 or base64. A [Digester] computes the
// digest of a file for an explicit algorithm and encoding; [Verify] checks a
// file against a declared digest using the algorithm named in the
// declaration, never a hard-wired default.
package nixhash

import (
	"context"
	"crypto/md5"  //nolint:gosec // md5 is a supported declaration algorithm, not used for security
	"crypto/sha1" //nolint:gosec // sha1 is a supported declaration algorithm, not used for security
	_ "crypto/sha256"
	_ "crypto/sha512"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"io"
	"os"

	"github.com/opencontainers/go-digest"

	"github.com/meigma/narmirror/narinfo"
)

// Supported algorithms.
const (
	MD5    = "md5"
	SHA1   = "sha1"
	SHA256 = "sha256"
	SHA512 = "sha512"
)

// Supported encodings.
const (
	Base16 = "base16"
	Base32 = "base32"
	Base64 = "base64"
)

var (
	// ErrUnsupportedAlgorithm is returned for an algorithm outside the supported set.
	ErrUnsupportedAlgorithm = errors.New("nixhash: unsupported algorithm")

	// ErrUnsupportedEncoding is returned for an unknown encoding or an encoded
	// digest whose length matches no encoding of the algorithm.
	ErrUnsupportedEncoding = errors.New("nixhash: unsupported encoding")
)

// Digester computes the digest of a file.
//
// Implementations must be safe for concurrent use.
type Digester interface {
	Digest(ctx context.Context, path, algorithm, encoding string) (string, error)
}

// Size returns the digest size in bytes of a supported algorithm.
func Size(algorithm string) (int, error) {
	switch algorithm {
	case MD5:
		return md5.Size, nil
	case SHA1:
		return sha1.Size, nil
	}
	a := digest.Algorithm(algorithm)
	if !a.Available() {
		return 0, fmt.Errorf("%w: %q", ErrUnsupportedAlgorithm, algorithm)
	}
	return a.Size(), nil
}

// NewHash returns a fresh hash.Hash for a supported algorithm.
func NewHash(algorithm string) (hash.Hash, error) {
	switch algorithm {
	case MD5:
		return md5.New(), nil //nolint:gosec // see import
	case SHA1:
		return sha1.New(), nil //nolint:gosec // see import
	}
	a := digest.Algorithm(algorithm)
	if !a.Available() {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedAlgorithm, algorithm)
	}
	return a.Hash(), nil
}

// Encode renders a raw digest in the given encoding.
func Encode(sum []byte, encoding string) (string, error) {
	switch encoding {
	case Base16:
		return hex.EncodeToString(sum), nil
	case Base32:
		return EncodeBase32(sum), nil
	case Base64:
		return base64.StdEncoding.EncodeToString(sum), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedEncoding, encoding)
	}
}

// EncodingOf infers the encoding of an encoded digest from its length.
func EncodingOf(algorithm, encoded string) (string, error) {
	size, err := Size(algorithm)
	if err != nil {
		return "", err
	}
	switch len(encoded) {
	case hex.EncodedLen(size):
		return Base16, nil
	case EncodedLen32(size):
		return Base32, nil
	case base64.StdEncoding.EncodedLen(size):
		return Base64, nil
	default:
		return "", fmt.Errorf("%w: %d characters for %s", ErrUnsupportedEncoding, len(encoded), algorithm)
	}
}

// Local computes digests in process.
type Local struct{}

// Digest implements Digester.
func (Local) Digest(ctx context.Context, path, algorithm, encoding string) (string, error) {
	h, err := NewHash(algorithm)
	if err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	f, err := os.Open(path) //nolint:gosec // path is chosen by the caller
	if err != nil {
		return "", fmt.Errorf("nixhash: open %s: %w", path, err)
	}
	defer f.Close()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("nixhash: read %s: %w", path, err)
	}
	return Encode(h.Sum(nil), encoding)
}

// Sum computes the digest of in-memory data. It is mostly useful to build
// metadata and tests.
func Sum(data []byte, algorithm, encoding string) (string, error) {
	h, err := NewHash(algorithm)
	if err != nil {
		return "", err
	}
	_, _ = h.Write(data)
	return Encode(h.Sum(nil), encoding)
}

// Verify reports whether the file at path matches the declared hash. The
// digest is computed with the declared algorithm in the encoding the
// declaration uses.
func Verify(ctx context.Context, d Digester, path string, want narinfo.Hash) (bool, error) {
	encoding, err := EncodingOf(want.Algorithm, want.Encoded)
	if err != nil {
		return false, err
	}
	got, err := d.Digest(ctx, path, want.Algorithm, encoding)
	if err != nil {
		return false, err
	}
	return got == want.Encoded, nil
}
