package nixhash

import (
	"errors"
	"fmt"

	"github.com/nix-community/go-nix/pkg/nixbase32"
)

// ErrInvalidBase32 is returned when a string is not valid Nix base32.
var ErrInvalidBase32 = errors.New("nixhash: invalid base32")

// EncodedLen32 returns the length of the Nix base32 encoding of n bytes.
func EncodedLen32(n int) int {
	return nixbase32.EncodedLen(n)
}

// EncodeBase32 encodes b the way nix-hash --base32 prints it.
func EncodeBase32(b []byte) string {
	return nixbase32.EncodeToString(b)
}

// DecodeBase32 decodes a Nix base32 string into a byte slice of the given
// size. Only the canonical encoding is accepted.
func DecodeBase32(s string, size int) ([]byte, error) {
	if len(s) != EncodedLen32(size) {
		return nil, fmt.Errorf("%w: length %d, want %d", ErrInvalidBase32, len(s), EncodedLen32(size))
	}
	out, err := nixbase32.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidBase32, err)
	}
	if len(out) != size || nixbase32.EncodeToString(out) != s {
		return nil, fmt.Errorf("%w: non-zero padding bits", ErrInvalidBase32)
	}
	return out, nil
}
