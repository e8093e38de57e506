package narmirror

import (
	"errors"

	"github.com/meigma/narmirror/cache"
	"github.com/meigma/narmirror/fetch"
	mirrorhttp "github.com/meigma/narmirror/http"
	"github.com/meigma/narmirror/narinfo"
	"github.com/meigma/narmirror/nixhash"
	"github.com/meigma/narmirror/storepath"
)

// ErrNoMetadata is returned by Extract when no metadata exists for a path.
var ErrNoMetadata = errors.New("narmirror: no metadata for store path")

// Errors re-exported from storepath and narinfo.
var (
	// ErrMalformed is returned for input that does not have the shape of a
	// store path.
	ErrMalformed = storepath.ErrMalformed

	// ErrInvalidHash is returned when a FileHash is not "algorithm:digest".
	ErrInvalidHash = narinfo.ErrInvalidHash
)

// Errors re-exported from nixhash.
var (
	// ErrUnsupportedAlgorithm is returned for unknown digest algorithms.
	ErrUnsupportedAlgorithm = nixhash.ErrUnsupportedAlgorithm

	// ErrUnsupportedEncoding is returned for unknown digest encodings.
	ErrUnsupportedEncoding = nixhash.ErrUnsupportedEncoding
)

// Errors re-exported from fetch.
var (
	// ErrHashMismatch is returned when a download does not match its
	// declared digest.
	ErrHashMismatch = fetch.ErrHashMismatch

	// ErrGaveUp is returned when the try budget of an item is exhausted.
	ErrGaveUp = fetch.ErrGaveUp
)

// Errors re-exported from http.
var (
	// ErrNotFound is returned when the upstream has no object for a key.
	ErrNotFound = mirrorhttp.ErrNotFound

	// ErrTruncated is returned when a transfer ends early.
	ErrTruncated = mirrorhttp.ErrTruncated

	// ErrUnsupportedScheme is returned for upstream URLs that are not http
	// or https.
	ErrUnsupportedScheme = mirrorhttp.ErrUnsupportedScheme
)

// Errors re-exported from cache.
var (
	// ErrMissingTarget is returned when a release would link to a file that
	// is not in the store. It means an earlier download failed, and the
	// release must not be treated as complete.
	ErrMissingTarget = cache.ErrMissingTarget

	// ErrNoArchive is returned when a record names no archive.
	ErrNoArchive = cache.ErrNoArchive
)
