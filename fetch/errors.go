package fetch

import (
	"context"
	"errors"

	mirrorhttp "github.com/meigma/narmirror/http"
	"github.com/meigma/narmirror/narinfo"
	"github.com/meigma/narmirror/nixhash"
	"github.com/meigma/narmirror/storepath"
)

var (
	// ErrHashMismatch is returned when a downloaded file does not match its
	// declared digest.
	ErrHashMismatch = errors.New("fetch: hash mismatch")

	// ErrGaveUp is returned when an item could not be retrieved within the
	// try budget.
	ErrGaveUp = errors.New("fetch: gave up")
)

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }

func (e *permanentError) Unwrap() error { return e.err }

// IsTransient reports whether err is worth another attempt. Network
// failures, truncated transfers, non-2xx responses and digest mismatches are
// transient. Malformed input, unsupported locators and caller cancellation
// are not, and neither is anything marked with Permanent.
func IsTransient(err error) bool {
	switch {
	case err == nil:
		return false
	case isPermanent(err),
		errors.Is(err, context.Canceled),
		errors.Is(err, storepath.ErrMalformed),
		errors.Is(err, narinfo.ErrInvalidHash),
		errors.Is(err, nixhash.ErrUnsupportedAlgorithm),
		errors.Is(err, nixhash.ErrUnsupportedEncoding),
		errors.Is(err, mirrorhttp.ErrUnsupportedScheme):
		return false
	default:
		return true
	}
}

func isPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}
