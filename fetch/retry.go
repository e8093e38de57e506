package fetch

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

const (
	// DefaultTries is the default number of attempts per item.
	DefaultTries = 5

	// DefaultRetryInterval is the base hold-off between attempts.
	DefaultRetryInterval = 5 * time.Second
)

// Retrier runs an operation up to Tries times. After the n-th failed attempt
// it sleeps n*Interval, so the hold-off grows linearly with the attempt index.
type Retrier struct {
	Tries    int
	Interval time.Duration

	// Notify, if set, is called after each failed attempt that will be retried.
	Notify func(err error, wait time.Duration)
}

// linear is a backoff.BackOff whose n-th interval is n*base.
type linear struct {
	base time.Duration
	n    int
}

func (l *linear) NextBackOff() time.Duration {
	l.n++
	return time.Duration(l.n) * l.base
}

func (l *linear) Reset() { l.n = 0 }

// Do calls op until it succeeds, returns a non-transient error, the try budget
// is spent or ctx is done. The error of the last attempt is returned.
func (r Retrier) Do(ctx context.Context, op func(attempt int) error) error {
	tries := r.Tries
	if tries < 1 {
		tries = 1
	}
	var b backoff.BackOff = &linear{base: r.Interval}
	b = backoff.WithMaxRetries(b, uint64(tries-1)) //nolint:gosec // tries >= 1
	b = backoff.WithContext(b, ctx)

	attempt := 0
	operation := func() error {
		attempt++
		err := op(attempt)
		if err != nil && (!IsTransient(err) || ctx.Err() != nil) {
			return backoff.Permanent(err)
		}
		return err
	}
	return backoff.RetryNotify(operation, b, r.Notify)
}
