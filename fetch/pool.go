package fetch

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"
)

// FetchAll retrieves items with a fixed-size worker pool. Every item is
// attempted independently; failures are collected in the report and never
// stop other work. FetchAll returns once every item has been processed.
func (f *Fetcher) FetchAll(ctx context.Context, items []Item) *Report {
	report := &Report{}
	if len(items) == 0 {
		return report
	}

	work := make(chan Item)
	var g errgroup.Group
	for range min(f.concurrency, len(items)) {
		g.Go(func() error {
			for item := range work {
				fetched, err := f.Fetch(ctx, item)
				report.record(item, fetched, err)
			}
			return nil
		})
	}

	for _, item := range items {
		work <- item
	}
	close(work)
	_ = g.Wait() //nolint:errcheck // workers never return errors

	f.log().Info("fetch finished",
		"fetched", report.Fetched,
		"skipped", report.Skipped,
		"failed", len(report.Failures))
	return report
}

// Report summarizes a batch fetch.
type Report struct {
	mu sync.Mutex

	Fetched  int
	Skipped  int
	Failures []Failure
}

// Failure is an item that could not be retrieved.
type Failure struct {
	Item Item
	Err  error
}

func (r *Report) record(item Item, fetched bool, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	switch {
	case err != nil:
		r.Failures = append(r.Failures, Failure{Item: item, Err: err})
	case fetched:
		r.Fetched++
	default:
		r.Skipped++
	}
}

// Fail records an item that was rejected before any download was attempted.
func (r *Report) Fail(item Item, err error) {
	r.record(item, false, err)
}

// Merge adds the counts and failures of other to r.
func (r *Report) Merge(other *Report) {
	if other == nil {
		return
	}
	other.mu.Lock()
	fetched, skipped := other.Fetched, other.Skipped
	failures := append([]Failure(nil), other.Failures...)
	other.mu.Unlock()

	r.mu.Lock()
	defer r.mu.Unlock()
	r.Fetched += fetched
	r.Skipped += skipped
	r.Failures = append(r.Failures, failures...)
}
