// Package closure resolves the transitive closure of store paths.
//
// Starting from a set of root identifiers, a [Resolver] fetches each
// identifier's metadata record exactly once and follows the References of
// every record until no unseen identifier remains.
package closure

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/meigma/narmirror/narinfo"
	"github.com/meigma/narmirror/storepath"
)

// DefaultConcurrency is the default number of resolver workers.
const DefaultConcurrency = 8

// MetadataSource returns the metadata text stored under a name such as
// "<hash>.narinfo", or "" if the source has nothing for it.
type MetadataSource interface {
	FetchMetadata(ctx context.Context, name string) (string, error)
}

// Entry is one resolved identifier with its metadata record.
type Entry struct {
	ID     storepath.Identifier
	Record *narinfo.Record
}

// Set is a resolved closure, sorted by hash, without duplicate identifiers.
type Set []Entry

// Lookup returns the entry with the given hash.
func (s Set) Lookup(hash string) (Entry, bool) {
	i, ok := slices.BinarySearchFunc(s, hash, func(e Entry, h string) int {
		return strings.Compare(e.ID.Hash, h)
	})
	if !ok {
		return Entry{}, false
	}
	return s[i], true
}

// IDs returns the identifiers in the set.
func (s Set) IDs() []storepath.Identifier {
	ids := make([]storepath.Identifier, len(s))
	for i, e := range s {
		ids[i] = e.ID
	}
	return ids
}

// Failure is an identifier whose metadata could not be fetched.
type Failure struct {
	ID  storepath.Identifier
	Err error
}

// Resolver computes closures against a metadata source.
type Resolver struct {
	source      MetadataSource
	concurrency int
	logger      *slog.Logger
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithConcurrency sets the number of workers fetching metadata.
func WithConcurrency(n int) Option {
	return func(r *Resolver) {
		if n > 0 {
			r.concurrency = n
		}
	}
}

// WithLogger sets the logger for progress events.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Resolver) {
		r.logger = logger
	}
}

// New creates a Resolver reading metadata from source.
func New(source MetadataSource, opts ...Option) *Resolver {
	r := &Resolver{
		source:      source,
		concurrency: DefaultConcurrency,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Resolver) log() *slog.Logger {
	if r.logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return r.logger
}

// Resolve returns the closure of roots.
//
// A source that returns empty text yields an entry with an empty record;
// such entries have no references and are leaves of the closure. An
// identifier whose metadata fetch fails is kept in the set as such a leaf and
// reported in the returned failures, sorted by hash, while the rest of the
// closure is still resolved. Only a malformed reference or cancellation of
// ctx aborts resolution with an error.
func (r *Resolver) Resolve(ctx context.Context, roots []storepath.Identifier) (Set, []Failure, error) {
	w := newWorklist()
	w.seed(roots)

	g, gctx := errgroup.WithContext(ctx)
	stop := context.AfterFunc(gctx, w.close)
	defer stop()

	for range r.concurrency {
		g.Go(func() error {
			for {
				id, ok := w.next()
				if !ok {
					return nil
				}
				if err := r.process(gctx, w, id); err != nil {
					return err
				}
			}
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	set, failures := w.result()
	r.log().Debug("closure resolved", "roots", len(roots), "paths", len(set), "failed", len(failures))
	return set, failures, nil
}

func (r *Resolver) process(ctx context.Context, w *worklist, id storepath.Identifier) error {
	text, err := r.source.FetchMetadata(ctx, id.MetadataName())
	if err != nil {
		if ctx.Err() != nil || errors.Is(err, storepath.ErrMalformed) {
			return fmt.Errorf("closure: %s: %w", id, err)
		}
		r.log().Warn("metadata unavailable", "path", id.String(), "error", err)
		w.fail(Failure{ID: id, Err: err})
		return nil
	}
	record := narinfo.Parse(text)
	refs, err := record.ReferenceIDs()
	if err != nil {
		return fmt.Errorf("closure: references of %s: %w", id, err)
	}
	if record.IsEmpty() {
		r.log().Warn("empty metadata", "path", id.String())
	}
	r.log().Debug("resolved", "path", id.String(), "references", len(refs))
	w.turnIn(Entry{ID: id, Record: record}, refs)
	return nil
}
