// Package gc removes store entries that no release links to.
//
// Collection is a single mark-and-sweep pass: the names every release
// directory links to, plus an optional keep list, form the live set; every
// store entry outside it is garbage. Release directories are only read, never
// modified.
package gc

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/meigma/narmirror/cache"
)

// Collector finds and deletes garbage in a store.
type Collector struct {
	store  *cache.Store
	keep   []string
	dryRun bool
	logger *slog.Logger
}

// Option configures a Collector.
type Option func(*Collector)

// WithKeep adds store-relative names, such as "<hash>.narinfo" or
// "nar/<file>", that are live regardless of releases.
func WithKeep(names ...string) Option {
	return func(c *Collector) {
		c.keep = append(c.keep, names...)
	}
}

// WithDryRun reports garbage without deleting it.
func WithDryRun(dryRun bool) Option {
	return func(c *Collector) {
		c.dryRun = dryRun
	}
}

// WithLogger sets the logger. Each deletion is logged at info level.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Collector) {
		c.logger = logger
	}
}

// New creates a Collector for store.
func New(store *cache.Store, opts ...Option) *Collector {
	c := &Collector{store: store}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Collector) log() *slog.Logger {
	if c.logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return c.logger
}

// Result describes a collection run.
type Result struct {
	// Garbage lists the store-relative names found unreferenced, sorted.
	Garbage []string

	// Deleted counts the files removed. It is zero in dry-run mode.
	Deleted int

	// FreedBytes is the total size of the garbage files.
	FreedBytes int64
}

// Live returns the set of store-relative names referenced by the releases or
// the keep list.
func (c *Collector) Live(releases []string) (map[string]struct{}, error) {
	live := make(map[string]struct{}, len(c.keep))
	for _, name := range c.keep {
		live[name] = struct{}{}
	}
	for _, release := range releases {
		links, err := cache.Links(release)
		if err != nil {
			return nil, fmt.Errorf("gc: release %s: %w", release, err)
		}
		for _, name := range links {
			live[name] = struct{}{}
		}
	}
	return live, nil
}

// FindGarbage returns the store entries that are not live, sorted.
func (c *Collector) FindGarbage(releases []string) ([]string, error) {
	live, err := c.Live(releases)
	if err != nil {
		return nil, err
	}
	entries, err := c.store.Entries()
	if err != nil {
		return nil, fmt.Errorf("gc: list store: %w", err)
	}
	var garbage []string
	for _, name := range entries {
		if _, ok := live[name]; !ok {
			garbage = append(garbage, name)
		}
	}
	return garbage, nil
}

// Collect deletes every store entry no release links to.
func (c *Collector) Collect(releases []string) (Result, error) {
	garbage, err := c.FindGarbage(releases)
	if err != nil {
		return Result{}, err
	}
	res := Result{Garbage: garbage}
	for _, name := range garbage {
		path := c.store.Path(name)
		info, err := os.Lstat(path)
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return res, fmt.Errorf("gc: %w", err)
		}
		if !info.Mode().IsRegular() {
			continue
		}
		res.FreedBytes += info.Size()
		if c.dryRun {
			c.log().Info("would delete", "name", name, "bytes", info.Size())
			continue
		}
		c.log().Info("deleting", "name", name, "bytes", info.Size())
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return res, fmt.Errorf("gc: %w", err)
		}
		res.Deleted++
	}
	c.log().Info("garbage collection finished",
		"garbage", len(garbage),
		"deleted", res.Deleted,
		"freed_bytes", res.FreedBytes,
		"dry_run", c.dryRun)
	return res, nil
}
