package narmirror

import (
	"github.com/meigma/narmirror/gc"
)

// GCResult describes a garbage collection run.
type GCResult = gc.Result

// CollectGarbage deletes every store entry that none of releases links to.
// Each release is a directory of symlinks produced by Update, such as
// "<dir>/binary_cache". With no releases every store entry is garbage.
func (m *Mirror) CollectGarbage(releases []string) (GCResult, error) {
	c := gc.New(m.store,
		gc.WithKeep(m.keep...),
		gc.WithDryRun(m.dryRun),
		gc.WithLogger(m.logger),
	)
	return c.Collect(releases)
}
