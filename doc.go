// Package narmirror mirrors and garbage-collects a Nix binary cache.
//
// A [Mirror] owns a flat store directory holding "<hash>.narinfo" metadata
// files and "nar/<file>" archives. [Mirror.Update] takes the root store paths
// of a release, resolves their full dependency closure through an upstream
// cache, downloads and verifies the missing archives, and projects the
// closure into a release directory made only of relative symlinks into the
// store. [Mirror.CollectGarbage] later deletes every store entry that no
// release links to.
//
// # Quick Start
//
// Mirror a release from cache.nixos.org:
//
//	m, err := narmirror.New("/srv/mirror/binary_cache",
//	    narmirror.WithUpstreamURL("https://cache.nixos.org"),
//	    narmirror.WithConcurrency(16),
//	)
//	if err != nil {
//	    return err
//	}
//	res, err := m.UpdateRelease(ctx, "/srv/mirror/releases/24.05")
//
// A release directory holds a "store-paths" file listing its roots and
// receives the symlink projection in its "binary_cache" subdirectory.
//
// # Failures
//
// Per-archive download failures never abort a run. They are collected in the
// [fetch.Report] returned with the result and can be written out with
// [fetch.Report.WriteLog]. A release is only published when every archive it
// needs is in the store; otherwise Update fails with [ErrMissingTarget] and
// the release directory is not complete.
//
// # Garbage Collection
//
//	res, err := m.CollectGarbage([]string{
//	    "/srv/mirror/releases/24.05/binary_cache",
//	    "/srv/mirror/releases/24.11/binary_cache",
//	})
package narmirror
