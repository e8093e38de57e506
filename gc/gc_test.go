package gc_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meigma/narmirror/cache"
	"github.com/meigma/narmirror/gc"
)

// setup creates a store with the given entries and one release linking to
// the live subset.
func setup(t *testing.T, entries, live []string) (*cache.Store, string) {
	t.Helper()
	store, err := cache.New(filepath.Join(t.TempDir(), "binary_cache"))
	require.NoError(t, err)
	for _, name := range entries {
		require.NoError(t, os.WriteFile(store.Path(name), []byte(name), 0o644))
	}

	release := filepath.Join(t.TempDir(), "binary_cache")
	require.NoError(t, os.MkdirAll(filepath.Join(release, "nar"), 0o755))
	for _, name := range live {
		link := filepath.Join(release, filepath.FromSlash(name))
		rel, err := filepath.Rel(filepath.Dir(link), store.Path(name))
		require.NoError(t, err)
		require.NoError(t, os.Symlink(rel, link))
	}
	return store, release
}

func TestCollectRemovesUnreferenced(t *testing.T) {
	t.Parallel()

	store, release := setup(t,
		[]string{"a.narinfo", "b.narinfo", "c.narinfo"},
		[]string{"a.narinfo"})

	res, err := gc.New(store).Collect([]string{release})
	require.NoError(t, err)
	assert.Equal(t, []string{"b.narinfo", "c.narinfo"}, res.Garbage)
	assert.Equal(t, 2, res.Deleted)
	assert.Equal(t, int64(len("b.narinfo")+len("c.narinfo")), res.FreedBytes)

	assert.FileExists(t, store.Path("a.narinfo"))
	assert.NoFileExists(t, store.Path("b.narinfo"))
	assert.NoFileExists(t, store.Path("c.narinfo"))

	// A second run finds nothing.
	res, err = gc.New(store).Collect([]string{release})
	require.NoError(t, err)
	assert.Empty(t, res.Garbage)
	assert.Zero(t, res.Deleted)
}

func TestCollectHelloScenario(t *testing.T) {
	t.Parallel()

	live := []string{
		"hello.narinfo", "glibc.narinfo",
		"nar/hello.nar.xz", "nar/glibc.nar.xz",
	}
	store, release := setup(t, append(live, "unused.narinfo", "nar/unused.nar"), live)

	res, err := gc.New(store).Collect([]string{release})
	require.NoError(t, err)
	assert.Equal(t, []string{"nar/unused.nar", "unused.narinfo"}, res.Garbage)
	for _, name := range live {
		assert.FileExists(t, store.Path(name))
	}

	// Release links are never touched.
	links, err := cache.Links(release)
	require.NoError(t, err)
	assert.Len(t, links, 4)
}

func TestCollectUnionOfReleases(t *testing.T) {
	t.Parallel()

	store, first := setup(t, []string{"a.narinfo", "b.narinfo", "c.narinfo"}, []string{"a.narinfo"})
	second := filepath.Join(t.TempDir(), "binary_cache")
	require.NoError(t, os.MkdirAll(second, 0o755))
	rel, err := filepath.Rel(second, store.Path("b.narinfo"))
	require.NoError(t, err)
	require.NoError(t, os.Symlink(rel, filepath.Join(second, "b.narinfo")))

	garbage, err := gc.New(store).FindGarbage([]string{first, second})
	require.NoError(t, err)
	assert.Equal(t, []string{"c.narinfo"}, garbage)
}

func TestCollectKeep(t *testing.T) {
	t.Parallel()

	store, release := setup(t, []string{"a.narinfo", "b.narinfo", "nar/b.nar"}, []string{"a.narinfo"})

	garbage, err := gc.New(store, gc.WithKeep("b.narinfo", "nar/b.nar", "absent.narinfo")).FindGarbage([]string{release})
	require.NoError(t, err)
	assert.Empty(t, garbage)
}

func TestCollectDryRun(t *testing.T) {
	t.Parallel()

	store, release := setup(t, []string{"a.narinfo", "b.narinfo"}, []string{"a.narinfo"})

	res, err := gc.New(store, gc.WithDryRun(true)).Collect([]string{release})
	require.NoError(t, err)
	assert.Equal(t, []string{"b.narinfo"}, res.Garbage)
	assert.Zero(t, res.Deleted)
	assert.Positive(t, res.FreedBytes)
	assert.FileExists(t, store.Path("b.narinfo"))
}

func TestCollectMissingRelease(t *testing.T) {
	t.Parallel()

	store, _ := setup(t, []string{"a.narinfo"}, nil)
	_, err := gc.New(store).Collect([]string{filepath.Join(t.TempDir(), "nope")})
	require.Error(t, err)
	assert.FileExists(t, store.Path("a.narinfo"))
}
