package tarball_test

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meigma/narmirror/fetch"
	"github.com/meigma/narmirror/nixhash"
	"github.com/meigma/narmirror/tarball"
)

type upstream struct {
	mu    sync.Mutex
	files map[string][]byte
	calls []string
}

func (u *upstream) Download(_ context.Context, locator, dest string) error {
	u.mu.Lock()
	u.calls = append(u.calls, locator)
	data, ok := u.files[locator]
	u.mu.Unlock()
	if !ok {
		return fmt.Errorf("404 %s", locator)
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return err
	}
	return os.WriteFile(dest, data, 0o644)
}

func sum(t *testing.T, data []byte, algorithm, encoding string) string {
	t.Helper()
	s, err := nixhash.Sum(data, algorithm, encoding)
	require.NoError(t, err)
	return s
}

func newMirror(t *testing.T, root string, u *upstream, mirrors tarball.Mirrors) *tarball.Mirror {
	t.Helper()
	f := fetch.New(mirrors.Downloader(u),
		fetch.WithTries(2),
		fetch.WithRetryInterval(time.Millisecond),
		fetch.WithConcurrency(2))
	return tarball.New(root, f)
}

func TestRun(t *testing.T) {
	t.Parallel()

	hello := []byte("hello source tarball")
	gnu := []byte("gnu mirrored tarball")
	u := &upstream{files: map[string][]byte{
		"https://example.org/hello-2.12.tar.gz":      hello,
		"https://ftpmirror.gnu.org/gnu/x/x-1.tar.gz": gnu,
		"https://example.org/corrupt.tar.gz":         []byte("not what was declared"),
	}}
	mirrors := tarball.Mirrors{"gnu": {"https://ftpmirror.gnu.org/gnu/"}}
	root := t.TempDir()

	entries := []tarball.Entry{
		{URL: "https://example.org/hello-2.12.tar.gz", Name: "hello-2.12.tar.gz", Type: "sha256", Hash: sum(t, hello, nixhash.SHA256, nixhash.Base32)},
		{URL: "mirror://gnu/x/x-1.tar.gz", Name: "x-1.tar.gz", Type: "sha512", Hash: sum(t, gnu, nixhash.SHA512, nixhash.Base16)},
		{URL: "git://example.org/repo", Name: "repo", Type: "sha256", Hash: sum(t, hello, nixhash.SHA256, nixhash.Base16)},
		{URL: "https://example.org/corrupt.tar.gz", Name: "corrupt.tar.gz", Type: "sha256", Hash: sum(t, hello, nixhash.SHA256, nixhash.Base16)},
	}

	report, err := newMirror(t, root, u, mirrors).Run(context.Background(), "rev1", entries)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Fetched)
	require.Len(t, report.Failures, 2)

	sha512hex := sum(t, hello, nixhash.SHA512, nixhash.Base16)
	primary := filepath.Join(root, "sha512", sha512hex)
	got, err := os.ReadFile(primary)
	require.NoError(t, err)
	assert.Equal(t, hello, got)

	for _, link := range []string{
		filepath.Join("md5", sum(t, hello, nixhash.MD5, nixhash.Base16)),
		filepath.Join("sha1", sum(t, hello, nixhash.SHA1, nixhash.Base16)),
		filepath.Join("sha256", sum(t, hello, nixhash.SHA256, nixhash.Base16)),
		filepath.Join("sha256", sum(t, hello, nixhash.SHA256, nixhash.Base32)),
		filepath.Join("sha512", sum(t, hello, nixhash.SHA512, nixhash.Base32)),
		filepath.Join("by-name", "hello-2.12.tar.gz"),
		filepath.Join("revisions", "rev1", sha512hex),
	} {
		target, err := os.Readlink(filepath.Join(root, link))
		require.NoError(t, err, link)
		assert.False(t, filepath.IsAbs(target))
		data, err := os.ReadFile(filepath.Join(root, link))
		require.NoError(t, err, link)
		assert.Equal(t, hello, data, link)
	}

	// The mirror:// entry was fetched through the configured base URL.
	assert.FileExists(t, filepath.Join(root, "by-name", "x-1.tar.gz"))

	log, err := os.ReadFile(filepath.Join(root, "revisions", "rev1", "log"))
	require.NoError(t, err)
	assert.Contains(t, string(log), "SUMMARY OF FAILED FILES:")
	assert.Contains(t, string(log), "url:git://example.org/repo, name:repo\n")
	assert.Contains(t, string(log), "url:https://example.org/corrupt.tar.gz, name:corrupt.tar.gz\n")

	// No temporary downloads are left behind.
	tmp, err := os.ReadDir(filepath.Join(root, ".tmp"))
	require.NoError(t, err)
	assert.Empty(t, tmp)
}

func TestRunSkipsPresent(t *testing.T) {
	t.Parallel()

	hello := []byte("hello")
	u := &upstream{files: map[string][]byte{"https://example.org/hello.tar.gz": hello}}
	root := t.TempDir()
	entry := tarball.Entry{
		URL:  "https://example.org/hello.tar.gz",
		Name: "hello.tar.gz",
		Type: "sha256",
		Hash: sum(t, hello, nixhash.SHA256, nixhash.Base32),
	}
	m := newMirror(t, root, u, nil)

	_, err := m.Run(context.Background(), "rev1", []tarball.Entry{entry})
	require.NoError(t, err)
	report, err := m.Run(context.Background(), "rev2", []tarball.Entry{entry})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Skipped)
	assert.Zero(t, report.Fetched)
	assert.Len(t, u.calls, 1)
}

func TestRunRejectsBadRevision(t *testing.T) {
	t.Parallel()

	_, err := newMirror(t, t.TempDir(), &upstream{}, nil).Run(context.Background(), "../x", nil)
	require.Error(t, err)
}

func TestMirrorsExpand(t *testing.T) {
	t.Parallel()

	m := tarball.Mirrors{"gnu": {"https://a.example/gnu", "https://b.example/gnu/"}}
	urls, err := m.Expand("mirror://gnu/hello/hello-2.12.tar.gz")
	require.NoError(t, err)
	assert.Equal(t, []string{
		"https://a.example/gnu/hello/hello-2.12.tar.gz",
		"https://b.example/gnu/hello/hello-2.12.tar.gz",
	}, urls)

	urls, err = m.Expand("https://example.org/x")
	require.NoError(t, err)
	assert.Equal(t, []string{"https://example.org/x"}, urls)

	_, err = m.Expand("mirror://sourceforge/x")
	assert.ErrorIs(t, err, tarball.ErrUnknownMirror)
	assert.False(t, fetch.IsTransient(err))
}

func TestMirrorsDownloaderFallsBack(t *testing.T) {
	t.Parallel()

	u := &upstream{files: map[string][]byte{"https://b.example/gnu/x": []byte("x")}}
	m := tarball.Mirrors{"gnu": {"https://a.example/gnu", "https://b.example/gnu"}}
	dest := filepath.Join(t.TempDir(), "x")

	require.NoError(t, m.Downloader(u).Download(context.Background(), "mirror://gnu/x", dest))
	assert.FileExists(t, dest)
	assert.Equal(t, []string{"https://a.example/gnu/x", "https://b.example/gnu/x"}, u.calls)
}

func TestLoadEntries(t *testing.T) {
	t.Parallel()

	entries, err := tarball.LoadEntries(strings.NewReader(`[
		{"url": "https://example.org/a.tar.gz", "name": "a.tar.gz", "hash": "abc", "type": "sha256"}
	]`))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, tarball.Entry{URL: "https://example.org/a.tar.gz", Name: "a.tar.gz", Hash: "abc", Type: "sha256"}, entries[0])

	_, err = tarball.LoadEntries(strings.NewReader(`{`))
	require.Error(t, err)
}
