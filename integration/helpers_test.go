//go:build integration

package integration

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/docker/go-connections/nat"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/meigma/narmirror"
	"github.com/meigma/narmirror/nixhash"
)

const (
	helloHash = "abcdclmv1gyja5kzc26npqpia1qqxrf0"
	glibcHash = "wxyzclmv1gyja5kzc26npqpia1qqxrf0"

	minioUser     = "narmirror"
	minioPassword = "narmirror-secret"
	minioRegion   = "us-east-1"
)

// --- Container Setup ---

var (
	registryOnce sync.Once
	registryAddr string
	registryErr  error

	minioOnce     sync.Once
	minioEndpoint string
	minioErr      error
)

func skipWithoutDocker(tb testing.TB) {
	tb.Helper()
	if os.Getenv("SKIP_DOCKER_TESTS") == "1" {
		tb.Skip("SKIP_DOCKER_TESTS is set")
	}
}

// getRegistry returns the shared registry address, starting the container if needed.
func getRegistry(tb testing.TB) string {
	tb.Helper()
	skipWithoutDocker(tb)

	registryOnce.Do(func() {
		registryAddr, registryErr = startContainer(context.Background(), testcontainers.ContainerRequest{
			Image:        "registry:2",
			ExposedPorts: []string{"5000/tcp"},
			WaitingFor:   wait.ForHTTP("/v2/").WithPort("5000/tcp").WithStatusCodeMatcher(isOKStatus),
		}, "5000/tcp")
	})
	if registryErr != nil {
		tb.Fatalf("start registry container: %v", registryErr)
	}
	return registryAddr
}

// getMinio returns the shared MinIO endpoint URL, starting the container if needed.
func getMinio(tb testing.TB) string {
	tb.Helper()
	skipWithoutDocker(tb)

	minioOnce.Do(func() {
		var addr string
		addr, minioErr = startContainer(context.Background(), testcontainers.ContainerRequest{
			Image:        "minio/minio:latest",
			ExposedPorts: []string{"9000/tcp"},
			Cmd:          []string{"server", "/data"},
			Env: map[string]string{
				"MINIO_ROOT_USER":     minioUser,
				"MINIO_ROOT_PASSWORD": minioPassword,
			},
			WaitingFor: wait.ForHTTP("/minio/health/live").WithPort("9000/tcp").WithStatusCodeMatcher(isOKStatus),
		}, "9000/tcp")
		minioEndpoint = "http://" + addr
	})
	if minioErr != nil {
		tb.Fatalf("start minio container: %v", minioErr)
	}
	return minioEndpoint
}

// startContainer starts req and returns the host:port address of port.
// Containers are cleaned up by the testcontainers reaper.
func startContainer(ctx context.Context, req testcontainers.ContainerRequest, port string) (string, error) {
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		return "", fmt.Errorf("start %s: %w", req.Image, err)
	}
	host, err := container.Host(ctx)
	if err != nil {
		return "", fmt.Errorf("resolve %s host: %w", req.Image, err)
	}
	mapped, err := container.MappedPort(ctx, nat.Port(port))
	if err != nil {
		return "", fmt.Errorf("resolve %s port: %w", req.Image, err)
	}
	return fmt.Sprintf("%s:%s", host, mapped.Port()), nil
}

func isOKStatus(status int) bool {
	return status >= 200 && status < 300
}

// --- Upstream Fixture ---

// newUpstream serves a binary cache in which hello depends on glibc.
func newUpstream(tb testing.TB) *httptest.Server {
	tb.Helper()
	files := make(map[string][]byte)
	addPath := func(hash, name string, nar []byte, refs ...string) {
		sum, err := nixhash.Sum(nar, nixhash.SHA256, nixhash.Base32)
		require.NoError(tb, err)
		files[hash+".narinfo"] = []byte(fmt.Sprintf(
			"StorePath: /nix/store/%s-%s\nURL: nar/%s.nar\nCompression: none\nFileHash: sha256:%s\nFileSize: %d\nReferences: %s\n",
			hash, name, hash, sum, len(nar), strings.Join(refs, " ")))
		files["nar/"+hash+".nar"] = nar
	}
	addPath(helloHash, "hello", []byte("hello archive"), glibcHash+"-glibc")
	addPath(glibcHash, "glibc", []byte("glibc archive"))

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, ok := files[strings.TrimPrefix(r.URL.Path, "/")]
		if !ok {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write(data)
	}))
	tb.Cleanup(srv.Close)
	return srv
}

// publishRelease mirrors the hello closure and returns the published release
// projection.
func publishRelease(tb testing.TB) string {
	tb.Helper()
	srv := newUpstream(tb)
	m, err := narmirror.New(filepath.Join(tb.TempDir(), "store"),
		narmirror.WithUpstreamURL(srv.URL),
		narmirror.WithCacheInfo(map[string]string{"StoreDir": "/nix/store"}),
	)
	require.NoError(tb, err)

	dir := tb.TempDir()
	require.NoError(tb, os.WriteFile(filepath.Join(dir, narmirror.StorePathsFile),
		[]byte("/nix/store/"+helloHash+"-hello\n"), 0o644))
	_, err = m.UpdateRelease(context.Background(), dir)
	require.NoError(tb, err)
	return filepath.Join(dir, narmirror.ReleaseCacheDir)
}
