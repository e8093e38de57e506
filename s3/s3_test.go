package s3_test

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	mirrors3 "github.com/meigma/narmirror/s3"
)

// memBucket is an in-memory API implementation.
type memBucket struct {
	mu      sync.Mutex
	objects map[string][]byte
	types   map[string]string
	puts    int
	short   bool
}

func newMemBucket() *memBucket {
	return &memBucket{objects: make(map[string][]byte), types: make(map[string]string)}
}

func (b *memBucket) HeadObject(_ context.Context, in *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	data, ok := b.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NotFound{}
	}
	return &s3.HeadObjectOutput{ContentLength: aws.Int64(int64(len(data)))}, nil
}

func (b *memBucket) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	data, ok := b.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	length := int64(len(data))
	if b.short {
		length += 10
	}
	return &s3.GetObjectOutput{
		Body:          io.NopCloser(bytes.NewReader(data)),
		ContentLength: aws.Int64(length),
	}, nil
}

func (b *memBucket) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.objects[aws.ToString(in.Key)] = data
	b.types[aws.ToString(in.Key)] = aws.ToString(in.ContentType)
	b.puts++
	return &s3.PutObjectOutput{}, nil
}

func TestFetchMetadata(t *testing.T) {
	t.Parallel()

	bucket := newMemBucket()
	bucket.objects["cache/abc.narinfo"] = []byte("StorePath: /nix/store/abc-x\n")
	c := mirrors3.NewWithAPI(bucket, "b", "cache/")

	text, err := c.FetchMetadata(context.Background(), "abc.narinfo")
	require.NoError(t, err)
	assert.Equal(t, "StorePath: /nix/store/abc-x\n", text)

	text, err = c.FetchMetadata(context.Background(), "missing.narinfo")
	require.NoError(t, err)
	assert.Empty(t, text)
}

func TestFetchMetadataEmptyObject(t *testing.T) {
	t.Parallel()

	bucket := newMemBucket()
	bucket.objects["abc.narinfo"] = nil
	c := mirrors3.NewWithAPI(bucket, "b", "")

	_, err := c.FetchMetadata(context.Background(), "abc.narinfo")
	assert.ErrorIs(t, err, mirrors3.ErrEmptyObject)
}

func TestDownload(t *testing.T) {
	t.Parallel()

	bucket := newMemBucket()
	bucket.objects["nar/x.nar.xz"] = []byte("archive")
	c := mirrors3.NewWithAPI(bucket, "b", "")

	dest := filepath.Join(t.TempDir(), "nar", "x.nar.xz")
	require.NoError(t, c.Download(context.Background(), "nar/x.nar.xz", dest))
	got, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, "archive", string(got))

	err = c.Download(context.Background(), "nar/missing.nar", filepath.Join(t.TempDir(), "m"))
	var noSuchKey *types.NoSuchKey
	assert.ErrorAs(t, err, &noSuchKey)
}

func TestDownloadTruncated(t *testing.T) {
	t.Parallel()

	bucket := newMemBucket()
	bucket.objects["x"] = []byte("short")
	bucket.short = true
	c := mirrors3.NewWithAPI(bucket, "b", "")

	dest := filepath.Join(t.TempDir(), "x")
	err := c.Download(context.Background(), "x", dest)
	require.ErrorIs(t, err, mirrors3.ErrTruncated)
	assert.NoFileExists(t, dest)
}

func TestPublish(t *testing.T) {
	t.Parallel()

	store := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(store, "nar"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(store, "abc.narinfo"), []byte("narinfo"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(store, "nar", "abc.nar.xz"), []byte("nar"), 0o644))

	release := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(release, "nar"), 0o755))
	require.NoError(t, os.Symlink(filepath.Join(store, "abc.narinfo"), filepath.Join(release, "abc.narinfo")))
	require.NoError(t, os.Symlink(filepath.Join(store, "nar", "abc.nar.xz"), filepath.Join(release, "nar", "abc.nar.xz")))
	require.NoError(t, os.WriteFile(filepath.Join(release, "nix-cache-info"), []byte("StoreDir: /nix/store\n"), 0o644))

	bucket := newMemBucket()
	c := mirrors3.NewWithAPI(bucket, "b", "r/", mirrors3.WithConcurrency(2))

	res, err := c.Publish(context.Background(), release)
	require.NoError(t, err)
	assert.Equal(t, mirrors3.PublishResult{Uploaded: 3}, res)
	assert.Equal(t, []byte("nar"), bucket.objects["r/nar/abc.nar.xz"])
	assert.Equal(t, []byte("narinfo"), bucket.objects["r/abc.narinfo"])
	assert.Equal(t, "text/x-nix-narinfo", bucket.types["r/abc.narinfo"])
	assert.Equal(t, "text/x-nix-cache-info", bucket.types["r/nix-cache-info"])

	res, err = c.Publish(context.Background(), release)
	require.NoError(t, err)
	assert.Equal(t, mirrors3.PublishResult{Existing: 3}, res)
	assert.Equal(t, 3, bucket.puts)
}
