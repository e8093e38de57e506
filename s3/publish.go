package s3

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"golang.org/x/sync/errgroup"

	"github.com/meigma/narmirror/cache"
)

// PublishResult counts the objects of a publish run.
type PublishResult struct {
	Uploaded int
	Existing int
}

// Publish uploads every file reachable from dir, following the symlinks of
// a release directory, under the same relative key. Objects that already
// exist are not uploaded again.
func (c *Client) Publish(ctx context.Context, dir string) (PublishResult, error) {
	names, err := cache.ReleaseFiles(dir)
	if err != nil {
		return PublishResult{}, err
	}

	var uploaded, existing atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.concurrency)
	for _, name := range names {
		g.Go(func() error {
			created, err := c.put(gctx, name, filepath.Join(dir, filepath.FromSlash(name)))
			if err != nil {
				return err
			}
			if created {
				uploaded.Add(1)
			} else {
				existing.Add(1)
			}
			return nil
		})
	}
	err = g.Wait()
	res := PublishResult{Uploaded: int(uploaded.Load()), Existing: int(existing.Load())}
	c.log().Info("published to s3", "bucket", c.bucket, "uploaded", res.Uploaded, "existing", res.Existing)
	return res, err
}

func (c *Client) put(ctx context.Context, name, file string) (bool, error) {
	key := c.key(name)
	_, err := c.api.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
	})
	if err == nil {
		return false, nil
	}
	if !isNotFound(err) {
		return false, fmt.Errorf("s3: head %s: %w", key, err)
	}

	f, err := os.Open(file) //nolint:gosec // file is inside the published directory
	if err != nil {
		return false, err
	}
	defer f.Close()

	_, err = c.api.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(c.bucket),
		Key:         aws.String(key),
		Body:        f,
		ContentType: aws.String(contentType(name)),
	})
	if err != nil {
		return false, fmt.Errorf("s3: put %s: %w", key, err)
	}
	c.log().Debug("uploaded", "key", key)
	return true, nil
}

func contentType(name string) string {
	switch {
	case strings.HasSuffix(name, ".narinfo"):
		return "text/x-nix-narinfo"
	case strings.HasSuffix(name, "nix-cache-info"):
		return "text/x-nix-cache-info"
	default:
		return "application/x-nix-nar"
	}
}
