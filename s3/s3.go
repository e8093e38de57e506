// Package s3 reads and publishes binary caches in an S3-compatible bucket.
//
// A [Client] can act as the upstream of a mirror (it implements the metadata
// source and downloader contracts) and as a sink that uploads a published
// release directory.
package s3

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"path/filepath"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/google/renameio"
)

// API is the subset of the S3 client used by this package.
type API interface {
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

var (
	// ErrTruncated is returned when an object body is shorter than announced.
	ErrTruncated = errors.New("s3: truncated transfer")

	// ErrEmptyObject is returned for a metadata object with no content.
	ErrEmptyObject = errors.New("s3: empty object")
)

// Config selects a bucket.
type Config struct {
	Bucket   string
	Region   string
	Endpoint string // custom endpoint for MinIO and similar servers
	Prefix   string // key prefix, for example "cache/"

	// AccessKeyID and SecretAccessKey select static credentials. When
	// empty, the default AWS credential chain is used.
	AccessKeyID     string
	SecretAccessKey string
}

// Client reads and writes cache objects in a bucket.
type Client struct {
	api         API
	bucket      string
	prefix      string
	concurrency int
	logger      *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithConcurrency sets the number of parallel uploads during Publish.
func WithConcurrency(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.concurrency = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// New creates a Client from the default AWS configuration chain.
func New(ctx context.Context, cfg Config, opts ...Option) (*Client, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("s3: bucket is empty")
	}
	loadOpts := []func(*config.LoadOptions) error{config.WithRegion(cfg.Region)}
	if cfg.AccessKeyID != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("s3: load aws config: %w", err)
	}
	api := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})
	return NewWithAPI(api, cfg.Bucket, cfg.Prefix, opts...), nil
}

// NewWithAPI creates a Client over an existing API implementation.
func NewWithAPI(api API, bucket, prefix string, opts ...Option) *Client {
	c := &Client{
		api:         api,
		bucket:      bucket,
		prefix:      prefix,
		concurrency: 8,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) log() *slog.Logger {
	if c.logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return c.logger
}

func (c *Client) key(name string) string {
	return c.prefix + path.Clean("/" + name)[1:]
}

// FetchMetadata returns the object stored under name, or "" if there is none.
func (c *Client) FetchMetadata(ctx context.Context, name string) (string, error) {
	out, err := c.get(ctx, name)
	if isNotFound(err) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return "", fmt.Errorf("s3: read %s: %w", name, err)
	}
	if out.ContentLength != nil && int64(len(data)) != *out.ContentLength {
		return "", fmt.Errorf("%w: %s", ErrTruncated, name)
	}
	if len(data) == 0 {
		return "", fmt.Errorf("%w: %s", ErrEmptyObject, name)
	}
	return string(data), nil
}

// Download writes the object stored under name to dest. A failed transfer
// leaves no file at dest.
func (c *Client) Download(ctx context.Context, name, dest string) error {
	out, err := c.get(ctx, name)
	if err != nil {
		return err
	}
	defer out.Body.Close()

	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return err
	}
	tmp, err := renameio.TempFile(filepath.Dir(dest), dest)
	if err != nil {
		return err
	}
	defer tmp.Cleanup() //nolint:errcheck // no-op after CloseAtomicallyReplace

	n, err := io.Copy(tmp, out.Body)
	if err != nil {
		return fmt.Errorf("s3: download %s: %w", name, err)
	}
	if out.ContentLength != nil && n != *out.ContentLength {
		return fmt.Errorf("%w: %s: got %d of %d bytes", ErrTruncated, name, n, *out.ContentLength)
	}
	return tmp.CloseAtomicallyReplace()
}

func (c *Client) get(ctx context.Context, name string) (*s3.GetObjectOutput, error) {
	out, err := c.api.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(c.key(name)),
	})
	if err != nil {
		return nil, fmt.Errorf("s3: get %s: %w", name, err)
	}
	return out, nil
}

func isNotFound(err error) bool {
	if err == nil {
		return false
	}
	var noSuchKey *types.NoSuchKey
	var notFound *types.NotFound
	return errors.As(err, &noSuchKey) || errors.As(err, &notFound)
}
