// Package oci publishes a release directory to an OCI registry.
//
// Every file of the release becomes a blob annotated with its relative name,
// and a single image manifest tagged with the release name lists them all.
// Blobs that the repository already holds are not uploaded again.
package oci

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	"oras.land/oras-go/v2/errdef"
	"oras.land/oras-go/v2/registry"
	"oras.land/oras-go/v2/registry/remote"
	"oras.land/oras-go/v2/registry/remote/auth"
	"oras.land/oras-go/v2/registry/remote/credentials"
	"oras.land/oras-go/v2/registry/remote/errcode"
	"oras.land/oras-go/v2/registry/remote/retry"
)

// Media types of release content.
const (
	ArtifactType       = "application/vnd.narmirror.release.v1"
	MediaTypeNarinfo   = "text/x-nix-narinfo"
	MediaTypeCacheInfo = "text/x-nix-cache-info"
	MediaTypeNar       = "application/x-nix-nar"
)

const (
	defaultConcurrency = 4
	defaultUserAgent   = "narmirror/1.0"
)

var (
	// ErrInvalidReference is returned for unparseable repository references.
	ErrInvalidReference = errors.New("oci: invalid reference")

	// ErrNotFound is returned when the registry reports a missing resource.
	ErrNotFound = errors.New("oci: not found")

	// ErrUnauthorized is returned when authentication is missing or rejected.
	ErrUnauthorized = errors.New("oci: unauthorized")

	// ErrForbidden is returned when the credentials lack permission.
	ErrForbidden = errors.New("oci: forbidden")
)

// Target is the repository a Publisher writes to. *remote.Repository
// satisfies it.
type Target interface {
	Exists(ctx context.Context, target ocispec.Descriptor) (bool, error)
	Push(ctx context.Context, expected ocispec.Descriptor, content io.Reader) error
	PushReference(ctx context.Context, expected ocispec.Descriptor, content io.Reader, reference string) error
}

// Publisher uploads releases to one repository.
type Publisher struct {
	repoRef     string
	plainHTTP   bool
	userAgent   string
	credStore   credentials.Store
	concurrency int
	logger      *slog.Logger
	target      Target
}

// Option configures a Publisher.
type Option func(*Publisher)

// WithPlainHTTP talks to the registry over plain HTTP.
func WithPlainHTTP(plain bool) Option {
	return func(p *Publisher) {
		p.plainHTTP = plain
	}
}

// WithUserAgent sets the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(p *Publisher) {
		p.userAgent = ua
	}
}

// WithCredentials sets the credential store. Without one, requests are
// anonymous.
func WithCredentials(store credentials.Store) Option {
	return func(p *Publisher) {
		p.credStore = store
	}
}

// WithConcurrency sets the number of parallel blob uploads.
func WithConcurrency(n int) Option {
	return func(p *Publisher) {
		if n > 0 {
			p.concurrency = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Publisher) {
		p.logger = logger
	}
}

// WithTarget writes to target instead of a remote repository.
func WithTarget(target Target) Option {
	return func(p *Publisher) {
		p.target = target
	}
}

// New creates a Publisher for a repository reference such as
// "ghcr.io/acme/nixos-cache".
func New(repoRef string, opts ...Option) (*Publisher, error) {
	p := &Publisher{
		repoRef:     repoRef,
		userAgent:   defaultUserAgent,
		concurrency: defaultConcurrency,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.target != nil {
		return p, nil
	}

	repo, err := remote.NewRepository(repoRef)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrInvalidReference, repoRef, err)
	}
	repo.PlainHTTP = p.plainHTTP
	repo.Client = &auth.Client{
		Client: retry.DefaultClient,
		Cache:  auth.NewCache(),
		Credential: func(ctx context.Context, hostport string) (auth.Credential, error) {
			if p.credStore == nil {
				return auth.EmptyCredential, nil
			}
			return p.credStore.Get(ctx, hostport)
		},
		Header: http.Header{
			"User-Agent": []string{p.userAgent},
		},
	}
	p.target = repo
	return p, nil
}

func (p *Publisher) log() *slog.Logger {
	if p.logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return p.logger
}

// ValidateTag reports whether tag is usable as a manifest tag.
func ValidateTag(tag string) error {
	ref := registry.Reference{Registry: "localhost", Repository: "x", Reference: tag}
	if err := ref.ValidateReferenceAsTag(); err != nil {
		return fmt.Errorf("%w: tag %q: %v", ErrInvalidReference, tag, err)
	}
	return nil
}

// mapError maps ORAS errors to this package's sentinel errors.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, errdef.ErrNotFound) {
		return fmt.Errorf("%w: %v", ErrNotFound, err)
	}
	var errResp *errcode.ErrorResponse
	if errors.As(err, &errResp) {
		switch errResp.StatusCode {
		case http.StatusNotFound:
			return fmt.Errorf("%w: %v", ErrNotFound, err)
		case http.StatusUnauthorized:
			return fmt.Errorf("%w: %v", ErrUnauthorized, err)
		case http.StatusForbidden:
			return fmt.Errorf("%w: %v", ErrForbidden, err)
		}
	}
	return err
}
