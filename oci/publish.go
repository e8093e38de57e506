package oci

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"

	"github.com/opencontainers/go-digest"
	specs "github.com/opencontainers/image-spec/specs-go"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	"golang.org/x/sync/errgroup"

	"github.com/meigma/narmirror/cache"
)

// Result describes a publish run.
type Result struct {
	Manifest ocispec.Descriptor
	Uploaded int
	Existing int
}

// Publish uploads every file reachable from dir and tags a manifest listing
// them with tag.
func (p *Publisher) Publish(ctx context.Context, dir, tag string) (Result, error) {
	if err := ValidateTag(tag); err != nil {
		return Result{}, err
	}
	names, err := cache.ReleaseFiles(dir)
	if err != nil {
		return Result{}, err
	}

	layers := make([]ocispec.Descriptor, len(names))
	var uploaded, existing atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.concurrency)
	for i, name := range names {
		g.Go(func() error {
			desc, created, err := p.pushFile(gctx, name, filepath.Join(dir, filepath.FromSlash(name)))
			if err != nil {
				return err
			}
			layers[i] = desc
			if created {
				uploaded.Add(1)
			} else {
				existing.Add(1)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Result{}, err
	}

	if err := p.pushIfMissing(ctx, ocispec.DescriptorEmptyJSON, ocispec.DescriptorEmptyJSON.Data); err != nil {
		return Result{}, err
	}

	manifest := ocispec.Manifest{
		Versioned:    specs.Versioned{SchemaVersion: 2},
		MediaType:    ocispec.MediaTypeImageManifest,
		ArtifactType: ArtifactType,
		Config:       ocispec.DescriptorEmptyJSON,
		Layers:       layers,
	}
	manifestJSON, err := json.Marshal(manifest)
	if err != nil {
		return Result{}, fmt.Errorf("oci: marshal manifest: %w", err)
	}
	desc := ocispec.Descriptor{
		MediaType:    ocispec.MediaTypeImageManifest,
		ArtifactType: ArtifactType,
		Digest:       digest.FromBytes(manifestJSON),
		Size:         int64(len(manifestJSON)),
	}
	if err := p.target.PushReference(ctx, desc, bytes.NewReader(manifestJSON), tag); err != nil {
		return Result{}, mapError(err)
	}

	res := Result{Manifest: desc, Uploaded: int(uploaded.Load()), Existing: int(existing.Load())}
	p.log().Info("published to registry",
		"repository", p.repoRef,
		"tag", tag,
		"digest", desc.Digest.String(),
		"uploaded", res.Uploaded,
		"existing", res.Existing)
	return res, nil
}

// pushFile pushes one file as a blob unless the repository already has it.
func (p *Publisher) pushFile(ctx context.Context, name, path string) (ocispec.Descriptor, bool, error) {
	f, err := os.Open(path) //nolint:gosec // path is inside the published directory
	if err != nil {
		return ocispec.Descriptor{}, false, err
	}
	defer f.Close()

	dgst, err := digest.SHA256.FromReader(f)
	if err != nil {
		return ocispec.Descriptor{}, false, fmt.Errorf("oci: digest %s: %w", name, err)
	}
	info, err := f.Stat()
	if err != nil {
		return ocispec.Descriptor{}, false, err
	}
	desc := ocispec.Descriptor{
		MediaType:   mediaType(name),
		Digest:      dgst,
		Size:        info.Size(),
		Annotations: map[string]string{ocispec.AnnotationTitle: name},
	}

	ok, err := p.target.Exists(ctx, desc)
	if err != nil {
		return desc, false, mapError(err)
	}
	if ok {
		return desc, false, nil
	}
	if _, err := f.Seek(0, 0); err != nil {
		return desc, false, err
	}
	if err := p.target.Push(ctx, desc, f); err != nil {
		return desc, false, fmt.Errorf("oci: push %s: %w", name, mapError(err))
	}
	p.log().Debug("pushed blob", "name", name, "digest", dgst.String())
	return desc, true, nil
}

func (p *Publisher) pushIfMissing(ctx context.Context, desc ocispec.Descriptor, data []byte) error {
	ok, err := p.target.Exists(ctx, desc)
	if err != nil {
		return mapError(err)
	}
	if ok {
		return nil
	}
	return mapError(p.target.Push(ctx, desc, bytes.NewReader(data)))
}

func mediaType(name string) string {
	switch {
	case strings.HasSuffix(name, ".narinfo"):
		return MediaTypeNarinfo
	case strings.HasSuffix(name, cache.CacheInfoFile):
		return MediaTypeCacheInfo
	default:
		return MediaTypeNar
	}
}
