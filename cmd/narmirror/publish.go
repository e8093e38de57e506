package main

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/pflag"
	"oras.land/oras-go/v2/registry/remote/credentials"

	"github.com/meigma/narmirror/oci"
	"github.com/meigma/narmirror/s3"
)

func runPublishS3(ctx context.Context, args []string) error {
	var (
		common   commonFlags
		bucket   string
		prefix   string
		endpoint string
		region   string
	)
	fs := pflag.NewFlagSet("narmirror publish-s3", pflag.ContinueOnError)
	common.register(fs)
	fs.StringVar(&bucket, "bucket", "", "target bucket")
	fs.StringVar(&prefix, "prefix", "", "key prefix")
	fs.StringVar(&endpoint, "endpoint", "", "custom S3 endpoint")
	fs.StringVar(&region, "region", "", "bucket region")
	if help, err := parse(fs, args); help || err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return errors.New("publish-s3: exactly one release directory is required")
	}

	cfg, logger, err := common.load(fs)
	if err != nil {
		return err
	}
	s3cfg := s3.Config{
		Bucket:   cfg.S3.Bucket,
		Region:   cfg.S3.Region,
		Endpoint: cfg.S3.Endpoint,
		Prefix:   cfg.S3.Prefix,

		AccessKeyID:     cfg.S3.AccessKeyID,
		SecretAccessKey: cfg.S3.SecretAccessKey,
	}
	for flag, dst := range map[string]*string{
		"bucket":   &s3cfg.Bucket,
		"prefix":   &s3cfg.Prefix,
		"endpoint": &s3cfg.Endpoint,
		"region":   &s3cfg.Region,
	} {
		if fs.Changed(flag) {
			v, _ := fs.GetString(flag)
			*dst = v
		}
	}

	client, err := s3.New(ctx, s3cfg, s3.WithConcurrency(cfg.Concurrency), s3.WithLogger(logger))
	if err != nil {
		return err
	}
	_, err = client.Publish(ctx, releaseCache(fs.Arg(0)))
	return err
}

func runPublishOCI(ctx context.Context, args []string) error {
	var (
		common     commonFlags
		repository string
		plainHTTP  bool
		username   string
		password   string
	)
	fs := pflag.NewFlagSet("narmirror publish-oci", pflag.ContinueOnError)
	common.register(fs)
	fs.StringVar(&repository, "repository", "", "target repository, for example ghcr.io/acme/cache")
	fs.BoolVar(&plainHTTP, "plain-http", false, "use plain HTTP for the registry")
	fs.StringVar(&username, "username", "", "registry username (default: docker credentials)")
	fs.StringVar(&password, "password", "", "registry password or token")
	if help, err := parse(fs, args); help || err != nil {
		return err
	}
	if fs.NArg() != 2 {
		return errors.New("publish-oci: usage: narmirror publish-oci RELEASE_DIR TAG")
	}

	cfg, logger, err := common.load(fs)
	if err != nil {
		return err
	}
	if fs.Changed("repository") {
		cfg.OCI.Repository = repository
	}
	if fs.Changed("plain-http") {
		cfg.OCI.PlainHTTP = plainHTTP
	}
	if fs.Changed("username") {
		cfg.OCI.Username = username
	}
	if fs.Changed("password") {
		cfg.OCI.Password = password
	}
	if cfg.OCI.Repository == "" {
		return errors.New("publish-oci: no repository: set oci.repository or --repository")
	}

	var store credentials.Store
	if cfg.OCI.Username != "" || cfg.OCI.Password != "" {
		store = oci.StaticCredentials(registryHost(cfg.OCI.Repository), cfg.OCI.Username, cfg.OCI.Password)
	} else if store, err = oci.DockerCredentials(); err != nil {
		return err
	}

	p, err := oci.New(cfg.OCI.Repository,
		oci.WithPlainHTTP(cfg.OCI.PlainHTTP),
		oci.WithUserAgent(cfg.UserAgent),
		oci.WithCredentials(store),
		oci.WithConcurrency(cfg.Concurrency),
		oci.WithLogger(logger),
	)
	if err != nil {
		return err
	}
	res, err := p.Publish(ctx, releaseCache(fs.Arg(0)), fs.Arg(1))
	if err != nil {
		return fmt.Errorf("publish-oci: %w", err)
	}
	fmt.Println(res.Manifest.Digest.String())
	return nil
}

// registryHost returns the registry part of a repository reference.
func registryHost(repository string) string {
	host, _, _ := strings.Cut(repository, "/")
	return host
}
