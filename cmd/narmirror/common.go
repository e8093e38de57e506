package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/pflag"

	"github.com/meigma/narmirror"
	"github.com/meigma/narmirror/config"
	"github.com/meigma/narmirror/fetch"
	mirrorhttp "github.com/meigma/narmirror/http"
	"github.com/meigma/narmirror/nixhash"
	"github.com/meigma/narmirror/s3"
)

// commonFlags are accepted by every subcommand.
type commonFlags struct {
	configPath    string
	logLevel      string
	cacheDir      string
	upstream      string
	concurrency   int
	tries         int
	retryInterval time.Duration
	timeout       time.Duration
	nixHash       bool
}

func (c *commonFlags) register(fs *pflag.FlagSet) {
	fs.StringVar(&c.configPath, "config", "", "config file (default $"+config.EnvVar+")")
	fs.StringVar(&c.logLevel, "log-level", "info", "log level: debug, info, warn, error")
	fs.StringVar(&c.cacheDir, "cache-dir", "", "flat store directory")
	fs.StringVar(&c.upstream, "upstream", "", "upstream binary cache URL (http(s):// or s3://bucket/prefix)")
	fs.IntVarP(&c.concurrency, "concurrency", "j", 0, "parallel downloads")
	fs.IntVar(&c.tries, "tries", 0, "download attempts per file")
	fs.DurationVar(&c.retryInterval, "retry-interval", 0, "base hold-off between attempts")
	fs.DurationVar(&c.timeout, "timeout", 0, "per-request timeout")
	fs.BoolVar(&c.nixHash, "nix-hash", false, "verify with the external nix-hash utility")
	fs.BoolP("help", "h", false, "show help")
}

// load reads the config file and applies the flags that were set.
func (c *commonFlags) load(fs *pflag.FlagSet) (*config.Config, *slog.Logger, error) {
	logger, err := newLogger(c.logLevel, os.Stderr)
	if err != nil {
		return nil, nil, err
	}
	cfg, err := config.Load(c.configPath)
	if err != nil {
		return nil, nil, err
	}
	if fs.Changed("cache-dir") {
		cfg.CacheDir = c.cacheDir
	}
	if fs.Changed("upstream") {
		cfg.Upstream = c.upstream
	}
	if fs.Changed("concurrency") {
		cfg.Concurrency = c.concurrency
	}
	if fs.Changed("tries") {
		cfg.Tries = c.tries
	}
	if fs.Changed("retry-interval") {
		cfg.RetryInterval = config.Duration(c.retryInterval)
	}
	if fs.Changed("timeout") {
		cfg.RequestTimeout = config.Duration(c.timeout)
	}
	if fs.Changed("nix-hash") {
		cfg.NixHash = c.nixHash
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}

// parse parses args and reports whether help was requested.
func parse(fs *pflag.FlagSet, args []string) (bool, error) {
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return true, nil
		}
		return false, err
	}
	help, _ := fs.GetBool("help")
	if help {
		fmt.Fprintf(os.Stderr, "Usage of %s:\n%s", fs.Name(), fs.FlagUsages())
	}
	return help, nil
}

func newLogger(level string, w io.Writer) (*slog.Logger, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid --log-level %q: %w", level, err)
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: l})), nil
}

func newDigester(cfg *config.Config) (nixhash.Digester, error) {
	if !cfg.NixHash {
		return nixhash.Local{}, nil
	}
	bin, err := nixhash.FindBinary("nix-hash")
	if err != nil {
		return nil, err
	}
	return nixhash.Command{Binary: bin}, nil
}

func httpOptions(cfg *config.Config) []mirrorhttp.Option {
	return []mirrorhttp.Option{
		mirrorhttp.WithTimeout(cfg.RequestTimeout.Std()),
		mirrorhttp.WithUserAgent(cfg.UserAgent),
		mirrorhttp.WithRateLimit(cfg.RateLimit, cfg.Concurrency),
	}
}

// newUpstream opens the configured upstream. An s3:// URL selects the bucket
// and prefix, with the remaining settings taken from the s3 section.
func newUpstream(ctx context.Context, cfg *config.Config, logger *slog.Logger) (narmirror.Upstream, error) {
	u, err := url.Parse(cfg.Upstream)
	if err != nil {
		return nil, err
	}
	if u.Scheme != "s3" {
		return mirrorhttp.NewSource(cfg.Upstream, httpOptions(cfg)...)
	}
	s3cfg := s3.Config{
		Bucket:   u.Host,
		Region:   cfg.S3.Region,
		Endpoint: cfg.S3.Endpoint,
		Prefix:   strings.TrimPrefix(u.Path, "/"),

		AccessKeyID:     cfg.S3.AccessKeyID,
		SecretAccessKey: cfg.S3.SecretAccessKey,
	}
	if s3cfg.Prefix != "" && !strings.HasSuffix(s3cfg.Prefix, "/") {
		s3cfg.Prefix += "/"
	}
	return s3.New(ctx, s3cfg, s3.WithLogger(logger), s3.WithConcurrency(cfg.Concurrency))
}

func fetchOptions(cfg *config.Config, logger *slog.Logger) ([]fetch.Option, error) {
	digester, err := newDigester(cfg)
	if err != nil {
		return nil, err
	}
	return []fetch.Option{
		fetch.WithConcurrency(cfg.Concurrency),
		fetch.WithTries(cfg.Tries),
		fetch.WithRetryInterval(cfg.RetryInterval.Std()),
		fetch.WithDigester(digester),
		fetch.WithLogger(logger),
	}, nil
}

func newMirror(ctx context.Context, cfg *config.Config, logger *slog.Logger, extra ...narmirror.Option) (*narmirror.Mirror, error) {
	if cfg.CacheDir == "" {
		return nil, errors.New("no cache directory: set cache_dir or --cache-dir")
	}
	upstream, err := newUpstream(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	digester, err := newDigester(cfg)
	if err != nil {
		return nil, err
	}
	opts := append([]narmirror.Option{
		narmirror.WithUpstream(upstream),
		narmirror.WithConcurrency(cfg.Concurrency),
		narmirror.WithTries(cfg.Tries),
		narmirror.WithRetryInterval(cfg.RetryInterval.Std()),
		narmirror.WithDigester(digester),
		narmirror.WithLogger(logger),
	}, extra...)
	return narmirror.New(cfg.CacheDir, opts...)
}

// releaseCache returns the symlink projection of a release directory: its
// binary_cache subdirectory when present, the directory itself otherwise.
func releaseCache(dir string) string {
	sub := filepath.Join(dir, narmirror.ReleaseCacheDir)
	if info, err := os.Stat(sub); err == nil && info.IsDir() {
		return sub
	}
	return dir
}
