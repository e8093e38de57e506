// Package config loads mirror configuration.
//
// Configuration is read from a single YAML file named by the --config flag
// or, when the flag is empty, the NARMIRROR_CONFIG environment variable.
// Values missing from the file keep their defaults. Command-line flags
// override file values; that merge happens in the command, not here.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvVar names the environment variable holding the config file path.
const EnvVar = "NARMIRROR_CONFIG"

var (
	// ErrNoConfig is returned by Path when neither the flag nor the
	// environment variable names a file.
	ErrNoConfig = errors.New("config: no config file specified")

	// ErrInvalid is returned when a loaded configuration fails validation.
	ErrInvalid = errors.New("config: invalid configuration")
)

// Config is the mirror configuration.
type Config struct {
	// CacheDir is the output directory; the flat store lives in
	// CacheDir/binary_cache.
	CacheDir string `yaml:"cache_dir"`

	// Upstream is the binary cache to mirror from. An "s3://bucket/prefix"
	// URL reads from the bucket configured in S3.
	Upstream string `yaml:"upstream"`

	Concurrency    int      `yaml:"concurrency"`
	Tries          int      `yaml:"tries"`
	RetryInterval  Duration `yaml:"retry_interval"`
	RequestTimeout Duration `yaml:"request_timeout"`

	// RateLimit caps upstream requests per second. Zero disables it.
	RateLimit float64 `yaml:"rate_limit"`

	UserAgent string `yaml:"user_agent"`

	// NixHash selects the external nix-hash utility instead of in-process
	// digests.
	NixHash bool `yaml:"nix_hash"`

	// CacheInfo is written verbatim as nix-cache-info into each release.
	CacheInfo map[string]string `yaml:"cache_info"`

	// Mirrors expands mirror://<name>/ tarball URLs.
	Mirrors map[string][]string `yaml:"mirrors"`

	S3  S3Config  `yaml:"s3"`
	OCI OCIConfig `yaml:"oci"`
}

// S3Config selects a bucket for reading or publishing.
type S3Config struct {
	Bucket   string `yaml:"bucket"`
	Region   string `yaml:"region"`
	Endpoint string `yaml:"endpoint"`
	Prefix   string `yaml:"prefix"`

	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
}

// OCIConfig selects a registry repository for publishing.
type OCIConfig struct {
	Repository string `yaml:"repository"`
	PlainHTTP  bool   `yaml:"plain_http"`
	Username   string `yaml:"username"`
	Password   string `yaml:"password"`
}

// Duration is a time.Duration written as a Go duration string ("5s").
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("line %d: %w", node.Line, err)
	}
	*d = Duration(v)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Upstream:       "https://cache.nixos.org",
		Concurrency:    8,
		Tries:          5,
		RetryInterval:  Duration(5 * time.Second),
		RequestTimeout: Duration(15 * time.Minute),
		UserAgent:      "narmirror/1.0",
		CacheInfo: map[string]string{
			"StoreDir":      "/nix/store",
			"WantMassQuery": "1",
			"Priority":      "40",
		},
		Mirrors: map[string][]string{
			"gnu": {"https://ftpmirror.gnu.org/gnu/"},
		},
	}
}

// Path returns the config file path from flagValue or the environment.
func Path(flagValue string) (string, error) {
	if flagValue != "" {
		return flagValue, nil
	}
	if env := os.Getenv(EnvVar); env != "" {
		return env, nil
	}
	return "", ErrNoConfig
}

// Load loads the file selected by flagValue or the environment, or returns
// the defaults when none is selected.
func Load(flagValue string) (*Config, error) {
	path, err := Path(flagValue)
	if errors.Is(err, ErrNoConfig) {
		cfg := Default()
		return cfg, cfg.Validate()
	}
	if err != nil {
		return nil, err
	}
	return LoadFile(path)
}

// LoadFile loads and validates a config file. Unknown keys are rejected and
// environment variables in paths are expanded.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path is chosen by the operator
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	cfg := Default()
	defaults := *cfg
	// Maps from the file replace the defaults instead of merging into them.
	cfg.CacheInfo, cfg.Mirrors = nil, nil
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalid, path, err)
	}
	if cfg.CacheInfo == nil {
		cfg.CacheInfo = defaults.CacheInfo
	}
	if cfg.Mirrors == nil {
		cfg.Mirrors = defaults.Mirrors
	}
	cfg.CacheDir = os.ExpandEnv(cfg.CacheDir)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []error
	if c.Concurrency < 1 {
		errs = append(errs, fmt.Errorf("concurrency must be at least 1, got %d", c.Concurrency))
	}
	if c.Tries < 1 {
		errs = append(errs, fmt.Errorf("tries must be at least 1, got %d", c.Tries))
	}
	if c.RetryInterval < 0 {
		errs = append(errs, errors.New("retry_interval must not be negative"))
	}
	if c.RequestTimeout <= 0 {
		errs = append(errs, errors.New("request_timeout must be positive"))
	}
	if c.RateLimit < 0 {
		errs = append(errs, errors.New("rate_limit must not be negative"))
	}
	if c.Upstream != "" {
		u, err := url.Parse(c.Upstream)
		switch {
		case err != nil:
			errs = append(errs, fmt.Errorf("upstream: %w", err))
		case u.Scheme != "http" && u.Scheme != "https" && u.Scheme != "s3":
			errs = append(errs, fmt.Errorf("upstream: unsupported scheme %q", u.Scheme))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalid, errors.Join(errs...))
	}
	return nil
}
