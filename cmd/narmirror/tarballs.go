package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/pflag"

	"github.com/meigma/narmirror"
	"github.com/meigma/narmirror/fetch"
	mirrorhttp "github.com/meigma/narmirror/http"
	"github.com/meigma/narmirror/tarball"
)

func runTarballs(ctx context.Context, args []string) error {
	var (
		common   commonFlags
		revision string
		input    string
	)
	fs := pflag.NewFlagSet("narmirror tarballs", pflag.ContinueOnError)
	common.register(fs)
	fs.StringVar(&revision, "revision", "", "revision the tarballs belong to (required)")
	fs.StringVarP(&input, "input", "i", "-", "JSON list of {url,name,hash,type} entries, - for stdin")
	if help, err := parse(fs, args); help || err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return errors.New("tarballs: exactly one target directory is required")
	}
	if revision == "" {
		return errors.New("tarballs: --revision is required")
	}

	cfg, logger, err := common.load(fs)
	if err != nil {
		return err
	}
	entries, err := readEntries(input)
	if err != nil {
		return err
	}

	// Tarball locators are absolute; the base URL only has to be valid.
	src, err := mirrorhttp.NewSource(narmirror.DefaultUpstream, httpOptions(cfg)...)
	if err != nil {
		return err
	}
	opts, err := fetchOptions(cfg, logger)
	if err != nil {
		return err
	}
	f := fetch.New(tarball.Mirrors(cfg.Mirrors).Downloader(src), opts...)
	digester, err := newDigester(cfg)
	if err != nil {
		return err
	}

	m := tarball.New(fs.Arg(0), f, tarball.WithDigester(digester), tarball.WithLogger(logger))
	report, err := m.Run(ctx, revision, entries)
	if report != nil {
		logger.Info("tarballs mirrored",
			"fetched", report.Fetched,
			"skipped", report.Skipped,
			"failed", len(report.Failures))
		if report.Failed() {
			_ = report.WriteLog(os.Stderr)
		}
	}
	return err
}

func readEntries(input string) ([]tarball.Entry, error) {
	var r io.Reader = os.Stdin
	if input != "-" {
		f, err := os.Open(input) //nolint:gosec // path is chosen by the operator
		if err != nil {
			return nil, err
		}
		defer f.Close()
		r = f
	}
	entries, err := tarball.LoadEntries(r)
	if err != nil {
		return nil, fmt.Errorf("tarballs: %w", err)
	}
	return entries, nil
}
