package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/google/renameio"
	"github.com/spf13/pflag"

	"github.com/meigma/narmirror"
	"github.com/meigma/narmirror/fetch"
)

func runUpdate(ctx context.Context, args []string) error {
	var (
		common     commonFlags
		printOnly  bool
		failureLog string
	)
	fs := pflag.NewFlagSet("narmirror update", pflag.ContinueOnError)
	common.register(fs)
	fs.BoolVar(&printOnly, "print-only", false, "print URL,FileHash of every archive instead of downloading")
	fs.StringVar(&failureLog, "failure-log", "", "write the failed-file summary here (default stderr)")
	if help, err := parse(fs, args); help || err != nil {
		return err
	}
	if fs.NArg() == 0 {
		return errors.New("update: at least one release directory is required")
	}

	cfg, logger, err := common.load(fs)
	if err != nil {
		return err
	}
	m, err := newMirror(ctx, cfg, logger,
		narmirror.WithPrintOnly(printOnly),
		narmirror.WithCacheInfo(cfg.CacheInfo),
	)
	if err != nil {
		return err
	}

	var errs []error
	report := &fetch.Report{}
	for _, dir := range fs.Args() {
		res, err := m.UpdateRelease(ctx, dir)
		if res != nil && res.Report != nil {
			report.Merge(res.Report)
		}
		if err != nil {
			logger.Error("release not published", "dir", dir, "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", dir, err))
			if ctx.Err() != nil {
				break
			}
			continue
		}
		logger.Info("release updated",
			"dir", dir,
			"paths", len(res.Closure),
			"persisted", res.Persisted)
	}

	if !printOnly {
		if err := writeFailureLog(failureLog, report); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// writeFailureLog writes the summary to path, or to stderr when path is
// empty and something failed.
func writeFailureLog(path string, report *fetch.Report) error {
	if path == "" {
		if !report.Failed() {
			return nil
		}
		return report.WriteLog(os.Stderr)
	}
	f, err := renameio.TempFile("", path)
	if err != nil {
		return err
	}
	defer f.Cleanup() //nolint:errcheck // no-op after CloseAtomicallyReplace
	if err := report.WriteLog(f); err != nil {
		return err
	}
	return f.CloseAtomicallyReplace()
}
