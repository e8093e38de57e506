package main

import (
	"errors"
	"fmt"

	"github.com/spf13/pflag"

	"github.com/meigma/narmirror"
)

func runGC(args []string) error {
	var (
		common commonFlags
		dryRun bool
		keep   []string
	)
	fs := pflag.NewFlagSet("narmirror gc", pflag.ContinueOnError)
	common.register(fs)
	fs.BoolVarP(&dryRun, "dry-run", "n", false, "list garbage without deleting it")
	fs.StringSliceVar(&keep, "keep", nil, "store-relative names never to delete")
	if help, err := parse(fs, args); help || err != nil {
		return err
	}
	if fs.NArg() == 0 {
		// Every entry would be garbage; refuse rather than wipe the store.
		return errors.New("gc: at least one release directory is required")
	}

	cfg, logger, err := common.load(fs)
	if err != nil {
		return err
	}
	if cfg.CacheDir == "" {
		return errors.New("no cache directory: set cache_dir or --cache-dir")
	}
	m, err := narmirror.New(cfg.CacheDir,
		narmirror.WithKeep(keep...),
		narmirror.WithDryRun(dryRun),
		narmirror.WithLogger(logger),
	)
	if err != nil {
		return err
	}

	releases := make([]string, 0, fs.NArg())
	for _, dir := range fs.Args() {
		releases = append(releases, releaseCache(dir))
	}
	res, err := m.CollectGarbage(releases)
	if err != nil {
		return err
	}
	if dryRun {
		for _, name := range res.Garbage {
			fmt.Println(name)
		}
	}
	return nil
}
