package main

import (
	"context"
	"errors"

	"github.com/spf13/pflag"

	"github.com/meigma/narmirror/storepath"
)

func runExtract(ctx context.Context, args []string) error {
	var common commonFlags
	fs := pflag.NewFlagSet("narmirror extract", pflag.ContinueOnError)
	common.register(fs)
	if help, err := parse(fs, args); help || err != nil {
		return err
	}
	if fs.NArg() != 2 {
		return errors.New("extract: usage: narmirror extract STORE_PATH DEST")
	}

	id, err := storepath.Parse(fs.Arg(0))
	if err != nil {
		return err
	}
	cfg, logger, err := common.load(fs)
	if err != nil {
		return err
	}
	m, err := newMirror(ctx, cfg, logger)
	if err != nil {
		return err
	}
	return m.Extract(ctx, id, fs.Arg(1))
}
