// narmirror mirrors and garbage-collects a Nix binary cache.
//
// Each subcommand takes its own flags; run "narmirror <subcommand> --help"
// for details. Settings come from the YAML file named by --config or
// NARMIRROR_CONFIG, and flags override them.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	if len(args) < 1 {
		printUsage()
		return errors.New("subcommand required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch sub, rest := args[0], args[1:]; sub {
	case "update":
		return runUpdate(ctx, rest)
	case "gc":
		return runGC(rest)
	case "tarballs":
		return runTarballs(ctx, rest)
	case "extract":
		return runExtract(ctx, rest)
	case "publish-s3":
		return runPublishS3(ctx, rest)
	case "publish-oci":
		return runPublishOCI(ctx, rest)
	case "-h", "--help", "help":
		printUsage()
		return nil
	default:
		printUsage()
		return fmt.Errorf("unknown subcommand: %q", sub)
	}
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `Usage: narmirror <subcommand> [flags] [args]

Subcommands:
  update       Mirror the closure of release store paths and publish the releases
  gc           Delete store entries no release links to
  tarballs     Mirror source tarballs into a multi-hash layout
  extract      Download, verify and decompress the archive of one store path
  publish-s3   Upload a published release to an S3 bucket
  publish-oci  Push a published release to an OCI registry

Run 'narmirror <subcommand> --help' for subcommand flags.
`)
}
