package nixhash

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// defaultProfileBin is where multi-user Nix installs its binaries when they
// are not on PATH.
const defaultProfileBin = "/nix/var/nix/profiles/default/bin"

// Command computes digests by running the external nix-hash utility.
type Command struct {
	// Binary overrides the nix-hash binary. When empty, FindBinary is used.
	Binary string
}

// FindBinary resolves a Nix binary by name, checking PATH first and then the
// default profile directory.
func FindBinary(name string) (string, error) {
	if path, err := exec.LookPath(name); err == nil {
		return path, nil
	}
	candidate := filepath.Join(defaultProfileBin, name)
	if _, err := os.Stat(candidate); err == nil {
		return candidate, nil
	}
	return "", fmt.Errorf("nixhash: %s not found on PATH or at %s", name, candidate)
}

// Digest implements Digester by running "nix-hash --flat --type <algorithm>".
func (c Command) Digest(ctx context.Context, path, algorithm, encoding string) (string, error) {
	if _, err := Size(algorithm); err != nil {
		return "", err
	}
	args := []string{"--flat", "--type", algorithm}
	switch encoding {
	case Base16:
	case Base32:
		args = append(args, "--base32")
	default:
		return "", fmt.Errorf("%w: %q with nix-hash", ErrUnsupportedEncoding, encoding)
	}
	args = append(args, path)

	bin := c.Binary
	if bin == "" {
		var err error
		if bin, err = FindBinary("nix-hash"); err != nil {
			return "", err
		}
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, bin, args...) //nolint:gosec // arguments are validated above
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg != "" {
			return "", fmt.Errorf("nix-hash %s: %s", strings.Join(args, " "), msg)
		}
		return "", fmt.Errorf("nix-hash %s: %w", strings.Join(args, " "), err)
	}
	return strings.TrimSpace(stdout.String()), nil
}
