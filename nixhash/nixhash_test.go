package nixhash

import (
	"context"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/base64"
	"encoding/hex"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meigma/narmirror/narinfo"
)

func writeFile(t *testing.T, content []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(path, content, 0o644))
	return path
}

const base32Alphabet = "0123456789abcdfghijklmnpqrsvwxyz"

func TestBase32RoundTrip(t *testing.T) {
	t.Parallel()

	for _, size := range []int{1, 16, 20, 32, 64} {
		in := make([]byte, size)
		for i := range in {
			in[i] = byte(i*37 + 11)
		}
		enc := EncodeBase32(in)
		assert.Len(t, enc, EncodedLen32(size))
		for _, c := range enc {
			assert.True(t, strings.ContainsRune(base32Alphabet, c), "unexpected character %q", c)
		}
		out, err := DecodeBase32(enc, size)
		require.NoError(t, err)
		assert.Equal(t, in, out)
	}
}

func TestBase32Lengths(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 52, EncodedLen32(sha256.Size))
	assert.Equal(t, 103, EncodedLen32(sha512.Size))
	assert.Equal(t, 32, EncodedLen32(20))
	assert.Equal(t, 0, EncodedLen32(0))
}

func TestBase32Zero(t *testing.T) {
	t.Parallel()

	assert.Equal(t, strings.Repeat("0", 52), EncodeBase32(make([]byte, 32)))
}

func TestDecodeBase32Invalid(t *testing.T) {
	t.Parallel()

	_, err := DecodeBase32("abc", 32)
	assert.ErrorIs(t, err, ErrInvalidBase32)

	// 'e' is not in the alphabet.
	_, err = DecodeBase32(strings.Repeat("e", 52), 32)
	assert.ErrorIs(t, err, ErrInvalidBase32)

	// The leading digit of a 32-byte encoding only carries one bit.
	_, err = DecodeBase32("z"+strings.Repeat("0", 51), 32)
	assert.ErrorIs(t, err, ErrInvalidBase32)
}

func TestLocalDigest(t *testing.T) {
	t.Parallel()

	content := []byte("hello narmirror")
	path := writeFile(t, content)
	ctx := context.Background()

	sum256 := sha256.Sum256(content)
	sum512 := sha512.Sum512(content)

	tests := []struct {
		algorithm string
		encoding  string
		want      string
	}{
		{SHA256, Base16, hex.EncodeToString(sum256[:])},
		{SHA256, Base32, EncodeBase32(sum256[:])},
		{SHA256, Base64, base64.StdEncoding.EncodeToString(sum256[:])},
		{SHA512, Base16, hex.EncodeToString(sum512[:])},
		{SHA512, Base32, EncodeBase32(sum512[:])},
	}
	for _, tt := range tests {
		got, err := Local{}.Digest(ctx, path, tt.algorithm, tt.encoding)
		require.NoError(t, err, "%s/%s", tt.algorithm, tt.encoding)
		assert.Equal(t, tt.want, got, "%s/%s", tt.algorithm, tt.encoding)
	}
}

func TestLocalDigestAlgorithmsDiffer(t *testing.T) {
	t.Parallel()

	path := writeFile(t, []byte("x"))
	ctx := context.Background()

	seen := make(map[string]string)
	for _, algo := range []string{MD5, SHA1, SHA256, SHA512} {
		got, err := Local{}.Digest(ctx, path, algo, Base16)
		require.NoError(t, err)
		size, err := Size(algo)
		require.NoError(t, err)
		assert.Len(t, got, size*2, algo)
		for other, v := range seen {
			assert.NotEqual(t, v, got, "%s and %s produced the same digest", algo, other)
		}
		seen[algo] = got
	}
}

func TestLocalDigestErrors(t *testing.T) {
	t.Parallel()

	path := writeFile(t, []byte("x"))
	ctx := context.Background()

	_, err := Local{}.Digest(ctx, path, "crc32", Base16)
	assert.ErrorIs(t, err, ErrUnsupportedAlgorithm)

	_, err = Local{}.Digest(ctx, path, SHA256, "base58")
	assert.ErrorIs(t, err, ErrUnsupportedEncoding)

	_, err = Local{}.Digest(ctx, filepath.Join(t.TempDir(), "missing"), SHA256, Base16)
	assert.Error(t, err)
}

func TestEncodingOf(t *testing.T) {
	t.Parallel()

	enc, err := EncodingOf(SHA256, strings.Repeat("a", 64))
	require.NoError(t, err)
	assert.Equal(t, Base16, enc)

	enc, err = EncodingOf(SHA256, strings.Repeat("a", 52))
	require.NoError(t, err)
	assert.Equal(t, Base32, enc)

	enc, err = EncodingOf(SHA256, strings.Repeat("a", 44))
	require.NoError(t, err)
	assert.Equal(t, Base64, enc)

	_, err = EncodingOf(SHA256, "abc")
	assert.ErrorIs(t, err, ErrUnsupportedEncoding)

	_, err = EncodingOf("whirlpool", "abc")
	assert.ErrorIs(t, err, ErrUnsupportedAlgorithm)
}

func TestVerify(t *testing.T) {
	t.Parallel()

	content := []byte("archive bytes")
	path := writeFile(t, content)
	ctx := context.Background()

	for _, encoding := range []string{Base16, Base32, Base64} {
		encoded, err := Sum(content, SHA256, encoding)
		require.NoError(t, err)
		ok, err := Verify(ctx, Local{}, path, narinfo.Hash{Algorithm: SHA256, Encoded: encoded})
		require.NoError(t, err)
		assert.True(t, ok, encoding)
	}

	wrong, err := Sum([]byte("other"), SHA256, Base32)
	require.NoError(t, err)
	ok, err := Verify(ctx, Local{}, path, narinfo.Hash{Algorithm: SHA256, Encoded: wrong})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestVerifyUsesDeclaredAlgorithm(t *testing.T) {
	t.Parallel()

	content := []byte("declared algorithm")
	path := writeFile(t, content)
	ctx := context.Background()

	// A sha512 declaration must be checked with sha512, so a sha256 digest
	// padded to the right length never verifies.
	sha512Hex, err := Sum(content, SHA512, Base16)
	require.NoError(t, err)
	ok, err := Verify(ctx, Local{}, path, narinfo.Hash{Algorithm: SHA512, Encoded: sha512Hex})
	require.NoError(t, err)
	assert.True(t, ok)

	sha256Hex, err := Sum(content, SHA256, Base16)
	require.NoError(t, err)
	_, err = Verify(ctx, Local{}, path, narinfo.Hash{Algorithm: SHA512, Encoded: sha256Hex})
	assert.ErrorIs(t, err, ErrUnsupportedEncoding)
}

func TestCommandDigest(t *testing.T) {
	t.Parallel()
	if runtime.GOOS == "windows" {
		t.Skip("shell script fake requires a POSIX shell")
	}

	dir := t.TempDir()
	argsFile := filepath.Join(dir, "args")
	script := filepath.Join(dir, "nix-hash")
	body := "#!/bin/sh\necho \"$@\" > " + argsFile + "\necho 1b9p3jb0k1ylbcrfwpmqhxc9fyqrfbw4k1plz8lk2s1c5n0rbpa9\n"
	require.NoError(t, os.WriteFile(script, []byte(body), 0o755))

	got, err := Command{Binary: script}.Digest(context.Background(), "/tmp/some.nar", SHA256, Base32)
	require.NoError(t, err)
	assert.Equal(t, "1b9p3jb0k1ylbcrfwpmqhxc9fyqrfbw4k1plz8lk2s1c5n0rbpa9", got)

	args, err := os.ReadFile(argsFile)
	require.NoError(t, err)
	assert.Equal(t, "--flat --type sha256 --base32 /tmp/some.nar\n", string(args))
}

func TestCommandDigestFailure(t *testing.T) {
	t.Parallel()
	if runtime.GOOS == "windows" {
		t.Skip("shell script fake requires a POSIX shell")
	}

	script := filepath.Join(t.TempDir(), "nix-hash")
	require.NoError(t, os.WriteFile(script, []byte("#!/bin/sh\necho 'error: boom' >&2\nexit 1\n"), 0o755))

	_, err := Command{Binary: script}.Digest(context.Background(), "/tmp/x", SHA256, Base16)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "error: boom")

	_, err = Command{Binary: script}.Digest(context.Background(), "/tmp/x", SHA256, Base64)
	assert.ErrorIs(t, err, ErrUnsupportedEncoding)
}
