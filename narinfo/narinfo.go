// Package narinfo parses and serializes binary cache metadata records.
//
// A record is newline-delimited "Key: Value" text describing one store path:
// where its archive lives, how it is compressed, the digest of the archive
// file and which other store paths it references. Serialization sorts the
// lines so the output is byte-stable; serialized records are themselves
// content-addressed by downstream publishers.
package narinfo

import (
	"errors"
	"fmt"
	"path"
	"sort"
	"strings"

	"github.com/meigma/narmirror/storepath"
)

// Well-known keys.
const (
	KeyStorePath   = "StorePath"
	KeyURL         = "URL"
	KeyCompression = "Compression"
	KeyFileHash    = "FileHash"
	KeyFileSize    = "FileSize"
	KeyNarHash     = "NarHash"
	KeyNarSize     = "NarSize"
	KeyReferences  = "References"
	KeyDeriver     = "Deriver"
	KeySig         = "Sig"
	KeyCA          = "CA"
)

// ErrInvalidHash is returned when a hash field is not of the form "algorithm:digest".
var ErrInvalidHash = errors.New("narinfo: invalid hash")

// Record is one parsed metadata record.
//
// Known keys are exposed as fields. Keys this package does not recognize are
// kept verbatim in Extra so that a parse/serialize round trip never drops
// information. String fields are serialized only when non-empty; References
// is serialized whenever it is non-nil, so a leaf record keeps its empty
// "References: " line.
type Record struct {
	StorePath   string
	URL         string
	Compression string
	FileHash    string
	FileSize    string
	NarHash     string
	NarSize     string
	References  []string
	Deriver     string
	Sig         string
	CA          string

	Extra map[string]string
}

// Parse parses record text. Lines without a colon are ignored, keys and
// values are trimmed, and a repeated key keeps its last value. Empty text
// yields an empty (degenerate) record.
func Parse(text string) *Record {
	r := &Record{}
	for key, value := range ParseFields(text) {
		r.set(key, value)
	}
	return r
}

func (r *Record) set(key, value string) {
	switch key {
	case KeyStorePath:
		r.StorePath = value
	case KeyURL:
		r.URL = value
	case KeyCompression:
		r.Compression = value
	case KeyFileHash:
		r.FileHash = value
	case KeyFileSize:
		r.FileSize = value
	case KeyNarHash:
		r.NarHash = value
	case KeyNarSize:
		r.NarSize = value
	case KeyReferences:
		r.References = strings.Fields(value)
	case KeyDeriver:
		r.Deriver = value
	case KeySig:
		r.Sig = value
	case KeyCA:
		r.CA = value
	default:
		if r.Extra == nil {
			r.Extra = make(map[string]string)
		}
		r.Extra[key] = value
	}
}

// Fields returns the record as a flat key/value map.
func (r *Record) Fields() map[string]string {
	fields := make(map[string]string, len(r.Extra)+11)
	for k, v := range r.Extra {
		fields[k] = v
	}
	put := func(key, value string) {
		if value != "" {
			fields[key] = value
		}
	}
	put(KeyStorePath, r.StorePath)
	put(KeyURL, r.URL)
	put(KeyCompression, r.Compression)
	put(KeyFileHash, r.FileHash)
	put(KeyFileSize, r.FileSize)
	put(KeyNarHash, r.NarHash)
	put(KeyNarSize, r.NarSize)
	put(KeyDeriver, r.Deriver)
	put(KeySig, r.Sig)
	put(KeyCA, r.CA)
	if r.References != nil {
		fields[KeyReferences] = strings.Join(r.References, " ")
	}
	return fields
}

// String serializes the record with sorted lines and a trailing newline.
func (r *Record) String() string {
	return FormatFields(r.Fields())
}

// IsEmpty reports whether the record carries no fields at all, which is the
// case when the metadata source had nothing for the requested key.
func (r *Record) IsEmpty() bool {
	return len(r.Fields()) == 0
}

// ReferenceIDs parses the References field into identifiers.
func (r *Record) ReferenceIDs() ([]storepath.Identifier, error) {
	return storepath.ParseList(strings.Join(r.References, " "))
}

// ArchiveName returns the base name of the archive URL, for example
// "1b9p...xyz.nar.xz" for "nar/1b9p...xyz.nar.xz".
func (r *Record) ArchiveName() string {
	if r.URL == "" {
		return ""
	}
	return path.Base(r.URL)
}

// Hash parses the FileHash field.
func (r *Record) Hash() (Hash, error) {
	return ParseHash(r.FileHash)
}

// ParseFields splits "Key: Value" text into a map. It is the generic form of
// [Parse], also used for cache-info records.
func ParseFields(text string) map[string]string {
	fields := make(map[string]string)
	for _, line := range strings.Split(text, "\n") {
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		fields[strings.TrimSpace(key)] = strings.TrimSpace(value)
	}
	return fields
}

// FormatFields serializes a key/value map as sorted "Key: Value" lines
// terminated by a newline.
func FormatFields(fields map[string]string) string {
	lines := make([]string, 0, len(fields))
	for k, v := range fields {
		lines = append(lines, fmt.Sprintf("%s: %s", k, v))
	}
	sort.Strings(lines)

	var b strings.Builder
	for _, line := range lines {
		b.WriteString(line)
		b.WriteByte('\n')
	}
	return b.String()
}

// Hash is an "algorithm:digest" pair such as "sha256:1b9p...".
type Hash struct {
	Algorithm string
	Encoded   string
}

// ParseHash parses an "algorithm:digest" string.
func ParseHash(s string) (Hash, error) {
	algo, encoded, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok || algo == "" || strings.TrimSpace(encoded) == "" {
		return Hash{}, fmt.Errorf("%w: %q", ErrInvalidHash, s)
	}
	return Hash{Algorithm: algo, Encoded: strings.TrimSpace(encoded)}, nil
}

// String returns the "algorithm:digest" form.
func (h Hash) String() string {
	return h.Algorithm + ":" + h.Encoded
}
