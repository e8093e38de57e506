// Package storepath parses content-addressed store identifiers.
//
// An identifier is the hash component of a store path plus its human-readable
// name. It can be extracted from a full store path:
//
//	/nix/store/p4pclmv1gyja5kzc26npqpia1qqxrf0l-hello-2.12.1
//
// or from a bare hash form (the metadata filename minus its extension, or the
// hash followed by the name without the store prefix):
//
//	p4pclmv1gyja5kzc26npqpia1qqxrf0l
//	p4pclmv1gyja5kzc26npqpia1qqxrf0l-hello-2.12.1
package storepath

import (
	"errors"
	"fmt"
	"strings"
)

const (
	// HashLen is the length of the hash component in its base32 form.
	HashLen = 32

	// MetadataExt is the extension of metadata files in a binary cache.
	MetadataExt = ".narinfo"
)

// ErrMalformed is returned when a path does not have the shape of a store path.
var ErrMalformed = errors.New("storepath: malformed path")

// Identifier is a content address: a fixed-length hash plus a label.
// The zero value is the empty identifier, used for records with no references.
type Identifier struct {
	Hash string
	Name string
}

// Parse extracts an identifier from a full store path or a bare hash form.
//
// A full path must have at least three slashes, and the hash is taken from
// the third segment (the first one after the store directory). A bare form
// must not contain any slash. Anything in between is rejected with
// [ErrMalformed]. An empty string yields the empty identifier.
func Parse(path string) (Identifier, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return Identifier{}, nil
	}

	var base string
	switch n := strings.Count(path, "/"); {
	case n >= 3:
		base = strings.Split(path, "/")[3]
	case n == 0:
		base = path
	default:
		return Identifier{}, fmt.Errorf("%w: %q", ErrMalformed, path)
	}

	base = strings.TrimSuffix(base, MetadataExt)
	if len(base) < HashLen {
		return Identifier{}, fmt.Errorf("%w: %q: hash shorter than %d characters", ErrMalformed, path, HashLen)
	}
	id := Identifier{Hash: base[:HashLen]}
	if rest := base[HashLen:]; rest != "" {
		if rest[0] != '-' {
			return Identifier{}, fmt.Errorf("%w: %q: expected '-' after hash", ErrMalformed, path)
		}
		id.Name = rest[1:]
	}
	return id, nil
}

// MustParse is like Parse but panics on malformed input.
func MustParse(path string) Identifier {
	id, err := Parse(path)
	if err != nil {
		panic(err)
	}
	return id
}

// IsZero reports whether the identifier is empty.
func (id Identifier) IsZero() bool {
	return id.Hash == ""
}

// MetadataName returns the metadata filename for the identifier, or "" for
// the empty identifier.
func (id Identifier) MetadataName() string {
	if id.IsZero() {
		return ""
	}
	return id.Hash + MetadataExt
}

// String returns "<hash>-<name>", or just the hash when the name is unknown.
func (id Identifier) String() string {
	if id.Name == "" {
		return id.Hash
	}
	return id.Hash + "-" + id.Name
}

// Path returns the full store path of the identifier under storeDir.
func (id Identifier) Path(storeDir string) string {
	return strings.TrimSuffix(storeDir, "/") + "/" + id.String()
}

// ParseList parses a whitespace-separated list of store paths, as found in a
// References field or a store-paths file. Empty entries are skipped.
func ParseList(s string) ([]Identifier, error) {
	fields := strings.Fields(s)
	ids := make([]Identifier, 0, len(fields))
	for _, f := range fields {
		id, err := Parse(f)
		if err != nil {
			return nil, err
		}
		if !id.IsZero() {
			ids = append(ids, id)
		}
	}
	return ids, nil
}
