package types

import (
	"crypto/rand"
	"encoding/base32"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// tagByteLength is the number of random bytes backing a Tag, per the
// data model's "20-byte random identifier".
const tagByteLength = 20

// Tag is a 20-byte random identifier, rendered with a leading "#".
type Tag struct {
	value string // base32, no padding, lowercase
}

// NewTag generates a fresh, random Tag. The first 16 bytes come from a
// random (v4) UUID's CSPRNG; the remaining 4 are read straight from
// crypto/rand to round out the 20-byte identifier the data model calls for.
func NewTag() (Tag, error) {
	buf := make([]byte, tagByteLength)
	id, err := uuid.NewRandom()
	if err != nil {
		return Tag{}, fmt.Errorf("types: generate tag: %w", err)
	}
	copy(buf, id[:])
	if _, err := rand.Read(buf[16:]); err != nil {
		return Tag{}, fmt.Errorf("types: generate tag: %w", err)
	}
	enc := base32.StdEncoding.WithPadding(base32.NoPadding)
	return Tag{value: strings.ToLower(enc.EncodeToString(buf))}, nil
}

// ParseTag parses the textual form of a Tag, with or without its "#" prefix.
func ParseTag(s string) (Tag, error) {
	s = strings.TrimPrefix(s, "#")
	if s == "" {
		return Tag{}, fmt.Errorf("types: empty tag")
	}
	return Tag{value: strings.ToLower(s)}, nil
}

// String renders the Tag in its canonical "#..." textual form.
func (t Tag) String() string {
	return "#" + t.value
}

// Key renders the Tag without its "#" prefix, suitable for use as a
// filesystem path component or storage key.
func (t Tag) Key() string {
	return t.value
}

// IsZero reports whether t is the zero-value Tag (never generated).
func (t Tag) IsZero() bool {
	return t.value == ""
}

// Equal reports whether two Tags identify the same document lineage.
func (t Tag) Equal(other Tag) bool {
	return t.value == other.value
}
