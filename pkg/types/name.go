package types

import (
	"fmt"
	"strings"
)

// Name is a slash-delimited path with a leading "/", e.g. "/acme/orders/v1".
// Names are created once and are globally unique within a repository.
type Name struct {
	value string
}

// NewName validates and wraps a Name path.
func NewName(path string) (Name, error) {
	if !strings.HasPrefix(path, "/") {
		return Name{}, fmt.Errorf("types: name %q must begin with \"/\"", path)
	}
	if strings.HasSuffix(path, "/") && path != "/" {
		return Name{}, fmt.Errorf("types: name %q must not end with \"/\"", path)
	}
	if strings.Contains(path, "//") {
		return Name{}, fmt.Errorf("types: name %q must not contain empty segments", path)
	}
	return Name{value: path}, nil
}

// String renders the Name in its canonical "/a/b/c" textual form.
func (n Name) String() string {
	return n.value
}

// Key renders the Name without its leading "/", suitable for building a
// filesystem path or storage key.
func (n Name) Key() string {
	return strings.TrimPrefix(n.value, "/")
}

// IsZero reports whether n is the zero-value Name.
func (n Name) IsZero() bool {
	return n.value == ""
}

// Equal reports whether two Names denote the same path.
func (n Name) Equal(other Name) bool {
	return n.value == other.value
}
