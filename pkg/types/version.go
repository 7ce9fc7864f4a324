package types

import (
	"fmt"
	"strconv"
	"strings"
)

// Version is an ordered tuple of positive integers, e.g. v1.2.3.
type Version struct {
	components []int
}

// NewVersion builds a Version from explicit components, e.g. NewVersion(1,2,3) -> v1.2.3.
func NewVersion(components ...int) (Version, error) {
	if len(components) == 0 {
		return Version{}, fmt.Errorf("types: version must have at least one component")
	}
	for _, c := range components {
		if c < 1 {
			return Version{}, fmt.Errorf("types: version components must be positive, got %d", c)
		}
	}
	cp := make([]int, len(components))
	copy(cp, components)
	return Version{components: cp}, nil
}

// ParseVersion parses the textual form "v1.2.3".
func ParseVersion(s string) (Version, error) {
	s = strings.TrimPrefix(s, "v")
	if s == "" {
		return Version{}, fmt.Errorf("types: empty version")
	}
	parts := strings.Split(s, ".")
	components := make([]int, 0, len(parts))
	for _, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil {
			return Version{}, fmt.Errorf("types: invalid version %q: %w", s, err)
		}
		components = append(components, n)
	}
	return NewVersion(components...)
}

// String renders the Version in its canonical "v1.2.3" textual form.
func (v Version) String() string {
	parts := make([]string, len(v.components))
	for i, c := range v.components {
		parts[i] = strconv.Itoa(c)
	}
	return "v" + strings.Join(parts, ".")
}

// Key renders the Version without its leading "v", suitable for a
// filesystem path component or storage key.
func (v Version) Key() string {
	parts := make([]string, len(v.components))
	for i, c := range v.components {
		parts[i] = strconv.Itoa(c)
	}
	return strings.Join(parts, ".")
}

// Len returns the number of components in the Version.
func (v Version) Len() int {
	return len(v.components)
}

// Equal reports whether two Versions have identical components.
func (v Version) Equal(other Version) bool {
	if len(v.components) != len(other.components) {
		return false
	}
	for i := range v.components {
		if v.components[i] != other.components[i] {
			return false
		}
	}
	return true
}

// NextVersion implements the checkout version-arithmetic rule:
//
//	nextVersion(v, level) = v[0..level-2] · (v[level-1]+1) · []   when level <= len(v)
//	nextVersion(v, level) = v · 1                                  when level == len(v)+1
//	nextVersion(v, 0)      = v[0..len-2] · (v[len-1]+1)            (increments the last component)
//
// Lower components (beyond the incremented one) are dropped, not reset to
// 1, because a dropped trailing component is implicitly "1" the next time
// it is introduced by a level == len(v)+1 checkout.
func (v Version) NextVersion(level int) (Version, error) {
	n := len(v.components)
	switch {
	case level == 0:
		level = n
	case level < 0:
		return Version{}, fmt.Errorf("types: negative version level %d", level)
	case level > n+1:
		return Version{}, fmt.Errorf("types: version level %d out of range for %s", level, v)
	}

	if level == n+1 {
		next := make([]int, n+1)
		copy(next, v.components)
		next[n] = 1
		return Version{components: next}, nil
	}

	next := make([]int, level)
	copy(next, v.components[:level])
	next[level-1]++
	return Version{components: next}, nil
}
