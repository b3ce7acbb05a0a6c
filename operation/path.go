package operation

import (
	"strconv"
	"strings"
)

// Path is an ordered sequence of segments locating an element inside the
// dashboard tree. Segments address mapping keys; segments that parse as
// non-negative integers address sequence indices.
type Path []string

// String returns the dotted form of the path.
func (p Path) String() string {
	return strings.Join(p, ".")
}

// Equal reports whether p and q are the same path.
func (p Path) Equal(q Path) bool {
	if len(p) != len(q) {
		return false
	}
	for i := range p {
		if p[i] != q[i] {
			return false
		}
	}
	return true
}

// IsStrictPrefixOf reports whether p is a strict prefix of q, meaning p
// addresses an ancestor of the element q addresses.
func (p Path) IsStrictPrefixOf(q Path) bool {
	if len(p) >= len(q) {
		return false
	}
	for i := range p {
		if p[i] != q[i] {
			return false
		}
	}
	return true
}

// Index parses the segment at position i as a sequence index.
func (p Path) Index(i int) (int, bool) {
	if i < 0 || i >= len(p) {
		return 0, false
	}
	idx, err := strconv.Atoi(p[i])
	if err != nil || idx < 0 {
		return 0, false
	}
	return idx, true
}

// Parent returns the path without its final segment and the final segment
// itself. The boolean is false for empty paths.
func (p Path) Parent() (Path, string, bool) {
	if len(p) == 0 {
		return nil, "", false
	}
	return p[:len(p)-1], p[len(p)-1], true
}

// Clone returns a copy of the path.
func (p Path) Clone() Path {
	if p == nil {
		return nil
	}
	out := make(Path, len(p))
	copy(out, p)
	return out
}

// ParsePath parses a dotted path string into a Path.
func ParsePath(s string) Path {
	if s == "" {
		return nil
	}
	return Path(strings.Split(s, "."))
}
