// Package vpath provides the normalized path value type used to address
// objects and indexes in the virtual store. Paths are immutable; every
// transformation returns a new value.
package vpath

import (
	"errors"
	"strings"
)

// ErrMalformed is returned when a path string cannot be normalized.
var ErrMalformed = errors.New("malformed path")

// Separator is the path segment separator.
const Separator = "/"

// Path is a normalized hierarchical address. An index path (trailing
// separator) addresses a subtree; an object path addresses a leaf.
// The zero value is the root index.
type Path struct {
	segments []string
	object   bool // true for leaf addresses, false for index addresses
}

// Root is the root index path.
var Root = Path{}

// Parse normalizes a path string. Leading and repeated separators are
// collapsed, a trailing separator marks an index path, and "." / ".."
// segments are rejected since the store has no notion of relative
// traversal. Control characters and NUL bytes are rejected.
func Parse(s string) (Path, error) {
	for _, r := range s {
		if r < 32 || r == 127 {
			return Path{}, ErrMalformed
		}
	}

	index := s == "" || strings.HasSuffix(s, Separator)

	var segments []string
	for _, seg := range strings.Split(s, Separator) {
		switch seg {
		case "":
			continue
		case ".", "..":
			return Path{}, ErrMalformed
		}
		segments = append(segments, seg)
	}

	return Path{segments: segments, object: !index && len(segments) > 0}, nil
}

// MustParse is Parse for compile-time-constant paths; it panics on error.
func MustParse(s string) Path {
	p, err := Parse(s)
	if err != nil {
		panic("vpath: " + err.Error() + ": " + s)
	}
	return p
}

// String renders the canonical form: "/a/b/c" for objects, "/a/b/c/" for
// indexes, "/" for the root.
func (p Path) String() string {
	if len(p.segments) == 0 {
		return Separator
	}
	s := Separator + strings.Join(p.segments, Separator)
	if !p.object {
		s += Separator
	}
	return s
}

// IsIndex reports whether the path addresses a subtree.
func (p Path) IsIndex() bool { return !p.object }

// IsRoot reports whether the path is the root index.
func (p Path) IsRoot() bool { return len(p.segments) == 0 }

// Depth returns the number of segments.
func (p Path) Depth() int { return len(p.segments) }

// Segments returns a copy of the segment sequence.
func (p Path) Segments() []string {
	out := make([]string, len(p.segments))
	copy(out, p.segments)
	return out
}

// Name returns the last segment, or "" for the root.
func (p Path) Name() string {
	if len(p.segments) == 0 {
		return ""
	}
	return p.segments[len(p.segments)-1]
}

// Ext returns the extension of the last segment without the dot, or "".
func (p Path) Ext() string {
	name := p.Name()
	if i := strings.LastIndex(name, "."); i >= 0 && i < len(name)-1 {
		return name[i+1:]
	}
	return ""
}

// Equal reports path identity: same segments (case-sensitive) and the
// same index flag.
func (p Path) Equal(o Path) bool {
	if p.object != o.object || len(p.segments) != len(o.segments) {
		return false
	}
	for i, seg := range p.segments {
		if seg != o.segments[i] {
			return false
		}
	}
	return true
}

// MatchKey returns the lowercased canonical form used for permission
// pattern matching. Access checks are deliberately case-insensitive even
// though storage identity is case-sensitive.
func (p Path) MatchKey() string {
	return strings.ToLower(p.String())
}

// Parent returns the index path one level up. The root's parent is the
// root itself.
func (p Path) Parent() Path {
	if len(p.segments) == 0 {
		return Root
	}
	return Path{segments: p.segments[:len(p.segments)-1]}
}

// Child returns an object path for the named child of this path.
func (p Path) Child(name string) Path {
	segs := make([]string, len(p.segments), len(p.segments)+1)
	copy(segs, p.segments)
	return Path{segments: append(segs, name), object: true}
}

// ChildIndex returns an index path for the named child subtree.
func (p Path) ChildIndex(name string) Path {
	c := p.Child(name)
	c.object = false
	return c
}

// Sibling returns an object path with the same parent and the given name.
func (p Path) Sibling(name string) Path {
	return p.Parent().Child(name)
}

// AsIndex returns the same address as an index path.
func (p Path) AsIndex() Path {
	p.object = false
	return p
}

// AsObject returns the same address as an object path. The root cannot
// be an object and is returned unchanged.
func (p Path) AsObject() Path {
	if len(p.segments) > 0 {
		p.object = true
	}
	return p
}

// HasPrefix reports whether prefix is an ancestor of (or equal to) p.
// Only index paths can be proper ancestors.
func (p Path) HasPrefix(prefix Path) bool {
	if len(prefix.segments) > len(p.segments) {
		return false
	}
	if len(prefix.segments) == len(p.segments) && prefix.object != p.object {
		return false
	}
	for i, seg := range prefix.segments {
		if p.segments[i] != seg {
			return false
		}
	}
	return true
}

// StripPrefix removes an ancestor prefix, returning the remainder as a
// path relative to the root. ok is false when prefix is not an ancestor.
func (p Path) StripPrefix(prefix Path) (Path, bool) {
	if !p.HasPrefix(prefix) {
		return Path{}, false
	}
	rest := p.segments[len(prefix.segments):]
	segs := make([]string, len(rest))
	copy(segs, rest)
	return Path{segments: segs, object: p.object && len(segs) > 0}, true
}

// Resolve joins a relative path below p. p must be an index path.
func (p Path) Resolve(rel Path) Path {
	segs := make([]string, 0, len(p.segments)+len(rel.segments))
	segs = append(segs, p.segments...)
	segs = append(segs, rel.segments...)
	return Path{segments: segs, object: rel.object && len(segs) > 0}
}
