package storage

import (
	"context"

	"github.com/substratehq/substrate/internal/vpath"
)

// Entry is one child of an index path as reported by a single layer.
type Entry struct {
	// Name is the child segment name.
	Name string
	// Index marks the child as a subtree rather than a leaf object.
	Index bool
	// Meta is the child's metadata relative to the layer root; may be
	// nil for index children.
	Meta *Metadata
}

// Layer is a single backing store mounted into the virtual store. All
// paths are relative to the mount prefix. Implementations must be safe
// for concurrent use.
type Layer interface {
	// Load returns the object at an exact object path, or ErrNotFound.
	Load(ctx context.Context, rel vpath.Path) (*Object, error)

	// Store writes an object at an object path, creating or replacing.
	// Read-only layers return ErrReadOnly.
	Store(ctx context.Context, rel vpath.Path, obj *Object) error

	// Remove deletes at the path, or the whole subtree for an index
	// path. It reports whether anything was removed.
	Remove(ctx context.Context, rel vpath.Path) (bool, error)

	// List returns the direct children of an index path. A missing
	// index yields an empty slice, not an error.
	List(ctx context.Context, rel vpath.Path) ([]Entry, error)

	// Stat returns metadata for an object path, or ErrNotFound.
	Stat(ctx context.Context, rel vpath.Path) (*Metadata, error)

	// Close releases any resources held by the layer.
	Close() error
}

// Mount attaches a layer at a path prefix with an explicit priority.
// Higher priorities shadow lower ones at the same object path; equal
// priorities are ordered by mount recency (later wins).
type Mount struct {
	// Prefix is the index path the layer is attached at.
	Prefix vpath.Path
	// Priority orders shadowing between overlapping mounts.
	Priority int
	// Layer is the backing store.
	Layer Layer
	// Writable marks the mount as a valid target for Put/Remove.
	Writable bool
	// Source identifies who added the mount (e.g. a plugin id).
	Source string

	seq int
}
