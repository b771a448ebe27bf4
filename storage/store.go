// Package storage implements the layered, path-addressed virtual object
// store. An ordered stack of mounted layers resolves reads by priority,
// merges index listings across layers and routes writes to the highest
// priority writable mount.
package storage

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/substratehq/substrate/internal/vpath"
	"github.com/substratehq/substrate/storage/codec"
)

// Store is the layered virtual store. Mount and unmount are serialized;
// reads operate on an immutable snapshot of the mount list so a query
// either sees a mount or does not.
type Store struct {
	mu      sync.RWMutex
	mounts  []*Mount
	nextSeq int
	logger  *zap.Logger
}

// New creates an empty store.
func New(logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{logger: logger}
}

// AddMount attaches a layer. The prefix must be an index path.
func (s *Store) AddMount(m Mount) error {
	if !m.Prefix.IsIndex() {
		return fmt.Errorf("%w: mount prefix must be an index path: %s", ErrInvalidArgument, m.Prefix)
	}
	if m.Layer == nil {
		return fmt.Errorf("%w: mount has no layer", ErrInvalidArgument)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	m.seq = s.nextSeq
	s.nextSeq++

	mounts := make([]*Mount, 0, len(s.mounts)+1)
	mounts = append(mounts, s.mounts...)
	mounts = append(mounts, &m)
	sort.SliceStable(mounts, func(i, j int) bool {
		if mounts[i].Priority != mounts[j].Priority {
			return mounts[i].Priority > mounts[j].Priority
		}
		return mounts[i].seq > mounts[j].seq
	})
	s.mounts = mounts

	s.logger.Info("Mount added",
		zap.String("prefix", m.Prefix.String()),
		zap.Int("priority", m.Priority),
		zap.String("source", m.Source),
		zap.Bool("writable", m.Writable))
	return nil
}

// RemoveMount detaches the mount with the given prefix and source and
// reports whether one was found. The layer is not closed; ownership
// stays with whoever mounted it.
func (s *Store) RemoveMount(prefix vpath.Path, source string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, m := range s.mounts {
		if m.Prefix.Equal(prefix) && m.Source == source {
			mounts := make([]*Mount, 0, len(s.mounts)-1)
			mounts = append(mounts, s.mounts[:i]...)
			mounts = append(mounts, s.mounts[i+1:]...)
			s.mounts = mounts
			s.logger.Info("Mount removed",
				zap.String("prefix", prefix.String()),
				zap.String("source", source))
			return true
		}
	}
	return false
}

// Mounts returns the mount list in resolution order (highest priority
// first).
func (s *Store) Mounts() []Mount {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Mount, len(s.mounts))
	for i, m := range s.mounts {
		out[i] = *m
	}
	return out
}

// snapshot returns the current mount list for lock-free traversal.
func (s *Store) snapshot() []*Mount {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Mount, len(s.mounts))
	copy(out, s.mounts)
	return out
}

// Lookup resolves metadata for a path. Object paths resolve against the
// highest-priority layer with a hit; index paths get the merged view
// aggregated across every contributing layer. Returns ErrNotFound when
// nothing resolves.
func (s *Store) Lookup(ctx context.Context, p vpath.Path) (*Metadata, error) {
	mounts := s.snapshot()

	if p.IsIndex() {
		children, contributing, err := s.list(ctx, mounts, p)
		if err != nil {
			return nil, err
		}
		if len(contributing) == 0 && !p.IsRoot() {
			return nil, ErrNotFound
		}
		return &Metadata{
			Path:     p,
			Category: CategoryIndex,
			MIME:     IndexMIME,
			Size:     int64(len(children)),
			Modified: time.Now(),
			Mounts:   contributing,
		}, nil
	}

	for _, m := range mounts {
		rel, ok := p.StripPrefix(m.Prefix)
		if !ok {
			continue
		}
		md, err := m.Layer.Stat(ctx, rel)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("%w: stat %s: %v", ErrStorage, p, err)
		}
		md.Path = p
		md.Mounts = []vpath.Path{m.Prefix}
		return md, nil
	}
	return nil, ErrNotFound
}

// Load returns the highest-priority concrete object at an exact object
// path. Binary objects stream; the caller owns the returned handle.
func (s *Store) Load(ctx context.Context, p vpath.Path) (*Object, error) {
	if p.IsIndex() {
		return nil, fmt.Errorf("%w: cannot load an index path: %s", ErrInvalidArgument, p)
	}
	for _, m := range s.snapshot() {
		rel, ok := p.StripPrefix(m.Prefix)
		if !ok {
			continue
		}
		obj, err := m.Layer.Load(ctx, rel)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("%w: load %s: %v", ErrStorage, p, err)
		}
		return obj, nil
	}
	return nil, ErrNotFound
}

// PutOptions control serialization and patch behavior of Put.
type PutOptions struct {
	// Format overrides the codec inferred from the path extension.
	Format string
	// Update merges dictionary keys into the existing object instead of
	// replacing it; nil-valued keys delete.
	Update bool
}

// Put writes an object to the highest-priority writable mount covering
// the path. A nil object is a delete. Update-patches against a missing
// object fail with ErrNotFound.
func (s *Store) Put(ctx context.Context, p vpath.Path, obj *Object, opts PutOptions) error {
	if p.IsIndex() {
		return fmt.Errorf("%w: cannot store at an index path: %s", ErrInvalidArgument, p)
	}
	if obj == nil {
		_, err := s.Remove(ctx, p)
		return err
	}

	if opts.Format != "" {
		c, ok := codec.ByName(opts.Format)
		if !ok {
			return fmt.Errorf("%w: %s: %s", ErrInvalidArgument, codec.ErrUnknownFormat, opts.Format)
		}
		obj.MIME = c.MIME()
	}

	if opts.Update {
		patch, err := obj.PersistDict()
		if err != nil {
			return err
		}
		existing, err := s.Load(ctx, p)
		if err != nil {
			return fmt.Errorf("update %s: %w", p, err)
		}
		base, err := existing.PersistDict()
		if err != nil {
			return err
		}
		merged := NewDict(mergePatch(base, patch))
		merged.MIME = obj.MIME
		obj = merged
	}

	for _, m := range s.snapshot() {
		if !m.Writable {
			continue
		}
		rel, ok := p.StripPrefix(m.Prefix)
		if !ok {
			continue
		}
		if err := m.Layer.Store(ctx, rel, obj); err != nil {
			if errors.Is(err, ErrReadOnly) || errors.Is(err, ErrInvalidArgument) {
				return err
			}
			return fmt.Errorf("%w: store %s: %v", ErrStorage, p, err)
		}
		return nil
	}
	return fmt.Errorf("%w: %s", ErrReadOnly, p)
}

// Remove deletes at or below the path from writable mounts only. It
// reports false when nothing local existed; read-only objects in lower
// layers are unaffected and remain visible.
func (s *Store) Remove(ctx context.Context, p vpath.Path) (bool, error) {
	removed := false
	for _, m := range s.snapshot() {
		if !m.Writable {
			continue
		}
		if rel, ok := p.StripPrefix(m.Prefix); ok {
			ok2, err := m.Layer.Remove(ctx, rel)
			if err != nil && !errors.Is(err, ErrNotFound) {
				return removed, fmt.Errorf("%w: remove %s: %v", ErrStorage, p, err)
			}
			removed = removed || ok2
			continue
		}
		// A writable mount wholly below an index path is cleared.
		if p.IsIndex() && m.Prefix.HasPrefix(p) {
			ok2, err := m.Layer.Remove(ctx, vpath.Root)
			if err != nil && !errors.Is(err, ErrNotFound) {
				return removed, fmt.Errorf("%w: remove %s: %v", ErrStorage, p, err)
			}
			removed = removed || ok2
		}
	}
	return removed, nil
}

// child is one merged, deduplicated entry of an index listing.
type child struct {
	name  string
	index bool
	meta  *Metadata
	mount *Mount
}

// list merges the direct children of an index path across all layers.
// Deduplication is by exact name, first highest-priority layer wins.
// Mount prefixes strictly below the index contribute synthetic index
// children.
func (s *Store) list(ctx context.Context, mounts []*Mount, p vpath.Path) ([]child, []vpath.Path, error) {
	seen := map[string]int{}
	var out []child
	var contributing []vpath.Path

	add := func(c child, prefix vpath.Path) {
		i, dup := seen[c.name]
		if dup {
			// An index child stays an index even if a lower layer has
			// an object of the same name.
			if c.index && !out[i].index {
				out[i].index = true
			}
			return
		}
		seen[c.name] = len(out)
		out = append(out, c)
		for _, cp := range contributing {
			if cp.Equal(prefix) {
				return
			}
		}
		contributing = append(contributing, prefix)
	}

	for _, m := range mounts {
		if rel, ok := p.StripPrefix(m.Prefix); ok {
			entries, err := m.Layer.List(ctx, rel.AsIndex())
			if err != nil && !errors.Is(err, ErrNotFound) {
				return nil, nil, fmt.Errorf("%w: list %s: %v", ErrStorage, p, err)
			}
			for _, e := range entries {
				var md *Metadata
				if e.Meta != nil {
					abs := *e.Meta
					abs.Path = p.Child(e.Name)
					abs.Mounts = []vpath.Path{m.Prefix}
					md = &abs
				}
				add(child{name: e.Name, index: e.Index, meta: md, mount: m}, m.Prefix)
			}
			continue
		}
		// Mount attached deeper than the index: its first segment below
		// p appears as an index child.
		if m.Prefix.HasPrefix(p) && m.Prefix.Depth() > p.Depth() {
			name := m.Prefix.Segments()[p.Depth()]
			add(child{name: name, index: true, mount: m}, m.Prefix)
		}
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].name < out[j].name })
	return out, contributing, nil
}

// mergePatch merges patch into base, recursing into nested dictionaries.
// A nil patch value deletes the key. The inputs are not mutated.
func mergePatch(base, patch map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(base))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range patch {
		if v == nil {
			delete(out, k)
			continue
		}
		if pm, ok := v.(map[string]interface{}); ok {
			if bm, ok := out[k].(map[string]interface{}); ok {
				out[k] = mergePatch(bm, pm)
				continue
			}
		}
		out[k] = v
	}
	return out
}
