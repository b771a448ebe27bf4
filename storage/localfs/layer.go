// Package localfs provides a directory-backed layer, typically mounted
// read-only for plugin content. Files with a known codec extension are
// exposed as dictionary objects; everything else is binary.
package localfs

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/substratehq/substrate/internal/vpath"
	"github.com/substratehq/substrate/storage"
	"github.com/substratehq/substrate/storage/codec"
)

// Layer serves objects from a directory tree on the local filesystem.
type Layer struct {
	root     string
	readOnly bool
}

// New creates a layer over a directory. The directory is created when
// missing unless the layer is read-only.
func New(root string, readOnly bool) (*Layer, error) {
	if readOnly {
		if _, err := os.Stat(root); err != nil {
			return nil, fmt.Errorf("root path %s is not accessible: %w", root, err)
		}
	} else if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create root path %s: %w", root, err)
	}
	return &Layer{root: root, readOnly: readOnly}, nil
}

// fullPath maps a layer-relative path onto the root directory. Parsing
// already rejected traversal segments; this is a second boundary check.
func (l *Layer) fullPath(rel vpath.Path) (string, error) {
	joined := filepath.Join(l.root, filepath.FromSlash(rel.AsObject().String()))
	r, err := filepath.Rel(l.root, joined)
	if err != nil || r == ".." || filepath.IsAbs(r) || strings.HasPrefix(r, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: path escapes layer root: %s", storage.ErrInvalidArgument, rel)
	}
	return joined, nil
}

func (l *Layer) Load(_ context.Context, rel vpath.Path) (*storage.Object, error) {
	full, err := l.fullPath(rel)
	if err != nil {
		return nil, err
	}

	fi, err := os.Stat(full)
	if os.IsNotExist(err) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: stat %s: %v", storage.ErrStorage, rel, err)
	}
	if fi.IsDir() {
		return nil, storage.ErrNotFound
	}

	if c, ok := codec.ByExt(rel.Ext()); ok {
		b, err := os.ReadFile(full)
		if err != nil {
			return nil, fmt.Errorf("%w: read %s: %v", storage.ErrStorage, rel, err)
		}
		dict, err := c.Unmarshal(b)
		if err != nil {
			return nil, fmt.Errorf("%w: decode %s: %v", storage.ErrStorage, rel, err)
		}
		obj := storage.NewDict(dict)
		obj.MIME = c.MIME()
		obj.Size = fi.Size()
		return obj, nil
	}

	f, err := os.Open(full)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", storage.ErrStorage, rel, err)
	}
	return storage.NewBinary(f, fi.Size(), codec.MIMEForExt(rel.Ext())), nil
}

func (l *Layer) Store(_ context.Context, rel vpath.Path, obj *storage.Object) error {
	if l.readOnly {
		return storage.ErrReadOnly
	}
	full, err := l.fullPath(rel)
	if err != nil {
		return err
	}
	data, _, _, err := storage.EncodeObject(rel, obj)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return fmt.Errorf("%w: mkdir for %s: %v", storage.ErrStorage, rel, err)
	}
	if err := os.WriteFile(full, data, 0o644); err != nil {
		return fmt.Errorf("%w: write %s: %v", storage.ErrStorage, rel, err)
	}
	return nil
}

func (l *Layer) Remove(_ context.Context, rel vpath.Path) (bool, error) {
	if l.readOnly {
		return false, nil
	}
	full, err := l.fullPath(rel)
	if err != nil {
		return false, err
	}
	if _, err := os.Stat(full); os.IsNotExist(err) {
		return false, nil
	}
	if rel.IsIndex() {
		if err := os.RemoveAll(full); err != nil {
			return false, fmt.Errorf("%w: remove %s: %v", storage.ErrStorage, rel, err)
		}
		return true, nil
	}
	if err := os.Remove(full); err != nil {
		return false, fmt.Errorf("%w: remove %s: %v", storage.ErrStorage, rel, err)
	}
	return true, nil
}

func (l *Layer) List(_ context.Context, rel vpath.Path) ([]storage.Entry, error) {
	full, err := l.fullPath(rel)
	if err != nil {
		return nil, err
	}
	dirents, err := os.ReadDir(full)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: list %s: %v", storage.ErrStorage, rel, err)
	}

	entries := make([]storage.Entry, 0, len(dirents))
	for _, de := range dirents {
		if de.IsDir() {
			entries = append(entries, storage.Entry{Name: de.Name(), Index: true})
			continue
		}
		child := rel.AsIndex().Child(de.Name())
		md, err := l.statFile(child)
		if err != nil {
			continue
		}
		entries = append(entries, storage.Entry{Name: de.Name(), Meta: md})
	}
	return entries, nil
}

func (l *Layer) Stat(_ context.Context, rel vpath.Path) (*storage.Metadata, error) {
	return l.statFile(rel)
}

func (l *Layer) statFile(rel vpath.Path) (*storage.Metadata, error) {
	full, err := l.fullPath(rel)
	if err != nil {
		return nil, err
	}
	fi, err := os.Stat(full)
	if os.IsNotExist(err) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: stat %s: %v", storage.ErrStorage, rel, err)
	}
	if fi.IsDir() {
		return nil, storage.ErrNotFound
	}

	md := &storage.Metadata{
		Path:     rel,
		Size:     fi.Size(),
		Modified: fi.ModTime(),
	}
	if c, ok := codec.ByExt(rel.Ext()); ok {
		md.Category = storage.CategoryObject
		md.MIME = c.MIME()
		md.Class = "map[string]interface{}"
	} else {
		md.Category = storage.CategoryBinary
		md.MIME = codec.MIMEForExt(rel.Ext())
		md.Class = "[]byte"
	}
	return md, nil
}

func (l *Layer) Close() error { return nil }
