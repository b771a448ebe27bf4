// Package memory provides the map-backed layer used as the default
// writable mount. Objects are held as encoded bytes so loads hand out
// copies, never the stored form.
package memory

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/substratehq/substrate/internal/vpath"
	"github.com/substratehq/substrate/storage"
	"github.com/substratehq/substrate/storage/codec"
)

type record struct {
	data     []byte
	kind     storage.Kind
	mime     string
	modified time.Time
}

// Layer is an in-memory object layer keyed by canonical object path.
type Layer struct {
	mu      sync.RWMutex
	objects map[string]record
}

// New creates an empty in-memory layer.
func New() *Layer {
	return &Layer{objects: make(map[string]record)}
}

func (l *Layer) Load(_ context.Context, rel vpath.Path) (*storage.Object, error) {
	l.mu.RLock()
	rec, ok := l.objects[rel.AsObject().String()]
	l.mu.RUnlock()
	if !ok {
		return nil, storage.ErrNotFound
	}
	data := make([]byte, len(rec.data))
	copy(data, rec.data)
	return storage.DecodeObject(rel, data, rec.kind, rec.mime)
}

func (l *Layer) Store(_ context.Context, rel vpath.Path, obj *storage.Object) error {
	data, kind, mime, err := storage.EncodeObject(rel, obj)
	if err != nil {
		return err
	}
	l.mu.Lock()
	l.objects[rel.AsObject().String()] = record{
		data:     data,
		kind:     kind,
		mime:     mime,
		modified: time.Now(),
	}
	l.mu.Unlock()
	return nil
}

func (l *Layer) Remove(_ context.Context, rel vpath.Path) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !rel.IsIndex() {
		key := rel.String()
		if _, ok := l.objects[key]; !ok {
			return false, nil
		}
		delete(l.objects, key)
		return true, nil
	}

	prefix := rel.String()
	removed := false
	for key := range l.objects {
		if prefix == "/" || strings.HasPrefix(key, prefix) {
			delete(l.objects, key)
			removed = true
		}
	}
	return removed, nil
}

func (l *Layer) List(_ context.Context, rel vpath.Path) ([]storage.Entry, error) {
	prefix := rel.AsIndex().String()

	l.mu.RLock()
	defer l.mu.RUnlock()

	seen := map[string]bool{}
	var entries []storage.Entry
	for key, rec := range l.objects {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		rest := key[len(prefix):]
		if i := strings.Index(rest, vpath.Separator); i >= 0 {
			name := rest[:i]
			if !seen[name] {
				seen[name] = true
				entries = append(entries, storage.Entry{Name: name, Index: true})
			}
			continue
		}
		if !seen[rest] {
			seen[rest] = true
			p, err := vpath.Parse(key)
			if err != nil {
				continue
			}
			entries = append(entries, storage.Entry{Name: rest, Meta: l.statLocked(p, rec)})
		}
	}
	return entries, nil
}

func (l *Layer) Stat(_ context.Context, rel vpath.Path) (*storage.Metadata, error) {
	l.mu.RLock()
	rec, ok := l.objects[rel.AsObject().String()]
	l.mu.RUnlock()
	if !ok {
		return nil, storage.ErrNotFound
	}
	return l.statLocked(rel, rec), nil
}

func (l *Layer) statLocked(rel vpath.Path, rec record) *storage.Metadata {
	md := &storage.Metadata{
		Path:     rel,
		Size:     int64(len(rec.data)),
		Modified: rec.modified,
	}
	if rec.kind == storage.KindBinary {
		md.Category = storage.CategoryBinary
		md.MIME = rec.mime
		md.Class = "[]byte"
	} else {
		md.Category = storage.CategoryObject
		md.MIME = rec.mime
		if md.MIME == "" {
			md.MIME = codec.MIMEForExt(rel.Ext())
		}
		md.Class = "map[string]interface{}"
	}
	return md
}

func (l *Layer) Close() error { return nil }
