package storage

import (
	"time"

	"github.com/substratehq/substrate/internal/vpath"
	"github.com/substratehq/substrate/storage/codec"
)

// Category classifies a stored item for metadata and query filtering.
type Category string

const (
	// CategoryObject marks structured (dictionary or typed) items.
	CategoryObject Category = "object"
	// CategoryBinary marks raw byte payloads.
	CategoryBinary Category = "binary"
	// CategoryIndex marks merged subtree listings.
	CategoryIndex Category = "index"
)

// IndexMIME is the media type reported for index paths.
const IndexMIME = "inode/directory"

// Metadata is the ephemeral descriptive record computed for a stored
// item at lookup/query time. It is never persisted; Mounts records the
// prefixes of every layer that contributed to it.
type Metadata struct {
	Path     vpath.Path   `json:"path"`
	Category Category     `json:"category"`
	MIME     string       `json:"mimeType"`
	Size     int64        `json:"size"`
	Modified time.Time    `json:"modified"`
	Class    string       `json:"class,omitempty"`
	Mounts   []vpath.Path `json:"-"`
}

// Dict returns the external dictionary form of the metadata.
func (m *Metadata) Dict() map[string]interface{} {
	mounts := make([]interface{}, 0, len(m.Mounts))
	for _, mp := range m.Mounts {
		mounts = append(mounts, mp.String())
	}
	return map[string]interface{}{
		"path":     m.Path.String(),
		"category": string(m.Category),
		"mimeType": m.MIME,
		"size":     m.Size,
		"modified": m.Modified.UTC().Format(time.RFC3339Nano),
		"class":    m.Class,
		"mounts":   mounts,
	}
}

// metadataFor computes metadata from an object at a path.
func metadataFor(p vpath.Path, o *Object, modified time.Time) *Metadata {
	md := &Metadata{
		Path:     p,
		Modified: modified,
		Class:    o.Class(),
	}
	switch o.Kind {
	case KindBinary:
		md.Category = CategoryBinary
		md.MIME = o.MIME
		md.Size = o.Size
	default:
		md.Category = CategoryObject
		md.MIME = codec.MIMEForExt(p.Ext())
		if _, ok := codec.ByExt(p.Ext()); !ok {
			md.MIME = "application/json"
		}
	}
	return md
}
