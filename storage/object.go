package storage

import (
	"bytes"
	"fmt"
	"io"
)

// Kind discriminates the stored object variants.
type Kind int

const (
	// KindDict is a generic dictionary object.
	KindDict Kind = iota
	// KindBinary is a sized, MIME-typed byte payload.
	KindBinary
	// KindTyped is a domain object convertible to/from dictionary form.
	KindTyped
)

func (k Kind) String() string {
	switch k {
	case KindDict:
		return "dict"
	case KindBinary:
		return "binary"
	case KindTyped:
		return "typed"
	}
	return "unknown"
}

// Storable is a domain entity that can be persisted through the store.
// ToDict is the sterilized external view: secret fields are always
// omitted and derived keys appear only when computed is set. StoreDict
// is the full canonical form layers persist; FromDict rebuilds the
// value from it.
type Storable interface {
	ToDict(computed bool) map[string]interface{}
	StoreDict() map[string]interface{}
	FromDict(data map[string]interface{}) error
}

// Object is the tagged-union value held at an object path. Exactly one
// of Dict, Typed or Reader is populated, selected by Kind.
type Object struct {
	Kind   Kind
	Dict   map[string]interface{}
	Typed  Storable
	Reader io.ReadCloser
	Size   int64
	MIME   string
}

// NewDict wraps a dictionary as a storable object.
func NewDict(data map[string]interface{}) *Object {
	return &Object{Kind: KindDict, Dict: data}
}

// NewTyped wraps a domain value as a storable object.
func NewTyped(v Storable) *Object {
	return &Object{Kind: KindTyped, Typed: v}
}

// NewBinary wraps a byte stream as a storable object. Size may be -1
// when unknown.
func NewBinary(r io.ReadCloser, size int64, mime string) *Object {
	if mime == "" {
		mime = "application/octet-stream"
	}
	return &Object{Kind: KindBinary, Reader: r, Size: size, MIME: mime}
}

// NewBinaryBytes wraps an in-memory payload as a binary object.
func NewBinaryBytes(b []byte, mime string) *Object {
	return NewBinary(io.NopCloser(bytes.NewReader(b)), int64(len(b)), mime)
}

// AsDict returns the dictionary form of the object. Typed objects are
// sterilized unless computed is set; binary objects have no dictionary
// form.
func (o *Object) AsDict(computed bool) (map[string]interface{}, error) {
	switch o.Kind {
	case KindDict:
		return o.Dict, nil
	case KindTyped:
		return o.Typed.ToDict(computed), nil
	default:
		return nil, fmt.Errorf("%w: binary object has no dictionary form", ErrInvalidArgument)
	}
}

// PersistDict returns the full canonical dictionary form used for
// persistence and update-patch merging. Unlike AsDict it includes the
// secret fields of typed objects.
func (o *Object) PersistDict() (map[string]interface{}, error) {
	switch o.Kind {
	case KindDict:
		return o.Dict, nil
	case KindTyped:
		return o.Typed.StoreDict(), nil
	default:
		return nil, fmt.Errorf("%w: binary object has no dictionary form", ErrInvalidArgument)
	}
}

// Class returns the concrete runtime type name recorded in metadata.
func (o *Object) Class() string {
	switch o.Kind {
	case KindTyped:
		return fmt.Sprintf("%T", o.Typed)
	case KindBinary:
		return "[]byte"
	default:
		return "map[string]interface{}"
	}
}

// Close releases a binary payload; it is a no-op for other kinds.
func (o *Object) Close() error {
	if o.Kind == KindBinary && o.Reader != nil {
		return o.Reader.Close()
	}
	return nil
}
