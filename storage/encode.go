package storage

import (
	"fmt"
	"io"

	"github.com/substratehq/substrate/internal/vpath"
	"github.com/substratehq/substrate/storage/codec"
)

// EncodeObject serializes an object for byte-oriented layers. The codec
// is chosen by the object's MIME type when set (a caller format hint),
// else by the path extension, defaulting to JSON. Binary payloads pass
// through untouched.
func EncodeObject(rel vpath.Path, obj *Object) (data []byte, kind Kind, mime string, err error) {
	if obj.Kind == KindBinary {
		b, err := io.ReadAll(obj.Reader)
		if cerr := obj.Reader.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			return nil, KindBinary, "", fmt.Errorf("%w: read payload: %v", ErrStorage, err)
		}
		return b, KindBinary, obj.MIME, nil
	}

	dict, err := obj.PersistDict()
	if err != nil {
		return nil, 0, "", err
	}

	c, ok := codec.ByMIME(obj.MIME)
	if !ok {
		c, ok = codec.ByExt(rel.Ext())
	}
	if !ok {
		c, _ = codec.ByName("json")
	}

	b, err := c.Marshal(dict)
	if err != nil {
		return nil, 0, "", fmt.Errorf("%w: encode %s: %v", ErrInvalidArgument, rel, err)
	}
	return b, KindDict, c.MIME(), nil
}

// DecodeObject is the inverse of EncodeObject.
func DecodeObject(rel vpath.Path, data []byte, kind Kind, mime string) (*Object, error) {
	if kind == KindBinary {
		return NewBinaryBytes(data, mime), nil
	}

	c, ok := codec.ByMIME(mime)
	if !ok {
		c, ok = codec.ByExt(rel.Ext())
	}
	if !ok {
		c, _ = codec.ByName("json")
	}

	dict, err := c.Unmarshal(data)
	if err != nil {
		return nil, fmt.Errorf("%w: decode %s: %v", ErrStorage, rel, err)
	}
	obj := NewDict(dict)
	obj.MIME = c.MIME()
	obj.Size = int64(len(data))
	return obj, nil
}
