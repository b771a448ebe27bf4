// Package codec provides the serialization codecs the virtual store uses
// to persist dictionary objects. A codec converts between the generic
// dictionary form and a byte representation; the format is selected by
// path extension or an explicit format name.
package codec

import (
	"errors"
	"strings"
)

// ErrUnknownFormat is returned when no codec matches the requested
// format, extension or MIME type.
var ErrUnknownFormat = errors.New("unknown serialization format")

// Codec converts between the generic dictionary form and bytes.
type Codec interface {
	// Marshal serializes a dictionary.
	Marshal(data map[string]interface{}) ([]byte, error)

	// Unmarshal parses bytes into a dictionary.
	Unmarshal(b []byte) (map[string]interface{}, error)

	// Name returns the format name used for explicit format selection.
	Name() string

	// Ext returns the canonical file extension without the dot.
	Ext() string

	// MIME returns the media type produced by Marshal.
	MIME() string
}

var registry = []Codec{
	jsonCodec{},
	yamlCodec{},
	propertiesCodec{},
	xmlCodec{},
}

// ByName resolves a codec by explicit format name ("json", "yaml", ...).
func ByName(name string) (Codec, bool) {
	name = strings.ToLower(name)
	for _, c := range registry {
		if c.Name() == name {
			return c, true
		}
	}
	// Common aliases.
	switch name {
	case "yml":
		return yamlCodec{}, true
	case "props":
		return propertiesCodec{}, true
	}
	return nil, false
}

// ByExt resolves a codec by file extension without the dot.
func ByExt(ext string) (Codec, bool) {
	ext = strings.ToLower(ext)
	for _, c := range registry {
		if c.Ext() == ext {
			return c, true
		}
	}
	if ext == "yml" {
		return yamlCodec{}, true
	}
	return nil, false
}

// ByMIME resolves a codec by media type, ignoring parameters.
func ByMIME(mime string) (Codec, bool) {
	if i := strings.Index(mime, ";"); i >= 0 {
		mime = mime[:i]
	}
	mime = strings.TrimSpace(strings.ToLower(mime))
	for _, c := range registry {
		if c.MIME() == mime {
			return c, true
		}
	}
	return nil, false
}

// mimeByExt maps extensions of pass-through binary payloads in addition
// to the codec formats.
var mimeByExt = map[string]string{
	"json":       "application/json",
	"yaml":       "application/yaml",
	"yml":        "application/yaml",
	"properties": "text/x-java-properties",
	"xml":        "application/xml",
	"txt":        "text/plain",
	"md":         "text/markdown",
	"html":       "text/html",
	"css":        "text/css",
	"js":         "text/javascript",
	"csv":        "text/csv",
	"png":        "image/png",
	"jpg":        "image/jpeg",
	"jpeg":       "image/jpeg",
	"gif":        "image/gif",
	"svg":        "image/svg+xml",
	"pdf":        "application/pdf",
	"zip":        "application/zip",
}

// MIMEForExt infers a media type from a file extension, falling back to
// application/octet-stream.
func MIMEForExt(ext string) string {
	if m, ok := mimeByExt[strings.ToLower(ext)]; ok {
		return m
	}
	return "application/octet-stream"
}
