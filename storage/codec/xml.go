package codec

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"sort"
	"strings"
)

// xmlCodec serializes dictionaries as a flat element tree:
//
//	<object>
//	  <entry key="id">x</entry>
//	  <entry key="nested"><entry key="v">1</entry></entry>
//	</object>
//
// Values round-trip as strings; nested dictionaries nest entries.
type xmlCodec struct{}

func (xmlCodec) Marshal(data map[string]interface{}) ([]byte, error) {
	var buf bytes.Buffer
	enc := xml.NewEncoder(&buf)
	enc.Indent("", "  ")

	root := xml.StartElement{Name: xml.Name{Local: "object"}}
	if err := enc.EncodeToken(root); err != nil {
		return nil, err
	}
	if err := encodeEntries(enc, data); err != nil {
		return nil, err
	}
	if err := enc.EncodeToken(root.End()); err != nil {
		return nil, err
	}
	if err := enc.Flush(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func encodeEntries(enc *xml.Encoder, data map[string]interface{}) error {
	keys := make([]string, 0, len(data))
	for k := range data {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		start := xml.StartElement{
			Name: xml.Name{Local: "entry"},
			Attr: []xml.Attr{{Name: xml.Name{Local: "key"}, Value: k}},
		}
		if err := enc.EncodeToken(start); err != nil {
			return err
		}
		switch v := data[k].(type) {
		case map[string]interface{}:
			if err := encodeEntries(enc, v); err != nil {
				return err
			}
		case nil:
			// empty element
		default:
			if err := enc.EncodeToken(xml.CharData(fmt.Sprintf("%v", v))); err != nil {
				return err
			}
		}
		if err := enc.EncodeToken(start.End()); err != nil {
			return err
		}
	}
	return nil
}

func (xmlCodec) Unmarshal(b []byte) (map[string]interface{}, error) {
	dec := xml.NewDecoder(bytes.NewReader(b))
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			return map[string]interface{}{}, nil
		}
		if err != nil {
			return nil, fmt.Errorf("xml: %w", err)
		}
		if start, ok := tok.(xml.StartElement); ok {
			return decodeEntries(dec, start.Name)
		}
	}
}

func decodeEntries(dec *xml.Decoder, parent xml.Name) (map[string]interface{}, error) {
	out := map[string]interface{}{}
	var text strings.Builder

	for {
		tok, err := dec.Token()
		if err != nil {
			return nil, fmt.Errorf("xml: %w", err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			key := ""
			for _, a := range t.Attr {
				if a.Name.Local == "key" {
					key = a.Value
				}
			}
			if key == "" {
				key = t.Name.Local
			}
			child, err := decodeEntries(dec, t.Name)
			if err != nil {
				return nil, err
			}
			if v, ok := child[textKey]; ok && len(child) == 1 {
				out[key] = v
			} else if len(child) == 0 {
				out[key] = ""
			} else {
				delete(child, textKey)
				out[key] = child
			}
		case xml.CharData:
			text.Write(t)
		case xml.EndElement:
			if s := strings.TrimSpace(text.String()); s != "" && len(out) == 0 {
				out[textKey] = s
			}
			return out, nil
		}
	}
}

// textKey carries character data up one level during decoding; it never
// appears in the returned dictionary.
const textKey = "\x00text"

func (xmlCodec) Name() string { return "xml" }
func (xmlCodec) Ext() string  { return "xml" }
func (xmlCodec) MIME() string { return "application/xml" }
