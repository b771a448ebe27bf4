package codec

import (
	"bufio"
	"bytes"
	"fmt"
	"sort"
	"strings"
)

// propertiesCodec implements the Java-style properties format. Nested
// dictionaries are flattened with dotted keys on write and rebuilt on
// read; all scalar values round-trip as strings.
type propertiesCodec struct{}

func (propertiesCodec) Marshal(data map[string]interface{}) ([]byte, error) {
	flat := map[string]string{}
	flatten("", data, flat)

	keys := make([]string, 0, len(flat))
	for k := range flat {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var buf bytes.Buffer
	for _, k := range keys {
		fmt.Fprintf(&buf, "%s=%s\n", escapeProp(k), escapeProp(flat[k]))
	}
	return buf.Bytes(), nil
}

func (propertiesCodec) Unmarshal(b []byte) (map[string]interface{}, error) {
	out := map[string]interface{}{}
	sc := bufio.NewScanner(bytes.NewReader(b))
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" || strings.HasPrefix(text, "#") || strings.HasPrefix(text, "!") {
			continue
		}
		eq := indexUnescaped(text, '=')
		if eq < 0 {
			eq = indexUnescaped(text, ':')
		}
		if eq < 0 {
			return nil, fmt.Errorf("properties: line %d: missing separator", line)
		}
		key := unescapeProp(strings.TrimSpace(text[:eq]))
		val := unescapeProp(strings.TrimSpace(text[eq+1:]))
		assignNested(out, strings.Split(key, "."), val)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("properties: %w", err)
	}
	return out, nil
}

func (propertiesCodec) Name() string { return "properties" }
func (propertiesCodec) Ext() string  { return "properties" }
func (propertiesCodec) MIME() string { return "text/x-java-properties" }

func flatten(prefix string, data map[string]interface{}, out map[string]string) {
	for k, v := range data {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		if sub, ok := v.(map[string]interface{}); ok {
			flatten(key, sub, out)
			continue
		}
		if v == nil {
			out[key] = ""
			continue
		}
		out[key] = fmt.Sprintf("%v", v)
	}
}

func assignNested(dst map[string]interface{}, keys []string, val string) {
	for len(keys) > 1 {
		sub, ok := dst[keys[0]].(map[string]interface{})
		if !ok {
			sub = map[string]interface{}{}
			dst[keys[0]] = sub
		}
		dst = sub
		keys = keys[1:]
	}
	dst[keys[0]] = val
}

func indexUnescaped(s string, sep byte) int {
	for i := 0; i < len(s); i++ {
		if s[i] == '\\' {
			i++
			continue
		}
		if s[i] == sep {
			return i
		}
	}
	return -1
}

func escapeProp(s string) string {
	r := strings.NewReplacer("\\", "\\\\", "=", "\\=", ":", "\\:", "\n", "\\n")
	return r.Replace(s)
}

func unescapeProp(s string) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] == '\\' && i+1 < len(s) {
			i++
			if s[i] == 'n' {
				b.WriteByte('\n')
			} else {
				b.WriteByte(s[i])
			}
			continue
		}
		b.WriteByte(s[i])
	}
	return b.String()
}
