package codec

import (
	"testing"
)

func TestByNameAndExt(t *testing.T) {
	tests := []struct {
		lookup string
		byExt  bool
		want   string
		ok     bool
	}{
		{lookup: "json", want: "json", ok: true},
		{lookup: "yaml", want: "yaml", ok: true},
		{lookup: "yml", want: "yaml", ok: true},
		{lookup: "properties", want: "properties", ok: true},
		{lookup: "xml", want: "xml", ok: true},
		{lookup: "JSON", want: "json", ok: true},
		{lookup: "toml", ok: false},
		{lookup: "json", byExt: true, want: "json", ok: true},
		{lookup: "yml", byExt: true, want: "yaml", ok: true},
		{lookup: "png", byExt: true, ok: false},
	}

	for _, tt := range tests {
		var c Codec
		var ok bool
		if tt.byExt {
			c, ok = ByExt(tt.lookup)
		} else {
			c, ok = ByName(tt.lookup)
		}
		if ok != tt.ok {
			t.Errorf("lookup %q: ok = %v, want %v", tt.lookup, ok, tt.ok)
			continue
		}
		if ok && c.Name() != tt.want {
			t.Errorf("lookup %q: got codec %q, want %q", tt.lookup, c.Name(), tt.want)
		}
	}
}

func TestJSONRoundTrip(t *testing.T) {
	c, _ := ByName("json")
	in := map[string]interface{}{"id": "x", "v": 1.0, "nested": map[string]interface{}{"a": "b"}}

	b, err := c.Marshal(in)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	out, err := c.Unmarshal(b)
	if err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if out["id"] != "x" {
		t.Errorf("id = %v", out["id"])
	}
	nested, ok := out["nested"].(map[string]interface{})
	if !ok || nested["a"] != "b" {
		t.Errorf("nested = %v", out["nested"])
	}
}

func TestPropertiesRoundTrip(t *testing.T) {
	c, _ := ByName("properties")
	in := map[string]interface{}{
		"name": "demo",
		"db": map[string]interface{}{
			"host": "localhost",
			"port": 5432,
		},
	}

	b, err := c.Marshal(in)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	out, err := c.Unmarshal(b)
	if err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if out["name"] != "demo" {
		t.Errorf("name = %v", out["name"])
	}
	db, ok := out["db"].(map[string]interface{})
	if !ok {
		t.Fatalf("db not rebuilt as dictionary: %v", out["db"])
	}
	if db["host"] != "localhost" || db["port"] != "5432" {
		t.Errorf("db = %v", db)
	}
}

func TestPropertiesComments(t *testing.T) {
	c, _ := ByName("properties")
	out, err := c.Unmarshal([]byte("# comment\n! also comment\n\nkey=value\n"))
	if err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if len(out) != 1 || out["key"] != "value" {
		t.Errorf("out = %v", out)
	}
}

func TestXMLRoundTrip(t *testing.T) {
	c, _ := ByName("xml")
	in := map[string]interface{}{
		"id": "x",
		"nested": map[string]interface{}{
			"v": 1,
		},
	}

	b, err := c.Marshal(in)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	out, err := c.Unmarshal(b)
	if err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if out["id"] != "x" {
		t.Errorf("id = %v", out["id"])
	}
	nested, ok := out["nested"].(map[string]interface{})
	if !ok || nested["v"] != "1" {
		t.Errorf("nested = %v", out["nested"])
	}
}

func TestMIMEForExt(t *testing.T) {
	if got := MIMEForExt("json"); got != "application/json" {
		t.Errorf("json = %q", got)
	}
	if got := MIMEForExt("bin"); got != "application/octet-stream" {
		t.Errorf("bin = %q", got)
	}
}
