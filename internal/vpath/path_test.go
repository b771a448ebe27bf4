package vpath

import (
	"testing"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name        string
		input       string
		expected    string
		index       bool
		shouldError bool
	}{
		{
			name:     "empty is root",
			input:    "",
			expected: "/",
			index:    true,
		},
		{
			name:     "root",
			input:    "/",
			expected: "/",
			index:    true,
		},
		{
			name:     "object path",
			input:    "/data/x.json",
			expected: "/data/x.json",
		},
		{
			name:     "index path",
			input:    "/data/",
			expected: "/data/",
			index:    true,
		},
		{
			name:     "missing leading slash",
			input:    "data/x",
			expected: "/data/x",
		},
		{
			name:     "collapses repeated separators",
			input:    "//data///x",
			expected: "/data/x",
		},
		{
			name:        "dot segment",
			input:       "/data/./x",
			shouldError: true,
		},
		{
			name:        "dotdot segment",
			input:       "/data/../x",
			shouldError: true,
		},
		{
			name:        "nul byte",
			input:       "/data/\x00x",
			shouldError: true,
		},
		{
			name:        "control character",
			input:       "/da\nta",
			shouldError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := Parse(tt.input)
			if tt.shouldError {
				if err == nil {
					t.Fatalf("expected error for %q, got none", tt.input)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error for %q: %v", tt.input, err)
			}
			if p.String() != tt.expected {
				t.Errorf("Parse(%q).String() = %q, want %q", tt.input, p.String(), tt.expected)
			}
			if p.IsIndex() != tt.index {
				t.Errorf("Parse(%q).IsIndex() = %v, want %v", tt.input, p.IsIndex(), tt.index)
			}
		})
	}
}

func TestRoundTrip(t *testing.T) {
	inputs := []string{"/", "/a", "/a/", "/a/b/c.yaml", "/Procedures/http/Get"}
	for _, in := range inputs {
		p, err := Parse(in)
		if err != nil {
			t.Fatalf("Parse(%q): %v", in, err)
		}
		again, err := Parse(p.String())
		if err != nil {
			t.Fatalf("re-Parse(%q): %v", p.String(), err)
		}
		if !p.Equal(again) {
			t.Errorf("round trip of %q not stable: %q vs %q", in, p.String(), again.String())
		}
	}
}

func TestEqualIsCaseSensitive(t *testing.T) {
	a := MustParse("/Data/x")
	b := MustParse("/data/x")
	if a.Equal(b) {
		t.Error("identity comparison must be case-sensitive")
	}
	if a.MatchKey() != b.MatchKey() {
		t.Error("match keys must be case-insensitive")
	}
}

func TestTransformations(t *testing.T) {
	p := MustParse("/data/sub/x.json")

	if got := p.Parent().String(); got != "/data/sub/" {
		t.Errorf("Parent = %q", got)
	}
	if got := p.Sibling("y.json").String(); got != "/data/sub/y.json" {
		t.Errorf("Sibling = %q", got)
	}
	if got := p.Name(); got != "x.json" {
		t.Errorf("Name = %q", got)
	}
	if got := p.Ext(); got != "json" {
		t.Errorf("Ext = %q", got)
	}
	if got := p.AsIndex().String(); got != "/data/sub/x.json/" {
		t.Errorf("AsIndex = %q", got)
	}

	// Transformations never mutate the receiver.
	if p.String() != "/data/sub/x.json" {
		t.Errorf("receiver mutated: %q", p.String())
	}
}

func TestPrefixOps(t *testing.T) {
	base := MustParse("/data/")
	p := MustParse("/data/sub/x")

	if !p.HasPrefix(base) {
		t.Error("expected /data/ to be an ancestor of /data/sub/x")
	}
	if p.HasPrefix(MustParse("/other/")) {
		t.Error("unexpected ancestor match")
	}

	rel, ok := p.StripPrefix(base)
	if !ok || rel.String() != "/sub/x" {
		t.Errorf("StripPrefix = %q, %v", rel.String(), ok)
	}
	if got := base.Resolve(rel).String(); got != "/data/sub/x" {
		t.Errorf("Resolve = %q", got)
	}
}

func TestRootEdgeCases(t *testing.T) {
	if !Root.Parent().IsRoot() {
		t.Error("root parent must be root")
	}
	if Root.AsObject().IsIndex() != true {
		t.Error("root cannot become an object path")
	}
	if got := Root.Child("x").String(); got != "/x" {
		t.Errorf("root child = %q", got)
	}
}
