package call

import (
	"fmt"

	"github.com/substratehq/substrate/storage"
)

// Binding types understood by argument resolution.
const (
	TypeString = "string"
	TypeInt    = "int"
	TypeFloat  = "float"
	TypeBool   = "bool"
	TypeDict   = "dict"
	TypeAny    = "any"
)

// Binding is a named, typed argument slot declared by a procedure.
type Binding struct {
	Name        string      `json:"name"`
	Type        string      `json:"type"`
	Default     interface{} `json:"default,omitempty"`
	Description string      `json:"description,omitempty"`
	Required    bool        `json:"required,omitempty"`
}

// Args holds resolved binding values plus any extra named options from
// a trailing options dictionary.
type Args struct {
	values map[string]interface{}
}

// Get returns a resolved value by binding or option name.
func (a *Args) Get(name string) (interface{}, bool) {
	v, ok := a.values[name]
	return v, ok
}

// String returns a string value, or def when absent.
func (a *Args) String(name, def string) string {
	if v, ok := a.values[name]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return def
}

// Int returns an integer value, or def when absent.
func (a *Args) Int(name string, def int) int {
	v, ok := a.values[name]
	if !ok {
		return def
	}
	if n, ok := toInt(v); ok {
		return n
	}
	return def
}

// Bool returns a boolean value, or def when absent.
func (a *Args) Bool(name string, def bool) bool {
	if v, ok := a.values[name]; ok {
		if b, ok := v.(bool); ok {
			return b
		}
	}
	return def
}

// Dict returns a dictionary value, or nil when absent.
func (a *Args) Dict(name string) map[string]interface{} {
	if v, ok := a.values[name]; ok {
		if d, ok := v.(map[string]interface{}); ok {
			return d
		}
	}
	return nil
}

// Map returns a copy of all resolved values.
func (a *Args) Map() map[string]interface{} {
	out := make(map[string]interface{}, len(a.values))
	for k, v := range a.values {
		out[k] = v
	}
	return out
}

// BindArgs resolves call arguments into declared binding slots.
// Arguments are positional, matched by order; a trailing dictionary
// supplies named options. Unknown option names are kept as extras.
func BindArgs(bindings []Binding, args []interface{}) (*Args, error) {
	var named map[string]interface{}
	if n := len(args); n > 0 {
		if d, ok := args[n-1].(map[string]interface{}); ok {
			// A trailing dictionary is named options only when it
			// overflows the binding list or its slot cannot hold a
			// dictionary. Otherwise it binds positionally.
			if n > len(bindings) || !dictSlot(bindings[n-1].Type) {
				named = d
				args = args[:n-1]
			}
		}
	}
	if len(args) > len(bindings) {
		return nil, fmt.Errorf("%w: %d arguments for %d bindings", storage.ErrInvalidArgument, len(args), len(bindings))
	}

	values := make(map[string]interface{}, len(bindings)+len(named))
	for i, b := range bindings {
		var v interface{}
		present := false
		if i < len(args) {
			v, present = args[i], true
		} else if nv, ok := named[b.Name]; ok {
			v, present = nv, true
		}

		if !present {
			if b.Default != nil {
				values[b.Name] = b.Default
				continue
			}
			if b.Required {
				return nil, fmt.Errorf("%w: missing required binding %q", storage.ErrInvalidArgument, b.Name)
			}
			continue
		}

		coerced, err := coerce(v, b.Type)
		if err != nil {
			return nil, fmt.Errorf("%w: binding %q: %v", storage.ErrInvalidArgument, b.Name, err)
		}
		values[b.Name] = coerced
	}

	// Extra named options ride along for procedures that take open
	// option sets.
	for k, v := range named {
		if _, ok := values[k]; !ok {
			values[k] = v
		}
	}
	return &Args{values: values}, nil
}

// dictSlot reports whether a binding slot accepts a dictionary value.
func dictSlot(typ string) bool {
	return typ == TypeDict || typ == TypeAny || typ == ""
}

func coerce(v interface{}, typ string) (interface{}, error) {
	switch typ {
	case TypeAny, "":
		return v, nil
	case TypeString:
		if s, ok := v.(string); ok {
			return s, nil
		}
		return nil, fmt.Errorf("expected string, got %T", v)
	case TypeInt:
		if n, ok := toInt(v); ok {
			return n, nil
		}
		return nil, fmt.Errorf("expected int, got %T", v)
	case TypeFloat:
		switch n := v.(type) {
		case float64:
			return n, nil
		case float32:
			return float64(n), nil
		case int:
			return float64(n), nil
		case int64:
			return float64(n), nil
		}
		return nil, fmt.Errorf("expected float, got %T", v)
	case TypeBool:
		if b, ok := v.(bool); ok {
			return b, nil
		}
		return nil, fmt.Errorf("expected bool, got %T", v)
	case TypeDict:
		if d, ok := v.(map[string]interface{}); ok {
			return d, nil
		}
		return nil, fmt.Errorf("expected dict, got %T", v)
	default:
		return nil, fmt.Errorf("unknown binding type %q", typ)
	}
}

func toInt(v interface{}) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		if n == float64(int(n)) {
			return int(n), true
		}
	case float32:
		if n == float32(int(n)) {
			return int(n), true
		}
	}
	return 0, false
}
