// Package access implements the role/permission engine. Roles own path
// pattern grants; an Authorizer resolves a subject's roles and checks
// grants against the target path, honoring indirect "via" constraints
// evaluated over the active call chain.
package access

import (
	"errors"
	"fmt"
	"strings"
)

// Built-in permission names. Custom permission names are evaluated
// identically.
const (
	PermRead   = "read"
	PermWrite  = "write"
	PermSearch = "search"
)

// Common access errors
var (
	// ErrAccessDenied is returned when no satisfied grant covers the
	// request.
	ErrAccessDenied = errors.New("access denied")

	// ErrRoleNotFound is returned when a role id does not resolve.
	ErrRoleNotFound = errors.New("role not found")
)

// Grant permits one permission on paths matching a pattern. Pattern
// segments may be literal, "*" (exactly one segment) or "**" (any
// subtree). A non-empty Via restricts the grant to call chains passing
// through the named procedure.
type Grant struct {
	Pattern    string `json:"pattern"`
	Permission string `json:"permission"`
	Via        string `json:"via,omitempty"`
}

// Role is a named, ordered set of grants. Roles are assigned to users
// by id and persisted in storage like any other object.
type Role struct {
	ID          string  `json:"id"`
	Description string  `json:"description,omitempty"`
	Grants      []Grant `json:"grants"`
}

// ToDict returns the external dictionary form. Roles carry no secret
// fields; computed adds the derived permission-name summary.
func (r *Role) ToDict(computed bool) map[string]interface{} {
	grants := make([]interface{}, len(r.Grants))
	for i, g := range r.Grants {
		gd := map[string]interface{}{
			"pattern":    g.Pattern,
			"permission": g.Permission,
		}
		if g.Via != "" {
			gd["via"] = g.Via
		}
		grants[i] = gd
	}
	d := map[string]interface{}{
		"id":          r.ID,
		"description": r.Description,
		"grants":      grants,
	}
	if computed {
		perms := map[string]bool{}
		for _, g := range r.Grants {
			perms[strings.ToLower(g.Permission)] = true
		}
		names := make([]interface{}, 0, len(perms))
		for p := range perms {
			names = append(names, p)
		}
		d["permissions"] = names
	}
	return d
}

// StoreDict returns the canonical persisted form.
func (r *Role) StoreDict() map[string]interface{} {
	return r.ToDict(false)
}

// FromDict rebuilds the role from its stored form.
func (r *Role) FromDict(data map[string]interface{}) error {
	id, _ := data["id"].(string)
	if id == "" {
		return fmt.Errorf("role dictionary has no id")
	}
	r.ID = id
	r.Description, _ = data["description"].(string)
	r.Grants = nil

	raw, _ := data["grants"].([]interface{})
	for i, g := range raw {
		gd, ok := g.(map[string]interface{})
		if !ok {
			return fmt.Errorf("role %s: grant %d is not a dictionary", id, i)
		}
		grant := Grant{}
		grant.Pattern, _ = gd["pattern"].(string)
		grant.Permission, _ = gd["permission"].(string)
		grant.Via, _ = gd["via"].(string)
		if grant.Pattern == "" || grant.Permission == "" {
			return fmt.Errorf("role %s: grant %d is missing pattern or permission", id, i)
		}
		r.Grants = append(r.Grants, grant)
	}
	return nil
}

// Subject is an authenticated principal seen by the authorizer. A nil
// Subject is the anonymous principal.
type Subject interface {
	SubjectID() string
	RoleIDs() []string
}
