// Package users provides the authenticated principal type and its
// storage-backed persistence. Passwords are stored as bcrypt hashes;
// the external dictionary view never includes credentials.
package users

import (
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// User is an authenticated principal. Roles reference role definitions
// by id; deleting a role elsewhere does not touch the user.
type User struct {
	ID           string                 `json:"id"`
	PasswordHash string                 `json:"-"`
	Token        string                 `json:"-"`
	Enabled      bool                   `json:"enabled"`
	Roles        []string               `json:"roles"`
	Settings     map[string]interface{} `json:"settings"`
}

// SubjectID implements access.Subject.
func (u *User) SubjectID() string { return u.ID }

// RoleIDs implements access.Subject.
func (u *User) RoleIDs() []string { return u.Roles }

// SetPassword replaces the stored credential with a bcrypt hash.
func (u *User) SetPassword(password string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}
	u.PasswordHash = string(hash)
	return nil
}

// CheckPassword verifies a password against the stored hash.
func (u *User) CheckPassword(password string) bool {
	if u.PasswordHash == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)) == nil
}

// ToDict is the sterilized external view: credentials are always
// hidden, computed adds derived flags.
func (u *User) ToDict(computed bool) map[string]interface{} {
	roles := make([]interface{}, len(u.Roles))
	for i, r := range u.Roles {
		roles[i] = r
	}
	d := map[string]interface{}{
		"id":       u.ID,
		"enabled":  u.Enabled,
		"roles":    roles,
		"settings": u.Settings,
	}
	if computed {
		d["hasPassword"] = u.PasswordHash != ""
		d["hasToken"] = u.Token != ""
	}
	return d
}

// StoreDict is the canonical persisted form, credentials included.
func (u *User) StoreDict() map[string]interface{} {
	d := u.ToDict(false)
	d["passwordHash"] = u.PasswordHash
	d["token"] = u.Token
	return d
}

// FromDict rebuilds the user from its stored form.
func (u *User) FromDict(data map[string]interface{}) error {
	id, _ := data["id"].(string)
	if id == "" {
		return fmt.Errorf("user dictionary has no id")
	}
	u.ID = id
	u.Enabled, _ = data["enabled"].(bool)
	u.PasswordHash, _ = data["passwordHash"].(string)
	u.Token, _ = data["token"].(string)

	u.Roles = nil
	if raw, ok := data["roles"].([]interface{}); ok {
		for _, r := range raw {
			if s, ok := r.(string); ok {
				u.Roles = append(u.Roles, s)
			}
		}
	}
	if settings, ok := data["settings"].(map[string]interface{}); ok {
		u.Settings = settings
	} else {
		u.Settings = map[string]interface{}{}
	}
	return nil
}
