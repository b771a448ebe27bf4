// Package sessions tracks web/API sessions: created on first contact,
// optionally bound to a user after authentication, invalidated
// explicitly or by expiry. Managers exist for in-process and Redis
// backed deployments.
package sessions

import (
	"context"
	"errors"
	"time"
)

// ErrSessionNotFound is returned for unknown or expired session ids.
var ErrSessionNotFound = errors.New("session not found")

// Session is one client session. Uploads maps upload names to the
// storage paths the transport parked them at.
type Session struct {
	ID         string            `json:"id"`
	Created    time.Time         `json:"created"`
	LastAccess time.Time         `json:"lastAccess"`
	RemoteAddr string            `json:"remoteAddr"`
	UserAgent  string            `json:"userAgent"`
	UserID     string            `json:"userId,omitempty"`
	Uploads    map[string]string `json:"uploads,omitempty"`
}

// Authenticated reports whether a user is bound to the session.
func (s *Session) Authenticated() bool { return s.UserID != "" }

// Touch updates the last-access timestamp.
func (s *Session) Touch() { s.LastAccess = time.Now() }

// Manager stores sessions. Establish creates on first contact and
// refreshes last-access on every subsequent call.
type Manager interface {
	// Establish returns the session with the given id, creating it
	// when unknown. Client metadata is recorded on creation.
	Establish(ctx context.Context, id, remoteAddr, userAgent string) (*Session, error)

	// Get returns an existing session or ErrSessionNotFound.
	Get(ctx context.Context, id string) (*Session, error)

	// Save persists changes to a session (user binding, uploads).
	Save(ctx context.Context, s *Session) error

	// Invalidate removes a session immediately.
	Invalidate(ctx context.Context, id string) error

	// ExpireBefore removes sessions not accessed since the cutoff and
	// returns how many were removed.
	ExpireBefore(ctx context.Context, cutoff time.Time) (int, error)

	// Close releases manager resources.
	Close() error
}
