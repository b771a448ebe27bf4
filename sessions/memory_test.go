package sessions

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestEstablishCreatesOnce(t *testing.T) {
	m := NewMemoryManager()
	ctx := context.Background()

	s1, err := m.Establish(ctx, "sid-1", "10.0.0.1", "agent")
	if err != nil {
		t.Fatalf("Establish: %v", err)
	}
	if s1.RemoteAddr != "10.0.0.1" || s1.Authenticated() {
		t.Errorf("new session = %+v", s1)
	}

	s2, err := m.Establish(ctx, "sid-1", "10.0.0.2", "other")
	if err != nil {
		t.Fatalf("Establish again: %v", err)
	}
	if s2.RemoteAddr != "10.0.0.1" {
		t.Error("second contact must reuse the existing session")
	}
}

func TestBindUser(t *testing.T) {
	m := NewMemoryManager()
	ctx := context.Background()

	s, _ := m.Establish(ctx, "sid", "addr", "agent")
	s.UserID = "alice"
	if err := m.Save(ctx, s); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, err := m.Get(ctx, "sid")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.UserID != "alice" || !got.Authenticated() {
		t.Errorf("session = %+v", got)
	}
}

func TestInvalidate(t *testing.T) {
	m := NewMemoryManager()
	ctx := context.Background()
	_, _ = m.Establish(ctx, "sid", "addr", "agent")

	if err := m.Invalidate(ctx, "sid"); err != nil {
		t.Fatalf("Invalidate: %v", err)
	}
	if _, err := m.Get(ctx, "sid"); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestExpireBefore(t *testing.T) {
	m := NewMemoryManager()
	ctx := context.Background()

	old, _ := m.Establish(ctx, "old", "addr", "agent")
	old.LastAccess = time.Now().Add(-2 * time.Hour)
	_ = m.Save(ctx, old)
	_, _ = m.Establish(ctx, "fresh", "addr", "agent")

	n, err := m.ExpireBefore(ctx, time.Now().Add(-time.Hour))
	if err != nil {
		t.Fatalf("ExpireBefore: %v", err)
	}
	if n != 1 {
		t.Errorf("expired %d sessions, want 1", n)
	}
	if _, err := m.Get(ctx, "old"); !errors.Is(err, ErrSessionNotFound) {
		t.Error("old session survived expiry")
	}
	if _, err := m.Get(ctx, "fresh"); err != nil {
		t.Errorf("fresh session expired: %v", err)
	}
}

func TestSaveUnknownSession(t *testing.T) {
	m := NewMemoryManager()
	err := m.Save(context.Background(), &Session{ID: "ghost"})
	if !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("expected ErrSessionNotFound, got %v", err)
	}
}
