package sessions

import (
	"context"
	"sync"
	"time"
)

// MemoryManager keeps sessions in process memory. Suitable for a single
// embedding process; sessions are not reused across processes.
type MemoryManager struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewMemoryManager creates an empty in-memory session manager.
func NewMemoryManager() *MemoryManager {
	return &MemoryManager{sessions: make(map[string]*Session)}
}

func (m *MemoryManager) Establish(_ context.Context, id, remoteAddr, userAgent string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if s, ok := m.sessions[id]; ok {
		s.Touch()
		return copySession(s), nil
	}
	now := time.Now()
	s := &Session{
		ID:         id,
		Created:    now,
		LastAccess: now,
		RemoteAddr: remoteAddr,
		UserAgent:  userAgent,
		Uploads:    map[string]string{},
	}
	m.sessions[id] = s
	return copySession(s), nil
}

func (m *MemoryManager) Get(_ context.Context, id string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return copySession(s), nil
}

func (m *MemoryManager) Save(_ context.Context, s *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[s.ID]; !ok {
		return ErrSessionNotFound
	}
	m.sessions[s.ID] = copySession(s)
	return nil
}

func (m *MemoryManager) Invalidate(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, id)
	return nil
}

func (m *MemoryManager) ExpireBefore(_ context.Context, cutoff time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for id, s := range m.sessions {
		if s.LastAccess.Before(cutoff) {
			delete(m.sessions, id)
			n++
		}
	}
	return n, nil
}

func (m *MemoryManager) Close() error { return nil }

func copySession(s *Session) *Session {
	out := *s
	out.Uploads = make(map[string]string, len(s.Uploads))
	for k, v := range s.Uploads {
		out.Uploads[k] = v
	}
	return &out
}
