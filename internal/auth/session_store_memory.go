package auth

import (
	"context"
	"sync"
	"time"
)

// MemorySessionStore keeps refresh sessions in process memory. It matches the
// Postgres store, including DeleteExpired, so the session sweeper and the
// handlers can run without a database.
type MemorySessionStore struct {
	mu       sync.RWMutex
	sessions map[string]Session
}

// NewMemorySessionStore returns an empty MemorySessionStore.
func NewMemorySessionStore() *MemorySessionStore {
	return &MemorySessionStore{sessions: make(map[string]Session)}
}

func (s *MemorySessionStore) Save(_ context.Context, session Session) error {
	if session.RefreshToken == "" {
		return ErrSessionNotFound
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[session.RefreshToken] = session
	return nil
}

func (s *MemorySessionStore) Find(_ context.Context, refreshToken string) (Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.sessions[refreshToken]
	if !ok {
		return Session{}, ErrSessionNotFound
	}
	return session, nil
}

func (s *MemorySessionStore) Delete(_ context.Context, refreshToken string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, refreshToken)
	return nil
}

// DeleteExpired removes sessions whose refresh token expired before now.
func (s *MemorySessionStore) DeleteExpired(_ context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var removed int64
	for token, session := range s.sessions {
		if session.ExpiresAt.Before(now) {
			delete(s.sessions, token)
			removed++
		}
	}
	return removed, nil
}

// Active lists the refresh tokens currently held for username.
func (s *MemorySessionStore) Active(username string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var tokens []string
	for token, session := range s.sessions {
		if session.Username == username {
			tokens = append(tokens, token)
		}
	}
	return tokens
}
