package session

import (
	"sync"
)

// Keys held in a Store. ExpiresAt is stored as decimal epoch milliseconds.
const (
	KeyAuthToken    = "auth_token"
	KeyRefreshToken = "refresh_token"
	KeyUserID       = "user_id"
	KeyExpiresAt    = "expires_at"
)

// Keys lists every key the Manager writes.
var Keys = []string{KeyAuthToken, KeyRefreshToken, KeyUserID, KeyExpiresAt}

// Store persists the session fields between calls. Get returns an empty string
// for a key that is not set. Only the Manager writes to a Store.
type Store interface {
	Get(key string) (string, error)
	Set(key, value string) error
	Remove(key string) error
}

// NewMemoryStore returns a Store backed by an in-memory map.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{values: make(map[string]string)}
}

// MemoryStore implements Store for tests and one-shot processes.
type MemoryStore struct {
	mu     sync.RWMutex
	values map[string]string
}

// Get returns the value stored under key.
func (s *MemoryStore) Get(key string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.values[key], nil
}

// Set stores value under key.
func (s *MemoryStore) Set(key, value string) error {
	s.mu.Lock()
	s.values[key] = value
	s.mu.Unlock()
	return nil
}

// Remove deletes key.
func (s *MemoryStore) Remove(key string) error {
	s.mu.Lock()
	delete(s.values, key)
	s.mu.Unlock()
	return nil
}

// Len reports how many keys are set. Useful for tests.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.values)
}
