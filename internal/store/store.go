// Package store provides the host's session storage: short-lived tokens
// issued over HTTP and presented by websocket clients to bind a socket to
// a user identity.
//
// Currently only MemoryStore is implemented. For multi-instance
// deployments, implement Store with Redis or similar.
package store

import (
	"sync"
	"time"
)

// DefaultTTL is the session lifetime used when the configuration does not
// set one.
const DefaultTTL = 24 * time.Hour

// Store defines the interface for session storage.
type Store interface {
	// Set binds token to uid for the store's TTL.
	Set(token, uid string) error

	// Get resolves a token to a uid; false if absent or expired.
	Get(token string) (string, bool)

	// Delete revokes a token.
	Delete(token string) error

	// Close cleans up resources.
	Close() error
}

// MemoryStore is an in-memory Store with TTL expiry.
type MemoryStore struct {
	data     map[string]entry
	mu       sync.RWMutex
	ttl      time.Duration
	stopChan chan struct{}
	stopped  bool
}

type entry struct {
	uid       string
	expiresAt time.Time
}

// NewMemoryStore creates an in-memory session store. A non-positive ttl
// falls back to DefaultTTL.
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	s := &MemoryStore{
		data:     make(map[string]entry),
		ttl:      ttl,
		stopChan: make(chan struct{}),
	}

	go s.cleanup()

	return s
}

// Set binds token to uid.
func (s *MemoryStore) Set(token, uid string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return nil
	}

	s.data[token] = entry{
		uid:       uid,
		expiresAt: time.Now().Add(s.ttl),
	}
	return nil
}

// Get resolves token if it exists and has not expired.
func (s *MemoryStore) Get(token string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, exists := s.data[token]
	if !exists {
		return "", false
	}

	if time.Now().After(e.expiresAt) {
		return "", false
	}

	return e.uid, true
}

// Delete revokes a token.
func (s *MemoryStore) Delete(token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.data, token)
	return nil
}

// Close stops the cleanup goroutine and clears all sessions.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.stopped {
		s.stopped = true
		close(s.stopChan)
		s.data = nil
	}
	return nil
}

// cleanup periodically removes expired sessions.
func (s *MemoryStore) cleanup() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopChan:
			return
		case <-ticker.C:
			s.mu.Lock()
			if !s.stopped {
				now := time.Now()
				for token, e := range s.data {
					if now.After(e.expiresAt) {
						delete(s.data, token)
					}
				}
			}
			s.mu.Unlock()
		}
	}
}

// Ensure MemoryStore implements Store
var _ Store = (*MemoryStore)(nil)
