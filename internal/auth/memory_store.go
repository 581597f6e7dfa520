package auth

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps session state in-memory. It is safe for concurrent use and
// primarily intended for development or single-instance deployments.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]Record
}

// NewMemoryStore constructs an in-memory store implementation.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string]Record)}
}

// Save records the session details for the record's token.
func (s *MemoryStore) Save(record Record) error {
	folders := make([]string, len(record.Folders))
	copy(folders, record.Folders)
	record.Folders = folders
	s.mu.Lock()
	s.sessions[record.Token] = record
	s.mu.Unlock()
	return nil
}

// Get retrieves the session record for the provided token.
func (s *MemoryStore) Get(token string) (Record, bool, error) {
	s.mu.RLock()
	record, ok := s.sessions[token]
	s.mu.RUnlock()
	if !ok {
		return Record{}, false, nil
	}
	folders := make([]string, len(record.Folders))
	copy(folders, record.Folders)
	record.Folders = folders
	return record, true, nil
}

// Delete removes the session token from the store.
func (s *MemoryStore) Delete(token string) error {
	s.mu.Lock()
	delete(s.sessions, token)
	s.mu.Unlock()
	return nil
}

// PurgeExpired removes any expired sessions from the store.
func (s *MemoryStore) PurgeExpired(now time.Time) error {
	s.mu.Lock()
	for token, record := range s.sessions {
		if now.After(record.ExpiresAt) {
			delete(s.sessions, token)
		}
	}
	s.mu.Unlock()
	return nil
}

// Ping always reports success for the in-memory store.
func (s *MemoryStore) Ping(context.Context) error {
	return nil
}
