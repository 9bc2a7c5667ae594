package store

import (
	"context"
	"sync"
)

// MemoryStore keeps state in process memory. Used by tests and by hosts
// that opt out of persistence entirely.
type MemoryStore struct {
	mu          sync.RWMutex
	session     []byte
	hasSession  bool
	challengeID string
	hasID       bool
}

func NewMemory() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) SaveSession(_ context.Context, blob []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.session = append([]byte(nil), blob...)
	s.hasSession = true
	return nil
}

func (s *MemoryStore) LoadSession(_ context.Context) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.hasSession {
		return nil, ErrNotFound
	}
	return append([]byte(nil), s.session...), nil
}

func (s *MemoryStore) DeleteSession(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.session = nil
	s.hasSession = false
	return nil
}

func (s *MemoryStore) SaveChallengeID(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.challengeID = id
	s.hasID = true
	return nil
}

func (s *MemoryStore) LoadChallengeID(_ context.Context) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.hasID {
		return "", ErrNotFound
	}
	return s.challengeID, nil
}

func (s *MemoryStore) DeleteChallengeID(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.challengeID = ""
	s.hasID = false
	return nil
}
