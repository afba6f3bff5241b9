package storage

import (
	"context"
	"errors"
	"maps"
	"strings"
	"sync"
)

type memoryStore struct {
	mu     sync.RWMutex
	state  map[string]IntegrationResult
	closed bool
}

// NewMemory returns a StateManager that forgets everything on restart.
func NewMemory() StateManager {
	return &memoryStore{state: map[string]IntegrationResult{}}
}

func (s *memoryStore) HasPreviousState(ctx context.Context, project string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.state[project]
	return ok, nil
}

func (s *memoryStore) LoadState(ctx context.Context, project string) (IntegrationResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.state[project]
	if !ok {
		return IntegrationResult{}, ErrNoState
	}
	r.Parameters = maps.Clone(r.Parameters)
	return r, nil
}

func (s *memoryStore) SaveState(ctx context.Context, r IntegrationResult) error {
	if strings.TrimSpace(r.Project) == "" {
		return errors.New("result has no project")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrDisabled
	}
	r.Parameters = maps.Clone(r.Parameters)
	s.state[r.Project] = r
	return nil
}

func (s *memoryStore) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}
