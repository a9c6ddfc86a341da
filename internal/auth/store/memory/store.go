package memory

import (
	"context"
	"sync"

	"gabizap/pkg/platform/sentinel"
)

// Store keeps the token in process memory. It does not survive a restart and exists
// for tests and ephemeral CLI runs.
type Store struct {
	mu    sync.RWMutex
	token string
}

func New() *Store {
	return &Store{}
}

func (s *Store) Load(_ context.Context) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.token == "" {
		return "", sentinel.ErrNotFound
	}
	return s.token, nil
}

func (s *Store) Save(_ context.Context, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = token
	return nil
}

func (s *Store) Delete(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = ""
	return nil
}
