package otp

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is a process-local Store for tests and single-node setups
type MemoryStore struct {
	mu    sync.Mutex
	codes map[string]memoryCode

	// Now is overridable in tests
	Now func() time.Time
}

type memoryCode struct {
	code      string
	expiresAt time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		codes: make(map[string]memoryCode),
		Now:   time.Now,
	}
}

func (s *MemoryStore) Save(_ context.Context, key string, code string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.codes[key] = memoryCode{code: code, expiresAt: s.Now().Add(ttl)}
	return nil
}

func (s *MemoryStore) Get(_ context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.codes[key]
	if !ok || s.Now().After(c.expiresAt) {
		delete(s.codes, key)
		return "", ErrCodeNotFound
	}

	return c.code, nil
}

func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.codes, key)
	return nil
}
