package storage

import (
	"context"
	"sync"
)

// MemoryStorage keeps values in process memory. Nothing survives a restart;
// it backs tests and the "memory" driver.
type MemoryStorage struct {
	mu     sync.RWMutex
	values map[string][]byte
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		values: make(map[string][]byte),
	}
}

func (s *MemoryStorage) Get(ctx context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	value, exists := s.values[key]
	if !exists {
		return nil, ErrNotFound
	}
	return append([]byte(nil), value...), nil
}

func (s *MemoryStorage) Set(ctx context.Context, key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.values[key] = append([]byte(nil), value...)
	return nil
}

func (s *MemoryStorage) Close() error {
	// Nothing to close for in-memory storage
	return nil
}
