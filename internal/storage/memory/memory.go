// Package memory is an in-process storage driver. Contents are lost on restart.
package memory

import (
	"bytes"
	"context"
	"sync"

	"github.com/timbouc/cart/internal/storage"
)

// Driver is the name the memory driver registers under.
const Driver = "memory"

// Storage keeps cart snapshots in a map.
type Storage struct {
	mu   sync.RWMutex
	data map[string][]byte
}

var _ storage.Storage = (*Storage)(nil)

// New creates an empty memory storage.
func New() *Storage {
	return &Storage{data: make(map[string][]byte)}
}

// Factory builds a memory storage. It takes no config.
func Factory(any) (storage.Storage, error) {
	return New(), nil
}

func (s *Storage) Has(_ context.Context, key string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.data[key]
	return ok, nil
}

func (s *Storage) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.data[key]
	if !ok {
		return nil, storage.KeyNotFound(key)
	}
	return bytes.Clone(v), nil
}

func (s *Storage) Put(_ context.Context, key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = bytes.Clone(value)
	return nil
}

func (s *Storage) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, key)
	return nil
}

func (s *Storage) Clear(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	clear(s.data)
	return nil
}

// Len returns the number of stored sessions.
func (s *Storage) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}
