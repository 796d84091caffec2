package storage

import (
	"bytes"
	"context"
	"sync"

	"github.com/ruteri/election-ceremony-console/interfaces"
)

// MemoryStore keeps values in process memory. Contents are lost on exit.
type MemoryStore struct {
	mu     sync.RWMutex
	name   string
	values map[string][]byte
}

func NewMemoryStore(name string) *MemoryStore {
	return &MemoryStore{name: name, values: make(map[string][]byte)}
}

func (m *MemoryStore) Get(ctx context.Context, key string) ([]byte, error) {
	if err := validateKey(key); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	value, ok := m.values[key]
	if !ok {
		return nil, interfaces.ErrKeyNotFound
	}
	return bytes.Clone(value), nil
}

func (m *MemoryStore) Put(ctx context.Context, key string, value []byte) error {
	if err := validateKey(key); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = bytes.Clone(value)
	return nil
}

func (m *MemoryStore) Delete(ctx context.Context, key string) error {
	if err := validateKey(key); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.values, key)
	return nil
}

func (m *MemoryStore) Available(ctx context.Context) bool {
	return true
}

func (m *MemoryStore) Name() string {
	return "memory-" + m.name
}

func (m *MemoryStore) LocationURI() string {
	return "memory://" + m.name
}
