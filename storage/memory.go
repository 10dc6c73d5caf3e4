package storage

import (
	"context"
	"sync"

	"golang.org/x/exp/maps"
)

// MemoryProvider keeps items in process memory. It is the default provider.
type MemoryProvider struct {
	mu    sync.RWMutex
	items map[string]string
}

func NewMemoryProvider() *MemoryProvider {
	return &MemoryProvider{items: map[string]string{}}
}

func (m *MemoryProvider) Ready(context.Context) error { return nil }

func (m *MemoryProvider) IsReadySync() bool { return true }

func (m *MemoryProvider) GetItem(_ context.Context, key string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.items[key]
	if !ok {
		return "", ErrNotFound
	}
	return v, nil
}

func (m *MemoryProvider) SetItem(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[key] = value
	return nil
}

func (m *MemoryProvider) RemoveItem(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.items, key)
	return nil
}

func (m *MemoryProvider) GetAllKeys(context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return maps.Keys(m.items), nil
}

func (m *MemoryProvider) Close() error { return nil }
