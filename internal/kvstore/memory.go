package kvstore

import (
	"context"
	"sort"
	"strings"
	"sync"
)

// MemoryBackend is an in-process Backend. It is not durable.
type MemoryBackend struct {
	mu       sync.RWMutex
	data     map[string][]byte
	used     int64
	maxBytes int64
}

// NewMemoryBackend creates an empty backend. maxBytes <= 0 disables the quota;
// usage counts key plus value bytes.
func NewMemoryBackend(maxBytes int64) *MemoryBackend {
	return &MemoryBackend{
		data:     make(map[string][]byte),
		maxBytes: maxBytes,
	}
}

func (m *MemoryBackend) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[key]
	if !ok {
		return nil, ErrNotFound
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, nil
}

func (m *MemoryBackend) Set(_ context.Context, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var oldSize int64
	if old, ok := m.data[key]; ok {
		oldSize = int64(len(key) + len(old))
	}
	newSize := int64(len(key) + len(value))
	if err := CheckQuota(m.maxBytes, m.used, oldSize, newSize); err != nil {
		return err
	}

	v := make([]byte, len(value))
	copy(v, value)
	m.data[key] = v
	m.used += newSize - oldSize
	return nil
}

func (m *MemoryBackend) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if old, ok := m.data[key]; ok {
		m.used -= int64(len(key) + len(old))
		delete(m.data, key)
	}
	return nil
}

func (m *MemoryBackend) Keys(_ context.Context, prefix string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	keys := make([]string, 0, len(m.data))
	for k := range m.data {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// Used returns the bytes currently counted against the quota.
func (m *MemoryBackend) Used() int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.used
}

func (m *MemoryBackend) Close() error { return nil }
