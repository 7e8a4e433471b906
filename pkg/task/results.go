package task

import (
	"context"
	"sort"
	"sync"
)

// MemoryResults is an in-memory ResultSink.
type MemoryResults struct {
	mu     sync.RWMutex
	values map[string]string
}

func NewMemoryResults() *MemoryResults {
	return &MemoryResults{values: map[string]string{}}
}

func (m *MemoryResults) Push(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = value
	return nil
}

// Get returns the value stored under key.
func (m *MemoryResults) Get(key string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.values[key]
	return v, ok
}

// Keys returns the stored keys in sorted order.
func (m *MemoryResults) Keys() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	keys := make([]string, 0, len(m.values))
	for k := range m.values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
