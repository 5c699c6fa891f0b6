package capability

import (
	"context"
	"sync"

	"github.com/kode4food/agentflow/pkg/api"
)

// Memory is a process-local MemoryStore
type Memory struct {
	values map[string]any
	mu     sync.RWMutex
}

var _ api.MemoryStore = (*Memory)(nil)

// NewMemory creates an empty in-memory store
func NewMemory() *Memory {
	return &Memory{values: map[string]any{}}
}

// Get returns the value stored under key
func (m *Memory) Get(_ context.Context, key string) (any, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.values[key]
	return v, ok, nil
}

// Put stores value under key
func (m *Memory) Put(_ context.Context, key string, value any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = value
	return nil
}
