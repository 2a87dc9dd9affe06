package storage

import (
	"context"
	"sync"
)

// Memory is an in-process KV. Failures can be injected per operation for
// tests through FailGet, FailSet and FailRemove.
type Memory struct {
	mu   sync.RWMutex
	data map[string]string

	FailGet    error
	FailSet    error
	FailRemove error
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{data: make(map[string]string)}
}

func (m *Memory) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.FailGet != nil {
		return "", false, &PersistenceError{Op: "get", Key: key, Err: m.FailGet}
	}
	v, ok := m.data[key]
	return v, ok, nil
}

func (m *Memory) Set(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailSet != nil {
		return &PersistenceError{Op: "set", Key: key, Err: m.FailSet}
	}
	m.data[key] = value
	return nil
}

func (m *Memory) Remove(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailRemove != nil {
		return &PersistenceError{Op: "remove", Key: key, Err: m.FailRemove}
	}
	delete(m.data, key)
	return nil
}

func (m *Memory) Close() error { return nil }

// SetFailures replaces the injected failures under the store lock.
func (m *Memory) SetFailures(get, set, remove error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.FailGet, m.FailSet, m.FailRemove = get, set, remove
}
