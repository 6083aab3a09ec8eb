// internal/store/memory.go
package store

import (
	"encoding/json"
	"sync"
)

// Memory keeps settings in process memory. Used in tests and when no
// database is reachable at all.
type Memory struct {
	mu   sync.RWMutex
	data map[string]json.RawMessage
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{data: make(map[string]json.RawMessage)}
}

// Init initializes the store.
func (m *Memory) Init() error { return nil }

// Close releases resources.
func (m *Memory) Close() error { return nil }

// Get unmarshals the stored document for key into out.
func (m *Memory) Get(key string, out any) error {
	m.mu.RLock()
	raw, ok := m.data[key]
	m.mu.RUnlock()
	if !ok {
		return ErrKeyNotFound
	}
	return json.Unmarshal(raw, out)
}

// Set stores value under key as JSON.
func (m *Memory) Set(key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.data[key] = raw
	m.mu.Unlock()
	return nil
}

// Delete removes key. Deleting an absent key is a no-op.
func (m *Memory) Delete(key string) error {
	m.mu.Lock()
	delete(m.data, key)
	m.mu.Unlock()
	return nil
}
