// File: internal/kvstore/memory.go
package kvstore

import (
	"context"
	"sync"
)

// Memory is an in-process Store. State is lost when the process exits.
type Memory struct {
	mu   sync.RWMutex
	data map[Namespace]map[string]string
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{data: make(map[Namespace]map[string]string)}
}

func (m *Memory) Get(ctx context.Context, ns Namespace, key string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[ns][key]
	if !ok {
		return "", ErrNotFound
	}
	return v, nil
}

func (m *Memory) Set(ctx context.Context, ns Namespace, key, value string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	bucket, ok := m.data[ns]
	if !ok {
		bucket = make(map[string]string)
		m.data[ns] = bucket
	}
	bucket[key] = value
	return nil
}

func (m *Memory) Delete(ctx context.Context, ns Namespace, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data[ns], key)
	return nil
}

// Close is a no-op.
func (m *Memory) Close() error { return nil }
