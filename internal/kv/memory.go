package kv

import (
	"context"
	"sync"
)

// MemoryStore keeps tables in process memory. Used for tests and for
// throwaway local runs.
type MemoryStore struct {
	mu     sync.Mutex
	tables map[string]*MemoryTable
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{tables: make(map[string]*MemoryTable)}
}

func (s *MemoryStore) Table(name string) Table {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tables[name]
	if !ok {
		t = &MemoryTable{data: make(map[string][]byte)}
		s.tables[name] = t
	}
	return t
}

func (s *MemoryStore) Close() error { return nil }

type MemoryTable struct {
	mu   sync.RWMutex
	data map[string][]byte
}

func (t *MemoryTable) Get(_ context.Context, key string) ([]byte, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return clone(t.data[key]), nil
}

func (t *MemoryTable) Set(_ context.Context, key string, value []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.data[key] = clone(value)
	return nil
}

func (t *MemoryTable) Delete(_ context.Context, key string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.data, key)
	return nil
}

func (t *MemoryTable) List(_ context.Context) (map[string][]byte, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make(map[string][]byte, len(t.data))
	for k, v := range t.data {
		out[k] = clone(v)
	}
	return out, nil
}

func (t *MemoryTable) Clear(_ context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.data = make(map[string][]byte)
	return nil
}

func (t *MemoryTable) Apply(_ context.Context, ops ...Op) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, op := range ops {
		if op.Delete {
			delete(t.data, op.Key)
			continue
		}
		t.data[op.Key] = clone(op.Value)
	}
	return nil
}
