package store

import (
	"context"
	"fmt"
	"slices"
	"sync"
)

// Memory is a Backend held entirely in process memory. Values are copied
// on the way in and out, so callers never alias stored bytes.
type Memory struct {
	mu     sync.Mutex
	tables map[string]map[string][]byte
}

var _ Backend = (*Memory)(nil)

// NewMemory returns an empty in-memory backend.
func NewMemory() *Memory {
	tables := make(map[string]map[string][]byte, len(Tables))
	for _, t := range Tables {
		tables[t] = make(map[string][]byte)
	}
	return &Memory{tables: tables}
}

// Close implements Backend.
func (m *Memory) Close() error {
	return nil
}

// Table implements Backend.
func (m *Memory) Table(name string) (KV, error) {
	if !knownTable(name) {
		return nil, fmt.Errorf("unknown table %q", name)
	}
	return &memoryTable{m: m, name: name}, nil
}

type memoryTable struct {
	m    *Memory
	name string
}

func (t *memoryTable) Get(_ context.Context, key string) ([]byte, bool, error) {
	t.m.mu.Lock()
	defer t.m.mu.Unlock()

	v, ok := t.m.tables[t.name][key]
	if !ok {
		return nil, false, nil
	}
	return slices.Clone(v), true, nil
}

func (t *memoryTable) Put(_ context.Context, key string, value []byte) error {
	t.m.mu.Lock()
	defer t.m.mu.Unlock()

	t.m.tables[t.name][key] = slices.Clone(value)
	return nil
}

func (t *memoryTable) Delete(_ context.Context, key string) error {
	t.m.mu.Lock()
	defer t.m.mu.Unlock()

	delete(t.m.tables[t.name], key)
	return nil
}

func (t *memoryTable) Keys(_ context.Context) ([]string, error) {
	t.m.mu.Lock()
	defer t.m.mu.Unlock()

	keys := make([]string, 0, len(t.m.tables[t.name]))
	for k := range t.m.tables[t.name] {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys, nil
}
