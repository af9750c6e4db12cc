package catalog

import (
	"context"
	"fmt"
	"slices"
	"sync"
)

type memoryEntry struct {
	doc     []byte
	version int64
}

// MemoryStore keeps documents in process memory.
type MemoryStore struct {
	mu     sync.Mutex
	tables map[string]memoryEntry
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{tables: make(map[string]memoryEntry)}
}

func (s *MemoryStore) Load(_ context.Context, name string) ([]byte, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.tables[name]
	if !ok {
		return nil, 0, fmt.Errorf("%s: %w", name, ErrNoSuchTable)
	}
	return slices.Clone(e.doc), e.version, nil
}

func (s *MemoryStore) Create(_ context.Context, name string, doc []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tables[name]; ok {
		return fmt.Errorf("%s: %w", name, ErrTableExists)
	}
	s.tables[name] = memoryEntry{doc: slices.Clone(doc), version: 1}
	return nil
}

func (s *MemoryStore) Swap(_ context.Context, name string, expected int64, doc []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.tables[name]
	if !ok {
		return fmt.Errorf("%s: %w", name, ErrNoSuchTable)
	}
	if e.version != expected {
		return fmt.Errorf("%s at version %d, expected %d: %w", name, e.version, expected, ErrVersionMismatch)
	}
	s.tables[name] = memoryEntry{doc: slices.Clone(doc), version: expected + 1}
	return nil
}

func (s *MemoryStore) List(context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.tables))
	for name := range s.tables {
		names = append(names, name)
	}
	return names, nil
}
