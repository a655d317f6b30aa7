package store

import (
	"context"
	"sort"
	"sync"
)

type memoryEntry struct {
	doc     []byte
	version int64
}

// MemoryStore 是进程内的会话存储，单进程部署或测试时使用
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]memoryEntry),
	}
}

func (s *MemoryStore) Load(_ context.Context, roomCode string) ([]byte, int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.entries[roomCode]
	if !ok {
		return nil, 0, ErrNotFound
	}

	// 返回副本，调用方修改不会影响存储
	doc := make([]byte, len(entry.doc))
	copy(doc, entry.doc)

	return doc, entry.version, nil
}

func (s *MemoryStore) Save(_ context.Context, roomCode string, doc []byte, expect int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current := s.entries[roomCode].version
	if expect != AnyVersion && expect != current {
		return 0, ErrVersionConflict
	}

	stored := make([]byte, len(doc))
	copy(stored, doc)

	next := current + 1
	s.entries[roomCode] = memoryEntry{doc: stored, version: next}

	return next, nil
}

func (s *MemoryStore) Delete(_ context.Context, roomCode string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.entries, roomCode)

	return nil
}

func (s *MemoryStore) ActiveCodes(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	codes := make([]string, 0, len(s.entries))
	for code := range s.entries {
		codes = append(codes, code)
	}

	sort.Strings(codes)

	return codes, nil
}

func (s *MemoryStore) Close() error {
	return nil
}
