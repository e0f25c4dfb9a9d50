package session

import (
	"context"
	"maps"
	"sync"
)

// MemoryStore keeps sessions in process memory
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]map[string]any
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string]map[string]any)}
}

// Load returns a copy of the session values; unknown IDs yield an empty map
func (s *MemoryStore) Load(ctx context.Context, id string) (map[string]any, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]any, len(s.sessions[id]))
	maps.Copy(out, s.sessions[id])
	return out, nil
}

// Save replaces the session values
func (s *MemoryStore) Save(ctx context.Context, id string, values map[string]any) error {
	v := make(map[string]any, len(values))
	maps.Copy(v, values)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[id] = v
	return nil
}

// Delete drops the session
func (s *MemoryStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
	return nil
}
