// Package session holds per-client key/value state across requests.
//
// A Bag is the in-request view of one session; a Store loads and saves bags
// between requests. The correlation tracker keeps its state in a Bag.
package session

import (
	"context"
	"maps"
	"sync"

	"github.com/google/uuid"
)

// Session is the per-client key/value bag
type Session interface {
	ID() string
	Get(key string) (any, bool)
	Set(key string, value any)
	Has(key string) bool
	Remove(key string)
	All() map[string]any
}

// Store loads and saves session values by ID
type Store interface {
	Load(ctx context.Context, id string) (map[string]any, error)
	Save(ctx context.Context, id string, values map[string]any) error
	Delete(ctx context.Context, id string) error
}

// NewID returns a random session identifier
func NewID() string {
	return uuid.NewString()
}

// Bag is a concurrency-safe Session that tracks modification
type Bag struct {
	id string

	mu     sync.RWMutex
	values map[string]any
	dirty  bool
}

// NewBag creates a bag with a copy of values
func NewBag(id string, values map[string]any) *Bag {
	v := make(map[string]any, len(values))
	maps.Copy(v, values)
	return &Bag{id: id, values: v}
}

// ID returns the session identifier
func (b *Bag) ID() string {
	return b.id
}

// Get returns the value stored under key
func (b *Bag) Get(key string) (any, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	v, ok := b.values[key]
	return v, ok
}

// Set stores value under key
func (b *Bag) Set(key string, value any) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.values[key] = value
	b.dirty = true
}

// Has reports whether key is present
func (b *Bag) Has(key string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, ok := b.values[key]
	return ok
}

// Remove deletes key
func (b *Bag) Remove(key string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.values[key]; ok {
		delete(b.values, key)
		b.dirty = true
	}
}

// All returns a copy of every value
func (b *Bag) All() map[string]any {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make(map[string]any, len(b.values))
	maps.Copy(out, b.values)
	return out
}

// Dirty reports whether the bag changed since it was loaded
func (b *Bag) Dirty() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.dirty
}

// String returns the value under key when it is a string
func String(s Session, key string) (string, bool) {
	v, ok := s.Get(key)
	if !ok {
		return "", false
	}
	str, ok := v.(string)
	return str, ok
}

// Bool returns the value under key when it is a bool
func Bool(s Session, key string) bool {
	v, ok := s.Get(key)
	if !ok {
		return false
	}
	b, ok := v.(bool)
	return ok && b
}
