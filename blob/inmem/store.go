// Package inmem provides the in-memory reference implementation of
// blob.Store. It defines the CAS semantics every production backend must
// reproduce and backs unit tests and local development.
package inmem

import (
	"context"
	"strconv"
	"sync"

	"goa.design/ratchet/blob"
)

// Store is a mutex-guarded map of objects with per-key token counters.
type Store struct {
	mu      sync.RWMutex
	objects map[string]entry
}

type entry struct {
	data []byte
	tok  uint64
}

// New returns an empty store.
func New() *Store {
	return &Store{objects: make(map[string]entry)}
}

// Get returns a copy of the object at key, or (nil, nil) when absent.
func (s *Store) Get(ctx context.Context, key string) (*blob.Rec, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.objects[key]
	if !ok {
		return nil, nil
	}
	data := make([]byte, len(e.data))
	copy(data, e.data)
	return &blob.Rec{Data: data, CAS: strconv.FormatUint(e.tok, 10)}, nil
}

// Put applies a conditional write and returns the new CAS token.
func (s *Store) Put(ctx context.Context, key string, data []byte, cas string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	e, exists := s.objects[key]
	if cas == "" {
		if exists {
			return "", blob.ErrConflict
		}
	} else if !exists || strconv.FormatUint(e.tok, 10) != cas {
		return "", blob.ErrConflict
	}
	stored := make([]byte, len(data))
	copy(stored, data)
	next := entry{data: stored, tok: e.tok + 1}
	s.objects[key] = next
	return strconv.FormatUint(next.tok, 10), nil
}

// Len reports the number of stored objects.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.objects)
}

// Reset clears all objects. Intended for tests.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects = make(map[string]entry)
}
