package entity

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Compile-time assertion that MemStore satisfies the Store interface.
var _ Store = (*MemStore)(nil)

// MemStore is a thread-safe, in-memory implementation of [Store].
// It is suitable for single-process use and testing.
// The zero value is ready to use.
type MemStore struct {
	mu       sync.RWMutex
	entities map[string]Entity

	// now is swapped in tests to make timestamps deterministic.
	now func() time.Time
}

// NewMemStore returns an initialised [MemStore].
func NewMemStore() *MemStore {
	return &MemStore{
		entities: make(map[string]Entity),
		now:      time.Now,
	}
}

func (s *MemStore) clock() time.Time {
	if s.now == nil {
		return time.Now()
	}
	return s.now()
}

// Create implements [Store.Create].
func (s *MemStore) Create(ctx context.Context, e Entity) (Entity, error) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	now := s.clock()
	e.CreatedAt = now
	e.UpdatedAt = now

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.entities == nil {
		s.entities = make(map[string]Entity)
	}
	if _, exists := s.entities[e.ID]; exists {
		return Entity{}, ErrDuplicateID
	}

	s.entities[e.ID] = e
	return e, nil
}

// Get implements [Store.Get]. MemStore holds no cache, so Get and
// GetFresh are identical.
func (s *MemStore) Get(ctx context.Context, id string) (Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.entities[id]
	if !ok {
		return Entity{}, ErrNotFound
	}
	return e, nil
}

// GetFresh implements [Store.GetFresh].
func (s *MemStore) GetFresh(ctx context.Context, id string) (Entity, error) {
	return s.Get(ctx, id)
}

// GetSystemByName implements [Store.GetSystemByName].
func (s *MemStore) GetSystemByName(ctx context.Context, name string) (Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, e := range s.entities {
		if e.IsSystem && strings.EqualFold(e.Name, name) {
			return e, nil
		}
	}
	return Entity{}, ErrNotFound
}

// GetDefault implements [Store.GetDefault].
func (s *MemStore) GetDefault(ctx context.Context) (Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, e := range s.entities {
		if e.IsDefault {
			return e, nil
		}
	}
	return Entity{}, ErrNotFound
}

// List implements [Store.List].
func (s *MemStore) List(ctx context.Context, opts ListOptions) ([]Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]Entity, 0, len(s.entities))
	for _, e := range s.entities {
		if !matchesOpts(e, opts) {
			continue
		}
		result = append(result, e)
	}
	return result, nil
}

// Update implements [Store.Update].
func (s *MemStore) Update(ctx context.Context, e Entity) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	prior, ok := s.entities[e.ID]
	if !ok {
		return ErrNotFound
	}

	e.CreatedAt = prior.CreatedAt
	e.UpdatedAt = s.clock()
	s.entities[e.ID] = e
	return nil
}

// Delete implements [Store.Delete].
func (s *MemStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.entities[id]; !ok {
		return ErrNotFound
	}

	delete(s.entities, id)
	return nil
}
