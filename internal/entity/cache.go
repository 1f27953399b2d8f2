package entity

import (
	"context"
	"sync"
	"time"
)

// defaultCacheTTL bounds how stale a cached entity read may be.
const defaultCacheTTL = 5 * time.Second

// Compile-time interface check.
var _ Store = (*CachedStore)(nil)

// CachedStore wraps a Store with a small read-through TTL cache on Get.
// Tools that mutate an entity must read it through GetFresh; writes
// through this store invalidate the cached copy.
type CachedStore struct {
	inner Store
	ttl   time.Duration

	mu      sync.Mutex
	entries map[string]cacheEntry

	now func() time.Time
}

type cacheEntry struct {
	entity    Entity
	expiresAt time.Time
}

// CacheOption is a functional option for [NewCachedStore].
type CacheOption func(*CachedStore)

// WithCacheTTL overrides the cache lifetime. Defaults to 5 seconds.
func WithCacheTTL(ttl time.Duration) CacheOption {
	return func(s *CachedStore) { s.ttl = ttl }
}

// NewCachedStore wraps inner with a TTL cache.
func NewCachedStore(inner Store, opts ...CacheOption) *CachedStore {
	s := &CachedStore{
		inner:   inner,
		ttl:     defaultCacheTTL,
		entries: make(map[string]cacheEntry),
		now:     time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Get serves from the cache when the entry is still fresh, otherwise
// reads through and caches the result.
func (s *CachedStore) Get(ctx context.Context, id string) (Entity, error) {
	s.mu.Lock()
	if entry, ok := s.entries[id]; ok && s.now().Before(entry.expiresAt) {
		s.mu.Unlock()
		return entry.entity, nil
	}
	s.mu.Unlock()

	return s.GetFresh(ctx, id)
}

// GetFresh bypasses the cache and refreshes it on success.
func (s *CachedStore) GetFresh(ctx context.Context, id string) (Entity, error) {
	e, err := s.inner.GetFresh(ctx, id)
	if err != nil {
		return Entity{}, err
	}
	s.put(e)
	return e, nil
}

// Create implements [Store.Create].
func (s *CachedStore) Create(ctx context.Context, e Entity) (Entity, error) {
	created, err := s.inner.Create(ctx, e)
	if err != nil {
		return Entity{}, err
	}
	s.put(created)
	return created, nil
}

// GetSystemByName implements [Store.GetSystemByName]. System lookup is
// not cached; it happens once per session setup.
func (s *CachedStore) GetSystemByName(ctx context.Context, name string) (Entity, error) {
	return s.inner.GetSystemByName(ctx, name)
}

// GetDefault implements [Store.GetDefault].
func (s *CachedStore) GetDefault(ctx context.Context) (Entity, error) {
	return s.inner.GetDefault(ctx)
}

// List implements [Store.List].
func (s *CachedStore) List(ctx context.Context, opts ListOptions) ([]Entity, error) {
	return s.inner.List(ctx, opts)
}

// Update implements [Store.Update] and invalidates the cached copy.
func (s *CachedStore) Update(ctx context.Context, e Entity) error {
	if err := s.inner.Update(ctx, e); err != nil {
		return err
	}
	s.invalidate(e.ID)
	return nil
}

// Delete implements [Store.Delete] and invalidates the cached copy.
func (s *CachedStore) Delete(ctx context.Context, id string) error {
	if err := s.inner.Delete(ctx, id); err != nil {
		return err
	}
	s.invalidate(id)
	return nil
}

func (s *CachedStore) put(e Entity) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[e.ID] = cacheEntry{entity: e, expiresAt: s.now().Add(s.ttl)}
}

func (s *CachedStore) invalidate(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, id)
}
