package entity

import (
	"context"
	"errors"
)

// ErrNotFound is returned when the requested entity does not exist.
var ErrNotFound = errors.New("entity not found")

// ErrDuplicateID is returned by Create when an entity with the same ID
// already exists.
var ErrDuplicateID = errors.New("entity with that ID already exists")

// Store manages entity documents.
//
// All implementations must be safe for concurrent use. Implementations
// may serve slightly stale reads from a cache; callers that are about to
// mutate an entity should use [Store.GetFresh].
type Store interface {
	// Create persists a new entity. An empty ID gets a generated UUID.
	// Returns [ErrDuplicateID] if an entity with the same non-empty ID
	// exists. The returned entity carries the final ID and timestamps.
	Create(ctx context.Context, e Entity) (Entity, error)

	// Get retrieves an entity by ID, possibly from a short-lived cache.
	// Returns [ErrNotFound] when no entity with that ID exists.
	Get(ctx context.Context, id string) (Entity, error)

	// GetFresh retrieves an entity by ID, bypassing any cache.
	GetFresh(ctx context.Context, id string) (Entity, error)

	// GetSystemByName retrieves the system entity with the given name.
	// The match is case-insensitive and requires IsSystem.
	GetSystemByName(ctx context.Context, name string) (Entity, error)

	// GetDefault retrieves the entity marked IsDefault.
	// Returns [ErrNotFound] when none is marked.
	GetDefault(ctx context.Context) (Entity, error)

	// List returns all entities matching opts. Result order is not
	// guaranteed.
	List(ctx context.Context, opts ListOptions) ([]Entity, error)

	// Update replaces an existing entity document and refreshes its
	// UpdatedAt. Returns [ErrNotFound] when no entity with that ID exists.
	Update(ctx context.Context, e Entity) error

	// Delete removes an entity by ID.
	// Returns [ErrNotFound] when no entity with that ID exists.
	Delete(ctx context.Context, id string) error
}

// ListOptions narrows the result set of [Store.List].
// All non-zero fields are applied as AND conditions.
type ListOptions struct {
	// VisibleTo restricts results to entities visible to this user:
	// system entities plus entities listing the user in AssocUserIDs.
	VisibleTo string

	// SystemOnly restricts results to system entities.
	SystemOnly bool
}

// matchesOpts reports whether e satisfies all conditions in opts.
func matchesOpts(e Entity, opts ListOptions) bool {
	if opts.SystemOnly && !e.IsSystem {
		return false
	}
	if opts.VisibleTo != "" && !e.IsVisibleTo(opts.VisibleTo) {
		return false
	}
	return true
}
