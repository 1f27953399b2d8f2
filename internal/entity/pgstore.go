package entity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Compile-time interface check.
var _ Store = (*PGStore)(nil)

// PGStore implements [Store] on PostgreSQL. Each entity is one row: the
// full document as JSONB plus generated columns for the lookup paths
// (ID, case-insensitive system name, default flag).
//
// Obtain one via [NewPGStore]. All methods are safe for concurrent use.
type PGStore struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

// NewPGStore connects to connString, ensures the entities table exists,
// and returns the store.
func NewPGStore(ctx context.Context, connString string) (*PGStore, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("entity: connect postgres: %w", err)
	}
	s := &PGStore{pool: pool, now: time.Now}
	if err := s.migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// NewPGStoreFromPool wraps an existing pool without running migrations.
func NewPGStoreFromPool(pool *pgxpool.Pool) *PGStore {
	return &PGStore{pool: pool, now: time.Now}
}

// Close releases all connections held by the underlying pool.
func (s *PGStore) Close() {
	s.pool.Close()
}

func (s *PGStore) migrate(ctx context.Context) error {
	const ddl = `
	CREATE TABLE IF NOT EXISTS entities (
		id          text PRIMARY KEY,
		doc         jsonb NOT NULL,
		name_lower  text GENERATED ALWAYS AS (lower(doc->>'name')) STORED,
		is_system   boolean GENERATED ALWAYS AS ((doc->>'isSystem')::boolean) STORED,
		is_default  boolean GENERATED ALWAYS AS ((doc->>'isDefault')::boolean) STORED,
		updated_at  timestamptz NOT NULL DEFAULT now()
	);
	CREATE INDEX IF NOT EXISTS entities_system_name_idx
		ON entities (name_lower) WHERE is_system;
	CREATE INDEX IF NOT EXISTS entities_assoc_users_idx
		ON entities USING gin ((doc->'assocUserIds'));`

	if _, err := s.pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("entity: migrate entities table: %w", err)
	}
	return nil
}

// Create implements [Store.Create].
func (s *PGStore) Create(ctx context.Context, e Entity) (Entity, error) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	now := s.now()
	e.CreatedAt = now
	e.UpdatedAt = now

	doc, err := json.Marshal(e)
	if err != nil {
		return Entity{}, fmt.Errorf("entity: marshal %s: %w", e.ID, err)
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO entities (id, doc, updated_at) VALUES ($1, $2, $3)`,
		e.ID, doc, e.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return Entity{}, ErrDuplicateID
		}
		return Entity{}, fmt.Errorf("entity: insert %s: %w", e.ID, err)
	}
	return e, nil
}

// Get implements [Store.Get]. PGStore does not cache; wrap it in a
// [CachedStore] to get TTL-bounded reads.
func (s *PGStore) Get(ctx context.Context, id string) (Entity, error) {
	return s.queryOne(ctx, `SELECT doc FROM entities WHERE id = $1`, id)
}

// GetFresh implements [Store.GetFresh].
func (s *PGStore) GetFresh(ctx context.Context, id string) (Entity, error) {
	return s.Get(ctx, id)
}

// GetSystemByName implements [Store.GetSystemByName].
func (s *PGStore) GetSystemByName(ctx context.Context, name string) (Entity, error) {
	return s.queryOne(ctx,
		`SELECT doc FROM entities WHERE is_system AND name_lower = lower($1)`, name)
}

// GetDefault implements [Store.GetDefault].
func (s *PGStore) GetDefault(ctx context.Context) (Entity, error) {
	return s.queryOne(ctx,
		`SELECT doc FROM entities WHERE is_default ORDER BY updated_at DESC LIMIT 1`)
}

// List implements [Store.List]. Visibility filtering uses the JSONB
// containment operator against assocUserIds, so the GIN index applies.
func (s *PGStore) List(ctx context.Context, opts ListOptions) ([]Entity, error) {
	query := `SELECT doc FROM entities`
	var (
		conds []string
		args  []any
	)
	if opts.SystemOnly {
		conds = append(conds, `is_system`)
	}
	if opts.VisibleTo != "" {
		user, err := json.Marshal([]string{opts.VisibleTo})
		if err != nil {
			return nil, fmt.Errorf("entity: marshal visibility filter: %w", err)
		}
		args = append(args, user)
		conds = append(conds, fmt.Sprintf(`(is_system OR doc->'assocUserIds' @> $%d)`, len(args)))
	}
	for i, c := range conds {
		if i == 0 {
			query += ` WHERE ` + c
		} else {
			query += ` AND ` + c
		}
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("entity: list: %w", err)
	}
	defer rows.Close()

	entities := make([]Entity, 0)
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("entity: scan list row: %w", err)
		}
		var e Entity
		if err := json.Unmarshal(doc, &e); err != nil {
			return nil, fmt.Errorf("entity: decode list row: %w", err)
		}
		entities = append(entities, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("entity: list rows: %w", err)
	}
	return entities, nil
}

// Update implements [Store.Update].
func (s *PGStore) Update(ctx context.Context, e Entity) error {
	e.UpdatedAt = s.now()

	doc, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("entity: marshal %s: %w", e.ID, err)
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE entities SET doc = $2, updated_at = $3 WHERE id = $1`,
		e.ID, doc, e.UpdatedAt)
	if err != nil {
		return fmt.Errorf("entity: update %s: %w", e.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete implements [Store.Delete].
func (s *PGStore) Delete(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM entities WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("entity: delete %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PGStore) queryOne(ctx context.Context, query string, args ...any) (Entity, error) {
	var doc []byte
	err := s.pool.QueryRow(ctx, query, args...).Scan(&doc)
	if errors.Is(err, pgx.ErrNoRows) {
		return Entity{}, ErrNotFound
	}
	if err != nil {
		return Entity{}, fmt.Errorf("entity: query: %w", err)
	}

	var e Entity
	if err := json.Unmarshal(doc, &e); err != nil {
		return Entity{}, fmt.Errorf("entity: decode document: %w", err)
	}
	return e, nil
}
