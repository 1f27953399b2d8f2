// Package postgres provides the PostgreSQL + pgvector implementation of
// the cold memory tier ([memory.ColdIndex]).
//
// Nodes live in a single memory_nodes table with an HNSW cosine index
// over the embedding column and a GIN full-text index over content. The
// graph is stored as ID-based adjacency (related_ids, parent_id) — no
// join table, no in-memory cycles; traversal is explicit via
// [Index.ExpandGraph].
//
// Usage:
//
//	idx, err := postgres.NewIndex(ctx, dsn, embedder)
//	if err != nil { … }
//
//	nodes, _ := idx.SearchSemantic(ctx, entityID, userID, "what does Ana value?", 5)
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgxvec "github.com/pgvector/pgvector-go/pgx"

	"github.com/Enntity/cortex-sub003/pkg/provider/embeddings"
)

// ddlNodes returns the memory_nodes DDL with the embedding dimension
// substituted. The vector dimension is baked into the column type at
// schema creation time.
func ddlNodes(embeddingDimensions int) string {
	return fmt.Sprintf(`
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS memory_nodes (
    id                 TEXT         PRIMARY KEY,
    entity_id          TEXT         NOT NULL,
    user_id            TEXT         NOT NULL,
    type               TEXT         NOT NULL,
    content            TEXT         NOT NULL,
    embedding          vector(%d),
    related_ids        TEXT[]       NOT NULL DEFAULT '{}',
    parent_id          TEXT         NOT NULL DEFAULT '',
    tags               TEXT[]       NOT NULL DEFAULT '{}',
    timestamp          TIMESTAMPTZ  NOT NULL DEFAULT now(),
    last_accessed      TIMESTAMPTZ  NOT NULL DEFAULT now(),
    recall_count       INTEGER      NOT NULL DEFAULT 0,
    importance         INTEGER      NOT NULL DEFAULT 5,
    confidence         DOUBLE PRECISION NOT NULL DEFAULT 0.5,
    decay_rate         DOUBLE PRECISION NOT NULL DEFAULT 0,
    emotional_state    JSONB,
    relational_context JSONB,
    synthesized_from   TEXT[]       NOT NULL DEFAULT '{}',
    synthesis_type     TEXT         NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_memory_nodes_partition
    ON memory_nodes (entity_id, user_id);

CREATE INDEX IF NOT EXISTS idx_memory_nodes_type
    ON memory_nodes (entity_id, user_id, type);

CREATE INDEX IF NOT EXISTS idx_memory_nodes_importance
    ON memory_nodes (importance DESC, timestamp DESC);

CREATE INDEX IF NOT EXISTS idx_memory_nodes_fts
    ON memory_nodes USING GIN (to_tsvector('english', content));

CREATE INDEX IF NOT EXISTS idx_memory_nodes_embedding
    ON memory_nodes USING hnsw (embedding vector_cosine_ops);
`, embeddingDimensions)
}

// Migrate creates or ensures the memory_nodes table and its indexes
// exist. It is idempotent and safe to call on every application start.
//
// embeddingDimensions must match the configured embedding model
// (e.g., 1536 for OpenAI text-embedding-3-small). Changing it after the
// first migration requires a manual schema update.
func Migrate(ctx context.Context, pool *pgxpool.Pool, embeddingDimensions int) error {
	if _, err := pool.Exec(ctx, ddlNodes(embeddingDimensions)); err != nil {
		return fmt.Errorf("postgres migrate: %w", err)
	}
	return nil
}

// NewIndex creates an [Index], establishes a connection pool to the
// PostgreSQL database at dsn, registers pgvector types on every
// connection, and runs [Migrate].
//
// embedder supplies query and content embeddings; its Dimensions() fixes
// the vector column width. A nil embedder disables semantic search —
// SearchSemantic then degrades to importance-ranked filtering.
func NewIndex(ctx context.Context, dsn string, embedder embeddings.Provider, opts ...IndexOption) (*Index, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("cold index: parse dsn: %w", err)
	}

	// Register pgvector types on every new connection so that vector
	// columns can be scanned into and inserted from pgvector.Vector values.
	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("cold index: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("cold index: ping: %w", err)
	}

	dims := defaultEmbeddingDimensions
	if embedder != nil {
		dims = embedder.Dimensions()
	}
	if err := Migrate(ctx, pool, dims); err != nil {
		pool.Close()
		return nil, fmt.Errorf("cold index: migrate: %w", err)
	}

	idx := newIndex(pool, embedder)
	for _, o := range opts {
		o(idx)
	}
	return idx, nil
}
