package postgres

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"

	"github.com/Enntity/cortex-sub003/pkg/memory"
	"github.com/Enntity/cortex-sub003/pkg/provider/embeddings"
)

const (
	// defaultEmbeddingDimensions is used when no embedder is configured.
	defaultEmbeddingDimensions = 1536

	// candidateMultiplier controls the over-fetch before re-ranking.
	candidateMultiplier = 2

	// recallTopN caps how many of the returned results get a recall bump.
	recallTopN = 5

	// recallDebounce suppresses recall bumps for recently accessed nodes.
	recallDebounce = 5 * time.Minute

	// forgetBatchLimit bounds how many nodes one cascading forget scans.
	forgetBatchLimit = 10000

	// expandBatchLimit bounds the breadth of one graph-expansion hop.
	expandBatchLimit = 200
)

// Compile-time interface check.
var _ memory.ColdIndex = (*Index)(nil)

// Index implements [memory.ColdIndex] on PostgreSQL with pgvector.
//
// Obtain one via [NewIndex]. All methods are safe for concurrent use.
type Index struct {
	pool     *pgxpool.Pool
	embedder embeddings.Provider
	weights  memory.RecallWeights

	// now is swapped in tests to make recency scoring deterministic.
	now func() time.Time
}

// IndexOption is a functional option for [NewIndex].
type IndexOption func(*Index)

// WithRecallWeights overrides the recall re-ranking weights.
// Defaults to [memory.DefaultRecallWeights].
func WithRecallWeights(w memory.RecallWeights) IndexOption {
	return func(i *Index) { i.weights = w }
}

// newIndex wires an Index without connecting; used by NewIndex and tests.
func newIndex(pool *pgxpool.Pool, embedder embeddings.Provider) *Index {
	return &Index{
		pool:     pool,
		embedder: embedder,
		weights:  memory.DefaultRecallWeights,
		now:      time.Now,
	}
}

// Close releases all connections held by the underlying pool.
func (i *Index) Close() {
	i.pool.Close()
}

const nodeColumns = `id, entity_id, user_id, type, content, embedding, related_ids, parent_id,
	       tags, timestamp, last_accessed, recall_count, importance, confidence,
	       decay_rate, emotional_state, relational_context, synthesized_from, synthesis_type`

// ─────────────────────────────────────────────────────────────────────────────
// Search
// ─────────────────────────────────────────────────────────────────────────────

// SearchSemantic implements [memory.ColdIndex].
//
// The query is embedded, 2·limit candidates are fetched by cosine
// distance within the (entityID, userID) partition, candidates are
// re-ranked with the recall formula, and the list is trimmed to limit.
// When embedding the query fails (or no embedder is configured) the
// search degrades to importance-ranked filtering so callers still get
// grounded context.
func (i *Index) SearchSemantic(ctx context.Context, entityID, userID, query string, limit int, types ...memory.MemoryType) ([]memory.Node, error) {
	if limit <= 0 {
		return []memory.Node{}, nil
	}

	var queryVec []float32
	if i.embedder != nil {
		vec, err := i.embedder.Embed(ctx, query)
		if err != nil {
			slog.Warn("cold index: query embedding failed, falling back to importance ranking",
				"entity_id", entityID, "error", err)
		} else {
			queryVec = vec
		}
	}
	if queryVec == nil {
		return i.GetTopByImportance(ctx, entityID, userID, memory.TopOpts{Types: types, Limit: limit})
	}

	args := []any{pgvector.NewVector(queryVec)} // $1 = query vector
	next := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	conditions := []string{
		"embedding IS NOT NULL",
		"entity_id = " + next(entityID),
		"user_id = " + next(userID),
	}
	if len(types) > 0 {
		conditions = append(conditions, "type = ANY("+next(typeStrings(types))+")")
	}

	args = append(args, limit*candidateMultiplier)
	limitArg := fmt.Sprintf("$%d", len(args))

	q := fmt.Sprintf(`
		SELECT %s, 1 - (embedding <=> $1) AS similarity
		FROM   memory_nodes
		WHERE  %s
		ORDER  BY embedding <=> $1
		LIMIT  %s`, nodeColumns, strings.Join(conditions, "\n  AND  "), limitArg)

	rows, err := i.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("cold index: semantic search: %w", err)
	}

	candidates, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (scoredNode, error) {
		var sn scoredNode
		if err := scanNode(row, &sn.node, &sn.similarity); err != nil {
			return scoredNode{}, err
		}
		return sn, nil
	})
	if err != nil {
		return nil, fmt.Errorf("cold index: scan candidates: %w", err)
	}

	ranked := i.rerank(candidates)
	if len(ranked) > limit {
		ranked = ranked[:limit]
	}

	i.bumpRecalls(ctx, ranked)

	nodes := make([]memory.Node, len(ranked))
	for n, sn := range ranked {
		nodes[n] = sn.node
	}
	return nodes, nil
}

// SearchFullText implements [memory.ColdIndex]. The query is passed to
// plainto_tsquery so no special operator syntax is required.
func (i *Index) SearchFullText(ctx context.Context, entityID, userID, query string, opts memory.TextSearchOpts) ([]memory.Node, error) {
	args := []any{query} // $1 = FTS query string
	next := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	conditions := []string{
		"to_tsvector('english', content) @@ plainto_tsquery('english', $1)",
		"entity_id = " + next(entityID),
		"user_id = " + next(userID),
	}
	if len(opts.Types) > 0 {
		conditions = append(conditions, "type = ANY("+next(typeStrings(opts.Types))+")")
	}
	if opts.MinImportance > 0 {
		conditions = append(conditions, "importance >= "+next(opts.MinImportance))
	}
	if !opts.Since.IsZero() {
		conditions = append(conditions, "timestamp > "+next(opts.Since))
	}

	q := fmt.Sprintf(`
		SELECT %s
		FROM   memory_nodes
		WHERE  %s
		ORDER  BY ts_rank(to_tsvector('english', content), plainto_tsquery('english', $1)) DESC,
		          timestamp DESC`, nodeColumns, strings.Join(conditions, "\n  AND  "))

	if opts.Limit > 0 {
		args = append(args, opts.Limit)
		q += fmt.Sprintf("\nLIMIT $%d", len(args))
	}
	if opts.Skip > 0 {
		args = append(args, opts.Skip)
		q += fmt.Sprintf("\nOFFSET $%d", len(args))
	}

	rows, err := i.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("cold index: full-text search: %w", err)
	}
	return collectNodes(rows)
}

// GetByType implements [memory.ColdIndex].
func (i *Index) GetByType(ctx context.Context, entityID, userID string, t memory.MemoryType, limit int) ([]memory.Node, error) {
	q := fmt.Sprintf(`
		SELECT %s
		FROM   memory_nodes
		WHERE  entity_id = $1 AND user_id = $2 AND type = $3
		ORDER  BY timestamp DESC`, nodeColumns)

	args := []any{entityID, userID, string(t)}
	if limit > 0 {
		args = append(args, limit)
		q += "\nLIMIT $4"
	}

	rows, err := i.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("cold index: get by type: %w", err)
	}
	return collectNodes(rows)
}

// GetByIDs implements [memory.ColdIndex]. Missing IDs are skipped.
func (i *Index) GetByIDs(ctx context.Context, ids []string) ([]memory.Node, error) {
	if len(ids) == 0 {
		return []memory.Node{}, nil
	}
	q := fmt.Sprintf(`
		SELECT %s
		FROM   memory_nodes
		WHERE  id = ANY($1)
		LIMIT  $2`, nodeColumns)

	rows, err := i.pool.Query(ctx, q, ids, expandBatchLimit)
	if err != nil {
		return nil, fmt.Errorf("cold index: get by ids: %w", err)
	}
	return collectNodes(rows)
}

// GetTopByImportance implements [memory.ColdIndex]. Sort is importance
// descending, then recency descending — the bootstrap-context ordering.
func (i *Index) GetTopByImportance(ctx context.Context, entityID, userID string, opts memory.TopOpts) ([]memory.Node, error) {
	args := []any{entityID, userID}
	next := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	conditions := []string{"entity_id = $1", "user_id = $2"}
	if len(opts.Types) > 0 {
		conditions = append(conditions, "type = ANY("+next(typeStrings(opts.Types))+")")
	}
	if opts.MinImportance > 0 {
		conditions = append(conditions, "importance >= "+next(opts.MinImportance))
	}

	limit := opts.Limit
	if limit <= 0 {
		limit = 20
	}
	args = append(args, limit)
	limitArg := fmt.Sprintf("$%d", len(args))

	q := fmt.Sprintf(`
		SELECT %s
		FROM   memory_nodes
		WHERE  %s
		ORDER  BY importance DESC, timestamp DESC
		LIMIT  %s`, nodeColumns, strings.Join(conditions, "\n  AND  "), limitArg)

	rows, err := i.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("cold index: top by importance: %w", err)
	}
	return collectNodes(rows)
}

// HasMemories implements [memory.ColdIndex].
func (i *Index) HasMemories(ctx context.Context, entityID, userID string) (bool, error) {
	const q = `SELECT EXISTS (SELECT 1 FROM memory_nodes WHERE entity_id = $1 AND user_id = $2)`
	var exists bool
	if err := i.pool.QueryRow(ctx, q, entityID, userID).Scan(&exists); err != nil {
		return false, fmt.Errorf("cold index: has memories: %w", err)
	}
	return exists, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Mutation
// ─────────────────────────────────────────────────────────────────────────────

// UpsertMemory implements [memory.ColdIndex]. When the node carries no
// embedding and an embedder is configured, the content is embedded
// here; embedding failure is logged and the node inserted with a NULL
// vector so it stays reachable by filter and full-text search.
//
// On conflict the row is replaced except for recall_count, which is
// preserved.
func (i *Index) UpsertMemory(ctx context.Context, node memory.Node) error {
	if len(node.ContentVector) == 0 && i.embedder != nil {
		vec, err := i.embedder.Embed(ctx, node.Content)
		if err != nil {
			slog.Warn("cold index: content embedding failed, inserting without vector",
				"memory_id", node.ID, "error", err)
		} else {
			node.ContentVector = vec
		}
	}

	var embedding any
	if len(node.ContentVector) > 0 {
		embedding = pgvector.NewVector(node.ContentVector)
	}

	emotional, err := marshalOptional(node.EmotionalState)
	if err != nil {
		return fmt.Errorf("cold index: marshal emotional state: %w", err)
	}
	relational, err := marshalOptional(node.RelationalContext)
	if err != nil {
		return fmt.Errorf("cold index: marshal relational context: %w", err)
	}

	const q = `
		INSERT INTO memory_nodes
		    (id, entity_id, user_id, type, content, embedding, related_ids, parent_id,
		     tags, timestamp, last_accessed, recall_count, importance, confidence,
		     decay_rate, emotional_state, relational_context, synthesized_from, synthesis_type)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)
		ON CONFLICT (id) DO UPDATE SET
		    entity_id          = EXCLUDED.entity_id,
		    user_id            = EXCLUDED.user_id,
		    type               = EXCLUDED.type,
		    content            = EXCLUDED.content,
		    embedding          = EXCLUDED.embedding,
		    related_ids        = EXCLUDED.related_ids,
		    parent_id          = EXCLUDED.parent_id,
		    tags               = EXCLUDED.tags,
		    timestamp          = EXCLUDED.timestamp,
		    last_accessed      = EXCLUDED.last_accessed,
		    importance         = EXCLUDED.importance,
		    confidence         = EXCLUDED.confidence,
		    decay_rate         = EXCLUDED.decay_rate,
		    emotional_state    = EXCLUDED.emotional_state,
		    relational_context = EXCLUDED.relational_context,
		    synthesized_from   = EXCLUDED.synthesized_from,
		    synthesis_type     = EXCLUDED.synthesis_type`

	ts := node.Timestamp
	if ts.IsZero() {
		ts = i.now()
	}
	la := node.LastAccessed
	if la.IsZero() {
		la = ts
	}

	_, err = i.pool.Exec(ctx, q,
		node.ID,
		node.EntityID,
		node.UserID,
		string(node.Type),
		node.Content,
		embedding,
		emptyIfNil(node.RelatedMemoryIDs),
		node.ParentMemoryID,
		emptyIfNil(node.Tags),
		ts,
		la,
		node.RecallCount,
		node.Importance,
		node.Confidence,
		node.DecayRate,
		emotional,
		relational,
		emptyIfNil(node.SynthesizedFrom),
		string(node.SynthesisType),
	)
	if err != nil {
		return fmt.Errorf("cold index: upsert memory: %w", err)
	}
	return nil
}

// DeleteMemory implements [memory.ColdIndex].
func (i *Index) DeleteMemory(ctx context.Context, id string) error {
	if _, err := i.pool.Exec(ctx, `DELETE FROM memory_nodes WHERE id = $1`, id); err != nil {
		return fmt.Errorf("cold index: delete memory: %w", err)
	}
	return nil
}

// DeleteMemories implements [memory.ColdIndex].
func (i *Index) DeleteMemories(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	if _, err := i.pool.Exec(ctx, `DELETE FROM memory_nodes WHERE id = ANY($1)`, ids); err != nil {
		return fmt.Errorf("cold index: delete memories: %w", err)
	}
	return nil
}

// LinkMemories implements [memory.ColdIndex]. Adjacency is kept as a
// set on both sides; linking twice is idempotent.
func (i *Index) LinkMemories(ctx context.Context, a, b string) error {
	const q = `
		UPDATE memory_nodes
		SET    related_ids = array_append(related_ids, $2)
		WHERE  id = $1
		  AND  NOT ($2 = ANY(related_ids))`

	batch := &pgx.Batch{}
	batch.Queue(q, a, b)
	batch.Queue(q, b, a)
	if err := i.pool.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("cold index: link memories: %w", err)
	}
	return nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Forget-me cascade
// ─────────────────────────────────────────────────────────────────────────────

// CascadingForget implements [memory.ColdIndex].
//
// Anchors are deleted outright. Nodes with non-empty synthesized_from
// are re-inserted under [memory.AnonymizedUserID] with the personal
// context stripped, then the originals deleted. Everything else is
// deleted. The scan is bounded; a partition larger than the bound is
// forgotten across repeated calls.
func (i *Index) CascadingForget(ctx context.Context, entityID, userID string) error {
	q := fmt.Sprintf(`
		SELECT %s
		FROM   memory_nodes
		WHERE  entity_id = $1 AND user_id = $2
		LIMIT  $3`, nodeColumns)

	rows, err := i.pool.Query(ctx, q, entityID, userID, forgetBatchLimit)
	if err != nil {
		return fmt.Errorf("cold index: forget scan: %w", err)
	}
	nodes, err := collectNodes(rows)
	if err != nil {
		return fmt.Errorf("cold index: forget scan: %w", err)
	}

	var toDelete []string
	for _, n := range nodes {
		if len(n.SynthesizedFrom) > 0 && n.Type != memory.TypeAnchor {
			anon := n
			anon.UserID = memory.AnonymizedUserID
			anon.SynthesizedFrom = nil
			anon.RelationalContext = nil
			anon.EmotionalState = nil
			if err := i.UpsertMemory(ctx, anon); err != nil {
				return fmt.Errorf("cold index: anonymize %s: %w", n.ID, err)
			}
			// Same ID re-keyed to the anonymized partition: the upsert
			// above already replaced the original row.
			continue
		}
		toDelete = append(toDelete, n.ID)
	}

	if err := i.DeleteMemories(ctx, toDelete); err != nil {
		return fmt.Errorf("cold index: forget delete: %w", err)
	}
	return nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Graph expansion
// ─────────────────────────────────────────────────────────────────────────────

// ExpandGraph implements [memory.ColdIndex]. Breadth-first over
// related_ids ∪ {parent_id}; each hop is one batch fetch bounded by the
// batch limit. Seeds are excluded from the result.
func (i *Index) ExpandGraph(ctx context.Context, seeds []memory.Node, depth int) ([]memory.Node, error) {
	seen := make(map[string]bool, len(seeds))
	for _, n := range seeds {
		seen[n.ID] = true
	}

	frontier := seeds
	var expanded []memory.Node

	for d := 0; d < depth; d++ {
		var wanted []string
		for _, n := range frontier {
			for _, id := range n.RelatedMemoryIDs {
				if id != "" && !seen[id] {
					seen[id] = true
					wanted = append(wanted, id)
				}
			}
			if p := n.ParentMemoryID; p != "" && !seen[p] {
				seen[p] = true
				wanted = append(wanted, p)
			}
		}
		if len(wanted) == 0 {
			break
		}

		batch, err := i.GetByIDs(ctx, wanted)
		if err != nil {
			return nil, fmt.Errorf("cold index: expand graph: %w", err)
		}
		expanded = append(expanded, batch...)
		frontier = batch
	}

	if expanded == nil {
		expanded = []memory.Node{}
	}
	return expanded, nil
}
