// Package memory defines the two-tier continuity-memory architecture used
// by entity agents.
//
// The architecture splits along access latency and lifetime:
//
//   - Hot tier ([HotStore]): the per-(entity, user) episodic stream,
//     active-context cache, expression state, and pulse task state. Fast
//     key/value storage with short or no TTLs.
//   - Cold tier ([ColdIndex]): typed, vector-indexed memory [Node] records
//     with ID-based graph links, supporting semantic search with recall
//     re-ranking, full-text search, graph expansion, and the forget-me
//     cascade.
//
// All interfaces are public so that external packages can supply
// alternative backends (Redis, Postgres/pgvector, in-memory, …) without
// depending on the runtime's internals.
//
// Every implementation must be safe for concurrent use.
package memory

import (
	"context"
	"time"
)

// ─────────────────────────────────────────────────────────────────────────────
// Hot tier
// ─────────────────────────────────────────────────────────────────────────────

// HotStore is the hot memory tier. All operations are partitioned by
// (entityID, userID).
//
// Implementations must be safe for concurrent use. Failures should be
// surfaced as errors; degrading them to no-ops is the caller's policy,
// not the store's.
type HotStore interface {
	// AppendTurn appends a turn to the episodic stream, evicting the
	// oldest entries past the configured capacity and refreshing the
	// stream's TTL.
	AppendTurn(ctx context.Context, entityID, userID string, turn Turn) error

	// LastTurns returns up to n most-recent turns in chronological
	// order (oldest first). Returns an empty (non-nil) slice when the
	// stream is empty.
	LastTurns(ctx context.Context, entityID, userID string, n int) ([]Turn, error)

	// ClearTurns removes the episodic stream.
	ClearTurns(ctx context.Context, entityID, userID string) error

	// GetActiveContext returns the cached active context, or (nil, nil)
	// when absent or expired.
	GetActiveContext(ctx context.Context, entityID, userID string) (*ActiveContext, error)

	// SetActiveContext writes the active-context cache with its short TTL.
	SetActiveContext(ctx context.Context, entityID, userID string, ac ActiveContext) error

	// InvalidateActiveContext drops the cached active context.
	InvalidateActiveContext(ctx context.Context, entityID, userID string) error

	// GetExpressionState returns the expression state, or (nil, nil)
	// when none has been written yet.
	GetExpressionState(ctx context.Context, entityID, userID string) (*ExpressionState, error)

	// UpdateExpressionState applies a partial update to the expression
	// state, creating it if absent. The read-modify-write is
	// last-write-wins under concurrent turns.
	UpdateExpressionState(ctx context.Context, entityID, userID string, update ExpressionUpdate) error

	// GetPulseState returns the pulse task state, or (nil, nil) when absent.
	GetPulseState(ctx context.Context, entityID, userID string) (*PulseState, error)

	// SetPulseState writes the pulse task state with a 24 h TTL.
	SetPulseState(ctx context.Context, entityID, userID string, ps PulseState) error

	// ClearPulseState removes the pulse task state.
	ClearPulseState(ctx context.Context, entityID, userID string) error

	// ClearSession removes the episodic stream, active context, and
	// pulse state but preserves expression state. Used by the forget-me
	// cascade and session resets.
	ClearSession(ctx context.Context, entityID, userID string) error
}

// ─────────────────────────────────────────────────────────────────────────────
// Cold tier
// ─────────────────────────────────────────────────────────────────────────────

// RecallWeights parameterise the recall re-ranking formula
//
//	score = WVector·v + WImportance·(importance/10) + WRecency·exp(-Δdays·decay)
//
// used by [ColdIndex.SearchSemantic].
type RecallWeights struct {
	WVector     float64
	WImportance float64
	WRecency    float64

	// DefaultDecay is the per-day decay applied when a node carries no
	// DecayRate of its own.
	DefaultDecay float64
}

// DefaultRecallWeights is the documented (0.7, 0.2, 0.1) split.
var DefaultRecallWeights = RecallWeights{
	WVector:      0.7,
	WImportance:  0.2,
	WRecency:     0.1,
	DefaultDecay: 0.05,
}

// TextSearchOpts refines [ColdIndex.SearchFullText]. All non-zero fields
// are applied as AND conditions.
type TextSearchOpts struct {
	// Types restricts results to the listed memory types.
	Types []MemoryType

	// MinImportance filters out nodes below this importance.
	MinImportance int

	// Since filters out nodes formed before this instant.
	Since time.Time

	// Limit caps the number of results. 0 applies the backend default.
	Limit int

	// Skip offsets into the result set for paging.
	Skip int
}

// TopOpts refines [ColdIndex.GetTopByImportance].
type TopOpts struct {
	Types         []MemoryType
	Limit         int
	MinImportance int
}

// ColdIndex is the cold memory tier: a vector-searchable index of [Node]
// records with ID-based graph adjacency.
//
// An unconfigured index degrades to no-ops: every method returns empty
// results (or false) and a nil error, never raising to the caller.
//
// Implementations must be safe for concurrent use.
type ColdIndex interface {
	// SearchSemantic embeds query, filters by (entityID, userID) and the
	// optional type set, requests 2·limit candidates, re-ranks them with
	// the recall formula, and trims to limit. Ranking is a pure function
	// of index state, query embedding, and weights; ties break by
	// Timestamp descending. The top results trigger a debounced
	// best-effort recall-count bump.
	SearchSemantic(ctx context.Context, entityID, userID, query string, limit int, types ...MemoryType) ([]Node, error)

	// SearchFullText performs keyword search over node content.
	SearchFullText(ctx context.Context, entityID, userID, query string, opts TextSearchOpts) ([]Node, error)

	// GetByType returns nodes of the given type, newest first.
	GetByType(ctx context.Context, entityID, userID string, t MemoryType, limit int) ([]Node, error)

	// GetByIDs batch-fetches nodes by ID. Missing IDs are skipped.
	GetByIDs(ctx context.Context, ids []string) ([]Node, error)

	// GetTopByImportance returns nodes sorted by importance then
	// recency, for bootstrap context assembly.
	GetTopByImportance(ctx context.Context, entityID, userID string, opts TopOpts) ([]Node, error)

	// HasMemories reports whether any node exists for (entityID, userID).
	HasMemories(ctx context.Context, entityID, userID string) (bool, error)

	// UpsertMemory inserts or fully replaces a node by ID. Re-upserting
	// identical content is safe; RecallCount is preserved on replace.
	UpsertMemory(ctx context.Context, node Node) error

	// DeleteMemory removes a node by ID. Deleting a missing node is not
	// an error.
	DeleteMemory(ctx context.Context, id string) error

	// DeleteMemories removes a batch of nodes by ID.
	DeleteMemories(ctx context.Context, ids []string) error

	// LinkMemories adds each node to the other's RelatedMemoryIDs set.
	// Linking twice leaves one occurrence on each side.
	LinkMemories(ctx context.Context, a, b string) error

	// CascadingForget implements the forget-me policy for
	// (entityID, userID): anchors are deleted; nodes with non-empty
	// SynthesizedFrom are re-inserted under [AnonymizedUserID] with
	// SynthesizedFrom, RelationalContext, and EmotionalState cleared,
	// then the originals deleted; everything else is deleted.
	CascadingForget(ctx context.Context, entityID, userID string) error

	// ExpandGraph walks RelatedMemoryIDs ∪ {ParentMemoryID} from the
	// seed nodes up to depth hops and returns the newly reached nodes
	// (seeds excluded). ExpandGraph(S, d) ⊇ ExpandGraph(S, d−1).
	ExpandGraph(ctx context.Context, seeds []Node, depth int) ([]Node, error)
}
