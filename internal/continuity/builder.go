// Package continuity implements the orchestrating layer of the
// two-tier memory subsystem: pre-response context assembly, turn
// recording with session semantics, and the fire-and-forget synthesis
// scheduler that writes distilled memories back into the cold tier.
package continuity

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Enntity/cortex-sub003/internal/pathway"
	"github.com/Enntity/cortex-sub003/pkg/memory"
)

// Context-builder defaults.
const (
	defaultRecentTurns      = 20
	defaultMemoryLimit      = 5
	defaultExpandDepth      = 1
	defaultActiveContextTTL = 5 * time.Minute

	// narrativePathway is the pathway that summarizes retrieved memories
	// into a grounding paragraph.
	narrativePathway = "memory_narrative"
)

// ContextOpts tunes one context-window assembly.
type ContextOpts struct {
	// MemoryLimit caps semantic retrieval. 0 uses the builder default.
	MemoryLimit int

	// RecentTurns caps the episodic turns included. 0 uses the default.
	RecentTurns int

	// SkipCache forces a fresh retrieval even when the cached narrative
	// has not drifted.
	SkipCache bool

	// NoGraphExpansion disables the 1-hop graph walk around retrieved
	// memories.
	NoGraphExpansion bool
}

// ContextBuilder assembles the continuity block injected into the
// system prompt. The hot-tier fetches run concurrently; the cold-tier
// retrieval and narrative call are skipped whenever the cached
// narrative still covers the query's topic.
type ContextBuilder struct {
	hot     memory.HotStore
	cold    memory.ColdIndex
	runtime pathway.Runtime

	recentTurns    int
	memoryLimit    int
	expandDepth    int
	driftThreshold float64
	cacheTTL       time.Duration

	now func() time.Time
}

// BuilderOption is a functional option for [NewContextBuilder].
type BuilderOption func(*ContextBuilder)

// WithDriftThreshold overrides the Jaccard drift threshold.
func WithDriftThreshold(t float64) BuilderOption {
	return func(b *ContextBuilder) { b.driftThreshold = t }
}

// WithExpandDepth overrides the graph-expansion depth. 0 disables it.
func WithExpandDepth(d int) BuilderOption {
	return func(b *ContextBuilder) { b.expandDepth = d }
}

// NewContextBuilder creates a builder over the given stores. runtime
// drives the narrative pathway; a nil runtime skips narrative synthesis
// and falls back to the raw memory listing.
func NewContextBuilder(hot memory.HotStore, cold memory.ColdIndex, runtime pathway.Runtime, opts ...BuilderOption) *ContextBuilder {
	b := &ContextBuilder{
		hot:            hot,
		cold:           cold,
		runtime:        runtime,
		recentTurns:    defaultRecentTurns,
		memoryLimit:    defaultMemoryLimit,
		expandDepth:    defaultExpandDepth,
		driftThreshold: defaultDriftThreshold,
		cacheTTL:       defaultActiveContextTTL,
		now:            time.Now,
	}
	for _, o := range opts {
		o(b)
	}
	return b
}

// Build assembles the context block for one turn.
func (b *ContextBuilder) Build(ctx context.Context, entityID, userID, query string, opts ContextOpts) (string, error) {
	recentTurns := opts.RecentTurns
	if recentTurns <= 0 {
		recentTurns = b.recentTurns
	}
	memoryLimit := opts.MemoryLimit
	if memoryLimit <= 0 {
		memoryLimit = b.memoryLimit
	}

	var (
		turns      []memory.Turn
		expression *memory.ExpressionState
		cached     *memory.ActiveContext
	)

	eg, egCtx := errgroup.WithContext(ctx)

	eg.Go(func() error {
		t, err := b.hot.LastTurns(egCtx, entityID, userID, recentTurns)
		if err != nil {
			return fmt.Errorf("continuity: fetch recent turns: %w", err)
		}
		turns = t
		return nil
	})
	eg.Go(func() error {
		es, err := b.hot.GetExpressionState(egCtx, entityID, userID)
		if err != nil {
			return fmt.Errorf("continuity: fetch expression state: %w", err)
		}
		expression = es
		return nil
	})
	eg.Go(func() error {
		ac, err := b.hot.GetActiveContext(egCtx, entityID, userID)
		if err != nil {
			return fmt.Errorf("continuity: fetch active context: %w", err)
		}
		cached = ac
		return nil
	})

	if err := eg.Wait(); err != nil {
		return "", err
	}

	if !opts.SkipCache && cached != nil && !hasTopicDrifted(query, cached.NarrativeContext, b.driftThreshold) {
		nodes, err := b.cold.GetByIDs(ctx, append(
			append([]string{}, cached.CurrentRelationalAnchors...),
			cached.ActiveResonanceArtifacts...))
		if err != nil {
			slog.Warn("continuity: cached memory fetch failed, continuing without",
				"entity", entityID, "error", err)
			nodes = nil
		}
		return formatContextBlock(cached.NarrativeContext, expression, turns, nodes), nil
	}

	nodes, narrative := b.retrieve(ctx, entityID, userID, query, memoryLimit, opts)

	b.writeBackCache(ctx, entityID, userID, narrative, expression, nodes)

	return formatContextBlock(narrative, expression, turns, nodes), nil
}

// retrieve runs the expensive path: semantic search, optional graph
// expansion, and the narrative pathway. Retrieval failures degrade to
// whatever was fetched so far; they never abort the turn.
func (b *ContextBuilder) retrieve(ctx context.Context, entityID, userID, query string, limit int, opts ContextOpts) ([]memory.Node, string) {
	nodes, err := b.cold.SearchSemantic(ctx, entityID, userID, query, limit)
	if err != nil {
		slog.Warn("continuity: semantic search failed, continuing without memories",
			"entity", entityID, "error", err)
		return nil, ""
	}

	if !opts.NoGraphExpansion && b.expandDepth > 0 && len(nodes) > 0 {
		expanded, err := b.cold.ExpandGraph(ctx, nodes, b.expandDepth)
		if err != nil {
			slog.Warn("continuity: graph expansion failed", "entity", entityID, "error", err)
		} else {
			nodes = append(nodes, expanded...)
		}
	}

	return nodes, b.narrate(ctx, query, nodes)
}

// narrate asks the narrative pathway for a short grounding paragraph.
// Failures fall back to an empty narrative.
func (b *ContextBuilder) narrate(ctx context.Context, query string, nodes []memory.Node) string {
	if b.runtime == nil || len(nodes) == 0 {
		return ""
	}

	memories := make([]map[string]any, 0, len(nodes))
	for _, n := range nodes {
		memories = append(memories, map[string]any{
			"type":       string(n.Type),
			"content":    n.Content,
			"importance": n.Importance,
		})
	}

	res, err := b.runtime.InvokePathway(ctx, narrativePathway, map[string]any{
		"query":    query,
		"memories": memories,
	})
	if err != nil {
		slog.Warn("continuity: narrative synthesis failed, using raw memories", "error", err)
		return ""
	}
	narrative, _ := res.Result.(string)
	return narrative
}

// writeBackCache refreshes the active-context cache after a fresh
// retrieval. Best-effort.
func (b *ContextBuilder) writeBackCache(ctx context.Context, entityID, userID, narrative string, expression *memory.ExpressionState, nodes []memory.Node) {
	now := b.now()
	ac := memory.ActiveContext{
		CurrentRelationalAnchors: []string{},
		ActiveResonanceArtifacts: []string{},
		ActiveValues:             []string{},
		NarrativeContext:         narrative,
		LastUpdated:              now,
		ExpiresAt:                now.Add(b.cacheTTL),
	}
	if expression != nil {
		ac.CurrentExpressionStyle = expression.LastInteractionTone
	}
	for _, n := range nodes {
		switch n.Type {
		case memory.TypeAnchor:
			ac.CurrentRelationalAnchors = append(ac.CurrentRelationalAnchors, n.ID)
		case memory.TypeArtifact:
			ac.ActiveResonanceArtifacts = append(ac.ActiveResonanceArtifacts, n.ID)
		case memory.TypeValue:
			ac.ActiveValues = append(ac.ActiveValues, n.Content)
		}
	}

	if err := b.hot.SetActiveContext(ctx, entityID, userID, ac); err != nil {
		slog.Warn("continuity: active-context write-back failed",
			"entity", entityID, "error", err)
	}
}
