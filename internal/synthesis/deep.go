package synthesis

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/Enntity/cortex-sub003/internal/continuity"
	"github.com/Enntity/cortex-sub003/pkg/memory"
)

// Deep-synthesis defaults.
const (
	defaultLookBackDays = 30
	defaultMaxMemories  = 100
)

// SynthesizeDeep implements [continuity.Synthesizer]. The periodic
// consolidation pass pattern-finds across sessions: near-duplicate
// anchors are merged by true cosine similarity, and an LLM call
// distills recurring themes into consolidation artifacts.
func (e *Engine) SynthesizeDeep(ctx context.Context, entityID, userID string, opts continuity.DeepSynthesisOpts) (int, error) {
	days := opts.DaysToLookBack
	if days <= 0 {
		days = defaultLookBackDays
	}
	maxMemories := opts.MaxMemories
	if maxMemories <= 0 {
		maxMemories = defaultMaxMemories
	}
	since := e.now().AddDate(0, 0, -days)

	candidates, err := e.gatherCandidates(ctx, entityID, userID, since, maxMemories)
	if err != nil {
		return 0, err
	}
	if len(candidates) == 0 {
		return 0, nil
	}

	written := e.mergeNearDuplicateAnchors(ctx, candidates)
	written += e.consolidatePatterns(ctx, entityID, userID, candidates)

	return written, nil
}

// gatherCandidates collects recent anchors and artifacts as the source
// material for consolidation.
func (e *Engine) gatherCandidates(ctx context.Context, entityID, userID string, since time.Time, limit int) ([]memory.Node, error) {
	var candidates []memory.Node
	for _, t := range []memory.MemoryType{memory.TypeAnchor, memory.TypeArtifact} {
		nodes, err := e.cold.GetByType(ctx, entityID, userID, t, limit)
		if err != nil {
			return nil, fmt.Errorf("synthesis: deep candidate fetch (%s): %w", t, err)
		}
		for _, n := range nodes {
			if n.Timestamp.Before(since) {
				continue
			}
			candidates = append(candidates, n)
			if len(candidates) >= limit {
				return candidates, nil
			}
		}
	}
	return candidates, nil
}

// mergeNearDuplicateAnchors folds anchors whose embeddings are nearly
// identical into the more important one. The survivor records the
// merged node in SynthesizedFrom; the duplicate is deleted.
func (e *Engine) mergeNearDuplicateAnchors(ctx context.Context, candidates []memory.Node) int {
	var anchors []memory.Node
	for _, n := range candidates {
		if n.Type == memory.TypeAnchor && len(n.ContentVector) > 0 {
			anchors = append(anchors, n)
		}
	}

	merged := make(map[string]bool)
	written := 0
	for i := 0; i < len(anchors); i++ {
		if merged[anchors[i].ID] {
			continue
		}
		for j := i + 1; j < len(anchors); j++ {
			if merged[anchors[j].ID] {
				continue
			}
			if cosine(anchors[i].ContentVector, anchors[j].ContentVector) < mergeCosineThreshold {
				continue
			}

			survivor, duplicate := anchors[i], anchors[j]
			if duplicate.Importance > survivor.Importance {
				survivor, duplicate = duplicate, survivor
			}

			survivor.SynthesizedFrom = append(survivor.SynthesizedFrom, duplicate.ID)
			survivor.SynthesisType = memory.SynthesisConsolidation
			if !e.upsert(ctx, survivor) {
				continue
			}
			if err := e.cold.DeleteMemory(ctx, duplicate.ID); err != nil {
				slog.Warn("synthesis: duplicate anchor delete failed",
					"id", duplicate.ID, "error", err)
				continue
			}
			merged[duplicate.ID] = true
			anchors[i] = survivor
			written++
		}
	}
	return written
}

// consolidatePatterns asks the deep-synthesis pathway for cross-session
// patterns and writes them as consolidation artifacts.
func (e *Engine) consolidatePatterns(ctx context.Context, entityID, userID string, candidates []memory.Node) int {
	memories := make([]map[string]any, 0, len(candidates))
	for _, n := range candidates {
		memories = append(memories, map[string]any{
			"id":      n.ID,
			"type":    string(n.Type),
			"content": n.Content,
		})
	}

	res, err := e.runtime.InvokePathway(ctx, deepSynthesisPathway, map[string]any{
		"memories": memories,
	})
	if err != nil {
		slog.Warn("synthesis: deep pathway failed", "entity", entityID, "error", err)
		return 0
	}

	var parsed deepResult
	if err := decodeResult(resultText(res), &parsed); err != nil {
		slog.Warn("synthesis: deep output unparseable", "entity", entityID, "error", err)
		return 0
	}

	now := e.now()
	written := 0
	for _, c := range parsed.Consolidations {
		node := e.newNode(entityID, userID, memory.TypeArtifact, c.Content, now)
		node.Importance = c.Importance
		if node.Importance == 0 {
			node.Importance = topicImportance
		}
		node.Tags = []string{"auto-synthesized", "deep-synthesis"}
		node.SynthesizedFrom = c.SourceIDs
		node.SynthesisType = memory.SynthesisPattern
		if e.upsert(ctx, node) {
			written++
		}
	}
	return written
}

// cosine computes true cosine similarity between two vectors. Returns
// 0 when dimensions differ or either vector is zero.
func cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
