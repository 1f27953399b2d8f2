package synthesis

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Enntity/cortex-sub003/internal/continuity"
	"github.com/Enntity/cortex-sub003/internal/pathway"
	"github.com/Enntity/cortex-sub003/pkg/memory"
)

// Pathways the engine drives. Their prompts live in the pathway
// directory; the engine only supplies arguments and parses the output.
const (
	turnSynthesisPathway    = "turn_synthesis"
	sessionSynthesisPathway = "session_synthesis"
	deepSynthesisPathway    = "deep_synthesis"
)

const (
	// importanceFloor drops relational insights the model rated below it.
	importanceFloor = 6

	// topicImportance is the fixed weight of topic-resonance artifacts.
	topicImportance = 5

	// defaultConfidence is assigned to auto-synthesized nodes.
	defaultConfidence = 0.7

	// existingAnchorWindow caps how many anchors session synthesis
	// offers the model for update consideration.
	existingAnchorWindow = 20

	// mergeCosineThreshold is the true-cosine similarity above which
	// deep synthesis merges near-duplicate anchors.
	mergeCosineThreshold = 0.9
)

// Compile-time check: the engine plugs into the continuity service.
var _ continuity.Synthesizer = (*Engine)(nil)

// Engine runs the synthesis passes. All writes go through the cold
// index; expression adjustments go through the hot store.
type Engine struct {
	hot     memory.HotStore
	cold    memory.ColdIndex
	runtime pathway.Runtime

	now func() time.Time
}

// NewEngine wires a synthesis engine over the given stores and pathway
// runtime.
func NewEngine(hot memory.HotStore, cold memory.ColdIndex, runtime pathway.Runtime) *Engine {
	return &Engine{
		hot:     hot,
		cold:    cold,
		runtime: runtime,
		now:     time.Now,
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// Turn synthesis
// ─────────────────────────────────────────────────────────────────────────────

// SynthesizeTurns implements [continuity.Synthesizer]. It runs one
// structured-output LLM call over the recent turns and maps the result
// to cold-tier nodes. Per-node write failures are logged and skipped;
// the pass reports how many nodes it wrote.
func (e *Engine) SynthesizeTurns(ctx context.Context, entityID, userID string, turns []memory.Turn) (int, error) {
	if len(turns) == 0 {
		return 0, nil
	}

	res, err := e.runtime.InvokePathway(ctx, turnSynthesisPathway, map[string]any{
		"transcript": formatTranscript(turns),
	})
	if err != nil {
		return 0, fmt.Errorf("synthesis: turn pathway: %w", err)
	}

	var parsed turnResult
	if err := decodeResult(resultText(res), &parsed); err != nil {
		return 0, err
	}

	written, anchors, shorthand := e.applyTurnResult(ctx, entityID, userID, parsed, "turn-synthesis")

	e.updateResonance(ctx, entityID, userID, parsed, anchors, shorthand)

	return written, nil
}

// applyTurnResult maps a parsed result to nodes and writes them.
// Returns (nodes written, anchors written, shorthand written).
func (e *Engine) applyTurnResult(ctx context.Context, entityID, userID string, parsed turnResult, passTag string) (written, anchors, shorthand int) {
	now := e.now()
	tags := []string{"auto-synthesized", passTag}

	for _, insight := range parsed.RelationalInsights {
		if insight.Importance < importanceFloor {
			continue
		}
		node := e.newNode(entityID, userID, memory.TypeAnchor, insight.Content, now)
		node.Importance = insight.Importance
		node.Tags = tags
		node.EmotionalState = &memory.EmotionalState{
			Valence:   insight.Valence,
			Intensity: float64(insight.Importance) / 10,
		}
		if e.upsert(ctx, node) {
			written++
			anchors++
		}
	}

	for _, topic := range parsed.TopicResonance {
		if strings.TrimSpace(topic.Conclusion) == "" {
			continue
		}
		content := fmt.Sprintf("Topic: %s. Feeling: %s. Conclusion: %s.",
			topic.Topic, topic.Feeling, topic.Conclusion)
		node := e.newNode(entityID, userID, memory.TypeArtifact, content, now)
		node.Importance = topicImportance
		node.Tags = tags
		if e.upsert(ctx, node) {
			written++
		}
	}

	for _, note := range parsed.IdentityNotes {
		node := e.newNode(entityID, userID, memory.TypeIdentity, note.Content, now)
		node.Importance = topicImportance
		node.Tags = append([]string{}, tags...)
		if note.Kind != "" {
			node.Tags = append(node.Tags, note.Kind)
		}
		if e.upsert(ctx, node) {
			written++
		}
	}

	if adj := parsed.ExpressionAdjustment; adj != nil && adj.SuggestedTone != "" {
		update := memory.ExpressionUpdate{
			SituationalAdjustments: []string{adj.SuggestedTone},
		}
		if err := e.hot.UpdateExpressionState(ctx, entityID, userID, update); err != nil {
			slog.Warn("synthesis: expression adjustment failed",
				"entity", entityID, "error", err)
		}
	}

	return written, anchors, shorthand
}

// ─────────────────────────────────────────────────────────────────────────────
// Session synthesis
// ─────────────────────────────────────────────────────────────────────────────

// SynthesizeSession batches over a full session. Unlike turn synthesis
// it offers the model the existing anchors so it can propose updates
// instead of near-duplicate inserts.
func (e *Engine) SynthesizeSession(ctx context.Context, entityID, userID string, turns []memory.Turn) (int, error) {
	if len(turns) == 0 {
		return 0, nil
	}

	existing, err := e.cold.GetByType(ctx, entityID, userID, memory.TypeAnchor, existingAnchorWindow)
	if err != nil {
		slog.Warn("synthesis: existing anchor fetch failed, proceeding without",
			"entity", entityID, "error", err)
		existing = nil
	}

	anchorList := make([]map[string]any, 0, len(existing))
	for _, a := range existing {
		anchorList = append(anchorList, map[string]any{"id": a.ID, "content": a.Content})
	}

	res, err := e.runtime.InvokePathway(ctx, sessionSynthesisPathway, map[string]any{
		"transcript":      formatTranscript(turns),
		"existingAnchors": anchorList,
	})
	if err != nil {
		return 0, fmt.Errorf("synthesis: session pathway: %w", err)
	}

	var parsed sessionResult
	if err := decodeResult(resultText(res), &parsed); err != nil {
		return 0, err
	}

	written, anchors, shorthand := e.applyTurnResult(ctx, entityID, userID, parsed.turnResult, "session-synthesis")
	now := e.now()

	written += e.applyAnchorUpdates(ctx, existing, parsed.AnchorUpdates)

	for _, artifact := range parsed.ResonanceArtifacts {
		node := e.newNode(entityID, userID, memory.TypeArtifact, artifact.Content, now)
		node.Importance = artifact.Importance
		if node.Importance == 0 {
			node.Importance = topicImportance
		}
		node.Tags = []string{"auto-synthesized", "session-synthesis"}
		if artifact.Shorthand {
			node.Tags = append(node.Tags, "shorthand")
		}
		if e.upsert(ctx, node) {
			written++
			if artifact.Shorthand {
				shorthand++
			}
		}
	}

	for _, note := range parsed.IdentityEvolution {
		node := e.newNode(entityID, userID, memory.TypeIdentity, note.Content, now)
		node.Importance = topicImportance
		node.Tags = []string{"auto-synthesized", "identity-evolution"}
		if note.Kind != "" {
			node.Tags = append(node.Tags, note.Kind)
		}
		if e.upsert(ctx, node) {
			written++
		}
	}

	if ref := parsed.ExpressionRefinement; ref != nil && ref.SuggestedTone != "" {
		update := memory.ExpressionUpdate{SituationalAdjustments: []string{ref.SuggestedTone}}
		if err := e.hot.UpdateExpressionState(ctx, entityID, userID, update); err != nil {
			slog.Warn("synthesis: expression refinement failed",
				"entity", entityID, "error", err)
		}
	}

	e.updateResonance(ctx, entityID, userID, parsed.turnResult, anchors, shorthand)

	return written, nil
}

// applyAnchorUpdates rewrites existing anchors in place.
func (e *Engine) applyAnchorUpdates(ctx context.Context, existing []memory.Node, updates []anchorUpdate) int {
	byID := make(map[string]memory.Node, len(existing))
	for _, a := range existing {
		byID[a.ID] = a
	}

	applied := 0
	for _, u := range updates {
		node, ok := byID[u.ID]
		if !ok {
			slog.Warn("synthesis: anchor update references unknown node", "id", u.ID)
			continue
		}
		if strings.TrimSpace(u.Content) != "" && u.Content != node.Content {
			node.Content = u.Content
			node.ContentVector = nil // stale embedding; index regenerates
		}
		if u.Valence != 0 {
			if node.EmotionalState == nil {
				node.EmotionalState = &memory.EmotionalState{}
			}
			node.EmotionalState.Valence = u.Valence
		}
		if e.upsert(ctx, node) {
			applied++
		}
	}
	return applied
}

// ─────────────────────────────────────────────────────────────────────────────
// Helpers
// ─────────────────────────────────────────────────────────────────────────────

func (e *Engine) newNode(entityID, userID string, t memory.MemoryType, content string, now time.Time) memory.Node {
	return memory.Node{
		ID:            uuid.NewString(),
		EntityID:      entityID,
		UserID:        userID,
		Type:          t,
		Content:       content,
		Timestamp:     now,
		LastAccessed:  now,
		Confidence:    defaultConfidence,
		SynthesisType: memory.SynthesisInsight,
	}
}

// upsert writes a node, logging and swallowing failures. Synthesis is
// best-effort end to end.
func (e *Engine) upsert(ctx context.Context, node memory.Node) bool {
	if err := e.cold.UpsertMemory(ctx, node); err != nil {
		slog.Warn("synthesis: node write failed",
			"type", node.Type, "entity", node.EntityID, "error", err)
		return false
	}
	return true
}

// formatTranscript renders turns as role-prefixed lines for prompts.
func formatTranscript(turns []memory.Turn) string {
	var sb strings.Builder
	for i, t := range turns {
		if i > 0 {
			sb.WriteByte('\n')
		}
		fmt.Fprintf(&sb, "%s: %s", t.Role, t.Content)
	}
	return sb.String()
}

// resultText extracts the string payload of a pathway result.
func resultText(res *pathway.Result) string {
	if res == nil {
		return ""
	}
	switch v := res.Result.(type) {
	case string:
		return v
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return ""
		}
		return string(b)
	}
}
