package synthesis

import (
	"context"
	"encoding/json"
	"log/slog"
	"math"

	"github.com/google/uuid"

	"github.com/Enntity/cortex-sub003/pkg/memory"
)

const (
	// resonanceAlpha is the EMA blend factor for new samples.
	resonanceAlpha = 0.3

	// trendThreshold is the minimum per-signal delta that counts toward
	// a warming or cooling trend.
	trendThreshold = 0.05

	// resonanceTag marks the metrics carrier node.
	resonanceTag = "resonance-metrics"
)

// resonanceNodeID derives the stable carrier-node ID for a pair, so
// every synthesis pass updates the same node.
func resonanceNodeID(entityID, userID string) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte("resonance:"+entityID+":"+userID)).String()
}

// sampleResonance computes the raw metrics of one synthesis result.
// attunement carries ok=false when the result had no topics to judge.
func sampleResonance(parsed turnResult, anchors, shorthand int) (sample memory.ResonanceMetrics, attunementOK bool) {
	sample.AnchorRate = float64(anchors)
	sample.ShorthandRate = float64(shorthand)

	if len(parsed.RelationalInsights) >= 2 {
		minV, maxV := math.Inf(1), math.Inf(-1)
		for _, in := range parsed.RelationalInsights {
			minV = math.Min(minV, in.Valence)
			maxV = math.Max(maxV, in.Valence)
		}
		// Valence spans [-1, 1]; halve the spread to land in [0, 1].
		sample.EmotionalRange = math.Min(1, (maxV-minV)/2)
	}

	if total := len(parsed.TopicResonance); total > 0 {
		concluded := 0
		for _, topic := range parsed.TopicResonance {
			if topic.Conclusion != "" {
				concluded++
			}
		}
		sample.AttunementRatio = float64(concluded) / float64(total)
		attunementOK = true
	}

	sample.Trend = memory.TrendUnknown
	return sample, attunementOK
}

// blendResonance folds sample into prior with the EMA factor and
// derives the trend from the per-signal deltas: two of three signals
// moving past the threshold in the same direction decide it.
func blendResonance(prior *memory.ResonanceMetrics, sample memory.ResonanceMetrics, attunementOK bool) memory.ResonanceMetrics {
	if prior == nil {
		sample.Trend = memory.TrendUnknown
		return sample
	}

	ema := func(old, next float64) float64 {
		return resonanceAlpha*next + (1-resonanceAlpha)*old
	}

	blended := memory.ResonanceMetrics{
		AnchorRate:     ema(prior.AnchorRate, sample.AnchorRate),
		ShorthandRate:  ema(prior.ShorthandRate, sample.ShorthandRate),
		EmotionalRange: ema(prior.EmotionalRange, sample.EmotionalRange),
	}
	if attunementOK {
		blended.AttunementRatio = ema(prior.AttunementRatio, sample.AttunementRatio)
	} else {
		blended.AttunementRatio = prior.AttunementRatio
	}

	warming, cooling := 0, 0
	for _, delta := range []float64{
		blended.AnchorRate - prior.AnchorRate,
		blended.EmotionalRange - prior.EmotionalRange,
		blended.AttunementRatio - prior.AttunementRatio,
	} {
		switch {
		case delta > trendThreshold:
			warming++
		case delta < -trendThreshold:
			cooling++
		}
	}
	switch {
	case warming >= 2:
		blended.Trend = memory.TrendWarming
	case cooling >= 2:
		blended.Trend = memory.TrendCooling
	default:
		blended.Trend = memory.TrendStable
	}
	return blended
}

// updateResonance recomputes and persists the pair's resonance metrics
// after a synthesis pass. Best-effort.
func (e *Engine) updateResonance(ctx context.Context, entityID, userID string, parsed turnResult, anchors, shorthand int) {
	id := resonanceNodeID(entityID, userID)

	var prior *memory.ResonanceMetrics
	nodes, err := e.cold.GetByIDs(ctx, []string{id})
	if err != nil {
		slog.Warn("synthesis: resonance read failed", "entity", entityID, "error", err)
	} else if len(nodes) == 1 {
		var m memory.ResonanceMetrics
		if err := json.Unmarshal([]byte(nodes[0].Content), &m); err == nil {
			prior = &m
		}
	}

	sample, attunementOK := sampleResonance(parsed, anchors, shorthand)
	blended := blendResonance(prior, sample, attunementOK)

	content, err := json.Marshal(blended)
	if err != nil {
		slog.Warn("synthesis: resonance encode failed", "error", err)
		return
	}

	node := memory.Node{
		ID:           id,
		EntityID:     entityID,
		UserID:       userID,
		Type:         memory.TypeExpression,
		Content:      string(content),
		Tags:         []string{resonanceTag},
		Timestamp:    e.now(),
		LastAccessed: e.now(),
		Importance:   1,
		Confidence:   1,
	}
	if err := e.cold.UpsertMemory(ctx, node); err != nil {
		slog.Warn("synthesis: resonance write failed", "entity", entityID, "error", err)
	}
}

// Resonance returns the current blended metrics for a pair, or zero
// metrics with TrendUnknown when none exist yet.
func (e *Engine) Resonance(ctx context.Context, entityID, userID string) (memory.ResonanceMetrics, error) {
	nodes, err := e.cold.GetByIDs(ctx, []string{resonanceNodeID(entityID, userID)})
	if err != nil {
		return memory.ResonanceMetrics{Trend: memory.TrendUnknown}, err
	}
	if len(nodes) != 1 {
		return memory.ResonanceMetrics{Trend: memory.TrendUnknown}, nil
	}
	var m memory.ResonanceMetrics
	if err := json.Unmarshal([]byte(nodes[0].Content), &m); err != nil {
		return memory.ResonanceMetrics{Trend: memory.TrendUnknown}, nil
	}
	return m, nil
}
