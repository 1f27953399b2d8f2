package synthesis

import (
	"context"
	"encoding/json"
	"math"
	"testing"

	"github.com/Enntity/cortex-sub003/pkg/memory"
)

func TestResonanceNodeIDStable(t *testing.T) {
	a := resonanceNodeID("e1", "u1")
	b := resonanceNodeID("e1", "u1")
	c := resonanceNodeID("e1", "u2")
	if a != b {
		t.Error("ID not deterministic")
	}
	if a == c {
		t.Error("different pairs must not collide")
	}
}

func TestSampleResonance(t *testing.T) {
	parsed := turnResult{
		RelationalInsights: []relationalInsight{
			{Valence: -0.4}, {Valence: 0.6},
		},
		TopicResonance: []topicResonance{
			{Topic: "a", Conclusion: "done"},
			{Topic: "b"},
		},
	}
	sample, ok := sampleResonance(parsed, 2, 1)
	if !ok {
		t.Fatal("attunement should be computable")
	}
	if sample.AnchorRate != 2 || sample.ShorthandRate != 1 {
		t.Errorf("rates wrong: %+v", sample)
	}
	if math.Abs(sample.EmotionalRange-0.5) > 1e-9 {
		t.Errorf("emotional range = %v, want 0.5", sample.EmotionalRange)
	}
	if math.Abs(sample.AttunementRatio-0.5) > 1e-9 {
		t.Errorf("attunement = %v, want 0.5", sample.AttunementRatio)
	}
}

func TestSampleResonanceSingleInsight(t *testing.T) {
	sample, ok := sampleResonance(turnResult{
		RelationalInsights: []relationalInsight{{Valence: 0.9}},
	}, 1, 0)
	if sample.EmotionalRange != 0 {
		t.Errorf("one insight has no spread: %v", sample.EmotionalRange)
	}
	if ok {
		t.Error("no topics, attunement must be unknown")
	}
}

func TestBlendResonanceFirstSample(t *testing.T) {
	sample := memory.ResonanceMetrics{AnchorRate: 2, EmotionalRange: 0.4}
	got := blendResonance(nil, sample, true)
	if got.AnchorRate != 2 || got.Trend != memory.TrendUnknown {
		t.Errorf("first sample should pass through with unknown trend: %+v", got)
	}
}

func TestBlendResonanceEMA(t *testing.T) {
	prior := &memory.ResonanceMetrics{AnchorRate: 1, EmotionalRange: 0.2, AttunementRatio: 0.5}
	sample := memory.ResonanceMetrics{AnchorRate: 3, EmotionalRange: 0.8, AttunementRatio: 1}

	got := blendResonance(prior, sample, true)

	// 0.3·3 + 0.7·1 = 1.6
	if math.Abs(got.AnchorRate-1.6) > 1e-9 {
		t.Errorf("anchor rate = %v, want 1.6", got.AnchorRate)
	}
	if got.Trend != memory.TrendWarming {
		t.Errorf("all signals rising, trend = %q", got.Trend)
	}
}

func TestBlendResonanceCoolingAndStable(t *testing.T) {
	prior := &memory.ResonanceMetrics{AnchorRate: 2, EmotionalRange: 0.6, AttunementRatio: 0.8}

	cooled := blendResonance(prior, memory.ResonanceMetrics{}, true)
	if cooled.Trend != memory.TrendCooling {
		t.Errorf("all signals falling, trend = %q", cooled.Trend)
	}

	same := blendResonance(prior, *prior, true)
	if same.Trend != memory.TrendStable {
		t.Errorf("unchanged signals, trend = %q", same.Trend)
	}
}

func TestBlendResonanceMissingAttunementKeepsPrior(t *testing.T) {
	prior := &memory.ResonanceMetrics{AttunementRatio: 0.7}
	got := blendResonance(prior, memory.ResonanceMetrics{}, false)
	if got.AttunementRatio != 0.7 {
		t.Errorf("attunement should carry over: %v", got.AttunementRatio)
	}
}

func TestUpdateResonancePersistsAndBlends(t *testing.T) {
	cold := newRecordingCold()
	eng := NewEngine(&exprRecorder{}, cold, &scriptedRuntime{})
	ctx := context.Background()

	parsed := turnResult{
		TopicResonance: []topicResonance{{Topic: "a", Conclusion: "x"}},
	}
	eng.updateResonance(ctx, "e1", "u1", parsed, 2, 0)

	first, err := eng.Resonance(ctx, "e1", "u1")
	if err != nil {
		t.Fatal(err)
	}
	if first.AnchorRate != 2 || first.Trend != memory.TrendUnknown {
		t.Errorf("first write wrong: %+v", first)
	}

	eng.updateResonance(ctx, "e1", "u1", parsed, 4, 0)
	second, err := eng.Resonance(ctx, "e1", "u1")
	if err != nil {
		t.Fatal(err)
	}
	// 0.3·4 + 0.7·2 = 2.6
	if math.Abs(second.AnchorRate-2.6) > 1e-9 {
		t.Errorf("EMA not applied: %v", second.AnchorRate)
	}

	// Carrier node stays a single EXPRESSION node with the tag.
	nodes := cold.written(memory.TypeExpression)
	if len(nodes) != 1 {
		t.Fatalf("expected 1 carrier node, got %d", len(nodes))
	}
	var m memory.ResonanceMetrics
	if err := json.Unmarshal([]byte(nodes[0].Content), &m); err != nil {
		t.Fatalf("carrier content not JSON: %v", err)
	}
}

func TestResonanceUnknownWhenAbsent(t *testing.T) {
	eng := NewEngine(&exprRecorder{}, newRecordingCold(), &scriptedRuntime{})
	m, err := eng.Resonance(context.Background(), "e1", "u1")
	if err != nil {
		t.Fatal(err)
	}
	if m.Trend != memory.TrendUnknown {
		t.Errorf("trend = %q, want unknown", m.Trend)
	}
}
