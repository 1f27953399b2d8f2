// Package synthesis distills episodic conversation into durable
// cold-tier memory: relational anchors, resonance artifacts, identity
// notes, and expression adjustments, plus the blended resonance metrics
// tracking how the entity↔user relationship is moving.
package synthesis

// turnResult is the structured output of one turn-synthesis LLM call.
type turnResult struct {
	RelationalInsights   []relationalInsight   `json:"relationalInsights"`
	IdentityNotes        []identityNote        `json:"identityNotes"`
	TopicResonance       []topicResonance      `json:"topicResonance"`
	ExpressionAdjustment *expressionAdjustment `json:"expressionAdjustment"`
}

type relationalInsight struct {
	Content string `json:"content"`

	// Valence is the emotional polarity in [-1, 1].
	Valence float64 `json:"valence"`

	// Importance is the model-assigned weight in [1, 10]. Insights below
	// the importance floor are dropped.
	Importance int `json:"importance"`
}

type identityNote struct {
	Content string `json:"content"`

	// Kind is one of growth, realization, preference, boundary.
	Kind string `json:"kind"`
}

type topicResonance struct {
	Topic   string `json:"topic"`
	Feeling string `json:"feeling"`

	// Conclusion is what the pair settled on. Topics without one are
	// dropped: an unresolved thread is not yet a memory.
	Conclusion string `json:"conclusion"`
}

type expressionAdjustment struct {
	SuggestedTone string `json:"suggestedTone"`
	Reason        string `json:"reason"`
}

// sessionResult extends turnResult for whole-session synthesis.
type sessionResult struct {
	turnResult

	AnchorUpdates        []anchorUpdate        `json:"anchorUpdates"`
	ResonanceArtifacts   []resonanceArtifact   `json:"resonanceArtifacts"`
	IdentityEvolution    []identityNote        `json:"identityEvolution"`
	ExpressionRefinement *expressionAdjustment `json:"expressionRefinement"`
}

type anchorUpdate struct {
	// ID references an existing anchor node.
	ID      string `json:"id"`
	Content string `json:"content"`

	// Valence, when non-zero, replaces the anchor's emotional valence.
	Valence float64 `json:"valence"`
}

type resonanceArtifact struct {
	Content string `json:"content"`

	// Shorthand marks shared in-jokes and callbacks; these feed the
	// shorthand rate of the resonance metrics.
	Shorthand bool `json:"shorthand"`

	Importance int `json:"importance"`
}

// deepResult is the structured output of a deep-consolidation call.
type deepResult struct {
	Consolidations []consolidation `json:"consolidations"`
}

type consolidation struct {
	Content string `json:"content"`

	// SourceIDs lists the nodes this pattern was distilled from.
	SourceIDs []string `json:"sourceIds"`

	Importance int `json:"importance"`
}
