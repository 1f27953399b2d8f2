package memory

import "time"

// MemoryType classifies a long-term memory node.
type MemoryType string

const (
	// TypeCore holds foundational facts the entity should never lose.
	TypeCore MemoryType = "CORE"

	// TypeCapability records what the entity has learned it can do.
	TypeCapability MemoryType = "CAPABILITY"

	// TypeAnchor encodes the emotional/relational state between an entity
	// and a user (a "relational anchor").
	TypeAnchor MemoryType = "ANCHOR"

	// TypeArtifact is a durable synthesized insight distilled from a
	// conversation (a "resonance artifact").
	TypeArtifact MemoryType = "ARTIFACT"

	// TypeIdentity is a note about how the entity itself is evolving.
	TypeIdentity MemoryType = "IDENTITY"

	// TypeExpression captures stylistic/tonal preferences.
	TypeExpression MemoryType = "EXPRESSION"

	// TypeValue records a value or principle the user holds.
	TypeValue MemoryType = "VALUE"

	// TypeEpisode is a preserved episodic fragment promoted from the
	// hot stream.
	TypeEpisode MemoryType = "EPISODE"
)

// IsValid reports whether t is a recognised memory type.
func (t MemoryType) IsValid() bool {
	switch t {
	case TypeCore, TypeCapability, TypeAnchor, TypeArtifact,
		TypeIdentity, TypeExpression, TypeValue, TypeEpisode:
		return true
	}
	return false
}

// SynthesisType labels how a synthesized node was derived.
type SynthesisType string

const (
	SynthesisConsolidation SynthesisType = "consolidation"
	SynthesisInsight       SynthesisType = "insight"
	SynthesisPattern       SynthesisType = "pattern"
	SynthesisLearning      SynthesisType = "learning"
)

// AnonymizedUserID is the user partition under which de-personalised
// artifacts are re-inserted during a forget-me cascade.
const AnonymizedUserID = "anonymized"

// EmotionalState captures the affective reading attached to a memory node.
type EmotionalState struct {
	// Valence is the positive/negative polarity in [-1, 1].
	Valence float64 `json:"valence"`

	// Intensity is the strength of the emotion in [0, 1].
	Intensity float64 `json:"intensity"`

	// UserImpact describes how the moment affected the user.
	UserImpact string `json:"userImpact,omitempty"`
}

// RelationalContext captures the state of the entity↔user relationship
// at the time a node was written.
type RelationalContext struct {
	// BondStrength is the synthesizer's estimate of relationship depth in [0, 1].
	BondStrength float64 `json:"bondStrength"`

	// CommunicationStyle lists observed stylistic traits ("dry humour", …).
	CommunicationStyle []string `json:"communicationStyle,omitempty"`

	// SharedReferences lists in-jokes, callbacks, and shorthand the pair share.
	SharedReferences []string `json:"sharedReferences,omitempty"`

	// UserValues lists values the user has expressed.
	UserValues []string `json:"userValues,omitempty"`

	// UserStruggles lists difficulties the user has shared.
	UserStruggles []string `json:"userStruggles,omitempty"`
}

// Node is the atom of long-term (cold) memory. Nodes are vector-indexed
// for semantic retrieval and linked into a graph via ID-based adjacency
// (RelatedMemoryIDs, ParentMemoryID) — no in-memory back-references.
type Node struct {
	// ID is the unique node identifier (UUID).
	ID string

	// EntityID and UserID partition the search space. Most queries are
	// scoped to a single (EntityID, UserID) pair.
	EntityID string
	UserID   string

	// Type classifies the node.
	Type MemoryType

	// Content is the memory text.
	Content string

	// ContentVector is the embedding of Content. Dimension is fixed per
	// index. May be empty when embedding generation failed — the node
	// remains reachable by filter and full-text search.
	ContentVector []float32

	// RelatedMemoryIDs is the graph adjacency set. Bidirectional after
	// LinkMemories, but not enforced as a hard constraint.
	RelatedMemoryIDs []string

	// ParentMemoryID optionally points at the node this one refines.
	ParentMemoryID string

	// Tags are free-form labels ("auto-synthesized", "shorthand", …).
	Tags []string

	// Timestamp is when the memory was formed.
	Timestamp time.Time

	// LastAccessed is updated (debounced) on retrieval.
	LastAccessed time.Time

	// RecallCount tracks how often the node surfaced in retrieval.
	RecallCount int

	// Importance is the synthesizer-assigned weight in [1, 10].
	Importance int

	// Confidence is the synthesizer's confidence in [0, 1].
	Confidence float64

	// DecayRate controls recency decay in recall scoring, in [0, 1].
	DecayRate float64

	// EmotionalState is optional affective metadata.
	EmotionalState *EmotionalState

	// RelationalContext is optional relationship metadata. Stripped
	// during anonymization.
	RelationalContext *RelationalContext

	// SynthesizedFrom lists source-node IDs when this node was produced
	// by consolidation. Non-empty SynthesizedFrom marks a node as
	// derived insight — such nodes survive a forget-me cascade in
	// anonymized form.
	SynthesizedFrom []string

	// SynthesisType labels how a synthesized node was derived.
	SynthesisType SynthesisType
}

// TurnRole identifies the speaker of an episodic turn.
type TurnRole string

const (
	RoleUser      TurnRole = "user"
	RoleAssistant TurnRole = "assistant"
)

// Turn is one episodic entry in the hot memory stream.
type Turn struct {
	// Role is "user" or "assistant".
	Role TurnRole `json:"role"`

	// Content is the message text.
	Content string `json:"content"`

	// Timestamp is when the turn was recorded.
	Timestamp time.Time `json:"timestamp"`

	// EmotionalTone is an optional coarse tone label.
	EmotionalTone string `json:"emotionalTone,omitempty"`

	// ToolsUsed lists tool names invoked while producing the turn.
	ToolsUsed []string `json:"toolsUsed,omitempty"`
}

// ActiveContext is the short-TTL precomputed blend of recent retrievals,
// cached between turns to avoid re-running semantic search when the
// topic has not drifted.
type ActiveContext struct {
	// CurrentRelationalAnchors lists the anchor node IDs in play.
	CurrentRelationalAnchors []string `json:"currentRelationalAnchors"`

	// ActiveResonanceArtifacts lists the artifact node IDs in play.
	ActiveResonanceArtifacts []string `json:"activeResonanceArtifacts"`

	// NarrativeContext is the LLM-written summary paragraph grounding
	// the current conversation.
	NarrativeContext string `json:"narrativeContext"`

	// CurrentExpressionStyle is the tone the entity is projecting.
	CurrentExpressionStyle string `json:"currentExpressionStyle"`

	// ActiveValues lists user values currently relevant.
	ActiveValues []string `json:"activeValues"`

	// LastUpdated is when the cache entry was written.
	LastUpdated time.Time `json:"lastUpdated"`

	// ExpiresAt is the cache-entry deadline.
	ExpiresAt time.Time `json:"expiresAt"`
}

// EmotionalResonance is the rolling affective state inside ExpressionState.
type EmotionalResonance struct {
	Valence   float64 `json:"valence"`
	Intensity float64 `json:"intensity"`
}

// ExpressionState is the tunable, short-lived stylistic tone the entity
// projects right now. It has no TTL; sessions reset it explicitly.
type ExpressionState struct {
	// BasePersonality is the durable personality baseline. Survives
	// session resets.
	BasePersonality string `json:"basePersonality"`

	// SituationalAdjustments are temporary tone shifts layered on top
	// of the base personality.
	SituationalAdjustments []string `json:"situationalAdjustments"`

	// EmotionalResonance is the current affective reading.
	EmotionalResonance EmotionalResonance `json:"emotionalResonance"`

	// LastInteractionTimestamp is when the user last spoke.
	LastInteractionTimestamp time.Time `json:"lastInteractionTimestamp"`

	// LastInteractionTone is the tone of the last exchange.
	LastInteractionTone string `json:"lastInteractionTone"`

	// SessionStartTimestamp marks the beginning of the current session.
	SessionStartTimestamp time.Time `json:"sessionStartTimestamp"`
}

// ExpressionUpdate is a partial update applied to an ExpressionState.
// Nil fields are left unchanged.
type ExpressionUpdate struct {
	BasePersonality          *string             `json:"basePersonality,omitempty"`
	SituationalAdjustments   []string            `json:"situationalAdjustments,omitempty"`
	EmotionalResonance       *EmotionalResonance `json:"emotionalResonance,omitempty"`
	LastInteractionTimestamp *time.Time          `json:"lastInteractionTimestamp,omitempty"`
	LastInteractionTone      *string             `json:"lastInteractionTone,omitempty"`
	SessionStartTimestamp    *time.Time          `json:"sessionStartTimestamp,omitempty"`
}

// Apply merges u into s, overwriting only the fields u carries.
func (u ExpressionUpdate) Apply(s *ExpressionState) {
	if u.BasePersonality != nil {
		s.BasePersonality = *u.BasePersonality
	}
	if u.SituationalAdjustments != nil {
		s.SituationalAdjustments = u.SituationalAdjustments
	}
	if u.EmotionalResonance != nil {
		s.EmotionalResonance = *u.EmotionalResonance
	}
	if u.LastInteractionTimestamp != nil {
		s.LastInteractionTimestamp = *u.LastInteractionTimestamp
	}
	if u.LastInteractionTone != nil {
		s.LastInteractionTone = *u.LastInteractionTone
	}
	if u.SessionStartTimestamp != nil {
		s.SessionStartTimestamp = *u.SessionStartTimestamp
	}
}

// ResonanceTrend is the direction the entity↔user relationship is moving.
type ResonanceTrend string

const (
	TrendWarming ResonanceTrend = "warming"
	TrendCooling ResonanceTrend = "cooling"
	TrendStable  ResonanceTrend = "stable"
	TrendUnknown ResonanceTrend = "unknown"
)

// ResonanceMetrics are blended (EMA) relationship-quality signals
// recomputed after every synthesis pass.
type ResonanceMetrics struct {
	// AnchorRate is the per-synthesis rate of new relational anchors.
	AnchorRate float64 `json:"anchorRate"`

	// ShorthandRate is the per-synthesis rate of new shared shorthand.
	ShorthandRate float64 `json:"shorthandRate"`

	// EmotionalRange is the observed valence spread in [0, 1].
	EmotionalRange float64 `json:"emotionalRange"`

	// AttunementRatio is how often the entity's tone matched the
	// user's, in [0, 1].
	AttunementRatio float64 `json:"attunementRatio"`

	// Trend is derived from metric deltas across synthesis events.
	Trend ResonanceTrend `json:"trend"`
}

// PulseState carries scheduling state for background "pulse" wakes.
// Stored in the hot store with a 24 h TTL.
type PulseState struct {
	// LastPulse is when the entity last woke for this user.
	LastPulse time.Time `json:"lastPulse"`

	// NextPulse is the earliest time the next wake may fire.
	NextPulse time.Time `json:"nextPulse"`

	// PendingTask is an optional task description carried into the wake.
	PendingTask string `json:"pendingTask,omitempty"`
}
