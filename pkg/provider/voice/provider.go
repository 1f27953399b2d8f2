// Package voice defines the Provider interface for real-time voice backends.
//
// A voice provider wraps a speech-to-speech service that accepts raw audio
// input and returns synthesised audio output in a single, stateful session.
// The session is half-duplex: while the entity is speaking, incoming mic
// audio is gated (see [HalfDuplex]). Providers call back into the entity
// runtime in two ways:
//
//   - [ContextFetcher] supplies the entity's session context (identity and
//     continuity narrative) on connect and periodically thereafter.
//   - [QueryHandler] backs the provider's cortex_query tool: the model's
//     question is routed through the full entity agent pathway so that
//     voice turns share memory and tools with text turns.
//
// All implementations must be safe for concurrent use.
package voice

import (
	"context"
	"time"

	"github.com/Enntity/cortex-sub003/pkg/provider/llm"
)

// EntitySessionContext is the runtime-supplied context for a voice session.
// Providers request it on connect and refresh it periodically (roughly every
// two minutes or every ten turns, whichever comes first).
type EntitySessionContext struct {
	// EntityName is the entity's display name.
	EntityName string

	// Identity is the entity's self-description, possibly synthesizer-written.
	Identity string

	// ContinuityContext is the formatted continuity block for the current
	// (entity, user) pair. Empty when memory is disabled.
	ContinuityContext string

	// UseMemory reports whether continuity memory is active for this entity.
	UseMemory bool
}

// ContextFetcher returns the current session context for the connected
// entity/user pair. Called from the session's internal goroutines; it must
// not call back into session methods.
type ContextFetcher func(ctx context.Context) (EntitySessionContext, error)

// QueryHandler answers a cortex_query tool call. query is the synthetic
// user turn; history is the session transcript so far with provider
// instruction messages already filtered out. The returned string is
// injected back into the session as tool output.
type QueryHandler func(ctx context.Context, query string, history []llm.Message) (string, error)

// SessionConfig is the initial configuration for a new voice session.
type SessionConfig struct {
	// EntityID identifies the entity this session speaks as.
	EntityID string

	// UserName is the connected user's display name, surfaced to the model.
	UserName string

	// UserInfo is optional free-form information about the user.
	UserInfo string

	// VoiceID selects the provider voice. Empty picks the provider default.
	VoiceID string

	// Instructions is the voice-shaped system prompt for the session.
	Instructions string

	// Tools is the initial tool set offered to the model, in addition to
	// the provider's built-in cortex_query tool.
	Tools []llm.ToolDefinition

	// FetchContext supplies and refreshes the entity session context.
	FetchContext ContextFetcher

	// HandleQuery answers cortex_query tool calls. A nil handler disables
	// the tool.
	HandleQuery QueryHandler
}

// EventType discriminates the values emitted on [Session.Events].
type EventType string

const (
	// EventTranscript carries recognised user speech or generated entity
	// text (Transcript field; Role distinguishes the speaker).
	EventTranscript EventType = "transcript"

	// EventAudio carries a synthesised audio chunk (Audio field).
	EventAudio EventType = "audio"

	// EventTrackStart opens a response track (TrackID, Text fields).
	EventTrackStart EventType = "track-start"

	// EventTrackComplete closes a response track (TrackID field).
	EventTrackComplete EventType = "track-complete"

	// EventToolStatus reports tool-call progress (Tool field).
	EventToolStatus EventType = "tool-status"

	// EventMedia carries a media artifact reference produced mid-session.
	EventMedia EventType = "media"

	// EventError reports a non-fatal provider error (Err field). Fatal
	// errors close the event channel instead; check [Session.Err].
	EventError EventType = "error"
)

// AudioChunk is one synthesised audio fragment.
type AudioChunk struct {
	Data       []byte
	SampleRate int

	// TrackID groups chunks belonging to one response track. Empty for
	// providers that do not track responses.
	TrackID string
}

// ToolStatus reports the progress of one tool call inside the session.
type ToolStatus struct {
	Name    string
	Status  string
	Message string
}

// Event is a single session event. Exactly the fields implied by Type are
// populated.
type Event struct {
	Type EventType

	// Transcript / Role for EventTranscript.
	Transcript string
	Role       string

	// Audio for EventAudio.
	Audio AudioChunk

	// TrackID / Text for track events.
	TrackID string
	Text    string

	// Tool for EventToolStatus.
	Tool ToolStatus

	// MediaURL for EventMedia.
	MediaURL string

	// Err for EventError.
	Err error

	Timestamp time.Time
}

// Session represents an open voice session.
//
// Events are emitted strictly in provider order on a single channel: for a
// streamed response the sequence is track-start, interleaved transcript and
// audio deltas, then track-complete. The channel is closed when the session
// ends; call [Session.Err] afterwards to distinguish clean shutdown from
// failure.
//
// Callers must call Close when the session is no longer needed.
type Session interface {
	// SendAudio delivers a raw PCM16 mic chunk. Chunks arriving while the
	// entity is speaking are dropped by the half-duplex gate and nil is
	// returned.
	SendAudio(chunk []byte) error

	// SendText injects a text turn as if the user had spoken it.
	SendText(text string) error

	// PlaybackComplete acknowledges that the client finished playing the
	// given track. This drives the Speaking → Idle transition and reopens
	// the mic gate.
	PlaybackComplete(trackID string) error

	// Interrupt cancels the current response and discards buffered audio.
	// The mic gate reopens immediately.
	Interrupt() error

	// Events returns the session's ordered event stream. Consumers must
	// drain it promptly to avoid stalling the provider's receive loop.
	Events() <-chan Event

	// Err returns the error that terminated the session, or nil after a
	// clean shutdown. Valid once Events is closed.
	Err() error

	// State returns the current half-duplex state.
	State() SessionState

	// Close terminates the session and closes the event channel.
	// Idempotent.
	Close() error
}

// Capabilities describes static properties of a voice provider.
type Capabilities struct {
	// ContextWindow is the maximum token count the session can maintain.
	ContextWindow int

	// MaxSessionDuration is the provider's hard session lifetime bound.
	// Zero means no documented limit.
	MaxSessionDuration time.Duration

	// Voices lists the available voice IDs.
	Voices []string
}

// Provider is the abstraction over any real-time voice backend.
type Provider interface {
	// Connect establishes a new session. The returned Session is ready to
	// accept audio immediately. The caller owns it and must Close it.
	Connect(ctx context.Context, cfg SessionConfig) (Session, error)

	// Capabilities returns static provider metadata.
	Capabilities() Capabilities
}
