package executor

import "time"

// ToolState is the lifecycle stage reported in a [ToolStatus].
type ToolState string

const (
	// ToolRunning is emitted when a dispatch starts.
	ToolRunning ToolState = "running"

	// ToolCompleted is emitted when a dispatch returns a result.
	ToolCompleted ToolState = "completed"

	// ToolFailed is emitted when a dispatch errors or times out.
	ToolFailed ToolState = "failed"

	// ToolDuplicate is emitted when a call short-circuits to a prior
	// result of the same request.
	ToolDuplicate ToolState = "duplicate"

	// ToolTruncated is emitted when a call is dropped because the turn's
	// tool budget ran out before it could start.
	ToolTruncated ToolState = "truncated"
)

// ToolStatus is one progress event of a tool dispatch.
type ToolStatus struct {
	// CallID is the model-assigned tool call identifier.
	CallID string

	// Tool is the lowercased tool name.
	Tool string

	State ToolState

	// Detail carries the failure message for [ToolFailed].
	Detail string

	// Duration is set on terminal states.
	Duration time.Duration
}

// TurnEmitter receives incremental output while a turn executes.
// Transports implement it to stream deltas to the client; callers that
// only want the final result use [NopEmitter].
//
// Implementations must be fast and non-blocking: every method is called
// on the executor's hot path.
type TurnEmitter interface {
	// TrackStart signals the beginning of a response track.
	TrackStart(trackID string)

	// TextDelta carries one incremental text fragment.
	TextDelta(trackID, delta string)

	// ToolStatus reports tool dispatch progress.
	ToolStatus(trackID string, status ToolStatus)

	// Audio passes a synthesized audio frame through untouched.
	Audio(trackID string, frame []byte)

	// TrackComplete signals the end of a track with the full text.
	TrackComplete(trackID, fullText string)
}

// NopEmitter discards all events.
type NopEmitter struct{}

var _ TurnEmitter = NopEmitter{}

func (NopEmitter) TrackStart(string)             {}
func (NopEmitter) TextDelta(string, string)      {}
func (NopEmitter) ToolStatus(string, ToolStatus) {}
func (NopEmitter) Audio(string, []byte)          {}
func (NopEmitter) TrackComplete(string, string)  {}
