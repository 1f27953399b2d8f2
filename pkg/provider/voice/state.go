package voice

import "sync"

// SessionState is one of the four half-duplex session states.
type SessionState string

const (
	// StateIdle: nobody is speaking; mic input is accepted.
	StateIdle SessionState = "idle"

	// StateListening: the user is speaking (server VAD detected speech).
	StateListening SessionState = "listening"

	// StateProcessing: user speech ended; the model is generating.
	StateProcessing SessionState = "processing"

	// StateSpeaking: the entity is speaking; mic input is gated.
	StateSpeaking SessionState = "speaking"
)

// HalfDuplex tracks the session state machine shared by voice provider
// implementations. Transitions are driven by server VAD events and client
// playback acknowledgements:
//
//	Idle       --speech started-->    Listening
//	Listening  --speech stopped-->    Processing
//	Processing --first audio delta--> Speaking
//	Speaking   --playback complete--> Idle
//	any        --interrupt-->         Idle
//
// The mic gate is open in Idle and Listening only. The zero value starts
// in Idle and is ready to use.
type HalfDuplex struct {
	mu    sync.Mutex
	state SessionState
}

// State returns the current state.
func (h *HalfDuplex) State() SessionState {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.state == "" {
		return StateIdle
	}
	return h.state
}

// MicOpen reports whether mic input should be forwarded to the provider.
func (h *HalfDuplex) MicOpen() bool {
	s := h.State()
	return s == StateIdle || s == StateListening
}

// SpeechStarted records a server VAD speech-start event.
func (h *HalfDuplex) SpeechStarted() { h.set(StateListening) }

// SpeechStopped records a server VAD speech-stop event.
func (h *HalfDuplex) SpeechStopped() { h.set(StateProcessing) }

// ResponseStarted records the first audio delta of an entity response.
func (h *HalfDuplex) ResponseStarted() { h.set(StateSpeaking) }

// PlaybackComplete records the client's playback acknowledgement.
func (h *HalfDuplex) PlaybackComplete() { h.set(StateIdle) }

// Interrupted resets the machine after a cancelled response.
func (h *HalfDuplex) Interrupted() { h.set(StateIdle) }

func (h *HalfDuplex) set(s SessionState) {
	h.mu.Lock()
	h.state = s
	h.mu.Unlock()
}
