// Package mock provides test doubles for the voice.Provider and
// voice.Session interfaces.
//
// Use Provider to hand out a scripted Session without a live backend and
// to verify the configuration a caller connects with.
package mock

import (
	"context"
	"sync"

	"github.com/Enntity/cortex-sub003/pkg/provider/voice"
)

// Compile-time interface checks.
var (
	_ voice.Provider = (*Provider)(nil)
	_ voice.Session  = (*Session)(nil)
)

// Provider is a mock implementation of voice.Provider.
type Provider struct {
	mu sync.Mutex

	// ConnectSession is returned by Connect. If nil, a fresh Session is
	// created per call.
	ConnectSession *Session

	// ConnectErr, if non-nil, is returned as the error from Connect.
	ConnectErr error

	// CapabilitiesValue is returned by Capabilities.
	CapabilitiesValue voice.Capabilities

	// ConnectCalls records the configs passed to Connect in order.
	ConnectCalls []voice.SessionConfig
}

// Connect records the call and returns ConnectSession, ConnectErr.
func (p *Provider) Connect(_ context.Context, cfg voice.SessionConfig) (voice.Session, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ConnectCalls = append(p.ConnectCalls, cfg)
	if p.ConnectErr != nil {
		return nil, p.ConnectErr
	}
	if p.ConnectSession != nil {
		return p.ConnectSession, nil
	}
	return NewSession(), nil
}

// Capabilities returns CapabilitiesValue.
func (p *Provider) Capabilities() voice.Capabilities {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.CapabilitiesValue
}

// Session is a mock implementation of voice.Session. Emit scripted events
// with Emit and finish the stream with Finish.
type Session struct {
	mu sync.Mutex

	events chan voice.Event
	gate   voice.HalfDuplex

	// SendAudioErr, SendTextErr, and InterruptErr are returned by the
	// corresponding methods when non-nil.
	SendAudioErr error
	SendTextErr  error
	InterruptErr error

	// ErrValue is returned by Err.
	ErrValue error

	// Call records.
	AudioChunks    [][]byte
	TextsSent      []string
	InterruptCount int
	PlaybackAcks   []string
	CloseCount     int

	closeOnce sync.Once
}

// NewSession creates a Session with a buffered event channel.
func NewSession() *Session {
	return &Session{events: make(chan voice.Event, 64)}
}

// Emit pushes a scripted event onto the session's event channel.
func (s *Session) Emit(e voice.Event) { s.events <- e }

// Finish closes the event channel, ending the stream.
func (s *Session) Finish() {
	s.closeOnce.Do(func() { close(s.events) })
}

// Gate exposes the session's half-duplex state machine for test scripting.
func (s *Session) Gate() *voice.HalfDuplex { return &s.gate }

// SendAudio records the chunk unless the mic gate is closed.
func (s *Session) SendAudio(chunk []byte) error {
	if s.SendAudioErr != nil {
		return s.SendAudioErr
	}
	if !s.gate.MicOpen() {
		return nil
	}
	cp := make([]byte, len(chunk))
	copy(cp, chunk)
	s.mu.Lock()
	s.AudioChunks = append(s.AudioChunks, cp)
	s.mu.Unlock()
	return nil
}

// SendText records the text.
func (s *Session) SendText(text string) error {
	if s.SendTextErr != nil {
		return s.SendTextErr
	}
	s.mu.Lock()
	s.TextsSent = append(s.TextsSent, text)
	s.mu.Unlock()
	return nil
}

// PlaybackComplete records the ack and reopens the mic gate.
func (s *Session) PlaybackComplete(trackID string) error {
	s.mu.Lock()
	s.PlaybackAcks = append(s.PlaybackAcks, trackID)
	s.mu.Unlock()
	s.gate.PlaybackComplete()
	return nil
}

// Interrupt records the call and resets the gate.
func (s *Session) Interrupt() error {
	s.mu.Lock()
	s.InterruptCount++
	s.mu.Unlock()
	s.gate.Interrupted()
	return s.InterruptErr
}

// Events returns the scripted event channel.
func (s *Session) Events() <-chan voice.Event { return s.events }

// Err returns ErrValue.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ErrValue
}

// State returns the gate's current state.
func (s *Session) State() voice.SessionState { return s.gate.State() }

// Close records the call and closes the event channel.
func (s *Session) Close() error {
	s.mu.Lock()
	s.CloseCount++
	s.mu.Unlock()
	s.Finish()
	return nil
}
