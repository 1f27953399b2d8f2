// Package openairt implements the voice.Provider interface for OpenAI's
// Realtime API.
//
// It maintains a bidirectional WebSocket connection and exchanges JSON
// events per the Realtime protocol. Audio travels as base64-encoded PCM16.
// The session is half-duplex: server VAD events and client playback
// acknowledgements drive the voice.HalfDuplex state machine, and mic
// chunks arriving while the entity speaks are dropped.
//
// The session registers a cortex_query tool that routes model questions
// back through the entity agent pathway, and refreshes the entity session
// context every two minutes or every ten turns.
package openairt

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/Enntity/cortex-sub003/pkg/provider/llm"
	"github.com/Enntity/cortex-sub003/pkg/provider/voice"
)

// Compile-time assertions.
var (
	_ voice.Provider = (*Provider)(nil)
	_ voice.Session  = (*session)(nil)
)

const (
	defaultModel   = "gpt-4o-realtime-preview"
	defaultBaseURL = "wss://api.openai.com/v1/realtime"
	outputRate     = 24_000

	contextRefreshInterval = 2 * time.Minute
	contextRefreshTurns    = 10
)

// cortexQueryTool is the built-in tool that routes questions through the
// entity agent pathway.
var cortexQueryTool = llm.ToolDefinition{
	Name:        "cortex_query",
	Description: "Ask the entity's full reasoning pipeline a question. Use for anything that needs memory recall, tools, or multi-step reasoning.",
	Parameters: map[string]any{
		"type": "object",
		"properties": map[string]any{
			"query": map[string]any{
				"type":        "string",
				"description": "The question to answer.",
			},
		},
		"required": []string{"query"},
	},
}

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithModel sets the realtime model used for sessions.
func WithModel(model string) Option {
	return func(p *Provider) { p.model = model }
}

// WithBaseURL overrides the base WebSocket URL. Primarily used in tests to
// point at a local mock server.
func WithBaseURL(url string) Option {
	return func(p *Provider) { p.baseURL = url }
}

// Provider implements voice.Provider for OpenAI's Realtime API.
type Provider struct {
	apiKey  string
	model   string
	baseURL string
}

// New creates a Provider with the given API key and options.
func New(apiKey string, opts ...Option) *Provider {
	p := &Provider{
		apiKey:  apiKey,
		model:   defaultModel,
		baseURL: defaultBaseURL,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Capabilities implements voice.Provider.
func (p *Provider) Capabilities() voice.Capabilities {
	return voice.Capabilities{
		ContextWindow:      128_000,
		MaxSessionDuration: 30 * time.Minute,
		Voices:             []string{"alloy", "ash", "ballad", "coral", "echo", "sage", "shimmer", "verse"},
	}
}

// Connect implements voice.Provider.
func (p *Provider) Connect(ctx context.Context, cfg voice.SessionConfig) (voice.Session, error) {
	wsURL := fmt.Sprintf("%s?model=%s", p.baseURL, p.model)

	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		HTTPHeader: http.Header{
			"Authorization": []string{"Bearer " + p.apiKey},
			"OpenAI-Beta":   []string{"realtime=v1"},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("openairt: dial: %w", err)
	}

	sessCtx, sessCancel := context.WithCancel(context.Background())
	sess := &session{
		cfg:    cfg,
		conn:   conn,
		events: make(chan voice.Event, 64),
		ctx:    sessCtx,
		cancel: sessCancel,
	}

	instructions, err := sess.composeInstructions(ctx)
	if err != nil {
		sessCancel()
		conn.Close(websocket.StatusInternalError, "context fetch failed")
		return nil, fmt.Errorf("openairt: fetch session context: %w", err)
	}
	if err := sess.sendSessionUpdate(cfg.VoiceID, instructions, sess.allTools()); err != nil {
		sessCancel()
		conn.Close(websocket.StatusInternalError, "session update failed")
		return nil, fmt.Errorf("openairt: session update: %w", err)
	}

	go sess.receiveLoop()
	go sess.refreshLoop()

	return sess, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Protocol message types
// ─────────────────────────────────────────────────────────────────────────────

type sessionUpdateMessage struct {
	Type    string        `json:"type"`
	Session sessionParams `json:"session"`
}

type sessionParams struct {
	Voice             string   `json:"voice,omitempty"`
	Instructions      string   `json:"instructions,omitempty"`
	Tools             []rtTool `json:"tools,omitempty"`
	InputAudioFormat  string   `json:"input_audio_format"`
	OutputAudioFormat string   `json:"output_audio_format"`
	TurnDetection     *turnVAD `json:"turn_detection,omitempty"`
}

type turnVAD struct {
	Type string `json:"type"`
}

type rtTool struct {
	Type        string         `json:"type"`
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

type appendAudioMessage struct {
	Type  string `json:"type"`
	Audio string `json:"audio"` // base64-encoded PCM16
}

type createConversationItemMessage struct {
	Type string           `json:"type"`
	Item conversationItem `json:"item"`
}

type conversationItem struct {
	Type    string             `json:"type"`
	Role    string             `json:"role,omitempty"`
	Content []conversationPart `json:"content,omitempty"`
	CallID  string             `json:"call_id,omitempty"`
	Output  string             `json:"output,omitempty"`
}

type conversationPart struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

type serverErrorDetail struct {
	Type    string `json:"type"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

type serverEvent struct {
	Type string `json:"type"`

	// response.created / response.done
	Response *struct {
		ID string `json:"id"`
	} `json:"response,omitempty"`

	// response.audio.delta / response.audio_transcript.delta
	Delta string `json:"delta,omitempty"`

	// conversation.item.input_audio_transcription.completed
	Transcript string `json:"transcript,omitempty"`

	// response.function_call_arguments.done
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments,omitempty"`
	CallID    string `json:"call_id,omitempty"`

	Error *serverErrorDetail `json:"error,omitempty"`
}

// ─────────────────────────────────────────────────────────────────────────────
// session
// ─────────────────────────────────────────────────────────────────────────────

type session struct {
	cfg    voice.SessionConfig
	conn   *websocket.Conn
	events chan voice.Event
	gate   voice.HalfDuplex

	mu             sync.Mutex
	errVal         error
	closed         bool
	currentTrackID string
	currentTxText  string
	history        []llm.Message
	turnsSinceSync int

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
}

// composeInstructions merges the configured instructions with the fetched
// entity session context.
func (s *session) composeInstructions(ctx context.Context) (string, error) {
	base := s.cfg.Instructions
	if s.cfg.FetchContext == nil {
		return base, nil
	}
	ec, err := s.cfg.FetchContext(ctx)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	b.WriteString(base)
	if ec.Identity != "" {
		b.WriteString("\n\n## Identity\n")
		b.WriteString(ec.Identity)
	}
	if ec.UseMemory && ec.ContinuityContext != "" {
		b.WriteString("\n\n## Continuity\n")
		b.WriteString(ec.ContinuityContext)
	}
	if s.cfg.UserName != "" {
		fmt.Fprintf(&b, "\n\nYou are speaking with %s.", s.cfg.UserName)
	}
	if s.cfg.UserInfo != "" {
		b.WriteString("\n")
		b.WriteString(s.cfg.UserInfo)
	}
	return b.String(), nil
}

func (s *session) allTools() []llm.ToolDefinition {
	tools := make([]llm.ToolDefinition, 0, len(s.cfg.Tools)+1)
	if s.cfg.HandleQuery != nil {
		tools = append(tools, cortexQueryTool)
	}
	tools = append(tools, s.cfg.Tools...)
	return tools
}

func (s *session) sendSessionUpdate(voiceID, instructions string, tools []llm.ToolDefinition) error {
	params := sessionParams{
		InputAudioFormat:  "pcm16",
		OutputAudioFormat: "pcm16",
		TurnDetection:     &turnVAD{Type: "server_vad"},
	}
	if voiceID != "" {
		params.Voice = voiceID
	}
	if instructions != "" {
		params.Instructions = instructions
	}
	if len(tools) > 0 {
		params.Tools = toRTTools(tools)
	}
	return s.writeJSON(sessionUpdateMessage{Type: "session.update", Session: params})
}

func (s *session) writeJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("openairt: marshal: %w", err)
	}
	return s.conn.Write(s.ctx, websocket.MessageText, data)
}

// refreshLoop periodically re-fetches the entity session context and pushes
// updated instructions. Turn-count refreshes happen in handleServerEvent.
func (s *session) refreshLoop() {
	if s.cfg.FetchContext == nil {
		return
	}
	ticker := time.NewTicker(contextRefreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.refreshContext()
		case <-s.ctx.Done():
			return
		}
	}
}

func (s *session) refreshContext() {
	instructions, err := s.composeInstructions(s.ctx)
	if err != nil {
		s.emit(voice.Event{Type: voice.EventError, Err: fmt.Errorf("openairt: refresh context: %w", err)})
		return
	}
	if err := s.sendSessionUpdate(s.cfg.VoiceID, instructions, s.allTools()); err != nil {
		s.emit(voice.Event{Type: voice.EventError, Err: fmt.Errorf("openairt: refresh context: %w", err)})
		return
	}
	s.mu.Lock()
	s.turnsSinceSync = 0
	s.mu.Unlock()
}

// receiveLoop reads events from the WebSocket and dispatches them. It owns
// the events channel and closes it when it exits.
func (s *session) receiveLoop() {
	defer s.closeEvents()

	for {
		_, data, err := s.conn.Read(s.ctx)
		if err != nil {
			if s.ctx.Err() != nil {
				return
			}
			s.setErr(err)
			return
		}

		var evt serverEvent
		if err := json.Unmarshal(data, &evt); err != nil {
			continue
		}
		s.handleServerEvent(&evt)
	}
}

func (s *session) handleServerEvent(evt *serverEvent) {
	switch evt.Type {
	case "input_audio_buffer.speech_started":
		s.gate.SpeechStarted()

	case "input_audio_buffer.speech_stopped":
		s.gate.SpeechStopped()

	case "response.created":
		trackID := ""
		if evt.Response != nil {
			trackID = evt.Response.ID
		}
		s.mu.Lock()
		s.currentTrackID = trackID
		s.mu.Unlock()
		s.emit(voice.Event{Type: voice.EventTrackStart, TrackID: trackID})

	case "response.audio.delta":
		if evt.Delta == "" {
			return
		}
		audioData, err := base64.StdEncoding.DecodeString(evt.Delta)
		if err != nil || len(audioData) == 0 {
			return
		}
		s.gate.ResponseStarted()
		s.mu.Lock()
		trackID := s.currentTrackID
		s.mu.Unlock()
		s.emit(voice.Event{Type: voice.EventAudio, Audio: voice.AudioChunk{
			Data:       audioData,
			SampleRate: outputRate,
			TrackID:    trackID,
		}})

	case "response.audio_transcript.delta":
		if evt.Delta == "" {
			return
		}
		s.mu.Lock()
		s.currentTxText += evt.Delta
		s.mu.Unlock()

	case "response.audio_transcript.done":
		s.mu.Lock()
		text := s.currentTxText
		s.currentTxText = ""
		s.mu.Unlock()
		if text == "" {
			return
		}
		s.recordHistory("assistant", text)
		s.emit(voice.Event{Type: voice.EventTranscript, Role: "assistant", Transcript: text})

	case "conversation.item.input_audio_transcription.completed":
		if evt.Transcript == "" {
			return
		}
		s.recordHistory("user", evt.Transcript)
		s.emit(voice.Event{Type: voice.EventTranscript, Role: "user", Transcript: evt.Transcript})

	case "response.done":
		s.mu.Lock()
		trackID := s.currentTrackID
		s.currentTrackID = ""
		s.turnsSinceSync++
		refresh := s.turnsSinceSync >= contextRefreshTurns
		s.mu.Unlock()
		s.emit(voice.Event{Type: voice.EventTrackComplete, TrackID: trackID})
		if refresh {
			s.refreshContext()
		}

	case "response.function_call_arguments.done":
		s.handleFunctionCall(evt)

	case "error":
		msg := "unknown error"
		if evt.Error != nil && evt.Error.Message != "" {
			msg = evt.Error.Message
		}
		s.emit(voice.Event{Type: voice.EventError, Err: fmt.Errorf("openairt: %s", msg)})
	}
}

func (s *session) handleFunctionCall(evt *serverEvent) {
	if evt.Name != "cortex_query" || s.cfg.HandleQuery == nil {
		return
	}

	s.emit(voice.Event{Type: voice.EventToolStatus, Tool: voice.ToolStatus{
		Name: evt.Name, Status: "running",
	}})

	var args struct {
		Query string `json:"query"`
	}
	_ = json.Unmarshal([]byte(evt.Arguments), &args)

	result, callErr := s.cfg.HandleQuery(s.ctx, args.Query, s.filteredHistory())
	status := "done"
	if callErr != nil {
		result = fmt.Sprintf(`{"error": %q}`, callErr.Error())
		status = "error"
	}

	s.emit(voice.Event{Type: voice.EventToolStatus, Tool: voice.ToolStatus{
		Name: evt.Name, Status: status,
	}})

	// Return tool result and trigger the next model response.
	_ = s.writeJSON(createConversationItemMessage{
		Type: "conversation.item.create",
		Item: conversationItem{
			Type:   "function_call_output",
			CallID: evt.CallID,
			Output: result,
		},
	})
	_ = s.writeJSON(map[string]string{"type": "response.create"})
}

func (s *session) recordHistory(role, content string) {
	s.mu.Lock()
	s.history = append(s.history, llm.Message{Role: role, Content: content})
	s.mu.Unlock()
}

// filteredHistory returns the session transcript with provider instruction
// messages dropped, ready to hand to the query handler.
func (s *session) filteredHistory() []llm.Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]llm.Message, 0, len(s.history))
	for _, m := range s.history {
		if strings.HasPrefix(m.Content, "<INSTRUCTIONS>") {
			continue
		}
		out = append(out, m)
	}
	return out
}

func (s *session) emit(e voice.Event) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	select {
	case s.events <- e:
	case <-s.ctx.Done():
	}
}

func (s *session) setErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.errVal == nil {
		s.errVal = err
	}
}

func (s *session) closeEvents() {
	s.closeOnce.Do(func() { close(s.events) })
}

func toRTTools(tools []llm.ToolDefinition) []rtTool {
	out := make([]rtTool, len(tools))
	for i, t := range tools {
		out[i] = rtTool{
			Type:        "function",
			Name:        t.Name,
			Description: t.Description,
			Parameters:  t.Parameters,
		}
	}
	return out
}

// ─────────────────────────────────────────────────────────────────────────────
// Session methods
// ─────────────────────────────────────────────────────────────────────────────

// SendAudio implements voice.Session. Chunks arriving while the entity is
// speaking are dropped by the half-duplex gate.
func (s *session) SendAudio(chunk []byte) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return fmt.Errorf("openairt: session closed")
	}
	s.mu.Unlock()

	if !s.gate.MicOpen() {
		return nil
	}

	return s.writeJSON(appendAudioMessage{
		Type:  "input_audio_buffer.append",
		Audio: base64.StdEncoding.EncodeToString(chunk),
	})
}

// SendText implements voice.Session.
func (s *session) SendText(text string) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return fmt.Errorf("openairt: session closed")
	}
	s.mu.Unlock()

	s.recordHistory("user", text)
	if err := s.writeJSON(createConversationItemMessage{
		Type: "conversation.item.create",
		Item: conversationItem{
			Type: "message",
			Role: "user",
			Content: []conversationPart{
				{Type: "input_text", Text: text},
			},
		},
	}); err != nil {
		return err
	}
	return s.writeJSON(map[string]string{"type": "response.create"})
}

// PlaybackComplete implements voice.Session.
func (s *session) PlaybackComplete(trackID string) error {
	s.gate.PlaybackComplete()
	return nil
}

// Interrupt implements voice.Session.
func (s *session) Interrupt() error {
	s.gate.Interrupted()
	return s.writeJSON(map[string]string{"type": "response.cancel"})
}

// Events implements voice.Session.
func (s *session) Events() <-chan voice.Event { return s.events }

// Err implements voice.Session.
func (s *session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.errVal
}

// State implements voice.Session.
func (s *session) State() voice.SessionState { return s.gate.State() }

// Close implements voice.Session. Idempotent.
func (s *session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.cancel()
	s.conn.Close(websocket.StatusNormalClosure, "session closed")
	return nil
}
