package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/Enntity/cortex-sub003/internal/agent"
	"github.com/Enntity/cortex-sub003/internal/continuity"
	"github.com/Enntity/cortex-sub003/internal/entity"
	"github.com/Enntity/cortex-sub003/internal/observe"
	"github.com/Enntity/cortex-sub003/pkg/provider/llm"
	"github.com/Enntity/cortex-sub003/pkg/provider/voice"
)

// VoiceSessionManager opens and tracks live voice sessions. Each session is
// bound to one (entity, user) pair; the provider's context fetcher and
// cortex_query handler are wired back into the continuity service and the
// entity agent so that voice turns share memory and tools with text turns.
//
// All exported methods are safe for concurrent use.
type VoiceSessionManager struct {
	provider   voice.Provider
	resolver   *entity.Resolver
	continuity *continuity.Service
	agent      *agent.Agent

	mu       sync.Mutex
	sessions map[string]*LiveSession
}

// LiveSession is one open voice session plus its runtime identity.
type LiveSession struct {
	voice.Session

	// ID is the manager-assigned session identifier.
	ID string

	EntityID string
	UserID   string

	closeOnce sync.Once
	onClose   func()
}

// Close terminates the underlying session and unregisters it from the
// manager. Idempotent.
func (s *LiveSession) Close() error {
	err := s.Session.Close()
	s.closeOnce.Do(s.onClose)
	return err
}

// OpenRequest describes a new voice session.
type OpenRequest struct {
	EntityID string
	UserID   string
	UserName string
	UserInfo string
	VoiceID  string
}

// NewVoiceSessionManager builds a manager over the given provider and
// runtime services.
func NewVoiceSessionManager(provider voice.Provider, resolver *entity.Resolver, cont *continuity.Service, ag *agent.Agent) *VoiceSessionManager {
	return &VoiceSessionManager{
		provider:   provider,
		resolver:   resolver,
		continuity: cont,
		agent:      ag,
		sessions:   make(map[string]*LiveSession),
	}
}

// Open resolves the entity, connects a provider session wired to continuity
// and the agent, and registers it. The caller owns the returned session and
// must Close it (or rely on CloseAll at shutdown).
func (m *VoiceSessionManager) Open(ctx context.Context, req OpenRequest) (*LiveSession, error) {
	if req.UserID == "" {
		return nil, errors.New("voice session: user ID must not be empty")
	}

	ent, err := m.resolver.LoadEntityConfig(ctx, req.EntityID)
	if err != nil {
		return nil, fmt.Errorf("voice session: resolve entity: %w", err)
	}
	if !ent.IsVisibleTo(req.UserID) {
		return nil, agent.ErrNotVisible
	}

	surface := m.resolver.GetToolsForEntity(ent)

	cfg := voice.SessionConfig{
		EntityID:     ent.ID,
		UserName:     req.UserName,
		UserInfo:     req.UserInfo,
		VoiceID:      req.VoiceID,
		Instructions: voiceInstructions(ent),
		Tools:        surface.Schemas,
		FetchContext: m.contextFetcher(ent.ID, req.UserID),
		HandleQuery:  m.queryHandler(ent.ID, req.UserID),
	}

	sess, err := m.provider.Connect(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("voice session: connect: %w", err)
	}

	id := uuid.NewString()
	live := &LiveSession{
		Session:  sess,
		ID:       id,
		EntityID: ent.ID,
		UserID:   req.UserID,
	}
	live.onClose = func() { m.unregister(id) }

	m.mu.Lock()
	m.sessions[id] = live
	m.mu.Unlock()

	observe.DefaultMetrics().ActiveVoiceSessions.Add(ctx, 1)
	slog.Info("voice session opened", "session_id", id, "entity_id", ent.ID, "user_id", req.UserID)
	return live, nil
}

// Get returns the live session with the given ID, or nil.
func (m *VoiceSessionManager) Get(id string) *LiveSession {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessions[id]
}

// Active reports the number of open sessions.
func (m *VoiceSessionManager) Active() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// CloseAll terminates every open session. Used at shutdown.
func (m *VoiceSessionManager) CloseAll() error {
	m.mu.Lock()
	open := make([]*LiveSession, 0, len(m.sessions))
	for _, s := range m.sessions {
		open = append(open, s)
	}
	m.mu.Unlock()

	var errs []error
	for _, s := range open {
		if err := s.Close(); err != nil {
			errs = append(errs, fmt.Errorf("session %s: %w", s.ID, err))
		}
	}
	return errors.Join(errs...)
}

// unregister drops a session from the map and decrements the gauge.
func (m *VoiceSessionManager) unregister(id string) {
	m.mu.Lock()
	_, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()

	if ok {
		observe.DefaultMetrics().ActiveVoiceSessions.Add(context.Background(), -1)
		slog.Info("voice session closed", "session_id", id)
	}
}

// contextFetcher supplies the entity session context on connect and on the
// provider's periodic refreshes.
func (m *VoiceSessionManager) contextFetcher(entityID, userID string) voice.ContextFetcher {
	return func(ctx context.Context) (voice.EntitySessionContext, error) {
		ent, err := m.resolver.LoadEntityConfig(ctx, entityID)
		if err != nil {
			return voice.EntitySessionContext{}, err
		}

		sc := voice.EntitySessionContext{
			EntityName: ent.Name,
			Identity:   ent.Identity,
			UseMemory:  ent.UseMemory,
		}
		if ent.UseMemory {
			block, err := m.continuity.GetContextWindow(ctx, entityID, userID, "", continuity.ContextOpts{})
			if err != nil {
				slog.Warn("voice session: context refresh failed", "entity_id", entityID, "err", err)
			} else {
				sc.ContinuityContext = block
			}
		}
		return sc, nil
	}
}

// queryHandler answers the provider's cortex_query tool by running a full
// agent turn with the synthetic query.
func (m *VoiceSessionManager) queryHandler(entityID, userID string) voice.QueryHandler {
	return func(ctx context.Context, query string, _ []llm.Message) (string, error) {
		resp, err := m.agent.RunTurn(ctx, agent.TurnRequest{
			EntityID: entityID,
			UserID:   userID,
			Query:    query,
			Voice:    true,
		})
		if err != nil {
			return "", err
		}
		return resp.Result, nil
	}
}

// voiceInstructions shapes the session-level prompt for speaking aloud.
func voiceInstructions(ent entity.Entity) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are %s, speaking aloud in a realtime voice conversation.\n", ent.Name)
	if ent.Identity != "" {
		b.WriteString(ent.Identity)
		b.WriteString("\n")
	}
	b.WriteString("Keep responses short and conversational. Use the cortex_query tool when you need memory or other tools.")
	return b.String()
}
