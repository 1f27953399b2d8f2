package continuity

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/Enntity/cortex-sub003/pkg/memory"
)

// Service defaults.
const (
	// defaultIdleThreshold is the gap after which the next turn starts a
	// fresh session.
	defaultIdleThreshold = 4 * time.Hour

	// synthesisWindow is how many recent turns a triggered synthesis
	// pass consumes.
	synthesisWindow = 10
)

// DeepSynthesisOpts bounds one deep-consolidation pass.
type DeepSynthesisOpts struct {
	// DaysToLookBack limits how far back source memories may be.
	DaysToLookBack int

	// MaxMemories caps how many source memories one pass considers.
	MaxMemories int
}

// Synthesizer distills episodic turns into cold-tier memory nodes.
// Implementations report how many nodes they wrote so the service can
// invalidate the active-context cache only when something changed.
type Synthesizer interface {
	// SynthesizeTurns runs one turn-synthesis pass over the given turns.
	SynthesizeTurns(ctx context.Context, entityID, userID string, turns []memory.Turn) (written int, err error)

	// SynthesizeDeep runs one cross-session consolidation pass.
	SynthesizeDeep(ctx context.Context, entityID, userID string, opts DeepSynthesisOpts) (written int, err error)
}

// SessionInfo describes the current session of one (entity, user) pair.
type SessionInfo struct {
	// SessionStart is when the current session began. Zero when no
	// session has been recorded yet.
	SessionStart time.Time

	// LastInteraction is when the user last spoke.
	LastInteraction time.Time

	// TurnCount is the current episodic-stream length (capped by the
	// stream's capacity).
	TurnCount int

	// HasMemories reports whether any cold-tier memory exists.
	HasMemories bool
}

// Service orchestrates the continuity-memory subsystem: one hot store,
// one cold index, the context builder, and the background synthesis
// pool. It is designed to be a process-wide singleton; see [SetDefault]
// and [Default].
type Service struct {
	hot     memory.HotStore
	cold    memory.ColdIndex
	builder *ContextBuilder
	synth   Synthesizer
	pool    *synthPool

	idleThreshold time.Duration
	now           func() time.Time
}

// ServiceOption is a functional option for [NewService].
type ServiceOption func(*Service)

// WithIdleThreshold overrides the session idle threshold.
func WithIdleThreshold(d time.Duration) ServiceOption {
	return func(s *Service) { s.idleThreshold = d }
}

// WithSynthesisPool overrides the background pool dimensions.
func WithSynthesisPool(workers, queue int, timeout time.Duration) ServiceOption {
	return func(s *Service) {
		s.pool.Close()
		s.pool = newSynthPool(workers, queue, timeout)
	}
}

// NewService wires a continuity service. synth may be nil, in which
// case TriggerSynthesis and RunDeepSynthesis are no-ops.
func NewService(hot memory.HotStore, cold memory.ColdIndex, builder *ContextBuilder, synth Synthesizer, opts ...ServiceOption) *Service {
	s := &Service{
		hot:           hot,
		cold:          cold,
		builder:       builder,
		synth:         synth,
		pool:          newSynthPool(defaultPoolWorkers, defaultPoolQueue, defaultSynthTimeout),
		idleThreshold: defaultIdleThreshold,
		now:           time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Close drains the synthesis pool.
func (s *Service) Close() {
	s.pool.Close()
}

// ─────────────────────────────────────────────────────────────────────────────
// Process-wide default instance
// ─────────────────────────────────────────────────────────────────────────────

var defaultService atomic.Pointer[Service]

// SetDefault installs svc as the process-wide continuity service.
func SetDefault(svc *Service) {
	defaultService.Store(svc)
}

// Default returns the process-wide continuity service, or nil before
// [SetDefault] runs.
func Default() *Service {
	return defaultService.Load()
}

// ─────────────────────────────────────────────────────────────────────────────
// Turn lifecycle
// ─────────────────────────────────────────────────────────────────────────────

// GetContextWindow assembles the continuity context block for one turn.
func (s *Service) GetContextWindow(ctx context.Context, entityID, userID, query string, opts ContextOpts) (string, error) {
	return s.builder.Build(ctx, entityID, userID, query, opts)
}

// RecordTurn appends a turn to the episodic stream and refreshes the
// last-interaction fields of the expression state. A turn arriving
// after an idle gap longer than the threshold starts a fresh session
// first.
func (s *Service) RecordTurn(ctx context.Context, entityID, userID string, turn memory.Turn) error {
	if turn.Timestamp.IsZero() {
		turn.Timestamp = s.now()
	}

	if err := s.maybeStartSession(ctx, entityID, userID, false); err != nil {
		return err
	}

	if err := s.hot.AppendTurn(ctx, entityID, userID, turn); err != nil {
		return fmt.Errorf("continuity: record turn: %w", err)
	}

	ts := turn.Timestamp
	update := memory.ExpressionUpdate{LastInteractionTimestamp: &ts}
	if turn.EmotionalTone != "" {
		tone := turn.EmotionalTone
		update.LastInteractionTone = &tone
	}
	if err := s.hot.UpdateExpressionState(ctx, entityID, userID, update); err != nil {
		return fmt.Errorf("continuity: update expression state: %w", err)
	}
	return nil
}

// TriggerSynthesis schedules a fire-and-forget synthesis pass. At most
// one pass per (entity, user) is in flight; re-entrant triggers are
// silently dropped. Returns whether the pass was scheduled.
func (s *Service) TriggerSynthesis(entityID, userID string) bool {
	if s.synth == nil {
		return false
	}
	key := entityID + ":" + userID
	return s.pool.Submit(key, func(ctx context.Context) {
		s.runSynthesis(ctx, entityID, userID)
	})
}

// runSynthesis is the pool job body. All failures are logged and
// swallowed: synthesis never blocks or fails a turn.
func (s *Service) runSynthesis(ctx context.Context, entityID, userID string) {
	turns, err := s.hot.LastTurns(ctx, entityID, userID, synthesisWindow)
	if err != nil {
		slog.Warn("continuity: synthesis turn fetch failed",
			"entity", entityID, "error", err)
		return
	}
	if len(turns) == 0 {
		return
	}

	written, err := s.synth.SynthesizeTurns(ctx, entityID, userID, turns)
	if err != nil {
		slog.Warn("continuity: turn synthesis failed",
			"entity", entityID, "error", err)
		return
	}
	if written > 0 {
		s.invalidateContext(ctx, entityID, userID)
	}
}

// RunDeepSynthesis runs a cross-session consolidation pass inline.
func (s *Service) RunDeepSynthesis(ctx context.Context, entityID, userID string, opts DeepSynthesisOpts) (int, error) {
	if s.synth == nil {
		return 0, nil
	}
	written, err := s.synth.SynthesizeDeep(ctx, entityID, userID, opts)
	if err != nil {
		return 0, fmt.Errorf("continuity: deep synthesis: %w", err)
	}
	if written > 0 {
		s.invalidateContext(ctx, entityID, userID)
	}
	return written, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Sessions
// ─────────────────────────────────────────────────────────────────────────────

// InitSession starts a session when forced or when the idle rule says
// the previous one ended. Returns whether a new session started.
//
// Session start clears the episodic stream, active context, and pulse
// state but preserves expression state; only its session-start
// timestamp resets.
func (s *Service) InitSession(ctx context.Context, entityID, userID string, force bool) (bool, error) {
	started, err := s.startSession(ctx, entityID, userID, force)
	if err != nil {
		return false, fmt.Errorf("continuity: init session: %w", err)
	}
	return started, nil
}

// maybeStartSession applies the idle rule ahead of a turn.
func (s *Service) maybeStartSession(ctx context.Context, entityID, userID string, force bool) error {
	if _, err := s.startSession(ctx, entityID, userID, force); err != nil {
		return fmt.Errorf("continuity: session check: %w", err)
	}
	return nil
}

func (s *Service) startSession(ctx context.Context, entityID, userID string, force bool) (bool, error) {
	es, err := s.hot.GetExpressionState(ctx, entityID, userID)
	if err != nil {
		return false, err
	}

	now := s.now()
	fresh := es == nil || es.SessionStartTimestamp.IsZero()
	idle := es != nil && !es.LastInteractionTimestamp.IsZero() &&
		now.Sub(es.LastInteractionTimestamp) > s.idleThreshold

	if !force && !fresh && !idle {
		return false, nil
	}

	if !fresh {
		if err := s.hot.ClearSession(ctx, entityID, userID); err != nil {
			return false, err
		}
	}
	update := memory.ExpressionUpdate{SessionStartTimestamp: &now}
	if err := s.hot.UpdateExpressionState(ctx, entityID, userID, update); err != nil {
		return false, err
	}
	return true, nil
}

// GetSessionInfo reports the current session of one (entity, user) pair.
func (s *Service) GetSessionInfo(ctx context.Context, entityID, userID string) (SessionInfo, error) {
	var info SessionInfo

	es, err := s.hot.GetExpressionState(ctx, entityID, userID)
	if err != nil {
		return info, fmt.Errorf("continuity: session info: %w", err)
	}
	if es != nil {
		info.SessionStart = es.SessionStartTimestamp
		info.LastInteraction = es.LastInteractionTimestamp
	}

	turns, err := s.hot.LastTurns(ctx, entityID, userID, defaultRecentTurns)
	if err != nil {
		return info, fmt.Errorf("continuity: session info: %w", err)
	}
	info.TurnCount = len(turns)

	has, err := s.cold.HasMemories(ctx, entityID, userID)
	if err != nil {
		return info, fmt.Errorf("continuity: session info: %w", err)
	}
	info.HasMemories = has
	return info, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Memory operations
// ─────────────────────────────────────────────────────────────────────────────

// SearchMemory runs a semantic search over the cold tier.
func (s *Service) SearchMemory(ctx context.Context, entityID, userID, query string, limit int, types ...memory.MemoryType) ([]memory.Node, error) {
	return s.cold.SearchSemantic(ctx, entityID, userID, query, limit, types...)
}

// GetMemoriesByType lists cold-tier nodes of one type, newest first.
func (s *Service) GetMemoriesByType(ctx context.Context, entityID, userID string, t memory.MemoryType, limit int) ([]memory.Node, error) {
	return s.cold.GetByType(ctx, entityID, userID, t, limit)
}

// AddMemory inserts a node, defaulting its ID and timestamps, and
// invalidates the active-context cache.
func (s *Service) AddMemory(ctx context.Context, node memory.Node) (memory.Node, error) {
	if node.ID == "" {
		node.ID = uuid.NewString()
	}
	if node.Timestamp.IsZero() {
		node.Timestamp = s.now()
	}
	if node.LastAccessed.IsZero() {
		node.LastAccessed = node.Timestamp
	}
	if node.Importance == 0 {
		node.Importance = 5
	}

	if err := s.cold.UpsertMemory(ctx, node); err != nil {
		return memory.Node{}, fmt.Errorf("continuity: add memory: %w", err)
	}
	s.invalidateContext(ctx, node.EntityID, node.UserID)
	return node, nil
}

// DeleteMemory removes a node and invalidates the cache for its owner.
func (s *Service) DeleteMemory(ctx context.Context, entityID, userID, id string) error {
	if err := s.cold.DeleteMemory(ctx, id); err != nil {
		return fmt.Errorf("continuity: delete memory: %w", err)
	}
	s.invalidateContext(ctx, entityID, userID)
	return nil
}

// LinkMemories links two nodes bidirectionally.
func (s *Service) LinkMemories(ctx context.Context, a, b string) error {
	if err := s.cold.LinkMemories(ctx, a, b); err != nil {
		return fmt.Errorf("continuity: link memories: %w", err)
	}
	return nil
}

// ForgetUser runs the forget-me cascade: cold-tier cascading forget
// plus a hot-tier session clear. Expression state persists.
func (s *Service) ForgetUser(ctx context.Context, entityID, userID string) error {
	if err := s.cold.CascadingForget(ctx, entityID, userID); err != nil {
		return fmt.Errorf("continuity: forget user: %w", err)
	}
	if err := s.hot.ClearSession(ctx, entityID, userID); err != nil {
		return fmt.Errorf("continuity: forget user: clear session: %w", err)
	}
	return nil
}

// invalidateContext drops the cached active context. Best-effort.
func (s *Service) invalidateContext(ctx context.Context, entityID, userID string) {
	if err := s.hot.InvalidateActiveContext(ctx, entityID, userID); err != nil {
		slog.Warn("continuity: active-context invalidation failed",
			"entity", entityID, "error", err)
	}
}
