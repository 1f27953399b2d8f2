// Package agent implements the entity agent pathway, the composition
// root of a turn: it resolves the entity, opens or continues the
// session, builds the continuity context, assembles the system prompt,
// drives the turn executor, and records the exchange back into memory.
//
// The agent itself registers as a pathway ("entity_agent") so that
// transports invoke it exactly like any other pathway.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Enntity/cortex-sub003/internal/continuity"
	"github.com/Enntity/cortex-sub003/internal/entity"
	"github.com/Enntity/cortex-sub003/internal/executor"
	"github.com/Enntity/cortex-sub003/internal/pathway"
	"github.com/Enntity/cortex-sub003/pkg/memory"
	"github.com/Enntity/cortex-sub003/pkg/provider/llm"
)

// EntityResolver loads entity configs and computes tool surfaces.
type EntityResolver interface {
	LoadEntityConfig(ctx context.Context, id string) (entity.Entity, error)
	GetToolsForEntity(e entity.Entity) entity.ToolSurface
}

// Continuity is the slice of the continuity service a turn needs.
type Continuity interface {
	InitSession(ctx context.Context, entityID, userID string, force bool) (bool, error)
	GetContextWindow(ctx context.Context, entityID, userID, query string, opts continuity.ContextOpts) (string, error)
	RecordTurn(ctx context.Context, entityID, userID string, turn memory.Turn) error
	TriggerSynthesis(entityID, userID string) bool
}

// Compile-time checks against the production implementations.
var (
	_ EntityResolver = (*entity.Resolver)(nil)
	_ Continuity     = (*continuity.Service)(nil)
)

// ErrNotVisible is returned when an entity exists but is not visible to
// the requesting user.
var ErrNotVisible = errors.New("agent: entity not visible to user")

// Config holds the dependencies of an [Agent]. Resolver, Continuity,
// Endpoints, Registry, and Invoker are required.
type Config struct {
	Resolver   EntityResolver
	Continuity Continuity

	// Endpoints resolves an entity's base model to a provider.
	Endpoints pathway.EndpointResolver

	// Registry supplies tool metadata to the executor.
	Registry *pathway.Registry

	// Invoker dispatches tool calls; normally the pathway engine.
	Invoker executor.ToolInvoker

	// MaxRounds and ToolTimeout override executor defaults when set.
	MaxRounds   int
	ToolTimeout time.Duration
}

// Agent runs entity turns. Safe for concurrent use; all per-turn state
// is local to the call.
type Agent struct {
	cfg Config
	now func() time.Time
}

// New validates cfg and returns an Agent.
func New(cfg Config) (*Agent, error) {
	if cfg.Resolver == nil {
		return nil, errors.New("agent: Resolver must not be nil")
	}
	if cfg.Continuity == nil {
		return nil, errors.New("agent: Continuity must not be nil")
	}
	if cfg.Endpoints == nil {
		return nil, errors.New("agent: Endpoints must not be nil")
	}
	if cfg.Registry == nil {
		return nil, errors.New("agent: Registry must not be nil")
	}
	if cfg.Invoker == nil {
		return nil, errors.New("agent: Invoker must not be nil")
	}
	return &Agent{cfg: cfg, now: time.Now}, nil
}

// TurnRequest is one inbound user turn.
type TurnRequest struct {
	// EntityID selects the entity; empty resolves the default entity.
	EntityID string

	UserID string

	// Query is the user's message.
	Query string

	// Voice selects the voice-shaped common instructions.
	Voice bool

	// FilesSummary describes files currently available to the entity.
	FilesSummary string

	// Budget is the per-turn tool allowance. Zero means default.
	Budget int

	// Emitter receives streaming output. Nil discards it.
	Emitter executor.TurnEmitter
}

// TurnResponse is the uniform agent pathway result.
type TurnResponse struct {
	Result string

	// Tool names the last tool that executed this turn, if any.
	Tool string

	Errors   []string
	Warnings []string

	ToolsUsed  []string
	Rounds     int
	BudgetUsed int
	Cancelled  bool
}

// RunTurn executes one full turn. Failures in the surrounding machinery
// (context build, turn recording, synthesis) degrade into warnings; the
// turn fails only when the entity cannot be resolved or the model call
// itself errors.
func (a *Agent) RunTurn(ctx context.Context, req TurnRequest) (*TurnResponse, error) {
	if req.UserID == "" {
		return nil, errors.New("agent: user ID must not be empty")
	}
	if req.Query == "" {
		return nil, errors.New("agent: query must not be empty")
	}

	ent, err := a.cfg.Resolver.LoadEntityConfig(ctx, req.EntityID)
	if err != nil {
		return nil, fmt.Errorf("agent: resolve entity %q: %w", req.EntityID, err)
	}
	if !ent.IsVisibleTo(req.UserID) {
		return nil, fmt.Errorf("%w: entity %q, user %q", ErrNotVisible, ent.ID, req.UserID)
	}

	resp := &TurnResponse{}

	if _, err := a.cfg.Continuity.InitSession(ctx, ent.ID, req.UserID, false); err != nil {
		a.warn(resp, "session init failed", ent.ID, err)
	}

	contextBlock, err := a.cfg.Continuity.GetContextWindow(ctx, ent.ID, req.UserID, req.Query, continuity.ContextOpts{})
	if err != nil {
		a.warn(resp, "context window unavailable", ent.ID, err)
		contextBlock = ""
	}

	provider, err := a.cfg.Endpoints.Endpoint(ent.BaseModel)
	if err != nil {
		return nil, fmt.Errorf("agent: resolve model %q: %w", ent.BaseModel, err)
	}

	surface := a.cfg.Resolver.GetToolsForEntity(ent)
	systemPrompt := buildSystemPrompt(ent, contextBlock, a.now(), req.FilesSummary, req.Voice)

	exec := a.executorFor(provider, req.Emitter)
	result, err := exec.Execute(ctx, executor.Request{
		EntityID:     ent.ID,
		UserID:       req.UserID,
		SystemPrompt: systemPrompt,
		History:      []llm.Message{{Role: "user", Content: req.Query}},
		Tools:        surface.Schemas,
		Budget:       req.Budget,
	})
	if err != nil {
		return nil, fmt.Errorf("agent: execute turn: %w", err)
	}

	resp.Result = result.Text
	resp.ToolsUsed = result.ToolsUsed
	resp.Rounds = result.Rounds
	resp.BudgetUsed = result.BudgetUsed
	resp.Cancelled = result.Cancelled
	if len(result.ToolsUsed) > 0 {
		resp.Tool = result.ToolsUsed[len(result.ToolsUsed)-1]
	}

	a.record(ctx, resp, ent.ID, req.UserID, memory.Turn{
		Role: memory.RoleUser, Content: req.Query, Timestamp: a.now(),
	})
	a.record(ctx, resp, ent.ID, req.UserID, memory.Turn{
		Role: memory.RoleAssistant, Content: result.Text, Timestamp: a.now(),
	})

	// A cancelled turn returns its partial text but never synthesizes:
	// the aborted exchange is not a complete unit of experience.
	if ent.UseMemory && !result.Cancelled {
		a.cfg.Continuity.TriggerSynthesis(ent.ID, req.UserID)
	}

	return resp, nil
}

func (a *Agent) executorFor(provider llm.Provider, emitter executor.TurnEmitter) *executor.Executor {
	opts := []executor.Option{}
	if emitter != nil {
		opts = append(opts, executor.WithEmitter(emitter))
	}
	if a.cfg.MaxRounds > 0 {
		opts = append(opts, executor.WithMaxRounds(a.cfg.MaxRounds))
	}
	if a.cfg.ToolTimeout > 0 {
		opts = append(opts, executor.WithToolTimeout(a.cfg.ToolTimeout))
	}
	return executor.New(provider, a.cfg.Registry, a.cfg.Invoker, opts...)
}

func (a *Agent) record(ctx context.Context, resp *TurnResponse, entityID, userID string, turn memory.Turn) {
	if err := a.cfg.Continuity.RecordTurn(ctx, entityID, userID, turn); err != nil {
		a.warn(resp, "turn recording failed", entityID, err)
	}
}

func (a *Agent) warn(resp *TurnResponse, msg, entityID string, err error) {
	slog.Warn("agent: "+msg, "entity", entityID, "error", err)
	resp.Warnings = append(resp.Warnings, fmt.Sprintf("%s: %v", msg, err))
}
