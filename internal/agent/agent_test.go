package agent

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/Enntity/cortex-sub003/internal/continuity"
	"github.com/Enntity/cortex-sub003/internal/entity"
	"github.com/Enntity/cortex-sub003/internal/pathway"
	"github.com/Enntity/cortex-sub003/pkg/memory"
	"github.com/Enntity/cortex-sub003/pkg/provider/llm"
)

// ─────────────────────────────────────────────────────────────────────────────
// Fakes
// ─────────────────────────────────────────────────────────────────────────────

type fakeResolver struct {
	ent     entity.Entity
	err     error
	surface entity.ToolSurface
}

func (f *fakeResolver) LoadEntityConfig(_ context.Context, _ string) (entity.Entity, error) {
	return f.ent, f.err
}

func (f *fakeResolver) GetToolsForEntity(entity.Entity) entity.ToolSurface {
	return f.surface
}

type fakeContinuity struct {
	contextBlock string
	contextErr   error
	initErr      error
	recordErr    error

	initCalls  int
	recorded   []memory.Turn
	synthCalls int
}

func (f *fakeContinuity) InitSession(context.Context, string, string, bool) (bool, error) {
	f.initCalls++
	return f.initErr == nil, f.initErr
}

func (f *fakeContinuity) GetContextWindow(context.Context, string, string, string, continuity.ContextOpts) (string, error) {
	return f.contextBlock, f.contextErr
}

func (f *fakeContinuity) RecordTurn(_ context.Context, _, _ string, turn memory.Turn) error {
	if f.recordErr != nil {
		return f.recordErr
	}
	f.recorded = append(f.recorded, turn)
	return nil
}

func (f *fakeContinuity) TriggerSynthesis(string, string) bool {
	f.synthCalls++
	return true
}

// replyProvider answers every stream with a fixed text and records the
// requests it saw.
type replyProvider struct {
	reply    string
	requests []llm.CompletionRequest
}

func (p *replyProvider) StreamCompletion(_ context.Context, req llm.CompletionRequest) (<-chan llm.Chunk, error) {
	p.requests = append(p.requests, req)
	ch := make(chan llm.Chunk, 1)
	ch <- llm.Chunk{Text: p.reply, FinishReason: "stop"}
	close(ch)
	return ch, nil
}

func (p *replyProvider) Complete(context.Context, llm.CompletionRequest) (*llm.CompletionResponse, error) {
	return nil, errors.New("not implemented")
}

func (p *replyProvider) CountTokens([]llm.Message) (int, error) { return 10, nil }

func (p *replyProvider) Capabilities() llm.ModelCapabilities {
	return llm.ModelCapabilities{ContextWindow: 100000, SupportsToolCalling: true}
}

// cancellingProvider emits a partial chunk, cancels the turn, then
// holds the stream open until the context is released.
type cancellingProvider struct {
	cancel context.CancelFunc
}

func (p *cancellingProvider) StreamCompletion(ctx context.Context, _ llm.CompletionRequest) (<-chan llm.Chunk, error) {
	ch := make(chan llm.Chunk)
	go func() {
		defer close(ch)
		select {
		case ch <- llm.Chunk{Text: "partial answer"}:
		case <-ctx.Done():
			return
		}
		p.cancel()
		<-ctx.Done()
	}()
	return ch, nil
}

func (p *cancellingProvider) Complete(context.Context, llm.CompletionRequest) (*llm.CompletionResponse, error) {
	return nil, errors.New("not implemented")
}

func (p *cancellingProvider) CountTokens([]llm.Message) (int, error) { return 10, nil }

func (p *cancellingProvider) Capabilities() llm.ModelCapabilities {
	return llm.ModelCapabilities{ContextWindow: 100000, SupportsToolCalling: true}
}

type staticEndpoints struct {
	provider llm.Provider
	models   []string
}

func (s *staticEndpoints) Endpoint(model string) (llm.Provider, error) {
	s.models = append(s.models, model)
	return s.provider, nil
}

type nopInvoker struct{}

func (nopInvoker) InvokeTool(context.Context, string, map[string]any) (*pathway.Result, error) {
	return &pathway.Result{Result: "ok"}, nil
}

func (nopInvoker) InvokePathway(context.Context, string, map[string]any) (*pathway.Result, error) {
	return nil, errors.New("not implemented")
}

func (nopInvoker) RunAllPrompts(context.Context, *pathway.Pathway, map[string]any) (string, error) {
	return "", errors.New("not implemented")
}

func testAgent(t *testing.T, resolver *fakeResolver, cont *fakeContinuity, provider llm.Provider) (*Agent, *staticEndpoints) {
	t.Helper()
	endpoints := &staticEndpoints{provider: provider}
	a, err := New(Config{
		Resolver:   resolver,
		Continuity: cont,
		Endpoints:  endpoints,
		Registry:   pathway.NewRegistry(),
		Invoker:    nopInvoker{},
	})
	if err != nil {
		t.Fatal(err)
	}
	return a, endpoints
}

func visibleEntity() entity.Entity {
	return entity.Entity{
		ID:           "e1",
		Name:         "Cortex",
		Identity:     "A patient, curious companion.",
		IsSystem:     true,
		UseMemory:    true,
		BaseModel:    "gpt-test",
		AssocUserIDs: []string{"u1"},
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// Tests
// ─────────────────────────────────────────────────────────────────────────────

func TestRunTurn(t *testing.T) {
	resolver := &fakeResolver{ent: visibleEntity()}
	cont := &fakeContinuity{contextBlock: "## Relational Context\nThey like tea."}
	provider := &replyProvider{reply: "Hello again."}
	a, endpoints := testAgent(t, resolver, cont, provider)

	resp, err := a.RunTurn(context.Background(), TurnRequest{
		EntityID: "e1", UserID: "u1", Query: "hi",
	})
	if err != nil {
		t.Fatal(err)
	}
	if resp.Result != "Hello again." {
		t.Errorf("result = %q", resp.Result)
	}
	if len(resp.Errors) != 0 || len(resp.Warnings) != 0 {
		t.Errorf("unexpected errors/warnings: %v / %v", resp.Errors, resp.Warnings)
	}

	if cont.initCalls != 1 {
		t.Errorf("initSession calls = %d", cont.initCalls)
	}
	if len(cont.recorded) != 2 ||
		cont.recorded[0].Role != memory.RoleUser ||
		cont.recorded[1].Role != memory.RoleAssistant {
		t.Errorf("recorded turns = %+v", cont.recorded)
	}
	if cont.recorded[1].Content != "Hello again." {
		t.Errorf("assistant turn content = %q", cont.recorded[1].Content)
	}
	if cont.synthCalls != 1 {
		t.Errorf("synthesis triggers = %d", cont.synthCalls)
	}
	if len(endpoints.models) != 1 || endpoints.models[0] != "gpt-test" {
		t.Errorf("model binding = %v", endpoints.models)
	}

	prompt := provider.requests[0].SystemPrompt
	for _, want := range []string{"Cortex", "patient, curious", "They like tea.", "Current date and time:"} {
		if !strings.Contains(prompt, want) {
			t.Errorf("system prompt missing %q:\n%s", want, prompt)
		}
	}
}

func TestRunTurnRejectsInvisibleEntity(t *testing.T) {
	ent := visibleEntity()
	ent.IsSystem = false
	ent.AssocUserIDs = []string{"someone-else"}
	a, _ := testAgent(t, &fakeResolver{ent: ent}, &fakeContinuity{}, &replyProvider{})

	_, err := a.RunTurn(context.Background(), TurnRequest{EntityID: "e1", UserID: "u1", Query: "hi"})
	if !errors.Is(err, ErrNotVisible) {
		t.Errorf("err = %v, want ErrNotVisible", err)
	}
}

func TestRunTurnValidatesInput(t *testing.T) {
	a, _ := testAgent(t, &fakeResolver{ent: visibleEntity()}, &fakeContinuity{}, &replyProvider{})
	if _, err := a.RunTurn(context.Background(), TurnRequest{UserID: "u1"}); err == nil {
		t.Error("empty query accepted")
	}
	if _, err := a.RunTurn(context.Background(), TurnRequest{Query: "hi"}); err == nil {
		t.Error("empty user accepted")
	}
}

func TestRunTurnDegradesOnContextFailure(t *testing.T) {
	cont := &fakeContinuity{contextErr: errors.New("redis down")}
	provider := &replyProvider{reply: "still here"}
	a, _ := testAgent(t, &fakeResolver{ent: visibleEntity()}, cont, provider)

	resp, err := a.RunTurn(context.Background(), TurnRequest{EntityID: "e1", UserID: "u1", Query: "hi"})
	if err != nil {
		t.Fatal(err)
	}
	if resp.Result != "still here" {
		t.Errorf("result = %q", resp.Result)
	}
	if len(resp.Warnings) != 1 || !strings.Contains(resp.Warnings[0], "context window") {
		t.Errorf("warnings = %v", resp.Warnings)
	}
}

func TestRunTurnSkipsSynthesisWithoutMemory(t *testing.T) {
	ent := visibleEntity()
	ent.UseMemory = false
	cont := &fakeContinuity{}
	a, _ := testAgent(t, &fakeResolver{ent: ent}, cont, &replyProvider{reply: "ok"})

	if _, err := a.RunTurn(context.Background(), TurnRequest{EntityID: "e1", UserID: "u1", Query: "hi"}); err != nil {
		t.Fatal(err)
	}
	if cont.synthCalls != 0 {
		t.Errorf("synthesis triggered for memoryless entity: %d", cont.synthCalls)
	}
}

func TestRunTurnCancelledSkipsSynthesis(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	cont := &fakeContinuity{}
	provider := &cancellingProvider{cancel: cancel}
	a, _ := testAgent(t, &fakeResolver{ent: visibleEntity()}, cont, provider)

	resp, err := a.RunTurn(ctx, TurnRequest{EntityID: "e1", UserID: "u1", Query: "hi"})
	if err != nil {
		t.Fatal(err)
	}
	if !resp.Cancelled {
		t.Error("response should report cancellation")
	}
	if resp.Result != "partial answer" {
		t.Errorf("partial result = %q", resp.Result)
	}
	if len(cont.recorded) != 2 {
		t.Errorf("partial exchange should still be recorded: %+v", cont.recorded)
	}
	if cont.synthCalls != 0 {
		t.Errorf("synthesis fired after cancellation: %d", cont.synthCalls)
	}
}

func TestNewValidatesConfig(t *testing.T) {
	base := Config{
		Resolver:   &fakeResolver{},
		Continuity: &fakeContinuity{},
		Endpoints:  &staticEndpoints{},
		Registry:   pathway.NewRegistry(),
		Invoker:    nopInvoker{},
	}
	if _, err := New(base); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}

	for name, mutate := range map[string]func(*Config){
		"resolver":   func(c *Config) { c.Resolver = nil },
		"continuity": func(c *Config) { c.Continuity = nil },
		"endpoints":  func(c *Config) { c.Endpoints = nil },
		"registry":   func(c *Config) { c.Registry = nil },
		"invoker":    func(c *Config) { c.Invoker = nil },
	} {
		cfg := base
		mutate(&cfg)
		if _, err := New(cfg); err == nil {
			t.Errorf("missing %s accepted", name)
		}
	}
}

func TestRegisterPathway(t *testing.T) {
	provider := &replyProvider{reply: "via pathway"}
	a, _ := testAgent(t, &fakeResolver{ent: visibleEntity()}, &fakeContinuity{}, provider)

	reg := pathway.NewRegistry()
	if err := a.RegisterPathway(reg); err != nil {
		t.Fatal(err)
	}
	p, ok := reg.Resolve(PathwayName)
	if !ok {
		t.Fatal("pathway not registered")
	}

	res, err := p.Execute(context.Background(), map[string]any{
		"entityId": "e1", "userId": "u1", "query": "hello",
	}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if res.Result != "via pathway" {
		t.Errorf("result = %v", res.Result)
	}
}

func TestBuildSystemPromptShaping(t *testing.T) {
	ent := visibleEntity()
	now := time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)

	text := buildSystemPrompt(ent, "", now, "", false)
	if !strings.Contains(text, "continuity of memory") || strings.Contains(text, "speaking aloud") {
		t.Error("text shaping wrong")
	}

	voice := buildSystemPrompt(ent, "", now, "", true)
	if !strings.Contains(voice, "speaking aloud") {
		t.Error("voice shaping wrong")
	}

	withFiles := buildSystemPrompt(ent, "", now, "report.pdf (12 pages)", false)
	if !strings.Contains(withFiles, "## Available Files\nreport.pdf") {
		t.Error("files summary missing")
	}
	if strings.Contains(text, "## Available Files") {
		t.Error("files section present without files")
	}
}
