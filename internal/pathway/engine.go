package pathway

import (
	"context"
	"fmt"
	"time"

	"github.com/Enntity/cortex-sub003/internal/pathway/template"
	"github.com/Enntity/cortex-sub003/internal/resilience"
	"github.com/Enntity/cortex-sub003/pkg/provider/llm"
)

// EndpointResolver maps a model binding to the provider that serves it.
// An empty model name resolves the default endpoint.
type EndpointResolver interface {
	Endpoint(model string) (llm.Provider, error)
}

// Compile-time interface check.
var _ Runtime = (*Engine)(nil)

// Engine executes pathways: it resolves them through the registry,
// renders their prompts, and drives the model endpoints. Imperative
// pathway bodies receive the engine as their [Runtime].
type Engine struct {
	registry  *Registry
	endpoints EndpointResolver
	retry     resilience.RetryConfig
}

// EngineOption is a functional option for [NewEngine].
type EngineOption func(*Engine)

// WithRetry overrides the transient-failure retry policy for model calls.
func WithRetry(cfg resilience.RetryConfig) EngineOption {
	return func(e *Engine) { e.retry = cfg }
}

// NewEngine creates an Engine over the given registry and endpoints.
func NewEngine(reg *Registry, endpoints EndpointResolver, opts ...EngineOption) *Engine {
	e := &Engine{
		registry:  reg,
		endpoints: endpoints,
		retry:     resilience.DefaultRetryConfig,
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Registry returns the engine's pathway registry.
func (e *Engine) Registry() *Registry { return e.registry }

// InvokePathway implements [Runtime]. The pathway's input-parameter
// defaults and tool pathwayParams are merged under the caller's args,
// its timeout is applied, and either the imperative body or the prompt
// chain runs.
func (e *Engine) InvokePathway(ctx context.Context, name string, args map[string]any) (*Result, error) {
	p, ok := e.registry.Resolve(name)
	if !ok {
		return nil, fmt.Errorf("pathway: %q not registered", name)
	}
	return e.execute(ctx, p, args)
}

// InvokeTool invokes the pathway registered under the given tool name.
func (e *Engine) InvokeTool(ctx context.Context, toolName string, args map[string]any) (*Result, error) {
	p, ok := e.registry.Tool(toolName)
	if !ok {
		return nil, fmt.Errorf("pathway: tool %q not registered", toolName)
	}
	return e.execute(ctx, p, args)
}

func (e *Engine) execute(ctx context.Context, p *Pathway, args map[string]any) (*Result, error) {
	merged := mergeArgs(p, args)

	if p.TimeoutSeconds > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(p.TimeoutSeconds)*time.Second)
		defer cancel()
	}

	if p.Execute != nil {
		res, err := p.Execute(ctx, merged, e)
		if err != nil {
			return nil, err
		}
		if res != nil && res.Tool == "" {
			res.Tool = p.ToolName()
		}
		return res, nil
	}

	out, err := e.RunAllPrompts(ctx, p, merged)
	if err != nil {
		return nil, err
	}
	return &Result{Result: out, Tool: p.ToolName()}, nil
}

// RunAllPrompts implements [Runtime]. Prompts run in declaration order;
// each subsequent prompt sees the previous output under
// "previousOutput". The final model output is returned.
func (e *Engine) RunAllPrompts(ctx context.Context, p *Pathway, args map[string]any) (string, error) {
	if len(p.Prompts) == 0 {
		return "", fmt.Errorf("pathway %q: no prompts to run", p.Name)
	}

	provider, err := e.endpoints.Endpoint(p.Model)
	if err != nil {
		return "", fmt.Errorf("pathway %q: resolve endpoint: %w", p.Name, err)
	}

	scopeVars := make(map[string]any, len(args)+1)
	for k, v := range args {
		scopeVars[k] = v
	}

	var output string
	for pi := range p.Prompts {
		scopeVars["previousOutput"] = output
		messages, renderErr := e.renderPrompt(p, pi, scopeVars)
		if renderErr != nil {
			return "", fmt.Errorf("pathway %q: render prompt %d: %w", p.Name, pi, renderErr)
		}

		req := llm.CompletionRequest{Messages: messages}

		var resp *llm.CompletionResponse
		err := resilience.Retry(ctx, e.retry, func() error {
			var callErr error
			resp, callErr = provider.Complete(ctx, req)
			return callErr
		})
		if err != nil {
			return "", fmt.Errorf("pathway %q: prompt %d: %w", p.Name, pi, err)
		}
		output = resp.Content
	}
	return output, nil
}

// renderPrompt renders every message of prompt pi against the scope.
func (e *Engine) renderPrompt(p *Pathway, pi int, vars map[string]any) ([]llm.Message, error) {
	scope := template.NewScope(vars)
	prompt := p.Prompts[pi]

	messages := make([]llm.Message, 0, len(prompt.Messages))
	for mi, msg := range prompt.Messages {
		key := fmt.Sprintf("%s/%d/%d", p.Name, pi, mi)
		content, err := p.templates.Render(key, scope)
		if err != nil {
			return nil, err
		}
		messages = append(messages, llm.Message{Role: msg.Role, Content: content})
	}
	return messages, nil
}

// mergeArgs layers, lowest precedence first: input-parameter defaults,
// tool pathwayParams, caller args.
func mergeArgs(p *Pathway, args map[string]any) map[string]any {
	merged := make(map[string]any)
	for k, v := range p.InputParameters {
		merged[k] = v
	}
	if p.ToolDefinition != nil {
		for k, v := range p.ToolDefinition.PathwayParams {
			merged[k] = v
		}
	}
	for k, v := range args {
		merged[k] = v
	}
	return merged
}
