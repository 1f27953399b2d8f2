// Package pathway implements the declarative pathway engine: named
// prompt/tool units loaded from a directory tree, compiled once, and
// invoked uniformly by the turn executor and transport layers.
//
// A pathway bundles prompt templates, typed input defaults, a model
// binding, and an optional tool-calling schema. Pathways that declare a
// toolDefinition are indexed into the tool registry and become callable
// by entities; pathways with an imperative [ExecuteFunc] attached at
// startup run Go code instead of (or around) their prompts.
package pathway

import (
	"context"
	"fmt"
	"strings"

	"github.com/Enntity/cortex-sub003/internal/pathway/template"
	"github.com/Enntity/cortex-sub003/pkg/provider/llm"
)

// PromptMessage is one templated message of a prompt.
type PromptMessage struct {
	Role    string `yaml:"role"`
	Content string `yaml:"content"`
}

// Prompt is a named list of templated messages. A pathway may carry
// several prompts; runAllPrompts renders and executes them in order.
type Prompt struct {
	Name     string          `yaml:"name"`
	Messages []PromptMessage `yaml:"messages"`
}

// ToolFunction is the standard function-calling schema.
type ToolFunction struct {
	Name        string         `yaml:"name"`
	Description string         `yaml:"description"`
	Parameters  map[string]any `yaml:"parameters"`
}

// ToolDefinition is a pathway's function-calling declaration. Only Type
// and Function travel to the model; the remaining fields are
// implementation-side and are stripped from the serialized schema.
type ToolDefinition struct {
	Type     string       `yaml:"type"`
	Function ToolFunction `yaml:"function"`

	// Enabled gates registration. Definitions default to enabled; an
	// explicit false skips the tool.
	Enabled *bool `yaml:"enabled"`

	// Icon is a UI hint, never sent to the model.
	Icon string `yaml:"icon"`

	// Category groups tools in UIs.
	Category string `yaml:"category"`

	// ToolCost is the budget charge per invocation. Zero-cost tools are
	// free under the per-turn budget.
	ToolCost int `yaml:"toolCost"`

	// HideExecution suppresses tool-status streaming for this tool.
	HideExecution bool `yaml:"hideExecution"`

	// PathwayParams are extra arguments merged into every invocation.
	PathwayParams map[string]any `yaml:"pathwayParams"`
}

// IsEnabled reports whether the definition should register.
func (d *ToolDefinition) IsEnabled() bool {
	return d.Enabled == nil || *d.Enabled
}

// Validate checks the fields the function-calling schema requires.
func (d *ToolDefinition) Validate() error {
	if d.Type != "function" {
		return fmt.Errorf("tool definition: type must be \"function\", got %q", d.Type)
	}
	if d.Function.Name == "" {
		return fmt.Errorf("tool definition: function.name is required")
	}
	if d.Function.Parameters == nil {
		return fmt.Errorf("tool definition %q: function.parameters is required", d.Function.Name)
	}
	return nil
}

// Schema returns the serialized function-calling form: name, description,
// and parameters only. Implementation-side fields (icon, category,
// pathwayParams, toolCost, hideExecution, enabled) do not appear.
func (d *ToolDefinition) Schema() llm.ToolDefinition {
	return llm.ToolDefinition{
		Name:        d.Function.Name,
		Description: d.Function.Description,
		Parameters:  d.Function.Parameters,
	}
}

// Result is the uniform pathway invocation result.
type Result struct {
	// Result is the raw model output when the pathway has no imperative
	// body, else whatever the body returned.
	Result any `json:"result"`

	// Tool names the tool whose execution produced this result, if any.
	Tool string `json:"tool,omitempty"`

	Errors   []string `json:"errors,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
}

// Runtime is the engine surface an imperative pathway body may call.
type Runtime interface {
	// RunAllPrompts renders every prompt of p against args and executes
	// them in order, returning the final model output.
	RunAllPrompts(ctx context.Context, p *Pathway, args map[string]any) (string, error)

	// InvokePathway invokes another pathway by name.
	InvokePathway(ctx context.Context, name string, args map[string]any) (*Result, error)
}

// ExecuteFunc is a pathway's imperative body. Attached in Go at startup;
// never loaded from disk.
type ExecuteFunc func(ctx context.Context, args map[string]any, rt Runtime) (*Result, error)

// SummarizeFunc compresses a tool observation before it re-enters the
// model context.
type SummarizeFunc func(ctx context.Context, output string, rt Runtime) (string, error)

// Pathway is the declarative unit of invocation.
type Pathway struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`

	// Base names the pathway whose defaults this one inherits. Empty
	// means inherit from the registry's configured base pathway.
	Base string `yaml:"base"`

	Prompts []Prompt `yaml:"prompts"`

	// InputParameters are typed defaults merged under the caller's args.
	InputParameters map[string]any `yaml:"inputParameters"`

	// Model overrides the base model binding.
	Model string `yaml:"model"`

	UseInputChunking        bool `yaml:"useInputChunking"`
	EnableDuplicateRequests bool `yaml:"enableDuplicateRequests"`

	// TimeoutSeconds bounds one execution of this pathway.
	TimeoutSeconds int `yaml:"timeout"`

	ToolDefinition *ToolDefinition `yaml:"toolDefinition"`

	// Execute is the optional imperative body.
	Execute ExecuteFunc `yaml:"-"`

	// Summarize optionally compresses this tool's observations.
	Summarize SummarizeFunc `yaml:"-"`

	// templates holds the compiled prompt templates, keyed
	// "prompt/<index>/<msgindex>". Populated by the registry at load
	// time.
	templates *template.Set
}

// ToolName returns the lowercased tool name, or "" when the pathway
// declares no tool.
func (p *Pathway) ToolName() string {
	if p.ToolDefinition == nil {
		return ""
	}
	return strings.ToLower(p.ToolDefinition.Function.Name)
}

// ToolCost returns the declared budget charge, defaulting to 1 so that
// every tool call consumes budget unless explicitly free.
func (p *Pathway) ToolCost() int {
	if p.ToolDefinition == nil || p.ToolDefinition.ToolCost <= 0 {
		return 1
	}
	return p.ToolDefinition.ToolCost
}
