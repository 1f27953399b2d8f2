package llm

// Message is one entry in a conversation transcript. Role follows the
// chat-completion convention: "system", "user", "assistant", or "tool".
type Message struct {
	Role    string
	Content string

	// Name optionally identifies the speaker in multi-participant
	// transcripts.
	Name string

	// ToolCalls holds the tool invocations an assistant message requested.
	ToolCalls []ToolCall

	// ToolCallID links a "tool" message back to the call it answers.
	ToolCallID string
}

// ToolCall is a single tool invocation requested by the model.
type ToolCall struct {
	// ID is assigned by the provider and must be echoed back in the
	// tool message carrying the observation.
	ID string

	Name string

	// Arguments is the raw JSON argument payload.
	Arguments string
}

// ToolDefinition is the function-calling schema offered to a model:
// just the name, the prompt-visible description, and the JSON Schema
// of the parameters.
type ToolDefinition struct {
	Name        string
	Description string
	Parameters  map[string]any
}

// ModelCapabilities reports what a model endpoint supports. The
// executor uses ContextWindow for transcript budgeting and skips tool
// offers to models without native calling support.
type ModelCapabilities struct {
	ContextWindow   int
	MaxOutputTokens int

	SupportsToolCalling bool
	SupportsVision      bool
	SupportsStreaming   bool
}
