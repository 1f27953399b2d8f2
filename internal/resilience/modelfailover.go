package resilience

import (
	"context"

	"github.com/Enntity/cortex-sub003/pkg/provider/llm"
)

// ModelFailover implements [llm.Provider] across an ordered set of
// model backends. Each backend carries its own breaker; a primary in
// sustained failure is bypassed in favour of the next healthy backend
// until its cooldown elapses.
//
// Only the request itself participates in failover. Once a stream is
// established, mid-stream errors surface to the caller unchanged, and
// a caller-cancelled request never counts against a backend.
type ModelFailover struct {
	group *Failover[llm.Provider]
}

var _ llm.Provider = (*ModelFailover)(nil)

// NewModelFailover creates a [ModelFailover] preferring primary.
func NewModelFailover(name string, primary llm.Provider, opts ...BreakerOption) *ModelFailover {
	return &ModelFailover{group: NewFailover(name, primary, opts...)}
}

// Add registers a further backend, tried after all earlier ones.
func (m *ModelFailover) Add(name string, p llm.Provider) {
	m.group.Add(name, p)
}

// Complete sends the request to the first healthy backend.
func (m *ModelFailover) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	return Call(m.group, func(p llm.Provider) (*llm.CompletionResponse, error) {
		return p.Complete(ctx, req)
	})
}

// StreamCompletion opens a chunk stream on the first healthy backend.
func (m *ModelFailover) StreamCompletion(ctx context.Context, req llm.CompletionRequest) (<-chan llm.Chunk, error) {
	return Call(m.group, func(p llm.Provider) (<-chan llm.Chunk, error) {
		return p.StreamCompletion(ctx, req)
	})
}

// CountTokens estimates with the primary backend. Token counting is
// local arithmetic over the primary's tokenizer; routing it through
// failover would silently switch tokenizers mid-turn.
func (m *ModelFailover) CountTokens(messages []llm.Message) (int, error) {
	return m.group.Primary().CountTokens(messages)
}

// Capabilities reports the primary backend's capabilities. Context
// budgeting must stay stable for a turn regardless of which backend
// serves an individual request.
func (m *ModelFailover) Capabilities() llm.ModelCapabilities {
	return m.group.Primary().Capabilities()
}
