// Package executor implements the per-turn tool-calling loop: it drives
// a streaming model call, dispatches requested tools through the pathway
// engine, feeds observations back into the conversation, and enforces
// the per-turn tool budget and round cap.
//
// One Executor instance serves many concurrent turns; all per-turn state
// lives in the run it creates per request.
package executor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/antzucaro/matchr"
	"github.com/google/uuid"

	"github.com/Enntity/cortex-sub003/internal/pathway"
	"github.com/Enntity/cortex-sub003/pkg/provider/llm"
)

const (
	// defaultMaxRounds caps tool-calling rounds per turn.
	defaultMaxRounds = 6

	// defaultToolBudget is the per-turn tool cost allowance when the
	// request does not set one.
	defaultToolBudget = 5

	// defaultToolTimeout bounds a dispatch whose pathway declares no
	// timeout of its own.
	defaultToolTimeout = 30 * time.Second

	// compressionRatio of the context window at which prior tool
	// observations are compressed before the next model call.
	compressionRatio = 0.8

	// compressedPrefixLen is the retained prefix when an observation is
	// truncated instead of summarized.
	compressedPrefixLen = 400

	// suggestionMaxDistance bounds the edit distance for "did you mean"
	// hints on unknown tool names.
	suggestionMaxDistance = 3
)

// ToolInvoker dispatches tool calls and runs summarizer callbacks. The
// pathway engine is the production implementation.
type ToolInvoker interface {
	pathway.Runtime

	// InvokeTool invokes the pathway registered under toolName.
	InvokeTool(ctx context.Context, toolName string, args map[string]any) (*pathway.Result, error)
}

var _ ToolInvoker = (*pathway.Engine)(nil)

// Request is one turn to execute.
type Request struct {
	EntityID string
	UserID   string

	// SystemPrompt is the assembled identity + context instruction.
	SystemPrompt string

	// History is the conversation so far, the user's latest message
	// included as the final entry.
	History []llm.Message

	// Tools is the entity's resolved tool surface. Empty disables tool
	// calling for the turn.
	Tools []llm.ToolDefinition

	// Budget is the per-turn tool cost allowance. Zero means default.
	Budget int

	Temperature float64
	MaxTokens   int
}

// Result is the assembled outcome of a turn.
type Result struct {
	// Text is the final assistant text. Partial when Cancelled.
	Text string

	// ToolsUsed lists the tools that actually executed, in dispatch
	// order, one entry per execution.
	ToolsUsed []string

	// Rounds is the number of model calls that requested tools.
	Rounds int

	// BudgetUsed is the summed cost of executed tools.
	BudgetUsed int

	// Cancelled reports that the caller aborted the turn mid-flight.
	Cancelled bool
}

// Executor runs the tool-calling loop against one model endpoint.
type Executor struct {
	provider llm.Provider
	registry *pathway.Registry
	invoker  ToolInvoker
	emitter  TurnEmitter

	maxRounds   int
	toolTimeout time.Duration
}

// Option is a functional option for [New].
type Option func(*Executor)

// WithEmitter streams incremental output to em instead of discarding it.
func WithEmitter(em TurnEmitter) Option {
	return func(x *Executor) { x.emitter = em }
}

// WithMaxRounds overrides the tool-calling round cap.
func WithMaxRounds(n int) Option {
	return func(x *Executor) { x.maxRounds = n }
}

// WithToolTimeout overrides the fallback dispatch timeout.
func WithToolTimeout(d time.Duration) Option {
	return func(x *Executor) { x.toolTimeout = d }
}

// New creates an Executor over the given model, tool registry, and
// dispatcher.
func New(provider llm.Provider, registry *pathway.Registry, invoker ToolInvoker, opts ...Option) *Executor {
	x := &Executor{
		provider:    provider,
		registry:    registry,
		invoker:     invoker,
		emitter:     NopEmitter{},
		maxRounds:   defaultMaxRounds,
		toolTimeout: defaultToolTimeout,
	}
	for _, o := range opts {
		o(x)
	}
	return x
}

// ─────────────────────────────────────────────────────────────────────────────
// Turn loop
// ─────────────────────────────────────────────────────────────────────────────

// run is the per-turn state.
type run struct {
	x       *Executor
	trackID string

	messages []llm.Message
	tools    []llm.ToolDefinition

	budget     int
	budgetUsed int
	rounds     int
	toolsUsed  []string

	// memo holds prior observations keyed by (tool, canonical args).
	memo map[string]string

	// compressed marks message indices already compressed.
	compressed map[int]bool
}

// Execute runs one turn to completion. Context cancellation aborts the
// current model call, lets in-flight dispatches finish under their own
// timeouts, and returns the partial result with Cancelled set.
func (x *Executor) Execute(ctx context.Context, req Request) (*Result, error) {
	if len(req.History) == 0 {
		return nil, errors.New("executor: empty history")
	}

	r := &run{
		x:          x,
		trackID:    uuid.NewString(),
		messages:   append([]llm.Message(nil), req.History...),
		tools:      req.Tools,
		budget:     req.Budget,
		memo:       make(map[string]string),
		compressed: make(map[int]bool),
	}
	if r.budget <= 0 {
		r.budget = defaultToolBudget
	}

	x.emitter.TrackStart(r.trackID)

	text, cancelled, err := x.loop(ctx, r, req)
	if err != nil {
		return nil, err
	}

	x.emitter.TrackComplete(r.trackID, text)

	return &Result{
		Text:       text,
		ToolsUsed:  r.toolsUsed,
		Rounds:     r.rounds,
		BudgetUsed: r.budgetUsed,
		Cancelled:  cancelled,
	}, nil
}

func (x *Executor) loop(ctx context.Context, r *run, req Request) (text string, cancelled bool, err error) {
	forceNoTools := len(r.tools) == 0

	for {
		x.compressIfNeeded(ctx, r, req.SystemPrompt)

		creq := llm.CompletionRequest{
			Messages:     r.messages,
			SystemPrompt: req.SystemPrompt,
			Temperature:  req.Temperature,
			MaxTokens:    req.MaxTokens,
		}
		if !forceNoTools {
			creq.Tools = r.tools
		}

		text, calls, streamErr := x.streamOnce(ctx, r.trackID, creq)
		if streamErr != nil {
			if ctx.Err() != nil {
				return text, true, nil
			}
			return "", false, streamErr
		}

		if len(calls) == 0 || forceNoTools {
			return text, false, nil
		}

		r.rounds++
		r.messages = append(r.messages, llm.Message{
			Role:      "assistant",
			Content:   text,
			ToolCalls: calls,
		})

		observations := x.dispatch(ctx, r, calls)
		r.messages = append(r.messages, observations...)

		if ctx.Err() != nil {
			return text, true, nil
		}
		if r.budgetUsed >= r.budget || r.rounds >= x.maxRounds {
			forceNoTools = true
		}
	}
}

// streamOnce performs one streaming model call, forwarding text deltas
// and accumulating tool calls.
func (x *Executor) streamOnce(ctx context.Context, trackID string, req llm.CompletionRequest) (string, []llm.ToolCall, error) {
	ch, err := x.provider.StreamCompletion(ctx, req)
	if err != nil {
		return "", nil, fmt.Errorf("executor: start stream: %w", err)
	}

	var sb strings.Builder
	var calls []llm.ToolCall
	var finish string
	for chunk := range ch {
		if chunk.Text != "" {
			sb.WriteString(chunk.Text)
			x.emitter.TextDelta(trackID, chunk.Text)
		}
		calls = append(calls, chunk.ToolCalls...)
		if chunk.FinishReason != "" {
			finish = chunk.FinishReason
		}
	}

	if ctx.Err() != nil {
		return sb.String(), nil, ctx.Err()
	}
	if finish == "error" {
		return "", nil, errors.New("executor: model stream failed")
	}
	return sb.String(), calls, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Tool dispatch
// ─────────────────────────────────────────────────────────────────────────────

// dispatch executes one round of tool calls. Unique calls run
// concurrently; observations come back in the order the model listed
// the calls.
func (x *Executor) dispatch(ctx context.Context, r *run, calls []llm.ToolCall) []llm.Message {
	type slot struct {
		key       string
		name      string
		args      map[string]any
		pw        *pathway.Pathway
		duplicate bool
		content   string
	}

	slots := make([]slot, len(calls))
	seen := make(map[string]int) // key → first slot index this round
	var executing []int

	// Admission walks the calls in model order: a call is admitted while
	// the budget is not yet exhausted by the calls before it. The last
	// admitted call may overshoot by its own cost; everything after it
	// is truncated without running.
	projected := r.budgetUsed

	for i, tc := range calls {
		name := strings.ToLower(strings.TrimSpace(tc.Name))
		s := slot{name: name}

		pw, ok := x.registry.Tool(name)
		if !ok {
			s.content = unknownToolObservation(name, x.registry.ToolNames())
			x.emitter.ToolStatus(r.trackID, ToolStatus{
				CallID: tc.ID, Tool: name, State: ToolFailed, Detail: "unknown tool",
			})
			slots[i] = s
			continue
		}
		s.pw = pw
		s.args, s.key = parseArgs(name, tc.Arguments)

		if !pw.EnableDuplicateRequests {
			if prior, ok := r.memo[s.key]; ok {
				s.duplicate = true
				s.content = prior
				x.emitter.ToolStatus(r.trackID, ToolStatus{
					CallID: tc.ID, Tool: name, State: ToolDuplicate,
				})
				slots[i] = s
				continue
			}
			if _, ok := seen[s.key]; ok {
				// Resolved after the first occurrence executes.
				s.duplicate = true
				slots[i] = s
				continue
			}
		}

		if projected >= r.budget {
			s.content = budgetObservation(name)
			x.emitter.ToolStatus(r.trackID, ToolStatus{
				CallID: tc.ID, Tool: name, State: ToolTruncated,
				Detail: "tool budget exhausted",
			})
			slots[i] = s
			continue
		}
		projected += s.pw.ToolCost()
		if !s.pw.EnableDuplicateRequests {
			seen[s.key] = i
		}

		executing = append(executing, i)
		slots[i] = s
	}

	// In-flight dispatches survive caller cancellation up to their own
	// timeouts, so partial turns still record tool outcomes.
	base := context.WithoutCancel(ctx)

	var wg sync.WaitGroup
	for _, i := range executing {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s := &slots[i]
			tc := calls[i]

			x.emitter.ToolStatus(r.trackID, ToolStatus{
				CallID: tc.ID, Tool: s.name, State: ToolRunning,
			})
			start := time.Now()

			tctx, cancel := context.WithTimeout(base, x.timeoutFor(s.pw))
			defer cancel()

			res, err := x.invoker.InvokeTool(tctx, s.name, s.args)
			elapsed := time.Since(start)
			if err != nil {
				s.content = failureObservation(err.Error())
				x.emitter.ToolStatus(r.trackID, ToolStatus{
					CallID: tc.ID, Tool: s.name, State: ToolFailed,
					Detail: err.Error(), Duration: elapsed,
				})
				return
			}

			s.content = x.observationText(tctx, s.pw, res)
			x.emitter.ToolStatus(r.trackID, ToolStatus{
				CallID: tc.ID, Tool: s.name, State: ToolCompleted, Duration: elapsed,
			})
		}(i)
	}
	wg.Wait()

	// Account executed calls and memoize their observations.
	for _, i := range executing {
		s := slots[i]
		r.toolsUsed = append(r.toolsUsed, s.name)
		r.budgetUsed += s.pw.ToolCost()
		if !s.pw.EnableDuplicateRequests {
			r.memo[s.key] = s.content
		}
	}

	// Fill same-round duplicates from the first occurrence, then build
	// observations in model order.
	observations := make([]llm.Message, 0, len(calls))
	for i, tc := range calls {
		s := slots[i]
		content := s.content
		if s.duplicate {
			if prior, ok := r.memo[s.key]; ok {
				content = prior
			}
			content = duplicateObservation(content)
			if slots[i].content == "" {
				x.emitter.ToolStatus(r.trackID, ToolStatus{
					CallID: tc.ID, Tool: s.name, State: ToolDuplicate,
				})
			}
		}
		observations = append(observations, llm.Message{
			Role:       "tool",
			Content:    content,
			Name:       s.name,
			ToolCallID: tc.ID,
		})
	}
	return observations
}

func (x *Executor) timeoutFor(pw *pathway.Pathway) time.Duration {
	if pw.TimeoutSeconds > 0 {
		return time.Duration(pw.TimeoutSeconds) * time.Second
	}
	return x.toolTimeout
}

// observationText renders a pathway result for the model, running the
// pathway's summarizer when one is declared.
func (x *Executor) observationText(ctx context.Context, pw *pathway.Pathway, res *pathway.Result) string {
	content := stringifyResult(res)
	if pw.Summarize == nil {
		return content
	}
	summarized, err := pw.Summarize(ctx, content, x.invoker)
	if err != nil {
		slog.Warn("executor: summarize failed, keeping raw observation",
			"tool", pw.ToolName(), "error", err)
		return content
	}
	return summarized
}

// ─────────────────────────────────────────────────────────────────────────────
// Context compression
// ─────────────────────────────────────────────────────────────────────────────

// compressIfNeeded shrinks prior tool observations when the estimated
// context crosses the compression threshold. Observations whose pathway
// declares a summarizer are summarized; the rest are truncated.
func (x *Executor) compressIfNeeded(ctx context.Context, r *run, systemPrompt string) {
	window := x.provider.Capabilities().ContextWindow
	if window <= 0 {
		return
	}

	estimate := append([]llm.Message{{Role: "system", Content: systemPrompt}}, r.messages...)
	tokens, err := x.provider.CountTokens(estimate)
	if err != nil {
		slog.Warn("executor: token count failed, skipping compression", "error", err)
		return
	}
	if float64(tokens) <= float64(window)*compressionRatio {
		return
	}

	for i := range r.messages {
		m := &r.messages[i]
		if m.Role != "tool" || r.compressed[i] {
			continue
		}
		r.compressed[i] = true

		if pw, ok := x.registry.Tool(m.Name); ok && pw.Summarize != nil {
			if summarized, err := pw.Summarize(ctx, m.Content, x.invoker); err == nil {
				m.Content = summarized
				continue
			}
		}
		if len(m.Content) > compressedPrefixLen {
			cut := compressedPrefixLen
			for cut > 0 && !utf8.RuneStart(m.Content[cut]) {
				cut--
			}
			m.Content = m.Content[:cut] + " [compressed]"
		}
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// Observations
// ─────────────────────────────────────────────────────────────────────────────

type toolFailure struct {
	Success    bool   `json:"success"`
	Error      string `json:"error"`
	Suggestion string `json:"suggestion,omitempty"`
}

func failureObservation(msg string) string {
	b, _ := json.Marshal(toolFailure{Error: msg})
	return string(b)
}

func budgetObservation(name string) string {
	b, _ := json.Marshal(toolFailure{
		Error: fmt.Sprintf("tool budget exhausted before %q could run", name),
	})
	return string(b)
}

func unknownToolObservation(name string, known []string) string {
	f := toolFailure{Error: fmt.Sprintf("unknown tool %q", name)}
	if hint := nearestTool(name, known); hint != "" {
		f.Suggestion = fmt.Sprintf("did you mean %q?", hint)
	}
	b, _ := json.Marshal(f)
	return string(b)
}

func duplicateObservation(prior string) string {
	b, _ := json.Marshal(map[string]any{
		"duplicate": true,
		"result":    json.RawMessage(rawOrQuoted(prior)),
	})
	return string(b)
}

// rawOrQuoted passes valid JSON through and quotes anything else.
func rawOrQuoted(s string) []byte {
	if json.Valid([]byte(s)) {
		return []byte(s)
	}
	b, _ := json.Marshal(s)
	return b
}

// nearestTool finds the closest registered tool name within the
// suggestion distance, or "".
func nearestTool(name string, known []string) string {
	best, bestDist := "", suggestionMaxDistance+1
	for _, k := range known {
		if d := matchr.Levenshtein(name, k); d < bestDist {
			best, bestDist = k, d
		}
	}
	return best
}

// stringifyResult renders a pathway result payload as text.
func stringifyResult(res *pathway.Result) string {
	if res == nil {
		return ""
	}
	switch v := res.Result.(type) {
	case string:
		return v
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprint(v)
		}
		return string(b)
	}
}

// parseArgs decodes a tool call's JSON arguments and derives the
// per-request dedup key from the canonical re-encoding. Map keys sort
// during re-encoding, so argument order does not defeat dedup.
func parseArgs(name, arguments string) (map[string]any, string) {
	args := make(map[string]any)
	if strings.TrimSpace(arguments) != "" {
		if err := json.Unmarshal([]byte(arguments), &args); err != nil {
			return map[string]any{}, name + "\x00" + arguments
		}
	}
	canonical, err := json.Marshal(args)
	if err != nil {
		return args, name + "\x00" + arguments
	}
	return args, name + "\x00" + string(canonical)
}
