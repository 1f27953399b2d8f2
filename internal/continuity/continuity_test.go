package continuity

// Shared test fakes for the continuity package.

import (
	"context"
	"sync"
	"time"

	"github.com/Enntity/cortex-sub003/internal/pathway"
	"github.com/Enntity/cortex-sub003/pkg/memory"
)

func hotKey(entityID, userID string) string { return entityID + ":" + userID }

// fakeHot is an in-memory HotStore with call counters.
type fakeHot struct {
	mu            sync.Mutex
	turns         map[string][]memory.Turn
	active        map[string]*memory.ActiveContext
	expr          map[string]*memory.ExpressionState
	pulse         map[string]*memory.PulseState
	invalidations int
	sessionClears int
}

var _ memory.HotStore = (*fakeHot)(nil)

func newFakeHot() *fakeHot {
	return &fakeHot{
		turns:  make(map[string][]memory.Turn),
		active: make(map[string]*memory.ActiveContext),
		expr:   make(map[string]*memory.ExpressionState),
		pulse:  make(map[string]*memory.PulseState),
	}
}

func (f *fakeHot) AppendTurn(ctx context.Context, e, u string, t memory.Turn) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	k := hotKey(e, u)
	f.turns[k] = append(f.turns[k], t)
	return nil
}

func (f *fakeHot) LastTurns(ctx context.Context, e, u string, n int) ([]memory.Turn, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	all := f.turns[hotKey(e, u)]
	if len(all) > n {
		all = all[len(all)-n:]
	}
	out := make([]memory.Turn, len(all))
	copy(out, all)
	return out, nil
}

func (f *fakeHot) ClearTurns(ctx context.Context, e, u string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.turns, hotKey(e, u))
	return nil
}

func (f *fakeHot) GetActiveContext(ctx context.Context, e, u string) (*memory.ActiveContext, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.active[hotKey(e, u)], nil
}

func (f *fakeHot) SetActiveContext(ctx context.Context, e, u string, ac memory.ActiveContext) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.active[hotKey(e, u)] = &ac
	return nil
}

func (f *fakeHot) InvalidateActiveContext(ctx context.Context, e, u string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.active, hotKey(e, u))
	f.invalidations++
	return nil
}

func (f *fakeHot) GetExpressionState(ctx context.Context, e, u string) (*memory.ExpressionState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	es := f.expr[hotKey(e, u)]
	if es == nil {
		return nil, nil
	}
	copied := *es
	return &copied, nil
}

func (f *fakeHot) UpdateExpressionState(ctx context.Context, e, u string, update memory.ExpressionUpdate) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	k := hotKey(e, u)
	es := f.expr[k]
	if es == nil {
		es = &memory.ExpressionState{}
		f.expr[k] = es
	}
	update.Apply(es)
	return nil
}

func (f *fakeHot) GetPulseState(ctx context.Context, e, u string) (*memory.PulseState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pulse[hotKey(e, u)], nil
}

func (f *fakeHot) SetPulseState(ctx context.Context, e, u string, ps memory.PulseState) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pulse[hotKey(e, u)] = &ps
	return nil
}

func (f *fakeHot) ClearPulseState(ctx context.Context, e, u string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.pulse, hotKey(e, u))
	return nil
}

func (f *fakeHot) ClearSession(ctx context.Context, e, u string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	k := hotKey(e, u)
	delete(f.turns, k)
	delete(f.active, k)
	delete(f.pulse, k)
	f.sessionClears++
	return nil
}

// fakeCold is a NoopColdIndex with scripted search results and call
// recording.
type fakeCold struct {
	memory.NoopColdIndex

	mu            sync.Mutex
	searchResults []memory.Node
	expanded      []memory.Node
	byID          map[string]memory.Node
	hasMemories   bool

	searchCalls int
	expandCalls int
	forgets     []string
	upserts     []memory.Node
}

func (f *fakeCold) SearchSemantic(ctx context.Context, e, u, q string, limit int, types ...memory.MemoryType) ([]memory.Node, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.searchCalls++
	res := f.searchResults
	if len(res) > limit {
		res = res[:limit]
	}
	return res, nil
}

func (f *fakeCold) ExpandGraph(ctx context.Context, seeds []memory.Node, depth int) ([]memory.Node, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.expandCalls++
	return f.expanded, nil
}

func (f *fakeCold) GetByIDs(ctx context.Context, ids []string) ([]memory.Node, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []memory.Node
	for _, id := range ids {
		if n, ok := f.byID[id]; ok {
			out = append(out, n)
		}
	}
	return out, nil
}

func (f *fakeCold) HasMemories(ctx context.Context, e, u string) (bool, error) {
	return f.hasMemories, nil
}

func (f *fakeCold) UpsertMemory(ctx context.Context, n memory.Node) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.upserts = append(f.upserts, n)
	return nil
}

func (f *fakeCold) CascadingForget(ctx context.Context, e, u string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.forgets = append(f.forgets, hotKey(e, u))
	return nil
}

// fakeRuntime is a pathway.Runtime returning a scripted narrative.
type fakeRuntime struct {
	mu        sync.Mutex
	narrative string
	err       error
	calls     []string // pathway names
}

var _ pathway.Runtime = (*fakeRuntime)(nil)

func (f *fakeRuntime) InvokePathway(ctx context.Context, name string, args map[string]any) (*pathway.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, name)
	if f.err != nil {
		return nil, f.err
	}
	return &pathway.Result{Result: f.narrative}, nil
}

func (f *fakeRuntime) RunAllPrompts(ctx context.Context, p *pathway.Pathway, args map[string]any) (string, error) {
	return f.narrative, f.err
}

// fakeSynth is a Synthesizer with a gate so tests can hold a pass
// in flight.
type fakeSynth struct {
	mu      sync.Mutex
	written int
	err     error
	calls   int
	deep    int
	block   chan struct{} // when non-nil, SynthesizeTurns waits on it
	started chan struct{} // signalled when a pass begins
}

func (f *fakeSynth) SynthesizeTurns(ctx context.Context, e, u string, turns []memory.Turn) (int, error) {
	f.mu.Lock()
	f.calls++
	block, started := f.block, f.started
	f.mu.Unlock()
	if started != nil {
		started <- struct{}{}
	}
	if block != nil {
		<-block
	}
	return f.written, f.err
}

func (f *fakeSynth) SynthesizeDeep(ctx context.Context, e, u string, opts DeepSynthesisOpts) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deep++
	return f.written, f.err
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}
