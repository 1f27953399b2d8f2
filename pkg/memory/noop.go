package memory

import "context"

// Compile-time interface check.
var _ ColdIndex = NoopColdIndex{}

// NoopColdIndex is the degraded cold tier used when no index is
// configured. Every read returns empty results and every write succeeds
// without effect, so entities keep running on hot memory alone.
type NoopColdIndex struct{}

func (NoopColdIndex) SearchSemantic(context.Context, string, string, string, int, ...MemoryType) ([]Node, error) {
	return []Node{}, nil
}

func (NoopColdIndex) SearchFullText(context.Context, string, string, string, TextSearchOpts) ([]Node, error) {
	return []Node{}, nil
}

func (NoopColdIndex) GetByType(context.Context, string, string, MemoryType, int) ([]Node, error) {
	return []Node{}, nil
}

func (NoopColdIndex) GetByIDs(context.Context, []string) ([]Node, error) {
	return []Node{}, nil
}

func (NoopColdIndex) GetTopByImportance(context.Context, string, string, TopOpts) ([]Node, error) {
	return []Node{}, nil
}

func (NoopColdIndex) HasMemories(context.Context, string, string) (bool, error) {
	return false, nil
}

func (NoopColdIndex) UpsertMemory(context.Context, Node) error { return nil }

func (NoopColdIndex) DeleteMemory(context.Context, string) error { return nil }

func (NoopColdIndex) DeleteMemories(context.Context, []string) error { return nil }

func (NoopColdIndex) LinkMemories(context.Context, string, string) error { return nil }

func (NoopColdIndex) CascadingForget(context.Context, string, string) error { return nil }

func (NoopColdIndex) ExpandGraph(context.Context, []Node, int) ([]Node, error) {
	return []Node{}, nil
}

var _ HotStore = NoopHotStore{}

// NoopHotStore is the degraded hot tier used when no Redis backend is
// configured. Streams and caches read back empty, so every context build
// falls through to the cold index.
type NoopHotStore struct{}

func (NoopHotStore) AppendTurn(context.Context, string, string, Turn) error { return nil }

func (NoopHotStore) LastTurns(context.Context, string, string, int) ([]Turn, error) {
	return []Turn{}, nil
}

func (NoopHotStore) ClearTurns(context.Context, string, string) error { return nil }

func (NoopHotStore) GetActiveContext(context.Context, string, string) (*ActiveContext, error) {
	return nil, nil
}

func (NoopHotStore) SetActiveContext(context.Context, string, string, ActiveContext) error {
	return nil
}

func (NoopHotStore) InvalidateActiveContext(context.Context, string, string) error { return nil }

func (NoopHotStore) GetExpressionState(context.Context, string, string) (*ExpressionState, error) {
	return nil, nil
}

func (NoopHotStore) UpdateExpressionState(context.Context, string, string, ExpressionUpdate) error {
	return nil
}

func (NoopHotStore) GetPulseState(context.Context, string, string) (*PulseState, error) {
	return nil, nil
}

func (NoopHotStore) SetPulseState(context.Context, string, string, PulseState) error { return nil }

func (NoopHotStore) ClearPulseState(context.Context, string, string) error { return nil }

func (NoopHotStore) ClearSession(context.Context, string, string) error { return nil }
