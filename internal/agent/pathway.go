package agent

import (
	"context"
	"fmt"

	"github.com/Enntity/cortex-sub003/internal/pathway"
)

// PathwayName is the registry name of the entity agent pathway.
const PathwayName = "entity_agent"

// RegisterPathway exposes the agent as a pathway so transports invoke
// turns through the same surface as every other pathway. When a
// pathway of that name was already loaded from disk (for prompt or
// tool metadata), the imperative body attaches to it; otherwise a
// minimal pathway is registered.
func (a *Agent) RegisterPathway(reg *pathway.Registry) error {
	body := func(ctx context.Context, args map[string]any, _ pathway.Runtime) (*pathway.Result, error) {
		req := TurnRequest{
			EntityID:     stringArg(args, "entityId"),
			UserID:       stringArg(args, "userId"),
			Query:        stringArg(args, "query"),
			FilesSummary: stringArg(args, "files"),
			Voice:        boolArg(args, "voice"),
		}
		resp, err := a.RunTurn(ctx, req)
		if err != nil {
			return nil, err
		}
		return &pathway.Result{
			Result:   resp.Result,
			Tool:     resp.Tool,
			Errors:   resp.Errors,
			Warnings: resp.Warnings,
		}, nil
	}

	if err := reg.SetExecutor(PathwayName, body); err == nil {
		return nil
	}
	if err := reg.Register(&pathway.Pathway{Name: PathwayName, Execute: body}); err != nil {
		return fmt.Errorf("agent: register pathway: %w", err)
	}
	return nil
}

func stringArg(args map[string]any, key string) string {
	s, _ := args[key].(string)
	return s
}

func boolArg(args map[string]any, key string) bool {
	b, _ := args[key].(bool)
	return b
}
