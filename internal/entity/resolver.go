package entity

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/Enntity/cortex-sub003/internal/pathway"
	"github.com/Enntity/cortex-sub003/pkg/provider/llm"
)

// toolMigrations maps retired tool names to their replacements. Applied
// before filtering so entities created against old registries keep
// working.
var toolMigrations = map[string]string{
	"generateimage": "createmedia",
	"generatevideo": "createmedia",
	"image":         "createmedia",
	"searchweb":     "searchinternet",
}

// Resolver loads the effective entity for a request and computes the
// tool surface that entity may use.
type Resolver struct {
	store    Store
	registry *pathway.Registry
}

// NewResolver creates a Resolver over the given store and tool registry.
func NewResolver(store Store, registry *pathway.Registry) *Resolver {
	return &Resolver{store: store, registry: registry}
}

// LoadEntityConfig resolves the entity for id. An empty id resolves the
// default entity.
func (r *Resolver) LoadEntityConfig(ctx context.Context, id string) (Entity, error) {
	if id == "" {
		e, err := r.store.GetDefault(ctx)
		if err != nil {
			return Entity{}, fmt.Errorf("entity: resolve default: %w", err)
		}
		return e, nil
	}

	e, err := r.store.Get(ctx, id)
	if err != nil {
		return Entity{}, fmt.Errorf("entity: resolve %s: %w", id, err)
	}
	return e, nil
}

// ToolSurface is the resolved tool capability of one entity: the
// normalized tool names and the function-calling schemas handed to the
// model. Schemas are stripped of implementation-only fields.
type ToolSurface struct {
	// EntityTools are the normalized, migrated, deduplicated tool names
	// in resolution order.
	EntityTools []string

	// Schemas are the function-calling definitions for EntityTools plus
	// the entity's custom tools.
	Schemas []llm.ToolDefinition
}

// GetToolsForEntity expands and filters e's tool list against the
// registry.
//
// Names are lowercased, retired names are migrated, "*" expands to every
// registered tool, and duplicates coalesce keeping the first position.
// Names not present in the registry are skipped with a warning. Custom
// tools are appended to the schema list without registry lookup.
func (r *Resolver) GetToolsForEntity(e Entity) ToolSurface {
	seen := make(map[string]bool)
	var names []string

	add := func(name string) {
		name = strings.ToLower(strings.TrimSpace(name))
		if replacement, ok := toolMigrations[name]; ok {
			name = replacement
		}
		if name == "" || seen[name] {
			return
		}
		seen[name] = true
		names = append(names, name)
	}

	for _, name := range e.Tools {
		if strings.TrimSpace(name) == WildcardTool {
			for _, registered := range r.registry.ToolNames() {
				add(registered)
			}
			continue
		}
		add(name)
	}

	surface := ToolSurface{
		EntityTools: make([]string, 0, len(names)),
		Schemas:     make([]llm.ToolDefinition, 0, len(names)+len(e.CustomTools)),
	}
	for _, name := range names {
		schema, ok := r.registry.Schema(name)
		if !ok {
			slog.Warn("entity resolver: tool not registered, skipping",
				"entity", e.Name, "tool", name)
			continue
		}
		surface.EntityTools = append(surface.EntityTools, name)
		surface.Schemas = append(surface.Schemas, schema)
	}

	customNames := make([]string, 0, len(e.CustomTools))
	for name := range e.CustomTools {
		customNames = append(customNames, name)
	}
	sort.Strings(customNames)
	for _, name := range customNames {
		def := e.CustomTools[name]
		if def.Name == "" {
			def.Name = name
		}
		if seen[strings.ToLower(def.Name)] {
			slog.Warn("entity resolver: custom tool shadows registered tool, skipping",
				"entity", e.Name, "tool", def.Name)
			continue
		}
		surface.Schemas = append(surface.Schemas, def)
	}

	return surface
}
