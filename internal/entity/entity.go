// Package entity defines the AI persona model and the stores and
// resolver that serve it: document-backed CRUD, system-entity lookup,
// per-entity tool filtering, and YAML bootstrap at startup.
package entity

import (
	"slices"
	"strings"
	"time"

	"github.com/Enntity/cortex-sub003/pkg/provider/llm"
)

// ReasoningEffort selects how much deliberation the entity's base model
// spends per turn.
type ReasoningEffort string

// Recognised reasoning efforts.
const (
	EffortLow    ReasoningEffort = "low"
	EffortMedium ReasoningEffort = "medium"
	EffortHigh   ReasoningEffort = "high"
)

// IsValid reports whether e is a recognised reasoning effort.
// The empty value is valid and means "model default".
func (e ReasoningEffort) IsValid() bool {
	switch e {
	case "", EffortLow, EffortMedium, EffortHigh:
		return true
	}
	return false
}

// WildcardTool in an entity's tool list expands to every registered tool.
const WildcardTool = "*"

// Entity is a named AI persona bound to a UUID. Non-system entities are
// visible only to their associated users; system entities are shared and
// are additionally addressable by case-insensitive name.
type Entity struct {
	// ID is the entity's unique identifier (UUID).
	ID string `yaml:"id" json:"id"`

	// Name is the display name. For system entities it doubles as a
	// case-insensitive lookup key.
	Name string `yaml:"name" json:"name"`

	// Description is a short free-text summary.
	Description string `yaml:"description" json:"description"`

	// Identity is the entity's self-description, injected into the system
	// prompt. May be empty when continuity memory supplies it instead.
	Identity string `yaml:"identity" json:"identity"`

	// IsSystem marks shared, name-addressable entities that ignore
	// AssocUserIDs for visibility.
	IsSystem bool `yaml:"isSystem" json:"isSystem"`

	// IsDefault marks the entity resolved when no ID is given.
	IsDefault bool `yaml:"isDefault" json:"isDefault"`

	// UseMemory enables the continuity-memory subsystem for this entity.
	UseMemory bool `yaml:"useMemory" json:"useMemory"`

	// BaseModel overrides the configured default model binding.
	BaseModel string `yaml:"baseModel" json:"baseModel"`

	// ReasoningEffort is one of low, medium, high, or empty.
	ReasoningEffort ReasoningEffort `yaml:"reasoningEffort" json:"reasoningEffort"`

	// Tools is the ordered list of tool names available to this entity.
	// The entry "*" expands to every registered tool.
	Tools []string `yaml:"tools" json:"tools"`

	// CustomTools maps tool names to entity-local function definitions
	// offered alongside the registered pathway tools.
	CustomTools map[string]llm.ToolDefinition `yaml:"customTools" json:"customTools"`

	// AssocUserIDs lists the users allowed to interact with a non-system
	// entity. Ignored when IsSystem is set.
	AssocUserIDs []string `yaml:"assocUserIds" json:"assocUserIds"`

	// Avatar is an optional image reference for clients.
	Avatar string `yaml:"avatar" json:"avatar"`

	// Voice is the voice identifier handed to the voice provider.
	Voice string `yaml:"voice" json:"voice"`

	// Secrets maps secret names to encrypted blobs. Values are opaque to
	// this package.
	Secrets map[string]string `yaml:"secrets" json:"secrets"`

	// Workspace optionally names a container the entity's tools run in.
	Workspace string `yaml:"workspace" json:"workspace"`

	// CreatedBy is the user who created the entity.
	CreatedBy string `yaml:"createdBy" json:"createdBy"`

	CreatedAt time.Time `yaml:"createdAt" json:"createdAt"`
	UpdatedAt time.Time `yaml:"updatedAt" json:"updatedAt"`
}

// IsVisibleTo reports whether userID may interact with the entity.
// System entities are visible to everyone.
func (e Entity) IsVisibleTo(userID string) bool {
	if e.IsSystem {
		return true
	}
	return slices.Contains(e.AssocUserIDs, userID)
}

// NameEquals compares names the way system-entity lookup does.
func (e Entity) NameEquals(name string) bool {
	return strings.EqualFold(e.Name, name)
}
