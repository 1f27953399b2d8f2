package pathway

import (
	"os"
	"path/filepath"
	"testing"
)

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

const basePathwayYAML = `
name: base
model: gpt-4o-mini
timeout: 30
inputParameters:
  language: en
`

func TestRegistryLoad(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "base.yaml", basePathwayYAML)
	writeFile(t, dir, "chat/greet.yaml", `
name: greet
prompts:
  - messages:
      - role: system
        content: "You greet people warmly."
      - role: user
        content: "Greet {{name}}."
`)

	reg := NewRegistry()
	if err := reg.Load(dir); err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	p, ok := reg.Resolve("greet")
	if !ok {
		t.Fatal("greet not registered")
	}
	if p.Model != "gpt-4o-mini" {
		t.Errorf("base model not inherited, got %q", p.Model)
	}
	if p.TimeoutSeconds != 30 {
		t.Errorf("base timeout not inherited, got %d", p.TimeoutSeconds)
	}
	if p.InputParameters["language"] != "en" {
		t.Errorf("base input parameters not merged: %v", p.InputParameters)
	}
}

func TestRegistryBaseOverride(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "base.yaml", basePathwayYAML)
	writeFile(t, dir, "fast.yaml", `
name: fast
model: gpt-4o
timeout: 5
inputParameters:
  language: de
prompts:
  - messages:
      - role: user
        content: "{{q}}"
`)

	reg := NewRegistry()
	if err := reg.Load(dir); err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	p, _ := reg.Resolve("fast")
	if p.Model != "gpt-4o" {
		t.Errorf("own model should win, got %q", p.Model)
	}
	if p.TimeoutSeconds != 5 {
		t.Errorf("own timeout should win, got %d", p.TimeoutSeconds)
	}
	if p.InputParameters["language"] != "de" {
		t.Errorf("own parameter should shadow base: %v", p.InputParameters)
	}
}

func TestRegistrySharedPartials(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "shared/tone.tmpl", "Stay {{tone}}.")
	writeFile(t, dir, "answer.yaml", `
name: answer
prompts:
  - messages:
      - role: system
        content: "{{renderTemplate tone}} Answer briefly."
`)

	reg := NewRegistry()
	if err := reg.Load(dir); err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	// The shared file must not register as a pathway.
	if _, ok := reg.Resolve("tone"); ok {
		t.Error("shared partial registered as pathway")
	}
	if _, ok := reg.templates.Lookup("tone"); !ok {
		t.Error("shared partial not available as template")
	}
}

func TestRegistryToolIndex(t *testing.T) {
	reg := NewRegistry()

	tool := func(pathwayName, toolName string) *Pathway {
		return &Pathway{
			Name: pathwayName,
			ToolDefinition: &ToolDefinition{
				Type: "function",
				Function: ToolFunction{
					Name:       toolName,
					Parameters: map[string]any{"type": "object"},
				},
			},
		}
	}

	if err := reg.Register(tool("search", "SearchInternet")); err != nil {
		t.Fatal(err)
	}

	t.Run("lookup is case-insensitive", func(t *testing.T) {
		for _, name := range []string{"searchinternet", "SearchInternet", "SEARCHINTERNET"} {
			if _, ok := reg.Tool(name); !ok {
				t.Errorf("Tool(%q) not found", name)
			}
		}
	})

	t.Run("duplicate keeps first", func(t *testing.T) {
		if err := reg.Register(tool("search2", "searchinternet")); err != nil {
			t.Fatal(err)
		}
		p, _ := reg.Tool("searchinternet")
		if p.Name != "search" {
			t.Errorf("duplicate displaced first registration: got %q", p.Name)
		}
	})

	t.Run("invalid definition skipped", func(t *testing.T) {
		bad := &Pathway{
			Name: "broken",
			ToolDefinition: &ToolDefinition{
				Type:     "function",
				Function: ToolFunction{Name: ""},
			},
		}
		if err := reg.Register(bad); err != nil {
			t.Fatalf("invalid tool should not fail registration: %v", err)
		}
		if _, ok := reg.Tool(""); ok {
			t.Error("invalid tool was indexed")
		}
	})

	t.Run("disabled definition skipped", func(t *testing.T) {
		off := false
		p := tool("hidden", "hiddentool")
		p.ToolDefinition.Enabled = &off
		if err := reg.Register(p); err != nil {
			t.Fatal(err)
		}
		if _, ok := reg.Tool("hiddentool"); ok {
			t.Error("disabled tool was indexed")
		}
	})
}

func TestSchemaStripsImplementationFields(t *testing.T) {
	reg := NewRegistry()
	err := reg.Register(&Pathway{
		Name: "media",
		ToolDefinition: &ToolDefinition{
			Type: "function",
			Function: ToolFunction{
				Name:        "CreateMedia",
				Description: "Generates media.",
				Parameters:  map[string]any{"type": "object"},
			},
			Icon:          "🎨",
			Category:      "creative",
			ToolCost:      3,
			HideExecution: true,
			PathwayParams: map[string]any{"quality": "high"},
		},
	})
	if err != nil {
		t.Fatal(err)
	}

	schema, ok := reg.Schema("createmedia")
	if !ok {
		t.Fatal("schema not found")
	}
	if schema.Name != "CreateMedia" || schema.Description != "Generates media." {
		t.Errorf("unexpected schema: %+v", schema)
	}
	if schema.Parameters["type"] != "object" {
		t.Errorf("parameters not carried: %v", schema.Parameters)
	}
}

func TestToolCostDefaults(t *testing.T) {
	free := &Pathway{Name: "p"}
	if free.ToolCost() != 1 {
		t.Errorf("pathway without definition should cost 1, got %d", free.ToolCost())
	}

	costed := &Pathway{
		Name: "p2",
		ToolDefinition: &ToolDefinition{
			Type:     "function",
			Function: ToolFunction{Name: "t", Parameters: map[string]any{}},
			ToolCost: 3,
		},
	}
	if costed.ToolCost() != 3 {
		t.Errorf("declared cost ignored, got %d", costed.ToolCost())
	}
}
