package pathway

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/Enntity/cortex-sub003/internal/pathway/template"
	"github.com/Enntity/cortex-sub003/pkg/provider/llm"
)

// basePathwayName is the pathway whose fields act as defaults for every
// other pathway in the registry.
const basePathwayName = "base"

// Registry holds the loaded pathways and the tool index derived from
// them. It is read-mostly after startup; Reload swaps the maps under the
// write lock for hot reloads of dynamic pathways.
type Registry struct {
	mu        sync.RWMutex
	pathways  map[string]*Pathway
	tools     map[string]*Pathway // lowercased tool name → pathway
	templates *template.Set
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		pathways:  make(map[string]*Pathway),
		tools:     make(map[string]*Pathway),
		templates: template.NewSet(),
	}
}

// Load walks dir recursively and registers every pathway definition
// (*.yaml, *.yml) it finds. Files under a shared/ directory are loaded
// as template partials instead of pathways, so prompts can include them
// with renderTemplate.
//
// Pathway files that fail to parse abort the load: a broken definition
// at startup is a configuration error, not something to limp past.
// Invalid tool definitions and duplicate tool names are skipped with a
// warning, keeping the first registration.
func (r *Registry) Load(dir string) error {
	var loaded []*Pathway

	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}

		rel, relErr := filepath.Rel(dir, path)
		if relErr != nil {
			rel = path
		}

		if underShared(rel) {
			return r.loadPartial(path)
		}

		ext := filepath.Ext(path)
		if ext != ".yaml" && ext != ".yml" {
			return nil
		}

		p, loadErr := loadPathwayFile(path)
		if loadErr != nil {
			slog.Error("pathway registry: load failed", "path", path, "error", loadErr)
			return loadErr
		}
		loaded = append(loaded, p)
		return nil
	})
	if err != nil {
		return fmt.Errorf("pathway registry: load %s: %w", dir, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	// Register the base pathway first so inheritance sees it.
	for _, p := range loaded {
		if p.Name == basePathwayName {
			if err := r.registerLocked(p); err != nil {
				return err
			}
		}
	}
	for _, p := range loaded {
		if p.Name == basePathwayName {
			continue
		}
		if err := r.registerLocked(p); err != nil {
			return err
		}
	}
	return nil
}

// Register adds or replaces a single pathway, applying base inheritance
// and indexing its tool definition.
func (r *Registry) Register(p *Pathway) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.registerLocked(p)
}

func (r *Registry) registerLocked(p *Pathway) error {
	if p.Name == "" {
		return errors.New("pathway registry: pathway without a name")
	}

	r.applyBase(p)

	if err := r.compileTemplates(p); err != nil {
		return fmt.Errorf("pathway registry: compile %q: %w", p.Name, err)
	}

	r.pathways[p.Name] = p
	r.indexTool(p)
	return nil
}

// applyBase fills zero-valued fields from the base pathway (the named
// Base, or the registry-wide "base" when unset).
func (r *Registry) applyBase(p *Pathway) {
	if p.Name == basePathwayName {
		return
	}
	baseName := p.Base
	if baseName == "" {
		baseName = basePathwayName
	}
	base, ok := r.pathways[baseName]
	if !ok {
		return
	}

	if p.Model == "" {
		p.Model = base.Model
	}
	if p.TimeoutSeconds == 0 {
		p.TimeoutSeconds = base.TimeoutSeconds
	}
	if !p.EnableDuplicateRequests {
		p.EnableDuplicateRequests = base.EnableDuplicateRequests
	}
	if !p.UseInputChunking {
		p.UseInputChunking = base.UseInputChunking
	}
	if len(base.InputParameters) > 0 {
		merged := make(map[string]any, len(base.InputParameters)+len(p.InputParameters))
		for k, v := range base.InputParameters {
			merged[k] = v
		}
		for k, v := range p.InputParameters {
			merged[k] = v
		}
		p.InputParameters = merged
	}
}

// indexTool registers p's tool definition, if valid and enabled.
// Duplicate tool names keep the first registration.
func (r *Registry) indexTool(p *Pathway) {
	def := p.ToolDefinition
	if def == nil {
		return
	}
	if !def.IsEnabled() {
		return
	}
	if err := def.Validate(); err != nil {
		slog.Warn("pathway registry: skipping invalid tool definition",
			"pathway", p.Name, "error", err)
		return
	}

	name := strings.ToLower(def.Function.Name)
	if prior, exists := r.tools[name]; exists && prior.Name != p.Name {
		slog.Warn("pathway registry: duplicate tool name, keeping first registration",
			"tool", name, "kept", prior.Name, "skipped", p.Name)
		return
	}
	r.tools[name] = p
}

// compileTemplates parses every prompt message into the shared template
// set. Message templates are keyed by pathway, prompt, and position so
// reloads replace cleanly.
func (r *Registry) compileTemplates(p *Pathway) error {
	for pi, prompt := range p.Prompts {
		for mi, msg := range prompt.Messages {
			key := fmt.Sprintf("%s/%d/%d", p.Name, pi, mi)
			if _, err := r.templates.Add(key, msg.Content); err != nil {
				return err
			}
		}
	}
	p.templates = r.templates
	return nil
}

// loadPartial registers a shared/ file as a named template partial keyed
// by its base name without extension.
func (r *Registry) loadPartial(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("pathway registry: read partial %s: %w", path, err)
	}
	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, err := r.templates.Add(name, string(data)); err != nil {
		return fmt.Errorf("pathway registry: parse partial %s: %w", path, err)
	}
	return nil
}

// Resolve returns the effective pathway for name.
func (r *Registry) Resolve(name string) (*Pathway, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.pathways[name]
	return p, ok
}

// Tool looks a pathway up by its lowercased tool name.
func (r *Registry) Tool(name string) (*Pathway, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.tools[strings.ToLower(name)]
	return p, ok
}

// ToolNames returns every registered tool name, sorted.
func (r *Registry) ToolNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Schema returns the function-calling schema for the named tool.
func (r *Registry) Schema(name string) (llm.ToolDefinition, bool) {
	p, ok := r.Tool(name)
	if !ok {
		return llm.ToolDefinition{}, false
	}
	return p.ToolDefinition.Schema(), true
}

// SetExecutor attaches an imperative body to a loaded pathway.
func (r *Registry) SetExecutor(name string, fn ExecuteFunc) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.pathways[name]
	if !ok {
		return fmt.Errorf("pathway registry: %q not registered", name)
	}
	p.Execute = fn
	return nil
}

// SetSummarizer attaches an observation compressor to a loaded pathway.
func (r *Registry) SetSummarizer(name string, fn SummarizeFunc) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.pathways[name]
	if !ok {
		return fmt.Errorf("pathway registry: %q not registered", name)
	}
	p.Summarize = fn
	return nil
}

// Reload re-reads dir into a fresh registry state and swaps it in under
// the write lock. Attached executors and summarizers survive by name.
func (r *Registry) Reload(dir string) error {
	fresh := NewRegistry()
	if err := fresh.Load(dir); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for name, old := range r.pathways {
		if p, ok := fresh.pathways[name]; ok {
			p.Execute = old.Execute
			p.Summarize = old.Summarize
		}
	}
	r.pathways = fresh.pathways
	r.tools = fresh.tools
	r.templates = fresh.templates
	return nil
}

// loadPathwayFile parses one YAML pathway definition.
func loadPathwayFile(path string) (*Pathway, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var p Pathway
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parse yaml: %w", err)
	}
	if p.Name == "" {
		p.Name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	return &p, nil
}

func underShared(rel string) bool {
	for _, part := range strings.Split(filepath.ToSlash(rel), "/") {
		if part == "shared" {
			return true
		}
	}
	return false
}
