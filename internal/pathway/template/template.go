// Package template implements the prompt-template language used by
// pathway definitions.
//
// The language is a small handlebars dialect evaluated by a tree-walking
// interpreter. Supported constructs:
//
//	{{path}}             escaped interpolation (dotted-path lookup)
//	{{{path}}}           raw interpolation
//	{{#if path}}…{{else}}…{{/if}}
//	{{^if path}}…{{/if}}  inverted condition
//	{{#each path}}…{{/each}}  with this, @index, @first, @last
//	{{renderTemplate NAME}}   inclusion of another registered template
//	{{toJSON path}}           JSON-encode the resolved value
//	{{uppercase path}} {{lowercase path}} {{trim path}}
//
// There is no embedded expression language: every tag argument is either
// a dotted path or a quoted string literal. Templates are parsed once at
// pathway load time and rendered against a [Scope] per invocation.
package template

import (
	"encoding/json"
	"fmt"
	"strings"
)

// node is one element of a parsed template tree.
type node interface {
	render(b *strings.Builder, s *Scope, set *Set) error
}

// Template is a parsed template, ready to render.
type Template struct {
	name  string
	nodes []node
}

// Set is a collection of named templates. renderTemplate resolves through
// the set, so mutually referencing templates must live in one Set.
type Set struct {
	templates map[string]*Template
}

// NewSet creates an empty template set.
func NewSet() *Set {
	return &Set{templates: make(map[string]*Template)}
}

// Add parses src and registers it under name, replacing any previous
// template with that name.
func (set *Set) Add(name, src string) (*Template, error) {
	t, err := Parse(name, src)
	if err != nil {
		return nil, err
	}
	set.templates[name] = t
	return t, nil
}

// Lookup returns the named template.
func (set *Set) Lookup(name string) (*Template, bool) {
	t, ok := set.templates[name]
	return t, ok
}

// Render renders the named template against scope.
func (set *Set) Render(name string, scope *Scope) (string, error) {
	t, ok := set.templates[name]
	if !ok {
		return "", fmt.Errorf("template: %q not registered", name)
	}
	return t.Render(scope, set)
}

// Name returns the name the template was parsed under.
func (t *Template) Name() string { return t.name }

// Render evaluates the template against scope. set resolves
// renderTemplate inclusions and may be nil when the template uses none.
func (t *Template) Render(scope *Scope, set *Set) (string, error) {
	var b strings.Builder
	for _, n := range t.nodes {
		if err := n.render(&b, scope, set); err != nil {
			return "", err
		}
	}
	return b.String(), nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Node types
// ─────────────────────────────────────────────────────────────────────────────

// textNode is literal template text.
type textNode string

func (n textNode) render(b *strings.Builder, _ *Scope, _ *Set) error {
	b.WriteString(string(n))
	return nil
}

// varNode interpolates a dotted path. Escaped nodes HTML-escape the
// value, matching handlebars {{…}} semantics; raw ({{{…}}}) nodes do not.
type varNode struct {
	path string
	raw  bool
}

func (n varNode) render(b *strings.Builder, s *Scope, _ *Set) error {
	v, ok := s.Lookup(n.path)
	if !ok {
		return nil
	}
	text := stringify(v)
	if !n.raw {
		text = escape(text)
	}
	b.WriteString(text)
	return nil
}

// ifNode renders body when the condition path is truthy, else the
// alternative. inverted flips the test.
type ifNode struct {
	path     string
	inverted bool
	body     []node
	alt      []node
}

func (n ifNode) render(b *strings.Builder, s *Scope, set *Set) error {
	v, _ := s.Lookup(n.path)
	cond := truthy(v)
	if n.inverted {
		cond = !cond
	}
	branch := n.body
	if !cond {
		branch = n.alt
	}
	for _, child := range branch {
		if err := child.render(b, s, set); err != nil {
			return err
		}
	}
	return nil
}

// eachNode iterates a slice, binding this, @index, @first, and @last in
// a child scope per element.
type eachNode struct {
	path string
	body []node
}

func (n eachNode) render(b *strings.Builder, s *Scope, set *Set) error {
	v, ok := s.Lookup(n.path)
	if !ok {
		return nil
	}

	items := toSlice(v)
	for i, item := range items {
		child := s.Child(map[string]any{
			"this":   item,
			"@index": i,
			"@first": i == 0,
			"@last":  i == len(items)-1,
		})
		for _, cn := range n.body {
			if err := cn.render(b, child, set); err != nil {
				return err
			}
		}
	}
	return nil
}

// helperNode is a fixed-helper invocation with one argument.
type helperNode struct {
	helper string
	arg    argument
}

// argument is either a dotted path or a string literal.
type argument struct {
	path    string
	literal string
	isLit   bool
}

func (a argument) resolve(s *Scope) any {
	if a.isLit {
		return a.literal
	}
	v, _ := s.Lookup(a.path)
	return v
}

func (n helperNode) render(b *strings.Builder, s *Scope, set *Set) error {
	switch n.helper {
	case "renderTemplate":
		name := stringify(n.arg.resolve(s))
		if n.arg.isLit {
			name = n.arg.literal
		} else if name == "" {
			// Unquoted template names are written as bare words; fall
			// back to the raw path text.
			name = n.arg.path
		}
		if set == nil {
			return fmt.Errorf("template: renderTemplate %q: no template set", name)
		}
		out, err := set.Render(name, s)
		if err != nil {
			return err
		}
		b.WriteString(out)
		return nil

	case "toJSON":
		data, err := json.Marshal(n.arg.resolve(s))
		if err != nil {
			return fmt.Errorf("template: toJSON %s: %w", n.arg.path, err)
		}
		b.Write(data)
		return nil

	case "uppercase":
		b.WriteString(strings.ToUpper(stringify(n.arg.resolve(s))))
		return nil

	case "lowercase":
		b.WriteString(strings.ToLower(stringify(n.arg.resolve(s))))
		return nil

	case "trim":
		b.WriteString(strings.TrimSpace(stringify(n.arg.resolve(s))))
		return nil

	default:
		return fmt.Errorf("template: unknown helper %q", n.helper)
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// Value conversion
// ─────────────────────────────────────────────────────────────────────────────

// stringify converts a resolved value to text. Scalars print naturally;
// composite values render as JSON so that structured bindings stay
// machine-readable inside prompts.
func stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case bool:
		if t {
			return "true"
		}
		return "false"
	case int:
		return fmt.Sprintf("%d", t)
	case int64:
		return fmt.Sprintf("%d", t)
	case float64:
		// JSON numbers decode as float64; print integers without a
		// trailing fraction.
		if t == float64(int64(t)) {
			return fmt.Sprintf("%d", int64(t))
		}
		return fmt.Sprintf("%g", t)
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(data)
	}
}

var escaper = strings.NewReplacer(
	"&", "&amp;",
	"<", "&lt;",
	">", "&gt;",
	`"`, "&quot;",
)

func escape(s string) string {
	return escaper.Replace(s)
}

func toSlice(v any) []any {
	switch t := v.(type) {
	case []any:
		return t
	case []string:
		out := make([]any, len(t))
		for i, s := range t {
			out[i] = s
		}
		return out
	case []map[string]any:
		out := make([]any, len(t))
		for i, m := range t {
			out[i] = m
		}
		return out
	default:
		return nil
	}
}
