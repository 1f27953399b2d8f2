package template

import (
	"strings"
	"testing"
)

func render(t *testing.T, src string, vars map[string]any) string {
	t.Helper()
	tmpl, err := Parse("test", src)
	if err != nil {
		t.Fatalf("Parse() error: %v", err)
	}
	out, err := tmpl.Render(NewScope(vars), nil)
	if err != nil {
		t.Fatalf("Render() error: %v", err)
	}
	return out
}

func TestVariableInterpolation(t *testing.T) {
	tests := []struct {
		name string
		src  string
		vars map[string]any
		want string
	}{
		{
			name: "simple variable",
			src:  "Hello {{name}}!",
			vars: map[string]any{"name": "Ana"},
			want: "Hello Ana!",
		},
		{
			name: "dotted path",
			src:  "{{user.profile.name}}",
			vars: map[string]any{"user": map[string]any{"profile": map[string]any{"name": "Ana"}}},
			want: "Ana",
		},
		{
			name: "missing variable renders empty",
			src:  "[{{missing}}]",
			vars: map[string]any{},
			want: "[]",
		},
		{
			name: "escaped interpolation",
			src:  "{{q}}",
			vars: map[string]any{"q": `<b>"hi"</b>`},
			want: "&lt;b&gt;&quot;hi&quot;&lt;/b&gt;",
		},
		{
			name: "raw interpolation",
			src:  "{{{q}}}",
			vars: map[string]any{"q": `<b>"hi"</b>`},
			want: `<b>"hi"</b>`,
		},
		{
			name: "integer value",
			src:  "{{n}}",
			vars: map[string]any{"n": 42},
			want: "42",
		},
		{
			name: "json float renders as integer",
			src:  "{{n}}",
			vars: map[string]any{"n": float64(7)},
			want: "7",
		},
		{
			name: "slice index path",
			src:  "{{items.1}}",
			vars: map[string]any{"items": []any{"a", "b"}},
			want: "b",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := render(t, tt.src, tt.vars); got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestIfBlocks(t *testing.T) {
	tests := []struct {
		name string
		src  string
		vars map[string]any
		want string
	}{
		{
			name: "truthy renders body",
			src:  "{{#if ok}}yes{{/if}}",
			vars: map[string]any{"ok": true},
			want: "yes",
		},
		{
			name: "falsy skips body",
			src:  "{{#if ok}}yes{{/if}}",
			vars: map[string]any{"ok": false},
			want: "",
		},
		{
			name: "else branch",
			src:  "{{#if ok}}yes{{else}}no{{/if}}",
			vars: map[string]any{"ok": ""},
			want: "no",
		},
		{
			name: "inverted condition",
			src:  "{{^if ok}}absent{{/if}}",
			vars: map[string]any{},
			want: "absent",
		},
		{
			name: "empty slice is falsy",
			src:  "{{#if items}}have{{else}}none{{/if}}",
			vars: map[string]any{"items": []any{}},
			want: "none",
		},
		{
			name: "nested blocks",
			src:  "{{#if a}}{{#if b}}both{{/if}}{{/if}}",
			vars: map[string]any{"a": true, "b": true},
			want: "both",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := render(t, tt.src, tt.vars); got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestEachBlocks(t *testing.T) {
	t.Run("iterates with this", func(t *testing.T) {
		got := render(t, "{{#each names}}[{{this}}]{{/each}}", map[string]any{
			"names": []string{"a", "b", "c"},
		})
		if got != "[a][b][c]" {
			t.Errorf("got %q", got)
		}
	})

	t.Run("index and boundary markers", func(t *testing.T) {
		src := "{{#each xs}}{{@index}}{{#if @last}}.{{else}},{{/if}}{{/each}}"
		got := render(t, src, map[string]any{"xs": []any{"x", "y", "z"}})
		if got != "0,1,2." {
			t.Errorf("got %q", got)
		}
	})

	t.Run("element fields", func(t *testing.T) {
		got := render(t, "{{#each msgs}}{{this.role}}: {{this.content}}\n{{/each}}", map[string]any{
			"msgs": []any{
				map[string]any{"role": "user", "content": "hi"},
				map[string]any{"role": "assistant", "content": "hello"},
			},
		})
		want := "user: hi\nassistant: hello\n"
		if got != want {
			t.Errorf("got %q, want %q", got, want)
		}
	})

	t.Run("outer scope visible inside loop", func(t *testing.T) {
		got := render(t, "{{#each xs}}{{prefix}}{{this}}{{/each}}", map[string]any{
			"xs":     []string{"1", "2"},
			"prefix": "#",
		})
		if got != "#1#2" {
			t.Errorf("got %q", got)
		}
	})
}

func TestHelpers(t *testing.T) {
	t.Run("toJSON", func(t *testing.T) {
		got := render(t, "{{toJSON obj}}", map[string]any{
			"obj": map[string]any{"k": "v"},
		})
		if got != `{"k":"v"}` {
			t.Errorf("got %q", got)
		}
	})

	t.Run("string helpers", func(t *testing.T) {
		got := render(t, "{{uppercase a}}/{{lowercase b}}/{{trim c}}", map[string]any{
			"a": "loud", "b": "QUIET", "c": "  padded  ",
		})
		if got != "LOUD/quiet/padded" {
			t.Errorf("got %q", got)
		}
	})

	t.Run("renderTemplate inclusion", func(t *testing.T) {
		set := NewSet()
		if _, err := set.Add("greeting", "Hello {{name}}"); err != nil {
			t.Fatal(err)
		}
		if _, err := set.Add("outer", "<{{renderTemplate greeting}}>"); err != nil {
			t.Fatal(err)
		}
		got, err := set.Render("outer", NewScope(map[string]any{"name": "Ana"}))
		if err != nil {
			t.Fatalf("Render() error: %v", err)
		}
		if got != "<Hello Ana>" {
			t.Errorf("got %q", got)
		}
	})

	t.Run("renderTemplate missing target", func(t *testing.T) {
		set := NewSet()
		if _, err := set.Add("outer", "{{renderTemplate nope}}"); err != nil {
			t.Fatal(err)
		}
		if _, err := set.Render("outer", NewScope(nil)); err == nil {
			t.Error("expected error for missing template")
		}
	})
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name string
		src  string
	}{
		{"unterminated tag", "hello {{name"},
		{"empty tag", "{{}}"},
		{"unclosed if", "{{#if x}}body"},
		{"unclosed each", "{{#each x}}body"},
		{"stray close", "{{/if}}"},
		{"stray else", "text {{else}} more"},
		{"unknown helper", "{{frobnicate x}}"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Parse("test", tt.src); err == nil {
				t.Errorf("Parse(%q) expected error", tt.src)
			}
		})
	}
}

func TestStringifyComposite(t *testing.T) {
	got := render(t, "{{{obj}}}", map[string]any{
		"obj": map[string]any{"a": 1},
	})
	if !strings.Contains(got, `"a":1`) {
		t.Errorf("composite value should render as JSON, got %q", got)
	}
}
