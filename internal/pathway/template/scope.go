package template

import "strconv"

// Scope is the variable environment a template renders against. Scopes
// chain: block helpers push child scopes so that loop variables shadow
// outer bindings without mutating them.
//
// Lookup resolves dotted paths ("user.profile.name") through nested
// map[string]any, map[string]string, and []any values. Numeric path
// segments index into slices.
type Scope struct {
	vars   map[string]any
	parent *Scope
}

// NewScope creates a root scope over vars. A nil map is allowed.
func NewScope(vars map[string]any) *Scope {
	return &Scope{vars: vars}
}

// Child creates a scope that shadows this one with vars.
func (s *Scope) Child(vars map[string]any) *Scope {
	return &Scope{vars: vars, parent: s}
}

// Lookup resolves a dotted path. The special path "this" resolves to the
// scope's own "this" binding (set by each-blocks).
func (s *Scope) Lookup(path string) (any, bool) {
	segments := splitPath(path)
	if len(segments) == 0 {
		return nil, false
	}

	for sc := s; sc != nil; sc = sc.parent {
		root, ok := sc.vars[segments[0]]
		if !ok {
			continue
		}
		return walk(root, segments[1:])
	}
	return nil, false
}

// walk descends the remaining path segments into v.
func walk(v any, segments []string) (any, bool) {
	for _, seg := range segments {
		switch t := v.(type) {
		case map[string]any:
			next, ok := t[seg]
			if !ok {
				return nil, false
			}
			v = next
		case map[string]string:
			next, ok := t[seg]
			if !ok {
				return nil, false
			}
			v = next
		case []any:
			idx, err := strconv.Atoi(seg)
			if err != nil || idx < 0 || idx >= len(t) {
				return nil, false
			}
			v = t[idx]
		default:
			return nil, false
		}
	}
	return v, true
}

func splitPath(path string) []string {
	if path == "" {
		return nil
	}
	var out []string
	start := 0
	for i := 0; i < len(path); i++ {
		if path[i] == '.' {
			out = append(out, path[start:i])
			start = i + 1
		}
	}
	return append(out, path[start:])
}

// truthy implements handlebars-style truthiness: nil, false, empty
// strings, zero numbers, and empty collections are false.
func truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		return t != ""
	case int:
		return t != 0
	case int64:
		return t != 0
	case float64:
		return t != 0
	case []any:
		return len(t) > 0
	case []string:
		return len(t) > 0
	case map[string]any:
		return len(t) > 0
	default:
		return true
	}
}
