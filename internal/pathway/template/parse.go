package template

import (
	"fmt"
	"strings"
)

// token is one lexed template element: literal text or a {{…}} tag.
type token struct {
	text  string
	isTag bool
	raw   bool // triple-brace tag
}

// Parse parses src into a Template. name is used in error messages and
// by [Set.Add] for registration.
func Parse(name, src string) (*Template, error) {
	tokens, err := lex(src)
	if err != nil {
		return nil, fmt.Errorf("template %q: %w", name, err)
	}

	p := &parser{name: name, tokens: tokens}
	nodes, stop, err := p.parseNodes(nil)
	if err != nil {
		return nil, err
	}
	if stop != "" {
		return nil, fmt.Errorf("template %q: unexpected {{%s}}", name, stop)
	}
	return &Template{name: name, nodes: nodes}, nil
}

// lex splits src into text and tag tokens.
func lex(src string) ([]token, error) {
	var tokens []token
	for len(src) > 0 {
		open := strings.Index(src, "{{")
		if open < 0 {
			tokens = append(tokens, token{text: src})
			break
		}
		if open > 0 {
			tokens = append(tokens, token{text: src[:open]})
		}
		src = src[open:]

		raw := strings.HasPrefix(src, "{{{")
		openLen, closer := 2, "}}"
		if raw {
			openLen, closer = 3, "}}}"
		}

		end := strings.Index(src[openLen:], closer)
		if end < 0 {
			return nil, fmt.Errorf("unterminated tag at %q", clip(src))
		}
		content := strings.TrimSpace(src[openLen : openLen+end])
		if content == "" {
			return nil, fmt.Errorf("empty tag at %q", clip(src))
		}
		tokens = append(tokens, token{text: content, isTag: true, raw: raw})
		src = src[openLen+end+len(closer):]
	}
	return tokens, nil
}

func clip(s string) string {
	if len(s) > 20 {
		return s[:20] + "…"
	}
	return s
}

type parser struct {
	name   string
	tokens []token
	pos    int
}

// parseNodes consumes tokens until EOF or until it hits one of the stop
// tags ("else", "/if", "/each"), which it returns without consuming
// past.
func (p *parser) parseNodes(stops []string) ([]node, string, error) {
	var nodes []node

	for p.pos < len(p.tokens) {
		tok := p.tokens[p.pos]

		if !tok.isTag {
			p.pos++
			nodes = append(nodes, textNode(tok.text))
			continue
		}

		for _, s := range stops {
			if tok.text == s || strings.HasPrefix(tok.text, s+" ") {
				return nodes, tok.text, nil
			}
		}
		p.pos++

		if tok.raw {
			nodes = append(nodes, varNode{path: tok.text, raw: true})
			continue
		}

		n, err := p.parseTag(tok.text)
		if err != nil {
			return nil, "", err
		}
		nodes = append(nodes, n)
	}
	return nodes, "", nil
}

// parseTag turns one non-raw tag into a node, recursing for blocks.
func (p *parser) parseTag(content string) (node, error) {
	helper, rest, hasArg := strings.Cut(content, " ")
	rest = strings.TrimSpace(rest)

	switch {
	case helper == "#if" || helper == "^if":
		if !hasArg || rest == "" {
			return nil, fmt.Errorf("template %q: %s requires a path", p.name, helper)
		}
		body, stop, err := p.parseNodes([]string{"else", "/if"})
		if err != nil {
			return nil, err
		}
		n := ifNode{path: rest, inverted: helper == "^if", body: body}
		if stop == "else" {
			p.pos++ // consume else
			alt, stop2, err := p.parseNodes([]string{"/if"})
			if err != nil {
				return nil, err
			}
			if stop2 != "/if" {
				return nil, fmt.Errorf("template %q: unclosed {{%s %s}}", p.name, helper, rest)
			}
			n.alt = alt
			p.pos++ // consume /if
			return n, nil
		}
		if stop != "/if" {
			return nil, fmt.Errorf("template %q: unclosed {{%s %s}}", p.name, helper, rest)
		}
		p.pos++ // consume /if
		return n, nil

	case helper == "#each":
		if !hasArg || rest == "" {
			return nil, fmt.Errorf("template %q: #each requires a path", p.name)
		}
		body, stop, err := p.parseNodes([]string{"/each"})
		if err != nil {
			return nil, err
		}
		if stop != "/each" {
			return nil, fmt.Errorf("template %q: unclosed {{#each %s}}", p.name, rest)
		}
		p.pos++ // consume /each
		return eachNode{path: rest, body: body}, nil

	case helper == "else" || strings.HasPrefix(helper, "/"):
		return nil, fmt.Errorf("template %q: unexpected {{%s}}", p.name, content)

	case isHelper(helper):
		if !hasArg || rest == "" {
			return nil, fmt.Errorf("template %q: %s requires an argument", p.name, helper)
		}
		return helperNode{helper: helper, arg: parseArgument(rest)}, nil

	default:
		// A plain variable path.
		if hasArg {
			return nil, fmt.Errorf("template %q: unknown helper %q", p.name, helper)
		}
		return varNode{path: content}, nil
	}
}

func isHelper(name string) bool {
	switch name {
	case "renderTemplate", "toJSON", "uppercase", "lowercase", "trim":
		return true
	}
	return false
}

func parseArgument(s string) argument {
	if len(s) >= 2 && (s[0] == '"' || s[0] == '\'') && s[len(s)-1] == s[0] {
		return argument{literal: s[1 : len(s)-1], isLit: true}
	}
	return argument{path: s}
}
