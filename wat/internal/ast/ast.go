// Package ast turns a token stream into a generic S-expression tree. It
// carries no WASM-specific meaning — internal/parser is what interprets a
// (module ...) tree.
package ast

import (
	"fmt"

	"github.com/wippyai/wasm-core/wat/internal/token"
)

// Node is one S-expression: either a parenthesized list (List true,
// Children populated), a bare atom (keyword, identifier, number), or a
// quoted string literal.
type Node struct {
	List     bool
	Children []*Node
	Atom     string
	Str      string
	IsString bool
}

// Parse reads every top-level form out of toks.
func Parse(toks []token.Token) ([]*Node, error) {
	b := &builder{toks: toks}
	var nodes []*Node
	for !b.done() {
		n, err := b.node()
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, n)
	}
	return nodes, nil
}

type builder struct {
	toks []token.Token
	pos  int
}

func (b *builder) done() bool { return b.pos >= len(b.toks) }

func (b *builder) node() (*Node, error) {
	if b.done() {
		return nil, fmt.Errorf("unexpected end of input")
	}
	t := b.toks[b.pos]
	switch t.Kind {
	case token.LParen:
		b.pos++
		n := &Node{List: true}
		for {
			if b.done() {
				return nil, fmt.Errorf("unexpected end of input: unclosed '('")
			}
			if b.toks[b.pos].Kind == token.RParen {
				b.pos++
				return n, nil
			}
			child, err := b.node()
			if err != nil {
				return nil, err
			}
			n.Children = append(n.Children, child)
		}
	case token.RParen:
		return nil, fmt.Errorf("unexpected ')'")
	case token.String:
		b.pos++
		return &Node{IsString: true, Str: t.Text}, nil
	default:
		b.pos++
		return &Node{Atom: t.Text}, nil
	}
}

// Head returns the keyword leading a list node ("" if n is not a
// non-empty list), the form every module-level and instruction dispatch
// in internal/parser switches on.
func (n *Node) Head() string {
	if !n.List || len(n.Children) == 0 {
		return ""
	}
	return n.Children[0].Atom
}
