package wat

import (
	"github.com/wippyai/wasm-core/wat/internal/ast"
	"github.com/wippyai/wasm-core/wat/internal/parser"
	"github.com/wippyai/wasm-core/wat/internal/token"
)

// Compile compiles a single WAT module into its binary WASM encoding.
func Compile(src string) ([]byte, error) {
	nodes, err := ast.Parse(token.Tokenize(src))
	if err != nil {
		return nil, err
	}
	mod, err := parser.Parse(nodes)
	if err != nil {
		return nil, err
	}
	return mod.Encode(), nil
}
