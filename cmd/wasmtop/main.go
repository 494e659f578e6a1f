// Command wasmtop is a terminal dashboard for wasmcored: it polls the
// daemon's Unix socket for the loaded-binary list and lets an operator
// load or unload binaries without leaving the terminal.
package main

import (
	"flag"
	"fmt"
	"os"

	tea "github.com/charmbracelet/bubbletea"
	"golang.org/x/term"
)

func main() {
	socketPath := flag.String("socket", "/tmp/wasm-core.sock", "Unix domain socket path")
	flag.Parse()

	if !term.IsTerminal(int(os.Stdout.Fd())) {
		fmt.Fprintln(os.Stderr, "wasmtop: stdout is not a terminal; use wasmctl for scripted access")
		os.Exit(1)
	}

	p := tea.NewProgram(newModel(*socketPath), tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "wasmtop: %v\n", err)
		os.Exit(1)
	}
}
