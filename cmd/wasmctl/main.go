// Command wasmctl is a thin client for wasmcored: each subcommand sends one
// request line over the daemon's Unix socket and prints the response.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/wippyai/wasm-core/config"
	"github.com/wippyai/wasm-core/transport"
)

func main() {
	socketPath := flag.String("socket", "/tmp/wasm-core.sock", "Unix domain socket path")
	flag.Usage = usage
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		usage()
		os.Exit(1)
	}

	req, err := buildRequest(args[0], args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "wasmctl: %v\n", err)
		os.Exit(1)
	}

	resp, err := transport.Client{SocketPath: *socketPath}.Send(req)
	if err != nil {
		fmt.Fprintf(os.Stderr, "wasmctl: %v\n", err)
		os.Exit(1)
	}

	out, err := json.MarshalIndent(resp, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "wasmctl: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(string(out))
	if !resp.Success {
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `Usage: wasmctl [-socket path] <command> [args...]

Commands:
  load <path>                        load a wasm binary
  exec <binary-id> <input>           execute a binary once
  chain <input> <id1,id2,...>        execute a chain of binaries in order
  list                                list loaded binaries
  unload <binary-id>                  unload a binary`)
}

func buildRequest(cmd string, args []string) (transport.Request, error) {
	switch cmd {
	case "load":
		if len(args) != 1 {
			return transport.Request{}, fmt.Errorf("load requires exactly one path argument")
		}
		return newRequest(transport.TypeLoadBinary, transport.LoadBinaryPayload{Path: args[0]})

	case "exec":
		if len(args) != 2 {
			return transport.Request{}, fmt.Errorf("exec requires <binary-id> <input>")
		}
		return newRequest(transport.TypeExecute, transport.ExecutePayload{
			BinaryID: args[0],
			Input:    args[1],
			Config:   config.DefaultExecutionConfig(),
		})

	case "chain":
		if len(args) != 2 {
			return transport.Request{}, fmt.Errorf("chain requires <input> <id1,id2,...>")
		}
		return newRequest(transport.TypeExecuteChain, transport.ExecuteChainPayload{
			BinaryIDs: strings.Split(args[1], ","),
			Input:     args[0],
			Config:    config.DefaultExecutionConfig(),
		})

	case "list":
		return transport.Request{Type: transport.TypeListBinaries}, nil

	case "unload":
		if len(args) != 1 {
			return transport.Request{}, fmt.Errorf("unload requires exactly one binary-id argument")
		}
		return newRequest(transport.TypeUnloadBinary, transport.UnloadBinaryPayload{BinaryID: args[0]})

	default:
		return transport.Request{}, fmt.Errorf("unknown command %q", cmd)
	}
}

func newRequest(t transport.RequestType, payload any) (transport.Request, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return transport.Request{}, fmt.Errorf("encode payload: %w", err)
	}
	return transport.Request{Type: t, Payload: raw}, nil
}

