// Command wasmcored is the sandboxed WASM execution daemon: it owns the
// shared runtime, the binary registry and the tracer, and serves requests
// over a Unix domain socket until it receives SIGINT or SIGTERM.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/wippyai/wasm-core/config"
	"github.com/wippyai/wasm-core/engine"
	"github.com/wippyai/wasm-core/executor"
	"github.com/wippyai/wasm-core/pipeline"
	"github.com/wippyai/wasm-core/registry"
	"github.com/wippyai/wasm-core/tracer"
	"github.com/wippyai/wasm-core/transport"
)

func main() {
	var (
		socketPath     = flag.String("socket", "/tmp/wasm-core.sock", "Unix domain socket path")
		metadataPath   = flag.String("metadata", "metadata.json", "Path to the binary metadata file")
		traceCapacity  = flag.Int("trace-capacity", 100, "Number of execution traces retained (0 disables tracing)")
		maxConcurrent  = flag.Int64("max-concurrent", 1000, "Maximum number of concurrent executions")
		eagerRecompile = flag.Bool("eager-recompile", true, "Recompile every persisted binary on startup")
		devLogging     = flag.Bool("dev", false, "Use human-readable development logging instead of JSON")
	)
	flag.Parse()

	logger, err := buildLogger(*devLogging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "build logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()
	engine.SetLogger(logger)

	cfg := config.NewServerConfig(
		config.WithSocketPath(*socketPath),
		config.WithMetadataPath(*metadataPath),
		config.WithTraceCapacity(*traceCapacity),
		config.WithMaxConcurrentExecutions(*maxConcurrent),
		config.WithEagerRecompile(*eagerRecompile),
	)

	if err := run(cfg, logger); err != nil {
		logger.Sugar().Fatalw("wasmcored exited with an error", "error", err)
	}
}

func buildLogger(dev bool) (*zap.Logger, error) {
	if dev {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func run(cfg config.ServerConfig, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	eng, err := engine.New(ctx)
	if err != nil {
		return fmt.Errorf("create engine: %w", err)
	}
	defer eng.Close(context.Background())

	var tr *tracer.Tracer
	if cfg.TraceCapacity > 0 {
		tr = tracer.New(cfg.TraceCapacity)
	}

	reg := registry.New(eng.Runtime, cfg.MetadataPath, tr)
	if cfg.EagerRecompile {
		records, err := registry.LoadMetadataFile(cfg.MetadataPath)
		if err != nil {
			logger.Sugar().Warnw("failed to read persisted metadata, starting empty", "error", err)
		} else if len(records) > 0 {
			logger.Sugar().Infow("recompiling persisted binaries", "count", len(records))
			reg.EagerRecompile(ctx, records)
		}
	}

	exec := executor.New(eng, reg, tr, executor.WithMaxConcurrent(cfg.MaxConcurrent))
	driver := pipeline.New(exec)
	dispatcher := transport.NewDispatcher(reg, exec, driver, logger)

	srv := &transport.Server{SocketPath: cfg.SocketPath, Dispatcher: dispatcher}
	logger.Sugar().Infow("wasmcored listening", "socket", cfg.SocketPath)

	// ListenAndServe shuts itself down once ctx is canceled by the signal
	// handler above.
	return srv.ListenAndServe(ctx)
}
