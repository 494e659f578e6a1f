// Package executor instantiates a single compiled module for exactly one
// call, marshals input/output across the host/guest memory boundary, and
// enforces the per-call timeout, fuel and memory bounds. No instance is
// ever reused across calls; every call starts from the Registry's
// immutable CompiledModule and tears its instance down on return.
package executor

import (
	"context"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/tetratelabs/wazero"
	"golang.org/x/sync/semaphore"

	"github.com/wippyai/wasm-core/config"
	"github.com/wippyai/wasm-core/engine"
	"github.com/wippyai/wasm-core/errors"
	"github.com/wippyai/wasm-core/registry"
	"github.com/wippyai/wasm-core/tracer"
)

// maxOutputBytes is the §4.2.1 output ceiling: larger results fail with
// OutputTooLarge rather than being silently truncated.
const maxOutputBytes = 10 * 1024 * 1024

// defaultMaxConcurrentExecutions is the default weight of the semaphore
// gating concurrent Execute calls, matching config.NewServerConfig's
// default MaxConcurrent.
const defaultMaxConcurrentExecutions = 1000

// Result is one execution's outcome, the wire-level shape of
// ExecutionResult.
type Result struct {
	BinaryID        uuid.UUID
	ReturnCode      int32
	Output          []byte
	ExecutionTimeMS int64
	FuelConsumed    uint64
}

// Executor runs single executions against a Registry's compiled modules.
type Executor struct {
	eng *engine.Engine
	reg *registry.Registry
	tr  *tracer.Tracer
	sem *semaphore.Weighted
}

// Option configures an Executor constructed by New.
type Option func(*Executor)

// WithMaxConcurrent overrides the default concurrent-execution cap (1000),
// the backpressure mechanism §5 describes: callers beyond the cap block in
// Execute until a running call finishes, rather than being rejected.
func WithMaxConcurrent(n int64) Option {
	return func(x *Executor) { x.sem = semaphore.NewWeighted(n) }
}

// New constructs an Executor bound to eng and reg, recording traces in tr
// (nil disables tracing).
func New(eng *engine.Engine, reg *registry.Registry, tr *tracer.Tracer, opts ...Option) *Executor {
	x := &Executor{eng: eng, reg: reg, tr: tr, sem: semaphore.NewWeighted(defaultMaxConcurrentExecutions)}
	for _, opt := range opts {
		opt(x)
	}
	return x
}

// Execute runs one call of binary id's process export against input,
// bounded by cfg. It always tears down the instance before returning,
// regardless of outcome.
func (x *Executor) Execute(ctx context.Context, id uuid.UUID, input []byte, cfg config.ExecutionConfig) (Result, error) {
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return Result{}, errors.InvalidInput(errors.PhaseValidate, "execution config: %v", err)
	}

	mod, err := x.reg.Get(id)
	if err != nil {
		return Result{}, err
	}

	if err := x.sem.Acquire(ctx, 1); err != nil {
		return Result{}, errors.Cancelled(errors.PhaseExecute)
	}
	defer x.sem.Release(1)

	trace := x.tr.Start(id)
	trace.Event(tracer.EventExecutionStart, fmt.Sprintf("input_len=%d", len(input)), nil)

	result, err := x.run(ctx, mod, input, cfg, trace)
	if err != nil {
		trace.Fail(err.Error())
		return Result{}, err
	}

	trace.Event(tracer.EventExecutionComplete,
		fmt.Sprintf("return_code=%d fuel_consumed=%d", result.ReturnCode, result.FuelConsumed), nil)
	trace.Complete()
	return result, nil
}

func (x *Executor) run(
	ctx context.Context,
	mod registry.Module,
	input []byte,
	cfg config.ExecutionConfig,
	trace *tracer.Trace,
) (Result, error) {
	budget := engine.InitialFuel(cfg.TimeoutMS)
	meter := engine.NewFuelMeter(budget)
	callCtx := engine.NewFuelContext(ctx, meter)
	callCtx = engine.WithTrace(callCtx, trace)

	timeoutCtx, cancel := context.WithTimeout(callCtx, time.Duration(cfg.TimeoutMS)*time.Millisecond)
	defer cancel()

	if err := preflightImports(mod.Compiled); err != nil {
		return Result{}, err
	}

	instanceName := mod.ID.String() + "-" + uuid.New().String()
	instance, err := x.eng.Runtime.InstantiateModule(timeoutCtx, mod.Compiled, wazero.NewModuleConfig().WithName(instanceName))
	if err != nil {
		return Result{}, classifyInstantiationError(err)
	}
	defer instance.Close(context.Background())

	process := instance.ExportedFunction("process")
	if process == nil {
		return Result{}, errors.MissingExport("process")
	}
	if instance.Memory() == nil {
		return Result{}, errors.MissingExport("memory")
	}

	start := time.Now()

	inputPtr, inputLen, err := engine.WriteInput(timeoutCtx, instance, input)
	if err != nil {
		return Result{}, err
	}
	if !engine.WithinLimit(instance.Memory(), cfg.MemoryLimitMB) {
		return Result{}, errors.OutOfMemory(cfg.MemoryLimitMB)
	}

	// env is reserved and currently always empty; see §4.2.1.
	results, callErr := process.Call(timeoutCtx, uint64(inputPtr), uint64(inputLen), 0, 0)
	elapsed := time.Since(start)

	if callErr != nil {
		return Result{}, classifyCallError(callErr, timeoutCtx, meter, cfg)
	}

	if !engine.WithinLimit(instance.Memory(), cfg.MemoryLimitMB) {
		return Result{}, errors.OutOfMemory(cfg.MemoryLimitMB)
	}

	returnCode := int32(results[0])

	output, err := engine.ReadOutput(timeoutCtx, instance, uint32(len(input)), maxOutputBytes)
	if err != nil {
		return Result{}, err
	}
	if !utf8.Valid(output) {
		return Result{}, errors.InvalidUTF8(errors.PhaseExecute, output)
	}

	return Result{
		BinaryID:        mod.ID,
		ReturnCode:      returnCode,
		Output:          output,
		ExecutionTimeMS: elapsed.Milliseconds(),
		FuelConsumed:    meter.Consumed(budget),
	}, nil
}

// preflightImports rejects modules that import anything outside the
// "host" surface this executor provides, surfacing a clear ImportMissing
// error rather than an opaque instantiation failure.
func preflightImports(compiled wazero.CompiledModule) error {
	for _, def := range compiled.ImportedFunctions() {
		modName, name, _ := def.Import()
		if modName != "host" {
			return errors.MissingImport(modName, name)
		}
	}
	return nil
}

func classifyInstantiationError(err error) error {
	return errors.Wrap(errors.PhaseExecute, errors.KindInstantiationError, err, "instantiate module")
}

// classifyCallError distinguishes the watchdog firing (ExecutionTimeout)
// from fuel exhaustion detected via the listener-based meter (OutOfFuel)
// from any other guest trap (RuntimeError). Both the context deadline and
// the fuel meter are belt-and-suspenders per §4.2's fuel-to-time mapping;
// whichever condition is observed true when the call unwinds is reported.
func classifyCallError(err error, ctx context.Context, meter *engine.FuelMeter, cfg config.ExecutionConfig) error {
	if ctx.Err() != nil {
		return errors.Timeout(uint32(cfg.TimeoutMS))
	}
	if meter.Exhausted() {
		return errors.OutOfFuel(engine.InitialFuel(cfg.TimeoutMS))
	}
	return errors.Wrap(errors.PhaseExecute, errors.KindRuntimeError, err, "process call trapped")
}
