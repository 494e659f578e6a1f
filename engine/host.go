package engine

import (
	"context"
	"strconv"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"

	"github.com/wippyai/wasm-core/tracer"
)

// hostModuleName is the import module name every guest links "host" calls
// against, per the ABI's §4.2.2 surface.
const hostModuleName = "host"

// stateSentinel is returned by get_state for any key: the specification
// permits the reserved state functions to be stubbed to documented no-ops
// in this core implementation.
const stateSentinel int32 = -1

type traceKey struct{}

// WithTrace returns a context carrying trace, the destination for
// PluginLog and HostFunctionCall events emitted by host imports invoked
// during calls made with the returned context. A nil trace is safe and
// results in host calls being silently unrecorded, matching Trace's
// nil-receiver no-op behavior.
func WithTrace(ctx context.Context, trace *tracer.Trace) context.Context {
	return context.WithValue(ctx, traceKey{}, trace)
}

func traceFromContext(ctx context.Context) *tracer.Trace {
	t, _ := ctx.Value(traceKey{}).(*tracer.Trace)
	return t
}

// buildHostModule instantiates the "host" import module: log, get_state
// and set_state. It is built once against the shared runtime and reused
// by every guest instance's imports.
func buildHostModule(ctx context.Context, rt wazero.Runtime) (api.Closer, error) {
	builder := rt.NewHostModuleBuilder(hostModuleName)

	builder.NewFunctionBuilder().
		WithGoModuleFunction(api.GoModuleFunc(hostLog), []api.ValueType{api.ValueTypeI32, api.ValueTypeI32}, nil).
		Export("log")

	builder.NewFunctionBuilder().
		WithGoModuleFunction(api.GoModuleFunc(hostGetState),
			[]api.ValueType{api.ValueTypeI32, api.ValueTypeI32},
			[]api.ValueType{api.ValueTypeI32}).
		Export("get_state")

	builder.NewFunctionBuilder().
		WithGoModuleFunction(api.GoModuleFunc(hostSetState),
			[]api.ValueType{api.ValueTypeI32, api.ValueTypeI32, api.ValueTypeI32, api.ValueTypeI32}, nil).
		Export("set_state")

	return builder.Instantiate(ctx)
}

// hostLog reads the UTF-8 slice at (ptr, len) from the calling module's
// memory and records it as a PluginLog trace event. It never fails the
// call: a bad pointer just yields no logged message.
func hostLog(ctx context.Context, mod api.Module, stack []uint64) {
	ptr, length := uint32(stack[0]), uint32(stack[1])
	trace := traceFromContext(ctx)
	trace.Event(tracer.EventHostFunctionCall, "host.log", map[string]string{"len": strconv.FormatUint(uint64(length), 10)})

	data, ok := mod.Memory().Read(ptr, length)
	if !ok {
		return
	}
	trace.Event(tracer.EventPluginLog, string(data), nil)
}

// hostGetState is a stubbed reserved import: the core specification
// permits it to always report the sentinel "no value" result.
func hostGetState(ctx context.Context, mod api.Module, stack []uint64) {
	traceFromContext(ctx).Event(tracer.EventHostFunctionCall, "host.get_state", nil)
	sentinel := stateSentinel
	stack[0] = uint64(uint32(sentinel))
}

// hostSetState is a stubbed reserved import: writes are accepted and
// silently discarded, per the core specification.
func hostSetState(ctx context.Context, mod api.Module, stack []uint64) {
	traceFromContext(ctx).Event(tracer.EventHostFunctionCall, "host.set_state", nil)
}
