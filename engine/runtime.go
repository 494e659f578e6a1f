package engine

import (
	"context"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
)

// wasmPageSize is the fixed WASM linear memory page size in bytes.
const wasmPageSize = 65536

// MaxMemoryLimitMB is the specification's upper bound on any single
// execution's memory_limit_mb; it doubles as the runtime-wide ceiling
// wazero enforces on every instance's memory.grow, regardless of the
// tighter per-call limit the executor additionally polices.
const MaxMemoryLimitMB = 512

// PagesForMB converts a memory_limit_mb bound into wazero memory pages.
func PagesForMB(mb uint32) uint32 {
	return mb * 1_048_576 / wasmPageSize
}

// Engine is the process-wide wazero runtime plus its shared host imports.
// The zero value is not usable; construct with New.
type Engine struct {
	Runtime wazero.Runtime
	host    api.Closer
}

// New builds the shared wazero.Runtime, configured with the bounds that
// apply to every instance:
//
//   - WithMemoryLimitPages caps growth at MaxMemoryLimitMB — a guest
//     cannot exceed the specification's absolute ceiling no matter what
//     memory_limit_mb an individual call requested; the executor enforces
//     the tighter, caller-requested limit itself.
//   - WithCloseOnContextDone ensures a context.Context canceled or timed
//     out during api.Function.Call terminates that call and closes the
//     module, instead of leaving a worker goroutine blocked on adversarial
//     guest code.
//
// It also instantiates the "host" import module every guest links against.
func New(ctx context.Context) (*Engine, error) {
	cfg := wazero.NewRuntimeConfig().
		WithCoreFeatures(api.CoreFeaturesV2).
		WithMemoryLimitPages(PagesForMB(MaxMemoryLimitMB)).
		WithCloseOnContextDone(true)

	rt := wazero.NewRuntimeWithConfig(ctx, cfg)

	host, err := buildHostModule(ctx, rt)
	if err != nil {
		_ = rt.Close(ctx)
		return nil, err
	}
	return &Engine{Runtime: rt, host: host}, nil
}

// Close releases the runtime, every compiled module it holds, and the
// host import module.
func (e *Engine) Close(ctx context.Context) error {
	if e.host != nil {
		_ = e.host.Close(ctx)
	}
	return e.Runtime.Close(ctx)
}
