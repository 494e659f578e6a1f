package engine

import (
	"context"
	"sync/atomic"

	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/experimental"
)

// FuelPerMillisecond is the fuel-to-time calibration carried over from the
// original implementation: one millisecond of requested wall time buys one
// million fuel units. wazero has no built-in fuel counter, so fuel here is
// approximated by charging every guest/host function call crossing
// observed through wazero's experimental function listener hook.
const FuelPerMillisecond = 1_000_000

// fuelCostPerCall is charged at every function call boundary the listener
// observes, the proxy this implementation uses in place of an instruction
// counter.
const fuelCostPerCall = 1000

// InitialFuel returns the fuel budget for a call configured with timeoutMS.
func InitialFuel(timeoutMS uint64) uint64 {
	return timeoutMS * FuelPerMillisecond
}

// FuelMeter tracks remaining fuel for a single call.
type FuelMeter struct {
	remaining int64
}

// NewFuelMeter returns a meter seeded with budget fuel units.
func NewFuelMeter(budget uint64) *FuelMeter {
	return &FuelMeter{remaining: int64(budget)}
}

// Exhausted reports whether the meter has run out.
func (f *FuelMeter) Exhausted() bool {
	return atomic.LoadInt64(&f.remaining) <= 0
}

// Consumed returns fuel spent so far, capped at budget.
func (f *FuelMeter) Consumed(budget uint64) uint64 {
	left := atomic.LoadInt64(&f.remaining)
	if left <= 0 {
		return budget
	}
	return budget - uint64(left)
}

// NewFuelContext returns a context that, when used to instantiate a module
// and call its exports, charges meter fuelCostPerCall at every
// guest/host function call boundary crossed during that call.
func NewFuelContext(ctx context.Context, meter *FuelMeter) context.Context {
	return experimental.WithFunctionListenerFactory(ctx, fuelListenerFactory{meter: meter})
}

type fuelListenerFactory struct {
	meter *FuelMeter
}

func (f fuelListenerFactory) NewFunctionListener(api.FunctionDefinition) experimental.FunctionListener {
	return fuelListener{meter: f.meter}
}

type fuelListener struct {
	meter *FuelMeter
}

func (l fuelListener) Before(
	_ context.Context,
	_ api.Module,
	_ api.FunctionDefinition,
	_ []uint64,
	_ experimental.StackIterator,
) {
	atomic.AddInt64(&l.meter.remaining, -fuelCostPerCall)
}

func (l fuelListener) After(context.Context, api.Module, api.FunctionDefinition, []uint64) {}

func (l fuelListener) Abort(context.Context, api.Module, api.FunctionDefinition, error) {}
