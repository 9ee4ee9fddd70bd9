package limits

import (
	"context"
	"sync/atomic"

	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/experimental"
)

// FuelMeter approximates wasmtime's consume_fuel budget, which wazero has
// no equivalent for. wasmtime decrements fuel per WASM instruction and
// traps the guest when it runs out; wazero instead exposes a function-call
// listener hook. Counting every function call (host and guest) a component
// makes during one invocation is a coarser unit than instruction count, but
// it is the cheapest available proxy for "this guest is doing unbounded
// work" and it composes with wazero's own context-cancellation story:
// once the budget is exceeded, Before cancels the context it was given,
// and RuntimeConfig.WithCloseOnContextDone (set on the shared wazero
// runtime) turns that into the same abrupt-trap behavior wasmtime gives an
// exhausted-fuel guest.
type FuelMeter struct {
	budget uint64
	used   atomic.Uint64
	cancel context.CancelFunc
}

// NewFuelMeter constructs a meter with the given call budget and the
// cancel function of the context the invocation runs under.
func NewFuelMeter(budget uint64, cancel context.CancelFunc) *FuelMeter {
	return &FuelMeter{budget: budget, cancel: cancel}
}

// Used returns the number of calls counted so far.
func (f *FuelMeter) Used() uint64 { return f.used.Load() }

// Exhausted reports whether the budget has been used up.
func (f *FuelMeter) Exhausted() bool { return f.used.Load() >= f.budget }

// ListenerFactory returns the experimental.FunctionListenerFactory to
// install on the module-instantiation context for one invocation.
func (f *FuelMeter) ListenerFactory() experimental.FunctionListenerFactory {
	return fuelListenerFactory{meter: f}
}

type fuelListenerFactory struct {
	meter *FuelMeter
}

func (fuelListenerFactory) NewListener(_ api.FunctionDefinition) experimental.FunctionListener {
	return fuelListener{}
}

type fuelListener struct{}

func (fuelListener) Before(ctx context.Context, mod api.Module, _ api.FunctionDefinition, _ []uint64, _ experimental.StackIterator) context.Context {
	meter, ok := ctx.Value(fuelMeterKey{}).(*FuelMeter)
	if !ok {
		return ctx
	}
	if meter.used.Add(1) >= meter.budget {
		meter.cancel()
	}
	return ctx
}

func (fuelListener) After(context.Context, api.Module, api.FunctionDefinition, []uint64) {}

type fuelMeterKey struct{}

// WithFuelMeter attaches meter to ctx so the installed listener can find it,
// and installs the listener factory itself.
func WithFuelMeter(ctx context.Context, meter *FuelMeter) context.Context {
	ctx = context.WithValue(ctx, fuelMeterKey{}, meter)
	return experimental.WithFunctionListenerFactory(ctx, meter.ListenerFactory())
}
