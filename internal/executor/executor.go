// Package executor instantiates a compiled WASM component per request and
// invokes it, translating an incoming HTTP-shaped request into the guest's
// stdio and its stdout back into an HTTP-shaped response.
//
// wazero ships no wasi-http incoming-handler ABI, and the pack carries none
// of the libraries that implement one. The teacher's own executor
// (pkg/serverless/execution/executor.go) already has a convention for this
// exact gap: serialize the request, hand it to the guest over WASI stdin,
// let _start run, and read the response back off stdout. This package keeps
// that convention and generalizes the payload from the teacher's raw bytes
// to a JSON request/response envelope, so a guest built against any
// language's stdio can serve the handler-per-request contract the spec
// requires without a wasi-http shim neither the examples nor wazero supply.
package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/tetratelabs/wazero"
	"go.uber.org/zap"

	"github.com/dufeut/mik/internal/limits"
	"github.com/dufeut/mik/internal/mikerrors"
)

// Request is the HTTP-shaped input handed to a guest module.
type Request struct {
	Method  string              `json:"method"`
	Path    string              `json:"path"`
	Query   string              `json:"query,omitempty"`
	Headers map[string][]string `json:"headers,omitempty"`
	Body    []byte              `json:"body,omitempty"`
}

// Response is the HTTP-shaped output a guest module produces.
type Response struct {
	Status  int                 `json:"status"`
	Headers map[string][]string `json:"headers,omitempty"`
	Body    []byte              `json:"body,omitempty"`
}

// Limits bounds one invocation's resources.
type Limits struct {
	FuelBudget uint64
}

// Executor instantiates compiled modules against a shared wazero runtime.
type Executor struct {
	runtime wazero.Runtime
	logger  *zap.Logger
}

// New constructs an Executor over an already-configured wazero runtime
// (memory-limit pages and WithCloseOnContextDone are runtime-level settings
// made once by the caller, not per invocation).
func New(runtime wazero.Runtime, logger *zap.Logger) *Executor {
	return &Executor{runtime: runtime, logger: logger}
}

// Execute runs one request against a compiled module. ctx already carries
// the request's execution deadline (the dispatcher derives it with
// context.WithTimeout); Execute layers fuel metering on top and classifies
// the outcome into the mikerrors taxonomy: a context deadline becomes
// Timeout, fuel exhaustion becomes ResourceExhausted, and any other
// instantiation failure becomes GuestTrap.
func (e *Executor) Execute(ctx context.Context, compiled wazero.CompiledModule, moduleName string, lim Limits, req *Request) (*Response, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var meter *limits.FuelMeter
	if lim.FuelBudget > 0 {
		meter = limits.NewFuelMeter(lim.FuelBudget, cancel)
		ctx = limits.WithFuelMeter(ctx, meter)
	}

	input, err := json.Marshal(req)
	if err != nil {
		return nil, mikerrors.Internal("failed to encode request envelope", err)
	}

	stdin := bytes.NewReader(input)
	stdout := new(bytes.Buffer)
	stderr := new(bytes.Buffer)

	moduleConfig := wazero.NewModuleConfig().
		WithName(moduleName).
		WithStdin(stdin).
		WithStdout(stdout).
		WithStderr(stderr).
		WithArgs(moduleName)

	instance, err := e.runtime.InstantiateModule(ctx, compiled, moduleConfig)
	if err != nil {
		if stderr.Len() > 0 {
			e.logger.Warn("guest stderr output", zap.String("module", moduleName), zap.String("stderr", stderr.String()))
		}
		if meter != nil && meter.Exhausted() {
			return nil, mikerrors.ResourceExhausted("fuel", fmt.Sprintf("module %q exceeded its call budget of %d", moduleName, lim.FuelBudget))
		}
		if ctx.Err() != nil {
			return nil, mikerrors.Timeout(fmt.Sprintf("module %q exceeded its execution deadline", moduleName))
		}
		return nil, mikerrors.GuestTrap(err)
	}
	defer instance.Close(ctx)

	if stderr.Len() > 0 {
		e.logger.Debug("guest stderr", zap.String("module", moduleName), zap.String("stderr", stderr.String()))
	}

	var resp Response
	if err := json.Unmarshal(stdout.Bytes(), &resp); err != nil {
		return nil, mikerrors.GuestTrap(fmt.Errorf("module %q did not produce a valid response envelope: %w", moduleName, err))
	}

	return &resp, nil
}
