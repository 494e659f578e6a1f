// Package engine owns the single process-wide wazero runtime used to
// compile and instantiate sandboxed WASM binaries.
//
// # Architecture
//
// The package provides one type:
//
//	Engine - the shared wazero.Runtime plus the "host" import module
//	         every guest instance links against.
//
// The Runtime is created once at server startup with the bounds that
// apply to every instance regardless of caller-supplied ExecutionConfig
// (see New in runtime.go): a hard memory ceiling at the
// specification's maximum memory_limit_mb, and WithCloseOnContextDone so
// that a canceled or expired context.Context terminates an in-flight
// api.Function.Call rather than blocking a worker goroutine forever.
// Per-call state never lives in Engine: the trace an instance's host calls
// log against travels through the context.Context passed to Call (see
// WithTrace), and the actual per-call memory_limit_mb is checked by the
// executor with WithinLimit.
//
// # Compilation
//
// Registries hold the Engine's wazero.Runtime directly and call
// Runtime.CompileModule themselves; Engine does not wrap compilation, only
// the runtime construction and the host import surface (host.go) shared by
// every compiled module's instances.
//
// # Host imports
//
// Every guest instance imports the "host" module built by buildHostModule:
// log, get_state and set_state. Their handlers read parameters out of
// guest linear memory via the api.Module passed to the wazero
// api.GoModuleFunc signature, never by holding a reference across calls.
//
// # Thread safety
//
// Engine is safe for concurrent use: the Runtime and its host module are
// shared read-only across every execution. Guest instances are not
// shared; the executor package creates and discards one per call.
package engine
