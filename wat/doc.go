// Package wat compiles WAT (WebAssembly Text) source into binary WASM
// modules. Its only consumer in this repository is the plugin fixture set
// under testdata/plugins: rather than checking in compiled .wasm blobs,
// the registry, executor and pipeline tests compile WAT source
// implementing the process ABI (see engine.WriteInput/ReadOutput) at test
// time, via Compile.
//
// Only the subset of the text format those fixtures actually exercise is
// supported: memories, globals, active data segments, imported and
// defined functions, and folded s-expression instructions covering i32
// arithmetic/comparisons, i32 memory access, locals, globals, calls and
// structured control flow (block, loop, if/then/else, br, br_if). The
// flat stack-machine instruction syntax, tables, reference types,
// multi-value results, bulk-memory ops and the float/SIMD instruction
// sets are not implemented — no fixture here needs them.
package wat
