package engine

import (
	"context"

	"github.com/tetratelabs/wazero/api"

	"github.com/wippyai/wasm-core/errors"
)

// reservedInputOffset is where input bytes land when the guest exports no
// alloc: a low, fixed region past the typical data/bss footprint of the
// small reference plugins this service targets.
const reservedInputOffset = 1024

// WriteInput places data in mod's linear memory and returns the (ptr, len)
// pair to pass as process's input_ptr/input_len. When the guest exports
// alloc, the host calls it so the guest's own allocator owns the region;
// otherwise the bytes land at a fixed low offset and memory is grown to
// fit if the guest's initial memory is too small.
func WriteInput(ctx context.Context, mod api.Module, data []byte) (ptr, length uint32, err error) {
	if allocFn := mod.ExportedFunction("alloc"); allocFn != nil {
		results, callErr := allocFn.Call(ctx, uint64(len(data)))
		if callErr != nil {
			return 0, 0, errors.Wrap(errors.PhaseExecute, errors.KindRuntimeError, callErr, "call alloc(%d)", len(data))
		}
		p := uint32(results[0])
		if p == 0 && len(data) > 0 {
			return 0, 0, errors.New(errors.PhaseExecute, errors.KindRuntimeError).
				Detail("alloc returned null for %d bytes", len(data)).Build()
		}
		if !mod.Memory().Write(p, data) {
			return 0, 0, errors.New(errors.PhaseExecute, errors.KindOutOfMemory).
				Detail("write %d bytes at alloc'd ptr %d", len(data), p).Build()
		}
		return p, uint32(len(data)), nil
	}

	needed := reservedInputOffset + uint32(len(data))
	if !growTo(mod.Memory(), needed) {
		return 0, 0, errors.OutOfMemory(0)
	}
	if !mod.Memory().Write(reservedInputOffset, data) {
		return 0, 0, errors.New(errors.PhaseExecute, errors.KindOutOfMemory).
			Detail("write %d bytes at reserved offset %d", len(data), reservedInputOffset).Build()
	}
	return reservedInputOffset, uint32(len(data)), nil
}

// ReadOutput retrieves the guest's result bytes. When get_output_ptr and
// get_output_len are both exported they are called to locate the result;
// otherwise the output is read back from the same reserved offset input
// was written at (the convention for plugins with no allocator), sized by
// fallbackLen — the length the caller already knows from some other
// channel, or 0 when there is none, in which case an empty result is
// returned. maxBytes enforces the 10 MB output ceiling.
func ReadOutput(ctx context.Context, mod api.Module, fallbackLen uint32, maxBytes int) ([]byte, error) {
	ptrFn := mod.ExportedFunction("get_output_ptr")
	lenFn := mod.ExportedFunction("get_output_len")

	var ptr, length uint32
	if ptrFn != nil && lenFn != nil {
		pr, err := ptrFn.Call(ctx)
		if err != nil {
			return nil, errors.Wrap(errors.PhaseExecute, errors.KindRuntimeError, err, "call get_output_ptr")
		}
		lr, err := lenFn.Call(ctx)
		if err != nil {
			return nil, errors.Wrap(errors.PhaseExecute, errors.KindRuntimeError, err, "call get_output_len")
		}
		ptr, length = uint32(pr[0]), uint32(lr[0])
	} else {
		ptr, length = reservedInputOffset, fallbackLen
	}

	if int(length) > maxBytes {
		return nil, errors.TooLarge(errors.PhaseExecute, errors.KindOutputTooLarge, int(length), maxBytes)
	}
	if length == 0 {
		return []byte{}, nil
	}

	data, ok := mod.Memory().Read(ptr, length)
	if !ok {
		return nil, errors.New(errors.PhaseExecute, errors.KindRuntimeError).
			Detail("output (ptr=%d, len=%d) out of bounds", ptr, length).Build()
	}
	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}

// growTo grows mem, if necessary, so its size is at least minBytes.
func growTo(mem api.Memory, minBytes uint32) bool {
	if mem.Size() >= minBytes {
		return true
	}
	deficit := minBytes - mem.Size()
	pages := (deficit + wasmPageSize - 1) / wasmPageSize
	_, ok := mem.Grow(pages)
	return ok
}

// WithinLimit reports whether mem's current size respects limitMB, the
// per-call bound the executor enforces in addition to the runtime-wide
// MaxMemoryLimitMB ceiling wazero itself applies.
func WithinLimit(mem api.Memory, limitMB uint32) bool {
	limitBytes := uint64(limitMB) * 1_048_576
	return uint64(mem.Size()) <= limitBytes
}
