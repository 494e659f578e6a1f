package errors

import (
	"fmt"
	"strings"
)

// Phase indicates where in processing the error occurred
type Phase string

const (
	PhaseValidate  Phase = "validate"  // request/config validation
	PhaseRegistry  Phase = "registry"  // binary load/get/list/unload
	PhaseExecute   Phase = "execute"   // single execution
	PhaseChain     Phase = "chain"     // pipeline driver
	PhaseTrace     Phase = "trace"     // tracer operations
	PhaseHost      Phase = "host"      // host import dispatch
	PhaseTransport Phase = "transport" // request framing / dispatch
	PhaseInternal  Phase = "internal"  // persistence, bookkeeping
)

// Kind categorizes the error using the stable token returned to clients.
type Kind string

const (
	// Input / validation
	KindInvalidRequest Kind = "invalid_request"
	KindInvalidInput   Kind = "invalid_input"
	KindChainTooLong   Kind = "chain_too_long"
	KindInputTooLarge  Kind = "input_too_large"
	KindOutputTooLarge Kind = "output_too_large"

	// Registry
	KindFileNotFound     Kind = "file_not_found"
	KindIoError          Kind = "io_error"
	KindInvalidWasm      Kind = "invalid_wasm"
	KindCompilationError Kind = "compilation_error"
	KindBinaryNotFound   Kind = "binary_not_found"

	// Execution
	KindInstantiationError Kind = "instantiation_error"
	KindImportMissing      Kind = "import_missing"
	KindMissingExport      Kind = "missing_export"
	KindExecutionTimeout   Kind = "execution_timeout"
	KindOutOfMemory        Kind = "out_of_memory"
	KindOutOfFuel          Kind = "out_of_fuel"
	KindInvalidUTF8        Kind = "invalid_utf8"
	KindRuntimeError       Kind = "runtime_error"

	// Internal
	KindPersistenceError Kind = "persistence_error"
	KindCancelled        Kind = "cancelled"
	KindInternal         Kind = "internal"
)

// Error is the structured error type used throughout wasm-core
type Error struct {
	Cause  error
	Phase  Phase
	Kind   Kind
	Detail string
}

// Error implements the error interface
func (e *Error) Error() string {
	var b strings.Builder

	b.WriteByte('[')
	b.WriteString(string(e.Phase))
	b.WriteString("] ")
	b.WriteString(string(e.Kind))

	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	}

	if e.Cause != nil {
		b.WriteString(" (caused by: ")
		b.WriteString(e.Cause.Error())
		b.WriteByte(')')
	}

	return b.String()
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// Token renders Kind as the PascalCase stable wire token §7 documents
// (e.g. KindFileNotFound -> "FileNotFound"), the form clients match
// against rather than the full "[phase] kind: detail" Error() string.
func (k Kind) Token() string {
	parts := strings.Split(string(k), "_")
	var b strings.Builder
	for _, p := range parts {
		if p == "" {
			continue
		}
		b.WriteString(strings.ToUpper(p[:1]))
		b.WriteString(p[1:])
	}
	return b.String()
}

// Token renders e.Kind as the stable wire token; see Kind.Token.
func (e *Error) Token() string {
	return e.Kind.Token()
}

// Is reports whether target has the same Kind as e. Phase is ignored so
// callers can match on the stable wire token without caring where it
// originated.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Kind == t.Kind
	}
	return false
}

// Builder provides structured error construction
type Builder struct {
	err Error
}

// New creates a new error builder
func New(phase Phase, kind Kind) *Builder {
	return &Builder{
		err: Error{
			Phase: phase,
			Kind:  kind,
		},
	}
}

// Cause sets the underlying error
func (b *Builder) Cause(err error) *Builder {
	b.err.Cause = err
	return b
}

// Detail sets the human-readable detail message
func (b *Builder) Detail(msg string, args ...any) *Builder {
	if len(args) > 0 {
		b.err.Detail = fmt.Sprintf(msg, args...)
	} else {
		b.err.Detail = msg
	}
	return b
}

// Build returns the constructed error
func (b *Builder) Build() *Error {
	err := b.err
	return &err
}

// Convenience constructors for common error patterns

// Wrap wraps an existing error with additional context
func Wrap(phase Phase, kind Kind, cause error, detail string, args ...any) *Error {
	return New(phase, kind).Cause(cause).Detail(detail, args...).Build()
}

// NotFound creates a binary-not-found error, e.g.
// NotFound(PhaseRegistry, "binary", id.String())
func NotFound(phase Phase, what, name string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindBinaryNotFound,
		Detail: fmt.Sprintf("%s %q not found", what, name),
	}
}

// InvalidInput creates an invalid input error
func InvalidInput(phase Phase, detail string, args ...any) *Error {
	return New(phase, KindInvalidInput).Detail(detail, args...).Build()
}

// InvalidUTF8 creates an invalid-UTF-8 output error, including a short hex
// preview of the offending bytes.
func InvalidUTF8(phase Phase, data []byte) *Error {
	preview := data
	if len(preview) > 32 {
		preview = preview[:32]
	}
	return &Error{
		Phase:  phase,
		Kind:   KindInvalidUTF8,
		Detail: fmt.Sprintf("invalid UTF-8 output: %x", preview),
	}
}

// Timeout creates an execution-timeout error.
func Timeout(timeoutMS uint32) *Error {
	return &Error{
		Phase:  PhaseExecute,
		Kind:   KindExecutionTimeout,
		Detail: fmt.Sprintf("guest exceeded %d ms", timeoutMS),
	}
}

// OutOfFuel creates an out-of-fuel error for a given budget.
func OutOfFuel(budget uint64) *Error {
	return &Error{
		Phase:  PhaseExecute,
		Kind:   KindOutOfFuel,
		Detail: fmt.Sprintf("guest exhausted fuel budget of %d units", budget),
	}
}

// OutOfMemory creates a memory-limit-exceeded error.
func OutOfMemory(limitMB uint32) *Error {
	return &Error{
		Phase:  PhaseExecute,
		Kind:   KindOutOfMemory,
		Detail: fmt.Sprintf("guest exceeded memory limit of %d MB", limitMB),
	}
}

// TooLarge creates an input/output size error for the given kind.
func TooLarge(phase Phase, kind Kind, size, limit int) *Error {
	return &Error{
		Phase:  phase,
		Kind:   kind,
		Detail: fmt.Sprintf("size %d exceeds limit %d", size, limit),
	}
}

// ChainTooLong creates a pipeline-length error.
func ChainTooLong(length, max int) *Error {
	return &Error{
		Phase:  PhaseChain,
		Kind:   KindChainTooLong,
		Detail: fmt.Sprintf("chain length %d exceeds maximum %d", length, max),
	}
}

// MissingExport creates an error for an export the guest module lacks.
func MissingExport(name string) *Error {
	return &Error{
		Phase:  PhaseExecute,
		Kind:   KindMissingExport,
		Detail: fmt.Sprintf("module does not export %q", name),
	}
}

// MissingImport creates an error for a host import the guest module
// requires but the engine does not provide.
func MissingImport(module, name string) *Error {
	return &Error{
		Phase:  PhaseExecute,
		Kind:   KindImportMissing,
		Detail: fmt.Sprintf("unresolved import %s.%s", module, name),
	}
}

// Cancelled creates a cancellation error, used when a caller's context is
// done before or during execution.
func Cancelled(phase Phase) *Error {
	return &Error{
		Phase: phase,
		Kind:  KindCancelled,
	}
}

// Internal creates a catch-all internal error.
func Internal(phase Phase, cause error, detail string, args ...any) *Error {
	return New(phase, KindInternal).Cause(cause).Detail(detail, args...).Build()
}

// Is reports whether the first *Error in err's Unwrap chain carries kind.
// The search stops at that *Error; an *Error held in its Cause is not
// checked.
func Is(err error, kind Kind) bool {
	for err != nil {
		if e, ok := err.(*Error); ok {
			return e.Kind == kind
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

// As extracts the first *Error in err's Unwrap chain, if any.
func As(err error) (*Error, bool) {
	for err != nil {
		if e, ok := err.(*Error); ok {
			return e, true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return nil, false
		}
		err = u.Unwrap()
	}
	return nil, false
}
