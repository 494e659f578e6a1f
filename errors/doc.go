// Package errors provides the structured error type used across wasm-core.
//
// Errors are categorized by Phase (where in the request lifecycle the error
// occurred) and Kind (the stable error token returned to clients). Each Kind
// value is the snake_case form of a token named in the core's error handling
// design; Kind.Token and Error.Token render it in PascalCase
// (file_not_found -> FileNotFound), the form the transport layer writes as
// the wire "error" string.
//
// Use the Builder for structured construction:
//
//	err := errors.New(errors.PhaseExecute, errors.KindExecutionTimeout).
//		Detail("guest exceeded %d ms", cfg.TimeoutMS).
//		Build()
//
// Or use the convenience constructors for the common cases:
//
//	err := errors.NotFound(errors.PhaseRegistry, "binary", id.String())
//	err := errors.Wrap(errors.PhaseRegistry, errors.KindIoError, cause, "read wasm file")
//
// All errors implement the standard error interface and support errors.Is.
package errors
