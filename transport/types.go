// Package transport frames requests and responses as line-delimited UTF-8
// JSON over a local Unix domain socket, dispatching each request to the
// registry, executor or pipeline driver and writing back one JSON response
// line per request, per §6.
package transport

import (
	"encoding/json"

	"github.com/wippyai/wasm-core/config"
	wasmerrors "github.com/wippyai/wasm-core/errors"
)

// RequestType is the tagged union discriminant for an incoming request.
type RequestType string

const (
	TypeLoadBinary   RequestType = "LoadBinary"
	TypeExecute      RequestType = "Execute"
	TypeExecuteChain RequestType = "ExecuteChain"
	TypeListBinaries RequestType = "ListBinaries"
	TypeUnloadBinary RequestType = "UnloadBinary"
)

// Request is the wire envelope: {"type": T, "payload": P}. Payload is
// decoded lazily into the type-specific struct once Type is known, a
// sealed variant dispatched from a single site (Dispatcher.Handle) rather than open
// polymorphism.
type Request struct {
	Type    RequestType     `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// LoadBinaryPayload is Request.Payload for TypeLoadBinary.
type LoadBinaryPayload struct {
	Path string `json:"path" validate:"required"`
}

// ExecutePayload is Request.Payload for TypeExecute.
type ExecutePayload struct {
	BinaryID string                 `json:"binary_id" validate:"required,uuid"`
	Input    string                 `json:"input"`
	Config   config.ExecutionConfig `json:"config"`
}

// ExecuteChainPayload is Request.Payload for TypeExecuteChain.
type ExecuteChainPayload struct {
	BinaryIDs []string               `json:"binary_ids" validate:"required,min=1,max=10,dive,uuid"`
	Input     string                 `json:"input"`
	Config    config.ExecutionConfig `json:"config"`
}

// UnloadBinaryPayload is Request.Payload for TypeUnloadBinary.
type UnloadBinaryPayload struct {
	BinaryID string `json:"binary_id" validate:"required,uuid"`
}

// Response is the wire envelope every request gets back: exactly one JSON
// line per request. A success carries only Data. A failed ExecuteChain
// carries both the completed stages' results in Data and the error token;
// every other failure carries only Error.
type Response struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

func ok(data any) Response {
	return Response{Success: true, Data: data}
}

func fail(err error) Response {
	return Response{Success: false, Error: errToken(err)}
}

// errToken renders err as the bare stable token §7 documents
// (e.g. "ExecutionTimeout", "FileNotFound") rather than the verbose
// "[phase] kind: detail (caused by: ...)" internal Error() string, so
// clients can match the wire error field directly against the tokens the
// protocol promises.
func errToken(err error) string {
	if e, ok := wasmerrors.As(err); ok {
		return e.Token()
	}
	return err.Error()
}

// BinaryMetadataView is the JSON shape of a BinaryMetadata entity,
// binary_id rendered as canonical 8-4-4-4-12 hex.
type BinaryMetadataView struct {
	ID          string `json:"id"`
	SourcePath  string `json:"source_path"`
	ByteSize    int64  `json:"byte_size"`
	LoadedAt    string `json:"loaded_at"`
	ContentHash string `json:"content_hash"`
}

// ExecutionResultView is the JSON shape of an ExecutionResult.
type ExecutionResultView struct {
	BinaryID        string `json:"binary_id"`
	ReturnCode      int32  `json:"return_code"`
	Output          string `json:"output"`
	ExecutionTimeMS int64  `json:"execution_time_ms"`
	FuelConsumed    uint64 `json:"fuel_consumed"`
}

// ChainResultView is the JSON shape of a ChainResult.
type ChainResultView struct {
	Results     []ExecutionResultView `json:"results"`
	TotalTimeMS int64                 `json:"total_time_ms"`
}
