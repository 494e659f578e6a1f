package transport

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"os"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	wasmerrors "github.com/wippyai/wasm-core/errors"
	"github.com/wippyai/wasm-core/executor"
	"github.com/wippyai/wasm-core/pipeline"
	"github.com/wippyai/wasm-core/registry"
)

var validate = validator.New()

// Dispatcher is the single site every request is routed through, per the
// "sealed variant, single dispatch site" design note. It holds no
// connection state; one Dispatcher serves every connection.
type Dispatcher struct {
	reg      *registry.Registry
	exec     *executor.Executor
	pipeline *pipeline.Driver
	logger   *zap.Logger
}

// NewDispatcher builds a Dispatcher over the three components it fronts.
func NewDispatcher(reg *registry.Registry, exec *executor.Executor, pd *pipeline.Driver, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{reg: reg, exec: exec, pipeline: pd, logger: logger}
}

// Handle decodes req's payload for its Type and routes to the matching
// component, returning a Response that is always safe to marshal (never
// panics on a malformed payload).
func (d *Dispatcher) Handle(ctx context.Context, req Request) Response {
	switch req.Type {
	case TypeLoadBinary:
		return d.handleLoadBinary(ctx, req.Payload)
	case TypeExecute:
		return d.handleExecute(ctx, req.Payload)
	case TypeExecuteChain:
		return d.handleExecuteChain(ctx, req.Payload)
	case TypeListBinaries:
		return d.handleListBinaries()
	case TypeUnloadBinary:
		return d.handleUnloadBinary(ctx, req.Payload)
	default:
		return fail(wasmerrors.InvalidInput(wasmerrors.PhaseTransport, "unknown request type %q", req.Type))
	}
}

func (d *Dispatcher) handleLoadBinary(ctx context.Context, raw json.RawMessage) Response {
	var p LoadBinaryPayload
	if err := decode(raw, &p); err != nil {
		return fail(err)
	}
	id, err := d.reg.Load(ctx, p.Path)
	if err != nil {
		return fail(err)
	}
	return ok(map[string]string{"binary_id": id.String()})
}

func (d *Dispatcher) handleExecute(ctx context.Context, raw json.RawMessage) Response {
	var p ExecutePayload
	if err := decode(raw, &p); err != nil {
		return fail(err)
	}
	id, err := uuid.Parse(p.BinaryID)
	if err != nil {
		return fail(wasmerrors.InvalidInput(wasmerrors.PhaseTransport, "invalid binary_id %q", p.BinaryID))
	}
	result, err := d.exec.Execute(ctx, id, []byte(p.Input), p.Config)
	if err != nil {
		return fail(err)
	}
	return ok(viewResult(result))
}

func (d *Dispatcher) handleExecuteChain(ctx context.Context, raw json.RawMessage) Response {
	var p ExecuteChainPayload
	if err := decode(raw, &p); err != nil {
		return fail(err)
	}
	ids := make([]uuid.UUID, len(p.BinaryIDs))
	for i, s := range p.BinaryIDs {
		id, err := uuid.Parse(s)
		if err != nil {
			return fail(wasmerrors.InvalidInput(wasmerrors.PhaseTransport, "invalid binary_id %q at index %d", s, i))
		}
		ids[i] = id
	}
	chain, err := d.pipeline.Run(ctx, ids, []byte(p.Input), p.Config)
	view := ChainResultView{TotalTimeMS: chain.TotalTimeMS}
	for _, r := range chain.Results {
		view.Results = append(view.Results, viewResult(r))
	}
	if err != nil {
		return Response{Success: false, Data: view, Error: errToken(err)}
	}
	return ok(view)
}

func (d *Dispatcher) handleListBinaries() Response {
	records := d.reg.List()
	views := make([]BinaryMetadataView, 0, len(records))
	for _, m := range records {
		views = append(views, BinaryMetadataView{
			ID:          m.ID.String(),
			SourcePath:  m.SourcePath,
			ByteSize:    m.ByteSize,
			LoadedAt:    m.LoadedAt.Format(rfc3339Micro),
			ContentHash: m.ContentHash,
		})
	}
	return ok(views)
}

func (d *Dispatcher) handleUnloadBinary(ctx context.Context, raw json.RawMessage) Response {
	var p UnloadBinaryPayload
	if err := decode(raw, &p); err != nil {
		return fail(err)
	}
	id, err := uuid.Parse(p.BinaryID)
	if err != nil {
		return fail(wasmerrors.InvalidInput(wasmerrors.PhaseTransport, "invalid binary_id %q", p.BinaryID))
	}
	if err := d.reg.Unload(ctx, id); err != nil {
		return fail(err)
	}
	return ok(map[string]string{"binary_id": id.String()})
}

const rfc3339Micro = "2006-01-02T15:04:05.000000Z07:00"

func viewResult(r executor.Result) ExecutionResultView {
	return ExecutionResultView{
		BinaryID:        r.BinaryID.String(),
		ReturnCode:      r.ReturnCode,
		Output:          string(r.Output),
		ExecutionTimeMS: r.ExecutionTimeMS,
		FuelConsumed:    r.FuelConsumed,
	}
}

func decode(raw json.RawMessage, v any) error {
	if err := json.Unmarshal(raw, v); err != nil {
		return wasmerrors.InvalidInput(wasmerrors.PhaseTransport, "malformed payload: %v", err)
	}
	// Omitted config fields take their defaults before the bounds check.
	switch p := v.(type) {
	case *ExecutePayload:
		p.Config = p.Config.WithDefaults()
	case *ExecuteChainPayload:
		p.Config = p.Config.WithDefaults()
	}
	if err := validate.Struct(v); err != nil {
		return wasmerrors.InvalidInput(wasmerrors.PhaseTransport, "validation failed: %v", err)
	}
	return nil
}

// Server accepts connections on a Unix domain socket and serves
// line-delimited JSON requests against a Dispatcher until Shutdown.
type Server struct {
	SocketPath string
	Dispatcher *Dispatcher

	mu       sync.Mutex
	listener net.Listener
}

// ListenAndServe unlinks any stale socket file, listens, and serves
// connections until ctx is canceled or Shutdown is called.
func (s *Server) ListenAndServe(ctx context.Context) error {
	if err := os.Remove(s.SocketPath); err != nil && !os.IsNotExist(err) {
		return wasmerrors.Wrap(wasmerrors.PhaseTransport, wasmerrors.KindIoError, err, "remove stale socket %q", s.SocketPath)
	}

	ln, err := net.Listen("unix", s.SocketPath)
	if err != nil {
		return wasmerrors.Wrap(wasmerrors.PhaseTransport, wasmerrors.KindIoError, err, "listen on %q", s.SocketPath)
	}
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		_ = s.Shutdown()
	}()

	var wg sync.WaitGroup
	for {
		conn, err := ln.Accept()
		if err != nil {
			wg.Wait()
			if errors.Is(ctx.Err(), context.Canceled) || isClosedErr(err) {
				return nil
			}
			return wasmerrors.Wrap(wasmerrors.PhaseTransport, wasmerrors.KindIoError, err, "accept")
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.serveConn(ctx, conn)
		}()
	}
}

// Shutdown closes the listener and unlinks the socket file.
func (s *Server) Shutdown() error {
	s.mu.Lock()
	ln := s.listener
	s.mu.Unlock()
	if ln == nil {
		return nil
	}
	err := ln.Close()
	_ = os.Remove(s.SocketPath)
	return err
}

func (s *Server) serveConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	enc := json.NewEncoder(conn)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var req Request
		if err := json.Unmarshal(line, &req); err != nil {
			_ = enc.Encode(fail(wasmerrors.InvalidInput(wasmerrors.PhaseTransport, "malformed request line: %v", err)))
			continue
		}
		resp := s.Dispatcher.Handle(ctx, req)
		if err := enc.Encode(resp); err != nil {
			s.Dispatcher.logger.Sugar().Warnw("write response failed", "error", err)
			return
		}
	}
}

func isClosedErr(err error) bool {
	return err == io.EOF || errors.Is(err, net.ErrClosed)
}
