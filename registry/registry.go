// Package registry owns the cache of compiled WASM modules and their
// metadata: path-based deduplication by content hash, O(1) lookup by id,
// and crash-safe metadata persistence.
package registry

import (
	"context"
	"crypto/sha256"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tetratelabs/wazero"
	"golang.org/x/sync/singleflight"

	"github.com/wippyai/wasm-core/errors"
	"github.com/wippyai/wasm-core/tracer"
)

// Metadata is one persisted record describing a live registry entry.
type Metadata struct {
	ID         uuid.UUID `json:"id"`
	SourcePath string    `json:"source_path"`
	ByteSize   int64     `json:"byte_size"`
	LoadedAt   time.Time `json:"loaded_at"`
	ContentHash string   `json:"content_hash"`
}

// entry is the in-memory (CompiledModule, Metadata) pair behind one id.
type entry struct {
	mu       sync.RWMutex
	module   wazero.CompiledModule
	metadata Metadata
}

// Registry is the compiled-module cache. The zero value is not usable;
// construct with New.
type Registry struct {
	runtime wazero.Runtime
	tr      *tracer.Tracer

	persistPath string
	persistMu   sync.Mutex // serializes the metadata file writer

	byID   sync.Map // uuid.UUID -> *entry
	byPath sync.Map // string (canonical path) -> *entry

	// insertion-order bookkeeping for list(), protected by orderMu.
	orderMu sync.Mutex
	order   []uuid.UUID

	loadGroup singleflight.Group
}

// New constructs a Registry backed by runtime, persisting metadata to
// persistPath and recording load events in tr (nil disables tracing).
func New(runtime wazero.Runtime, persistPath string, tr *tracer.Tracer) *Registry {
	return &Registry{
		runtime:     runtime,
		tr:          tr,
		persistPath: persistPath,
	}
}

// Module is the read-only view of a compiled module handed to the
// executor for a single call; the executor never sees the registry's
// internal entry type.
type Module struct {
	ID       uuid.UUID
	Compiled wazero.CompiledModule
}

// Load canonicalizes path, compiles (or dedupes) its contents, and returns
// the binary's id. Concurrent Load calls against the same canonical path
// are coalesced so the bytes are read and compiled exactly once.
func (r *Registry) Load(ctx context.Context, path string) (uuid.UUID, error) {
	canonical, err := canonicalize(path)
	if err != nil {
		return uuid.Nil, err
	}

	idVal, err, _ := r.loadGroup.Do(canonical, func() (any, error) {
		return r.loadCanonical(ctx, canonical, uuid.Nil)
	})
	if err != nil {
		return uuid.Nil, err
	}
	return idVal.(uuid.UUID), nil
}

// loadAs is Load with a caller-chosen id for a path the registry has not
// seen yet in this process — used only by EagerRecompile to preserve the
// id a restarting server previously persisted for source_path.
func (r *Registry) loadAs(ctx context.Context, path string, wantID uuid.UUID) (uuid.UUID, error) {
	canonical, err := canonicalize(path)
	if err != nil {
		return uuid.Nil, err
	}
	idVal, err, _ := r.loadGroup.Do(canonical, func() (any, error) {
		return r.loadCanonical(ctx, canonical, wantID)
	})
	if err != nil {
		return uuid.Nil, err
	}
	return idVal.(uuid.UUID), nil
}

func canonicalize(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", errors.Wrap(errors.PhaseRegistry, errors.KindIoError, err, "resolve path %q", path)
	}
	canonical, err := filepath.EvalSymlinks(abs)
	if err != nil {
		if os.IsNotExist(err) {
			return "", errors.New(errors.PhaseRegistry, errors.KindFileNotFound).
				Detail("%s", abs).Build()
		}
		return "", errors.Wrap(errors.PhaseRegistry, errors.KindIoError, err, "resolve symlinks for %q", abs)
	}
	return canonical, nil
}

// loadCanonical compiles (or dedupes) the contents at canonical. wantID, if
// non-nil, is used as the id for a brand new entry instead of a fresh
// uuid.New() — the path EagerRecompile takes to restore a restart-stable id.
func (r *Registry) loadCanonical(ctx context.Context, canonical string, wantID uuid.UUID) (uuid.UUID, error) {
	trace := r.tr.Start(uuid.Nil)
	trace.Event(tracer.EventLoadStart, canonical, nil)

	data, err := os.ReadFile(canonical)
	if err != nil {
		trace.Fail(err.Error())
		if os.IsNotExist(err) {
			return uuid.Nil, errors.New(errors.PhaseRegistry, errors.KindFileNotFound).
				Detail("%s", canonical).Build()
		}
		return uuid.Nil, errors.Wrap(errors.PhaseRegistry, errors.KindIoError, err, "read %q", canonical)
	}

	sum := sha256.Sum256(data)
	hash := hexEncode(sum[:])

	if existingAny, ok := r.byPath.Load(canonical); ok {
		existing := existingAny.(*entry)
		existing.mu.RLock()
		same := existing.metadata.ContentHash == hash
		id := existing.metadata.ID
		existing.mu.RUnlock()
		if same {
			if trace != nil {
				trace.BinaryID = id
			}
			trace.Event(tracer.EventLoadComplete, "unchanged, reusing id", nil)
			trace.Complete()
			return id, nil
		}
		return r.recompile(ctx, existing, canonical, data, hash, trace)
	}

	compiled, err := r.runtime.CompileModule(ctx, data)
	if err != nil {
		trace.Fail(err.Error())
		return uuid.Nil, errors.Wrap(errors.PhaseRegistry, errors.KindCompilationError, err, "compile %q", canonical)
	}

	id := wantID
	if id == uuid.Nil {
		id = uuid.New()
	}
	e := &entry{
		module: compiled,
		metadata: Metadata{
			ID:          id,
			SourcePath:  canonical,
			ByteSize:    int64(len(data)),
			LoadedAt:    time.Now().UTC(),
			ContentHash: hash,
		},
	}
	r.byID.Store(id, e)
	r.byPath.Store(canonical, e)

	r.orderMu.Lock()
	r.order = append(r.order, id)
	r.orderMu.Unlock()

	r.persistAsync()

	if trace != nil {
		trace.BinaryID = id
	}
	trace.Event(tracer.EventLoadComplete, "compiled new entry", nil)
	trace.Complete()
	return id, nil
}

func (r *Registry) recompile(ctx context.Context, existing *entry, canonical string, data []byte, hash string, trace *tracer.Trace) (uuid.UUID, error) {
	compiled, err := r.runtime.CompileModule(ctx, data)
	if err != nil {
		trace.Fail(err.Error())
		return uuid.Nil, errors.Wrap(errors.PhaseRegistry, errors.KindCompilationError, err, "recompile %q", canonical)
	}

	existing.mu.Lock()
	old := existing.module
	existing.module = compiled
	existing.metadata.ByteSize = int64(len(data))
	existing.metadata.LoadedAt = time.Now().UTC()
	existing.metadata.ContentHash = hash
	id := existing.metadata.ID
	existing.mu.Unlock()
	_ = old.Close(ctx)

	r.persistAsync()

	if trace != nil {
		trace.BinaryID = id
	}
	trace.Event(tracer.EventLoadComplete, "recompiled in place", nil)
	trace.Complete()
	return id, nil
}

// Get returns the compiled module for id.
func (r *Registry) Get(id uuid.UUID) (Module, error) {
	v, ok := r.byID.Load(id)
	if !ok {
		return Module{}, errors.NotFound(errors.PhaseRegistry, "binary", id.String())
	}
	e := v.(*entry)
	e.mu.RLock()
	defer e.mu.RUnlock()
	return Module{ID: id, Compiled: e.module}, nil
}

// List returns a snapshot of every live entry's metadata, insertion order.
func (r *Registry) List() []Metadata {
	r.orderMu.Lock()
	ids := make([]uuid.UUID, len(r.order))
	copy(ids, r.order)
	r.orderMu.Unlock()

	out := make([]Metadata, 0, len(ids))
	for _, id := range ids {
		v, ok := r.byID.Load(id)
		if !ok {
			continue // unloaded since the order slice was read
		}
		e := v.(*entry)
		e.mu.RLock()
		out = append(out, e.metadata)
		e.mu.RUnlock()
	}
	return out
}

// Unload removes id from both indexes and schedules persistence.
func (r *Registry) Unload(ctx context.Context, id uuid.UUID) error {
	v, ok := r.byID.LoadAndDelete(id)
	if !ok {
		return errors.NotFound(errors.PhaseRegistry, "binary", id.String())
	}
	e := v.(*entry)
	e.mu.Lock()
	path := e.metadata.SourcePath
	module := e.module
	e.mu.Unlock()

	r.byPath.Delete(path)

	r.orderMu.Lock()
	for i, existingID := range r.order {
		if existingID == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	r.orderMu.Unlock()

	_ = module.Close(ctx)
	r.persistAsync()
	return nil
}

func hexEncode(b []byte) string {
	const hexDigits = "0123456789abcdef"
	out := make([]byte, len(b)*2)
	for i, c := range b {
		out[i*2] = hexDigits[c>>4]
		out[i*2+1] = hexDigits[c&0x0f]
	}
	return string(out)
}
