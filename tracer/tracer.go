// Package tracer records per-execution event timelines in a bounded
// in-memory ring. It has no dependency on any other package in this
// repository. Traces are produced by the executor (one per Execute call,
// host-import events included) and by the registry (load events);
// everything else only reads them.
package tracer

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
)

// EventKind classifies a TraceEvent.
type EventKind string

const (
	EventLoadStart        EventKind = "LoadStart"
	EventLoadComplete     EventKind = "LoadComplete"
	EventLoadError        EventKind = "LoadError"
	EventExecutionStart   EventKind = "ExecutionStart"
	EventExecutionComplete EventKind = "ExecutionComplete"
	EventExecutionError   EventKind = "ExecutionError"
	EventFunctionCall     EventKind = "FunctionCall"
	EventHostFunctionCall EventKind = "HostFunctionCall"
	EventMemoryOp         EventKind = "MemoryOp"
	EventFuelCheckpoint   EventKind = "FuelCheckpoint"
	EventPluginLog        EventKind = "PluginLog"
)

// Event is a single timestamped occurrence within an ExecutionTrace.
// Timestamp is monotonic microseconds since the trace started.
type Event struct {
	Timestamp int64             `json:"timestamp_us"`
	Kind      EventKind         `json:"kind"`
	BinaryID  uuid.UUID         `json:"binary_id"`
	Message   string            `json:"message,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// Trace is one execution's append-only event timeline. It is produced by a
// single Tracer.Start call and closed by Complete or Fail.
type Trace struct {
	BinaryID     uuid.UUID `json:"binary_id"`
	StartedAt    time.Time `json:"started_at"`
	Duration     time.Duration `json:"duration_ns"`
	Success      bool      `json:"success"`
	ErrorMessage string    `json:"error_message,omitempty"`
	Events       []Event   `json:"events"`

	tracer *Tracer
	start  time.Time
	mu     sync.Mutex
	closed bool
}

// Event appends a typed event to the trace. A nil receiver (the disabled
// tracer's Start return value) makes this a no-op with no allocation, so
// the executor's hot path can call it unconditionally.
func (tr *Trace) Event(kind EventKind, message string, metadata map[string]string) {
	if tr == nil {
		return
	}
	tr.mu.Lock()
	defer tr.mu.Unlock()
	if tr.closed {
		return
	}
	tr.Events = append(tr.Events, Event{
		Timestamp: time.Since(tr.start).Microseconds(),
		Kind:      kind,
		BinaryID:  tr.BinaryID,
		Message:   message,
		Metadata:  metadata,
	})
}

// Complete closes the trace as successful.
func (tr *Trace) Complete() {
	if tr == nil {
		return
	}
	tr.close(true, "")
}

// Fail closes the trace as failed, recording the terminal error message.
func (tr *Trace) Fail(message string) {
	if tr == nil {
		return
	}
	tr.close(false, message)
}

func (tr *Trace) close(success bool, errMsg string) {
	tr.mu.Lock()
	if tr.closed {
		tr.mu.Unlock()
		return
	}
	tr.closed = true
	tr.Success = success
	tr.ErrorMessage = errMsg
	tr.Duration = time.Since(tr.start)
	tr.mu.Unlock()

	if tr.tracer != nil {
		tr.tracer.commit(tr)
	}
}

// snapshot returns a shallow copy safe to read without the trace's lock,
// used when returning traces out of the ring to callers.
func (tr *Trace) snapshot() Trace {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	events := make([]Event, len(tr.Events))
	copy(events, tr.Events)
	cp := *tr
	cp.Events = events
	cp.tracer = nil
	return cp
}

// Tracer retains the most recent N completed traces in a FIFO ring.
// The zero value is not usable; construct with New. A nil *Tracer behaves
// as a fully disabled tracer: Start returns nil, and every Trace method on
// the resulting nil receiver is a no-op, so disabling tracing costs nothing
// on the execution hot path.
type Tracer struct {
	capacity int

	mu      sync.Mutex
	ring    []*Trace
	byID    map[uuid.UUID]*Trace
	nextIdx int
	filled  bool
}

// New creates a Tracer retaining up to capacity traces. capacity <= 0
// disables the ring; Start still returns non-nil traces but they are
// dropped on Complete/Fail rather than retained, matching "get_all returns
// nothing" without special-casing the hot path.
func New(capacity int) *Tracer {
	if capacity <= 0 {
		capacity = 0
	}
	return &Tracer{
		capacity: capacity,
		ring:     make([]*Trace, capacity),
		byID:     make(map[uuid.UUID]*Trace, capacity),
	}
}

// Disabled is a Tracer value whose Start always returns nil, used when the
// caller opts out of tracing entirely.
var Disabled *Tracer

// Start begins a new trace bound to binaryID. Calling Start on a nil
// Tracer (or the package-level Disabled) returns nil; every subsequent
// Event/Complete/Fail call against that nil trace is then a no-op.
func (t *Tracer) Start(binaryID uuid.UUID) *Trace {
	if t == nil {
		return nil
	}
	now := time.Now()
	return &Trace{
		BinaryID:  binaryID,
		StartedAt: now,
		start:     now,
		tracer:    t,
	}
}

func (t *Tracer) commit(tr *Trace) {
	if t.capacity == 0 {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	if old := t.ring[t.nextIdx]; old != nil {
		delete(t.byID, old.BinaryID)
	}
	t.ring[t.nextIdx] = tr
	t.byID[tr.BinaryID] = tr
	t.nextIdx = (t.nextIdx + 1) % t.capacity
	if t.nextIdx == 0 {
		t.filled = true
	}
}

// GetAll returns a snapshot of all retained traces, oldest first.
func (t *Tracer) GetAll() []Trace {
	if t == nil {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	var ordered []*Trace
	if t.filled {
		ordered = append(ordered, t.ring[t.nextIdx:]...)
		ordered = append(ordered, t.ring[:t.nextIdx]...)
	} else {
		ordered = t.ring[:t.nextIdx]
	}

	out := make([]Trace, 0, len(ordered))
	for _, tr := range ordered {
		if tr != nil {
			out = append(out, tr.snapshot())
		}
	}
	return out
}

// Get returns the most recently completed trace for binaryID, if retained.
func (t *Tracer) Get(binaryID uuid.UUID) (Trace, bool) {
	if t == nil {
		return Trace{}, false
	}
	t.mu.Lock()
	tr, ok := t.byID[binaryID]
	t.mu.Unlock()
	if !ok {
		return Trace{}, false
	}
	return tr.snapshot(), true
}

// Clear evicts every retained trace.
func (t *Tracer) Clear() {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	for i := range t.ring {
		t.ring[i] = nil
	}
	t.byID = make(map[uuid.UUID]*Trace, t.capacity)
	t.nextIdx = 0
	t.filled = false
}

// ExportAll serializes every retained trace to a JSON array. Serialization
// failures surface only here, never into the Executor's path.
func (t *Tracer) ExportAll() (string, error) {
	all := t.GetAll()
	b, err := json.Marshal(all)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
