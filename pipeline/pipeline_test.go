package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"

	"github.com/wippyai/wasm-core/config"
	"github.com/wippyai/wasm-core/engine"
	"github.com/wippyai/wasm-core/errors"
	"github.com/wippyai/wasm-core/executor"
	"github.com/wippyai/wasm-core/registry"
	"github.com/wippyai/wasm-core/tracer"
	"github.com/wippyai/wasm-core/wat"
)

func loadFixture(t *testing.T, ctx context.Context, reg *registry.Registry, dir, name string) uuid.UUID {
	t.Helper()
	src, err := os.ReadFile(filepath.Join("..", "testdata", "plugins", name+".wat"))
	if err != nil {
		t.Fatalf("read fixture %s: %v", name, err)
	}
	bin, err := wat.Compile(string(src))
	if err != nil {
		t.Fatalf("wat.Compile(%s): %v", name, err)
	}
	path := filepath.Join(dir, name+".wasm")
	if err := os.WriteFile(path, bin, 0o644); err != nil {
		t.Fatal(err)
	}
	id, err := reg.Load(ctx, path)
	if err != nil {
		t.Fatalf("Load(%s): %v", name, err)
	}
	return id
}

func newTestDriver(t *testing.T) (*Driver, *registry.Registry, *tracer.Tracer, func()) {
	t.Helper()
	ctx := context.Background()
	eng, err := engine.New(ctx)
	if err != nil {
		t.Fatalf("engine.New: %v", err)
	}
	reg := registry.New(eng.Runtime, "", nil)
	tr := tracer.New(10)
	x := executor.New(eng, reg, tr)
	return New(x), reg, tr, func() { eng.Close(ctx) }
}

func TestChainUppercaseReverser(t *testing.T) {
	d, reg, _, cleanup := newTestDriver(t)
	defer cleanup()
	ctx := context.Background()
	dir := t.TempDir()
	upper := loadFixture(t, ctx, reg, dir, "uppercase")
	rev := loadFixture(t, ctx, reg, dir, "reverser")

	result, err := d.Run(ctx, []uuid.UUID{upper, rev}, []byte("hello"), config.ExecutionConfig{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(result.Results) != 2 {
		t.Fatalf("expected 2 stage results, got %d", len(result.Results))
	}
	if string(result.Results[0].Output) != "HELLO" {
		t.Errorf("stage 0 output = %q, want HELLO", result.Results[0].Output)
	}
	if string(result.Results[1].Output) != "OLLEH" {
		t.Errorf("stage 1 output = %q, want OLLEH", result.Results[1].Output)
	}
}

func TestChainRot13Uppercase(t *testing.T) {
	d, reg, _, cleanup := newTestDriver(t)
	defer cleanup()
	ctx := context.Background()
	dir := t.TempDir()
	rot := loadFixture(t, ctx, reg, dir, "rot13")
	upper := loadFixture(t, ctx, reg, dir, "uppercase")

	result, err := d.Run(ctx, []uuid.UUID{rot, upper}, []byte("secret"), config.ExecutionConfig{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if string(result.Results[0].Output) != "frperg" {
		t.Errorf("stage 0 output = %q, want frperg", result.Results[0].Output)
	}
	if string(result.Results[1].Output) != "FRPERG" {
		t.Errorf("stage 1 output = %q, want FRPERG", result.Results[1].Output)
	}
}

func TestChainTooLong(t *testing.T) {
	d, _, _, cleanup := newTestDriver(t)
	defer cleanup()

	ids := make([]uuid.UUID, 11)
	for i := range ids {
		ids[i] = uuid.New()
	}
	_, err := d.Run(context.Background(), ids, []byte("x"), config.ExecutionConfig{})
	if !errors.Is(err, errors.KindChainTooLong) {
		t.Errorf("expected ChainTooLong, got %v", err)
	}
}

func TestChainEmpty(t *testing.T) {
	d, _, _, cleanup := newTestDriver(t)
	defer cleanup()

	_, err := d.Run(context.Background(), nil, []byte("x"), config.ExecutionConfig{})
	if !errors.Is(err, errors.KindChainTooLong) {
		t.Errorf("expected ChainTooLong for an empty chain, got %v", err)
	}
}

// TestChainStopsOnFailingStage covers invariant 4: when stage k fails the
// chain stops before running stage k+1, verified via the Tracer never
// recording the downstream stage's entry log.
func TestChainStopsOnFailingStage(t *testing.T) {
	d, reg, tr, cleanup := newTestDriver(t)
	defer cleanup()
	ctx := context.Background()
	dir := t.TempDir()
	fail := loadFixture(t, ctx, reg, dir, "always_fail")
	downstream := loadFixture(t, ctx, reg, dir, "logging_echo")

	result, err := d.Run(ctx, []uuid.UUID{fail, downstream}, []byte("x"), config.ExecutionConfig{})
	if err == nil {
		t.Fatal("expected the chain to report the failing stage")
	}
	if len(result.Results) != 1 {
		t.Fatalf("expected exactly 1 completed result (the failing stage), got %d", len(result.Results))
	}
	if result.Results[0].ReturnCode == 0 {
		t.Error("expected the failing stage's non-zero return code to be recorded")
	}

	for _, tc := range tr.GetAll() {
		for _, ev := range tc.Events {
			if ev.Kind == "PluginLog" {
				t.Errorf("downstream stage must never have run, but observed a PluginLog event: %+v", ev)
			}
		}
	}
}

func TestChainPartialCompletionLengthDetectsFailure(t *testing.T) {
	d, reg, _, cleanup := newTestDriver(t)
	defer cleanup()
	ctx := context.Background()
	dir := t.TempDir()
	upper := loadFixture(t, ctx, reg, dir, "uppercase")
	fail := loadFixture(t, ctx, reg, dir, "always_fail")

	requested := []uuid.UUID{upper, fail, upper}
	result, err := d.Run(ctx, requested, []byte("hi"), config.ExecutionConfig{})
	if err == nil {
		t.Fatal("expected an error")
	}
	if len(result.Results) == len(requested) {
		t.Error("a partial chain must not report as many results as requested")
	}
}
