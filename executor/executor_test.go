package executor

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/wippyai/wasm-core/config"
	"github.com/wippyai/wasm-core/engine"
	"github.com/wippyai/wasm-core/errors"
	"github.com/wippyai/wasm-core/registry"
	"github.com/wippyai/wasm-core/tracer"
	"github.com/wippyai/wasm-core/wat"
)

// pluginsDir locates testdata/plugins relative to this package.
func pluginsDir(t *testing.T) string {
	t.Helper()
	dir, err := filepath.Abs("../testdata/plugins")
	if err != nil {
		t.Fatal(err)
	}
	return dir
}

func loadPlugin(t *testing.T, ctx context.Context, reg *registry.Registry, workDir, name string) uuid.UUID {
	t.Helper()
	src, err := os.ReadFile(filepath.Join(pluginsDir(t), name+".wat"))
	if err != nil {
		t.Fatalf("read fixture %s: %v", name, err)
	}
	bin, err := wat.Compile(string(src))
	if err != nil {
		t.Fatalf("wat.Compile(%s): %v", name, err)
	}
	path := filepath.Join(workDir, name+".wasm")
	if err := os.WriteFile(path, bin, 0o644); err != nil {
		t.Fatal(err)
	}
	id, err := reg.Load(ctx, path)
	if err != nil {
		t.Fatalf("Load(%s): %v", name, err)
	}
	return id
}

func newTestSetup(t *testing.T) (*Executor, *registry.Registry, func()) {
	t.Helper()
	ctx := context.Background()
	eng, err := engine.New(ctx)
	if err != nil {
		t.Fatalf("engine.New: %v", err)
	}
	reg := registry.New(eng.Runtime, "", nil)
	tr := tracer.New(10)
	x := New(eng, reg, tr)
	return x, reg, func() { eng.Close(ctx) }
}

func TestExecuteUppercase(t *testing.T) {
	x, reg, cleanup := newTestSetup(t)
	defer cleanup()
	ctx := context.Background()
	dir := t.TempDir()
	id := loadPlugin(t, ctx, reg, dir, "uppercase")

	result, err := x.Execute(ctx, id, []byte("hello world"), config.ExecutionConfig{})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if result.ReturnCode != 0 {
		t.Errorf("return_code = %d, want 0", result.ReturnCode)
	}
	if string(result.Output) != "HELLO WORLD" {
		t.Errorf("output = %q, want %q", result.Output, "HELLO WORLD")
	}
	if result.FuelConsumed == 0 {
		t.Error("expected non-zero fuel consumption for a call that made function crossings")
	}
}

func TestExecuteReverserEmptyInput(t *testing.T) {
	x, reg, cleanup := newTestSetup(t)
	defer cleanup()
	ctx := context.Background()
	dir := t.TempDir()
	id := loadPlugin(t, ctx, reg, dir, "reverser")

	result, err := x.Execute(ctx, id, []byte(""), config.ExecutionConfig{})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if result.ReturnCode != 0 || string(result.Output) != "" {
		t.Errorf("got return_code=%d output=%q, want 0/\"\"", result.ReturnCode, result.Output)
	}
}

func TestExecuteRot13(t *testing.T) {
	x, reg, cleanup := newTestSetup(t)
	defer cleanup()
	ctx := context.Background()
	dir := t.TempDir()
	id := loadPlugin(t, ctx, reg, dir, "rot13")

	result, err := x.Execute(ctx, id, []byte("secret"), config.ExecutionConfig{})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if string(result.Output) != "frperg" {
		t.Errorf("output = %q, want %q", result.Output, "frperg")
	}
}

func TestExecuteBinaryNotFound(t *testing.T) {
	x, _, cleanup := newTestSetup(t)
	defer cleanup()

	_, err := x.Execute(context.Background(), uuid.New(), []byte("x"), config.ExecutionConfig{})
	if !errors.Is(err, errors.KindBinaryNotFound) {
		t.Errorf("expected BinaryNotFound, got %v", err)
	}
}

func TestExecuteTimeout(t *testing.T) {
	x, reg, cleanup := newTestSetup(t)
	defer cleanup()
	ctx := context.Background()
	dir := t.TempDir()
	id := loadPlugin(t, ctx, reg, dir, "infinite_loop")

	start := time.Now()
	_, err := x.Execute(ctx, id, []byte("x"), config.ExecutionConfig{TimeoutMS: 100, MemoryLimitMB: 16})
	elapsed := time.Since(start)

	if err == nil {
		t.Fatal("expected an error for an infinite-loop guest")
	}
	if !errors.Is(err, errors.KindExecutionTimeout) && !errors.Is(err, errors.KindOutOfFuel) {
		t.Errorf("expected ExecutionTimeout or OutOfFuel, got %v", err)
	}
	if elapsed > 2*time.Second {
		t.Errorf("watchdog took too long to fire: %v", elapsed)
	}
}

func TestExecuteAfterTimeoutServerRemainsResponsive(t *testing.T) {
	x, reg, cleanup := newTestSetup(t)
	defer cleanup()
	ctx := context.Background()
	dir := t.TempDir()
	loopID := loadPlugin(t, ctx, reg, dir, "infinite_loop")
	upperID := loadPlugin(t, ctx, reg, dir, "uppercase")

	_, _ = x.Execute(ctx, loopID, []byte("x"), config.ExecutionConfig{TimeoutMS: 100, MemoryLimitMB: 16})

	start := time.Now()
	if len(reg.List()) != 2 {
		t.Fatalf("expected 2 registry entries, got %d", len(reg.List()))
	}
	if time.Since(start) > 50*time.Millisecond {
		t.Error("registry.List blocked longer than expected after a timed-out execution")
	}

	result, err := x.Execute(ctx, upperID, []byte("ok"), config.ExecutionConfig{})
	if err != nil || string(result.Output) != "OK" {
		t.Errorf("subsequent execution failed after prior timeout: result=%+v err=%v", result, err)
	}
}

func TestExecuteInvalidConfigRejected(t *testing.T) {
	x, reg, cleanup := newTestSetup(t)
	defer cleanup()
	ctx := context.Background()
	dir := t.TempDir()
	id := loadPlugin(t, ctx, reg, dir, "uppercase")

	_, err := x.Execute(ctx, id, []byte("x"), config.ExecutionConfig{TimeoutMS: 999999, MemoryLimitMB: 16})
	if !errors.Is(err, errors.KindInvalidInput) {
		t.Errorf("expected InvalidInput for an out-of-range timeout, got %v", err)
	}
}

func TestConcurrentExecutionsDoNotShareMemory(t *testing.T) {
	x, reg, cleanup := newTestSetup(t)
	defer cleanup()
	ctx := context.Background()
	dir := t.TempDir()
	id := loadPlugin(t, ctx, reg, dir, "echo")

	const n = 8
	markers := make([]string, n)
	for i := range markers {
		markers[i] = strings.Repeat(string(rune('a'+i)), 4)
	}

	results := make([]string, n)
	errs := make([]error, n)
	done := make(chan int, n)
	for i := 0; i < n; i++ {
		go func(i int) {
			r, err := x.Execute(ctx, id, []byte(markers[i]), config.ExecutionConfig{})
			if err == nil {
				results[i] = string(r.Output)
			}
			errs[i] = err
			done <- i
		}(i)
	}
	for i := 0; i < n; i++ {
		<-done
	}
	for i := 0; i < n; i++ {
		if errs[i] != nil {
			t.Errorf("execution %d failed: %v", i, errs[i])
			continue
		}
		if results[i] != markers[i] {
			t.Errorf("execution %d observed cross-talk: got %q, want %q", i, results[i], markers[i])
		}
	}
}

// TestMaxConcurrentGatesExecutions covers §5's concurrency cap: with the
// cap set to 1, a second Execute call must block until the first one's
// slot frees, rather than running alongside it.
func TestMaxConcurrentGatesExecutions(t *testing.T) {
	ctx := context.Background()
	eng, err := engine.New(ctx)
	if err != nil {
		t.Fatalf("engine.New: %v", err)
	}
	defer eng.Close(ctx)
	reg := registry.New(eng.Runtime, "", nil)
	x := New(eng, reg, tracer.New(10), WithMaxConcurrent(1))

	dir := t.TempDir()
	loopID := loadPlugin(t, ctx, reg, dir, "infinite_loop")
	echoID := loadPlugin(t, ctx, reg, dir, "echo")

	start := time.Now()
	blockerDone := make(chan struct{})
	go func() {
		defer close(blockerDone)
		_, _ = x.Execute(ctx, loopID, []byte("x"), config.ExecutionConfig{TimeoutMS: 150, MemoryLimitMB: 16})
	}()
	time.Sleep(20 * time.Millisecond) // let the blocker acquire the single slot first

	result, err := x.Execute(ctx, echoID, []byte("hi"), config.ExecutionConfig{})
	elapsed := time.Since(start)
	<-blockerDone

	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if string(result.Output) != "hi" {
		t.Errorf("output = %q, want hi", result.Output)
	}
	if elapsed < 100*time.Millisecond {
		t.Errorf("second execution returned after only %v, expected it to wait out the blocker's ~150ms timeout", elapsed)
	}
}

func TestExecuteImportMissingRejectedPreflight(t *testing.T) {
	x, reg, cleanup := newTestSetup(t)
	defer cleanup()
	ctx := context.Background()

	src := `(module
		(import "unknown_host" "does_not_exist" (func (param i32)))
		(memory (export "memory") 1)
		(func (export "process") (param i32 i32 i32 i32) (result i32) (i32.const 0)))`
	bin, err := wat.Compile(src)
	if err != nil {
		t.Fatalf("wat.Compile: %v", err)
	}
	path := filepath.Join(t.TempDir(), "bad_import.wasm")
	if err := os.WriteFile(path, bin, 0o644); err != nil {
		t.Fatal(err)
	}
	id, err := reg.Load(ctx, path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	_, err = x.Execute(ctx, id, []byte("x"), config.ExecutionConfig{})
	if !errors.Is(err, errors.KindImportMissing) {
		t.Errorf("expected ImportMissing, got %v", err)
	}
}

func TestExecuteMissingProcessExport(t *testing.T) {
	x, reg, cleanup := newTestSetup(t)
	defer cleanup()
	ctx := context.Background()

	src := `(module (memory (export "memory") 1) (func (export "not_process") (result i32) (i32.const 0)))`
	bin, err := wat.Compile(src)
	if err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(t.TempDir(), "no_process.wasm")
	if err := os.WriteFile(path, bin, 0o644); err != nil {
		t.Fatal(err)
	}
	id, err := reg.Load(ctx, path)
	if err != nil {
		t.Fatal(err)
	}

	_, err = x.Execute(ctx, id, []byte("x"), config.ExecutionConfig{})
	if !errors.Is(err, errors.KindMissingExport) {
		t.Errorf("expected MissingExport, got %v", err)
	}
}
