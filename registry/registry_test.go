package registry

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/tetratelabs/wazero"

	"github.com/wippyai/wasm-core/errors"
	"github.com/wippyai/wasm-core/wat"
)

const minimalModuleWAT = `(module
	(memory (export "memory") 1)
	(func (export "process") (param i32 i32 i32 i32) (result i32)
		(i32.const 0)))`

func writeWASMFixture(t *testing.T, dir, name, watSrc string) string {
	t.Helper()
	bin, err := wat.Compile(watSrc)
	if err != nil {
		t.Fatalf("wat.Compile: %v", err)
	}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, bin, 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	return path
}

func newTestRegistry(t *testing.T) (*Registry, func()) {
	t.Helper()
	ctx := context.Background()
	rt := wazero.NewRuntime(ctx)
	r := New(rt, "", nil)
	return r, func() { rt.Close(ctx) }
}

func TestLoadAssignsAndReusesID(t *testing.T) {
	dir := t.TempDir()
	path := writeWASMFixture(t, dir, "a.wasm", minimalModuleWAT)

	r, cleanup := newTestRegistry(t)
	defer cleanup()

	id1, err := r.Load(context.Background(), path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	id2, err := r.Load(context.Background(), path)
	if err != nil {
		t.Fatalf("Load (second): %v", err)
	}
	if id1 != id2 {
		t.Errorf("expected stable id across identical reload, got %v and %v", id1, id2)
	}
}

func TestLoadDistinctPathsDistinctIDs(t *testing.T) {
	dir := t.TempDir()
	pathA := writeWASMFixture(t, dir, "a.wasm", minimalModuleWAT)
	pathB := writeWASMFixture(t, dir, "b.wasm", minimalModuleWAT+"\n")

	r, cleanup := newTestRegistry(t)
	defer cleanup()
	ctx := context.Background()

	idA, err := r.Load(ctx, pathA)
	if err != nil {
		t.Fatalf("Load a: %v", err)
	}
	idB, err := r.Load(ctx, pathB)
	if err != nil {
		t.Fatalf("Load b: %v", err)
	}
	if idA == idB {
		t.Error("distinct paths must get distinct ids")
	}
	if len(r.List()) != 2 {
		t.Errorf("expected 2 entries, got %d", len(r.List()))
	}
}

func TestLoadContentChangeKeepsID(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.wasm")
	bin1, _ := wat.Compile(minimalModuleWAT)
	os.WriteFile(path, bin1, 0o644)

	r, cleanup := newTestRegistry(t)
	defer cleanup()
	ctx := context.Background()

	id1, err := r.Load(ctx, path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	bin2, _ := wat.Compile(`(module
	(memory (export "memory") 1)
	(func (export "process") (param i32 i32 i32 i32) (result i32)
		(i32.const 1)))`)
	os.WriteFile(path, bin2, 0o644)

	id2, err := r.Load(ctx, path)
	if err != nil {
		t.Fatalf("Load after content change: %v", err)
	}
	if id1 != id2 {
		t.Errorf("content change should keep id: got %v then %v", id1, id2)
	}

	meta := r.List()
	if len(meta) != 1 {
		t.Fatalf("expected 1 entry after in-place update, got %d", len(meta))
	}
}

func TestGetMissing(t *testing.T) {
	r, cleanup := newTestRegistry(t)
	defer cleanup()

	_, err := r.Get(uuid.Nil)
	if !errors.Is(err, errors.KindBinaryNotFound) {
		t.Errorf("expected BinaryNotFound, got %v", err)
	}
}

func TestLoadMissingFile(t *testing.T) {
	r, cleanup := newTestRegistry(t)
	defer cleanup()

	_, err := r.Load(context.Background(), filepath.Join(t.TempDir(), "missing.wasm"))
	if !errors.Is(err, errors.KindFileNotFound) {
		t.Errorf("expected FileNotFound, got %v", err)
	}
	if len(r.List()) != 0 {
		t.Error("a failed load must not mutate the registry")
	}
}

func TestUnload(t *testing.T) {
	dir := t.TempDir()
	path := writeWASMFixture(t, dir, "a.wasm", minimalModuleWAT)

	r, cleanup := newTestRegistry(t)
	defer cleanup()
	ctx := context.Background()

	id, err := r.Load(ctx, path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := r.Unload(ctx, id); err != nil {
		t.Fatalf("Unload: %v", err)
	}
	if _, err := r.Get(id); !errors.Is(err, errors.KindBinaryNotFound) {
		t.Error("expected Get to fail after Unload")
	}
	if err := r.Unload(ctx, id); !errors.Is(err, errors.KindBinaryNotFound) {
		t.Error("double unload should fail with BinaryNotFound")
	}
}

func TestPersistenceRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := writeWASMFixture(t, dir, "a.wasm", minimalModuleWAT)
	metaPath := filepath.Join(dir, "metadata.json")

	ctx := context.Background()
	rt := wazero.NewRuntime(ctx)
	defer rt.Close(ctx)

	r := New(rt, metaPath, nil)
	id, err := r.Load(ctx, path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := r.persist(r.List()); err != nil {
		t.Fatalf("persist: %v", err)
	}

	records, err := LoadMetadataFile(metaPath)
	if err != nil {
		t.Fatalf("LoadMetadataFile: %v", err)
	}
	if len(records) != 1 || records[0].ID != id {
		t.Fatalf("unexpected persisted records: %+v", records)
	}
}

func TestConcurrentLoadsOfNDistinctPathsListsN(t *testing.T) {
	dir := t.TempDir()
	const n = 8
	paths := make([]string, n)
	for i := 0; i < n; i++ {
		paths[i] = writeWASMFixture(t, dir, filename(i), minimalModuleWAT+padding(i))
	}

	r, cleanup := newTestRegistry(t)
	defer cleanup()

	done := make(chan struct{})
	for i := 0; i < n; i++ {
		go func(p string) {
			defer func() { done <- struct{}{} }()
			if _, err := r.Load(context.Background(), p); err != nil {
				t.Errorf("Load(%s): %v", p, err)
			}
		}(paths[i])
	}
	for i := 0; i < n; i++ {
		<-done
	}

	if got := len(r.List()); got != n {
		t.Errorf("expected %d entries, got %d", n, got)
	}
}

func filename(i int) string {
	return string(rune('a'+i)) + ".wasm"
}

func padding(i int) string {
	out := ""
	for j := 0; j < i; j++ {
		out += "\n"
	}
	return out
}
