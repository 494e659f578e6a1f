package registry

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"

	"github.com/wippyai/wasm-core/engine"
	"github.com/wippyai/wasm-core/errors"
)

// persistAsync snapshots the current metadata list and writes it in the
// background. Persistence failures are logged but never returned to the
// caller whose Load/Unload triggered them: the in-memory registry is the
// source of truth for a live process, the file only helps rediscovery
// after a restart.
func (r *Registry) persistAsync() {
	snapshot := r.List()
	go func() {
		if err := r.persist(snapshot); err != nil {
			engine.Logger().Sugar().Warnw("metadata persistence failed", "error", err)
		}
	}()
}

// persist writes snapshot to r.persistPath via write-temp-then-rename,
// serialized by an in-process mutex plus a cross-process advisory file
// lock so two wasmcored instances pointed at the same metadata path never
// interleave writes.
func (r *Registry) persist(snapshot []Metadata) error {
	if r.persistPath == "" {
		return nil
	}

	r.persistMu.Lock()
	defer r.persistMu.Unlock()

	lockPath := r.persistPath + ".lock"
	fl := flock.New(lockPath)
	if err := fl.Lock(); err != nil {
		return errors.Wrap(errors.PhaseInternal, errors.KindPersistenceError, err, "acquire metadata lock")
	}
	defer fl.Unlock()

	data, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return errors.Wrap(errors.PhaseInternal, errors.KindPersistenceError, err, "marshal metadata")
	}

	dir := filepath.Dir(r.persistPath)
	tmp, err := os.CreateTemp(dir, ".metadata-*.json.tmp")
	if err != nil {
		return errors.Wrap(errors.PhaseInternal, errors.KindPersistenceError, err, "create temp metadata file")
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return errors.Wrap(errors.PhaseInternal, errors.KindPersistenceError, err, "write temp metadata file")
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return errors.Wrap(errors.PhaseInternal, errors.KindPersistenceError, err, "sync temp metadata file")
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrap(errors.PhaseInternal, errors.KindPersistenceError, err, "close temp metadata file")
	}

	if err := os.Rename(tmpPath, r.persistPath); err != nil {
		return errors.Wrap(errors.PhaseInternal, errors.KindPersistenceError, err, "rename metadata file into place")
	}
	return nil
}

// LoadMetadataFile reads a previously persisted metadata list, returning an
// empty slice (not an error) if the file does not exist yet.
func LoadMetadataFile(path string) ([]Metadata, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.Wrap(errors.PhaseInternal, errors.KindPersistenceError, err, "read metadata file %q", path)
	}
	var records []Metadata
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, errors.Wrap(errors.PhaseInternal, errors.KindPersistenceError, err, "parse metadata file %q", path)
	}
	return records, nil
}

// EagerRecompile re-compiles every metadata record's source_path at
// startup, preserving its id, the default behavior the ORIGIN section of
// the specification documents. Records whose file is gone or fails to
// compile are skipped, logged, and left out of the live registry — a
// restart-time recompilation failure never aborts startup.
func (r *Registry) EagerRecompile(ctx context.Context, records []Metadata) {
	for _, rec := range records {
		if _, err := r.loadAs(ctx, rec.SourcePath, rec.ID); err != nil {
			engine.Logger().Sugar().Warnw("eager recompile skipped",
				"source_path", rec.SourcePath, "error", err)
		}
	}
}
