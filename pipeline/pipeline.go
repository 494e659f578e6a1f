// Package pipeline sequences Executor invocations into a linear chain,
// feeding each stage's output bytes into the next stage's input.
package pipeline

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/wippyai/wasm-core/config"
	"github.com/wippyai/wasm-core/errors"
	"github.com/wippyai/wasm-core/executor"
)

// maxChainLength is the §4.3 bound: 1 to 10 stages.
const maxChainLength = 10

// Result is one completed chain's outcome: the ordered per-stage results
// observed before the chain either finished or the first failing stage
// stopped it.
type Result struct {
	Results     []executor.Result
	TotalTimeMS int64
}

// Driver sequences Executor calls into chains.
type Driver struct {
	exec *executor.Executor
}

// New constructs a Driver over exec.
func New(exec *executor.Executor) *Driver {
	return &Driver{exec: exec}
}

// Run executes ids in order against input, each stage using cfg, feeding
// stage N's output as stage N+1's input. If any stage fails or returns a
// non-zero return_code, the chain stops immediately: Result.Results holds
// only the completed stages and the stage's error is returned alongside
// it so the caller can attribute the failure to a specific index.
func (d *Driver) Run(ctx context.Context, ids []uuid.UUID, input []byte, cfg config.ExecutionConfig) (Result, error) {
	if len(ids) < 1 || len(ids) > maxChainLength {
		return Result{}, errors.ChainTooLong(len(ids), maxChainLength)
	}

	start := time.Now()
	results := make([]executor.Result, 0, len(ids))
	stage := input

	for i, id := range ids {
		r, err := d.exec.Execute(ctx, id, stage, cfg)
		if err != nil {
			return Result{Results: results, TotalTimeMS: time.Since(start).Milliseconds()}, stageError(i, err)
		}
		results = append(results, r)
		if r.ReturnCode != 0 {
			return Result{Results: results, TotalTimeMS: time.Since(start).Milliseconds()}, stageFailure(i, r.ReturnCode)
		}
		stage = r.Output
	}

	return Result{Results: results, TotalTimeMS: time.Since(start).Milliseconds()}, nil
}

// stageError reports a stage's own propagated failure. It always reports
// KindRuntimeError at the chain level: cause is preserved as Cause for
// logging and tracing, but errors.Is/errors.As stop at the first *Error
// in a chain and never descend into Cause (see errors_test.go), so a
// caller inspecting the returned error via those helpers observes
// KindRuntimeError, not cause's own Kind. Recovering the precise
// underlying Kind (e.g. OutOfFuel) requires a direct type assertion on
// the returned error's Cause field.
func stageError(index int, cause error) error {
	return errors.Wrap(errors.PhaseChain, errors.KindRuntimeError, cause, "stage %d failed", index)
}

func stageFailure(index int, returnCode int32) error {
	return errors.New(errors.PhaseChain, errors.KindRuntimeError).
		Detail("stage %d returned non-zero code %d", index, returnCode).Build()
}
