// Package pathint integrates an objective evaluator's per-step magnitude
// along an input sequence from a given savestate, modeled directly on the
// teacher's game/sequential.Engine.Playouts inner loop (load once, step
// repeatedly, accumulate), but as a pure function over an already-owned
// Emulator instance rather than a worker-pool entry point — that concern
// belongs to package eval, which owns the per-worker clone.
package pathint

import (
	"github.com/sw965/playfun/emu"
	"github.com/sw965/playfun/frame"
	"github.com/sw965/playfun/objective"
)

// ScoreIntegral loads start into e, then steps through inputs, summing
// evaluate_magnitude between consecutive memory snapshots. It returns the
// running sum and the final memory snapshot. e is mutated (stepped forward)
// as a side effect — callers that need start preserved must pass an
// emulator instance that is theirs alone to mutate.
func ScoreIntegral(e emu.Emulator, evaluator *objective.Evaluator, start emu.Savestate, inputs frame.Sequence) (sum float64, final emu.Memory, err error) {
	if err := e.Load(start); err != nil {
		return 0, nil, err
	}
	prev := e.Memory()
	for _, u := range inputs {
		next, err := e.Step(u)
		if err != nil {
			return 0, nil, err
		}
		delta, err := evaluator.EvaluateMagnitude(prev, next)
		if err != nil {
			return 0, nil, err
		}
		sum += delta
		prev = next
	}
	return sum, prev, nil
}
