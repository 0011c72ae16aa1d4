// Package eval scores every candidate next against the futures population,
// locally via a worker pool and optionally via remote helpers with
// transparent fallback.
package eval

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/floats"

	"github.com/sw965/omw/parallel"

	"github.com/sw965/playfun/emu"
	"github.com/sw965/playfun/frame"
	"github.com/sw965/playfun/helper"
	"github.com/sw965/playfun/nexts"
	"github.com/sw965/playfun/objective"
	"github.com/sw965/playfun/pathint"
)

// Result is one candidate next's fully scored outcome.
//
// PostState is populated only when the candidate was scored locally (it is
// an internal byproduct of scoreOne, not part of the wire contract in
// package helper); callers must not rely on it being set for a next that
// was evaluated by a remote helper. The committer re-derives the actual
// post-commit state by stepping the master emulator itself.
type Result struct {
	Next                   nexts.Next
	Immediate              float64
	PostState              emu.Savestate
	FutureTotals           []float64
	FutureTerminalMemories []emu.Memory
	NextScore              float64
}

// Config bundles the tunables governing evaluation.
type Config struct {
	Workers       int
	HelperTimeout time.Duration
}

// scoreOne scores a single candidate next against every future:
// immediate(N) is the direct evaluate_magnitude across N's own commit,
// while each future's contribution is a path integral plus a terminal
// delta_magnitude on top of it.
func scoreOne(e emu.Emulator, evaluator *objective.Evaluator, currentState emu.Savestate, next nexts.Next, futures []frame.Sequence) (Result, error) {
	if err := e.Load(currentState); err != nil {
		return Result{}, err
	}
	preMem := e.Memory()
	postMem := preMem
	for _, u := range next.Inputs {
		m, err := e.Step(u)
		if err != nil {
			return Result{}, err
		}
		postMem = m
	}

	immediate, err := evaluator.EvaluateMagnitude(preMem, postMem)
	if err != nil {
		return Result{}, err
	}
	postState := e.Save()

	futureTotals := make([]float64, len(futures))
	terminalMemories := make([]emu.Memory, len(futures))
	for i, inputs := range futures {
		integralF, termMemF, err := pathint.ScoreIntegral(e, evaluator, postState, inputs)
		if err != nil {
			return Result{}, err
		}
		posF, negF, err := evaluator.DeltaMagnitude(postMem, termMemF)
		if err != nil {
			return Result{}, err
		}
		futureTotals[i] = integralF + posF + negF
		terminalMemories[i] = termMemF
	}

	return Result{
		Next:                   next,
		Immediate:              immediate,
		PostState:              postState,
		FutureTotals:           futureTotals,
		FutureTerminalMemories: terminalMemories,
		NextScore:              immediate + floats.Sum(futureTotals),
	}, nil
}

// evaluateLocalInto scores candidates[*] with a worker pool of cfg.Workers
// emulator clones, writing result i into results[offset+i]. This is the
// teacher's exact parallel.For(n, p, func(workerId, idx int) error) shape
// from game/sequential.Engine.Playouts, generalized to this domain's
// per-worker Emulator clone instead of a per-worker *rand.Rand.
func evaluateLocalInto(cfg Config, cloner emu.Cloner, evaluator *objective.Evaluator, currentState emu.Savestate, candidates []nexts.Next, futures []frame.Sequence, results []Result, offset int) error {
	n := len(candidates)
	if n == 0 {
		return nil
	}
	workers := cfg.Workers
	if workers <= 0 {
		workers = 1
	}
	if workers > n {
		workers = n
	}

	emulators := make([]emu.Emulator, workers)
	for w := 0; w < workers; w++ {
		e, err := cloner.Clone(currentState)
		if err != nil {
			return err
		}
		emulators[w] = e
	}

	return parallel.For(n, workers, func(workerId, idx int) error {
		writeIdx := offset + idx
		if writeIdx >= len(results) {
			return fmt.Errorf("eval: evaluateLocalInto: write index %d out of bounds (len=%d)", writeIdx, len(results))
		}
		r, err := scoreOne(emulators[workerId], evaluator, currentState, candidates[idx], futures)
		if err != nil {
			return err
		}
		results[writeIdx] = r
		return nil
	})
}

// EvaluateLocal scores every candidate purely locally, with no distributed
// helpers in play.
func EvaluateLocal(cfg Config, cloner emu.Cloner, evaluator *objective.Evaluator, currentState emu.Savestate, candidates []nexts.Next, futures []frame.Sequence) ([]Result, error) {
	results := make([]Result, len(candidates))
	if err := evaluateLocalInto(cfg, cloner, evaluator, currentState, candidates, futures, results, 0); err != nil {
		return nil, err
	}
	return results, nil
}

func toBytes(s frame.Sequence) []byte {
	out := make([]byte, len(s))
	for i, u := range s {
		out[i] = byte(u)
	}
	return out
}

func buildRequest(currentState emu.Savestate, candidates []nexts.Next, futures []frame.Sequence) helper.Request {
	req := helper.Request{
		CurrentState:    append([]byte(nil), currentState...),
		CandidateInputs: make([][]byte, len(candidates)),
		FutureInputs:    make([][]byte, len(futures)),
	}
	for i, c := range candidates {
		req.CandidateInputs[i] = toBytes(c.Inputs)
	}
	for i, f := range futures {
		req.FutureInputs[i] = toBytes(f)
	}
	return req
}

// mergeResponse writes resp's per-candidate results into results[lo:lo+len(sub)],
// checked: the write index must be strictly less than len(results).
func mergeResponse(resp helper.Response, sub []nexts.Next, results []Result, lo int) error {
	if len(resp.NextScores) != len(sub) {
		return fmt.Errorf("eval: mergeResponse: helper returned %d scores for %d candidates", len(resp.NextScores), len(sub))
	}
	for i, next := range sub {
		writeIdx := lo + i
		if writeIdx >= len(results) {
			return fmt.Errorf("eval: mergeResponse: write index %d out of bounds (len=%d)", writeIdx, len(results))
		}
		results[writeIdx] = Result{
			Next:         next,
			Immediate:    resp.Immediate[i],
			FutureTotals: resp.FutureTotals[i],
			NextScore:    resp.NextScores[i],
		}
	}
	return nil
}

// partitionIndices splits [0,n) into parts contiguous, nearly-equal ranges.
func partitionIndices(n, parts int) [][2]int {
	out := make([][2]int, parts)
	base := n / parts
	rem := n % parts
	lo := 0
	for i := 0; i < parts; i++ {
		size := base
		if i < rem {
			size++
		}
		out[i] = [2]int{lo, lo + size}
		lo += size
	}
	return out
}

// Evaluate scores every candidate next, splitting the work across any
// distributed helper clients plus a local share. A helper partition that
// errors or exceeds cfg.HelperTimeout is transparently re-run locally
// instead of failing the round.
func Evaluate(ctx context.Context, cfg Config, cloner emu.Cloner, evaluator *objective.Evaluator, currentState emu.Savestate, candidates []nexts.Next, futures []frame.Sequence, clients []*helper.Client) ([]Result, error) {
	if len(clients) == 0 {
		return EvaluateLocal(cfg, cloner, evaluator, currentState, candidates, futures)
	}

	n := len(candidates)
	results := make([]Result, n)
	parts := partitionIndices(n, len(clients)+1)

	g, gctx := errgroup.WithContext(ctx)
	for i, client := range clients {
		i, client := i, client
		lo, hi := parts[i][0], parts[i][1]
		g.Go(func() error {
			sub := candidates[lo:hi]
			if len(sub) == 0 {
				return nil
			}
			callCtx, cancel := context.WithTimeout(gctx, cfg.HelperTimeout)
			defer cancel()
			req := buildRequest(currentState, sub, futures)
			resp, err := client.Call(callCtx, req)
			if err != nil {
				return evaluateLocalInto(cfg, cloner, evaluator, currentState, sub, futures, results, lo)
			}
			return mergeResponse(resp, sub, results, lo)
		})
	}

	localLo, localHi := parts[len(clients)][0], parts[len(clients)][1]
	g.Go(func() error {
		return evaluateLocalInto(cfg, cloner, evaluator, currentState, candidates[localLo:localHi], futures, results, localLo)
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// NewHelperCompute builds the server-side helper.ComputeFunc that decodes a
// wire Request back into this engine's domain types, evaluates locally, and
// re-encodes a Response — the counterpart callers wire into helper.Server
// when running as a distributed worker process.
func NewHelperCompute(cfg Config, cloner emu.Cloner, evaluator *objective.Evaluator) helper.ComputeFunc {
	return func(req helper.Request) helper.Response {
		futures := make([]frame.Sequence, len(req.FutureInputs))
		for i, raw := range req.FutureInputs {
			futures[i] = fromBytes(raw)
		}
		candidates := make([]nexts.Next, len(req.CandidateInputs))
		for i, raw := range req.CandidateInputs {
			candidates[i] = nexts.Next{Inputs: fromBytes(raw)}
		}

		results, err := EvaluateLocal(cfg, cloner, evaluator, emu.Savestate(req.CurrentState), candidates, futures)
		if err != nil {
			return helper.Response{Err: err.Error()}
		}

		resp := helper.Response{
			Immediate:    make([]float64, len(results)),
			FutureTotals: make([][]float64, len(results)),
			NextScores:   make([]float64, len(results)),
		}
		for i, r := range results {
			resp.Immediate[i] = r.Immediate
			resp.FutureTotals[i] = r.FutureTotals
			resp.NextScores[i] = r.NextScore
		}
		return resp
	}
}

func fromBytes(raw []byte) frame.Sequence {
	out := make(frame.Sequence, len(raw))
	for i, b := range raw {
		out[i] = frame.Buttons(b)
	}
	return out
}
