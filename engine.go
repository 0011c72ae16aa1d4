// Package playfun wires every engine component into the round loop:
// candidate-sequence generation, futures ensemble scoring, adaptive
// population control, motif reweighting, backtracking, and checkpoint/
// resume. Every algorithmic piece lives in its own package
// (rng/objective/motif/emu/pathint/nexts/futures/eval/helper/commit/
// backtrack/pfstate); this file is purely the orchestrator, mirroring the
// teacher's top-level game/sequential.Engine in role (own the loop, delegate
// every decision to a collaborator) without inheriting any of its board-
// game-specific logic.
package playfun

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/sw965/playfun/backtrack"
	"github.com/sw965/playfun/commit"
	"github.com/sw965/playfun/config"
	"github.com/sw965/playfun/emu"
	"github.com/sw965/playfun/eval"
	"github.com/sw965/playfun/frame"
	"github.com/sw965/playfun/futures"
	"github.com/sw965/playfun/helper"
	"github.com/sw965/playfun/motif"
	"github.com/sw965/playfun/nexts"
	"github.com/sw965/playfun/objective"
	"github.com/sw965/playfun/pfstate"
	"github.com/sw965/playfun/rng"
)

// Engine owns every piece of global mutable state: the RNG, the master
// emulator, and the motif store. Futures and the movie are reached through
// Population and Committer, which own them in turn.
type Engine struct {
	cfg      config.Config
	log      *logrus.Logger
	game     string
	cloner   emu.Cloner
	evaluator *objective.Evaluator
	store    *motif.Store
	population *futures.Population
	r        *rng.Source
	committer *commit.Committer
	tracker  *backtrack.Tracker
	clients  []*helper.Client

	checkpoints []backtrack.Checkpoint
	movenum     int
	round       int
}

func (e *Engine) evalConfig() eval.Config {
	workers := e.cfg.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	return eval.Config{Workers: workers, HelperTimeout: time.Duration(e.cfg.HelperTimeoutMS) * time.Millisecond}
}

func (e *Engine) nextsConfig() nexts.Config {
	return nexts.Config{
		NextLen:       e.cfg.NextLen,
		BackfillCount: e.cfg.BackfillCount,
		MinNexts:      e.cfg.MinNexts,
		MaxNexts:      e.cfg.MaxNexts,
	}
}

func (e *Engine) backtrackConfig() backtrack.Config {
	return backtrack.Config{
		MinBacktrackDistance: e.cfg.MinBacktrackDistance,
		TryBacktrackEvery:    e.cfg.TryBacktrackEvery,
		StuckThresholdFrac:   e.cfg.StuckThresholdFrac,
		PMask:                e.cfg.AblationPMask,
		MaxChopIters:         e.cfg.MaxChopIters,
	}
}

// newEngine builds every piece of an Engine except the initial futures
// population, leaving that to the caller: New populates immediately from a
// fresh seed, while Resume must restore the persisted RNG state first so
// the population it builds is a continuation of the interrupted run's
// stream rather than a fixed, seed-independent one.
func newEngine(cfg config.Config, log *logrus.Logger, master emu.Cloner, objectives objective.Set, motifs []motif.Motif, seed []byte, clients []*helper.Client) (*Engine, error) {
	if log == nil {
		log = logrus.New()
	}

	evaluator := objective.New(objectives, func(format string, args ...any) {
		log.Warnf(format, args...)
	})

	bounds := motif.Bounds{
		Alpha:        cfg.MotifAlpha,
		MinFrac:      cfg.MotifMinFrac,
		MaxFrac:      cfg.MotifMaxFrac,
		MaxClipIters: cfg.MotifClipMaxIters,
	}
	underflowLogged := false
	store, err := motif.New(motifs, bounds, func(id motif.ID) {
		if underflowLogged {
			return
		}
		underflowLogged = true
		log.WithField("motif_id", id).Warn("motif weight underflow clipped to floor")
	})
	if err != nil {
		return nil, fmt.Errorf("playfun: newEngine: %w", err)
	}

	futuresCfg := futures.Config{
		MinFutureLength:       cfg.MinFutureLength,
		MaxFutureLength:       cfg.MaxFutureLength,
		MinFutures:            cfg.MinFutures,
		MaxFutures:            cfg.MaxFutures,
		NFuturesStepFrac:      cfg.NFuturesStepFrac,
		DesiredLengthStepFrac: cfg.DesiredLengthStepFrac,
		DropFutures:           cfg.DropFutures,
		MutateFutures:         cfg.MutateFutures,
	}
	population, err := futures.New(futuresCfg, store, cfg.MinFutures)
	if err != nil {
		return nil, fmt.Errorf("playfun: newEngine: %w", err)
	}

	r := rng.New(seed)

	e := &Engine{
		cfg:        cfg,
		log:        log,
		game:       cfg.Game,
		cloner:     master,
		evaluator:  evaluator,
		store:      store,
		population: population,
		r:          r,
		tracker:    backtrack.NewTracker(backtrack.Config{MinBacktrackDistance: cfg.MinBacktrackDistance, TryBacktrackEvery: cfg.TryBacktrackEvery, StuckThresholdFrac: cfg.StuckThresholdFrac}),
		clients:    clients,
	}
	e.committer = commit.New(commit.Config{CheckpointEvery: cfg.CheckpointEvery}, master, store, e.onCheckpoint)
	return e, nil
}

// New builds an Engine from cold, seeded directly from objectives and
// mined motifs, and populates its initial futures working set from seed.
// master is the engine's single master emulator instance, already loaded
// with the ROM's initial state; it must also satisfy emu.Cloner so the
// evaluator can spin up per-worker clones.
func New(cfg config.Config, log *logrus.Logger, master emu.Cloner, objectives objective.Set, motifs []motif.Motif, seed []byte, clients []*helper.Client) (*Engine, error) {
	e, err := newEngine(cfg, log, master, objectives, motifs, seed, clients)
	if err != nil {
		return nil, err
	}
	if err := e.population.Populate(e.r); err != nil {
		return nil, fmt.Errorf("playfun: New: %w", err)
	}
	return e, nil
}

// Resume rebuilds an Engine from a previously saved pfstate.State: RNG
// state restored byte-exact, nfutures_ clamped to [MIN_FUTURES,
// MAX_FUTURES], movie and latest checkpoint replayed. The objective
// evaluator is stateless, so there is nothing to re-feed into it.
func Resume(cfg config.Config, log *logrus.Logger, master emu.Cloner, objectives objective.Set, state pfstate.State, clients []*helper.Client) (*Engine, error) {
	if log == nil {
		log = logrus.New()
	}

	motifs := make([]motif.Motif, len(state.MotifWeights))
	for i, mw := range state.MotifWeights {
		motifs[i] = motif.Motif{Inputs: mw.Inputs, Weight: mw.Weight}
	}

	e, err := newEngine(cfg, log, master, objectives, motifs, nil, clients)
	if err != nil {
		return nil, err
	}

	if err := e.r.SetState(state.RNGState); err != nil {
		return nil, fmt.Errorf("playfun: Resume: rng state: %w", err)
	}

	nf := pfstate.ClampNFutures(state.NFutures, uint32(cfg.MinFutures), uint32(cfg.MaxFutures))
	e.population.SetNFutures(int(nf))
	if err := e.population.Populate(e.r); err != nil {
		return nil, fmt.Errorf("playfun: Resume: populate: %w", err)
	}

	if err := master.Load(state.LatestCheckpoint.Savestate); err != nil {
		return nil, fmt.Errorf("playfun: Resume: load checkpoint: %w", err)
	}
	// Replay the committed movie past the checkpoint to rebuild master's
	// live state; the checkpoint savestate alone only covers up to
	// LatestCheckpoint.Movenum.
	tail := state.MovieInputs[int(state.LatestCheckpoint.Movenum):]
	for _, u := range tail {
		if _, err := master.Step(u); err != nil {
			return nil, fmt.Errorf("playfun: Resume: replay: %w", err)
		}
	}

	movie := e.committer.MovieRef()
	movie.Inputs = state.MovieInputs
	movie.Subtitles = state.Subtitles

	e.checkpoints = []backtrack.Checkpoint{{
		Movenum:   int(state.LatestCheckpoint.Movenum),
		Savestate: state.LatestCheckpoint.Savestate,
	}}
	e.movenum = len(state.MovieInputs)
	e.game = state.Game

	return e, nil
}

func (e *Engine) onCheckpoint(movie commit.Movie) error {
	movenum := len(movie.Inputs)
	e.checkpoints = append(e.checkpoints, backtrack.Checkpoint{
		Movenum:   movenum,
		Savestate: e.committer.Master().Save(),
	})
	e.log.WithField("movenum", movenum).Info("checkpoint recorded")
	return nil
}

// SaveState snapshots the engine's full persisted state. Memories is left
// empty: it exists in the wire format to re-feed an evaluator that
// accumulates running statistics, and this Evaluator is stateless, so
// there is nothing to re-feed.
func (e *Engine) SaveState() pfstate.State {
	movie := e.committer.Movie()
	latest := backtrack.Checkpoint{}
	if n := len(e.checkpoints); n > 0 {
		latest = e.checkpoints[n-1]
	}
	return pfstate.State{
		Game:        e.game,
		Watermark:   int32(e.cfg.Watermark),
		MovieInputs: movie.Inputs,
		Subtitles:   movie.Subtitles,
		LatestCheckpoint: pfstate.Checkpoint{
			Movenum:   int32(latest.Movenum),
			Savestate: latest.Savestate,
		},
		MotifWeights: pfstate.FromMotifStore(e.store),
		NFutures:     uint32(e.population.NFutures()),
		RNGState:     e.r.GetState(),
	}
}

// SaveFile snapshots and writes state to path.
func (e *Engine) SaveFile(path string) error {
	return pfstate.SaveFile(path, e.SaveState())
}

// Movie returns the currently committed input history.
func (e *Engine) Movie() commit.Movie { return e.committer.Movie() }

// MotifWeights returns a snapshot of the motif store's current weights, in
// id order, for callers checking that the reweighting feedback loop is
// actually moving weights.
func (e *Engine) MotifWeights() []float64 { return e.store.Weights() }

func (e *Engine) futureInputs() []frame.Sequence {
	live := e.population.Futures()
	out := make([]frame.Sequence, len(live))
	for i, f := range live {
		out[i] = f.Inputs
	}
	return out
}

// futureSources adapts the live futures population into nexts.FutureSource
// values. *futures.Future already satisfies the interface structurally
// (Prefix(n int) frame.Sequence); this just has to build the slice with
// package nexts' own named interface type, since Go slice types aren't
// assignable across differently-named element interfaces even when both
// are satisfied by the same concrete type.
func (e *Engine) futureSources() []nexts.FutureSource {
	live := e.population.Futures()
	out := make([]nexts.FutureSource, len(live))
	for i, f := range live {
		out[i] = f
	}
	return out
}

// Round runs one full generate-evaluate-commit cycle, then checks the
// stuck-detection trigger and runs a backtrack if it fires. It commits
// exactly one next per normal path, plus the backtrack's own re-entry
// commit when triggered.
func (e *Engine) Round(ctx context.Context) error {
	currentState := e.committer.Master().Save()
	futureSeqs := e.futureInputs()

	candidates, err := nexts.Generate(e.nextsConfig(), e.futureSources(), e.store, e.r)
	if err != nil {
		return fmt.Errorf("playfun: Round: %w", err)
	}

	best, err := e.evaluateAndCommit(ctx, currentState, candidates, futureSeqs)
	if err != nil {
		return fmt.Errorf("playfun: Round: %w", err)
	}

	if err := e.population.RecordTotals(best.FutureTotals); err != nil {
		return fmt.Errorf("playfun: Round: %w", err)
	}
	if err := e.population.RecordTerminalMemories(best.FutureTerminalMemories); err != nil {
		return fmt.Errorf("playfun: Round: %w", err)
	}
	if err := e.population.AdaptPruneMutateAndPopulate(e.r); err != nil {
		return fmt.Errorf("playfun: Round: %w", err)
	}

	e.round++
	e.log.WithFields(logrus.Fields{
		"round":      e.round,
		"next_score": best.NextScore,
		"movenum":    e.movenum,
	}).Debug("round complete")

	if e.tracker.Observe(best.NextScore) {
		if err := e.backtrackNow(ctx); err != nil {
			return fmt.Errorf("playfun: Round: backtrack: %w", err)
		}
	}
	return nil
}

// evaluateAndCommit runs evaluation then selection/commit against a
// specific (state, candidates, futures) triple, sharing the logic between
// the normal per-round path and TryImprove's replay re-entry.
func (e *Engine) evaluateAndCommit(ctx context.Context, state emu.Savestate, candidates []nexts.Next, futureSeqs []frame.Sequence) (eval.Result, error) {
	results, err := eval.Evaluate(ctx, e.evalConfig(), e.cloner, e.evaluator, state, candidates, futureSeqs, e.clients)
	if err != nil {
		return eval.Result{}, err
	}
	idx, err := commit.SelectBest(results, e.r)
	if err != nil {
		return eval.Result{}, err
	}
	best := results[idx]
	if err := e.committer.Commit(best); err != nil {
		return eval.Result{}, err
	}
	e.movenum = len(e.committer.Movie().Inputs)
	return best, nil
}

// backtrackNow runs the backtrack/TryImprove pipeline: it picks a span,
// generates and accepts replacement candidates, rewinds the movie to the
// checkpoint, and replays through the normal selection loop with improveme
// plus every accepted replacement as candidate nexts.
func (e *Engine) backtrackNow(ctx context.Context) error {
	checkpoint, ok := backtrack.SelectSpan(e.checkpoints, e.movenum, e.cfg.Watermark, e.backtrackConfig())
	if !ok {
		e.log.Debug("backtrack triggered but no qualifying checkpoint, skipping")
		return nil
	}

	movie := e.committer.Movie()
	improveme := movie.Inputs[checkpoint.Movenum:e.movenum].Clone()
	if len(improveme) == 0 {
		return nil
	}

	scratch, err := e.cloner.Clone(checkpoint.Savestate)
	if err != nil {
		return err
	}

	candidates, err := backtrack.TryImprove(e.backtrackConfig(), scratch, e.evaluator, e.store, checkpoint, improveme, e.r)
	if err != nil {
		return err
	}

	if err := backtrack.Rewind(e.committer.Master(), e.committer.MovieRef(), checkpoint); err != nil {
		return err
	}
	e.committer.ResetCheckpointCounter()
	e.movenum = checkpoint.Movenum
	e.log.WithFields(logrus.Fields{"movenum": checkpoint.Movenum, "candidates": len(candidates)}).Info("backtrack rewound")

	futureSeqs := e.futureInputs()
	best, err := e.evaluateAndCommit(ctx, checkpoint.Savestate, candidates, futureSeqs)
	if err != nil {
		return err
	}
	if err := e.population.RecordTotals(best.FutureTotals); err != nil {
		return err
	}
	return e.population.RecordTerminalMemories(best.FutureTerminalMemories)
}

// Run commits frames indefinitely, one Round per iteration, until ctx is
// canceled or a Round returns an error. onRound, if non-nil, is invoked
// after every successful round for caller-side progress reporting; it does
// not affect control flow.
func (e *Engine) Run(ctx context.Context, onRound func(round int)) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if err := e.Round(ctx); err != nil {
			return err
		}
		if onRound != nil {
			onRound(e.round)
		}
	}
}
