// Package futures implements the working set of longer candidate plans
// used to forecast the value of committing a next, plus its adaptive
// population control (grow/shrink the working set, per-future length
// adaptation, prune-the-worst, mutate-the-best).
//
// A Future is one record holding everything about itself (inputs, weighted
// flag, desired length, last-round total, cached terminal memory) in a
// single slice element, directly following the teacher's ga.go
// Individual[T]/Population[T] shape (one element type, one slice) rather
// than the older sibling packages' (pucb, dpuct) style of separate maps
// keyed in parallel, which invites the two collections drifting out of
// alignment.
package futures

import (
	"fmt"

	"github.com/sw965/playfun/emu"
	"github.com/sw965/playfun/frame"
	"github.com/sw965/playfun/motif"
	"github.com/sw965/playfun/rng"
)

// Future is a longer input plan used to forecast a next's value.
type Future struct {
	Inputs         frame.Sequence
	Weighted       bool
	DesiredLength  int
	LastTotal      float64    // T_f from this future's most recent scoring
	TerminalMemory emu.Memory // memory state reached by this future, cached from that same scoring
}

// Prefix returns the first n inputs (or fewer if shorter), satisfying
// nexts.FutureSource.
func (f *Future) Prefix(n int) frame.Sequence {
	if n > len(f.Inputs) {
		n = len(f.Inputs)
	}
	return f.Inputs[:n]
}

// Config bundles the tunables governing population control.
type Config struct {
	MinFutureLength      int     // MINFUTURELENGTH
	MaxFutureLength      int     // MAXFUTURELENGTH
	MinFutures           int     // MIN_FUTURES
	MaxFutures           int     // MAX_FUTURES
	NFuturesStepFrac     float64 // NFUTURES_STEP_FRAC (e.g. 0.05)
	DesiredLengthStepFrac float64 // DESIRED_LENGTH_STEP_FRAC (e.g. 0.10)
	DropFutures          int     // DROPFUTURES
	MutateFutures        int     // MUTATEFUTURES
}

// Population is the engine's evolving futures working set.
type Population struct {
	cfg       Config
	futures   []*Future
	nfutures  float64 // fractional target size, per NFUTURES_STEP_FRAC growth/shrink
	store     *motif.Store
}

// New builds an empty Population targeting an initial size of nfutures.
func New(cfg Config, store *motif.Store, initialNFutures int) (*Population, error) {
	if cfg.MinFutureLength <= 0 || cfg.MaxFutureLength < cfg.MinFutureLength {
		return nil, fmt.Errorf("futures: New: invalid [MinFutureLength,MaxFutureLength]=[%d,%d]", cfg.MinFutureLength, cfg.MaxFutureLength)
	}
	if cfg.MinFutures <= 0 || cfg.MaxFutures < cfg.MinFutures {
		return nil, fmt.Errorf("futures: New: invalid [MinFutures,MaxFutures]=[%d,%d]", cfg.MinFutures, cfg.MaxFutures)
	}
	if initialNFutures < cfg.MinFutures {
		initialNFutures = cfg.MinFutures
	}
	if initialNFutures > cfg.MaxFutures {
		initialNFutures = cfg.MaxFutures
	}
	return &Population{cfg: cfg, nfutures: float64(initialNFutures), store: store}, nil
}

// NFutures returns the current integer target size, clamped to
// [MinFutures, MaxFutures].
func (p *Population) NFutures() int {
	n := int(p.nfutures + 0.5)
	if n < p.cfg.MinFutures {
		n = p.cfg.MinFutures
	}
	if n > p.cfg.MaxFutures {
		n = p.cfg.MaxFutures
	}
	return n
}

// SetNFutures overrides the fractional target size directly — used by
// pfstate on load to restore nfutures_ (already clamped by the caller).
func (p *Population) SetNFutures(n int) { p.nfutures = float64(n) }

// Futures returns the live population, for the evaluator to score
// against, and for adapting into nexts.FutureSource values (each *Future
// already satisfies that interface's Prefix method). Callers must not
// retain the returned slice across a Populate or AdaptPruneMutateAndPopulate
// call.
func (p *Population) Futures() []*Future { return p.futures }

func newRandomFuture(cfg Config, store *motif.Store, r *rng.Source) (*Future, error) {
	span := cfg.MaxFutureLength - cfg.MinFutureLength
	length := cfg.MinFutureLength
	if span > 0 {
		delta, err := r.IntUniform(span + 1)
		if err != nil {
			return nil, err
		}
		length += delta
	}

	weighted := r.NextF64Unit() < 0.5

	inputs := make(frame.Sequence, 0, length)
	for len(inputs) < length {
		id, err := store.Sample(r, weighted)
		if err != nil {
			return nil, err
		}
		m, err := store.Get(id)
		if err != nil {
			return nil, err
		}
		inputs = append(inputs, m.Inputs...)
	}
	inputs = inputs[:length]

	return &Future{Inputs: inputs, Weighted: weighted, DesiredLength: length}, nil
}

func sameInputs(a, b frame.Sequence) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// Populate grows the population up to its current target size, creating
// fresh futures until |F| reaches nfutures_. Duplicate avoidance is a
// single retry (one extra draw, not an unbounded search), since avoiding
// duplicates only needs to be cheap, not exhaustive.
func (p *Population) Populate(r *rng.Source) error {
	target := p.NFutures()
	for len(p.futures) < target {
		candidate, err := newRandomFuture(p.cfg, p.store, r)
		if err != nil {
			return err
		}
		dup := false
		for _, existing := range p.futures {
			if sameInputs(existing.Inputs, candidate.Inputs) {
				dup = true
				break
			}
		}
		if dup {
			retry, err := newRandomFuture(p.cfg, p.store, r)
			if err != nil {
				return err
			}
			candidate = retry
		}
		p.futures = append(p.futures, candidate)
	}
	return nil
}

// RecordTotals attaches each future's most recent T_f, from scoring the
// committed next against it, so AdaptPruneMutateAndPopulate can act on it. totals must
// be aligned with Futures() at the time it was produced.
func (p *Population) RecordTotals(totals []float64) error {
	if len(totals) != len(p.futures) {
		return fmt.Errorf("futures: RecordTotals: len(totals)=%d != len(futures)=%d", len(totals), len(p.futures))
	}
	for i, t := range totals {
		p.futures[i].LastTotal = t
	}
	return nil
}

// RecordTerminalMemories caches each future's terminal memory from scoring
// the committed next against it, aligned with Futures() the same way
// RecordTotals is. A nil mems (e.g. a round scored entirely by a remote
// helper, which doesn't carry memories over the wire) leaves the cached
// values from the last round scored locally untouched.
func (p *Population) RecordTerminalMemories(mems []emu.Memory) error {
	if mems == nil {
		return nil
	}
	if len(mems) != len(p.futures) {
		return fmt.Errorf("futures: RecordTerminalMemories: len(mems)=%d != len(futures)=%d", len(mems), len(p.futures))
	}
	for i, m := range mems {
		p.futures[i].TerminalMemory = m
	}
	return nil
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// adaptLengths applies per-future length adaptation: grow a future's
// desired length by DesiredLengthStepFrac when its last total was
// positive, shrink otherwise, with a minimum step of +-1 frame.
func (p *Population) adaptLengths() {
	for _, f := range p.futures {
		step := int(float64(f.DesiredLength) * p.cfg.DesiredLengthStepFrac)
		if step < 1 {
			step = 1
		}
		if f.LastTotal > 0 {
			f.DesiredLength = clampInt(f.DesiredLength+step, p.cfg.MinFutureLength, p.cfg.MaxFutureLength)
		} else {
			f.DesiredLength = clampInt(f.DesiredLength-step, p.cfg.MinFutureLength, p.cfg.MaxFutureLength)
		}
	}
}

// adaptWorkingSetSize applies working-set adaptation: grow nfutures_ when
// few futures paid off last round, shrink it when most did, moving the
// integer target by at least one future per step.
func (p *Population) adaptWorkingSetSize() {
	if len(p.futures) == 0 {
		return
	}
	positive := 0
	for _, f := range p.futures {
		if f.LastTotal > 0 {
			positive++
		}
	}
	frac := float64(positive) / float64(len(p.futures))
	before := p.NFutures()
	switch {
	case frac < 0.4:
		p.nfutures *= 1 + p.cfg.NFuturesStepFrac
		if int(p.nfutures+0.5) <= before {
			p.nfutures = float64(before + 1)
		}
	case frac > 0.6:
		p.nfutures *= 1 - p.cfg.NFuturesStepFrac
		if int(p.nfutures+0.5) >= before {
			p.nfutures = float64(before - 1)
		}
	}
	if p.nfutures < float64(p.cfg.MinFutures) {
		p.nfutures = float64(p.cfg.MinFutures)
	}
	if p.nfutures > float64(p.cfg.MaxFutures) {
		p.nfutures = float64(p.cfg.MaxFutures)
	}
}

// prune drops the DropFutures+MutateFutures futures with the lowest
// LastTotal, strictly ascending tie-break by index, and returns the single
// best-surviving future for Mutate to clone. Because Future is a single
// record type, dropping is just slice filtering — no parallel-array
// realignment is possible to get wrong.
func (p *Population) prune() *Future {
	n := len(p.futures)
	toDrop := p.cfg.DropFutures + p.cfg.MutateFutures
	if toDrop > n {
		toDrop = n
	}

	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	// Stable ascending sort by LastTotal, ties broken by original index
	// (insertion sort is fine: n is the small futures-population size).
	for i := 1; i < n; i++ {
		for j := i; j > 0 && p.futures[order[j]].LastTotal < p.futures[order[j-1]].LastTotal; j-- {
			order[j], order[j-1] = order[j-1], order[j]
		}
	}

	drop := make(map[int]bool, toDrop)
	for _, idx := range order[:toDrop] {
		drop[idx] = true
	}

	survivors := make([]*Future, 0, n-toDrop)
	var best *Future
	for i, f := range p.futures {
		if drop[i] {
			continue
		}
		survivors = append(survivors, f)
		if best == nil || f.LastTotal > best.LastTotal {
			best = f
		}
	}
	p.futures = survivors
	return best
}

// mutate clones best MutateFutures times, applying each of the four
// mutation operators independently with probability 0.5 per clone: flip
// Weighted, truncate to a random prefix, dualize, reverse a random span.
func (p *Population) mutate(best *Future, r *rng.Source) error {
	if best == nil {
		return nil
	}
	for i := 0; i < p.cfg.MutateFutures; i++ {
		clone := &Future{
			Inputs:        best.Inputs.Clone(),
			Weighted:      best.Weighted,
			DesiredLength: best.DesiredLength,
		}

		if r.NextF64Unit() < 0.5 {
			clone.Weighted = !clone.Weighted
		}
		if r.NextF64Unit() < 0.5 && len(clone.Inputs) > p.cfg.MinFutureLength {
			span := len(clone.Inputs) - p.cfg.MinFutureLength
			cut, err := r.IntUniform(span + 1)
			if err != nil {
				return err
			}
			newLen := p.cfg.MinFutureLength + cut
			clone.Inputs = clone.Inputs[:newLen]
			clone.DesiredLength = newLen
		}
		if r.NextF64Unit() < 0.5 {
			clone.Inputs = clone.Inputs.DualizeSequence()
		}
		if r.NextF64Unit() < 0.5 && len(clone.Inputs) > 1 {
			start, err := r.IntUniform(len(clone.Inputs))
			if err != nil {
				return err
			}
			remaining := len(clone.Inputs) - start
			length, err := r.IntUniform(remaining + 1)
			if err != nil {
				return err
			}
			clone.Inputs = frame.ReverseSpan(clone.Inputs, start, length)
		}

		p.futures = append(p.futures, clone)
	}
	return nil
}

// AdaptPruneMutateAndPopulate runs the full per-round maintenance pipeline:
// per-future length adaptation and working-set sizing (both driven by last
// round's recorded totals), prune-the-worst, mutate-the-best, then populate
// back up to the (possibly just-changed) target size.
func (p *Population) AdaptPruneMutateAndPopulate(r *rng.Source) error {
	if len(p.futures) > 0 {
		p.adaptLengths()
		p.adaptWorkingSetSize()
		best := p.prune()
		if err := p.mutate(best, r); err != nil {
			return err
		}
	}
	return p.Populate(r)
}
