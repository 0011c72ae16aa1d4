// Package backtrack implements stuck detection, span selection against a
// checkpoint history, candidate generation across the
// RANDOM/OPPOSITES/ABLATION/CHOP families, a 4-part acceptance test, and
// replay back into the normal commit loop.
package backtrack

import (
	"fmt"
	"hash/maphash"
	"math"
	"sort"

	"github.com/sw965/playfun/commit"
	"github.com/sw965/playfun/emu"
	"github.com/sw965/playfun/frame"
	"github.com/sw965/playfun/motif"
	"github.com/sw965/playfun/nexts"
	"github.com/sw965/playfun/objective"
	"github.com/sw965/playfun/pathint"
	"github.com/sw965/playfun/rng"
)

// Checkpoint anchors a point in movie history TryImprove can rewind to.
type Checkpoint struct {
	Movenum   int
	Savestate emu.Savestate
}

// Config bundles the tunables governing backtrack cadence and candidate
// generation.
type Config struct {
	MinBacktrackDistance int     // MIN_BACKTRACK_DISTANCE
	TryBacktrackEvery    int     // TRY_BACKTRACK_EVERY
	StuckThresholdFrac   float64 // STUCK_THRESHOLD_FRAC
	PMask                float64 // per-button ablation inclusion probability
	MaxChopIters         int     // bound on CHOP's inner improvement loop
}

// Tracker observes each round's committed next_score and decides when to
// trigger a backtrack.
type Tracker struct {
	cfg                  Config
	negativeStreak       int
	roundsSinceBacktrack int
}

// NewTracker builds a Tracker.
func NewTracker(cfg Config) *Tracker { return &Tracker{cfg: cfg} }

// Observe records one round's next_score and reports whether a backtrack
// should fire now: either the negative-score streak crossed
// StuckThresholdFrac*TryBacktrackEvery, or TryBacktrackEvery rounds have
// elapsed since the last trigger.
func (t *Tracker) Observe(nextScore float64) bool {
	if nextScore < 0 {
		t.negativeStreak++
	} else {
		t.negativeStreak = 0
	}
	t.roundsSinceBacktrack++

	threshold := int(t.cfg.StuckThresholdFrac * float64(t.cfg.TryBacktrackEvery))
	if threshold > 0 && t.negativeStreak >= threshold {
		t.negativeStreak = 0
		t.roundsSinceBacktrack = 0
		return true
	}
	if t.cfg.TryBacktrackEvery > 0 && t.roundsSinceBacktrack >= t.cfg.TryBacktrackEvery {
		t.roundsSinceBacktrack = 0
		return true
	}
	return false
}

// SelectSpan picks a checkpoint to rewind to: the most recent one at or
// before current-MinBacktrackDistance and strictly above watermark (to skip
// menu preambles). Returns ok=false when no checkpoint qualifies.
func SelectSpan(checkpoints []Checkpoint, current, watermark int, cfg Config) (Checkpoint, bool) {
	var best Checkpoint
	found := false
	for _, c := range checkpoints {
		if c.Movenum > current-cfg.MinBacktrackDistance {
			continue
		}
		if c.Movenum <= watermark {
			continue
		}
		if !found || c.Movenum > best.Movenum {
			best = c
			found = true
		}
	}
	return best, found
}

var hashSeed = maphash.MakeSeed()

func hashSequence(s frame.Sequence) uint64 {
	var h maphash.Hash
	h.SetSeed(hashSeed)
	raw := make([]byte, len(s))
	for i, u := range s {
		raw[i] = byte(u)
	}
	h.Write(raw)
	return h.Sum64()
}

func dedupSequences(candidates []frame.Sequence) []frame.Sequence {
	seen := make(map[uint64]bool, len(candidates))
	out := make([]frame.Sequence, 0, len(candidates))
	for _, c := range candidates {
		key := hashSequence(c)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, c)
	}
	return out
}

func randomMotifSequence(length int, store *motif.Store, r *rng.Source) (frame.Sequence, error) {
	out := make(frame.Sequence, 0, length)
	for len(out) < length {
		id, err := store.Sample(r, true)
		if err != nil {
			return nil, err
		}
		m, err := store.Get(id)
		if err != nil {
			return nil, err
		}
		out = append(out, m.Inputs...)
	}
	return out[:length], nil
}

func opposites(improveme frame.Sequence, r *rng.Source) ([]frame.Sequence, error) {
	out := []frame.Sequence{
		improveme.DualizeSequence().Reverse(),
		improveme.DualizeSequence(),
		improveme.Reverse(),
	}
	if len(improveme) > 1 {
		start, err := r.IntUniform(len(improveme))
		if err != nil {
			return nil, err
		}
		remaining := len(improveme) - start
		length, err := r.IntUniform(remaining + 1)
		if err != nil {
			return nil, err
		}
		out = append(out, frame.ReverseSpan(improveme, start, length))

		span := improveme[start : start+length].Clone().DualizeSequence()
		dualizedSpan := improveme.Clone()
		copy(dualizedSpan[start:start+length], span)
		out = append(out, dualizedSpan)
	}
	return out, nil
}

func ablations(improveme frame.Sequence, pMask float64, r *rng.Source) ([]frame.Sequence, error) {
	var mask frame.Buttons
	for _, b := range frame.AllButtons {
		if r.NextF64Unit() < pMask {
			mask |= b
		}
	}
	if mask == 0 {
		return nil, nil
	}
	return []frame.Sequence{frame.AblationMask(improveme, mask)}, nil
}

// chop iteratively deletes random short spans from improveme as long as
// each deletion strictly improves the path integral from checkpointState,
// stopping at the first non-improving deletion. It returns every
// strictly-improving intermediate candidate, in the order discovered.
func chop(e emu.Emulator, evaluator *objective.Evaluator, checkpointState emu.Savestate, improveme frame.Sequence, cfg Config, r *rng.Source) ([]frame.Sequence, error) {
	base := improveme
	baseIntegral, _, err := pathint.ScoreIntegral(e, evaluator, checkpointState, base)
	if err != nil {
		return nil, err
	}

	var out []frame.Sequence
	maxIters := cfg.MaxChopIters
	if maxIters <= 0 {
		maxIters = 16
	}
	for iter := 0; iter < maxIters; iter++ {
		if len(base) == 0 {
			break
		}
		u := r.NextF64Unit()
		length := int(math.Floor(float64(len(base)) * u * u))
		if length < 1 {
			continue
		}
		if length > len(base) {
			length = len(base)
		}
		start, err := r.IntUniform(len(base) - length + 1)
		if err != nil {
			return nil, err
		}
		candidate := make(frame.Sequence, 0, len(base)-length)
		candidate = append(candidate, base[:start]...)
		candidate = append(candidate, base[start+length:]...)

		integral, _, err := pathint.ScoreIntegral(e, evaluator, checkpointState, candidate)
		if err != nil {
			return nil, err
		}
		if integral <= baseIntegral {
			break
		}
		base = candidate
		baseIntegral = integral
		out = append(out, candidate)
	}
	return out, nil
}

// Candidate is one accepted backtrack replacement, ranked by Score.
type Candidate struct {
	Inputs frame.Sequence
	Score  float64
}

// TryImprove runs the full backtrack pipeline over [checkpoint.Movenum,
// current] and returns improveme itself plus every accepted replacement as
// candidate nexts, ranked best-first, ready to feed into the normal
// selection loop exactly like any other commit.
func TryImprove(cfg Config, e emu.Emulator, evaluator *objective.Evaluator, store *motif.Store, checkpoint Checkpoint, improveme frame.Sequence, r *rng.Source) ([]nexts.Next, error) {
	if len(improveme) == 0 {
		return nil, fmt.Errorf("backtrack: TryImprove: empty improveme span")
	}

	endIntegral, endMemory, err := pathint.ScoreIntegral(e, evaluator, checkpoint.Savestate, improveme)
	if err != nil {
		return nil, err
	}

	var raw []frame.Sequence

	randomCand, err := randomMotifSequence(len(improveme), store, r)
	if err != nil {
		return nil, err
	}
	raw = append(raw, randomCand)

	oppos, err := opposites(improveme, r)
	if err != nil {
		return nil, err
	}
	raw = append(raw, oppos...)

	abl, err := ablations(improveme, cfg.PMask, r)
	if err != nil {
		return nil, err
	}
	raw = append(raw, abl...)

	chopped, err := chop(e, evaluator, checkpoint.Savestate, improveme, cfg, r)
	if err != nil {
		return nil, err
	}
	raw = append(raw, chopped...)

	deduped := dedupSequences(raw)

	var accepted []Candidate
	for _, cand := range deduped {
		if len(cand) == 0 {
			continue
		}
		newIntegral, newMemory, err := pathint.ScoreIntegral(e, evaluator, checkpoint.Savestate, cand)
		if err != nil {
			return nil, err
		}
		nMinusE, err := evaluator.EvaluateMagnitude(endMemory, newMemory)
		if err != nil {
			return nil, err
		}
		if newIntegral >= endIntegral && newIntegral > 0 && nMinusE > 0 {
			accepted = append(accepted, Candidate{
				Inputs: cand,
				Score:  (newIntegral - endIntegral) + nMinusE,
			})
		}
	}

	sort.SliceStable(accepted, func(i, j int) bool {
		return accepted[i].Score > accepted[j].Score
	})

	out := make([]nexts.Next, 0, len(accepted)+1)
	out = append(out, nexts.Next{
		Inputs:      improveme,
		Origin:      nexts.OriginBacktrack,
		Explanation: "backtrack-incumbent",
	})
	for _, c := range accepted {
		out = append(out, nexts.Next{
			Inputs:      c.Inputs,
			Origin:      nexts.OriginBacktrack,
			Explanation: "backtrack-replacement",
		})
	}
	return out, nil
}

// Rewind truncates movie back to checkpoint.Movenum and loads the master
// emulator to checkpoint.Savestate, preparing for replay into the normal
// §4.I selection loop.
func Rewind(master emu.Emulator, movie *commit.Movie, checkpoint Checkpoint) error {
	if checkpoint.Movenum > len(movie.Inputs) {
		return fmt.Errorf("backtrack: Rewind: checkpoint.Movenum %d beyond movie length %d", checkpoint.Movenum, len(movie.Inputs))
	}
	if err := master.Load(checkpoint.Savestate); err != nil {
		return fmt.Errorf("backtrack: Rewind: %w", err)
	}
	movie.Inputs = movie.Inputs[:checkpoint.Movenum]

	kept := movie.Subtitles[:0]
	for _, s := range movie.Subtitles {
		if s.At < checkpoint.Movenum {
			kept = append(kept, s)
		}
	}
	movie.Subtitles = kept
	return nil
}
