// Package commit implements selection and commit: pick the max-scoring
// candidate next, commit it to the master emulator and movie, reweight its
// originating motif, and checkpoint periodically.
package commit

import (
	"fmt"

	"github.com/sw965/playfun/emu"
	"github.com/sw965/playfun/eval"
	"github.com/sw965/playfun/frame"
	"github.com/sw965/playfun/motif"
	"github.com/sw965/playfun/nexts"
	"github.com/sw965/playfun/rng"
)

// Subtitle annotates a committed frame index with the explanation of the
// next that produced it.
type Subtitle struct {
	At   int
	Text string
}

// Movie is the master emulator's full committed input history, annotated.
type Movie struct {
	Inputs    frame.Sequence
	Subtitles []Subtitle
}

// Append commits inputs to the movie with one subtitle anchored at the
// first newly committed frame.
func (m *Movie) Append(inputs frame.Sequence, explanation string) {
	at := len(m.Inputs)
	m.Inputs = append(m.Inputs, inputs...)
	m.Subtitles = append(m.Subtitles, Subtitle{At: at, Text: explanation})
}

// SelectBest picks the index of the max-scoring result, breaking ties
// uniformly via r — following the teacher's randx.Choice idiom
// (game/actor.go, mcts/pucb.go) rather than "first index wins", so a
// positional bias never creeps into otherwise-tied rounds.
func SelectBest(results []eval.Result, r *rng.Source) (int, error) {
	if len(results) == 0 {
		return 0, fmt.Errorf("commit: SelectBest: empty results")
	}
	best := results[0].NextScore
	tied := []int{0}
	for i := 1; i < len(results); i++ {
		switch {
		case results[i].NextScore > best:
			best = results[i].NextScore
			tied = tied[:0]
			tied = append(tied, i)
		case results[i].NextScore == best:
			tied = append(tied, i)
		}
	}
	if len(tied) == 1 {
		return tied[0], nil
	}
	pick, err := r.IntUniform(len(tied))
	if err != nil {
		return 0, err
	}
	return tied[pick], nil
}

// Config bundles the tunables governing commit/checkpoint cadence.
type Config struct {
	CheckpointEvery int // CHECKPOINT_EVERY, in committed frames
}

// Committer owns the master emulator, movie, motif store, and the
// checkpoint cadence counter.
type Committer struct {
	cfg       Config
	master    emu.Emulator
	movie     Movie
	store     *motif.Store
	onCheckpoint func(Movie) error
	framesSinceCheckpoint int
}

// New builds a Committer. onCheckpoint, if non-nil, is invoked every
// CheckpointEvery committed frames with the movie so far. The engine wires
// it to record an in-memory backtrack checkpoint; it does not write a
// pfstate snapshot, which is written only by Engine.SaveFile.
func New(cfg Config, master emu.Emulator, store *motif.Store, onCheckpoint func(Movie) error) *Committer {
	return &Committer{cfg: cfg, master: master, store: store, onCheckpoint: onCheckpoint}
}

// Movie returns the committed history so far.
func (c *Committer) Movie() Movie { return c.movie }

// MovieRef returns a pointer to the live movie, for the engine's backtrack
// integration: package backtrack's Rewind operates on *Movie directly,
// since Movie is a plain exported data struct rather than an opaque type.
func (c *Committer) MovieRef() *Movie { return &c.movie }

// Master returns the master emulator instance, for the same backtrack
// integration (backtrack.Rewind loads a checkpoint savestate into it).
func (c *Committer) Master() emu.Emulator { return c.master }

// ResetCheckpointCounter zeroes the frames-since-checkpoint counter, for
// callers that just rewound the movie to or past the latest checkpoint.
func (c *Committer) ResetCheckpointCounter() { c.framesSinceCheckpoint = 0 }

// Commit applies best's inputs to the master emulator, appends them (and
// best's explanation) to the movie, reweights best's originating motif if
// it came from one, and fires a checkpoint every CheckpointEvery frames.
func (c *Committer) Commit(best eval.Result) error {
	n := best.Next
	if len(n.Inputs) == 0 {
		return fmt.Errorf("commit: Commit: empty next inputs")
	}

	for _, u := range n.Inputs {
		if _, err := c.master.Step(u); err != nil {
			return fmt.Errorf("commit: Commit: %w", err)
		}
	}
	c.movie.Append(n.Inputs, n.Explanation)

	if n.Origin == nexts.OriginBackfill {
		normalized := best.Immediate / float64(len(n.Inputs))
		if err := c.store.Reweight(n.MotifID, normalized); err != nil {
			return fmt.Errorf("commit: Commit: reweight: %w", err)
		}
	}

	c.framesSinceCheckpoint += len(n.Inputs)
	if c.cfg.CheckpointEvery > 0 && c.framesSinceCheckpoint >= c.cfg.CheckpointEvery {
		c.framesSinceCheckpoint = 0
		if c.onCheckpoint != nil {
			if err := c.onCheckpoint(c.movie); err != nil {
				return fmt.Errorf("commit: Commit: checkpoint: %w", err)
			}
		}
	}
	return nil
}
