// Package motif implements sampling and bounded reweighting of short,
// weighted input sequences mined offline from example play. Weighted
// sampling follows the teacher's proportional-draw idiom
// (ucb.Manager.SelectKeyByTrialPercentAboveFractionOfMax,
// ga.RouletteIndexSelector), generalized from
// github.com/sw965/omw/mathx/randx.IntByWeight's contract but drawing from
// this engine's own rng.Source so the whole search stays reproducible from
// one seed.
package motif

import (
	"fmt"

	"github.com/sw965/playfun/frame"
	"github.com/sw965/playfun/rng"
)

// ID identifies a motif by its position in the Store.
type ID int

// Motif is a weighted input sequence. Weight is strictly positive and must
// lie within [MinFrac*W, MaxFrac*W] of the total store weight W.
type Motif struct {
	Inputs frame.Sequence
	Weight float64
}

// Bounds configures the clipping envelope and reweighting rate.
type Bounds struct {
	Alpha        float64 // MOTIF_ALPHA, in (0,1)
	MinFrac      float64 // MOTIF_MIN_FRAC
	MaxFrac      float64 // MOTIF_MAX_FRAC
	MaxClipIters int     // bound on iterative clipping (MOTIF_CLIP_MAX_ITERS)
}

// Store owns the mined motif set and its evolving weights.
type Store struct {
	motifs    []Motif
	bounds    Bounds
	onUnderflow func(id ID)
}

// New builds a Store. onUnderflow, if non-nil, is called on every clipping
// pass that raises a weight to the floor, with the id of the first motif at
// the floor; the engine wires this to a logrus.Warn that fires only once
// over the Engine's lifetime.
func New(motifs []Motif, bounds Bounds, onUnderflow func(ID)) (*Store, error) {
	if len(motifs) == 0 {
		return nil, fmt.Errorf("motif: New: empty motif set")
	}
	if bounds.Alpha <= 0 || bounds.Alpha >= 1 {
		return nil, fmt.Errorf("motif: New: Alpha must be in (0,1), got %v", bounds.Alpha)
	}
	if bounds.MaxClipIters <= 0 {
		bounds.MaxClipIters = 64
	}
	cp := make([]Motif, len(motifs))
	copy(cp, motifs)
	s := &Store{motifs: cp, bounds: bounds, onUnderflow: onUnderflow}
	s.clip()
	return s, nil
}

// Len returns the number of motifs in the store.
func (s *Store) Len() int { return len(s.motifs) }

// Get returns a copy of the motif at id.
func (s *Store) Get(id ID) (Motif, error) {
	if int(id) < 0 || int(id) >= len(s.motifs) {
		return Motif{}, fmt.Errorf("motif: Get: id %d out of range", id)
	}
	return s.motifs[id], nil
}

func (s *Store) totalWeight() float64 {
	var w float64
	for _, m := range s.motifs {
		w += m.Weight
	}
	return w
}

// Sample draws a motif id, weighted proportionally to current weights if
// weighted is true, else uniformly. Reproducible given the rng's state.
func (s *Store) Sample(r *rng.Source, weighted bool) (ID, error) {
	if len(s.motifs) == 0 {
		return 0, fmt.Errorf("motif: Sample: empty store")
	}
	if !weighted {
		idx, err := r.IntUniform(len(s.motifs))
		if err != nil {
			return 0, err
		}
		return ID(idx), nil
	}
	weights := make([]float64, len(s.motifs))
	for i, m := range s.motifs {
		weights[i] = m.Weight
	}
	idx, err := r.IntByWeight(weights)
	if err != nil {
		return 0, err
	}
	return ID(idx), nil
}

// Reweight adjusts the originating motif's weight: dividing by Alpha when
// deltaNorm > 0 (reward), multiplying by Alpha when deltaNorm < 0 (penalty),
// leaving it untouched at exactly zero. The whole store is then clipped
// back into bounds.
func (s *Store) Reweight(id ID, deltaNorm float64) error {
	if int(id) < 0 || int(id) >= len(s.motifs) {
		return fmt.Errorf("motif: Reweight: id %d out of range", id)
	}
	switch {
	case deltaNorm > 0:
		s.motifs[id].Weight /= s.bounds.Alpha
	case deltaNorm < 0:
		s.motifs[id].Weight *= s.bounds.Alpha
	}
	s.clip()
	return nil
}

// clip iteratively clamps every weight into [MinFrac*W, MaxFrac*W], where W
// is the current total, until stable or MaxClipIters is reached.
func (s *Store) clip() {
	for iter := 0; iter < s.bounds.MaxClipIters; iter++ {
		w := s.totalWeight()
		if w <= 0 {
			return
		}
		lo := s.bounds.MinFrac * w
		hi := s.bounds.MaxFrac * w
		changed := false
		underflowed := false
		for i := range s.motifs {
			switch {
			case s.motifs[i].Weight < lo:
				s.motifs[i].Weight = lo
				changed = true
				underflowed = true
			case s.motifs[i].Weight > hi:
				s.motifs[i].Weight = hi
				changed = true
			}
		}
		if underflowed && s.onUnderflow != nil {
			// Report against the clipped-at-floor set; exact id attribution
			// isn't meaningful once multiple motifs clip in the same pass.
			for i := range s.motifs {
				if s.motifs[i].Weight == lo {
					s.onUnderflow(ID(i))
					break
				}
			}
		}
		if !changed {
			return
		}
	}
}

// Weights returns a snapshot of every motif's current weight, in id order.
func (s *Store) Weights() []float64 {
	out := make([]float64, len(s.motifs))
	for i, m := range s.motifs {
		out[i] = m.Weight
	}
	return out
}

// All returns a copy of every motif, in id order — used by persistence
// (pfstate) to serialize the full store.
func (s *Store) All() []Motif {
	out := make([]Motif, len(s.motifs))
	copy(out, s.motifs)
	return out
}
