// Package objective implements pure scoring of memory-snapshot transitions
// against a set of weighted objectives mined offline elsewhere — objectives
// arrive here as already-parsed data.
package objective

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
)

// Token bit layout: bit 30 decreasing-is-good, bit 29 signed, bits 0-28
// memory byte index. Bit 31 must be zero on write and is ignored on read.
type Token uint32

const (
	decreasingBit Token = 1 << 30
	signedBit     Token = 1 << 29
	indexMask     Token = (1 << 29) - 1
)

// Index returns the memory byte index this token reads.
func (t Token) Index() int { return int(t & indexMask) }

// Decreasing reports whether a smaller byte value ranks higher.
func (t Token) Decreasing() bool { return t&decreasingBit != 0 }

// Signed reports whether the byte should be reinterpreted as two's
// complement before ranking.
func (t Token) Signed() bool { return t&signedBit != 0 }

// rankKey maps a memory snapshot through this token's flags into a
// comparable float64, honoring signed reinterpretation and inversion.
func (t Token) rankKey(m []byte) (float64, error) {
	idx := t.Index()
	if idx >= len(m) {
		return 0, fmt.Errorf("objective: token index %d out of range (len=%d)", idx, len(m))
	}
	b := m[idx]
	var v float64
	if t.Signed() {
		v = float64(int8(b))
	} else {
		v = float64(b)
	}
	if t.Decreasing() {
		v = -v
	}
	return v, nil
}

// Objective is a weighted, ordered list of tokens, ranked lexicographically
// over the token list.
type Objective struct {
	Weight float64
	Tokens []Token
}

// Set is the full mined objective set the engine scores transitions
// against.
type Set []Objective

// rank computes the lexicographic rank key vector for m: one float64 per
// token, in token order. A strictly earlier token's change dominates
// lexicographic order exactly when its own delta is nonzero, so contribution
// below can just walk the keys in order and stop at the first nonzero delta.
func (o Objective) rank(m []byte) ([]float64, error) {
	keys := make([]float64, len(o.Tokens))
	for i, tok := range o.Tokens {
		k, err := tok.rankKey(m)
		if err != nil {
			return nil, err
		}
		keys[i] = k
	}
	return keys, nil
}

// contribution returns this objective's signed contribution to
// evaluate_magnitude(prev, next): the weight times the first tokens'
// lexicographic delta, where "first" means the earliest token whose rank
// key differs between prev and next (ties fall through to the next token,
// exactly as lexicographic ordering requires).
func (o Objective) contribution(prevRank, nextRank []float64) float64 {
	for i := range prevRank {
		d := nextRank[i] - prevRank[i]
		if d != 0 {
			return o.Weight * d
		}
	}
	return 0
}

// Evaluator is a pure, stateless scorer: identical inputs always produce
// identical outputs.
type Evaluator struct {
	Objectives Set
	onAnomaly  func(format string, args ...any)
}

// New builds an Evaluator over a mined objective set. onAnomaly, if non-nil,
// is called once for each objective whose contribution comes out NaN
// (infinite contributions are not reported); the engine wires this to
// logrus.Warn.
func New(objectives Set, onAnomaly func(string, ...any)) *Evaluator {
	return &Evaluator{Objectives: objectives, onAnomaly: onAnomaly}
}

func (e *Evaluator) warn(format string, args ...any) {
	if e.onAnomaly != nil {
		e.onAnomaly(format, args...)
	}
}

// perObjectiveContributions computes one contribution per objective, in
// objective order, with NaN-poisoned objectives replaced by -Inf: a
// poisoned objective must rank last, never propagate as a valid score.
func (e *Evaluator) perObjectiveContributions(prev, next []byte) ([]float64, error) {
	contributions := make([]float64, len(e.Objectives))
	for i, o := range e.Objectives {
		prevRank, err := o.rank(prev)
		if err != nil {
			return nil, err
		}
		nextRank, err := o.rank(next)
		if err != nil {
			return nil, err
		}
		c := o.contribution(prevRank, nextRank)
		if math.IsNaN(c) {
			e.warn("objective: NaN contribution from objective %d, treating as -Inf", i)
			c = math.Inf(-1)
		}
		contributions[i] = c
	}
	return contributions, nil
}

// EvaluateMagnitude sums each objective's contribution to the transition
// prev->next, using a fixed, index-ordered reduction (gonum/floats.Sum)
// rather than an order-dependent parallel reduction, so ties stay
// reproducible across machines. EvaluateMagnitude(m, m) is always 0.
func (e *Evaluator) EvaluateMagnitude(prev, next []byte) (float64, error) {
	contributions, err := e.perObjectiveContributions(prev, next)
	if err != nil {
		return 0, err
	}
	return floats.Sum(contributions), nil
}

// DeltaMagnitude partitions the same per-objective contributions by sign:
// pos is the index-ordered sum of non-negative contributions, neg the sum
// of negative ones. pos + neg always equals EvaluateMagnitude(prev, next),
// to floating-point reduction order.
func (e *Evaluator) DeltaMagnitude(prev, next []byte) (pos, neg float64, err error) {
	contributions, err := e.perObjectiveContributions(prev, next)
	if err != nil {
		return 0, 0, err
	}
	posContrib := make([]float64, 0, len(contributions))
	negContrib := make([]float64, 0, len(contributions))
	for _, c := range contributions {
		if c < 0 {
			negContrib = append(negContrib, c)
		} else {
			posContrib = append(posContrib, c)
		}
	}
	return floats.Sum(posContrib), floats.Sum(negContrib), nil
}
