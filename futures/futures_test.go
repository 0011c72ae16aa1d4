package futures_test

import (
	"testing"

	"github.com/sw965/playfun/frame"
	"github.com/sw965/playfun/futures"
	"github.com/sw965/playfun/motif"
	"github.com/sw965/playfun/rng"
)

func newStore(t *testing.T) *motif.Store {
	t.Helper()
	motifs := []motif.Motif{
		{Inputs: frame.Sequence{frame.A, frame.Right}, Weight: 1},
		{Inputs: frame.Sequence{frame.B, frame.Left}, Weight: 1},
		{Inputs: frame.Sequence{frame.Up, frame.Down, frame.A}, Weight: 1},
	}
	s, err := motif.New(motifs, motif.Bounds{Alpha: 0.5, MinFrac: 0, MaxFrac: 1}, nil)
	if err != nil {
		t.Fatalf("motif.New: %v", err)
	}
	return s
}

func baseConfig() futures.Config {
	return futures.Config{
		MinFutureLength:       4,
		MaxFutureLength:       20,
		MinFutures:            4,
		MaxFutures:            16,
		NFuturesStepFrac:      0.05,
		DesiredLengthStepFrac: 0.10,
		DropFutures:           1,
		MutateFutures:         1,
	}
}

func TestPopulateReachesTarget(t *testing.T) {
	store := newStore(t)
	r := rng.New([]byte("populate"))
	pop, err := futures.New(baseConfig(), store, 8)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := pop.Populate(r); err != nil {
		t.Fatalf("Populate: %v", err)
	}
	if len(pop.Futures()) != pop.NFutures() {
		t.Fatalf("len(Futures())=%d != NFutures()=%d", len(pop.Futures()), pop.NFutures())
	}
	for _, f := range pop.Futures() {
		if len(f.Inputs) < baseConfig().MinFutureLength || len(f.Inputs) > baseConfig().MaxFutureLength {
			t.Fatalf("future length %d outside [%d,%d]", len(f.Inputs), baseConfig().MinFutureLength, baseConfig().MaxFutureLength)
		}
	}
}

func TestNewClampsInitialSize(t *testing.T) {
	store := newStore(t)
	cfg := baseConfig()
	pop, err := futures.New(cfg, store, 1000)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if pop.NFutures() != cfg.MaxFutures {
		t.Fatalf("want clamp to MaxFutures=%d, got %d", cfg.MaxFutures, pop.NFutures())
	}
}

// totals [3,-2,5,0] should drop index 1 first, then index 3.
func TestPruneDropsLowestWithAscendingTieBreak(t *testing.T) {
	store := newStore(t)
	cfg := baseConfig()
	cfg.DropFutures = 2
	cfg.MutateFutures = 0
	pop, err := futures.New(cfg, store, 4)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	r := rng.New([]byte("prune"))
	if err := pop.Populate(r); err != nil {
		t.Fatalf("Populate: %v", err)
	}

	totals := []float64{3, -2, 5, 0}
	if err := pop.RecordTotals(totals); err != nil {
		t.Fatalf("RecordTotals: %v", err)
	}
	before := make([]frame.Sequence, len(pop.Futures()))
	for i, f := range pop.Futures() {
		before[i] = f.Inputs
	}

	if err := pop.AdaptPruneMutateAndPopulate(r); err != nil {
		t.Fatalf("AdaptPruneMutateAndPopulate: %v", err)
	}

	survivors := pop.Futures()
	// original indices 1 and 3 (totals -2 and 0, the two lowest) must be gone;
	// indices 0 and 2 (totals 3 and 5) must remain among the survivors.
	stillHasInputs := func(want frame.Sequence) bool {
		for _, f := range survivors {
			if sameSeq(f.Inputs, want) {
				return true
			}
		}
		return false
	}
	if !stillHasInputs(before[0]) {
		t.Fatalf("expected original index 0 (total 3) to survive pruning")
	}
	if !stillHasInputs(before[2]) {
		t.Fatalf("expected original index 2 (total 5) to survive pruning")
	}
}

func sameSeq(a, b frame.Sequence) bool {
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

func TestAdaptPruneMutateAndPopulateRestoresSize(t *testing.T) {
	store := newStore(t)
	r := rng.New([]byte("restore-size"))
	pop, err := futures.New(baseConfig(), store, 6)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := pop.Populate(r); err != nil {
		t.Fatalf("Populate: %v", err)
	}

	totals := make([]float64, len(pop.Futures()))
	for i := range totals {
		totals[i] = float64(i) - 2 // mix of positive and negative
	}
	if err := pop.RecordTotals(totals); err != nil {
		t.Fatalf("RecordTotals: %v", err)
	}
	if err := pop.AdaptPruneMutateAndPopulate(r); err != nil {
		t.Fatalf("AdaptPruneMutateAndPopulate: %v", err)
	}
	if len(pop.Futures()) != pop.NFutures() {
		t.Fatalf("population size %d != target %d after maintenance pass", len(pop.Futures()), pop.NFutures())
	}
}

func TestWorkingSetGrowsWhenMostlyNonPositive(t *testing.T) {
	store := newStore(t)
	cfg := baseConfig()
	pop, err := futures.New(cfg, store, 10)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	r := rng.New([]byte("grow"))
	if err := pop.Populate(r); err != nil {
		t.Fatalf("Populate: %v", err)
	}
	totals := make([]float64, len(pop.Futures()))
	for i := range totals {
		totals[i] = -1 // every future paid off negatively -> grow working set
	}
	if err := pop.RecordTotals(totals); err != nil {
		t.Fatalf("RecordTotals: %v", err)
	}
	before := pop.NFutures()
	if err := pop.AdaptPruneMutateAndPopulate(r); err != nil {
		t.Fatalf("AdaptPruneMutateAndPopulate: %v", err)
	}
	if pop.NFutures() <= before {
		t.Fatalf("expected working set to grow from %d, got %d", before, pop.NFutures())
	}
}

func TestWorkingSetShrinksWhenMostlyPositive(t *testing.T) {
	store := newStore(t)
	cfg := baseConfig()
	pop, err := futures.New(cfg, store, 10)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	r := rng.New([]byte("shrink"))
	if err := pop.Populate(r); err != nil {
		t.Fatalf("Populate: %v", err)
	}
	totals := make([]float64, len(pop.Futures()))
	for i := range totals {
		totals[i] = 1 // every future paid off positively -> shrink working set
	}
	if err := pop.RecordTotals(totals); err != nil {
		t.Fatalf("RecordTotals: %v", err)
	}
	before := pop.NFutures()
	if err := pop.AdaptPruneMutateAndPopulate(r); err != nil {
		t.Fatalf("AdaptPruneMutateAndPopulate: %v", err)
	}
	if pop.NFutures() >= before {
		t.Fatalf("expected working set to shrink from %d, got %d", before, pop.NFutures())
	}
}

func TestRecordTotalsRejectsLengthMismatch(t *testing.T) {
	store := newStore(t)
	pop, err := futures.New(baseConfig(), store, 4)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	r := rng.New([]byte("mismatch"))
	if err := pop.Populate(r); err != nil {
		t.Fatalf("Populate: %v", err)
	}
	if err := pop.RecordTotals([]float64{1, 2}); err == nil {
		t.Fatalf("expected error for length mismatch")
	}
}
