package nexts_test

import (
	"testing"

	"github.com/sw965/playfun/frame"
	"github.com/sw965/playfun/motif"
	"github.com/sw965/playfun/nexts"
	"github.com/sw965/playfun/rng"
)

type fakeFuture struct {
	inputs frame.Sequence
}

func (f fakeFuture) Prefix(n int) frame.Sequence {
	if n > len(f.inputs) {
		n = len(f.inputs)
	}
	return f.inputs[:n]
}

func newStore(t *testing.T) *motif.Store {
	t.Helper()
	motifs := []motif.Motif{
		{Inputs: frame.Sequence{frame.A, frame.Right}, Weight: 1},
		{Inputs: frame.Sequence{frame.B, frame.Left}, Weight: 1},
		{Inputs: frame.Sequence{frame.Up, frame.Down}, Weight: 1},
	}
	s, err := motif.New(motifs, motif.Bounds{Alpha: 0.5, MinFrac: 0, MaxFrac: 1}, nil)
	if err != nil {
		t.Fatalf("motif.New: %v", err)
	}
	return s
}

func TestGenerateWithinBounds(t *testing.T) {
	store := newStore(t)
	r := rng.New([]byte("nexts-seed"))

	futures := make([]nexts.FutureSource, 0, 10)
	for i := 0; i < 10; i++ {
		futures = append(futures, fakeFuture{inputs: frame.Sequence{frame.Right, frame.A, frame.B, frame.Up}})
	}

	cfg := nexts.Config{NextLen: 3, BackfillCount: 5, MinNexts: 4, MaxNexts: 8}
	out, err := nexts.Generate(cfg, futures, store, r)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if len(out) < cfg.MinNexts || len(out) > cfg.MaxNexts {
		t.Fatalf("len(out)=%d outside [%d,%d]", len(out), cfg.MinNexts, cfg.MaxNexts)
	}
}

func TestGenerateReproducible(t *testing.T) {
	store := newStore(t)
	futures := []nexts.FutureSource{
		fakeFuture{inputs: frame.Sequence{frame.Right, frame.A}},
		fakeFuture{inputs: frame.Sequence{frame.Left, frame.B}},
	}
	cfg := nexts.Config{NextLen: 2, BackfillCount: 4, MinNexts: 2, MaxNexts: 6}

	ra := rng.New([]byte("repro"))
	rb := rng.New([]byte("repro"))
	outA, err := nexts.Generate(cfg, futures, store, ra)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	outB, err := nexts.Generate(cfg, futures, store, rb)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if len(outA) != len(outB) {
		t.Fatalf("lengths differ: %d != %d", len(outA), len(outB))
	}
	for i := range outA {
		if string(toBytes(outA[i].Inputs)) != string(toBytes(outB[i].Inputs)) {
			t.Fatalf("candidate %d differs", i)
		}
	}
}

func toBytes(s frame.Sequence) []byte {
	out := make([]byte, len(s))
	for i, u := range s {
		out[i] = byte(u)
	}
	return out
}

func TestGenerateDedups(t *testing.T) {
	store := newStore(t)
	r := rng.New([]byte("dedup"))
	// All futures share the identical prefix so the futures-derived
	// candidate set should collapse to one entry before subsampling.
	futures := []nexts.FutureSource{
		fakeFuture{inputs: frame.Sequence{frame.A, frame.A}},
		fakeFuture{inputs: frame.Sequence{frame.A, frame.A}},
		fakeFuture{inputs: frame.Sequence{frame.A, frame.A}},
	}
	cfg := nexts.Config{NextLen: 2, BackfillCount: 0, MinNexts: 1, MaxNexts: 4}
	out, err := nexts.Generate(cfg, futures, store, r)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if len(out) != 1 {
		t.Fatalf("want exactly 1 deduped candidate, got %d", len(out))
	}
}
