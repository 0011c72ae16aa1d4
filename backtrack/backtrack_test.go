package backtrack_test

import (
	"testing"

	"github.com/sw965/playfun/backtrack"
	"github.com/sw965/playfun/commit"
	"github.com/sw965/playfun/emu"
	"github.com/sw965/playfun/frame"
	"github.com/sw965/playfun/motif"
	"github.com/sw965/playfun/nexts"
	"github.com/sw965/playfun/objective"
	"github.com/sw965/playfun/rng"
)

func newEvaluator() *objective.Evaluator {
	return objective.New(objective.Set{{Weight: 1, Tokens: []objective.Token{0}}}, nil)
}

func newRightOnlyStore(t *testing.T) *motif.Store {
	t.Helper()
	s, err := motif.New([]motif.Motif{{Inputs: frame.Sequence{frame.Right}, Weight: 1}}, motif.Bounds{Alpha: 0.5, MinFrac: 0, MaxFrac: 1}, nil)
	if err != nil {
		t.Fatalf("motif.New: %v", err)
	}
	return s
}

func TestTrackerTriggersOnNegativeStreak(t *testing.T) {
	cfg := backtrack.Config{TryBacktrackEvery: 100, StuckThresholdFrac: 0.05} // threshold = 5
	tr := backtrack.NewTracker(cfg)
	var triggered bool
	for i := 0; i < 5; i++ {
		triggered = tr.Observe(-1)
	}
	if !triggered {
		t.Fatalf("expected trigger after streak crossed threshold")
	}
}

func TestTrackerTriggersOnCadence(t *testing.T) {
	cfg := backtrack.Config{TryBacktrackEvery: 3, StuckThresholdFrac: 1.0}
	tr := backtrack.NewTracker(cfg)
	if tr.Observe(1) {
		t.Fatalf("should not trigger on round 1")
	}
	if tr.Observe(1) {
		t.Fatalf("should not trigger on round 2")
	}
	if !tr.Observe(1) {
		t.Fatalf("expected trigger on round 3 (cadence)")
	}
}

func TestSelectSpanRespectsDistanceAndWatermark(t *testing.T) {
	checkpoints := []backtrack.Checkpoint{
		{Movenum: 10},
		{Movenum: 50},
		{Movenum: 90},
	}
	cfg := backtrack.Config{MinBacktrackDistance: 20}
	got, ok := backtrack.SelectSpan(checkpoints, 100, 5, cfg)
	if !ok {
		t.Fatalf("expected a qualifying checkpoint")
	}
	if got.Movenum != 50 {
		t.Fatalf("want most recent checkpoint <= current-distance (80), got movenum=%d", got.Movenum)
	}
}

func TestSelectSpanRejectsBelowWatermark(t *testing.T) {
	checkpoints := []backtrack.Checkpoint{{Movenum: 10}}
	cfg := backtrack.Config{MinBacktrackDistance: 5}
	_, ok := backtrack.SelectSpan(checkpoints, 20, 15, cfg)
	if ok {
		t.Fatalf("expected no checkpoint to qualify below watermark")
	}
}

func TestTryImproveAcceptsBetterReplacement(t *testing.T) {
	e := emu.NewFake(8)
	checkpointState := e.Save()
	checkpoint := backtrack.Checkpoint{Movenum: 0, Savestate: checkpointState}
	evaluator := newEvaluator()
	store := newRightOnlyStore(t)
	r := rng.New([]byte("tryimprove"))

	improveme := frame.Sequence{frame.Left, frame.Left} // clamps at 0, integral 0
	cfg := backtrack.Config{PMask: 0.3, MaxChopIters: 4}

	results, err := backtrack.TryImprove(cfg, e, evaluator, store, checkpoint, improveme, r)
	if err != nil {
		t.Fatalf("TryImprove: %v", err)
	}
	if len(results) < 1 {
		t.Fatalf("expected at least the incumbent candidate")
	}
	if results[0].Origin != nexts.OriginBacktrack || results[0].Explanation != "backtrack-incumbent" {
		t.Fatalf("want incumbent first, got %+v", results[0])
	}
	if len(results) < 2 {
		t.Fatalf("expected at least one accepted replacement beating the clamped-to-zero incumbent")
	}
}

func TestRewindTruncatesMovieAndLoadsState(t *testing.T) {
	master := emu.NewFake(8)
	if _, err := master.Step(frame.Right); err != nil {
		t.Fatalf("Step: %v", err)
	}
	mid := master.Save()
	if _, err := master.Step(frame.Right); err != nil {
		t.Fatalf("Step: %v", err)
	}

	movie := &commit.Movie{
		Inputs:    frame.Sequence{frame.Right, frame.Right},
		Subtitles: []commit.Subtitle{{At: 0, Text: "a"}, {At: 1, Text: "b"}},
	}
	checkpoint := backtrack.Checkpoint{Movenum: 1, Savestate: mid}
	if err := backtrack.Rewind(master, movie, checkpoint); err != nil {
		t.Fatalf("Rewind: %v", err)
	}
	if len(movie.Inputs) != 1 {
		t.Fatalf("want movie truncated to 1 input, got %d", len(movie.Inputs))
	}
	if len(movie.Subtitles) != 1 {
		t.Fatalf("want only subtitle At<1 to survive, got %+v", movie.Subtitles)
	}
	if master.Memory()[0] != 1 {
		t.Fatalf("want master reloaded to mid-state (mem[0]=1), got %d", master.Memory()[0])
	}
}

func TestRewindRejectsCheckpointBeyondMovie(t *testing.T) {
	master := emu.NewFake(8)
	movie := &commit.Movie{Inputs: frame.Sequence{frame.Right}}
	checkpoint := backtrack.Checkpoint{Movenum: 5, Savestate: master.Save()}
	if err := backtrack.Rewind(master, movie, checkpoint); err == nil {
		t.Fatalf("expected error for out-of-range checkpoint")
	}
}
