package pathint_test

import (
	"testing"

	"github.com/sw965/playfun/emu"
	"github.com/sw965/playfun/frame"
	"github.com/sw965/playfun/objective"
	"github.com/sw965/playfun/pathint"
)

func TestScoreIntegralMatchesStepwiseSum(t *testing.T) {
	e := emu.NewFake(8)
	evaluator := objective.New(objective.Set{
		{Weight: 1.0, Tokens: []objective.Token{0}},
	}, nil)

	start := e.Save()
	inputs := frame.Sequence{frame.Right, frame.Right, frame.Left, frame.Right}

	// Reference: step manually and sum evaluate_magnitude by hand.
	ref := emu.NewFake(8)
	if err := ref.Load(start); err != nil {
		t.Fatalf("Load: %v", err)
	}
	prev := ref.Memory()
	var want float64
	for _, u := range inputs {
		next, err := ref.Step(u)
		if err != nil {
			t.Fatalf("Step: %v", err)
		}
		d, err := evaluator.EvaluateMagnitude(prev, next)
		if err != nil {
			t.Fatalf("EvaluateMagnitude: %v", err)
		}
		want += d
		prev = next
	}

	got, finalMem, err := pathint.ScoreIntegral(emu.NewFake(8), evaluator, start, inputs)
	if err != nil {
		t.Fatalf("ScoreIntegral: %v", err)
	}
	if got != want {
		t.Fatalf("want %v got %v", want, got)
	}
	if string(finalMem) != string(prev) {
		t.Fatalf("final memory mismatch: %v != %v", finalMem, prev)
	}
}

func TestScoreIntegralEmptyInputsIsZero(t *testing.T) {
	e := emu.NewFake(8)
	evaluator := objective.New(objective.Set{{Weight: 1.0, Tokens: []objective.Token{0}}}, nil)
	start := e.Save()

	sum, final, err := pathint.ScoreIntegral(emu.NewFake(8), evaluator, start, nil)
	if err != nil {
		t.Fatalf("ScoreIntegral: %v", err)
	}
	if sum != 0 {
		t.Fatalf("want 0, got %v", sum)
	}
	if string(final) != string(e.Memory()) {
		t.Fatalf("final memory should equal start memory for empty inputs")
	}
}
