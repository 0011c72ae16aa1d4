package objective_test

import (
	"math"
	"testing"

	"github.com/sw965/playfun/objective"
)

func TestIdentityIsZero(t *testing.T) {
	e := objective.New(objective.Set{
		{Weight: 1.0, Tokens: []objective.Token{0}},
		{Weight: 2.5, Tokens: []objective.Token{1}},
	}, nil)

	m := []byte{10, 20, 30}
	mag, err := e.EvaluateMagnitude(m, m)
	if err != nil {
		t.Fatalf("EvaluateMagnitude: %v", err)
	}
	if mag != 0 {
		t.Fatalf("want 0, got %v", mag)
	}

	pos, neg, err := e.DeltaMagnitude(m, m)
	if err != nil {
		t.Fatalf("DeltaMagnitude: %v", err)
	}
	if pos != 0 || neg != 0 {
		t.Fatalf("want (0,0), got (%v,%v)", pos, neg)
	}
}

func TestDeltaSanity(t *testing.T) {
	e := objective.New(objective.Set{
		{Weight: 1.0, Tokens: []objective.Token{0}},
	}, nil)

	prev := []byte{0, 0, 0}
	next := []byte{3, 0, 0}
	pos, neg, err := e.DeltaMagnitude(prev, next)
	if err != nil {
		t.Fatalf("DeltaMagnitude: %v", err)
	}
	if pos != 3 || neg != 0 {
		t.Fatalf("want pos=3 neg=0, got pos=%v neg=%v", pos, neg)
	}

	e2 := objective.New(objective.Set{
		{Weight: 1.0, Tokens: []objective.Token{2 | decreasingBitForTest()}},
	}, nil)
	next2 := []byte{0, 0, 2}
	pos2, neg2, err := e2.DeltaMagnitude(prev, next2)
	if err != nil {
		t.Fatalf("DeltaMagnitude: %v", err)
	}
	if pos2 != 0 || neg2 != -2 {
		t.Fatalf("want pos=0 neg=-2, got pos=%v neg=%v", pos2, neg2)
	}
}

func decreasingBitForTest() objective.Token { return 1 << 30 }

func TestPosPlusNegEqualsMagnitude(t *testing.T) {
	e := objective.New(objective.Set{
		{Weight: 1.5, Tokens: []objective.Token{0, 1}},
		{Weight: -2.0, Tokens: []objective.Token{2}},
	}, nil)

	prev := []byte{5, 200, 9}
	next := []byte{12, 3, 250}

	mag, err := e.EvaluateMagnitude(prev, next)
	if err != nil {
		t.Fatalf("EvaluateMagnitude: %v", err)
	}
	pos, neg, err := e.DeltaMagnitude(prev, next)
	if err != nil {
		t.Fatalf("DeltaMagnitude: %v", err)
	}
	if math.Abs((pos+neg)-mag) > 1e-9 {
		t.Fatalf("pos+neg=%v != magnitude=%v", pos+neg, mag)
	}
}

func TestSignedReinterpretation(t *testing.T) {
	signed := objective.Token(0) | (1 << 29)
	e := objective.New(objective.Set{
		{Weight: 1.0, Tokens: []objective.Token{signed}},
	}, nil)

	prev := []byte{0xFF} // -1 signed
	next := []byte{0x01} // 1 signed
	mag, err := e.EvaluateMagnitude(prev, next)
	if err != nil {
		t.Fatalf("EvaluateMagnitude: %v", err)
	}
	if mag != 2 {
		t.Fatalf("want 2 (1 - (-1)), got %v", mag)
	}
}

func TestLexicographicOrderingWithinObjective(t *testing.T) {
	// Two tokens: first ties, second decides the ordering direction.
	e := objective.New(objective.Set{
		{Weight: 1.0, Tokens: []objective.Token{0, 1}},
	}, nil)

	prev := []byte{5, 10}
	next := []byte{5, 20} // first token ties, second increases by 10
	mag, err := e.EvaluateMagnitude(prev, next)
	if err != nil {
		t.Fatalf("EvaluateMagnitude: %v", err)
	}
	if mag != 10 {
		t.Fatalf("want 10, got %v", mag)
	}
}

func TestTokenOutOfRange(t *testing.T) {
	e := objective.New(objective.Set{
		{Weight: 1.0, Tokens: []objective.Token{100}},
	}, nil)
	_, err := e.EvaluateMagnitude([]byte{1, 2}, []byte{3, 4})
	if err == nil {
		t.Fatalf("expected out-of-range error")
	}
}
