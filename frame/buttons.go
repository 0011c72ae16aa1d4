// Package frame defines the opaque per-frame input record the search engine
// commits to the emulator, plus the button-level operations (dualize,
// ablation masks) that TryImprove and the futures mutator need.
package frame

// Buttons is the one-byte NES-style controller state of a single input
// frame. Movies, motifs, and candidate sequences are all []Buttons.
type Buttons byte

const (
	Right Buttons = 1 << iota
	Left
	Down
	Up
	Start
	Select
	B
	A
)

// Sequence is a committed or candidate run of input frames.
type Sequence []Buttons

// Clone returns an independent copy.
func (s Sequence) Clone() Sequence {
	out := make(Sequence, len(s))
	copy(out, s)
	return out
}

// Dualize swaps Left<->Right, Up<->Down, A<->B, Start<->Select on every
// frame, for the futures mutator and TryImprove's OPPOSITES family.
func Dualize(u Buttons) Buttons {
	var out Buttons
	if u&Right != 0 {
		out |= Left
	}
	if u&Left != 0 {
		out |= Right
	}
	if u&Down != 0 {
		out |= Up
	}
	if u&Up != 0 {
		out |= Down
	}
	if u&B != 0 {
		out |= A
	}
	if u&A != 0 {
		out |= B
	}
	if u&Select != 0 {
		out |= Start
	}
	if u&Start != 0 {
		out |= Select
	}
	return out
}

// DualizeSequence returns a new sequence with every frame dualized.
func (s Sequence) DualizeSequence() Sequence {
	out := make(Sequence, len(s))
	for i, u := range s {
		out[i] = Dualize(u)
	}
	return out
}

// Reverse returns a new sequence with the whole thing reversed.
func (s Sequence) Reverse() Sequence {
	n := len(s)
	out := make(Sequence, n)
	for i, u := range s {
		out[n-1-i] = u
	}
	return out
}

// ReverseSpan returns a copy of s with s[start:start+length] reversed; s
// itself is not modified. length<=1 is idempotent; start and length are clamped to the slice
// bounds.
func ReverseSpan(s Sequence, start, length int) Sequence {
	out := s.Clone()
	if length <= 1 {
		return out
	}
	end := start + length
	if end > len(out) {
		end = len(out)
	}
	if start < 0 {
		start = 0
	}
	for i, j := start, end-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}

// AblationMask returns a copy of s with every button in mask cleared from
// every frame, for TryImprove's ABLATION family. The zero mask (clears
// nothing, a total no-op ablation) must be excluded by the caller.
func AblationMask(s Sequence, mask Buttons) Sequence {
	out := make(Sequence, len(s))
	clear := ^mask
	for i, u := range s {
		out[i] = u & clear
	}
	return out
}

// AllButtons enumerates every distinct button bit, for ABLATION subset
// generation.
var AllButtons = [8]Buttons{Right, Left, Down, Up, Start, Select, B, A}
