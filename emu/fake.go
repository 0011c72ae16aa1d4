package emu

import (
	"encoding/binary"
	"fmt"

	"github.com/sw965/playfun/frame"
)

// Fake is a small deterministic in-memory emulator used by every other
// package's tests, standing in for the real NES/console core out of scope
// for this module — the same role the teacher's game/sequential/tictactoe
// package plays for Engine/Actor tests (a minimal, fully specified opponent
// rather than a real game).
//
// Fake's memory model: each direction and A/B button, while held, nudges
// one memory byte up or down (clamped to the byte range; Start and Select
// change nothing), and the last byte is a frame counter. This is enough surface for objective tokens, path integration,
// and persistence round-trips to be exercised meaningfully without a real
// ROM.
type Fake struct {
	mem   []byte
	frame uint32
}

// NewFake returns a Fake with the given memory size, all bytes zeroed.
func NewFake(memSize int) *Fake {
	return &Fake{mem: make([]byte, memSize)}
}

func (f *Fake) Memory() Memory {
	out := make(Memory, len(f.mem))
	copy(out, f.mem)
	return out
}

func (f *Fake) Step(u frame.Buttons) (Memory, error) {
	bump := func(idx int, delta int) {
		if idx < 0 || idx >= len(f.mem) {
			return
		}
		v := int(f.mem[idx]) + delta
		if v < 0 {
			v = 0
		}
		if v > 255 {
			v = 255
		}
		f.mem[idx] = byte(v)
	}

	if u&frame.Right != 0 {
		bump(0, 1)
	}
	if u&frame.Left != 0 {
		bump(0, -1)
	}
	if u&frame.Up != 0 {
		bump(1, 1)
	}
	if u&frame.Down != 0 {
		bump(1, -1)
	}
	if u&frame.A != 0 {
		bump(2, 2)
	}
	if u&frame.B != 0 {
		bump(2, -2)
	}
	f.frame++
	if len(f.mem) > 0 {
		f.mem[len(f.mem)-1] = byte(f.frame)
	}
	return f.Memory(), nil
}

func (f *Fake) Save() Savestate {
	out := make(Savestate, 4+len(f.mem))
	binary.LittleEndian.PutUint32(out, f.frame)
	copy(out[4:], f.mem)
	return out
}

func (f *Fake) Load(s Savestate) error {
	if len(s) < 4 {
		return fmt.Errorf("emu: Fake.Load: savestate too short (%d bytes)", len(s))
	}
	f.frame = binary.LittleEndian.Uint32(s)
	f.mem = append([]byte(nil), s[4:]...)
	return nil
}

// Clone returns an independent Fake loaded from s, satisfying Cloner.
func (f *Fake) Clone(s Savestate) (Emulator, error) {
	clone := &Fake{}
	if err := clone.Load(s); err != nil {
		return nil, err
	}
	return clone, nil
}
