// Package emu declares the Emulator contract the search engine drives. The
// emulator itself — ROM loading, input devices, the actual NES/console core
// — is an external collaborator out of scope for this module; only the
// interface and a deterministic in-memory fake (used by every other
// package's tests) live here.
package emu

import "github.com/sw965/playfun/frame"

// Savestate is an opaque emulator-produced byte blob. load(save(s)) must
// yield a behaviorally identical emulator state.
type Savestate []byte

// Memory is an ordered, fixed-length byte vector produced after every step.
type Memory []byte

// Emulator is the contract the search engine consumes. step is
// deterministic given (current savestate, input). Implementations are not
// required to be thread-safe: the engine loads a private instance (or a
// private copy of a shared one) per concurrent worker.
type Emulator interface {
	Save() Savestate
	Load(Savestate) error
	Step(frame.Buttons) (Memory, error)
	Memory() Memory
}

// Cloner is implemented by emulators that can cheaply produce an
// independent instance loaded from a savestate, for the evaluator's
// per-worker clones. Engines without a cheap clone can instead share one
// Emulator per worker and call Load before each use.
type Cloner interface {
	Emulator
	Clone(Savestate) (Emulator, error)
}
