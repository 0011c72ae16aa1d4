// Package pfstate implements persistence: a fixed binary snapshot of the
// engine's full state (identified by its magic number; the layout carries no
// version field), encoded by hand with
// encoding/binary rather than encoding/gob. The wire layout is an explicit
// magic number, explicit field-by-field lengths, and IEEE-754 raw weight
// bytes meant to be readable by external tooling
// without a Go gob decoder — exactly the case gob's self-describing format
// cannot produce. This is the second and last package in the module that
// reimplements something a library (gobx, used everywhere else in the
// teacher's own persistence) would otherwise cover; see DESIGN.md.
package pfstate

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/sw965/playfun/commit"
	"github.com/sw965/playfun/emu"
	"github.com/sw965/playfun/frame"
	"github.com/sw965/playfun/motif"
)

// Magic identifies a playfun snapshot. Readers must reject any other value.
var Magic = [4]byte{'P', 'F', 'S', 'T'}

// Checkpoint is the single latest checkpoint the snapshot retains, used to
// seed backtrack.SelectSpan's history after a resume.
type Checkpoint struct {
	Movenum   int32
	Savestate emu.Savestate
}

// MotifWeight is one motif's persisted weight and input sequence.
type MotifWeight struct {
	Weight float64
	Inputs frame.Sequence
}

// State is the engine's full persisted state.
type State struct {
	Game            string
	Watermark       int32
	MovieInputs     frame.Sequence
	Subtitles       []commit.Subtitle
	Memories        []emu.Memory
	LatestCheckpoint Checkpoint
	MotifWeights    []MotifWeight
	NFutures        uint32
	RNGState        []byte
}

func writeBytes(w io.Writer, b []byte) error {
	if err := binary.Write(w, binary.LittleEndian, uint32(len(b))); err != nil {
		return err
	}
	_, err := w.Write(b)
	return err
}

func readBytes(r io.Reader) ([]byte, error) {
	var n uint32
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return nil, err
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

func sequenceToBytes(s frame.Sequence) []byte {
	out := make([]byte, len(s))
	for i, u := range s {
		out[i] = byte(u)
	}
	return out
}

func bytesToSequence(b []byte) frame.Sequence {
	out := make(frame.Sequence, len(b))
	for i, v := range b {
		out[i] = frame.Buttons(v)
	}
	return out
}

func encodeSubtitle(s commit.Subtitle) []byte {
	return []byte(strconv.Itoa(s.At) + ":" + s.Text)
}

func decodeSubtitle(b []byte) (commit.Subtitle, error) {
	parts := strings.SplitN(string(b), ":", 2)
	if len(parts) != 2 {
		return commit.Subtitle{}, fmt.Errorf("pfstate: malformed subtitle %q", b)
	}
	at, err := strconv.Atoi(parts[0])
	if err != nil {
		return commit.Subtitle{}, fmt.Errorf("pfstate: malformed subtitle offset: %w", err)
	}
	return commit.Subtitle{At: at, Text: parts[1]}, nil
}

// Save writes s to w in the fixed binary wire layout.
func Save(w io.Writer, s State) error {
	bw := bufio.NewWriter(w)

	if _, err := bw.Write(Magic[:]); err != nil {
		return err
	}
	if err := writeBytes(bw, []byte(s.Game)); err != nil {
		return err
	}
	if err := binary.Write(bw, binary.LittleEndian, s.Watermark); err != nil {
		return err
	}
	if err := writeBytes(bw, sequenceToBytes(s.MovieInputs)); err != nil {
		return err
	}

	if err := binary.Write(bw, binary.LittleEndian, uint32(len(s.Subtitles))); err != nil {
		return err
	}
	for _, sub := range s.Subtitles {
		if err := writeBytes(bw, encodeSubtitle(sub)); err != nil {
			return err
		}
	}

	if err := binary.Write(bw, binary.LittleEndian, uint32(len(s.Memories))); err != nil {
		return err
	}
	for _, m := range s.Memories {
		if err := writeBytes(bw, m); err != nil {
			return err
		}
	}

	if err := binary.Write(bw, binary.LittleEndian, s.LatestCheckpoint.Movenum); err != nil {
		return err
	}
	if err := writeBytes(bw, s.LatestCheckpoint.Savestate); err != nil {
		return err
	}

	if err := binary.Write(bw, binary.LittleEndian, uint32(len(s.MotifWeights))); err != nil {
		return err
	}
	for _, mw := range s.MotifWeights {
		if err := binary.Write(bw, binary.LittleEndian, math.Float64bits(mw.Weight)); err != nil {
			return err
		}
		if err := writeBytes(bw, sequenceToBytes(mw.Inputs)); err != nil {
			return err
		}
	}

	if err := binary.Write(bw, binary.LittleEndian, s.NFutures); err != nil {
		return err
	}
	if err := writeBytes(bw, s.RNGState); err != nil {
		return err
	}

	return bw.Flush()
}

// Load reads a State from r in the fixed binary wire layout. It does not
// itself classify errors as a corrupt snapshot; callers that need warm-up-
// on-corruption semantics should use LoadOrCold.
func Load(r io.Reader) (State, error) {
	var magic [4]byte
	if _, err := io.ReadFull(r, magic[:]); err != nil {
		return State{}, fmt.Errorf("pfstate: Load: %w", err)
	}
	if magic != Magic {
		return State{}, fmt.Errorf("pfstate: Load: bad magic %q", magic)
	}

	gameBytes, err := readBytes(r)
	if err != nil {
		return State{}, fmt.Errorf("pfstate: Load: game: %w", err)
	}

	var s State
	s.Game = string(gameBytes)

	if err := binary.Read(r, binary.LittleEndian, &s.Watermark); err != nil {
		return State{}, fmt.Errorf("pfstate: Load: watermark: %w", err)
	}

	movieBytes, err := readBytes(r)
	if err != nil {
		return State{}, fmt.Errorf("pfstate: Load: movie: %w", err)
	}
	s.MovieInputs = bytesToSequence(movieBytes)

	var subtitleCount uint32
	if err := binary.Read(r, binary.LittleEndian, &subtitleCount); err != nil {
		return State{}, fmt.Errorf("pfstate: Load: subtitle count: %w", err)
	}
	s.Subtitles = make([]commit.Subtitle, subtitleCount)
	for i := range s.Subtitles {
		raw, err := readBytes(r)
		if err != nil {
			return State{}, fmt.Errorf("pfstate: Load: subtitle %d: %w", i, err)
		}
		sub, err := decodeSubtitle(raw)
		if err != nil {
			return State{}, fmt.Errorf("pfstate: Load: subtitle %d: %w", i, err)
		}
		s.Subtitles[i] = sub
	}

	var memCount uint32
	if err := binary.Read(r, binary.LittleEndian, &memCount); err != nil {
		return State{}, fmt.Errorf("pfstate: Load: memory count: %w", err)
	}
	s.Memories = make([]emu.Memory, memCount)
	for i := range s.Memories {
		raw, err := readBytes(r)
		if err != nil {
			return State{}, fmt.Errorf("pfstate: Load: memory %d: %w", i, err)
		}
		s.Memories[i] = emu.Memory(raw)
	}

	if err := binary.Read(r, binary.LittleEndian, &s.LatestCheckpoint.Movenum); err != nil {
		return State{}, fmt.Errorf("pfstate: Load: checkpoint movenum: %w", err)
	}
	savestateBytes, err := readBytes(r)
	if err != nil {
		return State{}, fmt.Errorf("pfstate: Load: checkpoint savestate: %w", err)
	}
	s.LatestCheckpoint.Savestate = emu.Savestate(savestateBytes)

	var motifCount uint32
	if err := binary.Read(r, binary.LittleEndian, &motifCount); err != nil {
		return State{}, fmt.Errorf("pfstate: Load: motif count: %w", err)
	}
	s.MotifWeights = make([]MotifWeight, motifCount)
	for i := range s.MotifWeights {
		var bits uint64
		if err := binary.Read(r, binary.LittleEndian, &bits); err != nil {
			return State{}, fmt.Errorf("pfstate: Load: motif %d weight: %w", i, err)
		}
		raw, err := readBytes(r)
		if err != nil {
			return State{}, fmt.Errorf("pfstate: Load: motif %d inputs: %w", i, err)
		}
		s.MotifWeights[i] = MotifWeight{Weight: math.Float64frombits(bits), Inputs: bytesToSequence(raw)}
	}

	if err := binary.Read(r, binary.LittleEndian, &s.NFutures); err != nil {
		return State{}, fmt.Errorf("pfstate: Load: nfutures: %w", err)
	}

	s.RNGState, err = readBytes(r)
	if err != nil {
		return State{}, fmt.Errorf("pfstate: Load: rng state: %w", err)
	}

	return s, nil
}

// FromMotifStore snapshots a motif.Store's current weights for persistence.
func FromMotifStore(store *motif.Store) []MotifWeight {
	all := store.All()
	out := make([]MotifWeight, len(all))
	for i, m := range all {
		out[i] = MotifWeight{Weight: m.Weight, Inputs: m.Inputs}
	}
	return out
}

// ClampNFutures clamps a loaded nfutures_ value into [min,max] on load.
func ClampNFutures(n, min, max uint32) uint32 {
	if n < min {
		return min
	}
	if n > max {
		return max
	}
	return n
}

// SaveFile writes s to path, overwriting any existing file.
func SaveFile(path string, s State) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("pfstate: SaveFile: %w", err)
	}
	defer f.Close()
	return Save(f, s)
}

// LoadOrCold loads path if present and valid, returning (state, true, nil).
// A missing file returns (zero State, false, nil) — cold start, no error. A
// present-but-corrupt file (bad magic, truncated, or a game mismatch against
// wantGame) is logged via onCorrupt (if non-nil) and treated exactly like a
// missing file, never returned as an error.
func LoadOrCold(path, wantGame string, onCorrupt func(error)) (State, bool, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return State{}, false, nil
		}
		return State{}, false, fmt.Errorf("pfstate: LoadOrCold: %w", err)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		if onCorrupt != nil {
			onCorrupt(err)
		}
		return State{}, false, nil
	}

	s, err := Load(bytes.NewReader(data))
	if err != nil {
		if onCorrupt != nil {
			onCorrupt(err)
		}
		return State{}, false, nil
	}
	if wantGame != "" && s.Game != wantGame {
		if onCorrupt != nil {
			onCorrupt(fmt.Errorf("pfstate: LoadOrCold: game mismatch: want %q, got %q", wantGame, s.Game))
		}
		return State{}, false, nil
	}

	return s, true, nil
}
