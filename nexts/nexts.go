// Package nexts builds candidate short input sequences from the current
// futures population and backfill motif samples, dedups them, then
// subsamples to a target range.
// Dedup hashing uses hash/maphash rather than a cryptographic hash — no
// pack example hashes short in-process byte sequences for deduplication
// with anything stronger than a plain non-cryptographic hash, and maphash
// is the stdlib-idiomatic choice for an in-process set keyed by []byte.
package nexts

import (
	"fmt"
	"hash/maphash"

	"github.com/sw965/playfun/frame"
	"github.com/sw965/playfun/motif"
	"github.com/sw965/playfun/rng"
)

// Origin tags where a candidate Next came from.
type Origin int

const (
	OriginFuture Origin = iota
	OriginBackfill
	OriginBacktrack
)

// Next is a short candidate input sequence considered for immediate commit.
type Next struct {
	Inputs      frame.Sequence
	Origin      Origin
	FutureIdx   int // meaningful only when Origin == OriginFuture
	MotifID     motif.ID
	Explanation string
}

// FutureSource is the minimal view of a Future the generator needs: its
// current input prefix.
type FutureSource interface {
	Prefix(n int) frame.Sequence
}

// Config bundles the tunables relevant to next generation.
type Config struct {
	NextLen       int // NEXT_LEN
	BackfillCount int // BACKFILL_COUNT
	MinNexts      int // MIN_NEXTS
	MaxNexts      int // MAX_NEXTS
}

var seed = maphash.MakeSeed()

func hashInputs(inputs frame.Sequence) uint64 {
	var h maphash.Hash
	h.SetSeed(seed)
	raw := make([]byte, len(inputs))
	for i, u := range inputs {
		raw[i] = byte(u)
	}
	h.Write(raw)
	return h.Sum64()
}

func dedup(candidates []Next) []Next {
	seen := make(map[uint64]bool, len(candidates))
	out := make([]Next, 0, len(candidates))
	for _, c := range candidates {
		key := hashInputs(c.Inputs)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, c)
	}
	return out
}

// Generate builds, dedups, and subsamples candidate nexts.
func Generate(cfg Config, futures []FutureSource, store *motif.Store, r *rng.Source) ([]Next, error) {
	if cfg.MinNexts <= 0 || cfg.MaxNexts < cfg.MinNexts {
		return nil, fmt.Errorf("nexts: Generate: invalid [MinNexts,MaxNexts]=[%d,%d]", cfg.MinNexts, cfg.MaxNexts)
	}

	fromFutures := make([]Next, 0, len(futures))
	for i, f := range futures {
		prefix := f.Prefix(cfg.NextLen)
		if len(prefix) == 0 {
			continue
		}
		fromFutures = append(fromFutures, Next{
			Inputs:      prefix,
			Origin:      OriginFuture,
			FutureIdx:   i,
			Explanation: fmt.Sprintf("ftr-%d", i),
		})
	}

	backfill := make([]Next, 0, cfg.BackfillCount)
	for i := 0; i < cfg.BackfillCount; i++ {
		id, err := store.Sample(r, true)
		if err != nil {
			return nil, err
		}
		m, err := store.Get(id)
		if err != nil {
			return nil, err
		}
		backfill = append(backfill, Next{
			Inputs:      m.Inputs,
			Origin:      OriginBackfill,
			MotifID:     id,
			Explanation: "backfill",
		})
	}

	fromFutures = dedup(fromFutures)
	backfill = dedup(backfill)

	shuffle := func(xs []Next) {
		r.Shuffle(len(xs), func(i, j int) { xs[i], xs[j] = xs[j], xs[i] })
	}
	shuffle(fromFutures)
	shuffle(backfill)

	target := cfg.MaxNexts
	if len(fromFutures)+len(backfill) < target {
		target = len(fromFutures) + len(backfill)
	}
	if target < cfg.MinNexts && len(fromFutures)+len(backfill) >= cfg.MinNexts {
		target = cfg.MinNexts
	}

	fromFuturesQuota := (target + 1) / 2 // ceil(K/2)
	if fromFuturesQuota > len(fromFutures) {
		fromFuturesQuota = len(fromFutures)
	}

	selected := make([]Next, 0, target)
	selected = append(selected, fromFutures[:fromFuturesQuota]...)
	fromFuturesRemainder := fromFutures[fromFuturesQuota:]

	remaining := target - len(selected)
	if remaining > len(backfill) {
		remaining = len(backfill)
	}
	selected = append(selected, backfill[:remaining]...)

	// Top up from the remaining futures-derived candidates if still short.
	if short := target - len(selected); short > 0 {
		top := short
		if top > len(fromFuturesRemainder) {
			top = len(fromFuturesRemainder)
		}
		selected = append(selected, fromFuturesRemainder[:top]...)
	}

	return selected, nil
}
