// Package unfinalized implements the Unfinalized Blocks Tracker (spec.md
// §4.10): it records a rolling window of recently finalized headers and
// checks that each new header's PrevHash matches the Hash already recorded
// for height-1. A mismatch means a block previously treated as finalized
// was actually on a fork that got reorganized out, so the tracker reports
// the height of the header that broke the chain as a reindex signal. Grounded on the teacher's
// internal/pipeline/reorgdetector.Detector: its parent-hash chain
// continuity check (verifyParentHashChain, detector.go) is the same
// no-RPC, hash-chain-comparison idiom, simplified here to a single-chain
// rolling window since this engine tracks its own chain's finalized
// headers rather than comparing indexed records against fresh RPC reads.
package unfinalized

import (
	"log/slog"
	"sync"

	"github.com/near-indexer/engine/internal/metrics"
	"github.com/near-indexer/engine/internal/model"
)

const defaultWindow = 256

// ReindexFunc is invoked when a fork is detected; forkHeight is the height
// of the finalized header whose PrevHash did not match the hash recorded
// for the height below it (spec.md §4.10's reindexBlockHeight).
type ReindexFunc func(forkHeight int64)

// Tracker records recent finalized headers and detects when one no longer
// chains to the next, per spec.md §4.10.
type Tracker struct {
	mu      sync.Mutex
	window  int
	hashes  map[int64]string // height -> hash
	onFork  ReindexFunc
	logger  *slog.Logger
	chain   string
	network string
}

// Option configures a Tracker.
type Option func(*Tracker)

func WithWindow(n int) Option {
	return func(t *Tracker) {
		if n > 0 {
			t.window = n
		}
	}
}

func WithReindexCallback(fn ReindexFunc) Option {
	return func(t *Tracker) { t.onFork = fn }
}

func WithLogger(l *slog.Logger) Option {
	return func(t *Tracker) { t.logger = l }
}

func New(opts ...Option) *Tracker {
	t := &Tracker{
		window:  defaultWindow,
		hashes:  make(map[int64]string),
		logger:  slog.Default(),
		chain:   "near",
		network: "mainnet",
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// ObserveFinalizedHeader satisfies internal/scheduler.FinalizedHeaderObserver:
// it records header and checks PrevHash continuity against the previous
// height's recorded hash. On mismatch it invokes the reindex callback with
// the header's height and discards every recorded hash from the height
// below it onward (that recorded hash is the one the header contradicts),
// so a later re-finalization is checked afresh.
func (t *Tracker) ObserveFinalizedHeader(header model.Header) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if prevHash, ok := t.hashes[header.Height-1]; ok && header.PrevHash != "" && prevHash != header.PrevHash {
		t.logger.Warn("unfinalized tracker detected fork",
			"height", header.Height,
			"prev_hash", header.PrevHash,
			"expected_prev_hash", prevHash,
		)
		metrics.ReorgsDetected.WithLabelValues(t.chain, t.network).Inc()

		forkHeight := header.Height
		t.purgeFromLocked(forkHeight - 1)
		if t.onFork != nil {
			t.onFork(forkHeight)
		}
		return
	}

	t.hashes[header.Height] = header.Hash
	t.evictOldLocked(header.Height)
}

func (t *Tracker) purgeFromLocked(height int64) {
	for h := range t.hashes {
		if h >= height {
			delete(t.hashes, h)
		}
	}
}

func (t *Tracker) evictOldLocked(latest int64) {
	threshold := latest - int64(t.window)
	if threshold <= 0 {
		return
	}
	for h := range t.hashes {
		if h < threshold {
			delete(t.hashes, h)
		}
	}
}

// Snapshot returns a copy of the currently tracked height->hash map, for
// tests and diagnostics.
func (t *Tracker) Snapshot() map[int64]string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[int64]string, len(t.hashes))
	for k, v := range t.hashes {
		out[k] = v
	}
	return out
}
