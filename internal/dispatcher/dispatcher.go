// Package dispatcher implements the Block Dispatcher's single-process mode
// (spec.md §4.7): a bounded in-memory height queue, a worker pool that
// fetches blocks concurrently, and a commit sequencer that serializes
// completions back into strictly ascending height order, hands each block
// to the Indexer in that order, and then advances lastProcessedHeight. Grounded on the teacher's
// internal/pipeline/ingester.CommitInterleaver (interleaver.go) for the
// "acquire a serialization slot, release signals the next waiter" idiom —
// generalized from a fixed two-chain round-robin key to an
// expected-next-height sequencer, since this engine serializes block
// heights rather than chain/network pairs.
package dispatcher

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/near-indexer/engine/internal/engineerr"
	"github.com/near-indexer/engine/internal/indexer"
	"github.com/near-indexer/engine/internal/metrics"
	"github.com/near-indexer/engine/internal/model"
	"github.com/near-indexer/engine/internal/tracing"
	"golang.org/x/sync/errgroup"
)

// Assembler fetches and materializes a single unified block.
type Assembler interface {
	Assemble(ctx context.Context, height int64) (*model.Block, error)
}

// Indexer runs every matching handler against a fetched block.
type Indexer interface {
	ProcessBlock(ctx context.Context, block *model.Block) (*indexer.ProcessBlockResponse, error)
}

// ResetCallback is invoked after a block whose handlers created a dynamic
// datasource (spec.md §4.7's "dynamic-ds response" rule): it resyncs
// templates, updates the dictionary query set, and flushes the queue from
// fromHeight onward.
type ResetCallback func(ctx context.Context, fromHeight int64)

// ReindexCallback is invoked when the Unfinalized Blocks Tracker, consulted
// during block processing, signals a fork; forkHeight becomes the new
// latestBufferedHeight after a flush (spec.md §4.10).
type ReindexCallback func(ctx context.Context, forkHeight int64)

// HealthRecorder is notified of every committed block's outcome and
// latency; satisfied by internal/health.Health.
type HealthRecorder interface {
	RecordSuccess()
	RecordFailure() bool
	RecordLatency(d time.Duration)
}

// Config configures a Dispatcher.
type Config struct {
	Capacity           int // bounded queue capacity (freeSize budget)
	Concurrency        int // concurrent assemble+index workers
	Assembler          Assembler
	Indexer            Indexer
	OnDynamicDsCreated ResetCallback
	OnReindex          ReindexCallback
	Health             HealthRecorder // optional
	Logger             *slog.Logger
}

type commitResult struct {
	height  int64
	block   *model.Block
	resp    *indexer.ProcessBlockResponse
	err     error
	unavail bool
	latency time.Duration
}

// Dispatcher is the single-process Block Dispatcher.
type Dispatcher struct {
	cfg Config

	mu             sync.Mutex
	queue          []int64
	inFlight       int
	latestBuffered int64
	lastProcessed  int64

	commitMu      sync.Mutex
	pendingCommit map[int64]commitResult
	nextCommit    int64

	sem     chan struct{}
	results chan commitResult
}

func New(cfg Config) *Dispatcher {
	if cfg.Capacity <= 0 {
		cfg.Capacity = 1000
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 5
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Dispatcher{
		cfg:            cfg,
		latestBuffered: -1,
		lastProcessed:  -1,
		nextCommit:     -1,
		pendingCommit:  make(map[int64]commitResult),
		sem:            make(chan struct{}, cfg.Concurrency),
		results:        make(chan commitResult, cfg.Concurrency*2),
	}
}

// Init sets the height at which commit sequencing begins (spec.md §4.7's
// `init(resetCallback)`; the reset callback itself is configured via
// Config.OnDynamicDsCreated/OnReindex rather than passed here, since this
// engine wires dependencies at construction rather than via a late-bound
// callback parameter).
func (d *Dispatcher) Init(startHeight int64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextCommit = startHeight
	d.latestBuffered = startHeight - 1
	d.lastProcessed = startHeight - 1
}

// FreeSize reports remaining queue capacity (spec.md §4.7's backpressure
// signal reported to the scheduler).
func (d *Dispatcher) FreeSize() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	free := d.cfg.Capacity - len(d.queue) - d.inFlight
	if free < 0 {
		free = 0
	}
	return free
}

// LatestBufferedHeight reports the buffered-height watermark: raised by
// EnqueueBlocks and reset to h-1 by FlushQueue(h), independent of how much
// has actually been processed.
func (d *Dispatcher) LatestBufferedHeight() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.latestBuffered
}

// LastProcessedHeight reports the highest height fully committed in order.
func (d *Dispatcher) LastProcessedHeight() int64 {
	d.commitMu.Lock()
	defer d.commitMu.Unlock()
	return d.lastProcessed
}

// EnqueueBlocks appends heights to the pending queue and advances
// latestBufferedHeight to latestRawHeight (spec.md §4.6 step 7: the raw,
// pre-bypass maximum becomes the new watermark even when heights is a
// strict subset of it).
func (d *Dispatcher) EnqueueBlocks(heights []int64, latestRawHeight int64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.queue = append(d.queue, heights...)
	sort.Slice(d.queue, func(i, j int) bool { return d.queue[i] < d.queue[j] })
	if latestRawHeight > d.latestBuffered {
		d.latestBuffered = latestRawHeight
	}
	return nil
}

// FlushQueue discards all buffered (not-yet-dispatched) heights >= h and
// resets latestBufferedHeight = h-1 (spec.md §4.7).
func (d *Dispatcher) FlushQueue(h int64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	kept := d.queue[:0:0]
	for _, height := range d.queue {
		if height < h {
			kept = append(kept, height)
		}
	}
	d.queue = kept
	d.latestBuffered = h - 1

	d.commitMu.Lock()
	for height := range d.pendingCommit {
		if height >= h {
			delete(d.pendingCommit, height)
		}
	}
	if d.nextCommit >= h || d.nextCommit < 0 {
		d.nextCommit = h
	}
	d.lastProcessed = h - 1
	d.commitMu.Unlock()
}

// Run drains the queue with bounded concurrency, assembling and indexing
// each height, and commits results in strictly ascending order.
func (d *Dispatcher) Run(ctx context.Context) error {
	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error { return d.drainLoop(gCtx) })
	g.Go(func() error { return d.commitLoop(gCtx) })

	return g.Wait()
}

func (d *Dispatcher) drainLoop(ctx context.Context) error {
	for {
		height, ok := d.popNext()
		if !ok {
			select {
			case <-time.After(time.Millisecond):
			case <-ctx.Done():
				return ctx.Err()
			}
			continue
		}

		select {
		case d.sem <- struct{}{}:
		case <-ctx.Done():
			return ctx.Err()
		}

		d.mu.Lock()
		d.inFlight++
		d.mu.Unlock()

		go d.processHeight(ctx, height)
	}
}

func (d *Dispatcher) popNext() (int64, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.queue) == 0 {
		return 0, false
	}
	h := d.queue[0]
	d.queue = d.queue[1:]
	return h, true
}

func (d *Dispatcher) processHeight(ctx context.Context, height int64) {
	defer func() {
		<-d.sem
		d.mu.Lock()
		d.inFlight--
		d.mu.Unlock()
	}()

	ctx, span := tracing.Tracer("dispatcher").Start(ctx, "dispatcher.process_height")
	defer span.End()

	start := time.Now()

	block, err := d.cfg.Assembler.Assemble(ctx, height)
	if err != nil {
		var unavail *engineerr.BlockUnavailableError
		if isBlockUnavailable(err, &unavail) {
			d.results <- commitResult{height: height, unavail: true, latency: time.Since(start)}
			return
		}
		d.results <- commitResult{height: height, err: err, latency: time.Since(start)}
		return
	}
	d.results <- commitResult{height: height, block: block, latency: time.Since(start)}
}

func isBlockUnavailable(err error, target **engineerr.BlockUnavailableError) bool {
	type unwrapper interface{ Unwrap() error }
	for err != nil {
		if bu, ok := err.(*engineerr.BlockUnavailableError); ok {
			*target = bu
			return true
		}
		u, ok := err.(unwrapper)
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

func isHandlerError(err error, target **engineerr.HandlerError) bool {
	type unwrapper interface{ Unwrap() error }
	for err != nil {
		if he, ok := err.(*engineerr.HandlerError); ok {
			*target = he
			return true
		}
		u, ok := err.(unwrapper)
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

// commitLoop serializes out-of-order processHeight completions back into
// strictly ascending height order before advancing lastProcessedHeight. A
// fatal handler error (spec.md §7: "indexer aborts to preserve
// consistency") stops the loop and propagates out of Run.
func (d *Dispatcher) commitLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case res := <-d.results:
			d.commitMu.Lock()
			d.pendingCommit[res.height] = res
			err := d.drainPendingCommitsLocked(ctx)
			d.commitMu.Unlock()
			if err != nil {
				return err
			}
		}
	}
}

func (d *Dispatcher) drainPendingCommitsLocked(ctx context.Context) error {
	for {
		res, ok := d.pendingCommit[d.nextCommit]
		if !ok {
			return nil
		}
		delete(d.pendingCommit, d.nextCommit)
		if err := d.commit(ctx, res); err != nil {
			return err
		}
		d.nextCommit++
	}
}

// commit applies one in-order result, running the Indexer on its block
// first. It returns non-nil only for a fatal handler error, which the
// caller must stop committing on without advancing past the failed height.
func (d *Dispatcher) commit(ctx context.Context, res commitResult) error {
	if res.err == nil && !res.unavail {
		start := time.Now()
		res.resp, res.err = d.cfg.Indexer.ProcessBlock(ctx, res.block)
		res.latency += time.Since(start)
	}
	if res.err != nil {
		var herr *engineerr.HandlerError
		if isHandlerError(res.err, &herr) {
			d.cfg.Logger.Error("handler error, aborting to preserve consistency", "height", res.height, "handler", herr.Handler, "error", herr)
			if d.cfg.Health != nil {
				d.cfg.Health.RecordFailure()
			}
			return herr
		}
		d.cfg.Logger.Error("block processing failed", "height", res.height, "error", res.err)
		d.lastProcessed = res.height - 1
		if d.cfg.Health != nil {
			d.cfg.Health.RecordFailure()
		}
		return nil
	}

	d.lastProcessed = res.height
	metrics.DispatcherBlocksProcessed.WithLabelValues("near", "mainnet").Inc()
	if d.cfg.Health != nil {
		d.cfg.Health.RecordSuccess()
		d.cfg.Health.RecordLatency(res.latency)
	}

	if res.unavail {
		metrics.DispatcherBlocksUnavailable.WithLabelValues("near", "mainnet").Inc()
		d.cfg.Logger.Warn("block unavailable, skipped", "height", res.height)
		return nil
	}

	if res.resp.ReindexBlockHeight != nil && d.cfg.OnReindex != nil {
		d.cfg.OnReindex(ctx, *res.resp.ReindexBlockHeight)
	}
	if len(res.resp.DynamicDsCreated) > 0 && d.cfg.OnDynamicDsCreated != nil {
		d.cfg.OnDynamicDsCreated(ctx, res.height+1)
	}
	return nil
}
