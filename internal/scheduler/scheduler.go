// Package scheduler implements the Fetch Scheduler (spec.md §4.6): the
// central tick loop that decides the next range of heights to enqueue, plus
// its timer-driven side loops (finalized/best head polling, batch-scale
// checks). Grounded directly on the teacher's
// internal/pipeline/coordinator.Coordinator for the "tick loop driven by a
// head-sequence provider, emitting jobs to a bounded downstream queue"
// shape, and on internal/pipeline/coordinator/autotune for the batch-scale
// adjustment cadence — generalized from per-address cursor iteration to
// per-height range scanning, since NEAR is indexed by block height rather
// than per-account signature pages.
package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/near-indexer/engine/internal/autoscale"
	"github.com/near-indexer/engine/internal/dictionary"
	"github.com/near-indexer/engine/internal/engineerr"
	"github.com/near-indexer/engine/internal/eventbus"
	"github.com/near-indexer/engine/internal/metrics"
	"github.com/near-indexer/engine/internal/model"
	"github.com/near-indexer/engine/internal/rpcadapter"
	"golang.org/x/sync/errgroup"
)

// DefaultDictionaryMaxQuerySize bounds a single dictionary window
// (spec.md §4.6 step 5, DICTIONARY_MAX_QUERY_SIZE).
const DefaultDictionaryMaxQuerySize = 10_000

// defaultPollInterval is the scheduler's short idle-retry sleep (spec.md
// §5, "the scheduler's short delay(1 ms) polling sleep").
const defaultPollInterval = 1 * time.Millisecond

// maxBlockTimeVariance is BLOCK_TIME_VARIANCE's hard ceiling (spec.md §4.6).
const maxBlockTimeVariance = 5000 * time.Millisecond

// Dispatcher is the subset of the Block Dispatcher the scheduler depends on
// (spec.md §4.7).
type Dispatcher interface {
	FreeSize() int
	LatestBufferedHeight() int64
	EnqueueBlocks(heights []int64, latestRawHeight int64) error
}

// ChainHeadClient fetches block headers by finality, used by the side loops.
type ChainHeadClient interface {
	Block(ctx context.Context, id rpcadapter.BlockID) (json.RawMessage, error)
}

// FinalizedHeaderObserver receives every newly observed finalized header;
// satisfied by internal/unfinalized.Tracker.
type FinalizedHeaderObserver interface {
	ObserveFinalizedHeader(header model.Header)
}

// DictionaryClient is the subset of internal/dictionary.Client the
// scheduler depends on.
type DictionaryClient interface {
	Disabled() bool
	ScopedDictionaryEntries(ctx context.Context, queries []model.DictionaryQueryEntry, start, end int64, limit int) (*model.DictionaryResponse, error)
	Validate(resp *model.DictionaryResponse, requestedStart int64) error
}

// Config configures a Scheduler (spec.md §4.6, §6).
type Config struct {
	BatchSize              int
	Unfinalized            bool
	InitHeight             int64
	BypassBlocks           []int64
	DictionaryEnabled      bool
	DictionaryStartHeight  int64
	DictionaryMaxQuerySize int64
	ChainInterval          time.Duration
	PollInterval           time.Duration
	MinimumBatchSize       int
}

// Scheduler runs the central fetch loop.
type Scheduler struct {
	cfg         Config
	dispatcher  Dispatcher
	dictionary  DictionaryClient
	headClient  ChainHeadClient
	datasources func() []*model.Datasource
	processors  map[string]model.DatasourceProcessor
	bus         *eventbus.Bus
	autoscale   *autoscale.Controller
	reorgObs    FinalizedHeaderObserver
	logger      *slog.Logger

	bypassMu     sync.Mutex
	bypassBlocks []int64

	latestFinalizedHeight atomic.Int64
	latestBestHeight      atomic.Int64

	shutdown atomic.Bool
}

// Option configures a Scheduler.
type Option func(*Scheduler)

func WithDictionary(d DictionaryClient) Option {
	return func(s *Scheduler) { s.dictionary = d }
}

func WithAutoscale(a *autoscale.Controller) Option {
	return func(s *Scheduler) { s.autoscale = a }
}

func WithFinalizedHeaderObserver(o FinalizedHeaderObserver) Option {
	return func(s *Scheduler) { s.reorgObs = o }
}

func WithProcessors(p map[string]model.DatasourceProcessor) Option {
	return func(s *Scheduler) { s.processors = p }
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Scheduler) {
		if l != nil {
			s.logger = l
		}
	}
}

func New(cfg Config, dispatcher Dispatcher, headClient ChainHeadClient, datasources func() []*model.Datasource, bus *eventbus.Bus, opts ...Option) *Scheduler {
	if cfg.DictionaryMaxQuerySize <= 0 {
		cfg.DictionaryMaxQuerySize = DefaultDictionaryMaxQuerySize
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	if cfg.MinimumBatchSize <= 0 {
		cfg.MinimumBatchSize = 5
	}
	if cfg.ChainInterval <= 0 {
		cfg.ChainInterval = 6 * time.Second
	}
	if bus == nil {
		bus = eventbus.New()
	}

	s := &Scheduler{
		cfg:          cfg,
		dispatcher:   dispatcher,
		headClient:   headClient,
		datasources:  datasources,
		bus:          bus,
		autoscale:    autoscale.New(0, nil),
		logger:       slog.Default().With("component", "scheduler"),
		bypassBlocks: append([]int64(nil), cfg.BypassBlocks...),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// BlockTimeVariance computes BLOCK_TIME_VARIANCE per spec.md §4.6's
// calibration: min(5000ms, chainInterval*0.9).
func BlockTimeVariance(chainInterval time.Duration) time.Duration {
	calibrated := time.Duration(float64(chainInterval) * 0.9)
	if calibrated > maxBlockTimeVariance {
		return maxBlockTimeVariance
	}
	return calibrated
}

// Shutdown requests the scheduler loop terminate at the next cycle
// (spec.md §5, "a single isShutdown flag").
func (s *Scheduler) Shutdown() { s.shutdown.Store(true) }

// SetBypassBlocks replaces the bypass list; mutated only by the scheduler
// task per spec.md §5's shared-resource policy, but exposed here for
// operator-triggered updates (e.g. via a control RPC or config reload).
func (s *Scheduler) SetBypassBlocks(blocks []int64) {
	s.bypassMu.Lock()
	defer s.bypassMu.Unlock()
	s.bypassBlocks = append([]int64(nil), blocks...)
}

// LatestFinalizedHeight reports the most recently observed finalized chain
// head, for operator tooling (e.g. internal/replay's finality safety check).
func (s *Scheduler) LatestFinalizedHeight() int64 { return s.latestFinalizedHeight.Load() }

// Run starts the main tick loop and the timer-driven side loops, blocking
// until ctx is canceled, Shutdown is called, or a side loop returns a fatal
// error.
func (s *Scheduler) Run(ctx context.Context) error {
	g, gCtx := errgroup.WithContext(ctx)

	variance := BlockTimeVariance(s.cfg.ChainInterval)

	g.Go(func() error { return s.mainLoop(gCtx) })
	g.Go(func() error { return s.finalizedHeadLoop(gCtx, variance) })
	g.Go(func() error { return s.bestHeadLoop(gCtx, variance) })
	g.Go(func() error { return s.batchScaleLoop(gCtx) })

	return g.Wait()
}

func (s *Scheduler) mainLoop(ctx context.Context) error {
	for {
		if s.shutdown.Load() {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		start := time.Now()
		progressed, err := s.tick(ctx)
		metrics.SchedulerTickLatency.WithLabelValues("near", "mainnet").Observe(time.Since(start).Seconds())
		metrics.SchedulerTicksTotal.WithLabelValues("near", "mainnet").Inc()
		if err != nil {
			return err
		}
		if !progressed {
			select {
			case <-time.After(s.cfg.PollInterval):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}

// tick runs one iteration of spec.md §4.6 steps 1-7, returning whether any
// progress (a sleep-free branch) was made.
func (s *Scheduler) tick(ctx context.Context) (bool, error) {
	startBlockHeight := s.dispatcher.LatestBufferedHeight() + 1
	if s.dispatcher.LatestBufferedHeight() < 0 {
		startBlockHeight = s.cfg.InitHeight
	}

	scale := s.autoscale.Scale()
	scaledBatchSize := autoscale.ScaledBatchSize(scale, s.cfg.BatchSize, s.cfg.MinimumBatchSize)

	latestTarget := s.latestFinalizedHeight.Load()
	if s.cfg.Unfinalized {
		latestTarget = s.latestBestHeight.Load()
	}

	if s.dispatcher.FreeSize() < scaledBatchSize || startBlockHeight > latestTarget {
		return false, nil
	}

	datasources := s.datasources()

	if s.cfg.DictionaryEnabled && s.dictionary != nil && !s.dictionary.Disabled() && startBlockHeight >= s.cfg.DictionaryStartHeight {
		return s.dictionaryPath(ctx, datasources, startBlockHeight, scaledBatchSize, latestTarget)
	}

	return s.nonDictionaryPath(datasources, startBlockHeight, scaledBatchSize, latestTarget)
}

func (s *Scheduler) dictionaryPath(ctx context.Context, datasources []*model.Datasource, start int64, scaledBatchSize int, latestTarget int64) (bool, error) {
	queries, ok := dictionary.BuildQueries(datasources, s.processors)
	if !ok {
		// A block handler with no modulo abandons the dictionary scan for
		// this pass; this tick falls through to the non-dictionary path.
		return s.nonDictionaryPath(datasources, start, scaledBatchSize, latestTarget)
	}

	queryEnd := start + s.cfg.DictionaryMaxQuerySize
	metrics.SchedulerDictionaryUsed.WithLabelValues("near", "mainnet").Inc()

	resp, err := s.dictionary.ScopedDictionaryEntries(ctx, queries, start, queryEnd, scaledBatchSize)
	if err != nil {
		return false, fmt.Errorf("scheduler: dictionary query: %w", err)
	}

	// If start has moved during the query (another task advanced the
	// buffer), discard the result and restart (spec.md §4.6 step 5).
	if s.dispatcher.LatestBufferedHeight()+1 != start {
		return false, nil
	}

	if err := s.dictionary.Validate(resp, start); err != nil {
		if isGenesisMismatch(err) {
			metrics.SchedulerDictionaryDisabled.WithLabelValues("near", "mainnet").Inc()
			s.logger.Error("dictionary disabled for session", "error", err)
		} else {
			s.logger.Warn("dictionary validation failed for this cycle", "error", err)
		}
		return false, nil
	}

	moduloBlocks := computeModuloBlocksInRange(start, queryEnd-1, moduloHandlerValues(datasources))
	merged := dedupeSortInt64(append(append([]int64(nil), resp.BatchBlocks...), moduloBlocks...))

	if len(merged) == 0 {
		newLatest := queryEnd - 1
		if resp.Metadata.LastProcessedHeight < newLatest {
			newLatest = resp.Metadata.LastProcessedHeight
		}
		return s.advanceWithoutEnqueue(newLatest)
	}

	free := s.dispatcher.FreeSize()
	if len(merged) > free {
		merged = merged[:free]
	}
	return s.enqueueWithBypass(merged)
}

func (s *Scheduler) nonDictionaryPath(datasources []*model.Datasource, start int64, scaledBatchSize int, latestTarget int64) (bool, error) {
	endBlockHeight := start + int64(scaledBatchSize) - 1
	if endBlockHeight > latestTarget {
		endBlockHeight = latestTarget
	}

	if onlyModulo, modulos := allHandlersModuloOnly(datasources); onlyModulo {
		heights := enqueueNextModuloMatches(start, modulos, s.cfg.BatchSize, latestTarget)
		return s.enqueueWithBypass(heights)
	}

	var heights []int64
	for h := start; h <= endBlockHeight; h++ {
		heights = append(heights, h)
	}
	return s.enqueueWithBypass(heights)
}

// enqueueWithBypass applies spec.md §4.6 step 7: cleaned = requested minus
// any bypass member <= max(requested); the latest *raw* height (not
// cleaned) becomes the new latestBufferedHeight, so a bypassed height is
// never re-requested.
func (s *Scheduler) enqueueWithBypass(requested []int64) (bool, error) {
	if len(requested) == 0 {
		return false, nil
	}
	sort.Slice(requested, func(i, j int) bool { return requested[i] < requested[j] })
	maxRequested := requested[len(requested)-1]

	s.bypassMu.Lock()
	bypass := make(map[int64]struct{}, len(s.bypassBlocks))
	for _, b := range s.bypassBlocks {
		if b <= maxRequested {
			bypass[b] = struct{}{}
		}
	}
	s.bypassMu.Unlock()

	cleaned := requested[:0:0]
	for _, h := range requested {
		if _, skip := bypass[h]; skip {
			continue
		}
		cleaned = append(cleaned, h)
	}

	if err := s.dispatcher.EnqueueBlocks(cleaned, maxRequested); err != nil {
		return false, fmt.Errorf("scheduler: enqueue: %w", err)
	}
	metrics.SchedulerHeightsEnqueuedTotal.WithLabelValues("near", "mainnet").Add(float64(len(cleaned)))
	return true, nil
}

func (s *Scheduler) advanceWithoutEnqueue(newLatest int64) (bool, error) {
	if err := s.dispatcher.EnqueueBlocks(nil, newLatest); err != nil {
		return false, fmt.Errorf("scheduler: advance watermark: %w", err)
	}
	return false, nil
}

func isGenesisMismatch(err error) bool {
	var dictErr *engineerr.DictionaryError
	if !errors.As(err, &dictErr) {
		return false
	}
	return dictErr.Reason == engineerr.DictionaryReasonGenesisMismatch
}

func (s *Scheduler) finalizedHeadLoop(ctx context.Context, variance time.Duration) error {
	ticker := time.NewTicker(variance)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if s.shutdown.Load() {
				return nil
			}
			header, err := s.fetchHead(ctx, rpcadapter.FinalityFinal)
			if err != nil {
				s.logger.Warn("finalized head poll failed", "error", err)
				continue
			}
			s.latestFinalizedHeight.Store(header.Height)
			if s.reorgObs != nil {
				s.reorgObs.ObserveFinalizedHeader(*header)
			}
			if !s.cfg.Unfinalized {
				s.bus.Emit(eventbus.Event{Type: eventbus.EventBlockTarget, Height: header.Height})
			}
		}
	}
}

func (s *Scheduler) bestHeadLoop(ctx context.Context, variance time.Duration) error {
	ticker := time.NewTicker(variance)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if s.shutdown.Load() {
				return nil
			}
			header, err := s.fetchHead(ctx, rpcadapter.FinalityOptimistic)
			if err != nil {
				s.logger.Warn("best head poll failed", "error", err)
				continue
			}
			s.latestBestHeight.Store(header.Height)
			s.bus.Emit(eventbus.Event{Type: eventbus.EventBlockBest, Height: header.Height})
			if s.cfg.Unfinalized {
				s.bus.Emit(eventbus.Event{Type: eventbus.EventBlockTarget, Height: header.Height})
			}
		}
	}
}

func (s *Scheduler) batchScaleLoop(ctx context.Context) error {
	ticker := time.NewTicker(60 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if s.shutdown.Load() {
				return nil
			}
			s.autoscale.Check()
		}
	}
}

type headOnly struct {
	Header model.Header `json:"header"`
}

func (s *Scheduler) fetchHead(ctx context.Context, finality rpcadapter.Finality) (*model.Header, error) {
	raw, err := s.headClient.Block(ctx, rpcadapter.ByFinality(finality))
	if err != nil {
		return nil, err
	}
	var decoded headOnly
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, fmt.Errorf("scheduler: decode head: %w", err)
	}
	return &decoded.Header, nil
}

// moduloHandlerValues collects every distinct positive modulo declared
// across a datasource set's block handlers.
func moduloHandlerValues(datasources []*model.Datasource) []int64 {
	seen := make(map[int64]struct{})
	var out []int64
	for _, ds := range datasources {
		for _, h := range ds.Mapping.Handlers {
			if model.HandlerKind(h.Kind) != model.HandlerKindBlock {
				continue
			}
			bf, _ := h.Filter.(*model.BlockFilter)
			if bf == nil || bf.Modulo <= 0 {
				continue
			}
			if _, ok := seen[bf.Modulo]; !ok {
				seen[bf.Modulo] = struct{}{}
				out = append(out, bf.Modulo)
			}
		}
	}
	return out
}

// allHandlersModuloOnly reports whether every handler across every
// datasource is a modulo-based block handler (spec.md §4.6's modulo-only
// optimization precondition).
func allHandlersModuloOnly(datasources []*model.Datasource) (bool, []int64) {
	var modulos []int64
	any := false
	for _, ds := range datasources {
		for _, h := range ds.Mapping.Handlers {
			any = true
			if model.HandlerKind(h.Kind) != model.HandlerKindBlock {
				return false, nil
			}
			bf, _ := h.Filter.(*model.BlockFilter)
			if bf == nil || bf.Modulo <= 0 {
				return false, nil
			}
			modulos = append(modulos, bf.Modulo)
		}
	}
	if !any {
		return false, nil
	}
	return true, dedupeSortInt64(modulos)
}

func computeModuloBlocksInRange(start, end int64, modulos []int64) []int64 {
	if len(modulos) == 0 || end < start {
		return nil
	}
	var out []int64
	for h := start; h <= end; h++ {
		for _, m := range modulos {
			if m > 0 && h%m == 0 {
				out = append(out, h)
				break
			}
		}
	}
	return out
}

// enqueueNextModuloMatches implements spec.md §4.6's modulo-only
// optimization. The resolved Open Question (DESIGN.md "Open Questions
// resolved") expands the search window using lcm(modulos) rather than
// batchSize*max(modulo): modulo-match heights repeat with period
// lcm(modulos), so every period adds the same number of matches, and the
// window grows one whole period at a time until it holds batchSize matches
// or reaches latestTarget.
func enqueueNextModuloMatches(start int64, modulos []int64, batchSize int, latestTarget int64) []int64 {
	if len(modulos) == 0 || batchSize <= 0 {
		return nil
	}
	period := lcmAll(modulos)

	var matches []int64
	windowEnd := start + period - 1
	for len(matches) < batchSize {
		if windowEnd > latestTarget {
			windowEnd = latestTarget
		}
		matches = computeModuloBlocksInRange(start, windowEnd, modulos)
		if windowEnd >= latestTarget {
			break
		}
		if len(matches) >= batchSize {
			break
		}
		windowEnd += period
	}
	if len(matches) > batchSize {
		matches = matches[:batchSize]
	}
	return matches
}

func gcd(a, b int64) int64 {
	for b != 0 {
		a, b = b, a%b
	}
	if a < 0 {
		return -a
	}
	return a
}

func lcm(a, b int64) int64 {
	if a == 0 || b == 0 {
		return 0
	}
	return a / gcd(a, b) * b
}

func lcmAll(values []int64) int64 {
	if len(values) == 0 {
		return 0
	}
	result := values[0]
	for _, v := range values[1:] {
		result = lcm(result, v)
	}
	return result
}

func dedupeSortInt64(values []int64) []int64 {
	seen := make(map[int64]struct{}, len(values))
	out := values[:0:0]
	for _, v := range values {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

