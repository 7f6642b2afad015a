// Package replay implements operator-triggered backfill: discarding
// buffered and dynamic-ds state from a given height onward so the pipeline
// reprocesses it, with the same finality safety check, dry-run mode, and
// result accounting as a destructive rewind. Grounded on the teacher's
// internal/pipeline/replay.Service (PurgeFromBlock, dry-run/force/reason
// request shape, ErrFinalizedBlock safety gate), adapted from a SQL
// purge-and-reverse-balances operation to this engine's pipeline-only
// state: the dispatcher's buffered queue and the Dynamic DS Manager's
// creation log, since handler-side storage lives outside this engine's
// scope (spec.md §1) and so has nothing here to purge.
package replay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/near-indexer/engine/internal/metrics"
)

// ErrFinalizedHeight is returned when a replay targets a height at or below
// the latest finalized head without Force=true.
var ErrFinalizedHeight = errors.New("replay: target height is finalized; set Force=true to override")

// Dispatcher is the subset of internal/dispatcher.Dispatcher replay needs.
type Dispatcher interface {
	FlushQueue(height int64)
	LastProcessedHeight() int64
}

// DynamicDsManager is the subset of internal/dynamicds.Manager replay needs.
type DynamicDsManager interface {
	DeleteTempDsRecords(height int64) int
}

// FinalizedHeightProvider reports the latest finalized chain head, used for
// the finality safety check. Satisfied by internal/scheduler.Scheduler.
type FinalizedHeightProvider interface {
	LatestFinalizedHeight() int64
}

// Request describes a replay/rewind operation.
type Request struct {
	FromHeight int64
	DryRun     bool
	Force      bool
	Reason     string
}

// Result describes the outcome of a replay operation.
type Result struct {
	BlocksDiscarded         int64 `json:"blocksDiscarded"`
	DynamicDsRecordsDeleted int   `json:"dynamicDsRecordsDeleted"`
	NewWatermark            int64 `json:"newWatermark"`
	DryRun                  bool  `json:"dryRun"`
	DurationMs              int64 `json:"durationMs"`
}

// Service executes replay requests against the dispatcher and dynamic
// datasource manager.
type Service struct {
	dispatcher Dispatcher
	dynamicDs  DynamicDsManager
	finalized  FinalizedHeightProvider
	logger     *slog.Logger
}

func NewService(dispatcher Dispatcher, dynamicDs DynamicDsManager, finalized FinalizedHeightProvider, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{dispatcher: dispatcher, dynamicDs: dynamicDs, finalized: finalized, logger: logger}
}

// Replay discards buffered/dynamic-ds state from req.FromHeight onward, so
// the Fetch Scheduler reprocesses that range on its next tick.
func (s *Service) Replay(ctx context.Context, req Request) (*Result, error) {
	start := time.Now()
	s.logger.Info("replay requested",
		"from_height", req.FromHeight, "dry_run", req.DryRun, "force", req.Force, "reason", req.Reason)

	if !req.Force && s.finalized != nil {
		if req.FromHeight <= s.finalized.LatestFinalizedHeight() {
			return nil, ErrFinalizedHeight
		}
	}

	lastProcessed := s.dispatcher.LastProcessedHeight()
	discarded := lastProcessed - req.FromHeight + 1
	if discarded < 0 {
		discarded = 0
	}

	newWatermark := req.FromHeight - 1
	if newWatermark < 0 {
		newWatermark = 0
	}

	if req.DryRun {
		metrics.ReplayDryRunsTotal.WithLabelValues("near", "mainnet").Inc()
		return &Result{
			BlocksDiscarded: discarded,
			NewWatermark:    newWatermark,
			DryRun:          true,
			DurationMs:      time.Since(start).Milliseconds(),
		}, nil
	}

	s.dispatcher.FlushQueue(req.FromHeight)
	deleted := s.dynamicDs.DeleteTempDsRecords(req.FromHeight)

	metrics.ReplayRequestsTotal.WithLabelValues("near", "mainnet").Inc()
	metrics.ReplayBlocksDiscarded.WithLabelValues("near", "mainnet").Add(float64(discarded))
	metrics.ReplayDurationSeconds.WithLabelValues("near", "mainnet").Observe(time.Since(start).Seconds())

	result := &Result{
		BlocksDiscarded:         discarded,
		DynamicDsRecordsDeleted: deleted,
		NewWatermark:            newWatermark,
		DurationMs:              time.Since(start).Milliseconds(),
	}

	s.logger.Info("replay completed",
		"from_height", req.FromHeight,
		"blocks_discarded", result.BlocksDiscarded,
		"dynamic_ds_deleted", result.DynamicDsRecordsDeleted,
		"new_watermark", result.NewWatermark,
		"duration_ms", result.DurationMs,
		"reason", req.Reason,
	)

	if ctx.Err() != nil {
		return nil, fmt.Errorf("replay context canceled: %w", ctx.Err())
	}
	return result, nil
}
