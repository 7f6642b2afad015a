// Package autoscale implements checkBatchScale (spec.md §4.6): a
// periodically-invoked adjustment of a batchScale factor in (0,1] that the
// Fetch Scheduler multiplies into config.batchSize. Grounded on the
// teacher's internal/pipeline/coordinator/autotune package — a
// watermark-driven controller with step up/down and hysteresis — scaled
// down to this engine's simpler single-signal (RSS vs. memory budget)
// input, per SPEC_FULL.md's supplemented "adaptive batch scaling" feature.
package autoscale

import (
	"runtime"
	"sync"
)

const (
	minScale     = 0.1
	maxScale     = 1.0
	stepDown     = 0.2
	stepUp       = 0.1
	highWaterPct = 0.85 // RSS/budget ratio that triggers a scale-down
	lowWaterPct  = 0.5  // RSS/budget ratio that allows scaling back up
)

// MemoryReader reports current resident set size in bytes. The default
// implementation reads runtime.MemStats; tests substitute a fake.
type MemoryReader func() uint64

// DefaultMemoryReader uses runtime.ReadMemStats' Sys field as an RSS proxy —
// the engine has no cgroup/OS-level RSS reader wired, and Sys tracks total
// memory obtained from the OS, which is close enough for a soft scale-down
// signal.
func DefaultMemoryReader() uint64 {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	return m.Sys
}

// Controller tracks the current batchScale factor and adjusts it against a
// fixed memory budget each time Check is called (spec.md §4.6:
// "checkBatchScale() every 60s: adjust batchScale ∈ (0,1] based on RSS vs. a
// memory budget").
type Controller struct {
	mu          sync.Mutex
	scale       float64
	budgetBytes uint64
	readMemory  MemoryReader
}

// New constructs a Controller with an initial scale of 1.0.
func New(budgetBytes uint64, reader MemoryReader) *Controller {
	if reader == nil {
		reader = DefaultMemoryReader
	}
	return &Controller{scale: maxScale, budgetBytes: budgetBytes, readMemory: reader}
}

// Scale returns the current batchScale factor.
func (c *Controller) Scale() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.scale
}

// Check re-evaluates memory pressure and adjusts the scale factor,
// returning the new value.
func (c *Controller) Check() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.budgetBytes == 0 {
		return c.scale
	}

	rss := c.readMemory()
	ratio := float64(rss) / float64(c.budgetBytes)

	switch {
	case ratio >= highWaterPct:
		c.scale -= stepDown
	case ratio <= lowWaterPct:
		c.scale += stepUp
	}

	if c.scale < minScale {
		c.scale = minScale
	}
	if c.scale > maxScale {
		c.scale = maxScale
	}
	return c.scale
}

// ScaledBatchSize applies the current scale factor to a configured batch
// size, floored at min(MINIMUM_BATCH_SIZE, batchSize*3) per spec.md §4.6
// step 2. minimumBatchSize is the engine-wide MINIMUM_BATCH_SIZE constant
// (internal/config.MinimumBatchSize); callers pass it in rather than this
// package importing config, to avoid a dependency cycle.
func ScaledBatchSize(scale float64, batchSize, minimumBatchSize int) int {
	floor := minimumBatchSize
	if cap3x := batchSize * 3; cap3x < floor {
		floor = cap3x
	}

	scaled := int(scale*float64(batchSize) + 0.5) // round half up
	if scaled < floor {
		scaled = floor
	}
	return scaled
}
