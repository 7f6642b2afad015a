// Package cronfilter compiles and evaluates the cron-timestamp portion of
// a BlockFilter (spec.md §4.3). No cron-expression library appears
// anywhere in this engine's reference corpus, so this is a hand-rolled,
// minute-granularity 5-field evaluator (minute hour dom month dow) rather
// than a wrapped third-party dependency — see DESIGN.md.
//
// Per spec.md §9's design note ("avoid stateful stream cursors where
// possible"), the schedule is a pure function of a reference time: Next
// always computes the earliest matching instant strictly after its input,
// with no internal cursor of its own. CronFilter layers the one piece of
// mutable state the spec requires — the compiled filter's current `next`
// watermark — on top of that pure function.
package cronfilter

import (
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"
)

// searchHorizon bounds the brute-force minute scan in Next so a
// malformed expression that never matches fails fast instead of hanging.
const searchHorizon = 4 * 365 * 24 * time.Hour

type field struct {
	allowed map[int]bool
}

func (f field) matches(v int) bool {
	if f.allowed == nil {
		return true
	}
	return f.allowed[v]
}

// Schedule is a compiled, pure cron expression.
type Schedule struct {
	expr              string
	minute, hour      field
	dom, month, dow   field
}

// Compile parses a standard 5-field cron expression.
func Compile(expr string) (*Schedule, error) {
	parts := strings.Fields(expr)
	if len(parts) != 5 {
		return nil, fmt.Errorf("cronfilter: expected 5 fields, got %d in %q", len(parts), expr)
	}
	minute, err := parseField(parts[0], 0, 59)
	if err != nil {
		return nil, fmt.Errorf("cronfilter: minute field: %w", err)
	}
	hour, err := parseField(parts[1], 0, 23)
	if err != nil {
		return nil, fmt.Errorf("cronfilter: hour field: %w", err)
	}
	dom, err := parseField(parts[2], 1, 31)
	if err != nil {
		return nil, fmt.Errorf("cronfilter: day-of-month field: %w", err)
	}
	month, err := parseField(parts[3], 1, 12)
	if err != nil {
		return nil, fmt.Errorf("cronfilter: month field: %w", err)
	}
	dow, err := parseField(parts[4], 0, 6)
	if err != nil {
		return nil, fmt.Errorf("cronfilter: day-of-week field: %w", err)
	}
	return &Schedule{expr: expr, minute: minute, hour: hour, dom: dom, month: month, dow: dow}, nil
}

func parseField(raw string, min, max int) (field, error) {
	if raw == "*" {
		return field{}, nil
	}
	allowed := make(map[int]bool)
	for _, part := range strings.Split(raw, ",") {
		step := 1
		rangePart := part
		if idx := strings.Index(part, "/"); idx >= 0 {
			rangePart = part[:idx]
			s, err := strconv.Atoi(part[idx+1:])
			if err != nil || s <= 0 {
				return field{}, fmt.Errorf("invalid step in %q", part)
			}
			step = s
		}
		lo, hi := min, max
		if rangePart != "*" {
			if dash := strings.Index(rangePart, "-"); dash >= 0 {
				a, err1 := strconv.Atoi(rangePart[:dash])
				b, err2 := strconv.Atoi(rangePart[dash+1:])
				if err1 != nil || err2 != nil {
					return field{}, fmt.Errorf("invalid range %q", rangePart)
				}
				lo, hi = a, b
			} else {
				v, err := strconv.Atoi(rangePart)
				if err != nil {
					return field{}, fmt.Errorf("invalid value %q", rangePart)
				}
				lo, hi = v, v
			}
		}
		for v := lo; v <= hi; v += step {
			if v < min || v > max {
				return field{}, fmt.Errorf("value %d out of range [%d,%d]", v, min, max)
			}
			allowed[v] = true
		}
	}
	return field{allowed: allowed}, nil
}

func (s *Schedule) matchesTime(t time.Time) bool {
	return s.minute.matches(t.Minute()) &&
		s.hour.matches(t.Hour()) &&
		s.dom.matches(t.Day()) &&
		s.month.matches(int(t.Month())) &&
		s.dow.matches(int(t.Weekday()))
}

// Next returns the earliest minute-aligned instant strictly after `after`
// that matches the schedule.
func (s *Schedule) Next(after time.Time) time.Time {
	t := after.Truncate(time.Minute).Add(time.Minute)
	limit := after.Add(searchHorizon)
	for t.Before(limit) {
		if s.matchesTime(t) {
			return t
		}
		t = t.Add(time.Minute)
	}
	return t
}

// CronFilter is the compiled, stateful form of a BlockFilter.timestamp
// cron string (spec.md §3, "Cron-augmented filter"). Next is always
// initialized against the reference timestamp of the block at the owning
// datasource's startBlock.
type CronFilter struct {
	Schedule *Schedule
	Next     time.Time
}

// CompileCronFilter compiles `expr` and anchors its `next` watermark to the
// block timestamp at the datasource's startBlock (spec.md §3).
func CompileCronFilter(expr string, startBlockTimestampNanos int64) (*CronFilter, error) {
	schedule, err := Compile(expr)
	if err != nil {
		return nil, err
	}
	anchor := time.Unix(0, startBlockTimestampNanos).UTC()
	return &CronFilter{
		Schedule: schedule,
		Next:     schedule.Next(anchor),
	}, nil
}

// Evaluate implements spec.md §4.3's cron timestamp semantics: if the
// block's timestamp has crossed the current `next` watermark, the filter
// matches and the watermark advances to the schedule's next slot; the
// watermark is left untouched otherwise, which makes a repeated query at
// an unchanged or earlier timestamp naturally idempotent (spec.md §8).
func (f *CronFilter) Evaluate(blockTimestampNanos int64, logger *slog.Logger) bool {
	ts := time.Unix(0, blockTimestampNanos).UTC()
	if ts.After(f.Next) {
		if logger != nil {
			logger.Info("cron filter matched", "slot", f.Next, "block_timestamp", ts)
		}
		f.Next = f.Schedule.Next(f.Next)
		return true
	}
	return false
}
