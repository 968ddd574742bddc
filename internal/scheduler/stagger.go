// Package scheduler spreads trader heartbeats evenly in time and drives one
// timeline per trader.
package scheduler

import (
	"math"
	"time"

	apperrors "heartbeat-trader/internal/errors"
)

// GoldenRatio is the fractional part of φ used to phase-shift traders.
const GoldenRatio = 0.6180339887498949

// TraderInterval is the scheduling input for one trader.
type TraderInterval struct {
	ID              string
	IntervalSeconds int
}

// ComputeOffsets returns a phase offset in seconds for each trader. The trader
// at ordinal index i with interval T gets floor((i·φ·T) mod T). When that slot
// is already taken by an earlier trader with the same interval, the next free
// second (mod T) is used, so traders sharing an interval never share an offset
// while their count does not exceed T.
func ComputeOffsets(traders []TraderInterval) map[string]int {
	offsets := make(map[string]int, len(traders))
	taken := make(map[int]map[int]bool)

	for i, tr := range traders {
		T := tr.IntervalSeconds
		if T <= 0 {
			offsets[tr.ID] = 0
			continue
		}
		offset := goldenOffset(i, T)

		used, ok := taken[T]
		if !ok {
			used = make(map[int]bool)
			taken[T] = used
		}
		if len(used) < T {
			for used[offset] {
				offset = (offset + 1) % T
			}
		}
		used[offset] = true
		offsets[tr.ID] = offset
	}
	return offsets
}

func goldenOffset(i, T int) int {
	period := float64(T)
	v := math.Mod(float64(i)*GoldenRatio*period, period)
	offset := int(math.Floor(v))
	if offset >= T {
		offset = T - 1
	}
	return offset
}

// FirstTrigger returns base + offset.
func FirstTrigger(base time.Time, interval, offset time.Duration) time.Time {
	return base.Add(offset)
}

// NextTrigger returns prev + interval.
func NextTrigger(prev time.Time, interval time.Duration) time.Time {
	return prev.Add(interval)
}

// AlignedBase returns the start of the interval period containing ts, measured
// from the Unix epoch, so every process derives the same phase.
func AlignedBase(ts time.Time, interval time.Duration) time.Time {
	if interval <= 0 {
		return ts
	}
	return time.Unix(0, ts.UnixNano()-ts.UnixNano()%int64(interval)).In(ts.Location())
}

// NextTriggerAfter returns the earliest trigger instant not before now.
func NextTriggerAfter(now time.Time, interval, offset time.Duration) time.Time {
	next := FirstTrigger(AlignedBase(now, interval), interval, offset)
	for next.Before(now) {
		next = NextTrigger(next, interval)
	}
	return next
}

// GenerateTriggers returns the ordered trigger instants in [start, end],
// beginning at start + offset and spaced by interval. It is pure: identical
// arguments always produce identical output.
func GenerateTriggers(start, end time.Time, interval, offset time.Duration) ([]time.Time, error) {
	if interval <= 0 {
		return nil, apperrors.NewValidationError("interval", interval, "must be positive")
	}
	if offset < 0 {
		return nil, apperrors.NewValidationError("offset", offset, "must be non-negative")
	}
	if end.Before(start) {
		return nil, apperrors.NewValidationError("end", end, "must not be before start")
	}

	var triggers []time.Time
	for t := FirstTrigger(start, interval, offset); !t.After(end); t = NextTrigger(t, interval) {
		triggers = append(triggers, t)
	}
	return triggers, nil
}
