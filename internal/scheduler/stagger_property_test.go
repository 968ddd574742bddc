package scheduler

import (
	"fmt"
	"reflect"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

func newProperties() *gopter.Properties {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	parameters.Rng.Seed(time.Now().UnixNano())
	return gopter.NewProperties(parameters)
}

// Traders sharing an interval never share an offset while N ≤ T.
func TestProperty_OffsetsDistinctPerInterval(t *testing.T) {
	properties := newProperties()

	intervalGen := gen.OneConstOf(10, 30, 60, 300, 900)

	properties.Property("same-interval traders get distinct offsets", prop.ForAll(
		func(n int, a, b int) bool {
			traders := make([]TraderInterval, 0, n)
			for i := 0; i < n; i++ {
				interval := a
				if i%3 == 0 {
					interval = b
				}
				traders = append(traders, TraderInterval{ID: fmt.Sprintf("trader-%03d", i), IntervalSeconds: interval})
			}

			counts := map[int]int{}
			for _, tr := range traders {
				counts[tr.IntervalSeconds]++
			}
			for interval, count := range counts {
				if count > interval {
					return true
				}
			}

			offsets := ComputeOffsets(traders)
			seen := map[int]map[int]bool{}
			for _, tr := range traders {
				off := offsets[tr.ID]
				if off < 0 || off >= tr.IntervalSeconds {
					t.Logf("offset %d out of range for interval %d", off, tr.IntervalSeconds)
					return false
				}
				if seen[tr.IntervalSeconds] == nil {
					seen[tr.IntervalSeconds] = map[int]bool{}
				}
				if seen[tr.IntervalSeconds][off] {
					t.Logf("duplicate offset %d for interval %d", off, tr.IntervalSeconds)
					return false
				}
				seen[tr.IntervalSeconds][off] = true
			}
			return true
		},
		gen.IntRange(1, 40),
		intervalGen,
		intervalGen,
	))

	properties.Property("offsets are deterministic", prop.ForAll(
		func(n, interval int) bool {
			traders := make([]TraderInterval, n)
			for i := range traders {
				traders[i] = TraderInterval{ID: fmt.Sprintf("t%d", i), IntervalSeconds: interval}
			}
			return reflect.DeepEqual(ComputeOffsets(traders), ComputeOffsets(traders))
		},
		gen.IntRange(1, 50),
		gen.IntRange(1, 3600),
	))

	properties.TestingRun(t)
}

// GenerateTriggers is replayable, bounded by [start, end] and evenly spaced.
func TestProperty_GenerateTriggersDeterministic(t *testing.T) {
	properties := newProperties()

	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	properties.Property("triggers are deterministic, bounded and evenly spaced", prop.ForAll(
		func(startOffsetSec, windowSec, intervalSec, offsetSec int) bool {
			start := base.Add(time.Duration(startOffsetSec) * time.Second)
			end := start.Add(time.Duration(windowSec) * time.Second)
			interval := time.Duration(intervalSec) * time.Second
			offset := time.Duration(offsetSec%intervalSec) * time.Second

			first, err := GenerateTriggers(start, end, interval, offset)
			if err != nil {
				return false
			}
			second, _ := GenerateTriggers(start, end, interval, offset)
			if !reflect.DeepEqual(first, second) {
				return false
			}

			for i, ts := range first {
				if ts.Before(start) || ts.After(end) {
					return false
				}
				if i > 0 && ts.Sub(first[i-1]) != interval {
					return false
				}
			}
			if len(first) > 0 && !first[0].Equal(start.Add(offset)) {
				return false
			}
			if len(first) > 0 && !first[len(first)-1].Add(interval).After(end) {
				return false
			}
			return true
		},
		gen.IntRange(0, 86400),
		gen.IntRange(0, 7200),
		gen.IntRange(1, 900),
		gen.IntRange(0, 900),
	))

	properties.TestingRun(t)
}
