package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"heartbeat-trader/internal/models"
)

type staticTraders []models.Trader

func (s staticTraders) ListTraders(ctx context.Context, activeOnly bool) ([]models.Trader, error) {
	return s, nil
}

func TestComputeOffsetsGoldenRatio(t *testing.T) {
	offsets := ComputeOffsets([]TraderInterval{
		{ID: "a", IntervalSeconds: 300},
		{ID: "b", IntervalSeconds: 300},
		{ID: "c", IntervalSeconds: 300},
	})

	assert.Equal(t, 0, offsets["a"])
	assert.Equal(t, 185, offsets["b"]) // floor(0.618034 × 300)
	assert.Equal(t, 70, offsets["c"])  // floor((2 × 0.618034 × 300) mod 300)
}

func TestComputeOffsetsResolvesCollisions(t *testing.T) {
	traders := make([]TraderInterval, 10)
	for i := range traders {
		traders[i] = TraderInterval{ID: string(rune('a' + i)), IntervalSeconds: 10}
	}

	offsets := ComputeOffsets(traders)

	seen := map[int]bool{}
	for _, tr := range traders {
		assert.False(t, seen[offsets[tr.ID]], "offset %d reused", offsets[tr.ID])
		seen[offsets[tr.ID]] = true
	}
	assert.Len(t, seen, 10)
}

func TestGenerateTriggersRejectsBadInput(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	_, err := GenerateTriggers(start, start.Add(time.Hour), 0, 0)
	assert.Error(t, err)

	_, err = GenerateTriggers(start, start.Add(-time.Second), time.Minute, 0)
	assert.Error(t, err)

	got, err := GenerateTriggers(start, start.Add(10*time.Minute), 5*time.Minute, 2*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, []time.Time{start.Add(2 * time.Minute), start.Add(7 * time.Minute)}, got)
}

func TestNextTriggerAfter(t *testing.T) {
	now := time.Date(2024, 1, 1, 10, 3, 0, 0, time.UTC)

	next := NextTriggerAfter(now, 5*time.Minute, 2*time.Minute)
	assert.Equal(t, time.Date(2024, 1, 1, 10, 7, 0, 0, time.UTC), next)

	next = NextTriggerAfter(now, 5*time.Minute, 4*time.Minute)
	assert.Equal(t, time.Date(2024, 1, 1, 10, 4, 0, 0, time.UTC), next)
}

func TestTimelineForOrdersByTime(t *testing.T) {
	traders := []models.Trader{
		{ID: "beta", HeartbeatInterval: 60},
		{ID: "alpha", HeartbeatInterval: 60},
	}
	slots := Plan(traders)
	require.Len(t, slots, 2)
	assert.Equal(t, "alpha", slots[0].TraderID)
	assert.Equal(t, time.Duration(0), slots[0].Offset)
	assert.Equal(t, 37*time.Second, slots[1].Offset) // floor(0.618034 × 60)

	from := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	timeline, err := TimelineFor(slots, from, from.Add(2*time.Minute))
	require.NoError(t, err)

	want := []Trigger{
		{TraderID: "alpha", At: from},
		{TraderID: "beta", At: from.Add(37 * time.Second)},
		{TraderID: "alpha", At: from.Add(time.Minute)},
		{TraderID: "beta", At: from.Add(97 * time.Second)},
		{TraderID: "alpha", At: from.Add(2 * time.Minute)},
	}
	assert.Equal(t, want, timeline)
}

func TestRunnerFiresTriggersUntilCancelled(t *testing.T) {
	var mu sync.Mutex
	fired := map[string]int{}

	handler := func(ctx context.Context, traderID string, at time.Time) {
		mu.Lock()
		defer mu.Unlock()
		fired[traderID]++
	}

	runner := NewRunner(staticTraders{{ID: "t1", HeartbeatInterval: 1, Active: true}}, handler, RunnerConfig{MaxConcurrent: 1}, zerolog.Nop())

	ctx, cancel := context.WithTimeout(context.Background(), 2500*time.Millisecond)
	defer cancel()

	require.NoError(t, runner.Run(ctx))

	mu.Lock()
	defer mu.Unlock()
	assert.GreaterOrEqual(t, fired["t1"], 2)
}
