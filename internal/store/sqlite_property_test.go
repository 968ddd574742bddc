package store

import (
	"context"
	"fmt"
	"math"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "heartbeat-trader/internal/errors"
	"heartbeat-trader/internal/models"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func testPosition(id, traderID string, opened time.Time) *models.Position {
	return &models.Position{
		ID:               id,
		TraderID:         traderID,
		Symbol:           "BTCUSDT",
		Side:             models.SideLong,
		Status:           models.PositionOpen,
		EntryPrice:       100,
		CurrentPrice:     100,
		Leverage:         10,
		Quantity:         10,
		PositionSize:     1000,
		Margin:           100,
		LiquidationPrice: 90.5,
		OpenFee:          0.5,
		StopLoss:         models.Float(95),
		OpenedAt:         opened,
		UpdatedAt:        opened,
	}
}

// Property: a position read back after create equals what was written.
func TestProperty_PositionRoundTrip(t *testing.T) {
	store := newTestStore(t)

	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50
	parameters.Rng.Seed(time.Now().UnixNano())
	properties := gopter.NewProperties(parameters)

	seq := 0
	properties.Property("create then get preserves the position", prop.ForAll(
		func(entry, leverage float64, short bool, withTP bool) bool {
			ctx := context.Background()
			seq++
			opened := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
			p := testPosition(fmt.Sprintf("pos-%d", seq), "trader-rt", opened)
			p.EntryPrice = entry
			p.CurrentPrice = entry
			p.Leverage = leverage
			p.Margin = p.PositionSize / leverage
			if short {
				p.Side = models.SideShort
				p.StopLoss = nil
			}
			if withTP {
				p.TakeProfit = models.Float(entry * 1.1)
			}

			if err := store.CreatePosition(ctx, p, nil); err != nil {
				t.Logf("Failed to create position: %v", err)
				return false
			}
			got, err := store.GetPosition(ctx, p.ID)
			if err != nil {
				t.Logf("Failed to get position: %v", err)
				return false
			}

			if got.Side != p.Side || got.Status != models.PositionOpen {
				return false
			}
			if math.Abs(got.EntryPrice-p.EntryPrice) > 1e-9 || math.Abs(got.Margin-p.Margin) > 1e-9 {
				return false
			}
			if (got.StopLoss == nil) != (p.StopLoss == nil) || (got.TakeProfit == nil) != (p.TakeProfit == nil) {
				return false
			}
			return got.OpenedAt.Equal(opened) && got.ClosedAt == nil
		},
		gen.Float64Range(1, 100000),
		gen.Float64Range(1, 125),
		gen.Bool(),
		gen.Bool(),
	))

	properties.TestingRun(t)
}

func TestUpdatePositionRejectsStaleVersion(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	now := time.Now().UTC()
	p := testPosition("pos-1", "trader-1", now)
	require.NoError(t, store.CreatePosition(ctx, p, &models.PositionHistory{
		ID: "h-1", PositionID: p.ID, TraderID: p.TraderID, Action: models.HistoryOpen, Price: 100, Quantity: 10, CreatedAt: now,
	}))

	first := p.Clone()
	first.CurrentPrice = 101
	require.NoError(t, store.UpdatePosition(ctx, first, 0, nil))
	assert.Equal(t, int64(1), first.Version)

	stale := p.Clone()
	stale.CurrentPrice = 99
	err := store.UpdatePosition(ctx, stale, 0, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrConcurrencyConflict)

	got, err := store.GetPosition(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, 101.0, got.CurrentPrice)

	err = store.UpdatePosition(ctx, testPosition("missing", "trader-1", now), 0, nil)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestUpdatePositionRefusesClosedPosition(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	now := time.Now().UTC()
	p := testPosition("pos-1", "trader-1", now)
	require.NoError(t, store.CreatePosition(ctx, p, nil))

	closed := p.Clone()
	closed.Status = models.PositionClosed
	closed.ClosedAt = &now
	require.NoError(t, store.UpdatePosition(ctx, closed, 0, nil))

	again := closed.Clone()
	again.CurrentPrice = 120
	err := store.UpdatePosition(ctx, again, closed.Version, nil)
	assert.ErrorIs(t, err, apperrors.ErrConcurrencyConflict)
}

func TestDailyRealizedPnLAndConsecutiveLosses(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	day := time.Date(2024, 5, 10, 9, 0, 0, 0, time.UTC)
	pnls := []float64{25, -10, -5}
	for i, pnl := range pnls {
		opened := day.Add(time.Duration(i) * time.Minute)
		p := testPosition(fmt.Sprintf("pos-%d", i), "trader-1", opened)
		require.NoError(t, store.CreatePosition(ctx, p, nil))

		closedAt := opened.Add(30 * time.Second)
		p.Status = models.PositionClosed
		p.RealizedPnL = pnl
		p.ClosedAt = &closedAt
		p.UpdatedAt = closedAt
		require.NoError(t, store.UpdatePosition(ctx, p, 0, &models.PositionHistory{
			ID: fmt.Sprintf("close-%d", i), PositionID: p.ID, TraderID: p.TraderID,
			Action: models.HistoryClose, PnL: pnl, CreatedAt: closedAt,
		}))
	}

	total, err := store.DailyRealizedPnL(ctx, "trader-1", day)
	require.NoError(t, err)
	assert.InDelta(t, 10.0, total, 1e-9)

	total, err = store.DailyRealizedPnL(ctx, "trader-1", day.Add(24*time.Hour))
	require.NoError(t, err)
	assert.Zero(t, total)

	losses, err := store.ConsecutiveLosses(ctx, "trader-1")
	require.NoError(t, err)
	assert.Equal(t, 2, losses)

	history, err := store.ListPositionHistory(ctx, "pos-1")
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, models.HistoryClose, history[0].Action)
}

func TestBeginHeartbeatAllowsOneInProgressPerTrader(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	now := time.Now().UTC()
	first := &models.HeartbeatRecord{ID: "hb-1", TraderID: "trader-1", Status: models.HeartbeatInProgress,
		TriggeredBy: models.TriggeredByScheduler, TriggeredAt: now, StartedAt: &now}
	require.NoError(t, store.BeginHeartbeat(ctx, first))

	second := &models.HeartbeatRecord{ID: "hb-2", TraderID: "trader-1", Status: models.HeartbeatInProgress,
		TriggeredBy: models.TriggeredByManual, TriggeredAt: now}
	err := store.BeginHeartbeat(ctx, second)
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrHeartbeatRunning)

	other := &models.HeartbeatRecord{ID: "hb-3", TraderID: "trader-2", Status: models.HeartbeatInProgress,
		TriggeredBy: models.TriggeredByManual, TriggeredAt: now}
	require.NoError(t, store.BeginHeartbeat(ctx, other))

	running, err := store.HasRunningHeartbeat(ctx, "trader-1")
	require.NoError(t, err)
	assert.True(t, running)

	first.Finish(models.HeartbeatCompleted, now.Add(time.Second), nil)
	first.MicroDecisions = []models.MicroDecision{{Timeframe: "1h", Action: models.ActionHold, Confidence: 0.4}}
	require.NoError(t, store.UpdateHeartbeat(ctx, first))

	require.NoError(t, store.BeginHeartbeat(ctx, second))

	got, err := store.GetHeartbeat(ctx, "hb-1")
	require.NoError(t, err)
	assert.Equal(t, models.HeartbeatCompleted, got.Status)
	require.Len(t, got.MicroDecisions, 1)
	assert.Equal(t, "1h", got.MicroDecisions[0].Timeframe)
}

func TestBeginHeartbeatConcurrentStartsOnlyOneWins(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	now := time.Now().UTC()
	var wg sync.WaitGroup
	errs := make([]error, 8)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = store.BeginHeartbeat(ctx, &models.HeartbeatRecord{
				ID: fmt.Sprintf("hb-%d", i), TraderID: "trader-1", Status: models.HeartbeatInProgress,
				TriggeredBy: models.TriggeredByManual, TriggeredAt: now,
			})
		}(i)
	}
	wg.Wait()

	wins := 0
	for _, err := range errs {
		if err == nil {
			wins++
			continue
		}
		assert.ErrorIs(t, err, apperrors.ErrHeartbeatRunning)
	}
	assert.Equal(t, 1, wins)
}

func TestFailStaleHeartbeats(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	old := time.Now().UTC().Add(-time.Hour)
	require.NoError(t, store.BeginHeartbeat(ctx, &models.HeartbeatRecord{
		ID: "hb-old", TraderID: "trader-1", Status: models.HeartbeatInProgress,
		TriggeredBy: models.TriggeredByScheduler, TriggeredAt: old,
	}))

	n, err := store.FailStaleHeartbeats(ctx, time.Now().UTC())
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	got, err := store.GetHeartbeat(ctx, "hb-old")
	require.NoError(t, err)
	assert.Equal(t, models.HeartbeatFailed, got.Status)
	assert.Equal(t, AbandonedHeartbeatError, got.Error)

	records, err := store.ListHeartbeats(ctx, HeartbeatFilter{TraderID: "trader-1", Status: models.HeartbeatFailed})
	require.NoError(t, err)
	assert.Len(t, records, 1)
}

func TestTraderSaveAndList(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	for _, id := range []string{"zeta", "alpha"} {
		require.NoError(t, store.SaveTrader(ctx, &models.Trader{ID: id, Active: id == "alpha", Aggressiveness: 5,
			MinLeverage: 1, MaxLeverage: 20, HeartbeatInterval: 300, Timeframes: []string{"1h"}}))
	}

	all, err := store.ListTraders(ctx, false)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "alpha", all[0].ID)

	active, err := store.ListTraders(ctx, true)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, []string{"1h"}, active[0].Timeframes)

	_, err = store.GetTrader(ctx, "missing")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}
