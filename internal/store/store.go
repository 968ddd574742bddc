// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"time"

	"heartbeat-trader/internal/models"
)

// TraderStore persists trader configurations.
type TraderStore interface {
	SaveTrader(ctx context.Context, trader *models.Trader) error
	GetTrader(ctx context.Context, id string) (*models.Trader, error)
	ListTraders(ctx context.Context, activeOnly bool) ([]models.Trader, error)
}

// PositionStore persists positions and their append-only history.
type PositionStore interface {
	// CreatePosition inserts the position and its opening history entry atomically.
	CreatePosition(ctx context.Context, position *models.Position, entry *models.PositionHistory) error
	GetPosition(ctx context.Context, id string) (*models.Position, error)
	ListPositions(ctx context.Context, filter PositionFilter) ([]models.Position, error)
	// UpdatePosition writes the position only if the stored row is still open
	// and still at expectedVersion, and appends entry (if any) in the same
	// transaction. On success position.Version is advanced. A stale version
	// yields a ConflictError.
	UpdatePosition(ctx context.Context, position *models.Position, expectedVersion int64, entry *models.PositionHistory) error
	ListPositionHistory(ctx context.Context, positionID string) ([]models.PositionHistory, error)
	// DailyRealizedPnL sums realized PnL booked by the trader on the UTC day containing day.
	DailyRealizedPnL(ctx context.Context, traderID string, day time.Time) (float64, error)
	// ConsecutiveLosses counts the trader's most recent finished positions with negative PnL.
	ConsecutiveLosses(ctx context.Context, traderID string) (int, error)
}

// HeartbeatStore persists heartbeat records.
type HeartbeatStore interface {
	// BeginHeartbeat inserts an in_progress record. It fails with a
	// ConflictError wrapping ErrHeartbeatRunning when the trader already has one.
	BeginHeartbeat(ctx context.Context, record *models.HeartbeatRecord) error
	// InsertHeartbeat appends a record that is already terminal (skips).
	InsertHeartbeat(ctx context.Context, record *models.HeartbeatRecord) error
	UpdateHeartbeat(ctx context.Context, record *models.HeartbeatRecord) error
	GetHeartbeat(ctx context.Context, id string) (*models.HeartbeatRecord, error)
	ListHeartbeats(ctx context.Context, filter HeartbeatFilter) ([]models.HeartbeatRecord, error)
	HasRunningHeartbeat(ctx context.Context, traderID string) (bool, error)
	// FailStaleHeartbeats marks in_progress records started before olderThan as failed.
	FailStaleHeartbeats(ctx context.Context, olderThan time.Time) (int64, error)
}

// Store is the full persistence surface used by the engine.
type Store interface {
	TraderStore
	PositionStore
	HeartbeatStore

	// Lifecycle
	Close() error
}

// PositionFilter represents filters for querying positions.
type PositionFilter struct {
	TraderID string
	Status   models.PositionStatus
	Symbol   string
	Limit    int
}

// HeartbeatFilter represents filters for querying heartbeat records.
type HeartbeatFilter struct {
	TraderID string
	Status   models.HeartbeatStatus
	Since    time.Time
	Limit    int
}

// AbandonedHeartbeatError is the error text stored on heartbeats failed by FailStaleHeartbeats.
const AbandonedHeartbeatError = "heartbeat abandoned: process stopped before completion"

// DayBounds returns the UTC day [start, end) containing ts.
func DayBounds(ts time.Time) (time.Time, time.Time) {
	start := ts.UTC().Truncate(24 * time.Hour)
	return start, start.Add(24 * time.Hour)
}

// realizedActions are the history actions that book realized PnL.
var realizedActions = []models.HistoryAction{
	models.HistoryPartialClose,
	models.HistoryClose,
	models.HistoryLiquidate,
	models.HistoryStopLoss,
	models.HistoryTakeProfit,
}

// RealizedActions returns the history actions that book realized PnL.
func RealizedActions() []string {
	out := make([]string, len(realizedActions))
	for i, a := range realizedActions {
		out[i] = string(a)
	}
	return out
}
