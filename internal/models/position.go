package models

import (
	"encoding/json"
	"time"
)

// PositionStatus represents the lifecycle state of a position.
type PositionStatus string

const (
	PositionOpen       PositionStatus = "open"
	PositionClosed     PositionStatus = "closed"
	PositionLiquidated PositionStatus = "liquidated"
)

// CloseReason explains why a position left the open state.
type CloseReason string

const (
	CloseReasonManual      CloseReason = "manual"
	CloseReasonDecision    CloseReason = "decision"
	CloseReasonStopLoss    CloseReason = "stop_loss"
	CloseReasonTakeProfit  CloseReason = "take_profit"
	CloseReasonLiquidation CloseReason = "liquidation"
)

// Position is a leveraged derivative position owned by one trader.
// Invariants: margin = positionSize / leverage, and for long positions
// stopLoss < entry < takeProfit (mirrored for shorts) when both are set.
// A position is immutable once its status leaves open.
type Position struct {
	ID               string         `json:"id"`
	TraderID         string         `json:"trader_id"`
	Symbol           string         `json:"symbol"`
	Side             Side           `json:"side"`
	Status           PositionStatus `json:"status"`
	EntryPrice       float64        `json:"entry_price"`
	CurrentPrice     float64        `json:"current_price"`
	Leverage         float64        `json:"leverage"`
	Quantity         float64        `json:"quantity"`
	PositionSize     float64        `json:"position_size"`
	Margin           float64        `json:"margin"`
	LiquidationPrice float64        `json:"liquidation_price"`
	OpenFee          float64        `json:"open_fee"`
	CloseFee         float64        `json:"close_fee"`
	UnrealizedPnL    float64        `json:"unrealized_pnl"`
	RealizedPnL      float64        `json:"realized_pnl"`
	StopLoss         *float64       `json:"stop_loss,omitempty"`
	TakeProfit       *float64       `json:"take_profit,omitempty"`
	ClosePrice       float64        `json:"close_price,omitempty"`
	CloseReason      CloseReason    `json:"close_reason,omitempty"`
	HeartbeatID      string         `json:"heartbeat_id,omitempty"`
	Version          int64          `json:"version"`
	OpenedAt         time.Time      `json:"opened_at"`
	UpdatedAt        time.Time      `json:"updated_at"`
	ClosedAt         *time.Time     `json:"closed_at,omitempty"`
}

// IsOpen reports whether the position can still be mutated.
func (p *Position) IsOpen() bool {
	return p.Status == PositionOpen
}

// Clone returns a deep copy so callers can mutate without aliasing.
func (p *Position) Clone() *Position {
	c := *p
	if p.StopLoss != nil {
		v := *p.StopLoss
		c.StopLoss = &v
	}
	if p.TakeProfit != nil {
		v := *p.TakeProfit
		c.TakeProfit = &v
	}
	if p.ClosedAt != nil {
		v := *p.ClosedAt
		c.ClosedAt = &v
	}
	return &c
}

// HistoryAction identifies the kind of position history entry.
type HistoryAction string

const (
	HistoryOpen         HistoryAction = "open"
	HistoryPartialClose HistoryAction = "partial_close"
	HistoryClose        HistoryAction = "close"
	HistoryLiquidate    HistoryAction = "liquidate"
	HistoryStopLoss     HistoryAction = "stop_loss"
	HistoryTakeProfit   HistoryAction = "take_profit"
	HistoryModifyStops  HistoryAction = "modify_stops"
)

// PositionHistory is an append-only audit entry for a position mutation.
type PositionHistory struct {
	ID         string          `json:"id"`
	PositionID string          `json:"position_id"`
	TraderID   string          `json:"trader_id"`
	Action     HistoryAction   `json:"action"`
	Price      float64         `json:"price"`
	Quantity   float64         `json:"quantity"`
	Fee        float64         `json:"fee"`
	PnL        float64         `json:"pnl"`
	Details    json.RawMessage `json:"details,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
}

// StopChange captures the old and new stop values of a modify_stops entry.
type StopChange struct {
	OldStopLoss   *float64 `json:"old_stop_loss,omitempty"`
	NewStopLoss   *float64 `json:"new_stop_loss,omitempty"`
	OldTakeProfit *float64 `json:"old_take_profit,omitempty"`
	NewTakeProfit *float64 `json:"new_take_profit,omitempty"`
}

// Float returns a pointer to v.
func Float(v float64) *float64 {
	return &v
}
