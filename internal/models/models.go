// Package models provides domain models for the heartbeat trading engine.
package models

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	apperrors "heartbeat-trader/internal/errors"
)

// Leverage limits accepted by the venue.
const (
	MinLeverage = 1
	MaxLeverage = 125
)

// Side represents the direction of a leveraged position.
type Side string

const (
	SideLong  Side = "long"
	SideShort Side = "short"
)

// Valid reports whether the side is one of the known values.
func (s Side) Valid() bool {
	return s == SideLong || s == SideShort
}

// TriggerSource identifies what started a heartbeat.
type TriggerSource string

const (
	TriggeredByScheduler TriggerSource = "scheduler"
	TriggeredByManual    TriggerSource = "manual"
)

// TimeOfDay is a wall-clock time expressed in minutes after midnight.
type TimeOfDay int

// ParseTimeOfDay parses "HH:MM" (24h clock). "24:00" is accepted as end of day.
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) != 2 {
		return 0, fmt.Errorf("invalid time of day %q: expected HH:MM", s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, fmt.Errorf("invalid hour in %q: %w", s, err)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0, fmt.Errorf("invalid minute in %q: %w", s, err)
	}
	if h < 0 || h > 24 || m < 0 || m > 59 || (h == 24 && m != 0) {
		return 0, fmt.Errorf("time of day out of range: %q", s)
	}
	return TimeOfDay(h*60 + m), nil
}

// String formats the value as HH:MM.
func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", int(t)/60, int(t)%60)
}

// TimeOfDayOf returns the time of day of an instant, in the instant's location.
func TimeOfDayOf(ts time.Time) TimeOfDay {
	return TimeOfDay(ts.Hour()*60 + ts.Minute())
}

// ActiveHours is the daily window in which a trader may act. When End is
// before Start the window wraps midnight: [Start, 24:00) ∪ [00:00, End).
// An unset window (Start == End) means always active.
type ActiveHours struct {
	Start TimeOfDay `json:"start"`
	End   TimeOfDay `json:"end"`
}

// Contains reports whether ts falls inside the window.
func (a ActiveHours) Contains(ts time.Time) bool {
	if a.Start == a.End {
		return true
	}
	tod := TimeOfDayOf(ts)
	if a.Start < a.End {
		return tod >= a.Start && tod < a.End
	}
	return tod >= a.Start || tod < a.End
}

// Trader is the configuration of one autonomous trading agent. It is read
// once per heartbeat and treated as immutable for that heartbeat.
type Trader struct {
	ID                     string      `json:"id"`
	Name                   string      `json:"name"`
	Active                 bool        `json:"active"`
	Aggressiveness         int         `json:"aggressiveness"`
	MinLeverage            float64     `json:"min_leverage"`
	MaxLeverage            float64     `json:"max_leverage"`
	MaxConcurrentPositions int         `json:"max_concurrent_positions"`
	MinPositionSize        float64     `json:"min_position_size"`
	MaxPositionSize        float64     `json:"max_position_size"`
	MaxDrawdownPct         float64     `json:"max_drawdown_pct"`
	StopLossThresholdPct   float64     `json:"stop_loss_threshold_pct"`
	PositionStopLossPct    float64     `json:"position_stop_loss_pct"`
	PositionTakeProfitPct  float64     `json:"position_take_profit_pct"`
	MaxConsecutiveLosses   int         `json:"max_consecutive_losses"`
	DailyMaxLoss           float64     `json:"daily_max_loss"`
	AllowShort             bool        `json:"allow_short"`
	ActiveHours            ActiveHours `json:"active_hours"`
	HeartbeatInterval      int         `json:"heartbeat_interval_seconds"`
	TradingStrategy        string      `json:"trading_strategy"`
	HoldingPeriod          string      `json:"holding_period"`
	Symbol                 string      `json:"symbol"`
	Timeframes             []string    `json:"timeframes"`
	ReaderIDs              []string    `json:"reader_ids"`
	CreatedAt              time.Time   `json:"created_at"`
	UpdatedAt              time.Time   `json:"updated_at"`
}

// Validate checks the trader's static invariants.
func (t *Trader) Validate() error {
	if t.ID == "" {
		return apperrors.NewValidationError("id", t.ID, "trader id is required")
	}
	if t.Aggressiveness < 1 || t.Aggressiveness > 10 {
		return apperrors.NewValidationError("aggressiveness", t.Aggressiveness, "must be between 1 and 10")
	}
	if t.MinLeverage < MinLeverage || t.MaxLeverage > MaxLeverage {
		return apperrors.NewValidationError("leverage", [2]float64{t.MinLeverage, t.MaxLeverage},
			fmt.Sprintf("bounds must be within [%d,%d]", MinLeverage, MaxLeverage))
	}
	if t.MinLeverage > t.MaxLeverage {
		return apperrors.NewValidationError("min_leverage", t.MinLeverage, fmt.Sprintf("exceeds max_leverage %g", t.MaxLeverage))
	}
	if t.MinPositionSize < 0 || t.MaxPositionSize < 0 {
		return apperrors.NewValidationError("position_size", [2]float64{t.MinPositionSize, t.MaxPositionSize}, "bounds must be non-negative")
	}
	if t.MaxPositionSize > 0 && t.MinPositionSize > t.MaxPositionSize {
		return apperrors.NewValidationError("min_position_size", t.MinPositionSize, fmt.Sprintf("exceeds max_position_size %g", t.MaxPositionSize))
	}
	for _, f := range []struct {
		name  string
		value float64
	}{
		{"max_drawdown_pct", t.MaxDrawdownPct},
		{"stop_loss_threshold_pct", t.StopLossThresholdPct},
		{"position_stop_loss_pct", t.PositionStopLossPct},
		{"position_take_profit_pct", t.PositionTakeProfitPct},
		{"daily_max_loss", t.DailyMaxLoss},
	} {
		if f.value < 0 {
			return apperrors.NewValidationError(f.name, f.value, "must be non-negative")
		}
	}
	if t.MaxConcurrentPositions < 0 {
		return apperrors.NewValidationError("max_concurrent_positions", t.MaxConcurrentPositions, "must be non-negative")
	}
	if t.MaxConsecutiveLosses < 0 {
		return apperrors.NewValidationError("max_consecutive_losses", t.MaxConsecutiveLosses, "must be non-negative")
	}
	if t.HeartbeatInterval <= 0 {
		return apperrors.NewValidationError("heartbeat_interval_seconds", t.HeartbeatInterval, "must be positive")
	}
	return nil
}

// Interval returns the heartbeat interval as a duration.
func (t *Trader) Interval() time.Duration {
	return time.Duration(t.HeartbeatInterval) * time.Second
}

// Candle represents OHLCV data for a time period.
type Candle struct {
	Timestamp time.Time `json:"timestamp"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    float64   `json:"volume"`
}
