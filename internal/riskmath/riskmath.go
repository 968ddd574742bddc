// Package riskmath provides the pure margin, fee, liquidation and PnL formulas
// used for leveraged positions. Arithmetic is carried out in decimal and
// converted back to float64 at the boundary.
package riskmath

import (
	"github.com/shopspring/decimal"

	apperrors "heartbeat-trader/internal/errors"
	"heartbeat-trader/internal/models"
)

var (
	one     = decimal.NewFromInt(1)
	hundred = decimal.NewFromInt(100)
)

func dec(v float64) decimal.Decimal {
	return decimal.NewFromFloat(v)
}

func float(d decimal.Decimal) float64 {
	f, _ := d.Float64()
	return f
}

func requirePositive(field string, v float64) error {
	if !(v > 0) {
		return apperrors.NewValidationError(field, v, "must be positive")
	}
	return nil
}

func requireLeverage(leverage float64) error {
	if leverage < models.MinLeverage || leverage > models.MaxLeverage {
		return apperrors.NewValidationError("leverage", leverage, "must be within [1,125]")
	}
	return nil
}

func requireSide(side models.Side) error {
	if !side.Valid() {
		return apperrors.NewValidationError("side", side, "must be long or short")
	}
	return nil
}

// Margin returns size / leverage.
func Margin(size, leverage float64) (float64, error) {
	if err := requirePositive("size", size); err != nil {
		return 0, err
	}
	if err := requireLeverage(leverage); err != nil {
		return 0, err
	}
	return float(dec(size).Div(dec(leverage))), nil
}

// Quantity returns size / price.
func Quantity(size, price float64) (float64, error) {
	if err := requirePositive("size", size); err != nil {
		return 0, err
	}
	if err := requirePositive("price", price); err != nil {
		return 0, err
	}
	return float(dec(size).Div(dec(price))), nil
}

// Fee returns size × rate.
func Fee(size, rate float64) (float64, error) {
	if err := requirePositive("size", size); err != nil {
		return 0, err
	}
	if rate < 0 {
		return 0, apperrors.NewValidationError("rate", rate, "must be non-negative")
	}
	return float(dec(size).Mul(dec(rate))), nil
}

// LiquidationPrice returns the price at which the position's margin is used up.
// long: entry × (1 − 1/L + mmr); short: entry × (1 + 1/L − mmr).
func LiquidationPrice(side models.Side, entry, leverage, mmr float64) (float64, error) {
	if err := requireSide(side); err != nil {
		return 0, err
	}
	if err := requirePositive("entry", entry); err != nil {
		return 0, err
	}
	if err := requireLeverage(leverage); err != nil {
		return 0, err
	}
	if mmr < 0 || mmr >= 1 {
		return 0, apperrors.NewValidationError("maintenance_margin_ratio", mmr, "must be within [0,1)")
	}

	inv := one.Div(dec(leverage))
	var factor decimal.Decimal
	if side == models.SideLong {
		factor = one.Sub(inv).Add(dec(mmr))
	} else {
		factor = one.Add(inv).Sub(dec(mmr))
	}
	return float(dec(entry).Mul(factor)), nil
}

// ShouldLiquidate reports whether current has crossed the liquidation price.
func ShouldLiquidate(side models.Side, current, liqPrice float64) (bool, error) {
	if err := requireSide(side); err != nil {
		return false, err
	}
	if err := requirePositive("current", current); err != nil {
		return false, err
	}
	if liqPrice < 0 {
		return false, apperrors.NewValidationError("liquidation_price", liqPrice, "must be non-negative")
	}
	if side == models.SideLong {
		return dec(current).LessThanOrEqual(dec(liqPrice)), nil
	}
	return dec(current).GreaterThanOrEqual(dec(liqPrice)), nil
}

// PnL returns the profit of closing quantity at exit.
// long: (exit − entry) × qty; short: (entry − exit) × qty.
func PnL(side models.Side, entry, exit, quantity float64) (float64, error) {
	if err := requireSide(side); err != nil {
		return 0, err
	}
	if err := requirePositive("entry", entry); err != nil {
		return 0, err
	}
	if err := requirePositive("exit", exit); err != nil {
		return 0, err
	}
	if err := requirePositive("quantity", quantity); err != nil {
		return 0, err
	}
	diff := dec(exit).Sub(dec(entry))
	if side == models.SideShort {
		diff = diff.Neg()
	}
	return float(diff.Mul(dec(quantity))), nil
}

// ROE returns pnl / margin × 100.
func ROE(pnl, margin float64) (float64, error) {
	if err := requirePositive("margin", margin); err != nil {
		return 0, err
	}
	return float(dec(pnl).Div(dec(margin)).Mul(hundred)), nil
}

// StopLossPrice returns the stop-loss price pct percent away from entry.
// long: entry × (1 − pct/100); short: entry × (1 + pct/100).
func StopLossPrice(side models.Side, entry, pct float64) (float64, error) {
	return offsetPrice(side, entry, pct, side == models.SideShort)
}

// TakeProfitPrice mirrors StopLossPrice with the direction swapped.
func TakeProfitPrice(side models.Side, entry, pct float64) (float64, error) {
	return offsetPrice(side, entry, pct, side == models.SideLong)
}

func offsetPrice(side models.Side, entry, pct float64, up bool) (float64, error) {
	if err := requireSide(side); err != nil {
		return 0, err
	}
	if err := requirePositive("entry", entry); err != nil {
		return 0, err
	}
	if pct < 0 {
		return 0, apperrors.NewValidationError("pct", pct, "must be non-negative")
	}
	move := dec(pct).Div(hundred)
	factor := one.Sub(move)
	if up {
		factor = one.Add(move)
	}
	price := dec(entry).Mul(factor)
	if !price.IsPositive() {
		return 0, apperrors.NewValidationError("pct", pct, "produces a non-positive price")
	}
	return float(price), nil
}

// IsStopLossTriggered: long → current ≤ sl; short → current ≥ sl.
func IsStopLossTriggered(side models.Side, current, slPrice float64) (bool, error) {
	if err := checkTrigger(side, current, "stop_loss", slPrice); err != nil {
		return false, err
	}
	if side == models.SideLong {
		return dec(current).LessThanOrEqual(dec(slPrice)), nil
	}
	return dec(current).GreaterThanOrEqual(dec(slPrice)), nil
}

// IsTakeProfitTriggered: long → current ≥ tp; short → current ≤ tp.
func IsTakeProfitTriggered(side models.Side, current, tpPrice float64) (bool, error) {
	if err := checkTrigger(side, current, "take_profit", tpPrice); err != nil {
		return false, err
	}
	if side == models.SideLong {
		return dec(current).GreaterThanOrEqual(dec(tpPrice)), nil
	}
	return dec(current).LessThanOrEqual(dec(tpPrice)), nil
}

func checkTrigger(side models.Side, current float64, field string, level float64) error {
	if err := requireSide(side); err != nil {
		return err
	}
	if err := requirePositive("current", current); err != nil {
		return err
	}
	return requirePositive(field, level)
}

// RiskRewardRatio returns |tp − entry| / |entry − sl|.
func RiskRewardRatio(entry, sl, tp float64) (float64, error) {
	if err := requirePositive("entry", entry); err != nil {
		return 0, err
	}
	if err := requirePositive("stop_loss", sl); err != nil {
		return 0, err
	}
	if err := requirePositive("take_profit", tp); err != nil {
		return 0, err
	}
	risk := dec(entry).Sub(dec(sl)).Abs()
	if risk.IsZero() {
		return 0, apperrors.NewValidationError("stop_loss", sl, "stop-loss distance is zero")
	}
	return float(dec(tp).Sub(dec(entry)).Abs().Div(risk)), nil
}

// ValidStops reports whether stop-loss and take-profit are ordered correctly
// around entry for the side. Either value may be nil.
// long: sl < entry < tp; short: tp < entry < sl.
func ValidStops(side models.Side, entry float64, sl, tp *float64) error {
	if err := requireSide(side); err != nil {
		return err
	}
	if sl != nil {
		if err := requirePositive("stop_loss", *sl); err != nil {
			return err
		}
		if side == models.SideLong && !(*sl < entry) {
			return apperrors.NewValidationError("stop_loss", *sl, "must be below entry for long positions")
		}
		if side == models.SideShort && !(*sl > entry) {
			return apperrors.NewValidationError("stop_loss", *sl, "must be above entry for short positions")
		}
	}
	if tp != nil {
		if err := requirePositive("take_profit", *tp); err != nil {
			return err
		}
		if side == models.SideLong && !(*tp > entry) {
			return apperrors.NewValidationError("take_profit", *tp, "must be above entry for long positions")
		}
		if side == models.SideShort && !(*tp < entry) {
			return apperrors.NewValidationError("take_profit", *tp, "must be below entry for short positions")
		}
	}
	return nil
}
