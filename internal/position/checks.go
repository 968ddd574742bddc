package position

import (
	"fmt"
	"math"

	apperrors "heartbeat-trader/internal/errors"
	"heartbeat-trader/internal/models"
	"heartbeat-trader/internal/riskmath"
)

// EntryState is the trader's trading state at the moment of an open.
type EntryState struct {
	OpenPositions     int
	DailyRealizedPnL  float64
	ConsecutiveLosses int
}

// CheckResult contains the result of the entry checks.
type CheckResult struct {
	Allowed      bool
	BlockReason  string
	Err          error
	ChecksPassed []string
	ChecksFailed []string
}

type entryCheck struct {
	name string
	run  func(t *models.Trader, req *OpenRequest, state EntryState) error
}

// entryChecks run in order; the first failure blocks the open.
var entryChecks = []entryCheck{
	{"leverage_bounds", checkLeverage},
	{"max_position_size", checkMaxSize},
	{"min_position_size", checkMinSize},
	{"short_allowed", checkShortAllowed},
	{"stop_ordering", checkStops},
	{"max_concurrent_positions", checkConcurrent},
	{"daily_loss_limit", checkDailyLoss},
	{"consecutive_loss_limit", checkConsecutiveLosses},
}

// CheckEntry validates an open request against the trader's limits.
func CheckEntry(t *models.Trader, req *OpenRequest, state EntryState) CheckResult {
	result := CheckResult{Allowed: true}
	for _, c := range entryChecks {
		if err := c.run(t, req, state); err != nil {
			result.Allowed = false
			result.BlockReason = err.Error()
			result.Err = err
			result.ChecksFailed = append(result.ChecksFailed, c.name)
			return result
		}
		result.ChecksPassed = append(result.ChecksPassed, c.name)
	}
	return result
}

func checkLeverage(t *models.Trader, req *OpenRequest, _ EntryState) error {
	if req.Leverage < t.MinLeverage || req.Leverage > t.MaxLeverage {
		return apperrors.NewValidationError("leverage", req.Leverage,
			fmt.Sprintf("must be within trader bounds [%g,%g]", t.MinLeverage, t.MaxLeverage))
	}
	if req.Leverage < models.MinLeverage || req.Leverage > models.MaxLeverage {
		return apperrors.NewValidationError("leverage", req.Leverage, "must be within [1,125]")
	}
	return nil
}

// A zero MaxPositionSize means no upper bound.
func checkMaxSize(t *models.Trader, req *OpenRequest, _ EntryState) error {
	if !(req.PositionSize > 0) {
		return apperrors.NewValidationError("position_size", req.PositionSize, "must be positive")
	}
	if t.MaxPositionSize > 0 && req.PositionSize > t.MaxPositionSize {
		return apperrors.NewValidationError("position_size", req.PositionSize,
			fmt.Sprintf("exceeds max position size %g", t.MaxPositionSize))
	}
	return nil
}

func checkMinSize(t *models.Trader, req *OpenRequest, _ EntryState) error {
	if t.MinPositionSize > 0 && req.PositionSize < t.MinPositionSize {
		return apperrors.NewValidationError("position_size", req.PositionSize,
			fmt.Sprintf("below min position size %g", t.MinPositionSize))
	}
	return nil
}

func checkShortAllowed(t *models.Trader, req *OpenRequest, _ EntryState) error {
	if req.Side == models.SideShort && !t.AllowShort {
		return apperrors.NewValidationError("side", req.Side, "short positions are not allowed for this trader")
	}
	return nil
}

func checkStops(_ *models.Trader, req *OpenRequest, _ EntryState) error {
	return riskmath.ValidStops(req.Side, req.EntryPrice, req.StopLoss, req.TakeProfit)
}

func checkConcurrent(t *models.Trader, _ *OpenRequest, state EntryState) error {
	if t.MaxConcurrentPositions > 0 && state.OpenPositions >= t.MaxConcurrentPositions {
		return apperrors.NewValidationError("open_positions", state.OpenPositions,
			fmt.Sprintf("max concurrent positions %d reached", t.MaxConcurrentPositions))
	}
	return nil
}

func checkDailyLoss(t *models.Trader, _ *OpenRequest, state EntryState) error {
	loss := math.Max(0, -state.DailyRealizedPnL)
	if t.DailyMaxLoss > 0 && loss >= t.DailyMaxLoss {
		return apperrors.NewValidationError("daily_loss", loss,
			fmt.Sprintf("daily max loss %g reached", t.DailyMaxLoss))
	}
	return nil
}

func checkConsecutiveLosses(t *models.Trader, _ *OpenRequest, state EntryState) error {
	if t.MaxConsecutiveLosses > 0 && state.ConsecutiveLosses >= t.MaxConsecutiveLosses {
		return apperrors.NewValidationError("consecutive_losses", state.ConsecutiveLosses,
			fmt.Sprintf("max consecutive losses %d reached", t.MaxConsecutiveLosses))
	}
	return nil
}

// EvaluateLiquidation reports whether price liquidates the position.
func EvaluateLiquidation(p *models.Position, price float64) (bool, error) {
	return riskmath.ShouldLiquidate(p.Side, price, p.LiquidationPrice)
}

// EvaluateStopLoss reports whether price hits the position's stop-loss.
// A position without a stop-loss never triggers.
func EvaluateStopLoss(p *models.Position, price float64) (bool, error) {
	if p.StopLoss == nil {
		return false, nil
	}
	return riskmath.IsStopLossTriggered(p.Side, price, *p.StopLoss)
}

// EvaluateTakeProfit reports whether price hits the position's take-profit.
func EvaluateTakeProfit(p *models.Position, price float64) (bool, error) {
	if p.TakeProfit == nil {
		return false, nil
	}
	return riskmath.IsTakeProfitTriggered(p.Side, price, *p.TakeProfit)
}
