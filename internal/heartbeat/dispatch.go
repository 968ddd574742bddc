package heartbeat

import (
	"context"
	"fmt"

	apperrors "heartbeat-trader/internal/errors"
	"heartbeat-trader/internal/logging"
	"heartbeat-trader/internal/models"
	"heartbeat-trader/internal/position"
	"heartbeat-trader/internal/riskmath"
)

// ActionNone is the recorded action for a hold decision.
const ActionNone = "none"

// ClampLeverage bounds requested into [lo, hi] and reports whether it moved.
func ClampLeverage(requested, lo, hi float64) (float64, bool) {
	switch {
	case requested < lo:
		return lo, true
	case requested > hi:
		return hi, true
	default:
		return requested, false
	}
}

// dispatch maps a comprehensive decision onto the gateway. The result is
// returned even when the operation fails.
func (o *Orchestrator) dispatch(ctx context.Context, trader *models.Trader, d *models.ComprehensiveDecision, positions []models.Position, heartbeatID string) (*models.ExecutionResult, error) {
	res := &models.ExecutionResult{Action: string(d.Action)}

	var err error
	switch d.Action {
	case models.ActionOpenLong, models.ActionOpenShort:
		err = o.dispatchOpen(ctx, trader, d, heartbeatID, res)
	case models.ActionClosePosition, models.ActionCloseAll:
		err = o.dispatchClose(ctx, d, positions, res)
	case models.ActionModifySLTP:
		err = o.dispatchModify(ctx, d, positions, res)
	case models.ActionHold:
		res.Action = ActionNone
	default:
		err = fmt.Errorf("%w: %q", apperrors.ErrUnknownAction, d.Action)
	}

	if err != nil {
		res.Error = err.Error()
		return res, err
	}
	res.Success = true
	return res, nil
}

func (o *Orchestrator) dispatchOpen(ctx context.Context, trader *models.Trader, d *models.ComprehensiveDecision, heartbeatID string, res *models.ExecutionResult) error {
	logger := logging.FromContext(ctx)
	side, _ := d.Action.Side()

	requested := trader.MaxLeverage * 0.5
	if d.Leverage != nil {
		requested = *d.Leverage
	}
	applied, clamped := ClampLeverage(requested, trader.MinLeverage, trader.MaxLeverage)
	if clamped {
		logging.LogLeverageClamp(logger, requested, applied, trader.MinLeverage, trader.MaxLeverage)
	}
	res.RequestedLeverage = requested
	res.AppliedLeverage = applied
	res.LeverageClamped = clamped

	size := trader.MinPositionSize
	if d.PositionSize != nil {
		size = *d.PositionSize
	}
	res.PositionSize = size

	req := position.OpenRequest{
		TraderID:     trader.ID,
		Symbol:       trader.Symbol,
		Side:         side,
		Leverage:     applied,
		PositionSize: size,
		StopLoss:     d.StopLoss,
		TakeProfit:   d.TakeProfit,
		HeartbeatID:  heartbeatID,
	}

	if o.deps.Prices != nil {
		price, err := o.deps.Prices.Price(ctx, trader.Symbol)
		if err != nil {
			return fmt.Errorf("entry price: %w", err)
		}
		req.EntryPrice = price
		if err := defaultStops(trader, &req); err != nil {
			return err
		}
	}

	pos, err := o.deps.Gateway.Open(ctx, req)
	if err != nil {
		return err
	}
	res.PositionID = pos.ID
	res.EntryPrice = pos.EntryPrice
	return nil
}

// defaultStops fills missing stop-loss/take-profit from the trader's percentages.
func defaultStops(trader *models.Trader, req *position.OpenRequest) error {
	if req.StopLoss == nil && trader.PositionStopLossPct > 0 {
		sl, err := riskmath.StopLossPrice(req.Side, req.EntryPrice, trader.PositionStopLossPct)
		if err != nil {
			return err
		}
		req.StopLoss = &sl
	}
	if req.TakeProfit == nil && trader.PositionTakeProfitPct > 0 {
		tp, err := riskmath.TakeProfitPrice(req.Side, req.EntryPrice, trader.PositionTakeProfitPct)
		if err != nil {
			return err
		}
		req.TakeProfit = &tp
	}
	return nil
}

// ownedPosition resolves id against the trader's open positions. A position
// of another trader is reported as not found.
func ownedPosition(positions []models.Position, id string) (*models.Position, error) {
	for i := range positions {
		if positions[i].ID == id {
			return &positions[i], nil
		}
	}
	return nil, apperrors.NewNotFoundError("position", id)
}

func (o *Orchestrator) dispatchClose(ctx context.Context, d *models.ComprehensiveDecision, positions []models.Position, res *models.ExecutionResult) error {
	target := d.TargetPositionID
	if target == "" {
		if len(positions) == 0 {
			return apperrors.NewValidationError("target_position_id", "", "no open position to close")
		}
		target = positions[0].ID
	}
	res.PositionID = target
	if _, err := ownedPosition(positions, target); err != nil {
		return err
	}

	_, err := o.deps.Gateway.Close(ctx, position.CloseRequest{
		PositionID: target,
		Reason:     models.CloseReasonDecision,
	})
	return err
}

func (o *Orchestrator) dispatchModify(ctx context.Context, d *models.ComprehensiveDecision, positions []models.Position, res *models.ExecutionResult) error {
	if d.TargetPositionID == "" {
		return apperrors.NewValidationError("target_position_id", "", "required for modify_sl_tp")
	}
	res.PositionID = d.TargetPositionID
	if _, err := ownedPosition(positions, d.TargetPositionID); err != nil {
		return err
	}
	_, err := o.deps.Gateway.ModifyStops(ctx, d.TargetPositionID, d.StopLoss, d.TakeProfit)
	return err
}
