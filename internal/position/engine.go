// Package position owns the lifecycle of leveraged positions: opening with
// entry checks, price refresh with liquidation and stop evaluation, partial
// and full closes, and stop modification. Every operation is all-or-nothing:
// the position row and its history entry are written in one versioned update.
package position

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	apperrors "heartbeat-trader/internal/errors"
	"heartbeat-trader/internal/logging"
	"heartbeat-trader/internal/market"
	"heartbeat-trader/internal/models"
	"heartbeat-trader/internal/riskmath"
	"heartbeat-trader/internal/store"
)

// quantityEpsilon is the tolerance under which a close quantity counts as the full remainder.
const quantityEpsilon = 1e-9

// Config holds engine constants.
type Config struct {
	FeeRate                float64
	MaintenanceMarginRatio float64
}

// DefaultConfig returns the venue defaults (0.05% fee, 0.5% mmr).
func DefaultConfig() Config {
	return Config{FeeRate: 0.0005, MaintenanceMarginRatio: 0.005}
}

// Store is the persistence the engine needs.
type Store interface {
	store.PositionStore
	GetTrader(ctx context.Context, id string) (*models.Trader, error)
}

// OpenRequest describes a new position. A zero EntryPrice is filled from the
// price source.
type OpenRequest struct {
	TraderID     string
	Symbol       string
	Side         models.Side
	Leverage     float64
	PositionSize float64
	EntryPrice   float64
	StopLoss     *float64
	TakeProfit   *float64
	HeartbeatID  string
}

// CloseRequest describes a close. A nil Quantity closes everything; a nil
// ClosePrice uses the price source.
type CloseRequest struct {
	PositionID string
	Quantity   *float64
	ClosePrice *float64
	Reason     models.CloseReason
}

// CloseResult reports what a close did.
type CloseResult struct {
	Position       *models.Position `json:"position"`
	Partial        bool             `json:"partial"`
	ClosedQuantity float64          `json:"closed_quantity"`
	ClosePrice     float64          `json:"close_price"`
	Fee            float64          `json:"fee"`
	PnL            float64          `json:"pnl"`
}

// RefreshResult reports the outcome of a price refresh.
type RefreshResult struct {
	Position  *models.Position   `json:"position"`
	Triggered models.CloseReason `json:"triggered,omitempty"`
}

// Engine is the PositionEngine.
type Engine struct {
	store  Store
	prices market.PriceSource
	cfg    Config
	logger zerolog.Logger
	now    func() time.Time
	newID  func() string
}

// NewEngine creates a new position engine. prices may be nil, in which case
// entry and close prices must be supplied by the caller.
func NewEngine(st Store, prices market.PriceSource, cfg Config, logger zerolog.Logger) *Engine {
	return &Engine{
		store:  st,
		prices: prices,
		cfg:    cfg,
		logger: logger.With().Str("component", "position_engine").Logger(),
		now:    func() time.Time { return time.Now().UTC() },
		newID:  uuid.NewString,
	}
}

// Config returns the engine constants.
func (e *Engine) Config() Config {
	return e.cfg
}

// Open validates and opens a position.
func (e *Engine) Open(ctx context.Context, req OpenRequest) (*models.Position, error) {
	trader, err := e.store.GetTrader(ctx, req.TraderID)
	if err != nil {
		return nil, err
	}
	if !req.Side.Valid() {
		return nil, apperrors.NewValidationError("side", req.Side, "must be long or short")
	}
	if req.Symbol == "" {
		req.Symbol = trader.Symbol
	}
	if req.Symbol == "" {
		return nil, apperrors.NewValidationError("symbol", req.Symbol, "instrument is required")
	}

	if req.EntryPrice == 0 {
		if e.prices == nil {
			return nil, apperrors.NewValidationError("entry_price", req.EntryPrice, "no price source configured")
		}
		price, err := e.prices.Price(ctx, req.Symbol)
		if err != nil {
			return nil, err
		}
		req.EntryPrice = price
	}
	if !(req.EntryPrice > 0) {
		return nil, apperrors.NewValidationError("entry_price", req.EntryPrice, "must be positive")
	}

	state, err := e.entryState(ctx, req.TraderID)
	if err != nil {
		return nil, err
	}
	if check := CheckEntry(trader, &req, state); !check.Allowed {
		e.logger.Warn().
			Str("trader_id", req.TraderID).
			Strs("failed", check.ChecksFailed).
			Str("reason", check.BlockReason).
			Msg("Entry blocked")
		return nil, check.Err
	}

	quantity, err := riskmath.Quantity(req.PositionSize, req.EntryPrice)
	if err != nil {
		return nil, err
	}
	margin, err := riskmath.Margin(req.PositionSize, req.Leverage)
	if err != nil {
		return nil, err
	}
	fee, err := riskmath.Fee(req.PositionSize, e.cfg.FeeRate)
	if err != nil {
		return nil, err
	}
	liq, err := riskmath.LiquidationPrice(req.Side, req.EntryPrice, req.Leverage, e.cfg.MaintenanceMarginRatio)
	if err != nil {
		return nil, err
	}

	now := e.now()
	p := &models.Position{
		ID:               e.newID(),
		TraderID:         req.TraderID,
		Symbol:           req.Symbol,
		Side:             req.Side,
		Status:           models.PositionOpen,
		EntryPrice:       req.EntryPrice,
		CurrentPrice:     req.EntryPrice,
		Leverage:         req.Leverage,
		Quantity:         quantity,
		PositionSize:     req.PositionSize,
		Margin:           margin,
		LiquidationPrice: liq,
		OpenFee:          fee,
		StopLoss:         req.StopLoss,
		TakeProfit:       req.TakeProfit,
		HeartbeatID:      req.HeartbeatID,
		OpenedAt:         now,
		UpdatedAt:        now,
	}

	entry := e.history(p, models.HistoryOpen, req.EntryPrice, quantity, fee, 0, nil)
	if err := e.store.CreatePosition(ctx, p, entry); err != nil {
		return nil, err
	}

	logging.LogPosition(logging.WithPosition(e.logger, p.ID), string(models.HistoryOpen), p.Symbol, string(p.Side), p.Quantity, p.EntryPrice, 0)
	return p, nil
}

func (e *Engine) entryState(ctx context.Context, traderID string) (EntryState, error) {
	open, err := e.store.ListPositions(ctx, store.PositionFilter{TraderID: traderID, Status: models.PositionOpen})
	if err != nil {
		return EntryState{}, err
	}
	daily, err := e.store.DailyRealizedPnL(ctx, traderID, e.now())
	if err != nil {
		return EntryState{}, err
	}
	losses, err := e.store.ConsecutiveLosses(ctx, traderID)
	if err != nil {
		return EntryState{}, err
	}
	return EntryState{OpenPositions: len(open), DailyRealizedPnL: daily, ConsecutiveLosses: losses}, nil
}

// OpenPositions lists a trader's open positions, oldest first.
func (e *Engine) OpenPositions(ctx context.Context, traderID string) ([]models.Position, error) {
	return e.store.ListPositions(ctx, store.PositionFilter{TraderID: traderID, Status: models.PositionOpen})
}

func (e *Engine) loadOpen(ctx context.Context, id string) (*models.Position, error) {
	p, err := e.store.GetPosition(ctx, id)
	if err != nil {
		return nil, err
	}
	if !p.IsOpen() {
		return nil, fmt.Errorf("position %s is %s: %w", id, p.Status, apperrors.ErrPositionNotOpen)
	}
	return p, nil
}

func (e *Engine) marketPrice(ctx context.Context, p *models.Position) (float64, error) {
	if e.prices == nil {
		return p.CurrentPrice, nil
	}
	return e.prices.Price(ctx, p.Symbol)
}

// Close closes all or part of a position.
func (e *Engine) Close(ctx context.Context, req CloseRequest) (*CloseResult, error) {
	p, err := e.loadOpen(ctx, req.PositionID)
	if err != nil {
		return nil, err
	}

	var price float64
	if req.ClosePrice != nil {
		price = *req.ClosePrice
	} else if price, err = e.marketPrice(ctx, p); err != nil {
		return nil, err
	}
	if !(price > 0) {
		return nil, apperrors.NewValidationError("close_price", price, "must be positive")
	}

	reason := req.Reason
	if reason == "" {
		reason = models.CloseReasonManual
	}

	if req.Quantity == nil || math.Abs(*req.Quantity-p.Quantity) <= quantityEpsilon*math.Max(1, p.Quantity) {
		return e.closeFull(ctx, p, price, reason, closeHistoryAction(reason))
	}

	qty := *req.Quantity
	if !(qty > 0) {
		return nil, apperrors.NewValidationError("quantity", qty, "must be positive")
	}
	if qty > p.Quantity {
		return nil, apperrors.NewValidationError("quantity", qty,
			fmt.Sprintf("exceeds remaining quantity %g", p.Quantity))
	}
	return e.closePartial(ctx, p, qty, price)
}

func closeHistoryAction(reason models.CloseReason) models.HistoryAction {
	switch reason {
	case models.CloseReasonStopLoss:
		return models.HistoryStopLoss
	case models.CloseReasonTakeProfit:
		return models.HistoryTakeProfit
	case models.CloseReasonLiquidation:
		return models.HistoryLiquidate
	default:
		return models.HistoryClose
	}
}

func (e *Engine) closeFull(ctx context.Context, p *models.Position, price float64, reason models.CloseReason, action models.HistoryAction) (*CloseResult, error) {
	expected := p.Version
	next := p.Clone()
	now := e.now()

	fee, err := riskmath.Fee(p.PositionSize, e.cfg.FeeRate)
	if err != nil {
		return nil, err
	}

	var pnl float64
	if reason == models.CloseReasonLiquidation {
		// Isolated margin is consumed in full.
		pnl = -p.Margin
		next.Status = models.PositionLiquidated
	} else {
		if pnl, err = riskmath.PnL(p.Side, p.EntryPrice, price, p.Quantity); err != nil {
			return nil, err
		}
		next.Status = models.PositionClosed
	}

	closedQty := p.Quantity
	next.CurrentPrice = price
	next.ClosePrice = price
	next.CloseFee += fee
	next.RealizedPnL += pnl
	next.UnrealizedPnL = 0
	next.CloseReason = reason
	next.ClosedAt = &now
	next.UpdatedAt = now

	entry := e.history(next, action, price, closedQty, fee, pnl, nil)
	if err := e.store.UpdatePosition(ctx, next, expected, entry); err != nil {
		return nil, err
	}

	logging.LogPosition(logging.WithPosition(e.logger, p.ID), string(action), p.Symbol, string(p.Side), closedQty, price, pnl)
	return &CloseResult{Position: next, ClosedQuantity: closedQty, ClosePrice: price, Fee: fee, PnL: pnl}, nil
}

func (e *Engine) closePartial(ctx context.Context, p *models.Position, qty, price float64) (*CloseResult, error) {
	expected := p.Version
	next := p.Clone()
	now := e.now()

	fraction := qty / p.Quantity
	fee, err := riskmath.Fee(p.PositionSize*fraction, e.cfg.FeeRate)
	if err != nil {
		return nil, err
	}
	pnl, err := riskmath.PnL(p.Side, p.EntryPrice, price, qty)
	if err != nil {
		return nil, err
	}

	next.Quantity = p.Quantity - qty
	next.PositionSize = p.PositionSize - p.PositionSize*fraction
	next.Margin = next.PositionSize / p.Leverage
	next.CurrentPrice = price
	next.CloseFee += fee
	next.RealizedPnL += pnl
	if next.UnrealizedPnL, err = riskmath.PnL(p.Side, p.EntryPrice, price, next.Quantity); err != nil {
		return nil, err
	}
	next.UpdatedAt = now

	entry := e.history(next, models.HistoryPartialClose, price, qty, fee, pnl, nil)
	if err := e.store.UpdatePosition(ctx, next, expected, entry); err != nil {
		return nil, err
	}

	logging.LogPosition(logging.WithPosition(e.logger, p.ID), string(models.HistoryPartialClose), p.Symbol, string(p.Side), qty, price, pnl)
	return &CloseResult{Position: next, Partial: true, ClosedQuantity: qty, ClosePrice: price, Fee: fee, PnL: pnl}, nil
}

// RefreshPrice marks the position to price, then evaluates liquidation,
// stop-loss and take-profit in that order. The first trigger closes the
// position and the remaining checks are skipped.
func (e *Engine) RefreshPrice(ctx context.Context, positionID string, price float64) (*RefreshResult, error) {
	p, err := e.loadOpen(ctx, positionID)
	if err != nil {
		return nil, err
	}
	return e.refresh(ctx, p, price)
}

func (e *Engine) refresh(ctx context.Context, p *models.Position, price float64) (*RefreshResult, error) {
	if !(price > 0) {
		return nil, apperrors.NewValidationError("current_price", price, "must be positive")
	}

	triggers := []struct {
		reason   models.CloseReason
		evaluate func(*models.Position, float64) (bool, error)
	}{
		{models.CloseReasonLiquidation, EvaluateLiquidation},
		{models.CloseReasonStopLoss, EvaluateStopLoss},
		{models.CloseReasonTakeProfit, EvaluateTakeProfit},
	}
	for _, t := range triggers {
		hit, err := t.evaluate(p, price)
		if err != nil {
			return nil, err
		}
		if !hit {
			continue
		}
		result, err := e.closeFull(ctx, p, price, t.reason, closeHistoryAction(t.reason))
		if err != nil {
			return nil, err
		}
		return &RefreshResult{Position: result.Position, Triggered: t.reason}, nil
	}

	unrealized, err := riskmath.PnL(p.Side, p.EntryPrice, price, p.Quantity)
	if err != nil {
		return nil, err
	}
	expected := p.Version
	next := p.Clone()
	next.CurrentPrice = price
	next.UnrealizedPnL = unrealized
	next.UpdatedAt = e.now()

	if err := e.store.UpdatePosition(ctx, next, expected, nil); err != nil {
		return nil, err
	}
	return &RefreshResult{Position: next}, nil
}

// ModifyStops changes the stop-loss and/or take-profit. A nil value keeps
// the current one; the resulting pair must satisfy the ordering invariant.
func (e *Engine) ModifyStops(ctx context.Context, positionID string, stopLoss, takeProfit *float64) (*models.Position, error) {
	if stopLoss == nil && takeProfit == nil {
		return nil, apperrors.NewValidationError("stops", nil, "stop_loss or take_profit is required")
	}
	p, err := e.loadOpen(ctx, positionID)
	if err != nil {
		return nil, err
	}

	next := p.Clone()
	if stopLoss != nil {
		next.StopLoss = models.Float(*stopLoss)
	}
	if takeProfit != nil {
		next.TakeProfit = models.Float(*takeProfit)
	}
	if err := riskmath.ValidStops(p.Side, p.EntryPrice, next.StopLoss, next.TakeProfit); err != nil {
		return nil, err
	}
	next.UpdatedAt = e.now()

	change := models.StopChange{
		OldStopLoss:   p.StopLoss,
		NewStopLoss:   next.StopLoss,
		OldTakeProfit: p.TakeProfit,
		NewTakeProfit: next.TakeProfit,
	}
	entry := e.history(next, models.HistoryModifyStops, p.CurrentPrice, 0, 0, 0, change)
	if err := e.store.UpdatePosition(ctx, next, p.Version, entry); err != nil {
		return nil, err
	}

	e.logger.Info().Str("position_id", p.ID).Interface("change", change).Msg("Stops modified")
	return next, nil
}

func (e *Engine) history(p *models.Position, action models.HistoryAction, price, qty, fee, pnl float64, details interface{}) *models.PositionHistory {
	h := &models.PositionHistory{
		ID:         e.newID(),
		PositionID: p.ID,
		TraderID:   p.TraderID,
		Action:     action,
		Price:      price,
		Quantity:   qty,
		Fee:        fee,
		PnL:        pnl,
		CreatedAt:  e.now(),
	}
	if details != nil {
		if raw, err := json.Marshal(details); err == nil {
			h.Details = raw
		}
	}
	return h
}
