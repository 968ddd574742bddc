package models

import (
	"fmt"
	"strings"

	apperrors "heartbeat-trader/internal/errors"
)

// Action is the closed set of decision actions the engine understands.
type Action string

const (
	ActionOpenLong      Action = "open_long"
	ActionOpenShort     Action = "open_short"
	ActionClosePosition Action = "close_position"
	ActionCloseAll      Action = "close_all"
	ActionModifySLTP    Action = "modify_sl_tp"
	ActionHold          Action = "hold"
)

var knownActions = map[Action]struct{}{
	ActionOpenLong:      {},
	ActionOpenShort:     {},
	ActionClosePosition: {},
	ActionCloseAll:      {},
	ActionModifySLTP:    {},
	ActionHold:          {},
}

// ParseAction converts raw oracle output into an Action. Unknown values are
// rejected here so the rest of the engine only ever sees known actions.
func ParseAction(s string) (Action, error) {
	a := Action(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := knownActions[a]; !ok {
		return "", fmt.Errorf("%w: %q", apperrors.ErrUnknownAction, s)
	}
	return a, nil
}

// Valid reports whether the action is in the closed set.
func (a Action) Valid() bool {
	_, ok := knownActions[a]
	return ok
}

// Side returns the position side implied by an open action.
func (a Action) Side() (Side, bool) {
	switch a {
	case ActionOpenLong:
		return SideLong, true
	case ActionOpenShort:
		return SideShort, true
	default:
		return "", false
	}
}

// MicroDecision is the oracle's recommendation for a single timeframe.
type MicroDecision struct {
	Timeframe        string   `json:"timeframe"`
	Action           Action   `json:"action"`
	Confidence       float64  `json:"confidence"`
	Reasoning        string   `json:"reasoning"`
	TechnicalSignals string   `json:"technical_signals"`
	StopLoss         *float64 `json:"stop_loss,omitempty"`
	TakeProfit       *float64 `json:"take_profit,omitempty"`
	TargetPositionID string   `json:"target_position_id,omitempty"`
}

// Validate checks the decision schema.
func (d *MicroDecision) Validate() error {
	if !d.Action.Valid() {
		return fmt.Errorf("%w: %q", apperrors.ErrUnknownAction, d.Action)
	}
	if d.Confidence < 0 || d.Confidence > 1 {
		return fmt.Errorf("confidence must be between 0 and 1, got %g", d.Confidence)
	}
	if err := positiveOptional("stop_loss", d.StopLoss); err != nil {
		return err
	}
	return positiveOptional("take_profit", d.TakeProfit)
}

// IntervalWeight is one timeframe's contribution to a comprehensive decision.
type IntervalWeight struct {
	Timeframe  string  `json:"timeframe"`
	Weight     float64 `json:"weight"`
	Action     Action  `json:"action"`
	Confidence float64 `json:"confidence"`
}

// RiskAssessment summarises the oracle's view of a comprehensive decision's risk.
type RiskAssessment struct {
	Level               string  `json:"level"`
	RiskRewardRatio     float64 `json:"risk_reward_ratio"`
	PositionSizePercent float64 `json:"position_size_percent"`
}

// ComprehensiveDecision aggregates all micro-decisions into one action.
type ComprehensiveDecision struct {
	Action           Action           `json:"action"`
	Confidence       float64          `json:"confidence"`
	Reasoning        string           `json:"reasoning"`
	Breakdown        []IntervalWeight `json:"breakdown"`
	PositionSize     *float64         `json:"position_size,omitempty"`
	Leverage         *float64         `json:"leverage,omitempty"`
	StopLoss         *float64         `json:"stop_loss,omitempty"`
	TakeProfit       *float64         `json:"take_profit,omitempty"`
	TargetPositionID string           `json:"target_position_id,omitempty"`
	Risk             RiskAssessment   `json:"risk_assessment"`
}

// Validate checks the decision schema.
func (d *ComprehensiveDecision) Validate() error {
	if !d.Action.Valid() {
		return fmt.Errorf("%w: %q", apperrors.ErrUnknownAction, d.Action)
	}
	if d.Confidence < 0 || d.Confidence > 1 {
		return fmt.Errorf("confidence must be between 0 and 1, got %g", d.Confidence)
	}
	for _, w := range d.Breakdown {
		if !w.Action.Valid() {
			return fmt.Errorf("breakdown %s: %w: %q", w.Timeframe, apperrors.ErrUnknownAction, w.Action)
		}
		if w.Weight < 0 {
			return fmt.Errorf("breakdown %s: weight must be non-negative", w.Timeframe)
		}
	}
	for name, v := range map[string]*float64{
		"position_size": d.PositionSize,
		"leverage":      d.Leverage,
		"stop_loss":     d.StopLoss,
		"take_profit":   d.TakeProfit,
	} {
		if err := positiveOptional(name, v); err != nil {
			return err
		}
	}
	return nil
}

func positiveOptional(name string, v *float64) error {
	if v != nil && *v <= 0 {
		return fmt.Errorf("%s must be positive when present, got %g", name, *v)
	}
	return nil
}
