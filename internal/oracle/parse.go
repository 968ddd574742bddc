package oracle

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"heartbeat-trader/internal/models"
)

type microWire struct {
	Timeframe        string   `json:"timeframe"`
	Action           string   `json:"action"`
	Confidence       *float64 `json:"confidence"`
	Reasoning        string   `json:"reasoning"`
	TechnicalSignals string   `json:"technical_signals"`
	StopLoss         *float64 `json:"stop_loss"`
	TakeProfit       *float64 `json:"take_profit"`
	TargetPositionID string   `json:"target_position_id"`
}

type weightWire struct {
	Timeframe  string  `json:"timeframe"`
	Weight     float64 `json:"weight"`
	Action     string  `json:"action"`
	Confidence float64 `json:"confidence"`
}

type comprehensiveWire struct {
	Action           string                `json:"action"`
	Confidence       *float64              `json:"confidence"`
	Reasoning        string                `json:"reasoning"`
	Breakdown        []weightWire          `json:"breakdown"`
	PositionSize     *float64              `json:"position_size"`
	Leverage         *float64              `json:"leverage"`
	StopLoss         *float64              `json:"stop_loss"`
	TakeProfit       *float64              `json:"take_profit"`
	TargetPositionID string                `json:"target_position_id"`
	Risk             models.RiskAssessment `json:"risk_assessment"`
}

// extractJSON strips a surrounding markdown code fence, if any.
func extractJSON(content string) string {
	s := strings.TrimSpace(content)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		if i := strings.LastIndex(s, "```"); i >= 0 {
			s = s[:i]
		}
	}
	return strings.TrimSpace(s)
}

// decodeStrict decodes exactly one JSON object into v. Unknown fields and
// trailing content are rejected.
func decodeStrict(content string, v interface{}) error {
	dec := json.NewDecoder(strings.NewReader(extractJSON(content)))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("malformed decision: %w", err)
	}
	var extra json.RawMessage
	if err := dec.Decode(&extra); !errors.Is(err, io.EOF) {
		return fmt.Errorf("malformed decision: unexpected content after JSON object")
	}
	return nil
}

// ParseMicroDecision decodes and validates a micro-decision. The timeframe
// is forced to the requested one.
func ParseMicroDecision(content, timeframe string) (*models.MicroDecision, error) {
	var w microWire
	if err := decodeStrict(content, &w); err != nil {
		return nil, err
	}
	action, err := models.ParseAction(w.Action)
	if err != nil {
		return nil, err
	}
	if w.Confidence == nil {
		return nil, fmt.Errorf("malformed decision: confidence is required")
	}

	d := &models.MicroDecision{
		Timeframe:        timeframe,
		Action:           action,
		Confidence:       *w.Confidence,
		Reasoning:        w.Reasoning,
		TechnicalSignals: w.TechnicalSignals,
		StopLoss:         w.StopLoss,
		TakeProfit:       w.TakeProfit,
		TargetPositionID: w.TargetPositionID,
	}
	if err := d.Validate(); err != nil {
		return nil, err
	}
	return d, nil
}

// ParseComprehensiveDecision decodes and validates a comprehensive decision.
func ParseComprehensiveDecision(content string) (*models.ComprehensiveDecision, error) {
	var w comprehensiveWire
	if err := decodeStrict(content, &w); err != nil {
		return nil, err
	}
	action, err := models.ParseAction(w.Action)
	if err != nil {
		return nil, err
	}
	if w.Confidence == nil {
		return nil, fmt.Errorf("malformed decision: confidence is required")
	}

	d := &models.ComprehensiveDecision{
		Action:           action,
		Confidence:       *w.Confidence,
		Reasoning:        w.Reasoning,
		PositionSize:     w.PositionSize,
		Leverage:         w.Leverage,
		StopLoss:         w.StopLoss,
		TakeProfit:       w.TakeProfit,
		TargetPositionID: w.TargetPositionID,
		Risk:             w.Risk,
	}
	for _, b := range w.Breakdown {
		a, err := models.ParseAction(b.Action)
		if err != nil {
			return nil, fmt.Errorf("breakdown %s: %w", b.Timeframe, err)
		}
		d.Breakdown = append(d.Breakdown, models.IntervalWeight{
			Timeframe:  b.Timeframe,
			Weight:     b.Weight,
			Action:     a,
			Confidence: b.Confidence,
		})
	}
	if err := d.Validate(); err != nil {
		return nil, err
	}
	return d, nil
}
