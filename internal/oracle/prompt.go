package oracle

import (
	"encoding/json"
	"fmt"
	"strings"

	"heartbeat-trader/internal/models"
)

const actionList = "open_long, open_short, close_position, close_all, modify_sl_tp, hold"

var microSystemPrompt = `You are a disciplined crypto derivatives analyst. You receive market data
for ONE timeframe and return a single JSON object:
{"action": one of [` + actionList + `], "confidence": number 0..1, "reasoning": string,
 "technical_signals": string, "stop_loss": number|null, "take_profit": number|null,
 "target_position_id": string|null}
Return JSON only.`

var comprehensiveSystemPrompt = `You are the portfolio decision maker of an autonomous trader. You receive
per-timeframe recommendations and the open positions and return a single JSON object:
{"action": one of [` + actionList + `], "confidence": number 0..1, "reasoning": string,
 "breakdown": [{"timeframe": string, "weight": number, "action": string, "confidence": number}],
 "position_size": number|null, "leverage": number|null, "stop_loss": number|null,
 "take_profit": number|null, "target_position_id": string|null,
 "risk_assessment": {"level": "low"|"medium"|"high", "risk_reward_ratio": number, "position_size_percent": number}}
Return JSON only.`

func writeProfile(b *strings.Builder, t *models.Trader) {
	if t == nil {
		return
	}
	b.WriteString("## Trader profile\n")
	fmt.Fprintf(b, "- Strategy: %s\n", t.TradingStrategy)
	fmt.Fprintf(b, "- Holding period: %s\n", t.HoldingPeriod)
	fmt.Fprintf(b, "- Aggressiveness: %d/10\n", t.Aggressiveness)
	fmt.Fprintf(b, "- Leverage range: %gx - %gx\n", t.MinLeverage, t.MaxLeverage)
	fmt.Fprintf(b, "- Position size range: %g - %g\n", t.MinPositionSize, t.MaxPositionSize)
	fmt.Fprintf(b, "- Shorting allowed: %t\n", t.AllowShort)
	if t.PositionStopLossPct > 0 || t.PositionTakeProfitPct > 0 {
		fmt.Fprintf(b, "- Default stop-loss %g%%, take-profit %g%%\n", t.PositionStopLossPct, t.PositionTakeProfitPct)
	}
	writeRiskLimits(b, t)
	b.WriteString("\n")
}

// writeRiskLimits lists the configured account-level limits. Zero means unset.
func writeRiskLimits(b *strings.Builder, t *models.Trader) {
	if t.MaxDrawdownPct > 0 {
		fmt.Fprintf(b, "- Max drawdown: %g%%\n", t.MaxDrawdownPct)
	}
	if t.StopLossThresholdPct > 0 {
		fmt.Fprintf(b, "- Stop trading after a %g%% loss\n", t.StopLossThresholdPct)
	}
	if t.DailyMaxLoss > 0 {
		fmt.Fprintf(b, "- Daily max loss: %g\n", t.DailyMaxLoss)
	}
	if t.MaxConsecutiveLosses > 0 {
		fmt.Fprintf(b, "- Max consecutive losses: %d\n", t.MaxConsecutiveLosses)
	}
	if t.MaxConcurrentPositions > 0 {
		fmt.Fprintf(b, "- Max concurrent positions: %d\n", t.MaxConcurrentPositions)
	}
}

func writePositions(b *strings.Builder, positions []models.Position) {
	b.WriteString("## Open positions\n")
	if len(positions) == 0 {
		b.WriteString("None\n\n")
		return
	}
	for _, p := range positions {
		fmt.Fprintf(b, "- id=%s %s %s qty=%g entry=%g mark=%g lev=%gx uPnL=%.2f liq=%g",
			p.ID, p.Symbol, p.Side, p.Quantity, p.EntryPrice, p.CurrentPrice, p.Leverage, p.UnrealizedPnL, p.LiquidationPrice)
		if p.StopLoss != nil {
			fmt.Fprintf(b, " sl=%g", *p.StopLoss)
		}
		if p.TakeProfit != nil {
			fmt.Fprintf(b, " tp=%g", *p.TakeProfit)
		}
		b.WriteString("\n")
	}
	b.WriteString("\n")
}

// BuildMicroPrompt renders the user prompt of a micro-decision request.
func BuildMicroPrompt(req MicroRequest) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s on the %s timeframe\n\n", req.Symbol, req.Timeframe)
	writeProfile(&b, req.Trader)
	writePositions(&b, req.OpenPositions)

	b.WriteString("## Market data\n")
	if len(req.ReaderOutputs) == 0 {
		b.WriteString("No reader returned data for this timeframe.\n")
	}
	for _, r := range req.ReaderOutputs {
		fmt.Fprintf(&b, "### %s\n%s\n", r.ReaderID, string(r.Data))
	}
	return b.String()
}

// BuildComprehensivePrompt renders the user prompt of a comprehensive request.
func BuildComprehensivePrompt(req ComprehensiveRequest) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s: combine the timeframe recommendations\n\n", req.Symbol)
	writeProfile(&b, req.Trader)
	writePositions(&b, req.OpenPositions)

	b.WriteString("## Timeframe recommendations\n")
	micro, _ := json.MarshalIndent(req.MicroDecisions, "", "  ")
	b.Write(micro)
	b.WriteString("\n")
	return b.String()
}
