package reader

import (
	"math"

	"heartbeat-trader/internal/models"
)

// TechnicalSummary condenses a candle series for the decision prompt.
type TechnicalSummary struct {
	LastClose float64  `json:"last_close"`
	ChangePct float64  `json:"change_pct"`
	High      float64  `json:"high"`
	Low       float64  `json:"low"`
	SMA20     *float64 `json:"sma_20,omitempty"`
	RSI14     *float64 `json:"rsi_14,omitempty"`
	ATR14     *float64 `json:"atr_14,omitempty"`
	Trend     string   `json:"trend"`
}

// Summarize computes the summary. Indicators needing more candles than
// available are omitted.
func Summarize(candles []models.Candle) TechnicalSummary {
	var s TechnicalSummary
	if len(candles) == 0 {
		return s
	}

	first, last := candles[0], candles[len(candles)-1]
	s.LastClose = last.Close
	if first.Open > 0 {
		s.ChangePct = (last.Close - first.Open) / first.Open * 100
	}
	s.High, s.Low = first.High, first.Low
	for _, c := range candles[1:] {
		s.High = math.Max(s.High, c.High)
		s.Low = math.Min(s.Low, c.Low)
	}

	if v, ok := sma(candles, 20); ok {
		s.SMA20 = &v
	}
	if v, ok := rsi(candles, 14); ok {
		s.RSI14 = &v
	}
	if v, ok := atr(candles, 14); ok {
		s.ATR14 = &v
	}

	s.Trend = "flat"
	if s.SMA20 != nil {
		switch {
		case last.Close > *s.SMA20*1.001:
			s.Trend = "up"
		case last.Close < *s.SMA20*0.999:
			s.Trend = "down"
		}
	}
	return s
}

// sma returns the simple moving average of the last period closes.
func sma(candles []models.Candle, period int) (float64, bool) {
	if period <= 0 || len(candles) < period {
		return 0, false
	}
	sum := 0.0
	for _, c := range candles[len(candles)-period:] {
		sum += c.Close
	}
	return sum / float64(period), true
}

// rsi uses an SMA seed followed by Wilder smoothing.
func rsi(candles []models.Candle, period int) (float64, bool) {
	if period <= 0 || len(candles) < period+1 {
		return 0, false
	}

	var avgGain, avgLoss float64
	for i := 1; i <= period; i++ {
		gain, loss := change(candles[i-1].Close, candles[i].Close)
		avgGain += gain
		avgLoss += loss
	}
	avgGain /= float64(period)
	avgLoss /= float64(period)

	for i := period + 1; i < len(candles); i++ {
		gain, loss := change(candles[i-1].Close, candles[i].Close)
		avgGain = (avgGain*float64(period-1) + gain) / float64(period)
		avgLoss = (avgLoss*float64(period-1) + loss) / float64(period)
	}

	if avgLoss == 0 {
		return 100, true
	}
	return 100 - 100/(1+avgGain/avgLoss), true
}

func change(prev, cur float64) (gain, loss float64) {
	d := cur - prev
	if d > 0 {
		return d, 0
	}
	return 0, -d
}

// atr is Wilder's average true range.
func atr(candles []models.Candle, period int) (float64, bool) {
	if period <= 0 || len(candles) < period+1 {
		return 0, false
	}

	tr := func(i int) float64 {
		c, prevClose := candles[i], candles[i-1].Close
		return math.Max(c.High-c.Low, math.Max(math.Abs(c.High-prevClose), math.Abs(c.Low-prevClose)))
	}

	avg := 0.0
	for i := 1; i <= period; i++ {
		avg += tr(i)
	}
	avg /= float64(period)
	for i := period + 1; i < len(candles); i++ {
		avg = (avg*float64(period-1) + tr(i)) / float64(period)
	}
	return avg, true
}
