package reader

import (
	"context"
	"encoding/json"
	"fmt"

	"heartbeat-trader/internal/models"
)

// KlineSource returns candles for a symbol and interval.
type KlineSource interface {
	Klines(ctx context.Context, symbol, interval string, limit int) ([]models.Candle, error)
}

// BinanceReader reads futures klines for the heartbeat's symbol and timeframe
// and attaches a technical summary.
type BinanceReader struct {
	id     string
	source KlineSource
}

// Snapshot is the data a BinanceReader returns.
type Snapshot struct {
	Symbol   string           `json:"symbol"`
	Interval string           `json:"interval"`
	Summary  TechnicalSummary `json:"summary"`
	Candles  []models.Candle  `json:"candles"`
}

// NewBinanceReader creates a kline reader.
func NewBinanceReader(id string, source KlineSource) *BinanceReader {
	return &BinanceReader{id: id, source: source}
}

// ID returns the reader id.
func (b *BinanceReader) ID() string { return b.id }

// Execute fetches candles. Parameters: symbol, interval (override the
// heartbeat's), limit (default 100), tail (candles echoed back, default 20).
func (b *BinanceReader) Execute(ctx context.Context, params map[string]interface{}, rc Context) (*Result, error) {
	symbol := stringParam(params, "symbol", rc.Symbol)
	interval := stringParam(params, "interval", rc.Timeframe)
	if symbol == "" || interval == "" {
		return nil, fmt.Errorf("symbol and interval are required")
	}
	limit, err := intParam(params, "limit", 100)
	if err != nil {
		return nil, err
	}
	tail, err := intParam(params, "tail", 20)
	if err != nil {
		return nil, err
	}

	candles, err := b.source.Klines(ctx, symbol, interval, limit)
	if err != nil {
		return nil, err
	}
	if len(candles) == 0 {
		return nil, fmt.Errorf("no candles for %s %s", symbol, interval)
	}

	snap := Snapshot{
		Symbol:   symbol,
		Interval: interval,
		Summary:  Summarize(candles),
		Candles:  candles,
	}
	if tail > 0 && len(candles) > tail {
		snap.Candles = candles[len(candles)-tail:]
	}

	data, err := json.Marshal(snap)
	if err != nil {
		return nil, err
	}
	return &Result{Success: true, Data: data}, nil
}
