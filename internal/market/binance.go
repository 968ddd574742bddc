package market

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/adshao/go-binance/v2/futures"

	apperrors "heartbeat-trader/internal/errors"
	"heartbeat-trader/internal/models"
)

// BinanceSource reads USDⓈ-M perpetual prices and klines. Only public
// endpoints are used, so the key pair may be empty.
type BinanceSource struct {
	client *futures.Client
}

// NewBinanceSource creates a BinanceSource. A non-empty baseURL overrides
// the venue endpoint.
func NewBinanceSource(apiKey, secretKey, baseURL string) *BinanceSource {
	client := futures.NewClient(apiKey, secretKey)
	if baseURL != "" {
		client.BaseURL = baseURL
	}
	return &BinanceSource{client: client}
}

// Price implements PriceSource.
func (b *BinanceSource) Price(ctx context.Context, symbol string) (float64, error) {
	symbol = normalize(symbol)
	prices, err := b.client.NewListPricesService().Symbol(symbol).Do(ctx)
	if err != nil {
		return 0, apperrors.NewCollaboratorError("binance", "price", err)
	}
	for _, p := range prices {
		if p.Symbol != symbol {
			continue
		}
		v, err := strconv.ParseFloat(p.Price, 64)
		if err != nil {
			return 0, fmt.Errorf("parse price %q for %s: %w", p.Price, symbol, err)
		}
		return v, nil
	}
	return 0, apperrors.NewNotFoundError("instrument", symbol)
}

// Klines returns the most recent limit candles of the given interval (e.g. "15m", "1h").
func (b *BinanceSource) Klines(ctx context.Context, symbol, interval string, limit int) ([]models.Candle, error) {
	klines, err := b.client.NewKlinesService().
		Symbol(normalize(symbol)).
		Interval(interval).
		Limit(limit).
		Do(ctx)
	if err != nil {
		return nil, apperrors.NewCollaboratorError("binance", "klines", err)
	}

	candles := make([]models.Candle, 0, len(klines))
	for _, k := range klines {
		c, err := toCandle(k.OpenTime, k.Open, k.High, k.Low, k.Close, k.Volume)
		if err != nil {
			return nil, fmt.Errorf("kline %d for %s: %w", k.OpenTime, symbol, err)
		}
		candles = append(candles, c)
	}
	return candles, nil
}

func toCandle(openTimeMs int64, fields ...string) (models.Candle, error) {
	vals := make([]float64, len(fields))
	for i, f := range fields {
		v, err := strconv.ParseFloat(f, 64)
		if err != nil {
			return models.Candle{}, fmt.Errorf("parse %q: %w", f, err)
		}
		vals[i] = v
	}
	return models.Candle{
		Timestamp: time.UnixMilli(openTimeMs).UTC(),
		Open:      vals[0],
		High:      vals[1],
		Low:       vals[2],
		Close:     vals[3],
		Volume:    vals[4],
	}, nil
}
