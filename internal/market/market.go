// Package market provides mark prices and candles for the position engine and readers.
package market

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	apperrors "heartbeat-trader/internal/errors"
)

// PriceSource returns the current mark price of a symbol.
type PriceSource interface {
	Price(ctx context.Context, symbol string) (float64, error)
}

// PriceCache is a shared last-price store.
type PriceCache interface {
	SetPrice(ctx context.Context, symbol string, price float64, ts time.Time) error
	GetPrice(ctx context.Context, symbol string) (float64, time.Time, error)
}

// StaticSource serves prices set in-process. It backs paper runs and tests.
type StaticSource struct {
	mu     sync.RWMutex
	prices map[string]float64
}

// NewStaticSource creates a StaticSource seeded with prices.
func NewStaticSource(prices map[string]float64) *StaticSource {
	s := &StaticSource{prices: make(map[string]float64, len(prices))}
	for k, v := range prices {
		s.prices[normalize(k)] = v
	}
	return s
}

// Set updates the price of a symbol.
func (s *StaticSource) Set(symbol string, price float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prices[normalize(symbol)] = price
}

// Price implements PriceSource.
func (s *StaticSource) Price(ctx context.Context, symbol string) (float64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.prices[normalize(symbol)]
	if !ok {
		return 0, apperrors.NewNotFoundError("price", symbol)
	}
	return p, nil
}

// CachedSource reads through a shared cache. Cached prices younger than
// maxAge are served directly; otherwise the upstream is asked and the
// cache refreshed. Cache failures are logged and never fail the lookup.
type CachedSource struct {
	upstream PriceSource
	cache    PriceCache
	maxAge   time.Duration
	logger   zerolog.Logger
	now      func() time.Time
}

// NewCachedSource wraps upstream with cache.
func NewCachedSource(upstream PriceSource, cache PriceCache, maxAge time.Duration, logger zerolog.Logger) *CachedSource {
	return &CachedSource{
		upstream: upstream,
		cache:    cache,
		maxAge:   maxAge,
		logger:   logger.With().Str("component", "price_cache").Logger(),
		now:      time.Now,
	}
}

// Price implements PriceSource.
func (c *CachedSource) Price(ctx context.Context, symbol string) (float64, error) {
	symbol = normalize(symbol)
	if price, ts, err := c.cache.GetPrice(ctx, symbol); err == nil {
		if c.now().Sub(ts) <= c.maxAge {
			return price, nil
		}
	} else if !apperrors.Is(err, apperrors.ErrNotFound) {
		c.logger.Warn().Err(err).Str("symbol", symbol).Msg("Price cache read failed")
	}

	price, err := c.upstream.Price(ctx, symbol)
	if err != nil {
		return 0, err
	}
	if err := c.cache.SetPrice(ctx, symbol, price, c.now()); err != nil {
		c.logger.Warn().Err(err).Str("symbol", symbol).Msg("Price cache write failed")
	}
	return price, nil
}

func normalize(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}
