package position

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	apperrors "heartbeat-trader/internal/errors"
	"heartbeat-trader/internal/market"
	"heartbeat-trader/internal/models"
	"heartbeat-trader/internal/store"
)

// RefreshSummary counts the outcome of one monitor pass.
type RefreshSummary struct {
	Positions   int                        `json:"positions"`
	Refreshed   int                        `json:"refreshed"`
	Triggered   map[models.CloseReason]int `json:"triggered,omitempty"`
	Conflicts   int                        `json:"conflicts"`
	PriceErrors int                        `json:"price_errors"`
	Errors      int                        `json:"errors"`
}

// Monitor marks every open position to market on a fixed interval.
type Monitor struct {
	engine      *Engine
	prices      market.PriceSource
	interval    time.Duration
	concurrency int
	logger      zerolog.Logger
}

// NewMonitor creates a price monitor.
func NewMonitor(engine *Engine, prices market.PriceSource, interval time.Duration, logger zerolog.Logger) *Monitor {
	return &Monitor{
		engine:      engine,
		prices:      prices,
		interval:    interval,
		concurrency: 4,
		logger:      logger.With().Str("component", "price_monitor").Logger(),
	}
}

// Run refreshes positions until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.logger.Info().Dur("interval", m.interval).Msg("Price monitor started")
	for {
		select {
		case <-ctx.Done():
			m.logger.Info().Msg("Price monitor stopped")
			return nil
		case <-ticker.C:
			summary, err := m.RefreshAll(ctx)
			if err != nil {
				m.logger.Error().Err(err).Msg("Monitor pass failed")
				continue
			}
			if len(summary.Triggered) > 0 || summary.Errors > 0 {
				m.logger.Info().Interface("summary", summary).Msg("Monitor pass")
			}
		}
	}
}

// RefreshAll fetches one price per symbol with open positions and refreshes
// each position. Individual failures are counted, not returned.
func (m *Monitor) RefreshAll(ctx context.Context) (*RefreshSummary, error) {
	open, err := m.engine.store.ListPositions(ctx, store.PositionFilter{Status: models.PositionOpen})
	if err != nil {
		return nil, err
	}

	summary := &RefreshSummary{Positions: len(open), Triggered: map[models.CloseReason]int{}}
	bySymbol := map[string][]models.Position{}
	for _, p := range open {
		bySymbol[p.Symbol] = append(bySymbol[p.Symbol], p)
	}
	symbols := make([]string, 0, len(bySymbol))
	for s := range bySymbol {
		symbols = append(symbols, s)
	}
	sort.Strings(symbols)

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.concurrency)
	for _, symbol := range symbols {
		symbol := symbol
		g.Go(func() error {
			price, err := m.prices.Price(gctx, symbol)
			if err != nil {
				m.logger.Warn().Err(err).Str("symbol", symbol).Msg("Price fetch failed")
				mu.Lock()
				summary.PriceErrors++
				mu.Unlock()
				return nil
			}
			for i := range bySymbol[symbol] {
				p := bySymbol[symbol][i]
				result, err := m.engine.refresh(gctx, &p, price)

				mu.Lock()
				switch {
				case apperrors.Is(err, apperrors.ErrConcurrencyConflict):
					summary.Conflicts++
					m.logger.Debug().Str("position_id", p.ID).Msg("Position changed concurrently, skipped")
				case err != nil:
					summary.Errors++
					m.logger.Error().Err(err).Str("position_id", p.ID).Msg("Refresh failed")
				default:
					summary.Refreshed++
					if result.Triggered != "" {
						summary.Triggered[result.Triggered]++
					}
				}
				mu.Unlock()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return summary, nil
}
