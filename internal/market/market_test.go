package market

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "heartbeat-trader/internal/errors"
)

type memoryCache struct {
	mu      sync.Mutex
	prices  map[string]float64
	stamps  map[string]time.Time
	readErr error
	writes  int
}

func newMemoryCache() *memoryCache {
	return &memoryCache{prices: map[string]float64{}, stamps: map[string]time.Time{}}
}

func (m *memoryCache) SetPrice(ctx context.Context, symbol string, price float64, ts time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prices[symbol] = price
	m.stamps[symbol] = ts
	m.writes++
	return nil
}

func (m *memoryCache) GetPrice(ctx context.Context, symbol string) (float64, time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.readErr != nil {
		return 0, time.Time{}, m.readErr
	}
	p, ok := m.prices[symbol]
	if !ok {
		return 0, time.Time{}, apperrors.NewNotFoundError("cached price", symbol)
	}
	return p, m.stamps[symbol], nil
}

type countingSource struct {
	*StaticSource
	calls int
}

func (c *countingSource) Price(ctx context.Context, symbol string) (float64, error) {
	c.calls++
	return c.StaticSource.Price(ctx, symbol)
}

func TestStaticSource(t *testing.T) {
	src := NewStaticSource(map[string]float64{"btcusdt": 100})

	p, err := src.Price(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, 100.0, p)

	src.Set("BTCUSDT", 101)
	p, _ = src.Price(context.Background(), " btcusdt ")
	assert.Equal(t, 101.0, p)

	_, err = src.Price(context.Background(), "DOGEUSDT")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestCachedSourceServesFreshAndRefreshesStale(t *testing.T) {
	upstream := &countingSource{StaticSource: NewStaticSource(map[string]float64{"BTCUSDT": 100})}
	cache := newMemoryCache()
	src := NewCachedSource(upstream, cache, 5*time.Second, zerolog.Nop())

	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	src.now = func() time.Time { return now }
	ctx := context.Background()

	p, err := src.Price(ctx, "BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, 100.0, p)
	assert.Equal(t, 1, upstream.calls)

	upstream.Set("BTCUSDT", 105)
	p, _ = src.Price(ctx, "BTCUSDT")
	assert.Equal(t, 100.0, p)
	assert.Equal(t, 1, upstream.calls)

	now = now.Add(10 * time.Second)
	p, _ = src.Price(ctx, "BTCUSDT")
	assert.Equal(t, 105.0, p)
	assert.Equal(t, 2, upstream.calls)
	assert.Equal(t, 2, cache.writes)
}

func TestCachedSourceFallsBackOnCacheError(t *testing.T) {
	upstream := NewStaticSource(map[string]float64{"ETHUSDT": 2000})
	cache := newMemoryCache()
	cache.readErr = errors.New("connection refused")
	src := NewCachedSource(upstream, cache, time.Minute, zerolog.Nop())

	p, err := src.Price(context.Background(), "ETHUSDT")
	require.NoError(t, err)
	assert.Equal(t, 2000.0, p)
}

func TestBinanceSourceAgainstStubVenue(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/fapi/v1/ticker/price":
			_, _ = w.Write([]byte(`[{"symbol":"BTCUSDT","price":"64123.50","time":1700000000000}]`))
		case "/fapi/v1/klines":
			_, _ = w.Write([]byte(`[[1700000000000,"100.0","110.0","95.0","105.0","12.5",1700000059999,"0",10,"0","0","0"]]`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	src := NewBinanceSource("", "", srv.URL)
	ctx := context.Background()

	p, err := src.Price(ctx, "btcusdt")
	require.NoError(t, err)
	assert.Equal(t, 64123.5, p)

	candles, err := src.Klines(ctx, "BTCUSDT", "1m", 1)
	require.NoError(t, err)
	require.Len(t, candles, 1)
	assert.Equal(t, 105.0, candles[0].Close)
	assert.Equal(t, 12.5, candles[0].Volume)
	assert.Equal(t, time.UnixMilli(1700000000000).UTC(), candles[0].Timestamp)
}
