package riskmath

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "heartbeat-trader/internal/errors"
	"heartbeat-trader/internal/models"
)

func TestLiquidationScenarioLong(t *testing.T) {
	liq, err := LiquidationPrice(models.SideLong, 100, 10, 0.005)
	require.NoError(t, err)
	assert.InDelta(t, 90.5, liq, 1e-12)

	hit, err := ShouldLiquidate(models.SideLong, 90, liq)
	require.NoError(t, err)
	assert.True(t, hit, "price 90 must liquidate")

	hit, err = ShouldLiquidate(models.SideLong, 91, liq)
	require.NoError(t, err)
	assert.False(t, hit, "price 91 must not liquidate")
}

func TestLiquidationScenarioShort(t *testing.T) {
	liq, err := LiquidationPrice(models.SideShort, 100, 10, 0.005)
	require.NoError(t, err)
	assert.InDelta(t, 109.5, liq, 1e-12)

	hit, _ := ShouldLiquidate(models.SideShort, 110, liq)
	assert.True(t, hit)
	hit, _ = ShouldLiquidate(models.SideShort, 109, liq)
	assert.False(t, hit)
}

func TestBasicFormulas(t *testing.T) {
	margin, err := Margin(1000, 10)
	require.NoError(t, err)
	assert.Equal(t, 100.0, margin)

	qty, err := Quantity(1000, 50)
	require.NoError(t, err)
	assert.Equal(t, 20.0, qty)

	fee, err := Fee(1000, 0.0005)
	require.NoError(t, err)
	assert.InDelta(t, 0.5, fee, 1e-12)

	pnl, err := PnL(models.SideShort, 100, 90, 2)
	require.NoError(t, err)
	assert.Equal(t, 20.0, pnl)

	roe, err := ROE(20, 100)
	require.NoError(t, err)
	assert.Equal(t, 20.0, roe)

	sl, err := StopLossPrice(models.SideLong, 200, 5)
	require.NoError(t, err)
	assert.Equal(t, 190.0, sl)

	tp, err := TakeProfitPrice(models.SideShort, 200, 5)
	require.NoError(t, err)
	assert.Equal(t, 190.0, tp)

	rr, err := RiskRewardRatio(100, 95, 115)
	require.NoError(t, err)
	assert.InDelta(t, 3.0, rr, 1e-12)
}

func TestInvalidArguments(t *testing.T) {
	cases := map[string]func() error{
		"zero size":          func() error { _, err := Margin(0, 10); return err },
		"leverage above 125": func() error { _, err := Margin(100, 126); return err },
		"leverage below 1":   func() error { _, err := Margin(100, 0.5); return err },
		"negative price":     func() error { _, err := Quantity(100, -1); return err },
		"zero entry":         func() error { _, err := LiquidationPrice(models.SideLong, 0, 10, 0.005); return err },
		"unknown side":       func() error { _, err := LiquidationPrice("sideways", 100, 10, 0.005); return err },
		"zero exit":          func() error { _, err := PnL(models.SideLong, 100, 0, 1); return err },
		"zero margin":        func() error { _, err := ROE(10, 0); return err },
		"zero sl distance":   func() error { _, err := RiskRewardRatio(100, 100, 110); return err },
		"pct wipes price":    func() error { _, err := StopLossPrice(models.SideLong, 100, 100); return err },
	}
	for name, fn := range cases {
		t.Run(name, func(t *testing.T) {
			err := fn()
			require.Error(t, err)
			assert.True(t, errors.Is(err, apperrors.ErrInvalidArgument), "got %v", err)
		})
	}
}

func TestTriggerComparisons(t *testing.T) {
	hit, _ := IsStopLossTriggered(models.SideLong, 95, 95)
	assert.True(t, hit)
	hit, _ = IsStopLossTriggered(models.SideShort, 104, 105)
	assert.False(t, hit)
	hit, _ = IsTakeProfitTriggered(models.SideLong, 111, 110)
	assert.True(t, hit)
	hit, _ = IsTakeProfitTriggered(models.SideShort, 89, 90)
	assert.True(t, hit)
}

func TestValidStops(t *testing.T) {
	assert.NoError(t, ValidStops(models.SideLong, 100, models.Float(95), models.Float(110)))
	assert.NoError(t, ValidStops(models.SideShort, 100, models.Float(105), models.Float(90)))
	assert.NoError(t, ValidStops(models.SideLong, 100, nil, nil))
	assert.Error(t, ValidStops(models.SideLong, 100, models.Float(101), nil))
	assert.Error(t, ValidStops(models.SideShort, 100, nil, models.Float(100)))
}
