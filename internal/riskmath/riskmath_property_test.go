package riskmath

import (
	"math"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"heartbeat-trader/internal/models"
)

func floatEqual(a, b, tolerance float64) bool {
	return math.Abs(a-b) <= tolerance*math.Max(1, math.Max(math.Abs(a), math.Abs(b)))
}

func newProperties() *gopter.Properties {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	parameters.Rng.Seed(time.Now().UnixNano())
	return gopter.NewProperties(parameters)
}

// The liquidation price is itself a liquidating price, and a freshly opened
// position is never liquidated at its entry while mmr < 1/leverage.
func TestProperty_LiquidationPriceBoundary(t *testing.T) {
	properties := newProperties()

	sideGen := gen.OneConstOf(models.SideLong, models.SideShort)

	properties.Property("liquidation price liquidates, entry does not", prop.ForAll(
		func(side models.Side, entry float64, leverage int, mmr float64) bool {
			liq, err := LiquidationPrice(side, entry, float64(leverage), mmr)
			if err != nil {
				t.Logf("LiquidationPrice error: %v", err)
				return false
			}

			atLiq, err := ShouldLiquidate(side, math.Max(liq, 1e-9), liq)
			if err != nil || (liq > 0 && !atLiq) {
				t.Logf("expected liquidation at %f (side=%s): %v", liq, side, err)
				return false
			}

			atEntry, err := ShouldLiquidate(side, entry, liq)
			if err != nil || atEntry {
				t.Logf("unexpected liquidation at entry %f (liq=%f side=%s L=%d mmr=%f)", entry, liq, side, leverage, mmr)
				return false
			}
			return true
		},
		sideGen,
		gen.Float64Range(0.01, 100000),
		gen.IntRange(2, 125),
		gen.Float64Range(0, 0.0079),
	))

	properties.TestingRun(t)
}

// margin × leverage recovers the position size.
func TestProperty_MarginRoundTrip(t *testing.T) {
	properties := newProperties()

	properties.Property("margin × leverage ≈ size", prop.ForAll(
		func(size float64, leverage int) bool {
			margin, err := Margin(size, float64(leverage))
			if err != nil {
				return false
			}
			return floatEqual(margin*float64(leverage), size, 1e-9)
		},
		gen.Float64Range(1, 1_000_000),
		gen.IntRange(1, 125),
	))

	properties.Property("quantity × price ≈ size", prop.ForAll(
		func(size, price float64) bool {
			qty, err := Quantity(size, price)
			if err != nil {
				return false
			}
			return floatEqual(qty*price, size, 1e-9)
		},
		gen.Float64Range(1, 1_000_000),
		gen.Float64Range(0.0001, 100000),
	))

	properties.TestingRun(t)
}

// PnL is antisymmetric between sides and zero at entry.
func TestProperty_PnLSymmetry(t *testing.T) {
	properties := newProperties()

	properties.Property("long pnl = -short pnl", prop.ForAll(
		func(entry, exit, qty float64) bool {
			long, err1 := PnL(models.SideLong, entry, exit, qty)
			short, err2 := PnL(models.SideShort, entry, exit, qty)
			if err1 != nil || err2 != nil {
				return false
			}
			return floatEqual(long, -short, 1e-9)
		},
		gen.Float64Range(0.01, 100000),
		gen.Float64Range(0.01, 100000),
		gen.Float64Range(0.0001, 1000),
	))

	properties.Property("pnl at entry is zero", prop.ForAll(
		func(entry, qty float64) bool {
			pnl, err := PnL(models.SideLong, entry, entry, qty)
			return err == nil && pnl == 0
		},
		gen.Float64Range(0.01, 100000),
		gen.Float64Range(0.0001, 1000),
	))

	properties.TestingRun(t)
}

// Stop-loss and take-profit prices derived from a percentage trigger exactly
// at their own level and respect the ordering invariant.
func TestProperty_StopPricesTriggerAtLevel(t *testing.T) {
	properties := newProperties()

	properties.Property("derived stops are ordered and self-triggering", prop.ForAll(
		func(side models.Side, entry, slPct, tpPct float64) bool {
			sl, err := StopLossPrice(side, entry, slPct)
			if err != nil {
				return false
			}
			tp, err := TakeProfitPrice(side, entry, tpPct)
			if err != nil {
				return false
			}
			if err := ValidStops(side, entry, &sl, &tp); err != nil {
				t.Logf("ValidStops: %v", err)
				return false
			}
			slHit, _ := IsStopLossTriggered(side, sl, sl)
			tpHit, _ := IsTakeProfitTriggered(side, tp, tp)
			slAtEntry, _ := IsStopLossTriggered(side, entry, sl)
			tpAtEntry, _ := IsTakeProfitTriggered(side, entry, tp)
			return slHit && tpHit && !slAtEntry && !tpAtEntry
		},
		gen.OneConstOf(models.SideLong, models.SideShort),
		gen.Float64Range(1, 100000),
		gen.Float64Range(0.1, 50),
		gen.Float64Range(0.1, 50),
	))

	properties.TestingRun(t)
}
