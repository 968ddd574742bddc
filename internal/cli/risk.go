package cli

import (
	"github.com/spf13/cobra"

	"heartbeat-trader/internal/models"
	"heartbeat-trader/internal/riskmath"
)

// liqReport is the output of `risk liq`.
type liqReport struct {
	Side             models.Side `json:"side"`
	Entry            float64     `json:"entry"`
	Leverage         float64     `json:"leverage"`
	MaintenanceRatio float64     `json:"maintenance_margin_ratio"`
	LiquidationPrice float64     `json:"liquidation_price"`
	DistancePct      float64     `json:"distance_pct"`
	StopLoss         *float64    `json:"stop_loss,omitempty"`
	TakeProfit       *float64    `json:"take_profit,omitempty"`
}

func newRiskCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "risk",
		Short: "Leveraged risk calculators",
	}

	var (
		side         string
		entry, lev   float64
		mmr          float64
		slPct, tpPct float64
	)
	liqCmd := &cobra.Command{
		Use:   "liq",
		Short: "Compute the liquidation price of a hypothetical position",
		Example: `  heartbeat-trader risk liq --side long --entry 100 --leverage 10
  heartbeat-trader risk liq --side short --entry 2500 --leverage 25 --sl 2 --tp 4`,
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			report, err := computeLiquidation(models.Side(side), entry, lev, mmr, slPct, tpPct)
			if err != nil {
				return err
			}
			if output.IsJSON() {
				return output.JSON(report)
			}
			output.Bold("%s %gx @ %s", report.Side, report.Leverage, FormatPrice(report.Entry))
			output.Printf("  Liquidation:  %s (%.2f%% away)\n", FormatPrice(report.LiquidationPrice), report.DistancePct)
			if report.StopLoss != nil {
				output.Printf("  Stop loss:    %s\n", FormatPrice(*report.StopLoss))
			}
			if report.TakeProfit != nil {
				output.Printf("  Take profit:  %s\n", FormatPrice(*report.TakeProfit))
			}
			return nil
		},
	}
	liqCmd.Flags().StringVar(&side, "side", "long", "position side (long or short)")
	liqCmd.Flags().Float64Var(&entry, "entry", 0, "entry price")
	liqCmd.Flags().Float64Var(&lev, "leverage", 10, "leverage")
	liqCmd.Flags().Float64Var(&mmr, "mmr", 0.005, "maintenance margin ratio")
	liqCmd.Flags().Float64Var(&slPct, "sl", 0, "stop loss distance in percent")
	liqCmd.Flags().Float64Var(&tpPct, "tp", 0, "take profit distance in percent")
	cmd.AddCommand(liqCmd)

	return cmd
}

func computeLiquidation(side models.Side, entry, leverage, mmr, slPct, tpPct float64) (*liqReport, error) {
	liq, err := riskmath.LiquidationPrice(side, entry, leverage, mmr)
	if err != nil {
		return nil, err
	}
	report := &liqReport{
		Side:             side,
		Entry:            entry,
		Leverage:         leverage,
		MaintenanceRatio: mmr,
		LiquidationPrice: liq,
		DistancePct:      (entry - liq) / entry * 100,
	}
	if side == models.SideShort {
		report.DistancePct = -report.DistancePct
	}
	if slPct > 0 {
		sl, err := riskmath.StopLossPrice(side, entry, slPct)
		if err != nil {
			return nil, err
		}
		report.StopLoss = &sl
	}
	if tpPct > 0 {
		tp, err := riskmath.TakeProfitPrice(side, entry, tpPct)
		if err != nil {
			return nil, err
		}
		report.TakeProfit = &tp
	}
	return report, nil
}
