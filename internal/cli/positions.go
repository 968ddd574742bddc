package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"heartbeat-trader/internal/models"
	"heartbeat-trader/internal/position"
	"heartbeat-trader/internal/store"
)

func newPositionsCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "positions",
		Aliases: []string{"pos"},
		Short:   "Inspect and manage leveraged positions",
	}

	var (
		traderID string
		status   string
		symbol   string
		limit    int
	)
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List positions",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			st, err := app.Store(cmd.Context())
			if err != nil {
				return err
			}
			positions, err := st.ListPositions(cmd.Context(), store.PositionFilter{
				TraderID: traderID,
				Status:   models.PositionStatus(status),
				Symbol:   symbol,
				Limit:    limit,
			})
			if err != nil {
				return err
			}
			if output.IsJSON() {
				return output.JSON(positions)
			}
			if len(positions) == 0 {
				output.Info("No positions")
				return nil
			}
			renderPositions(output, positions)
			return nil
		},
	}
	listCmd.Flags().StringVar(&traderID, "trader", "", "filter by trader id")
	listCmd.Flags().StringVar(&status, "status", "open", "filter by status (open, closed, liquidated; empty for all)")
	listCmd.Flags().StringVar(&symbol, "symbol", "", "filter by symbol")
	listCmd.Flags().IntVar(&limit, "limit", 50, "maximum positions")
	cmd.AddCommand(listCmd)

	var qty, price float64
	closeCmd := &cobra.Command{
		Use:   "close <position-id>",
		Short: "Close a position fully or partially",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			engine, err := app.Engine(cmd.Context())
			if err != nil {
				return err
			}
			req := position.CloseRequest{PositionID: args[0], Reason: models.CloseReasonManual}
			if cmd.Flags().Changed("qty") {
				req.Quantity = models.Float(qty)
			}
			if cmd.Flags().Changed("price") {
				req.ClosePrice = models.Float(price)
			}
			result, err := engine.Close(cmd.Context(), req)
			if err != nil {
				return err
			}
			if output.IsJSON() {
				return output.JSON(result)
			}
			kind := "Closed"
			if result.Partial {
				kind = "Partially closed"
			}
			output.Success("✓ %s %s %s @ %s", kind, FormatQuantity(result.ClosedQuantity), result.Position.Symbol, FormatPrice(result.ClosePrice))
			output.Printf("  Fee: %s  PnL: %s\n", FormatUSD(result.Fee), output.FormatPnL(result.PnL))
			return nil
		},
	}
	closeCmd.Flags().Float64Var(&qty, "qty", 0, "quantity to close (default everything)")
	closeCmd.Flags().Float64Var(&price, "price", 0, "close price (default current market price)")
	cmd.AddCommand(closeCmd)

	cmd.AddCommand(&cobra.Command{
		Use:   "refresh",
		Short: "Mark every open position to market once",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			monitor, err := app.Monitor(cmd.Context())
			if err != nil {
				return err
			}
			summary, err := monitor.RefreshAll(cmd.Context())
			if err != nil {
				return err
			}
			if output.IsJSON() {
				return output.JSON(summary)
			}
			output.Success("✓ Refreshed %d of %d open position(s)", summary.Refreshed, summary.Positions)
			for reason, n := range summary.Triggered {
				output.Warning("  %s: %d", reason, n)
			}
			if summary.PriceErrors+summary.Errors+summary.Conflicts > 0 {
				output.Dim("  price errors: %d, refresh errors: %d, conflicts: %d",
					summary.PriceErrors, summary.Errors, summary.Conflicts)
			}
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "history <position-id>",
		Short: "Show the audit history of a position",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			st, err := app.Store(cmd.Context())
			if err != nil {
				return err
			}
			entries, err := st.ListPositionHistory(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if output.IsJSON() {
				return output.JSON(entries)
			}
			if len(entries) == 0 {
				output.Info("No history for %s", args[0])
				return nil
			}
			tbl := NewTable(output, "Time", "Action", "Price", "Qty", "Fee", "PnL", "Details")
			for _, h := range entries {
				tbl.AddRow(
					FormatTime(h.CreatedAt),
					h.Action,
					FormatPrice(h.Price),
					FormatQuantity(h.Quantity),
					FormatUSD(h.Fee),
					output.FormatPnL(h.PnL),
					string(h.Details),
				)
			}
			tbl.Render()
			return nil
		},
	})

	return cmd
}

func renderPositions(output *Output, positions []models.Position) {
	tbl := NewTable(output, "ID", "Trader", "Symbol", "Side", "Status", "Lev", "Size", "Entry", "Mark", "Liq", "SL", "TP", "PnL")
	var unrealized, realized float64
	for _, p := range positions {
		pnl := p.UnrealizedPnL
		if !p.IsOpen() {
			pnl = p.RealizedPnL
		}
		unrealized += p.UnrealizedPnL
		realized += p.RealizedPnL
		tbl.AddRow(
			ShortID(p.ID),
			p.TraderID,
			p.Symbol,
			p.Side,
			output.Status(string(p.Status)),
			fmt.Sprintf("%gx", p.Leverage),
			FormatUSD(p.PositionSize),
			FormatPrice(p.EntryPrice),
			FormatPrice(p.CurrentPrice),
			FormatPrice(p.LiquidationPrice),
			FormatOptionalPrice(p.StopLoss),
			FormatOptionalPrice(p.TakeProfit),
			output.FormatPnL(pnl),
		)
	}
	tbl.Render()
	output.Printf("Unrealized: %s  Realized: %s\n", output.FormatPnL(unrealized), output.FormatPnL(realized))
}
