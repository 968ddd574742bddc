package cli

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"heartbeat-trader/internal/config"
	"heartbeat-trader/internal/models"
	"heartbeat-trader/internal/store"
)

func newTradersCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "traders",
		Aliases: []string{"trader"},
		Short:   "Manage trader configurations",
	}

	var activeOnly bool
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List stored traders",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			st, err := app.Store(cmd.Context())
			if err != nil {
				return err
			}
			traders, err := st.ListTraders(cmd.Context(), activeOnly)
			if err != nil {
				return err
			}
			if output.IsJSON() {
				return output.JSON(traders)
			}
			if len(traders) == 0 {
				output.Info("No traders stored. Run 'heartbeat-trader traders sync' to load seeds.")
				return nil
			}
			renderTraders(output, traders)
			return nil
		},
	}
	listCmd.Flags().BoolVar(&activeOnly, "active", false, "only active traders")
	cmd.AddCommand(listCmd)

	cmd.AddCommand(&cobra.Command{
		Use:   "sync",
		Short: "Upsert trader seeds from the config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			cfg, err := app.LoadConfig()
			if err != nil {
				return err
			}
			st, err := app.Store(cmd.Context())
			if err != nil {
				return err
			}
			ids, err := syncTraders(cmd.Context(), st, cfg.Traders)
			if err != nil {
				return err
			}
			if output.IsJSON() {
				return output.JSON(map[string]interface{}{"synced": ids})
			}
			output.Success("✓ Synced %d trader(s)", len(ids))
			for _, id := range ids {
				output.Printf("  %s\n", id)
			}
			return nil
		},
	})

	return cmd
}

// syncTraders saves every seed, keeping the creation time of traders that
// already exist.
func syncTraders(ctx context.Context, st store.TraderStore, seeds []config.TraderConfig) ([]string, error) {
	ids := make([]string, 0, len(seeds))
	now := time.Now().UTC()
	for _, seed := range seeds {
		t, err := seed.ToTrader()
		if err != nil {
			return ids, fmt.Errorf("trader %q: %w", seed.ID, err)
		}
		t.CreatedAt = now
		if existing, err := st.GetTrader(ctx, t.ID); err == nil {
			t.CreatedAt = existing.CreatedAt
		}
		t.UpdatedAt = now
		if err := st.SaveTrader(ctx, t); err != nil {
			return ids, fmt.Errorf("saving trader %q: %w", t.ID, err)
		}
		ids = append(ids, t.ID)
	}
	return ids, nil
}

func renderTraders(output *Output, traders []models.Trader) {
	tbl := NewTable(output, "ID", "Symbol", "Active", "Interval", "Hours", "Leverage", "Size", "Timeframes", "Readers")
	for _, t := range traders {
		hours := "always"
		if t.ActiveHours.Start != t.ActiveHours.End {
			hours = t.ActiveHours.Start.String() + "-" + t.ActiveHours.End.String()
		}
		size := FormatUSD(t.MinPositionSize) + "+"
		if t.MaxPositionSize > 0 {
			size = FormatUSD(t.MinPositionSize) + "-" + FormatUSD(t.MaxPositionSize)
		}
		tbl.AddRow(
			t.ID,
			t.Symbol,
			t.Active,
			FormatDuration(t.Interval()),
			hours,
			fmt.Sprintf("%gx-%gx", t.MinLeverage, t.MaxLeverage),
			size,
			strings.Join(t.Timeframes, ","),
			strings.Join(t.ReaderIDs, ","),
		)
	}
	tbl.Render()
}
