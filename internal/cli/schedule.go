package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"heartbeat-trader/internal/models"
	"heartbeat-trader/internal/scheduler"
)

func newScheduleCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Inspect the staggered heartbeat schedule",
	}

	var fromSeeds bool
	offsetsCmd := &cobra.Command{
		Use:   "offsets",
		Short: "Show the stagger offset of every active trader",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			traders, err := scheduledTraders(cmd.Context(), app, fromSeeds)
			if err != nil {
				return err
			}
			slots := scheduler.Plan(traders)
			if output.IsJSON() {
				return output.JSON(slots)
			}
			if len(slots) == 0 {
				output.Info("No active traders")
				return nil
			}
			now := time.Now()
			tbl := NewTable(output, "Trader", "Interval", "Offset", "Next trigger")
			for _, s := range slots {
				next := scheduler.NextTriggerAfter(now, s.Interval, s.Offset)
				tbl.AddRow(s.TraderID, FormatDuration(s.Interval), FormatDuration(s.Offset), FormatTime(next))
			}
			tbl.Render()
			return nil
		},
	}
	offsetsCmd.Flags().BoolVar(&fromSeeds, "seeds", false, "plan from config seeds instead of the store")
	cmd.AddCommand(offsetsCmd)

	var (
		from, to      string
		window        time.Duration
		timelineSeeds bool
	)
	timelineCmd := &cobra.Command{
		Use:   "timeline",
		Short: "List planned triggers in a time window",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			start, end, err := parseWindow(from, to, window, time.Now())
			if err != nil {
				return err
			}
			traders, err := scheduledTraders(cmd.Context(), app, timelineSeeds)
			if err != nil {
				return err
			}
			triggers, err := scheduler.TimelineFor(scheduler.Plan(traders), start, end)
			if err != nil {
				return err
			}
			if output.IsJSON() {
				return output.JSON(triggers)
			}
			if len(triggers) == 0 {
				output.Info("No triggers between %s and %s", FormatTime(start), FormatTime(end))
				return nil
			}
			tbl := NewTable(output, "At", "Trader")
			for _, t := range triggers {
				tbl.AddRow(FormatTime(t.At), t.TraderID)
			}
			tbl.Render()
			output.Dim("%d trigger(s)", len(triggers))
			return nil
		},
	}
	timelineCmd.Flags().StringVar(&from, "from", "", "window start, RFC3339 (default now)")
	timelineCmd.Flags().StringVar(&to, "to", "", "window end, RFC3339 (default from + window)")
	timelineCmd.Flags().DurationVar(&window, "window", time.Hour, "window length when --to is not given")
	timelineCmd.Flags().BoolVar(&timelineSeeds, "seeds", false, "plan from config seeds instead of the store")
	cmd.AddCommand(timelineCmd)

	return cmd
}

func scheduledTraders(ctx context.Context, app *App, fromSeeds bool) ([]models.Trader, error) {
	if !fromSeeds {
		st, err := app.Store(ctx)
		if err != nil {
			return nil, err
		}
		return st.ListTraders(ctx, true)
	}

	cfg, err := app.LoadConfig()
	if err != nil {
		return nil, err
	}
	var traders []models.Trader
	for _, seed := range cfg.Traders {
		t, err := seed.ToTrader()
		if err != nil {
			return nil, err
		}
		if t.Active {
			traders = append(traders, *t)
		}
	}
	return traders, nil
}

func parseWindow(from, to string, window time.Duration, now time.Time) (time.Time, time.Time, error) {
	start := now
	if from != "" {
		t, err := time.Parse(time.RFC3339, from)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid --from: %w", err)
		}
		start = t
	}
	end := start.Add(window)
	if to != "" {
		t, err := time.Parse(time.RFC3339, to)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid --to: %w", err)
		}
		end = t
	}
	if end.Before(start) {
		return time.Time{}, time.Time{}, fmt.Errorf("window end %s is before start %s", end.Format(time.RFC3339), start.Format(time.RFC3339))
	}
	return start, end, nil
}
