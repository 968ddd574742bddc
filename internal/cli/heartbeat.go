package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	apperrors "heartbeat-trader/internal/errors"
	"heartbeat-trader/internal/models"
	"heartbeat-trader/internal/store"
)

func newHeartbeatCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "heartbeat",
		Aliases: []string{"hb"},
		Short:   "Run and inspect heartbeats",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "run <trader-id>",
		Short: "Run one manual heartbeat now",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			orch, err := app.Orchestrator(cmd.Context())
			if err != nil {
				return err
			}
			record, err := orch.Run(cmd.Context(), args[0], models.TriggeredByManual, time.Now())
			if record == nil {
				return err
			}
			if output.IsJSON() {
				if jerr := output.JSON(record); jerr != nil {
					return jerr
				}
				return err
			}
			renderHeartbeat(output, record)
			return err
		},
	})

	var (
		traderID string
		status   string
		since    time.Duration
		limit    int
	)
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List recent heartbeat records",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			st, err := app.Store(cmd.Context())
			if err != nil {
				return err
			}
			filter := store.HeartbeatFilter{
				TraderID: traderID,
				Status:   models.HeartbeatStatus(status),
				Limit:    limit,
			}
			if since > 0 {
				filter.Since = time.Now().Add(-since)
			}
			records, err := st.ListHeartbeats(cmd.Context(), filter)
			if err != nil {
				return err
			}
			if output.IsJSON() {
				return output.JSON(records)
			}
			if len(records) == 0 {
				output.Info("No heartbeats recorded")
				return nil
			}
			tbl := NewTable(output, "ID", "Trader", "Status", "Source", "Triggered", "Duration", "Action", "Error")
			for _, r := range records {
				action := "-"
				if r.Execution != nil {
					action = r.Execution.Action
				}
				tbl.AddRow(
					ShortID(r.ID),
					r.TraderID,
					output.Status(string(r.Status)),
					r.TriggeredBy,
					FormatTime(r.TriggeredAt),
					FormatDuration(time.Duration(r.DurationMs)*time.Millisecond),
					action,
					r.Error,
				)
			}
			tbl.Render()
			return nil
		},
	}
	listCmd.Flags().StringVar(&traderID, "trader", "", "filter by trader id")
	listCmd.Flags().StringVar(&status, "status", "", "filter by status")
	listCmd.Flags().DurationVar(&since, "since", 0, "only records triggered within this window (e.g. 24h)")
	listCmd.Flags().IntVar(&limit, "limit", 20, "maximum records")
	cmd.AddCommand(listCmd)

	cmd.AddCommand(&cobra.Command{
		Use:   "show <heartbeat-id>",
		Short: "Show one heartbeat record in full",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			st, err := app.Store(cmd.Context())
			if err != nil {
				return err
			}
			record, err := st.GetHeartbeat(cmd.Context(), args[0])
			if err != nil {
				if apperrors.Is(err, apperrors.ErrNotFound) {
					output.Error("Heartbeat %s not found", args[0])
				}
				return err
			}
			if output.IsJSON() {
				return output.JSON(record)
			}
			renderHeartbeat(output, record)
			return nil
		},
	})

	return cmd
}

func renderHeartbeat(output *Output, r *models.HeartbeatRecord) {
	output.Bold("Heartbeat %s", r.ID)
	output.Printf("  Trader:       %s\n", r.TraderID)
	output.Printf("  Status:       %s\n", output.Status(string(r.Status)))
	output.Printf("  Triggered:    %s by %s\n", FormatTime(r.TriggeredAt), r.TriggeredBy)
	output.Printf("  Duration:     %s\n", FormatDuration(time.Duration(r.DurationMs)*time.Millisecond))
	output.Printf("  In hours:     %v\n", r.WithinActiveHours)
	if r.Error != "" {
		output.Printf("  Error:        %s\n", r.Error)
	}

	if len(r.ReaderExecutions) > 0 {
		output.Println()
		output.Bold("Readers")
		tbl := NewTable(output, "Reader", "Timeframe", "OK", "Duration", "Error")
		for _, e := range r.ReaderExecutions {
			errText := e.Error
			if e.TimedOut {
				errText = "timeout: " + errText
			}
			tbl.AddRow(e.ReaderID, e.Timeframe, e.Success, FormatDuration(time.Duration(e.DurationMs)*time.Millisecond), errText)
		}
		tbl.Render()
	}

	if len(r.MicroDecisions) > 0 {
		output.Println()
		output.Bold("Timeframe decisions")
		tbl := NewTable(output, "Timeframe", "Action", "Confidence", "Reasoning")
		for _, d := range r.MicroDecisions {
			tbl.AddRow(d.Timeframe, d.Action, formatConfidence(d.Confidence), truncate(d.Reasoning, 60))
		}
		tbl.Render()
	}

	if d := r.ComprehensiveDecision; d != nil {
		output.Println()
		output.Bold("Decision")
		output.Printf("  Action:       %s\n", d.Action)
		output.Printf("  Confidence:   %s\n", formatConfidence(d.Confidence))
		output.Printf("  Reasoning:    %s\n", d.Reasoning)
	}

	if e := r.Execution; e != nil {
		output.Println()
		output.Bold("Execution")
		output.Printf("  Action:       %s\n", e.Action)
		output.Printf("  Success:      %v\n", e.Success)
		if e.PositionID != "" {
			output.Printf("  Position:     %s\n", e.PositionID)
		}
		if e.AppliedLeverage > 0 {
			output.Printf("  Leverage:     %gx", e.AppliedLeverage)
			if e.LeverageClamped {
				output.Printf(" (clamped from %gx)", e.RequestedLeverage)
			}
			output.Println()
		}
		if e.PositionSize > 0 {
			output.Printf("  Size:         %s @ %s\n", FormatUSD(e.PositionSize), FormatPrice(e.EntryPrice))
		}
		if e.Error != "" {
			output.Printf("  Error:        %s\n", e.Error)
		}
	}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

func formatConfidence(c float64) string {
	return fmt.Sprintf("%.0f%%", c*100)
}
