package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

// Output handles formatted output for the CLI.
type Output struct {
	writer       io.Writer
	jsonMode     bool
	colorEnabled bool
}

// NewOutput creates a new Output instance.
func NewOutput(cmd *cobra.Command) *Output {
	jsonMode, _ := cmd.Flags().GetBool("json")
	return newOutput(cmd.OutOrStdout(), jsonMode, !jsonMode && isTerminal())
}

func newOutput(w io.Writer, jsonMode, colorEnabled bool) *Output {
	return &Output{writer: w, jsonMode: jsonMode, colorEnabled: colorEnabled}
}

// isTerminal checks if stdout is a terminal.
func isTerminal() bool {
	fileInfo, err := os.Stdout.Stat()
	if err != nil {
		return false
	}
	return (fileInfo.Mode() & os.ModeCharDevice) != 0
}

// IsJSON returns true if JSON output mode is enabled.
func (o *Output) IsJSON() bool {
	return o.jsonMode
}

// JSON outputs data as JSON.
func (o *Output) JSON(data interface{}) error {
	encoder := json.NewEncoder(o.writer)
	encoder.SetIndent("", "  ")
	return encoder.Encode(data)
}

// Println prints a message with newline.
func (o *Output) Println(args ...interface{}) {
	fmt.Fprintln(o.writer, args...)
}

// Printf prints a formatted message.
func (o *Output) Printf(format string, args ...interface{}) {
	fmt.Fprintf(o.writer, format, args...)
}

// Success prints a success message in green.
func (o *Output) Success(format string, args ...interface{}) {
	o.colored(color.New(color.FgGreen), format, args...)
}

// Error prints an error message in red.
func (o *Output) Error(format string, args ...interface{}) {
	o.colored(color.New(color.FgRed), format, args...)
}

// Warning prints a warning message in yellow.
func (o *Output) Warning(format string, args ...interface{}) {
	o.colored(color.New(color.FgYellow), format, args...)
}

// Info prints an info message in cyan.
func (o *Output) Info(format string, args ...interface{}) {
	o.colored(color.New(color.FgCyan), format, args...)
}

// Bold prints a bold message.
func (o *Output) Bold(format string, args ...interface{}) {
	o.colored(color.New(color.Bold), format, args...)
}

// Dim prints a dimmed message.
func (o *Output) Dim(format string, args ...interface{}) {
	o.colored(color.New(color.Faint), format, args...)
}

func (o *Output) colored(c *color.Color, format string, args ...interface{}) {
	fmt.Fprintln(o.writer, o.paint(c, fmt.Sprintf(format, args...)))
}

func (o *Output) paint(c *color.Color, s string) string {
	if !o.colorEnabled {
		return s
	}
	c.EnableColor()
	return c.Sprint(s)
}

// FormatPnL formats P&L with sign and color.
func (o *Output) FormatPnL(pnl float64) string {
	return o.paint(pnlColor(pnl), FormatPnL(pnl))
}

// FormatPercent formats a percentage with sign and color.
func (o *Output) FormatPercent(pct float64) string {
	return o.paint(pnlColor(pct), FormatPercent(pct))
}

// Status colors a heartbeat or position status.
func (o *Output) Status(status string) string {
	switch status {
	case "completed", "open":
		return o.paint(color.New(color.FgGreen), status)
	case "failed", "liquidated":
		return o.paint(color.New(color.FgRed), status)
	case "in_progress":
		return o.paint(color.New(color.FgCyan), status)
	default:
		return o.paint(color.New(color.FgYellow), status)
	}
}

func pnlColor(v float64) *color.Color {
	switch {
	case v > 0:
		return color.New(color.FgGreen)
	case v < 0:
		return color.New(color.FgRed)
	default:
		return color.New(color.FgWhite)
	}
}

// Table wraps a go-pretty table writer.
type Table struct {
	tw table.Writer
}

// NewTable creates a table with the given headers.
func NewTable(output *Output, headers ...string) *Table {
	tw := table.NewWriter()
	tw.SetOutputMirror(output.writer)
	if output.colorEnabled {
		tw.SetStyle(table.StyleColoredDark)
	} else {
		tw.SetStyle(table.StyleLight)
	}

	row := make(table.Row, len(headers))
	for i, h := range headers {
		row[i] = h
	}
	tw.AppendHeader(row)
	return &Table{tw: tw}
}

// AddRow adds a row to the table.
func (t *Table) AddRow(cells ...interface{}) {
	t.tw.AppendRow(table.Row(cells))
}

// Render renders the table.
func (t *Table) Render() {
	t.tw.Render()
}
