package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"heartbeat-trader/internal/config"
	"heartbeat-trader/internal/models"
	"heartbeat-trader/internal/scheduler"
)

// execute runs the root command with args and returns its stdout.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := NewRootCmd(zerolog.Nop())
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

// configDir writes the default template, optionally activating its trader.
func configDir(t *testing.T, activate bool) string {
	t.Helper()
	for _, key := range []string{"DATABASE_URL", "REDIS_ADDR", "OPENAI_API_KEY", "BINANCE_API_KEY", "BINANCE_API_SECRET"} {
		t.Setenv(key, "")
	}
	dir := t.TempDir()
	path, err := config.WriteTemplate(dir)
	require.NoError(t, err)

	if activate {
		data, err := os.ReadFile(path)
		require.NoError(t, err)
		data = []byte(strings.Replace(string(data), "active = false", "active = true", 1))
		require.NoError(t, os.WriteFile(path, data, 0600))
	}
	return dir
}

func TestVersionCommandJSON(t *testing.T) {
	out, err := execute(t, "version", "--json")
	require.NoError(t, err)

	var got map[string]string
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.Equal(t, Version, got["version"])
}

func TestRiskLiqCommand(t *testing.T) {
	out, err := execute(t, "risk", "liq", "--side", "long", "--entry", "100", "--leverage", "10", "--sl", "2", "--tp", "4", "--json")
	require.NoError(t, err)

	var report liqReport
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.InDelta(t, 90.5, report.LiquidationPrice, 1e-9)
	assert.InDelta(t, 9.5, report.DistancePct, 1e-9)
	require.NotNil(t, report.StopLoss)
	require.NotNil(t, report.TakeProfit)
	assert.InDelta(t, 98, *report.StopLoss, 1e-9)
	assert.InDelta(t, 104, *report.TakeProfit, 1e-9)

	out, err = execute(t, "risk", "liq", "--side", "short", "--entry", "100", "--leverage", "10")
	require.NoError(t, err)
	assert.Contains(t, out, "109.5000")
	assert.Contains(t, out, "9.50% away")
}

func TestRiskLiqRejectsInvalidInput(t *testing.T) {
	_, err := execute(t, "risk", "liq", "--side", "sideways", "--entry", "100")
	require.Error(t, err)

	_, err = execute(t, "risk", "liq", "--entry", "0")
	require.Error(t, err)
}

func TestConfigPathAndValidate(t *testing.T) {
	dir := configDir(t, false)

	out, err := execute(t, "--config", dir, "config", "path")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "config.toml"), strings.TrimSpace(out))

	out, err = execute(t, "--config", dir, "config", "validate", "--json")
	require.NoError(t, err)
	assert.JSONEq(t, `{"valid": true}`, out)
}

func TestConfigValidateReportsErrors(t *testing.T) {
	dir := configDir(t, false)
	path := config.Path(dir)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	data = []byte(strings.Replace(string(data), "fee_rate = 0.0005", "fee_rate = 0.5", 1))
	require.NoError(t, os.WriteFile(path, data, 0600))

	_, err = execute(t, "--config", dir, "config", "validate")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "fee_rate")
}

func TestTradersSyncAndList(t *testing.T) {
	dir := configDir(t, true)

	out, err := execute(t, "--config", dir, "traders", "sync", "--json")
	require.NoError(t, err)
	assert.JSONEq(t, `{"synced": ["btc-momentum"]}`, out)

	out, err = execute(t, "--config", dir, "traders", "list", "--active", "--json")
	require.NoError(t, err)
	var traders []models.Trader
	require.NoError(t, json.Unmarshal([]byte(out), &traders))
	require.Len(t, traders, 1)
	created := traders[0].CreatedAt
	assert.Equal(t, "BTCUSDT", traders[0].Symbol)
	assert.Equal(t, []string{"15m", "1h", "4h"}, traders[0].Timeframes)

	// a second sync keeps the creation time
	_, err = execute(t, "--config", dir, "traders", "sync")
	require.NoError(t, err)
	out, err = execute(t, "--config", dir, "traders", "list", "--json")
	require.NoError(t, err)
	traders = nil
	require.NoError(t, json.Unmarshal([]byte(out), &traders))
	require.Len(t, traders, 1)
	assert.True(t, created.Equal(traders[0].CreatedAt))
}

func TestScheduleTimelineFromSeeds(t *testing.T) {
	dir := configDir(t, true)

	out, err := execute(t, "--config", dir, "schedule", "timeline", "--seeds",
		"--from", "2024-01-01T00:00:00Z", "--to", "2024-01-01T00:15:00Z", "--json")
	require.NoError(t, err)

	var triggers []scheduler.Trigger
	require.NoError(t, json.Unmarshal([]byte(out), &triggers))
	require.Len(t, triggers, 4)
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, tr := range triggers {
		assert.Equal(t, "btc-momentum", tr.TraderID)
		assert.True(t, base.Add(time.Duration(i)*5*time.Minute).Equal(tr.At), "trigger %d at %s", i, tr.At)
	}

	out, err = execute(t, "--config", dir, "schedule", "offsets", "--seeds", "--json")
	require.NoError(t, err)
	var slots []scheduler.Slot
	require.NoError(t, json.Unmarshal([]byte(out), &slots))
	require.Len(t, slots, 1)
	assert.Equal(t, 5*time.Minute, slots[0].Interval)
	assert.Equal(t, time.Duration(0), slots[0].Offset)
}

func TestParseWindow(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	start, end, err := parseWindow("", "", time.Hour, now)
	require.NoError(t, err)
	assert.Equal(t, now, start)
	assert.Equal(t, now.Add(time.Hour), end)

	start, end, err = parseWindow("2024-03-01T10:00:00Z", "2024-03-01T11:30:00Z", time.Hour, now)
	require.NoError(t, err)
	assert.Equal(t, 90*time.Minute, end.Sub(start))

	_, _, err = parseWindow("yesterday", "", time.Hour, now)
	require.Error(t, err)

	_, _, err = parseWindow("2024-03-01T10:00:00Z", "2024-03-01T09:00:00Z", time.Hour, now)
	require.Error(t, err)
}

func TestComputeLiquidationShortDistance(t *testing.T) {
	report, err := computeLiquidation(models.SideShort, 200, 20, 0.005, 0, 0)
	require.NoError(t, err)
	assert.InDelta(t, 209, report.LiquidationPrice, 1e-9)
	assert.InDelta(t, 4.5, report.DistancePct, 1e-9)
	assert.Nil(t, report.StopLoss)
	assert.Nil(t, report.TakeProfit)
}

func TestConfigShowHidesSecrets(t *testing.T) {
	dir := configDir(t, false)
	t.Setenv("OPENAI_API_KEY", "sk-abcdefghijklmnopqrstuvwxyz")

	out, err := execute(t, "--config", dir, "config", "show", "--json")
	require.NoError(t, err)
	assert.NotContains(t, out, "sk-abcdefghijklmnopqrstuvwxyz")

	out, err = execute(t, "--config", dir, "config", "show")
	require.NoError(t, err)
	assert.NotContains(t, out, "sk-abcdefghijklmnopqrstuvwxyz")
	assert.Contains(t, out, "sk-a")
	assert.Contains(t, out, "1 trader seed(s) configured")
}
