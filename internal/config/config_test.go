package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "heartbeat-trader/internal/errors"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{"OPENAI_API_KEY", "OPENAI_BASE_URL", "DATABASE_URL", "REDIS_ADDR", "BINANCE_API_KEY", "BINANCE_API_SECRET"} {
		t.Setenv(k, "")
	}
}

func TestLoadCreatesTemplateThenLoadsIt(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()

	_, err := Load(dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "created template")
	_, statErr := os.Stat(filepath.Join(dir, "config.toml"))
	require.NoError(t, statErr)

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, 0.0005, cfg.Engine.FeeRate)
	assert.Equal(t, 0.005, cfg.Engine.MaintenanceMarginRatio)
	assert.Equal(t, 30*time.Second, cfg.Engine.DefaultReaderTimeout)
	assert.Equal(t, []string{"klines"}, cfg.Engine.MandatoryReaders)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, filepath.Join(dir, "heartbeat.db"), cfg.Database.Path)
	assert.Equal(t, 15*time.Second, cfg.Monitor.Interval)

	require.Len(t, cfg.Readers, 1)
	assert.Equal(t, ReaderKindBinance, cfg.Readers[0].Kind)
	assert.Equal(t, 10*time.Second, cfg.Readers[0].Timeout)
	assert.EqualValues(t, 100, cfg.Readers[0].Parameters["limit"])

	require.Len(t, cfg.Traders, 1)
	trader, err := cfg.Traders[0].ToTrader()
	require.NoError(t, err)
	assert.Equal(t, "BTCUSDT", trader.Symbol)
	assert.Equal(t, []string{"15m", "1h", "4h"}, trader.Timeframes)
	assert.Equal(t, 300, trader.HeartbeatInterval)
}

func TestLoadEnvOverrides(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	_, err := WriteTemplate(dir)
	require.NoError(t, err)

	t.Setenv("DATABASE_URL", "postgres://u:p@db:5432/hbt")
	t.Setenv("REDIS_ADDR", "cache:6379")
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("HBT_ENGINE_FEE_RATE", "0.001")

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, "postgres://u:p@db:5432/hbt", cfg.Database.DSN)
	assert.True(t, cfg.Redis.Enabled)
	assert.Equal(t, "cache:6379", cfg.Redis.Addr)
	assert.Equal(t, "sk-test", cfg.Oracle.APIKey)
	assert.Equal(t, 0.001, cfg.Engine.FeeRate)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg := Default(t.TempDir())
		cfg.Readers = []ReaderConfig{{ID: "klines", Kind: ReaderKindBinance}}
		cfg.Traders = []TraderConfig{{
			ID: "t1", Active: true, Aggressiveness: 5, MinLeverage: 2, MaxLeverage: 20,
			HeartbeatInterval: 300, Symbol: "btcusdt", Timeframes: []string{"1h"}, Readers: []string{"klines"},
		}}
		return cfg
	}
	require.NoError(t, valid().Validate())

	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"fee rate", func(c *Config) { c.Engine.FeeRate = 0.5 }},
		{"mmr", func(c *Config) { c.Engine.MaintenanceMarginRatio = 1 }},
		{"timezone", func(c *Config) { c.Engine.Timezone = "Mars/Olympus" }},
		{"driver", func(c *Config) { c.Database.Driver = "mysql" }},
		{"postgres dsn", func(c *Config) { c.Database.Driver = "postgres" }},
		{"redis addr", func(c *Config) { c.Redis.Enabled = true; c.Redis.Addr = "" }},
		{"http url", func(c *Config) { c.Readers = append(c.Readers, ReaderConfig{ID: "news", Kind: ReaderKindHTTP}) }},
		{"reader kind", func(c *Config) { c.Readers[0].Kind = "grpc" }},
		{"duplicate reader", func(c *Config) { c.Readers = append(c.Readers, c.Readers[0]) }},
		{"mandatory reader", func(c *Config) { c.Engine.MandatoryReaders = []string{"ghost"} }},
		{"trader leverage", func(c *Config) { c.Traders[0].MinLeverage = 30 }},
		{"trader reader", func(c *Config) { c.Traders[0].Readers = []string{"ghost"} }},
		{"trader hours", func(c *Config) { c.Traders[0].ActiveStart = "25:00"; c.Traders[0].ActiveEnd = "06:00" }},
		{"duplicate trader", func(c *Config) { c.Traders = append(c.Traders, c.Traders[0]) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.ErrorIs(t, err, apperrors.ErrConfigInvalid)
		})
	}
}

func TestTraderConfigOvernightWindow(t *testing.T) {
	tc := TraderConfig{
		ID: "night", Active: true, Aggressiveness: 3, MinLeverage: 1, MaxLeverage: 5,
		HeartbeatInterval: 60, Symbol: "ethusdt", ActiveStart: "22:00", ActiveEnd: "06:00",
	}
	trader, err := tc.ToTrader()
	require.NoError(t, err)
	assert.Equal(t, "ETHUSDT", trader.Symbol)
	assert.True(t, trader.ActiveHours.Contains(time.Date(2024, 1, 1, 23, 30, 0, 0, time.UTC)))
	assert.False(t, trader.ActiveHours.Contains(time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)))
}

func TestPathAndLogConfig(t *testing.T) {
	assert.Equal(t, filepath.Join("/etc/hbt", "config.toml"), Path("/etc/hbt"))
	assert.Equal(t, filepath.Join(DefaultConfigDir(), "config.toml"), Path(""))

	cfg := Default("/tmp/hbt")
	lc := cfg.LogConfig()
	assert.Equal(t, "info", lc.Level)
	assert.True(t, lc.Console)
	assert.Equal(t, filepath.Join("/tmp/hbt", "logs", "engine.log"), lc.FilePath)
}

func TestRedactedMasksCredentials(t *testing.T) {
	cfg := Default(t.TempDir())
	cfg.Oracle.APIKey = "sk-live-0123456789abcdef"
	cfg.Binance.APISecret = "binance-secret-value"
	cfg.Database.DSN = "postgres://trader:hunter22@db:5432/hbt"
	cfg.Readers = []ReaderConfig{{
		ID:      "sentiment",
		Kind:    ReaderKindHTTP,
		URL:     "http://feeds/sentiment?api_key=abcdef123456",
		Headers: map[string]string{"Authorization": "Bearer 0123456789abcdef"},
	}}

	red := cfg.Redacted()
	assert.NotEqual(t, cfg.Oracle.APIKey, red.Oracle.APIKey)
	assert.Equal(t, len(cfg.Oracle.APIKey), len(red.Oracle.APIKey))
	assert.NotContains(t, red.Binance.APISecret, "secret-val")
	assert.NotContains(t, red.Database.DSN, "hunter22")
	assert.NotContains(t, red.Readers[0].URL, "abcdef123456")
	assert.NotContains(t, red.Readers[0].Headers["Authorization"], "0123456789abcdef")

	// the original is untouched
	assert.Equal(t, "sk-live-0123456789abcdef", cfg.Oracle.APIKey)
	assert.Equal(t, "Bearer 0123456789abcdef", cfg.Readers[0].Headers["Authorization"])
}
