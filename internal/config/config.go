// Package config provides configuration management for the heartbeat engine.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	apperrors "heartbeat-trader/internal/errors"
	"heartbeat-trader/internal/logging"
	"heartbeat-trader/internal/models"
	"heartbeat-trader/internal/security"
)

// Reader kinds.
const (
	ReaderKindHTTP    = "http"
	ReaderKindBinance = "binance"
)

// Config holds all application configuration.
type Config struct {
	Engine   EngineConfig   `mapstructure:"engine"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Oracle   OracleConfig   `mapstructure:"oracle"`
	Binance  BinanceConfig  `mapstructure:"binance"`
	Monitor  MonitorConfig  `mapstructure:"monitor"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Readers  []ReaderConfig `mapstructure:"readers"`
	Traders  []TraderConfig `mapstructure:"traders"`

	// Dir is the directory the config was loaded from.
	Dir string `mapstructure:"-" json:"-"`
}

// EngineConfig holds heartbeat and position engine settings.
type EngineConfig struct {
	FeeRate                 float64       `mapstructure:"fee_rate"`
	MaintenanceMarginRatio  float64       `mapstructure:"maintenance_margin_ratio"`
	DefaultReaderTimeout    time.Duration `mapstructure:"default_reader_timeout"`
	ReaderConcurrency       int           `mapstructure:"reader_concurrency"`
	MaxConcurrentHeartbeats int           `mapstructure:"max_concurrent_heartbeats"`
	MandatoryReaders        []string      `mapstructure:"mandatory_readers"`
	LockTTL                 time.Duration `mapstructure:"lock_ttl"`
	StaleHeartbeatAfter     time.Duration `mapstructure:"stale_heartbeat_after"`
	Timezone                string        `mapstructure:"timezone"`
}

// DatabaseConfig selects and configures the store.
type DatabaseConfig struct {
	Driver   string `mapstructure:"driver"` // sqlite, postgres
	Path     string `mapstructure:"path"`
	DSN      string `mapstructure:"dsn"`
	MaxConns int    `mapstructure:"max_conns"`
}

// RedisConfig configures the optional lock and price cache.
type RedisConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	Prefix   string        `mapstructure:"prefix"`
	PriceTTL time.Duration `mapstructure:"price_ttl"`
}

// OracleConfig configures the decision oracle.
type OracleConfig struct {
	Model       string        `mapstructure:"model"`
	APIKey      string        `mapstructure:"api_key" json:"-"`
	BaseURL     string        `mapstructure:"base_url"`
	Timeout     time.Duration `mapstructure:"timeout"`
	Temperature float32       `mapstructure:"temperature"`
}

// BinanceConfig configures the futures market data client.
type BinanceConfig struct {
	BaseURL   string `mapstructure:"base_url"`
	APIKey    string `mapstructure:"api_key" json:"-"`
	APISecret string `mapstructure:"api_secret" json:"-"`
	Testnet   bool   `mapstructure:"testnet"`
}

// MonitorConfig configures the price monitor.
type MonitorConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Interval time.Duration `mapstructure:"interval"`
}

// LoggingConfig mirrors logging.LogConfig.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	File       bool   `mapstructure:"file"`
	FilePath   string `mapstructure:"file_path"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"`
}

// ReaderConfig declares one data reader.
type ReaderConfig struct {
	ID         string                 `mapstructure:"id"`
	Kind       string                 `mapstructure:"kind"`
	URL        string                 `mapstructure:"url"`
	Timeout    time.Duration          `mapstructure:"timeout"`
	Headers    map[string]string      `mapstructure:"headers"`
	Parameters map[string]interface{} `mapstructure:"parameters"`
}

// TraderConfig is a trader seed row.
type TraderConfig struct {
	ID                     string   `mapstructure:"id"`
	Name                   string   `mapstructure:"name"`
	Active                 bool     `mapstructure:"active"`
	Aggressiveness         int      `mapstructure:"aggressiveness"`
	MinLeverage            float64  `mapstructure:"min_leverage"`
	MaxLeverage            float64  `mapstructure:"max_leverage"`
	MaxConcurrentPositions int      `mapstructure:"max_concurrent_positions"`
	MinPositionSize        float64  `mapstructure:"min_position_size"`
	MaxPositionSize        float64  `mapstructure:"max_position_size"`
	MaxDrawdownPct         float64  `mapstructure:"max_drawdown_pct"`
	StopLossThresholdPct   float64  `mapstructure:"stop_loss_threshold_pct"`
	PositionStopLossPct    float64  `mapstructure:"position_stop_loss_pct"`
	PositionTakeProfitPct  float64  `mapstructure:"position_take_profit_pct"`
	MaxConsecutiveLosses   int      `mapstructure:"max_consecutive_losses"`
	DailyMaxLoss           float64  `mapstructure:"daily_max_loss"`
	AllowShort             bool     `mapstructure:"allow_short"`
	ActiveStart            string   `mapstructure:"active_start"`
	ActiveEnd              string   `mapstructure:"active_end"`
	HeartbeatInterval      int      `mapstructure:"heartbeat_interval"`
	TradingStrategy        string   `mapstructure:"trading_strategy"`
	HoldingPeriod          string   `mapstructure:"holding_period"`
	Symbol                 string   `mapstructure:"symbol"`
	Timeframes             []string `mapstructure:"timeframes"`
	Readers                []string `mapstructure:"readers"`
}

// DefaultConfigDir returns the default configuration directory.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".config/heartbeat-trader"
	}
	return filepath.Join(home, ".config", "heartbeat-trader")
}

// Path returns the config file path inside configDir.
func Path(configDir string) string {
	if configDir == "" {
		configDir = DefaultConfigDir()
	}
	return filepath.Join(configDir, "config.toml")
}

// Load loads config.toml from configDir. If configDir is empty, uses the
// default config directory. A missing file is replaced by a template and
// reported as an error.
func Load(configDir string) (*Config, error) {
	if configDir == "" {
		configDir = DefaultConfigDir()
	}

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("toml")
	v.AddConfigPath(configDir)
	setDefaults(v, configDir)

	v.SetEnvPrefix("HBT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil, createTemplateConfig(configDir)
		}
		return nil, fmt.Errorf("reading config.toml: %w", err)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decoding config.toml: %w", err)
	}
	cfg.Dir = configDir

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

// Default returns the configuration used when no file overrides anything.
func Default(configDir string) *Config {
	v := viper.New()
	setDefaults(v, configDir)
	cfg := &Config{}
	_ = v.Unmarshal(cfg)
	cfg.Dir = configDir
	return cfg
}

func setDefaults(v *viper.Viper, configDir string) {
	v.SetDefault("engine.fee_rate", 0.0005)
	v.SetDefault("engine.maintenance_margin_ratio", 0.005)
	v.SetDefault("engine.default_reader_timeout", 30*time.Second)
	v.SetDefault("engine.reader_concurrency", 8)
	v.SetDefault("engine.max_concurrent_heartbeats", 4)
	v.SetDefault("engine.mandatory_readers", []string{})
	v.SetDefault("engine.lock_ttl", 10*time.Minute)
	v.SetDefault("engine.stale_heartbeat_after", 30*time.Minute)
	v.SetDefault("engine.timezone", "UTC")

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", filepath.Join(configDir, "heartbeat.db"))
	v.SetDefault("database.max_conns", 10)

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.prefix", "hbt")
	v.SetDefault("redis.price_ttl", 30*time.Second)

	v.SetDefault("oracle.model", "gpt-4o-mini")
	v.SetDefault("oracle.timeout", 60*time.Second)
	v.SetDefault("oracle.temperature", 0.2)

	v.SetDefault("binance.base_url", "")
	v.SetDefault("binance.testnet", false)

	v.SetDefault("monitor.enabled", true)
	v.SetDefault("monitor.interval", 15*time.Second)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.file", true)
	v.SetDefault("logging.file_path", filepath.Join(configDir, "logs", "engine.log"))
	v.SetDefault("logging.max_size", 100)
	v.SetDefault("logging.max_backups", 7)
	v.SetDefault("logging.max_age", 30)
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("OPENAI_API_KEY"); v != "" && cfg.Oracle.APIKey == "" {
		cfg.Oracle.APIKey = v
	}
	if v := os.Getenv("OPENAI_BASE_URL"); v != "" && cfg.Oracle.BaseURL == "" {
		cfg.Oracle.BaseURL = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Database.Driver = "postgres"
		cfg.Database.DSN = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.Redis.Enabled = true
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("BINANCE_API_KEY"); v != "" {
		cfg.Binance.APIKey = v
	}
	if v := os.Getenv("BINANCE_API_SECRET"); v != "" {
		cfg.Binance.APISecret = v
	}
}

func invalid(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", apperrors.ErrConfigInvalid, fmt.Sprintf(format, args...))
}

// Validate returns the first configuration violation.
func (c *Config) Validate() error {
	if c.Engine.FeeRate < 0 || c.Engine.FeeRate >= 0.1 {
		return invalid("engine.fee_rate must be in [0, 0.1), got %g", c.Engine.FeeRate)
	}
	if c.Engine.MaintenanceMarginRatio < 0 || c.Engine.MaintenanceMarginRatio >= 1 {
		return invalid("engine.maintenance_margin_ratio must be in [0, 1), got %g", c.Engine.MaintenanceMarginRatio)
	}
	if c.Engine.DefaultReaderTimeout < 0 {
		return invalid("engine.default_reader_timeout must be non-negative")
	}
	if c.Engine.MaxConcurrentHeartbeats < 0 {
		return invalid("engine.max_concurrent_heartbeats must be non-negative")
	}
	if _, err := c.Location(); err != nil {
		return invalid("engine.timezone: %v", err)
	}

	switch c.Database.Driver {
	case "sqlite":
		if c.Database.Path == "" {
			return invalid("database.path is required for sqlite")
		}
	case "postgres":
		if c.Database.DSN == "" {
			return invalid("database.dsn is required for postgres")
		}
	default:
		return invalid("database.driver must be sqlite or postgres, got %q", c.Database.Driver)
	}

	if c.Redis.Enabled && c.Redis.Addr == "" {
		return invalid("redis.addr is required when redis is enabled")
	}
	if c.Monitor.Enabled && c.Monitor.Interval <= 0 {
		return invalid("monitor.interval must be positive")
	}

	readers := make(map[string]struct{}, len(c.Readers))
	for i, r := range c.Readers {
		if r.ID == "" {
			return invalid("readers[%d].id is required", i)
		}
		if _, dup := readers[r.ID]; dup {
			return invalid("duplicate reader id %q", r.ID)
		}
		readers[r.ID] = struct{}{}
		switch r.Kind {
		case ReaderKindHTTP:
			if r.URL == "" {
				return invalid("reader %q: url is required for http readers", r.ID)
			}
		case ReaderKindBinance:
		default:
			return invalid("reader %q: kind must be http or binance, got %q", r.ID, r.Kind)
		}
		if r.Timeout < 0 {
			return invalid("reader %q: timeout must be non-negative", r.ID)
		}
	}
	for _, id := range c.Engine.MandatoryReaders {
		if _, ok := readers[id]; !ok {
			return invalid("mandatory reader %q is not declared in [[readers]]", id)
		}
	}

	traders := make(map[string]struct{}, len(c.Traders))
	for _, tc := range c.Traders {
		t, err := tc.ToTrader()
		if err != nil {
			return invalid("trader %q: %v", tc.ID, err)
		}
		if _, dup := traders[t.ID]; dup {
			return invalid("duplicate trader id %q", t.ID)
		}
		traders[t.ID] = struct{}{}
		for _, id := range t.ReaderIDs {
			if _, ok := readers[id]; !ok {
				return invalid("trader %q references unknown reader %q", t.ID, id)
			}
		}
	}
	return nil
}

// Location returns the zone active hours are evaluated in.
func (c *Config) Location() (*time.Location, error) {
	if c.Engine.Timezone == "" {
		return time.UTC, nil
	}
	return time.LoadLocation(c.Engine.Timezone)
}

// Redacted returns a copy with credentials masked, for display.
func (c *Config) Redacted() *Config {
	out := *c
	out.Oracle.APIKey = security.MaskCredential(c.Oracle.APIKey)
	out.Binance.APIKey = security.MaskCredential(c.Binance.APIKey)
	out.Binance.APISecret = security.MaskCredential(c.Binance.APISecret)
	out.Redis.Password = security.MaskCredential(c.Redis.Password)
	out.Database.DSN = security.MaskString(c.Database.DSN)
	out.Readers = make([]ReaderConfig, len(c.Readers))
	for i, r := range c.Readers {
		r.Headers = security.MaskHeaders(r.Headers)
		r.URL = security.MaskString(r.URL)
		out.Readers[i] = r
	}
	return &out
}

// LogConfig converts the logging section.
func (c *Config) LogConfig() logging.LogConfig {
	return logging.LogConfig{
		Level:      c.Logging.Level,
		Console:    true,
		File:       c.Logging.File,
		FilePath:   c.Logging.FilePath,
		MaxSize:    c.Logging.MaxSize,
		MaxBackups: c.Logging.MaxBackups,
		MaxAge:     c.Logging.MaxAge,
	}
}

// ToTrader converts a seed row into a validated trader.
func (tc TraderConfig) ToTrader() (*models.Trader, error) {
	t := &models.Trader{
		ID:                     tc.ID,
		Name:                   tc.Name,
		Active:                 tc.Active,
		Aggressiveness:         tc.Aggressiveness,
		MinLeverage:            tc.MinLeverage,
		MaxLeverage:            tc.MaxLeverage,
		MaxConcurrentPositions: tc.MaxConcurrentPositions,
		MinPositionSize:        tc.MinPositionSize,
		MaxPositionSize:        tc.MaxPositionSize,
		MaxDrawdownPct:         tc.MaxDrawdownPct,
		StopLossThresholdPct:   tc.StopLossThresholdPct,
		PositionStopLossPct:    tc.PositionStopLossPct,
		PositionTakeProfitPct:  tc.PositionTakeProfitPct,
		MaxConsecutiveLosses:   tc.MaxConsecutiveLosses,
		DailyMaxLoss:           tc.DailyMaxLoss,
		AllowShort:             tc.AllowShort,
		HeartbeatInterval:      tc.HeartbeatInterval,
		TradingStrategy:        tc.TradingStrategy,
		HoldingPeriod:          tc.HoldingPeriod,
		Symbol:                 strings.ToUpper(tc.Symbol),
		Timeframes:             tc.Timeframes,
		ReaderIDs:              tc.Readers,
	}

	if tc.ActiveStart != "" || tc.ActiveEnd != "" {
		start, err := models.ParseTimeOfDay(tc.ActiveStart)
		if err != nil {
			return nil, err
		}
		end, err := models.ParseTimeOfDay(tc.ActiveEnd)
		if err != nil {
			return nil, err
		}
		t.ActiveHours = models.ActiveHours{Start: start, End: end}
	}

	if err := t.Validate(); err != nil {
		return nil, err
	}
	return t, nil
}
