package config

import (
	"fmt"
	"os"
	"path/filepath"
)

const configTemplate = `# Heartbeat Trader Configuration

[engine]
# Fee charged on open and close, as a fraction of position size (0.0005 = 0.05%)
fee_rate = 0.0005
# Maintenance margin ratio used for liquidation prices
maintenance_margin_ratio = 0.005
# Timeout for readers that do not set their own
default_reader_timeout = "30s"
# Parallel reader calls per timeframe
reader_concurrency = 8
# Heartbeats allowed to run at the same time across all traders
max_concurrent_heartbeats = 4
# Readers run for every trader
mandatory_readers = ["klines"]
# Lifetime of the cross-process heartbeat lock (redis only)
lock_ttl = "10m"
# In-progress heartbeats older than this are failed at startup
stale_heartbeat_after = "30m"
# Zone for active hours
timezone = "UTC"

[database]
# Driver: "sqlite" or "postgres"
driver = "sqlite"
# SQLite file (defaults to <config dir>/heartbeat.db)
# path = ""
# PostgreSQL connection string (or set DATABASE_URL)
dsn = ""
max_conns = 10

[redis]
enabled = false
addr = "localhost:6379"
password = ""
db = 0
prefix = "hbt"
price_ttl = "30s"

[oracle]
model = "gpt-4o-mini"
# API key (or set OPENAI_API_KEY)
api_key = ""
base_url = ""
timeout = "60s"
temperature = 0.2

[binance]
# Leave empty for the production futures endpoint
base_url = ""
api_key = ""
api_secret = ""
testnet = false

[monitor]
enabled = true
interval = "15s"

[logging]
level = "info"
file = true
max_size = 100
max_backups = 7
max_age = 30

[[readers]]
id = "klines"
kind = "binance"
timeout = "10s"
[readers.parameters]
limit = 100
tail = 20

# [[readers]]
# id = "sentiment"
# kind = "http"
# url = "http://localhost:8080/readers/sentiment"
# timeout = "20s"

[[traders]]
id = "btc-momentum"
name = "BTC momentum"
active = false
aggressiveness = 5
min_leverage = 2
max_leverage = 20
max_concurrent_positions = 3
min_position_size = 100
max_position_size = 5000
position_stop_loss_pct = 2
position_take_profit_pct = 4
max_consecutive_losses = 3
daily_max_loss = 500
allow_short = true
active_start = "00:00"
active_end = "00:00"
heartbeat_interval = 300
trading_strategy = "momentum"
holding_period = "intraday"
symbol = "BTCUSDT"
timeframes = ["15m", "1h", "4h"]
readers = ["klines"]
`

// WriteTemplate writes the config template into configDir and returns its path.
func WriteTemplate(configDir string) (string, error) {
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return "", fmt.Errorf("creating config directory: %w", err)
	}

	path := filepath.Join(configDir, "config.toml")
	// API keys may end up in this file
	if err := os.WriteFile(path, []byte(configTemplate), 0600); err != nil {
		return "", fmt.Errorf("writing config template: %w", err)
	}
	return path, nil
}

func createTemplateConfig(configDir string) error {
	path, err := WriteTemplate(configDir)
	if err != nil {
		return err
	}
	return fmt.Errorf("config file not found, created template at %s", path)
}
