// Package logging provides structured logging functionality.
package logging

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

// LogConfig holds logging configuration.
type LogConfig struct {
	Level      string
	Console    bool
	File       bool
	FilePath   string
	MaxSize    int // megabytes
	MaxBackups int
	MaxAge     int // days
}

// DefaultLogConfig returns the default logging configuration.
func DefaultLogConfig() LogConfig {
	home, _ := os.UserHomeDir()
	return LogConfig{
		Level:      "info",
		Console:    true,
		File:       true,
		FilePath:   filepath.Join(home, ".config", "heartbeat-trader", "logs", "engine.log"),
		MaxSize:    100,
		MaxBackups: 7,
		MaxAge:     30,
	}
}

// levelTags are the coloured console tags per level.
var levelTags = map[string]string{
	"debug": "\033[36mDBG\033[0m",
	"info":  "\033[32mINF\033[0m",
	"warn":  "\033[33mWRN\033[0m",
	"error": "\033[31mERR\033[0m",
}

func consoleWriter() io.Writer {
	return zerolog.ConsoleWriter{
		Out:        os.Stderr,
		TimeFormat: time.RFC3339,
		FormatLevel: func(i interface{}) string {
			ll, ok := i.(string)
			if !ok {
				return "???"
			}
			if tag, ok := levelTags[ll]; ok {
				return tag
			}
			return ll
		},
	}
}

// rotatingWriter returns nil when the log directory cannot be created.
func rotatingWriter(cfg LogConfig) io.Writer {
	if err := os.MkdirAll(filepath.Dir(cfg.FilePath), 0755); err != nil {
		return nil
	}
	return &lumberjack.Logger{
		Filename:   cfg.FilePath,
		MaxSize:    cfg.MaxSize,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAge,
		Compress:   true,
	}
}

// NewLoggerWithConfig builds the process logger: coloured console output,
// a rotating file, or both. It also sets the global level.
func NewLoggerWithConfig(cfg LogConfig) zerolog.Logger {
	var writers []io.Writer
	if cfg.Console {
		writers = append(writers, consoleWriter())
	}
	if cfg.File && cfg.FilePath != "" {
		if w := rotatingWriter(cfg); w != nil {
			writers = append(writers, w)
		}
	}

	var out io.Writer = os.Stderr
	if len(writers) == 1 {
		out = writers[0]
	} else if len(writers) > 1 {
		out = zerolog.MultiLevelWriter(writers...)
	}

	zerolog.SetGlobalLevel(ParseLevel(cfg.Level))
	return zerolog.New(out).With().Timestamp().Logger()
}

// ParseLevel maps a level name to a zerolog level, defaulting to info.
func ParseLevel(level string) zerolog.Level {
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil || lvl == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return lvl
}

// SetDebugLevel lowers the global level to debug.
func SetDebugLevel() {
	zerolog.SetGlobalLevel(zerolog.DebugLevel)
}

// WithLogger stores logger in ctx.
func WithLogger(ctx context.Context, logger zerolog.Logger) context.Context {
	return logger.WithContext(ctx)
}

// FromContext returns the logger stored in ctx, or a disabled logger.
func FromContext(ctx context.Context) zerolog.Logger {
	return *zerolog.Ctx(ctx)
}

// WithTrader adds a trader ID to the logger context.
func WithTrader(logger zerolog.Logger, traderID string) zerolog.Logger {
	return logger.With().Str("trader_id", traderID).Logger()
}

// WithHeartbeat adds a heartbeat ID to the logger context.
func WithHeartbeat(logger zerolog.Logger, heartbeatID string) zerolog.Logger {
	return logger.With().Str("heartbeat_id", heartbeatID).Logger()
}

// WithPosition adds a position ID to the logger context.
func WithPosition(logger zerolog.Logger, positionID string) zerolog.Logger {
	return logger.With().Str("position_id", positionID).Logger()
}

// LogHeartbeat logs the terminal state of a heartbeat.
func LogHeartbeat(logger zerolog.Logger, status string, duration time.Duration, errMsg string) {
	event := logger.Info()
	if errMsg != "" {
		event = logger.Error().Str("error", errMsg)
	}
	event.
		Str("event", "heartbeat").
		Str("status", status).
		Dur("duration", duration).
		Msg("Heartbeat finished")
}

// LogDecision logs an oracle decision.
func LogDecision(logger zerolog.Logger, scope, action string, confidence float64, reasoning string) {
	logger.Info().
		Str("event", "decision").
		Str("scope", scope).
		Str("action", action).
		Float64("confidence", confidence).
		Str("reasoning", reasoning).
		Msg("Decision received")
}

// LogPosition logs a position lifecycle event.
func LogPosition(logger zerolog.Logger, action, symbol, side string, quantity, price, pnl float64) {
	logger.Info().
		Str("event", "position").
		Str("action", action).
		Str("symbol", symbol).
		Str("side", side).
		Float64("quantity", quantity).
		Float64("price", price).
		Float64("pnl", pnl).
		Msg("Position updated")
}

// LogReaderCall logs one reader invocation.
func LogReaderCall(logger zerolog.Logger, readerID, timeframe string, duration time.Duration, err error) {
	event := logger.Debug().
		Str("event", "reader_call").
		Str("reader_id", readerID).
		Str("timeframe", timeframe).
		Dur("duration", duration)

	if err != nil {
		event.Err(err).Msg("Reader call failed")
	} else {
		event.Msg("Reader call completed")
	}
}

// LogLeverageClamp warns that a requested leverage was pulled into the trader's bounds.
func LogLeverageClamp(logger zerolog.Logger, requested, applied, lo, hi float64) {
	logger.Warn().
		Str("event", "leverage_clamp").
		Float64("requested", requested).
		Float64("applied", applied).
		Float64("min_leverage", lo).
		Float64("max_leverage", hi).
		Msg("Leverage outside trader bounds, clamped")
}
