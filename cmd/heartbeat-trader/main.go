// Command heartbeat-trader runs scheduled AI trading agents against a
// leveraged position engine.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"heartbeat-trader/internal/cli"
	"heartbeat-trader/internal/logging"
)

func main() {
	// .env is optional; real environment variables win
	envErr := godotenv.Load()

	// one-shot commands log to the console only; `run` switches to the configured file
	logCfg := logging.DefaultLogConfig()
	logCfg.File = false
	logger := logging.NewLoggerWithConfig(logCfg)
	if envErr != nil && !os.IsNotExist(envErr) {
		logger.Warn().Err(envErr).Msg("Failed to load .env")
	}

	if err := cli.NewRootCmd(logger).ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
