package loadgen

import (
	"fmt"
	"io"
	"os"

	"github.com/okian/fanpulse/pkg/logger"
)

// SetupLogging initializes the global logger, mirroring output to logFile
// when it is set.
func SetupLogging(logFile, format string) error {
	var out io.Writer = os.Stdout
	if logFile != "" {
		f, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, receiptFilePermission)
		if err != nil {
			return fmt.Errorf("open log file: %w", err)
		}
		out = io.MultiWriter(os.Stdout, f)
	}
	if err := logger.Init(logger.WithFormat(format), logger.WithOutput(out)); err != nil {
		return fmt.Errorf("initialize logger: %w", err)
	}
	return nil
}

// ShowHelp prints usage information.
func ShowHelp() {
	os.Stdout.WriteString(`fanpulse load generator
=======================

Registers athletes, submits concurrent supports and verifies that every
athlete's cumulative earnings equal the athlete shares of their receipts.

Usage:
  go run ./cmd/loadgen [options]

Options:
  -url string        Base URL of the service (default "http://localhost:9080")
  -supports int      Number of supports to submit (default 10000)
  -athletes int      Number of athletes to register (default 20)
  -fans int          Number of distinct fan wallets (default 500)
  -workers int       Number of concurrent workers (default CPU cores * 2)
  -rps float         Submission rate limit, 0 for unlimited (default 0)
  -timeout duration  HTTP request timeout (default 30s)
  -output string     Write receipts to this JSON file
  -log string        Also write logs to this file
  -verbose           Enable verbose logging
  -help              Show this help message

Examples:
  go run ./cmd/loadgen -supports 50000 -workers 16
  go run ./cmd/loadgen -rps 200 -output receipts.json
`)
}
