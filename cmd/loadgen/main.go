package main

import (
	"context"
	"flag"
	"os"
	"runtime"
	"time"

	"github.com/okian/fanpulse/internal/loadgen"
	"github.com/okian/fanpulse/pkg/logger"
)

const (
	defaultSupports   = 10000
	defaultAthletes   = 20
	defaultFans       = 500
	defaultWorkers    = 2 // multiplier for runtime.NumCPU()
	defaultTimeout    = 30 * time.Second
	defaultRunTimeout = 10 * time.Minute
)

func main() {
	var (
		baseURL  = flag.String("url", "http://localhost:9080", "Base URL of the service")
		supports = flag.Int("supports", defaultSupports, "Number of supports to submit")
		athletes = flag.Int("athletes", defaultAthletes, "Number of athletes to register")
		fans     = flag.Int("fans", defaultFans, "Number of distinct fan wallets")
		workers  = flag.Int("workers", runtime.NumCPU()*defaultWorkers, "Number of concurrent workers")
		rps      = flag.Float64("rps", 0, "Submission rate limit, 0 for unlimited")
		timeout  = flag.Duration("timeout", defaultTimeout, "HTTP request timeout")
		output   = flag.String("output", "", "Write receipts to this JSON file")
		logFile  = flag.String("log", "", "Also write logs to this file")
		format   = flag.String("log-format", "text", "Log format: text or json")
		verbose  = flag.Bool("verbose", false, "Enable verbose logging")
		help     = flag.Bool("help", false, "Show help")
	)
	flag.Parse()

	if *help {
		loadgen.ShowHelp()
		return
	}

	if err := loadgen.SetupLogging(*logFile, *format); err != nil {
		os.Stderr.WriteString("failed to setup logging: " + err.Error() + "\n")
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), defaultRunTimeout)
	defer cancel()

	cfg := &loadgen.Config{
		BaseURL:     *baseURL,
		NumSupports: *supports,
		NumAthletes: *athletes,
		NumFans:     *fans,
		Workers:     *workers,
		RPS:         *rps,
		Timeout:     *timeout,
		OutputFile:  *output,
		Verbose:     *verbose,
	}
	if _, err := loadgen.Run(ctx, cfg); err != nil {
		logger.Get().Error(ctx, "load run failed", logger.Error(err))
		os.Exit(1)
	}
}
