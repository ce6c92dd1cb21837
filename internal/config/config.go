// Package config defines service configuration and how it is loaded.
package config

import (
	"fmt"
	"runtime"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// ChainConfig configures one settlement chain.
type ChainConfig struct {
	// BaseFee is the native fee per 32-byte payload word, as a decimal string.
	BaseFee string `koanf:"base_fee"`
	// BridgeURL is the relayer base URL. Empty selects the in-process simulator.
	BridgeURL string `koanf:"bridge_url"`
	// RPS and Burst bound relayer requests.
	RPS   float64 `koanf:"rps"`
	Burst int     `koanf:"burst"`
}

// Config contains process configuration.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`
	// LogFormat is "text" or "json".
	LogFormat string `koanf:"log_format"`

	// Addr configures the HTTP listen address, e.g. ":8080".
	Addr string `koanf:"addr"`

	// QueueSize bounds the post-commit job queue.
	QueueSize int `koanf:"queue_size"`
	// WorkerCount sets the number of post-commit workers.
	WorkerCount int `koanf:"worker_count"`
	// DedupeSize bounds the request idempotency cache.
	DedupeSize int `koanf:"dedupe_size"`
	// MaxAthleteLimit caps GET /athletes?limit.
	MaxAthleteLimit int `koanf:"max_athlete_limit"`

	// Reward policy.
	PolicyVersion       string `koanf:"policy_version"`
	AthleteSharePercent int    `koanf:"athlete_share_percent"`
	TokenMultiplier     int64  `koanf:"token_multiplier"`
	SharePrecision      int32  `koanf:"share_precision"`

	// Reaction minting.
	ExcerptMaxRunes int    `koanf:"excerpt_max_runes"`
	MintChain       string `koanf:"mint_chain"`

	// LedgerMaxRetries bounds optimistic-concurrency retries per support.
	LedgerMaxRetries int `koanf:"ledger_max_retries"`

	// Dispatch policy.
	DispatchMaxAttempts      int `koanf:"dispatch_max_attempts"`
	DispatchBackoffBaseMS    int `koanf:"dispatch_backoff_base_ms"`
	DispatchAttemptTimeoutMS int `koanf:"dispatch_attempt_timeout_ms"`
	ConfirmPollIntervalMS    int `koanf:"confirm_poll_interval_ms"`
	SweepIntervalMS          int `koanf:"sweep_interval_ms"`
	SettleTimeoutMS          int `koanf:"settle_timeout_ms"`

	// Sentiment scoring. An empty URL selects the in-process lexicon analyzer.
	SentimentURL       string `koanf:"sentiment_url"`
	SentimentTimeoutMS int    `koanf:"sentiment_timeout_ms"`

	// Chains maps chain ids to their settlement settings.
	Chains map[string]ChainConfig `koanf:"chains"`

	// DatabaseURL selects Postgres; empty keeps everything in memory.
	DatabaseURL string `koanf:"database_url"`

	// Metadata publishing. An empty bucket disables publishing.
	MetadataBucket          string `koanf:"metadata_bucket"`
	MetadataEndpoint        string `koanf:"metadata_endpoint"`
	MetadataRegion          string `koanf:"metadata_region"`
	MetadataAccessKeyID     string `koanf:"metadata_access_key_id"`
	MetadataSecretAccessKey string `koanf:"metadata_secret_access_key"`
	MetadataPublicBaseURL   string `koanf:"metadata_public_base_url"`
}

// DefaultChains returns the chains the default rule set pays out on.
func DefaultChains() map[string]ChainConfig {
	return map[string]ChainConfig{
		"base":     {BaseFee: "0.00002", RPS: 20, Burst: 40},
		"polygon":  {BaseFee: "0.0004", RPS: 20, Burst: 40},
		"arbitrum": {BaseFee: "0.00001", RPS: 20, Burst: 40},
	}
}

// New creates a Config holding the defaults.
func New() *Config {
	return &Config{
		LogLevel:                 "info",
		LogFormat:                "text",
		Addr:                     ":9080",
		QueueSize:                10_000,
		WorkerCount:              runtime.NumCPU() * 4,
		DedupeSize:               50_000,
		MaxAthleteLimit:          100,
		PolicyVersion:            "v1",
		AthleteSharePercent:      80,
		TokenMultiplier:          1000,
		SharePrecision:           0,
		ExcerptMaxRunes:          140,
		MintChain:                "base",
		LedgerMaxRetries:         5,
		DispatchMaxAttempts:      5,
		DispatchBackoffBaseMS:    2000,
		DispatchAttemptTimeoutMS: 30_000,
		ConfirmPollIntervalMS:    500,
		SweepIntervalMS:          15_000,
		SettleTimeoutMS:          10_000,
		SentimentTimeoutMS:       800,
		Chains:                   DefaultChains(),
	}
}

// Validate checks ranges and cross-field constraints.
func (c *Config) Validate() error {
	var problems []string
	if c.Addr == "" {
		problems = append(problems, "addr must not be empty")
	}
	if c.AthleteSharePercent < 0 || c.AthleteSharePercent > 100 {
		problems = append(problems, "athlete_share_percent must be within [0,100]")
	}
	if c.TokenMultiplier <= 0 {
		problems = append(problems, "token_multiplier must be positive")
	}
	if c.SharePrecision < 0 {
		problems = append(problems, "share_precision must not be negative")
	}
	if c.QueueSize <= 0 {
		problems = append(problems, "queue_size must be positive")
	}
	if c.DispatchMaxAttempts <= 0 {
		problems = append(problems, "dispatch_max_attempts must be positive")
	}
	if len(c.Chains) == 0 {
		problems = append(problems, "at least one chain must be configured")
	}
	for id, ch := range c.Chains {
		if _, err := decimal.NewFromString(ch.BaseFee); err != nil {
			problems = append(problems, fmt.Sprintf("chains.%s.base_fee %q is not a decimal", id, ch.BaseFee))
		}
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(problems, "; "))
	}
	return nil
}

// BaseFees returns the per-chain base fees. Call after Validate.
func (c *Config) BaseFees() map[string]decimal.Decimal {
	out := make(map[string]decimal.Decimal, len(c.Chains))
	for id, ch := range c.Chains {
		out[id] = decimal.RequireFromString(ch.BaseFee)
	}
	return out
}

// Millis converts a millisecond setting to a duration.
func Millis(ms int) time.Duration { return time.Duration(ms) * time.Millisecond }
