package loadgen

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/okian/fanpulse/pkg/logger"
)

const directoryPermission = 0o750

// Run registers athletes, submits supports, resends a sample of them and
// verifies that the service conserved value.
func Run(ctx context.Context, cfg *Config) (*Stats, error) {
	stats := &Stats{StartTime: time.Now()}
	log := logger.Get()
	log.Info(ctx, "starting fanpulse load run",
		logger.String("base_url", cfg.BaseURL),
		logger.Int("supports", cfg.NumSupports),
		logger.Int("athletes", cfg.NumAthletes),
		logger.Int("workers", cfg.Workers),
		logger.Duration("timeout", cfg.Timeout))

	client := NewClient(cfg.BaseURL, cfg.Timeout, cfg.RPS)
	if err := client.Health(ctx); err != nil {
		return stats, fmt.Errorf("service health check failed: %w", err)
	}

	athletes := generateAthletes(uuid.NewString()[:8], max(cfg.NumAthletes, 1))
	for _, a := range athletes {
		if _, err := client.RegisterAthlete(ctx, a); err != nil {
			return stats, fmt.Errorf("register athlete %s: %w", a.ID, err)
		}
	}

	supports := generateSupports(ctx, cfg, athletes, stats)
	receipts := submitSupports(ctx, cfg, client, supports, stats)

	originals := make(map[string]Receipt, len(receipts))
	for _, r := range receipts {
		originals[r.RequestID] = r
	}
	replays := make(map[string]Receipt)
	for i, s := range supports {
		if i%replayDivisor != 0 {
			continue
		}
		r, err := client.Support(ctx, s)
		if err != nil {
			log.Warn(ctx, "replay failed", logger.String("request_id", s.RequestID), logger.Error(err))
			continue
		}
		replays[s.RequestID] = r
	}

	verr := errors.Join(
		verifyReceipts(receipts),
		verifyReplays(originals, replays),
		verifyConservation(ctx, client, athletes, receipts, stats),
	)

	if cfg.OutputFile != "" {
		if err := saveReceipts(cfg.OutputFile, receipts); err != nil {
			log.Warn(ctx, "failed to save receipts", logger.Error(err))
		}
	}

	stats.EndTime = time.Now()
	stats.Duration = stats.EndTime.Sub(stats.StartTime)
	displayFinalStats(ctx, stats)

	if verr != nil {
		return stats, verr
	}
	log.Info(ctx, "load run completed successfully")
	return stats, nil
}

// saveReceipts writes receipts as a JSON array.
func saveReceipts(filename string, receipts []Receipt) error {
	if dir := filepath.Dir(filename); dir != "." {
		if err := os.MkdirAll(dir, directoryPermission); err != nil {
			return fmt.Errorf("create directory: %w", err)
		}
	}
	data, err := json.MarshalIndent(receipts, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal receipts: %w", err)
	}
	return os.WriteFile(filename, data, receiptFilePermission)
}

func displayFinalStats(ctx context.Context, stats *Stats) {
	var successRate, perSecond float64
	if stats.SupportsSubmitted > 0 {
		successRate = float64(stats.SupportsSuccessful) / float64(stats.SupportsSubmitted) * percentageMultiplier
	}
	if stats.Duration > 0 {
		perSecond = float64(stats.SupportsSubmitted) / stats.Duration.Seconds()
	}
	logger.Get().Info(ctx, "final statistics",
		logger.Int("supports_generated", stats.SupportsGenerated),
		logger.Int("supports_submitted", stats.SupportsSubmitted),
		logger.Int("supports_successful", stats.SupportsSuccessful),
		logger.Int("supports_duplicate", stats.SupportsDuplicate),
		logger.Int("supports_failed", stats.SupportsFailed),
		logger.Int("athletes_verified", stats.AthletesVerified),
		logger.Duration("duration", stats.Duration),
		logger.Float64("success_rate", successRate),
		logger.Float64("supports_per_second", perSecond))
}
