package main

import (
	"context"
	"fmt"

	"github.com/okian/fanpulse/internal/adapters/chain"
	"github.com/okian/fanpulse/internal/adapters/objectstore"
	"github.com/okian/fanpulse/internal/adapters/repository"
	sentimentclient "github.com/okian/fanpulse/internal/adapters/sentiment"
	app "github.com/okian/fanpulse/internal/app"
	"github.com/okian/fanpulse/internal/config"
	"github.com/okian/fanpulse/internal/domain/policy"
	"github.com/okian/fanpulse/internal/domain/settlement"
	"github.com/okian/fanpulse/pkg/logger"
)

// serviceOptions turns configuration into service options, opening the
// external adapters the configuration selects.
func serviceOptions(ctx context.Context, cfg *config.Config, log logger.Logger) ([]app.Option, error) {
	pol, err := policy.New(
		policy.WithVersion(cfg.PolicyVersion),
		policy.WithAthleteSharePercent(cfg.AthleteSharePercent),
		policy.WithTokenMultiplier(cfg.TokenMultiplier),
		policy.WithSharePrecision(cfg.SharePrecision),
	)
	if err != nil {
		return nil, fmt.Errorf("build policy: %w", err)
	}

	opts := []app.Option{
		app.WithLogger(log),
		app.WithPolicy(pol),
		app.WithWorkerCount(cfg.WorkerCount),
		app.WithQueueSize(cfg.QueueSize),
		app.WithDedupeSize(cfg.DedupeSize),
		app.WithMintChain(cfg.MintChain),
		app.WithExcerptLimit(cfg.ExcerptMaxRunes),
		app.WithLedgerMaxRetries(cfg.LedgerMaxRetries),
		app.WithSentimentTimeout(config.Millis(cfg.SentimentTimeoutMS)),
		app.WithSettleTimeout(config.Millis(cfg.SettleTimeoutMS)),
		app.WithSweepInterval(config.Millis(cfg.SweepIntervalMS)),
		app.WithBaseFees(cfg.BaseFees()),
		app.WithBridges(buildBridges(cfg, log)...),
		app.WithDispatchOptions(
			settlement.WithMaxAttempts(cfg.DispatchMaxAttempts),
			settlement.WithBackoffBase(config.Millis(cfg.DispatchBackoffBaseMS)),
			settlement.WithAttemptTimeout(config.Millis(cfg.DispatchAttemptTimeoutMS)),
			settlement.WithConfirmPollInterval(config.Millis(cfg.ConfirmPollIntervalMS)),
		),
	}

	if cfg.SentimentURL != "" {
		opts = append(opts, app.WithAnalyzer(sentimentclient.NewClient(cfg.SentimentURL, sentimentclient.WithLogger(log))))
		log.Info(ctx, "using remote sentiment service", logger.String("url", cfg.SentimentURL))
	}

	if cfg.MetadataBucket != "" {
		pub, err := objectstore.NewS3Publisher(ctx, objectstore.Settings{
			Bucket:          cfg.MetadataBucket,
			Endpoint:        cfg.MetadataEndpoint,
			Region:          cfg.MetadataRegion,
			AccessKeyID:     cfg.MetadataAccessKeyID,
			SecretAccessKey: cfg.MetadataSecretAccessKey,
			PublicBaseURL:   cfg.MetadataPublicBaseURL,
		})
		if err != nil {
			return nil, fmt.Errorf("metadata publisher: %w", err)
		}
		opts = append(opts, app.WithPublisher(pub))
	}

	if cfg.DatabaseURL != "" {
		store, err := repository.NewGormStore(ctx, cfg.DatabaseURL, repository.WithGormLogger(log))
		if err != nil {
			return nil, fmt.Errorf("open store: %w", err)
		}
		opts = append(opts, app.WithStore(store))
		log.Info(ctx, "using postgres store")
	}
	return opts, nil
}

// buildBridges returns one bridge per configured chain: an HTTP relayer when
// a bridge URL is set, the simulator otherwise.
func buildBridges(cfg *config.Config, log logger.Logger) []settlement.Bridge {
	fees := cfg.BaseFees()
	bridges := make([]settlement.Bridge, 0, len(cfg.Chains))
	for id, ch := range cfg.Chains {
		if ch.BridgeURL == "" {
			bridges = append(bridges, chain.NewSimulatedBridge(id, chain.WithBaseFee(fees[id])))
			continue
		}
		bridges = append(bridges, chain.NewHTTPBridge(id, ch.BridgeURL,
			chain.WithRateLimit(ch.RPS, ch.Burst),
			chain.WithLogger(log),
		))
	}
	return bridges
}
