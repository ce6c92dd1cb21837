package settlement

import (
	"context"
	"fmt"

	"github.com/okian/fanpulse/pkg/logger"
	"github.com/shopspring/decimal"
)

// feeWordBytes is the payload unit fees are charged per.
const feeWordBytes = 32

// FeeEstimator prices a payload on a chain in the chain's native asset.
type FeeEstimator interface {
	Estimate(ctx context.Context, chainID string, payload []byte) (decimal.Decimal, error)
}

// TableEstimator charges baseFee(chain) × ceil(len(payload)/32).
type TableEstimator struct {
	baseFees map[string]decimal.Decimal
}

// NewTableEstimator copies baseFees.
func NewTableEstimator(baseFees map[string]decimal.Decimal) *TableEstimator {
	t := &TableEstimator{baseFees: make(map[string]decimal.Decimal, len(baseFees))}
	for chain, fee := range baseFees {
		t.baseFees[chain] = fee
	}
	return t
}

// Words returns ceil(size/32).
func Words(size int) int64 {
	if size <= 0 {
		return 0
	}
	return int64((size + feeWordBytes - 1) / feeWordBytes)
}

func (t *TableEstimator) Estimate(_ context.Context, chainID string, payload []byte) (decimal.Decimal, error) {
	base, ok := t.baseFees[chainID]
	if !ok {
		return decimal.Zero, fmt.Errorf("%w: %s", ErrUnknownChain, chainID)
	}
	return base.Mul(decimal.NewFromInt(Words(len(payload)))), nil
}

// OracleEstimator asks each chain's bridge for a live quote and falls back to
// another estimator when the oracle fails.
type OracleEstimator struct {
	bridges  map[string]Bridge
	fallback FeeEstimator
	log      logger.Logger
}

// NewOracleEstimator builds an estimator over bridges.
func NewOracleEstimator(bridges []Bridge, fallback FeeEstimator, log logger.Logger) *OracleEstimator {
	if log == nil {
		log = logger.Default()
	}
	o := &OracleEstimator{bridges: make(map[string]Bridge, len(bridges)), fallback: fallback, log: log.Named("fees")}
	for _, b := range bridges {
		o.bridges[b.ChainID()] = b
	}
	return o
}

func (o *OracleEstimator) Estimate(ctx context.Context, chainID string, payload []byte) (decimal.Decimal, error) {
	b, ok := o.bridges[chainID]
	if ok {
		fee, err := b.EstimateFee(ctx, payload)
		if err == nil {
			return fee, nil
		}
		o.log.Warn(ctx, "fee oracle failed, using table", logger.String("chain", chainID), logger.Error(err))
	}
	if o.fallback == nil {
		return decimal.Zero, fmt.Errorf("%w: %s", ErrUnknownChain, chainID)
	}
	return o.fallback.Estimate(ctx, chainID, payload)
}
