package chain

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"

	"github.com/okian/fanpulse/internal/domain/settlement"
	"github.com/shopspring/decimal"
)

// SimulatedBridge settles in memory. It is deterministic: the txRef is
// derived from the idempotency key, so resubmits return the same reference.
type SimulatedBridge struct {
	chainID      string
	baseFee      decimal.Decimal
	confirmAfter int
	transient    int
	revert       bool

	mu      sync.Mutex
	submits map[string]string // idempotency key → txRef
	polls   map[string]int    // txRef → Confirm calls
}

// NewSimulatedBridge builds a simulator for chainID that confirms on the
// first poll.
func NewSimulatedBridge(chainID string, opts ...SimOption) *SimulatedBridge {
	s := &SimulatedBridge{
		chainID:      chainID,
		baseFee:      decimal.New(1, -5),
		confirmAfter: 1,
		submits:      make(map[string]string),
		polls:        make(map[string]int),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *SimulatedBridge) ChainID() string { return s.chainID }

func (s *SimulatedBridge) EstimateFee(_ context.Context, payload []byte) (decimal.Decimal, error) {
	return s.baseFee.Mul(decimal.NewFromInt(settlement.Words(len(payload)))), nil
}

func (s *SimulatedBridge) Submit(ctx context.Context, idempotencyKey string, _ []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if ref, ok := s.submits[idempotencyKey]; ok {
		return ref, nil
	}
	sum := sha256.Sum256([]byte(s.chainID + "|" + idempotencyKey))
	ref := "0x" + hex.EncodeToString(sum[:])
	s.submits[idempotencyKey] = ref
	return ref, nil
}

func (s *SimulatedBridge) Confirm(ctx context.Context, txRef string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.polls[txRef]++
	n := s.polls[txRef]
	switch {
	case s.revert:
		return false, fmt.Errorf("%w: %w: %s", settlement.ErrPermanent, ErrReverted, txRef)
	case n <= s.transient:
		return false, fmt.Errorf("%w: simulated outage on %s", ErrRelayer, s.chainID)
	default:
		return n-s.transient >= s.confirmAfter, nil
	}
}

// Submissions returns how many distinct settlements were accepted.
func (s *SimulatedBridge) Submissions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.submits)
}

var _ settlement.Bridge = (*SimulatedBridge)(nil)
