package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// AchievementGrant records that a rule fired for a fan. Exactly one exists per
// (FanID, RuleID); it is never updated or deleted.
type AchievementGrant struct {
	ID             string    `json:"id"`
	FanID          string    `json:"fan_id"`
	RuleID         string    `json:"rule_id"`
	RuleSetVersion string    `json:"rule_set_version"`
	GrantedAt      time.Time `json:"granted_at"`
}

// DispatchStatus is the state of one (grant, chain) settlement.
type DispatchStatus string

// Dispatch states.
const (
	DispatchPending         DispatchStatus = "PENDING"
	DispatchDispatched      DispatchStatus = "DISPATCHED"
	DispatchConfirmed       DispatchStatus = "CONFIRMED"
	DispatchFailed          DispatchStatus = "FAILED"
	DispatchRetry           DispatchStatus = "RETRY"
	DispatchFailedPermanent DispatchStatus = "FAILED_PERMANENT"
	DispatchCancelled       DispatchStatus = "CANCELLED"
)

// Terminal reports whether no further transition is possible.
func (s DispatchStatus) Terminal() bool {
	switch s {
	case DispatchConfirmed, DispatchFailedPermanent, DispatchCancelled:
		return true
	default:
		return false
	}
}

// DispatchTask is a persisted unit of cross-chain reward settlement. Its ID is
// the idempotency key sent to the chain bridge.
type DispatchTask struct {
	ID            string          `json:"id"`
	GrantID       string          `json:"grant_id"`
	FanID         string          `json:"fan_id"`
	FanAddress    string          `json:"fan_address"`
	RuleID        string          `json:"rule_id"`
	ChainID       string          `json:"chain_id"`
	Asset         string          `json:"asset"`
	Amount        decimal.Decimal `json:"amount"`
	NativeFee     decimal.Decimal `json:"native_fee"`
	Status        DispatchStatus  `json:"status"`
	Attempts      int             `json:"attempts"`
	TxRef         string          `json:"tx_ref,omitempty"`
	LastError     string          `json:"last_error,omitempty"`
	NextAttemptAt time.Time       `json:"next_attempt_at"`
	Version       int64           `json:"-"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// DispatchKey builds the idempotency key for a (grant, chain) pair.
func DispatchKey(grantID, chainID string) string {
	return grantID + ":" + chainID
}
