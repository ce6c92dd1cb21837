// Package types contains request and response shapes shared by the HTTP
// layer and the application service.
package types

import (
	"errors"
	"strings"
	"time"

	"github.com/okian/fanpulse/internal/domain/achievement"
	"github.com/okian/fanpulse/internal/domain/model"
	"github.com/okian/fanpulse/internal/domain/settlement"
	"github.com/shopspring/decimal"
)

// ErrRequestInFlight is returned when a support with the same request id is
// still being recorded.
var ErrRequestInFlight = errors.New("request already in flight")

// ErrRequestMismatch is returned when a fan reuses a request id for a
// different support.
var ErrRequestMismatch = errors.New("request id reused with a different support")

// SupportRequest is the body of POST /supports.
type SupportRequest struct {
	// RequestID is an optional client idempotency key.
	RequestID  string          `json:"request_id,omitempty"`
	FanID      string          `json:"fan_id"`
	AthleteID  string          `json:"athlete_id"`
	Amount     decimal.Decimal `json:"amount"`
	Tier       string          `json:"tier"`
	Reaction   string          `json:"reaction,omitempty"`
	FanAddress string          `json:"fan_address,omitempty"`
}

// Validate checks the fields the ledger does not.
func (r SupportRequest) Validate() error {
	switch {
	case strings.TrimSpace(r.FanID) == "":
		return errors.New("missing fan_id")
	case strings.TrimSpace(r.AthleteID) == "":
		return errors.New("missing athlete_id")
	case strings.TrimSpace(r.Tier) == "":
		return errors.New("missing tier")
	}
	return nil
}

// Address is where the fan's rewards are paid: FanAddress when given,
// otherwise the fan id, which is a wallet address.
func (r SupportRequest) Address() string {
	if a := strings.TrimSpace(r.FanAddress); a != "" {
		return a
	}
	return r.FanID
}

// IdempotencyKey scopes RequestID to the fan. It is empty when the request
// carries no RequestID.
func (r SupportRequest) IdempotencyKey() string {
	id := strings.TrimSpace(r.RequestID)
	if id == "" {
		return ""
	}
	return strings.TrimSpace(r.FanID) + "|" + id
}

// SupportReceipt is the synchronous result of recording a support.
type SupportReceipt struct {
	TransactionID string          `json:"transaction_id"`
	FanID         string          `json:"fan_id"`
	AthleteID     string          `json:"athlete_id"`
	Amount        decimal.Decimal `json:"amount"`
	AthleteShare  decimal.Decimal `json:"athlete_share"`
	PlatformFee   decimal.Decimal `json:"platform_fee"`
	TokensAwarded decimal.Decimal `json:"tokens_awarded"`
	Tier          string          `json:"tier"`
	PolicyVersion string          `json:"policy_version"`
	Duplicate     bool            `json:"duplicate"`
	CreatedAt     time.Time       `json:"created_at"`
}

// ReceiptFor builds the receipt of a committed transaction.
func ReceiptFor(tx model.SupportTransaction) SupportReceipt {
	return SupportReceipt{
		TransactionID: tx.ID,
		FanID:         tx.FanID,
		AthleteID:     tx.AthleteID,
		Amount:        tx.GrossAmount,
		AthleteShare:  tx.AthleteShare,
		PlatformFee:   tx.PlatformFee,
		TokensAwarded: tx.TokensAwarded,
		Tier:          tx.ReactionTier,
		PolicyVersion: tx.PolicyVersion,
		CreatedAt:     tx.CreatedAt,
	}
}

// Matches reports whether req describes the support this receipt records.
func (r SupportReceipt) Matches(req SupportRequest) bool {
	return r.AthleteID == strings.TrimSpace(req.AthleteID) &&
		r.Amount.Equal(req.Amount) &&
		strings.EqualFold(r.Tier, strings.TrimSpace(req.Tier))
}

// AthleteRequest is the body of POST /athletes.
type AthleteRequest struct {
	ID    string `json:"id,omitempty"`
	Name  string `json:"name"`
	Sport string `json:"sport"`
}

// AthleteStatus is the body of PATCH /athletes/{id}.
type AthleteStatus struct {
	Active *bool `json:"is_active"`
}

// FanEvent is the body of POST /fans/{id}/events.
type FanEvent struct {
	Kind             achievement.EventKind `json:"kind"`
	TransactionID    string                `json:"transaction_id,omitempty"`
	Amount           decimal.Decimal       `json:"amount"`
	ViralityScore    float64               `json:"virality_score"`
	ShareCount       int                   `json:"share_count"`
	ParticipantCount int                   `json:"participant_count"`
	FanAddress       string                `json:"fan_address,omitempty"`
}

// Event converts e into the rule engine's event for fanID.
func (e FanEvent) Event(fanID string, now time.Time) achievement.Event {
	return achievement.Event{
		Kind:             e.Kind,
		FanID:            fanID,
		TransactionID:    e.TransactionID,
		Amount:           e.Amount,
		ViralityScore:    e.ViralityScore,
		ShareCount:       e.ShareCount,
		ParticipantCount: e.ParticipantCount,
		OccurredAt:       now,
	}
}

// GrantSettlement is one grant and its per-chain outcome.
type GrantSettlement struct {
	settlement.Result
	// Replayed marks grants that existed before this event.
	Replayed bool `json:"replayed"`
}

// SettleResponse answers POST /fans/{id}/events.
type SettleResponse struct {
	FanID  string            `json:"fan_id"`
	Grants []GrantSettlement `json:"grants"`
}
