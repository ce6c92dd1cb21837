package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// SupportTransaction is an immutable record of one fan payment.
type SupportTransaction struct {
	ID            string          `json:"id"`
	FanID         string          `json:"fan_id"`
	AthleteID     string          `json:"athlete_id"`
	GrossAmount   decimal.Decimal `json:"gross_amount"`
	AthleteShare  decimal.Decimal `json:"athlete_share"`
	PlatformFee   decimal.Decimal `json:"platform_fee"`
	TokensAwarded decimal.Decimal `json:"tokens_awarded"`
	ReactionTier  string          `json:"reaction_tier"`
	PolicyVersion string          `json:"policy_version"`
	CreatedAt     time.Time       `json:"created_at"`
}

// SupportCommit is everything the ledger writes for one support, applied
// atomically by the store. The expected versions guard the counter rows.
type SupportCommit struct {
	Transaction            SupportTransaction
	Athlete                Athlete
	ExpectedAthleteVersion int64
	Fan                    Fan
	ExpectedFanVersion     int64
	// FirstSupport marks the fan's first-ever support to the athlete; the
	// store records the (fan, athlete) pair and rejects the commit with a
	// conflict if the pair already exists.
	FirstSupport bool
}

// SupportJob is the post-commit work for one support: minting the reaction,
// evaluating achievements and settling any rewards.
type SupportJob struct {
	Transaction  SupportTransaction `json:"transaction"`
	ReactionText string             `json:"reaction_text"`
	FanAddress   string             `json:"fan_address"`
	EnqueuedAt   time.Time          `json:"enqueued_at"`
}
