// Package model contains domain models passed between layers.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Athlete is a supported athlete and their cumulative counters.
type Athlete struct {
	ID                 string          `json:"id"`
	Name               string          `json:"name"`
	Sport              string          `json:"sport"`
	CumulativeEarnings decimal.Decimal `json:"cumulative_earnings"`
	FanCount           int64           `json:"fan_count"`
	TransactionCount   int64           `json:"transaction_count"`
	IsActive           bool            `json:"is_active"`
	Version            int64           `json:"-"`
	CreatedAt          time.Time       `json:"created_at"`
	UpdatedAt          time.Time       `json:"updated_at"`
}

// Fan is a supporter identified by their wallet address.
type Fan struct {
	ID                    string          `json:"id"`
	CumulativeContributed decimal.Decimal `json:"cumulative_contributed"`
	RewardTokenBalance    decimal.Decimal `json:"reward_token_balance"`
	SupportCount          int64           `json:"support_count"`
	Version               int64           `json:"-"`
	CreatedAt             time.Time       `json:"created_at"`
	UpdatedAt             time.Time       `json:"updated_at"`
}

// NewFan returns a zero-balance fan.
func NewFan(id string, now time.Time) Fan {
	return Fan{
		ID:                    id,
		CumulativeContributed: decimal.Zero,
		RewardTokenBalance:    decimal.Zero,
		CreatedAt:             now,
		UpdatedAt:             now,
	}
}
