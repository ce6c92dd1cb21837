// Package loadgen drives a running fanpulse service over HTTP and checks
// that the ledger conserved every unit of value it was sent.
package loadgen

import (
	"time"

	"github.com/shopspring/decimal"
)

// Config holds configuration for a load run.
type Config struct {
	BaseURL     string        // Base URL of the service
	NumSupports int           // Number of supports to submit
	NumAthletes int           // Number of athletes to register
	NumFans     int           // Number of distinct fan wallets
	Workers     int           // Number of concurrent workers
	RPS         float64       // Submission rate limit, 0 for unlimited
	Timeout     time.Duration // HTTP request timeout
	OutputFile  string        // Output file for receipts
	Verbose     bool          // Enable verbose logging
}

// Support is one generated support request.
type Support struct {
	RequestID string          `json:"request_id"`
	FanID     string          `json:"fan_id"`
	AthleteID string          `json:"athlete_id"`
	Amount    decimal.Decimal `json:"amount"`
	Tier      string          `json:"tier"`
	Reaction  string          `json:"reaction,omitempty"`
}

// Receipt is the part of the support response the run verifies.
type Receipt struct {
	RequestID     string          `json:"request_id,omitempty"`
	TransactionID string          `json:"transaction_id"`
	AthleteID     string          `json:"athlete_id"`
	Amount        decimal.Decimal `json:"amount"`
	AthleteShare  decimal.Decimal `json:"athlete_share"`
	PlatformFee   decimal.Decimal `json:"platform_fee"`
	Duplicate     bool            `json:"duplicate"`
}

// Athlete is the part of the athlete resource the run verifies.
type Athlete struct {
	ID                 string          `json:"id"`
	Name               string          `json:"name"`
	Sport              string          `json:"sport"`
	CumulativeEarnings decimal.Decimal `json:"cumulative_earnings"`
	TransactionCount   int64           `json:"transaction_count"`
}

// Stats holds run statistics.
type Stats struct {
	SupportsGenerated  int
	SupportsSubmitted  int
	SupportsSuccessful int
	SupportsDuplicate  int
	SupportsFailed     int
	AthletesVerified   int
	StartTime          time.Time
	EndTime            time.Time
	Duration           time.Duration
}
