package ledger

import (
	"errors"

	"github.com/okian/fanpulse/internal/domain/policy"
)

// Validation errors reject a request before anything is persisted.
var (
	ErrInvalidAmount   = errors.New("invalid amount")
	ErrInactiveAthlete = errors.New("athlete is inactive")
	ErrUnknownTier     = policy.ErrUnknownTier
	ErrInvalidRequest  = errors.New("invalid support request")
)

// Lookup and state errors.
var (
	ErrUnknownAthlete      = errors.New("unknown athlete")
	ErrUnknownFan          = errors.New("unknown fan")
	ErrAthleteExists       = errors.New("athlete already registered")
	ErrConcurrencyConflict = errors.New("concurrency conflict")
)
