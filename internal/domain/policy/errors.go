package policy

import "errors"

// Sentinel errors for policy lookups and construction.
var (
	ErrUnknownTier   = errors.New("unknown reaction tier")
	ErrInvalidPolicy = errors.New("invalid reward policy")
)
