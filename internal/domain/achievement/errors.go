package achievement

import "errors"

var (
	// ErrUnknownTrigger is reported for rules whose trigger has no condition.
	ErrUnknownTrigger = errors.New("unknown trigger")
	// ErrInvalidEvent rejects events without a fan.
	ErrInvalidEvent = errors.New("invalid event")
)
