package api

import (
	"errors"
	"net/http"

	"github.com/okian/fanpulse/internal/adapters/mq/queue"
	"github.com/okian/fanpulse/internal/domain/achievement"
	"github.com/okian/fanpulse/internal/domain/ledger"
	"github.com/okian/fanpulse/internal/domain/reaction"
	"github.com/okian/fanpulse/internal/domain/settlement"
	"github.com/okian/fanpulse/internal/domain/types"
)

// Sentinel kinds for API errors.
var (
	ErrBadRequest = errors.New("bad request")
	ErrNotFound   = errors.New("not found")
)

// Error tags a failure with the handler operation that produced it.
type Error struct {
	Op   string
	Kind error
	Err  error
}

func (e *Error) Error() string {
	switch {
	case e.Err == nil:
		return e.Op + ": " + e.Kind.Error()
	case e.Kind == nil:
		return e.Op + ": " + e.Err.Error()
	default:
		return e.Op + ": " + e.Kind.Error() + ": " + e.Err.Error()
	}
}

func (e *Error) Unwrap() []error {
	errs := make([]error, 0, 2)
	if e.Kind != nil {
		errs = append(errs, e.Kind)
	}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

// WrapKind attaches op and kind to err.
func WrapKind(op string, kind, err error) error {
	return &Error{Op: op, Kind: kind, Err: err}
}

// NewKind returns an error of kind raised by op.
func NewKind(op string, kind error) error {
	return &Error{Op: op, Kind: kind}
}

// Wrap attaches op to err.
func Wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Op: op, Err: err}
}

// classify maps domain errors to a status and a stable error code.
func classify(err error) (int, string) {
	switch {
	case errors.Is(err, ledger.ErrInvalidAmount):
		return http.StatusBadRequest, "invalid_amount"
	case errors.Is(err, ledger.ErrUnknownTier):
		return http.StatusBadRequest, "unknown_tier"
	case errors.Is(err, ledger.ErrInactiveAthlete):
		return http.StatusBadRequest, "inactive_athlete"
	case errors.Is(err, ErrBadRequest),
		errors.Is(err, ledger.ErrInvalidRequest),
		errors.Is(err, achievement.ErrInvalidEvent):
		return http.StatusBadRequest, "bad_request"
	case errors.Is(err, ErrNotFound),
		errors.Is(err, ledger.ErrUnknownAthlete),
		errors.Is(err, ledger.ErrUnknownFan),
		errors.Is(err, reaction.ErrNotMinted),
		errors.Is(err, settlement.ErrUnknownTask):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, ledger.ErrConcurrencyConflict):
		return http.StatusConflict, "concurrency_conflict"
	case errors.Is(err, ledger.ErrAthleteExists):
		return http.StatusConflict, "athlete_exists"
	case errors.Is(err, types.ErrRequestInFlight):
		return http.StatusConflict, "request_in_flight"
	case errors.Is(err, types.ErrRequestMismatch):
		return http.StatusUnprocessableEntity, "request_mismatch"
	case errors.Is(err, settlement.ErrNotCancellable):
		return http.StatusConflict, "not_cancellable"
	case errors.Is(err, settlement.ErrStopped), errors.Is(err, queue.ErrClosed):
		return http.StatusServiceUnavailable, "unavailable"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}
