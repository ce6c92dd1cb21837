package api

import (
	"errors"
	"net/http"

	"github.com/okian/fanpulse/internal/domain/achievement"
	"github.com/okian/fanpulse/internal/domain/types"
)

// EventsHandler feeds fan events to the rule engine and settles what they grant.
type EventsHandler struct {
	deps FanDependencies
}

// NewEventsHandler creates a new events handler.
func NewEventsHandler(deps FanDependencies) *EventsHandler {
	return &EventsHandler{deps: deps}
}

// HandlePostEvent handles POST /fans/{fan_id}/events requests.
func (h *EventsHandler) HandlePostEvent(w http.ResponseWriter, r *http.Request, fanID string) {
	const op = "api.post_event"
	if r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}
	var ev types.FanEvent
	if err := decodeJSON(r, &ev); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, err))
		return
	}
	if err := validateEvent(ev); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, err))
		return
	}

	resp, err := h.deps.TriggerAndSettle(r.Context(), fanID, ev)
	if err != nil {
		writeFailure(w, Wrap(op, err))
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func validateEvent(ev types.FanEvent) error {
	switch ev.Kind {
	case achievement.EventSupportRecorded, achievement.EventReactionMinted, achievement.EventShare, achievement.EventRally:
	case "":
		return errors.New("missing kind")
	default:
		return errors.New("unknown kind " + string(ev.Kind))
	}
	if ev.Amount.IsNegative() {
		return errors.New("amount must not be negative")
	}
	if ev.ViralityScore < 0 || ev.ViralityScore > 1 {
		return errors.New("virality_score must be within [0, 1]")
	}
	if ev.ShareCount < 0 || ev.ParticipantCount < 0 {
		return errors.New("counts must not be negative")
	}
	return nil
}
