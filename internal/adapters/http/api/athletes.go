package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/okian/fanpulse/internal/domain/model"
	"github.com/okian/fanpulse/internal/domain/types"
)

// AthleteDependencies defines the interface for athlete operations.
type AthleteDependencies interface {
	LeaderboardDependencies
	RegisterAthlete(ctx context.Context, req types.AthleteRequest) (model.Athlete, error)
	SetAthleteActive(ctx context.Context, athleteID string, active bool) (model.Athlete, error)
	GetAthlete(ctx context.Context, athleteID string) (model.Athlete, error)
}

// AthletesHandler handles athlete requests.
type AthletesHandler struct {
	deps AthleteDependencies
}

// NewAthletesHandler creates a new athletes handler.
func NewAthletesHandler(deps AthleteDependencies) *AthletesHandler {
	return &AthletesHandler{deps: deps}
}

// HandleRegister handles POST /athletes requests.
func (h *AthletesHandler) HandleRegister(w http.ResponseWriter, r *http.Request) {
	const op = "api.register_athlete"
	var req types.AthleteRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, err))
		return
	}
	a, err := h.deps.RegisterAthlete(r.Context(), req)
	if err != nil {
		writeFailure(w, Wrap(op, err))
		return
	}
	writeJSON(w, http.StatusCreated, a)
}

// HandleAthlete handles GET and PATCH /athletes/{athlete_id} requests.
func (h *AthletesHandler) HandleAthlete(w http.ResponseWriter, r *http.Request) {
	const op = "api.athlete"
	id, ok := pathParam(r.URL.Path, "/athletes/")
	if !ok {
		writeError(w, http.StatusBadRequest, "bad_request", NewKind(op, ErrBadRequest))
		return
	}

	var (
		a   model.Athlete
		err error
	)
	switch r.Method {
	case http.MethodGet:
		a, err = h.deps.GetAthlete(r.Context(), id)
	case http.MethodPatch:
		var body types.AthleteStatus
		if err := decodeJSON(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, err))
			return
		}
		if body.Active == nil {
			writeError(w, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, errors.New("missing is_active")))
			return
		}
		a, err = h.deps.SetAthleteActive(r.Context(), id, *body.Active)
	default:
		http.NotFound(w, r)
		return
	}
	if err != nil {
		writeFailure(w, Wrap(op, err))
		return
	}
	writeJSON(w, http.StatusOK, a)
}
