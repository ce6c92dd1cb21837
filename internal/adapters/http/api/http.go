// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/okian/fanpulse/internal/domain/achievement"
	"github.com/okian/fanpulse/internal/domain/model"
	"github.com/okian/fanpulse/internal/domain/types"
)

const maxBodyBytes = 1 << 20

// Dependencies required by HTTP handlers. Using an interface bundle keeps
// the handler layer loosely coupled to implementations in other packages.
type Dependencies interface {
	SupportDependencies
	AthleteDependencies
	FanDependencies

	// GetReaction returns the collectible minted for a transaction.
	GetReaction(ctx context.Context, transactionID string) (model.ReactionRecord, error)
	// CancelDispatch cancels a dispatch task that has not been sent yet.
	CancelDispatch(ctx context.Context, taskID string) (model.DispatchTask, error)
}

// FanDependencies reads fan state and feeds fan events to the rule engine.
type FanDependencies interface {
	GetFan(ctx context.Context, fanID string) (model.Fan, error)
	GetAchievementProgress(ctx context.Context, fanID string) (achievement.Progress, error)
	TriggerAndSettle(ctx context.Context, fanID string, ev types.FanEvent) (types.SettleResponse, error)
}

// Server wires HTTP routes for the business API.
type Server struct {
	healthHandler      *HealthHandler
	statsHandler       *StatsHandler
	supportsHandler    *SupportsHandler
	athletesHandler    *AthletesHandler
	leaderboardHandler *LeaderboardHandler
	fansHandler        *FansHandler
	eventsHandler      *EventsHandler
	deps               Dependencies
}

// NewServer creates a new API server with all handlers. maxLimit caps
// GET /athletes?limit=N.
func NewServer(deps Dependencies, statsProvider StatsProvider, maxLimit int) *Server {
	return &Server{
		healthHandler:      NewHealthHandler(),
		statsHandler:       NewStatsHandler(statsProvider),
		supportsHandler:    NewSupportsHandler(deps),
		athletesHandler:    NewAthletesHandler(deps),
		leaderboardHandler: NewLeaderboardHandler(deps, maxLimit),
		fansHandler:        NewFansHandler(deps),
		eventsHandler:      NewEventsHandler(deps),
		deps:               deps,
	}
}

// Register attaches all HTTP routes to mux.
func (s *Server) Register(_ context.Context, mux *http.ServeMux) {
	mux.HandleFunc("/healthz", MetricsMiddleware(s.healthHandler.HandleHealth, "healthz"))
	mux.HandleFunc("/stats", MetricsMiddleware(s.statsHandler.HandleStats, "stats"))
	mux.HandleFunc("/supports", MetricsMiddleware(s.supportsHandler.HandlePostSupport, "supports"))
	mux.HandleFunc("/reactions/", MetricsMiddleware(s.handleGetReaction, "reactions"))
	mux.HandleFunc("/athletes", MetricsMiddleware(s.handleAthletes, "athletes"))
	mux.HandleFunc("/athletes/", MetricsMiddleware(s.athletesHandler.HandleAthlete, "athlete"))
	mux.HandleFunc("/fans/", MetricsMiddleware(s.handleFans, "fans"))
	mux.HandleFunc("/dispatches/", MetricsMiddleware(s.handleCancelDispatch, "dispatches"))
}

// handleAthletes serves GET /athletes?limit=N and POST /athletes.
func (s *Server) handleAthletes(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.leaderboardHandler.HandleGetLeaderboard(w, r)
	case http.MethodPost:
		s.athletesHandler.HandleRegister(w, r)
	default:
		http.NotFound(w, r)
	}
}

// handleFans routes /fans/{id}, /fans/{id}/achievements and /fans/{id}/events.
func (s *Server) handleFans(w http.ResponseWriter, r *http.Request) {
	fanID, rest, _ := strings.Cut(strings.TrimPrefix(r.URL.Path, "/fans/"), "/")
	if fanID == "" {
		writeError(w, http.StatusBadRequest, "bad_request", ErrBadRequest)
		return
	}
	switch rest {
	case "":
		s.fansHandler.HandleGetFan(w, r, fanID)
	case "achievements":
		s.fansHandler.HandleGetAchievements(w, r, fanID)
	case "events":
		s.eventsHandler.HandlePostEvent(w, r, fanID)
	default:
		http.NotFound(w, r)
	}
}

// handleGetReaction handles GET /reactions/{transaction_id}.
func (s *Server) handleGetReaction(w http.ResponseWriter, r *http.Request) {
	const op = "api.get_reaction"
	if r.Method != http.MethodGet {
		http.NotFound(w, r)
		return
	}
	txID, ok := pathParam(r.URL.Path, "/reactions/")
	if !ok {
		writeError(w, http.StatusBadRequest, "bad_request", NewKind(op, ErrBadRequest))
		return
	}
	rec, err := s.deps.GetReaction(r.Context(), txID)
	if err != nil {
		writeFailure(w, Wrap(op, err))
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// handleCancelDispatch handles DELETE /dispatches/{task_id}.
func (s *Server) handleCancelDispatch(w http.ResponseWriter, r *http.Request) {
	const op = "api.cancel_dispatch"
	if r.Method != http.MethodDelete {
		http.NotFound(w, r)
		return
	}
	taskID, ok := pathParam(r.URL.Path, "/dispatches/")
	if !ok {
		writeError(w, http.StatusBadRequest, "bad_request", NewKind(op, ErrBadRequest))
		return
	}
	task, err := s.deps.CancelDispatch(r.Context(), taskID)
	if err != nil {
		writeFailure(w, Wrap(op, err))
		return
	}
	writeJSON(w, http.StatusOK, task)
}

// pathParam extracts the single path segment following prefix.
func pathParam(path, prefix string) (string, bool) {
	p := strings.TrimPrefix(path, prefix)
	if p == "" || strings.Contains(p, "/") {
		return "", false
	}
	return p, true
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code string, err error) {
	msg := http.StatusText(status)
	if err != nil {
		msg = err.Error()
	}
	writeJSON(w, status, errorResponse{Code: code, Message: msg})
}

// writeFailure writes err with the status its kind maps to.
func writeFailure(w http.ResponseWriter, err error) {
	status, code := classify(err)
	writeError(w, status, code, err)
}

// decodeJSON reads a single JSON object from the request body.
func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("empty body")
		}
		return fmt.Errorf("decode body: %w", err)
	}
	return nil
}
