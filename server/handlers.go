package server

import (
	"net/http"
	"strconv"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ctfer-io/race-manager/global"
	errs "github.com/ctfer-io/race-manager/pkg/errors"
)

// RacerHeader lets a client name itself, so its calls can be followed in logs.
const RacerHeader = "X-Racer-Id"

// RaceResponse is the body returned by a race claim.
type RaceResponse struct {
	ID  string `json:"id"`
	Won bool   `json:"won"`
}

// ErrorResponse is the body returned on any failure.
type ErrorResponse struct {
	Error string `json:"error"`
}

func (s *Server) race(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	ctx := global.WithRacerID(r.Context(), racerID(r))

	won, err := s.Coordinator.Race(ctx, id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, RaceResponse{
		ID:  id,
		Won: won,
	})
}

func (s *Server) endRace(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	ctx := global.WithRacerID(r.Context(), racerID(r))

	async := false
	if v := r.URL.Query().Get("async"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			writeError(w, r, &errs.ErrValidationFailed{Reason: "invalid async parameter " + strconv.Quote(v)})
			return
		}
		async = b
	}

	if async {
		// The client does not wait for the reset, it outlives the request.
		_ = s.Coordinator.EndRaceAsync(ctx, id)
		w.WriteHeader(http.StatusAccepted)
		return
	}

	if err := s.Coordinator.EndRace(ctx, id); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func racerID(r *http.Request) string {
	if id := r.Header.Get(RacerHeader); id != "" {
		return id
	}
	return uuid.NewString()
}

func writeJSON(w http.ResponseWriter, r *http.Request, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		global.Log().Error(r.Context(), "writing response", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := statusFromError(err)
	msg := err.Error()
	if code == http.StatusInternalServerError {
		msg = (&errs.ErrInternal{Sub: err}).Error()
	}
	writeJSON(w, r, code, ErrorResponse{
		Error: msg,
	})
}
