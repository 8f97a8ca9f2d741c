// Package handler contains chi HTTP handlers that translate command-layer
// requests/responses to and from the service layer.
package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/Shivanand-hulikatti/gift-exchange/internal/log"
	"github.com/Shivanand-hulikatti/gift-exchange/internal/model"
	"github.com/Shivanand-hulikatti/gift-exchange/internal/repository"
	"github.com/Shivanand-hulikatti/gift-exchange/internal/service"
	"github.com/Shivanand-hulikatti/gift-exchange/internal/solver"
)

// Identity headers set by the trusted command layer.
const (
	HeaderUserID   = "X-User-ID"
	HeaderUserName = "X-User-Name"
)

// EventHandler holds all HTTP handlers for the gift-exchange API.
type EventHandler struct {
	svc *service.EventService
}

// NewEventHandler constructs an EventHandler.
func NewEventHandler(svc *service.EventService) *EventHandler {
	return &EventHandler{svc: svc}
}

// ─── Helper utilities ─────────────────────────────────────────────────────────

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, model.ErrorResponse{Error: msg})
}

// decodeOptionalJSON decodes the body into dst. An empty body leaves dst
// untouched.
func decodeOptionalJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20) // 1 MB limit
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// caller reads the invoking user from the identity headers.
func caller(r *http.Request) (model.User, error) {
	raw := strings.TrimSpace(r.Header.Get(HeaderUserID))
	if raw == "" {
		return model.User{}, fmt.Errorf("missing %s header", HeaderUserID)
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return model.User{}, fmt.Errorf("invalid %s header", HeaderUserID)
	}
	return model.User{ID: model.UserID(id), DisplayName: r.Header.Get(HeaderUserName)}, nil
}

// writeServiceError maps service and storage errors onto HTTP statuses.
// Storage details are logged, never returned.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, service.ErrForbidden):
		writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, repository.ErrEventNotFound):
		writeError(w, http.StatusNotFound, "there is no event for this year yet")
	case errors.Is(err, repository.ErrEventExists):
		writeError(w, http.StatusConflict, "this year's event has already been opened")
	case errors.Is(err, repository.ErrEventClosed):
		writeError(w, http.StatusConflict, repository.ErrEventClosed.Error())
	case errors.Is(err, service.ErrDrawInProgress):
		writeError(w, http.StatusConflict, service.ErrDrawInProgress.Error())
	case errors.Is(err, solver.ErrNoValidAssignment):
		writeError(w, http.StatusUnprocessableEntity, "no valid assignment exists for the current participants")
	case errors.Is(err, repository.ErrStorageUnavailable):
		logRequestError(r, err)
		writeError(w, http.StatusServiceUnavailable, "sorry, the database is unavailable right now; try again later")
	default:
		logRequestError(r, err)
		writeError(w, http.StatusInternalServerError, "sorry, something went wrong")
	}
}

func logRequestError(r *http.Request, err error) {
	logger := log.WithComponent("http")
	logger.Error().Err(err).Str("method", r.Method).Str("path", r.URL.Path).Msg("request failed")
}

// ─── Handlers ─────────────────────────────────────────────────────────────────

// OpenEvent handles POST /events
// Opens the current year's event with the administrator as first participant.
func (h *EventHandler) OpenEvent(w http.ResponseWriter, r *http.Request) {
	actor, err := caller(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}

	res, err := h.svc.OpenEvent(r.Context(), actor)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, model.EventOpenResponse{
		EventOpenResult: res,
		Message:         "New event has begun!",
	})
}

// ToggleParticipation handles POST /events/current/participants
// Joins the caller to the current event, or removes them if already joined.
// A display_name in the body takes precedence over the name header.
func (h *EventHandler) ToggleParticipation(w http.ResponseWriter, r *http.Request) {
	user, err := caller(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}

	var req model.ToggleRequest
	if err := decodeOptionalJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.DisplayName != "" {
		user.DisplayName = req.DisplayName
	}

	change, err := h.svc.ToggleMembership(r.Context(), user.ID, user.DisplayName)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, model.ToggleResponse{
		ParticipationChange: change,
		Message:             change.String(),
	})
}

// LookupGiftee handles GET /events/current/giftee
// Returns the caller's giftee in the most recent event.
func (h *EventHandler) LookupGiftee(w http.ResponseWriter, r *http.Request) {
	user, err := caller(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}

	year, giftee, ok, err := h.svc.LookupMyGiftee(r.Context(), user.ID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	if !ok {
		writeJSON(w, http.StatusOK, model.GifteeResponse{
			EventID: year,
			Message: "No giftee found - are you a participant for this event?",
		})
		return
	}

	writeJSON(w, http.StatusOK, model.GifteeResponse{
		EventID:  year,
		GifteeID: &giftee,
		Message:  fmt.Sprintf("Your giftee is <@%d>", giftee),
	})
}

// DrawNames handles POST /events/current/draw
// Draws names for the current event and notifies every participant.
func (h *EventHandler) DrawNames(w http.ResponseWriter, r *http.Request) {
	actor, err := caller(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}

	res, err := h.svc.DrawNames(r.Context(), actor)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, res)
}

// ─── Health check ─────────────────────────────────────────────────────────────

// HealthCheck handles GET /health
func HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
