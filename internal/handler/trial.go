package handler

import (
	"net/http"

	"github.com/bianutri/backend/internal/domain"
	"github.com/bianutri/backend/internal/service"
)

// TrialHandler exposes trial accounting over HTTP.
type TrialHandler struct {
	svc *service.TrialService
}

// NewTrialHandler creates a new TrialHandler.
func NewTrialHandler(svc *service.TrialService) *TrialHandler {
	return &TrialHandler{svc: svc}
}

// Start handles POST /api/trial/start.
func (h *TrialHandler) Start(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUserID(r)
	if !ok {
		unauthorized(w)
		return
	}

	var req domain.StartTrialRequest
	if err := DecodeOptionalJSON(r, &req); err != nil {
		Error(w, err)
		return
	}
	if err := Validate(req); err != nil {
		Error(w, err)
		return
	}
	if err := authorizeTarget(userID, req.UserID); err != nil {
		Error(w, err)
		return
	}

	h.start(w, r, userID)
}

// Increment handles POST /api/trial/increment.
func (h *TrialHandler) Increment(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUserID(r)
	if !ok {
		unauthorized(w)
		return
	}

	var req domain.IncrementTrialRequest
	if err := DecodeJSON(r, &req); err != nil {
		Error(w, err)
		return
	}
	if err := Validate(req); err != nil {
		Error(w, err)
		return
	}
	if err := authorizeTarget(userID, req.UserID); err != nil {
		Error(w, err)
		return
	}

	h.increment(w, r, userID, req.Seconds)
}

// Action handles POST /api/trial, the single-endpoint form used by older
// clients: {"action": "start"|"increment", "user_id", "seconds"}.
func (h *TrialHandler) Action(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUserID(r)
	if !ok {
		unauthorized(w)
		return
	}

	var req domain.TrialActionRequest
	if err := DecodeJSON(r, &req); err != nil {
		Error(w, err)
		return
	}
	if err := Validate(req); err != nil {
		Error(w, err)
		return
	}
	if err := authorizeTarget(userID, req.UserID); err != nil {
		Error(w, err)
		return
	}

	switch req.Action {
	case "start":
		h.start(w, r, userID)
	case "increment":
		h.increment(w, r, userID, req.Seconds)
	default:
		Error(w, domain.ErrBadRequest("invalid action"))
	}
}

// Config handles GET /api/trial/config.
func (h *TrialHandler) Config(w http.ResponseWriter, r *http.Request) {
	JSON(w, http.StatusOK, h.svc.Config())
}

func (h *TrialHandler) start(w http.ResponseWriter, r *http.Request, userID string) {
	resp, err := h.svc.Start(r.Context(), userID)
	if err != nil {
		Error(w, err)
		return
	}
	JSON(w, http.StatusOK, resp)
}

func (h *TrialHandler) increment(w http.ResponseWriter, r *http.Request, userID string, seconds int) {
	resp, err := h.svc.Increment(r.Context(), userID, seconds)
	if err != nil {
		Error(w, err)
		return
	}
	JSON(w, http.StatusOK, resp)
}
