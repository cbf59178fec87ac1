package handler

import (
	"net/http"

	"github.com/bianutri/backend/internal/domain"
	"github.com/bianutri/backend/internal/service"
)

// ProfileHandler serves the caller's profile and phone registration.
type ProfileHandler struct {
	svc *service.ProfileService
}

func NewProfileHandler(svc *service.ProfileService) *ProfileHandler {
	return &ProfileHandler{svc: svc}
}

// Get handles GET /api/profile.
func (h *ProfileHandler) Get(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUserID(r)
	if !ok {
		unauthorized(w)
		return
	}

	resp, err := h.svc.Get(r.Context(), userID)
	if err != nil {
		Error(w, err)
		return
	}
	JSON(w, http.StatusOK, resp)
}

// SetPhone handles PUT /api/profile/phone.
func (h *ProfileHandler) SetPhone(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUserID(r)
	if !ok {
		unauthorized(w)
		return
	}

	var req domain.SetPhoneRequest
	if err := DecodeJSON(r, &req); err != nil {
		Error(w, err)
		return
	}
	if err := Validate(req); err != nil {
		Error(w, err)
		return
	}

	resp, err := h.svc.SetPhone(r.Context(), userID, req.Phone)
	if err != nil {
		Error(w, err)
		return
	}
	JSON(w, http.StatusOK, resp)
}

// PhoneHandler answers the public phone pre-check.
type PhoneHandler struct {
	guard *service.PhoneGuard
}

func NewPhoneHandler(guard *service.PhoneGuard) *PhoneHandler {
	return &PhoneHandler{guard: guard}
}

// Check handles POST /api/phone/check.
func (h *PhoneHandler) Check(w http.ResponseWriter, r *http.Request) {
	var req domain.PhoneCheckRequest
	if err := DecodeJSON(r, &req); err != nil {
		Error(w, err)
		return
	}
	if err := Validate(req); err != nil {
		Error(w, err)
		return
	}

	resp, err := h.guard.Check(r.Context(), req.Phone)
	if err != nil {
		Error(w, err)
		return
	}
	JSON(w, http.StatusOK, resp)
}
