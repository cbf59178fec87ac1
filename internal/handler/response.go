package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/bianutri/backend/internal/contextkeys"
	"github.com/bianutri/backend/internal/domain"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog/log"
)

var validate = validator.New()

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			log.Error().Err(err).Msg("failed to encode JSON response")
		}
	}
}

// Error writes an error JSON response, using AppError status codes when available.
// Details are merged into the body next to the "error" code.
func Error(w http.ResponseWriter, err error) {
	if appErr, ok := domain.AsAppError(err); ok {
		if appErr.Code >= http.StatusInternalServerError {
			log.Error().Err(appErr).Msg("request failed")
		}
		body := map[string]interface{}{"error": appErr.Message}
		for k, v := range appErr.Details {
			if k != "error" {
				body[k] = v
			}
		}
		JSON(w, appErr.Code, body)
		return
	}
	log.Error().Err(err).Msg("unhandled error")
	JSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
}

// DecodeJSON decodes a JSON request body into the given struct.
func DecodeJSON(r *http.Request, v interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return domain.ErrBadRequest("invalid JSON body")
	}
	return nil
}

// DecodeOptionalJSON is DecodeJSON for endpoints whose body may be empty.
func DecodeOptionalJSON(r *http.Request, v interface{}) error {
	if r.Body == nil {
		return nil
	}
	if err := json.NewDecoder(r.Body).Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return domain.ErrBadRequest("invalid JSON body")
	}
	return nil
}

// Validate checks struct tags on a decoded request.
func Validate(v interface{}) error {
	if err := validate.Struct(v); err != nil {
		return domain.ErrValidation(err.Error())
	}
	return nil
}

// currentUserID returns the authenticated caller set by the Auth middleware.
func currentUserID(r *http.Request) (string, bool) {
	userID, ok := r.Context().Value(contextkeys.UserID).(string)
	return userID, ok && userID != ""
}

// authorizeTarget rejects requests acting on a user other than the caller.
func authorizeTarget(callerID, targetID string) error {
	if targetID != "" && targetID != callerID {
		return domain.ErrForbidden(domain.CodeForbidden)
	}
	return nil
}

func unauthorized(w http.ResponseWriter) {
	JSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
}
