package domain

import (
	"errors"
	"fmt"
	"net/http"
)

// AppError is a structured application error with HTTP status code.
type AppError struct {
	Code    int                    `json:"code"`
	Message string                 `json:"error"`
	Details map[string]interface{} `json:"-"`
	Err     error                  `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// Machine-readable error codes returned to clients in the "error" field.
const (
	CodePhoneRequired    = "phone_required"
	CodePhoneAlreadyUsed = "phone_already_used"
	CodeTrialAlreadyUsed = "trial_already_used"
	CodeTrialNotStarted  = "trial_not_started"
	CodeForbidden        = "forbidden"
	CodeInvalidPhone     = "invalid_phone"
	CodePhoneLocked      = "phone_locked"
	CodeInvalidSeconds   = "invalid_seconds"
)

// Common error constructors.

func ErrNotFound(msg string) *AppError {
	return &AppError{Code: http.StatusNotFound, Message: msg}
}

func ErrUnauthorized(msg string) *AppError {
	return &AppError{Code: http.StatusUnauthorized, Message: msg}
}

func ErrForbidden(msg string) *AppError {
	return &AppError{Code: http.StatusForbidden, Message: msg}
}

func ErrBadRequest(msg string) *AppError {
	return &AppError{Code: http.StatusBadRequest, Message: msg}
}

func ErrValidation(msg string) *AppError {
	return &AppError{Code: http.StatusUnprocessableEntity, Message: msg}
}

func ErrInternal(msg string, err error) *AppError {
	return &AppError{Code: http.StatusInternalServerError, Message: msg, Err: err}
}

// Trial errors.

// ErrPhoneRequired means the user must register a phone before starting a trial.
func ErrPhoneRequired() *AppError {
	return &AppError{Code: http.StatusBadRequest, Message: CodePhoneRequired}
}

// ErrPhoneAlreadyUsed means another account already exhausted a trial with this phone.
func ErrPhoneAlreadyUsed() *AppError {
	return &AppError{Code: http.StatusConflict, Message: CodePhoneAlreadyUsed}
}

// ErrTrialAlreadyUsed carries the frozen counters so the caller can stop retrying.
func ErrTrialAlreadyUsed(c TrialCounters) *AppError {
	details := map[string]interface{}{
		"trial_seconds_used": c.SecondsUsed,
		"trial_used_at":      c.UsedAt,
	}
	return &AppError{Code: http.StatusConflict, Message: CodeTrialAlreadyUsed, Details: details}
}

func ErrTrialNotStarted() *AppError {
	return &AppError{Code: http.StatusConflict, Message: CodeTrialNotStarted}
}

func ErrInvalidPhone() *AppError {
	return &AppError{Code: http.StatusUnprocessableEntity, Message: CodeInvalidPhone}
}

// ErrPhoneLocked is returned when changing the phone after the trial has started.
func ErrPhoneLocked() *AppError {
	return &AppError{Code: http.StatusConflict, Message: CodePhoneLocked}
}

func ErrInvalidSeconds(max int) *AppError {
	return &AppError{
		Code:    http.StatusBadRequest,
		Message: CodeInvalidSeconds,
		Details: map[string]interface{}{"message": fmt.Sprintf("seconds must be between 1 and %d", max)},
	}
}

// AsAppError attempts to extract an AppError from an error chain.
func AsAppError(err error) (*AppError, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// IsCode reports whether err is an AppError carrying the given message code.
func IsCode(err error, code string) bool {
	appErr, ok := AsAppError(err)
	return ok && appErr.Message == code
}
