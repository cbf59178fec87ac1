package domain

import "time"

// TrialConfig is the single source of trial tunables for server and clients.
type TrialConfig struct {
	LimitSeconds        int `json:"trial_limit_seconds"`
	Minutes             int `json:"trial_minutes"`
	HeartbeatSeconds    int `json:"heartbeat_interval_seconds"`
	MaxIncrementSeconds int `json:"max_increment_seconds"`
}

// HeartbeatInterval returns the poll interval as a duration.
func (c TrialConfig) HeartbeatInterval() time.Duration {
	return time.Duration(c.HeartbeatSeconds) * time.Second
}

// TrialActionRequest is the single-endpoint RPC body: {action, user_id, seconds}.
type TrialActionRequest struct {
	Action  string `json:"action"`
	UserID  string `json:"user_id" validate:"omitempty,max=128"`
	Seconds int    `json:"seconds"`
}

// StartTrialRequest is the body of POST /api/trial/start.
type StartTrialRequest struct {
	UserID string `json:"user_id" validate:"omitempty,max=128"`
}

// IncrementTrialRequest is the body of POST /api/trial/increment. Seconds is
// range-checked by the service so out-of-range values are clamped, not rejected.
type IncrementTrialRequest struct {
	UserID  string `json:"user_id" validate:"omitempty,max=128"`
	Seconds int    `json:"seconds"`
}

// IncrementTrialResponse is the authoritative result of an increment.
type IncrementTrialResponse struct {
	SecondsUsed int        `json:"trial_seconds_used"`
	UsedAt      *time.Time `json:"trial_used_at"`
	Exhausted   bool       `json:"exhausted"`
}

// StartTrialResponse is the result of a successful start.
type StartTrialResponse struct {
	StartedAt   *time.Time `json:"trial_started_at"`
	SecondsUsed int        `json:"trial_seconds_used"`
	UsedAt      *time.Time `json:"trial_used_at"`
}

// SetPhoneRequest is the body of PUT /api/profile/phone.
type SetPhoneRequest struct {
	Phone string `json:"phone" validate:"required,min=10,max=32"`
}

// PhoneCheckRequest is the body of POST /api/phone/check.
type PhoneCheckRequest struct {
	Phone string `json:"phone" validate:"required,min=10,max=32"`
}

// PhoneCheckResponse tells the client whether a phone can still fund a trial.
type PhoneCheckResponse struct {
	Phone     string `json:"phone"`
	Available bool   `json:"available"`
}

// ProfileResponse is the profile plus derived trial display fields.
type ProfileResponse struct {
	Profile
	TrialStatus      TrialStatus `json:"trial_status"`
	RemainingSeconds int         `json:"trial_remaining_seconds"`
	LimitSeconds     int         `json:"trial_limit_seconds"`
}

// AccessResponse is the result of GET /api/access.
type AccessResponse struct {
	Status             AccessStatus     `json:"status"`
	SubscriptionActive bool             `json:"subscription_active"`
	Trial              *ProfileResponse `json:"trial,omitempty"`
}

// SubscriptionResponse is the current subscription and its plan.
type SubscriptionResponse struct {
	Subscription
	Active bool  `json:"active"`
	Plan   *Plan `json:"plan,omitempty"`
}

// JWTClaims represents the JWT payload.
type JWTClaims struct {
	Sub   string `json:"sub"`
	Email string `json:"email"`
	Role  string `json:"role"`
}

// NewProfileResponse decorates p with its display status for the given limit.
func NewProfileResponse(p *Profile, limit int) *ProfileResponse {
	return &ProfileResponse{
		Profile:          *p,
		TrialStatus:      TrialStatusOf(p, limit),
		RemainingSeconds: p.RemainingSeconds(limit),
		LimitSeconds:     limit,
	}
}
