package domain

import "time"

// SubscriptionStatusActive is the only status that can grant access.
const SubscriptionStatusActive = "active"

// Subscription is a user's paid validity window. Rows are written by the
// payment webhook; this service only reads them.
type Subscription struct {
	UserID     string    `json:"user_id"`
	PlanID     string    `json:"plan_id"`
	Status     string    `json:"status"` // active, pending, cancelled, expired
	ValidUntil time.Time `json:"valid_until"`
	PaymentID  string    `json:"payment_id,omitempty"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// ValidAt reports whether the subscription grants access at t.
func (s *Subscription) ValidAt(t time.Time) bool {
	if s == nil {
		return false
	}
	return s.Status == SubscriptionStatusActive && s.ValidUntil.After(t)
}
