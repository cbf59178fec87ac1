package domain

import (
	"strings"
	"time"
	"unicode"
)

// Trial defaults. The limit actually enforced comes from config.
const (
	DefaultTrialMinutes        = 30
	DefaultMaxIncrementSeconds = 300
	DefaultHeartbeatInterval   = 15 * time.Second
)

// Profile holds the trial counters of a single user. Rows are created at
// account creation; the trial fields are written only by the trial service.
type Profile struct {
	UserID           string     `json:"user_id"`
	Phone            string     `json:"phone,omitempty"`
	TrialStartedAt   *time.Time `json:"trial_started_at"`
	TrialSecondsUsed int        `json:"trial_seconds_used"`
	TrialUsedAt      *time.Time `json:"trial_used_at"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// TrialCounters is the authoritative snapshot returned by Start and Increment.
type TrialCounters struct {
	StartedAt   *time.Time `json:"trial_started_at,omitempty"`
	SecondsUsed int        `json:"trial_seconds_used"`
	UsedAt      *time.Time `json:"trial_used_at"`
}

// Exhausted reports whether the trial has been consumed.
func (c TrialCounters) Exhausted() bool {
	return c.UsedAt != nil
}

// Counters returns the trial fields of the profile.
func (p *Profile) Counters() TrialCounters {
	return TrialCounters{
		StartedAt:   p.TrialStartedAt,
		SecondsUsed: p.TrialSecondsUsed,
		UsedAt:      p.TrialUsedAt,
	}
}

// ApplyCounters overwrites the local trial fields with server-confirmed values.
func (p *Profile) ApplyCounters(c TrialCounters) {
	if c.StartedAt != nil {
		p.TrialStartedAt = c.StartedAt
	}
	p.TrialSecondsUsed = c.SecondsUsed
	if c.UsedAt != nil {
		p.TrialUsedAt = c.UsedAt
	}
}

// TrialState is the per-profile trial state machine.
type TrialState int

const (
	StateNoPhone TrialState = iota
	StatePhoneSet
	StateTrialActive
	StateTrialExhausted
)

func (s TrialState) String() string {
	switch s {
	case StateNoPhone:
		return "no_phone"
	case StatePhoneSet:
		return "phone_set"
	case StateTrialActive:
		return "trial_active"
	case StateTrialExhausted:
		return "trial_exhausted"
	}
	return "unknown"
}

// State derives the trial state. A started trial whose counter reached the
// limit is exhausted even if trial_used_at has not been observed yet.
func (p *Profile) State(limit int) TrialState {
	switch {
	case p.TrialUsedAt != nil:
		return StateTrialExhausted
	case p.TrialStartedAt != nil && p.TrialSecondsUsed >= limit:
		return StateTrialExhausted
	case p.TrialStartedAt != nil:
		return StateTrialActive
	case p.Phone != "":
		return StatePhoneSet
	default:
		return StateNoPhone
	}
}

// TrialActive reports whether the trial is started and still has time left.
func (p *Profile) TrialActive(limit int) bool {
	return p.State(limit) == StateTrialActive
}

// RemainingSeconds returns the unused trial seconds, never negative.
func (p *Profile) RemainingSeconds(limit int) int {
	if p.TrialUsedAt != nil {
		return 0
	}
	if rest := limit - p.TrialSecondsUsed; rest > 0 {
		return rest
	}
	return 0
}

// BeginTrial moves a profile into TrialActive. A running trial is returned
// as is, so phoneSpent is consulted only on the PhoneSet to TrialActive step.
// Returns false without error when the trial was already running.
func (p *Profile) BeginTrial(now time.Time, phoneSpent func() (bool, error)) (bool, error) {
	if p.Phone == "" {
		return false, ErrPhoneRequired()
	}
	if p.TrialUsedAt != nil {
		return false, ErrTrialAlreadyUsed(p.Counters())
	}

	if p.TrialStartedAt != nil {
		return false, nil
	}

	spent, err := phoneSpent()
	if err != nil {
		return false, err
	}
	if spent {
		return false, ErrPhoneAlreadyUsed()
	}

	startedAt := now
	p.TrialStartedAt = &startedAt
	p.TrialSecondsUsed = 0
	p.TrialUsedAt = nil
	p.UpdatedAt = now
	return true, nil
}

// ApplyIncrement adds seconds to the counter, capping at limit and stamping
// trial_used_at the moment the cap is reached. After exhaustion it is a no-op.
func (p *Profile) ApplyIncrement(seconds, limit int, now time.Time) (bool, error) {
	if p.TrialStartedAt == nil {
		return false, ErrTrialNotStarted()
	}
	if p.TrialUsedAt != nil {
		return false, nil
	}

	next := p.TrialSecondsUsed + seconds
	if next >= limit {
		// A counter already past a lowered limit is frozen where it is.
		next = max(limit, p.TrialSecondsUsed)
		usedAt := now
		p.TrialUsedAt = &usedAt
	}
	p.TrialSecondsUsed = next
	p.UpdatedAt = now
	return true, nil
}

// ClampSeconds bounds a client-reported delta to 1..max.
func ClampSeconds(seconds, max int) (int, error) {
	if seconds <= 0 {
		return 0, ErrInvalidSeconds(max)
	}
	if seconds > max {
		return max, nil
	}
	return seconds, nil
}

// NormalizePhone keeps only digits, drops a leading 55 country code and
// accepts 10 (landline) or 11 (mobile) digit numbers.
func NormalizePhone(raw string) (string, error) {
	digits := strings.Map(func(r rune) rune {
		if unicode.IsDigit(r) {
			return r
		}
		return -1
	}, raw)

	if (len(digits) == 12 || len(digits) == 13) && strings.HasPrefix(digits, "55") {
		digits = digits[2:]
	}
	if len(digits) != 10 && len(digits) != 11 {
		return "", ErrInvalidPhone()
	}
	return digits, nil
}

// TrialStatus is the display form of the trial.
type TrialStatus string

const (
	TrialStatusNone          TrialStatus = "none"
	TrialStatusPhoneRequired TrialStatus = "phone_required"
	TrialStatusActive        TrialStatus = "active"
	TrialStatusExhausted     TrialStatus = "exhausted"
)

// TrialStatusOf maps a profile to its display status.
func TrialStatusOf(p *Profile, limit int) TrialStatus {
	if p == nil {
		return TrialStatusNone
	}
	switch p.State(limit) {
	case StateNoPhone:
		return TrialStatusPhoneRequired
	case StateTrialExhausted:
		return TrialStatusExhausted
	case StateTrialActive:
		return TrialStatusActive
	default:
		return TrialStatusNone
	}
}
