package domain

import "fmt"

// AccessStatus is the resolved right to use the metered feature.
type AccessStatus int

const (
	// AccessUnknown is the zero value and is never treated as allowed.
	AccessUnknown AccessStatus = iota
	AccessAllowed
	AccessPaywall
	AccessPhoneRequired
)

func (s AccessStatus) String() string {
	switch s {
	case AccessAllowed:
		return "allowed"
	case AccessPaywall:
		return "paywall"
	case AccessPhoneRequired:
		return "phone_required"
	case AccessUnknown:
		return "unknown"
	}
	return fmt.Sprintf("AccessStatus(%d)", int(s))
}

// Allowed reports whether the feature may be used.
func (s AccessStatus) Allowed() bool {
	return s == AccessAllowed
}

// MarshalText renders the status as its wire string.
func (s AccessStatus) MarshalText() ([]byte, error) {
	switch s {
	case AccessAllowed, AccessPaywall, AccessPhoneRequired:
		return []byte(s.String()), nil
	}
	return nil, fmt.Errorf("cannot marshal %s", s)
}

// UnmarshalText parses a wire string. Unrecognized values are an error.
func (s *AccessStatus) UnmarshalText(b []byte) error {
	switch string(b) {
	case "allowed":
		*s = AccessAllowed
	case "paywall":
		*s = AccessPaywall
	case "phone_required":
		*s = AccessPhoneRequired
	default:
		return fmt.Errorf("unknown access status %q", string(b))
	}
	return nil
}

// Resolve combines trial state with subscription validity. It holds no state
// and tolerates stale inputs since the trial service is the only writer.
func Resolve(p *Profile, subscriptionValid bool, limit int) AccessStatus {
	if subscriptionValid {
		return AccessAllowed
	}
	if p == nil || p.Phone == "" {
		return AccessPhoneRequired
	}

	switch p.State(limit) {
	case StateTrialExhausted:
		return AccessPaywall
	case StateTrialActive:
		return AccessAllowed
	case StatePhoneSet:
		// Phone present, trial never started: one pass so the caller can Start.
		return AccessAllowed
	case StateNoPhone:
		return AccessPhoneRequired
	}
	return AccessPaywall
}
