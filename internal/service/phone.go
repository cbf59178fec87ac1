package service

import (
	"context"

	"github.com/bianutri/backend/internal/domain"
	"github.com/bianutri/backend/internal/repository"
)

// PhoneGuard enforces one trial per phone number across accounts.
type PhoneGuard struct {
	lookup repository.PhoneLookup
}

// NewPhoneGuard wraps a lookup. Pass a ProfileTx to evaluate the check inside
// the caller's locked transaction.
func NewPhoneGuard(lookup repository.PhoneLookup) *PhoneGuard {
	return &PhoneGuard{lookup: lookup}
}

// HasExhaustedTrial reports whether any profile other than excludingUserID
// already consumed a trial with phone. Invalid phones are rejected.
func (g *PhoneGuard) HasExhaustedTrial(ctx context.Context, phone, excludingUserID string) (bool, error) {
	normalized, err := domain.NormalizePhone(phone)
	if err != nil {
		return false, err
	}
	spent, err := g.lookup.HasExhaustedTrial(ctx, normalized, excludingUserID)
	if err != nil {
		return false, domain.ErrInternal("failed to check phone", err)
	}
	return spent, nil
}

// Check is the public pre-check used before registration.
func (g *PhoneGuard) Check(ctx context.Context, raw string) (*domain.PhoneCheckResponse, error) {
	normalized, err := domain.NormalizePhone(raw)
	if err != nil {
		return nil, err
	}
	spent, err := g.HasExhaustedTrial(ctx, normalized, "")
	if err != nil {
		return nil, err
	}
	return &domain.PhoneCheckResponse{Phone: normalized, Available: !spent}, nil
}
