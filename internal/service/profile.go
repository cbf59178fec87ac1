package service

import (
	"context"
	"time"

	"github.com/bianutri/backend/internal/domain"
	"github.com/bianutri/backend/internal/repository"
	"github.com/rs/zerolog"
)

// ProfileService reads profiles and registers the phone used for dedup.
type ProfileService struct {
	store  repository.ProfileStore
	limit  int
	logger zerolog.Logger
	now    func() time.Time
}

func NewProfileService(store repository.ProfileStore, limit int, logger zerolog.Logger) *ProfileService {
	return &ProfileService{
		store:  store,
		limit:  limit,
		logger: logger.With().Str("service", "profile").Logger(),
		now:    defaultClock,
	}
}

// Get returns the profile of userID, creating an empty one on first access.
func (s *ProfileService) Get(ctx context.Context, userID string) (*domain.ProfileResponse, error) {
	p, err := s.store.EnsureProfile(ctx, userID)
	if err != nil {
		return nil, domain.ErrInternal("failed to load profile", err)
	}
	return domain.NewProfileResponse(p, s.limit), nil
}

// SetPhone registers or replaces the phone of userID. The phone cannot change
// once a trial has started, and a phone spent by another account is refused.
func (s *ProfileService) SetPhone(ctx context.Context, userID, raw string) (*domain.ProfileResponse, error) {
	phone, err := domain.NormalizePhone(raw)
	if err != nil {
		return nil, err
	}
	if _, err := s.store.EnsureProfile(ctx, userID); err != nil {
		return nil, domain.ErrInternal("failed to load profile", err)
	}

	now := s.now()
	var updated domain.Profile
	err = s.store.WithProfileLock(ctx, userID, func(ctx context.Context, tx repository.ProfileTx) error {
		p := tx.Profile()
		if p.Phone == phone {
			updated = *p
			return nil
		}
		if p.TrialStartedAt != nil {
			return domain.ErrPhoneLocked()
		}

		spent, err := NewPhoneGuard(tx).HasExhaustedTrial(ctx, phone, userID)
		if err != nil {
			return err
		}
		if spent {
			return domain.ErrPhoneAlreadyUsed()
		}

		p.Phone = phone
		p.UpdatedAt = now
		if err := tx.Save(ctx, p); err != nil {
			return err
		}
		updated = *p
		return nil
	})
	if err != nil {
		if domain.IsCode(err, domain.CodePhoneAlreadyUsed) {
			s.logger.Info().Str("user_id", userID).Msg("Phone rejected, trial already used on another account")
		}
		return nil, wrapInternal("failed to set phone", err)
	}

	return domain.NewProfileResponse(&updated, s.limit), nil
}
