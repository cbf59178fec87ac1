package service

import (
	"context"

	"github.com/bianutri/backend/internal/domain"
	"github.com/bianutri/backend/internal/metrics"
	"github.com/bianutri/backend/internal/repository"
)

// AccessService loads the inputs of the resolver. It is recomputed on every
// call and caches nothing itself.
type AccessService struct {
	profiles      repository.ProfileStore
	subscriptions *SubscriptionService
	limit         int
}

func NewAccessService(profiles repository.ProfileStore, subscriptions *SubscriptionService, limit int) *AccessService {
	return &AccessService{
		profiles:      profiles,
		subscriptions: subscriptions,
		limit:         limit,
	}
}

// Status resolves whether userID may use the metered feature. A failed
// subscription read fails the call rather than guessing.
func (s *AccessService) Status(ctx context.Context, userID string) (*domain.AccessResponse, error) {
	active, err := s.subscriptions.IsActive(ctx, userID)
	if err != nil {
		return nil, err
	}

	p, err := s.profiles.FindProfile(ctx, userID)
	if err != nil {
		return nil, domain.ErrInternal("failed to load profile", err)
	}

	status := domain.Resolve(p, active, s.limit)
	metrics.AccessChecks.WithLabelValues(status.String()).Inc()

	resp := &domain.AccessResponse{
		Status:             status,
		SubscriptionActive: active,
	}
	if p != nil {
		resp.Trial = domain.NewProfileResponse(p, s.limit)
	}
	return resp, nil
}
