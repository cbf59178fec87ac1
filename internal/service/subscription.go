package service

import (
	"context"
	"time"

	"github.com/bianutri/backend/internal/domain"
	"github.com/bianutri/backend/internal/repository"
)

// SubscriptionService answers subscription validity. Rows are owned by the
// payment webhook; nothing here writes them.
type SubscriptionService struct {
	repo repository.SubscriptionReader
	now  func() time.Time
}

func NewSubscriptionService(repo repository.SubscriptionReader) *SubscriptionService {
	return &SubscriptionService{
		repo: repo,
		now:  time.Now,
	}
}

// IsActive reports whether userID has a subscription that is valid right now.
func (s *SubscriptionService) IsActive(ctx context.Context, userID string) (bool, error) {
	sub, err := s.repo.FindByUserID(ctx, userID)
	if err != nil {
		return false, domain.ErrInternal("failed to read subscription", err)
	}
	return sub.ValidAt(s.now()), nil
}

// GetCurrentSubscription returns the subscription row of a user with its plan,
// or nil if the user never subscribed.
func (s *SubscriptionService) GetCurrentSubscription(ctx context.Context, userID string) (*domain.SubscriptionResponse, error) {
	sub, err := s.repo.FindByUserID(ctx, userID)
	if err != nil {
		return nil, domain.ErrInternal("failed to read subscription", err)
	}
	if sub == nil {
		return nil, nil
	}

	resp := &domain.SubscriptionResponse{
		Subscription: *sub,
		Active:       sub.ValidAt(s.now()),
	}
	if plan, ok := domain.GetPlan(sub.PlanID); ok {
		resp.Plan = &plan
	}
	return resp, nil
}
