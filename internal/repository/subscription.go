package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/bianutri/backend/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// SubscriptionRepository reads subscription rows. Writes belong to the
// payment webhook and are deliberately absent.
type SubscriptionRepository struct {
	db *pgxpool.Pool
}

func NewSubscriptionRepository(db *pgxpool.Pool) *SubscriptionRepository {
	return &SubscriptionRepository{db: db}
}

func (r *SubscriptionRepository) FindByUserID(ctx context.Context, userID string) (*domain.Subscription, error) {
	query := `
		SELECT user_id, plan_id, status, valid_until, COALESCE(payment_id, ''), updated_at
		FROM subscriptions WHERE user_id = $1
	`
	row := r.db.QueryRow(ctx, query, userID)
	var sub domain.Subscription
	err := row.Scan(&sub.UserID, &sub.PlanID, &sub.Status, &sub.ValidUntil, &sub.PaymentID, &sub.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil // No subscription
		}
		return nil, fmt.Errorf("failed to find subscription: %w", err)
	}
	sub.ValidUntil = sub.ValidUntil.UTC()
	return &sub, nil
}

// PostgresStore bundles the pgx repositories into a Store.
type PostgresStore struct {
	*ProfileRepository
	*SubscriptionRepository
	pool *pgxpool.Pool
}

// NewPostgresStore wraps an open pool.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{
		ProfileRepository:      NewProfileRepository(pool),
		SubscriptionRepository: NewSubscriptionRepository(pool),
		pool:                   pool,
	}
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *PostgresStore) Close() {
	s.pool.Close()
}
