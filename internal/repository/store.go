package repository

import (
	"context"
	"fmt"
	"strings"

	"github.com/bianutri/backend/internal/domain"
)

// PhoneLookup answers the dedup question: has any other account exhausted a
// trial with this phone?
type PhoneLookup interface {
	HasExhaustedTrial(ctx context.Context, phone, excludingUserID string) (bool, error)
}

// ProfileTx is a locked view of a single profile row. It is only valid inside
// the callback passed to WithProfileLock.
type ProfileTx interface {
	PhoneLookup
	Profile() *domain.Profile
	Save(ctx context.Context, p *domain.Profile) error
}

// ProfileStore persists profiles. WithProfileLock serializes all writers of a
// given user; the callback's reads and Save commit or roll back together.
type ProfileStore interface {
	PhoneLookup
	EnsureProfile(ctx context.Context, userID string) (*domain.Profile, error)
	FindProfile(ctx context.Context, userID string) (*domain.Profile, error)
	WithProfileLock(ctx context.Context, userID string, fn func(ctx context.Context, tx ProfileTx) error) error
}

// SubscriptionReader reads the subscription row owned by the payment webhook.
type SubscriptionReader interface {
	FindByUserID(ctx context.Context, userID string) (*domain.Subscription, error)
}

// Store is a full storage backend.
type Store interface {
	ProfileStore
	SubscriptionReader
	Ping(ctx context.Context) error
	Close()
}

// Open picks a backend from the database URL: postgres:// or postgresql://
// use pgx, sqlite:// and file: use the embedded SQLite driver.
func Open(ctx context.Context, databaseURL string) (Store, error) {
	switch {
	case strings.HasPrefix(databaseURL, "postgres://"), strings.HasPrefix(databaseURL, "postgresql://"):
		pool, err := NewDB(ctx, databaseURL)
		if err != nil {
			return nil, err
		}
		if err := RunMigrations(ctx, pool); err != nil {
			pool.Close()
			return nil, err
		}
		return NewPostgresStore(pool), nil
	case strings.HasPrefix(databaseURL, "sqlite://"):
		return NewSQLiteStore(strings.TrimPrefix(databaseURL, "sqlite://"))
	case strings.HasPrefix(databaseURL, "file:"):
		return NewSQLiteStore(strings.TrimPrefix(databaseURL, "file:"))
	default:
		return nil, fmt.Errorf("unsupported database URL scheme: %q", databaseURL)
	}
}
