package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bianutri/backend/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const profileColumns = `id, phone, trial_started_at, trial_seconds_used, trial_used_at, created_at, updated_at`

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// ProfileRepository handles database operations for profiles.
type ProfileRepository struct {
	db *pgxpool.Pool
}

// NewProfileRepository creates a new ProfileRepository.
func NewProfileRepository(db *pgxpool.Pool) *ProfileRepository {
	return &ProfileRepository{db: db}
}

// EnsureProfile creates an empty profile row if none exists and returns it.
func (r *ProfileRepository) EnsureProfile(ctx context.Context, userID string) (*domain.Profile, error) {
	query := `
		INSERT INTO profiles (id, trial_seconds_used, created_at, updated_at)
		VALUES ($1, 0, NOW(), NOW())
		ON CONFLICT (id) DO NOTHING
	`
	if _, err := r.db.Exec(ctx, query, userID); err != nil {
		return nil, fmt.Errorf("failed to ensure profile: %w", err)
	}
	p, err := r.FindProfile(ctx, userID)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, fmt.Errorf("profile %s vanished after insert", userID)
	}
	return p, nil
}

// FindProfile returns a profile by user ID, or nil if it does not exist.
func (r *ProfileRepository) FindProfile(ctx context.Context, userID string) (*domain.Profile, error) {
	row := r.db.QueryRow(ctx, `SELECT `+profileColumns+` FROM profiles WHERE id = $1`, userID)
	p, err := scanProfile(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find profile: %w", err)
	}
	return p, nil
}

// HasExhaustedTrial checks whether another profile spent a trial on phone.
func (r *ProfileRepository) HasExhaustedTrial(ctx context.Context, phone, excludingUserID string) (bool, error) {
	return hasExhaustedTrial(ctx, r.db, phone, excludingUserID)
}

// WithProfileLock runs fn while holding the row lock of the profile. The lock
// is released when the transaction commits or rolls back.
func (r *ProfileRepository) WithProfileLock(ctx context.Context, userID string, fn func(ctx context.Context, tx ProfileTx) error) error {
	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	row := tx.QueryRow(ctx, `SELECT `+profileColumns+` FROM profiles WHERE id = $1 FOR UPDATE`, userID)
	p, err := scanProfile(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ErrNotFound("profile not found")
		}
		return fmt.Errorf("failed to lock profile: %w", err)
	}

	if err := fn(ctx, &pgProfileTx{tx: tx, profile: p}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit profile update: %w", err)
	}
	return nil
}

type pgProfileTx struct {
	tx      pgx.Tx
	profile *domain.Profile
}

func (t *pgProfileTx) Profile() *domain.Profile {
	return t.profile
}

func (t *pgProfileTx) HasExhaustedTrial(ctx context.Context, phone, excludingUserID string) (bool, error) {
	return hasExhaustedTrial(ctx, t.tx, phone, excludingUserID)
}

func (t *pgProfileTx) Save(ctx context.Context, p *domain.Profile) error {
	query := `
		UPDATE profiles
		SET phone = $2, trial_started_at = $3, trial_seconds_used = $4, trial_used_at = $5, updated_at = $6
		WHERE id = $1
	`
	tag, err := t.tx.Exec(ctx, query,
		p.UserID, nullString(p.Phone), p.TrialStartedAt, p.TrialSecondsUsed, p.TrialUsedAt, p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save profile: %w", err)
	}
	if tag.RowsAffected() != 1 {
		return fmt.Errorf("failed to save profile: %d rows affected", tag.RowsAffected())
	}
	t.profile = p
	return nil
}

func hasExhaustedTrial(ctx context.Context, q querier, phone, excludingUserID string) (bool, error) {
	query := `
		SELECT EXISTS(
			SELECT 1 FROM profiles
			WHERE phone = $1 AND trial_used_at IS NOT NULL AND id <> $2
		)
	`
	var exists bool
	if err := q.QueryRow(ctx, query, phone, excludingUserID).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check phone usage: %w", err)
	}
	return exists, nil
}

func scanProfile(row pgx.Row) (*domain.Profile, error) {
	var (
		p     domain.Profile
		phone *string
	)
	err := row.Scan(&p.UserID, &phone, &p.TrialStartedAt, &p.TrialSecondsUsed, &p.TrialUsedAt, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if phone != nil {
		p.Phone = *phone
	}
	p.TrialStartedAt = utcPtr(p.TrialStartedAt)
	p.TrialUsedAt = utcPtr(p.TrialUsedAt)
	return &p, nil
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
