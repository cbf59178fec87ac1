package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/bianutri/backend/internal/domain"
	_ "modernc.org/sqlite"
)

// SQLiteStore is the embedded backend used for local development and tests.
// A single connection plus immediate transactions serialize every writer, so
// WithProfileLock holds the same guarantees as the Postgres row lock.
type SQLiteStore struct {
	db     *sql.DB
	dbPath string
}

// NewSQLiteStore opens (or creates) the database file at dbPath.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	dbPath = filepath.Clean(dbPath)
	if strings.TrimSpace(dbPath) == "" || dbPath == "." {
		return nil, fmt.Errorf("sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create sqlite data dir: %w", err)
	}

	dsn := dbPath + "?" + url.Values{
		"_pragma": []string{
			"busy_timeout(30000)",
			"journal_mode(WAL)",
			"synchronous(NORMAL)",
		},
		"_txlock": []string{"immediate"},
	}.Encode()

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	s := &SQLiteStore{db: db, dbPath: dbPath}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS profiles (
		id TEXT PRIMARY KEY,
		phone TEXT,
		trial_started_at INTEGER,
		trial_seconds_used INTEGER NOT NULL DEFAULT 0 CHECK (trial_seconds_used >= 0),
		trial_used_at INTEGER,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL,
		CHECK (trial_used_at IS NULL OR trial_started_at IS NOT NULL)
	);
	CREATE INDEX IF NOT EXISTS idx_profiles_phone ON profiles(phone);

	CREATE TABLE IF NOT EXISTS subscriptions (
		user_id TEXT PRIMARY KEY,
		plan_id TEXT NOT NULL,
		status TEXT NOT NULL,
		valid_until INTEGER NOT NULL,
		payment_id TEXT,
		updated_at INTEGER NOT NULL
	);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("init sqlite schema: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLiteStore) Close() {
	_ = s.db.Close()
}

// sqlQuerier is satisfied by *sql.DB and *sql.Tx.
type sqlQuerier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

const sqliteProfileColumns = `id, phone, trial_started_at, trial_seconds_used, trial_used_at, created_at, updated_at`

func (s *SQLiteStore) EnsureProfile(ctx context.Context, userID string) (*domain.Profile, error) {
	now := time.Now().UTC().UnixMicro()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO profiles (id, trial_seconds_used, created_at, updated_at)
		VALUES (?, 0, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`, userID, now, now)
	if err != nil {
		return nil, fmt.Errorf("failed to ensure profile: %w", err)
	}
	p, err := s.FindProfile(ctx, userID)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, fmt.Errorf("profile %s vanished after insert", userID)
	}
	return p, nil
}

func (s *SQLiteStore) FindProfile(ctx context.Context, userID string) (*domain.Profile, error) {
	p, err := sqliteFindProfile(ctx, s.db, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find profile: %w", err)
	}
	return p, nil
}

func (s *SQLiteStore) HasExhaustedTrial(ctx context.Context, phone, excludingUserID string) (bool, error) {
	return sqliteHasExhaustedTrial(ctx, s.db, phone, excludingUserID)
}

func (s *SQLiteStore) WithProfileLock(ctx context.Context, userID string, fn func(ctx context.Context, tx ProfileTx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	p, err := sqliteFindProfile(ctx, tx, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.ErrNotFound("profile not found")
		}
		return fmt.Errorf("failed to lock profile: %w", err)
	}

	if err := fn(ctx, &sqliteProfileTx{tx: tx, profile: p}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit profile update: %w", err)
	}
	return nil
}

// UpsertSubscription writes a subscription row the way the payment webhook
// does. The trial engine never calls it; it exists for seeding local data.
func (s *SQLiteStore) UpsertSubscription(ctx context.Context, sub *domain.Subscription) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO subscriptions (user_id, plan_id, status, valid_until, payment_id, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			plan_id = excluded.plan_id,
			status = excluded.status,
			valid_until = excluded.valid_until,
			payment_id = excluded.payment_id,
			updated_at = excluded.updated_at
	`, sub.UserID, sub.PlanID, sub.Status, sub.ValidUntil.UTC().UnixMicro(), sub.PaymentID, sub.UpdatedAt.UTC().UnixMicro())
	if err != nil {
		return fmt.Errorf("failed to upsert subscription: %w", err)
	}
	return nil
}

func (s *SQLiteStore) FindByUserID(ctx context.Context, userID string) (*domain.Subscription, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT user_id, plan_id, status, valid_until, COALESCE(payment_id, ''), updated_at
		FROM subscriptions WHERE user_id = ?
	`, userID)

	var (
		sub                   domain.Subscription
		validUntil, updatedAt int64
	)
	if err := row.Scan(&sub.UserID, &sub.PlanID, &sub.Status, &validUntil, &sub.PaymentID, &updatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find subscription: %w", err)
	}
	sub.ValidUntil = time.UnixMicro(validUntil).UTC()
	sub.UpdatedAt = time.UnixMicro(updatedAt).UTC()
	return &sub, nil
}

type sqliteProfileTx struct {
	tx      *sql.Tx
	profile *domain.Profile
}

func (t *sqliteProfileTx) Profile() *domain.Profile {
	return t.profile
}

func (t *sqliteProfileTx) HasExhaustedTrial(ctx context.Context, phone, excludingUserID string) (bool, error) {
	return sqliteHasExhaustedTrial(ctx, t.tx, phone, excludingUserID)
}

func (t *sqliteProfileTx) Save(ctx context.Context, p *domain.Profile) error {
	var phone sql.NullString
	if p.Phone != "" {
		phone = sql.NullString{String: p.Phone, Valid: true}
	}
	res, err := t.tx.ExecContext(ctx, `
		UPDATE profiles
		SET phone = ?, trial_started_at = ?, trial_seconds_used = ?, trial_used_at = ?, updated_at = ?
		WHERE id = ?
	`, phone, microsOrNull(p.TrialStartedAt), p.TrialSecondsUsed, microsOrNull(p.TrialUsedAt), p.UpdatedAt.UTC().UnixMicro(), p.UserID)
	if err != nil {
		return fmt.Errorf("failed to save profile: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n != 1 {
		return fmt.Errorf("failed to save profile: %d rows affected", n)
	}
	t.profile = p
	return nil
}

func sqliteFindProfile(ctx context.Context, q sqlQuerier, userID string) (*domain.Profile, error) {
	row := q.QueryRowContext(ctx, `SELECT `+sqliteProfileColumns+` FROM profiles WHERE id = ?`, userID)

	var (
		p                    domain.Profile
		phone                sql.NullString
		startedAt, usedAt    sql.NullInt64
		createdAt, updatedAt int64
	)
	if err := row.Scan(&p.UserID, &phone, &startedAt, &p.TrialSecondsUsed, &usedAt, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	p.Phone = phone.String
	p.TrialStartedAt = timeFromMicros(startedAt)
	p.TrialUsedAt = timeFromMicros(usedAt)
	p.CreatedAt = time.UnixMicro(createdAt).UTC()
	p.UpdatedAt = time.UnixMicro(updatedAt).UTC()
	return &p, nil
}

func sqliteHasExhaustedTrial(ctx context.Context, q sqlQuerier, phone, excludingUserID string) (bool, error) {
	var exists bool
	err := q.QueryRowContext(ctx, `
		SELECT EXISTS(
			SELECT 1 FROM profiles
			WHERE phone = ? AND trial_used_at IS NOT NULL AND id <> ?
		)
	`, phone, excludingUserID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check phone usage: %w", err)
	}
	return exists, nil
}

func microsOrNull(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UTC().UnixMicro(), Valid: true}
}

func timeFromMicros(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := time.UnixMicro(v.Int64).UTC()
	return &t
}
