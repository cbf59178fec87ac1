package service

import (
	"context"
	"net/http"
	"time"

	"github.com/bianutri/backend/internal/domain"
	"github.com/bianutri/backend/internal/metrics"
	"github.com/bianutri/backend/internal/repository"
	"github.com/rs/zerolog"
)

// TrialService is the only writer of trial counters. Every mutation runs
// inside WithProfileLock so concurrent calls for one user are serialized.
type TrialService struct {
	store  repository.ProfileStore
	cfg    domain.TrialConfig
	logger zerolog.Logger
	now    func() time.Time
}

// NewTrialService creates a new TrialService.
func NewTrialService(store repository.ProfileStore, cfg domain.TrialConfig, logger zerolog.Logger) *TrialService {
	return &TrialService{
		store:  store,
		cfg:    cfg,
		logger: logger.With().Str("service", "trial").Logger(),
		now:    defaultClock,
	}
}

// Timestamps are kept at microsecond precision so the values returned to the
// caller are the ones both backends store.
func defaultClock() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}

// Config returns the trial tunables served to clients.
func (s *TrialService) Config() domain.TrialConfig {
	return s.cfg
}

// Start begins the trial for userID. Calling it on a running trial returns
// the current counters without resetting them.
func (s *TrialService) Start(ctx context.Context, userID string) (*domain.StartTrialResponse, error) {
	now := s.now()

	var (
		counters domain.TrialCounters
		started  bool
	)
	err := s.store.WithProfileLock(ctx, userID, func(ctx context.Context, tx repository.ProfileTx) error {
		p := tx.Profile()
		guard := NewPhoneGuard(tx)

		ok, err := p.BeginTrial(now, func() (bool, error) {
			return guard.HasExhaustedTrial(ctx, p.Phone, p.UserID)
		})
		if err != nil {
			return err
		}
		if ok {
			if err := tx.Save(ctx, p); err != nil {
				return err
			}
		}
		started = ok
		counters = p.Counters()
		return nil
	})
	if err != nil {
		metrics.TrialStarts.WithLabelValues(resultLabel(err)).Inc()
		s.logFailure(err, userID, "start")
		return nil, wrapInternal("failed to start trial", err)
	}

	if started {
		metrics.TrialStarts.WithLabelValues("started").Inc()
		s.logger.Info().Str("user_id", userID).Msg("Trial started")
	} else {
		metrics.TrialStarts.WithLabelValues("resumed").Inc()
	}

	return &domain.StartTrialResponse{
		StartedAt:   counters.StartedAt,
		SecondsUsed: counters.SecondsUsed,
		UsedAt:      counters.UsedAt,
	}, nil
}

// Increment adds elapsed seconds to the trial counter and returns the
// authoritative counters. Once exhausted the counters are frozen and every
// further call returns them unchanged.
func (s *TrialService) Increment(ctx context.Context, userID string, seconds int) (*domain.IncrementTrialResponse, error) {
	seconds, err := domain.ClampSeconds(seconds, s.cfg.MaxIncrementSeconds)
	if err != nil {
		metrics.TrialIncrements.WithLabelValues(resultLabel(err)).Inc()
		return nil, err
	}
	now := s.now()

	var (
		counters        domain.TrialCounters
		applied         bool
		exhaustedNow    bool
		previousSeconds int
	)
	err = s.store.WithProfileLock(ctx, userID, func(ctx context.Context, tx repository.ProfileTx) error {
		p := tx.Profile()
		wasExhausted := p.TrialUsedAt != nil
		previousSeconds = p.TrialSecondsUsed

		changed, err := p.ApplyIncrement(seconds, s.cfg.LimitSeconds, now)
		if err != nil {
			return err
		}
		if changed {
			if err := tx.Save(ctx, p); err != nil {
				return err
			}
		}
		applied = changed
		exhaustedNow = !wasExhausted && p.TrialUsedAt != nil
		counters = p.Counters()
		return nil
	})
	if err != nil {
		metrics.TrialIncrements.WithLabelValues(resultLabel(err)).Inc()
		s.logFailure(err, userID, "increment")
		return nil, wrapInternal("failed to increment trial", err)
	}

	if applied {
		metrics.TrialIncrements.WithLabelValues("applied").Inc()
		metrics.TrialSecondsApplied.Add(float64(counters.SecondsUsed - previousSeconds))
	} else {
		metrics.TrialIncrements.WithLabelValues("frozen").Inc()
	}
	if exhaustedNow {
		metrics.TrialExhaustions.Inc()
		s.logger.Info().
			Str("user_id", userID).
			Int("trial_seconds_used", counters.SecondsUsed).
			Msg("Trial exhausted")
	}

	return &domain.IncrementTrialResponse{
		SecondsUsed: counters.SecondsUsed,
		UsedAt:      counters.UsedAt,
		Exhausted:   counters.Exhausted(),
	}, nil
}

func (s *TrialService) logFailure(err error, userID, op string) {
	if appErr, ok := domain.AsAppError(err); ok && appErr.Code < http.StatusInternalServerError {
		s.logger.Debug().Str("user_id", userID).Str("op", op).Str("code", appErr.Message).Msg("Trial request rejected")
		return
	}
	s.logger.Error().Err(err).Str("user_id", userID).Str("op", op).Msg("Trial update failed")
}

// resultLabel maps an error to a bounded metric label.
func resultLabel(err error) string {
	if appErr, ok := domain.AsAppError(err); ok && appErr.Code < http.StatusInternalServerError {
		if appErr.Code == http.StatusNotFound {
			return "not_found"
		}
		return appErr.Message
	}
	return "error"
}

// wrapInternal passes AppErrors through and hides everything else behind a 500.
func wrapInternal(msg string, err error) error {
	if _, ok := domain.AsAppError(err); ok {
		return err
	}
	return domain.ErrInternal(msg, err)
}
