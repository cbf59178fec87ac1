// Package heartbeat meters trial usage from the client side. A Poller owns a
// single ticker for one session and reports elapsed seconds to the server,
// applying only the counters the server returns.
package heartbeat

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/bianutri/backend/internal/domain"
	"github.com/rs/zerolog"
)

// ErrNotEligible is returned by Start when the session should not be metered.
var ErrNotEligible = errors.New("heartbeat: session is not eligible for trial metering")

// Fatal reports whether a failed increment will keep failing on retry: a
// client error from the server other than rate limiting. Transport errors and
// server errors are retried on the next tick.
func Fatal(err error) bool {
	appErr, ok := domain.AsAppError(err)
	if !ok {
		return false
	}
	return appErr.Code >= 400 && appErr.Code < 500 && appErr.Code != http.StatusTooManyRequests
}

// Incrementer reports elapsed trial seconds. It is satisfied by both the
// HTTP client and the in-process trial service.
type Incrementer interface {
	Increment(ctx context.Context, userID string, seconds int) (*domain.IncrementTrialResponse, error)
}

// Ticker is the subset of time.Ticker used by the poller.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

type timeTicker struct{ t *time.Ticker }

func (t timeTicker) C() <-chan time.Time { return t.t.C }
func (t timeTicker) Stop()               { t.t.Stop() }

func newTimeTicker(d time.Duration) Ticker {
	return timeTicker{t: time.NewTicker(d)}
}

// Config configures a Poller.
type Config struct {
	UserID   string
	Interval time.Duration
	Limit    int

	// OnStatus is called with the new access status whenever it changes.
	// OnError is called for every failed increment; after a Fatal error the
	// poller has already stopped. Both run on the poller goroutine and must
	// not call Stop synchronously.
	OnStatus func(domain.AccessStatus)
	OnError  func(error)

	Logger    zerolog.Logger
	NewTicker func(time.Duration) Ticker
}

// Session is the client state checked by Start.
type Session struct {
	Profile            domain.Profile
	SubscriptionActive bool
	Foreground         bool
}

// Poller sends one increment per interval while the trial is active.
type Poller struct {
	cfg Config
	inc Incrementer

	mu      sync.Mutex
	profile domain.Profile
	status  domain.AccessStatus
	cancel  context.CancelFunc
	done    chan struct{}
}

// New creates a stopped poller.
func New(inc Incrementer, cfg Config) *Poller {
	if cfg.Interval <= 0 {
		cfg.Interval = domain.DefaultHeartbeatInterval
	}
	if cfg.NewTicker == nil {
		cfg.NewTicker = newTimeTicker
	}
	return &Poller{cfg: cfg, inc: inc}
}

// Eligible reports whether a session should be metered: in the foreground,
// granted access by the trial rather than a subscription, and with an
// active, unexhausted trial.
func Eligible(s Session, limit int) bool {
	if !s.Foreground || s.SubscriptionActive {
		return false
	}
	if domain.Resolve(&s.Profile, false, limit) != domain.AccessAllowed {
		return false
	}
	return s.Profile.TrialActive(limit)
}

// Start begins metering. It returns ErrNotEligible without starting the timer
// when the session does not qualify. Starting a running poller is a no-op.
func (p *Poller) Start(ctx context.Context, s Session) error {
	if !Eligible(s, p.cfg.Limit) {
		return ErrNotEligible
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel != nil {
		return nil
	}

	p.profile = s.Profile
	p.status = domain.AccessAllowed

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	p.cancel = cancel
	p.done = done

	go p.run(runCtx, p.cfg.NewTicker(p.cfg.Interval), done)
	return nil
}

// Stop cancels the timer and waits for the poller goroutine to exit. Counters
// already committed by the server are kept. Safe to call more than once.
func (p *Poller) Stop() {
	p.mu.Lock()
	cancel, done := p.cancel, p.done
	p.cancel = nil
	p.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Running reports whether the timer is active.
func (p *Poller) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cancel != nil
}

// Profile returns the last server-confirmed profile.
func (p *Poller) Profile() domain.Profile {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.profile
}

// Status returns the access status derived from the last confirmed counters.
func (p *Poller) Status() domain.AccessStatus {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status
}

func (p *Poller) run(ctx context.Context, ticker Ticker, done chan struct{}) {
	defer close(done)
	defer ticker.Stop()

	logger := p.cfg.Logger.With().Str("user_id", p.cfg.UserID).Logger()
	seconds := int(p.cfg.Interval / time.Second)
	if seconds < 1 {
		seconds = 1
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C():
		}

		resp, err := p.inc.Increment(ctx, p.cfg.UserID, seconds)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			fatal := Fatal(err)
			if fatal {
				logger.Error().Err(err).Msg("Trial heartbeat rejected, stopping")
				p.detach(done)
			} else {
				logger.Warn().Err(err).Msg("Trial heartbeat failed")
			}
			if p.cfg.OnError != nil {
				p.cfg.OnError(err)
			}
			if fatal {
				return
			}
			continue
		}

		status, changed := p.apply(resp)
		logger.Debug().
			Int("trial_seconds_used", resp.SecondsUsed).
			Str("status", status.String()).
			Msg("Trial heartbeat")

		if status != domain.AccessAllowed {
			p.detach(done)
		}
		if changed && p.cfg.OnStatus != nil {
			p.cfg.OnStatus(status)
		}
		if status != domain.AccessAllowed {
			return
		}
	}
}

// apply records server counters and re-resolves access.
func (p *Poller) apply(resp *domain.IncrementTrialResponse) (domain.AccessStatus, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.profile.ApplyCounters(domain.TrialCounters{
		SecondsUsed: resp.SecondsUsed,
		UsedAt:      resp.UsedAt,
	})
	status := domain.Resolve(&p.profile, false, p.cfg.Limit)
	if resp.Exhausted {
		status = domain.AccessPaywall
	}
	changed := status != p.status
	p.status = status
	return status, changed
}

// detach marks the poller stopped from its own goroutine so that Stop, or a
// later Start, does not wait on it.
func (p *Poller) detach(done chan struct{}) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.done == done && p.cancel != nil {
		p.cancel()
		p.cancel = nil
	}
}
