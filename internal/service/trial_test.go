package service

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/bianutri/backend/internal/domain"
	"github.com/bianutri/backend/internal/repository"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestStore(t *testing.T) *repository.SQLiteStore {
	t.Helper()
	store, err := repository.NewSQLiteStore(filepath.Join(t.TempDir(), "trial.db"))
	require.NoError(t, err)
	t.Cleanup(store.Close)
	return store
}

func testTrialConfig() domain.TrialConfig {
	return domain.TrialConfig{
		LimitSeconds:        1800,
		Minutes:             30,
		HeartbeatSeconds:    15,
		MaxIncrementSeconds: 900,
	}
}

type trialFixture struct {
	store    *repository.SQLiteStore
	trials   *TrialService
	profiles *ProfileService
}

func newTrialFixture(t *testing.T, cfg domain.TrialConfig) *trialFixture {
	t.Helper()
	store := newTestStore(t)
	trials := NewTrialService(store, cfg, zerolog.Nop())
	trials.now = func() time.Time { return fixedNow }
	profiles := NewProfileService(store, cfg.LimitSeconds, zerolog.Nop())
	profiles.now = func() time.Time { return fixedNow }
	return &trialFixture{store: store, trials: trials, profiles: profiles}
}

// withPhone creates userID with a registered phone.
func (f *trialFixture) withPhone(t *testing.T, userID, phone string) {
	t.Helper()
	_, err := f.profiles.SetPhone(context.Background(), userID, phone)
	require.NoError(t, err)
}

func (f *trialFixture) exhaust(t *testing.T, userID string) *domain.IncrementTrialResponse {
	t.Helper()
	ctx := context.Background()
	_, err := f.trials.Start(ctx, userID)
	require.NoError(t, err)

	var resp *domain.IncrementTrialResponse
	for i := 0; i < 2; i++ {
		resp, err = f.trials.Increment(ctx, userID, 900)
		require.NoError(t, err)
	}
	require.True(t, resp.Exhausted)
	return resp
}

func TestStartRequiresPhone(t *testing.T) {
	f := newTrialFixture(t, testTrialConfig())
	ctx := context.Background()

	_, err := f.store.EnsureProfile(ctx, "user-1")
	require.NoError(t, err)

	_, err = f.trials.Start(ctx, "user-1")
	require.Error(t, err)
	assert.True(t, domain.IsCode(err, domain.CodePhoneRequired))
}

func TestStartUnknownProfile(t *testing.T) {
	f := newTrialFixture(t, testTrialConfig())

	_, err := f.trials.Start(context.Background(), "ghost")
	require.Error(t, err)
	appErr, ok := domain.AsAppError(err)
	require.True(t, ok)
	assert.Equal(t, 404, appErr.Code)
}

func TestStartInitializesCounters(t *testing.T) {
	f := newTrialFixture(t, testTrialConfig())
	f.withPhone(t, "user-1", "(11) 99999-0000")

	resp, err := f.trials.Start(context.Background(), "user-1")
	require.NoError(t, err)
	require.NotNil(t, resp.StartedAt)
	assert.True(t, resp.StartedAt.Equal(fixedNow))
	assert.Equal(t, 0, resp.SecondsUsed)
	assert.Nil(t, resp.UsedAt)

	p, err := f.store.FindProfile(context.Background(), "user-1")
	require.NoError(t, err)
	require.NotNil(t, p.TrialStartedAt)
	assert.True(t, p.TrialStartedAt.Equal(fixedNow))
	assert.Equal(t, domain.StateTrialActive, p.State(1800))
}

func TestStartOnActiveTrialKeepsCounters(t *testing.T) {
	f := newTrialFixture(t, testTrialConfig())
	ctx := context.Background()
	f.withPhone(t, "user-1", "11999990000")

	_, err := f.trials.Start(ctx, "user-1")
	require.NoError(t, err)
	_, err = f.trials.Increment(ctx, "user-1", 120)
	require.NoError(t, err)

	f.trials.now = func() time.Time { return fixedNow.Add(time.Hour) }
	resp, err := f.trials.Start(ctx, "user-1")
	require.NoError(t, err)
	assert.True(t, resp.StartedAt.Equal(fixedNow))
	assert.Equal(t, 120, resp.SecondsUsed)
}

func TestStartAfterOwnExhaustion(t *testing.T) {
	f := newTrialFixture(t, testTrialConfig())
	f.withPhone(t, "user-1", "11999990000")
	f.exhaust(t, "user-1")

	_, err := f.trials.Start(context.Background(), "user-1")
	require.Error(t, err)
	appErr, ok := domain.AsAppError(err)
	require.True(t, ok)
	assert.Equal(t, domain.CodeTrialAlreadyUsed, appErr.Message)
	assert.Equal(t, 1800, appErr.Details["trial_seconds_used"])
}

func TestStartWithPhoneExhaustedElsewhere(t *testing.T) {
	f := newTrialFixture(t, testTrialConfig())
	f.withPhone(t, "user-a", "11999990000")
	f.withPhone(t, "user-b", "+55 11 99999-0000")
	f.exhaust(t, "user-a")

	_, err := f.trials.Start(context.Background(), "user-b")
	require.Error(t, err)
	assert.True(t, domain.IsCode(err, domain.CodePhoneAlreadyUsed))

	p, err := f.store.FindProfile(context.Background(), "user-b")
	require.NoError(t, err)
	assert.Nil(t, p.TrialStartedAt)
}

func TestStartKeepsActiveTrialWhenPhoneIsSpentLater(t *testing.T) {
	f := newTrialFixture(t, testTrialConfig())
	ctx := context.Background()
	f.withPhone(t, "user-a", "11999990000")
	f.withPhone(t, "user-b", "11999990000")

	_, err := f.trials.Start(ctx, "user-b")
	require.NoError(t, err)
	_, err = f.trials.Increment(ctx, "user-b", 15)
	require.NoError(t, err)

	f.exhaust(t, "user-a")

	resp, err := f.trials.Start(ctx, "user-b")
	require.NoError(t, err)
	require.NotNil(t, resp.StartedAt)
	assert.True(t, resp.StartedAt.Equal(fixedNow))
	assert.Equal(t, 15, resp.SecondsUsed)
	assert.Nil(t, resp.UsedAt)
}

func TestIncrementBeforeStart(t *testing.T) {
	f := newTrialFixture(t, testTrialConfig())
	f.withPhone(t, "user-1", "11999990000")

	_, err := f.trials.Increment(context.Background(), "user-1", 400)
	require.Error(t, err)
	assert.True(t, domain.IsCode(err, domain.CodeTrialNotStarted))
}

func TestIncrementRejectsNonPositiveSeconds(t *testing.T) {
	f := newTrialFixture(t, testTrialConfig())
	f.withPhone(t, "user-1", "11999990000")

	for _, seconds := range []int{0, -30} {
		_, err := f.trials.Increment(context.Background(), "user-1", seconds)
		require.Error(t, err)
		assert.True(t, domain.IsCode(err, domain.CodeInvalidSeconds), "seconds=%d", seconds)
	}
}

func TestIncrementClampsLargeDelta(t *testing.T) {
	cfg := testTrialConfig()
	cfg.MaxIncrementSeconds = 300
	f := newTrialFixture(t, cfg)
	ctx := context.Background()
	f.withPhone(t, "user-1", "11999990000")
	_, err := f.trials.Start(ctx, "user-1")
	require.NoError(t, err)

	resp, err := f.trials.Increment(ctx, "user-1", 5000)
	require.NoError(t, err)
	assert.Equal(t, 300, resp.SecondsUsed)
	assert.False(t, resp.Exhausted)
}

func TestIncrementCapsAndFreezes(t *testing.T) {
	f := newTrialFixture(t, testTrialConfig())
	ctx := context.Background()
	f.withPhone(t, "user-1", "11999990000")
	_, err := f.trials.Start(ctx, "user-1")
	require.NoError(t, err)

	resp, err := f.trials.Increment(ctx, "user-1", 900)
	require.NoError(t, err)
	assert.Equal(t, 900, resp.SecondsUsed)
	assert.Nil(t, resp.UsedAt)

	resp, err = f.trials.Increment(ctx, "user-1", 901)
	require.NoError(t, err)
	assert.Equal(t, 1800, resp.SecondsUsed)
	require.NotNil(t, resp.UsedAt)
	assert.True(t, resp.UsedAt.Equal(fixedNow))
	assert.True(t, resp.Exhausted)

	// Later calls return the frozen counters, even with a moving clock.
	f.trials.now = func() time.Time { return fixedNow.Add(time.Hour) }
	again, err := f.trials.Increment(ctx, "user-1", 15)
	require.NoError(t, err)
	assert.Equal(t, 1800, again.SecondsUsed)
	assert.True(t, again.UsedAt.Equal(*resp.UsedAt))

	p, err := f.store.FindProfile(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, 1800, p.TrialSecondsUsed)
	require.NotNil(t, p.TrialUsedAt)
	assert.True(t, p.TrialUsedAt.Equal(*resp.UsedAt))
}

func TestConcurrentIncrementsNeverExceedLimit(t *testing.T) {
	f := newTrialFixture(t, testTrialConfig())
	ctx := context.Background()
	f.withPhone(t, "user-1", "11999990000")
	_, err := f.trials.Start(ctx, "user-1")
	require.NoError(t, err)
	_, err = f.trials.Increment(ctx, "user-1", 900)
	require.NoError(t, err)

	var (
		mu        sync.Mutex
		responses []*domain.IncrementTrialResponse
	)
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < 3; i++ {
		g.Go(func() error {
			resp, err := f.trials.Increment(gctx, "user-1", 900)
			if err != nil {
				return err
			}
			mu.Lock()
			responses = append(responses, resp)
			mu.Unlock()
			return nil
		})
	}
	require.NoError(t, g.Wait())
	require.Len(t, responses, 3)

	first := responses[0].UsedAt
	require.NotNil(t, first)
	for _, resp := range responses {
		assert.Equal(t, 1800, resp.SecondsUsed)
		assert.True(t, resp.Exhausted)
		require.NotNil(t, resp.UsedAt)
		assert.True(t, resp.UsedAt.Equal(*first))
	}

	p, err := f.store.FindProfile(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, 1800, p.TrialSecondsUsed)
}

func TestConcurrentIncrementsFromZero(t *testing.T) {
	f := newTrialFixture(t, testTrialConfig())
	ctx := context.Background()
	f.withPhone(t, "user-1", "11999990000")
	_, err := f.trials.Start(ctx, "user-1")
	require.NoError(t, err)

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < 10; i++ {
		g.Go(func() error {
			_, err := f.trials.Increment(gctx, "user-1", 300)
			return err
		})
	}
	require.NoError(t, g.Wait())

	p, err := f.store.FindProfile(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, 1800, p.TrialSecondsUsed)
	assert.NotNil(t, p.TrialUsedAt)
}

func TestConfigIsServedAsEnforced(t *testing.T) {
	cfg := testTrialConfig()
	f := newTrialFixture(t, cfg)
	assert.Equal(t, cfg, f.trials.Config())
}
