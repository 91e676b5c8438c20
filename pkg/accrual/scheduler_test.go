package accrual

import (
	"context"
	"testing"
	"time"

	"github.com/mcclellann/fredInvest/pkg/clock"
	"github.com/mcclellann/fredInvest/pkg/lock"
	"github.com/mcclellann/fredInvest/pkg/logging"
	"github.com/mcclellann/fredInvest/pkg/models"
	"github.com/mcclellann/fredInvest/pkg/store"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScheduler_TickUsesClock(t *testing.T) {
	s := store.NewMemoryStore()
	inv := openPremium(t, s, "user-1")
	c := clock.NewManual(start)
	sched := NewScheduler(NewProcessor(s), c, time.Minute, lock.NewLocal(), logging.NewSilent())
	ctx := context.Background()

	_, ok := sched.LastReport()
	assert.False(t, ok)

	// Polling every ten minutes for a simulated week accrues once per day.
	for c.Now().Before(start.Add(7*day + time.Hour)) {
		_, err := sched.Tick(ctx)
		require.NoError(t, err)
		c.Advance(10 * time.Minute)
	}

	got := reload(t, s, inv.ID)
	assert.Equal(t, models.InvestmentStatusCompleted, got.Status)
	assert.True(t, got.PayoutAmount.Equal(decimal.NewFromInt(1140)), "got %s", got.PayoutAmount)

	last, ok := sched.LastReport()
	require.True(t, ok)
	assert.Zero(t, last.Examined)
}

func TestScheduler_SkipsWhenLockHeld(t *testing.T) {
	s := store.NewMemoryStore()
	openPremium(t, s, "user-1")
	locker := lock.NewLocal()
	sched := NewScheduler(NewProcessor(s), clock.NewManual(start.Add(day)), time.Minute, locker, nil)

	release, ok, err := locker.TryAcquire(context.Background(), passLockName)
	require.NoError(t, err)
	require.True(t, ok)

	report, err := sched.Trigger(context.Background())
	require.NoError(t, err)
	assert.True(t, report.Skipped)
	assert.Zero(t, report.Accrued)

	release()
	report, err = sched.Trigger(context.Background())
	require.NoError(t, err)
	assert.False(t, report.Skipped)
	assert.Equal(t, 1, report.Accrued)
}

func TestScheduler_RunStopsOnCancel(t *testing.T) {
	s := store.NewMemoryStore()
	inv := openPremium(t, s, "user-1")
	sched := NewScheduler(NewProcessor(s), clock.NewManual(start.Add(day)), 5*time.Millisecond, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		sched.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		_, ok := sched.LastReport()
		return ok
	}, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("scheduler did not stop")
	}
	assert.True(t, reload(t, s, inv.ID).PayoutAmount.Equal(decimal.NewFromInt(1020)))
}

func TestNewScheduler_Defaults(t *testing.T) {
	sched := NewScheduler(NewProcessor(store.NewMemoryStore()), nil, 0, nil, nil)
	assert.Equal(t, DefaultPollInterval, sched.Interval())
}
