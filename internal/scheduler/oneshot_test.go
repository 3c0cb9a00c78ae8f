package scheduler_test

import (
	"math"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"licensecore/internal/scheduler"
	"licensecore/internal/shared/testutil"
)

func TestOneShotFiresOnce(t *testing.T) {
	clock := testutil.NewFakeClock(time.Unix(1_000, 0))
	logger, _ := testutil.NewTestLogger(t)
	s := scheduler.NewOneShot(clock, logger)

	var calls []uint64
	gen, err := s.Schedule(10*time.Second, func(g uint64) { calls = append(calls, g) })
	require.NoError(t, err)
	assert.True(t, s.Pending())

	due, ok := s.DueAt()
	assert.True(t, ok)
	assert.Equal(t, time.Unix(1_010, 0), due)

	clock.Advance(9 * time.Second)
	assert.Empty(t, calls)

	clock.Advance(time.Second)
	assert.Equal(t, []uint64{gen}, calls)
	assert.False(t, s.Pending())

	clock.Advance(time.Hour)
	assert.Len(t, calls, 1)
}

func TestOneShotRescheduleSupersedes(t *testing.T) {
	clock := testutil.NewFakeClock(time.Unix(0, 0))
	s := scheduler.NewOneShot(clock, nil)

	var first, second int32
	_, err := s.Schedule(5*time.Second, func(uint64) { atomic.AddInt32(&first, 1) })
	require.NoError(t, err)
	_, err = s.Schedule(20*time.Second, func(uint64) { atomic.AddInt32(&second, 1) })
	require.NoError(t, err)

	assert.Equal(t, 1, clock.PendingTimers())

	clock.Advance(time.Minute)
	assert.Equal(t, int32(0), atomic.LoadInt32(&first))
	assert.Equal(t, int32(1), atomic.LoadInt32(&second))
}

func TestOneShotStaleFiringIsDropped(t *testing.T) {
	clock := testutil.NewFakeClock(time.Unix(0, 0))
	s := scheduler.NewOneShot(clock, nil)

	var stale, current int32
	_, err := s.Schedule(time.Second, func(uint64) { atomic.AddInt32(&stale, 1) })
	require.NoError(t, err)
	_, err = s.Schedule(time.Hour, func(uint64) { atomic.AddInt32(&current, 1) })
	require.NoError(t, err)

	// the superseded timer races its cancellation
	clock.FireAll(true)

	assert.Equal(t, int32(0), atomic.LoadInt32(&stale))
	assert.Equal(t, int32(1), atomic.LoadInt32(&current))
}

func TestOneShotCancel(t *testing.T) {
	clock := testutil.NewFakeClock(time.Unix(0, 0))
	s := scheduler.NewOneShot(clock, nil)

	var calls int32
	gen, err := s.Schedule(time.Second, func(uint64) { atomic.AddInt32(&calls, 1) })
	require.NoError(t, err)

	s.Cancel()
	assert.False(t, s.Pending())
	assert.Greater(t, s.Generation(), gen)

	clock.FireAll(true)
	assert.Equal(t, int32(0), atomic.LoadInt32(&calls))
}

func TestOneShotRejectsNegativeDelay(t *testing.T) {
	s := scheduler.NewOneShot(testutil.NewFakeClock(time.Unix(0, 0)), nil)
	_, err := s.Schedule(-time.Second, func(uint64) {})
	assert.ErrorIs(t, err, scheduler.ErrDelayTooLong)
	assert.False(t, s.Pending())
}

func TestDelayFromSeconds(t *testing.T) {
	d, ok := scheduler.DelayFromSeconds(61)
	assert.True(t, ok)
	assert.Equal(t, 61*time.Second, d)

	_, ok = scheduler.DelayFromSeconds(math.MaxInt64)
	assert.False(t, ok)

	_, ok = scheduler.DelayFromSeconds(-1)
	assert.False(t, ok)
}

func TestRealClock(t *testing.T) {
	s := scheduler.NewOneShot(nil, nil)
	done := make(chan struct{})
	_, err := s.Schedule(time.Millisecond, func(uint64) { close(done) })
	require.NoError(t, err)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("callback did not run")
	}
}
