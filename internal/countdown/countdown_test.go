package countdown_test

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trivia-round-service/internal/countdown"
)

var t0 = time.Date(2026, 3, 1, 18, 0, 0, 0, time.UTC)

// advanceUntil steps the fake clock until done fires or the real-time budget runs out.
func advanceUntil(t *testing.T, fc *clockwork.FakeClock, done <-chan struct{}, step time.Duration) {
	t.Helper()
	budget := time.After(2 * time.Second)
	for {
		select {
		case <-done:
			return
		case <-budget:
			t.Fatalf("countdown did not complete")
		case <-time.After(2 * time.Millisecond):
			fc.Advance(step)
		}
	}
}

func assertNotFired(t *testing.T, done <-chan struct{}) {
	t.Helper()
	select {
	case <-done:
		t.Fatalf("completion fired unexpectedly")
	case <-time.After(30 * time.Millisecond):
	}
}

func TestRemainingComesFromDeadline(t *testing.T) {
	fc := clockwork.NewFakeClockAt(t0)
	cd := countdown.New(fc, time.Second, countdown.Handlers{})

	assert.Zero(t, cd.Remaining())
	cd.Start(10 * time.Second)
	assert.Equal(t, t0.Add(10*time.Second), cd.Deadline())

	fc.Advance(3 * time.Second)
	assert.Equal(t, 7*time.Second, cd.Remaining())
	assert.Equal(t, 3*time.Second, cd.Elapsed())

	fc.Advance(time.Minute)
	assert.Zero(t, cd.Remaining(), "remaining never goes negative")
}

func TestPauseResumeKeepsElapsed(t *testing.T) {
	fc := clockwork.NewFakeClockAt(t0)
	cd := countdown.New(fc, time.Second, countdown.Handlers{})

	cd.Start(10 * time.Second)
	fc.Advance(3 * time.Second)
	cd.Pause()
	assert.False(t, cd.Running())

	fc.Advance(20 * time.Second)
	assert.Equal(t, 7*time.Second, cd.Remaining())
	assert.Equal(t, 3*time.Second, cd.Elapsed())

	cd.Resume()
	fc.Advance(2 * time.Second)
	assert.Equal(t, 5*time.Second, cd.Remaining())
	assert.Equal(t, 5*time.Second, cd.Elapsed())
}

func TestCompletionFiresOnce(t *testing.T) {
	fc := clockwork.NewFakeClockAt(t0)
	var fired atomic.Int32
	done := make(chan struct{}, 4)
	cd := countdown.New(fc, time.Second, countdown.Handlers{OnDone: func() {
		fired.Add(1)
		done <- struct{}{}
	}})

	cd.Start(2 * time.Second)
	advanceUntil(t, fc, done, 500*time.Millisecond)

	fc.Advance(10 * time.Second)
	assertNotFired(t, done)
	assert.Equal(t, int32(1), fired.Load())
	assert.False(t, cd.Running())
	assert.Equal(t, 2*time.Second, cd.Elapsed())
}

func TestRestartCancelsPreviousCompletion(t *testing.T) {
	fc := clockwork.NewFakeClockAt(t0)
	var fired atomic.Int32
	done := make(chan struct{}, 4)
	cd := countdown.New(fc, time.Second, countdown.Handlers{OnDone: func() {
		fired.Add(1)
		done <- struct{}{}
	}})

	cd.Start(time.Second)
	cd.StartAt(t0.Add(10 * time.Second))

	fc.Advance(5 * time.Second)
	assertNotFired(t, done)

	advanceUntil(t, fc, done, time.Second)
	assert.Equal(t, int32(1), fired.Load())
}

func TestResetPreventsCompletion(t *testing.T) {
	fc := clockwork.NewFakeClockAt(t0)
	done := make(chan struct{}, 1)
	cd := countdown.New(fc, time.Second, countdown.Handlers{OnDone: func() { done <- struct{}{} }})

	cd.Start(time.Second)
	cd.Reset()
	fc.Advance(5 * time.Second)
	assertNotFired(t, done)
	assert.Zero(t, cd.Elapsed())
	assert.True(t, cd.Deadline().IsZero())
}

func TestPastDeadlineCompletesImmediately(t *testing.T) {
	fc := clockwork.NewFakeClockAt(t0)
	done := make(chan struct{}, 1)
	cd := countdown.New(fc, time.Second, countdown.Handlers{OnDone: func() { done <- struct{}{} }})

	cd.StartAt(t0.Add(-time.Second))
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("expected immediate completion")
	}
	assert.Zero(t, cd.Remaining())
}

func TestTicksReportClampedRemaining(t *testing.T) {
	fc := clockwork.NewFakeClockAt(t0)
	ticks := make(chan time.Duration, 16)
	cd := countdown.New(fc, 200*time.Millisecond, countdown.Handlers{OnTick: func(rem time.Duration) {
		select {
		case ticks <- rem:
		default:
		}
	}})

	cd.Start(time.Minute)
	var got time.Duration
	require.Eventually(t, func() bool {
		fc.Advance(200 * time.Millisecond)
		select {
		case got = <-ticks:
			return true
		default:
			return false
		}
	}, 2*time.Second, 5*time.Millisecond)
	assert.GreaterOrEqual(t, got, time.Duration(0))
	assert.Less(t, got, time.Minute)
}
