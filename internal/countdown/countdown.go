// Package countdown provides a restartable timer that reports remaining time
// against an absolute deadline and fires a completion callback once per start.
package countdown

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// DefaultInterval is the display tick cadence.
const DefaultInterval = 250 * time.Millisecond

type state int

const (
	stateIdle state = iota
	stateRunning
	statePaused
	stateDone
)

// Handlers receive countdown notifications. Both run on the countdown's own
// goroutine, never while the countdown lock is held.
type Handlers struct {
	OnTick func(remaining time.Duration)
	OnDone func()
}

// Countdown counts down to a deadline. Remaining time is always recomputed
// from the deadline so backgrounded or late ticks cannot accumulate drift.
type Countdown struct {
	clock    clockwork.Clock
	interval time.Duration
	handlers Handlers

	mu       sync.Mutex
	state    state
	run      uint64
	stop     chan struct{}
	deadline time.Time
	total    time.Duration
	left     time.Duration // remaining at pause
}

// New builds an idle countdown. A non-positive interval falls back to DefaultInterval.
func New(clock clockwork.Clock, interval time.Duration, handlers Handlers) *Countdown {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Countdown{
		clock:    clock,
		interval: interval,
		handlers: handlers,
	}
}

// Start begins counting down d from now, cancelling any previous run without
// firing its completion.
func (c *Countdown) Start(d time.Duration) {
	c.StartAt(c.clock.Now().Add(d))
}

// StartAt begins counting down to an absolute deadline.
func (c *Countdown) StartAt(deadline time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.cancelLocked()
	now := c.clock.Now()
	c.deadline = deadline
	c.total = deadline.Sub(now)
	if c.total < 0 {
		c.total = 0
	}
	c.left = 0
	c.state = stateRunning
	c.launchLocked()
}

// Pause suspends ticking and freezes the remaining time.
func (c *Countdown) Pause() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != stateRunning {
		return
	}
	c.left = c.remainingLocked(c.clock.Now())
	c.cancelLocked()
	c.state = statePaused
}

// Resume continues a paused countdown with the remaining time frozen by Pause.
func (c *Countdown) Resume() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != statePaused {
		return
	}
	c.deadline = c.clock.Now().Add(c.left)
	c.state = stateRunning
	c.launchLocked()
}

// Reset stops the countdown and returns it to the not-started state.
func (c *Countdown) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cancelLocked()
	c.state = stateIdle
	c.deadline = time.Time{}
	c.total = 0
	c.left = 0
}

// Remaining reports the time left, clamped at zero.
func (c *Countdown) Remaining() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.remainingLocked(c.clock.Now())
}

// Elapsed reports how much of the current run has passed.
func (c *Countdown) Elapsed() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == stateIdle {
		return 0
	}
	return c.total - c.remainingLocked(c.clock.Now())
}

// Deadline returns the deadline of the current run; zero when idle or paused.
func (c *Countdown) Deadline() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != stateRunning && c.state != stateDone {
		return time.Time{}
	}
	return c.deadline
}

// Running reports whether the countdown is ticking.
func (c *Countdown) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == stateRunning
}

func (c *Countdown) remainingLocked(now time.Time) time.Duration {
	switch c.state {
	case stateRunning:
		if rem := c.deadline.Sub(now); rem > 0 {
			return rem
		}
		return 0
	case statePaused:
		return c.left
	default:
		return 0
	}
}

// cancelLocked invalidates the current run so its goroutine exits without callbacks.
func (c *Countdown) cancelLocked() {
	c.run++
	if c.stop != nil {
		close(c.stop)
		c.stop = nil
	}
}

func (c *Countdown) launchLocked() {
	c.run++
	c.stop = make(chan struct{})
	go c.loop(c.run, c.deadline, c.stop)
}

func (c *Countdown) loop(run uint64, deadline time.Time, stop <-chan struct{}) {
	wait := deadline.Sub(c.clock.Now())
	if wait <= 0 {
		c.complete(run)
		return
	}

	timer := c.clock.NewTimer(wait)
	defer timer.Stop()
	ticker := c.clock.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.Chan():
			c.tick(run)
		case <-timer.Chan():
			c.complete(run)
			return
		}
	}
}

func (c *Countdown) tick(run uint64) {
	c.mu.Lock()
	if run != c.run || c.state != stateRunning {
		c.mu.Unlock()
		return
	}
	rem := c.remainingLocked(c.clock.Now())
	onTick := c.handlers.OnTick
	c.mu.Unlock()

	if onTick != nil {
		onTick(rem)
	}
}

func (c *Countdown) complete(run uint64) {
	c.mu.Lock()
	if run != c.run || c.state != stateRunning {
		c.mu.Unlock()
		return
	}
	c.state = stateDone
	c.stop = nil
	onDone := c.handlers.OnDone
	c.mu.Unlock()

	if onDone != nil {
		onDone()
	}
}
