// Package submission sends a player's answers to persistence exactly once per
// question, in question order, with bounded background retries.
package submission

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jonboulle/clockwork"

	"trivia-round-service/internal/domain"
)

// Submitter persists one answer. Duplicate submissions for the same question
// must be accepted without double counting.
type Submitter interface {
	SubmitAnswer(ctx context.Context, answer domain.Answer) (domain.AnswerReceipt, error)
}

// Config bounds request time and retries.
type Config struct {
	RequestTimeout time.Duration
	MaxRetries     uint64
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// DefaultConfig returns the retry budget used when none is configured.
func DefaultConfig() Config {
	return Config{
		RequestTimeout: 5 * time.Second,
		MaxRetries:     3,
		InitialBackoff: 500 * time.Millisecond,
		MaxBackoff:     4 * time.Second,
	}
}

// Request describes one answer attempt. Option is domain.NoAnswer for a timeout.
type Request struct {
	QuestionID    string
	QuestionIndex int
	Option        int
	Elapsed       time.Duration
	Limit         time.Duration
	At            time.Time
}

// Hooks observe call progress. They run on the coordinator's sender goroutine.
type Hooks struct {
	OnRetry   func(call *Call, err error, wait time.Duration)
	OnSettled func(call *Call)
}

// Call is a handle on a dispatched submission.
type Call struct {
	Answer domain.Answer

	done     chan struct{}
	receipt  domain.AnswerReceipt
	err      error
	attempts int
	started  time.Time
	finished time.Time
}

func newCall(answer domain.Answer) *Call {
	return &Call{Answer: answer, done: make(chan struct{})}
}

// Done is closed once the call settled.
func (c *Call) Done() <-chan struct{} {
	return c.done
}

// Result returns the outcome, or ErrSubmissionPending before the call settled.
func (c *Call) Result() (domain.AnswerReceipt, error) {
	select {
	case <-c.done:
		return c.receipt, c.err
	default:
		return domain.AnswerReceipt{}, domain.ErrSubmissionPending
	}
}

// Wait blocks until the call settles or ctx ends.
func (c *Call) Wait(ctx context.Context) (domain.AnswerReceipt, error) {
	select {
	case <-c.done:
		return c.receipt, c.err
	case <-ctx.Done():
		return domain.AnswerReceipt{}, ctx.Err()
	}
}

// Attempts reports how many requests were sent for the call.
func (c *Call) Attempts() int {
	<-c.done
	return c.attempts
}

// Latency is the time from the first attempt until the call settled.
func (c *Call) Latency() time.Duration {
	<-c.done
	return c.finished.Sub(c.started)
}

// Coordinator serializes one player's submissions for one game.
type Coordinator struct {
	gameID   string
	playerID string
	store    Submitter
	clock    clockwork.Clock
	cfg      Config
	hooks    Hooks

	base    context.Context
	cancel  context.CancelFunc
	wake    chan struct{}
	stopped chan struct{}

	mu      sync.Mutex
	closed  bool
	queue   []*Call
	calls   map[string]*Call
	acked   map[string]*Call
	failed  map[string]bool
	highest int
}

// New starts a coordinator. next is the index of the first question the player
// may still answer, normally the server's answered count.
func New(ctx context.Context, gameID, playerID string, store Submitter, clock clockwork.Clock, cfg Config, hooks Hooks, next int) *Coordinator {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = DefaultConfig().RequestTimeout
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = DefaultConfig().InitialBackoff
	}
	if cfg.MaxBackoff < cfg.InitialBackoff {
		cfg.MaxBackoff = cfg.InitialBackoff
	}
	base, cancel := context.WithCancel(ctx)
	c := &Coordinator{
		gameID:   gameID,
		playerID: playerID,
		store:    store,
		clock:    clock,
		cfg:      cfg,
		hooks:    hooks,
		base:     base,
		cancel:   cancel,
		wake:     make(chan struct{}, 1),
		stopped:  make(chan struct{}),
		calls:    make(map[string]*Call),
		acked:    make(map[string]*Call),
		failed:   make(map[string]bool),
		highest:  next - 1,
	}
	go c.run()
	return c
}

// Dispatch queues a submission and returns its handle without waiting. A
// question that is in flight or acknowledged returns the existing call. Only a
// question whose last call failed may be sent behind a later one.
func (c *Coordinator) Dispatch(req Request) (*Call, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if call, ok := c.acked[req.QuestionID]; ok {
		return call, nil
	}
	if call, ok := c.calls[req.QuestionID]; ok {
		return call, nil
	}
	if c.closed {
		return nil, domain.ErrSessionClosed
	}
	if req.QuestionIndex < c.highest && !c.failed[req.QuestionID] {
		return nil, domain.ErrOutOfOrder
	}

	call := newCall(c.answer(req))
	c.calls[req.QuestionID] = call
	c.queue = append(c.queue, call)
	if req.QuestionIndex > c.highest {
		c.highest = req.QuestionIndex
	}
	select {
	case c.wake <- struct{}{}:
	default:
	}
	return call, nil
}

// Submit dispatches and waits for the outcome.
func (c *Coordinator) Submit(ctx context.Context, req Request) (domain.AnswerReceipt, error) {
	call, err := c.Dispatch(req)
	if err != nil {
		return domain.AnswerReceipt{}, err
	}
	return call.Wait(ctx)
}

// Acknowledged returns the settled call for a question, if it succeeded.
func (c *Coordinator) Acknowledged(questionID string) (*Call, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	call, ok := c.acked[questionID]
	return call, ok
}

// Close stops retries and waits for queued calls to settle. Calls still queued
// get a single attempt; a request already on the wire runs to completion.
func (c *Coordinator) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		<-c.stopped
		return
	}
	c.closed = true
	c.mu.Unlock()

	c.cancel()
	select {
	case c.wake <- struct{}{}:
	default:
	}
	<-c.stopped
}

func (c *Coordinator) answer(req Request) domain.Answer {
	elapsed := req.Elapsed
	if elapsed < 0 {
		elapsed = 0
	}
	if req.Limit > 0 && elapsed > req.Limit {
		elapsed = req.Limit
	}
	at := req.At
	if at.IsZero() {
		at = c.clock.Now()
	}
	return domain.Answer{
		GameID:        c.gameID,
		PlayerID:      c.playerID,
		QuestionID:    req.QuestionID,
		QuestionIndex: req.QuestionIndex,
		Option:        req.Option,
		TimeTaken:     elapsed,
		SubmittedAt:   at,
	}
}

func (c *Coordinator) run() {
	defer close(c.stopped)
	for {
		call, ok := c.next()
		if !ok {
			return
		}
		c.send(call)
	}
}

func (c *Coordinator) next() (*Call, bool) {
	for {
		c.mu.Lock()
		if len(c.queue) > 0 {
			call := c.queue[0]
			c.queue = c.queue[1:]
			c.mu.Unlock()
			return call, true
		}
		closed := c.closed
		c.mu.Unlock()
		if closed {
			return nil, false
		}
		<-c.wake
	}
}

func (c *Coordinator) send(call *Call) {
	call.started = c.clock.Now()

	var lastErr error
	op := func() (domain.AnswerReceipt, error) {
		call.attempts++
		// Requests outlive the session context so a late ack is still persisted.
		reqCtx, cancel := context.WithTimeout(context.WithoutCancel(c.base), c.cfg.RequestTimeout)
		defer cancel()
		receipt, err := c.store.SubmitAnswer(reqCtx, call.Answer)
		if err != nil {
			lastErr = err
			if permanent(err) {
				return receipt, backoff.Permanent(err)
			}
			return receipt, err
		}
		return receipt, nil
	}
	notify := func(err error, wait time.Duration) {
		if c.hooks.OnRetry != nil {
			c.hooks.OnRetry(call, err, wait)
		}
	}

	receipt, err := backoff.RetryNotifyWithTimerAndData(op, c.policy(), notify, &clockTimer{clock: c.clock})
	if err != nil && lastErr != nil && errors.Is(err, context.Canceled) {
		err = lastErr
	}
	c.settle(call, receipt, err)
}

func (c *Coordinator) policy() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.cfg.InitialBackoff
	b.MaxInterval = c.cfg.MaxBackoff
	b.RandomizationFactor = 0
	b.Multiplier = 2
	b.MaxElapsedTime = 0
	b.Clock = c.clock
	return backoff.WithContext(backoff.WithMaxRetries(b, c.cfg.MaxRetries), c.base)
}

func (c *Coordinator) settle(call *Call, receipt domain.AnswerReceipt, err error) {
	c.mu.Lock()
	call.receipt = receipt
	call.err = err
	call.finished = c.clock.Now()
	delete(c.calls, call.Answer.QuestionID)
	if err == nil {
		c.acked[call.Answer.QuestionID] = call
		delete(c.failed, call.Answer.QuestionID)
	} else {
		c.failed[call.Answer.QuestionID] = true
	}
	c.mu.Unlock()
	close(call.done)

	if c.hooks.OnSettled != nil {
		c.hooks.OnSettled(call)
	}
}

// permanent reports whether retrying cannot change the outcome.
func permanent(err error) bool {
	switch {
	case errors.Is(err, domain.ErrGameNotFound),
		errors.Is(err, domain.ErrProgressNotFound),
		errors.Is(err, domain.ErrQuestionNotFound),
		errors.Is(err, domain.ErrOptionNotFound),
		errors.Is(err, domain.ErrOutOfOrder),
		errors.Is(err, domain.ErrNotParticipant),
		errors.Is(err, domain.ErrInvariant):
		return true
	}
	return false
}
