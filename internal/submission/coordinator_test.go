package submission_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trivia-round-service/internal/domain"
	"trivia-round-service/internal/submission"
)

var errFlaky = errors.New("connection reset")

type fakeStore struct {
	mu       sync.Mutex
	received []domain.Answer
	answered map[string]bool
	flaky    map[string]int
	reject   map[string]error
	gate     chan struct{}
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		answered: make(map[string]bool),
		flaky:    make(map[string]int),
		reject:   make(map[string]error),
	}
}

func (s *fakeStore) SubmitAnswer(ctx context.Context, a domain.Answer) (domain.AnswerReceipt, error) {
	if s.gate != nil {
		select {
		case <-s.gate:
		case <-ctx.Done():
			return domain.AnswerReceipt{}, ctx.Err()
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.received = append(s.received, a)
	if err, ok := s.reject[a.QuestionID]; ok {
		return domain.AnswerReceipt{}, err
	}
	if s.flaky[a.QuestionID] > 0 {
		s.flaky[a.QuestionID]--
		return domain.AnswerReceipt{}, errFlaky
	}
	dup := s.answered[a.QuestionID]
	s.answered[a.QuestionID] = true
	return domain.AnswerReceipt{
		Answer:    a,
		Duplicate: dup,
		Progress:  domain.PlayerProgress{AnsweredCount: len(s.answered)},
	}, nil
}

func (s *fakeStore) requests() []domain.Answer {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.Answer(nil), s.received...)
}

func newCoordinator(t *testing.T, store submission.Submitter, clock clockwork.Clock, hooks submission.Hooks) *submission.Coordinator {
	t.Helper()
	cfg := submission.Config{
		RequestTimeout: time.Second,
		MaxRetries:     2,
		InitialBackoff: 100 * time.Millisecond,
		MaxBackoff:     time.Second,
	}
	c := submission.New(context.Background(), "g-1", "p-1", store, clock, cfg, hooks, 0)
	t.Cleanup(c.Close)
	return c
}

func req(index int, id string, option int) submission.Request {
	return submission.Request{QuestionID: id, QuestionIndex: index, Option: option, Elapsed: 2 * time.Second, Limit: 10 * time.Second}
}

func TestSubmitIsIdempotent(t *testing.T) {
	store := newFakeStore()
	c := newCoordinator(t, store, clockwork.NewFakeClock(), submission.Hooks{})
	ctx := context.Background()

	first, err := c.Submit(ctx, req(0, "q0", 1))
	require.NoError(t, err)
	second, err := c.Submit(ctx, req(0, "q0", 2))
	require.NoError(t, err)

	assert.Equal(t, first, second, "second call returns the prior result")
	assert.Len(t, store.requests(), 1)
	assert.Equal(t, 1, store.requests()[0].Option)

	_, ok := c.Acknowledged("q0")
	assert.True(t, ok)
}

func TestConcurrentCallsShareInFlightRequest(t *testing.T) {
	store := newFakeStore()
	store.gate = make(chan struct{})
	c := newCoordinator(t, store, clockwork.NewFakeClock(), submission.Hooks{})

	var wg sync.WaitGroup
	results := make([]domain.AnswerReceipt, 4)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			r, err := c.Submit(context.Background(), req(0, "q0", 0))
			assert.NoError(t, err)
			results[i] = r
		}(i)
	}

	call, err := c.Dispatch(req(0, "q0", 0))
	require.NoError(t, err)
	_, err = call.Result()
	assert.ErrorIs(t, err, domain.ErrSubmissionPending)

	close(store.gate)
	wg.Wait()

	assert.Len(t, store.requests(), 1)
	for _, r := range results {
		assert.Equal(t, "q0", r.Answer.QuestionID)
		assert.False(t, r.Duplicate)
	}
}

func TestSubmissionsAreSentInQuestionOrder(t *testing.T) {
	store := newFakeStore()
	store.gate = make(chan struct{})
	c := newCoordinator(t, store, clockwork.NewFakeClock(), submission.Hooks{})

	first, err := c.Dispatch(req(0, "q0", domain.NoAnswer))
	require.NoError(t, err)
	second, err := c.Dispatch(req(1, "q1", 2))
	require.NoError(t, err)

	_, err = c.Dispatch(req(0, "q-late", 1))
	assert.ErrorIs(t, err, domain.ErrOutOfOrder)

	close(store.gate)
	_, err = second.Wait(context.Background())
	require.NoError(t, err)
	_, err = first.Result()
	require.NoError(t, err)

	got := store.requests()
	require.Len(t, got, 2)
	assert.Equal(t, "q0", got[0].QuestionID)
	assert.Equal(t, domain.NoAnswer, got[0].Option, "timeouts are recorded, not dropped")
	assert.Equal(t, "q1", got[1].QuestionID)
}

func TestElapsedIsClamped(t *testing.T) {
	store := newFakeStore()
	fc := clockwork.NewFakeClock()
	c := newCoordinator(t, store, fc, submission.Hooks{})
	ctx := context.Background()

	over := req(0, "q0", 0)
	over.Elapsed = 14 * time.Second
	r, err := c.Submit(ctx, over)
	require.NoError(t, err)
	assert.Equal(t, 10*time.Second, r.Answer.TimeTaken)
	assert.Equal(t, fc.Now(), r.Answer.SubmittedAt)

	under := req(1, "q1", 0)
	under.Elapsed = -time.Second
	under.At = fc.Now().Add(time.Minute)
	r, err = c.Submit(ctx, under)
	require.NoError(t, err)
	assert.Zero(t, r.Answer.TimeTaken)
	assert.Equal(t, fc.Now().Add(time.Minute), r.Answer.SubmittedAt)
}

func TestTransientFailuresRetryInBackground(t *testing.T) {
	store := newFakeStore()
	store.flaky["q0"] = 2
	fc := clockwork.NewFakeClock()

	var mu sync.Mutex
	var waits []time.Duration
	settled := make(chan *submission.Call, 1)
	c := newCoordinator(t, store, fc, submission.Hooks{
		OnRetry: func(_ *submission.Call, err error, wait time.Duration) {
			mu.Lock()
			waits = append(waits, wait)
			mu.Unlock()
		},
		OnSettled: func(call *submission.Call) { settled <- call },
	})

	call, err := c.Dispatch(req(0, "q0", 1))
	require.NoError(t, err)

	var done *submission.Call
	require.Eventually(t, func() bool {
		select {
		case done = <-settled:
			return true
		default:
			fc.Advance(50 * time.Millisecond)
			return false
		}
	}, 2*time.Second, 2*time.Millisecond)

	assert.Same(t, call, done)
	_, err = call.Result()
	require.NoError(t, err)
	assert.Equal(t, 3, call.Attempts())

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []time.Duration{100 * time.Millisecond, 200 * time.Millisecond}, waits)
}

func TestRetriesAreBounded(t *testing.T) {
	store := newFakeStore()
	store.flaky["q0"] = 100
	fc := clockwork.NewFakeClock()
	c := newCoordinator(t, store, fc, submission.Hooks{})

	call, err := c.Dispatch(req(0, "q0", 1))
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		select {
		case <-call.Done():
			return true
		default:
			fc.Advance(100 * time.Millisecond)
			return false
		}
	}, 2*time.Second, 2*time.Millisecond)

	_, err = call.Result()
	assert.ErrorIs(t, err, errFlaky)
	assert.Equal(t, 3, call.Attempts())
	_, ok := c.Acknowledged("q0")
	assert.False(t, ok)
}

func TestPermanentRejectionIsNotRetried(t *testing.T) {
	store := newFakeStore()
	store.reject["q0"] = domain.ErrOutOfOrder
	c := newCoordinator(t, store, clockwork.NewFakeClock(), submission.Hooks{})

	_, err := c.Submit(context.Background(), req(0, "q0", 1))
	assert.ErrorIs(t, err, domain.ErrOutOfOrder)
	assert.Len(t, store.requests(), 1)

	// a failed question may be sent again
	delete(store.reject, "q0")
	_, err = c.Submit(context.Background(), req(0, "q0", 1))
	require.NoError(t, err)
	assert.Len(t, store.requests(), 2)
}

func TestFailedQuestionMayBeResentBehindLaterOne(t *testing.T) {
	store := newFakeStore()
	store.reject["q0"] = domain.ErrOptionNotFound
	c := newCoordinator(t, store, clockwork.NewFakeClock(), submission.Hooks{})
	ctx := context.Background()

	_, err := c.Submit(ctx, req(0, "q0", 7))
	require.ErrorIs(t, err, domain.ErrOptionNotFound)
	_, err = c.Submit(ctx, req(1, "q1", domain.NoAnswer))
	require.NoError(t, err)

	_, err = c.Dispatch(req(0, "q-other", 1))
	assert.ErrorIs(t, err, domain.ErrOutOfOrder, "only failed questions may go behind later ones")

	delete(store.reject, "q0")
	r, err := c.Submit(ctx, req(0, "q0", domain.NoAnswer))
	require.NoError(t, err)
	assert.Equal(t, domain.NoAnswer, r.Answer.Option)

	acked, ok := c.Acknowledged("q0")
	require.True(t, ok)
	again, err := c.Dispatch(req(0, "q0", 1))
	require.NoError(t, err)
	assert.Same(t, acked, again)
	assert.Len(t, store.requests(), 3)
}

func TestCloseStopsRetriesAndRejectsNewCalls(t *testing.T) {
	store := newFakeStore()
	store.flaky["q0"] = 100
	fc := clockwork.NewFakeClock()
	c := submission.New(context.Background(), "g-1", "p-1", store, fc, submission.Config{MaxRetries: 5}, submission.Hooks{}, 0)

	call, err := c.Dispatch(req(0, "q0", 1))
	require.NoError(t, err)
	require.Eventually(t, func() bool { return len(store.requests()) == 1 }, time.Second, time.Millisecond)

	c.Close()
	_, err = call.Result()
	assert.ErrorIs(t, err, errFlaky, "the last request error is reported, not the cancellation")

	_, err = c.Dispatch(req(1, "q1", 1))
	assert.ErrorIs(t, err, domain.ErrSessionClosed)
}
