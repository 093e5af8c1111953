package app

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"trivia-round-service/internal/countdown"
	"trivia-round-service/internal/domain"
	"trivia-round-service/internal/metrics"
	"trivia-round-service/internal/progression"
	"trivia-round-service/internal/roundclock"
	"trivia-round-service/internal/submission"
)

const subscriberBuffer = 8

// PlayerSession is the live state container of one player in one game. All
// progression state is owned by a single event loop goroutine; other
// goroutines talk to it by posting commands.
type PlayerSession struct {
	key      string
	gameID   string
	playerID string
	svc      *GameService
	logger   zerolog.Logger

	// owned by the loop
	machine   *progression.Machine
	coord     *submission.Coordinator
	timer     *countdown.Countdown
	snap      progression.Snapshot
	lastPhase domain.Phase
	submitErr error
	correct   int
	points    int
	finished  bool
	resubmit  clockwork.Timer

	cmds chan func()
	quit chan struct{}
	done chan struct{}
	stop sync.Once

	mu          sync.Mutex
	stopped     bool
	subscribers map[chan Update]struct{}
	last        *StateView
}

func newPlayerSession(svc *GameService, key, gameID, playerID string) *PlayerSession {
	s := &PlayerSession{
		key:         key,
		gameID:      gameID,
		playerID:    playerID,
		svc:         svc,
		logger:      log.With().Str("game_id", gameID).Str("player_id", playerID).Logger(),
		machine:     progression.New(),
		cmds:        make(chan func(), 32),
		quit:        make(chan struct{}),
		done:        make(chan struct{}),
		subscribers: make(map[chan Update]struct{}),
	}
	s.timer = countdown.New(svc.clock, svc.opts.Tick, countdown.Handlers{
		OnTick: func(time.Duration) { s.tryPost(s.evaluate) },
		OnDone: func() { s.post(s.evaluate) },
	})
	return s
}

// GameID returns the game the session belongs to.
func (s *PlayerSession) GameID() string { return s.gameID }

// PlayerID returns the player the session belongs to.
func (s *PlayerSession) PlayerID() string { return s.playerID }

// Done is closed when the session loop has exited.
func (s *PlayerSession) Done() <-chan struct{} { return s.done }

// Stopped reports whether the session no longer accepts subscribers.
func (s *PlayerSession) Stopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}

// Answer records the player's choice for the active question and hands it to
// the submission coordinator. It returns once the submission is queued, not
// when it is acknowledged.
func (s *PlayerSession) Answer(ctx context.Context, questionID string, option int) error {
	return s.call(ctx, func() error {
		// commit any timeout that is already due before judging the choice
		s.evaluate()
		now := s.svc.clock.Now()
		q, err := s.machine.Select(now, questionID, option)
		if err != nil {
			return err
		}
		game := s.machine.Game()
		index := game.IndexOf(q.ID)
		_, err = s.coord.Dispatch(submission.Request{
			QuestionID:    q.ID,
			QuestionIndex: index,
			Option:        option,
			Elapsed:       now.Sub(s.snap.Segment.StartedAt),
			Limit:         game.QuestionLimit(),
			At:            now,
		})
		if err != nil {
			s.machine.Deselect(index)
			return err
		}
		s.submitErr = nil
		s.evaluate()
		return nil
	})
}

// Join marks the player a participant. The store call runs outside the loop so
// countdown ticks are not held up by it.
func (s *PlayerSession) Join(ctx context.Context) error {
	maxPlayers := 0
	if err := s.call(ctx, func() error {
		game := s.machine.Game()
		if game == nil {
			return domain.ErrWrongPhase
		}
		maxPlayers = game.MaxPlayers
		return nil
	}); err != nil {
		return err
	}

	ioCtx, cancel := context.WithTimeout(ctx, s.svc.opts.IOTimeout)
	defer cancel()
	progress, err := s.svc.progress.JoinGame(ioCtx, s.gameID, s.playerID, maxPlayers)
	if err != nil {
		s.logger.Info().Err(err).Msg("join rejected")
		return err
	}

	return s.call(ctx, func() error {
		wasParticipant := s.machine.Progress().Participant
		s.observe(progress)
		if !wasParticipant {
			s.svc.publish(domain.Event{
				Kind:     domain.EventPlayerJoined,
				GameID:   s.gameID,
				PlayerID: s.playerID,
			})
		}
		s.evaluate()
		return nil
	})
}

// Retry reloads game and progress after a load failure.
func (s *PlayerSession) Retry(ctx context.Context) error {
	data, err := s.svc.fetch(ctx, s.gameID, s.playerID)
	return s.call(ctx, func() error {
		s.apply(data, err)
		s.evaluate()
		if err == nil {
			s.fillGaps(true)
		}
		return err
	})
}

// State returns the most recent state view.
func (s *PlayerSession) State() (StateView, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.last == nil {
		return StateView{}, false
	}
	return *s.last, true
}

func (s *PlayerSession) run(ctx context.Context) {
	defer close(s.done)
	s.svc.metrics.SessionStarted()
	defer s.svc.metrics.SessionStopped()

	data, err := s.svc.fetch(ctx, s.gameID, s.playerID)
	s.apply(data, err)
	s.evaluate()

	for {
		select {
		case <-ctx.Done():
			s.shutdown()
			return
		case <-s.quit:
			s.shutdown()
			return
		case cmd := <-s.cmds:
			cmd()
		}
	}
}

func (s *PlayerSession) shutdown() {
	s.markStopped()
	s.stop.Do(func() { close(s.quit) })
	s.timer.Reset()
	if s.resubmit != nil {
		s.resubmit.Stop()
		s.resubmit = nil
	}
	if s.coord != nil {
		// queued answers still get one attempt
		s.coord.Close()
	}
	s.mu.Lock()
	for ch := range s.subscribers {
		delete(s.subscribers, ch)
		close(ch)
	}
	s.mu.Unlock()
	s.logger.Debug().Msg("session stopped")
}

// apply installs freshly loaded data or records the load failure.
func (s *PlayerSession) apply(data loadedState, err error) {
	if err != nil {
		s.svc.metrics.LoadFailed()
		s.logger.Warn().Err(err).Msg("load failed")
		s.machine.Fail(err)
		return
	}
	game := data.game
	s.machine.Load(&game, data.progress, data.shown)
	if s.coord == nil {
		s.coord = submission.New(context.Background(), s.gameID, s.playerID, s.svc.progress, s.svc.clock, s.svc.opts.Submission, submission.Hooks{
			OnRetry: func(call *submission.Call, err error, wait time.Duration) {
				s.svc.metrics.Retry()
				s.logger.Warn().Err(err).Str("question_id", call.Answer.QuestionID).Dur("retry_in", wait).Msg("submission failed, retrying")
			},
			OnSettled: func(call *submission.Call) {
				s.post(func() { s.settled(call) })
			},
		}, data.progress.AnsweredCount)
	}
}

// evaluate runs the machine at the current time, fans out changes and applies effects.
func (s *PlayerSession) evaluate() {
	s.evaluateAndPublish(false)
}

func (s *PlayerSession) evaluateAndPublish(force bool) {
	now := s.svc.clock.Now()
	snap, effects := s.machine.Evaluate(now)
	s.snap = snap
	s.rearm(snap)

	if snap.Changed || force {
		if snap.Phase != s.lastPhase {
			s.phaseChanged(snap)
		}
		view := buildStateView(s.machine.Game(), s.gameID, s.playerID, snap, now)
		if s.submitErr != nil {
			view.SubmitError = s.submitErr.Error()
		}
		s.broadcast(Update{Kind: UpdateState, State: &view})
	}
	for _, e := range effects {
		s.effect(e, snap)
	}
}

func (s *PlayerSession) phaseChanged(snap progression.Snapshot) {
	s.lastPhase = snap.Phase
	s.svc.metrics.PhaseChanged(snap.Phase)
	s.logger.Debug().Str("phase", string(snap.Phase)).Int("question_index", snap.QuestionIndex).Int("round", snap.Round).Msg("phase changed")
	if snap.Fatal {
		s.svc.metrics.InvariantViolated()
		s.logger.Error().Err(snap.Err).Msg("progression invariant violated, finishing session")
		s.svc.publish(domain.Event{
			Kind:          domain.EventInvariantFail,
			GameID:        s.gameID,
			PlayerID:      s.playerID,
			Phase:         snap.Phase,
			QuestionIndex: snap.QuestionIndex,
			Detail:        snap.Err.Error(),
		})
		return
	}
	s.svc.publish(domain.Event{
		Kind:          domain.EventPhaseChanged,
		GameID:        s.gameID,
		PlayerID:      s.playerID,
		Phase:         snap.Phase,
		QuestionIndex: snap.QuestionIndex,
		Round:         snap.Round,
	})
}

func (s *PlayerSession) effect(e progression.Effect, snap progression.Snapshot) {
	switch e.Kind {
	case progression.EffectAutoSubmit:
		s.submitNoAnswer(e)

	case progression.EffectMarkBreakShown:
		ctx, cancel := context.WithTimeout(context.Background(), s.svc.opts.IOTimeout)
		defer cancel()
		if s.svc.markers != nil {
			if err := s.svc.markers.MarkShown(ctx, s.gameID, s.playerID, e.Round); err != nil {
				s.logger.Warn().Err(err).Int("round", e.Round).Msg("persist break marker failed")
			}
		}

	case progression.EffectNavigateResults:
		s.finished = true
		results := s.results(snap)
		s.broadcast(Update{Kind: UpdateResults, Results: &results})
		s.svc.publish(domain.Event{
			Kind:          domain.EventResults,
			GameID:        s.gameID,
			PlayerID:      s.playerID,
			Phase:         domain.PhaseFinished,
			QuestionIndex: snap.QuestionIndex,
		})
	}
}

// settled runs on the loop when the coordinator finished a call.
func (s *PlayerSession) settled(call *submission.Call) {
	receipt, err := call.Result()
	answer := call.Answer
	kind := "answer"
	if answer.IsNoAnswer() {
		kind = "timeout"
	}

	if err != nil {
		outcome := metrics.OutcomeFailed
		if errors.Is(err, domain.ErrOutOfOrder) || errors.Is(err, domain.ErrOptionNotFound) || errors.Is(err, domain.ErrNotParticipant) {
			outcome = metrics.OutcomeRejected
		}
		s.svc.metrics.Submission(outcome, kind, call.Latency())
		s.logger.Warn().Err(err).Str("question_id", answer.QuestionID).Int("attempts", call.Attempts()).Msg("submission failed")
		s.submitErr = err
		if s.machine.Deselect(answer.QuestionIndex) {
			s.logger.Info().Str("question_id", answer.QuestionID).Msg("selection dropped, timeout will record no answer")
		}
		s.evaluateAndPublish(true)
		if recoverable(err) {
			// a dropped choice or a gap left by an earlier question is filled
			// right away; a failing store is given time before the next round
			s.fillGaps(!answer.IsNoAnswer() || errors.Is(err, domain.ErrOutOfOrder))
		}
		return
	}

	// The UI only hears about the question it is still showing; a late ack is
	// persisted but does not rewrite the advanced state.
	fresh := s.snap.Phase == domain.PhaseAnswering && s.snap.QuestionIndex == answer.QuestionIndex

	outcome := metrics.OutcomeAccepted
	switch {
	case receipt.Duplicate:
		outcome = metrics.OutcomeDuplicate
	case !fresh && !answer.IsNoAnswer():
		outcome = metrics.OutcomeLate
	}
	s.svc.metrics.Submission(outcome, kind, call.Latency())
	if !receipt.Duplicate {
		if receipt.Correct {
			s.correct++
		}
		s.points += receipt.Points
	}

	s.svc.publish(domain.Event{
		Kind:          domain.EventAnswerRecord,
		GameID:        s.gameID,
		PlayerID:      s.playerID,
		QuestionIndex: answer.QuestionIndex,
		Option:        &answer.Option,
		Detail:        outcome,
	})

	if fresh && !answer.IsNoAnswer() {
		s.broadcast(Update{Kind: UpdateAnswerResult, AnswerResult: &AnswerResultView{
			QuestionID:    answer.QuestionID,
			QuestionIndex: answer.QuestionIndex,
			Option:        answer.Option,
			Correct:       receipt.Correct,
			Points:        receipt.Points,
			Duplicate:     receipt.Duplicate,
		}})
	} else if !fresh && !answer.IsNoAnswer() {
		s.logger.Debug().Str("question_id", answer.QuestionID).Msg("late acknowledgment persisted, display discarded")
	}

	s.submitErr = nil
	s.observe(receipt.Progress)
	s.evaluate()
	if s.finished {
		results := s.results(s.snap)
		s.broadcast(Update{Kind: UpdateResults, Results: &results})
	}
}

func (s *PlayerSession) submitNoAnswer(e progression.Effect) {
	limit := s.machine.Game().QuestionLimit()
	_, err := s.coord.Dispatch(submission.Request{
		QuestionID:    e.QuestionID,
		QuestionIndex: e.QuestionIndex,
		Option:        domain.NoAnswer,
		Elapsed:       limit,
		Limit:         limit,
		At:            e.At,
	})
	if err != nil {
		s.logger.Warn().Err(err).Str("question_id", e.QuestionID).Msg("no-answer submission not queued")
	}
}

// fillGaps dispatches a no-answer for every timed-out question the server has
// no record of. Without now it waits for the resubmit delay; a pending delay
// covers every gap.
func (s *PlayerSession) fillGaps(now bool) {
	if s.resubmit != nil || s.coord == nil {
		return
	}
	if !now {
		s.resubmit = s.svc.clock.AfterFunc(s.svc.opts.Resubmit, func() {
			s.post(func() {
				s.resubmit = nil
				s.fillGaps(true)
			})
		})
		return
	}
	for _, e := range s.machine.Overdue() {
		s.logger.Info().Str("question_id", e.QuestionID).Int("question_index", e.QuestionIndex).Msg("resubmitting missing no-answer")
		s.submitNoAnswer(e)
	}
}

// recoverable reports whether a failed submission can still be followed by a
// record for the same question.
func recoverable(err error) bool {
	switch {
	case errors.Is(err, domain.ErrNotParticipant),
		errors.Is(err, domain.ErrProgressNotFound),
		errors.Is(err, domain.ErrGameNotFound),
		errors.Is(err, domain.ErrQuestionNotFound),
		errors.Is(err, domain.ErrInvariant),
		errors.Is(err, domain.ErrSessionClosed):
		return false
	}
	return true
}

// observe applies a server progress record; invariant failures surface on the next evaluation.
func (s *PlayerSession) observe(p domain.PlayerProgress) {
	if p.GameID == "" {
		return
	}
	if err := s.machine.ObserveProgress(p); err != nil {
		s.logger.Error().Err(err).Int("answered", p.AnsweredCount).Msg("server progress rejected")
	}
}

func (s *PlayerSession) results(snap progression.Snapshot) ResultsView {
	total := 0
	if g := s.machine.Game(); g != nil {
		total = g.Total()
	}
	return ResultsView{
		GameID:   s.gameID,
		PlayerID: s.playerID,
		Answered: snap.Answered,
		Total:    total,
		Correct:  s.correct,
		Points:   s.points,
	}
}

// rearm points the countdown at the next instant the phase can change.
func (s *PlayerSession) rearm(snap progression.Snapshot) {
	game := s.machine.Game()
	var target time.Time
	switch snap.Phase {
	case domain.PhaseAnswering, domain.PhaseRoundBreak:
		target = snap.Deadline
	case domain.PhaseWaiting, domain.PhaseJoining:
		if game == nil {
			break
		}
		if snap.Segment.Kind == roundclock.NotStarted {
			target = game.StartsAt
		} else {
			target = game.EndsAt
		}
	}
	if target.IsZero() {
		s.timer.Reset()
		return
	}
	if target.After(game.EndsAt) {
		target = game.EndsAt
	}
	if s.timer.Running() && s.timer.Deadline().Equal(target) {
		return
	}
	s.timer.StartAt(target)
}

func (s *PlayerSession) subscribe() (<-chan Update, func(), error) {
	ch := make(chan Update, subscriberBuffer)

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil, nil, domain.ErrSessionClosed
	}
	s.subscribers[ch] = struct{}{}
	if s.last != nil {
		view := *s.last
		ch <- Update{Kind: UpdateState, State: &view}
	}
	s.mu.Unlock()

	cancel := func() {
		s.mu.Lock()
		if _, ok := s.subscribers[ch]; ok {
			delete(s.subscribers, ch)
			close(ch)
		}
		empty := len(s.subscribers) == 0
		s.mu.Unlock()
		if empty {
			s.markStopped()
			s.stop.Do(func() { close(s.quit) })
		}
	}
	return ch, cancel, nil
}

func (s *PlayerSession) markStopped() {
	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()
}

func (s *PlayerSession) broadcast(update Update) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if update.Kind == UpdateState {
		s.last = update.State
	}
	for ch := range s.subscribers {
		select {
		case ch <- update:
		default:
			// drop the oldest update so a slow reader never blocks the loop
			select {
			case <-ch:
			default:
			}
			ch <- update
		}
	}
}

// call runs fn on the loop and waits for its result.
func (s *PlayerSession) call(ctx context.Context, fn func() error) error {
	reply := make(chan error, 1)
	if !s.post(func() { reply <- fn() }) {
		return domain.ErrSessionClosed
	}
	select {
	case err := <-reply:
		return err
	case <-s.done:
		return domain.ErrSessionClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *PlayerSession) post(cmd func()) bool {
	select {
	case s.cmds <- cmd:
		return true
	case <-s.quit:
		return false
	case <-s.done:
		return false
	}
}

func (s *PlayerSession) tryPost(cmd func()) {
	select {
	case s.cmds <- cmd:
	default:
	}
}
