package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"trivia-round-service/internal/countdown"
	"trivia-round-service/internal/domain"
	"trivia-round-service/internal/metrics"
	"trivia-round-service/internal/progression"
	"trivia-round-service/internal/submission"
)

// Deps are the collaborators of the game service.
type Deps struct {
	Games    GameRepository
	Progress ProgressRepository
	Markers  BreakMarkerStore
	Events   EventPublisher
	Sessions SessionRepository
	Metrics  *metrics.Metrics
	Clock    clockwork.Clock
}

// Options tune session behavior.
type Options struct {
	// Tick is the countdown re-evaluation cadence.
	Tick time.Duration
	// IOTimeout bounds loads, joins and marker writes.
	IOTimeout  time.Duration
	Submission submission.Config
	// Resubmit is the pause before a failed no-answer is sent again.
	Resubmit time.Duration
}

// GameService contains the round progression use cases.
type GameService struct {
	games    GameRepository
	progress ProgressRepository
	markers  BreakMarkerStore
	events   EventPublisher
	sessions SessionRepository
	metrics  *metrics.Metrics
	clock    clockwork.Clock
	opts     Options

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewGameService(deps Deps, opts Options) *GameService {
	if deps.Clock == nil {
		deps.Clock = clockwork.NewRealClock()
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.New(nil)
	}
	if opts.Tick <= 0 {
		opts.Tick = countdown.DefaultInterval
	}
	if opts.IOTimeout <= 0 {
		opts.IOTimeout = 5 * time.Second
	}
	if opts.Resubmit <= 0 {
		opts.Resubmit = opts.Submission.MaxBackoff
	}
	if opts.Resubmit <= 0 {
		opts.Resubmit = submission.DefaultConfig().MaxBackoff
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &GameService{
		games:    deps.Games,
		progress: deps.Progress,
		markers:  deps.Markers,
		events:   deps.Events,
		sessions: deps.Sessions,
		metrics:  deps.Metrics,
		clock:    deps.Clock,
		opts:     opts,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// SessionKey identifies the live session of one player in one game.
func SessionKey(gameID, playerID string) string {
	return gameID + ":" + playerID
}

// Subscribe attaches to the player's live session, starting it if needed.
// The caller must invoke the returned cancel function; the session stops
// once its last subscriber is gone.
func (s *GameService) Subscribe(_ context.Context, gameID, playerID string) (*PlayerSession, <-chan Update, func(), error) {
	key := SessionKey(gameID, playerID)
	for attempt := 0; attempt < 3; attempt++ {
		if s.ctx.Err() != nil {
			return nil, nil, nil, domain.ErrSessionClosed
		}
		session := s.sessions.GetOrCreate(key, func() *PlayerSession {
			return s.startSession(key, gameID, playerID)
		})
		ch, cancel, err := session.subscribe()
		if errors.Is(err, domain.ErrSessionClosed) {
			// lost a race with the previous session stopping
			s.sessions.DeleteIfStopped(key)
			continue
		}
		if err != nil {
			return nil, nil, nil, err
		}
		return session, ch, cancel, nil
	}
	return nil, nil, nil, domain.ErrSessionClosed
}

// Snapshot evaluates the player's state from stored data alone, without a live session.
func (s *GameService) Snapshot(ctx context.Context, gameID, playerID string) (StateView, error) {
	data, err := s.fetch(ctx, gameID, playerID)
	if err != nil {
		if errors.Is(err, domain.ErrGameNotFound) {
			return StateView{}, err
		}
		s.metrics.LoadFailed()
		m := progression.New()
		m.Fail(err)
		snap, _ := m.Evaluate(s.clock.Now())
		return buildStateView(nil, gameID, playerID, snap, s.clock.Now()), nil
	}

	m := progression.New()
	m.Load(&data.game, data.progress, data.shown)
	now := s.clock.Now()
	snap, _ := m.Evaluate(now)
	return buildStateView(&data.game, gameID, playerID, snap, now), nil
}

// Shutdown stops every live session and waits for their loops to exit.
func (s *GameService) Shutdown(ctx context.Context) error {
	s.cancel()
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *GameService) startSession(key, gameID, playerID string) *PlayerSession {
	session := newPlayerSession(s, key, gameID, playerID)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		session.run(s.ctx)
		s.sessions.DeleteIfStopped(key)
	}()
	return session
}

type loadedState struct {
	game     domain.Game
	progress domain.PlayerProgress
	shown    []int
}

// fetch loads everything the machine needs. A missing progress record means
// the player has no ticket yet.
func (s *GameService) fetch(ctx context.Context, gameID, playerID string) (loadedState, error) {
	ctx, cancel := context.WithTimeout(ctx, s.opts.IOTimeout)
	defer cancel()

	game, err := s.games.GetGame(ctx, gameID)
	if err != nil {
		return loadedState{}, fmt.Errorf("load game %s: %w", gameID, err)
	}
	progress, err := s.progress.GetProgress(ctx, gameID, playerID)
	switch {
	case errors.Is(err, domain.ErrProgressNotFound):
		progress = domain.PlayerProgress{GameID: gameID, PlayerID: playerID}
	case err != nil:
		return loadedState{}, fmt.Errorf("load progress %s/%s: %w", gameID, playerID, err)
	}

	var shown []int
	if s.markers != nil {
		shown, err = s.markers.ShownRounds(ctx, gameID, playerID)
		if err != nil {
			log.Warn().Err(err).Str("game_id", gameID).Str("player_id", playerID).Msg("break markers unavailable")
			shown = nil
		}
	}
	return loadedState{game: game, progress: progress, shown: shown}, nil
}

func (s *GameService) publish(event domain.Event) {
	if s.events == nil {
		return
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.At.IsZero() {
		event.At = s.clock.Now()
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.opts.IOTimeout)
	defer cancel()
	if err := s.events.Publish(ctx, event); err != nil {
		log.Warn().Err(err).Str("kind", string(event.Kind)).Str("game_id", event.GameID).Msg("publish event failed")
	}
}
