package memory

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/singleflight"

	"trivia-round-service/internal/domain"
)

// GameLoader fetches game content from a backing store.
type GameLoader interface {
	LoadGame(ctx context.Context, gameID string) (domain.Game, error)
}

// GameRepository caches games with TTL to avoid repeated DB hits.
type GameRepository struct {
	loader GameLoader
	ttl    time.Duration
	clock  clockwork.Clock
	sf     singleflight.Group

	mu    sync.RWMutex
	rnd   *rand.Rand
	cache map[string]cachedGame
}

type cachedGame struct {
	game      domain.Game
	expiresAt time.Time
}

func NewGameRepository(loader GameLoader, ttl time.Duration) *GameRepository {
	return NewGameRepositoryWithClock(loader, ttl, clockwork.NewRealClock())
}

// NewGameRepositoryWithClock is used by tests to control expiry.
func NewGameRepositoryWithClock(loader GameLoader, ttl time.Duration, clock clockwork.Clock) *GameRepository {
	return &GameRepository{
		loader: loader,
		ttl:    ttl,
		clock:  clock,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
		cache:  make(map[string]cachedGame),
	}
}

func (r *GameRepository) GetGame(ctx context.Context, gameID string) (domain.Game, error) {
	if game, ok := r.cached(gameID); ok {
		return game, nil
	}

	result, err, _ := r.sf.Do(gameID, func() (interface{}, error) {
		if game, ok := r.cached(gameID); ok {
			return game, nil
		}

		game, err := r.loader.LoadGame(ctx, gameID)
		if err != nil {
			return domain.Game{}, err
		}

		expiresAt := r.clock.Now().Add(r.ttlWithJitter())
		r.mu.Lock()
		r.cache[gameID] = cachedGame{game: game, expiresAt: expiresAt}
		r.mu.Unlock()
		return game, nil
	})
	if err != nil {
		return domain.Game{}, err
	}
	return result.(domain.Game), nil
}

// Invalidate drops a cached game so the next read reloads it.
func (r *GameRepository) Invalidate(gameID string) {
	r.mu.Lock()
	delete(r.cache, gameID)
	r.mu.Unlock()
}

func (r *GameRepository) cached(gameID string) (domain.Game, bool) {
	now := r.clock.Now()
	r.mu.RLock()
	defer r.mu.RUnlock()
	if entry, ok := r.cache[gameID]; ok && entry.expiresAt.After(now) {
		return entry.game, true
	}
	return domain.Game{}, false
}

func (r *GameRepository) ttlWithJitter() time.Duration {
	if r.ttl <= 0 {
		return 0
	}
	// add up to 10% jitter to spread expirations
	jitterMax := int64(r.ttl) / 10
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ttl + time.Duration(r.rnd.Int63n(jitterMax+1))
}

// StaticGameLoader is a simple loader backed by an in-memory map (useful for tests/demos).
type StaticGameLoader struct {
	mu    sync.RWMutex
	games map[string]domain.Game
}

func NewStaticGameLoader(games map[string]domain.Game) *StaticGameLoader {
	if games == nil {
		games = make(map[string]domain.Game)
	}
	return &StaticGameLoader{games: games}
}

func (l *StaticGameLoader) LoadGame(_ context.Context, gameID string) (domain.Game, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if game, ok := l.games[gameID]; ok {
		return game, nil
	}
	return domain.Game{}, domain.ErrGameNotFound
}

// Put adds or replaces a game.
func (l *StaticGameLoader) Put(game domain.Game) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.games[game.ID] = game
}
