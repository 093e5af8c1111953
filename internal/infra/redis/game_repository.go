package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"

	"trivia-round-service/internal/domain"
)

// GameLoader fetches game content from a backing store (e.g., Postgres).
type GameLoader interface {
	LoadGame(ctx context.Context, gameID string) (domain.Game, error)
}

// GameRepository caches whole games in Redis and falls back to a loader on cache miss.
// Games are stored as JSON under trivia:game:{gameID}.
type GameRepository struct {
	client *redis.Client
	loader GameLoader
	ttl    time.Duration
	sf     singleflight.Group

	mu  sync.Mutex
	rnd *rand.Rand
}

func NewGameRepository(client *redis.Client, loader GameLoader, ttl time.Duration) *GameRepository {
	return &GameRepository{
		client: client,
		loader: loader,
		ttl:    ttl,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (r *GameRepository) GetGame(ctx context.Context, gameID string) (domain.Game, error) {
	if game, ok := r.cached(ctx, gameID); ok {
		return game, nil
	}

	result, err, _ := r.sf.Do(gameID, func() (interface{}, error) {
		// Re-check cache in case another goroutine filled it.
		if game, ok := r.cached(ctx, gameID); ok {
			return game, nil
		}

		game, err := r.loader.LoadGame(ctx, gameID)
		if err != nil {
			return domain.Game{}, err
		}

		payload, err := json.Marshal(game)
		if err != nil {
			return domain.Game{}, fmt.Errorf("encode game %s: %w", gameID, err)
		}
		if err := r.client.Set(ctx, gameKey(gameID), payload, r.ttlWithJitter()).Err(); err != nil {
			log.Warn().Err(err).Str("game_id", gameID).Msg("cache game failed")
		}
		return game, nil
	})
	if err != nil {
		return domain.Game{}, err
	}
	return result.(domain.Game), nil
}

// Invalidate drops the cached copy of a game.
func (r *GameRepository) Invalidate(ctx context.Context, gameID string) error {
	return r.client.Del(ctx, gameKey(gameID)).Err()
}

func (r *GameRepository) cached(ctx context.Context, gameID string) (domain.Game, bool) {
	payload, err := r.client.Get(ctx, gameKey(gameID)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			log.Warn().Err(err).Str("game_id", gameID).Msg("read cached game failed")
		}
		return domain.Game{}, false
	}
	var game domain.Game
	if err := json.Unmarshal(payload, &game); err != nil {
		log.Warn().Err(err).Str("game_id", gameID).Msg("cached game is corrupt")
		return domain.Game{}, false
	}
	return game, true
}

func gameKey(gameID string) string {
	return "trivia:game:" + gameID
}

func (r *GameRepository) ttlWithJitter() time.Duration {
	if r.ttl <= 0 {
		return 0
	}
	jitterMax := int64(r.ttl) / 10
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ttl + time.Duration(r.rnd.Int63n(jitterMax+1))
}
