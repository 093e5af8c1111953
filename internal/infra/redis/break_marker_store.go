package redis

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// BreakMarkerStore keeps shown round breaks in a set per player:
// SADD trivia:breaks:{gameID}:{playerID} {round}
type BreakMarkerStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewBreakMarkerStore expires marker sets after ttl; 0 keeps them forever.
func NewBreakMarkerStore(client *redis.Client, ttl time.Duration) *BreakMarkerStore {
	return &BreakMarkerStore{client: client, ttl: ttl}
}

func (s *BreakMarkerStore) ShownRounds(ctx context.Context, gameID, playerID string) ([]int, error) {
	members, err := s.client.SMembers(ctx, markerKey(gameID, playerID)).Result()
	if err != nil {
		return nil, fmt.Errorf("read break markers: %w", err)
	}
	rounds := make([]int, 0, len(members))
	for _, m := range members {
		round, err := strconv.Atoi(m)
		if err != nil {
			continue
		}
		rounds = append(rounds, round)
	}
	sort.Ints(rounds)
	return rounds, nil
}

func (s *BreakMarkerStore) MarkShown(ctx context.Context, gameID, playerID string, round int) error {
	key := markerKey(gameID, playerID)
	pipe := s.client.TxPipeline()
	pipe.SAdd(ctx, key, strconv.Itoa(round))
	if s.ttl > 0 {
		pipe.Expire(ctx, key, s.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("mark break shown: %w", err)
	}
	return nil
}

func markerKey(gameID, playerID string) string {
	return "trivia:breaks:" + gameID + ":" + playerID
}
