package redis

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/google/go-cmp/cmp"
	"github.com/redis/go-redis/v9"

	"trivia-round-service/internal/domain"
	"trivia-round-service/internal/infra/memory"
)

func TestGameRepositoryCachesInRedis(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	defer mr.Close()

	client := newClient(mr)

	loader := &countingLoader{
		GameLoader: memory.NewStaticGameLoader(map[string]domain.Game{
			"game-1": sampleGame(),
		}),
	}
	repo := NewGameRepository(client, loader, time.Minute)

	got, err := repo.GetGame(context.Background(), "game-1")
	if err != nil {
		t.Fatalf("get game: %v", err)
	}
	if loader.calls.Load() != 1 {
		t.Fatalf("expected loader called once, got %d", loader.calls.Load())
	}
	if !mr.Exists("trivia:game:game-1") {
		t.Fatalf("expected game to be cached")
	}
	if ttl := mr.TTL("trivia:game:game-1"); ttl < time.Minute || ttl > 66*time.Second {
		t.Fatalf("unexpected ttl %s", ttl)
	}

	// Second call should hit cache, loader not incremented.
	cached, err := repo.GetGame(context.Background(), "game-1")
	if err != nil {
		t.Fatalf("get cached game: %v", err)
	}
	if loader.calls.Load() != 1 {
		t.Fatalf("expected cache hit, loader calls=%d", loader.calls.Load())
	}
	if diff := cmp.Diff(got, cached); diff != "" {
		t.Fatalf("cached game differs (-loaded +cached):\n%s", diff)
	}

	if err := repo.Invalidate(context.Background(), "game-1"); err != nil {
		t.Fatalf("invalidate: %v", err)
	}
	_, _ = repo.GetGame(context.Background(), "game-1")
	if loader.calls.Load() != 2 {
		t.Fatalf("expected reload after invalidate, loader calls=%d", loader.calls.Load())
	}
}

func TestGameRepositoryIgnoresCorruptCache(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	defer mr.Close()

	if err := mr.Set("trivia:game:game-1", "{not json"); err != nil {
		t.Fatalf("seed: %v", err)
	}
	loader := &countingLoader{GameLoader: memory.NewStaticGameLoader(map[string]domain.Game{"game-1": sampleGame()})}
	repo := NewGameRepository(newClient(mr), loader, time.Minute)

	game, err := repo.GetGame(context.Background(), "game-1")
	if err != nil {
		t.Fatalf("get game: %v", err)
	}
	if game.Total() != 2 || loader.calls.Load() != 1 {
		t.Fatalf("expected a reload from the loader, got %d questions and %d loads", game.Total(), loader.calls.Load())
	}
}

func TestGameRepositoryPassesLoaderErrors(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	defer mr.Close()

	repo := NewGameRepository(newClient(mr), memory.NewStaticGameLoader(nil), time.Minute)
	if _, err := repo.GetGame(context.Background(), "missing"); !errors.Is(err, domain.ErrGameNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if mr.Exists("trivia:game:missing") {
		t.Fatalf("misses must not be cached")
	}
}

type countingLoader struct {
	GameLoader
	calls atomic.Int32
}

func (l *countingLoader) LoadGame(ctx context.Context, gameID string) (domain.Game, error) {
	l.calls.Add(1)
	return l.GameLoader.LoadGame(ctx, gameID)
}

func sampleGame() domain.Game {
	start := time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)
	return domain.Game{
		ID:              "game-1",
		StartsAt:        start,
		EndsAt:          start.Add(time.Hour),
		QuestionSeconds: 15,
		BreakSeconds:    10,
		Flags:           domain.Flags{Sound: true},
		Questions: []domain.Question{
			{ID: "q1", Round: 1, Seq: 1, Prompt: "What is 2 + 2?", Options: []string{"3", "4"}, CorrectOption: 1, Points: 1},
			{ID: "q2", Round: 2, Seq: 1, Prompt: "Name this tune", SoundURL: "https://cdn.example.com/q2.mp3", Options: []string{"A", "B", "C"}, CorrectOption: 2},
		},
	}
}

func newClient(mr *miniredis.Miniredis) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr: mr.Addr(),
	})
}
