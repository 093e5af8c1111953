package app

import (
	"context"

	"trivia-round-service/internal/domain"
)

// GameRepository loads game content (from cache/backing store).
type GameRepository interface {
	GetGame(ctx context.Context, gameID string) (domain.Game, error)
}

// ProgressRepository is the server-authoritative player state.
type ProgressRepository interface {
	GetProgress(ctx context.Context, gameID, playerID string) (domain.PlayerProgress, error)
	// JoinGame marks the player a participant. It is idempotent; maxPlayers of 0 means unlimited.
	JoinGame(ctx context.Context, gameID, playerID string, maxPlayers int) (domain.PlayerProgress, error)
	// SubmitAnswer records one answer and increments the answered count exactly once per question.
	SubmitAnswer(ctx context.Context, answer domain.Answer) (domain.AnswerReceipt, error)
}

// BreakMarkerStore keeps the "break shown for round N" markers across reloads.
type BreakMarkerStore interface {
	ShownRounds(ctx context.Context, gameID, playerID string) ([]int, error)
	MarkShown(ctx context.Context, gameID, playerID string, round int) error
}

// EventPublisher forwards progression events to downstream consumers.
type EventPublisher interface {
	Publish(ctx context.Context, event domain.Event) error
}

// SessionRepository abstracts where live player sessions are registered (in-memory, Redis, etc).
type SessionRepository interface {
	GetOrCreate(key string, create func() *PlayerSession) *PlayerSession
	Get(key string) (*PlayerSession, bool)
	// DeleteIfStopped drops the entry when its session has stopped.
	DeleteIfStopped(key string)
}
