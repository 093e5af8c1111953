package domain

import "errors"

var (
	// ErrGameNotFound indicates the game content could not be loaded.
	ErrGameNotFound = errors.New("game not found")
	// ErrProgressNotFound is returned when no progress record exists for a player.
	ErrProgressNotFound = errors.New("player progress not found")
	// ErrQuestionNotFound indicates a submitted question ID is invalid.
	ErrQuestionNotFound = errors.New("question not found")
	// ErrOptionNotFound indicates a submitted option index is invalid.
	ErrOptionNotFound = errors.New("option not found")
	// ErrOutOfOrder is returned for retroactive or skipping submissions.
	ErrOutOfOrder = errors.New("answer out of order")
	// ErrNotParticipant is returned when a player acts before joining.
	ErrNotParticipant = errors.New("player has not joined the game")
	// ErrNoTicket is returned when a player without a ticket tries to join.
	ErrNoTicket = errors.New("player has no ticket")
	// ErrGameFull is returned when the game reached its player limit.
	ErrGameFull = errors.New("game is full")
	// ErrInvalidGame wraps a validation failure of fetched game data.
	ErrInvalidGame = errors.New("invalid game")
	// ErrInvariant marks server data that breaks a progression invariant.
	ErrInvariant = errors.New("progression invariant violated")
	// ErrWrongPhase is returned for actions not allowed in the current phase.
	ErrWrongPhase = errors.New("action not allowed in current phase")
	// ErrStaleQuestion is returned when an answer targets a question that is no longer active.
	ErrStaleQuestion = errors.New("question is no longer active")
	// ErrSubmissionPending is returned while a failed submission is being retried.
	ErrSubmissionPending = errors.New("submission retry pending")
	// ErrSessionClosed is returned after a player session stopped.
	ErrSessionClosed = errors.New("session closed")
)
