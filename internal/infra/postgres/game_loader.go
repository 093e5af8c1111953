package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"trivia-round-service/internal/domain"
)

// GameLoader loads games and their ordered questions from Postgres.
type GameLoader struct {
	pool *pgxpool.Pool
}

func NewGameLoader(pool *pgxpool.Pool) *GameLoader {
	return &GameLoader{pool: pool}
}

func (l *GameLoader) LoadGame(ctx context.Context, gameID string) (domain.Game, error) {
	game := domain.Game{ID: gameID}
	var flags []byte
	err := l.pool.QueryRow(ctx, `
		SELECT starts_at, ends_at, question_seconds, break_seconds, max_players, flags
		FROM games WHERE id=$1`, gameID,
	).Scan(&game.StartsAt, &game.EndsAt, &game.QuestionSeconds, &game.BreakSeconds, &game.MaxPlayers, &flags)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Game{}, domain.ErrGameNotFound
	}
	if err != nil {
		return domain.Game{}, fmt.Errorf("load game: %w", err)
	}
	if len(flags) > 0 {
		if err := json.Unmarshal(flags, &game.Flags); err != nil {
			return domain.Game{}, fmt.Errorf("unmarshal game flags: %w", err)
		}
	}

	rows, err := l.pool.Query(ctx, `
		SELECT id, round, seq, prompt, COALESCE(image_url, ''), COALESCE(sound_url, ''), options, correct_option, points
		FROM questions WHERE game_id=$1
		ORDER BY round, seq`, gameID)
	if err != nil {
		return domain.Game{}, fmt.Errorf("load questions: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			q       domain.Question
			options []byte
		)
		if err := rows.Scan(&q.ID, &q.Round, &q.Seq, &q.Prompt, &q.ImageURL, &q.SoundURL, &options, &q.CorrectOption, &q.Points); err != nil {
			return domain.Game{}, fmt.Errorf("scan question: %w", err)
		}
		if err := json.Unmarshal(options, &q.Options); err != nil {
			return domain.Game{}, fmt.Errorf("unmarshal options of %s: %w", q.ID, err)
		}
		game.Questions = append(game.Questions, q)
	}
	if err := rows.Err(); err != nil {
		return domain.Game{}, fmt.Errorf("load questions: %w", err)
	}
	game.StartsAt = game.StartsAt.UTC()
	game.EndsAt = game.EndsAt.UTC()
	return game, nil
}
