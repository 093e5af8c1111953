package postgres

import (
	"context"
	"fmt"

	"github.com/uptrace/bun"

	"trivia-round-service/internal/domain"
)

// SeedGame upserts a game and replaces its questions.
func SeedGame(ctx context.Context, db *bun.DB, game domain.Game) error {
	if err := game.Validate(); err != nil {
		return err
	}
	row, questions := newGameRows(game)
	return db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if _, err := tx.NewInsert().
			Model(&row).
			On("CONFLICT (id) DO UPDATE").
			Set("starts_at = EXCLUDED.starts_at").
			Set("ends_at = EXCLUDED.ends_at").
			Set("question_seconds = EXCLUDED.question_seconds").
			Set("break_seconds = EXCLUDED.break_seconds").
			Set("max_players = EXCLUDED.max_players").
			Set("flags = EXCLUDED.flags").
			Exec(ctx); err != nil {
			return fmt.Errorf("upsert game %s: %w", game.ID, err)
		}
		if _, err := tx.NewDelete().
			Model((*questionRow)(nil)).
			Where("game_id = ?", game.ID).
			Exec(ctx); err != nil {
			return fmt.Errorf("clear questions: %w", err)
		}
		if len(questions) == 0 {
			return nil
		}
		if _, err := tx.NewInsert().Model(&questions).Exec(ctx); err != nil {
			return fmt.Errorf("insert questions: %w", err)
		}
		return nil
	})
}
