package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jonboulle/clockwork"
	"github.com/uptrace/bun"

	"trivia-round-service/internal/domain"
)

// GameSource resolves the game an answer belongs to, usually through the cache.
type GameSource interface {
	GetGame(ctx context.Context, gameID string) (domain.Game, error)
}

// ProgressStore is the Postgres implementation of app.ProgressRepository.
// Every write locks the player's progress row so the answered count moves by
// exactly one per question.
type ProgressStore struct {
	db    *bun.DB
	games GameSource
	clock clockwork.Clock
}

func NewProgressStore(db *bun.DB, games GameSource, clock clockwork.Clock) *ProgressStore {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &ProgressStore{db: db, games: games, clock: clock}
}

// GrantTicket creates or updates the player's progress record with a ticket.
func (s *ProgressStore) GrantTicket(ctx context.Context, gameID, playerID string) error {
	row := progressRow{GameID: gameID, PlayerID: playerID, HasTicket: true}
	_, err := s.db.NewInsert().
		Model(&row).
		On("CONFLICT (game_id, player_id) DO UPDATE").
		Set("has_ticket = TRUE").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("grant ticket: %w", err)
	}
	return nil
}

func (s *ProgressStore) GetProgress(ctx context.Context, gameID, playerID string) (domain.PlayerProgress, error) {
	var row progressRow
	err := s.db.NewSelect().
		Model(&row).
		Where("game_id = ?", gameID).
		Where("player_id = ?", playerID).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.PlayerProgress{}, domain.ErrProgressNotFound
	}
	if err != nil {
		return domain.PlayerProgress{}, fmt.Errorf("get progress: %w", err)
	}
	return row.toDomain(), nil
}

func (s *ProgressStore) JoinGame(ctx context.Context, gameID, playerID string, maxPlayers int) (domain.PlayerProgress, error) {
	var out domain.PlayerProgress
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		// serialize joins per game so the participant count cannot overshoot
		if _, err := tx.NewSelect().
			Model((*gameRow)(nil)).
			Column("id").
			Where("id = ?", gameID).
			For("UPDATE").
			Exec(ctx); err != nil {
			return fmt.Errorf("lock game: %w", err)
		}

		row, err := lockProgress(ctx, tx, gameID, playerID)
		if err != nil {
			if errors.Is(err, domain.ErrProgressNotFound) {
				return domain.ErrNoTicket
			}
			return err
		}
		if !row.HasTicket {
			return domain.ErrNoTicket
		}
		if row.Participant {
			out = row.toDomain()
			return nil
		}
		if maxPlayers > 0 {
			joined, err := tx.NewSelect().
				Model((*progressRow)(nil)).
				Where("game_id = ?", gameID).
				Where("participant").
				Count(ctx)
			if err != nil {
				return fmt.Errorf("count participants: %w", err)
			}
			if joined >= maxPlayers {
				return domain.ErrGameFull
			}
		}

		row.Participant = true
		row.JoinedAt = s.clock.Now()
		if _, err := tx.NewUpdate().Model(&row).Column("participant", "joined_at").WherePK().Exec(ctx); err != nil {
			return fmt.Errorf("join game: %w", err)
		}
		out = row.toDomain()
		return nil
	})
	return out, err
}

func (s *ProgressStore) SubmitAnswer(ctx context.Context, a domain.Answer) (domain.AnswerReceipt, error) {
	game, err := s.games.GetGame(ctx, a.GameID)
	if err != nil {
		return domain.AnswerReceipt{}, err
	}

	var receipt domain.AnswerReceipt
	err = s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		row, err := lockProgress(ctx, tx, a.GameID, a.PlayerID)
		if err != nil {
			return err
		}
		if !row.Participant {
			return domain.ErrNotParticipant
		}

		var prior answerRow
		err = tx.NewSelect().
			Model(&prior).
			Where("game_id = ?", a.GameID).
			Where("player_id = ?", a.PlayerID).
			Where("question_id = ?", a.QuestionID).
			Scan(ctx)
		switch {
		case err == nil:
			receipt = prior.toReceipt(row.toDomain())
			receipt.Duplicate = true
			return nil
		case !errors.Is(err, sql.ErrNoRows):
			return fmt.Errorf("read answer: %w", err)
		}

		index := game.IndexOf(a.QuestionID)
		if index < 0 {
			return domain.ErrQuestionNotFound
		}
		if index != row.AnsweredCount {
			return domain.ErrOutOfOrder
		}
		correct, points, err := domain.Score(game.Questions[index], a.Option)
		if err != nil {
			return err
		}

		a.QuestionIndex = index
		if a.TimeTaken < 0 {
			a.TimeTaken = 0
		}
		if limit := game.QuestionLimit(); a.TimeTaken > limit {
			a.TimeTaken = limit
		}
		if a.SubmittedAt.IsZero() {
			a.SubmittedAt = s.clock.Now()
		}

		answer := newAnswerRow(a, correct, points)
		if _, err := tx.NewInsert().Model(&answer).Exec(ctx); err != nil {
			return fmt.Errorf("insert answer: %w", err)
		}
		row.AnsweredCount++
		row.LastAnswerAt = a.SubmittedAt
		if _, err := tx.NewUpdate().Model(&row).Column("answered_count", "last_answer_at").WherePK().Exec(ctx); err != nil {
			return fmt.Errorf("update progress: %w", err)
		}
		receipt = answer.toReceipt(row.toDomain())
		return nil
	})
	return receipt, err
}

// Answers lists a player's recorded answers in question order.
func (s *ProgressStore) Answers(ctx context.Context, gameID, playerID string) ([]domain.Answer, error) {
	var rows []answerRow
	err := s.db.NewSelect().
		Model(&rows).
		Where("game_id = ?", gameID).
		Where("player_id = ?", playerID).
		Order("question_index ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("list answers: %w", err)
	}
	out := make([]domain.Answer, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toReceipt(domain.PlayerProgress{}).Answer)
	}
	return out, nil
}

func lockProgress(ctx context.Context, tx bun.Tx, gameID, playerID string) (progressRow, error) {
	var row progressRow
	err := tx.NewSelect().
		Model(&row).
		Where("game_id = ?", gameID).
		Where("player_id = ?", playerID).
		For("UPDATE").
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return progressRow{}, domain.ErrProgressNotFound
	}
	if err != nil {
		return progressRow{}, fmt.Errorf("lock progress: %w", err)
	}
	return row, nil
}
