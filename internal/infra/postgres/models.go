package postgres

import (
	"time"

	"github.com/uptrace/bun"

	"trivia-round-service/internal/domain"
)

type gameRow struct {
	bun.BaseModel `bun:"table:games"`

	ID              string       `bun:"id,pk"`
	StartsAt        time.Time    `bun:"starts_at,notnull"`
	EndsAt          time.Time    `bun:"ends_at,notnull"`
	QuestionSeconds int          `bun:"question_seconds,notnull"`
	BreakSeconds    int          `bun:"break_seconds,notnull"`
	MaxPlayers      int          `bun:"max_players,notnull"`
	Flags           domain.Flags `bun:"flags,type:jsonb,notnull"`
}

type questionRow struct {
	bun.BaseModel `bun:"table:questions"`

	GameID        string   `bun:"game_id,pk"`
	ID            string   `bun:"id,pk"`
	Round         int      `bun:"round,notnull"`
	Seq           int      `bun:"seq,notnull"`
	Prompt        string   `bun:"prompt,notnull"`
	ImageURL      string   `bun:"image_url,nullzero"`
	SoundURL      string   `bun:"sound_url,nullzero"`
	Options       []string `bun:"options,type:jsonb,notnull"`
	CorrectOption int      `bun:"correct_option,notnull"`
	Points        int      `bun:"points,notnull"`
}

type progressRow struct {
	bun.BaseModel `bun:"table:player_progress"`

	GameID        string    `bun:"game_id,pk"`
	PlayerID      string    `bun:"player_id,pk"`
	AnsweredCount int       `bun:"answered_count,notnull"`
	Participant   bool      `bun:"participant,notnull"`
	HasTicket     bool      `bun:"has_ticket,notnull"`
	JoinedAt      time.Time `bun:"joined_at,nullzero"`
	LastAnswerAt  time.Time `bun:"last_answer_at,nullzero"`
}

type answerRow struct {
	bun.BaseModel `bun:"table:answers"`

	GameID        string    `bun:"game_id,pk"`
	PlayerID      string    `bun:"player_id,pk"`
	QuestionID    string    `bun:"question_id,pk"`
	QuestionIndex int       `bun:"question_index,notnull"`
	Option        int       `bun:"option,notnull"`
	Correct       bool      `bun:"correct,notnull"`
	Points        int       `bun:"points,notnull"`
	TimeTakenMs   int64     `bun:"time_taken_ms,notnull"`
	SubmittedAt   time.Time `bun:"submitted_at,notnull"`
}

func (r progressRow) toDomain() domain.PlayerProgress {
	p := domain.PlayerProgress{
		GameID:        r.GameID,
		PlayerID:      r.PlayerID,
		AnsweredCount: r.AnsweredCount,
		Participant:   r.Participant,
		HasTicket:     r.HasTicket,
	}
	if !r.JoinedAt.IsZero() {
		p.JoinedAt = r.JoinedAt.UTC()
	}
	if !r.LastAnswerAt.IsZero() {
		p.LastAnswerAt = r.LastAnswerAt.UTC()
	}
	return p
}

func (r answerRow) toReceipt(progress domain.PlayerProgress) domain.AnswerReceipt {
	return domain.AnswerReceipt{
		Answer: domain.Answer{
			GameID:        r.GameID,
			PlayerID:      r.PlayerID,
			QuestionID:    r.QuestionID,
			QuestionIndex: r.QuestionIndex,
			Option:        r.Option,
			TimeTaken:     time.Duration(r.TimeTakenMs) * time.Millisecond,
			SubmittedAt:   r.SubmittedAt.UTC(),
		},
		Correct:  r.Correct,
		Points:   r.Points,
		Progress: progress,
	}
}

func newAnswerRow(a domain.Answer, correct bool, points int) answerRow {
	return answerRow{
		GameID:        a.GameID,
		PlayerID:      a.PlayerID,
		QuestionID:    a.QuestionID,
		QuestionIndex: a.QuestionIndex,
		Option:        a.Option,
		Correct:       correct,
		Points:        points,
		TimeTakenMs:   a.TimeTaken.Milliseconds(),
		SubmittedAt:   a.SubmittedAt,
	}
}

func newGameRows(g domain.Game) (gameRow, []questionRow) {
	game := gameRow{
		ID:              g.ID,
		StartsAt:        g.StartsAt,
		EndsAt:          g.EndsAt,
		QuestionSeconds: g.QuestionSeconds,
		BreakSeconds:    g.BreakSeconds,
		MaxPlayers:      g.MaxPlayers,
		Flags:           g.Flags,
	}
	questions := make([]questionRow, 0, len(g.Questions))
	for _, q := range g.Questions {
		points := q.Points
		if points == 0 {
			points = 1
		}
		questions = append(questions, questionRow{
			GameID:        g.ID,
			ID:            q.ID,
			Round:         q.Round,
			Seq:           q.Seq,
			Prompt:        q.Prompt,
			ImageURL:      q.ImageURL,
			SoundURL:      q.SoundURL,
			Options:       q.Options,
			CorrectOption: q.CorrectOption,
			Points:        points,
		})
	}
	return game, questions
}
