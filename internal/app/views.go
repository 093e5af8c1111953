package app

import (
	"time"

	"trivia-round-service/internal/domain"
	"trivia-round-service/internal/progression"
)

// UpdateKind tags a session update.
type UpdateKind string

const (
	UpdateState        UpdateKind = "state"
	UpdateAnswerResult UpdateKind = "answerResult"
	UpdateResults      UpdateKind = "results"
)

// Update is one message fanned out to session subscribers.
type Update struct {
	Kind         UpdateKind
	State        *StateView
	AnswerResult *AnswerResultView
	Results      *ResultsView
}

// QuestionView is a question as shown to players. The correct option is never included.
type QuestionView struct {
	ID       string   `json:"id"`
	Index    int      `json:"index"`
	Round    int      `json:"round"`
	Prompt   string   `json:"prompt"`
	ImageURL string   `json:"imageUrl,omitempty"`
	SoundURL string   `json:"soundUrl,omitempty"`
	Options  []string `json:"options"`
}

// StateView is the client-facing phase snapshot. Clients render their own
// countdown from Deadline and ServerTime.
type StateView struct {
	GameID         string        `json:"gameId"`
	PlayerID       string        `json:"playerId"`
	Phase          domain.Phase  `json:"phase"`
	QuestionIndex  int           `json:"questionIndex"`
	TotalQuestions int           `json:"totalQuestions"`
	Round          int           `json:"round,omitempty"`
	Question       *QuestionView `json:"question,omitempty"`
	RemainingMs    int64         `json:"remainingMs"`
	Deadline       *time.Time    `json:"deadline,omitempty"`
	ServerTime     time.Time     `json:"serverTime"`
	Answered       int           `json:"answered"`
	Selected       *int          `json:"selected,omitempty"`
	Error          string        `json:"error,omitempty"`
	SubmitError    string        `json:"submitError,omitempty"`
	Fatal          bool          `json:"fatal,omitempty"`
	Flags          domain.Flags  `json:"flags"`
}

// AnswerResultView is sent when the still-current question is acknowledged.
type AnswerResultView struct {
	QuestionID    string `json:"questionId"`
	QuestionIndex int    `json:"questionIndex"`
	Option        int    `json:"option"`
	Correct       bool   `json:"correct"`
	Points        int    `json:"points"`
	Duplicate     bool   `json:"duplicate"`
}

// ResultsView summarizes a finished game for one player.
type ResultsView struct {
	GameID   string `json:"gameId"`
	PlayerID string `json:"playerId"`
	Answered int    `json:"answered"`
	Total    int    `json:"total"`
	Correct  int    `json:"correct"`
	Points   int    `json:"points"`
}

func buildStateView(game *domain.Game, gameID, playerID string, snap progression.Snapshot, now time.Time) StateView {
	view := StateView{
		GameID:        gameID,
		PlayerID:      playerID,
		Phase:         snap.Phase,
		QuestionIndex: snap.QuestionIndex,
		Round:         snap.Round,
		RemainingMs:   snap.Remaining.Milliseconds(),
		ServerTime:    now,
		Answered:      snap.Answered,
		Fatal:         snap.Fatal,
	}
	if snap.Err != nil {
		view.Error = snap.Err.Error()
	}
	if !snap.Deadline.IsZero() {
		d := snap.Deadline
		view.Deadline = &d
	}
	if snap.Selected != domain.NoAnswer {
		sel := snap.Selected
		view.Selected = &sel
	}
	if game == nil {
		return view
	}
	view.TotalQuestions = game.Total()
	view.Flags = game.Flags
	if snap.HasQuestion() {
		if q, ok := game.Question(snap.QuestionIndex); ok {
			view.Question = &QuestionView{
				ID:       q.ID,
				Index:    snap.QuestionIndex,
				Round:    q.Round,
				Prompt:   q.Prompt,
				ImageURL: q.ImageURL,
				SoundURL: q.SoundURL,
				Options:  q.Options,
			}
		}
	}
	return view
}
