package domain

import "time"

// NoAnswer is the option recorded when a question's timer expires without a selection.
const NoAnswer = -1

// Phase is the client-visible stage of round progression.
type Phase string

const (
	PhaseWaiting    Phase = "waiting"
	PhaseJoining    Phase = "joining"
	PhaseRoundBreak Phase = "round_break"
	PhaseAnswering  Phase = "answering"
	PhaseFinished   Phase = "finished"
)

// Flags are per-game feature switches forwarded to clients.
type Flags struct {
	Sound bool `json:"sound"`
	Chat  bool `json:"chat"`
}

// Question models one trivia prompt. CorrectOption is never sent to clients.
type Question struct {
	ID            string   `json:"id"`
	Round         int      `json:"round"`
	Seq           int      `json:"seq"`
	Prompt        string   `json:"prompt"`
	ImageURL      string   `json:"imageUrl,omitempty"`
	SoundURL      string   `json:"soundUrl,omitempty"`
	Options       []string `json:"options"`
	CorrectOption int      `json:"correctOption"`
	Points        int      `json:"points"` // defaults to 1 if zero
}

// Round is a contiguous range of question indices in Game.Questions.
type Round struct {
	Number int
	First  int
	Last   int
}

// Len returns the number of questions in the round.
func (r Round) Len() int {
	return r.Last - r.First + 1
}

// Game is one scheduled trivia session. Questions are ordered by round then seq.
type Game struct {
	ID              string     `json:"id"`
	StartsAt        time.Time  `json:"startsAt"`
	EndsAt          time.Time  `json:"endsAt"`
	QuestionSeconds int        `json:"questionSeconds"`
	BreakSeconds    int        `json:"breakSeconds"`
	MaxPlayers      int        `json:"maxPlayers"`
	Flags           Flags      `json:"flags"`
	Questions       []Question `json:"questions"`
}

// QuestionLimit is the per-question time limit.
func (g *Game) QuestionLimit() time.Duration {
	return time.Duration(g.QuestionSeconds) * time.Second
}

// BreakLimit is the round-break duration.
func (g *Game) BreakLimit() time.Duration {
	return time.Duration(g.BreakSeconds) * time.Second
}

// Total returns the number of questions in the game.
func (g *Game) Total() int {
	return len(g.Questions)
}

// Question returns the question at index i.
func (g *Game) Question(i int) (Question, bool) {
	if i < 0 || i >= len(g.Questions) {
		return Question{}, false
	}
	return g.Questions[i], true
}

// IndexOf returns the position of a question id, or -1.
func (g *Game) IndexOf(questionID string) int {
	for i := range g.Questions {
		if g.Questions[i].ID == questionID {
			return i
		}
	}
	return -1
}

// RoundOf returns the round number of the question at index i, or 0 when out of range.
func (g *Game) RoundOf(i int) int {
	if i < 0 || i >= len(g.Questions) {
		return 0
	}
	return g.Questions[i].Round
}

// BreakBefore reports whether question i opens a new round relative to question i-1,
// and returns that round's number.
func (g *Game) BreakBefore(i int) (int, bool) {
	if i <= 0 || i >= len(g.Questions) {
		return 0, false
	}
	round := g.Questions[i].Round
	return round, round > g.Questions[i-1].Round
}

// Rounds groups the question sequence into rounds.
func (g *Game) Rounds() []Round {
	var rounds []Round
	for i, q := range g.Questions {
		if n := len(rounds); n > 0 && rounds[n-1].Number == q.Round {
			rounds[n-1].Last = i
			continue
		}
		rounds = append(rounds, Round{Number: q.Round, First: i, Last: i})
	}
	return rounds
}

// PlayerProgress is the server-authoritative per-player state for a game.
type PlayerProgress struct {
	GameID        string    `json:"gameId"`
	PlayerID      string    `json:"playerId"`
	AnsweredCount int       `json:"answeredCount"`
	Participant   bool      `json:"participant"`
	HasTicket     bool      `json:"hasTicket"`
	JoinedAt      time.Time `json:"joinedAt,omitempty"`
	LastAnswerAt  time.Time `json:"lastAnswerAt,omitempty"`
}

// Answer is one submission attempt for a question.
type Answer struct {
	GameID        string        `json:"gameId"`
	PlayerID      string        `json:"playerId"`
	QuestionID    string        `json:"questionId"`
	QuestionIndex int           `json:"questionIndex"`
	Option        int           `json:"option"`
	TimeTaken     time.Duration `json:"timeTaken"`
	SubmittedAt   time.Time     `json:"submittedAt"`
}

// IsNoAnswer reports whether the answer is the timeout placeholder.
func (a Answer) IsNoAnswer() bool {
	return a.Option == NoAnswer
}

// AnswerReceipt is the server acknowledgment of a submission.
type AnswerReceipt struct {
	Answer    Answer         `json:"answer"`
	Correct   bool           `json:"correct"`
	Points    int            `json:"points"`
	Duplicate bool           `json:"duplicate"`
	Progress  PlayerProgress `json:"progress"`
}

// EventKind names the events published for downstream consumers.
type EventKind string

const (
	EventPhaseChanged  EventKind = "phase_changed"
	EventAnswerRecord  EventKind = "answer_recorded"
	EventResults       EventKind = "results"
	EventPlayerJoined  EventKind = "player_joined"
	EventInvariantFail EventKind = "invariant_failed"
)

// Event is a fact about one player's progression through a game.
type Event struct {
	ID            string    `json:"id"`
	Kind          EventKind `json:"kind"`
	GameID        string    `json:"gameId"`
	PlayerID      string    `json:"playerId"`
	Phase         Phase     `json:"phase,omitempty"`
	QuestionIndex int       `json:"questionIndex"`
	Round         int       `json:"round,omitempty"`
	Option        *int      `json:"option,omitempty"`
	Detail        string    `json:"detail,omitempty"`
	At            time.Time `json:"at"`
}
