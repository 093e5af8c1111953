package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/jonboulle/clockwork"

	"trivia-round-service/internal/domain"
)

// GameSource resolves the game an answer belongs to.
type GameSource interface {
	GetGame(ctx context.Context, gameID string) (domain.Game, error)
}

// ProgressStore is an in-memory implementation of app.ProgressRepository.
type ProgressStore struct {
	games GameSource
	clock clockwork.Clock

	mu           sync.Mutex
	progress     map[string]*domain.PlayerProgress
	answers      map[string]map[string]domain.AnswerReceipt
	participants map[string]int
}

func NewProgressStore(games GameSource, clock clockwork.Clock) *ProgressStore {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &ProgressStore{
		games:        games,
		clock:        clock,
		progress:     make(map[string]*domain.PlayerProgress),
		answers:      make(map[string]map[string]domain.AnswerReceipt),
		participants: make(map[string]int),
	}
}

func progressKey(gameID, playerID string) string {
	return gameID + "|" + playerID
}

// GrantTicket creates the player's progress record with a ticket. Ticket
// purchase itself happens elsewhere; this is the hook it would call.
func (s *ProgressStore) GrantTicket(gameID, playerID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := progressKey(gameID, playerID)
	if p, ok := s.progress[key]; ok {
		p.HasTicket = true
		return
	}
	s.progress[key] = &domain.PlayerProgress{GameID: gameID, PlayerID: playerID, HasTicket: true}
}

func (s *ProgressStore) GetProgress(_ context.Context, gameID, playerID string) (domain.PlayerProgress, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.progress[progressKey(gameID, playerID)]
	if !ok {
		return domain.PlayerProgress{}, domain.ErrProgressNotFound
	}
	return *p, nil
}

func (s *ProgressStore) JoinGame(_ context.Context, gameID, playerID string, maxPlayers int) (domain.PlayerProgress, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.progress[progressKey(gameID, playerID)]
	if !ok || !p.HasTicket {
		return domain.PlayerProgress{}, domain.ErrNoTicket
	}
	if p.Participant {
		return *p, nil
	}
	if maxPlayers > 0 && s.participants[gameID] >= maxPlayers {
		return domain.PlayerProgress{}, domain.ErrGameFull
	}
	p.Participant = true
	p.JoinedAt = s.clock.Now()
	s.participants[gameID]++
	return *p, nil
}

func (s *ProgressStore) SubmitAnswer(ctx context.Context, a domain.Answer) (domain.AnswerReceipt, error) {
	game, err := s.games.GetGame(ctx, a.GameID)
	if err != nil {
		return domain.AnswerReceipt{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := progressKey(a.GameID, a.PlayerID)
	p, ok := s.progress[key]
	if !ok {
		return domain.AnswerReceipt{}, domain.ErrProgressNotFound
	}
	if !p.Participant {
		return domain.AnswerReceipt{}, domain.ErrNotParticipant
	}
	if prior, ok := s.answers[key][a.QuestionID]; ok {
		prior.Duplicate = true
		prior.Progress = *p
		return prior, nil
	}

	index := game.IndexOf(a.QuestionID)
	if index < 0 {
		return domain.AnswerReceipt{}, domain.ErrQuestionNotFound
	}
	if index != p.AnsweredCount {
		return domain.AnswerReceipt{}, domain.ErrOutOfOrder
	}
	correct, points, err := domain.Score(game.Questions[index], a.Option)
	if err != nil {
		return domain.AnswerReceipt{}, err
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

	p.AnsweredCount++
	p.LastAnswerAt = a.SubmittedAt
	receipt := domain.AnswerReceipt{Answer: a, Correct: correct, Points: points, Progress: *p}
	if s.answers[key] == nil {
		s.answers[key] = make(map[string]domain.AnswerReceipt)
	}
	s.answers[key][a.QuestionID] = receipt
	return receipt, nil
}

// Answers lists recorded answers for a player in question order.
func (s *ProgressStore) Answers(gameID, playerID string) []domain.Answer {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Answer, 0, len(s.answers[progressKey(gameID, playerID)]))
	for _, r := range s.answers[progressKey(gameID, playerID)] {
		out = append(out, r.Answer)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].QuestionIndex < out[j].QuestionIndex })
	return out
}
