package domain

import "fmt"

// Validate checks the structural invariants of a fetched game.
func (g *Game) Validate() error {
	if !g.StartsAt.Before(g.EndsAt) {
		return fmt.Errorf("%w: start %s not before end %s", ErrInvalidGame, g.StartsAt, g.EndsAt)
	}
	if g.QuestionSeconds <= 0 {
		return fmt.Errorf("%w: question limit must be positive", ErrInvalidGame)
	}
	if g.BreakSeconds < 0 {
		return fmt.Errorf("%w: negative break limit", ErrInvalidGame)
	}

	seen := make(map[string]struct{}, len(g.Questions))
	prevRound := 0
	for i, q := range g.Questions {
		if q.ID == "" {
			return fmt.Errorf("%w: question %d has no id", ErrInvalidGame, i)
		}
		if _, dup := seen[q.ID]; dup {
			return fmt.Errorf("%w: duplicate question id %q", ErrInvalidGame, q.ID)
		}
		seen[q.ID] = struct{}{}

		if len(q.Options) < 2 {
			return fmt.Errorf("%w: question %q needs at least two options", ErrInvalidGame, q.ID)
		}
		switch {
		case i == 0 && q.Round != 1:
			return fmt.Errorf("%w: first round is %d, want 1", ErrInvalidGame, q.Round)
		case q.Round < prevRound:
			return fmt.Errorf("%w: round numbers decrease at question %q", ErrInvalidGame, q.ID)
		case q.Round > prevRound+1 && i > 0:
			return fmt.Errorf("%w: round %d skipped before question %q", ErrInvalidGame, prevRound+1, q.ID)
		}
		prevRound = q.Round
	}
	return nil
}

// CheckProgress verifies a progress record against the game it belongs to.
func (g *Game) CheckProgress(p PlayerProgress) error {
	if p.AnsweredCount < 0 || p.AnsweredCount > len(g.Questions) {
		return fmt.Errorf("%w: answered %d of %d questions", ErrInvariant, p.AnsweredCount, len(g.Questions))
	}
	return nil
}
