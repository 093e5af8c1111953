package domain_test

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trivia-round-service/internal/domain"
)

func twoRoundGame() domain.Game {
	start := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	opts := []string{"a", "b", "c"}
	return domain.Game{
		ID:              "g1",
		StartsAt:        start,
		EndsAt:          start.Add(time.Hour),
		QuestionSeconds: 10,
		BreakSeconds:    5,
		Questions: []domain.Question{
			{ID: "q0", Round: 1, Seq: 1, Options: opts},
			{ID: "q1", Round: 1, Seq: 2, Options: opts},
			{ID: "q2", Round: 2, Seq: 1, Options: opts},
			{ID: "q3", Round: 2, Seq: 2, Options: opts},
		},
	}
}

func TestValidateAcceptsWellFormedGame(t *testing.T) {
	g := twoRoundGame()
	require.NoError(t, g.Validate())

	rounds := g.Rounds()
	require.Len(t, rounds, 2)
	assert.Equal(t, domain.Round{Number: 1, First: 0, Last: 1}, rounds[0])
	assert.Equal(t, domain.Round{Number: 2, First: 2, Last: 3}, rounds[1])
	assert.Equal(t, 2, rounds[1].Len())
}

func TestValidateRejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(g *domain.Game)
	}{
		{"end before start", func(g *domain.Game) { g.EndsAt = g.StartsAt }},
		{"zero question limit", func(g *domain.Game) { g.QuestionSeconds = 0 }},
		{"duplicate id", func(g *domain.Game) { g.Questions[1].ID = "q0" }},
		{"single option", func(g *domain.Game) { g.Questions[2].Options = []string{"only"} }},
		{"first round not one", func(g *domain.Game) {
			for i := range g.Questions {
				g.Questions[i].Round++
			}
		}},
		{"decreasing rounds", func(g *domain.Game) { g.Questions[3].Round = 1 }},
		{"skipped round", func(g *domain.Game) {
			g.Questions[2].Round = 3
			g.Questions[3].Round = 3
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := twoRoundGame()
			tt.mutate(&g)
			err := g.Validate()
			require.Error(t, err)
			assert.True(t, errors.Is(err, domain.ErrInvalidGame))
		})
	}
}

func TestBreakBefore(t *testing.T) {
	g := twoRoundGame()

	_, ok := g.BreakBefore(0)
	assert.False(t, ok)
	_, ok = g.BreakBefore(1)
	assert.False(t, ok)
	round, ok := g.BreakBefore(2)
	assert.True(t, ok)
	assert.Equal(t, 2, round)
	_, ok = g.BreakBefore(4)
	assert.False(t, ok)
}

func TestCheckProgress(t *testing.T) {
	g := twoRoundGame()
	require.NoError(t, g.CheckProgress(domain.PlayerProgress{AnsweredCount: 4}))
	err := g.CheckProgress(domain.PlayerProgress{AnsweredCount: 5})
	assert.ErrorIs(t, err, domain.ErrInvariant)
}
