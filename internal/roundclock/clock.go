// Package roundclock maps a game's timing and a player's position onto the
// segment that is active at a given instant.
package roundclock

import (
	"time"

	"trivia-round-service/internal/domain"
)

// Kind identifies the active segment.
type Kind int

const (
	NotStarted Kind = iota
	Active
	RoundBreak
	Ended
)

func (k Kind) String() string {
	switch k {
	case NotStarted:
		return "not_started"
	case Active:
		return "active"
	case RoundBreak:
		return "round_break"
	case Ended:
		return "ended"
	default:
		return "unknown"
	}
}

// Segment is the clock output for one instant.
type Segment struct {
	Kind          Kind
	QuestionIndex int
	Round         int
	StartedAt     time.Time
	Deadline      time.Time
	Remaining     time.Duration
}

// Same reports whether two segments describe the same logical span, ignoring remaining time.
func (s Segment) Same(o Segment) bool {
	return s.Kind == o.Kind &&
		s.QuestionIndex == o.QuestionIndex &&
		s.Round == o.Round &&
		s.Deadline.Equal(o.Deadline)
}

// Cursor is the player's position: the index of the next unanswered question and
// the instant its segment (including any round break before it) began.
type Cursor struct {
	Answered int
	Anchor   time.Time
}

// BreakShown reports whether the break opening the given round was already taken.
type BreakShown func(round int) bool

// At computes the segment active at now.
func At(g *domain.Game, now time.Time, cur Cursor, shown BreakShown) Segment {
	total := g.Total()
	if cur.Answered >= total {
		return Segment{Kind: Ended, QuestionIndex: total, Round: g.RoundOf(total - 1)}
	}
	if now.Before(g.StartsAt) {
		return Segment{
			Kind:          NotStarted,
			QuestionIndex: cur.Answered,
			Round:         g.RoundOf(cur.Answered),
			Deadline:      g.StartsAt,
			Remaining:     g.StartsAt.Sub(now),
		}
	}
	if !now.Before(g.EndsAt) {
		return Segment{Kind: Ended, QuestionIndex: cur.Answered, Round: g.RoundOf(cur.Answered)}
	}

	index := cur.Answered
	anchor := cur.Anchor
	if anchor.Before(g.StartsAt) {
		anchor = g.StartsAt
	}

	questionStart := anchor
	if round, due := g.BreakBefore(index); due && g.BreakSeconds > 0 {
		breakEnd := anchor.Add(g.BreakLimit())
		questionStart = breakEnd
		if (shown == nil || !shown(round)) && now.Before(breakEnd) {
			return Segment{
				Kind:          RoundBreak,
				QuestionIndex: index,
				Round:         round,
				StartedAt:     anchor,
				Deadline:      breakEnd,
				Remaining:     breakEnd.Sub(now),
			}
		}
	}

	limit := g.QuestionLimit()
	deadline := questionStart.Add(limit)
	remaining := deadline.Sub(now)
	if remaining < 0 {
		remaining = 0
	}
	if remaining > limit {
		remaining = limit
	}
	return Segment{
		Kind:          Active,
		QuestionIndex: index,
		Round:         g.RoundOf(index),
		StartedAt:     questionStart,
		Deadline:      deadline,
		Remaining:     remaining,
	}
}

// Anchor derives the segment anchor for a server progress record.
func Anchor(g *domain.Game, p domain.PlayerProgress) time.Time {
	if p.AnsweredCount > 0 && !p.LastAnswerAt.IsZero() {
		return p.LastAnswerAt
	}
	if p.JoinedAt.After(g.StartsAt) {
		return p.JoinedAt
	}
	return g.StartsAt
}
