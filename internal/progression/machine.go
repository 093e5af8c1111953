// Package progression decides which phase a player is in and which side
// effects must run, from game timing, server progress and the break markers.
//
// The Machine is not safe for concurrent use; it is owned by a single event loop.
package progression

import (
	"fmt"
	"time"

	"trivia-round-service/internal/domain"
	"trivia-round-service/internal/roundclock"
)

// EffectKind names a side effect requested by the machine.
type EffectKind int

const (
	// EffectAutoSubmit records a no-answer for a question whose timer elapsed.
	EffectAutoSubmit EffectKind = iota + 1
	// EffectMarkBreakShown persists the marker for a finished round break.
	EffectMarkBreakShown
	// EffectNavigateResults hands the player over to the results view.
	EffectNavigateResults
)

func (k EffectKind) String() string {
	switch k {
	case EffectAutoSubmit:
		return "auto_submit"
	case EffectMarkBreakShown:
		return "mark_break_shown"
	case EffectNavigateResults:
		return "navigate_results"
	default:
		return "unknown"
	}
}

// Effect is emitted at most once per triggering change.
type Effect struct {
	Kind          EffectKind
	QuestionIndex int
	QuestionID    string
	Round         int
	// At is the deadline of the timed-out question for EffectAutoSubmit.
	At time.Time
}

// Snapshot is the machine output for one evaluation.
type Snapshot struct {
	Phase         domain.Phase
	Segment       roundclock.Segment
	QuestionIndex int
	Round         int
	Remaining     time.Duration
	Deadline      time.Time
	Answered      int
	Cursor        int
	Selected      int
	Err           error
	Fatal         bool
	// Changed is set when phase or segment differ from the previous evaluation.
	Changed bool
}

// HasQuestion reports whether a question is open for answers.
func (s Snapshot) HasQuestion() bool {
	return s.Phase == domain.PhaseAnswering
}

// Machine is the progression state machine for one player in one game.
type Machine struct {
	game     *domain.Game
	progress domain.PlayerProgress
	cursor   roundclock.Cursor
	shown    map[int]bool
	selected map[int]int
	// deadlines of the questions the cursor passed on timeout
	timedOut map[int]time.Time

	loadErr   error
	fatal     error
	navigated bool
	last      Snapshot
	evaluated bool
}

// New returns a machine with nothing loaded; it reports Waiting until Load or Fail.
func New() *Machine {
	return &Machine{
		shown:    make(map[int]bool),
		selected: make(map[int]int),
		timedOut: make(map[int]time.Time),
	}
}

// Load installs game content, the server progress and the rounds whose break
// was already shown. Invalid data puts the machine in the fatal state.
func (m *Machine) Load(game *domain.Game, progress domain.PlayerProgress, shownRounds []int) {
	m.game = game
	m.progress = progress
	m.loadErr = nil
	m.fatal = nil
	for _, r := range shownRounds {
		m.shown[r] = true
	}

	if err := game.Validate(); err != nil {
		m.fatal = fmt.Errorf("%w: %v", domain.ErrInvariant, err)
		return
	}
	if err := game.CheckProgress(progress); err != nil {
		m.fatal = err
		return
	}
	if progress.AnsweredCount >= m.cursor.Answered {
		m.cursor = roundclock.Cursor{
			Answered: progress.AnsweredCount,
			Anchor:   roundclock.Anchor(game, progress),
		}
	}
}

// Fail records a load error. A machine that was never loaded stays in Waiting
// and exposes the error; a loaded machine keeps advancing and reports it.
func (m *Machine) Fail(err error) {
	m.loadErr = err
}

// Game returns the loaded game, or nil.
func (m *Machine) Game() *domain.Game {
	return m.game
}

// Progress returns the last observed server progress.
func (m *Machine) Progress() domain.PlayerProgress {
	return m.progress
}

// ObserveProgress applies a server-confirmed progress record. The cursor only
// moves forward; an acknowledgment for a question that already timed out
// locally leaves the advanced state untouched.
func (m *Machine) ObserveProgress(p domain.PlayerProgress) error {
	if m.game == nil {
		return nil
	}
	if err := m.game.CheckProgress(p); err != nil {
		m.fatal = err
		return err
	}
	if p.AnsweredCount < m.progress.AnsweredCount {
		// answeredCount is monotonic; an older record is out of date.
		p.AnsweredCount = m.progress.AnsweredCount
		p.LastAnswerAt = m.progress.LastAnswerAt
	}
	joined := p.Participant && !m.progress.Participant
	m.progress = p
	if p.AnsweredCount > m.cursor.Answered || (joined && p.AnsweredCount == m.cursor.Answered) {
		m.cursor = roundclock.Cursor{
			Answered: p.AnsweredCount,
			Anchor:   roundclock.Anchor(m.game, p),
		}
	}
	return nil
}

// Select records the player's choice for the active question and returns the
// question to submit. Selecting again for the same question is accepted and
// keeps the first choice.
func (m *Machine) Select(now time.Time, questionID string, option int) (domain.Question, error) {
	if m.game == nil {
		return domain.Question{}, domain.ErrWrongPhase
	}
	index := m.game.IndexOf(questionID)
	if index < 0 {
		return domain.Question{}, domain.ErrQuestionNotFound
	}
	q := m.game.Questions[index]
	if option < 0 || option >= len(q.Options) {
		return domain.Question{}, domain.ErrOptionNotFound
	}

	if !m.progress.Participant {
		return domain.Question{}, domain.ErrNotParticipant
	}
	snap, _ := m.peek(now)
	if snap.Phase != domain.PhaseAnswering {
		return domain.Question{}, domain.ErrWrongPhase
	}
	if index != snap.QuestionIndex {
		return domain.Question{}, domain.ErrStaleQuestion
	}
	if _, ok := m.selected[index]; !ok {
		m.selected[index] = option
	}
	return q, nil
}

// Deselect drops a selection whose submission failed. A current question then
// records a no-answer when its timer elapses; a question already timed out is
// reported by Overdue.
func (m *Machine) Deselect(index int) bool {
	if index < m.progress.AnsweredCount {
		return false
	}
	if _, ok := m.selected[index]; !ok {
		return false
	}
	delete(m.selected, index)
	return true
}

// Overdue returns a no-answer for every question that timed out locally but has
// neither a server record nor a pending choice, in question order.
func (m *Machine) Overdue() []Effect {
	if m.game == nil || m.fatal != nil {
		return nil
	}
	var out []Effect
	for i := m.progress.AnsweredCount; i < m.cursor.Answered && i < m.game.Total(); i++ {
		if _, picked := m.selected[i]; picked {
			continue
		}
		deadline, ok := m.timedOut[i]
		if !ok {
			continue
		}
		q := m.game.Questions[i]
		out = append(out, Effect{
			Kind:          EffectAutoSubmit,
			QuestionIndex: i,
			QuestionID:    q.ID,
			Round:         q.Round,
			At:            deadline,
		})
	}
	return out
}

// Selected returns the choice recorded for a question index.
func (m *Machine) Selected(index int) (int, bool) {
	opt, ok := m.selected[index]
	return opt, ok
}

// ShownRounds lists the rounds whose break was marked shown.
func (m *Machine) ShownRounds() []int {
	out := make([]int, 0, len(m.shown))
	for r := range m.shown {
		out = append(out, r)
	}
	return out
}

// Evaluate computes the phase at now and the side effects that became due.
// Repeated calls with the same inputs return no new effects.
func (m *Machine) Evaluate(now time.Time) (Snapshot, []Effect) {
	snap, effects, next := m.evaluate(now)
	m.commit(next)
	snap.Changed = !m.evaluated || !sameState(m.last, snap)
	m.last = snap
	m.evaluated = true
	return snap, effects
}

// peek evaluates without committing anything.
func (m *Machine) peek(now time.Time) (Snapshot, []Effect) {
	snap, effects, _ := m.evaluate(now)
	return snap, effects
}

// advance is what one evaluation moved; it is applied by commit.
type advance struct {
	cursor   roundclock.Cursor
	shown    []int
	timedOut map[int]time.Time
	navigate bool
}

func (m *Machine) commit(a advance) {
	m.cursor = a.cursor
	for _, r := range a.shown {
		m.shown[r] = true
	}
	for i, d := range a.timedOut {
		m.timedOut[i] = d
	}
	if a.navigate {
		m.navigated = true
	}
}

func (m *Machine) evaluate(now time.Time) (Snapshot, []Effect, advance) {
	next := advance{cursor: m.cursor}
	if m.game == nil {
		return Snapshot{Phase: domain.PhaseWaiting, Selected: domain.NoAnswer, Err: m.loadErr}, nil, next
	}
	if m.fatal != nil {
		return Snapshot{
			Phase:         domain.PhaseFinished,
			QuestionIndex: m.cursor.Answered,
			Answered:      m.progress.AnsweredCount,
			Cursor:        m.cursor.Answered,
			Selected:      domain.NoAnswer,
			Err:           m.fatal,
			Fatal:         true,
		}, nil, next
	}

	var effects []Effect
	isShown := func(round int) bool {
		if m.shown[round] {
			return true
		}
		for _, r := range next.shown {
			if r == round {
				return true
			}
		}
		return false
	}
	for {
		seg := roundclock.At(m.game, now, next.cursor, isShown)
		switch seg.Kind {
		case roundclock.NotStarted:
			return m.snapshot(domain.PhaseWaiting, seg, next.cursor), effects, next
		case roundclock.Ended:
			if !m.navigated {
				next.navigate = true
				effects = append(effects, Effect{Kind: EffectNavigateResults, QuestionIndex: seg.QuestionIndex})
			}
			return m.snapshot(domain.PhaseFinished, seg, next.cursor), effects, next
		}

		if !m.progress.Participant {
			if m.progress.HasTicket {
				return m.snapshot(domain.PhaseJoining, seg, next.cursor), effects, next
			}
			return m.snapshot(domain.PhaseWaiting, seg, next.cursor), effects, next
		}
		if seg.Kind == roundclock.RoundBreak {
			return m.snapshot(domain.PhaseRoundBreak, seg, next.cursor), effects, next
		}

		if round, due := m.game.BreakBefore(seg.QuestionIndex); due && m.game.BreakSeconds > 0 && !isShown(round) {
			next.shown = append(next.shown, round)
			effects = append(effects, Effect{Kind: EffectMarkBreakShown, Round: round, QuestionIndex: seg.QuestionIndex})
		}
		if seg.Remaining > 0 {
			return m.snapshot(domain.PhaseAnswering, seg, next.cursor), effects, next
		}

		// The question's timer elapsed: record a no-answer unless the player
		// already chose, then move on from the deadline.
		if _, picked := m.selected[seg.QuestionIndex]; !picked && seg.QuestionIndex >= m.progress.AnsweredCount {
			effects = append(effects, Effect{
				Kind:          EffectAutoSubmit,
				QuestionIndex: seg.QuestionIndex,
				QuestionID:    m.game.Questions[seg.QuestionIndex].ID,
				Round:         seg.Round,
				At:            seg.Deadline,
			})
		}
		if next.timedOut == nil {
			next.timedOut = make(map[int]time.Time)
		}
		next.timedOut[seg.QuestionIndex] = seg.Deadline
		next.cursor = roundclock.Cursor{Answered: seg.QuestionIndex + 1, Anchor: seg.Deadline}
	}
}

func (m *Machine) snapshot(phase domain.Phase, seg roundclock.Segment, cur roundclock.Cursor) Snapshot {
	selected := domain.NoAnswer
	if opt, ok := m.selected[seg.QuestionIndex]; ok && phase == domain.PhaseAnswering {
		selected = opt
	}
	return Snapshot{
		Phase:         phase,
		Segment:       seg,
		QuestionIndex: seg.QuestionIndex,
		Round:         seg.Round,
		Remaining:     seg.Remaining,
		Deadline:      seg.Deadline,
		Answered:      m.progress.AnsweredCount,
		Cursor:        cur.Answered,
		Selected:      selected,
		Err:           m.loadErr,
	}
}

func sameState(a, b Snapshot) bool {
	return a.Phase == b.Phase &&
		a.Segment.Same(b.Segment) &&
		a.Answered == b.Answered &&
		a.Selected == b.Selected &&
		a.Fatal == b.Fatal &&
		(a.Err == nil) == (b.Err == nil)
}
