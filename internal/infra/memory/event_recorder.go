package memory

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"

	"trivia-round-service/internal/domain"
)

// EventRecorder is the EventPublisher used when no broker is configured.
type EventRecorder struct {
	mu     sync.Mutex
	limit  int
	events []domain.Event
}

// NewEventRecorder keeps at most limit events; 0 keeps everything.
func NewEventRecorder(limit int) *EventRecorder {
	return &EventRecorder{limit: limit}
}

func (r *EventRecorder) Publish(_ context.Context, event domain.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	if r.limit > 0 && len(r.events) > r.limit {
		r.events = r.events[len(r.events)-r.limit:]
	}
	log.Debug().Str("kind", string(event.Kind)).Str("game_id", event.GameID).Str("player_id", event.PlayerID).Msg("event recorded")
	return nil
}

// Events returns a copy of the recorded events, optionally filtered by kind.
func (r *EventRecorder) Events(kinds ...domain.EventKind) []domain.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(kinds) == 0 {
		return append([]domain.Event(nil), r.events...)
	}
	var out []domain.Event
	for _, e := range r.events {
		for _, k := range kinds {
			if e.Kind == k {
				out = append(out, e)
				break
			}
		}
	}
	return out
}
