package memory

import (
	"context"
	"sort"
	"sync"
)

// BreakMarkerStore keeps round-break markers in process memory.
type BreakMarkerStore struct {
	mu      sync.RWMutex
	markers map[string]map[int]struct{}
}

func NewBreakMarkerStore() *BreakMarkerStore {
	return &BreakMarkerStore{markers: make(map[string]map[int]struct{})}
}

func (s *BreakMarkerStore) ShownRounds(_ context.Context, gameID, playerID string) ([]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rounds := make([]int, 0, len(s.markers[progressKey(gameID, playerID)]))
	for r := range s.markers[progressKey(gameID, playerID)] {
		rounds = append(rounds, r)
	}
	sort.Ints(rounds)
	return rounds, nil
}

func (s *BreakMarkerStore) MarkShown(_ context.Context, gameID, playerID string, round int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := progressKey(gameID, playerID)
	if s.markers[key] == nil {
		s.markers[key] = make(map[int]struct{})
	}
	s.markers[key][round] = struct{}{}
	return nil
}
