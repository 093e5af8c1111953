package redis

import (
	"context"
	"reflect"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
)

func TestBreakMarkerStoreRoundTrip(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	defer mr.Close()

	store := NewBreakMarkerStore(newClient(mr), time.Hour)
	ctx := context.Background()

	rounds, err := store.ShownRounds(ctx, "game-1", "p1")
	if err != nil {
		t.Fatalf("shown rounds: %v", err)
	}
	if len(rounds) != 0 {
		t.Fatalf("expected no markers, got %v", rounds)
	}

	for _, r := range []int{3, 2, 3} {
		if err := store.MarkShown(ctx, "game-1", "p1", r); err != nil {
			t.Fatalf("mark %d: %v", r, err)
		}
	}
	rounds, err = store.ShownRounds(ctx, "game-1", "p1")
	if err != nil {
		t.Fatalf("shown rounds: %v", err)
	}
	if !reflect.DeepEqual(rounds, []int{2, 3}) {
		t.Fatalf("unexpected rounds %v", rounds)
	}
	if ttl := mr.TTL("trivia:breaks:game-1:p1"); ttl != time.Hour {
		t.Fatalf("expected marker ttl, got %s", ttl)
	}
}
