package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/soundbooth/djcast/internal/store"
)

func TestRecordAndListPlays(t *testing.T) {
	s, err := New(":memory:")
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	defer s.Close()

	ctx := context.Background()

	titles := []string{"So What", "Freddie Freeloader", "Blue in Green"}
	for _, title := range titles {
		err := s.RecordPlay(ctx, store.Play{
			Room:      "lounge",
			Title:     title,
			Artist:    "Miles Davis",
			DJ:        "miles",
			StartedAt: time.Now(),
		})
		if err != nil {
			t.Fatalf("record %q: %v", title, err)
		}
	}

	plays, err := s.RecentPlays(ctx, 2)
	if err != nil {
		t.Fatalf("recent plays: %v", err)
	}
	if len(plays) != 2 {
		t.Fatalf("expected 2 plays, got %d", len(plays))
	}
	// Newest first.
	if plays[0].Title != "Blue in Green" || plays[1].Title != "Freddie Freeloader" {
		t.Fatalf("unexpected order: %q, %q", plays[0].Title, plays[1].Title)
	}
	if plays[0].Room != "lounge" || plays[0].DJ != "miles" {
		t.Fatalf("fields lost: %+v", plays[0])
	}
}

func TestLastRoomRoundTrip(t *testing.T) {
	s, err := New(":memory:")
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	defer s.Close()

	ctx := context.Background()

	room, err := s.LastRoom(ctx)
	if err != nil {
		t.Fatalf("last room on empty store: %v", err)
	}
	if room != "" {
		t.Fatalf("expected empty, got %q", room)
	}

	if err := s.SetLastRoom(ctx, "lounge"); err != nil {
		t.Fatalf("set last room: %v", err)
	}
	if err := s.SetLastRoom(ctx, "garage"); err != nil {
		t.Fatalf("overwrite last room: %v", err)
	}

	room, err = s.LastRoom(ctx)
	if err != nil {
		t.Fatalf("last room: %v", err)
	}
	if room != "garage" {
		t.Fatalf("expected garage, got %q", room)
	}
}
