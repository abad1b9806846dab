package feed

import (
	"context"
	"testing"

	feedDomain "github.com/EndlessPixel/git-city/internal/app/domain/feed"
	"github.com/EndlessPixel/git-city/internal/app/storage/memory"
)

func seedEvents(t *testing.T, store *memory.Store, n int) {
	t.Helper()
	ctx := context.Background()
	for i := 0; i < n; i++ {
		_, err := store.AppendEvent(ctx, feedDomain.Event{
			Kind:    feedDomain.KindKudos,
			Payload: map[string]interface{}{"n": i},
		})
		if err != nil {
			t.Fatalf("AppendEvent error: %v", err)
		}
	}
}

func TestListPaginates(t *testing.T) {
	store := memory.New()
	seedEvents(t, store, 7)
	svc := New(store, nil)
	ctx := context.Background()

	first, total, err := svc.List(ctx, 1, 3)
	if err != nil {
		t.Fatalf("List error: %v", err)
	}
	if total != 7 {
		t.Errorf("total = %d, want 7", total)
	}
	if len(first) != 3 {
		t.Fatalf("page 1 has %d events, want 3", len(first))
	}

	last, _, err := svc.List(ctx, 3, 3)
	if err != nil {
		t.Fatalf("List page 3 error: %v", err)
	}
	if len(last) != 1 {
		t.Errorf("page 3 has %d events, want 1", len(last))
	}

	// Newest first across the page boundary.
	second, _, err := svc.List(ctx, 2, 3)
	if err != nil {
		t.Fatalf("List page 2 error: %v", err)
	}
	if !first[2].CreatedAt.Before(first[0].CreatedAt) && first[0].CreatedAt != first[2].CreatedAt {
		t.Errorf("page 1 not newest first: %v then %v", first[0].CreatedAt, first[2].CreatedAt)
	}
	if second[0].CreatedAt.After(first[2].CreatedAt) {
		t.Errorf("page 2 newer than page 1 tail")
	}
}

func TestListClampsArguments(t *testing.T) {
	store := memory.New()
	seedEvents(t, store, 2)
	svc := New(store, nil)
	ctx := context.Background()

	events, total, err := svc.List(ctx, 0, -5)
	if err != nil {
		t.Fatalf("List error: %v", err)
	}
	if total != 2 || len(events) != 2 {
		t.Errorf("List(0, -5) = %d events, total %d; want both 2", len(events), total)
	}

	if _, _, err := svc.List(ctx, 1, MaxPerPage+50); err != nil {
		t.Errorf("oversized perPage should clamp, got error: %v", err)
	}
}

func TestListEmptyFeed(t *testing.T) {
	svc := New(memory.New(), nil)
	events, total, err := svc.List(context.Background(), 1, 10)
	if err != nil {
		t.Fatalf("List error: %v", err)
	}
	if total != 0 || len(events) != 0 {
		t.Errorf("empty feed: %d events, total %d", len(events), total)
	}
}
