package storage

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestMemory_SaveGet(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	saved, err := m.SaveRound(ctx, RoundRecord{Round: 1, RequestID: 7, Winner: "NWinner", Prize: 300, Participants: 3, RandomWord: "42"})
	if err != nil {
		t.Fatalf("SaveRound failed: %v", err)
	}
	if saved.ID == "" {
		t.Error("Saved record should have an ID")
	}
	if saved.DrawnAt.IsZero() {
		t.Error("Saved record should have a draw time")
	}

	got, err := m.GetRound(ctx, 1)
	if err != nil {
		t.Fatalf("GetRound failed: %v", err)
	}
	if got != saved {
		t.Errorf("Expected %+v, got %+v", saved, got)
	}

	if _, err := m.SaveRound(ctx, RoundRecord{Round: 1}); !errors.Is(err, ErrRoundExists) {
		t.Errorf("Expected ErrRoundExists, got %v", err)
	}
	if _, err := m.GetRound(ctx, 2); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestMemory_ListRounds(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	for i := uint64(1); i <= 5; i++ {
		if _, err := m.SaveRound(ctx, RoundRecord{Round: i, DrawnAt: time.Unix(int64(i), 0)}); err != nil {
			t.Fatalf("SaveRound %d failed: %v", i, err)
		}
	}

	all, err := m.ListRounds(ctx, 0, 0)
	if err != nil {
		t.Fatalf("ListRounds failed: %v", err)
	}
	if len(all) != 5 {
		t.Fatalf("Expected 5 rounds, got %d", len(all))
	}
	if all[0].Round != 5 || all[4].Round != 1 {
		t.Errorf("Expected newest first, got rounds %d..%d", all[0].Round, all[4].Round)
	}

	page, err := m.ListRounds(ctx, 2, 1)
	if err != nil {
		t.Fatalf("ListRounds page failed: %v", err)
	}
	if len(page) != 2 || page[0].Round != 4 || page[1].Round != 3 {
		t.Errorf("Expected rounds 4 and 3, got %+v", page)
	}

	empty, err := m.ListRounds(ctx, 10, 10)
	if err != nil {
		t.Fatalf("ListRounds past end failed: %v", err)
	}
	if len(empty) != 0 {
		t.Errorf("Expected empty page, got %d records", len(empty))
	}
}
