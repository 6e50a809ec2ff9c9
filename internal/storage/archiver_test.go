package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/R3E-Network/raffle/internal/engine/events"
	"github.com/R3E-Network/raffle/pkg/logger"
)

func winnerEvent(round uint64) events.Event {
	return events.NewEvent(events.EventWinnerPicked).
		Component("raffle").
		Round(round).
		RequestID(round + 10).
		Winner("NWinner").
		Amount(500).
		Metadata("participants", "5").
		Metadata("random_word", "123456789").
		At(time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)).
		Build()
}

func TestRecordFromEvent(t *testing.T) {
	rec, err := RecordFromEvent(winnerEvent(3))
	if err != nil {
		t.Fatalf("RecordFromEvent failed: %v", err)
	}
	if rec.Round != 3 || rec.RequestID != 13 {
		t.Errorf("Expected round 3 request 13, got %d/%d", rec.Round, rec.RequestID)
	}
	if rec.Winner != "NWinner" || rec.Prize != 500 {
		t.Errorf("Unexpected winner/prize: %s/%d", rec.Winner, rec.Prize)
	}
	if rec.Participants != 5 || rec.RandomWord != "123456789" {
		t.Errorf("Unexpected participants/word: %d/%s", rec.Participants, rec.RandomWord)
	}

	if _, err := RecordFromEvent(events.NewEvent(events.EventEntered).Build()); err == nil {
		t.Error("Expected error for non-winner event")
	}

	bad := winnerEvent(1)
	bad.Metadata["participants"] = "many"
	if _, err := RecordFromEvent(bad); err == nil {
		t.Error("Expected error for malformed participants")
	}
}

func TestArchiver_PersistsWinnerEvents(t *testing.T) {
	store := NewMemory()
	log := events.NewRingBuffer(10)
	a := NewArchiver(store, logger.Discard())

	a.Start(context.Background(), log)
	log.Log(events.NewEvent(events.EventEntered).Build())
	log.Log(winnerEvent(1))
	log.Log(winnerEvent(1))
	log.Log(winnerEvent(2))
	a.Stop()
	a.Stop()

	rounds, err := store.ListRounds(context.Background(), 0, 0)
	if err != nil {
		t.Fatalf("ListRounds failed: %v", err)
	}
	if len(rounds) != 2 {
		t.Fatalf("Expected 2 archived rounds, got %d", len(rounds))
	}
	if rounds[0].Round != 2 {
		t.Errorf("Expected newest round 2, got %d", rounds[0].Round)
	}

	// Unsubscribed after Stop.
	log.Log(winnerEvent(3))
	if _, err := store.GetRound(context.Background(), 3); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected round 3 not archived, got %v", err)
	}
}
