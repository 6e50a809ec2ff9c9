package storage

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/R3E-Network/raffle/internal/engine/events"
	"github.com/R3E-Network/raffle/pkg/logger"
)

const (
	archiveQueueSize = 256
	saveTimeout      = 5 * time.Second
)

// RecordFromEvent builds a round record from a winner_picked event.
func RecordFromEvent(e events.Event) (RoundRecord, error) {
	if e.Type != events.EventWinnerPicked {
		return RoundRecord{}, fmt.Errorf("unexpected event type %q", e.Type)
	}
	rec := RoundRecord{
		Round:      e.Round,
		RequestID:  e.RequestID,
		Winner:     e.Winner,
		Prize:      e.Amount,
		RandomWord: e.Metadata["random_word"],
		DrawnAt:    e.Timestamp,
	}
	if raw, ok := e.Metadata["participants"]; ok {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return RoundRecord{}, fmt.Errorf("participants %q: %w", raw, err)
		}
		rec.Participants = n
	}
	return rec, nil
}

// Archiver persists every winner_picked event to a RoundStore. Events are
// queued and written by a background worker so the emitter never waits on
// the database.
type Archiver struct {
	store RoundStore
	log   *logger.Logger
	queue chan events.Event

	mu          sync.Mutex
	unsubscribe func()
	stopCh      chan struct{}
	wg          sync.WaitGroup
}

// NewArchiver creates an archiver writing to store.
func NewArchiver(store RoundStore, log *logger.Logger) *Archiver {
	if log == nil {
		log = logger.NewDefault("archiver")
	}
	return &Archiver{
		store: store,
		log:   log,
		queue: make(chan events.Event, archiveQueueSize),
	}
}

// Start subscribes to src and launches the writer.
func (a *Archiver) Start(ctx context.Context, src events.EventLogger) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.stopCh != nil {
		return
	}
	a.stopCh = make(chan struct{})
	a.unsubscribe = src.SubscribeFiltered(events.OfType(events.EventWinnerPicked), a.enqueue)

	a.wg.Add(1)
	go a.run(ctx, a.stopCh)
}

// Stop unsubscribes, drains queued events and waits for the writer.
func (a *Archiver) Stop() {
	a.mu.Lock()
	if a.stopCh == nil {
		a.mu.Unlock()
		return
	}
	a.unsubscribe()
	close(a.stopCh)
	a.stopCh = nil
	a.mu.Unlock()

	a.wg.Wait()
}

func (a *Archiver) enqueue(e events.Event) {
	select {
	case a.queue <- e:
	default:
		a.log.WithField("round", e.Round).Error("archive queue full, round not recorded")
	}
}

func (a *Archiver) run(ctx context.Context, stopCh <-chan struct{}) {
	defer a.wg.Done()
	for {
		select {
		case e := <-a.queue:
			a.Archive(ctx, e)
		case <-ctx.Done():
			return
		case <-stopCh:
			for {
				select {
				case e := <-a.queue:
					a.Archive(context.Background(), e)
				default:
					return
				}
			}
		}
	}
}

// Archive writes one event synchronously. Duplicate rounds are ignored.
func (a *Archiver) Archive(ctx context.Context, e events.Event) {
	rec, err := RecordFromEvent(e)
	if err != nil {
		a.log.WithError(err).Warn("skip malformed round event")
		return
	}

	ctx, cancel := context.WithTimeout(ctx, saveTimeout)
	defer cancel()
	saved, err := a.store.SaveRound(ctx, rec)
	switch {
	case errors.Is(err, ErrRoundExists):
		a.log.WithField("round", rec.Round).Debug("round already archived")
	case err != nil:
		a.log.WithError(err).WithField("round", rec.Round).Error("archive round")
	default:
		a.log.WithField("round", saved.Round).WithField("id", saved.ID).Debug("round archived")
	}
}
