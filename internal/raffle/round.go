package raffle

import (
	"context"
	"fmt"

	"github.com/R3E-Network/raffle/internal/engine/events"
	"github.com/R3E-Network/raffle/internal/vrf"
)

// TriggerRound closes entry and requests randomness for the current round.
// The predicate is re-evaluated here; a caller that skipped CheckUpkeep gets
// an *UpkeepNotNeededError. If the coordinator refuses the request the raffle
// stays open with no pending request.
func (r *Raffle) TriggerRound(ctx context.Context) (vrf.RequestID, error) {
	r.mu.Lock()
	status := r.upkeepStatusLocked()
	if !status.Needed() {
		r.mu.Unlock()
		r.metrics.RecordRandomnessRequest(ErrUpkeepNotNeeded)
		return 0, &UpkeepNotNeededError{Status: status}
	}

	// mu stays held across the request so a synchronous or fast callback
	// always observes the recorded pending id.
	id, err := r.coordinator.RequestRandomWords(ctx, r.cfg.randomnessRequest())
	if err != nil {
		r.mu.Unlock()
		r.metrics.RecordRandomnessRequest(err)
		r.log.WithError(err).Warn("randomness request failed")
		return 0, fmt.Errorf("request randomness: %w", err)
	}
	r.state = StateCalculating
	r.pending = id
	round, participants, balance, at := r.round+1, status.Participants, status.PoolBalance, r.now()
	r.handoff()

	r.metrics.RecordRandomnessRequest(nil)
	r.metrics.SetRoundState(int(StateCalculating))
	r.log.WithField("request_id", uint64(id)).
		WithField("round", round).
		WithField("participants", participants).
		WithField("pool_balance", balance).
		Info("randomness requested")
	events.NewEvent(events.EventRandomnessRequested).
		Component("raffle").
		Round(round).
		RequestID(uint64(id)).
		Amount(balance).
		At(at).
		LogToWithContext(ctx, r.events)
	r.emitMu.Unlock()
	return id, nil
}

// PerformUpkeep is the automation entry point. performData is ignored.
func (r *Raffle) PerformUpkeep(ctx context.Context, performData []byte) error {
	_, err := r.TriggerRound(ctx)
	return err
}
