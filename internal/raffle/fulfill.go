package raffle

import (
	"context"
	"fmt"
	"math/big"
	"strconv"

	"github.com/R3E-Network/raffle/internal/engine/events"
	"github.com/R3E-Network/raffle/internal/vrf"
)

// Fulfillment results reported to metrics.
const (
	FulfillAccepted       = "accepted"
	FulfillUnknownRequest = "unknown_request"
	FulfillNoWords        = "no_words"
	FulfillTransferFailed = "transfer_failed"
)

// RawFulfillRandomWords implements vrf.Consumer.
func (r *Raffle) RawFulfillRandomWords(ctx context.Context, id vrf.RequestID, words []*big.Int) error {
	return r.Fulfill(ctx, id, words)
}

// Fulfill applies a randomness delivery. Only the outstanding request id is
// accepted. The winner is words[0] mod participants; the modulo bias is
// negligible for 256-bit words and accepted.
//
// The pool is paid out before any state changes. A failed payout leaves the
// raffle calculating with the same pending request, so the coordinator may
// redeliver it.
func (r *Raffle) Fulfill(ctx context.Context, id vrf.RequestID, words []*big.Int) error {
	r.mu.Lock()
	if r.state != StateCalculating || id != r.pending {
		state, pending := r.state, r.pending
		r.mu.Unlock()
		r.metrics.RecordFulfillment(FulfillUnknownRequest)
		r.log.WithField("request_id", uint64(id)).
			WithField("state", state.String()).
			WithField("pending", uint64(pending)).
			Warn("rejected callback for unknown request")
		return fmt.Errorf("%w: %d", ErrUnknownRequest, id)
	}
	if len(words) == 0 || words[0] == nil {
		r.mu.Unlock()
		r.metrics.RecordFulfillment(FulfillNoWords)
		return fmt.Errorf("%w: request %d", ErrNoRandomWords, id)
	}

	count := r.ledger.Count()
	index := new(big.Int).Mod(words[0], big.NewInt(int64(count))).Int64()
	winner, err := r.ledger.At(int(index))
	if err != nil {
		r.mu.Unlock()
		return err
	}
	prize := r.ledger.Balance()
	round := r.round + 1

	if err := r.payout.Transfer(ctx, winner, prize); err != nil {
		at := r.now()
		r.handoff()
		r.metrics.RecordFulfillment(FulfillTransferFailed)
		r.log.WithError(err).
			WithField("request_id", uint64(id)).
			WithField("winner", FormatAddress(winner)).
			WithField("prize", prize).
			Error("winner payout failed, round stays calculating")
		events.NewEvent(events.EventFulfillmentRejected).
			Component("raffle").
			Round(round).
			RequestID(uint64(id)).
			Winner(FormatAddress(winner)).
			Amount(prize).
			ErrorFrom(err).
			At(at).
			LogToWithContext(ctx, r.events)
		r.emitMu.Unlock()
		return fmt.Errorf("%w: %w", ErrTransferFailed, err)
	}

	r.recentWinner = winner
	r.hasWinner = true
	r.pending = 0
	r.ledger.reset()
	r.lastTimestamp = r.now()
	r.state = StateOpen
	r.round = round
	at := r.lastTimestamp
	r.handoff()

	r.metrics.RecordFulfillment(FulfillAccepted)
	r.metrics.ObservePayout(prize)
	r.metrics.SetRoundState(int(StateOpen))
	r.metrics.SetPool(0, 0)
	r.log.WithField("request_id", uint64(id)).
		WithField("round", round).
		WithField("winner", FormatAddress(winner)).
		WithField("prize", prize).
		WithField("participants", count).
		Info("winner picked")
	events.NewEvent(events.EventWinnerPicked).
		Component("raffle").
		Round(round).
		RequestID(uint64(id)).
		Winner(FormatAddress(winner)).
		Amount(prize).
		Metadata("participants", strconv.Itoa(count)).
		Metadata("random_word", words[0].String()).
		At(at).
		LogToWithContext(ctx, r.events)
	r.emitMu.Unlock()
	return nil
}
