package raffle

import (
	"fmt"
	"math"

	"github.com/nspcc-dev/neo-go/pkg/util"
)

// Ledger tracks the current round's participants and pool balance.
// It is not safe for concurrent use; the Raffle serialises access.
type Ledger struct {
	fee          int64
	participants []util.Uint160
	balance      int64
}

// NewLedger creates an empty ledger for the given entrance fee.
func NewLedger(fee int64) *Ledger {
	return &Ledger{fee: fee}
}

// EntranceFee returns the fixed entrance fee.
func (l *Ledger) EntranceFee() int64 {
	return l.fee
}

// Count returns the number of entries in the current round.
func (l *Ledger) Count() int {
	return len(l.participants)
}

// At returns the participant at index i in entry order.
func (l *Ledger) At(i int) (util.Uint160, error) {
	if i < 0 || i >= len(l.participants) {
		return util.Uint160{}, fmt.Errorf("%w: %d (participants: %d)", ErrIndexOutOfRange, i, len(l.participants))
	}
	return l.participants[i], nil
}

// Balance returns the pool balance.
func (l *Ledger) Balance() int64 {
	return l.balance
}

// Participants returns a copy of the entry sequence.
func (l *Ledger) Participants() []util.Uint160 {
	out := make([]util.Uint160, len(l.participants))
	copy(out, l.participants)
	return out
}

// enter appends payer. The fee rule is enforced by Raffle.Enter before the state check.
func (l *Ledger) enter(payer util.Uint160, amount int64) error {
	if amount > math.MaxInt64-l.balance {
		return fmt.Errorf("%w: pool %d cannot take %d more", ErrPoolOverflow, l.balance, amount)
	}
	l.participants = append(l.participants, payer)
	l.balance += amount
	return nil
}

func (l *Ledger) reset() {
	l.participants = nil
	l.balance = 0
}
