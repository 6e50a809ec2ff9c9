package gasbank

import (
	"context"
	"fmt"
	"math"

	"github.com/nspcc-dev/neo-go/pkg/encoding/address"
	"github.com/nspcc-dev/neo-go/pkg/util"
)

// Transfer credits a round prize to the winner. It satisfies raffle.Payout;
// a frozen account refuses the credit and the raffle keeps the round pending.
func (m *Manager) Transfer(ctx context.Context, to util.Uint160, amount int64) error {
	if amount < 0 {
		return ErrInvalidAmount
	}

	m.mu.Lock()
	acc := m.accountLocked(to)
	if acc.frozen {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrAccountFrozen, address.Uint160ToString(to))
	}
	if amount > math.MaxInt64-acc.balance {
		m.mu.Unlock()
		return fmt.Errorf("%w: balance %d cannot take %d more", ErrInvalidAmount, acc.balance, amount)
	}
	acc.balance += amount
	m.recordLocked(to, acc, TxTypePrize, amount, "")
	m.mu.Unlock()

	m.log.WithField("winner", address.Uint160ToString(to)).WithField("amount", amount).Info("prize credited")
	return nil
}
