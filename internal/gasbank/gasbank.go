// Package gasbank keeps GAS balances for raffle players.
//
// Entry flow:
// 1. A player deposits GAS to their account
// 2. Entering the raffle reserves the entrance fee from the balance
// 3. The reservation is consumed once the raffle accepts the entry
// 4. If the raffle rejects the entry, the reservation is released
// 5. The round winner is credited the pool through Transfer
package gasbank

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nspcc-dev/neo-go/pkg/encoding/address"
	"github.com/nspcc-dev/neo-go/pkg/util"

	"github.com/R3E-Network/raffle/pkg/logger"
)

const maxTransactionsPerAccount = 1000

type account struct {
	balance   int64
	reserved  int64
	frozen    bool
	updatedAt time.Time
}

// Manager handles all balance operations.
type Manager struct {
	mu           sync.RWMutex
	accounts     map[util.Uint160]*account
	transactions map[util.Uint160][]Transaction
	reservations map[string]*Reservation
	log          *logger.Logger
	now          func() time.Time
}

// NewManager creates a new balance manager.
func NewManager(log *logger.Logger) *Manager {
	if log == nil {
		log = logger.NewDefault("gasbank")
	}
	return &Manager{
		accounts:     make(map[util.Uint160]*account),
		transactions: make(map[util.Uint160][]Transaction),
		reservations: make(map[string]*Reservation),
		log:          log,
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// Balance returns the account snapshot. Unknown addresses have a zero balance.
func (m *Manager) Balance(ctx context.Context, addr util.Uint160) Account {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := Account{Address: address.Uint160ToString(addr)}
	if acc, ok := m.accounts[addr]; ok {
		out.Balance = acc.balance
		out.Reserved = acc.reserved
		out.Available = acc.balance - acc.reserved
		out.Frozen = acc.frozen
		out.UpdatedAt = acc.updatedAt
	}
	return out
}

// Deposit adds funds to an account.
func (m *Manager) Deposit(ctx context.Context, addr util.Uint160, amount int64, txHash string) (Account, error) {
	if amount <= 0 {
		return Account{}, ErrInvalidAmount
	}

	m.mu.Lock()
	acc := m.accountLocked(addr)
	if acc.frozen {
		m.mu.Unlock()
		return Account{}, fmt.Errorf("%w: %s", ErrAccountFrozen, address.Uint160ToString(addr))
	}
	if amount > math.MaxInt64-acc.balance {
		m.mu.Unlock()
		return Account{}, fmt.Errorf("%w: balance %d cannot take %d more", ErrInvalidAmount, acc.balance, amount)
	}
	acc.balance += amount
	m.recordLocked(addr, acc, TxTypeDeposit, amount, txHash)
	m.mu.Unlock()

	m.log.WithField("address", address.Uint160ToString(addr)).WithField("amount", amount).Debug("deposit")
	return m.Balance(ctx, addr), nil
}

// Withdraw removes available funds from an account.
func (m *Manager) Withdraw(ctx context.Context, addr util.Uint160, amount int64, to string) (Account, error) {
	if amount <= 0 {
		return Account{}, ErrInvalidAmount
	}

	m.mu.Lock()
	acc := m.accountLocked(addr)
	if acc.frozen {
		m.mu.Unlock()
		return Account{}, fmt.Errorf("%w: %s", ErrAccountFrozen, address.Uint160ToString(addr))
	}
	available := acc.balance - acc.reserved
	if amount > available {
		m.mu.Unlock()
		return Account{}, fmt.Errorf("%w: available %d, requested %d", ErrInsufficientBalance, available, amount)
	}
	acc.balance -= amount
	m.recordLocked(addr, acc, TxTypeWithdraw, -amount, to)
	m.mu.Unlock()

	return m.Balance(ctx, addr), nil
}

// Freeze blocks deposits, withdrawals and prize credits for an account.
func (m *Manager) Freeze(ctx context.Context, addr util.Uint160) {
	m.setFrozen(addr, true)
}

// Unfreeze reverses Freeze.
func (m *Manager) Unfreeze(ctx context.Context, addr util.Uint160) {
	m.setFrozen(addr, false)
}

func (m *Manager) setFrozen(addr util.Uint160, frozen bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	acc := m.accountLocked(addr)
	acc.frozen = frozen
	acc.updatedAt = m.now()
	m.log.WithField("address", address.Uint160ToString(addr)).WithField("frozen", frozen).Info("account freeze changed")
}

// Transactions returns up to limit recent transactions, newest first.
func (m *Manager) Transactions(ctx context.Context, addr util.Uint160, limit int) []Transaction {
	m.mu.RLock()
	defer m.mu.RUnlock()

	txs := m.transactions[addr]
	if limit <= 0 || limit > len(txs) {
		limit = len(txs)
	}
	out := make([]Transaction, 0, limit)
	for i := len(txs) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, txs[i])
	}
	return out
}

func (m *Manager) accountLocked(addr util.Uint160) *account {
	acc, ok := m.accounts[addr]
	if !ok {
		acc = &account{}
		m.accounts[addr] = acc
	}
	return acc
}

func (m *Manager) recordLocked(addr util.Uint160, acc *account, txType string, amount int64, ref string) {
	now := m.now()
	acc.updatedAt = now
	txs := append(m.transactions[addr], Transaction{
		ID:           uuid.New().String(),
		Address:      address.Uint160ToString(addr),
		TxType:       txType,
		Amount:       amount,
		BalanceAfter: acc.balance,
		ReferenceID:  ref,
		CreatedAt:    now,
	})
	if len(txs) > maxTransactionsPerAccount {
		txs = txs[len(txs)-maxTransactionsPerAccount:]
	}
	m.transactions[addr] = txs
}
