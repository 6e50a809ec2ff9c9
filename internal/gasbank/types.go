package gasbank

import (
	"errors"
	"time"
)

const (
	// Transaction types
	TxTypeDeposit  = "deposit"
	TxTypeWithdraw = "withdraw"
	TxTypeEntry    = "raffle_entry" // Entrance fee paid into the pool
	TxTypePrize    = "raffle_prize" // Pool paid out to a round winner

	// Reservation status
	ReservationPending  = "pending"
	ReservationConsumed = "consumed"
	ReservationReleased = "released"
)

// Errors
var (
	ErrInvalidAmount       = errors.New("amount must be positive")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrAccountFrozen       = errors.New("account is frozen")
	ErrReservationNotFound = errors.New("reservation not found")
	ErrUnauthorized        = errors.New("reservation belongs to another account")
)

// Account is a balance snapshot. Available funds are Balance - Reserved.
type Account struct {
	Address   string    `json:"address"`
	Balance   int64     `json:"balance"`
	Reserved  int64     `json:"reserved"`
	Available int64     `json:"available"`
	Frozen    bool      `json:"frozen"`
	UpdatedAt time.Time `json:"updated_at,omitempty"`
}

// Transaction is a ledger entry for one balance change.
type Transaction struct {
	ID           string    `json:"id"`
	Address      string    `json:"address"`
	TxType       string    `json:"tx_type"`
	Amount       int64     `json:"amount"`
	BalanceAfter int64     `json:"balance_after"`
	ReferenceID  string    `json:"reference_id,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// Reservation holds funds for a pending raffle entry.
type Reservation struct {
	ID          string    `json:"id"`
	Address     string    `json:"address"`
	ReferenceID string    `json:"reference_id"`
	Amount      int64     `json:"amount"`
	Status      string    `json:"status"`
	CreatedAt   time.Time `json:"created_at"`
	ConsumedAt  time.Time `json:"consumed_at,omitempty"`
}
