package gasbank

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/nspcc-dev/neo-go/pkg/encoding/address"
	"github.com/nspcc-dev/neo-go/pkg/util"
)

// Reserve holds amount of the account's available funds for a pending entry.
func (m *Manager) Reserve(ctx context.Context, addr util.Uint160, referenceID string, amount int64) (string, error) {
	if amount < 0 {
		return "", ErrInvalidAmount
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	acc := m.accountLocked(addr)
	if acc.frozen {
		return "", fmt.Errorf("%w: %s", ErrAccountFrozen, address.Uint160ToString(addr))
	}
	available := acc.balance - acc.reserved
	if amount > available {
		return "", fmt.Errorf("%w: available %d, required %d", ErrInsufficientBalance, available, amount)
	}

	reservation := &Reservation{
		ID:          uuid.New().String(),
		Address:     address.Uint160ToString(addr),
		ReferenceID: referenceID,
		Amount:      amount,
		Status:      ReservationPending,
		CreatedAt:   m.now(),
	}
	acc.reserved += amount
	m.reservations[reservation.ID] = reservation
	return reservation.ID, nil
}

// Release returns a reservation to the account's available funds.
func (m *Manager) Release(ctx context.Context, addr util.Uint160, reservationID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	reservation, ok := m.reservations[reservationID]
	if !ok {
		return nil // Idempotent: treat as already released
	}
	if reservation.Address != address.Uint160ToString(addr) {
		return ErrUnauthorized
	}
	if reservation.Status != ReservationPending {
		return fmt.Errorf("reservation already %s", reservation.Status)
	}

	acc := m.accountLocked(addr)
	acc.reserved -= reservation.Amount
	if acc.reserved < 0 {
		acc.reserved = 0
	}
	reservation.Status = ReservationReleased
	delete(m.reservations, reservationID)
	return nil
}

// Consume debits a reservation (the entry was accepted).
func (m *Manager) Consume(ctx context.Context, addr util.Uint160, reservationID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	reservation, ok := m.reservations[reservationID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrReservationNotFound, reservationID)
	}
	if reservation.Address != address.Uint160ToString(addr) {
		return ErrUnauthorized
	}
	if reservation.Status != ReservationPending {
		return fmt.Errorf("reservation already %s", reservation.Status)
	}

	acc := m.accountLocked(addr)
	acc.balance -= reservation.Amount
	acc.reserved -= reservation.Amount
	if acc.reserved < 0 {
		acc.reserved = 0
	}
	m.recordLocked(addr, acc, TxTypeEntry, -reservation.Amount, reservation.ReferenceID)

	reservation.Status = ReservationConsumed
	reservation.ConsumedAt = m.now()
	delete(m.reservations, reservationID)
	return nil
}

// Spend reserves amount, runs fn and consumes the reservation if fn succeeds,
// releasing it otherwise. fn's error is returned unchanged.
func (m *Manager) Spend(ctx context.Context, addr util.Uint160, referenceID string, amount int64, fn func() error) error {
	id, err := m.Reserve(ctx, addr, referenceID, amount)
	if err != nil {
		return err
	}
	if err := fn(); err != nil {
		if relErr := m.Release(ctx, addr, id); relErr != nil {
			m.log.WithError(relErr).WithField("reservation_id", id).Error("release reservation")
		}
		return err
	}
	return m.Consume(ctx, addr, id)
}
