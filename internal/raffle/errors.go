package raffle

import (
	"errors"
	"fmt"
	"time"
)

// Errors
var (
	ErrInsufficientPayment = errors.New("insufficient payment")
	ErrRoundNotOpen        = errors.New("raffle round is not open")
	ErrUpkeepNotNeeded     = errors.New("upkeep not needed")
	ErrUnknownRequest      = errors.New("unknown randomness request")
	ErrIndexOutOfRange     = errors.New("participant index out of range")
	ErrTransferFailed      = errors.New("winner transfer failed")
	ErrNoRandomWords       = errors.New("no random words delivered")
	ErrInvalidConfig       = errors.New("invalid raffle config")
	ErrPoolOverflow        = errors.New("pool balance would overflow")
)

// UpkeepNotNeededError carries the predicate sub-conditions that failed a trigger.
type UpkeepNotNeededError struct {
	Status UpkeepStatus
}

func (e *UpkeepNotNeededError) Error() string {
	s := e.Status
	return fmt.Sprintf("%s: state=%s elapsed=%s participants=%d balance=%d",
		ErrUpkeepNotNeeded, s.State, s.Elapsed.Truncate(time.Millisecond), s.Participants, s.PoolBalance)
}

// Unwrap lets errors.Is match ErrUpkeepNotNeeded.
func (e *UpkeepNotNeededError) Unwrap() error {
	return ErrUpkeepNotNeeded
}
