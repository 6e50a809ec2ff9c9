package vrf

import "errors"

// Errors
var (
	ErrInvalidSubscription = errors.New("invalid subscription")
	ErrInvalidConsumer     = errors.New("consumer not added to subscription")
	ErrInvalidNumWords     = errors.New("invalid number of random words")
	ErrInvalidAmount       = errors.New("funding amount must be positive")
	ErrNonexistentRequest  = errors.New("nonexistent request")
	ErrInvalidRandomWords  = errors.New("random words do not match the requested count")
	ErrInsufficientBalance = errors.New("insufficient subscription balance")
	ErrCallbackFailed      = errors.New("consumer callback failed")
)
