// Package vrf models the verifiable randomness coordinator the raffle consumes:
// the request/callback protocol types and a local coordinator used for
// development networks and tests.
package vrf

import (
	"context"
	"math/big"
	"time"
)

// RequestID correlates a randomness request with its eventual callback.
type RequestID uint64

// SubscriptionID identifies a funded coordinator subscription.
type SubscriptionID uint64

// Request describes a randomness request issued by a consumer.
type Request struct {
	KeyHash              string         `json:"key_hash"`
	SubscriptionID       SubscriptionID `json:"subscription_id"`
	RequestConfirmations uint16         `json:"request_confirmations"`
	CallbackGasLimit     uint32         `json:"callback_gas_limit"`
	NumWords             uint32         `json:"num_words"`
	Consumer             string         `json:"consumer"`
}

// Coordinator accepts randomness requests. Each accepted request is later
// answered with exactly one successful callback to the consumer.
type Coordinator interface {
	RequestRandomWords(ctx context.Context, req Request) (RequestID, error)
}

// Consumer receives randomness callbacks from a coordinator.
type Consumer interface {
	RawFulfillRandomWords(ctx context.Context, id RequestID, words []*big.Int) error
}

// RequestStatus represents the status of a coordinator request.
type RequestStatus string

const (
	RequestStatusPending   RequestStatus = "pending"
	RequestStatusFulfilled RequestStatus = "fulfilled"
	RequestStatusFailed    RequestStatus = "failed"
)

// PendingRequest is a request held by the coordinator until its callback succeeds.
type PendingRequest struct {
	ID          RequestID     `json:"id"`
	Request     Request       `json:"request"`
	Status      RequestStatus `json:"status"`
	Attempts    int           `json:"attempts"`
	LastError   string        `json:"last_error,omitempty"`
	RequestedAt time.Time     `json:"requested_at"`
}

// Subscription holds the LINK balance that pays for fulfilments.
type Subscription struct {
	ID        SubscriptionID `json:"id"`
	Balance   *big.Int       `json:"balance"`
	Consumers []string       `json:"consumers"`
	ReqCount  uint64         `json:"req_count"`
	CreatedAt time.Time      `json:"created_at"`
}

// Stats summarises coordinator activity.
type Stats struct {
	TotalRequests     uint64 `json:"total_requests"`
	FulfilledRequests uint64 `json:"fulfilled_requests"`
	PendingRequests   int    `json:"pending_requests"`
	FailedCallbacks   uint64 `json:"failed_callbacks"`
}
