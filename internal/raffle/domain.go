// Package raffle implements the automated raffle: a fixed-fee entrance ledger,
// the upkeep predicate polled by the automation keeper, and the OPEN/CALCULATING
// round state machine driven by the randomness coordinator's callbacks.
package raffle

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/R3E-Network/raffle/internal/vrf"
)

// State is the raffle round state.
type State int32

const (
	// StateOpen accepts entries.
	StateOpen State = iota

	// StateCalculating waits for the randomness callback; entries are frozen.
	StateCalculating
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateCalculating:
		return "calculating"
	default:
		return fmt.Sprintf("state(%d)", s)
	}
}

// MarshalJSON implements json.Marshaler.
func (s State) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// UnmarshalJSON implements json.Unmarshaler.
func (s *State) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	parsed, err := ParseState(str)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// ParseState converts a string to a State.
func ParseState(s string) (State, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "open", "0":
		return StateOpen, nil
	case "calculating", "1":
		return StateCalculating, nil
	default:
		return StateOpen, fmt.Errorf("unknown raffle state %q", s)
	}
}

// Default configuration values.
const (
	DefaultEntranceFee          = 1_000_000 // 0.01 GAS
	DefaultInterval             = 30 * time.Second
	DefaultRequestConfirmations = 3
	DefaultCallbackGasLimit     = 500_000
	DefaultNumWords             = 1
	DefaultConsumerName         = "raffle"
	DefaultKeyHash              = "0xd89b2bf150e3b9e13446986e571fb9cab24b13cea0a43ea20a6049a85cc807cc"
)

// Config is fixed at creation and immutable afterwards.
type Config struct {
	// EntranceFee is the minimum payment, in the smallest GAS unit.
	EntranceFee int64
	// Interval is the minimum time between round resets.
	Interval time.Duration

	KeyHash              string
	SubscriptionID       vrf.SubscriptionID
	RequestConfirmations uint16
	CallbackGasLimit     uint32
	NumWords             uint32

	// ConsumerName identifies the raffle to the coordinator.
	ConsumerName string
}

// DefaultConfig returns the configuration used by local development networks.
func DefaultConfig() Config {
	return Config{
		EntranceFee:          DefaultEntranceFee,
		Interval:             DefaultInterval,
		KeyHash:              DefaultKeyHash,
		RequestConfirmations: DefaultRequestConfirmations,
		CallbackGasLimit:     DefaultCallbackGasLimit,
		NumWords:             DefaultNumWords,
		ConsumerName:         DefaultConsumerName,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.EntranceFee < 0 {
		return fmt.Errorf("%w: entrance fee must not be negative", ErrInvalidConfig)
	}
	if c.Interval < 0 {
		return fmt.Errorf("%w: interval must not be negative", ErrInvalidConfig)
	}
	if c.NumWords == 0 {
		return fmt.Errorf("%w: num words must be at least 1", ErrInvalidConfig)
	}
	if c.CallbackGasLimit == 0 {
		return fmt.Errorf("%w: callback gas limit is required", ErrInvalidConfig)
	}
	if strings.TrimSpace(c.ConsumerName) == "" {
		return fmt.Errorf("%w: consumer name is required", ErrInvalidConfig)
	}
	return nil
}

func (c Config) randomnessRequest() vrf.Request {
	return vrf.Request{
		KeyHash:              c.KeyHash,
		SubscriptionID:       c.SubscriptionID,
		RequestConfirmations: c.RequestConfirmations,
		CallbackGasLimit:     c.CallbackGasLimit,
		NumWords:             c.NumWords,
		Consumer:             c.ConsumerName,
	}
}

// Snapshot is a consistent read of every raffle query at one instant.
type Snapshot struct {
	State          State         `json:"state"`
	EntranceFee    int64         `json:"entrance_fee"`
	Interval       time.Duration `json:"interval"`
	LastTimestamp  time.Time     `json:"last_timestamp"`
	Participants   int           `json:"participants"`
	PoolBalance    int64         `json:"pool_balance"`
	RecentWinner   string        `json:"recent_winner,omitempty"`
	PendingRequest vrf.RequestID `json:"pending_request,omitempty"`
	Round          uint64        `json:"round"`
}
