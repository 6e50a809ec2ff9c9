package raffle

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nspcc-dev/neo-go/pkg/util"

	"github.com/R3E-Network/raffle/internal/engine/events"
	"github.com/R3E-Network/raffle/internal/engine/metrics"
	"github.com/R3E-Network/raffle/internal/vrf"
	"github.com/R3E-Network/raffle/pkg/logger"
)

// Payout moves the pool to the round winner.
type Payout interface {
	Transfer(ctx context.Context, to util.Uint160, amount int64) error
}

// Option customises a Raffle.
type Option func(*Raffle)

// WithLogger sets the logger.
func WithLogger(log *logger.Logger) Option {
	return func(r *Raffle) {
		if log != nil {
			r.log = log
		}
	}
}

// WithEvents sets the event log that receives entry, request and winner events.
func WithEvents(log events.EventLogger) Option {
	return func(r *Raffle) {
		if log != nil {
			r.events = log
		}
	}
}

// WithMetrics sets the metrics collector.
func WithMetrics(c *metrics.Collector) Option {
	return func(r *Raffle) {
		r.metrics = c
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(r *Raffle) {
		if now != nil {
			r.now = now
		}
	}
}

// Raffle owns all round state. Every exported method is atomic: mu serialises
// Enter, TriggerRound and RawFulfillRandomWords so no call interleaves with another.
type Raffle struct {
	mu sync.Mutex
	// emitMu is taken before mu is released so events leave in commit order.
	emitMu sync.Mutex

	cfg         Config
	coordinator vrf.Coordinator
	payout      Payout
	log         *logger.Logger
	events      events.EventLogger
	metrics     *metrics.Collector
	now         func() time.Time

	state         State
	ledger        *Ledger
	lastTimestamp time.Time
	pending       vrf.RequestID
	recentWinner  util.Uint160
	hasWinner     bool
	round         uint64
}

// New creates an open raffle. The interval clock starts at creation time.
func New(cfg Config, coordinator vrf.Coordinator, payout Payout, opts ...Option) (*Raffle, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if coordinator == nil {
		return nil, fmt.Errorf("%w: coordinator is required", ErrInvalidConfig)
	}
	if payout == nil {
		return nil, fmt.Errorf("%w: payout is required", ErrInvalidConfig)
	}

	r := &Raffle{
		cfg:         cfg,
		coordinator: coordinator,
		payout:      payout,
		log:         logger.NewDefault("raffle"),
		events:      events.NoOpLogger{},
		now:         func() time.Time { return time.Now().UTC() },
		state:       StateOpen,
		ledger:      NewLedger(cfg.EntranceFee),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.lastTimestamp = r.now()
	r.metrics.SetRoundState(int(r.state))
	r.metrics.SetPool(0, 0)

	r.log.WithField("entrance_fee", cfg.EntranceFee).
		WithField("interval", cfg.Interval.String()).
		WithField("subscription_id", cfg.SubscriptionID).
		Info("raffle created")
	return r, nil
}

// Enter adds payer to the current round. The amount is checked before the round state,
// so an underpayment never mutates anything.
func (r *Raffle) Enter(ctx context.Context, payer util.Uint160, amount int64) error {
	r.mu.Lock()
	if amount < r.cfg.EntranceFee {
		r.mu.Unlock()
		return fmt.Errorf("%w: paid %d, entrance fee is %d", ErrInsufficientPayment, amount, r.cfg.EntranceFee)
	}
	if r.state != StateOpen {
		state := r.state
		r.mu.Unlock()
		return fmt.Errorf("%w: state is %s", ErrRoundNotOpen, state)
	}
	if err := r.ledger.enter(payer, amount); err != nil {
		r.mu.Unlock()
		return err
	}
	count, balance, round, at := r.ledger.Count(), r.ledger.Balance(), r.round+1, r.now()
	r.handoff()

	r.metrics.RecordEntry(amount)
	r.metrics.SetPool(count, balance)
	r.log.WithField("payer", FormatAddress(payer)).
		WithField("amount", amount).
		WithField("participants", count).
		Debug("raffle entered")
	events.NewEvent(events.EventEntered).
		Component("raffle").
		Round(round).
		Payer(FormatAddress(payer)).
		Amount(amount).
		At(at).
		LogToWithContext(ctx, r.events)
	r.emitMu.Unlock()
	return nil
}

// handoff releases mu while keeping emitMu, so subscribers observe events in the
// order state changed and may read raffle state from their handlers.
func (r *Raffle) handoff() {
	r.emitMu.Lock()
	r.mu.Unlock()
}

// EntranceFee returns the fixed entrance fee.
func (r *Raffle) EntranceFee() int64 {
	return r.cfg.EntranceFee
}

// Interval returns the fixed round interval.
func (r *Raffle) Interval() time.Duration {
	return r.cfg.Interval
}

// Config returns the creation configuration.
func (r *Raffle) Config() Config {
	return r.cfg
}

// State returns the current round state.
func (r *Raffle) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// RecentWinner returns the last winner; ok is false before the first round completes.
func (r *Raffle) RecentWinner() (winner util.Uint160, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.recentWinner, r.hasWinner
}

// LastTimestamp returns the time of the most recent reset.
func (r *Raffle) LastTimestamp() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastTimestamp
}

// ParticipantCount returns the number of entries in the current round.
func (r *Raffle) ParticipantCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ledger.Count()
}

// Participant returns the participant at index i.
func (r *Raffle) Participant(i int) (util.Uint160, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ledger.At(i)
}

// Participants returns the current entry sequence.
func (r *Raffle) Participants() []util.Uint160 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ledger.Participants()
}

// PoolBalance returns the accumulated entrance payments.
func (r *Raffle) PoolBalance() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ledger.Balance()
}

// PendingRequest returns the outstanding randomness request, if any.
func (r *Raffle) PendingRequest() (vrf.RequestID, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pending, r.state == StateCalculating
}

// Round returns the number of completed rounds.
func (r *Raffle) Round() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.round
}

// Snapshot returns every query at a single instant.
func (r *Raffle) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	snap := Snapshot{
		State:         r.state,
		EntranceFee:   r.cfg.EntranceFee,
		Interval:      r.cfg.Interval,
		LastTimestamp: r.lastTimestamp,
		Participants:  r.ledger.Count(),
		PoolBalance:   r.ledger.Balance(),
		Round:         r.round,
	}
	if r.hasWinner {
		snap.RecentWinner = FormatAddress(r.recentWinner)
	}
	if r.state == StateCalculating {
		snap.PendingRequest = r.pending
	}
	return snap
}
