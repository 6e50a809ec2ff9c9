// Package automation runs the upkeep loop that drives raffle rounds: on every
// scheduled tick the keeper evaluates the upkeep predicate and, when it holds,
// performs the upkeep.
package automation

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/R3E-Network/raffle/internal/engine/events"
	"github.com/R3E-Network/raffle/internal/engine/metrics"
	"github.com/R3E-Network/raffle/pkg/logger"
)

// DefaultSchedule polls every ten seconds.
const DefaultSchedule = "@every 10s"

// Tick outcomes.
const (
	OutcomeSkipped   = "skipped"
	OutcomePerformed = "performed"
	OutcomeFailed    = "failed"
)

// Upkeep is a target the keeper maintains.
type Upkeep interface {
	CheckUpkeep(ctx context.Context, checkData []byte) (bool, []byte, error)
	PerformUpkeep(ctx context.Context, performData []byte) error
}

// Stats summarises keeper activity.
type Stats struct {
	Checks    uint64    `json:"checks"`
	Performs  uint64    `json:"performs"`
	Failures  uint64    `json:"failures"`
	LastRun   time.Time `json:"last_run,omitempty"`
	LastError string    `json:"last_error,omitempty"`
}

// Option customises a Keeper.
type Option func(*Keeper)

// WithLogger sets the logger.
func WithLogger(log *logger.Logger) Option {
	return func(k *Keeper) {
		if log != nil {
			k.log = log
		}
	}
}

// WithEvents sets the event log.
func WithEvents(log events.EventLogger) Option {
	return func(k *Keeper) {
		if log != nil {
			k.events = log
		}
	}
}

// WithMetrics sets the metrics collector.
func WithMetrics(c *metrics.Collector) Option {
	return func(k *Keeper) {
		k.metrics = c
	}
}

// WithCheckData sets the payload passed to CheckUpkeep.
func WithCheckData(data []byte) Option {
	return func(k *Keeper) {
		k.checkData = data
	}
}

// Keeper polls an Upkeep on a cron schedule.
type Keeper struct {
	upkeep    Upkeep
	schedule  string
	checkData []byte
	log       *logger.Logger
	events    events.EventLogger
	metrics   *metrics.Collector

	// tickMu serialises ticks; scheduled and manual ticks never overlap.
	tickMu sync.Mutex

	mu      sync.Mutex
	stats   Stats
	cron    *cron.Cron
	cancel  context.CancelFunc
	running bool
}

// NewKeeper creates a keeper. schedule accepts standard five-field cron
// expressions and descriptors such as "@every 10s".
func NewKeeper(upkeep Upkeep, schedule string, opts ...Option) (*Keeper, error) {
	if upkeep == nil {
		return nil, fmt.Errorf("upkeep is required")
	}
	if schedule == "" {
		schedule = DefaultSchedule
	}
	if _, err := cron.ParseStandard(schedule); err != nil {
		return nil, fmt.Errorf("invalid schedule %q: %w", schedule, err)
	}

	k := &Keeper{
		upkeep:   upkeep,
		schedule: schedule,
		log:      logger.NewDefault("automation"),
		events:   events.NoOpLogger{},
	}
	for _, opt := range opts {
		opt(k)
	}
	return k, nil
}

// Schedule returns the cron schedule.
func (k *Keeper) Schedule() string {
	return k.schedule
}

// Tick evaluates the upkeep once and performs it when needed.
func (k *Keeper) Tick(ctx context.Context) (performed bool, err error) {
	k.tickMu.Lock()
	defer k.tickMu.Unlock()

	start := time.Now()
	outcome := OutcomeSkipped
	defer func() {
		k.metrics.RecordKeeperTick(outcome, time.Since(start))
		k.mu.Lock()
		k.stats.Checks++
		k.stats.LastRun = start.UTC()
		switch outcome {
		case OutcomePerformed:
			k.stats.Performs++
		case OutcomeFailed:
			k.stats.Failures++
			k.stats.LastError = err.Error()
		}
		k.mu.Unlock()
	}()

	needed, performData, err := k.upkeep.CheckUpkeep(ctx, k.checkData)
	if err != nil {
		outcome = OutcomeFailed
		err = fmt.Errorf("check upkeep: %w", err)
		k.log.WithError(err).Warn("upkeep check failed")
		return false, err
	}
	if !needed {
		return false, nil
	}

	if err = k.upkeep.PerformUpkeep(ctx, performData); err != nil {
		outcome = OutcomeFailed
		err = fmt.Errorf("perform upkeep: %w", err)
		k.log.WithError(err).Warn("upkeep failed")
		events.NewEvent(events.EventUpkeepFailed).
			Component("automation").
			ErrorFrom(err).
			LogToWithContext(ctx, k.events)
		return false, err
	}

	outcome = OutcomePerformed
	k.log.Info("upkeep performed")
	events.NewEvent(events.EventUpkeepPerformed).
		Component("automation").
		Message(fmt.Sprintf("performed after %s", time.Since(start).Truncate(time.Microsecond))).
		LogToWithContext(ctx, k.events)
	return true, nil
}

// Start schedules ticks until Stop is called or ctx is cancelled.
func (k *Keeper) Start(ctx context.Context) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.running {
		return nil
	}

	runCtx, cancel := context.WithCancel(ctx)
	c := cron.New(cron.WithLocation(time.UTC))
	if _, err := c.AddFunc(k.schedule, func() {
		_, _ = k.Tick(runCtx)
	}); err != nil {
		cancel()
		return fmt.Errorf("schedule upkeep: %w", err)
	}
	c.Start()

	k.cron = c
	k.cancel = cancel
	k.running = true
	k.log.WithField("schedule", k.schedule).Info("keeper started")
	return nil
}

// Stop halts scheduling and waits for a running tick to finish.
func (k *Keeper) Stop() {
	k.mu.Lock()
	if !k.running {
		k.mu.Unlock()
		return
	}
	c, cancel := k.cron, k.cancel
	k.running = false
	k.cron = nil
	k.cancel = nil
	k.mu.Unlock()

	<-c.Stop().Done()
	cancel()
	k.log.Info("keeper stopped")
}

// Running reports whether the keeper is scheduled.
func (k *Keeper) Running() bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.running
}

// Stats returns keeper counters.
func (k *Keeper) Stats() Stats {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.stats
}
