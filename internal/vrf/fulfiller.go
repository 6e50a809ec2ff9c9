package vrf

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/R3E-Network/raffle/pkg/logger"
)

// DefaultRetryInterval is how often the fulfiller re-delivers requests whose
// callback failed.
const DefaultRetryInterval = 15 * time.Second

// Fulfiller answers queued requests of a MockCoordinator in the background,
// standing in for the off-chain oracle node.
type Fulfiller struct {
	coordinator   *MockCoordinator
	delay         time.Duration
	retryInterval time.Duration
	log           *logger.Logger

	stopCh  chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool
}

// NewFulfiller creates a fulfiller. delay postpones each first delivery to
// emulate block confirmations.
func NewFulfiller(c *MockCoordinator, delay, retryInterval time.Duration, log *logger.Logger) *Fulfiller {
	if retryInterval <= 0 {
		retryInterval = DefaultRetryInterval
	}
	if log == nil {
		log = logger.NewDefault("vrf-fulfiller")
	}
	return &Fulfiller{
		coordinator:   c,
		delay:         delay,
		retryInterval: retryInterval,
		log:           log,
	}
}

// Start launches the delivery loop.
func (f *Fulfiller) Start(ctx context.Context) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.running {
		return
	}
	f.running = true
	f.stopCh = make(chan struct{})

	f.wg.Add(1)
	go f.run(ctx, f.stopCh)
	f.log.WithField("retry_interval", f.retryInterval.String()).Info("fulfiller started")
}

// Stop halts the loop and waits for an in-flight delivery to finish.
func (f *Fulfiller) Stop() {
	f.mu.Lock()
	if !f.running {
		f.mu.Unlock()
		return
	}
	f.running = false
	close(f.stopCh)
	f.mu.Unlock()

	f.wg.Wait()
	f.log.Info("fulfiller stopped")
}

func (f *Fulfiller) run(ctx context.Context, stopCh <-chan struct{}) {
	defer f.wg.Done()

	retry := time.NewTicker(f.retryInterval)
	defer retry.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case id := <-f.coordinator.queue:
			if f.delay > 0 {
				select {
				case <-time.After(f.delay):
				case <-ctx.Done():
					return
				case <-stopCh:
					return
				}
			}
			f.deliver(ctx, id)
		case <-retry.C:
			f.sweep(ctx)
		}
	}
}

// sweep re-delivers every request still pending.
func (f *Fulfiller) sweep(ctx context.Context) {
	for _, req := range f.coordinator.Pending() {
		if ctx.Err() != nil {
			return
		}
		f.deliver(ctx, req.ID)
	}
}

func (f *Fulfiller) deliver(ctx context.Context, id RequestID) {
	err := f.coordinator.FulfillRandomWords(ctx, id)
	switch {
	case err == nil:
	case errors.Is(err, ErrNonexistentRequest):
		// Already delivered manually.
	case errors.Is(err, ErrCallbackFailed):
		// Logged by the coordinator; retried on the next sweep.
	default:
		f.log.WithError(err).WithField("request_id", uint64(id)).Warn("fulfilment failed")
	}
}
