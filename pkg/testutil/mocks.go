// Package testutil provides test doubles shared by the raffle packages.
package testutil

import (
	"context"
	"sync"
	"time"

	"github.com/nspcc-dev/neo-go/pkg/util"
)

// Epoch is the default start time of a ManualClock.
var Epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// ManualClock is a clock that only moves when told to.
type ManualClock struct {
	mu  sync.Mutex
	now time.Time
}

// NewManualClock creates a clock reading start. A zero start uses Epoch.
func NewManualClock(start time.Time) *ManualClock {
	if start.IsZero() {
		start = Epoch
	}
	return &ManualClock{now: start}
}

// Now returns the current reading.
func (c *ManualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d.
func (c *ManualClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// Set moves the clock to t.
func (c *ManualClock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

// Transfer is one recorded prize payment.
type Transfer struct {
	To     util.Uint160
	Amount int64
}

// Payout records prize transfers and can be told to fail.
type Payout struct {
	mu        sync.Mutex
	transfers []Transfer
	err       error
}

// NewPayout creates an empty recorder.
func NewPayout() *Payout {
	return &Payout{}
}

// Transfer records the payment, or returns the configured error.
func (p *Payout) Transfer(_ context.Context, to util.Uint160, amount int64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.transfers = append(p.transfers, Transfer{To: to, Amount: amount})
	return nil
}

// Fail makes subsequent transfers return err. A nil err restores success.
func (p *Payout) Fail(err error) {
	p.mu.Lock()
	p.err = err
	p.mu.Unlock()
}

// Transfers returns a copy of the recorded payments.
func (p *Payout) Transfers() []Transfer {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Transfer(nil), p.transfers...)
}
