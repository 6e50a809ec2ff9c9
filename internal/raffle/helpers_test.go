package raffle

import (
	"context"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/nspcc-dev/neo-go/pkg/util"
	"github.com/stretchr/testify/require"

	"github.com/R3E-Network/raffle/internal/engine/events"
	"github.com/R3E-Network/raffle/internal/vrf"
	"github.com/R3E-Network/raffle/pkg/logger"
	"github.com/R3E-Network/raffle/pkg/testutil"
)

type fakeCoordinator struct {
	mu       sync.Mutex
	next     vrf.RequestID
	requests []vrf.Request
	err      error
}

func (c *fakeCoordinator) RequestRandomWords(_ context.Context, req vrf.Request) (vrf.RequestID, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return 0, c.err
	}
	c.next++
	c.requests = append(c.requests, req)
	return c.next, nil
}

type harness struct {
	raffle      *Raffle
	coordinator *fakeCoordinator
	payout      *testutil.Payout
	clock       *testutil.ManualClock
	events      *events.RingBuffer
}

func newHarness(t *testing.T, fee int64, interval time.Duration) *harness {
	t.Helper()
	cfg := DefaultConfig()
	cfg.EntranceFee = fee
	cfg.Interval = interval
	cfg.SubscriptionID = 1

	h := &harness{
		coordinator: &fakeCoordinator{},
		payout:      testutil.NewPayout(),
		clock:       testutil.NewManualClock(time.Time{}),
		events:      events.NewRingBuffer(100),
	}
	r, err := New(cfg, h.coordinator, h.payout,
		WithLogger(logger.Discard()),
		WithEvents(h.events),
		WithClock(h.clock.Now),
	)
	require.NoError(t, err)
	h.raffle = r
	return h
}

func addr(b byte) util.Uint160 {
	return util.Uint160{b}
}

func word(v int64) []*big.Int {
	return []*big.Int{big.NewInt(v)}
}

// triggered enters the given players, lets the interval elapse and starts a round.
func (h *harness) triggered(t *testing.T, players ...util.Uint160) vrf.RequestID {
	t.Helper()
	ctx := context.Background()
	for _, p := range players {
		require.NoError(t, h.raffle.Enter(ctx, p, h.raffle.EntranceFee()))
	}
	h.clock.Advance(h.raffle.Interval())
	id, err := h.raffle.TriggerRound(ctx)
	require.NoError(t, err)
	return id
}
