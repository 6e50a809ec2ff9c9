package vrf

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/R3E-Network/raffle/internal/engine/events"
	"github.com/R3E-Network/raffle/pkg/logger"
)

type recordingConsumer struct {
	mu    sync.Mutex
	calls map[RequestID][]*big.Int
	err   error
}

func newRecordingConsumer() *recordingConsumer {
	return &recordingConsumer{calls: make(map[RequestID][]*big.Int)}
}

func (c *recordingConsumer) RawFulfillRandomWords(_ context.Context, id RequestID, words []*big.Int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.calls[id] = words
	return nil
}

func (c *recordingConsumer) setErr(err error) {
	c.mu.Lock()
	c.err = err
	c.mu.Unlock()
}

func (c *recordingConsumer) delivered(id RequestID) ([]*big.Int, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	words, ok := c.calls[id]
	return words, ok
}

func oneLink() *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)
}

func setupCoordinator(t *testing.T) (*MockCoordinator, SubscriptionID, *recordingConsumer, *events.RingBuffer) {
	t.Helper()
	log := events.NewRingBuffer(100)
	c := NewMockCoordinator(DefaultCoordinatorConfig(), WithLogger(logger.Discard()), WithEvents(log))
	sub := c.CreateSubscription()
	require.NoError(t, c.FundSubscription(context.Background(), sub, new(big.Int).Mul(oneLink(), big.NewInt(10))))
	consumer := newRecordingConsumer()
	require.NoError(t, c.AddConsumer(sub, "raffle", consumer))
	return c, sub, consumer, log
}

func request(sub SubscriptionID) Request {
	return Request{
		KeyHash:              "0xabc",
		SubscriptionID:       sub,
		RequestConfirmations: 3,
		CallbackGasLimit:     500_000,
		NumWords:             2,
		Consumer:             "raffle",
	}
}

func TestMockCoordinator_Subscription(t *testing.T) {
	c, sub, _, log := setupCoordinator(t)

	got, err := c.GetSubscription(sub)
	require.NoError(t, err)
	assert.Equal(t, sub, got.ID)
	assert.Equal(t, 0, got.Balance.Cmp(new(big.Int).Mul(oneLink(), big.NewInt(10))))
	assert.Equal(t, []string{"raffle"}, got.Consumers)

	// Returned balance is a copy.
	got.Balance.SetInt64(0)
	again, _ := c.GetSubscription(sub)
	assert.NotZero(t, again.Balance.Sign())

	_, err = c.GetSubscription(99)
	assert.ErrorIs(t, err, ErrInvalidSubscription)
	assert.ErrorIs(t, c.FundSubscription(context.Background(), 99, oneLink()), ErrInvalidSubscription)
	assert.ErrorIs(t, c.FundSubscription(context.Background(), sub, big.NewInt(0)), ErrInvalidAmount)
	assert.ErrorIs(t, c.AddConsumer(99, "x", newRecordingConsumer()), ErrInvalidSubscription)
	assert.ErrorIs(t, c.AddConsumer(sub, "", newRecordingConsumer()), ErrInvalidConsumer)

	assert.Len(t, log.RecentByType(events.EventSubscriptionFunded, 10), 1)
}

func TestMockCoordinator_RequestValidation(t *testing.T) {
	c, sub, _, _ := setupCoordinator(t)
	ctx := context.Background()

	tests := []struct {
		name   string
		mutate func(r *Request)
		want   error
	}{
		{"unknown subscription", func(r *Request) { r.SubscriptionID = 42 }, ErrInvalidSubscription},
		{"unknown consumer", func(r *Request) { r.Consumer = "other" }, ErrInvalidConsumer},
		{"zero words", func(r *Request) { r.NumWords = 0 }, ErrInvalidNumWords},
		{"too many words", func(r *Request) { r.NumWords = MaxNumWords + 1 }, ErrInvalidNumWords},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := request(sub)
			tt.mutate(&req)
			_, err := c.RequestRandomWords(ctx, req)
			assert.ErrorIs(t, err, tt.want)
		})
	}
	assert.Zero(t, c.Stats().TotalRequests)
}

func TestMockCoordinator_RequestAndFulfill(t *testing.T) {
	c, sub, consumer, log := setupCoordinator(t)
	ctx := context.Background()

	id1, err := c.RequestRandomWords(ctx, request(sub))
	require.NoError(t, err)
	id2, err := c.RequestRandomWords(ctx, request(sub))
	require.NoError(t, err)
	assert.Equal(t, RequestID(1), id1)
	assert.Equal(t, RequestID(2), id2)

	pending := c.Pending()
	require.Len(t, pending, 2)
	assert.Equal(t, id1, pending[0].ID)
	assert.Equal(t, RequestStatusPending, pending[0].Status)

	before, _ := c.GetSubscription(sub)
	require.NoError(t, c.FulfillRandomWords(ctx, id1))

	words, ok := consumer.delivered(id1)
	require.True(t, ok)
	assert.Equal(t, DeriveWords(id1, 2), words)

	after, _ := c.GetSubscription(sub)
	payment := new(big.Int).Sub(before.Balance, after.Balance)
	want := new(big.Int).Add(DefaultBaseFee, new(big.Int).Mul(big.NewInt(500_000), DefaultGasPriceLink))
	assert.Equal(t, 0, payment.Cmp(want))
	assert.Equal(t, uint64(2), after.ReqCount)

	_, ok = c.Request(id1)
	assert.False(t, ok)
	assert.ErrorIs(t, c.FulfillRandomWords(ctx, id1), ErrNonexistentRequest)

	stats := c.Stats()
	assert.Equal(t, uint64(2), stats.TotalRequests)
	assert.Equal(t, uint64(1), stats.FulfilledRequests)
	assert.Equal(t, 1, stats.PendingRequests)

	assert.Len(t, log.RecentByType(events.EventVRFRequested, 10), 2)
	assert.Len(t, log.RecentByType(events.EventVRFFulfilled, 10), 1)
}

func TestMockCoordinator_FulfillWithOverride(t *testing.T) {
	c, sub, consumer, _ := setupCoordinator(t)
	ctx := context.Background()

	id, err := c.RequestRandomWords(ctx, request(sub))
	require.NoError(t, err)

	err = c.FulfillRandomWordsWithOverride(ctx, id, []*big.Int{big.NewInt(1)})
	assert.ErrorIs(t, err, ErrInvalidRandomWords)

	override := []*big.Int{big.NewInt(42), big.NewInt(7)}
	require.NoError(t, c.FulfillRandomWordsWithOverride(ctx, id, override))
	words, _ := consumer.delivered(id)
	assert.Equal(t, override, words)
}

func TestMockCoordinator_CallbackFailureKeepsRequest(t *testing.T) {
	c, sub, consumer, log := setupCoordinator(t)
	ctx := context.Background()

	id, err := c.RequestRandomWords(ctx, request(sub))
	require.NoError(t, err)
	before, _ := c.GetSubscription(sub)

	cause := errors.New("transfer failed")
	consumer.setErr(cause)
	err = c.FulfillRandomWords(ctx, id)
	require.ErrorIs(t, err, ErrCallbackFailed)
	assert.ErrorIs(t, err, cause)

	req, ok := c.Request(id)
	require.True(t, ok)
	assert.Equal(t, 1, req.Attempts)
	assert.Equal(t, "transfer failed", req.LastError)
	after, _ := c.GetSubscription(sub)
	assert.Equal(t, 0, before.Balance.Cmp(after.Balance), "failed callbacks are not charged")
	assert.Len(t, log.RecentByType(events.EventVRFFulfillFailed, 10), 1)

	consumer.setErr(nil)
	require.NoError(t, c.FulfillRandomWords(ctx, id))
	assert.Equal(t, uint64(1), c.Stats().FailedCallbacks)
}

func TestMockCoordinator_InsufficientBalance(t *testing.T) {
	c := NewMockCoordinator(DefaultCoordinatorConfig(), WithLogger(logger.Discard()))
	ctx := context.Background()
	sub := c.CreateSubscription()
	consumer := newRecordingConsumer()
	require.NoError(t, c.AddConsumer(sub, "raffle", consumer))

	id, err := c.RequestRandomWords(ctx, request(sub))
	require.NoError(t, err)
	assert.ErrorIs(t, c.FulfillRandomWords(ctx, id), ErrInsufficientBalance)
	_, delivered := consumer.delivered(id)
	assert.False(t, delivered)

	require.NoError(t, c.FundSubscription(ctx, sub, oneLink()))
	require.NoError(t, c.FulfillRandomWords(ctx, id))
}

func TestDeriveWords(t *testing.T) {
	a := DeriveWords(1, 3)
	b := DeriveWords(1, 3)
	c := DeriveWords(2, 3)

	require.Len(t, a, 3)
	assert.Equal(t, a, b)
	assert.NotEqual(t, a[0], a[1])
	assert.NotEqual(t, a[0], c[0])
	for _, w := range a {
		assert.LessOrEqual(t, w.BitLen(), 256)
	}
}

func TestFulfiller_DeliversQueuedRequests(t *testing.T) {
	c, sub, consumer, _ := setupCoordinator(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	f := NewFulfiller(c, 0, time.Hour, logger.Discard())
	f.Start(ctx)
	defer f.Stop()

	id, err := c.RequestRandomWords(ctx, request(sub))
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		_, ok := consumer.delivered(id)
		return ok
	}, 2*time.Second, 10*time.Millisecond)
}

func TestFulfiller_RetriesFailedCallbacks(t *testing.T) {
	c, sub, consumer, _ := setupCoordinator(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	consumer.setErr(errors.New("not yet"))
	id, err := c.RequestRandomWords(ctx, request(sub))
	require.NoError(t, err)

	f := NewFulfiller(c, 0, 20*time.Millisecond, logger.Discard())
	f.Start(ctx)
	defer f.Stop()

	assert.Eventually(t, func() bool {
		req, ok := c.Request(id)
		return ok && req.Attempts >= 1
	}, 2*time.Second, 10*time.Millisecond)

	consumer.setErr(nil)
	assert.Eventually(t, func() bool {
		_, ok := consumer.delivered(id)
		return ok
	}, 2*time.Second, 10*time.Millisecond)
}

func TestFulfiller_StopIsIdempotent(t *testing.T) {
	c := NewMockCoordinator(DefaultCoordinatorConfig(), WithLogger(logger.Discard()))
	f := NewFulfiller(c, 0, 0, logger.Discard())

	f.Stop()
	f.Start(context.Background())
	f.Start(context.Background())
	f.Stop()
	f.Stop()
}
