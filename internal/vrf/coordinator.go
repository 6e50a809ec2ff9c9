package vrf

import (
	"context"
	"encoding/binary"
	"fmt"
	"math/big"
	"sort"
	"strconv"
	"sync"
	"time"

	"golang.org/x/crypto/sha3"

	"github.com/R3E-Network/raffle/internal/engine/events"
	"github.com/R3E-Network/raffle/internal/engine/metrics"
	"github.com/R3E-Network/raffle/pkg/logger"
)

// Defaults for the local coordinator, in juels (1e-18 LINK).
var (
	DefaultBaseFee      = big.NewInt(250_000_000_000_000_000) // 0.25 LINK per request
	DefaultGasPriceLink = big.NewInt(1_000_000_000)          // 1e9 juels per gas
)

const (
	// MaxNumWords is the largest word count a single request may ask for.
	MaxNumWords = 500

	defaultQueueSize = 128
)

// CoordinatorConfig prices fulfilments.
type CoordinatorConfig struct {
	BaseFee      *big.Int
	GasPriceLink *big.Int
	QueueSize    int
}

// DefaultCoordinatorConfig mirrors the coordinator deployed on local networks.
func DefaultCoordinatorConfig() CoordinatorConfig {
	return CoordinatorConfig{
		BaseFee:      new(big.Int).Set(DefaultBaseFee),
		GasPriceLink: new(big.Int).Set(DefaultGasPriceLink),
		QueueSize:    defaultQueueSize,
	}
}

// CoordinatorOption customises a MockCoordinator.
type CoordinatorOption func(*MockCoordinator)

// WithLogger sets the coordinator logger.
func WithLogger(log *logger.Logger) CoordinatorOption {
	return func(c *MockCoordinator) {
		if log != nil {
			c.log = log
		}
	}
}

// WithEvents sets the event log.
func WithEvents(log events.EventLogger) CoordinatorOption {
	return func(c *MockCoordinator) {
		if log != nil {
			c.events = log
		}
	}
}

// WithMetrics sets the metrics collector.
func WithMetrics(m *metrics.Collector) CoordinatorOption {
	return func(c *MockCoordinator) {
		c.metrics = m
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) CoordinatorOption {
	return func(c *MockCoordinator) {
		if now != nil {
			c.now = now
		}
	}
}

type subscription struct {
	Subscription
	consumers map[string]Consumer
}

// MockCoordinator is an in-process randomness coordinator for development
// networks and tests. Words are derived deterministically from the request id,
// so it provides no unpredictability.
//
// A request stays pending until its consumer callback succeeds; a failed
// callback may be retried by fulfilling the same id again.
type MockCoordinator struct {
	mu sync.Mutex
	// deliverMu serialises consumer callbacks so one id is never delivered twice.
	deliverMu sync.Mutex

	cfg     CoordinatorConfig
	log     *logger.Logger
	events  events.EventLogger
	metrics *metrics.Collector
	now     func() time.Time

	subs     map[SubscriptionID]*subscription
	requests map[RequestID]*PendingRequest
	nextSub  SubscriptionID
	nextReq  RequestID
	stats    Stats
	queue    chan RequestID
}

// NewMockCoordinator creates a coordinator with the given pricing.
func NewMockCoordinator(cfg CoordinatorConfig, opts ...CoordinatorOption) *MockCoordinator {
	if cfg.BaseFee == nil {
		cfg.BaseFee = new(big.Int).Set(DefaultBaseFee)
	}
	if cfg.GasPriceLink == nil {
		cfg.GasPriceLink = new(big.Int).Set(DefaultGasPriceLink)
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaultQueueSize
	}

	c := &MockCoordinator{
		cfg:      cfg,
		log:      logger.NewDefault("vrf"),
		events:   events.NoOpLogger{},
		now:      func() time.Time { return time.Now().UTC() },
		subs:     make(map[SubscriptionID]*subscription),
		requests: make(map[RequestID]*PendingRequest),
		queue:    make(chan RequestID, cfg.QueueSize),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// CreateSubscription opens an empty subscription.
func (c *MockCoordinator) CreateSubscription() SubscriptionID {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.nextSub++
	id := c.nextSub
	c.subs[id] = &subscription{
		Subscription: Subscription{
			ID:        id,
			Balance:   new(big.Int),
			CreatedAt: c.now(),
		},
		consumers: make(map[string]Consumer),
	}
	c.log.WithField("subscription_id", uint64(id)).Info("subscription created")
	return id
}

// FundSubscription adds juels to a subscription.
func (c *MockCoordinator) FundSubscription(ctx context.Context, id SubscriptionID, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}

	c.mu.Lock()
	sub, ok := c.subs[id]
	if !ok {
		c.mu.Unlock()
		return fmt.Errorf("%w: %d", ErrInvalidSubscription, id)
	}
	sub.Balance.Add(sub.Balance, amount)
	balance := new(big.Int).Set(sub.Balance)
	c.mu.Unlock()

	events.NewEvent(events.EventSubscriptionFunded).
		Component("vrf").
		Metadata("subscription_id", strconv.FormatUint(uint64(id), 10)).
		Metadata("amount", amount.String()).
		Metadata("balance", balance.String()).
		LogToWithContext(ctx, c.events)
	return nil
}

// AddConsumer authorises a named consumer on a subscription and registers the
// callback target for its requests.
func (c *MockCoordinator) AddConsumer(id SubscriptionID, name string, consumer Consumer) error {
	if name == "" || consumer == nil {
		return fmt.Errorf("%w: name and callback are required", ErrInvalidConsumer)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	sub, ok := c.subs[id]
	if !ok {
		return fmt.Errorf("%w: %d", ErrInvalidSubscription, id)
	}
	if _, exists := sub.consumers[name]; !exists {
		sub.Consumers = append(sub.Consumers, name)
	}
	sub.consumers[name] = consumer
	c.log.WithField("subscription_id", uint64(id)).WithField("consumer", name).Info("consumer added")
	return nil
}

// GetSubscription returns a copy of the subscription.
func (c *MockCoordinator) GetSubscription(id SubscriptionID) (Subscription, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	sub, ok := c.subs[id]
	if !ok {
		return Subscription{}, fmt.Errorf("%w: %d", ErrInvalidSubscription, id)
	}
	out := sub.Subscription
	out.Balance = new(big.Int).Set(sub.Balance)
	out.Consumers = append([]string(nil), sub.Consumers...)
	return out, nil
}

// RequestRandomWords implements Coordinator. Accepted requests are queued for
// the Fulfiller.
func (c *MockCoordinator) RequestRandomWords(ctx context.Context, req Request) (RequestID, error) {
	if req.NumWords == 0 || req.NumWords > MaxNumWords {
		return 0, fmt.Errorf("%w: %d (max %d)", ErrInvalidNumWords, req.NumWords, MaxNumWords)
	}

	c.mu.Lock()
	sub, ok := c.subs[req.SubscriptionID]
	if !ok {
		c.mu.Unlock()
		return 0, fmt.Errorf("%w: %d", ErrInvalidSubscription, req.SubscriptionID)
	}
	if _, ok := sub.consumers[req.Consumer]; !ok {
		c.mu.Unlock()
		return 0, fmt.Errorf("%w: %q on subscription %d", ErrInvalidConsumer, req.Consumer, req.SubscriptionID)
	}

	c.nextReq++
	id := c.nextReq
	c.requests[id] = &PendingRequest{
		ID:          id,
		Request:     req,
		Status:      RequestStatusPending,
		RequestedAt: c.now(),
	}
	sub.ReqCount++
	c.stats.TotalRequests++
	pending := len(c.requests)
	c.mu.Unlock()

	select {
	case c.queue <- id:
	default:
		c.log.WithField("request_id", uint64(id)).Warn("fulfilment queue full, request left for the retry sweep")
	}

	c.metrics.RecordVRFRequest()
	c.metrics.SetVRFPending(pending)
	c.log.WithField("request_id", uint64(id)).
		WithField("subscription_id", uint64(req.SubscriptionID)).
		WithField("consumer", req.Consumer).
		WithField("num_words", req.NumWords).
		Debug("randomness requested")
	events.NewEvent(events.EventVRFRequested).
		Component("vrf").
		RequestID(uint64(id)).
		Metadata("consumer", req.Consumer).
		Metadata("key_hash", req.KeyHash).
		LogToWithContext(ctx, c.events)
	return id, nil
}

// FulfillRandomWords delivers the derived words for a pending request.
func (c *MockCoordinator) FulfillRandomWords(ctx context.Context, id RequestID) error {
	return c.FulfillRandomWordsWithOverride(ctx, id, nil)
}

// FulfillRandomWordsWithOverride delivers words to the consumer of a pending
// request. An empty override uses the derived words. The subscription is charged
// base fee plus callback gas limit times gas price, only when the callback succeeds.
func (c *MockCoordinator) FulfillRandomWordsWithOverride(ctx context.Context, id RequestID, words []*big.Int) error {
	c.deliverMu.Lock()
	defer c.deliverMu.Unlock()

	c.mu.Lock()
	req, ok := c.requests[id]
	if !ok {
		c.mu.Unlock()
		return fmt.Errorf("%w: %d", ErrNonexistentRequest, id)
	}
	if len(words) == 0 {
		words = DeriveWords(id, req.Request.NumWords)
	} else if uint32(len(words)) != req.Request.NumWords {
		c.mu.Unlock()
		return fmt.Errorf("%w: got %d, want %d", ErrInvalidRandomWords, len(words), req.Request.NumWords)
	}
	sub, ok := c.subs[req.Request.SubscriptionID]
	if !ok {
		c.mu.Unlock()
		return fmt.Errorf("%w: %d", ErrInvalidSubscription, req.Request.SubscriptionID)
	}
	payment := c.paymentLocked(req.Request)
	if sub.Balance.Cmp(payment) < 0 {
		balance := new(big.Int).Set(sub.Balance)
		c.mu.Unlock()
		return fmt.Errorf("%w: balance %s, payment %s", ErrInsufficientBalance, balance, payment)
	}
	consumer := sub.consumers[req.Request.Consumer]
	req.Attempts++
	c.mu.Unlock()

	cbErr := consumer.RawFulfillRandomWords(ctx, id, words)

	c.mu.Lock()
	if cbErr != nil {
		req.LastError = cbErr.Error()
		c.stats.FailedCallbacks++
	} else {
		sub.Balance.Sub(sub.Balance, payment)
		req.Status = RequestStatusFulfilled
		delete(c.requests, id)
		c.stats.FulfilledRequests++
	}
	attempts, pending := req.Attempts, len(c.requests)
	c.mu.Unlock()

	c.metrics.RecordVRFFulfillment(cbErr)
	c.metrics.SetVRFPending(pending)

	if cbErr != nil {
		c.log.WithError(cbErr).
			WithField("request_id", uint64(id)).
			WithField("attempts", attempts).
			Warn("consumer rejected randomness, request kept pending")
		events.NewEvent(events.EventVRFFulfillFailed).
			Component("vrf").
			RequestID(uint64(id)).
			ErrorFrom(cbErr).
			Metadata("attempts", strconv.Itoa(attempts)).
			LogToWithContext(ctx, c.events)
		return fmt.Errorf("%w: request %d: %w", ErrCallbackFailed, id, cbErr)
	}

	c.log.WithField("request_id", uint64(id)).
		WithField("payment", payment.String()).
		Debug("randomness fulfilled")
	events.NewEvent(events.EventVRFFulfilled).
		Component("vrf").
		RequestID(uint64(id)).
		Metadata("payment", payment.String()).
		Metadata("attempts", strconv.Itoa(attempts)).
		LogToWithContext(ctx, c.events)
	return nil
}

func (c *MockCoordinator) paymentLocked(req Request) *big.Int {
	gas := new(big.Int).Mul(big.NewInt(int64(req.CallbackGasLimit)), c.cfg.GasPriceLink)
	return gas.Add(gas, c.cfg.BaseFee)
}

// Request returns a pending request by id.
func (c *MockCoordinator) Request(id RequestID) (PendingRequest, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	req, ok := c.requests[id]
	if !ok {
		return PendingRequest{}, false
	}
	return *req, true
}

// Pending returns all pending requests ordered by id.
func (c *MockCoordinator) Pending() []PendingRequest {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]PendingRequest, 0, len(c.requests))
	for _, req := range c.requests {
		out = append(out, *req)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Stats returns coordinator counters.
func (c *MockCoordinator) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.stats
	s.PendingRequests = len(c.requests)
	return s
}

// DeriveWords computes word i as keccak256(id || i), both encoded as 32-byte
// big-endian integers.
func DeriveWords(id RequestID, n uint32) []*big.Int {
	words := make([]*big.Int, n)
	var buf [64]byte
	binary.BigEndian.PutUint64(buf[24:32], uint64(id))
	for i := uint32(0); i < n; i++ {
		binary.BigEndian.PutUint64(buf[56:64], uint64(i))
		h := sha3.NewLegacyKeccak256()
		h.Write(buf[:])
		words[i] = new(big.Int).SetBytes(h.Sum(nil))
	}
	return words
}
