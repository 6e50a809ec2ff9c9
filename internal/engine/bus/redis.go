// Package bus fans raffle events out to other processes over Redis pub/sub.
// Every event is published on a channel and appended to a capped list so late
// subscribers can read recent history.
package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/R3E-Network/raffle/internal/engine/events"
	"github.com/R3E-Network/raffle/pkg/logger"
)

const (
	// DefaultChannel is the pub/sub channel for raffle events.
	DefaultChannel = "raffle:events"
	// DefaultHistory is the number of events kept in the history list.
	DefaultHistory = 1000

	queueSize      = 512
	publishTimeout = 3 * time.Second
)

// HistoryKey returns the list key holding recent events for channel.
func HistoryKey(channel string) string {
	return channel + ":recent"
}

// RedisPublisher forwards events from an event log to Redis.
type RedisPublisher struct {
	client  *redis.Client
	channel string
	history int64
	log     *logger.Logger
	publish func(ctx context.Context, payload []byte) error

	queue chan events.Event

	mu          sync.Mutex
	unsubscribe func()
	stopCh      chan struct{}
	wg          sync.WaitGroup

	statsMu   sync.Mutex
	published uint64
	dropped   uint64
	failed    uint64
}

// NewRedisPublisher creates a publisher on client.
func NewRedisPublisher(client *redis.Client, channel string, log *logger.Logger) *RedisPublisher {
	if channel == "" {
		channel = DefaultChannel
	}
	if log == nil {
		log = logger.NewDefault("bus")
	}
	p := &RedisPublisher{
		client:  client,
		channel: channel,
		history: DefaultHistory,
		log:     log,
		queue:   make(chan events.Event, queueSize),
	}
	p.publish = p.publishRedis
	return p
}

// Channel returns the pub/sub channel.
func (p *RedisPublisher) Channel() string {
	return p.channel
}

func (p *RedisPublisher) publishRedis(ctx context.Context, payload []byte) error {
	key := HistoryKey(p.channel)
	_, err := p.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Publish(ctx, p.channel, payload)
		pipe.LPush(ctx, key, payload)
		pipe.LTrim(ctx, key, 0, p.history-1)
		return nil
	})
	return err
}

// Start subscribes to src and launches the forwarding worker.
func (p *RedisPublisher) Start(ctx context.Context, src events.EventLogger) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopCh != nil {
		return
	}
	p.stopCh = make(chan struct{})
	p.unsubscribe = src.Subscribe(p.enqueue)

	p.wg.Add(1)
	go p.run(ctx, p.stopCh)
	p.log.WithField("channel", p.channel).Info("event publisher started")
}

// Stop unsubscribes, flushes queued events and waits for the worker.
func (p *RedisPublisher) Stop() {
	p.mu.Lock()
	if p.stopCh == nil {
		p.mu.Unlock()
		return
	}
	p.unsubscribe()
	close(p.stopCh)
	p.stopCh = nil
	p.mu.Unlock()

	p.wg.Wait()
}

func (p *RedisPublisher) enqueue(e events.Event) {
	select {
	case p.queue <- e:
	default:
		p.statsMu.Lock()
		p.dropped++
		p.statsMu.Unlock()
	}
}

func (p *RedisPublisher) run(ctx context.Context, stopCh <-chan struct{}) {
	defer p.wg.Done()
	for {
		select {
		case e := <-p.queue:
			p.forward(ctx, e)
		case <-ctx.Done():
			return
		case <-stopCh:
			for {
				select {
				case e := <-p.queue:
					p.forward(context.Background(), e)
				default:
					return
				}
			}
		}
	}
}

func (p *RedisPublisher) forward(ctx context.Context, e events.Event) {
	payload, err := json.Marshal(e)
	if err != nil {
		p.log.WithError(err).WithField("event_id", e.ID).Error("encode event")
		return
	}

	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	err = p.publish(ctx, payload)
	p.statsMu.Lock()
	if err != nil {
		p.failed++
	} else {
		p.published++
	}
	p.statsMu.Unlock()
	if err != nil {
		p.log.WithError(err).WithField("event_type", string(e.Type)).Warn("publish event")
	}
}

// Stats returns published, dropped and failed counts.
func (p *RedisPublisher) Stats() (published, dropped, failed uint64) {
	p.statsMu.Lock()
	defer p.statsMu.Unlock()
	return p.published, p.dropped, p.failed
}

// Subscribe streams decoded events from channel until ctx is done.
func Subscribe(ctx context.Context, client *redis.Client, channel string) (<-chan events.Event, error) {
	sub := client.Subscribe(ctx, channel)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, fmt.Errorf("subscribe %s: %w", channel, err)
	}

	out := make(chan events.Event)
	go func() {
		defer close(out)
		defer sub.Close()
		msgs := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				var e events.Event
				if err := json.Unmarshal([]byte(msg.Payload), &e); err != nil {
					continue
				}
				select {
				case out <- e:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

// Recent reads up to n events from the history list, newest first.
func Recent(ctx context.Context, client *redis.Client, channel string, n int64) ([]events.Event, error) {
	raw, err := client.LRange(ctx, HistoryKey(channel), 0, n-1).Result()
	if err != nil {
		return nil, err
	}
	out := make([]events.Event, 0, len(raw))
	for _, r := range raw {
		var e events.Event
		if err := json.Unmarshal([]byte(r), &e); err != nil {
			return nil, fmt.Errorf("decode event: %w", err)
		}
		out = append(out, e)
	}
	return out, nil
}
