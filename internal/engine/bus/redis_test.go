package bus

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/R3E-Network/raffle/internal/engine/events"
	"github.com/R3E-Network/raffle/pkg/logger"
)

type capture struct {
	mu       sync.Mutex
	payloads [][]byte
	err      error
}

func (c *capture) publish(_ context.Context, payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.payloads = append(c.payloads, payload)
	return nil
}

func newTestPublisher(c *capture) *RedisPublisher {
	p := NewRedisPublisher(nil, "", logger.Discard())
	p.publish = c.publish
	return p
}

func TestRedisPublisher_ForwardsEvents(t *testing.T) {
	c := &capture{}
	p := newTestPublisher(c)
	assert.Equal(t, DefaultChannel, p.Channel())

	log := events.NewRingBuffer(10)
	p.Start(context.Background(), log)
	log.Log(events.NewEvent(events.EventEntered).Payer("NPayer").Amount(100).Build())
	log.Log(events.NewEvent(events.EventWinnerPicked).Winner("NWinner").Build())
	p.Stop()
	p.Stop()

	c.mu.Lock()
	defer c.mu.Unlock()
	require.Len(t, c.payloads, 2)

	var first events.Event
	require.NoError(t, json.Unmarshal(c.payloads[0], &first))
	assert.Equal(t, events.EventEntered, first.Type)
	assert.Equal(t, "NPayer", first.Payer)

	published, dropped, failed := p.Stats()
	assert.Equal(t, uint64(2), published)
	assert.Zero(t, dropped)
	assert.Zero(t, failed)
}

func TestRedisPublisher_CountsFailures(t *testing.T) {
	c := &capture{err: errors.New("connection refused")}
	p := newTestPublisher(c)

	log := events.NewRingBuffer(10)
	p.Start(context.Background(), log)
	log.Log(events.NewEvent(events.EventEntered).Build())
	p.Stop()

	_, _, failed := p.Stats()
	assert.Equal(t, uint64(1), failed)
}

func TestHistoryKey(t *testing.T) {
	assert.Equal(t, "raffle:events:recent", HistoryKey(DefaultChannel))
}

func TestRedisIntegration(t *testing.T) {
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TEST_REDIS_ADDR not set; skipping redis integration test")
	}

	client := redis.NewClient(&redis.Options{Addr: addr})
	defer client.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, client.Ping(ctx).Err())

	channel := "raffle:test:" + time.Now().Format("150405.000000")
	defer client.Del(context.Background(), HistoryKey(channel))

	stream, err := Subscribe(ctx, client, channel)
	require.NoError(t, err)

	p := NewRedisPublisher(client, channel, logger.Discard())
	log := events.NewRingBuffer(10)
	p.Start(ctx, log)
	log.Log(events.NewEvent(events.EventRandomnessRequested).RequestID(7).Build())

	select {
	case e := <-stream:
		assert.Equal(t, uint64(7), e.RequestID)
	case <-ctx.Done():
		t.Fatal("timed out waiting for event")
	}
	p.Stop()

	recent, err := Recent(ctx, client, channel, 10)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, events.EventRandomnessRequested, recent[0].Type)
}
