package redis

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/notifier/pkg/circuitbreaker"
)

func newBroker(t *testing.T) (*RedisBroker, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	b, err := NewRedisBroker(Config{URL: "redis://" + mr.Addr()}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })
	return b.(*RedisBroker), mr
}

func TestNewRedisBroker_BadURL(t *testing.T) {
	_, err := NewRedisBroker(Config{URL: "not-a-url"}, nil)
	assert.Error(t, err)
}

func TestPublishSubscribe(t *testing.T) {
	b, mr := newBroker(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	msgs, err := b.Subscribe(ctx, "relay")
	require.NoError(t, err)

	require.NoError(t, b.Publish(ctx, "relay", map[string]int{"event_id": 7}))

	select {
	case raw := <-msgs:
		var got map[string]int
		require.NoError(t, json.Unmarshal(raw, &got))
		assert.Equal(t, 7, got["event_id"])
	case <-time.After(2 * time.Second):
		t.Fatal("no message received")
	}

	cancel()
	select {
	case _, ok := <-msgs:
		for ok {
			_, ok = <-msgs
		}
	case <-time.After(2 * time.Second):
		t.Fatal("subscription channel not closed after cancel")
	}
	assert.Eventually(t, func() bool {
		return mr.PubSubNumSub("relay")["relay"] == 0
	}, 2*time.Second, 10*time.Millisecond, "redis subscription left open")
}

func TestPublish_TripsBreaker(t *testing.T) {
	b, mr := newBroker(t)
	mr.Close()

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		assert.Error(t, b.Publish(ctx, "relay", "x"))
	}
	assert.ErrorIs(t, b.Publish(ctx, "relay", "x"), circuitbreaker.ErrOpen)
}
