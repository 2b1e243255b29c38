package live

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/notifier/internal/model"
	"github.com/jwalitptl/notifier/pkg/metrics"
)

// memoryBroker fans every published message out to all subscribers.
type memoryBroker struct {
	mu      sync.Mutex
	subs    []chan []byte
	fail    error
	publish int
}

func (b *memoryBroker) Publish(_ context.Context, _ string, message interface{}) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.fail != nil {
		return b.fail
	}
	data, err := json.Marshal(message)
	if err != nil {
		return err
	}
	b.publish++
	for _, s := range b.subs {
		s <- data
	}
	return nil
}

func (b *memoryBroker) Subscribe(_ context.Context, _ string) (<-chan []byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch := make(chan []byte, 16)
	b.subs = append(b.subs, ch)
	return ch, nil
}

func (b *memoryBroker) Close() error { return nil }

func TestRelay_DeliversToPeerOnly(t *testing.T) {
	broker := &memoryBroker{}
	regA := NewRegistry(metrics.Noop())
	regB := NewRegistry(metrics.Noop())
	relayA := NewRelay(broker, regA, "", metrics.Noop(), zerolog.Nop())
	relayB := NewRelay(broker, regB, "", metrics.Noop(), zerolog.Nop())
	require.NotEqual(t, relayA.Origin(), relayB.Origin())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{}, 2)
	go func() { _ = relayA.Run(ctx); done <- struct{}{} }()
	go func() { _ = relayB.Run(ctx); done <- struct{}{} }()

	require.Eventually(t, func() bool {
		broker.mu.Lock()
		defer broker.mu.Unlock()
		return len(broker.subs) == 2
	}, time.Second, 5*time.Millisecond)

	onA := regA.Register(9)
	onB := regB.Register(9)

	require.NoError(t, relayA.Publish(ctx, []int64{9}, push(3)))

	select {
	case msg := <-onB.C():
		assert.Equal(t, int64(3), msg.EventID)
	case <-time.After(time.Second):
		t.Fatal("peer did not receive relayed push")
	}
	assert.Never(t, func() bool { return len(onA.C()) > 0 }, 50*time.Millisecond, 5*time.Millisecond)

	cancel()
	<-done
	<-done
}

func TestRelay_PublishSkipsEmpty(t *testing.T) {
	broker := &memoryBroker{}
	relay := NewRelay(broker, NewRegistry(metrics.Noop()), "", metrics.Noop(), zerolog.Nop())
	require.NoError(t, relay.Publish(context.Background(), nil, push(1)))
	assert.Equal(t, 0, broker.publish)
}

func TestRelay_PublishError(t *testing.T) {
	broker := &memoryBroker{fail: errors.New("down")}
	relay := NewRelay(broker, NewRegistry(metrics.Noop()), "", metrics.Noop(), zerolog.Nop())
	err := relay.Publish(context.Background(), []int64{1}, push(1))
	assert.ErrorContains(t, err, "down")
}

func TestRelay_IgnoresMalformed(t *testing.T) {
	reg := NewRegistry(metrics.Noop())
	c := reg.Register(1)
	relay := NewRelay(&memoryBroker{}, reg, "", metrics.Noop(), zerolog.Nop())

	relay.handle([]byte("not json"))
	env, err := json.Marshal(model.RelayEnvelope{Origin: "peer", RecipientIDs: []int64{1}, Message: push(4)})
	require.NoError(t, err)
	relay.handle(env)

	require.Len(t, c.C(), 1)
	assert.Equal(t, int64(4), (<-c.C()).EventID)
}
