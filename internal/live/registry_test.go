package live

import (
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/notifier/internal/model"
	"github.com/jwalitptl/notifier/pkg/metrics"
)

func push(id int64) model.PushMessage {
	return model.PushMessage{EventID: id, Type: model.TypePostLiked, ActorID: 1, ObjectID: 2, Timestamp: time.Unix(id, 0).UTC()}
}

func TestRegistry_PushWithoutChannel(t *testing.T) {
	r := NewRegistry(metrics.Noop())
	assert.False(t, r.Push(42, push(1)))
	assert.False(t, r.Connected(42))
}

func TestRegistry_RegisterAndPush(t *testing.T) {
	m := metrics.Noop()
	now := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	r := NewRegistry(m, WithClock(func() time.Time { return now }))

	c := r.Register(7)
	assert.Equal(t, int64(7), c.Recipient())
	assert.Equal(t, now, c.OpenSince())
	assert.Equal(t, 1, r.Len())
	assert.Equal(t, float64(1), testutil.ToFloat64(m.OpenChannels))

	require.True(t, r.Push(7, push(1)))
	select {
	case got := <-c.C():
		assert.Equal(t, int64(1), got.EventID)
	default:
		t.Fatal("expected a buffered message")
	}

	assert.True(t, r.Unregister(7, c))
	assert.Equal(t, 0, r.Len())
	assert.Equal(t, float64(0), testutil.ToFloat64(m.OpenChannels))
	assert.False(t, r.Push(7, push(2)))
}

func TestRegistry_FullBufferIsAMiss(t *testing.T) {
	r := NewRegistry(metrics.Noop(), WithBufferSize(2))
	r.Register(1)

	assert.True(t, r.Push(1, push(1)))
	assert.True(t, r.Push(1, push(2)))
	assert.False(t, r.Push(1, push(3)))
}

func TestRegistry_SupersededHandle(t *testing.T) {
	m := metrics.Noop()
	r := NewRegistry(m)

	old := r.Register(5)
	cur := r.Register(5)
	assert.Equal(t, 1, r.Len())

	require.True(t, r.Push(5, push(1)))
	assert.Len(t, cur.C(), 1)
	assert.Len(t, old.C(), 0)

	// The stale owner cleaning up must not drop the live channel.
	assert.False(t, r.Unregister(5, old))
	assert.True(t, r.Connected(5))

	assert.True(t, r.Unregister(5, cur))
	assert.False(t, r.Connected(5))
	assert.Equal(t, float64(0), testutil.ToFloat64(m.OpenChannels))
}

func TestRegistry_ShardCountRoundsUp(t *testing.T) {
	r := NewRegistry(metrics.Noop(), WithShards(5))
	assert.Len(t, r.shards, 8)
	assert.Equal(t, uint64(7), r.mask)
}

func TestRegistry_ConcurrentAccess(t *testing.T) {
	r := NewRegistry(metrics.Noop(), WithShards(4), WithBufferSize(1024))

	var wg sync.WaitGroup
	for i := int64(1); i <= 50; i++ {
		wg.Add(1)
		go func(id int64) {
			defer wg.Done()
			c := r.Register(id)
			for j := int64(0); j < 20; j++ {
				r.Push(id, push(j+1))
				r.Push(id+1, push(j+1))
			}
			r.Unregister(id, c)
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 0, r.Len())
}
