package live

import (
	"sync"
	"time"

	"github.com/jwalitptl/notifier/internal/model"
	"github.com/jwalitptl/notifier/pkg/metrics"
)

const (
	DefaultShards     = 32
	DefaultBufferSize = 64
)

// Channel is one recipient's live connection as seen by the registry. The
// transport drains C() and writes each message to its client.
type Channel struct {
	recipient int64
	openSince time.Time
	ch        chan model.PushMessage
}

func (c *Channel) C() <-chan model.PushMessage { return c.ch }

func (c *Channel) Recipient() int64 { return c.recipient }

func (c *Channel) OpenSince() time.Time { return c.openSince }

type shard struct {
	mu       sync.RWMutex
	channels map[int64]*Channel
}

// Registry maps recipients to at most one live channel. Lookups for different
// recipients only contend when they hash to the same shard.
type Registry struct {
	shards     []shard
	mask       uint64
	bufferSize int
	metrics    *metrics.Metrics
	now        func() time.Time
}

type RegistryOption func(*Registry)

// WithShards rounds n up to a power of two.
func WithShards(n int) RegistryOption {
	return func(r *Registry) {
		size := 1
		for size < n {
			size <<= 1
		}
		r.shards = make([]shard, size)
	}
}

func WithBufferSize(n int) RegistryOption {
	return func(r *Registry) {
		if n > 0 {
			r.bufferSize = n
		}
	}
}

func WithClock(now func() time.Time) RegistryOption {
	return func(r *Registry) { r.now = now }
}

func NewRegistry(m *metrics.Metrics, opts ...RegistryOption) *Registry {
	r := &Registry{
		shards:     make([]shard, DefaultShards),
		bufferSize: DefaultBufferSize,
		metrics:    m,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.mask = uint64(len(r.shards) - 1)
	for i := range r.shards {
		r.shards[i].channels = make(map[int64]*Channel)
	}
	return r
}

func (r *Registry) shardFor(recipient int64) *shard {
	// Fibonacci hashing spreads sequential ids across shards.
	h := uint64(recipient) * 0x9E3779B97F4A7C15
	return &r.shards[(h>>32)&r.mask]
}

// Register opens a channel for recipient. A channel already registered for
// the same recipient is superseded and no longer receives pushes; its owner
// still has to call Unregister with its own handle, which is then a no-op.
func (r *Registry) Register(recipient int64) *Channel {
	c := &Channel{
		recipient: recipient,
		openSince: r.now(),
		ch:        make(chan model.PushMessage, r.bufferSize),
	}

	s := r.shardFor(recipient)
	s.mu.Lock()
	_, replaced := s.channels[recipient]
	s.channels[recipient] = c
	s.mu.Unlock()

	if !replaced {
		r.metrics.OpenChannels.Inc()
	}
	return c
}

// Unregister removes c if it is still recipient's current channel and
// reports whether it did.
func (r *Registry) Unregister(recipient int64, c *Channel) bool {
	if c == nil {
		return false
	}
	s := r.shardFor(recipient)
	s.mu.Lock()
	removed := false
	if cur, ok := s.channels[recipient]; ok && cur == c {
		delete(s.channels, recipient)
		removed = true
	}
	s.mu.Unlock()

	if removed {
		r.metrics.OpenChannels.Dec()
	}
	return removed
}

// Push hands msg to the recipient's channel without blocking. It returns
// false when the recipient has no channel or its buffer is full.
func (r *Registry) Push(recipient int64, msg model.PushMessage) bool {
	s := r.shardFor(recipient)
	s.mu.RLock()
	c, ok := s.channels[recipient]
	if !ok {
		s.mu.RUnlock()
		r.metrics.Pushes.WithLabelValues("no_channel").Inc()
		return false
	}

	// Buffers are never closed, only dropped from the map.
	select {
	case c.ch <- msg:
		s.mu.RUnlock()
		r.metrics.Pushes.WithLabelValues("delivered").Inc()
		return true
	default:
		s.mu.RUnlock()
		r.metrics.Pushes.WithLabelValues("buffer_full").Inc()
		return false
	}
}

// Connected reports whether recipient currently has a channel.
func (r *Registry) Connected(recipient int64) bool {
	s := r.shardFor(recipient)
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.channels[recipient]
	return ok
}

// Len is the number of open channels.
func (r *Registry) Len() int {
	n := 0
	for i := range r.shards {
		s := &r.shards[i]
		s.mu.RLock()
		n += len(s.channels)
		s.mu.RUnlock()
	}
	return n
}
