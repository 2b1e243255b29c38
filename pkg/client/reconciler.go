package client

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/jwalitptl/notifier/internal/model"
	"github.com/jwalitptl/notifier/pkg/aggregate"
)

const (
	DefaultReconnectDelay = 5 * time.Second
	DefaultMaxReconnects  = 10

	DefaultFetchRetries   = 3
	DefaultFetchBaseDelay = time.Second
	DefaultFetchMaxDelay  = 30 * time.Second
)

type State int

const (
	StateConnecting State = iota
	StateOpen
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// ErrGaveUp wraps the last connection error once reconnect attempts are
// exhausted.
var ErrGaveUp = errors.New("notifier: reconnect attempts exhausted")

// Reconciler keeps one recipient's aggregated view current: it opens a live
// stream, seeds the view from a full fetch, and merges every push into it.
// Every (re)connect discards local state and fetches again.
type Reconciler struct {
	client    *Client
	transport Transport
	logger    zerolog.Logger

	reconnectDelay time.Duration
	maxReconnects  int
	fetchRetries   int
	fetchBase      time.Duration
	fetchMax       time.Duration

	mu      sync.RWMutex
	view    []model.AggregatedNotification
	state   State
	lastErr error

	changes chan struct{}
}

type ReconcilerOption func(*Reconciler)

func WithTransport(t Transport) ReconcilerOption {
	return func(r *Reconciler) { r.transport = t }
}

// WithReconnect sets the fixed delay between attempts and how many
// consecutive failed attempts end Run. max <= 0 retries forever.
func WithReconnect(delay time.Duration, max int) ReconcilerOption {
	return func(r *Reconciler) {
		r.reconnectDelay = delay
		r.maxReconnects = max
	}
}

// WithFetchRetry configures retries of the seeding fetch. The nth retry
// waits base·2^n, capped at max.
func WithFetchRetry(retries int, base, max time.Duration) ReconcilerOption {
	return func(r *Reconciler) {
		r.fetchRetries = retries
		r.fetchBase = base
		r.fetchMax = max
	}
}

func WithReconcilerLogger(l zerolog.Logger) ReconcilerOption {
	return func(r *Reconciler) { r.logger = l }
}

func NewReconciler(c *Client, opts ...ReconcilerOption) *Reconciler {
	r := &Reconciler{
		client:         c,
		transport:      TransportSSE,
		logger:         zerolog.Nop(),
		reconnectDelay: DefaultReconnectDelay,
		maxReconnects:  DefaultMaxReconnects,
		fetchRetries:   DefaultFetchRetries,
		fetchBase:      DefaultFetchBaseDelay,
		fetchMax:       DefaultFetchMaxDelay,
		state:          StateClosed,
		changes:        make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run connects and reconciles until ctx is cancelled (returns nil) or the
// reconnect budget is spent (returns an error wrapping ErrGaveUp).
func (r *Reconciler) Run(ctx context.Context) error {
	failures := 0
	for {
		r.setState(StateConnecting, nil)
		opened, err := r.session(ctx)
		if ctx.Err() != nil {
			r.setState(StateClosed, nil)
			return nil
		}
		if opened {
			failures = 0
		}
		failures++
		r.setState(StateClosed, err)
		r.logger.Warn().Err(err).Int("attempt", failures).Msg("live stream closed")

		if r.maxReconnects > 0 && failures > r.maxReconnects {
			return fmt.Errorf("%w: %v", ErrGaveUp, err)
		}
		if err := sleep(ctx, r.reconnectDelay); err != nil {
			r.setState(StateClosed, nil)
			return nil
		}
	}
}

// session runs one connection. opened reports whether it reached StateOpen.
func (r *Reconciler) session(ctx context.Context) (opened bool, err error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// The stream is open before the fetch so no push falls between them.
	stream, err := r.client.Open(ctx, r.transport)
	if err != nil {
		return false, err
	}
	defer stream.Close()

	view, err := r.fetch(ctx)
	if err != nil {
		return false, fmt.Errorf("fetch notifications: %w", err)
	}
	r.reset(view)
	r.setState(StateOpen, nil)
	r.logger.Debug().Int("groups", len(view)).Msg("live stream open")

	msgs := stream.Messages()
	for {
		select {
		case <-ctx.Done():
			return true, ctx.Err()
		case msg, ok := <-msgs:
			if !ok {
				return true, stream.Err()
			}
			r.apply(msg)
		}
	}
}

func (r *Reconciler) fetch(ctx context.Context) ([]model.AggregatedNotification, error) {
	var lastErr error
	for attempt := 0; attempt <= r.fetchRetries; attempt++ {
		if attempt > 0 {
			if err := sleep(ctx, retryDelay(r.fetchBase, r.fetchMax, attempt-1)); err != nil {
				return nil, err
			}
		}
		view, err := r.client.Fetch(ctx)
		if err == nil {
			return view, nil
		}
		lastErr = err
		var apiErr *APIError
		if errors.As(err, &apiErr) && !apiErr.Temporary() {
			return nil, err
		}
		r.logger.Debug().Err(err).Int("attempt", attempt+1).Msg("fetch failed")
	}
	return nil, lastErr
}

func (r *Reconciler) reset(view []model.AggregatedNotification) {
	r.mu.Lock()
	r.view = view
	r.mu.Unlock()
	r.notify()
}

func (r *Reconciler) apply(msg model.PushMessage) {
	msg.Timestamp = model.Timestamp(msg.Timestamp)
	r.mu.Lock()
	r.view = aggregate.Merge(r.view, msg)
	r.mu.Unlock()
	r.notify()
}

func (r *Reconciler) setState(s State, err error) {
	r.mu.Lock()
	r.state = s
	r.lastErr = err
	r.mu.Unlock()
	r.notify()
}

func (r *Reconciler) notify() {
	select {
	case r.changes <- struct{}{}:
	default:
	}
}

// Changes signals after the view or state changes. Signals coalesce; read
// Snapshot and State for the current values.
func (r *Reconciler) Changes() <-chan struct{} {
	return r.changes
}

// Snapshot returns a copy of the local view.
func (r *Reconciler) Snapshot() []model.AggregatedNotification {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return aggregate.Clone(r.view)
}

// State returns the connection state and, for StateClosed after a failure,
// its cause.
func (r *Reconciler) State() (State, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state, r.lastErr
}

func (r *Reconciler) UnreadCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return aggregate.UnreadCount(r.view)
}

func (r *Reconciler) HasUnread() bool {
	return r.UnreadCount() > 0
}

// MarkAllRead marks everything read on the server, then locally.
func (r *Reconciler) MarkAllRead(ctx context.Context) (int64, error) {
	n, err := r.client.MarkAllRead(ctx)
	if err != nil {
		return 0, err
	}
	r.mu.Lock()
	r.view = aggregate.MarkAllRead(r.view)
	r.mu.Unlock()
	r.notify()
	return n, nil
}
