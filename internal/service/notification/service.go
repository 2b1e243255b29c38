package notification

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/jwalitptl/notifier/internal/model"
	"github.com/jwalitptl/notifier/internal/repository"
	"github.com/jwalitptl/notifier/pkg/aggregate"
	"github.com/jwalitptl/notifier/pkg/metrics"
)

type Servicer interface {
	Submit(ctx context.Context, req model.SubmitRequest) (*model.SubmitResult, error)
	List(ctx context.Context, recipientID int64) ([]model.AggregatedNotification, error)
	UnreadCount(ctx context.Context, recipientID int64) (int, error)
	MarkAllRead(ctx context.Context, recipientID int64) (int64, error)
	Types(ctx context.Context) ([]model.NotificationType, error)
}

// Pusher delivers to channels open on this instance.
type Pusher interface {
	Push(recipientID int64, msg model.PushMessage) bool
}

// Publisher hands pushes to peer instances.
type Publisher interface {
	Publish(ctx context.Context, recipientIDs []int64, msg model.PushMessage) error
}

type Service struct {
	repo     repository.EventRepository
	registry Pusher
	relay    Publisher
	metrics  *metrics.Metrics
	logger   zerolog.Logger
	now      func() time.Time
}

var _ Servicer = (*Service)(nil)

type Option func(*Service)

// WithRelay forwards local misses to peers.
func WithRelay(p Publisher) Option {
	return func(s *Service) { s.relay = p }
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func WithLogger(l zerolog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

func NewService(repo repository.EventRepository, registry Pusher, m *metrics.Metrics, opts ...Option) *Service {
	s := &Service{
		repo:     repo,
		registry: registry,
		metrics:  m,
		logger:   zerolog.Nop(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Submit persists the event, then pushes it to every recipient with an open
// channel. Misses are not errors; those recipients see the event on their
// next fetch.
func (s *Service) Submit(ctx context.Context, req model.SubmitRequest) (*model.SubmitResult, error) {
	typeLabel := req.Type
	if !model.IsKnownType(typeLabel) {
		typeLabel = "unknown"
	}

	req, err := req.Normalize()
	if err != nil {
		s.metrics.EventsSubmitted.WithLabelValues(typeLabel, "rejected").Inc()
		return nil, err
	}

	event, err := s.repo.CreateEvent(ctx, req.Type, req.ActorID, req.ObjectID, req.RecipientIDs)
	if err != nil {
		s.metrics.EventsSubmitted.WithLabelValues(typeLabel, "error").Inc()
		return nil, fmt.Errorf("failed to create event: %w", err)
	}
	s.metrics.EventsSubmitted.WithLabelValues(typeLabel, "created").Inc()

	msg := event.Push()
	delivered := 0
	var missed []int64
	for _, id := range req.RecipientIDs {
		if s.registry.Push(id, msg) {
			delivered++
		} else {
			missed = append(missed, id)
		}
	}

	if s.relay != nil && len(missed) > 0 {
		// The event is committed; a cancelled request must not stop the relay.
		if err := s.relay.Publish(context.WithoutCancel(ctx), missed, msg); err != nil {
			s.logger.Warn().Err(err).
				Int64("event_id", event.ID).
				Int("recipients", len(missed)).
				Msg("relay publish failed")
		}
	}

	s.logger.Debug().
		Int64("event_id", event.ID).
		Str("type", event.Type).
		Int("recipients", len(req.RecipientIDs)).
		Int("delivered", delivered).
		Msg("event submitted")

	return &model.SubmitResult{EventID: event.ID, RecipientsNotified: delivered}, nil
}

// List returns the recipient's aggregated view, newest group first.
func (s *Service) List(ctx context.Context, recipientID int64) ([]model.AggregatedNotification, error) {
	rows, err := s.repo.ListForRecipient(ctx, recipientID)
	if err != nil {
		return nil, fmt.Errorf("failed to list notifications: %w", err)
	}
	return aggregate.Build(rows), nil
}

// UnreadCount counts unread groups, not rows.
func (s *Service) UnreadCount(ctx context.Context, recipientID int64) (int, error) {
	view, err := s.List(ctx, recipientID)
	if err != nil {
		return 0, err
	}
	return aggregate.UnreadCount(view), nil
}

func (s *Service) MarkAllRead(ctx context.Context, recipientID int64) (int64, error) {
	n, err := s.repo.MarkAllRead(ctx, recipientID, s.now())
	if err != nil {
		return 0, fmt.Errorf("failed to mark notifications read: %w", err)
	}
	return n, nil
}

func (s *Service) Types(ctx context.Context) ([]model.NotificationType, error) {
	types, err := s.repo.ListTypes(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list notification types: %w", err)
	}
	return types, nil
}
