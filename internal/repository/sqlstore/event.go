package sqlstore

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/patrickmn/go-cache"

	"github.com/jwalitptl/notifier/internal/model"
	"github.com/jwalitptl/notifier/internal/repository"
	"github.com/jwalitptl/notifier/pkg/errors"
	"github.com/jwalitptl/notifier/pkg/metrics"
)

// recipientBatch bounds the rows per multi-row insert so postgres stays
// under its bind parameter limit.
const recipientBatch = 1000

// Store is the sqlx-backed event repository.
type Store struct {
	BaseRepository
	types   *cache.Cache
	metrics *metrics.Metrics
	now     func() time.Time
}

var _ repository.EventRepository = (*Store)(nil)

type Option func(*Store)

// WithClock sets the source of event creation times.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithCacheCleanup sets how often the type cache purges. Entries never
// expire since the enumeration is fixed.
func WithCacheCleanup(interval time.Duration) Option {
	return func(s *Store) { s.types = cache.New(cache.NoExpiration, interval) }
}

func New(db *sqlx.DB, m *metrics.Metrics, opts ...Option) *Store {
	s := &Store{
		BaseRepository: NewBaseRepository(db),
		types:          cache.New(cache.NoExpiration, time.Hour),
		metrics:        m,
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) observe(op string, start time.Time, err error) {
	if s.metrics != nil {
		s.metrics.ObserveDB(op, err, time.Since(start).Seconds())
	}
}

func (s *Store) ResolveType(ctx context.Context, name string) (*model.NotificationType, error) {
	if v, ok := s.types.Get(name); ok {
		t := v.(model.NotificationType)
		return &t, nil
	}

	start := time.Now()
	var t model.NotificationType
	q := s.GetDB().Rebind(`SELECT id, name FROM notification_types WHERE name = ?`)
	err := s.GetDB().GetContext(ctx, &t, q, name)
	if stderrors.Is(err, sql.ErrNoRows) {
		s.observe("resolve_type", start, nil)
		return nil, errors.NewInvalidType(name)
	}
	s.observe("resolve_type", start, err)
	if err != nil {
		return nil, errors.NewPersistence("resolve notification type", err)
	}

	s.types.Set(name, t, cache.NoExpiration)
	return &t, nil
}

func (s *Store) ListTypes(ctx context.Context) ([]model.NotificationType, error) {
	start := time.Now()
	types := []model.NotificationType{}
	err := s.GetDB().SelectContext(ctx, &types, `SELECT id, name FROM notification_types ORDER BY id`)
	s.observe("list_types", start, err)
	if err != nil {
		return nil, errors.NewPersistence("list notification types", err)
	}
	return types, nil
}

func (s *Store) CreateEvent(ctx context.Context, typeName string, actorID, objectID int64, recipientIDs []int64) (*model.Event, error) {
	req, err := model.SubmitRequest{
		Type:         typeName,
		ActorID:      actorID,
		ObjectID:     objectID,
		RecipientIDs: recipientIDs,
	}.Normalize()
	if err != nil {
		return nil, err
	}

	t, err := s.ResolveType(ctx, req.Type)
	if err != nil {
		return nil, err
	}

	event := &model.Event{
		TypeID:    t.ID,
		Type:      t.Name,
		ActorID:   req.ActorID,
		ObjectID:  req.ObjectID,
		CreatedAt: model.Timestamp(s.now()),
	}

	start := time.Now()
	err = s.WithTx(ctx, func(tx *sqlx.Tx) error {
		q := tx.Rebind(`
			INSERT INTO notification_events (type_id, actor_id, object_id, created_at)
			VALUES (?, ?, ?, ?)
			RETURNING id`)
		if err := tx.QueryRowxContext(ctx, q, event.TypeID, event.ActorID, event.ObjectID, event.CreatedAt).Scan(&event.ID); err != nil {
			return fmt.Errorf("insert event: %w", err)
		}

		entries := make([]model.RecipientEntry, len(req.RecipientIDs))
		for i, id := range req.RecipientIDs {
			entries[i] = model.RecipientEntry{EventID: event.ID, RecipientID: id}
		}
		for lo := 0; lo < len(entries); lo += recipientBatch {
			hi := lo + recipientBatch
			if hi > len(entries) {
				hi = len(entries)
			}
			_, err := tx.NamedExecContext(ctx,
				`INSERT INTO notification_recipients (event_id, user_id) VALUES (:event_id, :user_id)`,
				entries[lo:hi])
			if err != nil {
				return fmt.Errorf("insert recipients: %w", err)
			}
		}
		return nil
	})
	s.observe("create_event", start, err)
	if err != nil {
		return nil, errors.NewPersistence("create event", err)
	}
	return event, nil
}

func (s *Store) ListForRecipient(ctx context.Context, recipientID int64) ([]model.RecipientEvent, error) {
	start := time.Now()
	rows := []model.RecipientEvent{}
	q := s.GetDB().Rebind(`
		SELECT e.id AS event_id, t.name AS type, e.actor_id, e.object_id, e.created_at, r.read_at
		FROM notification_recipients r
		JOIN notification_events e ON e.id = r.event_id
		JOIN notification_types t ON t.id = e.type_id
		WHERE r.user_id = ?
		ORDER BY e.created_at DESC, e.id DESC`)
	err := s.GetDB().SelectContext(ctx, &rows, q, recipientID)
	s.observe("list_for_recipient", start, err)
	if err != nil {
		return nil, errors.NewPersistence("list notifications", err)
	}

	// Drivers differ in the location they attach on scan.
	for i := range rows {
		rows[i].CreatedAt = model.Timestamp(rows[i].CreatedAt)
		if rows[i].ReadAt != nil {
			at := model.Timestamp(*rows[i].ReadAt)
			rows[i].ReadAt = &at
		}
	}
	return rows, nil
}

func (s *Store) MarkAllRead(ctx context.Context, recipientID int64, at time.Time) (int64, error) {
	start := time.Now()
	q := s.GetDB().Rebind(`UPDATE notification_recipients SET read_at = ? WHERE user_id = ? AND read_at IS NULL`)
	res, err := s.GetDB().ExecContext(ctx, q, model.Timestamp(at), recipientID)
	var n int64
	if err == nil {
		n, err = res.RowsAffected()
	}
	s.observe("mark_all_read", start, err)
	if err != nil {
		return 0, errors.NewPersistence("mark notifications read", err)
	}
	return n, nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.GetDB().PingContext(ctx)
}
