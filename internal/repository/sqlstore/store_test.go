package sqlstore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/notifier/config"
	"github.com/jwalitptl/notifier/internal/model"
	"github.com/jwalitptl/notifier/pkg/errors"
	"github.com/jwalitptl/notifier/pkg/metrics"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time { return c.t }

func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestStore(t *testing.T) (*Store, *fakeClock) {
	t.Helper()
	db, err := NewDB(config.DatabaseConfig{Driver: DriverSQLite, DSN: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	clock := &fakeClock{t: time.Date(2024, 6, 1, 9, 30, 0, 123456789, time.UTC)}
	s := New(db, metrics.Noop(), WithClock(clock.Now))
	require.NoError(t, s.Migrate(context.Background()))
	return s, clock
}

func countRows(t *testing.T, s *Store, table string) int {
	t.Helper()
	var n int
	require.NoError(t, s.GetDB().Get(&n, "SELECT COUNT(*) FROM "+table))
	return n
}

func TestMigrate_SeedsTypesOnce(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Migrate(ctx))

	types, err := s.ListTypes(ctx)
	require.NoError(t, err)
	require.Len(t, types, len(model.NotificationTypes))
	for i, name := range model.NotificationTypes {
		assert.Equal(t, name, types[i].Name)
	}
}

func TestResolveType(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	nt, err := s.ResolveType(ctx, model.TypePostLiked)
	require.NoError(t, err)
	assert.Equal(t, model.TypePostLiked, nt.Name)
	assert.Equal(t, 1, s.types.ItemCount())

	again, err := s.ResolveType(ctx, model.TypePostLiked)
	require.NoError(t, err)
	assert.Equal(t, nt.ID, again.ID)

	_, err = s.ResolveType(ctx, "poked")
	assert.ErrorIs(t, err, errors.InvalidType)
}

func TestCreateEvent_FansOutToDistinctRecipients(t *testing.T) {
	s, clock := newTestStore(t)
	ctx := context.Background()

	ev, err := s.CreateEvent(ctx, model.TypePostCommented, 7, 100, []int64{3, 4, 3, 5})
	require.NoError(t, err)
	assert.Positive(t, ev.ID)
	assert.Equal(t, model.TypePostCommented, ev.Type)
	assert.Equal(t, model.Timestamp(clock.Now()), ev.CreatedAt)

	assert.Equal(t, 1, countRows(t, s, "notification_events"))
	assert.Equal(t, 3, countRows(t, s, "notification_recipients"))

	rows, err := s.ListForRecipient(ctx, 4)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, ev.ID, rows[0].EventID)
	assert.Equal(t, ev.CreatedAt, rows[0].CreatedAt, "stored timestamp must round-trip exactly")
	assert.False(t, rows[0].Read())
}

func TestCreateEvent_RejectsBadInput(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	_, err := s.CreateEvent(ctx, "poked", 1, 1, []int64{1})
	assert.ErrorIs(t, err, errors.InvalidType)

	_, err = s.CreateEvent(ctx, model.TypePostLiked, 1, 1, nil)
	assert.ErrorIs(t, err, errors.EmptyRecipients)

	_, err = s.CreateEvent(ctx, model.TypePostLiked, 0, 1, []int64{1})
	assert.ErrorIs(t, err, errors.Validation)

	_, err = s.CreateEvent(ctx, model.TypePostLiked, 1, 1, []int64{2, 0})
	assert.ErrorIs(t, err, errors.Validation)

	assert.Equal(t, 0, countRows(t, s, "notification_events"))
	assert.Equal(t, 0, countRows(t, s, "notification_recipients"))
}

func TestCreateEvent_RollsBackOnFanOutFailure(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	_, err := s.GetDB().Exec(`DROP TABLE notification_recipients`)
	require.NoError(t, err)

	_, err = s.CreateEvent(ctx, model.TypePostLiked, 1, 1, []int64{1, 2})
	assert.ErrorIs(t, err, errors.Persistence)
	assert.Equal(t, 0, countRows(t, s, "notification_events"))
}

func TestListForRecipient_Order(t *testing.T) {
	s, clock := newTestStore(t)
	ctx := context.Background()

	first, err := s.CreateEvent(ctx, model.TypePostLiked, 1, 10, []int64{9})
	require.NoError(t, err)
	clock.Advance(time.Second)
	second, err := s.CreateEvent(ctx, model.TypePostLiked, 2, 10, []int64{9})
	require.NoError(t, err)
	// Same timestamp as second; the higher id sorts first.
	third, err := s.CreateEvent(ctx, model.TypeUserFollowed, 3, 9, []int64{9, 8})
	require.NoError(t, err)

	rows, err := s.ListForRecipient(ctx, 9)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, []int64{third.ID, second.ID, first.ID}, []int64{rows[0].EventID, rows[1].EventID, rows[2].EventID})

	empty, err := s.ListForRecipient(ctx, 12345)
	require.NoError(t, err)
	assert.NotNil(t, empty)
	assert.Empty(t, empty)
}

func TestMarkAllRead(t *testing.T) {
	s, clock := newTestStore(t)
	ctx := context.Background()

	for i := int64(1); i <= 3; i++ {
		_, err := s.CreateEvent(ctx, model.TypePostLiked, i, 10, []int64{9, 8})
		require.NoError(t, err)
		clock.Advance(time.Minute)
	}

	n, err := s.MarkAllRead(ctx, 9, clock.Now())
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	n, err = s.MarkAllRead(ctx, 9, clock.Now())
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)

	rows, err := s.ListForRecipient(ctx, 9)
	require.NoError(t, err)
	for _, r := range rows {
		require.NotNil(t, r.ReadAt)
		assert.Equal(t, model.Timestamp(clock.Now()), *r.ReadAt)
	}

	other, err := s.ListForRecipient(ctx, 8)
	require.NoError(t, err)
	for _, r := range other {
		assert.False(t, r.Read())
	}
}

func TestPing(t *testing.T) {
	s, _ := newTestStore(t)
	assert.NoError(t, s.Ping(context.Background()))
}
