package client

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	promclient "github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/notifier/config"
	"github.com/jwalitptl/notifier/internal/handler/health"
	"github.com/jwalitptl/notifier/internal/handler/notification"
	"github.com/jwalitptl/notifier/internal/handler/prometheus"
	"github.com/jwalitptl/notifier/internal/live"
	"github.com/jwalitptl/notifier/internal/middleware"
	"github.com/jwalitptl/notifier/internal/model"
	"github.com/jwalitptl/notifier/internal/repository/sqlstore"
	"github.com/jwalitptl/notifier/internal/router"
	notificationService "github.com/jwalitptl/notifier/internal/service/notification"
	"github.com/jwalitptl/notifier/pkg/metrics"
)

func newServer(t *testing.T) *httptest.Server {
	t.Helper()

	db, err := sqlstore.NewDB(config.DatabaseConfig{Driver: sqlstore.DriverSQLite, DSN: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	reg := promclient.NewRegistry()
	m := metrics.New("notifier", reg)
	store := sqlstore.New(db, m)
	require.NoError(t, store.Migrate(context.Background()))

	registry := live.NewRegistry(m)
	svc := notificationService.NewService(store, registry, m)

	r := router.NewRouter(
		notification.NewHandler(svc, registry, notification.StreamConfig{HeartbeatInterval: 50 * time.Millisecond}, zerolog.Nop()),
		health.NewHandler(store, registry),
		prometheus.New(reg, "notifier"),
		router.RouterConfig{
			Mode:           gin.TestMode,
			RequestTimeout: 5 * time.Second,
			CORSConfig:     middleware.DefaultCORSConfig(),
		},
	)
	r.Setup()

	srv := httptest.NewServer(r.Engine())
	t.Cleanup(srv.Close)
	return srv
}

func like(actor int64, recipients ...int64) model.SubmitRequest {
	return model.SubmitRequest{Type: model.TypePostLiked, ActorID: actor, ObjectID: 42, RecipientIDs: recipients}
}

func TestClient_REST(t *testing.T) {
	srv := newServer(t)
	ctx := context.Background()
	producer := New(srv.URL, 0)
	c := New(srv.URL, 1)

	types, err := c.Types(ctx)
	require.NoError(t, err)
	assert.Len(t, types, len(model.NotificationTypes))

	res, err := producer.Submit(ctx, like(7, 1))
	require.NoError(t, err)
	assert.Positive(t, res.EventID)
	_, err = producer.Submit(ctx, like(9, 1))
	require.NoError(t, err)

	view, err := c.Fetch(ctx)
	require.NoError(t, err)
	require.Len(t, view, 1)
	assert.Equal(t, []int64{7, 9}, view[0].ActorIDs)
	assert.Equal(t, "User 7 and User 9 liked your post", view[0].Message)

	n, err := c.UnreadCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	updated, err := c.MarkAllRead(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 2, updated)

	n, err = c.UnreadCount(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestClient_SubmitRejected(t *testing.T) {
	srv := newServer(t)
	_, err := New(srv.URL, 0).Submit(context.Background(), model.SubmitRequest{
		Type: "post_shared", ActorID: 1, ObjectID: 2, RecipientIDs: []int64{3},
	})

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
	assert.False(t, apiErr.Temporary())
}

func TestClient_OpenRequiresIdentity(t *testing.T) {
	srv := newServer(t)
	_, err := New(srv.URL, 0).Open(context.Background(), TransportSSE)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusUnauthorized, apiErr.StatusCode)
}

func TestReconciler_EndToEnd(t *testing.T) {
	for _, transport := range []Transport{TransportSSE, TransportWebSocket} {
		t.Run(string(transport), func(t *testing.T) {
			srv := newServer(t)
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			producer := New(srv.URL, 0)
			_, err := producer.Submit(ctx, like(7, 1))
			require.NoError(t, err)

			rec := NewReconciler(New(srv.URL, 1), WithTransport(transport))
			done := make(chan error, 1)
			go func() { done <- rec.Run(ctx) }()

			require.Eventually(t, func() bool {
				s, _ := rec.State()
				return s == StateOpen
			}, 2*time.Second, 10*time.Millisecond)
			require.Len(t, rec.Snapshot(), 1)
			assert.True(t, rec.HasUnread())

			_, err = rec.MarkAllRead(ctx)
			require.NoError(t, err)
			assert.False(t, rec.HasUnread())

			// A push for the same object coalesces into the seeded group.
			_, err = producer.Submit(ctx, like(9, 1))
			require.NoError(t, err)
			require.Eventually(t, func() bool {
				v := rec.Snapshot()
				return len(v) == 1 && len(v[0].ActorIDs) == 2
			}, 2*time.Second, 10*time.Millisecond)

			view := rec.Snapshot()
			assert.False(t, view[0].Read)
			assert.Equal(t, "User 7 and User 9 liked your post", view[0].Message)
			assert.Equal(t, 1, rec.UnreadCount())

			fetched, err := New(srv.URL, 1).Fetch(ctx)
			require.NoError(t, err)
			assert.Equal(t, fetched, view)

			cancel()
			select {
			case err := <-done:
				assert.NoError(t, err)
			case <-time.After(2 * time.Second):
				t.Fatal("Run did not return after cancel")
			}
			s, lastErr := rec.State()
			assert.Equal(t, StateClosed, s)
			assert.NoError(t, lastErr)
		})
	}
}

func TestReconciler_GivesUp(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = io.WriteString(w, `{"status":"error","message":"down"}`)
	}))
	defer srv.Close()

	rec := NewReconciler(New(srv.URL, 1), WithReconnect(time.Millisecond, 2))
	err := rec.Run(context.Background())
	require.ErrorIs(t, err, ErrGaveUp)

	s, lastErr := rec.State()
	assert.Equal(t, StateClosed, s)
	var apiErr *APIError
	require.ErrorAs(t, lastErr, &apiErr)
	assert.Equal(t, http.StatusServiceUnavailable, apiErr.StatusCode)
}

func TestReconciler_RetriesFetch(t *testing.T) {
	var fetches int32
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/notifications/stream", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = io.WriteString(w, "event:connected\ndata:Welcome user 1\n\n")
		w.(http.Flusher).Flush()
		<-r.Context().Done()
	})
	mux.HandleFunc("/api/v1/notifications", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if atomic.AddInt32(&fetches, 1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = io.WriteString(w, `{"status":"error","message":"internal server error"}`)
			return
		}
		_, _ = io.WriteString(w, `{"status":"success","data":[]}`)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	rec := NewReconciler(New(srv.URL, 1), WithFetchRetry(3, time.Millisecond, 4*time.Millisecond))
	go func() { _ = rec.Run(ctx) }()

	require.Eventually(t, func() bool {
		s, _ := rec.State()
		return s == StateOpen
	}, 2*time.Second, 5*time.Millisecond)
	assert.EqualValues(t, 3, atomic.LoadInt32(&fetches))
	assert.False(t, rec.HasUnread())
}

func TestReconciler_ReconnectsAfterServerClose(t *testing.T) {
	var opens int32
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/notifications/stream", func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&opens, 1)
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = io.WriteString(w, "event:connected\ndata:Welcome user 1\n\n")
		if n == 1 {
			// First connection ends right away.
			return
		}
		w.(http.Flusher).Flush()
		<-r.Context().Done()
	})
	mux.HandleFunc("/api/v1/notifications", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"status":"success","data":[]}`)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	rec := NewReconciler(New(srv.URL, 1), WithReconnect(time.Millisecond, 3))
	go func() { _ = rec.Run(ctx) }()

	require.Eventually(t, func() bool {
		s, _ := rec.State()
		return s == StateOpen && atomic.LoadInt32(&opens) == 2
	}, 2*time.Second, 5*time.Millisecond)
}

func TestEventReader(t *testing.T) {
	raw := ": heartbeat\n\n" +
		"event:connected\r\ndata:Welcome user 1\r\n\r\n" +
		"id:12\nevent:notification\ndata:{\"a\":1,\ndata: \"b\":2}\n\n" +
		"data:tail"

	r := newEventReader(strings.NewReader(raw))

	ev, err := r.Next()
	require.NoError(t, err)
	assert.Equal(t, Event{Event: "connected", Data: "Welcome user 1"}, ev)

	ev, err = r.Next()
	require.NoError(t, err)
	assert.Equal(t, Event{ID: "12", Event: "notification", Data: "{\"a\":1,\n\"b\":2}"}, ev)

	// An unterminated event is not dispatched.
	_, err = r.Next()
	assert.True(t, errors.Is(err, io.EOF))
}

func TestRetryDelay(t *testing.T) {
	assert.Equal(t, time.Second, retryDelay(time.Second, 30*time.Second, 0))
	assert.Equal(t, 2*time.Second, retryDelay(time.Second, 30*time.Second, 1))
	assert.Equal(t, 16*time.Second, retryDelay(time.Second, 30*time.Second, 4))
	assert.Equal(t, 30*time.Second, retryDelay(time.Second, 30*time.Second, 5))
}

func TestParseTransport(t *testing.T) {
	for in, want := range map[string]Transport{"": TransportSSE, "SSE": TransportSSE, "ws": TransportWebSocket, "websocket": TransportWebSocket} {
		got, err := ParseTransport(in)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := ParseTransport("grpc")
	assert.Error(t, err)
}
