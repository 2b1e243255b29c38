package client

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/jwalitptl/notifier/internal/model"
)

const (
	eventConnected    = "connected"
	eventNotification = "notification"
)

// ErrStreamClosed is reported when the server ends a stream without error.
var ErrStreamClosed = errors.New("notifier: stream closed by server")

type Transport string

const (
	TransportSSE       Transport = "sse"
	TransportWebSocket Transport = "ws"
)

// ParseTransport accepts "sse", "ws" or "websocket".
func ParseTransport(s string) (Transport, error) {
	switch strings.ToLower(s) {
	case "", "sse":
		return TransportSSE, nil
	case "ws", "websocket":
		return TransportWebSocket, nil
	}
	return "", fmt.Errorf("unknown transport %q", s)
}

// Stream is an open live channel. Messages is closed when the stream ends;
// Err then reports why.
type Stream interface {
	Messages() <-chan model.PushMessage
	Err() error
	Close() error
}

// producer owns the message channel and the terminal error of one stream.
type producer struct {
	msgs   chan model.PushMessage
	once   sync.Once
	mu     sync.Mutex
	err    error
	cancel context.CancelFunc
}

func newProducer(cancel context.CancelFunc) *producer {
	return &producer{msgs: make(chan model.PushMessage, 16), cancel: cancel}
}

func (p *producer) Messages() <-chan model.PushMessage { return p.msgs }

func (p *producer) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

func (p *producer) finish(err error) {
	p.once.Do(func() {
		p.mu.Lock()
		p.err = err
		p.mu.Unlock()
		close(p.msgs)
	})
}

func (p *producer) emit(ctx context.Context, msg model.PushMessage) bool {
	select {
	case p.msgs <- msg:
		return true
	case <-ctx.Done():
		return false
	}
}

// Open connects a live stream and waits for the server's connected event.
// The stream lives until ctx is cancelled or Close is called.
func (c *Client) Open(ctx context.Context, t Transport) (Stream, error) {
	switch t {
	case TransportWebSocket:
		return c.openWebSocket(ctx)
	default:
		return c.openSSE(ctx)
	}
}

type sseStream struct {
	*producer
	body io.Closer
}

func (s *sseStream) Close() error {
	s.cancel()
	return s.body.Close()
}

func (c *Client) openSSE(ctx context.Context) (Stream, error) {
	ctx, cancel := context.WithCancel(ctx)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url("/notifications/stream"), nil)
	if err != nil {
		cancel()
		return nil, err
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")
	c.identify(req.Header)

	resp, err := c.http.Do(req)
	if err != nil {
		cancel()
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		var env envelope
		_ = json.NewDecoder(resp.Body).Decode(&env)
		resp.Body.Close()
		cancel()
		return nil, &APIError{StatusCode: resp.StatusCode, Message: env.Message}
	}

	r := newEventReader(resp.Body)
	first, err := r.Next()
	if err != nil {
		resp.Body.Close()
		cancel()
		return nil, fmt.Errorf("read connected event: %w", err)
	}
	if first.Event != eventConnected {
		resp.Body.Close()
		cancel()
		return nil, fmt.Errorf("expected %q event, got %q", eventConnected, first.Event)
	}

	s := &sseStream{producer: newProducer(cancel), body: resp.Body}
	go func() {
		defer resp.Body.Close()
		for {
			ev, err := r.Next()
			if err != nil {
				if errors.Is(err, io.EOF) {
					err = ErrStreamClosed
				}
				s.finish(err)
				return
			}
			if ev.Event != eventNotification {
				continue
			}
			var msg model.PushMessage
			if err := json.Unmarshal([]byte(ev.Data), &msg); err != nil {
				s.finish(fmt.Errorf("decode notification: %w", err))
				return
			}
			if !s.emit(ctx, msg) {
				s.finish(ctx.Err())
				return
			}
		}
	}()
	return s, nil
}

func newWSDialer() *websocket.Dialer {
	return &websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: 10 * time.Second,
	}
}

type wsFrame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

type wsStream struct {
	*producer
	conn *websocket.Conn
}

func (s *wsStream) Close() error {
	s.cancel()
	return s.conn.Close()
}

func (c *Client) wsURL() string {
	u := c.url("/notifications/ws")
	switch {
	case strings.HasPrefix(u, "https://"):
		return "wss://" + strings.TrimPrefix(u, "https://")
	case strings.HasPrefix(u, "http://"):
		return "ws://" + strings.TrimPrefix(u, "http://")
	}
	return u
}

func (c *Client) openWebSocket(ctx context.Context) (Stream, error) {
	h := http.Header{}
	c.identify(h)
	conn, resp, err := c.dialer.DialContext(ctx, c.wsURL(), h)
	if err != nil {
		if resp != nil && resp.StatusCode != http.StatusSwitchingProtocols {
			return nil, &APIError{StatusCode: resp.StatusCode}
		}
		return nil, err
	}

	var first wsFrame
	if err := conn.ReadJSON(&first); err != nil {
		conn.Close()
		return nil, fmt.Errorf("read connected frame: %w", err)
	}
	if first.Event != eventConnected {
		conn.Close()
		return nil, fmt.Errorf("expected %q frame, got %q", eventConnected, first.Event)
	}

	ctx, cancel := context.WithCancel(ctx)
	s := &wsStream{producer: newProducer(cancel), conn: conn}
	go func() {
		<-ctx.Done()
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		conn.Close()
	}()
	go func() {
		for {
			var f wsFrame
			if err := conn.ReadJSON(&f); err != nil {
				if ctx.Err() != nil {
					err = ctx.Err()
				} else if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					err = ErrStreamClosed
				}
				s.finish(err)
				return
			}
			if f.Event != eventNotification {
				continue
			}
			var msg model.PushMessage
			if err := json.Unmarshal(f.Data, &msg); err != nil {
				s.finish(fmt.Errorf("decode notification: %w", err))
				return
			}
			if !s.emit(ctx, msg) {
				s.finish(ctx.Err())
				return
			}
		}
	}()
	return s, nil
}

// Event is one parsed text/event-stream event.
type Event struct {
	ID    string
	Event string
	Data  string
}

// eventReader parses text/event-stream framing. Comment lines are skipped.
type eventReader struct {
	r *bufio.Reader
}

func newEventReader(r io.Reader) *eventReader {
	return &eventReader{r: bufio.NewReader(r)}
}

// Next returns the next dispatched event. Blocks carrying no data are
// skipped.
func (er *eventReader) Next() (Event, error) {
	var (
		ev   Event
		data []string
		seen bool
	)
	for {
		line, err := er.r.ReadString('\n')
		if err != nil {
			if errors.Is(err, io.EOF) && line == "" {
				return Event{}, io.EOF
			}
			if !errors.Is(err, io.EOF) {
				return Event{}, err
			}
		}
		line = strings.TrimRight(line, "\r\n")

		if line == "" {
			if seen {
				ev.Data = strings.Join(data, "\n")
				if ev.Event == "" {
					ev.Event = "message"
				}
				return ev, nil
			}
			if err != nil {
				return Event{}, io.EOF
			}
			continue
		}
		if strings.HasPrefix(line, ":") {
			continue
		}

		field, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")
		switch field {
		case "event":
			ev.Event = value
		case "data":
			data = append(data, value)
			seen = true
		case "id":
			ev.ID = value
		}
		if err != nil {
			return Event{}, io.EOF
		}
	}
}
