package notification

import (
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-contrib/sse"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/jwalitptl/notifier/internal/middleware"
	"github.com/jwalitptl/notifier/pkg/errors"
)

const (
	EventConnected    = "connected"
	EventNotification = "notification"

	writeWait      = 10 * time.Second
	maxMessageSize = 512
)

type StreamConfig struct {
	// HeartbeatInterval spaces SSE comments and WebSocket pings on idle
	// connections.
	HeartbeatInterval time.Duration
	// AllowedOrigins for the WebSocket handshake. Empty or "*" allows all.
	AllowedOrigins []string
}

func (s StreamConfig) withDefaults() StreamConfig {
	if s.HeartbeatInterval <= 0 {
		s.HeartbeatInterval = 25 * time.Second
	}
	return s
}

// Frame is one WebSocket message.
type Frame struct {
	Event string      `json:"event"`
	Data  interface{} `json:"data"`
}

func welcome(recipient int64) string {
	return fmt.Sprintf("Welcome user %d", recipient)
}

// Stream serves the caller's live channel as server-sent events. It opens
// with a connected event, then writes one notification event per push.
func (h *Handler) Stream(c *gin.Context) {
	recipient, ok := middleware.RecipientID(c)
	if !ok {
		_ = c.Error(errors.Unauthorized(nil))
		return
	}

	ch := h.registry.Register(recipient)
	defer h.registry.Unregister(recipient, ch)

	log := h.logger.With().Int64("recipient_id", recipient).Str("transport", "sse").Logger()
	log.Debug().Msg("stream opened")
	defer log.Debug().Msg("stream closed")

	header := c.Writer.Header()
	header.Set("Content-Type", "text/event-stream")
	header.Set("Cache-Control", "no-cache")
	header.Set("Connection", "keep-alive")
	header.Set("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)

	write := func(e sse.Event) bool {
		if err := sse.Encode(c.Writer, e); err != nil {
			log.Warn().Err(err).Msg("stream write failed")
			return false
		}
		c.Writer.Flush()
		return true
	}

	if !write(sse.Event{Event: EventConnected, Data: welcome(recipient)}) {
		return
	}

	heartbeat := time.NewTicker(h.stream.HeartbeatInterval)
	defer heartbeat.Stop()

	ctx := c.Request.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-h.done:
			return
		case msg := <-ch.C():
			if !write(sse.Event{Event: EventNotification, Id: strconv.FormatInt(msg.EventID, 10), Data: msg}) {
				return
			}
		case <-heartbeat.C:
			if _, err := io.WriteString(c.Writer, ": heartbeat\n\n"); err != nil {
				log.Warn().Err(err).Msg("stream heartbeat failed")
				return
			}
			c.Writer.Flush()
		}
	}
}

func (h *Handler) upgrader() *websocket.Upgrader {
	allowed := h.stream.AllowedOrigins
	return &websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" || len(allowed) == 0 {
				return true
			}
			for _, o := range allowed {
				if o == "*" || o == origin {
					return true
				}
			}
			return false
		},
	}
}

// WebSocket serves the same live channel as Stream over a WebSocket. Client
// frames are read only to observe pongs and close.
func (h *Handler) WebSocket(c *gin.Context) {
	recipient, ok := middleware.RecipientID(c)
	if !ok {
		_ = c.Error(errors.Unauthorized(nil))
		return
	}

	conn, err := h.upgrader().Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn().Err(err).Int64("recipient_id", recipient).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()

	ch := h.registry.Register(recipient)
	defer h.registry.Unregister(recipient, ch)

	log := h.logger.With().Int64("recipient_id", recipient).Str("transport", "websocket").Logger()
	log.Debug().Msg("stream opened")
	defer log.Debug().Msg("stream closed")

	pongWait := 3 * h.stream.HeartbeatInterval
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		conn.SetReadLimit(maxMessageSize)
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					log.Warn().Err(err).Msg("unexpected websocket close")
				}
				return
			}
		}
	}()

	write := func(f Frame) bool {
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteJSON(f); err != nil {
			log.Warn().Err(err).Msg("websocket write failed")
			return false
		}
		return true
	}

	if !write(Frame{Event: EventConnected, Data: welcome(recipient)}) {
		return
	}

	ping := time.NewTicker(h.stream.HeartbeatInterval)
	defer ping.Stop()

	for {
		select {
		case <-closed:
			return
		case <-h.done:
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
				time.Now().Add(writeWait))
			return
		case msg := <-ch.C():
			if !write(Frame{Event: EventNotification, Data: msg}) {
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}
