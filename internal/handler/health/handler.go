package health

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// Pinger is satisfied by the event store.
type Pinger interface {
	Ping(ctx context.Context) error
}

// ChannelCounter reports open live channels.
type ChannelCounter interface {
	Len() int
}

type Handler struct {
	db       Pinger
	channels ChannelCounter
	timeout  time.Duration
}

func NewHandler(db Pinger, channels ChannelCounter) *Handler {
	return &Handler{
		db:       db,
		channels: channels,
		timeout:  2 * time.Second,
	}
}

func (h *Handler) RegisterRoutes(r gin.IRouter) {
	health := r.Group("/health")
	{
		health.GET("/live", h.LivenessCheck)
		health.GET("/ready", h.ReadinessCheck)
	}
}

func (h *Handler) LivenessCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "UP"})
}

func (h *Handler) ReadinessCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), h.timeout)
	defer cancel()

	if err := h.db.Ping(ctx); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "DOWN",
			"reason": "Database connection failed",
		})
		return
	}

	body := gin.H{"status": "UP"}
	if h.channels != nil {
		body["open_channels"] = h.channels.Len()
	}
	c.JSON(http.StatusOK, body)
}
