package notification

import (
	stderrors "errors"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/jwalitptl/notifier/internal/handler"
	"github.com/jwalitptl/notifier/internal/live"
	"github.com/jwalitptl/notifier/internal/middleware"
	"github.com/jwalitptl/notifier/internal/model"
	notificationService "github.com/jwalitptl/notifier/internal/service/notification"
	"github.com/jwalitptl/notifier/pkg/errors"
)

type Handler struct {
	service  notificationService.Servicer
	registry *live.Registry
	stream   StreamConfig
	logger   zerolog.Logger

	done     chan struct{}
	doneOnce sync.Once
}

func NewHandler(service notificationService.Servicer, registry *live.Registry, stream StreamConfig, logger zerolog.Logger) *Handler {
	return &Handler{
		service:  service,
		registry: registry,
		stream:   stream.withDefaults(),
		logger:   logger.With().Str("component", "notification_handler").Logger(),
		done:     make(chan struct{}),
	}
}

// Shutdown ends every open stream. Register it with
// http.Server.RegisterOnShutdown so Shutdown does not wait on idle streams.
func (h *Handler) Shutdown() {
	h.doneOnce.Do(func() { close(h.done) })
}

// Submit records an event and pushes it to connected recipients.
func (h *Handler) Submit(c *gin.Context) {
	var req model.SubmitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		var verrs validator.ValidationErrors
		if stderrors.As(err, &verrs) {
			_ = c.Error(err)
			return
		}
		_ = c.Error(errors.NewBadRequest("invalid request body", err))
		return
	}

	result, err := h.service.Submit(c.Request.Context(), req)
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusCreated, handler.NewMessageResponse("event submitted", result))
}

// List returns the caller's aggregated notifications, newest first.
func (h *Handler) List(c *gin.Context) {
	recipient, ok := middleware.RecipientID(c)
	if !ok {
		_ = c.Error(errors.Unauthorized(nil))
		return
	}

	view, err := h.service.List(c.Request.Context(), recipient)
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, handler.NewSuccessResponse(view))
}

func (h *Handler) UnreadCount(c *gin.Context) {
	recipient, ok := middleware.RecipientID(c)
	if !ok {
		_ = c.Error(errors.Unauthorized(nil))
		return
	}

	n, err := h.service.UnreadCount(c.Request.Context(), recipient)
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, handler.NewSuccessResponse(gin.H{"unread": n}))
}

func (h *Handler) MarkAllRead(c *gin.Context) {
	recipient, ok := middleware.RecipientID(c)
	if !ok {
		_ = c.Error(errors.Unauthorized(nil))
		return
	}

	n, err := h.service.MarkAllRead(c.Request.Context(), recipient)
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, handler.NewSuccessResponse(gin.H{"updated": n}))
}

func (h *Handler) Types(c *gin.Context) {
	types, err := h.service.Types(c.Request.Context())
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, handler.NewSuccessResponse(types))
}
