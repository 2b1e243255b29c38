package router

import (
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/jwalitptl/notifier/internal/handler/health"
	"github.com/jwalitptl/notifier/internal/handler/notification"
	"github.com/jwalitptl/notifier/internal/handler/prometheus"
	"github.com/jwalitptl/notifier/internal/middleware"
	"github.com/jwalitptl/notifier/pkg/auth"
)

type RouterConfig struct {
	Mode             string
	RequestTimeout   time.Duration
	RateLimitEnabled bool
	RateLimit        rate.Limit
	RateBurst        int
	MaxBodySize      int64
	CORSConfig       middleware.CORSConfig
	// Security defaults to middleware.DefaultSecurityConfig when zero.
	Security middleware.SecurityConfig
	// Tokens switches identity to bearer tokens when set.
	Tokens auth.JWTService
}

type Router struct {
	engine        *gin.Engine
	notificationH *notification.Handler
	healthH       *health.Handler
	metricsH      *prometheus.Handler
	config        RouterConfig
}

func NewRouter(
	notificationH *notification.Handler,
	healthH *health.Handler,
	metricsH *prometheus.Handler,
	config RouterConfig,
) *Router {
	if config.Mode != "" {
		gin.SetMode(config.Mode)
	}
	if config.MaxBodySize <= 0 {
		config.MaxBodySize = middleware.DefaultSizeLimitConfig().MaxBodySize
	}
	if config.Security == (middleware.SecurityConfig{}) {
		config.Security = middleware.DefaultSecurityConfig()
	}

	engine := gin.New()

	engine.Use(
		middleware.RequestID(),
		middleware.Logger(),
		metricsH.Middleware(),
		middleware.Recovery(),
		middleware.CORS(config.CORSConfig),
		middleware.SecurityHeaders(config.Security),
		middleware.ErrorHandler(),
		middleware.Validation(middleware.DefaultValidationConfig()),
	)

	return &Router{
		engine:        engine,
		notificationH: notificationH,
		healthH:       healthH,
		metricsH:      metricsH,
		config:        config,
	}
}

func (r *Router) Setup() {
	r.healthH.RegisterRoutes(r.engine)
	r.engine.GET("/metrics", r.metricsH.Handler())

	timeout := middleware.Timeout(middleware.TimeoutConfig{Duration: r.config.RequestTimeout})
	api := r.engine.Group("/api/v1")

	r.setupProducerRoutes(api, timeout)
	r.setupRecipientRoutes(api, timeout)
}

func (r *Router) setupProducerRoutes(rg *gin.RouterGroup, timeout gin.HandlerFunc) {
	submit := []gin.HandlerFunc{timeout, middleware.SizeLimit(middleware.SizeLimitConfig{MaxBodySize: r.config.MaxBodySize})}
	if r.config.RateLimitEnabled {
		limiter := middleware.NewRateLimiter(middleware.RateLimiterConfig{
			Rate:  r.config.RateLimit,
			Burst: r.config.RateBurst,
		})
		submit = append(submit, limiter.RateLimit())
	}
	submit = append(submit, r.notificationH.Submit)

	rg.POST("/notifications", submit...)
	rg.GET("/notification-types", timeout, middleware.Cache(middleware.ReferenceCacheConfig()), r.notificationH.Types)
}

func (r *Router) setupRecipientRoutes(rg *gin.RouterGroup, timeout gin.HandlerFunc) {
	notifications := rg.Group("/notifications",
		middleware.Identity(r.config.Tokens),
		middleware.Cache(middleware.PerRecipientCacheConfig()),
	)
	{
		notifications.GET("", timeout, r.notificationH.List)
		notifications.GET("/unread-count", timeout, r.notificationH.UnreadCount)
		notifications.POST("/read-all", timeout, r.notificationH.MarkAllRead)

		// Streams outlive any request timeout.
		notifications.GET("/stream", r.notificationH.Stream)
		notifications.GET("/ws", r.notificationH.WebSocket)
	}
}

func (r *Router) Engine() *gin.Engine {
	return r.engine
}
