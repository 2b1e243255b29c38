package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	promclient "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/time/rate"

	"github.com/jwalitptl/notifier/config"
	"github.com/jwalitptl/notifier/internal/handler/health"
	"github.com/jwalitptl/notifier/internal/handler/notification"
	"github.com/jwalitptl/notifier/internal/handler/prometheus"
	"github.com/jwalitptl/notifier/internal/live"
	"github.com/jwalitptl/notifier/internal/middleware"
	"github.com/jwalitptl/notifier/internal/repository/sqlstore"
	"github.com/jwalitptl/notifier/internal/router"
	notificationService "github.com/jwalitptl/notifier/internal/service/notification"
	"github.com/jwalitptl/notifier/pkg/auth"
	"github.com/jwalitptl/notifier/pkg/logger"
	"github.com/jwalitptl/notifier/pkg/messaging"
	"github.com/jwalitptl/notifier/pkg/messaging/redis"
	"github.com/jwalitptl/notifier/pkg/metrics"
)

const metricsNamespace = "notifier"

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	l := logger.NewLogger(&logger.Config{
		Level: logger.ParseLevel(cfg.Log.Level),
		JSON:  cfg.Log.JSON,
	})
	l.SetGlobal()
	log := l.ZL

	db, err := sqlstore.NewDB(cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()

	reg := promclient.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(metricsNamespace, reg)

	store := sqlstore.New(db, m, sqlstore.WithCacheCleanup(cfg.Cache.CleanupInterval))
	if cfg.Database.AutoMigrate {
		if err := store.Migrate(context.Background()); err != nil {
			log.Fatal().Err(err).Msg("failed to migrate schema")
		}
	}

	registry := live.NewRegistry(m,
		live.WithShards(cfg.Stream.Shards),
		live.WithBufferSize(cfg.Stream.BufferSize),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	opts := []notificationService.Option{
		notificationService.WithLogger(log.With().Str("component", "notification").Logger()),
	}
	var broker messaging.Broker
	if cfg.Redis.Enabled {
		broker, err = redis.NewRedisBroker(cfg.Redis.ToBrokerConfig(), &log)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to redis")
		}
		defer broker.Close()

		relay := live.NewRelay(broker, registry, cfg.Redis.Channel, m, log.With().Str("component", "relay").Logger())
		go func() {
			if err := relay.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Error().Err(err).Msg("relay stopped")
			}
		}()
		opts = append(opts, notificationService.WithRelay(relay))
		log.Info().Str("origin", relay.Origin()).Str("channel", cfg.Redis.Channel).Msg("cross-instance relay enabled")
	}

	svc := notificationService.NewService(store, registry, m, opts...)

	var tokens auth.JWTService
	if cfg.Auth.JWTSecret != "" {
		tokens = auth.NewJWTService(cfg.Auth.JWTSecret)
	}

	notificationH := notification.NewHandler(svc, registry, notification.StreamConfig{
		HeartbeatInterval: cfg.Stream.HeartbeatInterval,
		AllowedOrigins:    cfg.Security.AllowedOrigins,
	}, log)

	r := router.NewRouter(
		notificationH,
		health.NewHandler(store, registry),
		prometheus.New(reg, metricsNamespace),
		router.RouterConfig{
			Mode:             cfg.Server.Mode,
			RequestTimeout:   cfg.Server.RequestTimeout,
			RateLimitEnabled: cfg.RateLimit.Enabled,
			RateLimit:        rate.Limit(cfg.RateLimit.RequestsPerSecond),
			RateBurst:        cfg.RateLimit.Burst,
			CORSConfig:       corsConfig(cfg.Security),
			Tokens:           tokens,
		},
	)
	r.Setup()

	srv := &http.Server{
		Addr:           fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:        r.Engine(),
		ReadTimeout:    cfg.Server.ReadTimeout,
		WriteTimeout:   cfg.Server.WriteTimeout,
		MaxHeaderBytes: cfg.Server.MaxHeaderBytes,
	}
	srv.RegisterOnShutdown(notificationH.Shutdown)

	go func() {
		log.Info().Int("port", cfg.Server.Port).Str("driver", cfg.Database.Driver).Msg("starting server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("failed to start server")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}
	log.Info().Msg("server exited")
}

func corsConfig(sec config.SecurityConfig) middleware.CORSConfig {
	c := middleware.DefaultCORSConfig()
	if len(sec.AllowedOrigins) > 0 {
		c.AllowOrigins = sec.AllowedOrigins
	}
	if len(sec.AllowedMethods) > 0 {
		c.AllowMethods = sec.AllowedMethods
	}
	if len(sec.AllowedHeaders) > 0 {
		c.AllowHeaders = sec.AllowedHeaders
	}
	return c
}
