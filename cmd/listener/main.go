// Command listener tails one recipient's aggregated notifications and prints
// the view whenever it changes.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/jwalitptl/notifier/config"
	"github.com/jwalitptl/notifier/internal/model"
	"github.com/jwalitptl/notifier/pkg/client"
	"github.com/jwalitptl/notifier/pkg/logger"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	var (
		baseURL   = flag.String("url", cfg.Client.BaseURL, "notifier base URL")
		userID    = flag.Int64("user", 0, "recipient id to listen as")
		token     = flag.String("token", "", "bearer token; overrides -user for identity")
		transport = flag.String("transport", "sse", "live transport: sse or ws")
		readAll   = flag.Bool("read-all", false, "mark everything read once connected")
	)
	flag.Parse()

	logger.NewLogger(&logger.Config{Level: logger.ParseLevel(cfg.Log.Level), Output: os.Stderr}).SetGlobal()

	if *userID <= 0 && *token == "" {
		fmt.Fprintln(os.Stderr, "listener: -user or -token is required")
		flag.Usage()
		os.Exit(2)
	}
	t, err := client.ParseTransport(*transport)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid transport")
	}

	var opts []client.Option
	if *token != "" {
		opts = append(opts, client.WithToken(*token))
	}
	c := client.New(*baseURL, *userID, opts...)
	rec := client.NewReconciler(c,
		client.WithTransport(t),
		client.WithReconnect(cfg.Client.ReconnectDelay, cfg.Client.MaxReconnects),
		client.WithReconcilerLogger(log.Logger),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	done := make(chan error, 1)
	go func() { done <- rec.Run(ctx) }()

	markPending := *readAll
	for {
		select {
		case err := <-done:
			if err != nil {
				log.Fatal().Err(err).Msg("listener stopped")
			}
			return
		case <-rec.Changes():
			state, cause := rec.State()
			if state == client.StateOpen && markPending {
				markPending = false
				if _, err := rec.MarkAllRead(ctx); err != nil {
					log.Error().Err(err).Msg("mark all read failed")
				}
			}
			render(os.Stdout, state, cause, rec.Snapshot())
		}
	}
}

func render(w io.Writer, state client.State, cause error, view []model.AggregatedNotification) {
	unread := 0
	for _, g := range view {
		if !g.Read {
			unread++
		}
	}
	status := state.String()
	if cause != nil {
		status += ": " + cause.Error()
	}
	fmt.Fprintf(w, "\n[%s] %d notifications, %d unread\n", status, len(view), unread)
	for _, g := range view {
		mark := " "
		if !g.Read {
			mark = "*"
		}
		fmt.Fprintf(w, "%s %s  %s  (%s)\n", mark, g.LatestTimestamp.Local().Format(time.Kitchen), g.Message, g.Title)
	}
}
