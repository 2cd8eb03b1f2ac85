package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"msgwindow/cmd/internal/bus"
	"msgwindow/cmd/internal/console"
	"msgwindow/cmd/internal/pager"
	"msgwindow/cmd/internal/window"
	"msgwindow/cmd/internal/wsclient"
)

// Watch is the `msgwindow watch` entrypoint: it joins one conversation over
// the gateway, mounts a window controller on it and hands the terminal to
// the console until the user quits.
func Watch(parent context.Context, cfg Config, in io.Reader, out io.Writer) error {
	if cfg.Watch.Conversation == "" {
		return errors.New("watch: conversation is required")
	}
	log := NewLogger(cfg.Log, nil)

	ctx, cancel := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	client, err := wsclient.Dial(ctx, log, cfg.ClientOptions())
	if err != nil {
		return err
	}
	defer func() { _ = client.Close() }()

	var push window.PushSource = client
	if cfg.Watch.PushVia == "amqp" {
		conn, err := bus.DialWithRetry(ctx, log, cfg.BusOptions())
		if err != nil {
			return err
		}
		defer func() { _ = conn.Close() }()
		push = bus.NewSubscriber(log, conn, cfg.AMQP.Exchange, cfg.Watch.Conversation)
	}

	reg := prometheus.NewRegistry()
	metrics, err := window.NewMetricsObserver(reg)
	if err != nil {
		return err
	}
	if cfg.Watch.MetricsAddr != "" {
		stop := serveWatchMetrics(log, cfg.Watch.MetricsAddr, reg)
		defer stop()
	}

	ctrl := window.New(
		pager.New(client, cfg.PagerOptions()),
		cfg.WindowOptions(),
		window.WithSender(client),
		window.WithPushSource(push),
		window.WithObserver(window.Observers{
			window.NewLogObserver(log.With("conversation_id", cfg.Watch.Conversation)),
			metrics,
		}),
	)
	if err := ctrl.Mount(ctx); err != nil {
		return err
	}
	defer ctrl.Unmount()

	// Losing the connection ends the session; the console sees the unmount.
	go func() {
		select {
		case <-client.Done():
			log.Warn("watch.connection.lost", "err", client.Err())
			ctrl.Unmount()
		case <-ctx.Done():
		}
	}()

	fmt.Fprintf(out, "-- joined %s as %s (session %s), /help for commands\n", cfg.Watch.Conversation, client.Role(), client.SessionID())
	return console.Run(ctx, ctrl, client, in, out)
}

// serveWatchMetrics exposes reg on addr until the returned stop func runs.
func serveWatchMetrics(log Logger, addr string, reg *prometheus.Registry) (stop func()) {
	srv := &http.Server{
		Addr:              addr,
		Handler:           newRouter(log, nil, reg, nil),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("watch.metrics.fail", "addr", addr, "err", err)
		}
	}()
	log.Info("watch.metrics.start", "addr", addr)

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}
