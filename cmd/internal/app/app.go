// Package app wires the msgwindow runtime: config, logging, the reference
// message backend (HTTP + WebSocket gateway) and the watch console.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rabbitmq/amqp091-go"
	"golang.org/x/sync/errgroup"

	"msgwindow/cmd/internal/bus"
	"msgwindow/cmd/internal/realtime"
)

// App is the backend runtime: it owns the store, the optional broker
// connection and the HTTP server.
type App struct {
	cfg Config
	log Logger

	pool  *pgxpool.Pool
	store realtime.MessageStore

	amqp      *amqp091.Connection
	publisher *bus.Publisher

	ws      *realtime.WSGateway
	handler http.Handler
}

// New constructs a fully wired App. Postgres is used when a database URL is
// configured, otherwise messages live in memory. Changes are mirrored to
// RabbitMQ when an AMQP URL is configured.
func New(ctx context.Context, cfg Config, log Logger) (*App, error) {
	if log == nil {
		log = NewLogger(cfg.Log, nil)
	}
	a := &App{cfg: cfg, log: log}

	if err := a.openStore(ctx); err != nil {
		return nil, err
	}

	opts := []realtime.GatewayOption{realtime.WithGatewayConfig(cfg.GatewayOptions())}
	if cfg.AMQP.URL != "" {
		conn, err := bus.DialWithRetry(ctx, log, cfg.BusOptions())
		if err != nil {
			_ = a.Close()
			return nil, err
		}
		a.amqp = conn
		pub, err := bus.NewPublisher(log, conn, cfg.AMQP.Exchange)
		if err != nil {
			_ = a.Close()
			return nil, err
		}
		a.publisher = pub
		opts = append(opts, realtime.WithChangeNotifier(pub))
		log.Info("amqp.enabled", "exchange", cfg.AMQP.Exchange)
	}

	a.ws = realtime.NewWSGateway(log, realtime.NewHub(log), a.store, opts...)
	a.handler = newRouter(log, a.ready, prometheus.DefaultGatherer, a.ws)
	return a, nil
}

func (a *App) openStore(ctx context.Context) error {
	if a.cfg.DB.URL == "" {
		a.log.Info("db.disabled.inmemory_store")
		a.store = realtime.NewInMemoryStore()
		return nil
	}

	pool, err := NewDBPool(ctx, a.cfg.DB)
	if err != nil {
		return fmt.Errorf("db: %w", err)
	}
	st, err := realtime.NewPostgresStore(pool, realtime.WithSchema(a.cfg.DB.Schema))
	if err != nil {
		pool.Close()
		return err
	}
	if a.cfg.DB.Migrate {
		if err := st.Migrate(ctx); err != nil {
			pool.Close()
			return fmt.Errorf("db migrate: %w", err)
		}
	}
	a.pool, a.store = pool, st
	a.log.Info("db.enabled.postgres_store", "schema", a.cfg.DB.Schema)
	return nil
}

func (a *App) ready(r *http.Request) error {
	if a.pool == nil {
		if a.cfg.DB.ReadinessRequire {
			return errors.New("db not configured")
		}
		return nil
	}
	return PingDB(r.Context(), a.pool, 2*time.Second)
}

// Handler exposes the routed HTTP handler (used by tests).
func (a *App) Handler() http.Handler { return a.handler }

// Run serves HTTP until ctx is canceled or the listener fails, then shuts
// down gracefully and releases resources.
func (a *App) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              a.cfg.HTTP.Addr,
		Handler:           a.handler,
		ReadHeaderTimeout: nonZeroDuration(a.cfg.HTTP.ReadHeaderTimeout, 5*time.Second),
		ReadTimeout:       nonZeroDuration(a.cfg.HTTP.ReadTimeout, 15*time.Second),
		WriteTimeout:      nonZeroDuration(a.cfg.HTTP.WriteTimeout, 15*time.Second),
		IdleTimeout:       nonZeroDuration(a.cfg.HTTP.IdleTimeout, 60*time.Second),
		MaxHeaderBytes:    nonZeroInt(a.cfg.HTTP.MaxHeaderBytes, 1<<20),
	}

	a.log.Info("server.start", "addr", a.cfg.HTTP.Addr, "db_enabled", a.pool != nil, "amqp_enabled", a.amqp != nil)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.log.Error("server.fail", "err", err)
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		a.log.Info("server.stop", "reason", "context_done")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), nonZeroDuration(a.cfg.HTTP.ShutdownTimeout, 10*time.Second))
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			a.log.Error("server.shutdown.fail", "err", err)
			return err
		}
		return nil
	})

	err := g.Wait()
	if cerr := a.Close(); cerr != nil {
		a.log.Error("app.close.fail", "err", cerr)
	}
	a.log.Info("server.stopped")
	return err
}

// Close releases the store, broker and pool. Safe to call more than once.
func (a *App) Close() error {
	var errs []error
	if a.publisher != nil {
		errs = append(errs, a.publisher.Close())
		a.publisher = nil
	}
	if a.amqp != nil {
		if err := a.amqp.Close(); err != nil && !errors.Is(err, amqp091.ErrClosed) {
			errs = append(errs, err)
		}
		a.amqp = nil
	}
	if a.store != nil {
		errs = append(errs, a.store.Close())
		a.store = nil
	}
	if a.pool != nil {
		a.pool.Close()
		a.pool = nil
	}
	return errors.Join(errs...)
}

func nonZeroDuration(v, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return v
}

func nonZeroInt(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
