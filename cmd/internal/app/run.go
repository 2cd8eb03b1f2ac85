package app

import (
	"context"
	"os/signal"
	"syscall"
)

// Serve is the `msgwindow serve` entrypoint. It returns an error instead of
// exiting so deferred cleanup runs.
func Serve(parent context.Context, cfg Config) error {
	log := NewLogger(cfg.Log, nil)

	ctx, cancel := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a, err := New(ctx, cfg, log)
	if err != nil {
		return err
	}
	return a.Run(ctx)
}
