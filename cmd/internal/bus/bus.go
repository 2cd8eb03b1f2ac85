// Package bus relays message changes over RabbitMQ so that processes other
// than the gateway (for example a watching console) can follow a conversation.
//
// Changes are published to a topic exchange with the routing key
// "conversation.<id>.changed"; a Subscriber binds a private queue to one
// conversation and surfaces deliveries as window changes.
package bus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/rabbitmq/amqp091-go"

	"msgwindow/cmd/internal/window"
	"msgwindow/cmd/internal/wire"
	v1 "msgwindow/shared/contracts/realtime/v1"
)

const (
	DefaultExchange = "msgwindow.changes"

	defaultRetryAttempts = 5
	defaultRetryDelay    = 500 * time.Millisecond
	maxRetryDelay        = 30 * time.Second

	contentType = "application/json"
)

// ErrBadDelivery marks a delivery that could not be decoded.
var ErrBadDelivery = errors.New("bus: bad delivery")

// Config describes the broker connection.
type Config struct {
	URL           string
	Exchange      string
	RetryAttempts int
	RetryDelay    time.Duration
}

func (c Config) withDefaults() Config {
	if c.Exchange == "" {
		c.Exchange = DefaultExchange
	}
	if c.RetryAttempts <= 0 {
		c.RetryAttempts = defaultRetryAttempts
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = defaultRetryDelay
	}
	return c
}

// DialWithRetry connects with exponential backoff until ctx is done.
func DialWithRetry(ctx context.Context, log *slog.Logger, cfg Config) (*amqp091.Connection, error) {
	if log == nil {
		log = slog.Default()
	}
	cfg = cfg.withDefaults()

	var lastErr error
	for i := 1; i <= cfg.RetryAttempts; i++ {
		conn, err := amqp091.Dial(cfg.URL)
		if err == nil {
			if i > 1 {
				log.Info("bus.dial.ok", "attempt", i)
			}
			return conn, nil
		}
		lastErr = err

		sleep := backoff(cfg.RetryDelay, i)
		log.Warn("bus.dial.fail", "attempt", i, "sleep", sleep, "err", err)

		t := time.NewTimer(sleep)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil, fmt.Errorf("bus: dial canceled: %w", ctx.Err())
		case <-t.C:
		}
	}
	return nil, fmt.Errorf("bus: connect after %d attempts: %w", cfg.RetryAttempts, lastErr)
}

func backoff(base time.Duration, attempt int) time.Duration {
	d := time.Duration(float64(base) * math.Pow(2, float64(attempt-1)))
	if d <= 0 || d > maxRetryDelay {
		return maxRetryDelay
	}
	return d
}

func declareExchange(ch *amqp091.Channel, name string) error {
	return ch.ExchangeDeclare(name, "topic", true, false, false, false, nil)
}

// RoutingKey returns the topic a conversation's changes are published under.
// Dots and wildcards in the id are replaced so they cannot widen a binding.
func RoutingKey(conversationID string) string {
	r := strings.NewReplacer(".", "_", "*", "_", "#", "_")
	return "conversation." + r.Replace(conversationID) + ".changed"
}

func encodeChange(p v1.MessageChangedPayload) ([]byte, error) {
	return json.Marshal(p)
}

func decodeChange(body []byte) (window.Change, error) {
	var p v1.MessageChangedPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return window.Change{}, fmt.Errorf("%w: %v", ErrBadDelivery, err)
	}
	ch, err := wire.Change(p)
	if err != nil {
		return window.Change{}, fmt.Errorf("%w: %v", ErrBadDelivery, err)
	}
	return ch, nil
}
