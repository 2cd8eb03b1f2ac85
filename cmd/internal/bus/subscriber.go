package bus

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/rabbitmq/amqp091-go"

	"msgwindow/cmd/internal/window"
)

const subscriberPrefetch = 32

// Subscriber follows one conversation through a private, auto-deleted queue.
type Subscriber struct {
	log            *slog.Logger
	conn           *amqp091.Connection
	exchange       string
	conversationID string
}

var _ window.PushSource = (*Subscriber)(nil)

// NewSubscriber returns a push source for conversationID.
func NewSubscriber(log *slog.Logger, conn *amqp091.Connection, exchange, conversationID string) *Subscriber {
	if log == nil {
		log = slog.Default()
	}
	if exchange == "" {
		exchange = DefaultExchange
	}
	return &Subscriber{
		log:            log.With("conversation_id", conversationID),
		conn:           conn,
		exchange:       exchange,
		conversationID: conversationID,
	}
}

// Subscribe binds a fresh queue and streams decoded changes until ctx is
// canceled or the broker closes the channel. Undecodable deliveries are
// rejected without requeue.
func (s *Subscriber) Subscribe(ctx context.Context) (<-chan window.Change, error) {
	ch, err := s.conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("bus: open channel: %w", err)
	}
	fail := func(step string, err error) (<-chan window.Change, error) {
		_ = ch.Close()
		return nil, fmt.Errorf("bus: %s: %w", step, err)
	}

	if err := declareExchange(ch, s.exchange); err != nil {
		return fail("declare exchange", err)
	}
	if err := ch.Qos(subscriberPrefetch, 0, false); err != nil {
		return fail("qos", err)
	}
	q, err := ch.QueueDeclare("", false, true, true, false, nil)
	if err != nil {
		return fail("declare queue", err)
	}
	key := RoutingKey(s.conversationID)
	if err := ch.QueueBind(q.Name, key, s.exchange, false, nil); err != nil {
		return fail("bind queue", err)
	}
	deliveries, err := ch.ConsumeWithContext(ctx, q.Name, "", false, true, false, false, nil)
	if err != nil {
		return fail("consume", err)
	}
	s.log.Info("bus.subscribe.ok", "queue", q.Name, "key", key)

	out := make(chan window.Change, subscriberPrefetch)
	go func() {
		defer close(out)
		defer func() { _ = ch.Close() }()

		for {
			select {
			case <-ctx.Done():
				return
			case d, ok := <-deliveries:
				if !ok {
					s.log.Info("bus.subscribe.closed")
					return
				}
				change, err := decodeChange(d.Body)
				if err != nil {
					s.log.Warn("bus.delivery.reject", "message_id", d.MessageId, "err", err)
					_ = d.Nack(false, false)
					continue
				}
				select {
				case out <- change:
					_ = d.Ack(false)
				case <-ctx.Done():
					_ = d.Nack(false, true)
					return
				}
			}
		}
	}()
	return out, nil
}
