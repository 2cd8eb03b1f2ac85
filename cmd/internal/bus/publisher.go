package bus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rabbitmq/amqp091-go"

	v1 "msgwindow/shared/contracts/realtime/v1"
)

// Publisher sends message changes to the exchange. It satisfies the
// gateway's change notifier.
type Publisher struct {
	log      *slog.Logger
	conn     *amqp091.Connection
	exchange string

	mu sync.Mutex
	ch *amqp091.Channel
}

// NewPublisher declares the exchange on conn.
func NewPublisher(log *slog.Logger, conn *amqp091.Connection, exchange string) (*Publisher, error) {
	if log == nil {
		log = slog.Default()
	}
	if exchange == "" {
		exchange = DefaultExchange
	}
	p := &Publisher{log: log, conn: conn, exchange: exchange}
	if _, err := p.channel(); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *Publisher) channel() (*amqp091.Channel, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.ch != nil && !p.ch.IsClosed() {
		return p.ch, nil
	}
	ch, err := p.conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("bus: open channel: %w", err)
	}
	if err := declareExchange(ch, p.exchange); err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("bus: declare exchange %s: %w", p.exchange, err)
	}
	p.ch = ch
	return ch, nil
}

// PublishChange publishes one change under the conversation's routing key.
func (p *Publisher) PublishChange(ctx context.Context, change v1.MessageChangedPayload) error {
	convID := change.Message.ConversationID
	if convID == "" {
		return errors.New("bus: change without conversation id")
	}
	body, err := encodeChange(change)
	if err != nil {
		return err
	}
	ch, err := p.channel()
	if err != nil {
		return err
	}

	key := RoutingKey(convID)
	err = ch.PublishWithContext(ctx, p.exchange, key, false, false, amqp091.Publishing{
		ContentType:  contentType,
		DeliveryMode: amqp091.Transient,
		MessageId:    uuid.NewString(),
		Type:         change.ChangeKind,
		Timestamp:    time.Now().UTC(),
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("bus: publish %s: %w", key, err)
	}
	p.log.Debug("bus.publish.ok", "key", key, "message_id", change.Message.ID, "kind", change.ChangeKind)
	return nil
}

// Close releases the channel. The connection is owned by the caller.
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ch == nil {
		return nil
	}
	err := p.ch.Close()
	p.ch = nil
	return err
}
