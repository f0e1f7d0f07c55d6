package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/streadway/amqp"

	"github.com/hanko-field/storefront/internal/services"
)

// AMQPPublisher is the subset of *amqp.Channel used by AMQPNotifier.
type AMQPPublisher interface {
	Publish(exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// AMQPNotifier publishes notifications to a topic exchange. Routing keys take
// the form notification.<channel>.<kind>.
type AMQPNotifier struct {
	exchange  string
	publisher AMQPPublisher
	closer    func() error
	mu        sync.Mutex
}

var _ services.Notifier = (*AMQPNotifier)(nil)

// DialAMQPNotifier connects to the broker and declares a durable topic exchange.
func DialAMQPNotifier(url, exchange string) (*AMQPNotifier, error) {
	url = strings.TrimSpace(url)
	if url == "" {
		return nil, errors.New("amqp notifier: url is required")
	}
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("amqp notifier: dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("amqp notifier: open channel: %w", err)
	}
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("amqp notifier: declare exchange: %w", err)
	}
	notifier, err := NewAMQPNotifier(ch, exchange)
	if err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, err
	}
	notifier.closer = func() error {
		chErr := ch.Close()
		connErr := conn.Close()
		return errors.Join(chErr, connErr)
	}
	return notifier, nil
}

// NewAMQPNotifier wraps an already configured channel.
func NewAMQPNotifier(publisher AMQPPublisher, exchange string) (*AMQPNotifier, error) {
	if publisher == nil {
		return nil, errors.New("amqp notifier: publisher is required")
	}
	exchange = strings.TrimSpace(exchange)
	if exchange == "" {
		return nil, errors.New("amqp notifier: exchange is required")
	}
	return &AMQPNotifier{exchange: exchange, publisher: publisher}, nil
}

// Notify publishes a persistent JSON message.
func (n *AMQPNotifier) Notify(ctx context.Context, message services.NotificationMessage) error {
	if n == nil || n.publisher == nil {
		return errors.New("amqp notifier: not initialised")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	body, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}

	messageID := strings.TrimSpace(message.ID)
	if messageID == "" {
		messageID = uuid.NewString()
	}
	headers := amqp.Table{}
	for key, value := range messageAttributes(message) {
		headers[key] = value
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	err = n.publisher.Publish(n.exchange, routingKey(message), false, false, amqp.Publishing{
		ContentType:  "application/json",
		Body:         body,
		DeliveryMode: amqp.Persistent,
		MessageId:    messageID,
		Timestamp:    message.CreatedAt,
		Headers:      headers,
	})
	if err != nil {
		return fmt.Errorf("publish notification: %w", err)
	}
	return nil
}

// Close releases the broker connection when the notifier owns it.
func (n *AMQPNotifier) Close() error {
	if n == nil || n.closer == nil {
		return nil
	}
	return n.closer()
}

func routingKey(message services.NotificationMessage) string {
	channel := strings.TrimSpace(message.Channel)
	if channel == "" {
		channel = "unknown"
	}
	return fmt.Sprintf("notification.%s.%s", channel, message.Kind)
}
