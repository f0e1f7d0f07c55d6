package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"cloud.google.com/go/pubsub"

	"github.com/hanko-field/storefront/internal/platform/textutil"
	"github.com/hanko-field/storefront/internal/services"
)

// PubSubNotifier publishes rendered notifications to a Pub/Sub topic for the delivery workers.
type PubSubNotifier struct {
	topic   *pubsub.Topic
	marshal func(any) ([]byte, error)
}

var _ services.Notifier = (*PubSubNotifier)(nil)

// NewPubSubNotifier constructs a Pub/Sub backed notifier.
func NewPubSubNotifier(topic *pubsub.Topic) (*PubSubNotifier, error) {
	if topic == nil {
		return nil, errors.New("pubsub notifier: topic is required")
	}
	return &PubSubNotifier{
		topic:   topic,
		marshal: json.Marshal,
	}, nil
}

// Notify publishes the message and waits for the server acknowledgement.
func (p *PubSubNotifier) Notify(ctx context.Context, message services.NotificationMessage) error {
	if p == nil || p.topic == nil {
		return errors.New("pubsub notifier: not initialised")
	}

	data, err := p.marshal(message)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}

	result := p.topic.Publish(ctx, &pubsub.Message{
		Data:       data,
		Attributes: messageAttributes(message),
	})
	if _, err := result.Get(ctx); err != nil {
		return fmt.Errorf("publish notification: %w", err)
	}
	return nil
}

func messageAttributes(message services.NotificationMessage) map[string]string {
	return textutil.BoundStringMap(map[string]string{
		"notificationId": message.ID,
		"kind":           string(message.Kind),
		"channel":        message.Channel,
		"orderId":        message.OrderID,
		"orderNumber":    message.OrderNumber,
	}, textutil.MessageAttributeLimits)
}
