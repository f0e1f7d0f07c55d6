package services

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	domain "github.com/hanko-field/storefront/internal/domain"
)

func TestNotificationDispatcher_RendersAndSends(t *testing.T) {
	notifier := &recordingNotifier{}
	dispatcher, err := NewNotificationDispatcher(NotificationDispatcherDeps{Notifier: notifier})
	if err != nil {
		t.Fatalf("new dispatcher: %v", err)
	}
	order := Order{ID: "ord_1", OrderNumber: "MG5X-AAAAA", CustomerName: "Ana", CustomerEmail: "ana@example.com", Total: 123450, Currency: "INR"}

	dispatcher.Dispatch(context.Background(), NotificationEvent{Kind: NotificationOrderPaid, Order: order})
	dispatcher.Dispatch(context.Background(), NotificationEvent{
		Kind:           NotificationOrderStatusChanged,
		Order:          Order{ID: "ord_2", OrderNumber: "MG5X-BBBBB", CustomerPhone: "+91 98765 43210"},
		PreviousStatus: string(domain.OrderStatusPending),
		CurrentStatus:  string(domain.OrderStatusShipped),
	})
	if err := dispatcher.Wait(context.Background()); err != nil {
		t.Fatalf("wait: %v", err)
	}

	if len(notifier.messages) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(notifier.messages))
	}
	byOrder := map[string]NotificationMessage{}
	for _, msg := range notifier.messages {
		byOrder[msg.OrderID] = msg
	}
	paid := byOrder["ord_1"]
	if paid.Channel != ChannelEmail || paid.Recipient != "ana@example.com" {
		t.Fatalf("unexpected routing %+v", paid)
	}
	if !strings.Contains(paid.Body, "1234.50") || !strings.Contains(paid.Subject, "MG5X-AAAAA") {
		t.Fatalf("unexpected rendering %q / %q", paid.Subject, paid.Body)
	}
	status := byOrder["ord_2"]
	if status.Channel != ChannelWhatsApp || !strings.Contains(status.Body, "from pending to shipped") {
		t.Fatalf("unexpected status message %+v", status)
	}
}

func TestNotificationDispatcher_FailuresAreLoggedNotReturned(t *testing.T) {
	var (
		mu     sync.Mutex
		events []string
	)
	dispatcher, err := NewNotificationDispatcher(NotificationDispatcherDeps{
		Notifier: NotifierFunc(func(context.Context, NotificationMessage) error { return errors.New("smtp down") }),
		Logger: func(_ context.Context, event string, _ map[string]any) {
			mu.Lock()
			events = append(events, event)
			mu.Unlock()
		},
	})
	if err != nil {
		t.Fatalf("new dispatcher: %v", err)
	}

	dispatcher.Dispatch(context.Background(), NotificationEvent{Kind: NotificationOrderCreated, Order: Order{ID: "ord_1", CustomerEmail: "a@example.com"}})
	if err := dispatcher.Wait(context.Background()); err != nil {
		t.Fatalf("wait: %v", err)
	}
	if len(events) != 1 || events[0] != "notification.dispatch.failed" {
		t.Fatalf("expected failure log, got %v", events)
	}
}

func TestNotificationDispatcher_DetachesFromCallerCancellation(t *testing.T) {
	delivered := make(chan error, 1)
	dispatcher, err := NewNotificationDispatcher(NotificationDispatcherDeps{
		Notifier: NotifierFunc(func(ctx context.Context, _ NotificationMessage) error {
			time.Sleep(20 * time.Millisecond)
			delivered <- ctx.Err()
			return nil
		}),
		Timeout: time.Second,
	})
	if err != nil {
		t.Fatalf("new dispatcher: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	dispatcher.Dispatch(ctx, NotificationEvent{Kind: NotificationOrderCreated, Order: Order{ID: "ord_1", CustomerEmail: "a@example.com"}})
	cancel()

	if err := <-delivered; err != nil {
		t.Fatalf("send context must outlive the request, got %v", err)
	}
}

func TestNotificationDispatcher_SkipsWithoutRecipient(t *testing.T) {
	notifier := &recordingNotifier{}
	dispatcher, _ := NewNotificationDispatcher(NotificationDispatcherDeps{Notifier: notifier})

	dispatcher.Dispatch(context.Background(), NotificationEvent{Kind: NotificationOrderCreated, Order: Order{ID: "ord_1"}})
	dispatcher.Dispatch(context.Background(), NotificationEvent{Kind: "unknown", Order: Order{ID: "ord_1", CustomerEmail: "a@example.com"}})
	_ = dispatcher.Wait(context.Background())

	if len(notifier.messages) != 0 {
		t.Fatalf("expected nothing sent, got %d", len(notifier.messages))
	}
}
