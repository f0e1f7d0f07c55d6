package services

import (
	"bytes"
	"context"
	"fmt"
	"math"
	"strings"
	"sync"
	"text/template"
	"time"

	"golang.org/x/text/currency"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// NotificationKind names the transition a notification reports.
type NotificationKind string

const (
	NotificationOrderCreated       NotificationKind = "order.created"
	NotificationOrderStatusChanged NotificationKind = "order.status.changed"
	NotificationOrderPaid          NotificationKind = "order.paid"
	NotificationDesignUploaded     NotificationKind = "design.uploaded"
)

const (
	ChannelEmail    = "email"
	ChannelWhatsApp = "whatsapp"

	defaultNotificationTimeout = 10 * time.Second
	notificationIDPrefix       = "ntf_"
)

// NotificationMessage is a rendered customer notification handed to a Notifier.
type NotificationMessage struct {
	ID          string           `json:"id"`
	Kind        NotificationKind `json:"kind"`
	OrderID     string           `json:"orderId"`
	OrderNumber string           `json:"orderNumber"`
	Channel     string           `json:"channel"`
	Recipient   string           `json:"recipient"`
	Subject     string           `json:"subject"`
	Body        string           `json:"body"`
	Locale      string           `json:"locale"`
	CreatedAt   time.Time        `json:"createdAt"`
}

// Notifier delivers rendered notifications to an outbound channel.
type Notifier interface {
	Notify(ctx context.Context, msg NotificationMessage) error
}

// NotifierFunc adapts ordinary functions to Notifier.
type NotifierFunc func(context.Context, NotificationMessage) error

// Notify calls f.
func (f NotifierFunc) Notify(ctx context.Context, msg NotificationMessage) error {
	return f(ctx, msg)
}

// NoopNotifier drops every message.
type NoopNotifier struct{}

func (NoopNotifier) Notify(context.Context, NotificationMessage) error { return nil }

// NotificationEvent is what services hand to the dispatcher after a transition commits.
type NotificationEvent struct {
	Kind           NotificationKind
	Order          Order
	PreviousStatus string
	CurrentStatus  string
	Locale         string
}

// NotificationDispatcherDeps bundles constructor inputs for the dispatcher.
type NotificationDispatcherDeps struct {
	Notifier    Notifier
	Timeout     time.Duration
	Clock       func() time.Time
	IDGenerator func() string
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

// NotificationDispatcher renders and sends notifications in the background. Dispatch never
// blocks or fails the caller.
type NotificationDispatcher struct {
	notifier  Notifier
	timeout   time.Duration
	clock     func() time.Time
	newID     func() string
	logger    func(context.Context, string, map[string]any)
	templates map[NotificationKind]notificationTemplate
	wg        sync.WaitGroup
}

type notificationTemplate struct {
	subject *template.Template
	body    *template.Template
}

var notificationTemplates = map[NotificationKind][2]string{
	NotificationOrderCreated: {
		"Order {{.OrderNumber}} received",
		"Hi {{.CustomerName}}, we received your order {{.OrderNumber}} for {{.Total}}. We will let you know when it ships.",
	},
	NotificationOrderStatusChanged: {
		"Order {{.OrderNumber}} is now {{.Status}}",
		"Hi {{.CustomerName}}, your order {{.OrderNumber}} moved from {{.PreviousStatus}} to {{.Status}}.",
	},
	NotificationOrderPaid: {
		"Payment received for order {{.OrderNumber}}",
		"Hi {{.CustomerName}}, we received your payment of {{.Total}} for order {{.OrderNumber}}.",
	},
	NotificationDesignUploaded: {
		"Your design for order {{.OrderNumber}} is ready",
		"Hi {{.CustomerName}}, a design for your order {{.OrderNumber}} is ready for review. Approve it or request changes from your order page.",
	},
}

// NewNotificationDispatcher parses the message templates and returns a dispatcher. A nil
// Notifier yields a dispatcher that renders but drops every message.
func NewNotificationDispatcher(deps NotificationDispatcherDeps) (*NotificationDispatcher, error) {
	notifier := deps.Notifier
	if notifier == nil {
		notifier = NoopNotifier{}
	}
	timeout := deps.Timeout
	if timeout <= 0 {
		timeout = defaultNotificationTimeout
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	newID := deps.IDGenerator
	if newID == nil {
		newID = newULID
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	templates := make(map[NotificationKind]notificationTemplate, len(notificationTemplates))
	for kind, src := range notificationTemplates {
		subject, err := template.New(string(kind) + ".subject").Parse(src[0])
		if err != nil {
			return nil, fmt.Errorf("notification dispatcher: parse %s subject: %w", kind, err)
		}
		body, err := template.New(string(kind) + ".body").Parse(src[1])
		if err != nil {
			return nil, fmt.Errorf("notification dispatcher: parse %s body: %w", kind, err)
		}
		templates[kind] = notificationTemplate{subject: subject, body: body}
	}

	return &NotificationDispatcher{
		notifier:  notifier,
		timeout:   timeout,
		clock:     func() time.Time { return clock().UTC() },
		newID:     newID,
		logger:    logger,
		templates: templates,
	}, nil
}

// Dispatch renders the event and sends it asynchronously on a context detached from the
// caller's cancellation.
func (d *NotificationDispatcher) Dispatch(ctx context.Context, event NotificationEvent) {
	if d == nil {
		return
	}
	msg, err := d.render(event)
	if err != nil {
		d.logger(ctx, "notification.render.failed", map[string]any{
			"kind":  string(event.Kind),
			"order": event.Order.ID,
			"error": err.Error(),
		})
		return
	}
	if msg.Recipient == "" {
		return
	}

	detached := context.WithoutCancel(ctx)
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		sendCtx, cancel := context.WithTimeout(detached, d.timeout)
		defer cancel()
		if err := d.notifier.Notify(sendCtx, msg); err != nil {
			d.logger(sendCtx, "notification.dispatch.failed", map[string]any{
				"kind":    string(msg.Kind),
				"order":   msg.OrderID,
				"channel": msg.Channel,
				"error":   err.Error(),
			})
		}
	}()
}

// Wait blocks until in-flight dispatches finish or ctx ends.
func (d *NotificationDispatcher) Wait(ctx context.Context) error {
	if d == nil {
		return nil
	}
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *NotificationDispatcher) render(event NotificationEvent) (NotificationMessage, error) {
	tmpl, ok := d.templates[event.Kind]
	if !ok {
		return NotificationMessage{}, fmt.Errorf("unknown notification kind %q", event.Kind)
	}
	order := event.Order
	tag := parseLocale(event.Locale)
	data := map[string]string{
		"OrderNumber":    order.OrderNumber,
		"CustomerName":   firstNonEmpty(order.CustomerName, "there"),
		"Total":          formatMoney(tag, order.Total, order.Currency),
		"Status":         event.CurrentStatus,
		"PreviousStatus": event.PreviousStatus,
	}

	var subject, body bytes.Buffer
	if err := tmpl.subject.Execute(&subject, data); err != nil {
		return NotificationMessage{}, err
	}
	if err := tmpl.body.Execute(&body, data); err != nil {
		return NotificationMessage{}, err
	}

	channel, recipient := ChannelEmail, strings.TrimSpace(order.CustomerEmail)
	if recipient == "" {
		channel, recipient = ChannelWhatsApp, strings.TrimSpace(order.CustomerPhone)
	}
	return NotificationMessage{
		ID:          notificationIDPrefix + d.newID(),
		Kind:        event.Kind,
		OrderID:     order.ID,
		OrderNumber: order.OrderNumber,
		Channel:     channel,
		Recipient:   recipient,
		Subject:     subject.String(),
		Body:        body.String(),
		Locale:      tag.String(),
		CreatedAt:   d.clock(),
	}, nil
}

func parseLocale(raw string) language.Tag {
	if raw = strings.TrimSpace(raw); raw != "" {
		if tag, err := language.Parse(raw); err == nil {
			return tag
		}
	}
	return language.English
}

// formatMoney renders minor units with the currency symbol for the locale. Unknown currencies
// fall back to "<amount> <code>".
func formatMoney(tag language.Tag, minor int64, code string) string {
	unit, err := currency.ParseISO(strings.TrimSpace(code))
	if err != nil {
		return fmt.Sprintf("%d %s", minor, code)
	}
	scale, _ := currency.Standard.Rounding(unit)
	amount := float64(minor) / math.Pow10(scale)
	return message.NewPrinter(tag).Sprint(currency.Symbol(unit.Amount(amount)))
}
