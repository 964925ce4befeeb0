package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/gearlog/ticket-service/internal/events"
)

const (
	// DefaultNotificationQueueSize bounds events waiting for delivery.
	DefaultNotificationQueueSize = 256
	// DefaultDeliveryTimeout caps broker plus webhook delivery of one event.
	DefaultDeliveryTimeout = 30 * time.Second
)

// WebhookSender delivers an event to an external endpoint.
type WebhookSender interface {
	Send(ctx context.Context, event events.Event) error
}

// NotificationService fans committed ticket events out to the broker and
// the outbound webhook. Subscribed handlers only enqueue; Run delivers.
type NotificationService struct {
	dispatcher      events.Dispatcher
	broker          events.Sink
	webhook         WebhookSender
	logger          *zap.Logger
	queue           chan events.Event
	deliveryTimeout time.Duration
	done            chan struct{}
}

// NotificationDependencies groups the optional outputs. Nil outputs are skipped.
type NotificationDependencies struct {
	Dispatcher      events.Dispatcher
	Broker          events.Sink
	Webhook         WebhookSender
	Logger          *zap.Logger
	QueueSize       int
	DeliveryTimeout time.Duration
}

// NewNotificationService creates the service.
func NewNotificationService(deps NotificationDependencies) *NotificationService {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	queueSize := deps.QueueSize
	if queueSize <= 0 {
		queueSize = DefaultNotificationQueueSize
	}
	timeout := deps.DeliveryTimeout
	if timeout <= 0 {
		timeout = DefaultDeliveryTimeout
	}
	return &NotificationService{
		dispatcher:      deps.Dispatcher,
		broker:          deps.Broker,
		webhook:         deps.Webhook,
		logger:          logger,
		queue:           make(chan events.Event, queueSize),
		deliveryTimeout: timeout,
		done:            make(chan struct{}),
	}
}

// RegisterHandlers subscribes to every ticket event.
func (n *NotificationService) RegisterHandlers() {
	if n.dispatcher == nil {
		return
	}
	for _, eventType := range events.AllTicketEvents {
		n.dispatcher.Subscribe(eventType, n.enqueue)
	}
}

// enqueue never blocks the publishing mutation. A full queue drops the event.
func (n *NotificationService) enqueue(_ context.Context, event events.Event) error {
	select {
	case n.queue <- event:
	default:
		n.logger.Warn("notification queue full, event dropped",
			zap.String("event_id", event.ID),
			zap.String("event_type", string(event.Type)),
			zap.String("ticket_id", event.TicketID))
	}
	return nil
}

// Run delivers queued events until ctx is cancelled, then flushes whatever
// is still queued and closes Done.
func (n *NotificationService) Run(ctx context.Context) {
	defer close(n.done)
	for {
		select {
		case event := <-n.queue:
			n.deliver(event)
		case <-ctx.Done():
			n.flush()
			return
		}
	}
}

// Done is closed once Run has returned.
func (n *NotificationService) Done() <-chan struct{} {
	return n.done
}

func (n *NotificationService) flush() {
	for {
		select {
		case event := <-n.queue:
			n.deliver(event)
		default:
			return
		}
	}
}

// deliver never fails: delivery problems are logged and the event is dropped.
func (n *NotificationService) deliver(event events.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), n.deliveryTimeout)
	defer cancel()

	fields := []zap.Field{
		zap.String("event_id", event.ID),
		zap.String("event_type", string(event.Type)),
		zap.String("ticket_id", event.TicketID),
	}
	n.logger.Info("ticket event", fields...)

	if n.broker != nil {
		if err := n.broker.Publish(ctx, event); err != nil {
			n.logger.Warn("broker publish failed", append(fields, zap.Error(err))...)
		}
	}
	if n.webhook != nil {
		if err := n.webhook.Send(ctx, event); err != nil {
			n.logger.Warn("webhook delivery failed", append(fields, zap.Error(err))...)
		}
	}
}
