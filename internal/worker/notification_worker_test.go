package worker_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/gearlog/ticket-service/internal/domain"
	"github.com/gearlog/ticket-service/internal/events"
	"github.com/gearlog/ticket-service/internal/repository/memstore"
	"github.com/gearlog/ticket-service/internal/service"
	"github.com/gearlog/ticket-service/internal/worker"
)

type recordingInvalidator struct {
	keys [][]string
	err  error
}

func (r *recordingInvalidator) Invalidate(_ context.Context, keys ...string) error {
	r.keys = append(r.keys, keys)
	return r.err
}

type recordingBroker struct {
	mu     sync.Mutex
	events []events.Event
	err    error
}

func (b *recordingBroker) Publish(_ context.Context, event events.Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, event)
	return b.err
}

func (b *recordingBroker) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.events)
}

type recordingWebhook struct {
	mu      sync.Mutex
	events  []events.Event
	err     error
	release chan struct{}
}

func (w *recordingWebhook) Send(ctx context.Context, event events.Event) error {
	if w.release != nil {
		select {
		case <-w.release:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.events = append(w.events, event)
	return w.err
}

func (w *recordingWebhook) Types() []events.EventType {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]events.EventType, 0, len(w.events))
	for _, e := range w.events {
		out = append(out, e.Type)
	}
	return out
}

func startWorker(t *testing.T, svc *service.NotificationService) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	worker.StartNotificationWorker(ctx, svc)
	t.Cleanup(func() {
		cancel()
		select {
		case <-svc.Done():
		case <-time.After(5 * time.Second):
			t.Error("notification worker did not stop")
		}
	})
}

func TestCacheInvalidation_CompanyAndGlobalKeys(t *testing.T) {
	dispatcher := events.NewInMemoryDispatcher(nil)
	cache := &recordingInvalidator{}
	worker.StartCacheInvalidation(dispatcher, cache, nil)
	company := "acme"

	require.NoError(t, dispatcher.Publish(context.Background(), events.Event{Type: events.EventTicketCreated, CompanyID: &company}))
	require.NoError(t, dispatcher.Publish(context.Background(), events.Event{Type: events.EventTicketDeleted}))

	assert.Equal(t, [][]string{{"all", "company:acme"}, {"all"}}, cache.keys)
}

func TestCacheInvalidation_FailureIsLogged(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	dispatcher := events.NewInMemoryDispatcher(nil)
	worker.StartCacheInvalidation(dispatcher, &recordingInvalidator{err: errors.New("redis down")}, zap.New(core))

	err := dispatcher.Publish(context.Background(), events.Event{Type: events.EventTicketUpdated})

	require.NoError(t, err)
	assert.Equal(t, 1, logs.FilterMessage("dashboard cache invalidation failed").Len())
}

func TestNotificationWorker_ForwardsEveryEvent(t *testing.T) {
	dispatcher := events.NewInMemoryDispatcher(nil)
	broker := &recordingBroker{}
	webhook := &recordingWebhook{}
	startWorker(t, service.NewNotificationService(service.NotificationDependencies{
		Dispatcher: dispatcher,
		Broker:     broker,
		Webhook:    webhook,
	}))

	for _, eventType := range events.AllTicketEvents {
		require.NoError(t, dispatcher.Publish(context.Background(), events.Event{Type: eventType, TicketID: "t1"}))
	}

	assert.Eventually(t, func() bool {
		return broker.Len() == len(events.AllTicketEvents) && len(webhook.Types()) == len(events.AllTicketEvents)
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, events.AllTicketEvents, webhook.Types())
}

func TestNotificationWorker_DeliveryFailuresAreSwallowed(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	dispatcher := events.NewInMemoryDispatcher(nil)
	webhook := &recordingWebhook{}
	startWorker(t, service.NewNotificationService(service.NotificationDependencies{
		Dispatcher: dispatcher,
		Broker:     &recordingBroker{err: errors.New("nats down")},
		Webhook:    webhook,
		Logger:     zap.New(core),
	}))

	err := dispatcher.Publish(context.Background(), events.Event{Type: events.EventTicketAssigned, TicketID: "t1"})

	require.NoError(t, err)
	assert.Eventually(t, func() bool {
		return len(webhook.Types()) == 1 && logs.FilterMessage("broker publish failed").Len() == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestNotificationWorker_SlowWebhookDoesNotDelayMutation(t *testing.T) {
	company := "company-a"
	assignee := "user-a2"
	store := memstore.New()
	store.AddUser(domain.User{ID: "user-a1", CompanyID: &company, Name: "Ana Opener", Email: "ana@a.test"})
	store.AddUser(domain.User{ID: "user-a2", CompanyID: &company, Name: "Tom Tech", Email: "tom@a.test"})

	dispatcher := events.NewInMemoryDispatcher(nil)
	webhook := &recordingWebhook{release: make(chan struct{})}
	startWorker(t, service.NewNotificationService(service.NotificationDependencies{
		Dispatcher:      dispatcher,
		Webhook:         webhook,
		DeliveryTimeout: 10 * time.Second,
	}))
	tickets := service.NewTicketService(service.TicketDependencies{
		Store:      store,
		Dispatcher: dispatcher,
	})

	started := time.Now()
	ticket, err := tickets.CreateTicket(context.Background(),
		domain.Actor{UserID: "user-a1", CompanyID: &company},
		service.TicketCreateInput{
			Title:       "Dock not charging",
			Description: "USB-C dock stopped charging the laptop",
			Priority:    domain.TicketPriorityHigh,
			Type:        domain.TicketTypeMaintenance,
			AssignedTo:  &assignee,
		})
	elapsed := time.Since(started)

	require.NoError(t, err)
	require.NotNil(t, ticket)
	assert.Less(t, elapsed, time.Second)
	assert.Empty(t, webhook.Types())

	close(webhook.release)
	assert.Eventually(t, func() bool {
		return len(webhook.Types()) == 2
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, []events.EventType{events.EventTicketCreated, events.EventTicketAssigned}, webhook.Types())
}

func TestNotificationWorker_CancelFlushesQueuedEvents(t *testing.T) {
	dispatcher := events.NewInMemoryDispatcher(nil)
	webhook := &recordingWebhook{}
	svc := service.NewNotificationService(service.NotificationDependencies{
		Dispatcher: dispatcher,
		Webhook:    webhook,
	})
	svc.RegisterHandlers()
	for _, id := range []string{"t1", "t2", "t3"} {
		require.NoError(t, dispatcher.Publish(context.Background(), events.Event{Type: events.EventTicketUpdated, TicketID: id}))
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	svc.Run(ctx)

	assert.Len(t, webhook.Types(), 3)
	select {
	case <-svc.Done():
	default:
		t.Fatal("Done not closed after Run returned")
	}
}

func TestNotificationWorker_FullQueueDropsEvent(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	dispatcher := events.NewInMemoryDispatcher(nil)
	webhook := &recordingWebhook{}
	svc := service.NewNotificationService(service.NotificationDependencies{
		Dispatcher: dispatcher,
		Webhook:    webhook,
		Logger:     zap.New(core),
		QueueSize:  1,
	})
	svc.RegisterHandlers()

	require.NoError(t, dispatcher.Publish(context.Background(), events.Event{Type: events.EventTicketCreated, TicketID: "t1"}))
	require.NoError(t, dispatcher.Publish(context.Background(), events.Event{Type: events.EventTicketUpdated, TicketID: "t1"}))

	assert.Equal(t, 1, logs.FilterMessage("notification queue full, event dropped").Len())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	svc.Run(ctx)
	assert.Equal(t, []events.EventType{events.EventTicketCreated}, webhook.Types())
}

func TestNotificationWorker_NilServiceIsNoop(t *testing.T) {
	assert.NotPanics(t, func() { worker.StartNotificationWorker(context.Background(), nil) })
}
