package worker

import (
	"context"

	"go.uber.org/zap"

	"github.com/gearlog/ticket-service/internal/events"
	"github.com/gearlog/ticket-service/internal/repository"
	"github.com/gearlog/ticket-service/internal/service"
)

// CacheInvalidator drops cached entries by tenant scope key.
type CacheInvalidator interface {
	Invalidate(ctx context.Context, scopeKeys ...string) error
}

// StartNotificationWorker registers notification handlers and starts the
// delivery loop. Cancelling ctx stops it after the queue is flushed; wait on
// the service's Done channel to observe that.
func StartNotificationWorker(ctx context.Context, notificationService *service.NotificationService) {
	if notificationService == nil {
		return
	}
	notificationService.RegisterHandlers()
	go notificationService.Run(ctx)
}

// StartCacheInvalidation drops the owning company's and the cross-tenant
// dashboard entries whenever a ticket changes.
func StartCacheInvalidation(dispatcher events.Dispatcher, cache CacheInvalidator, logger *zap.Logger) {
	if dispatcher == nil || cache == nil {
		return
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	handler := func(ctx context.Context, event events.Event) error {
		keys := []string{repository.AllTenants().Key()}
		if event.CompanyID != nil && *event.CompanyID != "" {
			keys = append(keys, repository.ForCompany(*event.CompanyID).Key())
		}
		if err := cache.Invalidate(ctx, keys...); err != nil {
			logger.Warn("dashboard cache invalidation failed",
				zap.String("event_type", string(event.Type)),
				zap.String("ticket_id", event.TicketID),
				zap.Error(err))
		}
		return nil
	}
	for _, eventType := range events.AllTicketEvents {
		dispatcher.Subscribe(eventType, handler)
	}
}
