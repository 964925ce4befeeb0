package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	httptransport "github.com/gearlog/ticket-service/internal/api/http"
	"github.com/gearlog/ticket-service/internal/api/http/handlers"
	"github.com/gearlog/ticket-service/internal/auth"
	"github.com/gearlog/ticket-service/internal/cache"
	"github.com/gearlog/ticket-service/internal/config"
	"github.com/gearlog/ticket-service/internal/events"
	"github.com/gearlog/ticket-service/internal/notify"
	"github.com/gearlog/ticket-service/internal/observability"
	"github.com/gearlog/ticket-service/internal/persistence"
	"github.com/gearlog/ticket-service/internal/repository"
	"github.com/gearlog/ticket-service/internal/service"
	"github.com/gearlog/ticket-service/internal/sla"
	"github.com/gearlog/ticket-service/internal/tenancy"
	"github.com/gearlog/ticket-service/internal/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.Logger, cfg.App.Debug)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	location, err := cfg.Compliance.Location()
	if err != nil {
		logger.Fatal("invalid compliance timezone", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pg, err := persistence.NewPostgres(ctx, cfg.Postgres, logger)
	if err != nil {
		logger.Fatal("failed to connect postgres", zap.Error(err))
	}
	defer pg.Close()

	if cfg.Postgres.RunMigrations {
		if err := persistence.RunMigrations(ctx, pg.PoolHandle(), cfg.Postgres.MigrationsDir, logger); err != nil {
			logger.Fatal("failed to run migrations", zap.Error(err))
		}
	}

	redis := persistence.NewRedis(ctx, cfg.Redis, logger)
	defer redis.Close()

	broker, err := persistence.NewNATS(cfg.NATS, logger)
	if err != nil {
		logger.Fatal("failed to connect nats", zap.Error(err))
	}
	defer broker.Close()

	store := repository.NewPostgresStore(pg.PoolHandle())
	policy := sla.NewPolicy(cfg.SLA.Table(), cfg.SLA.AtRiskRatio)
	clock := service.SystemClock
	dispatcher := events.NewInMemoryDispatcher(logger)
	dashboardCache := cache.NewDashboardCache(redis.Client, cfg.Compliance.CacheTTL(), logger)

	notifications := service.NotificationDependencies{
		Dispatcher:      dispatcher,
		Logger:          logger,
		DeliveryTimeout: cfg.Notification.WebhookTimeout()*time.Duration(cfg.Notification.WebhookRetries+1) + 5*time.Second,
	}
	if broker.Enabled() {
		notifications.Broker = events.NewNATSPublisher(broker.Conn, cfg.NATS.SubjectPrefix)
	}
	if cfg.Notification.WebhookURL != "" {
		notifications.Webhook = notify.NewWebhookClient(cfg.Notification.WebhookURL,
			cfg.Notification.WebhookTimeout(), cfg.Notification.WebhookRetries, logger)
	}
	workerCtx, stopWorkers := context.WithCancel(context.Background())
	defer stopWorkers()
	notificationService := service.NewNotificationService(notifications)
	worker.StartNotificationWorker(workerCtx, notificationService)
	worker.StartCacheInvalidation(dispatcher, dashboardCache, logger)

	ticketService := service.NewTicketService(service.TicketDependencies{
		Store:        store,
		Policy:       policy,
		Guard:        tenancy.NewGuard(),
		Dispatcher:   dispatcher,
		Clock:        clock,
		Logger:       logger,
		ClosableFrom: cfg.Lifecycle.ClosableFrom,
	})
	complianceService := service.NewComplianceService(service.ComplianceDependencies{
		Store:     store,
		Policy:    policy,
		Clock:     clock,
		Location:  location,
		TrendDays: cfg.Compliance.TrendDays,
		Cache:     dashboardCache,
		Logger:    logger,
	})

	tokens := auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.AccessTokenTTLMinutes)
	authMiddleware := auth.NewAuthMiddleware(tokens, store.Users())

	app := fiber.New(fiber.Config{AppName: cfg.App.Name})
	metrics := observability.NewMetrics()
	httptransport.RegisterMiddlewares(app, httptransport.MiddlewareConfig{
		Logger:  logger,
		Metrics: metrics,
		Timeout: cfg.App.RequestTimeout(),
		Debug:   cfg.App.Debug,
	})

	dependencies := map[string]handlers.Pinger{"postgres": pg, "redis": redis}
	if broker.Enabled() {
		dependencies["nats"] = broker
	}

	httptransport.RegisterRoutes(app, httptransport.RouteConfig{
		Health:         handlers.NewHealthHandler(cfg.App.Name, cfg.App.Version, dependencies),
		Tickets:        handlers.NewTicketsHandler(ticketService),
		Dashboard:      handlers.NewDashboardHandler(complianceService),
		AuthMiddleware: authMiddleware.Handle,
	})

	go func() {
		if err := app.Listen(cfg.App.Addr()); err != nil {
			logger.Fatal("fiber listen", zap.Error(err))
		}
	}()

	waitForShutdown(logger)

	if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
		logger.Warn("shutdown", zap.Error(err))
	}

	stopWorkers()
	select {
	case <-notificationService.Done():
	case <-time.After(15 * time.Second):
		logger.Warn("notification worker did not drain in time")
	}
	logger.Info("request metrics", zap.Any("snapshot", metrics.Snapshot()))
}

func waitForShutdown(logger *zap.Logger) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("shutting down", zap.String("signal", sig.String()))
}
