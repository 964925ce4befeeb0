package http

import (
	"github.com/gofiber/fiber/v2"

	"github.com/gearlog/ticket-service/internal/api/http/handlers"
	"github.com/gearlog/ticket-service/internal/auth"
	"github.com/gearlog/ticket-service/internal/domain"
)

// RouteConfig bundles dependencies for route registration.
type RouteConfig struct {
	Health         *handlers.HealthHandler
	Tickets        *handlers.TicketsHandler
	Dashboard      *handlers.DashboardHandler
	AuthMiddleware fiber.Handler
}

// RegisterRoutes wires HTTP routes.
func RegisterRoutes(app *fiber.App, cfg RouteConfig) {
	app.Get("/health/live", cfg.Health.Live)
	app.Get("/health/ready", cfg.Health.Ready)

	protected := app.Group("", cfg.AuthMiddleware, auth.RequireActor())

	tickets := protected.Group("/tickets")
	tickets.Post("/", cfg.Tickets.CreateTicket)
	tickets.Get("/", cfg.Tickets.ListTickets)
	tickets.Get("/:id", cfg.Tickets.GetTicket)
	tickets.Patch("/:id", cfg.Tickets.UpdateTicket)
	tickets.Delete("/:id", auth.RequireCapability(domain.CapabilityAdmin, domain.CapabilitySuperAdmin), cfg.Tickets.DeleteTicket)
	tickets.Post("/:id/status", cfg.Tickets.UpdateStatus)
	tickets.Post("/:id/assign", cfg.Tickets.Assign)
	tickets.Post("/:id/assign-employee", cfg.Tickets.AssignEmployee)
	tickets.Post("/:id/comments", cfg.Tickets.AddComment)
	tickets.Get("/:id/comments", cfg.Tickets.ListComments)
	tickets.Get("/:id/logs", cfg.Tickets.ListLogs)
	tickets.Get("/:id/sla", cfg.Tickets.SLAStatus)

	protected.Get("/dashboard", cfg.Dashboard.Dashboard)
}
