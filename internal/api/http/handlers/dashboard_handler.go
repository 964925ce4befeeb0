package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/gearlog/ticket-service/internal/service"
)

// DashboardHandler serves SLA compliance reporting.
type DashboardHandler struct {
	service *service.ComplianceService
}

// NewDashboardHandler constructs handler.
func NewDashboardHandler(complianceService *service.ComplianceService) *DashboardHandler {
	return &DashboardHandler{service: complianceService}
}

// Dashboard GET /dashboard. ?all_tenants=true requests the cross-tenant view.
func (h *DashboardHandler) Dashboard(c *fiber.Ctx) error {
	actor, err := requireActor(c)
	if err != nil {
		return err
	}
	dashboard, err := h.service.Dashboard(c.UserContext(), actor, c.QueryBool("all_tenants", false))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dashboard})
}
