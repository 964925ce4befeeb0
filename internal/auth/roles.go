package auth

import (
	"github.com/gofiber/fiber/v2"

	"github.com/gearlog/ticket-service/internal/domain"
	apperrors "github.com/gearlog/ticket-service/pkg/util/errorutil"
)

// RequireActor ensures the request carries an authenticated caller.
func RequireActor() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if _, ok := ActorFromContext(c); !ok {
			return apperrors.NewUnauthorized("authentication required")
		}
		return c.Next()
	}
}

// RequireCapability ensures the caller holds one of the allowed capabilities.
func RequireCapability(allowed ...domain.Capability) fiber.Handler {
	return func(c *fiber.Ctx) error {
		actor, ok := ActorFromContext(c)
		if !ok {
			return apperrors.NewUnauthorized("authentication required")
		}
		for _, capability := range allowed {
			if actor.Can(capability) {
				return c.Next()
			}
		}
		return apperrors.NewForbidden("insufficient capability")
	}
}
