package middleware

import (
	"log/slog"
	"slices"
	"strings"

	"github.com/gofiber/fiber/v2"
)

const (
	localUserID    = "user_id"
	localUserRoles = "user_roles"
)

// UserContextMiddleware reads the identity the gateway forwards in X-User-ID
// and X-User-Roles. Requests without a user id are rejected.
func UserContextMiddleware(log *slog.Logger) fiber.Handler {
	log = log.With("component", "user_context")
	return func(c *fiber.Ctx) error {
		userID := strings.TrimSpace(c.Get("X-User-ID"))
		if userID == "" {
			log.Warn("X-User-ID required but missing", "path", c.Path())
			return unauthorized(c, "missing X-User-ID: request must come through gateway with auth context")
		}

		var roles []string
		for _, r := range strings.Split(c.Get("X-User-Roles"), ",") {
			if r = strings.TrimSpace(r); r != "" {
				roles = append(roles, r)
			}
		}

		c.Locals(localUserID, userID)
		c.Locals(localUserRoles, roles)
		return c.Next()
	}
}

// RequireRole rejects callers that lack role. Run it after UserContextMiddleware.
func RequireRole(role string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if !slices.Contains(UserRoles(c), role) {
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
				"error": "requires role " + role,
				"kind":  "unauthorized",
			})
		}
		return c.Next()
	}
}

// UserID returns the caller set by UserContextMiddleware.
func UserID(c *fiber.Ctx) string {
	id, _ := c.Locals(localUserID).(string)
	return id
}

// UserRoles returns the caller's roles set by UserContextMiddleware.
func UserRoles(c *fiber.Ctx) []string {
	roles, _ := c.Locals(localUserRoles).([]string)
	return roles
}
