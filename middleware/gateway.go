package middleware

import (
	"crypto/subtle"
	"log/slog"
	"strings"

	"github.com/gofiber/fiber/v2"
)

// GatewayAuthMiddleware only lets through requests carrying the gateway's
// service token, as "Bearer <token>" or the raw value.
func GatewayAuthMiddleware(expectedToken string, log *slog.Logger) fiber.Handler {
	log = log.With("component", "gateway_auth")
	expected := []byte(expectedToken)

	return func(c *fiber.Ctx) error {
		authHeader := c.Get(fiber.HeaderAuthorization)
		if authHeader == "" {
			log.Warn("missing authorization header", "path", c.Path())
			return unauthorized(c, "gateway authentication token missing")
		}

		token := strings.TrimPrefix(authHeader, "Bearer ")
		if len(expected) == 0 || subtle.ConstantTimeCompare([]byte(token), expected) != 1 {
			log.Warn("invalid gateway token", "path", c.Path())
			return unauthorized(c, "invalid gateway authentication token")
		}
		return c.Next()
	}
}

func unauthorized(c *fiber.Ctx, msg string) error {
	return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
		"error": msg,
		"kind":  "unauthorized",
	})
}
