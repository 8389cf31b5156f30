package handlers

import (
	"errors"
	"log/slog"

	"member-progression/services"

	"github.com/gofiber/fiber/v2"
)

type errorKind struct {
	kind   error
	status int
	name   string
}

var errorKinds = []errorKind{
	{services.ErrValidation, fiber.StatusBadRequest, "validation"},
	{services.ErrNotFound, fiber.StatusNotFound, "not_found"},
	{services.ErrAlreadyCompleted, fiber.StatusConflict, "already_completed"},
	{services.ErrAlreadyClaimed, fiber.StatusConflict, "already_claimed"},
	{services.ErrNotCompleted, fiber.StatusConflict, "not_completed"},
	{services.ErrDuplicateCheckIn, fiber.StatusConflict, "duplicate_check_in"},
	{services.ErrUnauthorized, fiber.StatusUnauthorized, "unauthorized"},
	{services.ErrUnavailable, fiber.StatusServiceUnavailable, "unavailable"},
}

// ErrorHandler renders errors as {"error", "kind"}. Server-side failures are
// logged and their details withheld from the client.
func ErrorHandler(log *slog.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		var fe *fiber.Error
		if errors.As(err, &fe) {
			name := "internal"
			switch {
			case fe.Code == fiber.StatusNotFound:
				name = "not_found"
			case fe.Code < fiber.StatusInternalServerError:
				name = "validation"
			}
			return c.Status(fe.Code).JSON(fiber.Map{"error": fe.Message, "kind": name})
		}

		for _, k := range errorKinds {
			if !errors.Is(err, k.kind) {
				continue
			}
			msg := err.Error()
			var se *services.Error
			if errors.As(err, &se) {
				msg = se.Message
			}
			if k.status >= fiber.StatusInternalServerError {
				log.Error("request failed", "method", c.Method(), "path", c.Path(), "error", err)
				msg = "service temporarily unavailable"
			}
			return c.Status(k.status).JSON(fiber.Map{"error": msg, "kind": k.name})
		}

		log.Error("unhandled error", "method", c.Method(), "path", c.Path(), "error", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "internal server error",
			"kind":  "internal",
		})
	}
}

func badRequest(msg string) error {
	return fiber.NewError(fiber.StatusBadRequest, msg)
}
