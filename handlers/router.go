package handlers

import (
	"log/slog"
	"strings"

	"member-progression/middleware"
	"member-progression/services"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
)

// Services bundles what the routes call.
type Services struct {
	Ledger     *services.XPLedger
	Streaks    *services.StreakTracker
	Challenges *services.ChallengeEngine
	Rewards    *services.RewardDispatcher
}

// Routers splits the API by caller: Public needs only the gateway token,
// Secured a user context, Admin the admin role, Internal is service-to-service.
type Routers struct {
	Public   fiber.Router
	Secured  fiber.Router
	Admin    fiber.Router
	Internal fiber.Router
}

type AppConfig struct {
	GatewayToken   string
	AllowedOrigins []string
	AccessLog      bool
}

// NewApp builds the fiber app with every progression route mounted.
func NewApp(cfg AppConfig, svc Services, log *slog.Logger) *fiber.App {
	app := fiber.New(fiber.Config{
		AppName:      "member-progression",
		ErrorHandler: ErrorHandler(log),
	})

	app.Use(requestid.New())
	app.Use(recover.New())
	if cfg.AccessLog {
		app.Use(logger.New(logger.Config{
			Format: "${time} ${locals:requestid} ${status} ${method} ${path} ${latency}\n",
		}))
	}
	if len(cfg.AllowedOrigins) > 0 {
		app.Use(cors.New(cors.Config{
			AllowOrigins: strings.Join(cfg.AllowedOrigins, ","),
			AllowMethods: "GET,POST,OPTIONS",
			AllowHeaders: "Origin, Content-Type, Accept, Authorization, X-Request-ID, X-User-ID, X-User-Roles",
			MaxAge:       86400,
		}))
	}

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	// Only gateway requests past this point
	app.Use(middleware.GatewayAuthMiddleware(cfg.GatewayToken, log))

	secured := app.Group("/s", middleware.UserContextMiddleware(log))
	r := Routers{
		Public:   app,
		Secured:  secured,
		Admin:    secured.Group("/admin", middleware.RequireRole("admin")),
		Internal: app.Group("/internal"),
	}

	SetupProgressionRoutes(r, svc.Ledger, svc.Rewards)
	SetupStreakRoutes(r, svc.Streaks)
	SetupChallengeRoutes(r, svc.Challenges)
	return app
}
