package handlers

import (
	"member-progression/middleware"
	"member-progression/services"

	"github.com/gofiber/fiber/v2"
)

func SetupStreakRoutes(r Routers, streaks *services.StreakTracker) {
	r.Public.Get("/leaderboard/streaks", func(c *fiber.Ctx) error {
		by := services.StreakBoard(c.Query("by", string(services.StreakBoardCurrent)))
		entries, err := streaks.Leaderboard(c.UserContext(), by, c.QueryInt("limit", 20))
		if err != nil {
			return err
		}
		return c.JSON(fiber.Map{"by": by, "entries": entries})
	})

	r.Secured.Get("/streak", func(c *fiber.Ctx) error {
		view, err := streaks.GetStreak(c.UserContext(), middleware.UserID(c))
		if err != nil {
			return err
		}
		return c.JSON(view)
	})

	r.Secured.Get("/streak/history", func(c *fiber.Ctx) error {
		days := c.QueryInt("days", 30)
		history, err := streaks.History(c.UserContext(), middleware.UserID(c), days)
		if err != nil {
			return err
		}
		return c.JSON(fiber.Map{"days": history})
	})

	r.Secured.Post("/streak/check-in", func(c *fiber.Ctx) error {
		res, err := streaks.CheckIn(c.UserContext(), middleware.UserID(c))
		if err != nil {
			return err
		}
		return c.JSON(res)
	})
}
