package handlers

import (
	"member-progression/middleware"
	"member-progression/models"
	"member-progression/services"

	"github.com/gofiber/fiber/v2"
)

func SetupChallengeRoutes(r Routers, engine *services.ChallengeEngine) {
	r.Public.Get("/challenges", func(c *fiber.Ctx) error {
		list, err := engine.ActiveChallenges(c.UserContext(), models.ChallengeType(c.Query("type")))
		if err != nil {
			return err
		}
		return c.JSON(fiber.Map{"challenges": list})
	})

	r.Secured.Get("/challenges/progress", func(c *fiber.Ctx) error {
		views, err := engine.UserProgress(c.UserContext(), middleware.UserID(c), models.ChallengeType(c.Query("type")))
		if err != nil {
			return err
		}
		return c.JSON(fiber.Map{"challenges": views})
	})

	r.Secured.Get("/challenges/stats", func(c *fiber.Ctx) error {
		stats, err := engine.Stats(c.UserContext(), middleware.UserID(c))
		if err != nil {
			return err
		}
		return c.JSON(stats)
	})

	r.Secured.Post("/challenges/:id/claim", func(c *fiber.Ctx) error {
		res, err := engine.ClaimReward(c.UserContext(), middleware.UserID(c), c.Params("id"))
		if err != nil {
			return err
		}
		if res.CreditPending {
			return c.Status(fiber.StatusAccepted).JSON(res)
		}
		return c.JSON(res)
	})

	r.Admin.Post("/challenges", func(c *fiber.Ctx) error {
		var in services.ChallengeInput
		if err := c.BodyParser(&in); err != nil {
			return badRequest("invalid request body")
		}
		in.CreatedBy = middleware.UserID(c)
		ch, err := engine.CreateChallenge(c.UserContext(), in)
		if err != nil {
			return err
		}
		return c.Status(fiber.StatusCreated).JSON(ch)
	})

	r.Internal.Post("/actions", func(c *fiber.Ctx) error {
		var report services.ActionReport
		if err := c.BodyParser(&report); err != nil {
			return badRequest("invalid request body")
		}
		updates, err := engine.ReportAction(c.UserContext(), report)
		if err != nil {
			return err
		}
		return c.JSON(fiber.Map{"updates": updates})
	})
}
