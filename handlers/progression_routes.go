package handlers

import (
	"fmt"
	"time"

	"member-progression/middleware"
	"member-progression/models"
	"member-progression/services"

	"github.com/gofiber/fiber/v2"
)

type creditXPRequest struct {
	UserID      string          `json:"user_id"`
	Amount      int64           `json:"amount"`
	Source      models.XPSource `json:"source"`
	SourceID    string          `json:"source_id"`
	Description string          `json:"description"`
	Multiplier  float64         `json:"multiplier"`
	Once        bool            `json:"once"`
}

type userRequest struct {
	UserID string `json:"user_id"`
}

type achievementRequest struct {
	UserID        string `json:"user_id"`
	AchievementID string `json:"achievement_id"`
	Tier          string `json:"tier"`
}

// parseTimeQuery accepts RFC 3339 instants or plain YYYY-MM-DD dates (UTC midnight).
func parseTimeQuery(c *fiber.Ctx, key string) (*time.Time, error) {
	raw := c.Query(key)
	if raw == "" {
		return nil, nil
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02"} {
		if t, err := time.Parse(layout, raw); err == nil {
			return &t, nil
		}
	}
	return nil, badRequest(fmt.Sprintf("%s must be RFC 3339 or YYYY-MM-DD", key))
}

func SetupProgressionRoutes(r Routers, ledger *services.XPLedger, rewards *services.RewardDispatcher) {
	r.Public.Get("/levels/:level", func(c *fiber.Ctx) error {
		level, err := c.ParamsInt("level")
		if err != nil {
			return badRequest("level must be an integer")
		}
		info, err := ledger.LevelInfo(level)
		if err != nil {
			return err
		}
		return c.JSON(info)
	})

	r.Public.Get("/leaderboard", func(c *fiber.Ctx) error {
		page, err := ledger.GetLeaderboard(c.UserContext(), c.QueryInt("page", 1), c.QueryInt("limit", 20))
		if err != nil {
			return err
		}
		return c.JSON(page)
	})

	r.Secured.Get("/xp", func(c *fiber.Ctx) error {
		view, err := ledger.GetAccount(c.UserContext(), middleware.UserID(c))
		if err != nil {
			return err
		}
		return c.JSON(view)
	})

	r.Secured.Get("/xp/rank", func(c *fiber.Ctx) error {
		rank, err := ledger.GetRank(c.UserContext(), middleware.UserID(c))
		if err != nil {
			return err
		}
		return c.JSON(rank)
	})

	r.Secured.Get("/xp/history", func(c *fiber.Ctx) error {
		from, err := parseTimeQuery(c, "from")
		if err != nil {
			return err
		}
		to, err := parseTimeQuery(c, "to")
		if err != nil {
			return err
		}
		page, err := ledger.GetHistory(c.UserContext(), services.HistoryFilter{
			UserID: middleware.UserID(c),
			Source: models.XPSource(c.Query("source")),
			From:   from,
			To:     to,
			Page:   c.QueryInt("page", 1),
			Limit:  c.QueryInt("limit", 20),
		})
		if err != nil {
			return err
		}
		return c.JSON(page)
	})

	// Manual credit by an admin; the ledger line records who issued it
	r.Admin.Post("/xp", func(c *fiber.Ctx) error {
		var req creditXPRequest
		if err := c.BodyParser(&req); err != nil {
			return badRequest("invalid request body")
		}
		desc := req.Description
		if desc == "" {
			desc = "Manual adjustment"
		}
		res, err := ledger.CreditXP(c.UserContext(), services.CreditRequest{
			UserID:      req.UserID,
			Amount:      req.Amount,
			Source:      models.XPSourceManual,
			SourceID:    middleware.UserID(c),
			Description: desc,
			Multiplier:  req.Multiplier,
		})
		if err != nil {
			return err
		}
		return c.Status(fiber.StatusCreated).JSON(res)
	})

	r.Internal.Post("/xp", func(c *fiber.Ctx) error {
		var req creditXPRequest
		if err := c.BodyParser(&req); err != nil {
			return badRequest("invalid request body")
		}
		res, err := ledger.CreditXP(c.UserContext(), services.CreditRequest{
			UserID:        req.UserID,
			Amount:        req.Amount,
			Source:        req.Source,
			SourceID:      req.SourceID,
			Description:   req.Description,
			Multiplier:    req.Multiplier,
			OncePerSource: req.Once,
		})
		if err != nil {
			return err
		}
		return c.Status(fiber.StatusCreated).JSON(res)
	})

	r.Internal.Post("/xp/login", func(c *fiber.Ctx) error {
		var req userRequest
		if err := c.BodyParser(&req); err != nil {
			return badRequest("invalid request body")
		}
		res, err := rewards.CreditLogin(c.UserContext(), req.UserID)
		if err != nil {
			return err
		}
		return c.Status(fiber.StatusCreated).JSON(res)
	})

	r.Internal.Post("/xp/profile-complete", func(c *fiber.Ctx) error {
		var req userRequest
		if err := c.BodyParser(&req); err != nil {
			return badRequest("invalid request body")
		}
		res, err := rewards.CreditProfileComplete(c.UserContext(), req.UserID)
		if err != nil {
			return err
		}
		return c.Status(fiber.StatusCreated).JSON(res)
	})

	r.Internal.Post("/achievements/unlock", func(c *fiber.Ctx) error {
		var req achievementRequest
		if err := c.BodyParser(&req); err != nil {
			return badRequest("invalid request body")
		}
		res, err := rewards.UnlockAchievement(c.UserContext(), req.UserID, req.AchievementID, req.Tier)
		if err != nil {
			return err
		}
		return c.Status(fiber.StatusCreated).JSON(res)
	})
}
