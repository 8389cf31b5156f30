package services

import (
	"context"
	"fmt"
	"strings"

	"member-progression/config"
	"member-progression/models"
)

const profileCompleteSourceID = "profile"

// RewardDispatcher credits the fixed-amount rewards other services trigger:
// daily login, profile completion and tiered achievement unlocks. Each is
// credited at most once per source id.
type RewardDispatcher struct {
	Ledger   Ledger
	Calendar Calendar
	Tuning   config.RewardTuning
	Now      Clock
}

func NewRewardDispatcher(ledger Ledger, cal Calendar, tuning config.RewardTuning, now Clock) *RewardDispatcher {
	return &RewardDispatcher{Ledger: ledger, Calendar: cal, Tuning: tuning, Now: now}
}

// CreditLogin pays the login reward once per calendar day.
func (d *RewardDispatcher) CreditLogin(ctx context.Context, userID string) (*CreditResult, error) {
	day := d.Calendar.DayKey(d.Now())
	return d.Ledger.CreditXP(ctx, CreditRequest{
		UserID:        userID,
		Amount:        d.Tuning.LoginXP,
		Source:        models.XPSourceLogin,
		SourceID:      day,
		Description:   "Daily login " + day,
		OncePerSource: true,
	})
}

// CreditProfileComplete pays the profile completion reward once per user.
func (d *RewardDispatcher) CreditProfileComplete(ctx context.Context, userID string) (*CreditResult, error) {
	return d.Ledger.CreditXP(ctx, CreditRequest{
		UserID:        userID,
		Amount:        d.Tuning.ProfileCompleteXP,
		Source:        models.XPSourceProfileComplete,
		SourceID:      profileCompleteSourceID,
		Description:   "Profile completed",
		OncePerSource: true,
	})
}

// UnlockAchievement pays the XP of tier for achievementID, once per achievement.
func (d *RewardDispatcher) UnlockAchievement(ctx context.Context, userID, achievementID, tier string) (*CreditResult, error) {
	const op = "rewards.UnlockAchievement"
	if strings.TrimSpace(achievementID) == "" {
		return nil, newError(op, ErrValidation, "achievement id is required")
	}
	tier = strings.ToLower(strings.TrimSpace(tier))
	xp, ok := d.Tuning.AchievementTiers[tier]
	if !ok {
		return nil, newError(op, ErrValidation, "unknown achievement tier %q", tier)
	}
	return d.Ledger.CreditXP(ctx, CreditRequest{
		UserID:        userID,
		Amount:        xp,
		Source:        models.XPSourceAchievement,
		SourceID:      achievementID,
		Description:   fmt.Sprintf("Achievement unlocked (%s)", tier),
		OncePerSource: true,
	})
}
